package topology

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/ohowland/winterriver/internal/pkg/asset"
)

// Pair holds the ids of the UTILITY and GENERATOR serving one side.
type Pair struct {
	Utility   string
	Generator string
}

// Plan is the evaluation order for one topology plus the side pairing the
// transition rules read through.
type Plan struct {
	Order       []string
	Pairs       map[asset.Side]Pair
	Fingerprint string
}

// Pair returns the counterparts on side s.
func (p Plan) Pair(s asset.Side) (Pair, bool) {
	pair, ok := p.Pairs[s]
	return pair, ok
}

// Sequence validates defs and returns an order in which every node comes
// after its parent and after the side-paired nodes it reads.
func Sequence(defs []asset.Def) (Plan, error) {
	g, pairs, err := Build(defs)
	if err != nil {
		return Plan{}, err
	}
	order, err := linearize(g)
	if err != nil {
		return Plan{}, err
	}
	return Plan{Order: order, Pairs: pairs, Fingerprint: Fingerprint(defs)}, nil
}

// Build validates defs and returns their dependency graph.
func Build(defs []asset.Def) (Graph, map[asset.Side]Pair, error) {
	g := NewGraph()
	byID := make(map[string]asset.Def, len(defs))
	pairs := make(map[asset.Side]Pair)

	for _, d := range defs {
		if err := validate(d); err != nil {
			return Graph{}, nil, err
		}
		if err := g.AddNode(d.ID); err != nil {
			return Graph{}, nil, asset.NewConfigError(asset.ErrCodeDuplicateNode, d.ID, "node defined twice")
		}
		byID[d.ID] = d

		switch d.Type {
		case asset.Utility:
			pair := pairs[d.Side]
			if pair.Utility != "" {
				return Graph{}, nil, asset.NewConfigError(asset.ErrCodeDuplicateNode, d.ID,
					"side %s already fed by utility %s", d.Side, pair.Utility)
			}
			pair.Utility = d.ID
			pairs[d.Side] = pair
		case asset.Generator:
			pair := pairs[d.Side]
			if pair.Generator != "" {
				return Graph{}, nil, asset.NewConfigError(asset.ErrCodeDuplicateNode, d.ID,
					"side %s already backed by generator %s", d.Side, pair.Generator)
			}
			pair.Generator = d.ID
			pairs[d.Side] = pair
		}
	}

	for _, d := range defs {
		if d.HasParent() {
			if _, ok := byID[d.ParentID]; !ok {
				return Graph{}, nil, asset.NewConfigError(asset.ErrCodeMissingParent, d.ID,
					"parent %q not found", d.ParentID)
			}
			if err := g.AddDirectedEdge(d.ID, d.ParentID); err != nil {
				return Graph{}, nil, err
			}
		}

		var reads []string
		switch {
		case d.Type == asset.Generator:
			pair := pairs[d.Side]
			if pair.Utility == "" {
				return Graph{}, nil, asset.NewConfigError(asset.ErrCodeMissingCounterpart, d.ID,
					"no utility on side %s", d.Side)
			}
			reads = append(reads, pair.Utility)
		case d.Type.Paired():
			pair := pairs[d.Side]
			if pair.Utility == "" || pair.Generator == "" {
				return Graph{}, nil, asset.NewConfigError(asset.ErrCodeMissingCounterpart, d.ID,
					"side %s needs both a utility and a generator", d.Side)
			}
			reads = append(reads, pair.Utility, pair.Generator)
		}
		for _, dep := range reads {
			if err := g.AddDirectedEdge(d.ID, dep); err != nil {
				return Graph{}, nil, err
			}
		}
	}
	return g, pairs, nil
}

func validate(d asset.Def) error {
	if d.ID == "" {
		return asset.NewConfigError(asset.ErrCodeUnknownType, "", "node without id")
	}
	if !d.Type.Valid() {
		return asset.NewConfigError(asset.ErrCodeUnknownType, d.ID, "unknown node type %q", d.Type)
	}
	if !d.Side.Valid() {
		return asset.NewConfigError(asset.ErrCodeMissingSide, d.ID, "unknown side %q", d.Side)
	}
	if d.VRatio < 0 {
		return asset.NewConfigError(asset.ErrCodeInvalidRatio, d.ID, "negative v_ratio %v", d.VRatio)
	}
	needsSide := d.Type == asset.Utility || d.Type == asset.Generator || d.Type.Paired()
	if needsSide && d.Side == asset.NoSide {
		return asset.NewConfigError(asset.ErrCodeMissingSide, d.ID, "%s requires a side", d.Type)
	}
	if d.ParentID == d.ID {
		return asset.NewCycleError([]string{d.ID, d.ID})
	}
	return nil
}

const (
	white = iota
	grey
	black
)

// linearize returns a depth-first post-order of g: dependencies first.
// Roots are visited in id order so equal topologies give equal orders.
func linearize(g Graph) ([]string, error) {
	color := make(map[string]int, g.Len())
	order := make([]string, 0, g.Len())
	var stack []string

	var visit func(string) error
	visit = func(n string) error {
		color[n] = grey
		stack = append(stack, n)
		for _, dep := range g.Edges(n) {
			switch color[dep] {
			case grey:
				return asset.NewCycleError(cyclePath(stack, dep))
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
		order = append(order, n)
		return nil
	}

	for _, n := range g.Nodes() {
		if color[n] == white {
			if err := visit(n); err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}

// cyclePath cuts the dfs stack down to the loop closing on n.
func cyclePath(stack []string, n string) []string {
	for i := range stack {
		if stack[i] == n {
			path := append([]string{}, stack[i:]...)
			return append(path, n)
		}
	}
	return []string{n, n}
}

// Fingerprint identifies the ordering-relevant shape of a topology.
func Fingerprint(defs []asset.Def) string {
	lines := make([]string, 0, len(defs))
	for _, d := range defs {
		lines = append(lines, fmt.Sprintf("%s|%s|%s|%s", d.ID, d.Type, d.ParentID, d.Side))
	}
	sort.Strings(lines)
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}
