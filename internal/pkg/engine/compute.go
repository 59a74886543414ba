package engine

import (
	"fmt"

	"github.com/ohowland/winterriver/internal/pkg/asset"
	"github.com/ohowland/winterriver/internal/pkg/command"
	"github.com/ohowland/winterriver/internal/pkg/topology"
	"github.com/ohowland/winterriver/internal/pkg/transition"
)

// NodeReport is one node's outcome of a tick.
type NodeReport struct {
	Def     asset.Def       `json:"Def"`
	State   asset.LiveState `json:"State"`
	Source  asset.Source    `json:"Source,omitempty"`
	Command string          `json:"Command,omitempty"`
	Fault   string          `json:"Fault,omitempty"`
}

// Faulted reports whether the node's transition failed this tick.
func (r NodeReport) Faulted() bool {
	return r.Fault != ""
}

// Outcome is the result of evaluating a plan over a snapshot.
type Outcome struct {
	// States is what a tick commits, keyed by node id.
	States map[string]asset.LiveState
	// Reports follow plan order.
	Reports []NodeReport
	Faults  []*asset.NodeFault
}

// Compute evaluates every node of snap in plan order. It performs no I/O.
// A node whose transition fails keeps its prior state and reads as
// de-energized to the nodes after it.
func Compute(p transition.Params, plan topology.Plan, snap asset.Snapshot) Outcome {
	defs := make(map[string]asset.Def, len(snap.Defs))
	for _, d := range snap.Defs {
		defs[d.ID] = d
	}

	out := Outcome{
		States:  make(map[string]asset.LiveState, len(plan.Order)),
		Reports: make([]NodeReport, 0, len(plan.Order)),
	}
	// visible holds this tick's values as downstream nodes must see them.
	visible := make(map[string]asset.LiveState, len(plan.Order))

	for _, id := range plan.Order {
		d := defs[id]
		prior, ok := snap.States[id]
		if !ok {
			f := &asset.NodeFault{NodeID: id, Reason: "no live state"}
			out.Faults = append(out.Faults, f)
			out.Reports = append(out.Reports, NodeReport{Def: d, Fault: f.Reason})
			visible[id] = asset.LiveState{}
			continue
		}

		in := input(plan, d, prior, visible)
		res, err := step(p, in)
		if err != nil {
			f := &asset.NodeFault{NodeID: id, Reason: err.Error()}
			out.Faults = append(out.Faults, f)
			out.States[id] = prior
			dark := prior
			dark.VOut = 0
			visible[id] = dark
			out.Reports = append(out.Reports, NodeReport{Def: d, State: prior, Fault: f.Reason})
			continue
		}

		report := NodeReport{Def: d, State: res.State, Source: res.Source}
		line, err := command.Encode(d, res.State, res.Source)
		if err != nil {
			// the state is still committed; only the command is lost
			f := &asset.NodeFault{NodeID: id, Reason: err.Error()}
			out.Faults = append(out.Faults, f)
			report.Fault = f.Reason
		}
		report.Command = line
		out.States[id] = res.State
		visible[id] = res.State
		out.Reports = append(out.Reports, report)
	}
	return out
}

func input(plan topology.Plan, d asset.Def, prior asset.LiveState, visible map[string]asset.LiveState) transition.Input {
	in := transition.Input{Def: d, Prior: prior}
	if d.HasParent() {
		if s, ok := visible[d.ParentID]; ok {
			in.Parent = &s
		}
	}
	if d.Type != asset.Generator && !d.Type.Paired() {
		return in
	}
	pair, ok := plan.Pair(d.Side)
	if !ok {
		return in
	}
	if s, ok := visible[pair.Utility]; ok && pair.Utility != "" {
		in.Utility = &s
	}
	if s, ok := visible[pair.Generator]; ok && pair.Generator != "" && d.Type != asset.Generator {
		in.Generator = &s
	}
	return in
}

// step runs one transition and turns a panic into an error.
func step(p transition.Params, in transition.Input) (out transition.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transition panic: %v", r)
		}
	}()
	return transition.Step(p, in)
}
