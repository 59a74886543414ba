package topology

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ohowland/winterriver/internal/pkg/asset"
)

// File is the on-disk topology provisioning format.
type File struct {
	Nodes []FileNode `json:"nodes" yaml:"nodes"`
}

// FileNode mirrors the columns of the nodes table.
type FileNode struct {
	NodeID   string   `json:"node_id" yaml:"node_id"`
	NodeType string   `json:"node_type" yaml:"node_type"`
	ParentID string   `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Side     string   `json:"side,omitempty" yaml:"side,omitempty"`
	VRatio   *float64 `json:"v_ratio,omitempty" yaml:"v_ratio,omitempty"`
}

// LoadFile reads a topology from a .yaml/.yml or .json file.
func LoadFile(path string) ([]asset.Def, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

// ParseYAML decodes a YAML topology.
func ParseYAML(data []byte) ([]asset.Def, error) {
	f := File{}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode topology: %w", err)
	}
	return f.Defs()
}

// ParseJSON decodes a JSON topology.
func ParseJSON(data []byte) ([]asset.Def, error) {
	f := File{}
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode topology: %w", err)
	}
	return f.Defs()
}

// Defs converts the file rows into node definitions, applying the default
// voltage ratio where none is given.
func (f File) Defs() ([]asset.Def, error) {
	defs := make([]asset.Def, 0, len(f.Nodes))
	for _, n := range f.Nodes {
		typ, err := asset.ParseType(strings.ToUpper(n.NodeType))
		if err != nil {
			return nil, asset.NewConfigError(asset.ErrCodeUnknownType, n.NodeID, "%v", err)
		}
		ratio := asset.DefaultRatio
		if n.VRatio != nil {
			ratio = *n.VRatio
		}
		defs = append(defs, asset.Def{
			ID:       n.NodeID,
			Type:     typ,
			ParentID: n.ParentID,
			Side:     asset.Side(strings.ToUpper(n.Side)),
			VRatio:   ratio,
		})
	}
	return defs, nil
}
