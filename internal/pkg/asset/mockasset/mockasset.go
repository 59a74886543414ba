// Package mockasset holds the reference Winter River topology used by tests
// and virtual runs.
package mockasset

import (
	"github.com/ohowland/winterriver/internal/pkg/asset"
)

// Topology returns a two-sided site: each side has a utility feed through a
// transformer into an automatic transfer switch backed by a generator, a
// UPS, a distribution board, a PDU and a server rack.
func Topology() []asset.Def {
	defs := make([]asset.Def, 0, 16)
	for _, side := range []asset.Side{asset.SideA, asset.SideB} {
		defs = append(defs, Side(side)...)
	}
	return defs
}

// Side returns the nodes of one side of the reference topology.
func Side(side asset.Side) []asset.Def {
	s := "a"
	if side == asset.SideB {
		s = "b"
	}
	return []asset.Def{
		{ID: "util_" + s, Type: asset.Utility, Side: side, VRatio: 1},
		{ID: "gen_" + s, Type: asset.Generator, Side: side, VRatio: 1},
		{ID: "transformer_" + s, Type: asset.Transformer, ParentID: "util_" + s, VRatio: 480.0 / 230000.0},
		{ID: "sw_" + s, Type: asset.SwitchGear, ParentID: "transformer_" + s, Side: side, VRatio: 1},
		{ID: "ups_" + s, Type: asset.UPS, ParentID: "sw_" + s, VRatio: 1},
		{ID: "dist_" + s, Type: asset.DistBoard, ParentID: "ups_" + s, Side: side, VRatio: 1},
		{ID: "pdu_" + s, Type: asset.PDU, ParentID: "dist_" + s, VRatio: 0.25},
		{ID: "srv_" + s, Type: asset.ServerRack, ParentID: "pdu_" + s, VRatio: 1},
	}
}

// States seeds every def and marks all devices present.
func States(defs []asset.Def, startDelay int) map[string]asset.LiveState {
	states := make(map[string]asset.LiveState, len(defs))
	for _, d := range defs {
		l := asset.Seed(d, startDelay)
		l.Present = true
		states[d.ID] = l
	}
	return states
}

// Snapshot bundles Topology with States.
func Snapshot(startDelay int) asset.Snapshot {
	defs := Topology()
	return asset.Snapshot{Defs: defs, States: States(defs, startDelay)}
}
