package hmi

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/ohowland/winterriver/internal/pkg/asset"
	"github.com/ohowland/winterriver/internal/pkg/engine"
)

func TestTickRows(t *testing.T) {
	result := engine.TickResult{Nodes: []engine.NodeReport{
		{
			Def:     asset.Def{ID: "ups_a", Type: asset.UPS, Side: asset.SideA},
			State:   asset.LiveState{Present: true, VOut: 480, Status: asset.Charging, Battery: 100},
			Command: "INPUT:480.0 BATT:100 STATUS:CHARGING",
		},
		{
			Def:    asset.Def{ID: "dist_a", Type: asset.DistBoard, Side: asset.SideA},
			State:  asset.LiveState{Present: true, VOut: 480, Status: asset.Normal},
			Source: asset.SourceGenerator,
		},
		{
			Def:   asset.Def{ID: "gen_a", Type: asset.Generator, Side: asset.SideA},
			State: asset.LiveState{Status: asset.Starting, GenTimer: 2},
			Fault: "transition panic",
		},
	}}

	rows := TickRows(result)
	assert.Equal(t, len(rows), 3)
	assert.Equal(t, len(rows[0].Cells), len(Columns))

	assert.DeepEqual(t, rows[0].Cells, []string{"ups_a", "UPS", "A", "yes", "480.0", "CHARGING", "100%", "-", "", "INPUT:480.0 BATT:100 STATUS:CHARGING"})
	assert.Equal(t, rows[1].Cells[8], "GENERATOR")

	assert.Assert(t, rows[2].Fault)
	assert.Assert(t, !rows[2].Present)
	assert.Equal(t, rows[2].Cells[7], "2")
	assert.Equal(t, rows[2].Cells[9], "FAULT: transition panic")
}

func TestSnapshotRows(t *testing.T) {
	snap := asset.Snapshot{
		Defs: []asset.Def{
			{ID: "util_a", Type: asset.Utility, Side: asset.SideA},
			{ID: "xfmr_a", Type: asset.Transformer, ParentID: "util_a"},
		},
		States: map[string]asset.LiveState{
			"util_a": {Present: true, VOut: 230000, Status: asset.Normal},
		},
	}
	rows := SnapshotRows(snap)
	assert.Equal(t, len(rows), 2)
	assert.Equal(t, rows[0].Cells[4], "230000.0")
	assert.Equal(t, rows[1].Cells[2], "-")
	assert.Assert(t, rows[1].Fault)
	assert.Equal(t, rows[1].Cells[9], "no live state")
}
