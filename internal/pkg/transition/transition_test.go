package transition

import (
	"math/rand"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/ohowland/winterriver/internal/pkg/asset"
)

var params = DefaultParams()

func def(id string, typ asset.Type) asset.Def {
	return asset.Def{ID: id, Type: typ, Side: asset.SideA, VRatio: 1}
}

func step(t *testing.T, in Input) Output {
	t.Helper()
	out, err := Step(params, in)
	assert.NilError(t, err)
	return out
}

func TestWithDefaults(t *testing.T) {
	p := Params{GeneratorVolts: 600}.WithDefaults()
	assert.Equal(t, p.GeneratorVolts, 600.0)
	assert.Equal(t, p.UtilityVolts, DefaultUtilityVolts)
	assert.Equal(t, p.UPSVolts, DefaultUPSVolts)
	assert.Equal(t, p.GenStartDelay, DefaultGenStartDelay)
}

func TestUtility(t *testing.T) {
	out := step(t, Input{Def: def("util_a", asset.Utility), Prior: asset.LiveState{Present: true}})
	assert.Equal(t, out.State.VOut, DefaultUtilityVolts)
	assert.Equal(t, out.State.Status, asset.Normal)

	out = step(t, Input{Def: def("util_a", asset.Utility), Prior: asset.LiveState{Present: false, VOut: DefaultUtilityVolts}})
	assert.Equal(t, out.State.VOut, 0.0)
	assert.Equal(t, out.State.Status, asset.Normal)
}

func TestGeneratorStandbyWhileUtilityPresent(t *testing.T) {
	util := asset.LiveState{Present: true, VOut: DefaultUtilityVolts}
	out := step(t, Input{
		Def:     def("gen_a", asset.Generator),
		Prior:   asset.LiveState{Present: false, GenTimer: 2, Status: asset.Starting},
		Utility: &util,
	})
	assert.Equal(t, out.State.VOut, 0.0)
	assert.Equal(t, out.State.Status, asset.Standby)
	assert.Equal(t, out.State.GenTimer, DefaultGenStartDelay)
	assert.Assert(t, !out.State.Present)
}

func TestGeneratorStandbyWhenAbsent(t *testing.T) {
	util := asset.LiveState{Present: false}
	out := step(t, Input{
		Def:     def("gen_a", asset.Generator),
		Prior:   asset.LiveState{Present: false, GenTimer: 0, VOut: 480, Status: asset.Running},
		Utility: &util,
	})
	assert.Equal(t, out.State.Status, asset.Standby)
	assert.Equal(t, out.State.VOut, 0.0)
	assert.Equal(t, out.State.GenTimer, DefaultGenStartDelay)
}

func TestGeneratorStartSequence(t *testing.T) {
	util := asset.LiveState{Present: false}
	state := asset.LiveState{Present: true, GenTimer: 3, Status: asset.Standby}

	var statuses []asset.Status
	var volts []float64
	for i := 0; i < 5; i++ {
		out := step(t, Input{Def: def("gen_a", asset.Generator), Prior: state, Utility: &util})
		state = out.State
		statuses = append(statuses, state.Status)
		volts = append(volts, state.VOut)
	}
	assert.DeepEqual(t, statuses, []asset.Status{
		asset.Starting, asset.Starting, asset.Starting, asset.Running, asset.Running,
	})
	assert.DeepEqual(t, volts, []float64{0, 0, 0, DefaultGeneratorVolts, DefaultGeneratorVolts})
	assert.Equal(t, state.GenTimer, 0)
}

func TestGeneratorNeedsUtility(t *testing.T) {
	_, err := Step(params, Input{Def: def("gen_a", asset.Generator), Prior: asset.LiveState{Present: true}})
	assert.ErrorIs(t, err, ErrNoCounterpart)
}

func TestUPSCharging(t *testing.T) {
	parent := asset.LiveState{VOut: 480}
	out := step(t, Input{Def: def("ups_a", asset.UPS), Prior: asset.LiveState{Battery: 99}, Parent: &parent})
	assert.Equal(t, out.State.VOut, DefaultUPSVolts)
	assert.Equal(t, out.State.Status, asset.Charging)
	assert.Equal(t, out.State.Battery, 100)

	out = step(t, Input{Def: def("ups_a", asset.UPS), Prior: out.State, Parent: &parent})
	assert.Equal(t, out.State.Battery, 100)
}

func TestUPSOnBatteryAndFault(t *testing.T) {
	parent := asset.LiveState{VOut: 0}

	out := step(t, Input{Def: def("ups_a", asset.UPS), Prior: asset.LiveState{Battery: 0}, Parent: &parent})
	assert.Equal(t, out.State.Status, asset.Fault)
	assert.Equal(t, out.State.VOut, 0.0)
	assert.Equal(t, out.State.Battery, 0)

	out = step(t, Input{Def: def("ups_a", asset.UPS), Prior: asset.LiveState{Battery: 5}, Parent: &parent})
	assert.Equal(t, out.State.Status, asset.OnBattery)
	assert.Equal(t, out.State.VOut, DefaultUPSVolts)
	assert.Equal(t, out.State.Battery, 4)
}

func TestUPSWithoutParentRunsOnBattery(t *testing.T) {
	out := step(t, Input{Def: def("ups_x", asset.UPS), Prior: asset.LiveState{Battery: 1}})
	assert.Equal(t, out.State.Status, asset.OnBattery)
	assert.Equal(t, out.State.Battery, 0)
}

func TestUPSClampsCorruptLevel(t *testing.T) {
	parent := asset.LiveState{VOut: 480}
	out := step(t, Input{Def: def("ups_a", asset.UPS), Prior: asset.LiveState{Battery: 250}, Parent: &parent})
	assert.Equal(t, out.State.Battery, 100)

	out = step(t, Input{Def: def("ups_a", asset.UPS), Prior: asset.LiveState{Battery: -7}})
	assert.Equal(t, out.State.Battery, 0)
	assert.Equal(t, out.State.Status, asset.Fault)
}

func TestBatteryStaysBounded(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	state := asset.LiveState{Battery: 50}
	for i := 0; i < 5000; i++ {
		parent := asset.LiveState{}
		if r.Intn(3) == 0 {
			parent.VOut = 480
		}
		out := step(t, Input{Def: def("ups_a", asset.UPS), Prior: state, Parent: &parent})
		state = out.State
		assert.Assert(t, state.Battery >= asset.BatteryMin && state.Battery <= asset.BatteryMax, "tick %d: %d", i, state.Battery)
	}
}

func TestSwitchGearFailover(t *testing.T) {
	parent := asset.LiveState{VOut: 0}
	gen := asset.LiveState{VOut: DefaultGeneratorVolts}
	out := step(t, Input{Def: def("sw_a", asset.SwitchGear), Parent: &parent, Generator: &gen})
	assert.Equal(t, out.State.VOut, DefaultGeneratorVolts)
	assert.Equal(t, out.State.Status, asset.Closed)
}

func TestSwitchGearPicksHigherSource(t *testing.T) {
	parent := asset.LiveState{VOut: 500}
	gen := asset.LiveState{VOut: 480}
	out := step(t, Input{Def: def("sw_a", asset.SwitchGear), Parent: &parent, Generator: &gen})
	assert.Equal(t, out.State.VOut, 500.0)

	dead := asset.LiveState{}
	out = step(t, Input{Def: def("sw_a", asset.SwitchGear), Generator: &dead})
	assert.Equal(t, out.State.VOut, 0.0)
	assert.Equal(t, out.State.Status, asset.Open)
}

func TestDistBoardSourceTag(t *testing.T) {
	parent := asset.LiveState{VOut: 480}
	utilOn := asset.LiveState{Present: true, VOut: DefaultUtilityVolts}
	utilOff := asset.LiveState{Present: false}
	genOn := asset.LiveState{Present: true, VOut: DefaultGeneratorVolts}
	genOff := asset.LiveState{Present: true}

	cases := []struct {
		name string
		util *asset.LiveState
		gen  *asset.LiveState
		want asset.Source
	}{
		{"utility", &utilOn, &genOff, asset.SourceUtility},
		{"utility wins over generator", &utilOn, &genOn, asset.SourceUtility},
		{"generator", &utilOff, &genOn, asset.SourceGenerator},
		{"none", &utilOff, &genOff, asset.SourceNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := step(t, Input{Def: def("dist_a", asset.DistBoard), Parent: &parent, Utility: tc.util, Generator: tc.gen})
			assert.Equal(t, out.Source, tc.want)
			assert.Equal(t, out.State.Status, asset.Normal)
		})
	}
}

func TestDistBoardNoInput(t *testing.T) {
	parent := asset.LiveState{VOut: 0}
	util := asset.LiveState{}
	gen := asset.LiveState{}
	out := step(t, Input{Def: def("dist_a", asset.DistBoard), Parent: &parent, Utility: &util, Generator: &gen})
	assert.Equal(t, out.State.VOut, 0.0)
	assert.Equal(t, out.State.Status, asset.NoInput)
	assert.Equal(t, out.Source, asset.SourceNone)
}

func TestPassThroughRatio(t *testing.T) {
	parent := asset.LiveState{VOut: 480}
	for _, typ := range []asset.Type{asset.Transformer, asset.PDU, asset.ServerRack} {
		d := asset.Def{ID: "n", Type: typ, ParentID: "p", VRatio: 0.25}
		out := step(t, Input{Def: d, Parent: &parent})
		assert.Equal(t, out.State.VOut, 120.0)
		assert.Equal(t, out.State.Status, asset.Normal)

		d.VRatio = 1
		out = step(t, Input{Def: d, Parent: &parent})
		assert.Equal(t, out.State.VOut, 480.0)
	}
}

func TestRootWithoutParentIsDead(t *testing.T) {
	for _, typ := range []asset.Type{asset.Transformer, asset.PDU, asset.ServerRack, asset.DistBoard} {
		out := step(t, Input{Def: asset.Def{ID: "orphan", Type: typ, VRatio: 1}, Prior: asset.LiveState{VOut: 480}})
		assert.Equal(t, out.State.VOut, 0.0, "type %s", typ)
	}
}

func TestPriorTelemetryFieldsPreserved(t *testing.T) {
	parent := asset.LiveState{VOut: 480}
	prior := asset.LiveState{Present: true, Battery: 10}
	out := step(t, Input{Def: def("ups_a", asset.UPS), Prior: prior, Parent: &parent})
	assert.Assert(t, out.State.Present)
}

func TestUnknownType(t *testing.T) {
	_, err := Step(params, Input{Def: asset.Def{ID: "x", Type: "CHILLER"}})
	assert.ErrorContains(t, err, "no transition rule")
}
