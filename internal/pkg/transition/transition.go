package transition

import (
	"errors"
	"fmt"

	"github.com/ohowland/winterriver/internal/pkg/asset"
)

// Params are the nominal electrical constants the rules apply.
type Params struct {
	UtilityVolts   float64 `json:"UtilityVolts"`
	GeneratorVolts float64 `json:"GeneratorVolts"`
	UPSVolts       float64 `json:"UPSVolts"`
	GenStartDelay  int     `json:"GenStartDelay"`
}

// Defaults
const (
	DefaultUtilityVolts   = 230000.0
	DefaultGeneratorVolts = 480.0
	DefaultUPSVolts       = 480.0
	DefaultGenStartDelay  = 10
)

// DefaultParams returns the site's nominal constants.
func DefaultParams() Params {
	return Params{
		UtilityVolts:   DefaultUtilityVolts,
		GeneratorVolts: DefaultGeneratorVolts,
		UPSVolts:       DefaultUPSVolts,
		GenStartDelay:  DefaultGenStartDelay,
	}
}

// WithDefaults fills unset (zero or negative) fields from DefaultParams.
func (p Params) WithDefaults() Params {
	d := DefaultParams()
	if p.UtilityVolts <= 0 {
		p.UtilityVolts = d.UtilityVolts
	}
	if p.GeneratorVolts <= 0 {
		p.GeneratorVolts = d.GeneratorVolts
	}
	if p.UPSVolts <= 0 {
		p.UPSVolts = d.UPSVolts
	}
	if p.GenStartDelay <= 0 {
		p.GenStartDelay = d.GenStartDelay
	}
	return p
}

// Input is what a rule may read. Parent, Utility and Generator hold states
// already computed in the current tick; nil means the node has no such
// reference.
type Input struct {
	Def       asset.Def
	Prior     asset.LiveState
	Parent    *asset.LiveState
	Utility   *asset.LiveState
	Generator *asset.LiveState
}

// Output is the node's recomputed state. Source is only set for DIST_BOARD.
type Output struct {
	State  asset.LiveState
	Source asset.Source
}

// Rule computes one node type's transition.
type Rule func(Params, Input) (Output, error)

var rules = map[asset.Type]Rule{
	asset.Utility:     utility,
	asset.Generator:   generator,
	asset.UPS:         ups,
	asset.SwitchGear:  switchGear,
	asset.DistBoard:   distBoard,
	asset.Transformer: passThrough,
	asset.PDU:         passThrough,
	asset.ServerRack:  passThrough,
}

// ErrNoCounterpart is returned when a rule needs a side-paired node the
// input does not carry.
var ErrNoCounterpart = errors.New("side-paired node missing from input")

// Step dispatches in to the rule for its node type.
func Step(p Params, in Input) (Output, error) {
	rule, ok := rules[in.Def.Type]
	if !ok {
		return Output{}, fmt.Errorf("no transition rule for node type %q", in.Def.Type)
	}
	out, err := rule(p, in)
	if err != nil {
		return Output{}, err
	}
	out.State.Battery = asset.ClampBattery(out.State.Battery)
	return out, nil
}

// next starts a node's new state from its prior one so telemetry owned
// fields pass through untouched.
func next(in Input) asset.LiveState {
	s := in.Prior
	s.Battery = asset.ClampBattery(s.Battery)
	return s
}

// parentVolts is zero for a node without a parent.
func parentVolts(in Input) float64 {
	if in.Parent == nil {
		return 0
	}
	return in.Parent.VOut
}

func utility(p Params, in Input) (Output, error) {
	s := next(in)
	s.VOut = 0
	if in.Prior.Present {
		s.VOut = p.UtilityVolts
	}
	s.Status = asset.Normal
	return Output{State: s}, nil
}

func generator(p Params, in Input) (Output, error) {
	if in.Utility == nil {
		return Output{}, fmt.Errorf("generator %s: %w", in.Def.ID, ErrNoCounterpart)
	}
	s := next(in)
	switch {
	case in.Utility.Present || !in.Prior.Present:
		s.VOut = 0
		s.GenTimer = p.GenStartDelay
		s.Status = asset.Standby
	case in.Prior.GenTimer > 0:
		s.VOut = 0
		s.GenTimer = in.Prior.GenTimer - 1
		s.Status = asset.Starting
	default:
		s.VOut = p.GeneratorVolts
		s.GenTimer = 0
		s.Status = asset.Running
	}
	return Output{State: s}, nil
}

func ups(p Params, in Input) (Output, error) {
	s := next(in)
	switch {
	case parentVolts(in) > 0:
		s.VOut = p.UPSVolts
		s.Status = asset.Charging
		s.Battery = asset.ClampBattery(s.Battery + 1)
	case s.Battery > 0:
		s.VOut = p.UPSVolts
		s.Status = asset.OnBattery
		s.Battery = asset.ClampBattery(s.Battery - 1)
	default:
		s.VOut = 0
		s.Status = asset.Fault
	}
	return Output{State: s}, nil
}

func switchGear(p Params, in Input) (Output, error) {
	if in.Generator == nil {
		return Output{}, fmt.Errorf("switch gear %s: %w", in.Def.ID, ErrNoCounterpart)
	}
	s := next(in)
	s.VOut = parentVolts(in)
	if in.Generator.VOut > s.VOut {
		s.VOut = in.Generator.VOut
	}
	s.Status = asset.Open
	if s.VOut > 0 {
		s.Status = asset.Closed
	}
	return Output{State: s}, nil
}

func distBoard(p Params, in Input) (Output, error) {
	s := next(in)
	s.VOut = parentVolts(in) * in.Def.VRatio
	s.Status = asset.Normal
	if s.VOut <= 0 {
		s.VOut = 0
		s.Status = asset.NoInput
	}

	source := asset.SourceNone
	switch {
	case in.Utility != nil && in.Utility.Present && in.Utility.VOut > 0:
		source = asset.SourceUtility
	case in.Generator != nil && in.Generator.VOut > 0:
		source = asset.SourceGenerator
	}
	return Output{State: s, Source: source}, nil
}

func passThrough(p Params, in Input) (Output, error) {
	s := next(in)
	s.VOut = parentVolts(in) * in.Def.VRatio
	s.Status = asset.Normal
	return Output{State: s}, nil
}
