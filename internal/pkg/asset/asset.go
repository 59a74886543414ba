package asset

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type is the electrical role of a node in the distribution hierarchy.
type Type string

// Node types
const (
	Utility     Type = "UTILITY"
	Generator   Type = "GENERATOR"
	UPS         Type = "UPS"
	Transformer Type = "TRANSFORMER"
	SwitchGear  Type = "SW_GEAR"
	DistBoard   Type = "DIST_BOARD"
	PDU         Type = "PDU"
	ServerRack  Type = "SERVER_RACK"
)

var types = []Type{Utility, Generator, UPS, Transformer, SwitchGear, DistBoard, PDU, ServerRack}

// Types returns every known node type.
func Types() []Type {
	out := make([]Type, len(types))
	copy(out, types)
	return out
}

// Valid reports whether t is a known node type.
func (t Type) Valid() bool {
	for _, known := range types {
		if t == known {
			return true
		}
	}
	return false
}

// ParseType maps a configuration string onto a Type.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown node type %q", s)
	}
	return t, nil
}

// Paired reports whether nodes of this type read their side-paired
// UTILITY and GENERATOR in addition to their parent.
func (t Type) Paired() bool {
	return t == SwitchGear || t == DistBoard
}

// Side pairs a generator/utility feed with the switch gear and boards it serves.
type Side string

// Sides
const (
	NoSide Side = ""
	SideA  Side = "A"
	SideB  Side = "B"
)

// Valid reports whether s is empty or one of the known sides.
func (s Side) Valid() bool {
	return s == NoSide || s == SideA || s == SideB
}

// Status is the node-type dependent state reported to the field device.
type Status string

// Status values
const (
	Normal    Status = "NORMAL"
	Standby   Status = "STANDBY"
	Starting  Status = "STARTING"
	Running   Status = "RUNNING"
	Charging  Status = "CHARGING"
	OnBattery Status = "ON_BATTERY"
	Fault     Status = "FAULT"
	Open      Status = "OPEN"
	Closed    Status = "CLOSED"
	NoInput   Status = "NO_INPUT"
)

// Source tags which feed energizes a distribution board. It is recomputed
// every tick and never stored as live state.
type Source string

// Sources
const (
	SourceNone      Source = "NONE"
	SourceUtility   Source = "UTILITY"
	SourceGenerator Source = "GENERATOR"
)

// DefaultRatio is the voltage transfer ratio of a node that does not set one.
const DefaultRatio = 1.0

// Def is the static definition of a node.
type Def struct {
	ID       string  `json:"ID"`
	Type     Type    `json:"Type"`
	ParentID string  `json:"ParentID,omitempty"`
	Side     Side    `json:"Side,omitempty"`
	VRatio   float64 `json:"VRatio"`
}

// HasParent reports whether the node is fed by another node.
func (d Def) HasParent() bool {
	return d.ParentID != ""
}

// LiveState is the mutable per-node state. Telemetry owns Present and
// LastUpdate; the tick owns VOut, Status, Battery and GenTimer.
type LiveState struct {
	Present    bool      `json:"Present"`
	VOut       float64   `json:"VOut"`
	Status     Status    `json:"Status"`
	Battery    int       `json:"Battery"`
	GenTimer   int       `json:"GenTimer"`
	LastUpdate time.Time `json:"LastUpdate"`
}

// Derived returns a copy of l holding only the fields a tick writes.
func (l LiveState) Derived() LiveState {
	return LiveState{
		VOut:     l.VOut,
		Status:   l.Status,
		Battery:  l.Battery,
		GenTimer: l.GenTimer,
	}
}

// Energized reports whether the node outputs a non-zero voltage.
func (l LiveState) Energized() bool {
	return l.VOut > 0
}

// Seed returns the live state a newly provisioned node starts from: absent
// until its device reports, UPS batteries full, generator timers armed.
func Seed(d Def, genStartDelay int) LiveState {
	l := LiveState{Status: Normal}
	switch d.Type {
	case UPS:
		l.Battery = BatteryMax
	case Generator:
		l.GenTimer = genStartDelay
		l.Status = Standby
	case SwitchGear:
		l.Status = Open
	case DistBoard:
		l.Status = NoInput
	}
	return l
}

// Battery bounds
const (
	BatteryMin = 0
	BatteryMax = 100
)

// ClampBattery bounds a battery level to [BatteryMin, BatteryMax].
func ClampBattery(level int) int {
	if level < BatteryMin {
		return BatteryMin
	}
	if level > BatteryMax {
		return BatteryMax
	}
	return level
}

// Record is a write-once audit entry of an ingested telemetry message.
type Record struct {
	NodeID    string          `json:"NodeID"`
	Timestamp time.Time       `json:"Timestamp"`
	Payload   json.RawMessage `json:"Payload"`
}

// Snapshot is the full topology read at the start of a tick.
type Snapshot struct {
	Defs   []Def
	States map[string]LiveState
}

// Def returns the definition with the given id.
func (s Snapshot) Def(id string) (Def, bool) {
	for _, d := range s.Defs {
		if d.ID == id {
			return d, true
		}
	}
	return Def{}, false
}
