package telemetry

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Offline is the status field value that marks a device absent. Devices
// register it as their last will.
const Offline = "OFFLINE"

// presenceOnly is archived in place of an unstructured liveness message.
var presenceOnly = json.RawMessage(`{"status":"ONLINE"}`)

// Report is a parsed telemetry payload.
type Report struct {
	Present bool
	// Structured is false when the payload was a bare liveness marker.
	Structured bool
	// Payload is archived verbatim: the raw JSON object, or the synthesized
	// presence-only object.
	Payload json.RawMessage
}

// Parse derives presence from a raw telemetry payload. Anything that is
// not a JSON object is a presence-only heartbeat.
func Parse(raw []byte) Report {
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Report{Present: true, Payload: presenceOnly}
	}
	present := true
	if status, ok := fields["status"].(string); ok && status == Offline {
		present = false
	}
	payload := make(json.RawMessage, len(raw))
	copy(payload, raw)
	return Report{Present: present, Structured: true, Payload: payload}
}

// Topic direction suffixes
const (
	StatusSuffix  = "status"
	ControlSuffix = "control"
)

// Topics builds and parses "<root><sep><node><sep><suffix>" topic names.
type Topics struct {
	Root string
	Sep  string
}

// Status is the telemetry topic of node.
func (t Topics) Status(node string) string {
	return t.Root + t.Sep + node + t.Sep + StatusSuffix
}

// Control is the command topic of node.
func (t Topics) Control(node string) string {
	return t.Root + t.Sep + node + t.Sep + ControlSuffix
}

// NodeID extracts the node id from a telemetry topic.
func (t Topics) NodeID(topic string) (string, error) {
	parts := strings.Split(topic, t.Sep)
	if len(parts) != 3 || parts[0] != t.Root || parts[2] != StatusSuffix || parts[1] == "" {
		return "", fmt.Errorf("topic %q is not %s", topic, t.Status("<node>"))
	}
	return parts[1], nil
}
