package asset

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigErrorCode categorizes topology configuration errors.
type ConfigErrorCode string

// Configuration error codes
const (
	ErrCodeCycle              ConfigErrorCode = "CYCLE"
	ErrCodeMissingParent      ConfigErrorCode = "MISSING_PARENT"
	ErrCodeMissingCounterpart ConfigErrorCode = "MISSING_COUNTERPART"
	ErrCodeMissingSide        ConfigErrorCode = "MISSING_SIDE"
	ErrCodeDuplicateNode      ConfigErrorCode = "DUPLICATE_NODE"
	ErrCodeUnknownType        ConfigErrorCode = "UNKNOWN_TYPE"
	ErrCodeInvalidRatio       ConfigErrorCode = "INVALID_RATIO"
)

// ConfigError is a broken topology: a dangling reference, a missing
// side-paired counterpart or a dependency cycle. It aborts the tick.
type ConfigError struct {
	Code    ConfigErrorCode
	NodeID  string
	Message string
	// Path holds the node ids forming a cycle, first id repeated at the end.
	Path []string
}

func (e *ConfigError) Error() string {
	if len(e.Path) > 0 {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(e.Path, " -> "))
	}
	if e.NodeID != "" {
		return fmt.Sprintf("%s: %s (node=%s)", e.Code, e.Message, e.NodeID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewConfigError returns a ConfigError for a single node.
func NewConfigError(code ConfigErrorCode, nodeID, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Code: code, NodeID: nodeID, Message: fmt.Sprintf(format, args...)}
}

// NewCycleError returns the ConfigError raised when no evaluation order exists.
func NewCycleError(path []string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeCycle,
		Message: "dependency cycle in topology",
		Path:    path,
	}
}

// IsConfigError reports whether err wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsCycleError reports whether err wraps a ConfigError for a dependency cycle.
func IsCycleError(err error) bool {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeCycle
	}
	return false
}

// ErrUnknownNode is returned by stores for a node id they hold no state for.
var ErrUnknownNode = errors.New("unknown node")

// TelemetryError is raised for telemetry that cannot be parsed or
// attributed to a known node. It never leaves the ingestor.
type TelemetryError struct {
	Topic  string
	NodeID string
	Reason string
}

func (e *TelemetryError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("telemetry dropped: %s (node=%s, topic=%s)", e.Reason, e.NodeID, e.Topic)
	}
	return fmt.Sprintf("telemetry dropped: %s (topic=%s)", e.Reason, e.Topic)
}

// IsTelemetryError reports whether err wraps a TelemetryError.
func IsTelemetryError(err error) bool {
	var te *TelemetryError
	return errors.As(err, &te)
}

// StoreError wraps a persistence failure with the operation that failed.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsStoreError reports whether err wraps a StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// TransportError wraps a failed command publish.
type TransportError struct {
	NodeID string
	Topic  string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("publish %s to %s: %v", e.NodeID, e.Topic, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err wraps a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// NodeFault is a transition failure isolated to one node.
type NodeFault struct {
	NodeID string
	Reason string
}

func (e *NodeFault) Error() string {
	return fmt.Sprintf("node %s faulted: %s", e.NodeID, e.Reason)
}
