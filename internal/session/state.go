package session

import (
	"fmt"

	"github.com/hpungsan/custody/internal/device"
	"github.com/hpungsan/custody/internal/errors"
	"github.com/hpungsan/custody/internal/evidence"
)

// State is a capture session state.
type State int

const (
	// Idle has no device.
	Idle State = iota
	// DeviceReady has a device but no evidence context.
	DeviceReady
	// ContextSet has a device and a case/seal/object selection.
	ContextSet
	// Capturing has exactly one transfer in flight.
	Capturing
	// Error needs an explicit Reconnect before anything else.
	Error
)

var stateNames = [...]string{"Idle", "DeviceReady", "ContextSet", "Capturing", "Error"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", b)
}

// Snapshot is a point-in-time copy of the session, safe to hand to callers.
type Snapshot struct {
	SessionID       string            `json:"session_id"`
	State           State             `json:"state"`
	Device          *device.Handle    `json:"device,omitempty"`
	Context         *evidence.Context `json:"context,omitempty"`
	InFlight        string            `json:"in_flight,omitempty"`
	NamingExhausted bool              `json:"naming_exhausted,omitempty"`
	Captures        int               `json:"captures"`
	LastError       *ErrorInfo        `json:"last_error,omitempty"`
}

// ErrorInfo is the condition that put the session into Error.
type ErrorInfo struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Details map[string]any   `json:"details,omitempty"`
}

func errorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	ce, ok := errors.As(err)
	if !ok {
		return &ErrorInfo{Code: errors.ErrInternal, Message: err.Error()}
	}
	return &ErrorInfo{Code: ce.Code, Message: ce.Message, Details: ce.Details}
}

// cloneContext deep-copies c so callers never share the session's seal or object.
func cloneContext(c *evidence.Context) *evidence.Context {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Seal != nil {
		seal := *c.Seal
		cp.Seal = &seal
	}
	if c.Object != nil {
		obj := *c.Object
		cp.Object = &obj
	}
	return &cp
}
