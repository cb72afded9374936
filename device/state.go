package device

import (
	"encoding/json"
	"fmt"
)

// State is one multimeter's position in the connection lifecycle. The
// numeric values feed the device state gauge directly, so they must stay
// stable.
type State int

const (
	// Disconnected is the initial state of a worker that has not started.
	Disconnected State = iota

	// Connecting covers transport open, configuration, and identification.
	Connecting

	// Connected means the device is polling at cadence and the most recent
	// poll succeeded.
	Connected

	// Degraded means the device is still polling at cadence but the most
	// recent poll failed.
	Degraded

	// Offline means the worker gave up on the device: it was unreachable,
	// rejected its configuration, or exhausted the retry limit. An offline
	// device stays registered but is not polled again.
	Offline

	// Stopped is the terminal state after shutdown.
	Stopped
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Degraded:
		return "degraded"
	case Offline:
		return "offline"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ParseState converts a state name back to its State value.
func ParseState(name string) (State, error) {
	for s := Disconnected; s <= Stopped; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return Disconnected, fmt.Errorf("unknown device state %q", name)
}

// CanTransitionTo reports whether the edge s -> to is part of the worker
// state machine. Stopped is reachable from every other state; Offline and
// Stopped never resume on their own.
func (s State) CanTransitionTo(to State) bool {
	if to == Stopped {
		return s != Stopped
	}
	switch s {
	case Disconnected:
		return to == Connecting
	case Connecting:
		return to == Connected || to == Offline
	case Connected:
		return to == Degraded || to == Offline
	case Degraded:
		return to == Connected || to == Offline
	default:
		return false
	}
}

// Terminal reports whether the worker has stopped making progress in this
// state. Offline and Stopped devices are not polled again.
func (s State) Terminal() bool {
	return s == Offline || s == Stopped
}

// MarshalJSON encodes the state as its name so snapshots stay readable.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a state from its name.
func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseState(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
