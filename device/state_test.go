package device_test

import (
	"encoding/json"
	"testing"

	"github.com/TaskforceCobra/instrument-contoller/device"
)

func TestStateString(t *testing.T) {
	cases := map[device.State]string{
		device.Disconnected: "disconnected",
		device.Connecting:   "connecting",
		device.Connected:    "connected",
		device.Degraded:     "degraded",
		device.Offline:      "offline",
		device.Stopped:      "stopped",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}

	if got := device.State(42).String(); got != "state(42)" {
		t.Errorf("unknown state String() = %q", got)
	}
}

func TestParseState(t *testing.T) {
	for s := device.Disconnected; s <= device.Stopped; s++ {
		parsed, err := device.ParseState(s.String())
		if err != nil {
			t.Fatalf("ParseState(%q) failed: %v", s.String(), err)
		}
		if parsed != s {
			t.Errorf("ParseState(%q) = %v, want %v", s.String(), parsed, s)
		}
	}

	if _, err := device.ParseState("rebooting"); err == nil {
		t.Error("ParseState accepted an unknown state name")
	}
}

func TestStateTransitions(t *testing.T) {
	legal := []struct{ from, to device.State }{
		{device.Disconnected, device.Connecting},
		{device.Connecting, device.Connected},
		{device.Connecting, device.Offline},
		{device.Connected, device.Degraded},
		{device.Connected, device.Offline},
		{device.Degraded, device.Connected},
		{device.Degraded, device.Offline},
		{device.Disconnected, device.Stopped},
		{device.Connecting, device.Stopped},
		{device.Connected, device.Stopped},
		{device.Degraded, device.Stopped},
		{device.Offline, device.Stopped},
	}
	for _, edge := range legal {
		if !edge.from.CanTransitionTo(edge.to) {
			t.Errorf("%v -> %v should be legal", edge.from, edge.to)
		}
	}

	illegal := []struct{ from, to device.State }{
		{device.Disconnected, device.Connected},
		{device.Disconnected, device.Degraded},
		{device.Connecting, device.Degraded},
		{device.Connected, device.Connecting},
		{device.Degraded, device.Connecting},
		{device.Offline, device.Connecting},
		{device.Offline, device.Connected},
		{device.Offline, device.Degraded},
		{device.Stopped, device.Connecting},
		{device.Stopped, device.Connected},
		{device.Stopped, device.Stopped},
		{device.Connected, device.Connected},
	}
	for _, edge := range illegal {
		if edge.from.CanTransitionTo(edge.to) {
			t.Errorf("%v -> %v should be illegal", edge.from, edge.to)
		}
	}
}

func TestStateTerminal(t *testing.T) {
	for s := device.Disconnected; s <= device.Stopped; s++ {
		want := s == device.Offline || s == device.Stopped
		if got := s.Terminal(); got != want {
			t.Errorf("%v.Terminal() = %v, want %v", s, got, want)
		}
	}
}

func TestStateJSON(t *testing.T) {
	data, err := json.Marshal(device.Degraded)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `"degraded"` {
		t.Errorf("marshal = %s, want %q", data, "degraded")
	}

	var decoded device.State
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded != device.Degraded {
		t.Errorf("round trip = %v, want %v", decoded, device.Degraded)
	}

	if err := json.Unmarshal([]byte(`"rebooting"`), &decoded); err == nil {
		t.Error("unmarshal accepted an unknown state name")
	}
}
