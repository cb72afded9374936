// Package reading defines the measurement data model flowing from device
// workers to output consumers: the single Reading and the time-aligned
// Frame.
//
// Both types are value types. Readings are copied on every hop; Frames keep
// their entry map private and are immutable once built, so one closed Frame
// can fan out to any number of consumers without copying.
package reading

import (
	"fmt"

	"github.com/TaskforceCobra/instrument-contoller/errors"
	"github.com/TaskforceCobra/instrument-contoller/pkg/timestamp"
	"github.com/TaskforceCobra/instrument-contoller/scpi"
)

// Reading is one measurement cycle's result for one device. Exactly one of
// Value or Err is meaningful: an empty Err marks a successful measurement.
//
// Sequence is per-device and strictly increasing without gaps for as long as
// the device keeps polling; failed cycles consume a sequence number too.
// Timestamp is wall-clock Unix milliseconds, Monotonic is nanoseconds since
// the session epoch and is what consumers should use for intervals.
type Reading struct {
	DeviceID  string        `json:"device_id"`
	Label     string        `json:"label,omitempty"`
	Function  scpi.Function `json:"function"`
	Value     float64       `json:"value"`
	Unit      string        `json:"unit,omitempty"`
	Err       string        `json:"error,omitempty"`
	Sequence  uint64        `json:"sequence"`
	Timestamp int64         `json:"timestamp"`
	Monotonic int64         `json:"monotonic_ns"`
}

// OK reports whether the reading carries a measured value rather than an
// error.
func (r Reading) OK() bool {
	return r.Err == ""
}

// Status returns "OK" for successful readings and "ERROR" otherwise, the
// status vocabulary used in table and export output.
func (r Reading) Status() string {
	if r.OK() {
		return "OK"
	}
	return "ERROR"
}

// Validate checks the fields every reading must carry regardless of
// success or failure.
func (r Reading) Validate() error {
	if r.DeviceID == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "Reading", "Validate",
			"device id cannot be empty")
	}
	if !r.Function.Valid() {
		return errors.WrapInvalid(errors.ErrUnsupportedFunction, "Reading", "Validate",
			fmt.Sprintf("unknown function %q", r.Function))
	}
	if r.Sequence == 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "Reading", "Validate",
			"sequence numbering starts at 1")
	}
	if r.Monotonic < 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "Reading", "Validate",
			fmt.Sprintf("negative monotonic offset %d", r.Monotonic))
	}
	if err := timestamp.Validate(r.Timestamp); err != nil {
		return errors.WrapInvalid(err, "Reading", "Validate", "timestamp validation")
	}
	return nil
}
