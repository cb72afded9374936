package device

import (
	"fmt"
	"strings"
	"time"

	"github.com/TaskforceCobra/instrument-contoller/errors"
	"github.com/TaskforceCobra/instrument-contoller/scpi"
)

// Default cadences for a device that does not override them.
const (
	DefaultPollInterval = 1000 * time.Millisecond
	DefaultReadTimeout  = 5000 * time.Millisecond
	DefaultRetryLimit   = 3
)

// Config describes one multimeter on the bus. The engine validates and
// snapshots a Config when a session starts; apart from the measurement
// function, which SetFunction may change, a running worker's Config is
// immutable.
type Config struct {
	// ID uniquely identifies the device across the engine.
	ID string

	// Label is the operator-facing name stamped onto every reading.
	Label string

	// Address is the transport URL, e.g. tcp://10.0.0.17:5025 or
	// sim://bench?value=12.5.
	Address string

	// Function selects the measurement to configure and poll.
	Function scpi.Function

	// Range is the measurement range. Empty or AUTO selects autoranging.
	Range string

	// PollInterval is the cadence between measurement cycles.
	PollInterval time.Duration

	// ReadTimeout bounds each wait for an instrument response.
	ReadTimeout time.Duration

	// RetryLimit is the number of consecutive poll failures before the
	// device goes offline.
	RetryLimit int

	// Enabled devices are polled when a session starts; disabled devices
	// stay registered but idle.
	Enabled bool
}

// WithDefaults fills unset cadences so a minimal Config still validates.
func (c Config) WithDefaults() Config {
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.RetryLimit == 0 {
		c.RetryLimit = DefaultRetryLimit
	}
	return c
}

// Validate checks the config against the measurement catalog and rejects
// cadences that cannot drive a poll loop.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.WrapInvalid(fmt.Errorf("empty device id"),
			"DeviceConfig", "Validate", "id validation")
	}
	if strings.TrimSpace(c.Address) == "" {
		return errors.WrapInvalid(fmt.Errorf("device %s has no address", c.ID),
			"DeviceConfig", "Validate", "address validation")
	}
	if !c.Function.Valid() {
		return errors.WrapInvalid(errors.ErrUnsupportedFunction,
			"DeviceConfig", "Validate",
			fmt.Sprintf("function %q validation", string(c.Function)))
	}
	if !scpi.ValidRange(c.Function, c.Range) {
		return errors.WrapInvalid(
			fmt.Errorf("range %q is not valid for %s", c.Range, c.Function.DisplayName()),
			"DeviceConfig", "Validate", "range validation")
	}
	if c.PollInterval <= 0 {
		return errors.WrapInvalid(fmt.Errorf("poll interval %v must be positive", c.PollInterval),
			"DeviceConfig", "Validate", "poll interval validation")
	}
	if c.ReadTimeout <= 0 {
		return errors.WrapInvalid(fmt.Errorf("read timeout %v must be positive", c.ReadTimeout),
			"DeviceConfig", "Validate", "read timeout validation")
	}
	if c.RetryLimit < 1 {
		return errors.WrapInvalid(fmt.Errorf("retry limit %d must be at least 1", c.RetryLimit),
			"DeviceConfig", "Validate", "retry limit validation")
	}
	return nil
}
