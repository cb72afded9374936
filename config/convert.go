package config

import (
	"time"

	"github.com/TaskforceCobra/instrument-contoller/device"
	"github.com/TaskforceCobra/instrument-contoller/scpi"
)

// Runtime converts the wire-level device description into the engine's
// runtime config. Unknown function tokens pass through unparsed so device
// validation reports them; zero cadences are filled by device defaults at
// registration.
func (d DeviceConfig) Runtime() device.Config {
	fn, err := scpi.ParseFunction(d.Function)
	if err != nil {
		fn = scpi.Function(d.Function)
	}
	return device.Config{
		ID:           d.ID,
		Label:        d.Label,
		Address:      d.Address,
		Function:     fn,
		Range:        d.Range,
		PollInterval: time.Duration(d.PollIntervalMS) * time.Millisecond,
		ReadTimeout:  time.Duration(d.ReadTimeoutMS) * time.Millisecond,
		RetryLimit:   d.RetryLimit,
		Enabled:      d.Enabled,
	}
}

// WireDevice converts a runtime device config back to the wire shape used
// in files and API payloads.
func WireDevice(cfg device.Config) DeviceConfig {
	return DeviceConfig{
		ID:             cfg.ID,
		Label:          cfg.Label,
		Address:        cfg.Address,
		Function:       cfg.Function.String(),
		Range:          cfg.Range,
		PollIntervalMS: int(cfg.PollInterval / time.Millisecond),
		ReadTimeoutMS:  int(cfg.ReadTimeout / time.Millisecond),
		RetryLimit:     cfg.RetryLimit,
		Enabled:        cfg.Enabled,
	}
}
