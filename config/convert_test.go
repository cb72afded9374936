package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TaskforceCobra/instrument-contoller/config"
	"github.com/TaskforceCobra/instrument-contoller/scpi"
)

func TestDeviceConfigRuntime(t *testing.T) {
	wire := config.DeviceConfig{
		ID:             "dmm-1",
		Label:          "bench meter",
		Address:        "tcp://10.0.0.5:5025",
		Function:       "DC_Voltage", // mixed case parses
		Range:          "AUTO",
		PollIntervalMS: 250,
		ReadTimeoutMS:  2000,
		RetryLimit:     5,
		Enabled:        true,
	}

	rt := wire.Runtime()
	assert.Equal(t, "dmm-1", rt.ID)
	assert.Equal(t, scpi.DCVoltage, rt.Function)
	assert.Equal(t, 250*time.Millisecond, rt.PollInterval)
	assert.Equal(t, 2*time.Second, rt.ReadTimeout)
	assert.Equal(t, 5, rt.RetryLimit)
	assert.True(t, rt.Enabled)
	require.NoError(t, rt.WithDefaults().Validate())
}

func TestDeviceConfigRuntimeUnknownFunction(t *testing.T) {
	wire := config.DeviceConfig{
		ID:       "dmm-1",
		Address:  "sim://bench",
		Function: "flux_capacitance",
	}

	rt := wire.Runtime()
	assert.Equal(t, scpi.Function("flux_capacitance"), rt.Function)
	assert.Error(t, rt.WithDefaults().Validate())
}

func TestWireDeviceRoundTrip(t *testing.T) {
	wire := config.DeviceConfig{
		ID:             "dmm-2",
		Address:        "sim://bench?value=1.5",
		Function:       "resistance_4w",
		Range:          "100",
		PollIntervalMS: 1000,
		ReadTimeoutMS:  5000,
		RetryLimit:     3,
		Enabled:        true,
	}

	assert.Equal(t, wire, config.WireDevice(wire.Runtime()))
}
