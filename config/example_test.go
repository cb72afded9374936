package config_test

import (
	"fmt"

	"github.com/TaskforceCobra/instrument-contoller/config"
)

// ExampleDefaults shows the built-in configuration used when no file is
// supplied.
func ExampleDefaults() {
	cfg := config.Defaults()

	fmt.Println(cfg.Engine.ID)
	fmt.Println(cfg.Gateway.Port)
	fmt.Println(cfg.Outputs.Graph.WindowSeconds)
	// Output:
	// bench
	// 8080
	// 600
}

// ExampleConfig_Validate demonstrates semantic validation of a device list.
func ExampleConfig_Validate() {
	cfg := config.Defaults()
	cfg.Devices = []config.DeviceConfig{
		{
			ID:       "dmm-bench-1",
			Address:  "tcp://10.0.0.5:5025",
			Function: "dc_voltage",
			Enabled:  true,
		},
	}

	if err := cfg.Validate(); err != nil {
		fmt.Println("invalid:", err)
		return
	}
	fmt.Println("valid")
	// Output: valid
}

// ExampleSafeConfig_Get demonstrates thread-safe configuration access.
// Get returns a deep copy, so readers never observe partial updates and
// cannot mutate shared state.
func ExampleSafeConfig_Get() {
	sc := config.NewSafeConfig(config.Defaults())

	cfg := sc.Get()
	cfg.Engine.ID = "scratch" // only affects this copy

	fmt.Println(sc.Get().Engine.ID)
	// Output: bench
}
