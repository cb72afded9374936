package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test basic config structure
func TestConfig_Structure(t *testing.T) {
	cfg := &Config{
		Engine: EngineConfig{
			ID:              "bench",
			FrameTick:       time.Second,
			ShutdownTimeout: 5 * time.Second,
			WorkerQueue:     64,
			ConsumerQueue:   256,
			Scan:            ScanConfig{Workers: 4, CacheTTL: 30 * time.Second},
		},
		Devices: []DeviceConfig{
			{
				ID:       "dmm-bench-1",
				Label:    "PSU rail A",
				Address:  "tcp://10.0.0.5:5025",
				Function: "dc_voltage",
				Enabled:  true,
			},
		},
	}

	assert.Equal(t, "bench", cfg.Engine.ID)
	assert.Len(t, cfg.Devices, 1)
	assert.Equal(t, "dc_voltage", cfg.Devices[0].Function)
}

// Test loading config from JSON file
func TestLoader_LoadJSON(t *testing.T) {
	testConfig := `{
		"engine": {
			"id": "lab-7",
			"frame_tick": "500ms",
			"shutdown_timeout": "10s",
			"scan": {"workers": 8, "cache_ttl": "1m"}
		},
		"devices": [
			{
				"id": "dmm-bench-1",
				"address": "tcp://10.0.0.5:5025",
				"function": "dc_voltage",
				"range": "AUTO",
				"poll_interval_ms": 500,
				"enabled": true
			},
			{
				"id": "dmm-bench-2",
				"address": "sim://bench/2",
				"function": "resistance_4w",
				"enabled": false
			}
		],
		"gateway": {"enabled": true, "bind_addr": "127.0.0.1", "port": 9090},
		"nats": {
			"enabled": true,
			"urls": ["nats://localhost:4222", "nats://localhost:4223"],
			"max_reconnects": 10,
			"reconnect_wait": "5s"
		}
	}`

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.json")
	err := os.WriteFile(configFile, []byte(testConfig), 0644)
	require.NoError(t, err)

	loader := NewLoader()
	cfg, err := loader.LoadFile(configFile)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "lab-7", cfg.Engine.ID)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.FrameTick)
	assert.Equal(t, 10*time.Second, cfg.Engine.ShutdownTimeout)
	assert.Equal(t, 8, cfg.Engine.Scan.Workers)
	assert.Equal(t, time.Minute, cfg.Engine.Scan.CacheTTL)

	require.Len(t, cfg.Devices, 2)
	assert.Equal(t, "dmm-bench-1", cfg.Devices[0].ID)
	assert.Equal(t, "AUTO", cfg.Devices[0].Range)
	assert.Equal(t, 500, cfg.Devices[0].PollIntervalMS)
	assert.True(t, cfg.Devices[0].Enabled)
	assert.False(t, cfg.Devices[1].Enabled)

	assert.Equal(t, "127.0.0.1", cfg.Gateway.BindAddr)
	assert.Equal(t, 9090, cfg.Gateway.Port)

	assert.True(t, cfg.NATS.Enabled)
	assert.Len(t, cfg.NATS.URLs, 2)
	assert.Equal(t, 10, cfg.NATS.MaxReconnects)
	assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait)
}

// Test loading config from YAML file
func TestLoader_LoadYAML(t *testing.T) {
	testConfig := `
engine:
  id: lab-7
  frame_tick: 500ms
devices:
  - id: dmm-bench-1
    address: sim://bench/1
    function: dc_voltage
    enabled: true
gateway:
  port: 9090
`

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")
	err := os.WriteFile(configFile, []byte(testConfig), 0644)
	require.NoError(t, err)

	loader := NewLoader()
	cfg, err := loader.LoadFile(configFile)
	require.NoError(t, err)

	assert.Equal(t, "lab-7", cfg.Engine.ID)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.FrameTick)
	require.Len(t, cfg.Devices, 1)
	assert.Equal(t, "sim://bench/1", cfg.Devices[0].Address)
	assert.Equal(t, 9090, cfg.Gateway.Port)
	// Untouched fields keep defaults
	assert.Equal(t, "0.0.0.0", cfg.Gateway.BindAddr)
	assert.Equal(t, 5*time.Second, cfg.Engine.ShutdownTimeout)
}

// Test default values
func TestLoader_Defaults(t *testing.T) {
	testConfig := `{"engine": {"id": "bench"}}`

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.json")
	err := os.WriteFile(configFile, []byte(testConfig), 0644)
	require.NoError(t, err)

	loader := NewLoader()
	cfg, err := loader.LoadFile(configFile)
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.Engine.FrameTick)
	assert.Equal(t, 5*time.Second, cfg.Engine.ShutdownTimeout)
	assert.Equal(t, 64, cfg.Engine.WorkerQueue)
	assert.Equal(t, 256, cfg.Engine.ConsumerQueue)
	assert.Equal(t, 4, cfg.Engine.Scan.Workers)
	assert.Equal(t, 30*time.Second, cfg.Engine.Scan.CacheTTL)

	assert.True(t, cfg.Gateway.Enabled)
	assert.Equal(t, "0.0.0.0", cfg.Gateway.BindAddr)
	assert.Equal(t, 8080, cfg.Gateway.Port)

	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, []string{"nats://localhost:4222"}, cfg.NATS.URLs)
	assert.Equal(t, -1, cfg.NATS.MaxReconnects)
	assert.Equal(t, 2*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, "instrument", cfg.NATS.SubjectPrefix)

	assert.True(t, cfg.Outputs.Table.Enabled)
	assert.True(t, cfg.Outputs.Graph.Enabled)
	assert.Equal(t, 600, cfg.Outputs.Graph.WindowSeconds)
	assert.Equal(t, 1000, cfg.Outputs.Graph.MaxPoints)
	assert.True(t, cfg.Outputs.Export.Enabled)
	assert.Equal(t, 100000, cfg.Outputs.Export.Capacity)
	assert.True(t, cfg.Outputs.WebSocket.Enabled)
	assert.Equal(t, "/api/v1/stream", cfg.Outputs.WebSocket.Path)
}

// Test per-device defaults
func TestLoader_DeviceDefaults(t *testing.T) {
	testConfig := `{
		"engine": {"id": "bench"},
		"devices": [
			{"id": "dmm-1", "address": "sim://bench/1", "function": "dc_voltage", "enabled": true}
		]
	}`

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.json")
	err := os.WriteFile(configFile, []byte(testConfig), 0644)
	require.NoError(t, err)

	loader := NewLoader()
	cfg, err := loader.LoadFile(configFile)
	require.NoError(t, err)

	require.Len(t, cfg.Devices, 1)
	assert.Equal(t, DefaultPollIntervalMS, cfg.Devices[0].PollIntervalMS)
	assert.Equal(t, DefaultReadTimeoutMS, cfg.Devices[0].ReadTimeoutMS)
	assert.Equal(t, DefaultRetryLimit, cfg.Devices[0].RetryLimit)
}

// Test layered loading: base + override
func TestLoader_LayeredMerge(t *testing.T) {
	baseConfig := `{
		"engine": {"id": "bench", "frame_tick": "2s"},
		"gateway": {"port": 8080}
	}`
	overrideConfig := `{
		"gateway": {"port": 9090}
	}`

	tmpDir := t.TempDir()
	baseFile := filepath.Join(tmpDir, "base.json")
	overrideFile := filepath.Join(tmpDir, "override.json")
	require.NoError(t, os.WriteFile(baseFile, []byte(baseConfig), 0644))
	require.NoError(t, os.WriteFile(overrideFile, []byte(overrideConfig), 0644))

	loader := NewLoader()
	loader.AddLayer(baseFile)
	loader.AddLayer(overrideFile)

	cfg, err := loader.Load()
	require.NoError(t, err)

	// Override layer wins for port, base layer survives for the rest
	assert.Equal(t, 9090, cfg.Gateway.Port)
	assert.Equal(t, "bench", cfg.Engine.ID)
	assert.Equal(t, 2*time.Second, cfg.Engine.FrameTick)
	assert.Equal(t, "0.0.0.0", cfg.Gateway.BindAddr)
}

// Test environment variable overrides
func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("INSTRUMENTD_ENGINE_ID", "env-bench")
	t.Setenv("INSTRUMENTD_GATEWAY_PORT", "7070")
	t.Setenv("INSTRUMENTD_NATS_URLS", "nats://a:4222,nats://b:4222")
	t.Setenv("INSTRUMENTD_NATS_TOKEN", "s3cret")

	testConfig := `{"engine": {"id": "file-bench"}}`
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.json")
	require.NoError(t, os.WriteFile(configFile, []byte(testConfig), 0644))

	loader := NewLoader()
	cfg, err := loader.LoadFile(configFile)
	require.NoError(t, err)

	assert.Equal(t, "env-bench", cfg.Engine.ID)
	assert.Equal(t, 7070, cfg.Gateway.Port)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATS.URLs)
	assert.Equal(t, "s3cret", cfg.NATS.Token)
}

// Test invalid environment override fails loudly
func TestLoader_EnvOverrides_InvalidPort(t *testing.T) {
	t.Setenv("INSTRUMENTD_GATEWAY_PORT", "not-a-port")

	loader := NewLoader()
	_, err := loader.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GATEWAY_PORT")
}

// Test validation catches schema violations at load time
func TestLoader_ValidationEnabled(t *testing.T) {
	testConfig := `{
		"engine": {"id": "bench"},
		"devices": [
			{"id": "dmm-1", "address": "sim://bench/1", "function": "watts", "enabled": true}
		]
	}`

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.json")
	require.NoError(t, os.WriteFile(configFile, []byte(testConfig), 0644))

	loader := NewLoader()
	loader.EnableValidation(true)
	_, err := loader.LoadFile(configFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema validation")
}

// Test non-config extensions are rejected
func TestLoader_RejectsNonConfigExtension(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.txt")
	require.NoError(t, os.WriteFile(configFile, []byte("{}"), 0644))

	loader := NewLoader()
	_, err := loader.LoadFile(configFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "YAML")
}

// Test semantic validation
func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return NewLoader().getDefaults()
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(_ *Config) {},
		},
		{
			name:    "missing engine id",
			mutate:  func(c *Config) { c.Engine.ID = "" },
			wantErr: "engine.id is required",
		},
		{
			name:    "engine id with invalid characters",
			mutate:  func(c *Config) { c.Engine.ID = "bench 7" },
			wantErr: "not valid for NATS subjects",
		},
		{
			name:    "zero frame tick",
			mutate:  func(c *Config) { c.Engine.FrameTick = 0 },
			wantErr: "frame_tick",
		},
		{
			name: "duplicate device ids",
			mutate: func(c *Config) {
				c.Devices = []DeviceConfig{
					{ID: "dmm-1", Address: "sim://bench/1", Function: "dc_voltage", Enabled: true},
					{ID: "dmm-1", Address: "sim://bench/2", Function: "dc_voltage", Enabled: true},
				}
			},
			wantErr: "duplicate id",
		},
		{
			name: "device missing address",
			mutate: func(c *Config) {
				c.Devices = []DeviceConfig{{ID: "dmm-1", Function: "dc_voltage"}}
			},
			wantErr: "address is required",
		},
		{
			name: "device missing function",
			mutate: func(c *Config) {
				c.Devices = []DeviceConfig{{ID: "dmm-1", Address: "sim://bench/1"}}
			},
			wantErr: "function is required",
		},
		{
			name: "negative poll interval",
			mutate: func(c *Config) {
				c.Devices = []DeviceConfig{
					{ID: "dmm-1", Address: "sim://bench/1", Function: "dc_voltage", PollIntervalMS: -1},
				}
			},
			wantErr: "poll_interval_ms",
		},
		{
			name:    "gateway port out of range",
			mutate:  func(c *Config) { c.Gateway.Port = 70000 },
			wantErr: "gateway.port",
		},
		{
			name: "nats enabled without urls",
			mutate: func(c *Config) {
				c.NATS.Enabled = true
				c.NATS.URLs = nil
			},
			wantErr: "nats.urls",
		},
		{
			name:    "graph window zero",
			mutate:  func(c *Config) { c.Outputs.Graph.WindowSeconds = 0 },
			wantErr: "window_seconds",
		},
		{
			name:    "export capacity zero",
			mutate:  func(c *Config) { c.Outputs.Export.Capacity = 0 },
			wantErr: "capacity",
		},
		{
			name:    "websocket path without slash",
			mutate:  func(c *Config) { c.Outputs.WebSocket.Path = "stream" },
			wantErr: "must start with /",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

// Test duration parsing in direct JSON unmarshaling
func TestConfig_DurationParsing(t *testing.T) {
	t.Run("duration strings", func(t *testing.T) {
		var cfg Config
		data := `{"engine": {"id": "bench", "frame_tick": "250ms", "shutdown_timeout": "3s"}}`
		require.NoError(t, json.Unmarshal([]byte(data), &cfg))
		assert.Equal(t, 250*time.Millisecond, cfg.Engine.FrameTick)
		assert.Equal(t, 3*time.Second, cfg.Engine.ShutdownTimeout)
	})

	t.Run("nanosecond integers", func(t *testing.T) {
		var cfg Config
		data := `{"engine": {"id": "bench", "frame_tick": 1000000000}, "nats": {"reconnect_wait": 2000000000}}`
		require.NoError(t, json.Unmarshal([]byte(data), &cfg))
		assert.Equal(t, time.Second, cfg.Engine.FrameTick)
		assert.Equal(t, 2*time.Second, cfg.NATS.ReconnectWait)
	})

	t.Run("invalid duration string", func(t *testing.T) {
		var cfg Config
		data := `{"engine": {"id": "bench", "frame_tick": "fast"}}`
		err := json.Unmarshal([]byte(data), &cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "frame_tick")
	})
}

// Test Clone produces an independent copy
func TestConfig_Clone(t *testing.T) {
	cfg := NewLoader().getDefaults()
	cfg.Devices = []DeviceConfig{
		{ID: "dmm-1", Address: "sim://bench/1", Function: "dc_voltage", Enabled: true},
	}

	clone := cfg.Clone()
	clone.Engine.ID = "other"
	clone.Devices[0].ID = "changed"

	assert.Equal(t, "bench", cfg.Engine.ID)
	assert.Equal(t, "dmm-1", cfg.Devices[0].ID)
}

// Test EnabledDevices filter
func TestConfig_EnabledDevices(t *testing.T) {
	cfg := &Config{
		Devices: []DeviceConfig{
			{ID: "a", Enabled: true},
			{ID: "b", Enabled: false},
			{ID: "c", Enabled: true},
		},
	}

	enabled := cfg.EnabledDevices()
	require.Len(t, enabled, 2)
	assert.Equal(t, "a", enabled[0].ID)
	assert.Equal(t, "c", enabled[1].ID)
}

// Test round-trip through SaveToFile
func TestConfig_SaveToFile(t *testing.T) {
	cfg := NewLoader().getDefaults()
	cfg.Devices = []DeviceConfig{
		{ID: "dmm-1", Address: "sim://bench/1", Function: "dc_voltage", Enabled: true},
	}

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "saved.json")
	require.NoError(t, cfg.SaveToFile(path))

	loader := NewLoader()
	loaded, err := loader.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Engine.ID, loaded.Engine.ID)
	assert.Equal(t, cfg.Engine.FrameTick, loaded.Engine.FrameTick)
	require.Len(t, loaded.Devices, 1)
	assert.Equal(t, "dmm-1", loaded.Devices[0].ID)
}
