package cache

import (
	"encoding/json"
	"testing"
	"time"
)

func TestConfig_UnmarshalJSON_DurationStrings(t *testing.T) {
	tests := []struct {
		name     string
		jsonData string
		want     Config
		wantErr  bool
	}{
		{
			name: "duration strings",
			jsonData: `{
				"enabled": true,
				"ttl": "1h",
				"cleanup_interval": "5m",
				"stats_interval": "30s"
			}`,
			want: Config{
				Enabled:         true,
				TTL:             1 * time.Hour,
				CleanupInterval: 5 * time.Minute,
				StatsInterval:   30 * time.Second,
			},
			wantErr: false,
		},
		{
			name: "integer nanoseconds (backward compatibility)",
			jsonData: `{
				"enabled": true,
				"ttl": 3600000000000,
				"cleanup_interval": 300000000000
			}`,
			want: Config{
				Enabled:         true,
				TTL:             1 * time.Hour,
				CleanupInterval: 5 * time.Minute,
			},
			wantErr: false,
		},
		{
			name: "mixed formats",
			jsonData: `{
				"enabled": true,
				"ttl": "2h30m",
				"cleanup_interval": 60000000000,
				"stats_interval": "1m"
			}`,
			want: Config{
				Enabled:         true,
				TTL:             2*time.Hour + 30*time.Minute,
				CleanupInterval: 1 * time.Minute,
				StatsInterval:   1 * time.Minute,
			},
			wantErr: false,
		},
		{
			name: "invalid duration string",
			jsonData: `{
				"enabled": true,
				"ttl": "invalid"
			}`,
			wantErr: true,
		},
		{
			name: "minimal config",
			jsonData: `{
				"enabled": false
			}`,
			want: Config{
				Enabled: false,
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Config
			err := json.Unmarshal([]byte(tt.jsonData), &got)

			if (err != nil) != tt.wantErr {
				t.Errorf("Config.UnmarshalJSON() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr {
				if got.Enabled != tt.want.Enabled {
					t.Errorf("Enabled = %v, want %v", got.Enabled, tt.want.Enabled)
				}
				if got.TTL != tt.want.TTL {
					t.Errorf("TTL = %v, want %v", got.TTL, tt.want.TTL)
				}
				if got.CleanupInterval != tt.want.CleanupInterval {
					t.Errorf("CleanupInterval = %v, want %v", got.CleanupInterval, tt.want.CleanupInterval)
				}
				if got.StatsInterval != tt.want.StatsInterval {
					t.Errorf("StatsInterval = %v, want %v", got.StatsInterval, tt.want.StatsInterval)
				}
			}
		})
	}
}

func TestConfig_UnmarshalJSON_RealWorldExample(t *testing.T) {
	// Test with a scan identity cache config as it appears in engine config files
	jsonData := `{
		"enabled": true,
		"ttl": "30s",
		"cleanup_interval": "10s"
	}`

	var cfg Config
	if err := json.Unmarshal([]byte(jsonData), &cfg); err != nil {
		t.Fatalf("UnmarshalJSON() failed: %v", err)
	}

	if cfg.TTL != 30*time.Second {
		t.Errorf("TTL = %v, want 30s", cfg.TTL)
	}

	if cfg.CleanupInterval != 10*time.Second {
		t.Errorf("CleanupInterval = %v, want 10s", cfg.CleanupInterval)
	}

	// Verify it validates correctly
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() failed: %v", err)
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.Enabled {
		t.Error("Expected default config to be enabled")
	}
	if cfg.TTL != 30*time.Second {
		t.Errorf("TTL = %v, want 30s", cfg.TTL)
	}
	if cfg.CleanupInterval != 10*time.Second {
		t.Errorf("CleanupInterval = %v, want 10s", cfg.CleanupInterval)
	}
	if cfg.StatsInterval != 30*time.Second {
		t.Errorf("StatsInterval = %v, want 30s", cfg.StatsInterval)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() failed for defaults: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "disabled skips validation",
			config:  Config{Enabled: false},
			wantErr: false,
		},
		{
			name:    "valid enabled config",
			config:  Config{Enabled: true, TTL: time.Minute, CleanupInterval: 10 * time.Second},
			wantErr: false,
		},
		{
			name:    "zero ttl",
			config:  Config{Enabled: true, TTL: 0, CleanupInterval: 10 * time.Second},
			wantErr: true,
		},
		{
			name:    "zero cleanup interval",
			config:  Config{Enabled: true, TTL: time.Minute, CleanupInterval: 0},
			wantErr: true,
		},
		{
			name:    "negative stats interval",
			config:  Config{Enabled: true, TTL: time.Minute, CleanupInterval: 10 * time.Second, StatsInterval: -time.Second},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
