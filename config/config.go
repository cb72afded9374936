package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/TaskforceCobra/instrument-contoller/pkg/security"
)

// Per-device defaults applied when the wire config leaves a field zero.
const (
	DefaultPollIntervalMS = 1000
	DefaultReadTimeoutMS  = 5000
	DefaultRetryLimit     = 3
)

// Config represents the complete daemon configuration.
type Config struct {
	Version  string          `json:"version,omitempty"`
	Engine   EngineConfig    `json:"engine"`
	Devices  []DeviceConfig  `json:"devices,omitempty"`
	Gateway  GatewayConfig   `json:"gateway"`
	NATS     NATSConfig      `json:"nats,omitempty"`
	Security security.Config `json:"security,omitempty"`
	Outputs  OutputsConfig   `json:"outputs,omitempty"`
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{
		config: cfg,
	}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically updates the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	// Validate before updating
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	// Use JSON marshaling/unmarshaling for deep copy
	data, err := json.Marshal(c)
	if err != nil {
		// Fallback to shallow copy if marshaling fails
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		// Fallback to shallow copy if unmarshaling fails
		copied := *c
		return &copied
	}

	return &clone
}

// EngineConfig defines coordinator settings: identity, frame cadence, queue
// sizes, and bus scan behavior.
type EngineConfig struct {
	ID              string        `json:"id"`               // engine identifier for NATS subjects and logs
	FrameTick       time.Duration `json:"frame_tick"`       // frame assembly cadence
	ShutdownTimeout time.Duration `json:"shutdown_timeout"` // bounded wait for workers on stop
	WorkerQueue     int           `json:"worker_queue"`     // per-worker reading queue size
	ConsumerQueue   int           `json:"consumer_queue"`   // per-consumer dispatch queue size
	Scan            ScanConfig    `json:"scan"`
}

// ScanConfig controls bus scan probing.
type ScanConfig struct {
	Workers  int           `json:"workers"`   // probe pool size
	CacheTTL time.Duration `json:"cache_ttl"` // identity cache lifetime
}

// DeviceConfig is the wire-level description of one instrument.
// Poll interval and read timeout are integer milliseconds, matching the
// bench tooling this replaces.
type DeviceConfig struct {
	ID             string `json:"id"`
	Label          string `json:"label,omitempty"` // operator-facing label shown by table consumers
	Address        string `json:"address"`         // e.g. "tcp://10.0.0.5:5025" or "sim://bench/1"
	Function       string `json:"function"`        // measurement function token, validated by the catalog
	Range          string `json:"range,omitempty"` // "" = instrument default, "AUTO" or numeric
	PollIntervalMS int    `json:"poll_interval_ms,omitempty"`
	ReadTimeoutMS  int    `json:"read_timeout_ms,omitempty"`
	RetryLimit     int    `json:"retry_limit,omitempty"`
	Enabled        bool   `json:"enabled"`
}

// GatewayConfig defines the REST control surface listener.
type GatewayConfig struct {
	Enabled  bool   `json:"enabled"`
	BindAddr string `json:"bind_addr"`
	Port     int    `json:"port"`
}

// NATSConfig defines NATS connection settings for the publishing sink and
// remote log mirroring.
type NATSConfig struct {
	Enabled       bool          `json:"enabled"`
	URLs          []string      `json:"urls,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
	TLS           NATSTLSConfig `json:"tls,omitempty"`
	SubjectPrefix string        `json:"subject_prefix,omitempty"`
}

// NATSTLSConfig for secure NATS connections
type NATSTLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`
}

// OutputsConfig enables and tunes the built-in consumers.
type OutputsConfig struct {
	Table     TableConfig     `json:"table"`
	Graph     GraphConfig     `json:"graph"`
	Export    ExportConfig    `json:"export"`
	WebSocket WebSocketConfig `json:"websocket"`
}

// TableConfig for the latest-value/statistics consumer.
type TableConfig struct {
	Enabled bool `json:"enabled"`
}

// GraphConfig for the rolling time-window series consumer.
type GraphConfig struct {
	Enabled       bool `json:"enabled"`
	WindowSeconds int  `json:"window_seconds"`
	MaxPoints     int  `json:"max_points"`
}

// ExportConfig for the bounded in-memory session export buffer.
type ExportConfig struct {
	Enabled  bool `json:"enabled"`
	Capacity int  `json:"capacity"`
}

// WebSocketConfig for the live broadcast endpoint served by the gateway.
type WebSocketConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// EnabledDevices returns the subset of configured devices with Enabled set.
func (c *Config) EnabledDevices() []DeviceConfig {
	out := make([]DeviceConfig, 0, len(c.Devices))
	for _, d := range c.Devices {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.Engine.ID == "" {
		return errors.New("engine.id is required")
	}
	if !isValidSubjectPart(c.Engine.ID) {
		return fmt.Errorf(
			"engine.id '%s' is not valid for NATS subjects (must be alphanumeric with dots, dashes, underscores)",
			c.Engine.ID,
		)
	}

	if c.Engine.FrameTick <= 0 {
		return errors.New("engine.frame_tick must be positive")
	}
	if c.Engine.ShutdownTimeout <= 0 {
		return errors.New("engine.shutdown_timeout must be positive")
	}
	if c.Engine.WorkerQueue <= 0 {
		return errors.New("engine.worker_queue must be positive")
	}
	if c.Engine.ConsumerQueue <= 0 {
		return errors.New("engine.consumer_queue must be positive")
	}
	if c.Engine.Scan.Workers <= 0 {
		return errors.New("engine.scan.workers must be positive")
	}
	if c.Engine.Scan.CacheTTL <= 0 {
		return errors.New("engine.scan.cache_ttl must be positive")
	}

	if err := c.validateDevices(); err != nil {
		return err
	}

	if c.Gateway.Enabled {
		if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
			return fmt.Errorf("gateway.port %d outside valid range 1-65535", c.Gateway.Port)
		}
	}

	if c.NATS.Enabled && len(c.NATS.URLs) == 0 {
		return errors.New("nats.urls is required when nats is enabled")
	}

	if err := c.validateOutputs(); err != nil {
		return err
	}

	// Validate Security Configuration
	if err := c.validateSecurity(); err != nil {
		return fmt.Errorf("security configuration: %w", err)
	}

	return nil
}

// validateDevices checks device entries for completeness and unique IDs.
func (c *Config) validateDevices() error {
	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if d.ID == "" {
			return fmt.Errorf("devices[%d]: id is required", i)
		}
		if !isValidSubjectPart(d.ID) {
			return fmt.Errorf("devices[%d]: id '%s' is not valid (must be alphanumeric with dots, dashes, underscores)", i, d.ID)
		}
		if seen[d.ID] {
			return fmt.Errorf("devices[%d]: duplicate id '%s'", i, d.ID)
		}
		seen[d.ID] = true

		if d.Address == "" {
			return fmt.Errorf("device %s: address is required", d.ID)
		}
		if d.Function == "" {
			return fmt.Errorf("device %s: function is required", d.ID)
		}
		if d.PollIntervalMS < 0 {
			return fmt.Errorf("device %s: poll_interval_ms cannot be negative", d.ID)
		}
		if d.ReadTimeoutMS < 0 {
			return fmt.Errorf("device %s: read_timeout_ms cannot be negative", d.ID)
		}
		if d.RetryLimit < 0 {
			return fmt.Errorf("device %s: retry_limit cannot be negative", d.ID)
		}
	}
	return nil
}

// validateOutputs checks consumer settings.
func (c *Config) validateOutputs() error {
	if c.Outputs.Graph.Enabled {
		if c.Outputs.Graph.WindowSeconds <= 0 {
			return errors.New("outputs.graph.window_seconds must be positive")
		}
		if c.Outputs.Graph.MaxPoints <= 0 {
			return errors.New("outputs.graph.max_points must be positive")
		}
	}
	if c.Outputs.Export.Enabled && c.Outputs.Export.Capacity <= 0 {
		return errors.New("outputs.export.capacity must be positive")
	}
	if c.Outputs.WebSocket.Enabled && !strings.HasPrefix(c.Outputs.WebSocket.Path, "/") {
		return fmt.Errorf("outputs.websocket.path '%s' must start with /", c.Outputs.WebSocket.Path)
	}
	return nil
}

// isValidSubjectPart checks if a string is valid for use in NATS subjects.
// Valid characters are alphanumeric, dots, dashes, and underscores.
func isValidSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

// validateSecurity validates the security configuration
func (c *Config) validateSecurity() error {
	// Validate Server TLS
	if c.Security.TLS.Server.Enabled {
		if c.Security.TLS.Server.CertFile == "" {
			return errors.New("tls.server.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.Server.KeyFile == "" {
			return errors.New("tls.server.key_file is required when TLS is enabled")
		}

		// Check if cert file exists
		if _, err := os.Stat(c.Security.TLS.Server.CertFile); err != nil {
			return fmt.Errorf("tls.server.cert_file: %w", err)
		}

		// Check if key file exists
		if _, err := os.Stat(c.Security.TLS.Server.KeyFile); err != nil {
			return fmt.Errorf("tls.server.key_file: %w", err)
		}

		// Validate MinVersion if specified
		if c.Security.TLS.Server.MinVersion != "" {
			if err := validateTLSVersion(c.Security.TLS.Server.MinVersion); err != nil {
				return fmt.Errorf("tls.server.min_version: %w", err)
			}
		}
	}

	// Validate Client TLS
	// Check all CA files exist
	for i, caFile := range c.Security.TLS.Client.CAFiles {
		if _, err := os.Stat(caFile); err != nil {
			return fmt.Errorf("tls.client.ca_files[%d]: %w", i, err)
		}
	}

	// Warn if InsecureSkipVerify is enabled
	if c.Security.TLS.Client.InsecureSkipVerify {
		_, _ = fmt.Fprintf(
			os.Stderr,
			"WARNING: TLS certificate verification is disabled (insecure_skip_verify=true). This should only be used in development/testing!\n",
		)
	}

	// Validate MinVersion if specified
	if c.Security.TLS.Client.MinVersion != "" {
		if err := validateTLSVersion(c.Security.TLS.Client.MinVersion); err != nil {
			return fmt.Errorf("tls.client.min_version: %w", err)
		}
	}

	return nil
}

// validateTLSVersion checks if a TLS version string is valid
func validateTLSVersion(version string) error {
	switch version {
	case "1.2", "1.3":
		return nil
	default:
		return fmt.Errorf("invalid TLS version %q (must be \"1.2\" or \"1.3\")", version)
	}
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: false,
		envPrefix:  "INSTRUMENTD",
	}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	// Start with defaults
	cfg := l.getDefaults()

	// Load each layer and merge using map-based approach
	for _, path := range l.layers {
		rawConfig, err := l.loadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		cfg = l.mergeFromMap(cfg, rawConfig)
	}

	// Apply environment overrides
	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	// Fill per-device defaults
	cfg.applyDeviceDefaults()

	// Validate if enabled
	if l.validation {
		if err := l.validate(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// getDefaults returns default configuration
func (l *Loader) getDefaults() *Config {
	return Defaults()
}

// Defaults returns the built-in configuration: local gateway on 8080, all
// in-process consumers enabled, NATS publishing off, no devices.
func Defaults() *Config {
	return &Config{
		Engine: EngineConfig{
			ID:              "bench",
			FrameTick:       time.Second,
			ShutdownTimeout: 5 * time.Second,
			WorkerQueue:     64,
			ConsumerQueue:   256,
			Scan: ScanConfig{
				Workers:  4,
				CacheTTL: 30 * time.Second,
			},
		},
		Gateway: GatewayConfig{
			Enabled:  true,
			BindAddr: "0.0.0.0",
			Port:     8080,
		},
		NATS: NATSConfig{
			Enabled:       false,
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			SubjectPrefix: "instrument",
		},
		Outputs: OutputsConfig{
			Table: TableConfig{Enabled: true},
			Graph: GraphConfig{
				Enabled:       true,
				WindowSeconds: 600,
				MaxPoints:     1000,
			},
			Export: ExportConfig{
				Enabled:  true,
				Capacity: 100000,
			},
			WebSocket: WebSocketConfig{
				Enabled: true,
				Path:    "/api/v1/stream",
			},
		},
	}
}

// applyDeviceDefaults fills zero-valued device fields with package defaults.
func (c *Config) applyDeviceDefaults() {
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.PollIntervalMS == 0 {
			d.PollIntervalMS = DefaultPollIntervalMS
		}
		if d.ReadTimeoutMS == 0 {
			d.ReadTimeoutMS = DefaultReadTimeoutMS
		}
		if d.RetryLimit == 0 {
			d.RetryLimit = DefaultRetryLimit
		}
	}
}

// loadRaw loads a configuration layer as a map. JSON and YAML files are
// accepted; YAML is normalized into the same map shape.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	// Use secure file reading with validation
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	if isYAMLPath(path) {
		var rawConfig map[string]any
		if err := yaml.Unmarshal(data, &rawConfig); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
		return rawConfig, nil
	}

	// Validate JSON depth to prevent DoS
	if err := validateJSONDepth(data); err != nil {
		return nil, fmt.Errorf("invalid JSON structure: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return nil, err
	}

	return rawConfig, nil
}

// isYAMLPath reports whether the file should be parsed as YAML.
func isYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// mergeFromMap merges configuration from a raw map, only overriding fields present in the map
func (l *Loader) mergeFromMap(base *Config, override map[string]any) *Config {
	if override == nil {
		return base
	}

	// Marshal the base config to JSON then to map
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return base
	}

	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return base
	}

	// Deep merge the maps
	mergedMap := l.deepMergeMaps(baseMap, override)

	// Convert back to Config
	mergedJSON, err := json.Marshal(mergedMap)
	if err != nil {
		return base
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return base
	}

	return &merged
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func (l *Loader) deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any)

	// Copy base values
	for k, v := range base {
		result[k] = v
	}

	// Override with values from override map
	for k, v := range override {
		if v == nil {
			continue
		}

		// If both base and override have maps at this key, merge them
		if baseMap, baseOk := base[k].(map[string]any); baseOk {
			if overrideMap, overrideOk := v.(map[string]any); overrideOk {
				result[k] = l.deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}

		// Otherwise, override takes precedence
		result[k] = v
	}

	return result
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	// Engine overrides
	if val, err := l.envValue("ENGINE_ID"); err != nil {
		return err
	} else if val != "" {
		cfg.Engine.ID = val
	}

	// Gateway overrides
	if val, err := l.envValue("GATEWAY_BIND"); err != nil {
		return err
	} else if val != "" {
		cfg.Gateway.BindAddr = val
	}
	if val, err := l.envValue("GATEWAY_PORT"); err != nil {
		return err
	} else if val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s_GATEWAY_PORT %q: %w", l.envPrefix, val, err)
		}
		cfg.Gateway.Port = port
	}

	// NATS overrides
	if val, err := l.envValue("NATS_URLS"); err != nil {
		return err
	} else if val != "" {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	if val, err := l.envValue("NATS_USERNAME"); err != nil {
		return err
	} else if val != "" {
		cfg.NATS.Username = val
	}
	if val, err := l.envValue("NATS_PASSWORD"); err != nil {
		return err
	} else if val != "" {
		cfg.NATS.Password = val
	}
	if val, err := l.envValue("NATS_TOKEN"); err != nil {
		return err
	} else if val != "" {
		cfg.NATS.Token = val
	}

	return nil
}

// envValue reads and validates a prefixed environment variable.
func (l *Loader) envValue(suffix string) (string, error) {
	key := l.envPrefix + "_" + suffix
	val := os.Getenv(key)
	if err := validateEnvVar(key, val); err != nil {
		return "", err
	}
	return val, nil
}

// validate validates the configuration: JSON schema first, then semantic
// checks.
func (l *Loader) validate(cfg *Config) error {
	if err := ValidateSchema(cfg); err != nil {
		return err
	}
	return cfg.Validate()
}

// SaveToFile saves the configuration to a JSON file
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	// Use secure file writing with validation
	return safeWriteFile(path, data)
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// parseDurationField parses a duration that may be a Go duration string
// ("1s", "500ms") or an integer nanosecond count.
func parseDurationField(raw json.RawMessage, field string) (time.Duration, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid %s duration %q: %w", field, s, err)
		}
		return d, nil
	}

	var ns int64
	if err := json.Unmarshal(raw, &ns); err == nil {
		return time.Duration(ns), nil
	}

	return 0, fmt.Errorf("%s must be a duration string or nanoseconds integer", field)
}

// UnmarshalJSON accepts duration strings or nanosecond integers for the
// engine's duration fields.
func (e *EngineConfig) UnmarshalJSON(data []byte) error {
	type Alias EngineConfig
	aux := &struct {
		FrameTick       json.RawMessage `json:"frame_tick"`
		ShutdownTimeout json.RawMessage `json:"shutdown_timeout"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(aux.FrameTick) > 0 {
		d, err := parseDurationField(aux.FrameTick, "frame_tick")
		if err != nil {
			return err
		}
		e.FrameTick = d
	}
	if len(aux.ShutdownTimeout) > 0 {
		d, err := parseDurationField(aux.ShutdownTimeout, "shutdown_timeout")
		if err != nil {
			return err
		}
		e.ShutdownTimeout = d
	}

	return nil
}

// UnmarshalJSON accepts a duration string or nanosecond integer for cache_ttl.
func (s *ScanConfig) UnmarshalJSON(data []byte) error {
	type Alias ScanConfig
	aux := &struct {
		CacheTTL json.RawMessage `json:"cache_ttl"`
		*Alias
	}{
		Alias: (*Alias)(s),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(aux.CacheTTL) > 0 {
		d, err := parseDurationField(aux.CacheTTL, "cache_ttl")
		if err != nil {
			return err
		}
		s.CacheTTL = d
	}

	return nil
}

// UnmarshalJSON accepts a duration string or nanosecond integer for
// reconnect_wait.
func (n *NATSConfig) UnmarshalJSON(data []byte) error {
	type Alias NATSConfig
	aux := &struct {
		ReconnectWait json.RawMessage `json:"reconnect_wait"`
		*Alias
	}{
		Alias: (*Alias)(n),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(aux.ReconnectWait) > 0 {
		d, err := parseDurationField(aux.ReconnectWait, "reconnect_wait")
		if err != nil {
			return err
		}
		n.ReconnectWait = d
	}

	return nil
}
