// Package config provides configuration management for the acquisition
// daemon.
//
// This package handles loading, merging, and validation of daemon
// configuration from JSON or YAML files with environment variable overrides.
//
// # Core Components
//
// Config: Main configuration structure containing engine settings (frame
// cadence, queue sizes, bus scan), the device list, gateway listener, NATS
// connection details, TLS settings, and output consumer tuning.
//
// SafeConfig: Thread-safe wrapper using RWMutex and deep cloning to prevent
// concurrent access issues and accidental mutations.
//
// Loader: Loads configuration with layer merging (base + overrides) and
// environment variable substitution for flexible deployment scenarios.
//
// # Basic Usage
//
// Loading configuration from files with layer merging:
//
//	loader := config.NewLoader()
//	loader.AddLayer("config/base.json")
//	loader.AddLayer("config/bench-7.yaml") // Overrides base
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Layers merge deeply: a layer only overrides the keys it mentions. The
// device list is an array and replaces wholesale rather than merging
// per-entry. Files ending in .yaml or .yml are parsed as YAML, everything
// else as JSON; both feed the same merge pipeline.
//
// # Durations and Device Timing
//
// Engine-level durations (frame_tick, shutdown_timeout, scan.cache_ttl,
// nats.reconnect_wait) accept Go duration strings ("500ms", "1m") or integer
// nanoseconds. Per-device timing uses integer milliseconds
// (poll_interval_ms, read_timeout_ms), matching the bench tooling this
// replaces; zero values get the package defaults (1000 ms poll, 5000 ms read
// timeout, retry limit 3).
//
// # Environment Overrides
//
// After file layers merge, INSTRUMENTD_-prefixed environment variables
// override individual fields:
//
//	INSTRUMENTD_ENGINE_ID      engine.id
//	INSTRUMENTD_GATEWAY_BIND   gateway.bind_addr
//	INSTRUMENTD_GATEWAY_PORT   gateway.port
//	INSTRUMENTD_NATS_URLS      nats.urls (comma-separated)
//	INSTRUMENTD_NATS_USERNAME  nats.username
//	INSTRUMENTD_NATS_PASSWORD  nats.password
//	INSTRUMENTD_NATS_TOKEN     nats.token
//
// Credentials belong in the environment, not in config files that end up in
// version control.
//
// # Validation
//
// EnableValidation(true) runs two passes on the effective config: structural
// validation against the embedded JSON schema (field types, the measurement
// function enum, identifier patterns, port ranges), then semantic validation
// via Config.Validate (unique device IDs, required fields, TLS file
// existence). ValidateSchema and Validate are also exported for callers that
// assemble configs programmatically, such as the gateway's device
// registration path.
//
// # Security
//
// Config files are read through path validation (no traversal, regular files
// only, 10MB cap) and JSON depth limits. Saved configs are written with 0600
// permissions.
package config
