// Package instrumentcontoller is an acquisition engine for bench digital
// multimeters polled over a shared instrumentation bus with SCPI text
// commands.
//
// # Overview
//
// The engine owns a registry of instruments, runs one polling worker per
// enabled device, and fans the resulting readings out to live consumers:
// a latest-value table, a rolling time-window graph, an in-memory export
// buffer, a WebSocket broadcast hub, and a NATS publisher. A REST gateway
// wraps the engine's control surface. One misbehaving instrument never
// stalls another: every worker owns its connection exclusively, and every
// hand-off crosses a bounded drop-oldest queue.
//
// # Architecture
//
//	┌───────────────────────────────────────┐
//	│              Engine                   │  sessions, frame assembly,
//	│  (registry, scan, direct commands)    │  consumer fan-out
//	└───────┬───────────────────┬───────────┘
//	        │ one per device    │ bounded queues
//	┌───────┴────────┐   ┌──────┴───────────────────────┐
//	│ Device Workers │   │         Consumers            │
//	│ (state machine,│   │ table · graph · export       │
//	│  poll loop)    │   │ websocket · natspub          │
//	└───────┬────────┘   └──────────────────────────────┘
//	        │ SCPI over transport
//	┌───────┴────────┐
//	│   Instruments  │  tcp:// sockets, sim:// simulator
//	└────────────────┘
//
// Each worker loops: build the command sequence for its measurement
// function via the scpi catalog, write, read, classify, emit a Reading.
// On its own tick the engine closes time-aligned Frames; devices that
// missed the deadline appear as stale markers, never duplicated readings.
//
// # Packages
//
// Core data path:
//   - scpi: measurement function catalog, command building, response parsing
//   - transport: connection contract, tcp/sim openers, command pacing
//   - reading: Reading and Frame data model
//   - device: per-instrument connection state machine and poll loop
//   - engine: coordinator for the registry, sessions, frames, fan-out, bus scan
//
// Consumers:
//   - output/table: latest value and running statistics per device
//   - output/graph: rolling time-window series
//   - output/export: bounded in-memory session export buffer
//   - output/websocket: live broadcast hub
//   - output/natspub: NATS publishing sink
//
// Infrastructure:
//   - gateway/http: REST control surface, /healthz, /metrics, stream mount
//   - natsclient: NATS connection management with circuit breaker
//   - config: layered JSON/YAML configuration with schema validation
//   - component, errors, health, metric: lifecycle, taxonomy, health, Prometheus
//   - pkg/...: retry, cache, worker pool, buffer, timestamp, TLS helpers
//
// # Quick Start
//
// Run the daemon on built-in defaults and drive it over REST:
//
//	$ instrumentd &
//	$ curl -X POST localhost:8080/api/v1/devices -d '{
//	    "id": "dmm-1", "address": "sim://bench?value=5.0",
//	    "function": "dc_voltage", "enabled": true}'
//	$ curl -X POST localhost:8080/api/v1/session
//	$ curl localhost:8080/api/v1/snapshot
//
// Or embed the engine:
//
//	eng, err := engine.New(engine.Deps{
//		Transports: transport.NewDefaultRegistry(),
//		Logger:     logger,
//	})
//	if err != nil {
//		return err
//	}
//	_ = eng.RegisterDevice(device.Config{
//		ID:       "dmm-1",
//		Address:  "tcp://10.0.0.5:5025",
//		Function: scpi.DCVoltage,
//		Enabled:  true,
//	})
//	_ = eng.RegisterConsumer("table", table.New())
//	if err := eng.Start(ctx); err != nil {
//		return err
//	}
//	session, err := eng.StartSession(ctx)
//
// # Design Principles
//
// Fault isolation:
//   - One goroutine per device, exclusive transport ownership
//   - Single-producer single-consumer bounded queues, drop-oldest overflow
//   - Dropped readings are counted and reported, never silently lost
//
// Explicit lifecycle:
//   - Components implement Initialize/Start(ctx)/Stop(timeout)
//   - Cooperative cancellation bounded by one read timeout
//   - Transports released exactly once on every exit path
//
// Observability:
//   - Structured slog logging with per-component loggers
//   - Prometheus metrics under the instrumentd namespace; nil registry
//     disables metrics without code changes
//   - Sanitized health aggregation at /healthz
//
// # Binary
//
//	# run with a config file
//	instrumentd --config=/etc/instrumentd/bench.json
//
//	# validate a config without starting
//	instrumentd --config=bench.json --validate
//
//	# print the built-in defaults as a starting point
//	instrumentd --dump-config > bench.json
package instrumentcontoller
