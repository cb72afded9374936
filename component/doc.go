// Package component provides the core component infrastructure for the
// acquisition engine: lifecycle contracts, dependency injection, health
// reporting, structured logging, and input validation shared by every
// long-running piece of the system.
//
// # Overview
//
// The engine is assembled from components: device pollers, the acquisition
// engine itself, output consumers (table, graph, export, websocket, NATS
// publisher), and the HTTP gateway. Each component implements the small
// Component interface so that supervisors, health endpoints, and metrics can
// treat them uniformly:
//
//	type Component interface {
//		Name() string
//		Health() HealthStatus
//	}
//
// Components with real startup and shutdown work additionally implement
// LifecycleComponent:
//
//	type LifecycleComponent interface {
//		Component
//		Initialize() error
//		Start(ctx context.Context) error
//		Stop(timeout time.Duration) error
//	}
//
// # Lifecycle Management
//
// Components follow a strict state progression:
//
//	Created → Initialized → Started → Stopped
//	                ↓           ↓
//	              Failed      Failed
//
// Lifecycle rules every component must honor:
//   - Initialize() validates configuration and allocates resources but does
//     not start goroutines or open network connections
//   - Start(ctx) begins active processing; the context governs the
//     component's lifetime and is cancelled on shutdown
//   - Stop(timeout) gracefully drains work within the timeout; it is
//     idempotent and safe to call before Start
//   - Start after Stop returns an error; components are not restartable
//
// The runner in cmd/instrumentd tracks each component in a ManagedComponent,
// giving it a child context and a start order so shutdown can proceed in
// reverse:
//
//	mc := &component.ManagedComponent{Component: gw, StartOrder: 3}
//	mc.Context, mc.Cancel = context.WithCancel(rootCtx)
//
// StandardLifecycleTests in lifecycle_test_suite.go verifies these rules and
// should be called from every lifecycle component's test package.
//
// # Dependency Injection
//
// Components receive shared infrastructure through a Dependencies struct
// rather than globals:
//
//	deps := component.Dependencies{
//		NATSClient:      nc,
//		MetricsRegistry: registry,
//		Logger:          slog.Default(),
//	}
//	worker, err := device.NewWorker(cfg, deps)
//
// A nil MetricsRegistry disables Prometheus registration without disabling
// the component; a nil Logger falls back to slog.Default(). This keeps test
// construction cheap: component.Dependencies{} is a valid value.
//
// # Health Reporting
//
// HealthStatus is the raw per-component health snapshot. The health package
// converts it into sanitized API responses; see health.FromComponentHealth.
// Components update their status on every poll cycle or request so LastCheck
// stays fresh:
//
//	func (w *Worker) Health() component.HealthStatus {
//		return component.HealthStatus{
//			Healthy:    w.state.Load() == int32(StateConnected),
//			LastCheck:  time.Now(),
//			ErrorCount: int(w.consecutiveFailures.Load()),
//			Uptime:     time.Since(w.startedAt),
//		}
//	}
//
// # Structured Logging
//
// Logger mirrors every log entry to local slog and, when a NATS connection is
// available, publishes it as JSON to "logs.{engine_id}.{component}" so remote
// monitors can tail a bench without shell access:
//
//	logger := component.NewLogger("device:dmm-bench-1", "bench", nc, slog.Default())
//	logger.Info("connected to instrument")
//
// Publishing degrades silently when NATS is absent; local logging always
// works.
//
// # Input Validation
//
// The gateway accepts untrusted JSON over REST. SafeUnmarshal is the security
// gate for those request bodies: it bounds size, depth, array length, and
// string content before decoding, then runs the target's Validate method when
// implemented:
//
//	var req addDeviceRequest
//	if err := component.SafeUnmarshal(body, &req); err != nil {
//		// reject with 400
//	}
//
// ValidateComponentName applies the same character and length rules to device
// identifiers so they are safe to embed in NATS subjects, metrics labels, and
// log lines.
package component
