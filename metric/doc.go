// Package metric provides Prometheus-based metrics collection and an HTTP
// server for monitoring the acquisition engine.
//
// The package offers a centralized metrics registry managing both core
// platform metrics (component status, device state, reading counters, NATS
// health) and custom component-specific metrics. It includes an HTTP server
// exposing metrics in Prometheus format for monitoring system integration.
//
// # Architecture
//
// The package follows a three-layer design:
//
//  1. Core Metrics: Platform-level metrics automatically registered (Metrics type)
//  2. Component Registry: Extensible registration for component-specific metrics (MetricsRegistrar interface)
//  3. HTTP Server: Metrics endpoint with health checks (Server type)
//
// This separates infrastructure concerns (core metrics) from application
// concerns (component-specific metrics) while providing a unified metrics
// endpoint for monitoring systems.
//
// # Basic Usage
//
// Setting up metrics collection and HTTP server:
//
//	registry := metric.NewMetricsRegistry()
//	securityCfg := security.Config{}
//	server := metric.NewServer(9090, "/metrics", registry, securityCfg)
//
//	go func() {
//	    if err := server.Start(); err != nil && err != http.ErrServerClosed {
//	        log.Printf("Metrics server error: %v", err)
//	    }
//	}()
//
//	// Record core platform metrics
//	coreMetrics := registry.CoreMetrics()
//	coreMetrics.RecordDeviceState("dmm-bench-1", 2)
//	coreMetrics.RecordReading("dmm-bench-1", "ok")
//	coreMetrics.RecordSessionActive(true)
//
// The metrics server exposes Prometheus-formatted metrics at
// http://localhost:9090/metrics and a health check at
// http://localhost:9090/health.
//
// # Core Metrics
//
// The package automatically registers core platform metrics tracking:
//
//   - Component lifecycle: component_status (0=stopped through 4=failed)
//   - Device connections: device_state per device (state machine value)
//   - Acquisition flow: readings_total, readings_dropped_total, frames_total
//   - Poll performance: poll_duration_seconds histogram per device
//   - Session state: session_active gauge
//   - NATS connectivity: nats_connected, nats_rtt_milliseconds, nats_reconnects_total
//   - Error tracking: errors_total by component and class
//
// All core metrics use the namespace "instrumentd" and appropriate
// subsystems, for example:
//
//	instrumentd_device_state{device="dmm-bench-1"}
//	instrumentd_readings_total{device="dmm-bench-1",status="ok"}
//	instrumentd_poll_duration_seconds_bucket{device="dmm-bench-1",le="0.05"}
//
// # Component-Specific Metrics
//
// Components register custom metrics through the registry:
//
//	pollCounter := prometheus.NewCounter(prometheus.CounterOpts{
//	    Name: "worker_polls_total",
//	    Help: "Total poll attempts",
//	})
//	err := registry.RegisterCounter("deviceWorker", "worker_polls_total", pollCounter)
//
// Registration returns a classified error for duplicate names or Prometheus
// conflicts. Components receive the registry as a MetricsRegistrar; a nil
// registrar disables metrics entirely, which keeps metrics optional in tests.
//
// # Thread Safety
//
// All registry operations are thread-safe. Registration methods use mutex
// protection, and metric recording is lock-free per the Prometheus client
// guarantees.
package metric
