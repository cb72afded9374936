// Package http serves the REST control surface for the acquisition
// engine: device registry, session control, snapshots, bus scans, direct
// SCPI commands, health, and Prometheus metrics.
//
// # Overview
//
// The gateway is a thin HTTP binding over the engine's control surface.
// It owns a listener, maps engine errors onto HTTP status codes with
// sanitized messages, and never touches the acquisition data path: live
// data leaves through the output sinks, not through request handlers.
//
// # Routes
//
//	GET    /api/v1/devices               registered device configs
//	POST   /api/v1/devices               register a device (wire JSON)
//	DELETE /api/v1/devices/{id}          remove a device
//	POST   /api/v1/devices/{id}/command  direct SCPI command, between sessions
//	POST   /api/v1/session               start an acquisition session
//	DELETE /api/v1/session               stop the running session
//	GET    /api/v1/snapshot              engine snapshot (states, counters)
//	POST   /api/v1/scan                  probe bus addresses with *IDN?
//	GET    /healthz                      aggregated component health
//	GET    /metrics                      Prometheus exposition
//
// A live WebSocket stream handler can be mounted at StreamPath via
// Deps.Stream, so one port carries both control and the feed.
//
// # Quick Start
//
//	gw := http.New(http.Deps{
//		Config: http.Config{Port: 8080},
//		Engine: eng,
//		Components: []component.Component{eng, hub},
//		Stream: hub.Handler(),
//		MetricsRegistry: registry,
//		Logger: logger,
//	})
//	if err := gw.Initialize(); err != nil { ... }
//	if err := gw.Start(ctx); err != nil { ... }
//	defer gw.Stop(5 * time.Second)
//
// Port zero binds an ephemeral port; Addr reports the bound address.
//
// # Error Mapping
//
// Engine errors map onto status codes by sentinel first, class second:
// unknown device 404; registry and session conflicts 409; invalid
// requests 400; timeouts 504; other transient failures 503. Response
// bodies carry a sanitized message only; the full error chain goes to
// the log with the request ID.
//
// # Security
//
// TLS (and optional mTLS) comes from the security configuration. CORS is
// off unless explicit origins are configured. Request bodies are capped
// at MaxRequestSize.
package http
