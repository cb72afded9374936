// Package natsclient manages the daemon's NATS connection.
//
// # Overview
//
// Client wraps nats.go with the connection policy the daemon wants
// everywhere it talks to a broker: bounded connect attempts behind a
// circuit breaker, automatic reconnects once a connection exists,
// periodic health checks, and optional Prometheus connection metrics.
// The surface is plain core NATS publish/subscribe; telemetry is
// fire-and-forget.
//
// # Quick Start
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("instrumentd"),
//	    natsclient.WithMetrics(registry),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(context.Background())
//
//	err = client.Publish(ctx, "instrument.bench.reading.dmm-1", payload)
//
// # Circuit Breaker
//
// Connect failures are counted; after the threshold (default 5) the
// breaker opens and Connect returns ErrCircuitOpen immediately instead
// of dialing. The backoff doubles per round up to WithMaxBackoff
// (default one minute), then the breaker half-opens and the next
// Connect is allowed through. A successful connection resets the
// breaker. Reconnects after an established connection drops are the
// nats.go library's business and bypass the breaker.
//
// # Health
//
// With a non-zero health interval (default 10s) the client pings the
// server via RTT and flips status between connected and reconnecting.
// WithHealthChangeCallback observes the transitions;
// WithConnectionLostCallback fires when the library gives up
// reconnecting for good.
//
// # Metrics
//
// WithMetrics registers connection gauges and counters under the
// instrumentd_nats_* prefix: connected, reconnects_total,
// publishes_total, publish_errors_total, rtt_seconds, and friends.
// A nil registry disables collection.
package natsclient
