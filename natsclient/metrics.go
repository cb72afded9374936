package natsclient

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/TaskforceCobra/instrument-contoller/metric"
)

// clientMetrics holds Prometheus metrics for the NATS connection. All
// record methods are safe on a nil receiver; a nil metrics registry
// disables collection.
type clientMetrics struct {
	connected     prometheus.Gauge
	reconnects    prometheus.Counter
	disconnects   prometheus.Counter
	circuitOpens  prometheus.Counter
	publishes     prometheus.Counter
	publishBytes  prometheus.Counter
	publishErrors prometheus.Counter
	asyncErrors   prometheus.Counter
	rtt           prometheus.Gauge
}

// newClientMetrics creates and registers connection metrics with the
// provided registry.
func newClientMetrics(registry *metric.MetricsRegistry) (*clientMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &clientMetrics{
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "instrumentd",
			Subsystem: "nats",
			Name:      "connected",
			Help:      "Whether the NATS connection is up (1) or down (0)",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "instrumentd",
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "Total successful reconnections",
		}),
		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "instrumentd",
			Subsystem: "nats",
			Name:      "disconnects_total",
			Help:      "Total unexpected disconnections",
		}),
		circuitOpens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "instrumentd",
			Subsystem: "nats",
			Name:      "circuit_opens_total",
			Help:      "Times the connect circuit breaker opened",
		}),
		publishes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "instrumentd",
			Subsystem: "nats",
			Name:      "publishes_total",
			Help:      "Messages published",
		}),
		publishBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "instrumentd",
			Subsystem: "nats",
			Name:      "published_bytes_total",
			Help:      "Payload bytes published",
		}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "instrumentd",
			Subsystem: "nats",
			Name:      "publish_errors_total",
			Help:      "Failed publish attempts",
		}),
		asyncErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "instrumentd",
			Subsystem: "nats",
			Name:      "async_errors_total",
			Help:      "Asynchronous protocol errors reported by the library",
		}),
		rtt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "instrumentd",
			Subsystem: "nats",
			Name:      "rtt_seconds",
			Help:      "Round-trip time to the NATS server",
		}),
	}

	if err := registry.RegisterGauge("nats", "connected", m.connected); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("nats", "reconnects", m.reconnects); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("nats", "disconnects", m.disconnects); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("nats", "circuit_opens", m.circuitOpens); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("nats", "publishes", m.publishes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("nats", "published_bytes", m.publishBytes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("nats", "publish_errors", m.publishErrors); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("nats", "async_errors", m.asyncErrors); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("nats", "rtt", m.rtt); err != nil {
		return nil, err
	}

	return m, nil
}

func (c *clientMetrics) setConnected(up bool) {
	if c == nil {
		return
	}
	if up {
		c.connected.Set(1)
	} else {
		c.connected.Set(0)
	}
}

func (c *clientMetrics) recordReconnect() {
	if c != nil {
		c.reconnects.Inc()
	}
}

func (c *clientMetrics) recordDisconnect() {
	if c != nil {
		c.disconnects.Inc()
	}
}

func (c *clientMetrics) recordCircuitOpen() {
	if c != nil {
		c.circuitOpens.Inc()
	}
}

func (c *clientMetrics) recordPublish(bytes int) {
	if c != nil {
		c.publishes.Inc()
		c.publishBytes.Add(float64(bytes))
	}
}

func (c *clientMetrics) recordPublishError() {
	if c != nil {
		c.publishErrors.Inc()
	}
}

func (c *clientMetrics) recordAsyncError() {
	if c != nil {
		c.asyncErrors.Inc()
	}
}

func (c *clientMetrics) observeRTT(d time.Duration) {
	if c != nil {
		c.rtt.Set(d.Seconds())
	}
}

// startRTTPoller refreshes the RTT gauge on a fixed cadence until the
// returned cancel function is called.
func (m *Client) startRTTPoller(ctx context.Context, interval time.Duration) context.CancelFunc {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if rtt, err := m.RTT(); err == nil {
					m.metrics.observeRTT(rtt)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return cancel
}
