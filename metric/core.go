package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level metrics (not component-specific)
type Metrics struct {
	// Component metrics
	ComponentStatus   *prometheus.GaugeVec
	HealthCheckStatus *prometheus.GaugeVec
	ErrorsTotal       *prometheus.CounterVec

	// Acquisition metrics
	DeviceState     *prometheus.GaugeVec
	ReadingsTotal   *prometheus.CounterVec
	ReadingsDropped *prometheus.CounterVec
	PollDuration    *prometheus.HistogramVec
	FramesTotal     prometheus.Counter
	SessionActive   prometheus.Gauge

	// NATS metrics
	NATSConnected      prometheus.Gauge
	NATSRTT            prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Component metrics
		ComponentStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "instrumentd",
				Subsystem: "component",
				Name:      "status",
				Help:      "Component status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"component"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "instrumentd",
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "instrumentd",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"component", "class"},
		),

		// Acquisition metrics
		DeviceState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "instrumentd",
				Subsystem: "device",
				Name:      "state",
				Help: "Device connection state " +
					"(0=disconnected, 1=connecting, 2=connected, 3=degraded, 4=offline, 5=stopped)",
			},
			[]string{"device"},
		),

		ReadingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "instrumentd",
				Subsystem: "readings",
				Name:      "total",
				Help:      "Total number of readings produced",
			},
			[]string{"device", "status"},
		),

		ReadingsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "instrumentd",
				Subsystem: "readings",
				Name:      "dropped_total",
				Help:      "Total number of readings discarded by full queues",
			},
			[]string{"device", "queue"},
		),

		PollDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "instrumentd",
				Subsystem: "poll",
				Name:      "duration_seconds",
				Help:      "Instrument query round-trip duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"device"},
		),

		FramesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "instrumentd",
				Subsystem: "frames",
				Name:      "total",
				Help:      "Total number of frames assembled",
			},
		),

		SessionActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "instrumentd",
				Subsystem: "session",
				Name:      "active",
				Help:      "Acquisition session status (0=idle, 1=running)",
			},
		),

		// NATS metrics
		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "instrumentd",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSRTT: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "instrumentd",
				Subsystem: "nats",
				Name:      "rtt_milliseconds",
				Help:      "NATS round-trip time in milliseconds",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "instrumentd",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		NATSCircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "instrumentd",
				Subsystem: "nats",
				Name:      "circuit_breaker",
				Help:      "NATS circuit breaker status (0=closed, 1=open, 2=half-open)",
			},
		),
	}
}

// RecordComponentStatus updates component status metric
func (c *Metrics) RecordComponentStatus(component string, status int) {
	c.ComponentStatus.WithLabelValues(component).Set(float64(status))
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.HealthCheckStatus.WithLabelValues(component).Set(value)
}

// RecordError increments error counter
func (c *Metrics) RecordError(component, class string) {
	c.ErrorsTotal.WithLabelValues(component, class).Inc()
}

// RecordDeviceState updates the device state gauge
func (c *Metrics) RecordDeviceState(device string, state int) {
	c.DeviceState.WithLabelValues(device).Set(float64(state))
}

// RecordReading increments the readings counter
func (c *Metrics) RecordReading(device, status string) {
	c.ReadingsTotal.WithLabelValues(device, status).Inc()
}

// RecordReadingDropped increments the dropped readings counter
func (c *Metrics) RecordReadingDropped(device, queue string) {
	c.ReadingsDropped.WithLabelValues(device, queue).Inc()
}

// RecordPollDuration records one instrument query round trip
func (c *Metrics) RecordPollDuration(device string, duration time.Duration) {
	c.PollDuration.WithLabelValues(device).Observe(duration.Seconds())
}

// RecordFrame increments the assembled frame counter
func (c *Metrics) RecordFrame() {
	c.FramesTotal.Inc()
}

// RecordSessionActive updates the session gauge
func (c *Metrics) RecordSessionActive(active bool) {
	value := 0.0
	if active {
		value = 1.0
	}
	c.SessionActive.Set(value)
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSRTT updates NATS round-trip time
func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	c.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates circuit breaker status
func (c *Metrics) RecordCircuitBreakerState(state int) {
	c.NATSCircuitBreaker.Set(float64(state))
}
