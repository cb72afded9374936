package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/TaskforceCobra/instrument-contoller/metric"
)

// engineMetrics holds Prometheus metrics for session, scan, and manual
// command operations. All record methods are nil-receiver safe so callers
// never branch on whether metrics are enabled.
type engineMetrics struct {
	sessions        *prometheus.CounterVec // by status (started/completed/failed_start)
	sessionDuration prometheus.Histogram
	sessionDevices  prometheus.Gauge

	staleEntries *prometheus.CounterVec // by device_id

	scanProbes *prometheus.CounterVec // by outcome (probed/cached/error)
	commands   *prometheus.CounterVec // by status (ok/error)
}

// newEngineMetrics creates and registers engine metrics with the provided
// registry. A nil registry disables metrics.
func newEngineMetrics(registry *metric.MetricsRegistry) (*engineMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &engineMetrics{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "instrumentd",
			Subsystem: "session",
			Name:      "events_total",
			Help:      "Total number of session lifecycle events",
		}, []string{"status"}),

		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "instrumentd",
			Subsystem: "session",
			Name:      "duration_seconds",
			Help:      "Completed acquisition session duration in seconds",
			Buckets:   []float64{1, 10, 60, 600, 3600, 14400},
		}),

		sessionDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "instrumentd",
			Subsystem: "session",
			Name:      "devices",
			Help:      "Number of devices in the active session",
		}),

		staleEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "instrumentd",
			Subsystem: "frame",
			Name:      "stale_entries_total",
			Help:      "Frame entries filled with a stale marker instead of a fresh reading",
		}, []string{"device_id"}),

		scanProbes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "instrumentd",
			Subsystem: "scan",
			Name:      "probes_total",
			Help:      "Total number of bus scan probe outcomes",
		}, []string{"outcome"}),

		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "instrumentd",
			Subsystem: "command",
			Name:      "sent_total",
			Help:      "Total number of manual SCPI commands",
		}, []string{"status"}),
	}

	if err := registry.RegisterCounterVec("session", "events", m.sessions); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("session", "duration", m.sessionDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("session", "devices", m.sessionDevices); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("frame", "stale_entries", m.staleEntries); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("scan", "probes", m.scanProbes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("command", "sent", m.commands); err != nil {
		return nil, err
	}

	return m, nil
}

// recordSessionStart records a session start with its device count.
func (m *engineMetrics) recordSessionStart(devices int) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues("started").Inc()
	m.sessionDevices.Set(float64(devices))
}

// recordSessionStartFailure records a StartSession that did not produce a
// running session.
func (m *engineMetrics) recordSessionStartFailure() {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues("failed_start").Inc()
}

// recordSessionStop records a completed session and its duration.
func (m *engineMetrics) recordSessionStop(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues("completed").Inc()
	m.sessionDuration.Observe(elapsed.Seconds())
	m.sessionDevices.Set(0)
}

// recordStaleEntry counts a frame slot that got a stale marker.
func (m *engineMetrics) recordStaleEntry(deviceID string) {
	if m == nil {
		return
	}
	m.staleEntries.WithLabelValues(deviceID).Inc()
}

// recordScanProbe counts one probe outcome: probed, cached, or error.
func (m *engineMetrics) recordScanProbe(outcome string) {
	if m == nil {
		return
	}
	m.scanProbes.WithLabelValues(outcome).Inc()
}

// recordCommand counts a manual command by result.
func (m *engineMetrics) recordCommand(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.commands.WithLabelValues(status).Inc()
}
