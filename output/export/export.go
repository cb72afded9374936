// Package export buffers the session's readings for the export
// collaborators: file encoders and the REST export surface. The store is a
// bounded ring, so a long-running session sheds its oldest readings rather
// than growing without limit.
//
// Reads are non-destructive; the same data can be exported to several
// formats in a row. Drain hands everything over in one consuming call for
// collaborators that want exactly-once hand-off.
package export

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/TaskforceCobra/instrument-contoller/device"
	"github.com/TaskforceCobra/instrument-contoller/engine"
	"github.com/TaskforceCobra/instrument-contoller/errors"
	"github.com/TaskforceCobra/instrument-contoller/metric"
	"github.com/TaskforceCobra/instrument-contoller/reading"
)

// DefaultCapacity bounds the store when the config leaves it zero.
const DefaultCapacity = 100000

// Config sizes the buffer.
type Config struct {
	// Capacity is the maximum number of retained readings. Zero means
	// DefaultCapacity.
	Capacity int
}

// Deps carries the buffer's dependencies.
type Deps struct {
	Config          Config
	MetricsRegistry *metric.MetricsRegistry // nil disables metrics
	Logger          *slog.Logger            // nil falls back to slog.Default
}

// Stats describes what the buffer currently holds.
type Stats struct {
	Total         int               `json:"total"`
	Capacity      int               `json:"capacity"`
	Dropped       uint64            `json:"dropped"`
	Devices       []string          `json:"devices,omitempty"`
	Functions     []string          `json:"functions,omitempty"`
	First         int64             `json:"first,omitempty"`
	Last          int64             `json:"last,omitempty"`
	PipelineDrops map[string]uint64 `json:"pipeline_drops,omitempty"`
}

// Buffer is the bounded reading store. All methods are safe for concurrent
// use.
type Buffer struct {
	logger *slog.Logger
	em     *exportMetrics

	mu       sync.RWMutex
	records  []reading.Reading // ring storage, grows up to capacity
	capacity int
	head     int // index of the oldest retained reading
	size     int
	dropped  uint64
	drops    map[string]uint64 // engine-reported pipeline drops
	warned   bool
}

var _ engine.Consumer = (*Buffer)(nil)

// New returns an empty buffer.
func New(deps Deps) (*Buffer, error) {
	cfg := deps.Config
	if cfg.Capacity < 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "export.Buffer", "New",
			fmt.Sprintf("negative capacity %d", cfg.Capacity))
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = DefaultCapacity
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	em, err := newExportMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, err
	}

	return &Buffer{
		logger:   logger.With("component", "export"),
		em:       em,
		capacity: cfg.Capacity,
		drops:    make(map[string]uint64),
	}, nil
}

// OnReading stores one reading, evicting the oldest when full.
func (b *Buffer) OnReading(r reading.Reading) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size < b.capacity {
		if len(b.records) < b.capacity {
			b.records = append(b.records, r)
		} else {
			b.records[(b.head+b.size)%b.capacity] = r
		}
		b.size++
	} else {
		b.records[b.head] = r
		b.head = (b.head + 1) % b.capacity
		b.dropped++
		b.em.recordEviction()
		if !b.warned {
			b.warned = true
			b.logger.Warn("export buffer full, evicting oldest readings",
				"capacity", b.capacity)
		}
	}
	b.em.setBuffered(b.size)
}

// OnFrame is a no-op; readings already arrive at full rate.
func (b *Buffer) OnFrame(reading.Frame) {}

// OnDeviceStateChanged is a no-op.
func (b *Buffer) OnDeviceStateChanged(string, device.State, device.State) {}

// OnDroppedReadings records the cumulative count of readings the pipeline
// lost upstream of this buffer.
func (b *Buffer) OnDroppedReadings(deviceID string, count uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drops[deviceID] = count
}

// Readings returns stored readings in arrival order without consuming
// them. An empty deviceID matches every device; a positive limit keeps
// only the newest matches.
func (b *Buffer) Readings(deviceID string, limit int) []reading.Reading {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]reading.Reading, 0, b.size)
	for i := 0; i < b.size; i++ {
		r := b.records[(b.head+i)%b.capacity]
		if deviceID != "" && r.DeviceID != deviceID {
			continue
		}
		out = append(out, r)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Drain removes and returns everything stored, in arrival order.
func (b *Buffer) Drain() []reading.Reading {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]reading.Reading, 0, b.size)
	for i := 0; i < b.size; i++ {
		out = append(out, b.records[(b.head+i)%b.capacity])
	}
	b.head, b.size = 0, 0
	b.em.setBuffered(0)
	return out
}

// Clear discards everything stored. The eviction counter survives; it is
// cumulative.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	cleared := b.size
	b.head, b.size = 0, 0
	b.warned = false
	b.em.setBuffered(0)
	b.logger.Info("export buffer cleared", "readings", cleared)
}

// Len returns the number of readings currently stored.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Capacity returns the store's bound.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Dropped returns how many readings this buffer evicted to stay within
// capacity.
func (b *Buffer) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Stats summarizes the buffer contents.
func (b *Buffer) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := Stats{
		Total:    b.size,
		Capacity: b.capacity,
		Dropped:  b.dropped,
	}

	devices := make(map[string]struct{})
	functions := make(map[string]struct{})
	for i := 0; i < b.size; i++ {
		r := b.records[(b.head+i)%b.capacity]
		devices[r.DeviceID] = struct{}{}
		functions[string(r.Function)] = struct{}{}
	}
	st.Devices = sortedKeys(devices)
	st.Functions = sortedKeys(functions)

	if b.size > 0 {
		st.First = b.records[b.head].Timestamp
		st.Last = b.records[(b.head+b.size-1)%b.capacity].Timestamp
	}

	if len(b.drops) > 0 {
		st.PipelineDrops = make(map[string]uint64, len(b.drops))
		for id, n := range b.drops {
			st.PipelineDrops[id] = n
		}
	}
	return st
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// exportMetrics tracks buffer occupancy and evictions. Nil-receiver safe.
type exportMetrics struct {
	buffered prometheus.Gauge
	evicted  prometheus.Counter
}

func newExportMetrics(registry *metric.MetricsRegistry) (*exportMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &exportMetrics{
		buffered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "instrumentd",
			Subsystem: "export",
			Name:      "buffered_readings",
			Help:      "Readings currently held in the export buffer",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "instrumentd",
			Subsystem: "export",
			Name:      "evicted_total",
			Help:      "Readings evicted from the export buffer to stay within capacity",
		}),
	}

	if err := registry.RegisterGauge("export", "buffered", m.buffered); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("export", "evicted", m.evicted); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *exportMetrics) setBuffered(n int) {
	if m == nil {
		return
	}
	m.buffered.Set(float64(n))
}

func (m *exportMetrics) recordEviction() {
	if m == nil {
		return
	}
	m.evicted.Inc()
}
