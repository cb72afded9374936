// Package graph keeps a rolling time window of measured values per device,
// the series a live chart plots. Error cycles are not plotted; they show up
// in the table and export streams instead.
package graph

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/TaskforceCobra/instrument-contoller/device"
	"github.com/TaskforceCobra/instrument-contoller/engine"
	"github.com/TaskforceCobra/instrument-contoller/errors"
	"github.com/TaskforceCobra/instrument-contoller/pkg/timestamp"
	"github.com/TaskforceCobra/instrument-contoller/reading"
)

const (
	// DefaultWindow is the display window Series applies.
	DefaultWindow = 10 * time.Minute

	// DefaultMaxPoints caps how many points one device retains regardless
	// of window.
	DefaultMaxPoints = 1000
)

// Config bounds the per-device series.
type Config struct {
	// Window is the time span Series returns. Zero means DefaultWindow.
	Window time.Duration

	// MaxPoints is the hard per-device retention cap. Zero means
	// DefaultMaxPoints.
	MaxPoints int
}

func (c Config) withDefaults() Config {
	if c.Window == 0 {
		c.Window = DefaultWindow
	}
	if c.MaxPoints == 0 {
		c.MaxPoints = DefaultMaxPoints
	}
	return c
}

// Point is one plotted sample. Timestamp is Unix milliseconds.
type Point struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// Stats summarize everything a device currently retains, window ignored.
type Stats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
}

// Sink retains the rolling series. All methods are safe for concurrent use.
type Sink struct {
	mu     sync.RWMutex
	cfg    Config
	series map[string][]Point
}

var _ engine.Consumer = (*Sink)(nil)

// New returns an empty sink with the given bounds.
func New(cfg Config) (*Sink, error) {
	if cfg.Window < 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "graph.Sink", "New",
			fmt.Sprintf("negative window %v", cfg.Window))
	}
	if cfg.MaxPoints < 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "graph.Sink", "New",
			fmt.Sprintf("negative point cap %d", cfg.MaxPoints))
	}
	return &Sink{
		cfg:    cfg.withDefaults(),
		series: make(map[string][]Point),
	}, nil
}

// OnReading appends a successful reading to its device's series, shifting
// out the oldest point once the cap is reached.
func (s *Sink) OnReading(r reading.Reading) {
	if !r.OK() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pts := s.series[r.DeviceID]
	p := Point{Timestamp: r.Timestamp, Value: r.Value}
	if len(pts) >= s.cfg.MaxPoints {
		copy(pts, pts[len(pts)-s.cfg.MaxPoints+1:])
		pts = pts[:s.cfg.MaxPoints-1]
	}
	s.series[r.DeviceID] = append(pts, p)
}

// OnFrame is a no-op; the chart is driven by raw readings at full rate.
func (s *Sink) OnFrame(reading.Frame) {}

// OnDeviceStateChanged is a no-op. Gaps in a series already show where a
// device was away.
func (s *Sink) OnDeviceStateChanged(string, device.State, device.State) {}

// OnDroppedReadings is a no-op.
func (s *Sink) OnDroppedReadings(string, uint64) {}

// Series returns a copy of one device's points inside the configured
// window, oldest first.
func (s *Sink) Series(deviceID string) []Point {
	return s.SeriesSince(deviceID, timestamp.Now()-s.cfg.Window.Milliseconds())
}

// SeriesSince returns a copy of one device's points at or after the given
// Unix-millisecond cutoff. A cutoff of zero returns everything retained.
func (s *Sink) SeriesSince(deviceID string, since int64) []Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySince(s.series[deviceID], since)
}

// All returns the window-filtered series of every device.
func (s *Sink) All() map[string][]Point {
	cutoff := timestamp.Now() - s.cfg.Window.Milliseconds()

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]Point, len(s.series))
	for id, pts := range s.series {
		out[id] = copySince(pts, cutoff)
	}
	return out
}

// copySince copies the suffix of pts at or after the cutoff. Per-device
// timestamps are non-decreasing, so the suffix is a binary search away.
func copySince(pts []Point, since int64) []Point {
	idx := sort.Search(len(pts), func(i int) bool { return pts[i].Timestamp >= since })
	out := make([]Point, len(pts)-idx)
	copy(out, pts[idx:])
	return out
}

// Devices lists every device with at least one retained point, sorted.
func (s *Sink) Devices() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.series))
	for id := range s.series {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Stats computes aggregates over everything one device retains. An unknown
// device yields zero stats.
func (s *Sink) Stats(deviceID string) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pts := s.series[deviceID]
	if len(pts) == 0 {
		return Stats{}
	}

	st := Stats{Count: len(pts), Min: pts[0].Value, Max: pts[0].Value}
	var sum float64
	for _, p := range pts {
		sum += p.Value
		if p.Value < st.Min {
			st.Min = p.Value
		}
		if p.Value > st.Max {
			st.Max = p.Value
		}
	}
	st.Mean = sum / float64(len(pts))

	var sq float64
	for _, p := range pts {
		d := p.Value - st.Mean
		sq += d * d
	}
	st.Std = math.Sqrt(sq / float64(len(pts)))
	return st
}

// Clear drops one device's series.
func (s *Sink) Clear(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.series, deviceID)
}

// ClearAll drops every series.
func (s *Sink) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series = make(map[string][]Point)
}
