// Package table keeps the live operator view of a session: the latest
// reading per device plus running statistics, the rows a bench display
// renders. It is a passive consumer; the engine pushes, readers poll.
package table

import (
	"sort"
	"sync"

	"github.com/TaskforceCobra/instrument-contoller/device"
	"github.com/TaskforceCobra/instrument-contoller/engine"
	"github.com/TaskforceCobra/instrument-contoller/reading"
	"github.com/TaskforceCobra/instrument-contoller/scpi"
)

// Stats are running aggregates over one device's readings. Count covers
// every poll cycle, error cycles included; Min, Max, Mean, and Last are
// computed over successful readings only.
type Stats struct {
	Count  uint64  `json:"count"`
	Errors uint64  `json:"errors"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Last   float64 `json:"last"`
}

// Row is one device's line in the table. Value and Err mirror the latest
// reading whatever its outcome; Stale tracks whether the device met the
// most recent frame deadline.
type Row struct {
	DeviceID  string        `json:"device_id"`
	Label     string        `json:"label,omitempty"`
	Function  scpi.Function `json:"function,omitempty"`
	Unit      string        `json:"unit,omitempty"`
	Value     float64       `json:"value"`
	Err       string        `json:"error,omitempty"`
	Sequence  uint64        `json:"sequence"`
	Timestamp int64         `json:"timestamp"`
	State     device.State  `json:"state"`
	Stale     bool          `json:"stale"`
	Drops     uint64        `json:"drops,omitempty"`
	Stats     Stats         `json:"stats"`
}

// Sink accumulates the table state. The zero value is not usable; call New.
type Sink struct {
	mu         sync.RWMutex
	rows       map[string]*Row
	frameIndex uint64
}

var _ engine.Consumer = (*Sink)(nil)

// New returns an empty table.
func New() *Sink {
	return &Sink{rows: make(map[string]*Row)}
}

// row returns the named row, creating it on first sight. Callers hold mu.
func (s *Sink) row(deviceID string) *Row {
	r, ok := s.rows[deviceID]
	if !ok {
		r = &Row{DeviceID: deviceID}
		s.rows[deviceID] = r
	}
	return r
}

// OnReading folds one reading into its device's row and statistics.
func (s *Sink) OnReading(r reading.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.row(r.DeviceID)
	if r.Label != "" {
		row.Label = r.Label
	}
	row.Function = r.Function
	if r.Unit != "" {
		row.Unit = r.Unit
	}
	row.Value = r.Value
	row.Err = r.Err
	row.Sequence = r.Sequence
	row.Timestamp = r.Timestamp
	row.Stale = false

	st := &row.Stats
	st.Count++
	if !r.OK() {
		st.Errors++
		return
	}

	ok := st.Count - st.Errors
	if ok == 1 || r.Value < st.Min {
		st.Min = r.Value
	}
	if ok == 1 || r.Value > st.Max {
		st.Max = r.Value
	}
	st.Mean += (r.Value - st.Mean) / float64(ok)
	st.Last = r.Value
}

// OnFrame refreshes the stale flag of every device the frame covers. A
// device that produced nothing since the previous tick shows its last
// known value with Stale set.
func (s *Sink) OnFrame(f reading.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frameIndex = f.Index()
	for id, e := range f.Entries() {
		s.row(id).Stale = e.Stale
	}
}

// OnDeviceStateChanged records the device's new connection state.
func (s *Sink) OnDeviceStateChanged(deviceID string, _, to device.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.row(deviceID).State = to
}

// OnDroppedReadings records the cumulative pipeline drop count for one
// device.
func (s *Sink) OnDroppedReadings(deviceID string, count uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.row(deviceID).Drops = count
}

// Rows returns a copy of every row, sorted by device ID.
func (s *Sink) Rows() []Row {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Row, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Row returns a copy of one device's row and whether the device has been
// seen at all.
func (s *Sink) Row(deviceID string) (Row, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[deviceID]
	if !ok {
		return Row{}, false
	}
	return *r, true
}

// FrameIndex returns the index of the most recent frame folded in, zero
// before the first one.
func (s *Sink) FrameIndex() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frameIndex
}

// Reset drops every row and statistic, typically between sessions.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[string]*Row)
	s.frameIndex = 0
}
