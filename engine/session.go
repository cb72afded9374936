package engine

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/TaskforceCobra/instrument-contoller/device"
	"github.com/TaskforceCobra/instrument-contoller/reading"
)

// Session records one acquisition run. StoppedAt stays zero while the
// session is active.
type Session struct {
	ID        string   `json:"id"`
	StartedAt int64    `json:"started_at"`
	StoppedAt int64    `json:"stopped_at,omitempty"`
	DeviceIDs []string `json:"device_ids"`
}

// Active reports whether the session is still running.
func (s Session) Active() bool {
	return s.StoppedAt == 0
}

// activeSession is the runtime behind one Session: the worker set, the
// supervision group, and the frame assembly state. The device config
// snapshot taken at start is immutable for the session lifetime.
type activeSession struct {
	record  Session
	configs map[string]device.Config
	workers map[string]*device.Worker
	order   []string // device IDs in deterministic frame order

	cancel context.CancelFunc
	group  *errgroup.Group

	// latest holds the freshest reading per device since the previous tick.
	// Collectors write, the tick loop swaps it out whole.
	latestMu sync.Mutex
	latest   map[string]reading.Reading

	// Tick loop only.
	frameIndex uint64
	dropsSeen  map[string]uint64
}

func (s *activeSession) putLatest(r reading.Reading) {
	s.latestMu.Lock()
	s.latest[r.DeviceID] = r
	s.latestMu.Unlock()
}

// takeLatest returns everything accumulated since the previous call and
// resets the window, so no reading ever lands in two frames.
func (s *activeSession) takeLatest() map[string]reading.Reading {
	s.latestMu.Lock()
	taken := s.latest
	s.latest = make(map[string]reading.Reading, len(s.order))
	s.latestMu.Unlock()
	return taken
}
