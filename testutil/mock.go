// Package testutil provides test doubles for the acquisition stack: a
// scripted instrument connection, a transport opener that counts opens and
// closes, a recording consumer, and device config builders. No package here
// is imported by production code.
package testutil

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/TaskforceCobra/instrument-contoller/device"
	"github.com/TaskforceCobra/instrument-contoller/engine"
	"github.com/TaskforceCobra/instrument-contoller/errors"
	"github.com/TaskforceCobra/instrument-contoller/reading"
	"github.com/TaskforceCobra/instrument-contoller/scpi"
	"github.com/TaskforceCobra/instrument-contoller/transport"
)

// SchemeBench is the transport scheme served by BenchOpener.
const SchemeBench = "bench"

// BenchConn is a scripted SCPI connection. With no hooks set it behaves like
// a well-mannered instrument: configuration commands are swallowed, *IDN?
// answers Identity, measurement queries answer Value. Hooks replace the
// default behavior per operation.
type BenchConn struct {
	// WriteFunc, when set, handles every Write instead of the default.
	// The command is recorded either way.
	WriteFunc func(ctx context.Context, cmd string) error

	// ReadFunc, when set, handles every Read instead of the default.
	ReadFunc func(ctx context.Context, timeout time.Duration) (string, error)

	// Identity is the *IDN? reply.
	Identity string

	// Value is the reply to measurement queries.
	Value float64

	mu         sync.Mutex
	writes     []string
	pending    []string
	closeCalls int
	closed     bool
}

// Write records the command and, for queries, queues the default reply.
func (c *BenchConn) Write(ctx context.Context, cmd string) error {
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "BenchConn", "Write", "context check")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.WrapTransient(errors.ErrConnection, "BenchConn", "Write", "connection closed")
	}
	cmd = strings.TrimSpace(cmd)
	c.writes = append(c.writes, cmd)
	c.mu.Unlock()

	if c.WriteFunc != nil {
		return c.WriteFunc(ctx, cmd)
	}
	if !scpi.IsQuery(cmd) {
		return nil
	}

	var reply string
	switch {
	case strings.EqualFold(cmd, scpi.CmdIdentify):
		reply = c.Identity
	case strings.HasPrefix(strings.ToUpper(cmd), "MEAS:"):
		reply = fmt.Sprintf("%+.8E", c.Value)
	default:
		reply = "0"
	}

	c.mu.Lock()
	c.pending = append(c.pending, reply)
	c.mu.Unlock()
	return nil
}

// Read pops the next queued reply. An empty queue fails immediately with a
// timeout classification so tests never wait out real instrument timeouts.
func (c *BenchConn) Read(ctx context.Context, timeout time.Duration) (string, error) {
	if c.ReadFunc != nil {
		return c.ReadFunc(ctx, timeout)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", errors.WrapTransient(errors.ErrConnection, "BenchConn", "Read", "connection closed")
	}
	if len(c.pending) == 0 {
		return "", errors.WrapTransient(errors.ErrTimeout, "BenchConn", "Read",
			fmt.Sprintf("no response within %v", timeout))
	}
	reply := c.pending[0]
	c.pending = c.pending[1:]
	return reply, nil
}

// Close counts calls; the first one marks the connection closed.
func (c *BenchConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
	c.closed = true
	return nil
}

// Writes returns every command written so far.
func (c *BenchConn) Writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.writes))
	copy(out, c.writes)
	return out
}

// CloseCalls returns how many times Close was called.
func (c *BenchConn) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}

// BenchOpener serves bench:// addresses with BenchConn doubles and keeps
// every connection it handed out for later inspection.
type BenchOpener struct {
	// OpenFunc, when set, handles every Open instead of the default.
	// The open is counted either way.
	OpenFunc func(ctx context.Context, address string) (transport.Conn, error)

	// ConnSetup, when set, runs on each default-built connection before it
	// is returned, so tests can seed values and hooks per address.
	ConnSetup func(address string, c *BenchConn)

	mu    sync.Mutex
	conns map[string][]*BenchConn
	opens map[string]int
}

// NewBenchOpener creates an opener with no scripted failures.
func NewBenchOpener() *BenchOpener {
	return &BenchOpener{
		conns: make(map[string][]*BenchConn),
		opens: make(map[string]int),
	}
}

// Open builds a connection for the address.
func (o *BenchOpener) Open(ctx context.Context, address string) (transport.Conn, error) {
	o.mu.Lock()
	o.opens[address]++
	o.mu.Unlock()

	if o.OpenFunc != nil {
		return o.OpenFunc(ctx, address)
	}

	name := address
	if u, err := url.Parse(address); err == nil && u.Host != "" {
		name = u.Host
	}
	c := &BenchConn{
		Identity: fmt.Sprintf("BenchFake,BF-1000,%s,0.1", name),
		Value:    1.0,
	}
	if o.ConnSetup != nil {
		o.ConnSetup(address, c)
	}

	o.mu.Lock()
	o.conns[address] = append(o.conns[address], c)
	o.mu.Unlock()
	return c, nil
}

// Opens returns how many times the address was opened.
func (o *BenchOpener) Opens(address string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens[address]
}

// Conns returns every connection handed out for the address.
func (o *BenchOpener) Conns(address string) []*BenchConn {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*BenchConn, len(o.conns[address]))
	copy(out, o.conns[address])
	return out
}

// CloseTotal sums Close calls across the address's connections.
func (o *BenchOpener) CloseTotal(address string) int {
	total := 0
	for _, c := range o.Conns(address) {
		total += c.CloseCalls()
	}
	return total
}

// LeakedConns returns connections that were never closed, across all
// addresses. Empty after a clean shutdown.
func (o *BenchOpener) LeakedConns() []*BenchConn {
	o.mu.Lock()
	defer o.mu.Unlock()
	var leaked []*BenchConn
	for _, conns := range o.conns {
		for _, c := range conns {
			if c.CloseCalls() == 0 {
				leaked = append(leaked, c)
			}
		}
	}
	return leaked
}

// Registry returns a transport registry with this opener bound to bench://.
func (o *BenchOpener) Registry() *transport.Registry {
	r := transport.NewRegistry()
	if err := r.Register(SchemeBench, o); err != nil {
		panic(err)
	}
	return r
}

// StateChange is one device state transition seen by RecordingConsumer.
type StateChange struct {
	DeviceID string
	From     device.State
	To       device.State
}

// RecordingConsumer implements engine.Consumer and keeps everything it sees.
type RecordingConsumer struct {
	mu       sync.Mutex
	readings []reading.Reading
	frames   []reading.Frame
	states   []StateChange
	drops    map[string]uint64
}

var _ engine.Consumer = (*RecordingConsumer)(nil)

// NewRecordingConsumer creates an empty recorder.
func NewRecordingConsumer() *RecordingConsumer {
	return &RecordingConsumer{drops: make(map[string]uint64)}
}

// OnReading records the reading.
func (rc *RecordingConsumer) OnReading(r reading.Reading) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.readings = append(rc.readings, r)
}

// OnFrame records the frame.
func (rc *RecordingConsumer) OnFrame(f reading.Frame) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.frames = append(rc.frames, f)
}

// OnDeviceStateChanged records the transition.
func (rc *RecordingConsumer) OnDeviceStateChanged(deviceID string, from, to device.State) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.states = append(rc.states, StateChange{DeviceID: deviceID, From: from, To: to})
}

// OnDroppedReadings records the cumulative drop count.
func (rc *RecordingConsumer) OnDroppedReadings(deviceID string, count uint64) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.drops[deviceID] = count
}

// Readings returns a copy of the recorded readings.
func (rc *RecordingConsumer) Readings() []reading.Reading {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]reading.Reading, len(rc.readings))
	copy(out, rc.readings)
	return out
}

// ReadingsFor filters recorded readings by device.
func (rc *RecordingConsumer) ReadingsFor(deviceID string) []reading.Reading {
	var out []reading.Reading
	for _, r := range rc.Readings() {
		if r.DeviceID == deviceID {
			out = append(out, r)
		}
	}
	return out
}

// Frames returns a copy of the recorded frames.
func (rc *RecordingConsumer) Frames() []reading.Frame {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]reading.Frame, len(rc.frames))
	copy(out, rc.frames)
	return out
}

// States returns a copy of the recorded transitions.
func (rc *RecordingConsumer) States() []StateChange {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]StateChange, len(rc.states))
	copy(out, rc.states)
	return out
}

// StatesFor filters recorded transitions by device.
func (rc *RecordingConsumer) StatesFor(deviceID string) []StateChange {
	var out []StateChange
	for _, sc := range rc.States() {
		if sc.DeviceID == deviceID {
			out = append(out, sc)
		}
	}
	return out
}

// Drops returns the last cumulative drop count seen per device.
func (rc *RecordingConsumer) Drops() map[string]uint64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make(map[string]uint64, len(rc.drops))
	for k, v := range rc.drops {
		out[k] = v
	}
	return out
}

// FrameCount returns how many frames were recorded.
func (rc *RecordingConsumer) FrameCount() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.frames)
}

// ReadingCount returns how many readings were recorded.
func (rc *RecordingConsumer) ReadingCount() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.readings)
}

// BenchDevice builds a fast-cadence device config on the bench:// scheme,
// enabled, measuring DC voltage on auto range.
func BenchDevice(id string) device.Config {
	return device.Config{
		ID:           id,
		Label:        "bench " + id,
		Address:      fmt.Sprintf("%s://%s", SchemeBench, id),
		Function:     scpi.DCVoltage,
		Range:        scpi.RangeAuto,
		PollInterval: 5 * time.Millisecond,
		ReadTimeout:  50 * time.Millisecond,
		RetryLimit:   3,
		Enabled:      true,
	}
}
