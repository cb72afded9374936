// Package device runs one polling worker per registered multimeter.
//
// A Worker owns the transport connection for its device and walks the
// connection state machine: Connecting while the transport is opened and the
// instrument configured, Connected while polls succeed, Degraded after a
// failed poll, Offline once consecutive failures reach the retry limit or the
// instrument cannot be opened or configured, Stopped when the engine shuts
// the worker down. Readings and state changes leave the worker through a
// bounded drop-oldest queue, so a stalled consumer can never block the poll
// loop.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TaskforceCobra/instrument-contoller/component"
	"github.com/TaskforceCobra/instrument-contoller/errors"
	"github.com/TaskforceCobra/instrument-contoller/metric"
	"github.com/TaskforceCobra/instrument-contoller/pkg/buffer"
	"github.com/TaskforceCobra/instrument-contoller/pkg/timestamp"
	"github.com/TaskforceCobra/instrument-contoller/reading"
	"github.com/TaskforceCobra/instrument-contoller/scpi"
	"github.com/TaskforceCobra/instrument-contoller/transport"
)

// DefaultQueueCapacity is the outbound event queue size when Deps does not
// override it.
const DefaultQueueCapacity = 64

// EventKind discriminates worker events.
type EventKind int

const (
	// EventReading carries one measurement cycle's Reading.
	EventReading EventKind = iota

	// EventStateChange carries a state machine transition.
	EventStateChange
)

// Event is one item on a worker's outbound queue, either a reading or a
// state transition. Events for one device arrive in emission order.
type Event struct {
	Kind     EventKind
	DeviceID string

	// Reading is set for EventReading.
	Reading reading.Reading

	// From and To are set for EventStateChange.
	From State
	To   State
}

// Deps holds runtime dependencies for a device worker.
type Deps struct {
	Config     Config
	Transports *transport.Registry

	// Epoch anchors the monotonic timestamp on readings. Workers of one
	// session share an epoch so their readings order across devices. Zero
	// means the worker's own start time.
	Epoch time.Time

	// QueueCapacity bounds the outbound event queue, 0 for the default.
	QueueCapacity int

	// MetricsRegistry may be nil to disable Prometheus metrics.
	MetricsRegistry *metric.MetricsRegistry

	Logger *slog.Logger
}

// Worker polls one multimeter over its own transport connection.
type Worker struct {
	cfg        Config // mu guards Function and Range, the rest is fixed
	transports *transport.Registry
	logger     *slog.Logger
	metrics    *metric.Metrics
	epoch      time.Time

	out  buffer.Buffer[Event]
	wake chan struct{}

	// Lifecycle management
	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.RWMutex

	state    atomic.Int32
	failures atomic.Int32

	// Poll goroutine only
	seq        uint64
	configured scpi.Function
	query      string

	identity    string
	lastReading *reading.Reading

	polls      atomic.Int64
	pollErrors atomic.Int64
	dropped    atomic.Uint64
	lastError  atomic.Value // string
}

var _ component.LifecycleComponent = (*Worker)(nil)

// New creates a worker for one device. The config is validated here so a
// malformed device never reaches the bus.
func New(deps Deps) (*Worker, error) {
	cfg := deps.Config.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Transports == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil transport registry"),
			"DeviceWorker", "New", "dependency validation")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("device_id", cfg.ID)

	capacity := deps.QueueCapacity
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}

	var core *metric.Metrics
	if deps.MetricsRegistry != nil {
		core = deps.MetricsRegistry.CoreMetrics()
	}

	w := &Worker{
		cfg:        cfg,
		transports: deps.Transports,
		logger:     logger,
		metrics:    core,
		epoch:      deps.Epoch,
		wake:       make(chan struct{}, 1),
		startTime:  time.Now(),
	}
	w.state.Store(int32(Disconnected))
	w.lastError.Store("")

	// Queue overflow falls to drop-oldest; drops surface on the counter the
	// engine polls for consumer notification.
	out, err := buffer.NewCircularBuffer(capacity,
		buffer.WithOverflowPolicy[Event](buffer.DropOldest),
		buffer.WithDropCallback[Event](func(Event) {
			w.dropped.Add(1)
			if w.metrics != nil {
				w.metrics.RecordReadingDropped(w.cfg.ID, "worker")
			}
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "DeviceWorker", "New", "queue creation")
	}
	w.out = out

	return w, nil
}

// Name returns the component name used in logs and health reporting.
func (w *Worker) Name() string {
	return "device:" + w.cfg.ID
}

// ID returns the device identifier.
func (w *Worker) ID() string {
	return w.cfg.ID
}

// Initialize re-checks the configuration before the worker starts.
func (w *Worker) Initialize() error {
	return w.cfg.Validate()
}

// Start opens the device and begins polling. It is idempotent while running.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running.Load() {
		return nil
	}

	w.shutdown = make(chan struct{})
	w.done = make(chan struct{})
	w.startTime = time.Now()
	if w.epoch.IsZero() {
		w.epoch = w.startTime
	}
	w.running.Store(true)

	go w.run(ctx)
	return nil
}

// Stop halts polling and closes the transport. A poll blocked on the
// instrument finishes within one read timeout; past the given timeout the
// poll goroutine is abandoned and an error returned.
func (w *Worker) Stop(timeout time.Duration) error {
	if !w.running.Load() {
		// The poll goroutine already exited (or never ran). Pin down the
		// terminal state for workers that went offline on their own.
		if st := w.State(); st != Stopped && st != Disconnected {
			w.setState(Stopped)
		}
		return nil
	}

	w.mu.Lock()
	if w.shutdown != nil {
		select {
		case <-w.shutdown:
		default:
			close(w.shutdown)
		}
	}
	done := w.done
	w.mu.Unlock()

	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"DeviceWorker", "Stop", "graceful shutdown")
	}

	if w.State() != Stopped {
		w.setState(Stopped)
	}
	return nil
}

// State returns the current connection state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// DroppedTotal returns the cumulative count of events lost to queue
// overflow.
func (w *Worker) DroppedTotal() uint64 {
	return w.dropped.Load()
}

// Wake signals that the outbound queue has items. The channel holds at most
// one pending signal; receivers drain the queue until empty on each receive.
func (w *Worker) Wake() <-chan struct{} {
	return w.wake
}

// Drain pops up to max queued events in emission order.
func (w *Worker) Drain(max int) []Event {
	return w.out.ReadBatch(max)
}

// SetFunction switches the measurement function and range for subsequent
// polls. The new configuration commands go out at the top of the next cycle;
// readings already queued keep the old function.
func (w *Worker) SetFunction(fn scpi.Function, rng string) error {
	if _, err := scpi.BuildSequenceWithRange(fn, rng); err != nil {
		return err
	}
	w.mu.Lock()
	w.cfg.Function = fn
	w.cfg.Range = rng
	w.mu.Unlock()
	w.logger.Info("measurement function changed", "function", fn.String(), "range", rng)
	return nil
}

// Status is a point-in-time snapshot of one worker.
type Status struct {
	ID          string           `json:"id"`
	Label       string           `json:"label,omitempty"`
	Address     string           `json:"address"`
	Function    scpi.Function    `json:"function"`
	Range       string           `json:"range,omitempty"`
	Enabled     bool             `json:"enabled"`
	State       State            `json:"state"`
	Failures    int              `json:"consecutive_failures"`
	Identity    string           `json:"identity,omitempty"`
	LastReading *reading.Reading `json:"last_reading,omitempty"`
	Dropped     uint64           `json:"dropped_readings,omitempty"`
}

// Status reports the worker's current state, configuration, and last
// reading.
func (w *Worker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()

	st := Status{
		ID:       w.cfg.ID,
		Label:    w.cfg.Label,
		Address:  w.cfg.Address,
		Function: w.cfg.Function,
		Range:    w.cfg.Range,
		Enabled:  w.cfg.Enabled,
		State:    w.State(),
		Failures: int(w.failures.Load()),
		Identity: w.identity,
		Dropped:  w.dropped.Load(),
	}
	if w.lastReading != nil {
		r := *w.lastReading
		st.LastReading = &r
	}
	return st
}

// Health reports worker health. A device is healthy while it produces
// readings, degraded included.
func (w *Worker) Health() component.HealthStatus {
	w.mu.RLock()
	started := w.startTime
	w.mu.RUnlock()

	st := w.State()
	lastErr, _ := w.lastError.Load().(string)

	return component.HealthStatus{
		Healthy:    st == Connected || st == Degraded,
		LastCheck:  time.Now(),
		ErrorCount: int(w.pollErrors.Load()),
		LastError:  lastErr,
		Uptime:     time.Since(started),
	}
}

// run drives the state machine for one connection. It owns the transport:
// every exit path releases it exactly once via the deferred close.
func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	defer w.running.Store(false)

	w.setState(Connecting)

	conn, err := w.transports.Open(ctx, w.cfg.Address)
	if err != nil {
		w.failConnect(ctx, err, "device unreachable")
		return
	}
	defer func() { _ = conn.Close() }()

	w.mu.RLock()
	fn, rng := w.cfg.Function, w.cfg.Range
	w.mu.RUnlock()

	if err := w.applyConfig(ctx, conn, fn, rng); err != nil {
		w.failConnect(ctx, err, "device rejected configuration")
		return
	}

	w.identify(ctx, conn)

	if w.stopping(ctx) {
		w.setState(Stopped)
		return
	}

	w.setState(Connected)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	// The first cycle runs immediately; the ticker spaces the rest. A cycle
	// that overruns the cadence delays the next poll rather than overlapping
	// it.
	for {
		next := w.pollOnce(ctx, conn)
		w.setState(next)
		if next.Terminal() {
			return
		}
		select {
		case <-ctx.Done():
			w.setState(Stopped)
			return
		case <-w.shutdown:
			w.setState(Stopped)
			return
		case <-ticker.C:
		}
	}
}

// failConnect reports a failure during connect or configure. The device goes
// offline with a final error reading, unless the worker was being stopped
// anyway.
func (w *Worker) failConnect(ctx context.Context, err error, msg string) {
	if w.stopping(ctx) {
		w.setState(Stopped)
		return
	}

	w.recordError(err)
	w.logger.Error(msg, "address", w.cfg.Address, "error", err)

	w.mu.RLock()
	fn, label := w.cfg.Function, w.cfg.Label
	w.mu.RUnlock()

	w.emitReading(w.nextReading(fn, label, 0, err))
	w.setState(Offline)
}

// pollOnce runs one measurement cycle and returns the state the worker
// settles in afterwards. Every completed cycle emits exactly one reading.
func (w *Worker) pollOnce(ctx context.Context, conn transport.Conn) State {
	w.mu.RLock()
	fn, rng, label := w.cfg.Function, w.cfg.Range, w.cfg.Label
	readTimeout := w.cfg.ReadTimeout
	retryLimit := w.cfg.RetryLimit
	w.mu.RUnlock()

	start := time.Now()
	value, err := w.measure(ctx, conn, fn, rng, readTimeout)

	w.polls.Add(1)
	if w.metrics != nil {
		w.metrics.RecordPollDuration(w.cfg.ID, time.Since(start))
	}

	if err != nil {
		if w.stopping(ctx) {
			return Stopped
		}
		w.pollErrors.Add(1)
		w.recordError(err)
		failures := int(w.failures.Add(1))
		w.emitReading(w.nextReading(fn, label, 0, err))
		if failures >= retryLimit {
			w.logger.Error("device offline after repeated poll failures",
				"failures", failures, "error", err)
			return Offline
		}
		w.logger.Warn("poll failed", "failures", failures, "error", err)
		return Degraded
	}

	w.failures.Store(0)
	w.emitReading(w.nextReading(fn, label, value, nil))
	return Connected
}

// measure runs one query round trip, re-sending configuration first if the
// measurement function changed since the previous cycle.
func (w *Worker) measure(ctx context.Context, conn transport.Conn, fn scpi.Function, rng string, readTimeout time.Duration) (float64, error) {
	if fn != w.configured {
		if err := w.applyConfig(ctx, conn, fn, rng); err != nil {
			return 0, err
		}
	}
	if err := conn.Write(ctx, w.query); err != nil {
		return 0, err
	}
	raw, err := conn.Read(ctx, readTimeout)
	if err != nil {
		return 0, err
	}
	return scpi.ParseResponse(raw)
}

// applyConfig sends the configuration commands for a measurement function
// and remembers it, so steady polling never repeats them.
func (w *Worker) applyConfig(ctx context.Context, conn transport.Conn, fn scpi.Function, rng string) error {
	seq, err := scpi.BuildSequenceWithRange(fn, rng)
	if err != nil {
		return err
	}
	for _, cmd := range seq.Config {
		if err := conn.Write(ctx, cmd); err != nil {
			return err
		}
	}
	w.configured = fn
	w.query = seq.Query
	return nil
}

// identify asks the instrument for its *IDN? string. Identification is best
// effort; instruments that do not answer it still measure.
func (w *Worker) identify(ctx context.Context, conn transport.Conn) {
	if err := conn.Write(ctx, scpi.CmdIdentify); err != nil {
		w.logger.Warn("identification query failed", "error", err)
		return
	}
	raw, err := conn.Read(ctx, w.cfg.ReadTimeout)
	if err != nil {
		w.logger.Warn("instrument did not identify", "error", err)
		return
	}

	identity := strings.TrimSpace(raw)
	w.mu.Lock()
	w.identity = identity
	w.mu.Unlock()
	w.logger.Info("instrument identified", "identity", identity)
}

// nextReading stamps the next sequence number and both clocks on a fresh
// reading. Error cycles consume sequence numbers too, keeping the per-device
// sequence gap-free.
func (w *Worker) nextReading(fn scpi.Function, label string, value float64, pollErr error) reading.Reading {
	w.seq++
	r := reading.Reading{
		DeviceID:  w.cfg.ID,
		Label:     label,
		Function:  fn,
		Value:     value,
		Unit:      scpi.UnitFor(fn),
		Sequence:  w.seq,
		Timestamp: timestamp.Now(),
		Monotonic: time.Since(w.epoch).Nanoseconds(),
	}
	if pollErr != nil {
		r.Err = pollErr.Error()
	}
	return r
}

func (w *Worker) emitReading(r reading.Reading) {
	w.mu.Lock()
	w.lastReading = &r
	w.mu.Unlock()

	if w.metrics != nil {
		w.metrics.RecordReading(w.cfg.ID, r.Status())
	}
	w.emit(Event{Kind: EventReading, DeviceID: w.cfg.ID, Reading: r})
}

// emit enqueues an event without ever blocking the poll loop. Overflow falls
// to the drop-oldest policy and the drop counter.
func (w *Worker) emit(ev Event) {
	if err := w.out.Write(ev); err != nil {
		return
	}
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// setState applies a state transition, records it, and notifies the engine.
// Same-state calls are no-ops.
func (w *Worker) setState(to State) {
	old := State(w.state.Swap(int32(to)))
	if old == to {
		return
	}
	if !old.CanTransitionTo(to) {
		w.logger.Error("illegal device state transition",
			"from", old.String(), "to", to.String())
	}

	if w.metrics != nil {
		w.metrics.RecordDeviceState(w.cfg.ID, int(to))
	}
	w.logger.Info("device state changed", "from", old.String(), "to", to.String())
	w.emit(Event{Kind: EventStateChange, DeviceID: w.cfg.ID, From: old, To: to})
}

// stopping reports whether shutdown was requested, either through the
// session context or through Stop.
func (w *Worker) stopping(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-w.shutdown:
		return true
	default:
		return false
	}
}

func (w *Worker) recordError(err error) {
	w.lastError.Store(err.Error())
}
