package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/TaskforceCobra/instrument-contoller/component"
	"github.com/TaskforceCobra/instrument-contoller/device"
	"github.com/TaskforceCobra/instrument-contoller/errors"
	"github.com/TaskforceCobra/instrument-contoller/metric"
	"github.com/TaskforceCobra/instrument-contoller/pkg/cache"
	"github.com/TaskforceCobra/instrument-contoller/pkg/timestamp"
	"github.com/TaskforceCobra/instrument-contoller/pkg/worker"
	"github.com/TaskforceCobra/instrument-contoller/reading"
	"github.com/TaskforceCobra/instrument-contoller/transport"
)

// Defaults for engine settings left unset.
const (
	DefaultEngineID        = "bench"
	DefaultFrameTick       = time.Second
	DefaultShutdownTimeout = 5 * time.Second
	DefaultWorkerQueue     = 64
	DefaultConsumerQueue   = 256
	DefaultScanWorkers     = 4
	DefaultScanCacheTTL    = 30 * time.Second
)

// Config holds coordinator settings.
type Config struct {
	// ID names this engine in logs and NATS subjects.
	ID string

	// FrameTick is the frame assembly cadence.
	FrameTick time.Duration

	// ShutdownTimeout bounds the wait for workers when a session stops.
	ShutdownTimeout time.Duration

	// WorkerQueue is the per-worker outbound queue capacity.
	WorkerQueue int

	// ConsumerQueue is the per-consumer dispatch queue capacity.
	ConsumerQueue int

	// ScanWorkers sizes the bus scan probe pool.
	ScanWorkers int

	// ScanCacheTTL is how long probed identities stay cached.
	ScanCacheTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.ID == "" {
		c.ID = DefaultEngineID
	}
	if c.FrameTick <= 0 {
		c.FrameTick = DefaultFrameTick
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.WorkerQueue <= 0 {
		c.WorkerQueue = DefaultWorkerQueue
	}
	if c.ConsumerQueue <= 0 {
		c.ConsumerQueue = DefaultConsumerQueue
	}
	if c.ScanWorkers <= 0 {
		c.ScanWorkers = DefaultScanWorkers
	}
	if c.ScanCacheTTL <= 0 {
		c.ScanCacheTTL = DefaultScanCacheTTL
	}
	return c
}

// Deps holds runtime dependencies for the engine.
type Deps struct {
	Config     Config
	Transports *transport.Registry

	// MetricsRegistry may be nil to disable Prometheus metrics.
	MetricsRegistry *metric.MetricsRegistry

	Logger *slog.Logger
}

// Engine is the acquisition coordinator.
type Engine struct {
	cfg        Config
	transports *transport.Registry
	registry   *metric.MetricsRegistry
	metrics    *metric.Metrics
	em         *engineMetrics
	logger     *slog.Logger

	consumers *consumerSet

	mu           sync.RWMutex
	devices      map[string]device.Config
	session      *activeSession
	lastSession  *Session
	lastStatuses map[string]device.Status

	rootCtx    context.Context
	rootCancel context.CancelFunc
	scanCache  cache.Cache[string]
	scanPool   *worker.Pool[scanJob]

	running   atomic.Bool
	startTime time.Time

	readingsTotal atomic.Int64
	framesTotal   atomic.Int64
	faults        atomic.Int64
	lastError     atomic.Value // string
}

var _ component.LifecycleComponent = (*Engine)(nil)

// New creates an engine. Devices and consumers are registered afterwards.
func New(deps Deps) (*Engine, error) {
	if deps.Transports == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil transport registry"),
			"Engine", "New", "dependency validation")
	}

	cfg := deps.Config.withDefaults()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "engine")

	var core *metric.Metrics
	if deps.MetricsRegistry != nil {
		core = deps.MetricsRegistry.CoreMetrics()
	}

	em, err := newEngineMetrics(deps.MetricsRegistry)
	if err != nil {
		logger.Error("engine metrics initialization failed", "error", err)
		em = nil
	}

	e := &Engine{
		cfg:          cfg,
		transports:   deps.Transports,
		registry:     deps.MetricsRegistry,
		metrics:      core,
		em:           em,
		logger:       logger,
		consumers:    newConsumerSet(cfg.ConsumerQueue, logger, core),
		devices:      make(map[string]device.Config),
		lastStatuses: make(map[string]device.Status),
		startTime:    time.Now(),
	}
	e.lastError.Store("")
	return e, nil
}

// Name returns the component name.
func (e *Engine) Name() string {
	return "engine"
}

// Initialize validates the engine configuration.
func (e *Engine) Initialize() error {
	if e.cfg.FrameTick < 10*time.Millisecond {
		return errors.WrapInvalid(fmt.Errorf("frame tick %v too small", e.cfg.FrameTick),
			"Engine", "Initialize", "cadence validation")
	}
	return nil
}

// Start brings up the scan pool and identity cache. Sessions derive their
// lifetime from the context given here, not from the StartSession call.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running.Load() {
		return nil
	}

	e.rootCtx, e.rootCancel = context.WithCancel(ctx)

	scanCache, err := cache.NewTTL(e.rootCtx, e.cfg.ScanCacheTTL, e.cfg.ScanCacheTTL,
		cache.WithMetrics[string](e.registry, "scan_identity"))
	if err != nil {
		e.rootCancel()
		return errors.Wrap(err, "Engine", "Start", "scan cache creation")
	}
	e.scanCache = scanCache

	e.scanPool = worker.NewPool(e.cfg.ScanWorkers, scanQueueCapacity, e.runProbe,
		worker.WithMetricsRegistry[scanJob](e.registry, "bus_scan"))
	if err := e.scanPool.Start(e.rootCtx); err != nil {
		e.rootCancel()
		_ = scanCache.Close()
		return errors.Wrap(err, "Engine", "Start", "scan pool start")
	}

	e.running.Store(true)
	e.startTime = time.Now()
	e.logger.Info("engine started", "engine_id", e.cfg.ID)
	return nil
}

// Stop ends any active session, then shuts down the scan pool, the identity
// cache, and all consumer dispatchers.
func (e *Engine) Stop(timeout time.Duration) error {
	if !e.running.Load() {
		return nil
	}
	e.running.Store(false)

	if _, err := e.StopSession(context.Background()); err != nil &&
		!stderrors.Is(err, errors.ErrSessionNotRunning) {
		e.logger.Error("session stop during engine shutdown", "error", err)
	}

	e.mu.Lock()
	if e.rootCancel != nil {
		e.rootCancel()
	}
	pool := e.scanPool
	idCache := e.scanCache
	e.mu.Unlock()

	if pool != nil {
		if err := pool.Stop(timeout); err != nil {
			e.logger.Warn("scan pool stop", "error", err)
		}
	}
	if idCache != nil {
		_ = idCache.Close()
	}

	e.consumers.stopAll(timeout)
	e.logger.Info("engine stopped", "engine_id", e.cfg.ID)
	return nil
}

// Health reports engine health.
func (e *Engine) Health() component.HealthStatus {
	e.mu.RLock()
	started := e.startTime
	e.mu.RUnlock()

	lastErr, _ := e.lastError.Load().(string)
	return component.HealthStatus{
		Healthy:    e.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(e.faults.Load()),
		LastError:  lastErr,
		Uptime:     time.Since(started),
	}
}

// RegisterDevice adds a device to the registry. Registration is rejected
// while a session is active; the catalog check fails fast on unsupported
// functions.
func (e *Engine) RegisterDevice(cfg device.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != nil {
		return errors.WrapInvalid(errors.ErrSessionAlreadyRunning,
			"Engine", "RegisterDevice", "device registry")
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, exists := e.devices[cfg.ID]; exists {
		return errors.WrapInvalid(errors.ErrDeviceExists,
			"Engine", "RegisterDevice", fmt.Sprintf("device %s registration", cfg.ID))
	}

	e.devices[cfg.ID] = cfg
	delete(e.lastStatuses, cfg.ID)
	e.logger.Info("device registered",
		"device_id", cfg.ID, "address", cfg.Address, "function", cfg.Function.String())
	return nil
}

// RemoveDevice drops a device from the registry between sessions.
func (e *Engine) RemoveDevice(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != nil {
		return errors.WrapInvalid(errors.ErrSessionAlreadyRunning,
			"Engine", "RemoveDevice", "device registry")
	}
	if _, ok := e.devices[id]; !ok {
		return errors.WrapInvalid(errors.ErrDeviceNotFound,
			"Engine", "RemoveDevice", fmt.Sprintf("device %s lookup", id))
	}

	delete(e.devices, id)
	delete(e.lastStatuses, id)
	e.logger.Info("device removed", "device_id", id)
	return nil
}

// Devices lists the registered device configs sorted by ID.
func (e *Engine) Devices() []device.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]device.Config, 0, len(e.devices))
	for _, id := range sortedKeys(e.devices) {
		out = append(out, e.devices[id])
	}
	return out
}

// RegisterConsumer attaches a consumer under a unique name. Registration is
// allowed at any time and takes effect from the next delivery.
func (e *Engine) RegisterConsumer(name string, c Consumer) error {
	return e.consumers.register(name, c)
}

// RemoveConsumer detaches a consumer, letting its dispatcher drain briefly.
func (e *Engine) RemoveConsumer(name string) error {
	return e.consumers.remove(name, e.cfg.ShutdownTimeout)
}

// Consumers lists registered consumer names, sorted.
func (e *Engine) Consumers() []string {
	names := e.consumers.names()
	sort.Strings(names)
	return names
}

// ActiveSession returns the running session record, if any.
func (e *Engine) ActiveSession() (Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.session == nil {
		return Session{}, false
	}
	return e.session.record, true
}

// StartSession snapshots the enabled devices and begins acquisition.
func (e *Engine) StartSession(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, errors.WrapTransient(err, "Engine", "StartSession", "context check")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running.Load() {
		return Session{}, errors.WrapInvalid(errors.ErrNotStarted,
			"Engine", "StartSession", "engine state")
	}
	if e.session != nil {
		return Session{}, errors.WrapInvalid(errors.ErrSessionAlreadyRunning,
			"Engine", "StartSession", "session control")
	}

	var configs []device.Config
	for _, id := range sortedKeys(e.devices) {
		if cfg := e.devices[id]; cfg.Enabled {
			configs = append(configs, cfg)
		}
	}
	if len(configs) == 0 {
		e.em.recordSessionStartFailure()
		return Session{}, errors.WrapInvalid(fmt.Errorf("no enabled devices"),
			"Engine", "StartSession", "device snapshot")
	}

	epoch := time.Now()
	sessCtx, cancel := context.WithCancel(e.rootCtx)
	g, gctx := errgroup.WithContext(sessCtx)

	s := &activeSession{
		record: Session{
			ID:        uuid.NewString(),
			StartedAt: timestamp.ToUnixMs(epoch),
		},
		configs:   make(map[string]device.Config, len(configs)),
		workers:   make(map[string]*device.Worker, len(configs)),
		cancel:    cancel,
		group:     g,
		latest:    make(map[string]reading.Reading, len(configs)),
		dropsSeen: make(map[string]uint64, len(configs)),
	}

	for _, cfg := range configs {
		w, err := device.New(device.Deps{
			Config:          cfg,
			Transports:      e.transports,
			Epoch:           epoch,
			QueueCapacity:   e.cfg.WorkerQueue,
			MetricsRegistry: e.registry,
			Logger:          e.logger,
		})
		if err != nil {
			cancel()
			e.em.recordSessionStartFailure()
			return Session{}, err
		}
		s.configs[cfg.ID] = cfg
		s.workers[cfg.ID] = w
		s.order = append(s.order, cfg.ID)
		s.record.DeviceIDs = append(s.record.DeviceIDs, cfg.ID)
	}

	for i, id := range s.order {
		w := s.workers[id]
		if err := w.Initialize(); err != nil {
			cancel()
			e.abandonWorkers(s, i)
			e.em.recordSessionStartFailure()
			return Session{}, err
		}
		if err := w.Start(gctx); err != nil {
			cancel()
			e.abandonWorkers(s, i)
			e.em.recordSessionStartFailure()
			return Session{}, err
		}
	}

	for _, id := range s.order {
		w := s.workers[id]
		g.Go(func() error {
			e.collectWorker(gctx, s, w)
			return nil
		})
	}
	g.Go(func() error {
		return e.tickLoop(gctx, s)
	})

	e.session = s
	if e.metrics != nil {
		e.metrics.RecordSessionActive(true)
	}
	e.em.recordSessionStart(len(s.order))
	e.logger.Info("session started",
		"session_id", s.record.ID, "devices", len(s.order))
	return s.record, nil
}

// abandonWorkers stops workers [0, upto) after a failed session start.
func (e *Engine) abandonWorkers(s *activeSession, upto int) {
	for i := 0; i < upto && i < len(s.order); i++ {
		_ = s.workers[s.order[i]].Stop(e.cfg.ShutdownTimeout)
	}
}

// StopSession cancels the workers, waits out the shutdown budget, flushes
// trailing events to consumers, and closes the session record.
func (e *Engine) StopSession(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, errors.WrapTransient(err, "Engine", "StopSession", "context check")
	}

	e.mu.Lock()
	s := e.session
	e.session = nil
	e.mu.Unlock()

	if s == nil {
		return Session{}, errors.WrapInvalid(errors.ErrSessionNotRunning,
			"Engine", "StopSession", "session control")
	}

	e.logger.Info("session stopping", "session_id", s.record.ID)
	s.cancel()

	deadline := time.Now().Add(e.cfg.ShutdownTimeout)
	stragglers := 0
	for _, id := range s.order {
		remaining := time.Until(deadline)
		if remaining < 10*time.Millisecond {
			remaining = 10 * time.Millisecond
		}
		if err := s.workers[id].Stop(remaining); err != nil {
			stragglers++
			e.faults.Add(1)
			e.recordError(err)
			e.logger.Error("worker abandoned at session stop", "device_id", id, "error", err)
		}
	}

	if err := s.group.Wait(); err != nil {
		e.faults.Add(1)
		e.recordError(err)
		e.logger.Error("session loop failed", "session_id", s.record.ID, "error", err)
	}

	// Collectors are gone; hand any trailing events (including the Stopped
	// transitions) to the consumers, then report final drop counts.
	for _, id := range s.order {
		e.flushWorker(s, s.workers[id])
	}
	e.sweepDrops(s)

	s.record.StoppedAt = timestamp.Now()

	statuses := make(map[string]device.Status, len(s.order))
	for _, id := range s.order {
		statuses[id] = s.workers[id].Status()
	}

	e.mu.Lock()
	e.lastSession = &s.record
	for id, st := range statuses {
		e.lastStatuses[id] = st
	}
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordSessionActive(false)
	}
	e.em.recordSessionStop(time.Duration(s.record.StoppedAt-s.record.StartedAt) * time.Millisecond)
	e.logger.Info("session stopped",
		"session_id", s.record.ID, "stragglers", stragglers)
	return s.record, nil
}

// collectWorker drains one worker's event queue for the session lifetime.
func (e *Engine) collectWorker(ctx context.Context, s *activeSession, w *device.Worker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.Wake():
			e.flushWorker(s, w)
		}
	}
}

func (e *Engine) flushWorker(s *activeSession, w *device.Worker) {
	for {
		batch := w.Drain(64)
		if len(batch) == 0 {
			return
		}
		for _, ev := range batch {
			e.deliverEvent(s, ev)
		}
	}
}

func (e *Engine) deliverEvent(s *activeSession, ev device.Event) {
	switch ev.Kind {
	case device.EventReading:
		s.putLatest(ev.Reading)
		e.readingsTotal.Add(1)
		e.consumers.broadcastReading(ev.Reading)
	case device.EventStateChange:
		e.consumers.broadcastState(ev.DeviceID, ev.From, ev.To)
	}
}

// tickLoop closes one frame per tick until the session context ends.
func (e *Engine) tickLoop(ctx context.Context, s *activeSession) error {
	ticker := time.NewTicker(e.cfg.FrameTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			e.closeFrame(s, now)
			e.sweepDrops(s)
		}
	}
}

// closeFrame assembles the freshest reading per device since the previous
// tick. Devices without one, offline devices included, get a stale marker.
func (e *Engine) closeFrame(s *activeSession, now time.Time) {
	fresh := s.takeLatest()

	entries := make(map[string]reading.Entry, len(s.order))
	for _, id := range s.order {
		if r, ok := fresh[id]; ok {
			entries[id] = reading.NewEntry(r)
		} else {
			entries[id] = reading.StaleEntry()
			e.em.recordStaleEntry(id)
		}
	}

	s.frameIndex++
	frame := reading.NewFrame(s.frameIndex, timestamp.ToUnixMs(now), entries)

	e.framesTotal.Add(1)
	if e.metrics != nil {
		e.metrics.RecordFrame()
	}
	e.consumers.broadcastFrame(frame)
}

// sweepDrops notifies consumers of devices whose drop counter moved.
func (e *Engine) sweepDrops(s *activeSession) {
	for _, id := range s.order {
		if d := s.workers[id].DroppedTotal(); d != s.dropsSeen[id] {
			s.dropsSeen[id] = d
			e.consumers.broadcastDrops(id, d)
		}
	}
}

// Snapshot reports the registry, session status, and per-device runtime
// state. After a session ends, the final worker statuses stick around until
// the device is re-registered or removed.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := Snapshot{
		EngineID:      e.cfg.ID,
		Taken:         timestamp.Now(),
		Consumers:     e.Consumers(),
		ReadingsTotal: e.readingsTotal.Load(),
		FramesTotal:   e.framesTotal.Load(),
	}

	if e.session != nil {
		rec := e.session.record
		snap.Session = &rec
		snap.SessionActive = true
	} else if e.lastSession != nil {
		rec := *e.lastSession
		snap.Session = &rec
	}

	for _, id := range sortedKeys(e.devices) {
		cfg := e.devices[id]
		if e.session != nil {
			if w, ok := e.session.workers[id]; ok {
				snap.Devices = append(snap.Devices, w.Status())
				continue
			}
		}
		if st, ok := e.lastStatuses[id]; ok {
			snap.Devices = append(snap.Devices, st)
			continue
		}
		snap.Devices = append(snap.Devices, statusFromConfig(cfg))
	}
	return snap
}

// Snapshot is a point-in-time view of the engine.
type Snapshot struct {
	EngineID      string          `json:"engine_id"`
	Taken         int64           `json:"taken"`
	SessionActive bool            `json:"session_active"`
	Session       *Session        `json:"session,omitempty"`
	Devices       []device.Status `json:"devices"`
	Consumers     []string        `json:"consumers,omitempty"`
	ReadingsTotal int64           `json:"readings_total"`
	FramesTotal   int64           `json:"frames_total"`
}

func statusFromConfig(cfg device.Config) device.Status {
	return device.Status{
		ID:       cfg.ID,
		Label:    cfg.Label,
		Address:  cfg.Address,
		Function: cfg.Function,
		Range:    cfg.Range,
		Enabled:  cfg.Enabled,
		State:    device.Disconnected,
	}
}

func sortedKeys(m map[string]device.Config) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *Engine) recordError(err error) {
	e.lastError.Store(err.Error())
}
