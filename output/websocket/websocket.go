package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/TaskforceCobra/instrument-contoller/component"
	"github.com/TaskforceCobra/instrument-contoller/device"
	"github.com/TaskforceCobra/instrument-contoller/engine"
	"github.com/TaskforceCobra/instrument-contoller/errors"
	"github.com/TaskforceCobra/instrument-contoller/metric"
	"github.com/TaskforceCobra/instrument-contoller/pkg/buffer"
	"github.com/TaskforceCobra/instrument-contoller/reading"
)

// Envelope types pushed to clients.
const (
	TypeReading = "reading"
	TypeFrame   = "frame"
	TypeState   = "state"
	TypeDrops   = "drops"
)

const (
	// DefaultPort is where the built-in listener binds.
	DefaultPort = 8081

	// DefaultPath is the stream endpoint.
	DefaultPath = "/api/v1/stream"

	// DefaultClientQueue bounds each client's pending sends.
	DefaultClientQueue = 256

	// DefaultPingInterval paces the keepalive pings.
	DefaultPingInterval = 30 * time.Second

	// writeTimeout bounds a single frame write to one client.
	writeTimeout = 10 * time.Second

	// pongWait is how long a client may stay silent before its connection
	// is considered dead.
	pongWait = 60 * time.Second
)

// Config holds the hub's tunables.
type Config struct {
	// Port for the built-in listener. Zero disables it; mount Handler on
	// an external server instead.
	Port int

	// Path of the stream endpoint on the built-in listener.
	Path string

	// ClientQueue is each client's pending-send capacity. Overflow drops
	// the oldest pending message.
	ClientQueue int

	// PingInterval paces keepalive pings to connected clients.
	PingInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.ClientQueue == 0 {
		c.ClientQueue = DefaultClientQueue
	}
	if c.PingInterval == 0 {
		c.PingInterval = DefaultPingInterval
	}
	return c
}

// Deps carries the hub's dependencies.
type Deps struct {
	Config          Config
	MetricsRegistry *metric.MetricsRegistry // nil disables metrics
	Logger          *slog.Logger            // nil falls back to slog.Default
}

// MessageEnvelope wraps every message pushed to a client. Type selects the
// payload shape: a reading object, a frame object, a StateEvent, or a
// DropsEvent. ID is unique per message; Timestamp is Unix milliseconds at
// send time.
type MessageEnvelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// StateEvent is the payload of a "state" envelope.
type StateEvent struct {
	DeviceID string       `json:"device_id"`
	From     device.State `json:"from"`
	To       device.State `json:"to"`
}

// DropsEvent is the payload of a "drops" envelope. Dropped is cumulative
// for the device.
type DropsEvent struct {
	DeviceID string `json:"device_id"`
	Dropped  uint64 `json:"dropped"`
}

// pending is one queued send for one client.
type pending struct {
	kind string
	data []byte
}

// client is one connected WebSocket peer.
type client struct {
	id          string
	conn        *websocket.Conn
	remote      string
	connectedAt time.Time
	lastPong    atomic.Value // time.Time
	closed      atomic.Bool
	closeOnce   sync.Once
	stop        chan struct{}
	wake        chan struct{}
	queue       buffer.Buffer[pending]

	// writeMu serializes writes to the connection; gorilla panics on
	// concurrent writers (data frames vs keepalive pings).
	writeMu sync.Mutex
}

// Output is the broadcast hub.
type Output struct {
	cfg     Config
	logger  *slog.Logger
	metrics *hubMetrics

	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[string]*client

	// Lifecycle management
	server      *http.Server
	shutdown    chan struct{}
	running     bool
	startTime   time.Time
	mu          sync.RWMutex
	lifecycleMu sync.Mutex // serializes Start/Stop
	wg          *sync.WaitGroup

	messageIDCounter atomic.Uint64
	errorCount       atomic.Int64
}

var (
	_ component.LifecycleComponent = (*Output)(nil)
	_ engine.Consumer              = (*Output)(nil)
)

// New builds a hub. Metrics registration is the only fallible step.
func New(deps Deps) (*Output, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newHubMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, err
	}

	return &Output{
		cfg:     deps.Config.withDefaults(),
		logger:  logger.With("component", "websocket"),
		metrics: metrics,
		upgrader: websocket.Upgrader{
			// The bench tooling connects from whatever host the operator
			// opened the UI on.
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[string]*client),
	}, nil
}

// Name implements component.Component.
func (o *Output) Name() string {
	return "websocket"
}

// Health reports hub liveness and the accumulated error count.
func (o *Output) Health() component.HealthStatus {
	o.mu.RLock()
	running := o.running
	started := o.startTime
	o.mu.RUnlock()

	var uptime time.Duration
	if running {
		uptime = time.Since(started)
	}

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(o.errorCount.Load()),
		Uptime:     uptime,
	}
}

// Initialize validates the configuration.
func (o *Output) Initialize() error {
	if o.cfg.Port != 0 && (o.cfg.Port < 1024 || o.cfg.Port > 65535) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "websocket.Output", "Initialize",
			fmt.Sprintf("port %d out of range 1024-65535", o.cfg.Port))
	}
	if !strings.HasPrefix(o.cfg.Path, "/") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "websocket.Output", "Initialize",
			fmt.Sprintf("stream path %q must start with /", o.cfg.Path))
	}
	if o.cfg.ClientQueue < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "websocket.Output", "Initialize",
			fmt.Sprintf("negative client queue %d", o.cfg.ClientQueue))
	}
	if o.cfg.PingInterval < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "websocket.Output", "Initialize",
			fmt.Sprintf("negative ping interval %v", o.cfg.PingInterval))
	}
	return nil
}

// Handler returns the stream upgrade handler for mounting on an external
// HTTP server, typically when Port is zero.
func (o *Output) Handler() http.Handler {
	return http.HandlerFunc(o.handleStream)
}

// Start brings up the built-in listener (when configured) and the client
// maintenance loop. Idempotent while running.
func (o *Output) Start(ctx context.Context) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return nil
	}
	if ctx == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "websocket.Output", "Start",
			"context cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "websocket.Output", "Start", "context check")
	}

	o.shutdown = make(chan struct{})
	o.wg = &sync.WaitGroup{}

	if o.cfg.Port != 0 {
		mux := http.NewServeMux()
		mux.HandleFunc(o.cfg.Path, o.handleStream)
		o.server = &http.Server{
			Addr:              fmt.Sprintf(":%d", o.cfg.Port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		o.wg.Add(1)
		go o.runServer(o.wg, o.server)
	}

	o.wg.Add(1)
	go o.maintainClients(ctx, o.wg, o.shutdown)

	o.running = true
	o.startTime = time.Now()
	o.logger.Info("websocket hub started", "port", o.cfg.Port, "path", o.cfg.Path)
	return nil
}

// Stop shuts the hub down: listener first, then every client connection,
// then the background goroutines. Returns nil when already stopped.
func (o *Output) Stop(timeout time.Duration) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	close(o.shutdown)
	wg := o.wg
	server := o.server
	o.mu.Unlock()

	// Stop accepting new streams before tearing down the existing ones.
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			o.logger.Warn("websocket listener shutdown", "error", err)
		}
	}

	// Server.Shutdown leaves hijacked connections alone; closing them here
	// unblocks every read loop.
	o.closeAllClients()

	if wg != nil && !waitTimeout(wg, timeout) {
		o.logger.Warn("websocket goroutines did not exit in time", "timeout", timeout)
	}

	o.mu.Lock()
	o.server = nil
	o.shutdown = nil
	o.wg = nil
	o.mu.Unlock()

	o.logger.Info("websocket hub stopped")
	return nil
}

func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// runServer blocks in ListenAndServe until Stop shuts the listener down.
func (o *Output) runServer(wg *sync.WaitGroup, server *http.Server) {
	defer wg.Done()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		o.errorCount.Add(1)
		o.metrics.recordError("listener")
		o.logger.Error("websocket listener failed", "error", err)
	}
}

// ClientCount returns the number of connected clients.
func (o *Output) ClientCount() int {
	o.clientsMu.RLock()
	defer o.clientsMu.RUnlock()
	return len(o.clients)
}

// handleStream upgrades one HTTP request into a streaming client.
func (o *Output) handleStream(w http.ResponseWriter, r *http.Request) {
	o.mu.RLock()
	running, wg, shutdown := o.running, o.wg, o.shutdown
	o.mu.RUnlock()
	if !running || wg == nil {
		http.Error(w, "stream offline", http.StatusServiceUnavailable)
		return
	}

	conn, err := o.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		o.errorCount.Add(1)
		o.metrics.recordError("upgrade")
		return
	}

	cl := &client{
		id:          uuid.NewString(),
		conn:        conn,
		remote:      r.RemoteAddr,
		connectedAt: time.Now(),
		stop:        make(chan struct{}),
		wake:        make(chan struct{}, 1),
	}
	cl.lastPong.Store(time.Now())

	queue, err := buffer.NewCircularBuffer(o.cfg.ClientQueue,
		buffer.WithOverflowPolicy[pending](buffer.DropOldest),
		buffer.WithDropCallback[pending](func(p pending) {
			o.metrics.recordQueueDrop(p.kind)
		}),
	)
	if err != nil {
		_ = conn.Close()
		o.errorCount.Add(1)
		o.metrics.recordError("queue_creation")
		return
	}
	cl.queue = queue

	o.clientsMu.Lock()
	o.clients[cl.id] = cl
	count := len(o.clients)
	o.clientsMu.Unlock()

	o.metrics.recordConnect(count)
	o.logger.Info("websocket client connected",
		"client_id", cl.id, "remote", cl.remote, "clients", count)

	wg.Add(2)
	go o.readLoop(cl, wg, shutdown)
	go o.writeLoop(cl, wg, shutdown)
}

// readLoop consumes control frames and detects disconnects. The stream is
// one way; inbound text frames are discarded.
func (o *Output) readLoop(cl *client, wg *sync.WaitGroup, shutdown chan struct{}) {
	defer wg.Done()
	defer o.dropClient(cl, "client_closed")

	cl.conn.SetPongHandler(func(string) error {
		cl.lastPong.Store(time.Now())
		return nil
	})

	for {
		select {
		case <-shutdown:
			return
		case <-cl.stop:
			return
		default:
		}

		_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop drains the client's queue onto the wire. A failed write drops
// the client; the engine stream is not retried per peer.
func (o *Output) writeLoop(cl *client, wg *sync.WaitGroup, shutdown chan struct{}) {
	defer wg.Done()

	for {
		select {
		case <-shutdown:
			return
		case <-cl.stop:
			return
		case <-cl.wake:
			for {
				batch := cl.queue.ReadBatch(16)
				if len(batch) == 0 {
					break
				}
				for _, p := range batch {
					if err := o.writeFrame(cl, p.data); err != nil {
						o.errorCount.Add(1)
						o.metrics.recordError("client_write")
						o.dropClient(cl, "write_error")
						return
					}
					o.metrics.recordSent(p.kind, len(p.data))
				}
			}
		}
	}
}

func (o *Output) writeFrame(cl *client, data []byte) error {
	cl.writeMu.Lock()
	defer cl.writeMu.Unlock()
	_ = cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return cl.conn.WriteMessage(websocket.TextMessage, data)
}

// dropClient removes a client exactly once: deregisters it, closes the
// connection, and releases its queue.
func (o *Output) dropClient(cl *client, reason string) {
	cl.closeOnce.Do(func() {
		cl.closed.Store(true)
		close(cl.stop)

		o.clientsMu.Lock()
		delete(o.clients, cl.id)
		count := len(o.clients)
		o.clientsMu.Unlock()

		_ = cl.conn.Close()
		_ = cl.queue.Close()

		o.metrics.recordDisconnect(reason, count)
		o.logger.Info("websocket client disconnected",
			"client_id", cl.id, "reason", reason,
			"connected", time.Since(cl.connectedAt).Round(time.Millisecond),
			"clients", count)
	})
}

// closeAllClients drops every connected client during shutdown.
func (o *Output) closeAllClients() {
	for _, cl := range o.snapshotClients() {
		o.dropClient(cl, "server_shutdown")
	}
}

func (o *Output) snapshotClients() []*client {
	o.clientsMu.RLock()
	defer o.clientsMu.RUnlock()
	out := make([]*client, 0, len(o.clients))
	for _, cl := range o.clients {
		out = append(out, cl)
	}
	return out
}

// OnReading implements engine.Consumer.
func (o *Output) OnReading(r reading.Reading) {
	o.broadcast(TypeReading, r)
}

// OnFrame implements engine.Consumer.
func (o *Output) OnFrame(f reading.Frame) {
	o.broadcast(TypeFrame, f)
}

// OnDeviceStateChanged implements engine.Consumer.
func (o *Output) OnDeviceStateChanged(deviceID string, from, to device.State) {
	o.broadcast(TypeState, StateEvent{DeviceID: deviceID, From: from, To: to})
}

// OnDroppedReadings implements engine.Consumer.
func (o *Output) OnDroppedReadings(deviceID string, count uint64) {
	o.broadcast(TypeDrops, DropsEvent{DeviceID: deviceID, Dropped: count})
}

// broadcast fans one event out to every client queue. It never blocks: a
// full queue sheds its oldest pending message instead.
func (o *Output) broadcast(kind string, payload any) {
	o.mu.RLock()
	running := o.running
	o.mu.RUnlock()
	if !running {
		return
	}

	clients := o.snapshotClients()
	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		o.errorCount.Add(1)
		o.metrics.recordError("payload_marshal")
		return
	}
	envelope, err := json.Marshal(MessageEnvelope{
		Type:      kind,
		ID:        o.nextMessageID(),
		Timestamp: time.Now().UnixMilli(),
		Payload:   data,
	})
	if err != nil {
		o.errorCount.Add(1)
		o.metrics.recordError("envelope_marshal")
		return
	}

	for _, cl := range clients {
		o.enqueue(cl, pending{kind: kind, data: envelope})
	}
}

// enqueue hands one message to a client's writer without blocking.
func (o *Output) enqueue(cl *client, p pending) {
	if cl.closed.Load() {
		return
	}
	if err := cl.queue.Write(p); err != nil {
		// Queue closed under us; the client is on its way out.
		return
	}
	select {
	case cl.wake <- struct{}{}:
	default:
	}
}

func (o *Output) nextMessageID() string {
	return fmt.Sprintf("msg-%d-%d", time.Now().UnixMilli(), o.messageIDCounter.Add(1))
}

// maintainClients pings clients on a fixed cadence and culls the silent
// ones.
func (o *Output) maintainClients(ctx context.Context, wg *sync.WaitGroup, shutdown chan struct{}) {
	defer wg.Done()

	ticker := time.NewTicker(o.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-shutdown:
			return
		case <-ticker.C:
			o.pingClients()
		}
	}
}

func (o *Output) pingClients() {
	for _, cl := range o.snapshotClients() {
		if cl.closed.Load() {
			continue
		}
		if last, ok := cl.lastPong.Load().(time.Time); ok && time.Since(last) > pongWait {
			o.dropClient(cl, "pong_timeout")
			continue
		}

		cl.writeMu.Lock()
		_ = cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := cl.conn.WriteMessage(websocket.PingMessage, nil)
		cl.writeMu.Unlock()
		if err != nil {
			o.errorCount.Add(1)
			o.metrics.recordError("ping")
			o.dropClient(cl, "ping_failure")
		}
	}
}

// hubMetrics tracks hub activity. Nil-receiver safe, following the
// nil-registry-disables-metrics convention.
type hubMetrics struct {
	clientsConnected    prometheus.Gauge
	connectionsTotal    prometheus.Counter
	disconnectionsTotal *prometheus.CounterVec // by reason
	messagesSent        *prometheus.CounterVec // by envelope type
	bytesSent           prometheus.Counter
	queueDrops          *prometheus.CounterVec // by envelope type
	errorsTotal         *prometheus.CounterVec // by error_type
}

func newHubMetrics(registry *metric.MetricsRegistry) (*hubMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &hubMetrics{
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "instrumentd",
			Subsystem: "websocket",
			Name:      "clients_connected",
			Help:      "Number of currently connected clients",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "instrumentd",
			Subsystem: "websocket",
			Name:      "client_connections_total",
			Help:      "Total client connections accepted",
		}),
		disconnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "instrumentd",
			Subsystem: "websocket",
			Name:      "client_disconnections_total",
			Help:      "Total client disconnections",
		}, []string{"reason"}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "instrumentd",
			Subsystem: "websocket",
			Name:      "messages_sent_total",
			Help:      "Messages written to clients",
		}, []string{"type"}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "instrumentd",
			Subsystem: "websocket",
			Name:      "bytes_sent_total",
			Help:      "Bytes written to clients",
		}),
		queueDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "instrumentd",
			Subsystem: "websocket",
			Name:      "queue_dropped_total",
			Help:      "Pending messages shed from slow clients' queues",
		}, []string{"type"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "instrumentd",
			Subsystem: "websocket",
			Name:      "errors_total",
			Help:      "Hub errors by type",
		}, []string{"error_type"}),
	}

	if err := registry.RegisterGauge("websocket", "clients", m.clientsConnected); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("websocket", "connections", m.connectionsTotal); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("websocket", "disconnections", m.disconnectionsTotal); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("websocket", "messages_sent", m.messagesSent); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("websocket", "bytes_sent", m.bytesSent); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("websocket", "queue_drops", m.queueDrops); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("websocket", "errors", m.errorsTotal); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *hubMetrics) recordConnect(count int) {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
	m.clientsConnected.Set(float64(count))
}

func (m *hubMetrics) recordDisconnect(reason string, count int) {
	if m == nil {
		return
	}
	m.disconnectionsTotal.WithLabelValues(reason).Inc()
	m.clientsConnected.Set(float64(count))
}

func (m *hubMetrics) recordSent(kind string, bytes int) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(kind).Inc()
	m.bytesSent.Add(float64(bytes))
}

func (m *hubMetrics) recordQueueDrop(kind string) {
	if m == nil {
		return
	}
	m.queueDrops.WithLabelValues(kind).Inc()
}

func (m *hubMetrics) recordError(kind string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(kind).Inc()
}
