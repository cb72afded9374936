package http

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TaskforceCobra/instrument-contoller/component"
	"github.com/TaskforceCobra/instrument-contoller/device"
	"github.com/TaskforceCobra/instrument-contoller/engine"
	"github.com/TaskforceCobra/instrument-contoller/errors"
	"github.com/TaskforceCobra/instrument-contoller/health"
	"github.com/TaskforceCobra/instrument-contoller/metric"
	"github.com/TaskforceCobra/instrument-contoller/pkg/security"
	"github.com/TaskforceCobra/instrument-contoller/pkg/tlsutil"
)

// Defaults for the listener and request handling.
const (
	DefaultBindAddr       = "0.0.0.0"
	DefaultStreamPath     = "/api/v1/stream"
	DefaultMaxRequestSize = 1 << 20 // 1 MB
	DefaultRequestTimeout = 15 * time.Second
	DefaultScanTimeout    = 60 * time.Second

	readHeaderTimeout = 10 * time.Second
)

// Engine is the control surface the gateway drives. *engine.Engine
// satisfies it; tests substitute a fake.
type Engine interface {
	RegisterDevice(cfg device.Config) error
	RemoveDevice(id string) error
	Devices() []device.Config
	StartSession(ctx context.Context) (engine.Session, error)
	StopSession(ctx context.Context) (engine.Session, error)
	Snapshot() engine.Snapshot
	ScanBus(ctx context.Context, addresses []string) ([]engine.ScanResult, error)
	SendCommand(ctx context.Context, target, command string) (string, error)
}

// Config holds the gateway's tunables.
type Config struct {
	// BindAddr is the listen address.
	BindAddr string

	// Port is the listen port. Zero picks an ephemeral port, which the
	// tests use; Addr reports the bound address after Start.
	Port int

	// StreamPath is where Deps.Stream is mounted, when set.
	StreamPath string

	// EnableCORS turns on CORS headers. Requires explicit CORSOrigins.
	EnableCORS bool

	// CORSOrigins lists allowed origins. "*" allows any.
	CORSOrigins []string

	// MaxRequestSize caps request bodies in bytes.
	MaxRequestSize int64

	// RequestTimeout bounds each control request.
	RequestTimeout time.Duration

	// ScanTimeout bounds bus scans, which probe many addresses.
	ScanTimeout time.Duration

	// Security carries the TLS listener configuration.
	Security security.Config
}

func (c Config) withDefaults() Config {
	if c.BindAddr == "" {
		c.BindAddr = DefaultBindAddr
	}
	if c.StreamPath == "" {
		c.StreamPath = DefaultStreamPath
	}
	if c.MaxRequestSize == 0 {
		c.MaxRequestSize = DefaultMaxRequestSize
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.ScanTimeout == 0 {
		c.ScanTimeout = DefaultScanTimeout
	}
	return c
}

// Deps carries the gateway's dependencies.
type Deps struct {
	Config Config

	// Engine handles the control operations. Required.
	Engine Engine

	// Components feed the /healthz aggregate; typically the engine and
	// every running sink.
	Components []component.Component

	// Stream, when non-nil, is mounted at StreamPath. The handler is
	// served unwrapped so connection upgrades keep the raw ResponseWriter.
	Stream http.Handler

	MetricsRegistry *metric.MetricsRegistry // nil disables /metrics and gateway metrics
	Logger          *slog.Logger            // nil falls back to slog.Default
}

// Gateway serves the REST control surface: device registry, session
// control, snapshot, bus scan, direct commands, plus /healthz and
// /metrics.
type Gateway struct {
	cfg        Config
	eng        Engine
	components []component.Component
	stream     http.Handler
	registry   *metric.MetricsRegistry
	monitor    *health.Monitor
	logger     *slog.Logger
	metrics    *gatewayMetrics

	server      *http.Server
	addr        atomic.Value // string, set once the listener is bound
	running     atomic.Bool
	mu          sync.RWMutex
	lifecycleMu sync.Mutex // serializes Start/Stop
	startTime   time.Time
	wg          *sync.WaitGroup

	requestsTotal  atomic.Uint64
	requestsFailed atomic.Uint64
}

var _ component.LifecycleComponent = (*Gateway)(nil)

// New builds a gateway.
func New(deps Deps) *Gateway {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		cfg:        deps.Config.withDefaults(),
		eng:        deps.Engine,
		components: deps.Components,
		stream:     deps.Stream,
		registry:   deps.MetricsRegistry,
		monitor:    health.NewMonitor(),
		logger:     logger.With("component", "gateway"),
	}
}

// Name implements component.Component.
func (g *Gateway) Name() string {
	return "gateway"
}

// Health reports gateway liveness. ErrorCount is the number of failed
// requests since start.
func (g *Gateway) Health() component.HealthStatus {
	g.mu.RLock()
	started := g.startTime
	g.mu.RUnlock()

	running := g.running.Load()
	var uptime time.Duration
	if running {
		uptime = time.Since(started)
	}

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(g.requestsFailed.Load()),
		Uptime:     uptime,
	}
}

// Initialize validates the configuration and registers gateway metrics.
func (g *Gateway) Initialize() error {
	if g.eng == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Gateway", "Initialize",
			"engine is required")
	}
	if g.cfg.Port < 0 || g.cfg.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Gateway", "Initialize",
			fmt.Sprintf("port %d outside valid range 0-65535", g.cfg.Port))
	}
	if !strings.HasPrefix(g.cfg.StreamPath, "/") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Gateway", "Initialize",
			fmt.Sprintf("stream path %q must start with /", g.cfg.StreamPath))
	}
	if g.cfg.MaxRequestSize < 0 || g.cfg.MaxRequestSize > 100<<20 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Gateway", "Initialize",
			"max request size must be between 0 and 100MB")
	}
	if g.cfg.EnableCORS && len(g.cfg.CORSOrigins) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Gateway", "Initialize",
			"CORS requires explicit origins")
	}

	m, err := newGatewayMetrics(g.registry)
	if err != nil {
		return err
	}
	g.metrics = m
	return nil
}

// Start binds the listener and begins serving. The bind happens
// synchronously so address conflicts surface here, not in a goroutine.
func (g *Gateway) Start(ctx context.Context) error {
	g.lifecycleMu.Lock()
	defer g.lifecycleMu.Unlock()

	if g.running.Load() {
		return nil
	}
	if ctx == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Gateway", "Start",
			"context cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "Gateway", "Start", "context check")
	}

	addr := net.JoinHostPort(g.cfg.BindAddr, strconv.Itoa(g.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WrapFatal(err, "Gateway", "Start",
			fmt.Sprintf("listen on %s", addr))
	}

	if g.cfg.Security.TLS.Server.Enabled {
		tlsCfg, terr := tlsutil.LoadServerTLSConfigWithMTLS(
			g.cfg.Security.TLS.Server, g.cfg.Security.TLS.Server.MTLS)
		if terr != nil {
			_ = ln.Close()
			return errors.WrapFatal(terr, "Gateway", "Start", "load TLS config")
		}
		ln = tls.NewListener(ln, tlsCfg)
	}

	server := &http.Server{
		Handler:           g.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	wg := &sync.WaitGroup{}

	g.mu.Lock()
	g.server = server
	g.wg = wg
	g.startTime = time.Now()
	g.mu.Unlock()

	g.addr.Store(ln.Addr().String())
	g.running.Store(true)

	wg.Add(1)
	go g.serve(wg, server, ln)

	g.logger.Info("gateway started",
		"addr", ln.Addr().String(), "tls", g.cfg.Security.TLS.Server.Enabled)
	return nil
}

func (g *Gateway) serve(wg *sync.WaitGroup, server *http.Server, ln net.Listener) {
	defer wg.Done()
	if err := server.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		g.logger.Error("gateway server failed", "error", err)
	}
}

// Stop drains in-flight requests bounded by timeout.
func (g *Gateway) Stop(timeout time.Duration) error {
	g.lifecycleMu.Lock()
	defer g.lifecycleMu.Unlock()

	if !g.running.Load() {
		return nil
	}
	g.running.Store(false)

	g.mu.Lock()
	server := g.server
	wg := g.wg
	g.server = nil
	g.wg = nil
	g.mu.Unlock()

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			g.logger.Warn("gateway shutdown", "error", err)
			_ = server.Close()
		}
	}
	if wg != nil {
		waitTimeout(wg, timeout)
	}

	g.logger.Info("gateway stopped")
	return nil
}

// Addr returns the bound listen address once Start has succeeded.
func (g *Gateway) Addr() string {
	addr, _ := g.addr.Load().(string)
	return addr
}

// Handler returns the full route table. Start serves it; tests mount it
// on httptest servers directly.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	g.route(mux, "GET /api/v1/devices", "devices", 0, g.handleListDevices)
	g.route(mux, "POST /api/v1/devices", "devices", g.cfg.RequestTimeout, g.handleRegisterDevice)
	g.route(mux, "DELETE /api/v1/devices/{id}", "devices", g.cfg.RequestTimeout, g.handleRemoveDevice)
	g.route(mux, "POST /api/v1/devices/{id}/command", "command", g.cfg.RequestTimeout, g.handleCommand)
	g.route(mux, "POST /api/v1/session", "session", g.cfg.RequestTimeout, g.handleStartSession)
	g.route(mux, "DELETE /api/v1/session", "session", g.cfg.RequestTimeout, g.handleStopSession)
	g.route(mux, "GET /api/v1/snapshot", "snapshot", 0, g.handleSnapshot)
	g.route(mux, "POST /api/v1/scan", "scan", g.cfg.ScanTimeout, g.handleScan)
	g.route(mux, "GET /healthz", "healthz", 0, g.handleHealthz)

	if g.cfg.EnableCORS {
		// Browsers preflight POST and DELETE. One OPTIONS entry per
		// distinct path; Go 1.22 patterns 405 unregistered methods.
		for _, path := range []string{
			"/api/v1/devices",
			"/api/v1/devices/{id}",
			"/api/v1/devices/{id}/command",
			"/api/v1/session",
			"/api/v1/scan",
		} {
			mux.HandleFunc("OPTIONS "+path, g.handlePreflight)
		}
	}

	if g.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(
			g.registry.PrometheusRegistry(),
			promhttp.HandlerOpts{EnableOpenMetrics: true},
		))
	}
	if g.stream != nil {
		// Unwrapped: the upgrade handshake needs the raw ResponseWriter.
		mux.Handle("GET "+g.cfg.StreamPath, g.stream)
	}

	return mux
}

// route registers one wrapped handler: request ID, CORS, per-route
// timeout, counters, and duration metrics.
func (g *Gateway) route(mux *http.ServeMux, pattern, name string, timeout time.Duration, fn http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		g.requestsTotal.Add(1)

		w.Header().Set("X-Request-ID", requestID(r))

		if g.cfg.EnableCORS {
			g.applyCORS(w, r)
		}

		if timeout > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			r = r.WithContext(ctx)
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)

		if rec.status >= http.StatusBadRequest {
			g.requestsFailed.Add(1)
		}
		g.metrics.recordRequest(name, rec.status, rec.bytes, time.Since(start))
	})
}

func (g *Gateway) handlePreflight(w http.ResponseWriter, r *http.Request) {
	g.applyCORS(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")

	allowed := false
	for _, o := range g.cfg.CORSOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}

	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	} else {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// requestID extracts the caller's X-Request-ID or generates one.
func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// statusRecorder captures the status code and body size for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	n, err := s.ResponseWriter.Write(p)
	s.bytes += n
	return n, err
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

// gatewayMetrics meters the control surface. Nil receiver disables all
// recording.
type gatewayMetrics struct {
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	responseSize prometheus.Counter
}

func newGatewayMetrics(registry *metric.MetricsRegistry) (*gatewayMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &gatewayMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "instrumentd",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Control requests handled, by route and status code.",
		}, []string{"route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "instrumentd",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Control request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		responseSize: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "instrumentd",
			Subsystem: "gateway",
			Name:      "response_bytes_total",
			Help:      "Total bytes written in responses.",
		}),
	}

	if err := registry.RegisterCounterVec("gateway", "requests", m.requests); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec("gateway", "request_duration", m.duration); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("gateway", "response_bytes", m.responseSize); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *gatewayMetrics) recordRequest(route string, code, bytes int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(route).Observe(elapsed.Seconds())
	m.responseSize.Add(float64(bytes))
}
