// Package natspub publishes the acquisition feed to NATS subjects so
// off-box consumers can follow the bench without holding a WebSocket
// open: readings, closed frames, device state changes, and drop
// reports, one subject family per engine.
//
// Subjects are built as {prefix}.{engine}.{kind}[.{device}]:
//
//	instrument.bench.reading.dmm-1
//	instrument.bench.frame
//	instrument.bench.state.dmm-1
//	instrument.bench.drops.dmm-1
//
// Payloads are the JSON encodings of the engine's own types; the
// subject carries the routing, so there is no extra envelope.
// Publishing is fire-and-forget: a failed publish is counted and the
// feed moves on.
package natspub

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TaskforceCobra/instrument-contoller/component"
	"github.com/TaskforceCobra/instrument-contoller/device"
	"github.com/TaskforceCobra/instrument-contoller/engine"
	"github.com/TaskforceCobra/instrument-contoller/errors"
	"github.com/TaskforceCobra/instrument-contoller/metric"
	"github.com/TaskforceCobra/instrument-contoller/natsclient"
	"github.com/TaskforceCobra/instrument-contoller/pkg/retry"
	"github.com/TaskforceCobra/instrument-contoller/pkg/timestamp"
	"github.com/TaskforceCobra/instrument-contoller/reading"
)

const (
	// DefaultURL is the local NATS server.
	DefaultURL = "nats://127.0.0.1:4222"

	// DefaultSubjectPrefix roots the subject hierarchy.
	DefaultSubjectPrefix = "instrument"

	// DefaultEngineID names this engine in the subject hierarchy.
	DefaultEngineID = "bench"

	// DefaultFlushTimeout bounds the final flush during Stop.
	DefaultFlushTimeout = 2 * time.Second
)

// Config holds the publisher's tunables.
type Config struct {
	// URL of the NATS server.
	URL string

	// SubjectPrefix roots the subject hierarchy. May be a dotted path.
	SubjectPrefix string

	// EngineID distinguishes engines sharing a broker. Single token.
	EngineID string

	// ConnectRetry paces the initial connection attempts during Start.
	// The zero value uses retry.Quick.
	ConnectRetry retry.Config

	// FlushTimeout bounds the final flush during Stop.
	FlushTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = DefaultSubjectPrefix
	}
	if c.EngineID == "" {
		c.EngineID = DefaultEngineID
	}
	if c.ConnectRetry.MaxAttempts == 0 {
		c.ConnectRetry = retry.Quick()
	}
	if c.FlushTimeout == 0 {
		c.FlushTimeout = DefaultFlushTimeout
	}
	return c
}

// Deps carries the publisher's dependencies.
type Deps struct {
	Config Config

	// Client, when non-nil, is used instead of dialing URL. The caller
	// keeps ownership; Stop will not close it.
	Client *natsclient.Client

	MetricsRegistry *metric.MetricsRegistry // nil disables metrics
	Logger          *slog.Logger            // nil falls back to slog.Default
}

// StateEvent is the payload on state subjects.
type StateEvent struct {
	DeviceID  string       `json:"device_id"`
	From      device.State `json:"from"`
	To        device.State `json:"to"`
	Timestamp int64        `json:"timestamp"`
}

// DropsEvent is the payload on drops subjects. Dropped is cumulative
// for the device.
type DropsEvent struct {
	DeviceID  string `json:"device_id"`
	Dropped   uint64 `json:"dropped"`
	Timestamp int64  `json:"timestamp"`
}

// Output publishes the acquisition feed to NATS.
type Output struct {
	cfg      Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry

	client     *natsclient.Client
	ownsClient bool

	running     bool
	startTime   time.Time
	mu          sync.RWMutex
	lifecycleMu sync.Mutex // serializes Start/Stop

	errorCount atomic.Int64
}

var (
	_ component.LifecycleComponent = (*Output)(nil)
	_ engine.Consumer              = (*Output)(nil)
)

// New builds a publisher.
func New(deps Deps) *Output {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Output{
		cfg:      deps.Config.withDefaults(),
		logger:   logger.With("component", "natspub"),
		registry: deps.MetricsRegistry,
		client:   deps.Client,
	}
}

// Name implements component.Component.
func (o *Output) Name() string {
	return "natspub"
}

// Health reports publisher liveness; healthy means running with a live
// broker connection.
func (o *Output) Health() component.HealthStatus {
	o.mu.RLock()
	running := o.running
	started := o.startTime
	client := o.client
	o.mu.RUnlock()

	healthy := running && client != nil && client.IsHealthy()
	var uptime time.Duration
	if running {
		uptime = time.Since(started)
	}

	return component.HealthStatus{
		Healthy:    healthy,
		LastCheck:  time.Now(),
		ErrorCount: int(o.errorCount.Load()),
		Uptime:     uptime,
	}
}

// Initialize validates the configuration.
func (o *Output) Initialize() error {
	if o.cfg.URL == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "natspub.Output", "Initialize",
			"empty NATS URL")
	}
	for _, token := range strings.Split(o.cfg.SubjectPrefix, ".") {
		if !validToken(token) {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "natspub.Output", "Initialize",
				fmt.Sprintf("subject prefix token %q is not a valid NATS token", token))
		}
	}
	if !validToken(o.cfg.EngineID) || strings.Contains(o.cfg.EngineID, ".") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "natspub.Output", "Initialize",
			fmt.Sprintf("engine ID %q is not a single NATS token", o.cfg.EngineID))
	}
	return nil
}

// validToken reports whether s can appear as one NATS subject token.
func validToken(s string) bool {
	if s == "" {
		return false
	}
	return !strings.ContainsAny(s, " \t*>")
}

// sanitizeToken makes an arbitrary device ID safe for a subject token.
func sanitizeToken(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', ' ', '\t', '*', '>':
			return '_'
		}
		return r
	}, s)
}

// Start connects to the broker, retrying per ConnectRetry. Idempotent
// while running. The dial happens outside the state lock so Health and
// the publish paths stay responsive during a slow broker start.
func (o *Output) Start(ctx context.Context) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	o.mu.RLock()
	running := o.running
	client := o.client
	o.mu.RUnlock()

	if running {
		return nil
	}
	if ctx == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "natspub.Output", "Start",
			"context cannot be nil")
	}

	owns := false
	if client == nil {
		built, err := natsclient.NewClient(o.cfg.URL,
			natsclient.WithName("instrumentd-natspub"),
			natsclient.WithLogger(slogAdapter{o.logger}),
			natsclient.WithMetrics(o.registry),
		)
		if err != nil {
			return err
		}

		if err := retry.Do(ctx, o.cfg.ConnectRetry, func() error {
			return built.Connect(ctx)
		}); err != nil {
			_ = built.Close(context.Background())
			return errors.WrapTransient(err, "natspub.Output", "Start", "connect to NATS")
		}

		client = built
		owns = true
	}

	o.mu.Lock()
	o.client = client
	o.ownsClient = o.ownsClient || owns
	o.running = true
	o.startTime = time.Now()
	o.mu.Unlock()

	o.logger.Info("nats publisher started",
		"url", o.cfg.URL, "prefix", o.cfg.SubjectPrefix, "engine", o.cfg.EngineID)
	return nil
}

// Stop flushes pending publishes and, when this component dialed the
// connection itself, closes it. Returns nil when already stopped.
func (o *Output) Stop(timeout time.Duration) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	client := o.client
	owns := o.ownsClient
	if owns {
		o.client = nil
		o.ownsClient = false
	}
	o.mu.Unlock()

	if client == nil {
		return nil
	}

	if timeout <= 0 {
		timeout = DefaultFlushTimeout
	}
	flushTimeout := o.cfg.FlushTimeout
	if timeout < flushTimeout {
		flushTimeout = timeout
	}
	if err := client.Flush(flushTimeout); err != nil && !stderrors.Is(err, natsclient.ErrNotConnected) {
		o.logger.Warn("flush on stop", "error", err)
	}

	if owns {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := client.Close(ctx); err != nil {
			o.logger.Warn("close NATS client", "error", err)
		}
	}

	o.logger.Info("nats publisher stopped")
	return nil
}

// OnReading implements engine.Consumer.
func (o *Output) OnReading(r reading.Reading) {
	o.publish(o.subject("reading", r.DeviceID), r)
}

// OnFrame implements engine.Consumer.
func (o *Output) OnFrame(f reading.Frame) {
	o.publish(o.subject("frame", ""), f)
}

// OnDeviceStateChanged implements engine.Consumer.
func (o *Output) OnDeviceStateChanged(deviceID string, from, to device.State) {
	o.publish(o.subject("state", deviceID), StateEvent{
		DeviceID:  deviceID,
		From:      from,
		To:        to,
		Timestamp: timestamp.Now(),
	})
}

// OnDroppedReadings implements engine.Consumer.
func (o *Output) OnDroppedReadings(deviceID string, count uint64) {
	o.publish(o.subject("drops", deviceID), DropsEvent{
		DeviceID:  deviceID,
		Dropped:   count,
		Timestamp: timestamp.Now(),
	})
}

// subject builds {prefix}.{engine}.{kind} with an optional device token.
func (o *Output) subject(kind, deviceID string) string {
	if deviceID == "" {
		return o.cfg.SubjectPrefix + "." + o.cfg.EngineID + "." + kind
	}
	return o.cfg.SubjectPrefix + "." + o.cfg.EngineID + "." + kind + "." + sanitizeToken(deviceID)
}

// publish marshals and fires one message. Failures are counted, logged
// at debug, and otherwise ignored; the feed must not block.
func (o *Output) publish(subject string, payload any) {
	o.mu.RLock()
	running := o.running
	client := o.client
	o.mu.RUnlock()
	if !running || client == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		o.errorCount.Add(1)
		o.logger.Debug("marshal failed", "subject", subject, "error", err)
		return
	}

	if err := client.Publish(context.Background(), subject, data); err != nil {
		o.errorCount.Add(1)
		o.logger.Debug("publish failed", "subject", subject, "error", err)
	}
}

// slogAdapter bridges the structured logger onto natsclient.Logger.
type slogAdapter struct {
	l *slog.Logger
}

func (a slogAdapter) Printf(format string, v ...any) {
	a.l.Info(fmt.Sprintf(format, v...))
}

func (a slogAdapter) Errorf(format string, v ...any) {
	a.l.Error(fmt.Sprintf(format, v...))
}

func (a slogAdapter) Debugf(format string, v ...any) {
	a.l.Debug(fmt.Sprintf(format, v...))
}
