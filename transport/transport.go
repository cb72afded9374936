// Package transport carries SCPI command text to instruments and lines back.
//
// Device addresses are URLs whose scheme selects the transport: tcp:// dials
// a raw SCPI socket, sim:// opens a simulated instrument. A Registry maps
// schemes to Openers; NewDefaultRegistry returns one with both built-in
// schemes registered.
//
// A Conn belongs to exactly one device worker and is not safe for concurrent
// use. Close is safe to call more than once.
package transport

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/TaskforceCobra/instrument-contoller/errors"
)

// Opener dials one address scheme.
type Opener interface {
	Open(ctx context.Context, address string) (Conn, error)
}

// Conn is a command/response channel to one instrument.
//
// Write sends one command; the transport supplies the line terminator. Read
// blocks for at most timeout (sooner when ctx carries an earlier deadline)
// and returns one response line with terminators stripped.
type Conn interface {
	Write(ctx context.Context, cmd string) error
	Read(ctx context.Context, timeout time.Duration) (string, error)
	Close() error
}

// Registry maps address schemes to openers.
type Registry struct {
	mu      sync.RWMutex
	openers map[string]Opener
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{openers: make(map[string]Opener)}
}

// NewDefaultRegistry returns a registry with the built-in schemes: "tcp"
// (raw SCPI socket) and "sim" (simulated instrument).
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(SchemeTCP, NewTCPOpener())
	_ = r.Register(SchemeSim, NewSimOpener())
	return r
}

// Register binds a scheme to an opener. Re-registering a scheme replaces the
// previous opener.
func (r *Registry) Register(scheme string, o Opener) error {
	if scheme == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "TransportRegistry", "Register",
			"scheme cannot be empty")
	}
	if o == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "TransportRegistry", "Register",
			"opener cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openers[scheme] = o
	return nil
}

// Schemes lists the registered schemes.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.openers))
	for s := range r.openers {
		out = append(out, s)
	}
	return out
}

// Open parses the address, dispatches to the scheme's opener, and applies
// any transport-level address options. The only such option is "pace", a
// duration enforcing a minimum interval between commands for instruments
// that cannot absorb back-to-back writes ("tcp://10.1.2.3:5025?pace=100ms").
func (r *Registry) Open(ctx context.Context, address string) (Conn, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, errors.WrapInvalid(err, "TransportRegistry", "Open", "address parsing")
	}
	if u.Scheme == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "TransportRegistry", "Open",
			fmt.Sprintf("address %q has no scheme", address))
	}

	r.mu.RLock()
	opener, ok := r.openers[u.Scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "TransportRegistry", "Open",
			fmt.Sprintf("unknown transport scheme %q", u.Scheme))
	}

	var pace time.Duration
	if raw := u.Query().Get("pace"); raw != "" {
		pace, err = time.ParseDuration(raw)
		if err != nil || pace <= 0 {
			return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "TransportRegistry", "Open",
				fmt.Sprintf("invalid pace %q", raw))
		}
	}

	conn, err := opener.Open(ctx, address)
	if err != nil {
		return nil, err
	}
	if pace > 0 {
		conn = NewPacedConn(conn, pace)
	}
	return conn, nil
}

// pacedConn enforces a minimum interval between writes. Reads pass through.
type pacedConn struct {
	Conn
	limiter *rate.Limiter
}

// NewPacedConn wraps a connection so consecutive writes are at least
// interval apart. The first write is not delayed.
func NewPacedConn(conn Conn, interval time.Duration) Conn {
	return &pacedConn{
		Conn:    conn,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

func (p *pacedConn) Write(ctx context.Context, cmd string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return errors.WrapTransient(err, "PacedConn", "Write", "pacing wait")
	}
	return p.Conn.Write(ctx, cmd)
}
