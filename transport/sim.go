package transport

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/TaskforceCobra/instrument-contoller/errors"
)

// SchemeSim addresses a simulated instrument, useful for tests and demo
// benches with no hardware attached:
//
//	sim://dmm-1?value=12.5&noise=0.05&latency=2ms
//
// Address parameters, all optional:
//
//	value      base measurement value (default 1.0)
//	noise      uniform noise amplitude added per reading (default 0.01)
//	latency    simulated response latency (default 1ms)
//	fail_every every Nth read times out, 0 disables (default 0)
//	idn        *IDN? response override
const SchemeSim = "sim"

// SimOpener opens simulated instruments described by their address.
type SimOpener struct{}

// NewSimOpener returns the simulated-instrument opener.
func NewSimOpener() *SimOpener {
	return &SimOpener{}
}

// Open builds a simulated instrument from the address parameters.
func (SimOpener) Open(_ context.Context, address string) (Conn, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, errors.WrapInvalid(err, "SimTransport", "Open", "address parsing")
	}

	name := u.Host
	if name == "" {
		name = "sim"
	}
	c := &simConn{
		idn:     fmt.Sprintf("SimTek Instruments,SDM-4000,%s,1.0", name),
		base:    1.0,
		noise:   0.01,
		latency: time.Millisecond,
	}

	q := u.Query()
	if raw := q.Get("value"); raw != "" {
		if c.base, err = strconv.ParseFloat(raw, 64); err != nil {
			return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "SimTransport", "Open",
				fmt.Sprintf("invalid value %q", raw))
		}
	}
	if raw := q.Get("noise"); raw != "" {
		if c.noise, err = strconv.ParseFloat(raw, 64); err != nil || c.noise < 0 {
			return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "SimTransport", "Open",
				fmt.Sprintf("invalid noise %q", raw))
		}
	}
	if raw := q.Get("latency"); raw != "" {
		if c.latency, err = time.ParseDuration(raw); err != nil || c.latency < 0 {
			return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "SimTransport", "Open",
				fmt.Sprintf("invalid latency %q", raw))
		}
	}
	if raw := q.Get("fail_every"); raw != "" {
		if c.failEvery, err = strconv.Atoi(raw); err != nil || c.failEvery < 0 {
			return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "SimTransport", "Open",
				fmt.Sprintf("invalid fail_every %q", raw))
		}
	}
	if raw := q.Get("idn"); raw != "" {
		c.idn = raw
	}
	return c, nil
}

// simConn mimics a line-oriented SCPI instrument: commands without "?" are
// swallowed, queries enqueue a reply that the next Read returns after the
// configured latency.
type simConn struct {
	idn       string
	base      float64
	noise     float64
	latency   time.Duration
	failEvery int

	mu      sync.Mutex
	pending []string
	reads   int
	closed  bool
}

func (c *simConn) Write(ctx context.Context, cmd string) error {
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "SimTransport", "Write", "context check")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.WrapTransient(errors.ErrConnection, "SimTransport", "Write",
			"connection closed")
	}

	cmd = strings.TrimSpace(cmd)
	if !strings.HasSuffix(cmd, "?") {
		// Configuration and common commands produce no reply.
		return nil
	}

	var reply string
	switch {
	case strings.EqualFold(cmd, "*IDN?"):
		reply = c.idn
	case strings.EqualFold(cmd, "*TST?"):
		reply = "+0"
	case strings.EqualFold(cmd, "*OPC?"):
		reply = "1"
	case strings.HasPrefix(strings.ToUpper(cmd), "MEAS:"):
		v := c.base + c.noise*(2*rand.Float64()-1)
		reply = fmt.Sprintf("%+.8E", v)
	default:
		reply = "0"
	}
	c.pending = append(c.pending, reply)
	return nil
}

func (c *simConn) Read(ctx context.Context, timeout time.Duration) (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", errors.WrapTransient(errors.ErrConnection, "SimTransport", "Read",
			"connection closed")
	}
	c.reads++
	missed := c.failEvery > 0 && c.reads%c.failEvery == 0

	var reply string
	var have bool
	if len(c.pending) > 0 {
		reply = c.pending[0]
		c.pending = c.pending[1:]
		have = true
	}
	latency := c.latency
	c.mu.Unlock()

	// A missed reply is still consumed above so the next cycle does not see
	// a stale answer.
	if missed || !have || latency > timeout {
		if err := c.sleep(ctx, timeout); err != nil {
			return "", err
		}
		return "", errors.WrapTransient(errors.ErrTimeout, "SimTransport", "Read",
			fmt.Sprintf("no response within %v", timeout))
	}

	if err := c.sleep(ctx, latency); err != nil {
		return "", err
	}
	return reply, nil
}

func (c *simConn) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "SimTransport", "Read", "context wait")
	case <-t.C:
		return nil
	}
}

func (c *simConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.pending = nil
	return nil
}
