package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/TaskforceCobra/instrument-contoller/errors"
)

// SchemeTCP addresses a raw SCPI socket: "tcp://10.1.2.3:5025". Port 5025 is
// the conventional instrument socket port and is assumed when omitted.
const SchemeTCP = "tcp"

const defaultSCPIPort = "5025"

// maxResponseLine bounds a single response line; anything longer is treated
// as a protocol failure rather than buffered without limit.
const maxResponseLine = 64 * 1024

// TCPOpener dials instruments over raw TCP sockets.
type TCPOpener struct {
	// DialTimeout bounds connection establishment when the caller's context
	// carries no earlier deadline.
	DialTimeout time.Duration
}

// NewTCPOpener returns an opener with a 5s dial timeout.
func NewTCPOpener() *TCPOpener {
	return &TCPOpener{DialTimeout: 5 * time.Second}
}

// Open dials the instrument. Failure to connect is terminal for the device,
// so the error is classified fatal with errors.ErrConnection as its cause.
func (o *TCPOpener) Open(ctx context.Context, address string) (Conn, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, errors.WrapInvalid(err, "TCPTransport", "Open", "address parsing")
	}
	host := u.Host
	if host == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "TCPTransport", "Open",
			fmt.Sprintf("address %q has no host", address))
	}
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), defaultSCPIPort)
	}

	d := net.Dialer{Timeout: o.DialTimeout}
	netConn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, errors.WrapFatal(errors.ErrConnection, "TCPTransport", "Open",
			fmt.Sprintf("dial %s: %v", host, err))
	}

	return &tcpConn{
		conn:   netConn,
		reader: bufio.NewReaderSize(netConn, 4096),
	}, nil
}

// tcpConn implements Conn over a net.Conn with line-oriented reads.
type tcpConn struct {
	conn      net.Conn
	reader    *bufio.Reader
	closeOnce sync.Once
	closeErr  error
}

// Write sends one command terminated with "\n". Timeouts map to
// errors.ErrTimeout; any other failure means the connection is gone.
func (c *tcpConn) Write(ctx context.Context, cmd string) error {
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "TCPTransport", "Write", "context check")
	}

	deadline := time.Now().Add(5 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return errors.WrapTransient(errors.ErrConnection, "TCPTransport", "Write",
			fmt.Sprintf("set deadline: %v", err))
	}

	if !strings.HasSuffix(cmd, "\n") {
		cmd += "\n"
	}
	if _, err := c.conn.Write([]byte(cmd)); err != nil {
		if isTimeout(err) {
			return errors.WrapTransient(errors.ErrTimeout, "TCPTransport", "Write",
				"write timed out")
		}
		return errors.WrapTransient(errors.ErrConnection, "TCPTransport", "Write",
			fmt.Sprintf("write: %v", err))
	}
	return nil
}

// Read returns one response line with "\r\n" terminators stripped. A missing
// response within the timeout maps to errors.ErrTimeout; any other read
// failure is treated as a malformed response (errors.ErrProtocol).
func (c *tcpConn) Read(ctx context.Context, timeout time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.WrapTransient(err, "TCPTransport", "Read", "context check")
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return "", errors.WrapTransient(errors.ErrConnection, "TCPTransport", "Read",
			fmt.Sprintf("set deadline: %v", err))
	}

	line, isPrefix, err := c.reader.ReadLine()
	if err != nil {
		if isTimeout(err) {
			return "", errors.WrapTransient(errors.ErrTimeout, "TCPTransport", "Read",
				fmt.Sprintf("no response within %v", timeout))
		}
		return "", errors.WrapTransient(errors.ErrProtocol, "TCPTransport", "Read",
			fmt.Sprintf("read: %v", err))
	}
	if isPrefix {
		// Line exceeds the reader buffer; drain the remainder so the next
		// read starts at a line boundary.
		total := len(line)
		for isPrefix && err == nil && total <= maxResponseLine {
			var rest []byte
			rest, isPrefix, err = c.reader.ReadLine()
			total += len(rest)
		}
		return "", errors.WrapTransient(errors.ErrProtocol, "TCPTransport", "Read",
			fmt.Sprintf("response line exceeds %d bytes", total))
	}
	return string(line), nil
}

// Close shuts the connection down. Safe to call more than once; later calls
// return the first result.
func (c *tcpConn) Close() error {
	c.closeOnce.Do(func() {
		if err := c.conn.Close(); err != nil {
			c.closeErr = errors.Wrap(err, "TCPTransport", "Close", "connection close")
		}
	})
	return c.closeErr
}

func isTimeout(err error) bool {
	netErr, ok := err.(net.Error)
	return ok && netErr.Timeout()
}
