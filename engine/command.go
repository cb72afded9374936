package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/TaskforceCobra/instrument-contoller/device"
	"github.com/TaskforceCobra/instrument-contoller/errors"
	"github.com/TaskforceCobra/instrument-contoller/scpi"
)

// SendCommand writes one raw SCPI command to an idle instrument and, for
// queries, returns the trimmed reply. The target is either a registered
// device ID or a bus address. Manual commands are refused while a session is
// running so they never interleave with a polling worker on the same
// connection.
func (e *Engine) SendCommand(ctx context.Context, target, command string) (reply string, err error) {
	defer func() { e.em.recordCommand(err) }()

	if !e.running.Load() {
		return "", errors.WrapInvalid(errors.ErrNotStarted,
			"Engine", "SendCommand", "engine state")
	}

	command = strings.TrimSpace(command)
	if command == "" {
		return "", errors.WrapInvalid(fmt.Errorf("empty command"),
			"Engine", "SendCommand", "command validation")
	}
	if strings.ContainsAny(command, "\r\n") {
		return "", errors.WrapInvalid(fmt.Errorf("command must be a single line"),
			"Engine", "SendCommand", "command validation")
	}

	e.mu.RLock()
	if e.session != nil {
		e.mu.RUnlock()
		return "", errors.WrapInvalid(errors.ErrSessionAlreadyRunning,
			"Engine", "SendCommand", "session control")
	}
	address := target
	readTimeout := device.DefaultReadTimeout
	if cfg, ok := e.devices[target]; ok {
		address = cfg.Address
		readTimeout = cfg.ReadTimeout
	}
	e.mu.RUnlock()

	opCtx, cancel := context.WithTimeout(ctx, readTimeout+scanProbeTimeout)
	defer cancel()

	conn, err := e.transports.Open(opCtx, address)
	if err != nil {
		return "", errors.WrapTransient(err, "Engine", "SendCommand",
			fmt.Sprintf("connect %s", address))
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			e.logger.Warn("command connection close", "address", address, "error", cerr)
		}
	}()

	start := time.Now()
	if err := conn.Write(opCtx, command); err != nil {
		return "", errors.WrapTransient(err, "Engine", "SendCommand",
			fmt.Sprintf("write to %s", address))
	}

	if scpi.IsQuery(command) {
		raw, rerr := conn.Read(opCtx, readTimeout)
		if rerr != nil {
			return "", errors.WrapTransient(rerr, "Engine", "SendCommand",
				fmt.Sprintf("read from %s", address))
		}
		reply = strings.TrimSpace(raw)
	}

	e.logger.Info("manual command sent",
		"target", target, "address", address, "command", command,
		"query", scpi.IsQuery(command), "duration", time.Since(start))
	return reply, nil
}
