// Package errors provides standardized error handling for the acquisition
// engine.
//
// # Overview
//
// The package implements a three-class error classification system: Transient
// (temporary, retryable), Invalid (bad input, non-retryable), and Fatal
// (unrecoverable, stop processing for the affected device or component).
//
// Classification lets components make retry and degradation decisions without
// string matching. The device worker's state machine is built on it: a
// Transient poll error moves a device to Degraded, a Fatal connect error moves
// it to Offline, and Invalid errors are rejected synchronously at the control
// surface before any polling begins.
//
// # Engine taxonomy
//
// The acquisition-specific error variables map onto the classes as follows:
//
//   - ErrConnection (Fatal): transport open/close failed, device unreachable.
//     The owning worker goes Offline and does not retry.
//   - ErrTimeout (Transient): no response within the read bound.
//   - ErrProtocol (Transient): a response arrived but could not be parsed.
//     Retryable up to the device's retry limit, then terminal for the device.
//   - ErrUnsupportedFunction (Invalid): rejected at registration, never seen
//     during polling.
//   - ErrSessionAlreadyRunning, ErrSessionNotRunning (Invalid):
//     control-surface misuse, returned directly to the caller.
//
// # Error wrapping
//
// All wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions set classification while wrapping:
//
//	errors.WrapTransient(err, "deviceWorker", "poll", "read response")
//	errors.WrapInvalid(err, "engine", "RegisterDevice", "validate config")
//	errors.WrapFatal(err, "deviceWorker", "connect", "open transport")
//
// The plain Wrap function adds context without changing the classification
// carried by the wrapped error. Standard library errors.Is, errors.As and
// Unwrap work across the whole chain.
//
// # Retry integration
//
// RetryConfig carries backoff policy and converts to the retry package's
// Config via ToRetryConfig, so classification-aware callers can do:
//
//	cfg := errors.DefaultRetryConfig()
//	err := retry.Do(ctx, cfg.ToRetryConfig(), func(ctx context.Context) error {
//	    return client.Connect(ctx)
//	})
//
// Context errors (context.DeadlineExceeded, context.Canceled) classify as
// Transient, matching how transport read deadlines surface.
package errors
