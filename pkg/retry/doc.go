// Package retry provides simple exponential backoff retry logic for transient failures.
//
// # Overview
//
// This package offers a minimal retry mechanism with exponential backoff, used
// by the acquisition daemon for broker connects and other startup resources
// that may not be reachable on the first attempt.
//
// Deliberately NOT used for instrument connects: an absent bench device goes
// Offline on its first failed open and waits for operator action, so the
// worker never wraps transport opens in retry loops.
//
// # Core Functions
//
//   - Do: Execute function with retry and exponential backoff
//   - DoWithResult: Execute function with retry, returns both result and error
//
// # Configuration Presets
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay (normal operations)
//   - Quick(): 10 attempts, 50ms-1s delay (component startup)
//   - Persistent(): 30 attempts, 200ms-10s delay (critical resources)
//
// # Usage Examples
//
// Broker connect during daemon startup:
//
//	err := retry.Do(ctx, retry.Persistent(), func() error {
//	    return client.Connect()
//	})
//
// Retry with result:
//
//	conn, err := retry.DoWithResult(ctx, retry.Quick(), func() (net.Conn, error) {
//	    return dialer.DialContext(ctx, "tcp", addr)
//	})
//
// Marking an error as not worth retrying:
//
//	if errors.IsInvalid(err) {
//	    return retry.NonRetryable(err)
//	}
//
// # Context Cancellation
//
// All retry operations respect context cancellation and stop immediately when
// the context is cancelled, either during operation execution or during the
// backoff delay.
//
// # Thread Safety
//
// All functions are safe for concurrent use.
package retry
