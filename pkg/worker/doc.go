// Package worker provides a generic, thread-safe worker pool for concurrent task processing.
//
// # Overview
//
// The worker package implements a worker pool pattern with:
//   - Generic type support for type-safe work processing
//   - Bounded queues with backpressure (non-blocking submit)
//   - Context-aware cancellation and graceful shutdown
//   - Always-on statistics plus optional Prometheus metrics
//   - Configurable worker count and queue sizing
//
// The acquisition engine uses it to fan out bus scan probes: each candidate
// address becomes a work item, and a small fixed pool of workers opens the
// address, sends an identification query, and records the result without
// serializing the whole sweep.
//
// # Core Concepts
//
// The pool manages a fixed number of goroutines (workers) that process work
// items from a bounded channel (queue). This provides resource control (fixed
// memory and goroutine overhead), backpressure (queue fills when workers can't
// keep up), and load distribution across workers.
//
// Using Go generics, the pool processes any work type T without type
// assertions:
//
//	type probeTask struct {
//	    Address string
//	}
//
//	pool := worker.NewPool[probeTask](
//	    4,   // workers
//	    64,  // queue size
//	    func(ctx context.Context, task probeTask) error {
//	        // Open the address and identify the instrument
//	        return nil
//	    },
//	)
//
// Statistics are ALWAYS tracked using atomic operations; Prometheus metrics
// are opt-in via WithMetricsRegistry, matching the convention used throughout
// the engine.
//
// # Architecture Decisions
//
// Non-Blocking Submit with Backpressure:
//
// Submit() uses a non-blocking send (select with default case) rather than
// blocking on a full queue. Callers never block waiting for queue space, and
// ErrQueueFull is a clear overload signal.
//
// Context-Based Cancellation:
//
// Workers receive context from Start() and check it on each iteration. The
// processor function signature func(context.Context, T) error lets work
// processors respect cancellation themselves.
//
// Graceful Shutdown with Timeout:
//
// Stop(timeout) closes the work channel, lets workers drain remaining queue
// items, and waits for all workers with a timeout. ErrStopTimeout is returned
// if workers don't finish. The timeout applies to the entire pool shutdown;
// per-work-item timeouts belong in the processor function.
//
// # Usage
//
//	pool := worker.NewPool[probeTask](4, 64, probe,
//	    worker.WithMetricsRegistry[probeTask](registry, "bus_scan"),
//	)
//
//	ctx := context.Background()
//	if err := pool.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Stop(5 * time.Second)
//
//	for _, addr := range candidates {
//	    if err := pool.Submit(probeTask{Address: addr}); err != nil {
//	        if errors.Is(err, worker.ErrQueueFull) {
//	            // Sweep is overloaded; skip or back off
//	        }
//	    }
//	}
//
// With a registry the pool exposes bus_scan_queue_depth, bus_scan_utilization,
// bus_scan_submitted_total, bus_scan_processed_total, bus_scan_failed_total,
// bus_scan_dropped_total, and bus_scan_processing_duration_seconds.
//
// # Thread Safety
//
// All public methods are safe for concurrent use. Submit is lock-free using
// channel semantics; Start and Stop are protected by a lifecycle mutex; Stats
// uses atomic loads. Lifecycle guarantees:
//   - Start() can only be called once
//   - Submit() fails if not started or already stopped
//   - Stop() is idempotent
//   - Workers complete in-flight work before exiting
//
// # Error Handling
//
// The worker package uses standard sentinel errors (not classified errors)
// because pool errors are always programming errors or resource exhaustion:
//
//   - ErrPoolNotStarted: Submit before Start
//   - ErrPoolAlreadyStarted: Start called twice
//   - ErrPoolStopped: expected after Stop()
//   - ErrQueueFull: backpressure signal
//   - ErrNilProcessor: validation failure
//   - ErrStopTimeout: workers stuck
//
// Processor functions can return classified errors and the pool tracks them in
// the failed counter without interpreting them.
//
// # Known Limitations
//
//  1. No per-work-item timeout: implement in processor function
//  2. No priority queues: all work processed FIFO
//  3. No work cancellation: can't cancel individual queued items
//  4. Queue depth metrics: 1-second granularity (ticker-based)
//  5. No dynamic worker scaling: worker count is fixed
//
// These are design decisions. The package prioritizes simplicity and
// predictability over feature richness.
package worker
