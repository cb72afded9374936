// Package buffer provides thread-safe circular buffers with configurable overflow policies,
// built-in statistics tracking, and optional Prometheus metrics integration.
//
// # Overview
//
// The buffer package implements the bounded hand-off queues the acquisition
// engine runs on: each device worker pushes readings into a drop-oldest buffer
// the coordinator drains, and each consumer is fed through its own drop-oldest
// buffer so a slow sink loses old data instead of stalling the tick loop.
// Buffers are generic, thread-safe, and observable through always-on
// statistics and optional metrics.
//
// # Quick Start
//
// Basic buffer creation:
//
//	buf, err := buffer.NewCircularBuffer[reading.Reading](64)
//	if err != nil {
//		return err
//	}
//
//	// Write data
//	err = buf.Write(r)
//
//	// Read data
//	value, ok := buf.Read()
//
// With drop accounting and metrics:
//
//	buf, err := buffer.NewCircularBuffer[reading.Reading](64,
//		buffer.WithOverflowPolicy[reading.Reading](buffer.DropOldest),
//		buffer.WithDropCallback[reading.Reading](func(r reading.Reading) {
//			dropped.Add(1)
//		}),
//		buffer.WithMetrics[reading.Reading](registry, "device_dmm1"),
//	)
//
// # Overflow Policies
//
// The buffer supports three overflow behaviors when capacity is reached:
//
//   - DropOldest: Remove oldest item to make room (default)
//   - DropNewest: Reject new items when full
//   - Block: Write operations wait for available space
//
// The engine's queues use DropOldest exclusively: liveness over completeness,
// with every drop counted and reported. Block is available for callers that
// prefer backpressure, via WriteWithContext/WriteWithTimeout.
//
// # Observability
//
// Statistics are always collected via atomic counters and available through
// buf.Stats(): writes, reads, overflows, drops, current/max size, throughput,
// drop rate. When a metrics registry is supplied with WithMetrics, the same
// events are exported as Prometheus counters and gauges under the
// instrumentd_buffer_* names with a component label.
//
// # Thread Safety
//
// All operations are safe for concurrent use. The engine's usage pattern is
// single-producer single-consumer per buffer, but the implementation does not
// rely on that.
package buffer
