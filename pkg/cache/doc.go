// Package cache provides a generic, thread-safe TTL cache with built-in
// observability.
//
// Entries expire after a fixed time-to-live and a background goroutine
// removes expired entries on a cleanup interval. The primary consumer is
// the bus scanner, which remembers instrument identity strings so that
// repeated scans of the same address range do not re-query every device.
//
// # Quick Start
//
// TTL cache with automatic expiration:
//
//	cache, err := cache.NewTTL[string](ctx, 30*time.Second, 10*time.Second)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer cache.Close()
//
//	cache.Set("tcp://10.0.0.5:5025", "Keysight,34465A,MY57501234,A.03.02")
//	identity, ok := cache.Get("tcp://10.0.0.5:5025")
//
// With metrics and an eviction callback:
//
//	cache, err := cache.NewTTL[string](ctx, 30*time.Second, 10*time.Second,
//		cache.WithMetrics[string](registry, "scan_identity"),
//		cache.WithEvictionCallback[string](func(addr string, identity string) {
//			log.Printf("identity expired: %s", addr)
//		}),
//	)
//
// Driven by configuration (disabled configs yield a no-op cache):
//
//	cache, err := cache.NewFromConfig[string](ctx, cfg)
//
// # Expiration Semantics
//
// Every entry carries an expiry deadline set at write time. Expiration is
// enforced in two places:
//
//   - Lazily on read: Get, Keys, and Size never return expired entries.
//     A Get that finds an expired entry deletes it and reports a miss.
//   - Eagerly in the background: a cleanup goroutine sweeps the map every
//     cleanupInterval and removes expired entries, firing the eviction
//     callback for each.
//
// Set on an existing key resets the entry's deadline. The boolean returned
// by Set reports whether the key was newly created.
//
// # Observability Architecture
//
// The cache implements a dual-tracking pattern:
//
// Statistics (Always On):
//   - Tracks all operations using atomic counters
//   - Zero configuration required
//   - Available via cache.Stats()
//   - Provides computed metrics (hit ratio, requests/sec)
//   - No external dependencies
//
// Prometheus Metrics (Optional):
//   - Enabled via WithMetrics() option
//   - Exports to Prometheus for time-series monitoring
//   - Includes a component label for instance identification
//   - Standard metric types (Counter, Gauge)
//
// Both layers track operations independently. Statistics stay available in
// tests and minimal deployments where no Prometheus registry exists, and
// they provide derived values (hit ratio, requests/sec) that raw counters
// do not. Reading values back out of Prometheus for programmatic access was
// rejected: it is roughly an order of magnitude slower than an atomic load
// and couples basic stats to the metrics stack.
//
// # Configuration Options
//
// The package uses functional options for composable configuration:
//
//	cache, err := cache.NewTTL[V](ctx, ttl, cleanupInterval,
//		cache.WithMetrics[V](registry, "component"),
//		cache.WithEvictionCallback[V](callback),
//		cache.WithStatsInterval[V](time.Minute),
//	)
//
// Available options:
//   - WithMetrics: Enable Prometheus metrics export
//   - WithEvictionCallback: Get notified when entries expire or are cleared
//   - WithStatsInterval: Set stats aggregation interval for the cleanup loop
//
// # Performance Characteristics
//
//   - Get: O(1) map lookup + expiry check
//   - Set: O(1) map insert
//   - Keys/Size: O(n) scan that filters expired entries
//   - Cleanup: O(n) sweep every cleanupInterval
//   - Memory: O(n) map + per-entry expiry tracking
//
// Dual tracking adds one atomic increment per operation, plus one counter
// increment and one gauge set when Prometheus metrics are enabled. The
// overhead is tens of nanoseconds per operation.
//
// # Context and Cleanup
//
// The cache runs a background cleanup goroutine. Pass a context that will
// be canceled when cleanup should stop, or call Close explicitly:
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//
//	cache, _ := cache.NewTTL[V](ctx, ttl, cleanupInterval)
//	// Cleanup goroutine stops when ctx is canceled or Close is called
//
// Close is idempotent and waits briefly for the cleanup goroutine to exit.
//
// # Testing
//
// Statistics make testing cache behavior straightforward:
//
//	cache, _ := cache.NewTTL[int](ctx, time.Minute, time.Second)
//	cache.Set("key", 42)
//	_, _ = cache.Get("key")
//	assert.Equal(t, int64(1), cache.Stats().Hits())
//
// The no-op cache returned for disabled configs always misses, reports
// size zero, and returns nil Stats, so call sites need no conditional
// wiring.
package cache
