// Package health provides health monitoring for acquisition engine components
// with thread-safe status tracking and aggregation.
//
// The health package enables tracking the health status of individual components
// (device workers, consumer queues, the NATS publisher, the gateway) and
// aggregating engine-wide health information for monitoring, alerting, and
// operational visibility.
//
// # Health States
//
// The package supports three health states:
//   - Healthy: component operating normally
//   - Degraded: component operating with reduced functionality
//   - Unhealthy: component not functioning properly
//
// This three-state model enables nuanced health reporting and appropriate
// operational responses. A device worker in the degraded state (transient read
// failures, still retrying) warrants different handling than one marked
// unhealthy after its connection died.
//
// # Core Components
//
// Status: Individual component health state containing status level, descriptive
// message, timestamp, optional metrics, and hierarchical sub-statuses.
//
// Monitor: Thread-safe centralized tracking for multiple component health
// statuses with concurrent read/write access and automatic timestamp management.
//
// Helpers: Convenience functions for creating status objects and aggregating
// engine health.
//
// # Basic Usage
//
// Creating and tracking component health:
//
//	monitor := health.NewMonitor()
//
//	// Update component health
//	monitor.UpdateHealthy("device:dmm-bench-1", "Polling normally")
//	monitor.UpdateDegraded("device:dmm-bench-2", "2 consecutive read failures")
//	monitor.UpdateUnhealthy("natspub", "Broker connection lost")
//
//	// Check individual component health
//	if status, exists := monitor.Get("device:dmm-bench-1"); exists {
//	    if status.IsHealthy() {
//	        log.Println("Device is healthy")
//	    }
//	}
//
//	// Get all component statuses
//	allStatuses := monitor.GetAll()
//	for name, status := range allStatuses {
//	    log.Printf("%s: %s - %s", name, status.Status, status.Message)
//	}
//
// # Engine-Wide Health Aggregation
//
// Combining multiple component health statuses into a single indicator:
//
//	engineHealth := monitor.AggregateHealth("acquisition-engine")
//	if engineHealth.IsUnhealthy() {
//	    log.Printf("Engine unhealthy: %s", engineHealth.Message)
//	}
//
//	// Aggregation uses hierarchical rules:
//	// - Any unhealthy component → engine unhealthy
//	// - Any degraded component (with no unhealthy) → engine degraded
//	// - All healthy → engine healthy
//
// # Integration with Components
//
// Converting component.HealthStatus to health.Status:
//
//	deviceHealth := worker.Health() // Returns component.HealthStatus
//
//	// Convert to health.Status with automatic error sanitization
//	status := health.FromComponentHealth("device:dmm-bench-1", deviceHealth)
//
// # Security
//
// Error messages passed through FromComponentHealth are automatically sanitized
// to remove potentially sensitive information before they reach dashboards:
//
//	// Original error with instrument address
//	err := "dial tcp 10.0.20.31:5025: connection refused"
//
//	// After sanitization
//	// "dial tcp [IP][PORT]: connection refused"
//
// Sanitization patterns:
//   - URLs: http://, https://, nats://, ws://, wss:// → [URL]
//   - File paths: /path/to/file, C:\path\to\file → [PATH]
//   - IP addresses: 192.168.1.100 → [IP]
//   - Ports: :8080 → [PORT]
//   - Credentials: password=X, token=X, key=X, secret=X → [REDACTED]
//
// Lab bench addresses rarely matter, but configs frequently embed NATS
// credentials in URLs and those must never surface on /healthz.
//
// # Thread Safety
//
// All Monitor operations are thread-safe. The Monitor uses an RWMutex
// internally to allow concurrent reads while protecting writes. Status objects
// are immutable: methods like WithMetrics and WithSubStatus return new copies
// rather than modifying the original.
//
// # Design Decisions
//
// Three-State Model: healthy/degraded/unhealthy mirrors the device connection
// lifecycle, where workers pass through a degraded phase before being marked
// offline. Binary health would collapse that distinction.
//
// Automatic Sanitization: Error messages are sanitized by default (no opt-out)
// to prevent accidental credential exposure.
//
// Value-Based Status: Status is a struct, not *Status, making it immutable and
// preventing accidental mutation.
//
// Conservative Aggregation: Engine health follows "worst case" rules. A single
// unhealthy component marks the whole engine unhealthy so problems are not
// masked by healthy neighbors.
//
// # HTTP Integration
//
// The gateway serves Monitor output on its health endpoint:
//
//	func healthHandler(monitor *health.Monitor) http.HandlerFunc {
//	    return func(w http.ResponseWriter, r *http.Request) {
//	        engineHealth := monitor.AggregateHealth("acquisition-engine")
//
//	        statusCode := http.StatusOK
//	        if engineHealth.IsUnhealthy() {
//	            statusCode = http.StatusServiceUnavailable
//	        }
//
//	        w.Header().Set("Content-Type", "application/json")
//	        w.WriteHeader(statusCode)
//	        json.NewEncoder(w).Encode(engineHealth)
//	    }
//	}
package health
