// Package component defines the lifecycle contract and health reporting
// shared by the engine's long-running pieces.
package component

import (
	"time"
)

// Component is the minimal contract for anything the engine supervises:
// device workers, output consumers, the gateway, and the NATS publisher.
type Component interface {
	// Name returns a stable identifier used in logs, metrics, and health
	// reporting (e.g. "device:dmm-bench-1", "gateway", "natspub").
	Name() string

	// Health returns current health status
	Health() HealthStatus
}

// HealthStatus describes the current health state of a component
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Uptime     time.Duration `json:"uptime"`
}
