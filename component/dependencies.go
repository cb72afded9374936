package component

import (
	"log/slog"

	"github.com/TaskforceCobra/instrument-contoller/metric"
	"github.com/TaskforceCobra/instrument-contoller/natsclient"
	"github.com/TaskforceCobra/instrument-contoller/pkg/security"
)

// Dependencies provides all external dependencies needed by components.
// Components receive this structure at construction instead of individual
// fields, so new platform-level dependencies do not churn every constructor.
type Dependencies struct {
	NATSClient      *natsclient.Client      // NATS client for messaging (can be nil)
	MetricsRegistry *metric.MetricsRegistry // Metrics registry for Prometheus (can be nil)
	Logger          *slog.Logger            // Structured logger (can be nil, defaults to slog.Default())
	Security        security.Config         // Platform-wide security configuration
}

// GetLogger returns the configured logger or a default logger if none is provided
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithComponent returns a logger configured with component context
func (d *Dependencies) GetLoggerWithComponent(componentName string) *slog.Logger {
	return d.GetLogger().With("component", componentName)
}
