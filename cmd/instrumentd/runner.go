package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/TaskforceCobra/instrument-contoller/component"
)

// runner coordinates the daemon's component lifecycle: Initialize and Start
// in registration order, Stop in reverse. Each lifecycle component gets its
// own child context so one can be cancelled without tearing down the rest.
type runner struct {
	logger     *slog.Logger
	components []*component.ManagedComponent
}

func newRunner(logger *slog.Logger) *runner {
	return &runner{logger: logger.With("component", "runner")}
}

// Add appends a component in start order. Components without lifecycle
// methods are tracked for health reporting only.
func (r *runner) Add(c component.Component) {
	r.components = append(r.components, &component.ManagedComponent{
		Component:  c,
		State:      component.StateCreated,
		StartOrder: len(r.components),
	})
}

// Components returns the tracked components in registration order.
func (r *runner) Components() []component.Component {
	out := make([]component.Component, 0, len(r.components))
	for _, mc := range r.components {
		out = append(out, mc.Component)
	}
	return out
}

// Names returns the tracked component names in registration order.
func (r *runner) Names() []string {
	out := make([]string, 0, len(r.components))
	for _, mc := range r.components {
		out = append(out, mc.Component.Name())
	}
	return out
}

// InitializeAll validates every lifecycle component before anything starts,
// so configuration mistakes surface before the first listener binds.
func (r *runner) InitializeAll() error {
	for _, mc := range r.components {
		lc, ok := component.AsLifecycleComponent(mc.Component)
		if !ok {
			mc.State = component.StateInitialized
			continue
		}
		if err := lc.Initialize(); err != nil {
			mc.State = component.StateFailed
			mc.LastError = err
			return fmt.Errorf("initialize %s: %w", mc.Component.Name(), err)
		}
		mc.State = component.StateInitialized
		r.logger.Debug("component initialized", "name", mc.Component.Name())
	}
	return nil
}

// StartAll starts lifecycle components in registration order and fails fast
// on the first error, leaving cleanup to StopAll.
func (r *runner) StartAll(ctx context.Context) error {
	for _, mc := range r.components {
		lc, ok := component.AsLifecycleComponent(mc.Component)
		if !ok {
			mc.State = component.StateStarted
			continue
		}

		mc.Context, mc.Cancel = context.WithCancel(ctx)
		if err := lc.Start(mc.Context); err != nil {
			mc.State = component.StateFailed
			mc.LastError = err
			mc.Cancel()
			return fmt.Errorf("start %s: %w", mc.Component.Name(), err)
		}
		mc.State = component.StateStarted
		r.logger.Info("component started", "name", mc.Component.Name(), "order", mc.StartOrder)
	}
	return nil
}

// StopAll stops lifecycle components in reverse start order, cancelling each
// component's context after its Stop returns. Every failure is reported;
// a slow component does not shield the ones before it.
func (r *runner) StopAll(timeout time.Duration) error {
	var errs []error
	for i := len(r.components) - 1; i >= 0; i-- {
		mc := r.components[i]

		lc, ok := component.AsLifecycleComponent(mc.Component)
		if ok && mc.State != component.StateCreated {
			stopStart := time.Now()
			if err := lc.Stop(timeout); err != nil {
				mc.State = component.StateFailed
				mc.LastError = err
				r.logger.Error("component stop failed",
					"name", mc.Component.Name(),
					"duration_ms", time.Since(stopStart).Milliseconds(),
					"error", err)
				errs = append(errs, fmt.Errorf("stop %s: %w", mc.Component.Name(), err))
			} else {
				r.logger.Debug("component stopped",
					"name", mc.Component.Name(),
					"duration_ms", time.Since(stopStart).Milliseconds())
				mc.State = component.StateStopped
			}
		} else {
			mc.State = component.StateStopped
		}

		if mc.Cancel != nil {
			mc.Cancel()
			mc.Cancel = nil
		}
	}
	return errors.Join(errs...)
}
