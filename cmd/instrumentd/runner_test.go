package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TaskforceCobra/instrument-contoller/component"
)

// scriptedComponent records lifecycle calls into a shared event log.
type scriptedComponent struct {
	name     string
	events   *[]string
	initErr  error
	startErr error
	stopErr  error
	startCtx context.Context
}

func (c *scriptedComponent) Name() string { return c.name }

func (c *scriptedComponent) Health() component.HealthStatus {
	return component.HealthStatus{Healthy: true}
}

func (c *scriptedComponent) Initialize() error {
	*c.events = append(*c.events, c.name+".init")
	return c.initErr
}

func (c *scriptedComponent) Start(ctx context.Context) error {
	*c.events = append(*c.events, c.name+".start")
	c.startCtx = ctx
	return c.startErr
}

func (c *scriptedComponent) Stop(_ time.Duration) error {
	*c.events = append(*c.events, c.name+".stop")
	return c.stopErr
}

// passiveComponent has health but no lifecycle.
type passiveComponent struct{ name string }

func (p passiveComponent) Name() string { return p.name }

func (p passiveComponent) Health() component.HealthStatus {
	return component.HealthStatus{Healthy: true}
}

func testRunner() *runner {
	return newRunner(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRunnerStartsInOrderStopsInReverse(t *testing.T) {
	var events []string
	a := &scriptedComponent{name: "a", events: &events}
	b := &scriptedComponent{name: "b", events: &events}

	r := testRunner()
	r.Add(a)
	r.Add(b)

	require.NoError(t, r.InitializeAll())
	require.NoError(t, r.StartAll(context.Background()))
	require.NoError(t, r.StopAll(time.Second))

	assert.Equal(t, []string{
		"a.init", "b.init",
		"a.start", "b.start",
		"b.stop", "a.stop",
	}, events)
}

func TestRunnerCancelsChildContextsOnStop(t *testing.T) {
	var events []string
	a := &scriptedComponent{name: "a", events: &events}

	r := testRunner()
	r.Add(a)

	require.NoError(t, r.StartAll(context.Background()))
	require.NoError(t, a.startCtx.Err())

	require.NoError(t, r.StopAll(time.Second))
	assert.Error(t, a.startCtx.Err())
}

func TestRunnerInitializeFailureStopsEarly(t *testing.T) {
	var events []string
	a := &scriptedComponent{name: "a", events: &events}
	b := &scriptedComponent{name: "b", events: &events, initErr: fmt.Errorf("bad config")}
	c := &scriptedComponent{name: "c", events: &events}

	r := testRunner()
	r.Add(a)
	r.Add(b)
	r.Add(c)

	err := r.InitializeAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initialize b")
	assert.Equal(t, []string{"a.init", "b.init"}, events)
}

func TestRunnerStartFailureLeavesCleanupToStopAll(t *testing.T) {
	var events []string
	a := &scriptedComponent{name: "a", events: &events}
	b := &scriptedComponent{name: "b", events: &events, startErr: fmt.Errorf("port busy")}

	r := testRunner()
	r.Add(a)
	r.Add(b)

	err := r.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start b")

	// Rollback stops the failed component too; real components tolerate
	// Stop without a successful Start.
	require.NoError(t, r.StopAll(time.Second))
	assert.Equal(t, []string{"a.start", "b.start", "b.stop", "a.stop"}, events)
}

func TestRunnerStopAllReportsEveryFailure(t *testing.T) {
	var events []string
	a := &scriptedComponent{name: "a", events: &events, stopErr: fmt.Errorf("stuck")}
	b := &scriptedComponent{name: "b", events: &events, stopErr: fmt.Errorf("also stuck")}

	r := testRunner()
	r.Add(a)
	r.Add(b)

	require.NoError(t, r.StartAll(context.Background()))

	err := r.StopAll(time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop a")
	assert.Contains(t, err.Error(), "stop b")
}

func TestRunnerTracksNonLifecycleComponents(t *testing.T) {
	var events []string
	a := &scriptedComponent{name: "a", events: &events}
	p := passiveComponent{name: "table"}

	r := testRunner()
	r.Add(a)
	r.Add(p)

	require.NoError(t, r.InitializeAll())
	require.NoError(t, r.StartAll(context.Background()))
	require.NoError(t, r.StopAll(time.Second))

	// The passive component never sees lifecycle calls but stays visible
	// for health reporting.
	assert.Equal(t, []string{"a.init", "a.start", "a.stop"}, events)
	assert.Equal(t, []string{"a", "table"}, r.Names())
	assert.Len(t, r.Components(), 2)
}
