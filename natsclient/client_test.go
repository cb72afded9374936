package natsclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/TaskforceCobra/instrument-contoller/errors"
	"github.com/TaskforceCobra/instrument-contoller/metric"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Equal(t, -1, client.MaxReconnects())
	assert.Equal(t, 2*time.Second, client.ReconnectWait())
	assert.Equal(t, 30*time.Second, client.PingInterval())
	assert.Equal(t, time.Second, client.Backoff())
}

func TestConnectionStatusString(t *testing.T) {
	cases := map[ConnectionStatus]string{
		StatusDisconnected:    "disconnected",
		StatusConnecting:      "connecting",
		StatusConnected:       "connected",
		StatusReconnecting:    "reconnecting",
		StatusCircuitOpen:     "circuit_open",
		ConnectionStatus(255): "unknown",
	}
	for status, want := range cases {
		assert.Equal(t, want, status.String())
	}
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	client, err := NewClient("nats://invalid:4222")
	require.NoError(t, err)

	// Four failures stay below the default threshold of five.
	for i := 0; i < 4; i++ {
		client.recordFailure()
	}
	assert.NotEqual(t, StatusCircuitOpen, client.Status())

	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
	assert.Equal(t, int32(5), client.Failures())
}

func TestCircuitBreakerCustomThreshold(t *testing.T) {
	client, err := NewClient("nats://invalid:4222", WithCircuitBreakerThreshold(2))
	require.NoError(t, err)

	client.recordFailure()
	assert.NotEqual(t, StatusCircuitOpen, client.Status())

	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
}

func TestCircuitBreakerReset(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	require.Equal(t, StatusCircuitOpen, client.Status())

	client.resetCircuit()
	assert.Equal(t, int32(0), client.Failures())
	assert.Equal(t, time.Second, client.Backoff())
	assert.NotEqual(t, StatusCircuitOpen, client.Status())
}

func TestCircuitBreakerExponentialBackoff(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, time.Second, client.Backoff())

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 2*time.Second, client.Backoff())

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 4*time.Second, client.Backoff())

	// Backoff caps at the configured maximum.
	for i := 0; i < 20; i++ {
		for j := 0; j < 5; j++ {
			client.recordFailure()
		}
	}
	assert.LessOrEqual(t, client.Backoff(), time.Minute)
}

func TestConcurrentFailureRecording(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client.recordFailure()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(20), client.Failures())
	assert.Equal(t, StatusCircuitOpen, client.Status())
}

func TestConnectRespectsOpenCircuit(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	require.Equal(t, StatusCircuitOpen, client.Status())

	err = client.Connect(context.Background())
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestConnectFailureIsTransient(t *testing.T) {
	// Port 1 refuses immediately; no server needed.
	client, err := NewClient("nats://127.0.0.1:1",
		WithTimeout(500*time.Millisecond),
		WithMaxReconnects(0),
		WithHealthInterval(0),
	)
	require.NoError(t, err)

	err = client.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsTransient(err))
	assert.Equal(t, int32(1), client.Failures())
	assert.Equal(t, StatusDisconnected, client.Status())
}

func TestWaitForConnection(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = client.WaitForConnection(ctx)
	assert.Error(t, err, "never becomes healthy without a connection")

	client.setStatus(StatusConnected)
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	assert.NoError(t, client.WaitForConnection(ctx2))
}

func TestPublishWhenNotConnected(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	err = client.Publish(context.Background(), "instrument.test", []byte("{}"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSubscribeWhenNotConnected(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	err = client.Subscribe(context.Background(), "instrument.>", func(context.Context, []byte) {})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestFlushWhenNotConnected(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.ErrorIs(t, client.Flush(time.Second), ErrNotConnected)
}

func TestRTTWhenNotConnected(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	_, err = client.RTT()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestCloseIdempotent(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.NoError(t, client.Close(context.Background()))
	assert.NoError(t, client.Close(context.Background()), "second close")
	assert.Equal(t, StatusDisconnected, client.Status())
}

func TestConnectionOptionsReflectConfig(t *testing.T) {
	base, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	baseCount := len(base.ConnectionOptions())

	full, err := NewClient("nats://localhost:4222",
		WithCredentials("bench", "secret"),
		WithToken("tok"),
		WithTLS("cert.pem", "key.pem", "ca.pem"),
		WithName("instrumentd"),
		WithCompression(true),
	)
	require.NoError(t, err)

	// user/pass + token + client cert + root CA + name + compression
	assert.Equal(t, baseCount+6, len(full.ConnectionOptions()))
}

func TestOptionClamps(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithCircuitBreakerThreshold(0),
		WithMaxBackoff(10*time.Millisecond),
		WithLogger(nil),
	)
	require.NoError(t, err)

	assert.Equal(t, int32(5), client.circuitThreshold)
	assert.Equal(t, time.Minute, client.maxBackoff)
	assert.NotNil(t, client.logger)
}

func TestGetStatusSnapshot(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	client.recordFailure()
	st := client.GetStatus()
	assert.Equal(t, StatusDisconnected, st.Status)
	assert.Equal(t, int32(1), st.FailureCount)
	assert.False(t, st.LastFailureTime.IsZero())
	assert.Equal(t, int32(0), st.Reconnects)
}

func TestClientMetricsRegistration(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	_, err := NewClient("nats://localhost:4222", WithMetrics(registry))
	require.NoError(t, err)

	// Same registry cannot host a second client's collectors.
	_, err = NewClient("nats://localhost:4222", WithMetrics(registry))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalid(err))

	// Nil registry disables metrics without error.
	client, err := NewClient("nats://localhost:4222", WithMetrics(nil))
	require.NoError(t, err)
	assert.Nil(t, client.metrics)
}

func TestNilMetricsRecordersAreSafe(t *testing.T) {
	var m *clientMetrics
	m.setConnected(true)
	m.recordReconnect()
	m.recordDisconnect()
	m.recordCircuitOpen()
	m.recordPublish(16)
	m.recordPublishError()
	m.recordAsyncError()
	m.observeRTT(time.Millisecond)
}
