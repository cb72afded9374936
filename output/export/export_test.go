package export_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/TaskforceCobra/instrument-contoller/errors"
	"github.com/TaskforceCobra/instrument-contoller/metric"
	"github.com/TaskforceCobra/instrument-contoller/output/export"
	"github.com/TaskforceCobra/instrument-contoller/reading"
	"github.com/TaskforceCobra/instrument-contoller/scpi"
)

func quietBuffer(t *testing.T, capacity int) *export.Buffer {
	t.Helper()
	b, err := export.New(export.Deps{
		Config: export.Config{Capacity: capacity},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return b
}

func rec(id string, seq uint64, fn scpi.Function) reading.Reading {
	return reading.Reading{
		DeviceID:  id,
		Function:  fn,
		Value:     float64(seq),
		Unit:      "V",
		Sequence:  seq,
		Timestamp: 1735000000000 + int64(seq),
	}
}

func TestBufferStoresInArrivalOrder(t *testing.T) {
	b := quietBuffer(t, 10)

	b.OnReading(rec("dmm-a", 1, scpi.DCVoltage))
	b.OnReading(rec("dmm-b", 1, scpi.Resistance2W))
	b.OnReading(rec("dmm-a", 2, scpi.DCVoltage))

	all := b.Readings("", 0)
	require.Len(t, all, 3)
	assert.Equal(t, "dmm-a", all[0].DeviceID)
	assert.Equal(t, "dmm-b", all[1].DeviceID)
	assert.Equal(t, uint64(2), all[2].Sequence)

	onlyA := b.Readings("dmm-a", 0)
	require.Len(t, onlyA, 2)
	assert.Equal(t, uint64(1), onlyA[0].Sequence)
	assert.Equal(t, uint64(2), onlyA[1].Sequence)

	newest := b.Readings("dmm-a", 1)
	require.Len(t, newest, 1)
	assert.Equal(t, uint64(2), newest[0].Sequence)

	// Non-destructive: a second read sees the same data.
	assert.Len(t, b.Readings("", 0), 3)
	assert.Equal(t, 3, b.Len())
}

func TestBufferEvictsOldestAtCapacity(t *testing.T) {
	b := quietBuffer(t, 3)

	for seq := uint64(1); seq <= 5; seq++ {
		b.OnReading(rec("dmm-a", seq, scpi.DCVoltage))
	}

	assert.Equal(t, 3, b.Len())
	assert.Equal(t, uint64(2), b.Dropped())

	kept := b.Readings("", 0)
	require.Len(t, kept, 3)
	assert.Equal(t, uint64(3), kept[0].Sequence, "oldest readings give way first")
	assert.Equal(t, uint64(5), kept[2].Sequence)
}

func TestBufferDrain(t *testing.T) {
	b := quietBuffer(t, 10)
	for seq := uint64(1); seq <= 4; seq++ {
		b.OnReading(rec("dmm-a", seq, scpi.DCVoltage))
	}

	drained := b.Drain()
	require.Len(t, drained, 4)
	assert.Equal(t, uint64(1), drained[0].Sequence)
	assert.Equal(t, uint64(4), drained[3].Sequence)

	assert.Zero(t, b.Len())
	assert.Empty(t, b.Drain())

	// The ring is reusable after a drain.
	b.OnReading(rec("dmm-a", 5, scpi.DCVoltage))
	assert.Equal(t, 1, b.Len())
}

func TestBufferClearKeepsEvictionCount(t *testing.T) {
	b := quietBuffer(t, 2)
	for seq := uint64(1); seq <= 3; seq++ {
		b.OnReading(rec("dmm-a", seq, scpi.DCVoltage))
	}
	require.Equal(t, uint64(1), b.Dropped())

	b.Clear()
	assert.Zero(t, b.Len())
	assert.Equal(t, uint64(1), b.Dropped(), "eviction counter is cumulative")

	// Refill past capacity to exercise the recycled storage.
	for seq := uint64(10); seq <= 13; seq++ {
		b.OnReading(rec("dmm-a", seq, scpi.DCVoltage))
	}
	kept := b.Readings("", 0)
	require.Len(t, kept, 2)
	assert.Equal(t, uint64(12), kept[0].Sequence)
	assert.Equal(t, uint64(13), kept[1].Sequence)
}

func TestBufferStats(t *testing.T) {
	b := quietBuffer(t, 10)
	b.OnReading(rec("dmm-b", 1, scpi.Resistance2W))
	b.OnReading(rec("dmm-a", 1, scpi.DCVoltage))
	b.OnReading(rec("dmm-a", 2, scpi.DCVoltage))
	b.OnDroppedReadings("dmm-a", 4)

	st := b.Stats()
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 10, st.Capacity)
	assert.Zero(t, st.Dropped)
	assert.Equal(t, []string{"dmm-a", "dmm-b"}, st.Devices)
	assert.Equal(t, []string{string(scpi.DCVoltage), string(scpi.Resistance2W)}, st.Functions)
	assert.Equal(t, int64(1735000000001), st.First)
	assert.Equal(t, int64(1735000000002), st.Last)
	assert.Equal(t, uint64(4), st.PipelineDrops["dmm-a"])

	empty := quietBuffer(t, 10).Stats()
	assert.Zero(t, empty.Total)
	assert.Empty(t, empty.Devices)
	assert.Zero(t, empty.First)
}

func TestBufferDefaultCapacity(t *testing.T) {
	b, err := export.New(export.Deps{})
	require.NoError(t, err)
	assert.Equal(t, export.DefaultCapacity, b.Capacity())
}

func TestBufferRejectsNegativeCapacity(t *testing.T) {
	_, err := export.New(export.Deps{Config: export.Config{Capacity: -1}})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalid(err))
}

func TestBufferRegistersMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	_, err := export.New(export.Deps{
		Config:          export.Config{Capacity: 8},
		MetricsRegistry: registry,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	// A second buffer against the same registry collides on metric names.
	_, err = export.New(export.Deps{
		Config:          export.Config{Capacity: 8},
		MetricsRegistry: registry,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalid(err))
}
