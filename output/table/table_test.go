package table_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TaskforceCobra/instrument-contoller/device"
	"github.com/TaskforceCobra/instrument-contoller/output/table"
	"github.com/TaskforceCobra/instrument-contoller/reading"
	"github.com/TaskforceCobra/instrument-contoller/scpi"
)

func okReading(id string, seq uint64, value float64) reading.Reading {
	return reading.Reading{
		DeviceID:  id,
		Label:     "bench " + id,
		Function:  scpi.DCVoltage,
		Value:     value,
		Unit:      "V",
		Sequence:  seq,
		Timestamp: 1735000000000 + int64(seq),
		Monotonic: int64(seq) * 1_000_000,
	}
}

func errReading(id string, seq uint64) reading.Reading {
	r := okReading(id, seq, 0)
	r.Value = 0
	r.Unit = ""
	r.Err = "read timeout"
	return r
}

func TestSinkTracksLatestReading(t *testing.T) {
	s := table.New()

	s.OnReading(okReading("dmm-a", 1, 1.25))
	s.OnReading(okReading("dmm-a", 2, 1.50))

	row, ok := s.Row("dmm-a")
	require.True(t, ok)
	assert.Equal(t, "dmm-a", row.DeviceID)
	assert.Equal(t, "bench dmm-a", row.Label)
	assert.Equal(t, scpi.DCVoltage, row.Function)
	assert.Equal(t, "V", row.Unit)
	assert.Equal(t, 1.50, row.Value)
	assert.Empty(t, row.Err)
	assert.Equal(t, uint64(2), row.Sequence)
	assert.False(t, row.Stale)

	// An error cycle replaces the displayed value but keeps the unit and
	// label from the last good reading.
	s.OnReading(errReading("dmm-a", 3))
	row, _ = s.Row("dmm-a")
	assert.Equal(t, "read timeout", row.Err)
	assert.Equal(t, uint64(3), row.Sequence)
	assert.Equal(t, "V", row.Unit)
	assert.Equal(t, "bench dmm-a", row.Label)

	_, ok = s.Row("dmm-unknown")
	assert.False(t, ok)
}

func TestSinkStatistics(t *testing.T) {
	s := table.New()

	for i, v := range []float64{2.0, 4.0, 6.0} {
		s.OnReading(okReading("dmm-a", uint64(i+1), v))
	}
	s.OnReading(errReading("dmm-a", 4))
	s.OnReading(okReading("dmm-a", 5, 8.0))

	row, ok := s.Row("dmm-a")
	require.True(t, ok)

	st := row.Stats
	assert.Equal(t, uint64(5), st.Count, "error cycles count toward the total")
	assert.Equal(t, uint64(1), st.Errors)
	assert.Equal(t, 2.0, st.Min)
	assert.Equal(t, 8.0, st.Max)
	assert.InDelta(t, 5.0, st.Mean, 1e-12, "mean covers successful readings only")
	assert.Equal(t, 8.0, st.Last)
}

func TestSinkStatisticsSingleErrorOnly(t *testing.T) {
	s := table.New()
	s.OnReading(errReading("dmm-a", 1))

	row, ok := s.Row("dmm-a")
	require.True(t, ok)
	assert.Equal(t, uint64(1), row.Stats.Count)
	assert.Equal(t, uint64(1), row.Stats.Errors)
	assert.Zero(t, row.Stats.Min)
	assert.Zero(t, row.Stats.Max)
	assert.Zero(t, row.Stats.Mean)
}

func TestSinkFrameStaleFlags(t *testing.T) {
	s := table.New()
	s.OnReading(okReading("dmm-a", 1, 1.0))

	frame := reading.NewFrame(1, 1735000001000, map[string]reading.Entry{
		"dmm-a": reading.NewEntry(okReading("dmm-a", 1, 1.0)),
		"dmm-b": reading.StaleEntry(),
	})
	s.OnFrame(frame)

	assert.Equal(t, uint64(1), s.FrameIndex())

	rowA, _ := s.Row("dmm-a")
	assert.False(t, rowA.Stale)

	// A device that has never produced a reading still gets a row from the
	// frame, marked stale.
	rowB, ok := s.Row("dmm-b")
	require.True(t, ok)
	assert.True(t, rowB.Stale)
	assert.Zero(t, rowB.Stats.Count)

	// The next fresh reading clears the flag ahead of the next frame.
	s.OnReading(okReading("dmm-b", 1, 3.3))
	rowB, _ = s.Row("dmm-b")
	assert.False(t, rowB.Stale)
}

func TestSinkStateAndDrops(t *testing.T) {
	s := table.New()

	s.OnDeviceStateChanged("dmm-a", device.Disconnected, device.Connecting)
	s.OnDeviceStateChanged("dmm-a", device.Connecting, device.Connected)
	s.OnDroppedReadings("dmm-a", 7)

	row, ok := s.Row("dmm-a")
	require.True(t, ok)
	assert.Equal(t, device.Connected, row.State)
	assert.Equal(t, uint64(7), row.Drops)

	// Drop reports are cumulative, not additive.
	s.OnDroppedReadings("dmm-a", 9)
	row, _ = s.Row("dmm-a")
	assert.Equal(t, uint64(9), row.Drops)
}

func TestSinkRowsSorted(t *testing.T) {
	s := table.New()
	for _, id := range []string{"dmm-c", "dmm-a", "dmm-b"} {
		s.OnReading(okReading(id, 1, 1.0))
	}

	rows := s.Rows()
	require.Len(t, rows, 3)
	assert.Equal(t, "dmm-a", rows[0].DeviceID)
	assert.Equal(t, "dmm-b", rows[1].DeviceID)
	assert.Equal(t, "dmm-c", rows[2].DeviceID)
}

func TestSinkReset(t *testing.T) {
	s := table.New()
	s.OnReading(okReading("dmm-a", 1, 1.0))
	s.OnFrame(reading.NewFrame(4, 1735000001000, map[string]reading.Entry{
		"dmm-a": reading.StaleEntry(),
	}))

	s.Reset()

	assert.Empty(t, s.Rows())
	assert.Zero(t, s.FrameIndex())
	_, ok := s.Row("dmm-a")
	assert.False(t, ok)
}
