package buffer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/TaskforceCobra/instrument-contoller/errors"
)

func TestCircularBufferBasicOperations(t *testing.T) {
	buf, err := NewCircularBuffer[string](3)
	require.NoError(t, err, "Failed to create buffer")
	defer buf.Close()

	require.Equal(t, 0, buf.Size())
	require.Equal(t, 3, buf.Capacity())
	require.True(t, buf.IsEmpty())
	require.False(t, buf.IsFull())

	require.NoError(t, buf.Write("first"))
	require.Equal(t, 1, buf.Size())

	require.NoError(t, buf.Write("second"))
	require.NoError(t, buf.Write("third"))

	assert.True(t, buf.IsFull())
	assert.False(t, buf.IsEmpty())

	// Peek must not consume
	value, ok := buf.Peek()
	require.True(t, ok)
	assert.Equal(t, "first", value)
	assert.Equal(t, 3, buf.Size())

	// Reads come back in write order
	value, ok = buf.Read()
	require.True(t, ok)
	assert.Equal(t, "first", value)
	assert.Equal(t, 2, buf.Size())

	batch := buf.ReadBatch(10)
	require.Len(t, batch, 2)
	assert.Equal(t, []string{"second", "third"}, batch)
	assert.True(t, buf.IsEmpty())

	// Empty reads report absence
	_, ok = buf.Read()
	assert.False(t, ok)
	assert.Nil(t, buf.ReadBatch(5))
}

func TestCircularBufferOverflowPolicies(t *testing.T) {
	testCases := []struct {
		name     string
		policy   OverflowPolicy
		expected []int
	}{
		{
			name:     "DropOldest",
			policy:   DropOldest,
			expected: []int{3, 4, 5}, // 1,2 dropped
		},
		{
			name:     "DropNewest",
			policy:   DropNewest,
			expected: []int{1, 2, 3}, // 4,5 not added
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf, err := NewCircularBuffer[int](3, WithOverflowPolicy[int](tc.policy))
			require.NoError(t, err)
			defer buf.Close()

			// Fill buffer and overflow
			for i := 1; i <= 5; i++ {
				_ = buf.Write(i)
			}

			var result []int
			for !buf.IsEmpty() {
				value, ok := buf.Read()
				if ok {
					result = append(result, value)
				}
			}

			assert.Equal(t, tc.expected, result)
		})
	}
}

func TestCircularBufferDropCallback(t *testing.T) {
	var dropped []int
	var mu sync.Mutex

	buf, err := NewCircularBuffer[int](2,
		WithOverflowPolicy[int](DropOldest),
		WithDropCallback[int](func(item int) {
			mu.Lock()
			dropped = append(dropped, item)
			mu.Unlock()
		}),
	)
	require.NoError(t, err)
	defer buf.Close()

	for i := 1; i <= 4; i++ {
		require.NoError(t, buf.Write(i))
	}

	mu.Lock()
	assert.Equal(t, []int{1, 2}, dropped, "oldest items should be handed to the drop callback in order")
	mu.Unlock()

	// Survivors are the newest writes
	assert.Equal(t, []int{3, 4}, buf.ReadBatch(10))
}

func TestCircularBufferClearInvokesCallback(t *testing.T) {
	var droppedCount atomic.Int64

	buf, err := NewCircularBuffer[int](4,
		WithDropCallback[int](func(int) { droppedCount.Add(1) }),
	)
	require.NoError(t, err)
	defer buf.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, buf.Write(i))
	}

	buf.Clear()
	assert.Equal(t, int64(3), droppedCount.Load())
	assert.True(t, buf.IsEmpty())
}

func TestCircularBufferBlockPolicyContext(t *testing.T) {
	buf, err := NewCircularBuffer[int](1, WithOverflowPolicy[int](Block))
	require.NoError(t, err)
	defer buf.Close()

	require.NoError(t, buf.Write(1))

	// Buffer full: a context-bounded write must give up when cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = buf.WriteWithContext(ctx, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	// Freeing space lets a blocked writer proceed
	done := make(chan error, 1)
	go func() {
		done <- buf.WriteWithTimeout(3, time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	_, ok := buf.Read()
	require.True(t, ok)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked write did not complete after space was freed")
	}
}

func TestCircularBufferClose(t *testing.T) {
	buf, err := NewCircularBuffer[int](2)
	require.NoError(t, err)

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Close())
	require.NoError(t, buf.Close(), "double close should be a no-op")

	err = buf.Write(2)
	require.Error(t, err)
	assert.True(t, cerrors.IsInvalid(err), "write after close should classify as invalid")
}

func TestCircularBufferStatistics(t *testing.T) {
	buf, err := NewCircularBuffer[int](2, WithOverflowPolicy[int](DropOldest))
	require.NoError(t, err)
	defer buf.Close()

	stats := buf.Stats()
	require.NotNil(t, stats, "stats are always enabled")

	_ = buf.Write(1)
	_ = buf.Write(2)
	_ = buf.Write(3) // overflow drops 1

	assert.Equal(t, int64(3), stats.Writes())
	assert.Equal(t, int64(1), stats.Overflows())
	assert.Equal(t, int64(1), stats.Drops())
	assert.Equal(t, int64(2), stats.CurrentSize())

	buf.Read()
	assert.Equal(t, int64(1), stats.Reads())

	summary := stats.Summary()
	assert.Equal(t, int64(3), summary.Writes)
	assert.InDelta(t, 1.0/3.0, summary.DropRate, 0.001)
}

func TestCircularBufferWrapAround(t *testing.T) {
	buf, err := NewCircularBuffer[int](3)
	require.NoError(t, err)
	defer buf.Close()

	// Cycle through the ring several times to exercise index wrapping
	next := 0
	for cycle := 0; cycle < 10; cycle++ {
		for i := 0; i < 3; i++ {
			require.NoError(t, buf.Write(next))
			next++
		}
		got := buf.ReadBatch(3)
		require.Len(t, got, 3)
		assert.Equal(t, []int{next - 3, next - 2, next - 1}, got)
	}
}

func TestCircularBufferConcurrentAccess(t *testing.T) {
	buf, err := NewCircularBuffer[int](1000)
	require.NoError(t, err)
	defer buf.Close()

	var wg sync.WaitGroup
	numWorkers := 8
	itemsPerWorker := 200

	var readCount atomic.Int64

	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < itemsPerWorker; i++ {
				_ = buf.Write(worker*itemsPerWorker + i)
			}
		}(w)
	}

	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < itemsPerWorker; i++ {
				if _, ok := buf.Read(); ok {
					readCount.Add(1)
				}
			}
		}()
	}

	wg.Wait()

	// Everything written is either still buffered or was read or dropped
	stats := buf.Stats()
	total := int64(numWorkers * itemsPerWorker)
	assert.Equal(t, total, stats.Writes())
	assert.Equal(t, readCount.Load()+int64(buf.Size())+stats.Drops(), total)
}

func TestCircularBufferMinimumCapacity(t *testing.T) {
	buf, err := NewCircularBuffer[int](0)
	require.NoError(t, err)
	defer buf.Close()

	assert.Equal(t, 1, buf.Capacity(), "zero capacity should clamp to 1")
}
