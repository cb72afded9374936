package buffer

import (
	"testing"
)

// BenchmarkBufferWrite measures Write throughput under the drop policies used
// by the acquisition queues.
func BenchmarkBufferWrite(b *testing.B) {
	benchmarks := []struct {
		name     string
		capacity int
		policy   OverflowPolicy
	}{
		{"Circular_64_DropOldest", 64, DropOldest},
		{"Circular_256_DropOldest", 256, DropOldest},
		{"Circular_256_DropNewest", 256, DropNewest},
	}

	for _, bm := range benchmarks {
		b.Run(bm.name, func(b *testing.B) {
			buf, err := NewCircularBuffer[int](bm.capacity, WithOverflowPolicy[int](bm.policy))
			if err != nil {
				b.Fatal(err)
			}
			defer buf.Close()

			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				i := 0
				for pb.Next() {
					buf.Write(i)
					i++
				}
			})
		})
	}
}

// BenchmarkBufferReadWrite measures a mixed producer/consumer workload, the
// shape of worker queue draining during a session.
func BenchmarkBufferReadWrite(b *testing.B) {
	buf, err := NewCircularBuffer[int](256, WithOverflowPolicy[int](DropOldest))
	if err != nil {
		b.Fatal(err)
	}
	defer buf.Close()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if i%2 == 0 {
				buf.Write(i)
			} else {
				buf.Read()
			}
			i++
		}
	})
}

// BenchmarkBufferReadBatch measures batch draining as the coordinator does at
// each frame tick.
func BenchmarkBufferReadBatch(b *testing.B) {
	buf, err := NewCircularBuffer[int](1024, WithOverflowPolicy[int](DropOldest))
	if err != nil {
		b.Fatal(err)
	}
	defer buf.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j := 0; j < 64; j++ {
			buf.Write(j)
		}
		buf.ReadBatch(64)
	}
}
