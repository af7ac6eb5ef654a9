// Package memory tracks the Arrow memory used to build Flight responses.
package memory

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/dataherald/console/pkg/infrastructure/metrics"
)

// TrackedAllocator wraps a memory.Allocator and counts the bytes it has
// handed out and not yet freed.
type TrackedAllocator struct {
	underlying memory.Allocator
	bytesUsed  atomic.Int64
	peak       atomic.Int64
}

// NewTrackedAllocator wraps underlying. A nil underlying uses the Go
// allocator.
func NewTrackedAllocator(underlying memory.Allocator) *TrackedAllocator {
	if underlying == nil {
		underlying = memory.NewGoAllocator()
	}
	return &TrackedAllocator{underlying: underlying}
}

// Allocate implements memory.Allocator.
func (a *TrackedAllocator) Allocate(size int) []byte {
	a.add(int64(size))
	return a.underlying.Allocate(size)
}

// Reallocate implements memory.Allocator.
func (a *TrackedAllocator) Reallocate(size int, b []byte) []byte {
	a.add(int64(size - len(b)))
	return a.underlying.Reallocate(size, b)
}

// Free implements memory.Allocator.
func (a *TrackedAllocator) Free(b []byte) {
	a.bytesUsed.Add(-int64(len(b)))
	a.underlying.Free(b)
}

func (a *TrackedAllocator) add(n int64) {
	used := a.bytesUsed.Add(n)
	for {
		peak := a.peak.Load()
		if used <= peak || a.peak.CompareAndSwap(peak, used) {
			return
		}
	}
}

// BytesUsed returns the number of bytes currently allocated.
func (a *TrackedAllocator) BytesUsed() int64 {
	return a.bytesUsed.Load()
}

// Peak returns the highest BytesUsed seen.
func (a *TrackedAllocator) Peak() int64 {
	return a.peak.Load()
}

// Observe records the current and peak usage as gauges.
func (a *TrackedAllocator) Observe(m metrics.Collector) {
	m.RecordGauge(metrics.ArrowBytesInUse, float64(a.BytesUsed()))
	m.RecordGauge(metrics.ArrowBytesPeak, float64(a.Peak()))
}

// Report calls Observe every interval until ctx is done.
func (a *TrackedAllocator) Report(ctx context.Context, m metrics.Collector, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		a.Observe(m)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
