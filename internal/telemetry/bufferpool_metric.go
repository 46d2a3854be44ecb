package internaltelemetry

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// BufferPoolMetrics holds all the metric instruments for a buffer pool.
// A nil *BufferPoolMetrics is valid and records nothing.
type BufferPoolMetrics struct {
	HitsCounter       metric.Int64Counter
	MissesCounter     metric.Int64Counter
	EvictionsCounter  metric.Int64Counter
	WriteBacksCounter metric.Int64Counter
	FlushesCounter    metric.Int64Counter
	PinnedUpDown      metric.Int64UpDownCounter
}

// NewBufferPoolMetrics creates and registers all the metrics for the buffer pool.
func NewBufferPoolMetrics(meter metric.Meter) (*BufferPoolMetrics, error) {
	hits, err := meter.Int64Counter(
		"gojostore.bufferpool.hits_total",
		metric.WithDescription("Page fetches served from a resident frame."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	misses, err := meter.Int64Counter(
		"gojostore.bufferpool.misses_total",
		metric.WithDescription("Page fetches that had to read from disk."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	evictions, err := meter.Int64Counter(
		"gojostore.bufferpool.evictions_total",
		metric.WithDescription("Frames reclaimed from the LRU replacer."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	writeBacks, err := meter.Int64Counter(
		"gojostore.bufferpool.dirty_writebacks_total",
		metric.WithDescription("Dirty victim pages written back before frame reuse."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	flushes, err := meter.Int64Counter(
		"gojostore.bufferpool.flushes_total",
		metric.WithDescription("Pages written to disk by explicit flush calls."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	pinned, err := meter.Int64UpDownCounter(
		"gojostore.bufferpool.pinned_frames",
		metric.WithDescription("Number of frames with a non-zero pin count."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &BufferPoolMetrics{
		HitsCounter:       hits,
		MissesCounter:     misses,
		EvictionsCounter:  evictions,
		WriteBacksCounter: writeBacks,
		FlushesCounter:    flushes,
		PinnedUpDown:      pinned,
	}, nil
}

func (m *BufferPoolMetrics) Hit() {
	if m != nil {
		m.HitsCounter.Add(context.Background(), 1)
	}
}

func (m *BufferPoolMetrics) Miss() {
	if m != nil {
		m.MissesCounter.Add(context.Background(), 1)
	}
}

func (m *BufferPoolMetrics) Eviction() {
	if m != nil {
		m.EvictionsCounter.Add(context.Background(), 1)
	}
}

func (m *BufferPoolMetrics) WriteBack() {
	if m != nil {
		m.WriteBacksCounter.Add(context.Background(), 1)
	}
}

func (m *BufferPoolMetrics) Flush(n int) {
	if m != nil && n > 0 {
		m.FlushesCounter.Add(context.Background(), int64(n))
	}
}

// PinDelta records a frame entering (+1) or leaving (-1) the pinned state.
func (m *BufferPoolMetrics) PinDelta(delta int64) {
	if m != nil {
		m.PinnedUpDown.Add(context.Background(), delta)
	}
}
