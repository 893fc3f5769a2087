package recstore

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting cache metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordFetch is called after each fetch. hit reports whether a fresh
	// value was returned.
	RecordFetch(hit bool, duration time.Duration, err error)

	// RecordUpdate is called after each update.
	RecordUpdate(duration time.Duration, err error)

	// RecordEviction is called with the number of entries removed by LRU
	// eviction, explicit expiry or staleness.
	RecordEviction(n int)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordFetch(bool, time.Duration, error) {}
func (NoopMetricsCollector) RecordUpdate(time.Duration, error)      {}
func (NoopMetricsCollector) RecordEviction(int)                     {}

// BasicMetricsCollector provides simple in-memory metrics collection.
type BasicMetricsCollector struct {
	FetchCount      atomic.Int64
	FetchHits       atomic.Int64
	FetchErrors     atomic.Int64
	FetchTotalNanos atomic.Int64
	UpdateCount     atomic.Int64
	UpdateErrors    atomic.Int64
	Evictions       atomic.Int64
}

// RecordFetch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFetch(hit bool, duration time.Duration, err error) {
	b.FetchCount.Add(1)
	b.FetchTotalNanos.Add(duration.Nanoseconds())
	if hit {
		b.FetchHits.Add(1)
	}
	if err != nil {
		b.FetchErrors.Add(1)
	}
}

// RecordUpdate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUpdate(duration time.Duration, err error) {
	b.UpdateCount.Add(1)
	if err != nil {
		b.UpdateErrors.Add(1)
	}
}

// RecordEviction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEviction(n int) {
	b.Evictions.Add(int64(n))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	s := BasicMetricsStats{
		FetchCount:   b.FetchCount.Load(),
		FetchHits:    b.FetchHits.Load(),
		FetchErrors:  b.FetchErrors.Load(),
		UpdateCount:  b.UpdateCount.Load(),
		UpdateErrors: b.UpdateErrors.Load(),
		Evictions:    b.Evictions.Load(),
	}
	if s.FetchCount > 0 {
		s.FetchAvgNanos = b.FetchTotalNanos.Load() / s.FetchCount
	}
	return s
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	FetchCount    int64
	FetchHits     int64
	FetchErrors   int64
	FetchAvgNanos int64
	UpdateCount   int64
	UpdateErrors  int64
	Evictions     int64
}
