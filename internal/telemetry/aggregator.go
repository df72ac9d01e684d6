package telemetry

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultReportInterval is the default flush period.
const DefaultReportInterval = 30 * time.Second

// Stats is one reporting interval: per-kind counts and rates computed over
// the elapsed time since the previous flush, not a sliding window.
type Stats struct {
	Interval time.Duration
	Total    uint64
	Counts   map[string]uint64
	Rates    map[string]float64
}

// Aggregator counts events and pipeline outcomes between periodic reports.
// It is an owned, explicitly passed instance: losing telemetry must never
// block or fail the pipeline, so Record does nothing but a counter bump
// under a short-lived lock.
type Aggregator struct {
	mu      sync.Mutex
	started time.Time
	counts  map[string]uint64
	total   uint64

	interval time.Duration
	log      *zap.Logger
}

// New creates an aggregator reporting every interval.
func New(interval time.Duration, log *zap.Logger) *Aggregator {
	if interval <= 0 {
		interval = DefaultReportInterval
	}
	return &Aggregator{
		started:  time.Now(),
		counts:   make(map[string]uint64),
		interval: interval,
		log:      log,
	}
}

// Record counts one occurrence of kind.
func (a *Aggregator) Record(kind string) {
	a.mu.Lock()
	a.counts[kind]++
	a.total++
	a.mu.Unlock()
}

// Snapshot returns the current interval without resetting it.
func (a *Aggregator) Snapshot() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats(time.Since(a.started))
}

// Flush returns the current interval and starts a fresh one.
func (a *Aggregator) Flush() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := a.stats(time.Since(a.started))
	a.counts = make(map[string]uint64)
	a.total = 0
	a.started = time.Now()
	return stats
}

// stats builds a Stats copy; the caller holds the lock.
func (a *Aggregator) stats(elapsed time.Duration) Stats {
	if elapsed <= 0 {
		elapsed = time.Nanosecond
	}

	counts := make(map[string]uint64, len(a.counts))
	rates := make(map[string]float64, len(a.counts))
	for kind, n := range a.counts {
		counts[kind] = n
		rates[kind] = float64(n) / elapsed.Seconds()
	}

	return Stats{
		Interval: elapsed,
		Total:    a.total,
		Counts:   counts,
		Rates:    rates,
	}
}

// Run flushes and reports on the configured interval until ctx is done,
// then reports whatever the last partial interval collected.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if stats := a.Flush(); stats.Total > 0 {
				a.report("final telemetry report", stats)
			}
			return
		case <-ticker.C:
			a.report("telemetry report", a.Flush())
		}
	}
}

func (a *Aggregator) report(msg string, stats Stats) {
	fields := []zap.Field{
		zap.Duration("interval", stats.Interval),
		zap.Uint64("total", stats.Total),
	}

	kinds := make([]string, 0, len(stats.Counts))
	for kind := range stats.Counts {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	for _, kind := range kinds {
		fields = append(fields,
			zap.Uint64(kind, stats.Counts[kind]),
			zap.Float64(kind+"_per_sec", stats.Rates[kind]),
		)
	}

	a.log.Info(msg, fields...)
}
