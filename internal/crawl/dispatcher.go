package crawl

import (
	"context"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/claudecontext/claude-context/internal/pkg/logger"
)

// Dispatcher bounds fetch concurrency and pauses new dispatches while
// resident memory sits above the configured threshold.
type Dispatcher struct {
	sem        *semaphore.Weighted
	threshold  float64
	memPercent func() float64
	pollEvery  time.Duration
	log        *logger.Logger
}

// NewDispatcher creates a dispatcher with the given concurrency bound and
// memory threshold percent.
func NewDispatcher(maxConcurrent int, thresholdPercent int, log *logger.Logger) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	if thresholdPercent <= 0 || thresholdPercent > 100 {
		thresholdPercent = 80
	}
	return &Dispatcher{
		sem:        semaphore.NewWeighted(int64(maxConcurrent)),
		threshold:  float64(thresholdPercent),
		memPercent: heapPercent,
		pollEvery:  200 * time.Millisecond,
		log:        log,
	}
}

// heapPercent reports in-use heap as a share of memory obtained from the OS.
func heapPercent() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if m.Sys == 0 {
		return 0
	}
	return float64(m.HeapInuse) / float64(m.Sys) * 100
}

// Run executes the tasks, at most maxConcurrent at a time, waiting out
// memory pressure between dispatches. It blocks until every started task
// finishes; a context error stops new dispatches.
func (d *Dispatcher) Run(ctx context.Context, tasks []func(context.Context)) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	warned := false
	for _, task := range tasks {
		// Memory gate: hold back new dispatches while above the threshold.
		for d.memPercent() > d.threshold {
			if !warned {
				d.log.Warn("Memory pressure, pausing crawl dispatch", "threshold_pct", d.threshold)
				warned = true
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.pollEvery):
			}
		}

		if err := d.sem.Acquire(ctx, 1); err != nil {
			return err
		}

		wg.Add(1)
		go func(fn func(context.Context)) {
			defer wg.Done()
			defer d.sem.Release(1)
			fn(ctx)
		}(task)
	}

	return nil
}
