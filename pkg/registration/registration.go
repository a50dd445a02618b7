// Package registration is the registration loop (component C7): a
// singleton poller that discovers scheduler jobs belonging to benchmarks
// that have never been watched and dispatches one processing-loop watcher
// per benchmark. It is also what binds externally submitted (CLI) jobs
// into the system - once the register endpoint has created their synthetic
// benchmark, this loop picks them up like any REST-submitted work.
package registration

import (
	"context"
	"sync"
	"time"

	"github.com/xbat/xbatctld/pkg/log"
	"github.com/xbat/xbatctld/pkg/metrics"
	"github.com/xbat/xbatctld/pkg/types"
)

// QueueTimeout is the sleep between discovery passes.
const QueueTimeout = 5 * time.Second

// JobSource is the slice of the scheduler adapter the loop needs.
type JobSource interface {
	GetJobs() map[int64]map[string]any
}

// BenchmarkFinder is the slice of the document-store gateway the loop
// needs.
type BenchmarkFinder interface {
	FindBenchmarkByJobID(jobID int64) (*types.Benchmark, error)
}

// Processor is the watcher entry point dispatched per benchmark.
type Processor interface {
	Process(ctx context.Context, runNr int64)
}

// Loop is the singleton registration loop. It remembers every run number
// it has dispatched so each benchmark gets at most one watcher for the
// lifetime of the controller.
type Loop struct {
	sched     JobSource
	store     BenchmarkFinder
	processor Processor
	interval  time.Duration

	mu         sync.Mutex
	dispatched map[int64]bool
	wg         sync.WaitGroup
}

// New creates a registration loop.
func New(sched JobSource, store BenchmarkFinder, processor Processor) *Loop {
	return &Loop{
		sched:      sched,
		store:      store,
		processor:  processor,
		interval:   QueueTimeout,
		dispatched: map[int64]bool{},
	}
}

// SetInterval overrides the sleep between discovery passes.
func (l *Loop) SetInterval(d time.Duration) {
	if d > 0 {
		l.interval = d
	}
}

// Run polls until ctx is cancelled, then waits for every dispatched
// watcher to exit.
func (l *Loop) Run(ctx context.Context) {
	logger := log.WithComponent("registration")
	logger.Debug().Msg("registration loop initialised")

	for {
		l.tick(ctx)

		select {
		case <-ctx.Done():
			l.wg.Wait()
			logger.Debug().Msg("registration loop shut down")
			return
		case <-time.After(l.interval):
		}
	}
}

// tick is one discovery pass. Errors are logged and the pass moves on;
// the next tick retries naturally.
func (l *Loop) tick(ctx context.Context) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.RegistrationCycleDuration)
		metrics.RegistrationCyclesTotal.Inc()
	}()

	logger := log.WithComponent("registration")

	for jobID := range l.sched.GetJobs() {
		benchmark, err := l.store.FindBenchmarkByJobID(jobID)
		if err != nil {
			logger.Error().Err(err).Int64("jobId", jobID).Msg("error while registering benchmarks for processing")
			continue
		}
		if benchmark == nil {
			continue
		}
		l.dispatch(ctx, benchmark.RunNumber)
	}
}

// dispatch spawns one watcher for runNr unless one was already started.
func (l *Loop) dispatch(ctx context.Context, runNr int64) {
	l.mu.Lock()
	if l.dispatched[runNr] {
		l.mu.Unlock()
		return
	}
	l.dispatched[runNr] = true
	l.mu.Unlock()

	metrics.WatchersSpawnedTotal.Inc()
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.processor.Process(ctx, runNr)
	}()
}

// WatchedCount reports how many benchmarks have been dispatched so far,
// for the metrics collector.
func (l *Loop) WatchedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.dispatched)
}
