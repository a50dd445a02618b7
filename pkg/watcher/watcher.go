// Package watcher is the processing loop (component C6): one Watcher task
// per benchmark, polling the scheduler adapter until every job of the
// benchmark has settled, harvesting job info, timings and captured output
// along the way, and writing the benchmark's final state.
package watcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xbat/xbatctld/pkg/log"
	"github.com/xbat/xbatctld/pkg/metrics"
	"github.com/xbat/xbatctld/pkg/paths"
	"github.com/xbat/xbatctld/pkg/store"
	"github.com/xbat/xbatctld/pkg/types"
	"github.com/xbat/xbatctld/pkg/xerrors"
)

const (
	// JobStateInterval is the sleep between processing iterations. It
	// should not be smaller than the scheduler adapter's refresh bound,
	// otherwise WatchMinIterations must be adjusted.
	JobStateInterval = 30 * time.Second

	// WatchMinIterations is how many iterations a job must be observed
	// before it may be retired from the remaining set. A just-submitted
	// job is not immediately visible in squeue's JSON output, so an
	// absence in the first iterations is not evidence of completion.
	WatchMinIterations = 3
)

// Scheduler is the slice of the scheduler adapter the watcher needs.
type Scheduler interface {
	GetJobs() map[int64]map[string]any
	GetActiveJobs() map[int64]map[string]any
	UpdateJobByScontrol(jobID int64)
}

// Watcher drives benchmarks through their processing loop.
type Watcher struct {
	store store.Store
	sched Scheduler

	// interval/minIterations default to JobStateInterval and
	// WatchMinIterations; tests shrink them.
	interval      time.Duration
	minIterations int
}

// New creates a Watcher over the given store and scheduler adapter.
func New(st store.Store, sched Scheduler) *Watcher {
	return &Watcher{
		store:         st,
		sched:         sched,
		interval:      JobStateInterval,
		minIterations: WatchMinIterations,
	}
}

// SetInterval overrides the sleep between processing iterations.
func (w *Watcher) SetInterval(d time.Duration) {
	if d > 0 {
		w.interval = d
	}
}

// Process watches the benchmark identified by runNr until all of its jobs
// are terminal, then finalises it. Any error is caught here: the benchmark
// is marked failed with the error message and other watchers are
// unaffected. ctx cancellation is only honoured at sleep boundaries; one
// extra iteration on shutdown is acceptable.
func (w *Watcher) Process(ctx context.Context, runNr int64) {
	logger := log.WithComponent("watcher").With().Int64("runNr", runNr).Logger()
	logger.Debug().Msg("processing benchmark")

	if err := w.process(ctx, runNr); err != nil {
		if ctx.Err() != nil {
			logger.Info().Msg("processing interrupted by shutdown")
			return
		}
		logger.Error().Err(err).Msg("processing of benchmark failed")
		perr := xerrors.NewProcessingError(runNr, err)
		if b, getErr := w.store.GetBenchmarkByRunNumber(runNr); getErr == nil {
			b.State = types.BenchmarkFailed
			b.FailureReason = perr.Error()
			if updErr := w.store.UpdateBenchmark(b); updErr != nil {
				logger.Error().Err(updErr).Msg("could not persist benchmark failure")
			}
		}
	}
}

func (w *Watcher) process(ctx context.Context, runNr int64) error {
	benchmark, err := w.store.GetBenchmarkByRunNumber(runNr)
	if err != nil {
		return fmt.Errorf("load benchmark: %w", err)
	}

	var directories *paths.Directories
	if !benchmark.CLI {
		user, err := w.store.GetUser(benchmark.Issuer)
		if err != nil {
			return fmt.Errorf("load issuer %q: %w", benchmark.Issuer, err)
		}
		if user.HomeDirectory == "" || !containsHome(user.HomeDirectory) {
			return fmt.Errorf("invalid home directory for user %q", benchmark.Issuer)
		}
		d := paths.ForHome(user.HomeDirectory)
		directories = &d
	}

	jobInfos := map[int64]map[string]any{}
	remaining := append([]int64(nil), benchmark.JobIDs...)
	iteration := 0
	// CLI benchmarks carry no issuer or name at registration time; both
	// are backfilled exactly once from the first scheduler record seen.
	initialUpdateRequired := benchmark.CLI

	for len(remaining) > 0 {
		cycle := metrics.NewTimer()
		active := w.sched.GetActiveJobs()
		snapshot := w.sched.GetJobs()

		kept := remaining[:0]
		for _, jobID := range remaining {
			if info, ok := snapshot[jobID]; ok {
				jobInfos[jobID] = info

				if initialUpdateRequired {
					benchmark.Issuer, _ = info["userName"].(string)
					benchmark.Name, _ = info["name"].(string)
					if err := w.store.UpdateBenchmark(benchmark); err != nil {
						return fmt.Errorf("backfill cli benchmark: %w", err)
					}
					initialUpdateRequired = false
				}
			}

			w.harvest(jobID, directories, snapshot[jobID])

			_, stillActive := active[jobID]
			if stillActive || iteration < w.minIterations {
				kept = append(kept, jobID)
			}
		}
		remaining = kept
		cycle.ObserveDuration(metrics.ProcessingCycleDuration)

		if len(remaining) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.interval):
		}
		iteration++
	}

	// Very short jobs can drop out of squeue before their terminal state
	// was captured; refresh each one through scontrol and harvest once
	// more from the refreshed snapshot.
	for _, jobID := range benchmark.JobIDs {
		w.sched.UpdateJobByScontrol(jobID)
	}
	snapshot := w.sched.GetJobs()
	for _, jobID := range benchmark.JobIDs {
		if info, ok := snapshot[jobID]; ok {
			jobInfos[jobID] = info
			w.harvest(jobID, directories, info)
		}
	}

	return w.finalise(benchmark, jobInfos)
}

func containsHome(dir string) bool {
	// a looser check than the prefix test at submission time: the directory
	// only has to contain "home", guarding against stray directory entries.
	return strings.Contains(dir, "home")
}
