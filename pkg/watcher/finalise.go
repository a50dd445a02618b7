package watcher

import (
	"time"

	"github.com/xbat/xbatctld/pkg/log"
	"github.com/xbat/xbatctld/pkg/metrics"
	"github.com/xbat/xbatctld/pkg/types"
)

// severity orders terminal scheduler states by how bad they are; the
// benchmark adopts the label of the worst state any of its jobs reached.
var severity = map[string]int{
	"COMPLETED": 0,
	"DEADLINE":  1,
	"TIMEOUT":   2,
	"CANCELLED": 3,
	"FAILED":    4,
}

var stateLabels = map[string]types.BenchmarkState{
	"COMPLETED": types.BenchmarkDone,
	"DEADLINE":  types.BenchmarkDeadline,
	"TIMEOUT":   types.BenchmarkTimeout,
	"CANCELLED": types.BenchmarkCancelled,
	"FAILED":    types.BenchmarkFailed,
}

// mostCriticalState folds the job-state lists of every job into the single
// scheduler state with the highest severity, starting from COMPLETED.
func mostCriticalState(jobIDs []int64, jobInfos map[int64]map[string]any) string {
	state := "COMPLETED"
	for _, jobID := range jobIDs {
		info := jobInfos[jobID]
		states, _ := info["jobState"].([]any)
		for _, raw := range states {
			s, ok := raw.(string)
			if !ok {
				continue
			}
			if rank, known := severity[s]; known && rank > severity[state] {
				state = s
			}
		}
	}
	return state
}

// finalise writes the benchmark's terminal state once every job has
// settled. CLI benchmarks additionally derive their start/end window from
// the earliest submit and latest end across their jobs, since registration
// happened after submission.
func (w *Watcher) finalise(benchmark *types.Benchmark, jobInfos map[int64]map[string]any) error {
	state := mostCriticalState(benchmark.JobIDs, jobInfos)

	benchmark.State = stateLabels[state]
	benchmark.EndTime = time.Now().UTC()

	if benchmark.CLI && len(jobInfos) > 0 {
		var earliestSubmit, latestEnd time.Time
		for _, info := range jobInfos {
			if t, ok := parseISOTime(info["submitTime"]); ok {
				if earliestSubmit.IsZero() || t.Before(earliestSubmit) {
					earliestSubmit = t
				}
			}
			if t, ok := parseISOTime(info["endTime"]); ok {
				if t.After(latestEnd) {
					latestEnd = t
				}
			}
		}
		if !earliestSubmit.IsZero() {
			benchmark.StartTime = earliestSubmit
		}
		if !latestEnd.IsZero() {
			benchmark.EndTime = latestEnd
		}
	}

	if err := w.store.UpdateBenchmark(benchmark); err != nil {
		return err
	}

	metrics.JobStateTransitionsTotal.WithLabelValues(string(benchmark.State)).Inc()
	lg := log.WithComponent("watcher")
	lg.Debug().
		Int64("runNr", benchmark.RunNumber).
		Str("state", string(benchmark.State)).
		Msg("benchmark finalised")
	return nil
}
