package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xbat/xbatctld/pkg/paths"
	"github.com/xbat/xbatctld/pkg/store"
	"github.com/xbat/xbatctld/pkg/types"
)

// fakeScheduler scripts the adapter's view per call: states maps jobId to
// the job-state list reported, active marks which jobs still count as
// running.
type fakeScheduler struct {
	mu            sync.Mutex
	states        map[int64][]any
	active        map[int64]bool
	scontrolCalls []int64
	extra         map[int64]map[string]any
}

func (f *fakeScheduler) GetJobs() map[int64]map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[int64]map[string]any{}
	for id, states := range f.states {
		info := map[string]any{"jobId": id, "jobState": states}
		for k, v := range f.extra[id] {
			info[k] = v
		}
		out[id] = info
	}
	return out
}

func (f *fakeScheduler) GetActiveJobs() map[int64]map[string]any {
	all := f.GetJobs()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[int64]map[string]any{}
	for id, info := range all {
		if f.active[id] {
			out[id] = info
		}
	}
	return out
}

func (f *fakeScheduler) UpdateJobByScontrol(jobID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scontrolCalls = append(f.scontrolCalls, jobID)
}

func (f *fakeScheduler) settle(jobID int64, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[jobID] = []any{state}
	f.active[jobID] = false
}

func newTestWatcher(t *testing.T, sched Scheduler) (*Watcher, store.Store, string) {
	t.Helper()

	prev := paths.MountPrefix
	paths.MountPrefix = ""
	t.Cleanup(func() { paths.MountPrefix = prev })

	st, err := store.NewBoltStore(store.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	home := filepath.Join(t.TempDir(), "home", "alice")
	dirs := paths.ForHome(home)
	for _, d := range dirs.Internal.List() {
		require.NoError(t, os.MkdirAll(d, 0o755))
	}

	require.NoError(t, st.PutUser(&types.User{
		UserName:      "alice",
		UIDNumber:     1000,
		GIDNumber:     1000,
		HomeDirectory: home,
	}))

	w := New(st, sched)
	w.interval = time.Millisecond
	return w, st, home
}

func seedBenchmark(t *testing.T, st store.Store, runNr int64, jobIDs []int64) *types.Benchmark {
	t.Helper()
	b := &types.Benchmark{
		RunNumber: runNr,
		Name:      "bench",
		Issuer:    "alice",
		State:     types.BenchmarkRunning,
		JobIDs:    jobIDs,
	}
	require.NoError(t, st.CreateBenchmark(b))
	for _, id := range jobIDs {
		require.NoError(t, st.CreateJob(&types.Job{JobID: id, RunNumber: runNr}))
	}
	return b
}

func TestProcessFinalisesDoneWhenAllJobsComplete(t *testing.T) {
	sched := &fakeScheduler{
		states: map[int64][]any{101: {"COMPLETED"}, 102: {"COMPLETED"}},
		active: map[int64]bool{},
		extra:  map[int64]map[string]any{},
	}
	w, st, _ := newTestWatcher(t, sched)
	seedBenchmark(t, st, 1, []int64{101, 102})

	w.Process(context.Background(), 1)

	b, err := st.GetBenchmarkByRunNumber(1)
	require.NoError(t, err)
	assert.Equal(t, types.BenchmarkDone, b.State)
	assert.False(t, b.EndTime.IsZero())
	assert.Empty(t, b.FailureReason)

	// every job was refreshed through scontrol during finalisation
	assert.ElementsMatch(t, []int64{101, 102}, sched.scontrolCalls)
}

func TestProcessCancelledJobWins(t *testing.T) {
	sched := &fakeScheduler{
		states: map[int64][]any{101: {"COMPLETED"}, 102: {"CANCELLED"}},
		active: map[int64]bool{},
		extra:  map[int64]map[string]any{},
	}
	w, st, _ := newTestWatcher(t, sched)
	seedBenchmark(t, st, 1, []int64{101, 102})

	w.Process(context.Background(), 1)

	b, err := st.GetBenchmarkByRunNumber(1)
	require.NoError(t, err)
	assert.Equal(t, types.BenchmarkCancelled, b.State)
}

func TestProcessWaitsMinIterationsBeforeRetiring(t *testing.T) {
	// the job is invisible to squeue from the start; it must still be
	// observed minIterations times before the loop may finish
	sched := &fakeScheduler{
		states: map[int64][]any{},
		active: map[int64]bool{},
		extra:  map[int64]map[string]any{},
	}
	w, st, _ := newTestWatcher(t, sched)
	seedBenchmark(t, st, 1, []int64{101})

	start := time.Now()
	w.Process(context.Background(), 1)

	// 3 sleeps of 1ms minimum; the exact duration does not matter, only
	// that the loop did not exit on the first pass
	assert.GreaterOrEqual(t, time.Since(start), 3*time.Millisecond)
}

func TestProcessMarksBenchmarkFailedOnError(t *testing.T) {
	sched := &fakeScheduler{
		states: map[int64][]any{},
		active: map[int64]bool{},
		extra:  map[int64]map[string]any{},
	}
	w, st, _ := newTestWatcher(t, sched)

	// benchmark whose issuer cannot be resolved
	b := &types.Benchmark{RunNumber: 2, Issuer: "nobody", State: types.BenchmarkRunning, JobIDs: []int64{7}}
	require.NoError(t, st.CreateBenchmark(b))

	w.Process(context.Background(), 2)

	got, err := st.GetBenchmarkByRunNumber(2)
	require.NoError(t, err)
	assert.Equal(t, types.BenchmarkFailed, got.State)
	assert.Contains(t, got.FailureReason, "nobody")
}

func TestHarvestReadsTimeLogAndOutput(t *testing.T) {
	sched := &fakeScheduler{
		states: map[int64][]any{101: {"COMPLETED"}},
		active: map[int64]bool{},
		extra:  map[int64]map[string]any{},
	}
	w, st, home := newTestWatcher(t, sched)
	seedBenchmark(t, st, 1, []int64{101})

	dirs := paths.ForHome(home)
	timeLog := "start=1000\nend=1300\ncaptureStart=1050\ncaptureEnd=1250\n"
	require.NoError(t, os.WriteFile(
		filepath.Join(dirs.Internal.Logs, "101.time.log"), []byte(timeLog), 0o644))
	require.NoError(t, os.WriteFile(
		filepath.Join(dirs.Internal.Outputs, "101.out"), []byte("hello\n"), 0o644))

	w.Process(context.Background(), 1)

	job, err := st.GetJob(101)
	require.NoError(t, err)
	assert.Equal(t, int64(300), job.RuntimeSeconds)
	assert.Equal(t, int64(200), job.CaptureSeconds)
	assert.Equal(t, time.Unix(1050, 0).UTC(), job.CaptureStart)
	assert.Equal(t, time.Unix(1250, 0).UTC(), job.CaptureEnd)

	out, err := st.GetOutput(101)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out.StandardOutput)
	assert.Empty(t, out.StandardError)
}

func TestProcessBackfillsCLIBenchmark(t *testing.T) {
	sched := &fakeScheduler{
		states: map[int64][]any{500: {"COMPLETED"}},
		active: map[int64]bool{},
		extra: map[int64]map[string]any{
			500: {
				"userName":   "bob",
				"name":       "bobs-job",
				"submitTime": "2026-07-30T10:00:00Z",
				"startTime":  "2026-07-30T10:00:30Z",
				"endTime":    "2026-07-30T10:05:30Z",
			},
		},
	}
	w, st, _ := newTestWatcher(t, sched)

	b := &types.Benchmark{RunNumber: 9, CLI: true, State: types.BenchmarkRunning, JobIDs: []int64{500}}
	require.NoError(t, st.CreateBenchmark(b))
	require.NoError(t, st.CreateJob(&types.Job{JobID: 500, RunNumber: 9, CLI: true}))

	w.Process(context.Background(), 9)

	got, err := st.GetBenchmarkByRunNumber(9)
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Issuer)
	assert.Equal(t, "bobs-job", got.Name)
	assert.Equal(t, types.BenchmarkDone, got.State)
	// CLI window is derived from the jobs, not from wall-clock now
	assert.Equal(t, "2026-07-30T10:00:00Z", got.StartTime.Format(time.RFC3339))
	assert.Equal(t, "2026-07-30T10:05:30Z", got.EndTime.Format(time.RFC3339))

	job, err := st.GetJob(500)
	require.NoError(t, err)
	assert.Equal(t, int64(300), job.RuntimeSeconds)
}

func TestMostCriticalStateOrder(t *testing.T) {
	cases := []struct {
		states []string
		want   string
	}{
		{[]string{"COMPLETED", "COMPLETED"}, "COMPLETED"},
		{[]string{"COMPLETED", "DEADLINE"}, "DEADLINE"},
		{[]string{"DEADLINE", "TIMEOUT"}, "TIMEOUT"},
		{[]string{"TIMEOUT", "CANCELLED"}, "CANCELLED"},
		{[]string{"CANCELLED", "FAILED"}, "FAILED"},
		{[]string{"FAILED", "COMPLETED"}, "FAILED"},
	}
	for _, tc := range cases {
		infos := map[int64]map[string]any{}
		ids := make([]int64, len(tc.states))
		for i, s := range tc.states {
			id := int64(i + 1)
			ids[i] = id
			infos[id] = map[string]any{"jobState": []any{s}}
		}
		assert.Equal(t, tc.want, mostCriticalState(ids, infos), fmt.Sprintf("states %v", tc.states))
	}
}

func TestParseTimeLogSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.time.log")
	require.NoError(t, os.WriteFile(path, []byte("start=100\nnot a line\nend=abc\ncaptureStart=150\n"), 0o644))

	entries, err := parseTimeLog(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"start": 100, "captureStart": 150}, entries)
}
