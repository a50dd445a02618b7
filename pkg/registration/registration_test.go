package registration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xbat/xbatctld/pkg/types"
)

type fakeJobSource struct {
	jobs map[int64]map[string]any
}

func (f *fakeJobSource) GetJobs() map[int64]map[string]any { return f.jobs }

type fakeFinder struct {
	byJob map[int64]*types.Benchmark
	err   error
}

func (f *fakeFinder) FindBenchmarkByJobID(jobID int64) (*types.Benchmark, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byJob[jobID], nil
}

type recordingProcessor struct {
	mu   sync.Mutex
	runs []int64
	done chan struct{}
}

func (r *recordingProcessor) Process(ctx context.Context, runNr int64) {
	r.mu.Lock()
	r.runs = append(r.runs, runNr)
	r.mu.Unlock()
	if r.done != nil {
		r.done <- struct{}{}
	}
}

func (r *recordingProcessor) seen() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.runs...)
}

func TestTickDispatchesEachBenchmarkOnce(t *testing.T) {
	b := &types.Benchmark{RunNumber: 7, JobIDs: []int64{500}}
	sched := &fakeJobSource{jobs: map[int64]map[string]any{500: {"jobId": int64(500)}}}
	finder := &fakeFinder{byJob: map[int64]*types.Benchmark{500: b}}
	proc := &recordingProcessor{done: make(chan struct{}, 4)}

	l := New(sched, finder, proc)

	l.tick(context.Background())
	<-proc.done
	l.tick(context.Background())
	l.tick(context.Background())

	// no second watcher for the same run number
	assert.Equal(t, []int64{7}, proc.seen())
	assert.Equal(t, 1, l.WatchedCount())
	l.wg.Wait()
}

func TestTickSkipsJobsWithoutBenchmark(t *testing.T) {
	sched := &fakeJobSource{jobs: map[int64]map[string]any{123: {"jobId": int64(123)}}}
	finder := &fakeFinder{byJob: map[int64]*types.Benchmark{}}
	proc := &recordingProcessor{}

	l := New(sched, finder, proc)
	l.tick(context.Background())

	assert.Empty(t, proc.seen())
	assert.Equal(t, 0, l.WatchedCount())
}

func TestTickDispatchesMultipleBenchmarks(t *testing.T) {
	sched := &fakeJobSource{jobs: map[int64]map[string]any{
		101: {"jobId": int64(101)},
		500: {"jobId": int64(500)},
	}}
	finder := &fakeFinder{byJob: map[int64]*types.Benchmark{
		101: {RunNumber: 1, JobIDs: []int64{101}},
		500: {RunNumber: 2, JobIDs: []int64{500}},
	}}
	proc := &recordingProcessor{done: make(chan struct{}, 4)}

	l := New(sched, finder, proc)
	l.tick(context.Background())
	<-proc.done
	<-proc.done

	assert.ElementsMatch(t, []int64{1, 2}, proc.seen())
	l.wg.Wait()
}

func TestRunStopsOnCancelAndWaitsForWatchers(t *testing.T) {
	b := &types.Benchmark{RunNumber: 7, JobIDs: []int64{500}}
	sched := &fakeJobSource{jobs: map[int64]map[string]any{500: {"jobId": int64(500)}}}
	finder := &fakeFinder{byJob: map[int64]*types.Benchmark{500: b}}
	proc := &recordingProcessor{}

	l := New(sched, finder, proc)
	l.SetInterval(time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return l.WatchedCount() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("registration loop did not stop")
	}
}
