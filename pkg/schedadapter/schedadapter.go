// Package schedadapter is the scheduler adapter (component C2): a
// mutex-guarded cache over Slurm's command-line JSON output, refreshed at
// most once per RefreshInterval and force-refreshed after submissions or
// cancellations so callers never act on stale job state for long.
package schedadapter

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xbat/xbatctld/pkg/log"
)

// RefreshInterval is the staleness bound of the cache: data older than
// this is refreshed on the next call.
const RefreshInterval = 30 * time.Second

// jobCacheTTL evicts jobs whose end time is older than a week, keeping the
// in-memory job cache bounded.
const jobCacheTTL = 7 * 24 * time.Hour

// Executor runs a shell command on the managed host and returns its
// exit code and output.
type Executor interface {
	Execute(command string) (ExecResult, error)
}

// ExecResult is what an Executor returns.
type ExecResult struct {
	ReturnCode int
	Output     string
}

// TestDataMode, when true, makes the adapter read from fixture JSON
// instead of calling out to the host (dev/demo deployments).
type TestDataMode func() bool

// Version is the detected Slurm version.
type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Micro int `json:"micro"`
}

// Adapter is the scheduler adapter.
type Adapter struct {
	exec     Executor
	testData TestDataMode
	fixtures FixtureLoader

	// refreshMu serialises whole refresh cycles so concurrent stale
	// readers do not stampede the host with duplicate squeue/sinfo
	// calls. mu guards only the cached state below and is never held
	// across a host call: fetches run unlocked, then re-acquire mu just
	// long enough to commit the new snapshot.
	refreshMu sync.Mutex

	mu                     sync.Mutex
	lastUpdate             time.Time
	jobs                   map[int64]map[string]any
	nodes                  map[string]map[string]any
	partitions             map[string][]string
	previouslyRecordedJobs []int64
	version                Version
}

// FixtureLoader resolves a named test fixture to its raw JSON bytes, used
// only when TestDataMode reports true.
type FixtureLoader func(name string) ([]byte, error)

// New creates a scheduler adapter and probes the Slurm version once.
func New(exec Executor, testData TestDataMode, fixtures FixtureLoader) *Adapter {
	a := &Adapter{
		exec:     exec,
		testData: testData,
		fixtures: fixtures,
		jobs:     make(map[int64]map[string]any),
		nodes:    make(map[string]map[string]any),
		partitions: make(map[string][]string),
	}
	a.detectVersion()
	return a
}

func (a *Adapter) useTestData() bool {
	return a.testData != nil && a.testData()
}

func (a *Adapter) detectVersion() {
	if a.useTestData() {
		a.version = Version{Major: 22, Minor: 5, Micro: 6}
		return
	}
	res, err := a.exec.Execute("sinfo --json")
	if err != nil || res.ReturnCode != 0 {
		lg := log.WithComponent("schedadapter")
		lg.Error().Err(err).Msg("could not determine slurm version")
		return
	}
	var parsed struct {
		Meta map[string]struct {
			Version Version `json:"version"`
		} `json:"meta"`
	}
	if err := json.Unmarshal([]byte(res.Output), &parsed); err != nil {
		return
	}
	if m, ok := parsed.Meta["slurm"]; ok {
		a.version = m.Version
	} else if m, ok := parsed.Meta["Slurm"]; ok {
		a.version = m.Version
	}
}

// ForceRefresh resets the staleness clock so the next call re-fetches data,
// used after a submission or cancellation to avoid acting on old state.
func (a *Adapter) ForceRefresh() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastUpdate = time.Time{}
}

// staleLocked reports whether the cache needs a refresh. Callers must
// hold a.mu.
func (a *Adapter) staleLocked() bool {
	return a.lastUpdate.IsZero() || time.Since(a.lastUpdate) >= RefreshInterval
}

func (a *Adapter) refreshIfStale() {
	a.mu.Lock()
	stale := a.staleLocked()
	a.mu.Unlock()
	if !stale {
		return
	}

	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	// another caller may have finished a refresh while this one waited
	// for the refresh lock
	a.mu.Lock()
	stale = a.staleLocked()
	previouslyRecorded := append([]int64(nil), a.previouslyRecordedJobs...)
	a.mu.Unlock()
	if !stale {
		return
	}

	jobs, jobsOK := a.fetchSqueue()

	// jobs gone from squeue since the previous refresh get one forced
	// scontrol read so their terminal state is not lost
	refreshed := map[int64]map[string]any{}
	if jobsOK && !a.useTestData() {
		for _, id := range previouslyRecorded {
			if _, ok := jobs[id]; ok {
				continue
			}
			if job := a.fetchJobScontrol(id); job != nil {
				refreshed[id] = job
			}
		}
	}

	nodes, partitions, nodesOK := a.fetchSinfo()

	a.mu.Lock()
	defer a.mu.Unlock()
	if jobsOK {
		a.commitJobsLocked(jobs, refreshed)
	}
	if nodesOK {
		a.nodes = nodes
		a.partitions = partitions
	}
	a.lastUpdate = time.Now()
}

// GetJobs returns every cached job, camelCase-normalised, keyed by job id.
func (a *Adapter) GetJobs() map[int64]map[string]any {
	a.refreshIfStale()
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[int64]map[string]any, len(a.jobs))
	for k, v := range a.jobs {
		out[k] = v
	}
	return out
}

var terminalStates = map[string]bool{
	"FAILED": true, "CANCELLED": true, "COMPLETED": true, "TIMEOUT": true, "DEADLINE": true,
}

// GetActiveJobs returns only jobs that have not reached a terminal state.
// squeue --json keeps recently completed jobs around for a while, so a
// plain presence check is not enough to tell a job is still running.
func (a *Adapter) GetActiveJobs() map[int64]map[string]any {
	all := a.GetJobs()
	active := make(map[int64]map[string]any)
	for id, job := range all {
		if !hasAnyState(job, terminalStates) {
			active[id] = job
		}
	}
	return active
}

func hasAnyState(job map[string]any, terminal map[string]bool) bool {
	states, _ := job["jobState"].([]any)
	for _, s := range states {
		if str, ok := s.(string); ok && terminal[str] {
			return true
		}
	}
	return false
}

// GetNodes returns cached node records.
func (a *Adapter) GetNodes() map[string]map[string]any {
	a.refreshIfStale()
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]map[string]any, len(a.nodes))
	for k, v := range a.nodes {
		out[k] = v
	}
	return out
}

// GetPartitions returns cached partition -> node-name mappings.
func (a *Adapter) GetPartitions() map[string][]string {
	a.refreshIfStale()
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string][]string, len(a.partitions))
	for k, v := range a.partitions {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// UpdateJobByScontrol forces a single-job refresh through scontrol. squeue
// only retains completed jobs in its JSON view briefly, so the processing
// loop calls this once per job during finalisation to capture the final
// state of jobs that already aged out.
func (a *Adapter) UpdateJobByScontrol(jobID int64) {
	job := a.fetchJobScontrol(jobID)
	if job == nil {
		return
	}
	a.mu.Lock()
	a.jobs[jobID] = job
	a.mu.Unlock()
}

// LastRefresh reports when the cache snapshot was last committed; zero
// before the first refresh. Used by the health probes.
func (a *Adapter) LastRefresh() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastUpdate
}

// CancelJobs cancels the given job ids via scancel and forces a refresh.
func (a *Adapter) CancelJobs(ids []int64) error {
	if a.useTestData() {
		a.ForceRefresh()
		return nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = fmt.Sprintf("%d", id)
	}
	res, err := a.exec.Execute("scancel " + strings.Join(strs, " "))
	if err != nil || res.ReturnCode != 0 {
		return fmt.Errorf("cancel jobs %v: %w", ids, err)
	}
	a.ForceRefresh()
	return nil
}

func sortedKeys(m map[int64]bool) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
