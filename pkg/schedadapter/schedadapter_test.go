package schedadapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	calls   []string
	outputs map[string]ExecResult
}

func (f *fakeExecutor) Execute(command string) (ExecResult, error) {
	f.calls = append(f.calls, command)
	if res, ok := f.outputs[command]; ok {
		return res, nil
	}
	return ExecResult{ReturnCode: 0}, nil
}

func alwaysTestData() bool { return true }

func TestToCamelCase(t *testing.T) {
	assert.Equal(t, "jobId", toCamelCase("job_id"))
	assert.Equal(t, "standardOutput", toCamelCase("standard_output"))
	assert.Equal(t, "name", toCamelCase("name"))
}

func TestParseJobRequiresXbatFeature(t *testing.T) {
	raw := map[string]any{
		"job_id":          float64(42),
		"features":        "other",
		"job_state":       "RUNNING",
		"name":            "bench",
		"user_name":       "alice",
		"standard_output": "%j.out",
		"standard_error":  "%j.err",
	}
	assert.Nil(t, parseJob(raw))

	raw["features"] = "xbat"
	job := parseJob(raw)
	require.NotNil(t, job)
	assert.Equal(t, []any{"RUNNING"}, job["jobState"])
	assert.Equal(t, "42.out", job["standardOutput"])
}

func TestSubmitUsesTestDataShortCircuit(t *testing.T) {
	exec := &fakeExecutor{outputs: map[string]ExecResult{}}
	a := New(exec, alwaysTestData, func(string) ([]byte, error) { return []byte(`{}`), nil })

	jobID, err := a.Submit("alice", "/home/alice/job.sh", "/home/alice", map[string]any{}, nil)
	require.NoError(t, err)
	assert.Greater(t, jobID, int64(0))
	assert.Empty(t, exec.calls, "submit under test-data mode must not shell out")
}

const squeueOutput = `{"jobs": [
	{"job_id": 7, "features": "xbat", "job_state": ["RUNNING"], "name": "bench",
	 "user_name": "alice", "standard_output": "/home/alice/%j.out", "standard_error": "/home/alice/%j.out"}
]}`

const sinfoOutput = `{"meta": {"slurm": {"version": {"major": 22, "minor": 5, "micro": 6}}},
"nodes": [{"hostname": "cn01", "cpus": 8, "state": "idle", "partitions": ["compute"]}]}`

func TestRefreshCommitsSnapshotFromHost(t *testing.T) {
	exec := &fakeExecutor{outputs: map[string]ExecResult{
		"sinfo --json":       {ReturnCode: 0, Output: sinfoOutput},
		"squeue --json --all": {ReturnCode: 0, Output: squeueOutput},
	}}
	a := New(exec, func() bool { return false }, nil)

	jobs := a.GetJobs()
	require.Contains(t, jobs, int64(7))
	assert.Equal(t, "/home/alice/7.out", jobs[7]["standardOutput"])

	nodes := a.GetNodes()
	require.Contains(t, nodes, "cn01")

	partitions := a.GetPartitions()
	assert.Equal(t, []string{"cn01"}, partitions["compute"])

	assert.False(t, a.LastRefresh().IsZero())

	// a second read within the staleness bound answers from the cache
	calls := len(exec.calls)
	a.GetJobs()
	assert.Equal(t, calls, len(exec.calls))
}

func TestRefreshForcesScontrolForDroppedJobs(t *testing.T) {
	exec := &fakeExecutor{outputs: map[string]ExecResult{
		"sinfo --json":       {ReturnCode: 0, Output: sinfoOutput},
		"squeue --json --all": {ReturnCode: 0, Output: squeueOutput},
		"scontrol show job 9 --json": {ReturnCode: 0, Output: `{"jobs": [
			{"job_id": 9, "features": "xbat", "job_state": ["COMPLETED"], "name": "gone",
			 "user_name": "alice", "standard_output": "", "standard_error": ""}]}`},
	}}
	a := New(exec, func() bool { return false }, nil)

	// job 9 was seen on a previous refresh but no longer shows in squeue
	a.previouslyRecordedJobs = []int64{9}

	jobs := a.GetJobs()
	require.Contains(t, jobs, int64(9))
	assert.Equal(t, []any{"COMPLETED"}, jobs[9]["jobState"])
	assert.Contains(t, exec.calls, "scontrol show job 9 --json")
}

func TestRefreshFromFixtures(t *testing.T) {
	fixtures := map[string]string{
		"squeue --json v22": `{"jobs": [{"job_id": 101, "features": "xbat", "job_state": ["RUNNING"],
			"name": "demo", "user_name": "demo", "standard_output": "", "standard_error": ""}]}`,
		"sinfo --json v22": sinfoOutput,
	}
	exec := &fakeExecutor{outputs: map[string]ExecResult{}}
	a := New(exec, alwaysTestData, func(name string) ([]byte, error) {
		return []byte(fixtures[name]), nil
	})

	jobs := a.GetJobs()
	require.Contains(t, jobs, int64(101))
	assert.Contains(t, a.GetNodes(), "cn01")
	assert.Empty(t, exec.calls, "fixture mode must not shell out")
}

func TestCancelJobsForcesRefresh(t *testing.T) {
	exec := &fakeExecutor{outputs: map[string]ExecResult{
		"scancel 1 2": {ReturnCode: 0},
	}}
	a := New(exec, func() bool { return false }, nil)

	err := a.CancelJobs([]int64{1, 2})
	require.NoError(t, err)
	assert.True(t, a.lastUpdate.IsZero())
}
