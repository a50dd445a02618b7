package schedadapter

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xbat/xbatctld/pkg/log"
	"github.com/xbat/xbatctld/pkg/metrics"
)

var parsedJobKeys = map[string]bool{
	"batch_host": true, "cluster": true, "command": true,
	"current_working_directory": true, "job_id": true, "job_state": true,
	"name": true, "nodes": true, "partition": true, "standard_error": true,
	"standard_output": true, "user_name": true,
}

var jobTimeKeys = map[string]bool{"end_time": true, "start_time": true, "submit_time": true}

// fetchSqueue runs squeue on the host (or reads the fixture) and parses
// the surfaced jobs. No lock is held: the host call can block for
// seconds.
func (a *Adapter) fetchSqueue() (map[int64]map[string]any, bool) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.SchedulerRefreshDuration, "jobs")
	logger := log.WithComponent("schedadapter")

	var output string
	if a.useTestData() {
		data, err := a.fixtures("squeue --json v22")
		if err != nil {
			return nil, false
		}
		output = string(data)
	} else {
		res, err := a.exec.Execute("squeue --json --all")
		if err != nil || res.ReturnCode != 0 {
			logger.Error().Err(err).Msg("squeue failed")
			return nil, false
		}
		output = res.Output
	}

	var parsed struct {
		Jobs []map[string]any `json:"jobs"`
	}
	if err := json.Unmarshal([]byte(output), &parsed); err != nil {
		return nil, false
	}

	jobs := map[int64]map[string]any{}
	for _, raw := range parsed.Jobs {
		job := parseJob(raw)
		if job == nil {
			continue
		}
		jobs[toInt64(raw["job_id"])] = job
	}
	return jobs, true
}

// fetchJobScontrol re-reads a single job via scontrol, used when a job
// drops out of squeue's window before its terminal state was captured.
// Runs unlocked like the other fetches.
func (a *Adapter) fetchJobScontrol(jobID int64) map[string]any {
	if a.useTestData() {
		return nil
	}
	res, err := a.exec.Execute(fmt.Sprintf("scontrol show job %d --json", jobID))
	if err != nil || res.ReturnCode != 0 {
		lg := log.WithComponent("schedadapter")
		lg.Error().Err(err).Int64("jobId", jobID).Msg("scontrol show job failed")
		return nil
	}
	var parsed struct {
		Jobs []map[string]any `json:"jobs"`
	}
	if err := json.Unmarshal([]byte(res.Output), &parsed); err != nil || len(parsed.Jobs) == 0 {
		return nil
	}
	return parseJob(parsed.Jobs[0])
}

// commitJobsLocked merges a freshly fetched squeue snapshot (plus any
// forced scontrol re-reads) into the cache and ages out jobs that ended
// more than jobCacheTTL ago. Callers must hold a.mu.
func (a *Adapter) commitJobsLocked(recorded, refreshed map[int64]map[string]any) {
	recordedIDs := map[int64]bool{}
	for id, job := range recorded {
		a.jobs[id] = job
		recordedIDs[id] = true
	}
	for id, job := range refreshed {
		a.jobs[id] = job
	}

	if a.useTestData() {
		return
	}

	a.previouslyRecordedJobs = sortedKeys(recordedIDs)

	cutoff := time.Now().Add(-jobCacheTTL)
	for id, job := range a.jobs {
		endTime, _ := job["endTime"].(string)
		if endTime == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, endTime)
		if err == nil && t.Before(cutoff) {
			delete(a.jobs, id)
		}
	}
}

// parseJob normalises one raw Slurm job record to camelCase, keeping only
// jobs submitted with the "xbat" feature constraint.
func parseJob(raw map[string]any) map[string]any {
	features, _ := raw["features"].(string)
	if !strings.Contains(features, "xbat") {
		return nil
	}

	job := make(map[string]any)
	for k, v := range raw {
		if !parsedJobKeys[k] && !jobTimeKeys[k] {
			continue
		}
		if m, ok := v.(map[string]any); ok {
			if n, ok := m["number"]; ok {
				v = n
			}
		}
		if jobTimeKeys[k] {
			v = unixToISO8601(v)
		}
		job[toCamelCase(k)] = v
	}

	job["standardOutput"] = replacePatterns(asString(job["standardOutput"]), job)
	job["standardError"] = replacePatterns(asString(job["standardError"]), job)

	switch js := job["jobState"].(type) {
	case string:
		job["jobState"] = []any{js}
	case []any:
		// already a list
	default:
		job["jobState"] = []any{}
	}

	return job
}

func replacePatterns(input string, job map[string]any) string {
	r := strings.NewReplacer(
		"%j", fmt.Sprintf("%v", job["jobId"]),
		"%u", asString(job["userName"]),
		"%x", asString(job["name"]),
	)
	return r.Replace(input)
}

func unixToISO8601(v any) any {
	ts := toInt64(v)
	if ts == 0 {
		return nil
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}

var nodeKeys = map[string]bool{
	"hostname": true, "cpus": true, "cores": true, "threads": true,
	"state": true, "state_flags": true, "partitions": true, "sockets": true,
	"real_memory": true,
}

// fetchSinfo fetches and parses the node/partition view. No lock is held.
func (a *Adapter) fetchSinfo() (map[string]map[string]any, map[string][]string, bool) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.SchedulerRefreshDuration, "nodes")
	logger := log.WithComponent("schedadapter")

	var output string
	if a.useTestData() {
		data, err := a.fixtures("sinfo --json v22")
		if err != nil {
			return nil, nil, false
		}
		output = string(data)
	} else {
		if (a.version == Version{}) {
			return nil, nil, false
		}
		command := "sinfo --json"
		if a.version.Major > 22 {
			command = "scontrol show nodes --json"
		}
		res, err := a.exec.Execute(command)
		if err != nil || res.ReturnCode != 0 {
			logger.Error().Err(err).Msg("sinfo failed")
			return nil, nil, false
		}
		output = res.Output
	}

	var parsed struct {
		Nodes []map[string]any `json:"nodes"`
	}
	if err := json.Unmarshal([]byte(output), &parsed); err != nil {
		return nil, nil, false
	}

	nodes := make(map[string]map[string]any)
	partitions := make(map[string][]string)

	for _, raw := range parsed.Nodes {
		hostname := asString(raw["hostname"])
		if hostname == "" {
			continue
		}
		node := make(map[string]any)
		for k, v := range raw {
			if nodeKeys[k] {
				node[toCamelCase(k)] = v
			}
		}
		nodes[hostname] = node

		if ps, ok := raw["partitions"].([]any); ok {
			for _, p := range ps {
				name := asString(p)
				partitions[name] = append(partitions[name], hostname)
			}
		}
	}

	return nodes, partitions, true
}

func toCamelCase(s string) string {
	parts := strings.Split(s, "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] == "" {
			continue
		}
		parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
	}
	return strings.Join(parts, "")
}
