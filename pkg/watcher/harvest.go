package watcher

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xbat/xbatctld/pkg/log"
	"github.com/xbat/xbatctld/pkg/paths"
	"github.com/xbat/xbatctld/pkg/types"
)

// harvest persists everything currently knowable about one job: timings
// from the per-job time log (or from the scheduler snapshot for CLI jobs),
// the latest scheduler snapshot itself, and the job's captured output.
// Missing files and empty snapshots are normal mid-run and are skipped
// silently; only a missing job document is an error worth logging.
func (w *Watcher) harvest(jobID int64, directories *paths.Directories, info map[string]any) {
	logger := log.WithComponent("watcher").With().Int64("jobId", jobID).Logger()

	job, err := w.store.GetJob(jobID)
	if err != nil {
		logger.Error().Err(err).Msg("could not update job - not found in database")
		return
	}

	if directories != nil {
		w.harvestTimeLog(job, directories)
	} else {
		w.harvestCLITimes(job, info)
	}

	if len(info) > 0 {
		job.JobInfo = info
	}

	// CLI jobs have no rendered jobscript; try to read the submitted
	// script from the command path in the scheduler record, which is
	// reachable when the user's home is mounted into the container.
	if job.UserJobscriptFile == "" {
		if command, ok := info["command"].(string); ok && command != "" {
			scriptPath := paths.Internal(command)
			if data, err := os.ReadFile(scriptPath); err == nil {
				job.UserJobscriptFile = string(data)
			}
		}
	}

	if err := w.store.UpdateJob(job); err != nil {
		logger.Error().Err(err).Msg("could not persist job update")
		return
	}

	w.harvestOutput(job, directories, info)
}

// harvestTimeLog fills runtime and capture window from the
// <logs>/<jobId>.time.log file the rendered jobscript appends to.
func (w *Watcher) harvestTimeLog(job *types.Job, directories *paths.Directories) {
	timeLogPath := filepath.Join(directories.Internal.Logs, fmt.Sprintf("%d.time.log", job.JobID))
	entries, err := parseTimeLog(timeLogPath)
	if err != nil {
		return
	}

	if start, ok := entries["start"]; ok {
		if end, ok := entries["end"]; ok {
			job.RuntimeSeconds = end - start
		}
	}

	captureStart := entries["captureStart"]
	captureEnd := entries["captureEnd"]
	capture := captureEnd - captureStart
	if capture < 0 {
		capture = 0
	}
	job.CaptureSeconds = capture
	if captureStart > 0 {
		job.CaptureStart = time.Unix(captureStart, 0).UTC()
	}
	if captureEnd > 0 {
		job.CaptureEnd = time.Unix(captureEnd, 0).UTC()
	}
}

// harvestCLITimes derives timings from the scheduler snapshot instead; CLI
// jobs carry no time log since their jobscript was not rendered by us.
func (w *Watcher) harvestCLITimes(job *types.Job, info map[string]any) {
	start, startOK := parseISOTime(info["startTime"])
	end, endOK := parseISOTime(info["endTime"])

	if startOK {
		job.StartTime = start
	}
	if endOK {
		job.EndTime = end
	}
	if startOK && endOK {
		job.RuntimeSeconds = int64(end.Sub(start).Seconds())
	}
}

// harvestOutput upserts the output row for job. For submitted jobs stdout
// and stderr point at the same file under outputs/, so only stdout is
// stored; for CLI jobs both scheduler paths are tried and stderr is kept
// only when it differs from stdout.
func (w *Watcher) harvestOutput(job *types.Job, directories *paths.Directories, info map[string]any) {
	var stdout, stderr string

	if directories != nil {
		outputPath := filepath.Join(directories.Internal.Outputs, fmt.Sprintf("%d.out", job.JobID))
		data, err := os.ReadFile(outputPath)
		if err != nil {
			return
		}
		stdout = string(data)
	} else {
		stdoutPath, _ := info["standardOutput"].(string)
		stderrPath, _ := info["standardError"].(string)

		if stdoutPath != "" {
			if data, err := os.ReadFile(paths.Internal(stdoutPath)); err == nil {
				stdout = string(data)
			}
		}
		if stderrPath != "" && stderrPath != stdoutPath {
			if data, err := os.ReadFile(paths.Internal(stderrPath)); err == nil {
				stderr = string(data)
			}
		}
		if stdout == "" && stderr == "" {
			return
		}
	}

	out := &types.Output{
		RunNumber:      job.RunNumber,
		JobID:          job.JobID,
		StandardOutput: stdout,
		StandardError:  stderr,
	}
	if err := w.store.UpsertOutput(out); err != nil {
		lg := log.WithComponent("watcher")
		lg.Error().Err(err).Int64("jobId", job.JobID).Msg("could not persist output")
	}
}

// parseTimeLog reads key=epochSeconds lines; unknown keys and malformed
// lines are ignored so a partially written log never aborts a harvest.
func parseTimeLog(path string) (map[string]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries := map[string]int64{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			continue
		}
		entries[strings.TrimSpace(key)] = ts
	}
	return entries, scanner.Err()
}

func parseISOTime(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
