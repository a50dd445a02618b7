package schedadapter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xbat/xbatctld/pkg/log"
	"github.com/xbat/xbatctld/pkg/metrics"
)

var jobIDPattern = regexp.MustCompile(`\d+`)

// Submit runs sbatch for one jobscript as the target user and returns the
// assigned job id. Variables are passed through as --export, and an empty
// nodelist in configuration is omitted (an explicit empty --nodelist value
// makes Slurm reject the submission).
func (a *Adapter) Submit(username, jobscriptPath, homedir string, configuration map[string]any, variables map[string]any) (int64, error) {
	if a.useTestData() {
		return fakeJobID(), nil
	}

	var exports []string
	for k, v := range variables {
		exports = append(exports, fmt.Sprintf("%s=%v", k, v))
	}

	command := fmt.Sprintf("sbatch --constraint xbat --chdir=%s --exclusive --wait-all-nodes=1", homedir)
	if len(exports) > 0 {
		command += " --export=" + strings.Join(exports, ",")
	}
	if nodelist, _ := configuration["nodelist"].(string); nodelist != "" {
		command += " --nodelist=" + nodelist
	}
	command += " " + jobscriptPath

	wrapped := fmt.Sprintf(`su - %s -c "%s"`, username, command)

	res, err := a.exec.Execute(wrapped)
	if err != nil || res.ReturnCode != 0 {
		lg := log.WithComponent("schedadapter")
		lg.Error().Err(err).Str("output", res.Output).Msg("job submission failed")
		return 0, fmt.Errorf("submission of job failed: %s", res.Output)
	}

	match := jobIDPattern.FindString(res.Output)
	if match == "" {
		return 0, fmt.Errorf("could not determine job id from submission output")
	}
	jobID, err := strconv.ParseInt(match, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse job id: %w", err)
	}

	a.ForceRefresh()
	metrics.JobsSubmittedTotal.Inc()
	lg := log.WithComponent("schedadapter")
	lg.Debug().Int64("jobId", jobID).Msg("submitted job")
	return jobID, nil
}

// fakeJobID is used under TestDataMode, where no real scheduler exists to
// assign one.
var fakeJobIDCounter int64 = 900000

func fakeJobID() int64 {
	fakeJobIDCounter++
	return fakeJobIDCounter
}
