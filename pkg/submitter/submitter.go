// Package submitter is the submitter (component C5): it turns a pending
// benchmark into scheduler jobs by resolving the issuer's identity,
// preparing their per-user xbat directories, expanding permutations and
// handing each one to the scheduler adapter, persisting a job document for
// every permutation that lands.
package submitter

import (
	"fmt"
	"os"
	"strings"

	"github.com/xbat/xbatctld/pkg/log"
	"github.com/xbat/xbatctld/pkg/metrics"
	"github.com/xbat/xbatctld/pkg/paths"
	"github.com/xbat/xbatctld/pkg/permutation"
	"github.com/xbat/xbatctld/pkg/store"
	"github.com/xbat/xbatctld/pkg/types"
	"github.com/xbat/xbatctld/pkg/xerrors"
)

// UserResolver is satisfied by the user directory adapter (C3).
type UserResolver interface {
	GetUserInfo(username string) (*types.User, error)
	// DirOwnedByUser verifies both the numeric owner and that the owning
	// uid still resolves to the expected name.
	DirOwnedByUser(path, username string, uid, gid int) (bool, error)
}

// SchedulerSubmitter is satisfied by the scheduler adapter (C2).
type SchedulerSubmitter interface {
	Submit(username, jobscriptPath, homedir string, configuration map[string]any, variables map[string]any) (int64, error)
}

// Submitter wires C3, C4 and C2 together and persists the resulting jobs
// through C9.
type Submitter struct {
	users     UserResolver
	scheduler SchedulerSubmitter
	store     store.Store
	templates permutation.Templates

	// homePrefix guards against a misconfigured home directory: resolved
	// homes must begin under this prefix or submission aborts before any
	// directory is touched.
	homePrefix string

	// chown/chmod are overridable for tests; in production they wrap
	// os.Chown/os.Chmod.
	chown func(path string, uid, gid int) error
	chmod func(path string, mode os.FileMode) error
}

// New creates a Submitter.
func New(users UserResolver, scheduler SchedulerSubmitter, st store.Store, templates permutation.Templates, homePrefix string) *Submitter {
	return &Submitter{
		users:      users,
		scheduler:  scheduler,
		store:      st,
		templates:  templates,
		homePrefix: homePrefix,
		chown:      os.Chown,
		chmod:      os.Chmod,
	}
}

// Run is the asynchronous task boundary around Submit: it persists the
// outcome on the benchmark and never propagates an error upward. A
// benchmark with at least one landed job becomes running; zero landed jobs
// or a setup failure marks it failed with a concrete reason.
func (s *Submitter) Run(benchmark *types.Benchmark) {
	logger := log.WithRunNumber(benchmark.RunNumber)
	logger.Debug().Msg("submitting jobs for benchmark")

	jobIDs, err := s.Submit(benchmark)
	switch {
	case err != nil:
		logger.Error().Err(err).Msg("submission of benchmark jobs failed")
		benchmark.State = types.BenchmarkFailed
		benchmark.FailureReason = err.Error()
		metrics.BenchmarksSubmittedTotal.WithLabelValues("failed").Inc()
	case len(jobIDs) == 0:
		logger.Warn().Msg("no jobs submitted for benchmark")
		benchmark.State = types.BenchmarkFailed
		benchmark.FailureReason = "No jobs were submitted"
		metrics.BenchmarksSubmittedTotal.WithLabelValues("failed").Inc()
	default:
		logger.Debug().Ints64("jobIds", jobIDs).Msg("submitted benchmark")
		benchmark.JobIDs = jobIDs
		benchmark.State = types.BenchmarkRunning
		metrics.BenchmarksSubmittedTotal.WithLabelValues("submitted").Inc()
	}

	if updErr := s.store.UpdateBenchmark(benchmark); updErr != nil {
		logger.Error().Err(updErr).Msg("could not persist benchmark submission outcome")
	}
}

// Submit expands benchmark's permutations and submits every one of them,
// persisting a Job document for each permutation that the scheduler
// accepted. It returns the list of job ids that landed; an empty list
// (with a nil error) means every permutation was rejected by the
// scheduler, and the caller should mark the benchmark failed.
//
// A SetupError aborts before any submission is attempted: no jobs are
// created. A per-permutation submission failure is logged and skipped;
// the remaining permutations are still attempted.
func (s *Submitter) Submit(benchmark *types.Benchmark) ([]int64, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SubmissionDuration)

	logger := log.WithRunNumber(benchmark.RunNumber)

	user, err := s.users.GetUserInfo(benchmark.Issuer)
	if err != nil {
		return nil, xerrors.NewSetupError(fmt.Sprintf("could not resolve user %q", benchmark.Issuer), err)
	}
	if err := s.store.PutUser(user); err != nil {
		logger.Warn().Err(err).Msg("could not cache resolved user")
	}

	if !strings.HasPrefix(user.HomeDirectory, s.homePrefix) {
		return nil, xerrors.NewSetupError(
			fmt.Sprintf("home directory %q is outside managed prefix %q", user.HomeDirectory, s.homePrefix), nil)
	}

	dirs := paths.ForHome(user.HomeDirectory)
	if err := s.ensureDirectories(dirs.Internal, user); err != nil {
		return nil, xerrors.NewSetupError("could not prepare xbat directories", err)
	}

	permutations, err := permutation.Expand(benchmark, s.templates, dirs.External.Outputs, dirs.External.Logs)
	if err != nil {
		return nil, xerrors.NewSetupError("could not expand permutations", err)
	}

	var jobIDs []int64
	for _, perm := range permutations {
		jobID, err := s.submitOne(benchmark, user, dirs, perm)
		if err != nil {
			logger.Error().Err(&xerrors.SubmissionError{Identificator: perm.Identificator, Err: err}).
				Msg("permutation submission failed, skipping")
			continue
		}
		jobIDs = append(jobIDs, jobID)
	}

	return jobIDs, nil
}

func (s *Submitter) submitOne(benchmark *types.Benchmark, user *types.User, dirs paths.Directories, perm permutation.Permutation) (int64, error) {
	scriptName := perm.Identificator + ".sh"
	internalPath := dirs.Internal.Jobscripts + "/" + scriptName
	externalPath := dirs.External.Jobscripts + "/" + scriptName

	if err := os.WriteFile(internalPath, []byte(perm.JobscriptFile), 0o644); err != nil {
		return 0, fmt.Errorf("write jobscript: %w", err)
	}
	if err := s.chmod(internalPath, 0o755); err != nil {
		return 0, fmt.Errorf("chmod jobscript: %w", err)
	}
	if err := s.chown(internalPath, user.UIDNumber, user.GIDNumber); err != nil {
		return 0, fmt.Errorf("chown jobscript: %w", err)
	}

	variables := make(map[string]any, len(perm.Variables))
	for k, v := range perm.Variables {
		variables[k] = v
	}

	// the scheduler adapter reads submission directives (nodelist) from
	// the variant, not the surrounding configuration
	variantConfig, _ := perm.Configuration["jobscript"].(map[string]any)
	jobID, err := s.scheduler.Submit(user.UserName, externalPath, user.HomeDirectory, variantConfig, variables)
	if err != nil {
		return 0, err
	}

	job := &types.Job{
		JobID:             jobID,
		RunNumber:         benchmark.RunNumber,
		Identificator:     perm.Identificator,
		PermutationNr:     perm.PermutationNr,
		Iteration:         perm.Iteration,
		Variables:         variables,
		Configuration:     perm.Configuration,
		Nodes:             map[string]types.JobNode{},
		JobscriptFile:     perm.JobscriptFile,
		UserJobscriptFile: perm.UserJobscriptFile,
		CLI:               false,
	}
	if err := s.store.CreateJob(job); err != nil {
		return 0, fmt.Errorf("persist job record: %w", err)
	}
	if err := s.store.ReleaseReservedJobIDs([]int64{jobID}); err != nil {
		lg := log.WithComponent("submitter")
		lg.Warn().Err(err).Int64("jobId", jobID).Msg("could not release job id reservation")
	}

	return jobID, nil
}

// ensureDirectories creates (if missing) and fixes ownership/mode of every
// directory a user's xbat working tree needs, idempotently so concurrent
// submissions for the same user are safe.
func (s *Submitter) ensureDirectories(set paths.Set, user *types.User) error {
	for _, dir := range set.List() {
		info, err := os.Stat(dir)
		switch {
		case os.IsNotExist(err):
			if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
				return fmt.Errorf("create %s: %w", dir, mkErr)
			}
			if chownErr := s.chown(dir, user.UIDNumber, user.GIDNumber); chownErr != nil {
				return fmt.Errorf("chown %s: %w", dir, chownErr)
			}
			continue
		case err != nil:
			return fmt.Errorf("stat %s: %w", dir, err)
		}

		if info.Mode().Perm() != 0o755 {
			if err := s.chmod(dir, 0o755); err != nil {
				return fmt.Errorf("chmod %s: %w", dir, err)
			}
		}
		owned, err := s.users.DirOwnedByUser(dir, user.UserName, user.UIDNumber, user.GIDNumber)
		if err != nil {
			return fmt.Errorf("check ownership of %s: %w", dir, err)
		}
		if !owned {
			if err := s.chown(dir, user.UIDNumber, user.GIDNumber); err != nil {
				return fmt.Errorf("chown %s: %w", dir, err)
			}
		}
	}
	return nil
}
