// Package store is the document-store gateway (component C9): it persists
// benchmarks, jobs, users and the run-number/job-id allocators that the rest
// of the daemon coordinates through.
package store

import "github.com/xbat/xbatctld/pkg/types"

// Store defines the document-store gateway surface.
type Store interface {
	CreateBenchmark(b *types.Benchmark) error
	GetBenchmark(id string) (*types.Benchmark, error)
	GetBenchmarkByRunNumber(runNr int64) (*types.Benchmark, error)
	// FindBenchmarkByJobID returns the benchmark whose jobIds contain
	// jobID, or nil (with a nil error) when no benchmark claims it.
	FindBenchmarkByJobID(jobID int64) (*types.Benchmark, error)
	ListBenchmarks() ([]*types.Benchmark, error)
	ListBenchmarksByState(state types.BenchmarkState) ([]*types.Benchmark, error)
	UpdateBenchmark(b *types.Benchmark) error

	CreateJob(j *types.Job) error
	GetJob(jobID int64) (*types.Job, error)
	ListJobsByRunNumber(runNr int64) ([]*types.Job, error)
	ListJobIDs() ([]int64, error)
	UpdateJob(j *types.Job) error

	// UpsertOutput overwrites the captured stdout/stderr row for
	// out.JobID; the processing loop calls this on every harvest pass.
	UpsertOutput(out *types.Output) error
	GetOutput(jobID int64) (*types.Output, error)

	GetNodeProfile(hash string) (*types.NodeProfile, error)
	UpsertNodeProfile(n *types.NodeProfile) error

	GetUser(userName string) (*types.User, error)
	PutUser(u *types.User) error

	// Configurations and projects are opaque documents owned by the
	// out-of-scope front-end; the gateway only round-trips them by id.
	GetConfiguration(id string) (map[string]any, error)
	PutConfiguration(id string, doc map[string]any) error
	GetProject(id string) (map[string]any, error)
	PutProject(id string, doc map[string]any) error

	// NextRunNumber returns a fresh, monotonically increasing run number.
	NextRunNumber() (int64, error)

	// NextJobID reserves and returns the smallest positive integer not
	// already in use by a persisted job or another live reservation.
	NextJobID() (int64, error)
	// ReleaseReservedJobIDs drops reservations once their jobs are persisted.
	ReleaseReservedJobIDs(jobIDs []int64) error
	// SweepExpiredReservations releases reservations older than the TTL,
	// in case a submitter crashed between reserving and persisting.
	SweepExpiredReservations() (int, error)

	Close() error
}
