package types

import "time"

// BenchmarkState is the lifecycle state of a Benchmark document.
type BenchmarkState string

const (
	BenchmarkPending   BenchmarkState = "pending"
	BenchmarkRunning   BenchmarkState = "running"
	BenchmarkDone      BenchmarkState = "done"
	BenchmarkDeadline  BenchmarkState = "deadline"
	BenchmarkTimeout   BenchmarkState = "timeout"
	BenchmarkCancelled BenchmarkState = "cancelled"
	BenchmarkFailed    BenchmarkState = "failed"
)

// Terminal reports whether s is a final state: once a benchmark reaches
// one of these, no watcher will move it again.
func (s BenchmarkState) Terminal() bool {
	switch s {
	case BenchmarkDone, BenchmarkDeadline, BenchmarkTimeout, BenchmarkCancelled, BenchmarkFailed:
		return true
	}
	return false
}

// Benchmark is a single benchmark submission: a configuration expanded over
// a set of variables, submitted as one or more scheduler jobs.
type Benchmark struct {
	ID             string                 `json:"id"`
	RunNumber      int64                  `json:"runNr"`
	Name           string                 `json:"name"`
	Issuer         string                 `json:"issuer"`
	State          BenchmarkState         `json:"state"`
	CLI            bool                   `json:"cli"`
	StartTime      time.Time              `json:"startTime"`
	EndTime        time.Time              `json:"endTime,omitempty"`
	Configuration  map[string]any         `json:"configuration"`
	Variables      []Variable             `json:"variables"`
	SharedProjects []string               `json:"sharedProjects"`
	JobIDs         []int64                `json:"jobIds"`
	FailureReason  string                 `json:"failureReason,omitempty"`
	Extra          map[string]any         `json:"extra,omitempty"`
}

// Variable is a user-selectable benchmark parameter. A Variable with a
// single Selected value is held fixed across every permutation; a Variable
// with more than one Selected value is expanded into the Cartesian product.
type Variable struct {
	Key      string   `json:"key"`
	Selected []string `json:"selected"`
}

// JobState is a scheduler job state as reported by the cluster. The
// terminal states are severity-ordered: when a benchmark's jobs settle
// into different states, the most severe one decides the benchmark's
// label (see watcher.severity).
type JobState string

const (
	JobStateCompleted JobState = "COMPLETED"
	JobStateDeadline  JobState = "DEADLINE"
	JobStateTimeout   JobState = "TIMEOUT"
	JobStateCancelled JobState = "CANCELLED"
	JobStateFailed    JobState = "FAILED"
	JobStateRunning   JobState = "RUNNING"
	JobStatePending   JobState = "PENDING"
)

// JobNode is one compute node a job ran on, reported by the node-side
// agent at job start.
type JobNode struct {
	Hash     string `json:"hash"`
	Hostname string `json:"hostname"`
}

// Job is one scheduler submission belonging to a Benchmark permutation.
// JobscriptFile is the text actually handed to the scheduler;
// UserJobscriptFile is the variant shown back to the user (capture
// emitters replaced by comment markers). JobInfo carries the last
// scheduler snapshot observed by the processing loop; its shape depends on
// the scheduler version, so it stays a JSON-shaped map.
type Job struct {
	ID                string             `json:"id"`
	JobID             int64              `json:"jobId"`
	RunNumber         int64              `json:"runNr"`
	Identificator     string             `json:"identificator"`
	PermutationNr     int                `json:"permutationNr"`
	Iteration         int                `json:"iteration"`
	Variables         map[string]any     `json:"variables"`
	Configuration     map[string]any     `json:"configuration"`
	Nodes             map[string]JobNode `json:"nodes"`
	CLI               bool               `json:"cli"`
	JobscriptFile     string             `json:"jobscriptFile,omitempty"`
	UserJobscriptFile string             `json:"userJobscriptFile,omitempty"`
	JobInfo           map[string]any     `json:"jobInfo,omitempty"`
	State             JobState           `json:"state,omitempty"`
	RuntimeSeconds    int64              `json:"runtimeSeconds,omitempty"`
	CaptureSeconds    int64              `json:"capturetimeSeconds,omitempty"`
	CaptureStart      time.Time          `json:"captureStart,omitempty"`
	CaptureEnd        time.Time          `json:"captureEnd,omitempty"`
	StartTime         time.Time          `json:"startTime,omitempty"`
	EndTime           time.Time          `json:"endTime,omitempty"`
	FailureReason     string             `json:"failureReason,omitempty"`
}

// Output holds the captured stdout/stderr of one job, overwritten on every
// harvest pass. Stderr stays empty when the scheduler pointed both streams
// at the same file.
type Output struct {
	RunNumber      int64     `json:"runNr"`
	JobID          int64     `json:"jobId"`
	StandardOutput string    `json:"standardOutput"`
	StandardError  string    `json:"standardError,omitempty"`
	LastUpdate     time.Time `json:"lastUpdate"`
}

// NodeProfile is the last successful micro-benchmark snapshot of one
// compute node, keyed by the opaque hash the node computes over its own
// hardware identity. A profile with no Benchmarks yet means calibration is
// still outstanding.
type NodeProfile struct {
	Hash       string         `json:"hash"`
	Benchmarks map[string]any `json:"benchmarks,omitempty"`
	System     map[string]any `json:"system,omitempty"`
	LastUpdate time.Time      `json:"lastUpdate"`
}

// User is a resolved operating-system identity used to own submitted
// jobscripts and their output directories.
type User struct {
	UserName      string `json:"user_name"`
	UIDNumber     int    `json:"uidnumber"`
	GIDNumber     int    `json:"gidnumber"`
	HomeDirectory string `json:"homedirectory"`
}

// Node is a cached scheduler node/partition record as last reported by the
// scheduler adapter.
type Node struct {
	Name        string         `json:"name"`
	Partitions  []string       `json:"partitions"`
	State       string         `json:"state"`
	CPUs        int            `json:"cpus"`
	Features    []string       `json:"features"`
	Extra       map[string]any `json:"extra,omitempty"`
	ObservedAt  time.Time      `json:"observedAt"`
}

// Partition is a cached scheduler partition record.
type Partition struct {
	Name       string         `json:"name"`
	Nodes      []string       `json:"nodes"`
	State      string         `json:"state"`
	Extra      map[string]any `json:"extra,omitempty"`
	ObservedAt time.Time      `json:"observedAt"`
}

// ReservedJobID is a short-lived placeholder row held by the gap-filling job
// id allocator between the moment an id is handed out and the moment the
// corresponding Job document is persisted.
type ReservedJobID struct {
	JobID      int64     `json:"jobId"`
	ReservedAt time.Time `json:"reservedAt"`
}
