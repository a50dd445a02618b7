package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/xbat/xbatctld/pkg/types"
)

var (
	bucketBenchmarks    = []byte("benchmarks")
	bucketJobs          = []byte("jobs")
	bucketUsers         = []byte("users")
	bucketConfigs       = []byte("configurations")
	bucketProjects      = []byte("projects")
	bucketOutputs       = []byte("outputs")
	bucketNodes         = []byte("nodes")
	bucketReservedJobID = []byte("reserved_jobIds")
	bucketMisc          = []byte("misc")

	// owned by the front-end; created here so a fresh data directory is
	// complete before the front-end first connects
	bucketConfigFolders = []byte("configuration_folders")
	bucketTokens        = []byte("tokens")
	bucketClients       = []byte("clients")
	bucketSettings      = []byte("settings")

	miscLastRunKey = []byte("last_run")
)

// reservationTTL bounds how long a reserved-but-unpersisted job id is
// held; a submitter that crashed between reserving and persisting frees
// its id after an hour.
const reservationTTL = time.Hour

// BoltStore implements Store using an embedded bbolt database, with
// gofrs/flock guarding the run-number and job-id allocators across
// controller processes sharing the same data directory.
type BoltStore struct {
	db          *bolt.DB
	runNrLock   *flock.Flock
	jobIDLock   *flock.Flock
}

// Config configures a BoltStore.
type Config struct {
	// DataDir holds the bbolt database file.
	DataDir string
	// LockDir holds the cross-process allocator lock files. Defaults to
	// DataDir when empty.
	LockDir string
}

// NewBoltStore opens (creating if necessary) the bbolt-backed document store.
func NewBoltStore(cfg Config) (*BoltStore, error) {
	lockDir := cfg.LockDir
	if lockDir == "" {
		lockDir = cfg.DataDir
	}

	dbPath := filepath.Join(cfg.DataDir, "xbatctld.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{
			bucketBenchmarks, bucketJobs, bucketUsers,
			bucketConfigs, bucketProjects, bucketOutputs, bucketNodes,
			bucketReservedJobID, bucketMisc,
			bucketConfigFolders, bucketTokens, bucketClients, bucketSettings,
		} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{
		db:        db,
		runNrLock: flock.New(filepath.Join(lockDir, "runnr.lock")),
		jobIDLock: flock.New(filepath.Join(lockDir, "jobid.lock")),
	}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func jobKey(jobID int64) []byte {
	return []byte(strconv.FormatInt(jobID, 10))
}

// --- Benchmarks ---

func (s *BoltStore) CreateBenchmark(b *types.Benchmark) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.StartTime.IsZero() {
		b.StartTime = time.Now().UTC()
	}
	if b.State == "" {
		b.State = types.BenchmarkPending
	}
	return s.putBenchmark(b)
}

func (s *BoltStore) putBenchmark(b *types.Benchmark) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(b)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketBenchmarks).Put([]byte(b.ID), data)
	})
}

func (s *BoltStore) GetBenchmark(id string) (*types.Benchmark, error) {
	var b types.Benchmark
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBenchmarks).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("benchmark not found: %s", id)
		}
		return json.Unmarshal(data, &b)
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *BoltStore) GetBenchmarkByRunNumber(runNr int64) (*types.Benchmark, error) {
	all, err := s.ListBenchmarks()
	if err != nil {
		return nil, err
	}
	for _, b := range all {
		if b.RunNumber == runNr {
			return b, nil
		}
	}
	return nil, fmt.Errorf("benchmark not found: run %d", runNr)
}

func (s *BoltStore) FindBenchmarkByJobID(jobID int64) (*types.Benchmark, error) {
	all, err := s.ListBenchmarks()
	if err != nil {
		return nil, err
	}
	for _, b := range all {
		for _, id := range b.JobIDs {
			if id == jobID {
				return b, nil
			}
		}
	}
	return nil, nil
}

func (s *BoltStore) ListBenchmarks() ([]*types.Benchmark, error) {
	var out []*types.Benchmark
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBenchmarks).ForEach(func(_, v []byte) error {
			var b types.Benchmark
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			out = append(out, &b)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListBenchmarksByState(state types.BenchmarkState) ([]*types.Benchmark, error) {
	all, err := s.ListBenchmarks()
	if err != nil {
		return nil, err
	}
	var out []*types.Benchmark
	for _, b := range all {
		if b.State == state {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *BoltStore) UpdateBenchmark(b *types.Benchmark) error {
	return s.putBenchmark(b)
}

// --- Jobs ---

func (s *BoltStore) CreateJob(j *types.Job) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	return s.putJob(j)
}

func (s *BoltStore) putJob(j *types.Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(j)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketJobs).Put(jobKey(j.JobID), data)
	})
}

func (s *BoltStore) GetJob(jobID int64) (*types.Job, error) {
	var j types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketJobs).Get(jobKey(jobID))
		if data == nil {
			return fmt.Errorf("job not found: %d", jobID)
		}
		return json.Unmarshal(data, &j)
	})
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *BoltStore) ListJobsByRunNumber(runNr int64) ([]*types.Job, error) {
	var out []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(_, v []byte) error {
			var j types.Job
			if err := json.Unmarshal(v, &j); err != nil {
				return err
			}
			if j.RunNumber == runNr {
				out = append(out, &j)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListJobIDs() ([]int64, error) {
	var ids []int64
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(k, _ []byte) error {
			id, err := strconv.ParseInt(string(k), 10, 64)
			if err != nil {
				return nil
			}
			ids = append(ids, id)
			return nil
		})
	})
	return ids, err
}

func (s *BoltStore) UpdateJob(j *types.Job) error {
	return s.putJob(j)
}

// --- Users ---

func (s *BoltStore) GetUser(userName string) (*types.User, error) {
	var u types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get([]byte(userName))
		if data == nil {
			return fmt.Errorf("user not found: %s", userName)
		}
		return json.Unmarshal(data, &u)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *BoltStore) PutUser(u *types.User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(u)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketUsers).Put([]byte(u.UserName), data)
	})
}

// --- Outputs ---

func (s *BoltStore) UpsertOutput(out *types.Output) error {
	out.LastUpdate = time.Now().UTC()
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(out)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketOutputs).Put(jobKey(out.JobID), data)
	})
}

func (s *BoltStore) GetOutput(jobID int64) (*types.Output, error) {
	var out types.Output
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketOutputs).Get(jobKey(jobID))
		if data == nil {
			return fmt.Errorf("output not found: %d", jobID)
		}
		return json.Unmarshal(data, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Node profiles ---

func (s *BoltStore) GetNodeProfile(hash string) (*types.NodeProfile, error) {
	var n types.NodeProfile
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNodes).Get([]byte(hash))
		if data == nil {
			return fmt.Errorf("node profile not found: %s", hash)
		}
		return json.Unmarshal(data, &n)
	})
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *BoltStore) UpsertNodeProfile(n *types.NodeProfile) error {
	if n.LastUpdate.IsZero() {
		n.LastUpdate = time.Now().UTC()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(n)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketNodes).Put([]byte(n.Hash), data)
	})
}

// --- Opaque documents ---

func (s *BoltStore) GetConfiguration(id string) (map[string]any, error) {
	return s.getDocument(bucketConfigs, id)
}

func (s *BoltStore) PutConfiguration(id string, doc map[string]any) error {
	return s.putDocument(bucketConfigs, id, doc)
}

func (s *BoltStore) GetProject(id string) (map[string]any, error) {
	return s.getDocument(bucketProjects, id)
}

func (s *BoltStore) PutProject(id string, doc map[string]any) error {
	return s.putDocument(bucketProjects, id, doc)
}

func (s *BoltStore) putDocument(bucket []byte, id string, doc map[string]any) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		return tx.Bucket(bucket).Put([]byte(id), data)
	})
}

func (s *BoltStore) getDocument(bucket []byte, id string) (map[string]any, error) {
	var doc map[string]any
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("document not found: %s", id)
		}
		return json.Unmarshal(data, &doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// --- Allocators ---

// NextRunNumber allocates the next run number. A file lock serialises
// access across controller processes sharing the data directory, and the
// counter lives in its own bucket so the increment and the read happen
// inside one bbolt transaction.
func (s *BoltStore) NextRunNumber() (int64, error) {
	if err := s.runNrLock.Lock(); err != nil {
		return 0, fmt.Errorf("acquire run number lock: %w", err)
	}
	defer s.runNrLock.Unlock()

	var next int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMisc)
		last := int64(0)
		if data := b.Get(miscLastRunKey); data != nil {
			last, _ = strconv.ParseInt(string(data), 10, 64)
		}
		next = last + 1
		return b.Put(miscLastRunKey, []byte(strconv.FormatInt(next, 10)))
	})
	return next, err
}

// NextJobID sweeps expired reservations, unions persisted job ids with
// live reservations, and returns the smallest positive integer missing
// from that set, persisting a reservation for it.
func (s *BoltStore) NextJobID() (int64, error) {
	if err := s.jobIDLock.Lock(); err != nil {
		return 0, fmt.Errorf("acquire job id lock: %w", err)
	}
	defer s.jobIDLock.Unlock()

	if _, err := s.sweepExpiredReservationsLocked(); err != nil {
		return 0, err
	}

	used := map[int64]struct{}{}

	existing, err := s.ListJobIDs()
	if err != nil {
		return 0, err
	}
	for _, id := range existing {
		used[id] = struct{}{}
	}

	var reserved []int64
	err = s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReservedJobID).ForEach(func(k, _ []byte) error {
			id, parseErr := strconv.ParseInt(string(k), 10, 64)
			if parseErr != nil {
				return nil
			}
			reserved = append(reserved, id)
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	for _, id := range reserved {
		used[id] = struct{}{}
	}

	next := int64(1)
	if len(used) > 0 {
		ids := make([]int64, 0, len(used))
		for id := range used {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for i := int64(1); i <= ids[len(ids)-1]+1; i++ {
			if _, ok := used[i]; !ok {
				next = i
				break
			}
		}
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		data, marshalErr := json.Marshal(types.ReservedJobID{JobID: next, ReservedAt: time.Now().UTC()})
		if marshalErr != nil {
			return marshalErr
		}
		return tx.Bucket(bucketReservedJobID).Put(jobKey(next), data)
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (s *BoltStore) ReleaseReservedJobIDs(jobIDs []int64) error {
	if len(jobIDs) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReservedJobID)
		for _, id := range jobIDs {
			if err := b.Delete(jobKey(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) SweepExpiredReservations() (int, error) {
	if err := s.jobIDLock.Lock(); err != nil {
		return 0, fmt.Errorf("acquire job id lock: %w", err)
	}
	defer s.jobIDLock.Unlock()
	return s.sweepExpiredReservationsLocked()
}

func (s *BoltStore) sweepExpiredReservationsLocked() (int, error) {
	cutoff := time.Now().Add(-reservationTTL)
	var expired [][]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReservedJobID).ForEach(func(k, v []byte) error {
			var r types.ReservedJobID
			if err := json.Unmarshal(v, &r); err != nil {
				return nil
			}
			if r.ReservedAt.Before(cutoff) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReservedJobID)
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(expired), nil
}
