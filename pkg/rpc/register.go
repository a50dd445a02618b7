package rpc

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/xbat/xbatctld/pkg/log"
	"github.com/xbat/xbatctld/pkg/types"
)

// defaultCaptureInterval is the telemetry sampling interval handed to CLI
// jobs, which carry no configuration of their own.
const defaultCaptureInterval = 10

// benchmarkingWindow debounces node calibration: a node with incomplete
// calibration is asked to re-run it at most once per window, since a
// calibration commissioned moments ago (possibly on a sibling node of the
// same multi-node job) may still be in flight.
const benchmarkingWindow = 15 * time.Minute

// RegisterJobRequest is sent by the node-side agent when a job starts on a
// compute node.
type RegisterJobRequest struct {
	Hash     string `json:"hash"`
	Hostname string `json:"hostname"`
}

// RegisterJobResponse tells the agent how to monitor the job and whether
// the node must re-run its calibration micro-benchmarks first.
type RegisterJobResponse struct {
	Interval          int  `json:"interval"`
	EnableMonitoring  bool `json:"enableMonitoring"`
	EnableLikwid      bool `json:"enableLikwid"`
	BenchmarkRequired bool `json:"benchmarkRequired"`
}

// handleRegisterJob binds a starting scheduler job into the system. Jobs
// submitted through this daemon already exist and only get the reporting
// node appended; jobs submitted directly via the scheduler CLI get a
// synthetic benchmark + job pair so the registration loop watches them
// like any other work. The whole operation is serialised because every
// node of a multi-node job fires this call at the same instant.
func (s *Server) handleRegisterJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.ParseInt(mux.Vars(r)["jobId"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	var req RegisterJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed registration: "+err.Error())
		return
	}
	if req.Hash == "" || req.Hostname == "" {
		writeError(w, http.StatusBadRequest, "hash and hostname are required")
		return
	}

	logger := log.WithComponent("rpc").With().Int64("jobId", jobID).Logger()

	s.registerMu.Lock()
	defer s.registerMu.Unlock()

	resp := RegisterJobResponse{
		Interval:         defaultCaptureInterval,
		EnableMonitoring: true,
		EnableLikwid:     true,
	}

	job, err := s.store.GetJob(jobID)
	if err != nil {
		// Unknown job: wrap it in a synthetic benchmark so downstream
		// components can treat CLI work uniformly. Issuer and name are
		// backfilled later by the watcher from the scheduler record.
		benchmark := &types.Benchmark{
			State:     types.BenchmarkRunning,
			CLI:       true,
			JobIDs:    []int64{jobID},
			Variables: []types.Variable{},
		}
		runNr, allocErr := s.store.NextRunNumber()
		if allocErr != nil {
			logger.Error().Err(allocErr).Msg("failed to allocate run number for cli job")
			writeError(w, http.StatusInternalServerError, allocErr.Error())
			return
		}
		benchmark.RunNumber = runNr
		if createErr := s.store.CreateBenchmark(benchmark); createErr != nil {
			logger.Error().Err(createErr).Msg("failed to create cli benchmark")
			writeError(w, http.StatusInternalServerError, createErr.Error())
			return
		}

		job = &types.Job{
			JobID:         jobID,
			RunNumber:     runNr,
			Identificator: strconv.FormatInt(jobID, 10),
			Variables:     map[string]any{},
			Nodes: map[string]types.JobNode{
				req.Hostname: {Hash: req.Hash, Hostname: req.Hostname},
			},
			CLI: true,
		}
		if createErr := s.store.CreateJob(job); createErr != nil {
			logger.Error().Err(createErr).Msg("failed to create cli job")
			writeError(w, http.StatusInternalServerError, createErr.Error())
			return
		}
		logger.Debug().Int64("runNr", runNr).Msg("registered cli job")
	} else {
		// Known job: record the reporting node and answer with the
		// monitoring settings its configuration asked for.
		if job.Nodes == nil {
			job.Nodes = map[string]types.JobNode{}
		}
		job.Nodes[req.Hostname] = types.JobNode{Hash: req.Hash, Hostname: req.Hostname}
		if updErr := s.store.UpdateJob(job); updErr != nil {
			logger.Error().Err(updErr).Msg("failed to record reporting node")
			writeError(w, http.StatusInternalServerError, updErr.Error())
			return
		}

		if job.Configuration != nil {
			if v, ok := job.Configuration["interval"]; ok {
				resp.Interval = toIntLenient(v, resp.Interval)
			}
			if v, ok := job.Configuration["enableMonitoring"].(bool); ok {
				resp.EnableMonitoring = v
			}
			if v, ok := job.Configuration["enableLikwid"].(bool); ok {
				resp.EnableLikwid = v
			}
		}
		logger.Debug().Msg("updated registered job")
	}

	// A node hash never seen before gets an empty profile row
	// immediately, so sibling nodes of the same job (or identically
	// configured nodes) do not calibrate a second time in parallel.
	profile, profErr := s.store.GetNodeProfile(req.Hash)
	switch {
	case profErr != nil:
		resp.BenchmarkRequired = true
		if insErr := s.store.UpsertNodeProfile(&types.NodeProfile{
			Hash:       req.Hash,
			LastUpdate: time.Now().UTC(),
		}); insErr != nil {
			logger.Error().Err(insErr).Str("hash", req.Hash).Msg("failed to register node profile")
		}
	case !hasCalibration(profile) && windowExpired(profile):
		// calibration missing or failed earlier; commission a new run
		// and stamp the profile so only this registration triggers it
		resp.BenchmarkRequired = true
		profile.LastUpdate = time.Now().UTC()
		if updErr := s.store.UpsertNodeProfile(profile); updErr != nil {
			logger.Error().Err(updErr).Str("hash", req.Hash).Msg("failed to stamp node profile")
		} else {
			logger.Debug().Str("hash", req.Hash).Msg("commissioned new node calibration")
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// hasCalibration reports whether a node profile already holds the
// measurements roofline computation needs: memory bandwidth plus at least
// one peakflops variant.
func hasCalibration(profile *types.NodeProfile) bool {
	if len(profile.Benchmarks) == 0 {
		return false
	}
	if _, ok := profile.Benchmarks["bandwidth_mem"]; !ok {
		return false
	}
	for name, value := range profile.Benchmarks {
		if strings.HasPrefix(name, "peakflops") && value != nil {
			return true
		}
	}
	return false
}

// windowExpired reports whether enough time has passed since the profile
// was last stamped to commission another calibration run.
func windowExpired(profile *types.NodeProfile) bool {
	return profile.LastUpdate.IsZero() || time.Since(profile.LastUpdate) > benchmarkingWindow
}

func toIntLenient(v any, fallback int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return fallback
}
