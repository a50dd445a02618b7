package rpc

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xbat/xbatctld/pkg/log"
	"github.com/xbat/xbatctld/pkg/types"
)

// SubmitBenchmarkRequest is the submit payload from the REST front-end.
type SubmitBenchmarkRequest struct {
	Issuer         string           `json:"issuer"`
	Name           string           `json:"name"`
	ConfigID       string           `json:"configId"`
	Variables      []types.Variable `json:"variables"`
	SharedProjects []string         `json:"sharedProjects"`
}

// SubmitBenchmarkResponse carries the identity the caller needs to observe
// progress; job submission itself happens asynchronously.
type SubmitBenchmarkResponse struct {
	RunNumber int64 `json:"runNr"`
}

// handleSubmitBenchmark creates the benchmark record synchronously and
// dispatches the submitter task. The configuration document is embedded as
// a snapshot so later edits to the configuration do not change what an
// already submitted benchmark ran.
func (s *Server) handleSubmitBenchmark(w http.ResponseWriter, r *http.Request) {
	var req SubmitBenchmarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed submission: "+err.Error())
		return
	}
	if req.Issuer == "" || req.ConfigID == "" {
		writeError(w, http.StatusBadRequest, "issuer and configId are required")
		return
	}

	logger := log.WithComponent("rpc")

	configuration, err := s.store.GetConfiguration(req.ConfigID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown configuration: "+req.ConfigID)
		return
	}

	runNr, err := s.store.NextRunNumber()
	if err != nil {
		logger.Error().Err(err).Msg("failed to allocate run number")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	benchmark := &types.Benchmark{
		RunNumber:      runNr,
		Name:           req.Name,
		Issuer:         req.Issuer,
		State:          types.BenchmarkPending,
		Configuration:  configuration,
		Variables:      req.Variables,
		SharedProjects: req.SharedProjects,
	}
	if err := s.store.CreateBenchmark(benchmark); err != nil {
		logger.Error().Err(err).Msg("failed to create benchmark")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	go s.submitter.Run(benchmark)

	writeJSON(w, http.StatusOK, SubmitBenchmarkResponse{RunNumber: runNr})
}

func (s *Server) handleGetJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.sched.GetJobs()})
}

func (s *Server) handleGetNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"nodes": s.sched.GetNodes()})
}

func (s *Server) handleGetPartitions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"partitions": s.sched.GetPartitions()})
}

func (s *Server) handleCancelJobs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JobIDs []int64 `json:"jobIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed cancellation: "+err.Error())
		return
	}

	if err := s.sched.CancelJobs(req.JobIDs); err != nil {
		lg := log.WithComponent("rpc")
		lg.Error().Err(err).Msg("job cancellation failed")
		writeError(w, http.StatusInternalServerError, "job cancellation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Server) handleGetUserInfo(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	user, err := s.users.GetUserInfo(username)
	if err != nil {
		writeError(w, http.StatusNotFound, "unable to retrieve user information")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handlePurge responds immediately; the purge itself runs as a background
// task and a second concurrent purge degrades to a no-op inside the
// gateway.
func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	go func() {
		if err := s.purger.Purge(); err != nil {
			lg := log.WithComponent("rpc")
			lg.Error().Err(err).Msg("purge failed")
		}
	}()
	writeJSON(w, http.StatusOK, map[string]any{})
}
