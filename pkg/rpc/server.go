// Package rpc is the RPC surface (component C8): the HTTP+JSON service the
// REST front-end talks to. Synchronous operations answer from the
// scheduler adapter's cached view; submit and purge respond immediately
// and hand the actual work to a background task.
package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/xbat/xbatctld/pkg/log"
	"github.com/xbat/xbatctld/pkg/metrics"
	"github.com/xbat/xbatctld/pkg/store"
	"github.com/xbat/xbatctld/pkg/types"
)

// drainGrace is how long in-flight requests get to finish on shutdown.
const drainGrace = 5 * time.Second

// Scheduler is the slice of the scheduler adapter the surface exposes.
type Scheduler interface {
	GetJobs() map[int64]map[string]any
	GetNodes() map[string]map[string]any
	GetPartitions() map[string][]string
	CancelJobs(ids []int64) error
}

// UserResolver is satisfied by the user directory adapter.
type UserResolver interface {
	GetUserInfo(username string) (*types.User, error)
}

// BenchmarkRunner is satisfied by the submitter; Run is dispatched on its
// own goroutine per accepted benchmark.
type BenchmarkRunner interface {
	Run(benchmark *types.Benchmark)
}

// Purger is satisfied by the time-series gateway (bound to the document
// store by the controller).
type Purger interface {
	Purge() error
}

// Server is the RPC surface.
type Server struct {
	store     store.Store
	sched     Scheduler
	users     UserResolver
	submitter BenchmarkRunner
	purger    Purger

	httpServer *http.Server

	// registerMu serialises CLI job registration; multi-node jobs race
	// to register the same job id from every node at startup.
	registerMu sync.Mutex
}

// New creates the RPC server bound to addr.
func New(addr string, st store.Store, sched Scheduler, users UserResolver, submitter BenchmarkRunner, purger Purger) *Server {
	s := &Server{
		store:     st,
		sched:     sched,
		users:     users,
		submitter: submitter,
		purger:    purger,
	}

	r := mux.NewRouter()
	r.HandleFunc("/rpc/benchmarks", s.instrument("SubmitBenchmark", s.handleSubmitBenchmark)).Methods(http.MethodPost)
	r.HandleFunc("/rpc/jobs", s.instrument("GetJobs", s.handleGetJobs)).Methods(http.MethodGet)
	r.HandleFunc("/rpc/nodes", s.instrument("GetNodes", s.handleGetNodes)).Methods(http.MethodGet)
	r.HandleFunc("/rpc/partitions", s.instrument("GetPartitions", s.handleGetPartitions)).Methods(http.MethodGet)
	r.HandleFunc("/rpc/jobs/cancel", s.instrument("CancelJobs", s.handleCancelJobs)).Methods(http.MethodPost)
	r.HandleFunc("/rpc/jobs/{jobId:[0-9]+}/register", s.instrument("RegisterJob", s.handleRegisterJob)).Methods(http.MethodPost)
	r.HandleFunc("/rpc/users/{username}", s.instrument("GetUserInfo", s.handleGetUserInfo)).Methods(http.MethodGet)
	r.HandleFunc("/rpc/purge", s.instrument("PurgeQuestDB", s.handlePurge)).Methods(http.MethodPost)

	s.httpServer = &http.Server{Addr: addr, Handler: r}
	return s
}

// Handler exposes the router, for tests driving the surface through
// httptest.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run serves until ctx is cancelled, then drains with a short grace
// period.
func (s *Server) Run(ctx context.Context) error {
	logger := log.WithComponent("rpc")

	errCh := make(chan error, 1)
	go func() {
		logger.Debug().Str("addr", s.httpServer.Addr).Msg("rpc server started")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainGrace)
	defer cancel()
	err := s.httpServer.Shutdown(shutdownCtx)
	logger.Debug().Msg("rpc server terminated")
	return err
}

// instrument wraps a handler with the per-method request metrics.
func (s *Server) instrument(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		timer.ObserveDurationVec(metrics.RPCRequestDuration, method)
		metrics.RPCRequestsTotal.WithLabelValues(method, http.StatusText(rec.status)).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError renders the error envelope with the status-code mapping the
// front-end expects: scheduler/store failures are 500, unknown users 404,
// malformed submissions 400.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
