package rpcclient

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xbat/xbatctld/pkg/rpc"
)

func TestClientDecodesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": "unable to retrieve user information"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.GetUserInfo("ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to retrieve user information")
	assert.Contains(t, err.Error(), "404")
}

func TestClientRoundTripsJobs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rpc/jobs", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jobs": {"42": {"jobId": 42, "jobState": ["RUNNING"]}}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	jobs, err := c.GetJobs()
	require.NoError(t, err)
	require.Contains(t, jobs, int64(42))
	assert.Equal(t, []any{"RUNNING"}, jobs[42]["jobState"])
}

func TestClientSubmitBenchmark(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rpc/benchmarks", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"runNr": 17}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	runNr, err := c.SubmitBenchmark(rpc.SubmitBenchmarkRequest{Issuer: "alice", Name: "bench", ConfigID: "cfg"})
	require.NoError(t, err)
	assert.Equal(t, int64(17), runNr)
}
