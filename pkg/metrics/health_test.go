package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetRegistry gives each test a clean probe set; the registry is a
// process-wide singleton.
func resetRegistry() {
	registry = &probeRegistry{
		probes:    map[string]probeEntry{},
		startTime: time.Now(),
	}
}

func okProbe() error   { return nil }
func downProbe() error { return fmt.Errorf("connection refused") }

func serveHealth(h http.HandlerFunc) (*httptest.ResponseRecorder, HealthStatus) {
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	var status HealthStatus
	_ = json.NewDecoder(rec.Body).Decode(&status)
	return rec, status
}

func TestHealthAllProbesPassing(t *testing.T) {
	resetRegistry()
	RegisterProbe("store", true, okProbe)
	RegisterProbe("scheduler", true, okProbe)
	SetVersion("1.2.3")

	rec, status := serveHealth(HealthHandler())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "1.2.3", status.Version)
	assert.Equal(t, "ok", status.Components["store"])
	assert.Equal(t, "ok", status.Components["scheduler"])
}

func TestHealthReportsFailingProbe(t *testing.T) {
	resetRegistry()
	RegisterProbe("store", true, okProbe)
	RegisterProbe("metricsdb", false, downProbe)

	rec, status := serveHealth(HealthHandler())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "connection refused", status.Components["metricsdb"])
	assert.Equal(t, "ok", status.Components["store"])
}

func TestReadySkipsNonCriticalProbes(t *testing.T) {
	resetRegistry()
	RegisterProbe("store", true, okProbe)
	// a degraded metrics store must not hold back traffic
	RegisterProbe("metricsdb", false, downProbe)

	rec, status := serveHealth(ReadyHandler())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", status.Status)
	assert.NotContains(t, status.Components, "metricsdb")
}

func TestReadyFailsOnCriticalProbe(t *testing.T) {
	resetRegistry()
	RegisterProbe("store", true, downProbe)
	RegisterProbe("scheduler", true, okProbe)

	rec, status := serveHealth(ReadyHandler())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_ready", status.Status)
	assert.Equal(t, "connection refused", status.Components["store"])
}

func TestRegisterProbeReplacesPrevious(t *testing.T) {
	resetRegistry()
	RegisterProbe("store", true, downProbe)
	RegisterProbe("store", true, okProbe)

	rec, _ := serveHealth(ReadyHandler())
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLivenessIgnoresProbes(t *testing.T) {
	resetRegistry()
	RegisterProbe("store", true, downProbe)

	rec := httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "alive", body["status"])
}
