package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "dev", cfg.Mode)
	assert.True(t, cfg.DevOrDemo())
	assert.Equal(t, "/home", cfg.HomePrefix)
	assert.Equal(t, "5s", cfg.RegistrationInterval)
	assert.Equal(t, "30s", cfg.JobStateInterval)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xbatctld.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"mode: prod\ndemo: false\nlog:\n  level: debug\nrpc_addr: \":9000\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.Mode)
	assert.False(t, cfg.DevOrDemo())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9000", cfg.RPCAddr)
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xbatctld.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: staging\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "staging")
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("XBATCTLD_MODE", "prod")
	t.Setenv("XBATCTLD_DEMO", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.Mode)
	assert.False(t, cfg.Demo)
}
