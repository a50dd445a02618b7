// Package config centralises everything the daemon reads from its
// environment exactly once at startup: store and metrics-store locations,
// the host bridge mount, build mode and demo toggle, and log level.
// Environment variables with an XBATCTLD_ prefix override values from an
// optional config file.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds every value the controller reads once at startup.
type Config struct {
	// LogLevel is one of debug/info/warn/error.
	LogLevel string
	// LogJSON selects structured JSON logs over the console writer.
	LogJSON bool

	// Mode is "dev" or "prod". In "dev" mode the scheduler adapter and
	// user directory adapter use canned fixtures/profiles instead of
	// shelling out through the host bridge.
	Mode string
	// Demo additionally forces the canned dev/demo user profile even in
	// prod mode, for sales/demo deployments without a real directory
	// service.
	Demo bool

	// DataDir holds the bbolt document store.
	DataDir string
	// MetricsDBPath is the time-series gateway's SQL data source name.
	MetricsDBPath string

	// HostBridgeDir is the directory holding the named FIFOs shared with
	// the host-side watcher process.
	HostBridgeDir string
	// MountPrefix is where user home directories are mounted inside the
	// controller's container, ahead of the path the host itself sees.
	MountPrefix string
	// HomePrefix is where managed user homes must live; resolved home
	// directories outside it are rejected at submission time.
	HomePrefix string
	// FixturesDir holds the canned scheduler JSON used in dev/demo mode.
	FixturesDir string

	// JobscriptTemplate/UserJobscriptTemplate are the paths to the two
	// templates the permutation expander substitutes against.
	JobscriptTemplate     string
	UserJobscriptTemplate string

	// RPCAddr is the HTTP listen address for the RPC surface (component
	// C8).
	RPCAddr string
	// MetricsAddr is the HTTP listen address serving /metrics and the
	// /health, /ready and /live endpoints.
	MetricsAddr string

	// RegistrationInterval is the sleep between registration-loop
	// discovery passes.
	RegistrationInterval string
	// JobStateInterval is the sleep between processing-loop iterations.
	JobStateInterval string
}

// Load reads defaults, an optional config file, and XBATCTLD_-prefixed
// environment variables into a Config.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("mode", "dev")
	v.SetDefault("demo", true)
	v.SetDefault("data_dir", "./data")
	v.SetDefault("metrics_db_path", "./data/metrics.db")
	v.SetDefault("hostbridge_dir", "/tmp")
	v.SetDefault("mount_prefix", "")
	v.SetDefault("home_prefix", "/home")
	v.SetDefault("fixtures_dir", "./fixtures")
	v.SetDefault("jobscript_template", "./templates/jobscript.sh.tmpl")
	v.SetDefault("user_jobscript_template", "./templates/user_jobscript.sh.tmpl")
	v.SetDefault("rpc_addr", ":8080")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("registration_interval", "5s")
	v.SetDefault("job_state_interval", "30s")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", cfgFile, err)
		}
	} else {
		v.SetConfigName("xbatctld")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/xbatctld")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("XBATCTLD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		LogLevel:              v.GetString("log.level"),
		LogJSON:               v.GetBool("log.json"),
		Mode:                  v.GetString("mode"),
		Demo:                  v.GetBool("demo"),
		DataDir:               v.GetString("data_dir"),
		MetricsDBPath:         v.GetString("metrics_db_path"),
		HostBridgeDir:         v.GetString("hostbridge_dir"),
		MountPrefix:           v.GetString("mount_prefix"),
		HomePrefix:            v.GetString("home_prefix"),
		FixturesDir:           v.GetString("fixtures_dir"),
		JobscriptTemplate:     v.GetString("jobscript_template"),
		UserJobscriptTemplate: v.GetString("user_jobscript_template"),
		RPCAddr:               v.GetString("rpc_addr"),
		MetricsAddr:           v.GetString("metrics_addr"),
		RegistrationInterval:  v.GetString("registration_interval"),
		JobStateInterval:      v.GetString("job_state_interval"),
	}

	if cfg.Mode != "dev" && cfg.Mode != "prod" {
		return nil, fmt.Errorf("invalid mode %q: must be \"dev\" or \"prod\"", cfg.Mode)
	}

	return cfg, nil
}

// DevOrDemo reports whether the scheduler/user-directory adapters should
// use their canned fixtures instead of the real host bridge.
func (c *Config) DevOrDemo() bool {
	return c.Mode == "dev" || c.Demo
}
