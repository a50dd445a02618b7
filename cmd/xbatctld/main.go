package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xbat/xbatctld/pkg/config"
	"github.com/xbat/xbatctld/pkg/controller"
	"github.com/xbat/xbatctld/pkg/log"
	"github.com/xbat/xbatctld/pkg/metrics"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "xbatctld",
	Short: "xbatctld - benchmark controller daemon",
	Long: `xbatctld is the controller daemon of the xbat benchmarking service.

It expands benchmark requests into cluster-scheduler jobs, drives every
job through its lifecycle, and materialises the collected results into
the document store and the time-series store.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"xbatctld version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./xbatctld.yaml, /etc/xbatctld/xbatctld.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration and required files without starting the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		for name, path := range map[string]string{
			"jobscript template":      cfg.JobscriptTemplate,
			"user jobscript template": cfg.UserJobscriptTemplate,
		} {
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
		if !cfg.DevOrDemo() {
			if _, err := os.Stat(cfg.HostBridgeDir); err != nil {
				return fmt.Errorf("host bridge directory: %w", err)
			}
		}
		fmt.Println("configuration ok")
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the controller daemon",
	Long: `Start the controller: document store, host bridge, scheduler adapter,
time-series gateway, registration loop and RPC surface. Blocks until
SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: cfg.LogJSON,
		})
		metrics.SetVersion(Version)

		ctl, err := controller.New(cfg)
		if err != nil {
			return err
		}
		return ctl.Run()
	},
}
