// Package controller wires every component of the daemon together and
// owns its lifecycle: leaves-first construction, background loops, and
// signal-driven shutdown.
package controller

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xbat/xbatctld/pkg/config"
	"github.com/xbat/xbatctld/pkg/hostbridge"
	"github.com/xbat/xbatctld/pkg/log"
	"github.com/xbat/xbatctld/pkg/metrics"
	"github.com/xbat/xbatctld/pkg/metricsdb"
	"github.com/xbat/xbatctld/pkg/paths"
	"github.com/xbat/xbatctld/pkg/permutation"
	"github.com/xbat/xbatctld/pkg/registration"
	"github.com/xbat/xbatctld/pkg/rpc"
	"github.com/xbat/xbatctld/pkg/schedadapter"
	"github.com/xbat/xbatctld/pkg/store"
	"github.com/xbat/xbatctld/pkg/submitter"
	"github.com/xbat/xbatctld/pkg/userdir"
	"github.com/xbat/xbatctld/pkg/watcher"
)

// Controller holds every long-lived component of the daemon.
type Controller struct {
	cfg *config.Config

	store    store.Store
	bridge   *hostbridge.Bridge
	sched    *schedadapter.Adapter
	users    *userdir.Adapter
	tsdb     *metricsdb.DB
	watcher  *watcher.Watcher
	regLoop  *registration.Loop
	rpc      *rpc.Server
	collect  *metrics.Collector
	metricsS *http.Server
}

// New builds the controller leaves-first: document store, host bridge,
// scheduler adapter, user directory, time-series gateway, then the loops
// and the RPC surface on top.
func New(cfg *config.Config) (*Controller, error) {
	c := &Controller{cfg: cfg}

	paths.MountPrefix = cfg.MountPrefix

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	st, err := store.NewBoltStore(store.Config{DataDir: cfg.DataDir})
	if err != nil {
		return nil, err
	}
	c.store = st
	metrics.RegisterProbe("store", true, func() error {
		_, err := st.ListJobIDs()
		return err
	})

	if !cfg.DevOrDemo() {
		if err := hostbridge.ClearRunFiles(cfg.HostBridgeDir); err != nil {
			lg := log.WithComponent("controller")
			lg.Warn().Err(err).Msg("could not clear stale host bridge run files")
		}
		bridge, err := hostbridge.Open(cfg.HostBridgeDir)
		if err != nil {
			return nil, err
		}
		c.bridge = bridge
		metrics.RegisterProbe("hostbridge", true, func() error {
			_, err := os.Stat(cfg.HostBridgeDir)
			return err
		})
	}

	c.sched = schedadapter.New(
		schedExecutor{c.bridge},
		cfg.DevOrDemo,
		fixtureLoader(cfg.FixturesDir),
	)
	sched := c.sched
	metrics.RegisterProbe("scheduler", true, func() error {
		// zero means no caller has polled yet, which is fine at startup;
		// an old snapshot means refreshes keep failing
		last := sched.LastRefresh()
		if last.IsZero() {
			return nil
		}
		if age := time.Since(last); age > 5*schedadapter.RefreshInterval {
			return fmt.Errorf("scheduler cache stale for %s", age.Round(time.Second))
		}
		return nil
	})

	c.users = userdir.New(userExecutor{c.bridge}, cfg.DevOrDemo)

	tsdb, err := metricsdb.Open(cfg.MetricsDBPath)
	if err != nil {
		return nil, err
	}
	c.tsdb = tsdb
	metrics.RegisterProbe("metricsdb", false, tsdb.Ping)
	if err := tsdb.Maintain(); err != nil {
		lg := log.WithComponent("controller")
		lg.Warn().Err(err).Msg("time-series maintenance failed")
	}

	templates, err := loadTemplates(cfg)
	if err != nil {
		return nil, err
	}
	sub := submitter.New(c.users, c.sched, c.store, templates, cfg.HomePrefix)

	c.watcher = watcher.New(c.store, c.sched)
	if d, err := time.ParseDuration(cfg.JobStateInterval); err == nil {
		c.watcher.SetInterval(d)
	}
	c.regLoop = registration.New(c.sched, c.store, c.watcher)
	if d, err := time.ParseDuration(cfg.RegistrationInterval); err == nil {
		c.regLoop.SetInterval(d)
	}

	c.rpc = rpc.New(cfg.RPCAddr, c.store, c.sched, c.users, sub, purgeBinding{c.tsdb, c.store})

	var poolStats metrics.PoolStats
	if c.bridge != nil {
		poolStats = c.bridge
	}
	c.collect = metrics.NewCollector(watchCounts{c.regLoop}, poolStats)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	c.metricsS = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

	return c, nil
}

// Run blocks until SIGINT/SIGTERM. The first signal drains everything; a
// second one terminates the process immediately.
func (c *Controller) Run() error {
	logger := log.WithComponent("controller")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c.collect.Start()

	go func() {
		if err := c.metricsS.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	rpcDone := make(chan error, 1)
	go func() {
		rpcDone <- c.rpc.Run(ctx)
	}()

	regDone := make(chan struct{})
	go func() {
		c.regLoop.Run(ctx)
		close(regDone)
	}()

	logger.Info().Str("mode", c.cfg.Mode).Msg("xbatctld started")

	<-ctx.Done()
	// Re-raising the signal now kills the process: NotifyContext stops
	// relaying once cancelled.
	stop()
	logger.Info().Msg("shutting down, repeat signal for immediate exit")

	<-regDone
	if err := <-rpcDone; err != nil {
		logger.Error().Err(err).Msg("rpc server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = c.metricsS.Shutdown(shutdownCtx)

	c.collect.Stop()
	if err := c.tsdb.Close(); err != nil {
		logger.Warn().Err(err).Msg("closing time-series gateway failed")
	}
	if err := c.store.Close(); err != nil {
		logger.Warn().Err(err).Msg("closing document store failed")
	}

	logger.Info().Msg("xbatctld shut down")
	return nil
}

// purgeBinding fixes the document store the time-series purge reconciles
// against, so the RPC surface only sees a parameterless Purge.
type purgeBinding struct {
	db    *metricsdb.DB
	store store.Store
}

func (p purgeBinding) Purge() error { return p.db.Purge(p.store) }

// watchCounts adapts the registration loop to the metrics collector.
type watchCounts struct {
	loop *registration.Loop
}

func (w watchCounts) JobCountsByState() map[string]int {
	return map[string]int{"watched": w.loop.WatchedCount()}
}

func loadTemplates(cfg *config.Config) (permutation.Templates, error) {
	jobscript, err := os.ReadFile(cfg.JobscriptTemplate)
	if err != nil {
		return permutation.Templates{}, fmt.Errorf("read jobscript template: %w", err)
	}
	userJobscript, err := os.ReadFile(cfg.UserJobscriptTemplate)
	if err != nil {
		return permutation.Templates{}, fmt.Errorf("read user jobscript template: %w", err)
	}
	return permutation.Templates{
		JobscriptIn:     string(jobscript),
		UserJobscriptIn: string(userJobscript),
	}, nil
}
