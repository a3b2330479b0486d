package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mediaorch/orchestrator/internal/api"
	"github.com/mediaorch/orchestrator/internal/config"
	"github.com/mediaorch/orchestrator/internal/dispatcher"
	"github.com/mediaorch/orchestrator/internal/eventbus"
	"github.com/mediaorch/orchestrator/internal/healthloop"
	"github.com/mediaorch/orchestrator/internal/jobstore"
	"github.com/mediaorch/orchestrator/internal/metricsagg"
	"github.com/mediaorch/orchestrator/internal/registry"
	"github.com/mediaorch/orchestrator/internal/rpcclient"
	"github.com/mediaorch/orchestrator/internal/store"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "orchestrator",
		Short: "Recording-fleet orchestrator — control plane for room servers and recorder nodes",
		Long: `orchestrator is the control plane that places recording jobs onto a fleet
of recorder nodes, forwards RTP from room servers, monitors fleet health,
and reassigns work when a node fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config directory (optional)")
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("orchestrator %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting orchestrator",
		zap.String("version", version),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("db_driver", cfg.DBDriver),
		zap.String("log_level", cfg.LogLevel),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- 1. Database ---
	gormDB, err := store.Open(store.Config{
		Driver:   cfg.DBDriver,
		DSN:      cfg.DBDSN,
		Logger:   logger,
		LogLevel: gormLogLevel(cfg.LogLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	repo := store.NewGormRepository(gormDB)

	// --- 2. In-memory authoritative state, seeded from the Repository on a
	// warm restart (spec §4.1: the registry and job store are authoritative
	// once running, but a restarting orchestrator rebuilds them from the
	// last persisted snapshot rather than starting empty).
	reg := registry.New(cfg.MaxConcurrentPerNode, logger)
	jobs := jobstore.New(logger)
	bus := eventbus.New(logger)

	if err := seedFromRepository(ctx, repo, reg, jobs, logger); err != nil {
		logger.Warn("warm-restart seed from repository failed, starting with an empty fleet view", zap.Error(err))
	}

	// --- 3. Outbound RPC clients ---
	rpcClient := rpcclient.New(logger)
	recorderClient := rpcclient.NewRecorder(rpcClient)
	roomServerClient := rpcclient.NewRoomServer(rpcClient)

	// --- 4. Dispatcher ---
	disp := dispatcher.New(reg, jobs, repo, bus, recorderClient, roomServerClient, cfg.CallbackURL, logger)

	// --- 5. Health Loop ---
	loop, err := healthloop.New(
		healthloop.Config{Interval: cfg.HealthCheckInterval, NodeTimeout: cfg.NodeTimeout},
		reg, jobs, disp, recorderClient, bus, logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create health loop: %w", err)
	}
	if err := loop.Start(); err != nil {
		return fmt.Errorf("failed to start health loop: %w", err)
	}
	defer func() {
		if err := loop.Stop(); err != nil {
			logger.Warn("health loop shutdown error", zap.Error(err))
		}
	}()

	// --- 6. Metrics Aggregator ---
	agg, err := metricsagg.New(cfg.MetricsInterval, reg, jobs, repo, bus, logger)
	if err != nil {
		return fmt.Errorf("failed to create metrics aggregator: %w", err)
	}
	if err := agg.Start(); err != nil {
		return fmt.Errorf("failed to start metrics aggregator: %w", err)
	}
	defer func() {
		if err := agg.Stop(); err != nil {
			logger.Warn("metrics aggregator shutdown error", zap.Error(err))
		}
	}()

	promReg := prometheus.NewRegistry()
	for _, c := range metricsagg.Collectors() {
		if err := promReg.Register(c); err != nil {
			logger.Warn("failed to register prometheus collector", zap.Error(err))
		}
	}

	// --- 7. HTTP server ---
	router := api.NewRouter(api.RouterConfig{
		Registry:   reg,
		Jobs:       jobs,
		Dispatcher: disp,
		Repo:       repo,
		Aggregator: agg,
		Bus:        bus,
		Scaling: metricsagg.ScalingConfig{
			MinNodes:           cfg.AutoScaling.MinNodes,
			MaxNodes:           cfg.AutoScaling.MaxNodes,
			ScaleUpThreshold:   cfg.AutoScaling.ScaleUpThreshold,
			ScaleDownThreshold: cfg.AutoScaling.ScaleDownThreshold,
		},
		Logger: logger,
	})

	mux := http.NewServeMux()
	mux.Handle("/", router)
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down orchestrator")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("orchestrator stopped")
	return nil
}

// seedFromRepository loads the last known-healthy fleet and active jobs
// from the Repository and seeds the in-memory registry and job store with
// them (spec §4.1). A load error is returned after whatever was loaded
// before it has been seeded; run logs it and starts with that partial
// fleet view until nodes re-register and re-heartbeat on their own. A
// database that cannot be opened at all stops run earlier, before this
// is called.
func seedFromRepository(ctx context.Context, repo store.Repository, reg *registry.Registry, jobs *jobstore.Store, logger *zap.Logger) error {
	roomServers, err := repo.LoadHealthyRoomServers(ctx)
	if err != nil {
		return fmt.Errorf("load healthy room servers: %w", err)
	}
	for _, rs := range roomServers {
		reg.RestoreRoomServer(rs)
	}

	recorders, err := repo.LoadHealthyRecorderNodes(ctx)
	if err != nil {
		return fmt.Errorf("load healthy recorder nodes: %w", err)
	}
	for _, rn := range recorders {
		reg.RestoreRecorderNode(rn)
	}

	activeJobs, err := repo.LoadActiveJobs(ctx)
	if err != nil {
		return fmt.Errorf("load active jobs: %w", err)
	}
	for _, job := range activeJobs {
		jobs.Restore(job)
	}

	logger.Info("seeded in-memory state from repository",
		zap.Int("room_servers", len(roomServers)),
		zap.Int("recorders", len(recorders)),
		zap.Int("active_jobs", len(activeJobs)),
	)
	return nil
}

func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}
