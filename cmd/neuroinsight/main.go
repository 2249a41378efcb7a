// neuroinsight is the local orchestration service for neuroimaging
// segmentation jobs.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phindagijimana/neuroinsight-local-sub000/internal/api"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/config"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/health"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/job"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/observability"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/progress"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/runtime"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/runtime/docker"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/runtime/hostexec"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/runtime/synthetic"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/store"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/store/memory"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/store/postgres"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return err
	}
	slog.Info("Configuration loaded", "environment", cfg.Environment, "dataRoot", cfg.DataRoot)

	if err := os.MkdirAll(cfg.DataRoot, 0o755); err != nil {
		return fmt.Errorf("create data root: %w", err)
	}

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Job store
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := metrics.RegisterQueueDepth(st.Counts); err != nil {
		return err
	}

	// Execution environments in preference order
	runtimes, err := buildRuntimes(cfg)
	if err != nil {
		return err
	}
	selector := runtime.NewSelector(runtimes...)

	// Lifecycle components
	invoker := runtime.NewInvoker(st, cfg.Runtime.HardTimeout)
	monitor := progress.NewMonitor(st, progress.ReconPhases, progress.Config{
		Interval:   cfg.Monitor.Interval,
		StreamWait: cfg.Monitor.StreamWait,
	})
	manager := job.NewManager(st, selector, invoker, monitor, metrics, job.ManagerConfig{
		DataRoot:    cfg.DataRoot,
		ResultRel:   cfg.ResultRel,
		StatusRel:   cfg.Monitor.StatusRelPath,
		MemoryMB:    cfg.Runtime.MemoryMB,
		CPUs:        cfg.Runtime.CPUs,
		CancelGrace: cfg.Runtime.CancelGrace,
	})
	scheduler := job.NewScheduler(st, manager, cfg.Queue.RunningCap)
	reaper := job.NewReaper(st, selector, scheduler, metrics, job.ReaperConfig{
		Interval:    cfg.Reaper.Interval,
		SoftTimeout: cfg.Reaper.SoftTimeout,
	})
	jobService := job.NewService(st, manager, scheduler, cfg.Queue, metrics)

	// Forward observed phase advances to metrics.
	go func() {
		for range monitor.Updates() {
			metrics.RecordProgressUpdate(ctx)
		}
	}()

	// The reaper's first sweep reconciles jobs left running by a previous
	// process before any new work is claimed.
	go reaper.Run(ctx)
	scheduler.Start(ctx)
	scheduler.Kick()

	healthChecker := health.NewChecker(map[string]health.ReadinessCheck{
		"store":   st.Ping,
		"runtime": selector.Ready,
	})

	apiKey := cfg.APIKey()
	router := api.NewRouter(api.RouterConfig{
		JobService:    jobService,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        apiKey,
	})

	if apiKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API key configured")
	}

	// Create API server
	apiServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + cfg.Server.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		slog.Info("Starting API server", "port", cfg.Server.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		slog.Info("Starting metrics server", "port", cfg.Server.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), timeout)
		defer cancelShutdown()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		return err
	}

	// Phase 1: fail readiness so probes drain traffic away.
	healthChecker.SetShuttingDown()
	if cfg.Server.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", cfg.Server.ShutdownDrainWait)
		time.Sleep(cfg.Server.ShutdownDrainWait)
	}

	// Phase 2: stop accepting connections, finish in-flight requests.
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3: stop the scheduler, reaper, and monitors. Executions keep
	// running on their backends; the startup sweep of the next process
	// reconciles their records.
	cancel()
	scheduler.Drain()

	slog.Info("Running executions continue independently")
	slog.Info("Shutdown complete")
	return nil
}

// openStore selects the configured store backend.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "", "memory":
		slog.Info("Using in-memory job store")
		return memory.New(), nil
	case "postgres":
		slog.Info("Using postgres job store")
		return postgres.Open(ctx, cfg.Store.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// buildRuntimes constructs execution environments per the configured
// preference order, appending the synthetic fallback when allowed.
func buildRuntimes(cfg *config.Config) ([]runtime.Runtime, error) {
	var runtimes []runtime.Runtime
	for _, name := range cfg.Runtime.Order {
		switch name {
		case "docker":
			rt, err := docker.New(docker.Config{
				Image:       cfg.Runtime.Image,
				LicensePath: cfg.Runtime.LicensePath,
			})
			if err != nil {
				return nil, err
			}
			runtimes = append(runtimes, rt)
		case "hostexec":
			runtimes = append(runtimes, hostexec.New(hostexec.Config{
				SIFPath:     cfg.Runtime.SIFPath,
				LicensePath: cfg.Runtime.LicensePath,
			}))
		default:
			return nil, fmt.Errorf("unknown runtime %q in runtime order", name)
		}
	}

	if cfg.Runtime.AllowSynthetic {
		slog.Warn("Synthetic fallback runtime enabled; results may be fabricated")
		runtimes = append(runtimes, synthetic.New())
	}
	return runtimes, nil
}
