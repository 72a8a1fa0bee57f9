package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/auditpulse/pulse-monitor/internal/audit"
	"github.com/auditpulse/pulse-monitor/internal/config"
	"github.com/auditpulse/pulse-monitor/internal/monitor"
	"github.com/auditpulse/pulse-monitor/internal/scheduler"
	"github.com/auditpulse/pulse-monitor/internal/server"
	"github.com/auditpulse/pulse-monitor/internal/tracing"
	"github.com/auditpulse/pulse-monitor/internal/version"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, REST API, alert stream and health endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	mgr, cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting pulse-monitor",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("database", cfg.Database.Type),
		zap.Duration("interval", cfg.Monitoring.Interval))

	if cfg.Tracing.Enabled {
		shutdownTracing, err := tracing.Init(ctx, cfg.Tracing.Endpoint, cfg.Tracing.SamplingRate)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(sctx); err != nil {
				logger.Warn("Tracing shutdown failed", zap.Error(err))
			}
		}()
		logger.Info("Tracing enabled", zap.String("endpoint", cfg.Tracing.Endpoint))
	}

	hub := server.NewHub(context.Background(), logger.Named("stream"))
	go hub.Run()

	c, err := buildComponents(cfg, logger, hub)
	if err != nil {
		hub.Stop()
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Failed to close components", zap.Error(err))
		}
	}()

	sched := scheduler.New(
		func(ctx context.Context, entityRef string, manual bool) error {
			trigger := monitor.TriggerScheduled
			if manual {
				trigger = monitor.TriggerManual
			}
			_, err := c.svc.Evaluate(ctx, entityRef, trigger)
			return err
		},
		scheduler.TierPolicy{Entities: c.repo, Tiers: cfg.Monitoring.EnabledTiers},
		c.repo,
		cfg.Monitoring.Interval,
		logger.Named("scheduler"),
	)
	c.svc.SetController(sched)

	health := server.NewHealthServer(cfg.Server.GRPCPort, logger.Named("grpc"))
	if cfg.Server.GRPCPort != 0 {
		if err := health.Start(); err != nil {
			hub.Stop()
			return err
		}
		defer health.Stop()
	}

	handler := server.NewHandler(c.svc, c.repo, cfg.Monitoring.TriggerInterval, logger.Named("api"))
	srv := server.New(server.Options{
		Port:            cfg.Server.Port,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, handler, hub, logger.Named("http"))

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			serverErr <- err
		}
		close(serverErr)
	}()

	if err := sched.StartAll(ctx); err != nil {
		logger.Error("Failed to start some entity runners", zap.Error(err))
	}
	health.SetServing(true)
	logger.Info("Monitoring started", zap.Int("entities", sched.Len()), zap.Int("port", cfg.Server.Port))
	started := audit.NewEvent(audit.EventServerStarted).
		WithDescription("pulse-monitor started").
		WithMetadata("entities", sched.Len()).
		WithMetadata("version", version.Version)
	if err := c.audit.Log(ctx, started); err != nil {
		logger.Debug("audit write failed", zap.Error(err))
	}

	go watchThresholds(ctx, mgr, c.svc, logger)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err, ok := <-serverErr:
		if ok {
			runErr = fmt.Errorf("http server failed: %w", err)
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}

	health.SetServing(false)
	sched.StopAll()

	shutdownCtx := context.Background()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	stopped := audit.NewEvent(audit.EventServerShutdown).WithDescription("pulse-monitor stopped")
	if err := c.audit.Log(shutdownCtx, stopped); err != nil {
		logger.Debug("audit write failed", zap.Error(err))
	}
	logger.Info("pulse-monitor stopped")
	return runErr
}

// watchThresholds applies hot-reloaded detector and signal thresholds.
// Other settings take effect on restart.
func watchThresholds(ctx context.Context, mgr config.ConfigManager, svc *monitor.Service, logger *zap.Logger) {
	updates := mgr.Watch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg := <-updates:
			svc.UpdateThresholds(cfg.DetectorThresholds(), cfg.SignalThresholds())
			logger.Info("Thresholds reloaded",
				zap.Float64("score_change", cfg.Thresholds.ScoreChange),
				zap.Float64("critical_drop", cfg.Thresholds.CriticalDrop),
				zap.Ints("milestones", cfg.Thresholds.Milestones))
		}
	}
}
