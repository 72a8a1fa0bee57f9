package cli

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/auditpulse/pulse-monitor/internal/alerting/router"
	"github.com/auditpulse/pulse-monitor/internal/alerting/store"
	"github.com/auditpulse/pulse-monitor/internal/alerting/synth"
	"github.com/auditpulse/pulse-monitor/internal/audit"
	"github.com/auditpulse/pulse-monitor/internal/config"
	"github.com/auditpulse/pulse-monitor/internal/logging"
	"github.com/auditpulse/pulse-monitor/internal/monitor"
	"github.com/auditpulse/pulse-monitor/internal/repository"
)

// components is the wired engine shared by serve and evaluate.
type components struct {
	logger *zap.Logger
	audit  audit.Logger
	repo   repository.Repository
	router *router.AsyncRouter
	svc    *monitor.Service
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
}

func monitorOptions(cfg *config.Config) monitor.Options {
	return monitor.Options{
		HistoryLimit:    cfg.Monitoring.HistoryLimit,
		ActionLimit:     cfg.Monitoring.ActionLimit,
		FetchTimeout:    cfg.Monitoring.FetchTimeout,
		Detector:        cfg.DetectorThresholds(),
		Signals:         cfg.SignalThresholds(),
		TriggerInterval: cfg.Monitoring.TriggerInterval,
		TriggerBurst:    cfg.Monitoring.TriggerBurst,
	}
}

// buildComponents opens the repository and wires the evaluation service.
// publisher may be nil.
func buildComponents(cfg *config.Config, logger *zap.Logger, publisher monitor.Publisher) (*components, error) {
	auditLogger := audit.NewNopLogger()
	if cfg.Audit.Enabled {
		l, err := audit.NewLogger(audit.Config{
			File:       cfg.Audit.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create audit logger: %w", err)
		}
		auditLogger = l
	}

	repo, err := repository.Open(cfg.Database.Type, cfg.Database.SQLitePath, cfg.Database.PostgresURL)
	if err != nil {
		_ = auditLogger.Close()
		return nil, fmt.Errorf("failed to open %s repository: %w", cfg.Database.Type, err)
	}

	var handler router.Handler = router.LogHandler{Logger: logger.Named("router")}
	if cfg.Router.WebhookURL != "" {
		handler = router.NewWebhookHandler(cfg.Router.WebhookURL, cfg.Router.Timeout)
	}
	rt := router.NewAsyncRouter(handler, cfg.Router.QueueSize, cfg.Router.Timeout, logger.Named("router"))

	svc := monitor.NewService(monitor.Deps{
		Repo:      repo,
		Stores:    store.NewRegistry(cfg.Monitoring.Capacity),
		Router:    rt,
		Synth:     synth.New(synth.DefaultCatalog(), router.DefaultTable()),
		Audit:     auditLogger,
		Publisher: publisher,
		Logger:    logger.Named("monitor"),
	}, monitorOptions(cfg))

	return &components{
		logger: logger,
		audit:  auditLogger,
		repo:   repo,
		router: rt,
		svc:    svc,
	}, nil
}

// Close drains the router, flushes the audit trail and closes the repository.
func (c *components) Close() error {
	c.router.Close()
	return errors.Join(c.audit.Close(), c.repo.Close())
}
