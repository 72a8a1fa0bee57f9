package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		add("server.grpc_port", "port must be between 0 and 65535, got %d", c.Server.GRPCPort)
	} else if c.Server.GRPCPort != 0 && c.Server.GRPCPort == c.Server.Port {
		add("server.grpc_port", "grpc_port must differ from port")
	}
	if c.Server.ShutdownTimeout < 0 {
		add("server.shutdown_timeout", "shutdown_timeout cannot be negative")
	}

	// Validate database configuration
	switch c.Database.Type {
	case "sqlite":
		if c.Database.SQLitePath == "" {
			add("database.sqlite_path", "sqlite_path is required when type is sqlite")
		}
	case "postgres":
		if c.Database.PostgresURL == "" {
			add("database.postgres_url", "postgres_url is required when type is postgres")
		}
	case "memory":
	default:
		add("database.type", "invalid database type %q (must be sqlite, postgres or memory)", c.Database.Type)
	}

	// Validate monitoring configuration
	if c.Monitoring.Interval < time.Second {
		add("monitoring.interval", "interval must be at least 1s, got %s", c.Monitoring.Interval)
	}
	if c.Monitoring.FetchTimeout <= 0 {
		add("monitoring.fetch_timeout", "fetch_timeout must be positive")
	} else if c.Monitoring.FetchTimeout > c.Monitoring.Interval && c.Monitoring.Interval > 0 {
		add("monitoring.fetch_timeout", "fetch_timeout (%s) must not exceed interval (%s)", c.Monitoring.FetchTimeout, c.Monitoring.Interval)
	}
	if c.Monitoring.HistoryLimit < 2 {
		add("monitoring.history_limit", "history_limit must be at least 2, got %d", c.Monitoring.HistoryLimit)
	}
	if c.Monitoring.ActionLimit < 1 {
		add("monitoring.action_limit", "action_limit must be at least 1, got %d", c.Monitoring.ActionLimit)
	}
	if c.Monitoring.Capacity < 1 {
		add("monitoring.capacity", "capacity must be at least 1, got %d", c.Monitoring.Capacity)
	}
	if c.Monitoring.TriggerInterval < 0 {
		add("monitoring.trigger_interval", "trigger_interval cannot be negative")
	}
	if c.Monitoring.TriggerBurst < 1 {
		add("monitoring.trigger_burst", "trigger_burst must be at least 1, got %d", c.Monitoring.TriggerBurst)
	}

	// Validate thresholds
	if c.Thresholds.ScoreChange <= 0 {
		add("thresholds.score_change", "score_change must be positive")
	}
	if c.Thresholds.CriticalDrop < c.Thresholds.ScoreChange {
		add("thresholds.critical_drop", "critical_drop (%.1f) must be >= score_change (%.1f)", c.Thresholds.CriticalDrop, c.Thresholds.ScoreChange)
	}
	if c.Thresholds.SubscoreDrop <= 0 {
		add("thresholds.subscore_drop", "subscore_drop must be positive")
	}
	if c.Thresholds.TrendMinPoints < 3 {
		add("thresholds.trend_min_points", "trend_min_points must be at least 3, got %d", c.Thresholds.TrendMinPoints)
	}
	if c.Thresholds.TrendMinPoints > c.Monitoring.HistoryLimit {
		add("thresholds.trend_min_points", "trend_min_points (%d) exceeds monitoring.history_limit (%d)", c.Thresholds.TrendMinPoints, c.Monitoring.HistoryLimit)
	}
	if c.Thresholds.TrendConfidence < 0 || c.Thresholds.TrendConfidence > 1 {
		add("thresholds.trend_confidence", "trend_confidence must be between 0 and 1, got %.2f", c.Thresholds.TrendConfidence)
	}
	if c.Thresholds.ForecastRisk < 0 || c.Thresholds.ForecastRisk > 100 {
		add("thresholds.forecast_risk", "forecast_risk must be between 0 and 100")
	}
	if c.Thresholds.InactivityDays < 1 {
		add("thresholds.inactivity_days", "inactivity_days must be at least 1")
	}
	for _, m := range c.Thresholds.Milestones {
		if m <= 0 || m > 100 {
			add("thresholds.milestones", "milestone %d must be between 1 and 100", m)
		}
	}
	if c.Thresholds.WeakDimension < 0 || c.Thresholds.WeakDimension > 100 {
		add("thresholds.weak_dimension", "weak_dimension must be between 0 and 100")
	}
	if c.Thresholds.CompetitorGain <= 0 {
		add("thresholds.competitor_gain", "competitor_gain must be positive")
	}
	if c.Thresholds.IndustryGap <= 0 {
		add("thresholds.industry_gap", "industry_gap must be positive")
	}

	// Validate router configuration
	if c.Router.WebhookURL != "" {
		u, err := url.Parse(c.Router.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("router.webhook_url", "webhook_url must be an absolute http(s) URL, got %q", c.Router.WebhookURL)
		}
	}
	if c.Router.Timeout <= 0 {
		add("router.timeout", "timeout must be positive")
	}
	if c.Router.QueueSize < 1 {
		add("router.queue_size", "queue_size must be at least 1")
	}

	// Validate logging configuration
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		add("logging.level", "invalid log level %q (must be debug, info, warn or error)", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		add("logging.format", "invalid log format %q (must be json or console)", c.Logging.Format)
	}

	// Validate tracing configuration
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		add("tracing.sampling_rate", "sampling_rate must be between 0 and 1, got %.2f", c.Tracing.SamplingRate)
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		add("tracing.endpoint", "endpoint is required when tracing is enabled")
	}

	return errs
}
