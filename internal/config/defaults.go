package config

import (
	"time"

	"github.com/auditpulse/pulse-monitor/internal/analytics/anomaly"
	"github.com/auditpulse/pulse-monitor/internal/analytics/signals"
)

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Port = 8090
	cfg.Server.GRPCPort = 9090
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	cfg.Server.ShutdownTimeout = 15 * time.Second

	// Database defaults
	cfg.Database.Type = "sqlite"
	cfg.Database.SQLitePath = "/var/lib/pulse-monitor/pulse.db"
	cfg.Database.PostgresURL = ""

	// Monitoring defaults
	cfg.Monitoring.Interval = 10 * time.Minute
	cfg.Monitoring.FetchTimeout = 15 * time.Second
	cfg.Monitoring.HistoryLimit = 10
	cfg.Monitoring.ActionLimit = 20
	cfg.Monitoring.Capacity = 15
	cfg.Monitoring.EnabledTiers = []string{"pro", "agency"}
	cfg.Monitoring.TriggerInterval = 30 * time.Second
	cfg.Monitoring.TriggerBurst = 2

	// Threshold defaults mirror the detector and signal defaults
	det := anomaly.DefaultThresholds()
	sig := signals.DefaultThresholds()
	cfg.Thresholds.ScoreChange = det.ScoreChangeThreshold
	cfg.Thresholds.CriticalDrop = det.CriticalDropThreshold
	cfg.Thresholds.SubscoreDrop = det.SubscoreDropThreshold
	cfg.Thresholds.TrendMinPoints = det.TrendMinPoints
	cfg.Thresholds.TrendConfidence = det.TrendConfidence
	cfg.Thresholds.ForecastRisk = det.ForecastRiskScore
	cfg.Thresholds.InactivityDays = int(det.InactivityWindow / (24 * time.Hour))
	cfg.Thresholds.Milestones = make([]int, len(det.Milestones))
	for i, m := range det.Milestones {
		cfg.Thresholds.Milestones[i] = int(m)
	}
	cfg.Thresholds.WeakDimension = det.WeakDimensionScore
	cfg.Thresholds.CompetitorGain = sig.CompetitorGainThreshold
	cfg.Thresholds.IndustryGap = sig.IndustryGapThreshold
	cfg.Thresholds.IndustryGapHigh = sig.IndustryGapHigh

	// Router defaults
	cfg.Router.WebhookURL = ""
	cfg.Router.Timeout = 5 * time.Second
	cfg.Router.QueueSize = 64

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.File = ""
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 3
	cfg.Logging.MaxAgeDays = 28

	// Audit defaults
	cfg.Audit.Enabled = true
	cfg.Audit.File = ""

	// Tracing defaults
	cfg.Tracing.Enabled = false
	cfg.Tracing.Endpoint = "localhost:4317"
	cfg.Tracing.SamplingRate = 1.0

	return cfg
}

// DetectorThresholds converts the threshold section for the anomaly detector.
func (c *Config) DetectorThresholds() anomaly.Thresholds {
	milestones := make([]float64, len(c.Thresholds.Milestones))
	for i, m := range c.Thresholds.Milestones {
		milestones[i] = float64(m)
	}
	return anomaly.Thresholds{
		ScoreChangeThreshold:  c.Thresholds.ScoreChange,
		CriticalDropThreshold: c.Thresholds.CriticalDrop,
		SubscoreDropThreshold: c.Thresholds.SubscoreDrop,
		TrendMinPoints:        c.Thresholds.TrendMinPoints,
		TrendConfidence:       c.Thresholds.TrendConfidence,
		ForecastRiskScore:     c.Thresholds.ForecastRisk,
		InactivityWindow:      time.Duration(c.Thresholds.InactivityDays) * 24 * time.Hour,
		Milestones:            milestones,
		WeakDimensionScore:    c.Thresholds.WeakDimension,
	}
}

// SignalThresholds converts the threshold section for the signal evaluator.
func (c *Config) SignalThresholds() signals.Thresholds {
	return signals.Thresholds{
		CompetitorGainThreshold: c.Thresholds.CompetitorGain,
		IndustryGapThreshold:    c.Thresholds.IndustryGap,
		IndustryGapHigh:         c.Thresholds.IndustryGapHigh,
	}
}
