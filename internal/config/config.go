// Package config provides configuration management for pulse-monitor.
//
// Configuration Sources (priority order, high to low):
//  1. CLI flags (highest priority)
//  2. Environment variables (PULSE_* prefix, "." replaced by "_",
//     e.g. PULSE_MONITORING_INTERVAL=5m)
//  3. YAML config file (optional)
//  4. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//  1. Server: REST/WebSocket port, gRPC health port, CORS origins
//  2. Database: "sqlite" | "postgres" | "memory"
//  3. Monitoring: evaluation interval, fetch timeout, history window,
//     alert capacity, monitored tiers, manual trigger rate
//  4. Thresholds: detector and signal constants (hot-reloadable)
//  5. Router: tool catalog webhook
//  6. Logging, Audit, Tracing
package config

import (
	"context"
	"time"
)

// Config struct contains all configuration fields
type Config struct {
	// Server configuration
	Server struct {
		Port     int
		GRPCPort int
		// AllowedOrigins is the CORS and WebSocket origin allow-list.
		// Use ["*"] to allow any origin (development only).
		AllowedOrigins  []string
		ShutdownTimeout time.Duration
	}

	// Database configuration
	Database struct {
		Type        string
		SQLitePath  string
		PostgresURL string
	}

	// Monitoring configuration
	Monitoring struct {
		Interval     time.Duration
		FetchTimeout time.Duration
		HistoryLimit int
		ActionLimit  int
		Capacity     int
		// EnabledTiers lists the entity tiers that get proactive monitoring.
		EnabledTiers []string
		// TriggerInterval is the minimum spacing of manual re-evaluations
		// per entity once TriggerBurst is used up.
		TriggerInterval time.Duration
		TriggerBurst    int
	}

	// Thresholds configuration
	Thresholds struct {
		ScoreChange     float64
		CriticalDrop    float64
		SubscoreDrop    float64
		TrendMinPoints  int
		TrendConfidence float64
		ForecastRisk    float64
		InactivityDays  int
		Milestones      []int
		WeakDimension   float64
		CompetitorGain  float64
		IndustryGap     float64
		IndustryGapHigh float64
	}

	// Router configuration
	Router struct {
		WebhookURL string
		Timeout    time.Duration
		QueueSize  int
	}

	// Logging configuration
	Logging struct {
		Level      string
		Format     string
		File       string
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
	}

	// Audit trail configuration
	Audit struct {
		Enabled bool
		File    string
	}

	// Tracing configuration
	Tracing struct {
		Enabled      bool
		Endpoint     string
		SamplingRate float64
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch delivers the reloaded configuration whenever the file changes.
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager. An empty path means
// defaults and environment only.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}
