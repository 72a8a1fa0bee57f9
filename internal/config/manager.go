package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	viper      *viper.Viper
	watchChan  chan Config
	watchOnce  sync.Once

	mu     sync.RWMutex
	config *Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.viper = viper.New()
	m.viper.SetConfigType("yaml")
	if m.configPath != "" {
		m.viper.SetConfigFile(m.configPath)
	}

	m.viper.SetEnvPrefix("PULSE")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	if err := m.readFile(); err != nil {
		return err
	}
	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	return nil
}

// readFile reads the optional config file. A missing file is not an error.
func (m *viperConfigManager) readFile() error {
	if m.configPath == "" {
		return nil
	}
	err := m.viper.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) || os.IsNotExist(err) {
		return nil
	}
	return fmt.Errorf("error reading config file: %w", err)
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.Get(ctx).Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches the config file and delivers every valid reload. Without a
// config file the channel never fires.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	if m.configPath == "" || m.viper == nil {
		return m.watchChan
	}
	m.watchOnce.Do(func() {
		m.viper.OnConfigChange(func(e fsnotify.Event) {
			if err := m.unmarshalConfig(); err != nil {
				return
			}
			cfg := m.Get(ctx)
			if len(cfg.Validate()) > 0 {
				return
			}
			select {
			case m.watchChan <- *cfg:
			default:
				// previous update not consumed yet
			}
		})
		m.viper.WatchConfig()
	})
	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if m.viper == nil {
		return m.Load(ctx)
	}
	if err := m.readFile(); err != nil {
		return err
	}
	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.grpc_port", defaults.Server.GRPCPort)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)
	m.viper.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout)

	// Database defaults
	m.viper.SetDefault("database.type", defaults.Database.Type)
	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)
	m.viper.SetDefault("database.postgres_url", defaults.Database.PostgresURL)

	// Monitoring defaults
	m.viper.SetDefault("monitoring.interval", defaults.Monitoring.Interval)
	m.viper.SetDefault("monitoring.fetch_timeout", defaults.Monitoring.FetchTimeout)
	m.viper.SetDefault("monitoring.history_limit", defaults.Monitoring.HistoryLimit)
	m.viper.SetDefault("monitoring.action_limit", defaults.Monitoring.ActionLimit)
	m.viper.SetDefault("monitoring.capacity", defaults.Monitoring.Capacity)
	m.viper.SetDefault("monitoring.enabled_tiers", defaults.Monitoring.EnabledTiers)
	m.viper.SetDefault("monitoring.trigger_interval", defaults.Monitoring.TriggerInterval)
	m.viper.SetDefault("monitoring.trigger_burst", defaults.Monitoring.TriggerBurst)

	// Threshold defaults
	m.viper.SetDefault("thresholds.score_change", defaults.Thresholds.ScoreChange)
	m.viper.SetDefault("thresholds.critical_drop", defaults.Thresholds.CriticalDrop)
	m.viper.SetDefault("thresholds.subscore_drop", defaults.Thresholds.SubscoreDrop)
	m.viper.SetDefault("thresholds.trend_min_points", defaults.Thresholds.TrendMinPoints)
	m.viper.SetDefault("thresholds.trend_confidence", defaults.Thresholds.TrendConfidence)
	m.viper.SetDefault("thresholds.forecast_risk", defaults.Thresholds.ForecastRisk)
	m.viper.SetDefault("thresholds.inactivity_days", defaults.Thresholds.InactivityDays)
	m.viper.SetDefault("thresholds.milestones", defaults.Thresholds.Milestones)
	m.viper.SetDefault("thresholds.weak_dimension", defaults.Thresholds.WeakDimension)
	m.viper.SetDefault("thresholds.competitor_gain", defaults.Thresholds.CompetitorGain)
	m.viper.SetDefault("thresholds.industry_gap", defaults.Thresholds.IndustryGap)
	m.viper.SetDefault("thresholds.industry_gap_high", defaults.Thresholds.IndustryGapHigh)

	// Router defaults
	m.viper.SetDefault("router.webhook_url", defaults.Router.WebhookURL)
	m.viper.SetDefault("router.timeout", defaults.Router.Timeout)
	m.viper.SetDefault("router.queue_size", defaults.Router.QueueSize)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.file", defaults.Logging.File)
	m.viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	m.viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)

	// Audit defaults
	m.viper.SetDefault("audit.enabled", defaults.Audit.Enabled)
	m.viper.SetDefault("audit.file", defaults.Audit.File)

	// Tracing defaults
	m.viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	m.viper.SetDefault("tracing.endpoint", defaults.Tracing.Endpoint)
	m.viper.SetDefault("tracing.sampling_rate", defaults.Tracing.SamplingRate)
}

// unmarshalConfig unmarshals viper config into Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := &Config{}

	// Server
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.GRPCPort = m.viper.GetInt("server.grpc_port")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")
	cfg.Server.ShutdownTimeout = m.viper.GetDuration("server.shutdown_timeout")

	// Database
	cfg.Database.Type = m.viper.GetString("database.type")
	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")
	cfg.Database.PostgresURL = m.viper.GetString("database.postgres_url")

	// Monitoring
	cfg.Monitoring.Interval = m.viper.GetDuration("monitoring.interval")
	cfg.Monitoring.FetchTimeout = m.viper.GetDuration("monitoring.fetch_timeout")
	cfg.Monitoring.HistoryLimit = m.viper.GetInt("monitoring.history_limit")
	cfg.Monitoring.ActionLimit = m.viper.GetInt("monitoring.action_limit")
	cfg.Monitoring.Capacity = m.viper.GetInt("monitoring.capacity")
	cfg.Monitoring.EnabledTiers = m.viper.GetStringSlice("monitoring.enabled_tiers")
	cfg.Monitoring.TriggerInterval = m.viper.GetDuration("monitoring.trigger_interval")
	cfg.Monitoring.TriggerBurst = m.viper.GetInt("monitoring.trigger_burst")

	// Thresholds
	cfg.Thresholds.ScoreChange = m.viper.GetFloat64("thresholds.score_change")
	cfg.Thresholds.CriticalDrop = m.viper.GetFloat64("thresholds.critical_drop")
	cfg.Thresholds.SubscoreDrop = m.viper.GetFloat64("thresholds.subscore_drop")
	cfg.Thresholds.TrendMinPoints = m.viper.GetInt("thresholds.trend_min_points")
	cfg.Thresholds.TrendConfidence = m.viper.GetFloat64("thresholds.trend_confidence")
	cfg.Thresholds.ForecastRisk = m.viper.GetFloat64("thresholds.forecast_risk")
	cfg.Thresholds.InactivityDays = m.viper.GetInt("thresholds.inactivity_days")
	cfg.Thresholds.Milestones = m.viper.GetIntSlice("thresholds.milestones")
	cfg.Thresholds.WeakDimension = m.viper.GetFloat64("thresholds.weak_dimension")
	cfg.Thresholds.CompetitorGain = m.viper.GetFloat64("thresholds.competitor_gain")
	cfg.Thresholds.IndustryGap = m.viper.GetFloat64("thresholds.industry_gap")
	cfg.Thresholds.IndustryGapHigh = m.viper.GetFloat64("thresholds.industry_gap_high")

	// Router
	cfg.Router.WebhookURL = m.viper.GetString("router.webhook_url")
	cfg.Router.Timeout = m.viper.GetDuration("router.timeout")
	cfg.Router.QueueSize = m.viper.GetInt("router.queue_size")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.File = m.viper.GetString("logging.file")
	cfg.Logging.MaxSizeMB = m.viper.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = m.viper.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = m.viper.GetInt("logging.max_age_days")

	// Audit
	cfg.Audit.Enabled = m.viper.GetBool("audit.enabled")
	cfg.Audit.File = m.viper.GetString("audit.file")

	// Tracing
	cfg.Tracing.Enabled = m.viper.GetBool("tracing.enabled")
	cfg.Tracing.Endpoint = m.viper.GetString("tracing.endpoint")
	cfg.Tracing.SamplingRate = m.viper.GetFloat64("tracing.sampling_rate")

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}
