package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Test server defaults
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 9090, cfg.Server.GRPCPort)
	assert.NotEmpty(t, cfg.Server.AllowedOrigins)

	// Test database defaults
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.NotEmpty(t, cfg.Database.SQLitePath)

	// Test monitoring defaults
	assert.Equal(t, 10*time.Minute, cfg.Monitoring.Interval)
	assert.Equal(t, 15*time.Second, cfg.Monitoring.FetchTimeout)
	assert.Equal(t, 15, cfg.Monitoring.Capacity)
	assert.Equal(t, 10, cfg.Monitoring.HistoryLimit)

	// Test threshold defaults
	assert.Equal(t, 10.0, cfg.Thresholds.ScoreChange)
	assert.Equal(t, 20.0, cfg.Thresholds.CriticalDrop)
	assert.Equal(t, 15.0, cfg.Thresholds.SubscoreDrop)
	assert.Equal(t, 5, cfg.Thresholds.TrendMinPoints)
	assert.Equal(t, 0.7, cfg.Thresholds.TrendConfidence)
	assert.Equal(t, 7, cfg.Thresholds.InactivityDays)
	assert.Equal(t, []int{90, 80, 70}, cfg.Thresholds.Milestones)

	// Test logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.Empty(t, cfg.Validate(), "defaults must validate")
}

func TestDetectorThresholdsRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	th := cfg.DetectorThresholds()
	assert.Equal(t, 7*24*time.Hour, th.InactivityWindow)
	assert.Equal(t, []float64{90, 80, 70}, th.Milestones)
	assert.Equal(t, 60.0, th.ForecastRiskScore)

	sig := cfg.SignalThresholds()
	assert.Equal(t, 10.0, sig.CompetitorGainThreshold)
	assert.Equal(t, 20.0, sig.IndustryGapHigh)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		modifyFn  func(*Config)
		wantError bool
		errorMsg  string
	}{
		{
			name:      "valid default config",
			modifyFn:  func(cfg *Config) {},
			wantError: false,
		},
		{
			name:      "invalid port - too high",
			modifyFn:  func(cfg *Config) { cfg.Server.Port = 70000 },
			wantError: true,
			errorMsg:  "port must be between 1 and 65535",
		},
		{
			name:      "grpc port clashes",
			modifyFn:  func(cfg *Config) { cfg.Server.GRPCPort = cfg.Server.Port },
			wantError: true,
			errorMsg:  "grpc_port must differ from port",
		},
		{
			name:      "invalid database type",
			modifyFn:  func(cfg *Config) { cfg.Database.Type = "mongo" },
			wantError: true,
			errorMsg:  "invalid database type",
		},
		{
			name: "missing postgres url",
			modifyFn: func(cfg *Config) {
				cfg.Database.Type = "postgres"
				cfg.Database.PostgresURL = ""
			},
			wantError: true,
			errorMsg:  "postgres_url is required",
		},
		{
			name:      "memory database needs nothing",
			modifyFn:  func(cfg *Config) { cfg.Database.Type = "memory"; cfg.Database.SQLitePath = "" },
			wantError: false,
		},
		{
			name:      "fetch timeout longer than interval",
			modifyFn:  func(cfg *Config) { cfg.Monitoring.Interval = time.Second; cfg.Monitoring.FetchTimeout = time.Minute },
			wantError: true,
			errorMsg:  "must not exceed interval",
		},
		{
			name:      "zero capacity",
			modifyFn:  func(cfg *Config) { cfg.Monitoring.Capacity = 0 },
			wantError: true,
			errorMsg:  "capacity must be at least 1",
		},
		{
			name:      "critical below score change",
			modifyFn:  func(cfg *Config) { cfg.Thresholds.CriticalDrop = 5 },
			wantError: true,
			errorMsg:  "must be >= score_change",
		},
		{
			name:      "trend window larger than history",
			modifyFn:  func(cfg *Config) { cfg.Thresholds.TrendMinPoints = 12 },
			wantError: true,
			errorMsg:  "exceeds monitoring.history_limit",
		},
		{
			name:      "trend confidence out of range",
			modifyFn:  func(cfg *Config) { cfg.Thresholds.TrendConfidence = 1.5 },
			wantError: true,
			errorMsg:  "trend_confidence must be between 0 and 1",
		},
		{
			name:      "milestone out of range",
			modifyFn:  func(cfg *Config) { cfg.Thresholds.Milestones = []int{120} },
			wantError: true,
			errorMsg:  "milestone 120",
		},
		{
			name:      "relative webhook url",
			modifyFn:  func(cfg *Config) { cfg.Router.WebhookURL = "/tools" },
			wantError: true,
			errorMsg:  "absolute http(s) URL",
		},
		{
			name:      "invalid log level",
			modifyFn:  func(cfg *Config) { cfg.Logging.Level = "verbose" },
			wantError: true,
			errorMsg:  "invalid log level",
		},
		{
			name:      "invalid log format",
			modifyFn:  func(cfg *Config) { cfg.Logging.Format = "xml" },
			wantError: true,
			errorMsg:  "invalid log format",
		},
		{
			name:      "sampling rate out of range",
			modifyFn:  func(cfg *Config) { cfg.Tracing.SamplingRate = 2 },
			wantError: true,
			errorMsg:  "sampling_rate must be between 0 and 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modifyFn(cfg)

			errs := cfg.Validate()
			if tt.wantError {
				require.NotEmpty(t, errs, "expected validation errors")
				var msgs []string
				for _, err := range errs {
					msgs = append(msgs, err.Error())
				}
				assert.Contains(t, strings.Join(msgs, "\n"), tt.errorMsg)
			} else {
				assert.Empty(t, errs, "expected no validation errors, got %v", errs)
			}
		})
	}
}

func TestConfigManager_LoadDefaults(t *testing.T) {
	mgr, err := NewConfigManager("")
	require.NoError(t, err)
	require.NoError(t, mgr.Load(context.Background()))

	cfg := mgr.Get(context.Background())
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 10*time.Minute, cfg.Monitoring.Interval)
	assert.Equal(t, []int{90, 80, 70}, cfg.Thresholds.Milestones)
	assert.NoError(t, mgr.Validate(context.Background()))
}

func TestConfigManager_MissingFileUsesDefaults(t *testing.T) {
	mgr, err := NewConfigManager(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.NoError(t, mgr.Load(context.Background()))
	assert.Equal(t, "sqlite", mgr.Get(context.Background()).Database.Type)
}

func TestConfigManager_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulse.yaml")
	content := `
server:
  port: 9000
  allowed_origins: ["https://app.example.com"]
database:
  type: memory
monitoring:
  interval: 5m
  enabled_tiers: [agency]
thresholds:
  score_change: 12
  milestones: [95, 85]
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	mgr, err := NewConfigManager(path)
	require.NoError(t, err)
	require.NoError(t, mgr.Load(context.Background()))

	cfg := mgr.Get(context.Background())
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "memory", cfg.Database.Type)
	assert.Equal(t, 5*time.Minute, cfg.Monitoring.Interval)
	assert.Equal(t, []string{"agency"}, cfg.Monitoring.EnabledTiers)
	assert.Equal(t, 12.0, cfg.Thresholds.ScoreChange)
	assert.Equal(t, []int{95, 85}, cfg.Thresholds.Milestones)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// untouched keys keep defaults
	assert.Equal(t, 15*time.Second, cfg.Monitoring.FetchTimeout)
}

func TestConfigManager_EnvOverride(t *testing.T) {
	t.Setenv("PULSE_SERVER_PORT", "9191")
	t.Setenv("PULSE_MONITORING_INTERVAL", "2m")
	t.Setenv("PULSE_DATABASE_TYPE", "memory")

	mgr, err := NewConfigManager("")
	require.NoError(t, err)
	require.NoError(t, mgr.Load(context.Background()))

	cfg := mgr.Get(context.Background())
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Monitoring.Interval)
	assert.Equal(t, "memory", cfg.Database.Type)
}

func TestConfigManager_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unterminated"), 0o600))

	mgr, err := NewConfigManager(path)
	require.NoError(t, err)
	assert.Error(t, mgr.Load(context.Background()))
}

func TestConfigManager_ValidateAggregates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 0\nlogging:\n  level: loud\n"), 0o600))

	mgr, err := NewConfigManager(path)
	require.NoError(t, err)
	require.NoError(t, mgr.Load(context.Background()))

	err = mgr.Validate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "logging.level")
}

func TestConfigManager_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte("thresholds:\n  score_change: 11\n"), 0o600))

	mgr, err := NewConfigManager(path)
	require.NoError(t, err)
	require.NoError(t, mgr.Load(context.Background()))
	assert.Equal(t, 11.0, mgr.Get(context.Background()).Thresholds.ScoreChange)

	require.NoError(t, os.WriteFile(path, []byte("thresholds:\n  score_change: 14\n"), 0o600))
	require.NoError(t, mgr.Reload(context.Background()))
	assert.Equal(t, 14.0, mgr.Get(context.Background()).Thresholds.ScoreChange)
}
