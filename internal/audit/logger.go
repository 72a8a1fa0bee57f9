package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/auditpulse/pulse-monitor/internal/logging"
	"github.com/auditpulse/pulse-monitor/internal/models"
)

const (
	bufferSize    = 100
	flushInterval = time.Second
)

// Logger defines the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// Evaluation pass outcomes
	LogEvaluationCompleted(ctx context.Context, entityRef, trigger string, created int, duration time.Duration) error
	LogEvaluationFailed(ctx context.Context, entityRef, trigger string, err error) error

	// Alert lifecycle
	LogAlertCreated(ctx context.Context, alert models.Alert) error
	LogAlertRead(ctx context.Context, entityRef, alertID string) error
	LogAlertDismissed(ctx context.Context, entityRef, alertID string) error
	LogActionRouted(ctx context.Context, entityRef, alertID, routeKey string) error

	// Sync flushes buffered log entries
	Sync() error

	// Close stops the flusher and flushes what is left
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// File is the audit log path. Empty routes events through the app logger.
	File string

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type auditLogger struct {
	appLogger   *zap.Logger
	trail       *zap.Logger
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
}

// NewLogger creates a new audit logger. appLogger receives internal errors and,
// when cfg.File is empty, the audit trail itself.
func NewLogger(cfg Config, appLogger *zap.Logger) (Logger, error) {
	if appLogger == nil {
		appLogger = zap.NewNop()
	}
	if cfg.File == "" {
		return newLogger(appLogger, appLogger.Named("audit")), nil
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	return newLogger(appLogger, newTrail(zapcore.AddSync(rotator))), nil
}

// newTrail builds the append-only audit core. Audit logs are always INFO level.
func newTrail(out zapcore.WriteSyncer) *zap.Logger {
	core := zapcore.NewCore(zapcore.NewJSONEncoder(logging.EncoderConfig()), out, zapcore.InfoLevel)
	return zap.New(core)
}

func newLogger(appLogger, trail *zap.Logger) *auditLogger {
	l := &auditLogger{
		appLogger:   appLogger,
		trail:       trail,
		buffer:      make([]*Event, 0, bufferSize),
		flushTicker: time.NewTicker(flushInterval),
		stopCh:      make(chan struct{}),
	}
	go l.autoFlush()
	return l
}

// Log logs an audit event. Events without a correlation id inherit the one
// carried by ctx.
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	if event.CorrelationID == "" {
		event.CorrelationID = GetCorrelationID(ctx)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)
	if len(l.buffer) >= bufferSize {
		l.flushLocked()
	}
	return nil
}

// flushLocked writes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked() {
	for _, event := range l.buffer {
		fields := []zap.Field{
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
			zap.Time("event_time", event.Timestamp),
		}
		if event.EntityRef != "" {
			fields = append(fields, zap.String("entity_ref", event.EntityRef))
		}
		if event.AlertID != "" {
			fields = append(fields, zap.String("alert_id", event.AlertID))
		}
		if event.Trigger != "" {
			fields = append(fields, zap.String("trigger", event.Trigger))
		}
		if event.DurationMs > 0 {
			fields = append(fields, zap.Int64("duration_ms", event.DurationMs))
		}
		if event.Error != "" {
			fields = append(fields, zap.String("error", event.Error))
		}
		if len(event.Metadata) > 0 {
			fields = append(fields, zap.Any("metadata", event.Metadata))
		}
		msg := event.Description
		if msg == "" {
			msg = string(event.EventType)
		}
		l.trail.Info(msg, fields...)
	}
	l.buffer = l.buffer[:0]
}

func (l *auditLogger) autoFlush() {
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

func (l *auditLogger) LogEvaluationCompleted(ctx context.Context, entityRef, trigger string, created int, duration time.Duration) error {
	event := NewEvent(EventEvaluationCompleted).
		WithEntity(entityRef).
		WithTrigger(trigger).
		WithDuration(duration).
		WithMetadata("alerts_created", created).
		WithDescription(fmt.Sprintf("Evaluation of %s completed with %d new alerts", entityRef, created))
	return l.Log(ctx, event)
}

func (l *auditLogger) LogEvaluationFailed(ctx context.Context, entityRef, trigger string, err error) error {
	event := NewEvent(EventEvaluationFailed).
		WithEntity(entityRef).
		WithTrigger(trigger).
		WithError(err).
		WithDescription(fmt.Sprintf("Evaluation of %s failed", entityRef))
	return l.Log(ctx, event)
}

func (l *auditLogger) LogAlertCreated(ctx context.Context, alert models.Alert) error {
	event := NewEvent(EventAlertCreated).
		WithEntity(alert.EntityRef).
		WithAlert(alert.ID).
		WithMetadata("kind", string(alert.Kind)).
		WithMetadata("severity", string(alert.Severity)).
		WithMetadata("confidence", alert.Confidence).
		WithDescription(alert.Title)
	return l.Log(ctx, event)
}

func (l *auditLogger) LogAlertRead(ctx context.Context, entityRef, alertID string) error {
	event := NewEvent(EventAlertRead).
		WithEntity(entityRef).
		WithAlert(alertID)
	return l.Log(ctx, event)
}

func (l *auditLogger) LogAlertDismissed(ctx context.Context, entityRef, alertID string) error {
	event := NewEvent(EventAlertDismissed).
		WithEntity(entityRef).
		WithAlert(alertID)
	return l.Log(ctx, event)
}

func (l *auditLogger) LogActionRouted(ctx context.Context, entityRef, alertID, routeKey string) error {
	event := NewEvent(EventAlertRouted).
		WithEntity(entityRef).
		WithAlert(alertID).
		WithMetadata("route", routeKey).
		WithDescription(fmt.Sprintf("Alert %s routed to %s", alertID, routeKey))
	return l.Log(ctx, event)
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.flushLocked()
	return l.trail.Sync()
}

// Close stops the flusher and flushes the remaining buffer. Safe to call twice.
func (l *auditLogger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.stopCh)
		l.flushTicker.Stop()
		err = l.Sync()
	})
	return err
}

type nopLogger struct{}

// NewNopLogger returns a Logger that discards every event.
func NewNopLogger() Logger { return nopLogger{} }

func (nopLogger) Log(context.Context, *Event) error { return nil }
func (nopLogger) LogEvaluationCompleted(context.Context, string, string, int, time.Duration) error {
	return nil
}
func (nopLogger) LogEvaluationFailed(context.Context, string, string, error) error { return nil }
func (nopLogger) LogAlertCreated(context.Context, models.Alert) error              { return nil }
func (nopLogger) LogAlertRead(context.Context, string, string) error               { return nil }
func (nopLogger) LogAlertDismissed(context.Context, string, string) error          { return nil }
func (nopLogger) LogActionRouted(context.Context, string, string, string) error    { return nil }
func (nopLogger) Sync() error                                                      { return nil }
func (nopLogger) Close() error                                                     { return nil }

type correlationKey struct{}

// GetCorrelationID extracts correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID adds correlation ID to context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// GenerateCorrelationID generates a new correlation ID
func GenerateCorrelationID() string {
	return uuid.NewString()
}
