// Package monitor runs evaluation passes and exposes the consumer alert API.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/auditpulse/pulse-monitor/internal/alerting/router"
	"github.com/auditpulse/pulse-monitor/internal/alerting/store"
	"github.com/auditpulse/pulse-monitor/internal/alerting/synth"
	"github.com/auditpulse/pulse-monitor/internal/analytics/anomaly"
	"github.com/auditpulse/pulse-monitor/internal/analytics/signals"
	"github.com/auditpulse/pulse-monitor/internal/audit"
	"github.com/auditpulse/pulse-monitor/internal/metrics"
	"github.com/auditpulse/pulse-monitor/internal/models"
	"github.com/auditpulse/pulse-monitor/internal/repository"
	"github.com/auditpulse/pulse-monitor/internal/tracing"
)

var (
	// ErrRateLimited is returned when manual re-evaluations arrive too fast.
	ErrRateLimited = errors.New("manual evaluation rate limited")
	// ErrNotMonitored is returned when a manual re-evaluation targets an entity
	// without an active runner.
	ErrNotMonitored = errors.New("entity is not monitored")
	// ErrAlertNotFound is returned by Acknowledge for unknown alert ids.
	ErrAlertNotFound = errors.New("alert not found")
	// ErrMalformedRecord is returned when the repository yields a snapshot or
	// action without an id. Alert ids are derived from record ids.
	ErrMalformedRecord = errors.New("record without id")
)

// Trigger names what started a pass.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
	TriggerCLI       Trigger = "cli"
)

// Publisher receives the alerts a pass newly accepted.
type Publisher interface {
	Publish(entityRef string, alerts []models.Alert)
}

// Controller starts, stops and triggers per-entity runners.
type Controller interface {
	Start(ctx context.Context, entityRef string) error
	Stop(entityRef string)
	// Trigger queues a pass. queued is false when one was already pending.
	Trigger(entityRef string) (queued bool, err error)
	Running(entityRef string) bool
}

// Options are the tunables of an evaluation pass.
type Options struct {
	HistoryLimit    int
	ActionLimit     int
	FetchTimeout    time.Duration
	Detector        anomaly.Thresholds
	Signals         signals.Thresholds
	TriggerInterval time.Duration
	TriggerBurst    int
}

// DefaultOptions returns the stock pass settings.
func DefaultOptions() Options {
	return Options{
		HistoryLimit:    10,
		ActionLimit:     20,
		FetchTimeout:    15 * time.Second,
		Detector:        anomaly.DefaultThresholds(),
		Signals:         signals.DefaultThresholds(),
		TriggerInterval: 30 * time.Second,
		TriggerBurst:    2,
	}
}

// PassResult summarizes one evaluation pass.
type PassResult struct {
	EntityRef     string         `json:"entity_ref"`
	CorrelationID string         `json:"correlation_id"`
	Trigger       Trigger        `json:"trigger"`
	Findings      int            `json:"findings"`
	Alerts        []models.Alert `json:"alerts"`
	Accepted      []models.Alert `json:"accepted"`
	Evicted       int            `json:"evicted"`
	Duration      time.Duration  `json:"duration"`
}

// Deps are the collaborators of a Service. Repo, Stores and Router are required.
type Deps struct {
	Repo      repository.Repository
	Stores    *store.Registry
	Router    router.Router
	Synth     *synth.Synthesizer
	Audit     audit.Logger
	Publisher Publisher
	Logger    *zap.Logger
	Now       func() time.Time
}

// Service owns the evaluation pipeline and the per-entity alert stores.
type Service struct {
	repo      repository.Repository
	stores    *store.Registry
	router    router.Router
	synth     *synth.Synthesizer
	signals   *signals.Evaluator
	audit     audit.Logger
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time

	mu         sync.RWMutex
	opts       Options
	controller Controller

	locksMu   sync.Mutex
	passLocks map[string]*sync.Mutex
	limiters  map[string]*rate.Limiter
}

// NewService wires a Service.
func NewService(deps Deps, opts Options) *Service {
	if deps.Synth == nil {
		deps.Synth = synth.New(nil, router.DefaultTable())
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewNopLogger()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{
		repo:      deps.Repo,
		stores:    deps.Stores,
		router:    deps.Router,
		synth:     deps.Synth,
		signals:   signals.NewEvaluator(deps.Repo, deps.Logger.Named("signals")),
		audit:     deps.Audit,
		publisher: deps.Publisher,
		logger:    deps.Logger,
		now:       deps.Now,
		opts:      opts,
		passLocks: make(map[string]*sync.Mutex),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// SetController attaches the scheduler used by TriggerEvaluation and SetMonitoring.
func (s *Service) SetController(c Controller) {
	s.mu.Lock()
	s.controller = c
	s.mu.Unlock()
}

// UpdateThresholds swaps detector and signal thresholds for subsequent passes.
func (s *Service) UpdateThresholds(det anomaly.Thresholds, sig signals.Thresholds) {
	s.mu.Lock()
	s.opts.Detector = det
	s.opts.Signals = sig
	s.mu.Unlock()
}

func (s *Service) options() Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts
}

func (s *Service) passLock(entityRef string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.passLocks[entityRef]
	if !ok {
		l = &sync.Mutex{}
		s.passLocks[entityRef] = l
	}
	return l
}

// Evaluate runs one pass for the entity. A failed fetch aborts the pass before
// the alert store is touched.
func (s *Service) Evaluate(ctx context.Context, entityRef string, trigger Trigger) (PassResult, error) {
	lock := s.passLock(entityRef)
	lock.Lock()
	defer lock.Unlock()

	start := s.now()
	result := PassResult{
		EntityRef:     entityRef,
		CorrelationID: audit.GenerateCorrelationID(),
		Trigger:       trigger,
	}
	ctx = audit.WithCorrelationID(ctx, result.CorrelationID)
	ctx, span := tracing.StartSpan(ctx, "monitor.evaluate",
		attribute.String("entity.ref", entityRef),
		attribute.String("pass.trigger", string(trigger)),
	)
	defer span.End()

	opts := s.options()
	logger := s.logger.With(
		zap.String("entity", entityRef),
		zap.String("correlation_id", result.CorrelationID),
	)

	in, entity, err := s.fetch(ctx, entityRef, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		metrics.EvaluationPassesTotal.WithLabelValues(string(trigger), "fetch_error").Inc()
		metrics.EvaluationDuration.WithLabelValues("fetch_error").Observe(time.Since(start).Seconds())
		auditFailed(logger, s.audit.LogEvaluationFailed(ctx, entityRef, string(trigger), err))
		logger.Warn("evaluation pass aborted", zap.Error(err))
		return result, err
	}
	in.Now = start

	findings := anomaly.DetectAnomalies(in, opts.Detector)
	var sig []anomaly.Finding
	if len(in.History) > 0 {
		sigCtx, cancel := context.WithTimeout(ctx, opts.FetchTimeout)
		sig = s.signals.Evaluate(sigCtx, entity, in.History[0], opts.Signals, start)
		cancel()
	}
	for _, batch := range [][]anomaly.Finding{findings, sig} {
		for _, f := range batch {
			metrics.FindingsTotal.WithLabelValues(string(f.Condition)).Inc()
		}
	}
	result.Findings = len(findings) + len(sig)

	result.Alerts = s.synth.Synthesize(findings, sig)
	st := s.stores.For(entityRef)
	result.Accepted, result.Evicted = st.Ingest(result.Alerts)

	s.recordMilestones(ctx, logger, findings)

	for _, a := range result.Accepted {
		metrics.AlertsIngestedTotal.WithLabelValues(string(a.Kind), string(a.Severity)).Inc()
		auditFailed(logger, s.audit.LogAlertCreated(ctx, a))
	}
	metrics.AlertsDeduplicatedTotal.Add(float64(len(result.Alerts) - len(result.Accepted)))
	metrics.AlertsEvictedTotal.Add(float64(result.Evicted))
	metrics.UnreadAlerts.WithLabelValues(entityRef).Set(float64(st.UnreadCount()))

	if s.publisher != nil && len(result.Accepted) > 0 {
		s.publisher.Publish(entityRef, result.Accepted)
	}

	result.Duration = time.Since(start)
	metrics.EvaluationPassesTotal.WithLabelValues(string(trigger), "ok").Inc()
	metrics.EvaluationDuration.WithLabelValues("ok").Observe(result.Duration.Seconds())
	span.SetAttributes(
		attribute.Int("pass.findings", result.Findings),
		attribute.Int("pass.alerts", len(result.Alerts)),
		attribute.Int("pass.accepted", len(result.Accepted)),
	)
	auditFailed(logger, s.audit.LogEvaluationCompleted(ctx, entityRef, string(trigger), len(result.Accepted), result.Duration))
	logger.Debug("evaluation pass completed",
		zap.Int("findings", result.Findings),
		zap.Int("accepted", len(result.Accepted)),
		zap.Int("evicted", result.Evicted),
	)
	return result, nil
}

// fetch loads history, actions, milestones and the entity under FetchTimeout.
func (s *Service) fetch(ctx context.Context, entityRef string, opts Options) (anomaly.Input, models.Entity, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, opts.FetchTimeout)
	defer cancel()

	in := anomaly.Input{EntityRef: entityRef}
	var entity models.Entity

	g, gctx := errgroup.WithContext(fetchCtx)
	g.Go(func() error {
		e, err := s.repo.GetEntity(gctx, entityRef)
		if err != nil {
			return fmt.Errorf("failed to load entity: %w", err)
		}
		entity = *e
		return nil
	})
	g.Go(func() error {
		h, err := s.repo.GetHistory(gctx, entityRef, opts.HistoryLimit)
		if err != nil {
			return fmt.Errorf("failed to fetch history: %w", err)
		}
		for _, snap := range h {
			if snap.ID == "" {
				return fmt.Errorf("failed to fetch history: %w: snapshot at %s",
					ErrMalformedRecord, snap.Timestamp.Format(time.RFC3339))
			}
		}
		in.History = h
		return nil
	})
	g.Go(func() error {
		a, err := s.repo.GetRecentActions(gctx, entityRef, opts.ActionLimit)
		if err != nil {
			return fmt.Errorf("failed to fetch actions: %w", err)
		}
		for _, act := range a {
			if act.ID == "" {
				return fmt.Errorf("failed to fetch actions: %w: action at %s",
					ErrMalformedRecord, act.Timestamp.Format(time.RFC3339))
			}
		}
		in.Actions = a
		return nil
	})
	g.Go(func() error {
		m, err := s.repo.FiredMilestones(gctx, entityRef)
		if err != nil {
			return fmt.Errorf("failed to load milestones: %w", err)
		}
		in.FiredMilestones = m
		return nil
	})
	if err := g.Wait(); err != nil {
		return anomaly.Input{}, models.Entity{}, err
	}
	return in, entity, nil
}

// auditFailed logs an audit write error. Audit failures never fail the caller.
func auditFailed(logger *zap.Logger, err error) {
	if err != nil {
		logger.Debug("audit write failed", zap.Error(err))
	}
}

func (s *Service) recordMilestones(ctx context.Context, logger *zap.Logger, findings []anomaly.Finding) {
	for _, f := range findings {
		if f.Condition != models.ConditionMilestone {
			continue
		}
		if err := s.repo.RecordMilestone(ctx, f.EntityRef, f.Value, f.DetectedAt); err != nil {
			// the store already holds the alert; a retry next pass collapses by id
			logger.Error("failed to record milestone", zap.Float64("threshold", f.Value), zap.Error(err))
		}
	}
}

// ListAlerts returns the entity's alerts, newest first.
func (s *Service) ListAlerts(entityRef string) []models.Alert {
	st, ok := s.stores.Lookup(entityRef)
	if !ok {
		return []models.Alert{}
	}
	return st.List()
}

// UnreadCount returns the number of unread alerts for the entity.
func (s *Service) UnreadCount(entityRef string) int {
	st, ok := s.stores.Lookup(entityRef)
	if !ok {
		return 0
	}
	return st.UnreadCount()
}

// MarkRead marks one alert read. Unknown ids are a no-op.
func (s *Service) MarkRead(ctx context.Context, entityRef, alertID string) bool {
	st, ok := s.stores.Lookup(entityRef)
	if !ok || !st.MarkRead(alertID) {
		return false
	}
	metrics.UnreadAlerts.WithLabelValues(entityRef).Set(float64(st.UnreadCount()))
	auditFailed(s.logger, s.audit.LogAlertRead(ctx, entityRef, alertID))
	return true
}

// MarkAllRead marks every alert read and returns how many changed.
func (s *Service) MarkAllRead(ctx context.Context, entityRef string) int {
	st, ok := s.stores.Lookup(entityRef)
	if !ok {
		return 0
	}
	n := st.MarkAllRead()
	metrics.UnreadAlerts.WithLabelValues(entityRef).Set(0)
	if n > 0 {
		err := s.audit.Log(ctx, audit.NewEvent(audit.EventAlertRead).
			WithEntity(entityRef).
			WithMetadata("count", n).
			WithDescription(fmt.Sprintf("Marked %d alerts read", n)))
		auditFailed(s.logger, err)
	}
	return n
}

// Dismiss removes an alert. Unknown ids are a no-op.
func (s *Service) Dismiss(ctx context.Context, entityRef, alertID string) bool {
	st, ok := s.stores.Lookup(entityRef)
	if !ok || !st.Dismiss(alertID) {
		return false
	}
	metrics.UnreadAlerts.WithLabelValues(entityRef).Set(float64(st.UnreadCount()))
	auditFailed(s.logger, s.audit.LogAlertDismissed(ctx, entityRef, alertID))
	return true
}

// Acknowledge marks the alert read and routes its recommended action without
// waiting for delivery.
func (s *Service) Acknowledge(ctx context.Context, entityRef, alertID string) (models.RecommendedAction, error) {
	st, ok := s.stores.Lookup(entityRef)
	if !ok {
		return models.RecommendedAction{}, ErrAlertNotFound
	}
	alert, ok := st.Get(alertID)
	if !ok {
		return models.RecommendedAction{}, ErrAlertNotFound
	}
	s.MarkRead(ctx, entityRef, alertID)
	s.router.RouteAction(alert.RecommendedAction.RouteKey, alert.ID)
	auditFailed(s.logger, s.audit.LogActionRouted(ctx, entityRef, alert.ID, alert.RecommendedAction.RouteKey))
	return alert.RecommendedAction, nil
}

// TriggerEvaluation queues an out-of-schedule pass. Requests for an entity
// without a runner fail with ErrNotMonitored; bursts fail with ErrRateLimited.
func (s *Service) TriggerEvaluation(entityRef string) (queued bool, err error) {
	s.mu.RLock()
	c := s.controller
	s.mu.RUnlock()

	if c == nil || !c.Running(entityRef) {
		metrics.ManualTriggersTotal.WithLabelValues("not_monitored").Inc()
		return false, ErrNotMonitored
	}
	if !s.limiter(entityRef).Allow() {
		metrics.ManualTriggersTotal.WithLabelValues("rate_limited").Inc()
		return false, ErrRateLimited
	}
	queued, err = c.Trigger(entityRef)
	if err != nil {
		metrics.ManualTriggersTotal.WithLabelValues("not_monitored").Inc()
		return false, fmt.Errorf("%w: %v", ErrNotMonitored, err)
	}
	if queued {
		metrics.ManualTriggersTotal.WithLabelValues("queued").Inc()
	} else {
		metrics.ManualTriggersTotal.WithLabelValues("coalesced").Inc()
	}
	return queued, nil
}

func (s *Service) limiter(entityRef string) *rate.Limiter {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.limiters[entityRef]
	if !ok {
		opts := s.options()
		every := rate.Inf
		if opts.TriggerInterval > 0 {
			every = rate.Every(opts.TriggerInterval)
		}
		burst := opts.TriggerBurst
		if burst < 1 {
			burst = 1
		}
		l = rate.NewLimiter(every, burst)
		s.limiters[entityRef] = l
	}
	return l
}

// SetMonitoring persists the entity's monitoring flag and starts or stops its
// runner accordingly.
func (s *Service) SetMonitoring(ctx context.Context, entityRef string, enabled bool) error {
	if err := s.repo.SetMonitoring(ctx, entityRef, enabled); err != nil {
		return fmt.Errorf("failed to update monitoring flag: %w", err)
	}
	s.mu.RLock()
	c := s.controller
	s.mu.RUnlock()
	if c == nil {
		return nil
	}
	if !enabled {
		c.Stop(entityRef)
		return nil
	}
	return c.Start(ctx, entityRef)
}
