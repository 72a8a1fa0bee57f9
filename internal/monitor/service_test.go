package monitor

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/auditpulse/pulse-monitor/internal/alerting/store"
	"github.com/auditpulse/pulse-monitor/internal/audit"
	"github.com/auditpulse/pulse-monitor/internal/models"
	"github.com/auditpulse/pulse-monitor/internal/repository"
)

const testEntity = "example.com"

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type routedAction struct{ routeKey, alertID string }

type recordingRouter struct {
	mu    sync.Mutex
	calls []routedAction
}

func (r *recordingRouter) RouteAction(routeKey, alertID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, routedAction{routeKey, alertID})
}

type recordingPublisher struct {
	mu      sync.Mutex
	batches [][]models.Alert
}

func (p *recordingPublisher) Publish(_ string, alerts []models.Alert) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, alerts)
}

type fakeController struct {
	running map[string]bool
	pending map[string]bool
}

func (c *fakeController) Start(_ context.Context, ref string) error {
	c.running[ref] = true
	return nil
}

func (c *fakeController) Stop(ref string)         { delete(c.running, ref) }
func (c *fakeController) Running(ref string) bool { return c.running[ref] }
func (c *fakeController) Trigger(ref string) (bool, error) {
	if !c.running[ref] {
		return false, errors.New("no runner")
	}
	if c.pending[ref] {
		return false, nil
	}
	c.pending[ref] = true
	return true, nil
}

// failingRepo fails history reads, either immediately or by blocking until the
// fetch deadline.
type failingRepo struct {
	*repository.MemoryRepository
	block bool
}

func (r *failingRepo) GetHistory(ctx context.Context, ref string, limit int) ([]models.MetricSnapshot, error) {
	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return nil, errors.New("connection refused")
}

// anonymousRepo strips the id from the newest snapshot or action it returns.
type anonymousRepo struct {
	*repository.MemoryRepository
	actions bool
}

func (r *anonymousRepo) GetHistory(ctx context.Context, ref string, limit int) ([]models.MetricSnapshot, error) {
	h, err := r.MemoryRepository.GetHistory(ctx, ref, limit)
	if err != nil || r.actions || len(h) == 0 {
		return h, err
	}
	out := append([]models.MetricSnapshot(nil), h...)
	out[0].ID = ""
	return out, nil
}

func (r *anonymousRepo) GetRecentActions(ctx context.Context, ref string, limit int) ([]models.ActionRecord, error) {
	a, err := r.MemoryRepository.GetRecentActions(ctx, ref, limit)
	if err != nil || !r.actions || len(a) == 0 {
		return a, err
	}
	out := append([]models.ActionRecord(nil), a...)
	out[0].ID = ""
	return out, nil
}

// failingAudit rejects every alert and pass event.
type failingAudit struct{ audit.Logger }

var errAuditWrite = errors.New("audit trail unavailable")

func (failingAudit) LogAlertCreated(context.Context, models.Alert) error { return errAuditWrite }
func (failingAudit) LogAlertRead(context.Context, string, string) error  { return errAuditWrite }
func (failingAudit) LogEvaluationCompleted(context.Context, string, string, int, time.Duration) error {
	return errAuditWrite
}

type fixture struct {
	repo      *repository.MemoryRepository
	svc       *Service
	router    *recordingRouter
	publisher *recordingPublisher
}

func newFixture(t *testing.T, scores ...float64) *fixture {
	t.Helper()
	repo := repository.NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.UpsertEntity(ctx, models.Entity{Ref: testEntity, Name: "Example", Tier: "pro", MonitoringEnabled: true}))
	seedHistory(t, repo, scores...)
	require.NoError(t, repo.SaveAction(ctx, models.ActionRecord{ID: "act-1", EntityRef: testEntity, Kind: "audit", Timestamp: testNow.Add(-time.Hour)}))

	f := &fixture{repo: repo, router: &recordingRouter{}, publisher: &recordingPublisher{}}
	f.svc = NewService(Deps{
		Repo:      repo,
		Stores:    store.NewRegistry(store.DefaultCapacity),
		Router:    f.router,
		Publisher: f.publisher,
		Now:       func() time.Time { return testNow },
	}, DefaultOptions())
	return f
}

// seedHistory stores snapshots one day apart; scores are newest-first.
func seedHistory(t *testing.T, repo *repository.MemoryRepository, scores ...float64) {
	t.Helper()
	for i, v := range scores {
		require.NoError(t, repo.SaveSnapshot(context.Background(), models.MetricSnapshot{
			ID:           "s" + strconv.Itoa(len(scores)-i),
			EntityRef:    testEntity,
			Timestamp:    testNow.Add(-time.Duration(i) * 24 * time.Hour),
			OverallScore: v,
		}))
	}
}

func TestEvaluate_DecliningEntity(t *testing.T) {
	f := newFixture(t, 60, 80, 85, 88, 90)

	res, err := f.svc.Evaluate(context.Background(), testEntity, TriggerScheduled)
	require.NoError(t, err)
	require.Len(t, res.Alerts, 2)
	assert.Equal(t, models.ConditionScoreDrop, res.Alerts[0].Condition)
	assert.Equal(t, models.SeverityCritical, res.Alerts[0].Severity)
	assert.Equal(t, models.ConditionDecliningTrend, res.Alerts[1].Condition)
	assert.Equal(t, models.SeverityHigh, res.Alerts[1].Severity)
	assert.Len(t, res.Accepted, 2)
	assert.NotEmpty(t, res.CorrelationID)

	assert.Equal(t, 2, f.svc.UnreadCount(testEntity))
	require.Len(t, f.publisher.batches, 1)
	assert.Len(t, f.publisher.batches[0], 2)

	// the same standing conditions collapse into the stored alerts
	res, err = f.svc.Evaluate(context.Background(), testEntity, TriggerScheduled)
	require.NoError(t, err)
	assert.Len(t, res.Alerts, 2)
	assert.Empty(t, res.Accepted)
	assert.Len(t, f.svc.ListAlerts(testEntity), 2)
	assert.Len(t, f.publisher.batches, 1, "nothing new to publish")
}

func TestEvaluate_StableEntityProducesNothing(t *testing.T) {
	f := newFixture(t, 65, 64, 66, 65, 65)

	res, err := f.svc.Evaluate(context.Background(), testEntity, TriggerManual)
	require.NoError(t, err)
	assert.Empty(t, res.Alerts)
	assert.Empty(t, f.svc.ListAlerts(testEntity))
	assert.Empty(t, f.publisher.batches)
}

func TestEvaluate_MilestonePersistsAcrossPasses(t *testing.T) {
	f := newFixture(t, 92, 88)

	res, err := f.svc.Evaluate(context.Background(), testEntity, TriggerScheduled)
	require.NoError(t, err)
	require.Len(t, res.Accepted, 1)
	assert.Equal(t, models.ConditionMilestone, res.Accepted[0].Condition)

	fired, err := f.repo.FiredMilestones(context.Background(), testEntity)
	require.NoError(t, err)
	assert.True(t, fired[90])

	require.NoError(t, f.repo.SaveSnapshot(context.Background(), models.MetricSnapshot{
		ID: "s3", EntityRef: testEntity, Timestamp: testNow.Add(time.Hour), OverallScore: 94,
	}))
	res, err = f.svc.Evaluate(context.Background(), testEntity, TriggerScheduled)
	require.NoError(t, err)
	assert.Empty(t, res.Alerts, "a recorded milestone must not fire again")
}

func TestEvaluate_FetchFailureLeavesStoreUntouched(t *testing.T) {
	f := newFixture(t, 60, 80)
	_, err := f.svc.Evaluate(context.Background(), testEntity, TriggerScheduled)
	require.NoError(t, err)
	before := f.svc.ListAlerts(testEntity)
	require.NotEmpty(t, before)

	f.svc.repo = &failingRepo{MemoryRepository: f.repo}
	_, err = f.svc.Evaluate(context.Background(), testEntity, TriggerScheduled)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch history")
	assert.Equal(t, before, f.svc.ListAlerts(testEntity))
}

func TestEvaluate_FetchTimeout(t *testing.T) {
	f := newFixture(t, 60, 80)
	f.svc.repo = &failingRepo{MemoryRepository: f.repo, block: true}
	f.svc.opts.FetchTimeout = 20 * time.Millisecond

	start := time.Now()
	_, err := f.svc.Evaluate(context.Background(), testEntity, TriggerScheduled)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	_, ok := f.svc.stores.Lookup(testEntity)
	assert.False(t, ok, "no store is created by a failed pass")
}

func TestEvaluate_RecordWithoutIDAbortsPass(t *testing.T) {
	for name, actions := range map[string]bool{"snapshot": false, "action": true} {
		t.Run(name, func(t *testing.T) {
			// an 80 to 50 drop would otherwise raise a score_drop keyed on the snapshot id
			f := newFixture(t, 50, 80)
			f.svc.repo = &anonymousRepo{MemoryRepository: f.repo, actions: actions}

			var err error
			require.NotPanics(t, func() {
				_, err = f.svc.Evaluate(context.Background(), testEntity, TriggerScheduled)
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedRecord)
			assert.Empty(t, f.svc.ListAlerts(testEntity))
			assert.Empty(t, f.publisher.batches)
		})
	}
}

func TestEvaluate_AuditFailuresAreLogged(t *testing.T) {
	f := newFixture(t, 60, 80)
	core, logs := observer.New(zapcore.DebugLevel)
	f.svc.logger = zap.New(core)
	f.svc.audit = failingAudit{Logger: audit.NewNopLogger()}

	res, err := f.svc.Evaluate(context.Background(), testEntity, TriggerScheduled)
	require.NoError(t, err, "audit failures never fail the pass")
	require.NotEmpty(t, res.Accepted)

	failed := logs.FilterMessage("audit write failed")
	// one per accepted alert plus the completion event
	assert.Equal(t, len(res.Accepted)+1, failed.Len())
	for _, entry := range failed.All() {
		assert.Equal(t, zapcore.DebugLevel, entry.Level)
		assert.Equal(t, errAuditWrite.Error(), entry.ContextMap()["error"])
	}

	assert.True(t, f.svc.MarkRead(context.Background(), testEntity, res.Accepted[0].ID))
	assert.Equal(t, len(res.Accepted)+2, logs.FilterMessage("audit write failed").Len())
}

func TestEvaluate_UnknownEntity(t *testing.T) {
	f := newFixture(t, 60, 80)
	_, err := f.svc.Evaluate(context.Background(), "unknown.example", TriggerCLI)
	require.Error(t, err)
	assert.ErrorIs(t, err, repository.ErrEntityNotFound)
}

func TestConsumerOperations(t *testing.T) {
	f := newFixture(t, 60, 80, 85, 88, 90)
	ctx := context.Background()
	_, err := f.svc.Evaluate(ctx, testEntity, TriggerScheduled)
	require.NoError(t, err)

	alerts := f.svc.ListAlerts(testEntity)
	require.Len(t, alerts, 2)

	assert.True(t, f.svc.MarkRead(ctx, testEntity, alerts[0].ID))
	assert.Equal(t, 1, f.svc.UnreadCount(testEntity))
	assert.False(t, f.svc.MarkRead(ctx, testEntity, "missing"))

	assert.Equal(t, 1, f.svc.MarkAllRead(ctx, testEntity))
	assert.Equal(t, 0, f.svc.UnreadCount(testEntity))

	assert.True(t, f.svc.Dismiss(ctx, testEntity, alerts[1].ID))
	assert.False(t, f.svc.Dismiss(ctx, testEntity, alerts[1].ID))
	assert.Len(t, f.svc.ListAlerts(testEntity), 1)

	// unknown entities read as empty
	assert.Empty(t, f.svc.ListAlerts("other.example"))
	assert.Equal(t, 0, f.svc.UnreadCount("other.example"))
	assert.Equal(t, 0, f.svc.MarkAllRead(ctx, "other.example"))
}

func TestAcknowledge(t *testing.T) {
	f := newFixture(t, 60, 80)
	ctx := context.Background()
	_, err := f.svc.Evaluate(ctx, testEntity, TriggerScheduled)
	require.NoError(t, err)

	alert := f.svc.ListAlerts(testEntity)[0]
	action, err := f.svc.Acknowledge(ctx, testEntity, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, alert.RecommendedAction, action)
	assert.Equal(t, 0, f.svc.UnreadCount(testEntity))
	require.Len(t, f.router.calls, 1)
	assert.Equal(t, routedAction{alert.RecommendedAction.RouteKey, alert.ID}, f.router.calls[0])

	_, err = f.svc.Acknowledge(ctx, testEntity, "missing")
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestTriggerEvaluation(t *testing.T) {
	f := newFixture(t, 60, 80)
	ctl := &fakeController{running: map[string]bool{}, pending: map[string]bool{}}

	_, err := f.svc.TriggerEvaluation(testEntity)
	assert.ErrorIs(t, err, ErrNotMonitored, "no controller attached")

	f.svc.SetController(ctl)
	_, err = f.svc.TriggerEvaluation(testEntity)
	assert.ErrorIs(t, err, ErrNotMonitored)

	require.NoError(t, f.svc.SetMonitoring(context.Background(), testEntity, true))
	queued, err := f.svc.TriggerEvaluation(testEntity)
	require.NoError(t, err)
	assert.True(t, queued)

	queued, err = f.svc.TriggerEvaluation(testEntity)
	require.NoError(t, err)
	assert.False(t, queued, "second trigger coalesces into the pending pass")

	_, err = f.svc.TriggerEvaluation(testEntity)
	assert.ErrorIs(t, err, ErrRateLimited, "burst of 2 exhausted")
}

func TestSetMonitoring(t *testing.T) {
	f := newFixture(t, 60, 80)
	ctl := &fakeController{running: map[string]bool{}, pending: map[string]bool{}}
	f.svc.SetController(ctl)
	ctx := context.Background()

	require.NoError(t, f.svc.SetMonitoring(ctx, testEntity, false))
	e, err := f.repo.GetEntity(ctx, testEntity)
	require.NoError(t, err)
	assert.False(t, e.MonitoringEnabled)
	assert.False(t, ctl.Running(testEntity))

	require.NoError(t, f.svc.SetMonitoring(ctx, testEntity, true))
	assert.True(t, ctl.Running(testEntity))

	err = f.svc.SetMonitoring(ctx, "unknown.example", true)
	assert.ErrorIs(t, err, repository.ErrEntityNotFound)
}

func TestUpdateThresholds(t *testing.T) {
	f := newFixture(t, 60, 80)
	det := f.svc.options().Detector
	det.ScoreChangeThreshold = 25
	det.CriticalDropThreshold = 30
	f.svc.UpdateThresholds(det, f.svc.options().Signals)

	res, err := f.svc.Evaluate(context.Background(), testEntity, TriggerScheduled)
	require.NoError(t, err)
	assert.Empty(t, res.Alerts, "a 20 point drop is below the raised threshold")
}
