package anomaly

import (
	"strconv"
	"testing"
	"time"

	"github.com/auditpulse/pulse-monitor/internal/models"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// history builds newest-first snapshots one day apart from overall scores.
func history(scores ...float64) []models.MetricSnapshot {
	out := make([]models.MetricSnapshot, len(scores))
	for i, v := range scores {
		out[i] = models.MetricSnapshot{
			ID:           "s" + strconv.Itoa(len(scores)-i),
			EntityRef:    "example.com",
			Timestamp:    testNow.Add(-time.Duration(i) * 24 * time.Hour),
			OverallScore: v,
		}
	}
	return out
}

func recentActions() []models.ActionRecord {
	return []models.ActionRecord{{ID: "act-1", Timestamp: testNow.Add(-time.Hour)}}
}

func findByCondition(findings []Finding, c models.Condition) (Finding, bool) {
	for _, f := range findings {
		if f.Condition == c {
			return f, true
		}
	}
	return Finding{}, false
}

func TestSuddenDrop_High(t *testing.T) {
	in := Input{EntityRef: "example.com", History: history(50, 65), Actions: recentActions(), Now: testNow}
	findings := DetectAnomalies(in, DefaultThresholds())

	f, ok := findByCondition(findings, models.ConditionScoreDrop)
	if !ok {
		t.Fatalf("expected score drop finding, got %+v", findings)
	}
	if f.Severity != models.SeverityHigh {
		t.Errorf("expected severity high for delta -15, got %s", f.Severity)
	}
	if f.Confidence != 95 {
		t.Errorf("expected confidence 95, got %d", f.Confidence)
	}
	if f.Impact != models.ImpactMedium {
		t.Errorf("expected impact medium, got %s", f.Impact)
	}
	if f.Value != -15 {
		t.Errorf("expected delta -15, got %.1f", f.Value)
	}
	if f.Ref != "s2" {
		t.Errorf("expected ref to latest snapshot s2, got %s", f.Ref)
	}
}

func TestSuddenDrop_Critical(t *testing.T) {
	in := Input{EntityRef: "example.com", History: history(40, 65), Actions: recentActions(), Now: testNow}
	f, ok := findByCondition(DetectAnomalies(in, DefaultThresholds()), models.ConditionScoreDrop)
	if !ok {
		t.Fatal("expected score drop finding")
	}
	if f.Severity != models.SeverityCritical || f.Confidence != 95 || f.Impact != models.ImpactHigh {
		t.Errorf("expected critical/95/high, got %s/%d/%s", f.Severity, f.Confidence, f.Impact)
	}
}

func TestSuddenDrop_BelowThreshold(t *testing.T) {
	in := Input{EntityRef: "example.com", History: history(58, 65), Actions: recentActions(), Now: testNow}
	if _, ok := findByCondition(DetectAnomalies(in, DefaultThresholds()), models.ConditionScoreDrop); ok {
		t.Error("did not expect a score drop finding for delta -7")
	}
}

func TestSuddenDrop_ClampsScores(t *testing.T) {
	// 130 clamps to 100 so the drop is 100 → 85 = -15, not -45
	in := Input{EntityRef: "example.com", History: history(85, 130), Actions: recentActions(), Now: testNow}
	f, ok := findByCondition(DetectAnomalies(in, DefaultThresholds()), models.ConditionScoreDrop)
	if !ok {
		t.Fatal("expected score drop finding")
	}
	if f.Severity != models.SeverityHigh || f.Value != -15 {
		t.Errorf("expected high/-15 after clamping, got %s/%.1f", f.Severity, f.Value)
	}
}

func TestSubscoreDrop(t *testing.T) {
	h := history(80, 82)
	h[0].Subscores = map[string]float64{"performance": 50, "seo": 70, "accessibility": 90}
	h[1].Subscores = map[string]float64{"performance": 70, "seo": 90, "accessibility": 91}

	in := Input{EntityRef: "example.com", History: h, Actions: recentActions(), Now: testNow}
	f, ok := findByCondition(DetectAnomalies(in, DefaultThresholds()), models.ConditionSubscoreDrop)
	if !ok {
		t.Fatal("expected subscore finding")
	}
	// performance and seo both dropped 20; alphabetical tie-break picks performance
	if f.Subject != "performance" {
		t.Errorf("expected dimension performance, got %s", f.Subject)
	}
	if f.Severity != models.SeverityHigh || f.Confidence != 88 || f.Impact != models.ImpactMedium {
		t.Errorf("expected high/88/medium, got %s/%d/%s", f.Severity, f.Confidence, f.Impact)
	}
}

func TestSubscoreDrop_IgnoresNewDimensions(t *testing.T) {
	h := history(80, 82)
	h[0].Subscores = map[string]float64{"performance": 10}
	h[1].Subscores = map[string]float64{"seo": 90}

	in := Input{EntityRef: "example.com", History: h, Actions: recentActions(), Now: testNow}
	if _, ok := findByCondition(DetectAnomalies(in, DefaultThresholds()), models.ConditionSubscoreDrop); ok {
		t.Error("did not expect a subscore finding without shared dimensions")
	}
}

func TestDecliningTrend_EndToEnd(t *testing.T) {
	// newest-first: latest 60, previous 80
	in := Input{EntityRef: "example.com", History: history(60, 80, 85, 88, 90), Actions: recentActions(), Now: testNow}
	findings := DetectAnomalies(in, DefaultThresholds())

	drop, ok := findByCondition(findings, models.ConditionScoreDrop)
	if !ok {
		t.Fatal("expected score drop finding")
	}
	if drop.Severity != models.SeverityCritical {
		t.Errorf("expected critical for delta -20, got %s", drop.Severity)
	}

	tr, ok := findByCondition(findings, models.ConditionDecliningTrend)
	if !ok {
		t.Fatalf("expected declining trend finding, got %+v", findings)
	}
	if tr.Kind != models.KindPredictive {
		t.Errorf("expected predictive kind, got %s", tr.Kind)
	}
	// slope -6.8, intercept 94.2 → forecast 53.4 < 60
	if tr.Severity != models.SeverityHigh {
		t.Errorf("expected high severity for forecast below 60, got %s", tr.Severity)
	}
	if tr.Confidence != 79 {
		t.Errorf("expected confidence 79 (R² 0.7875), got %d", tr.Confidence)
	}
	if tr.Ref != "s1..s5" {
		t.Errorf("expected window ref s1..s5, got %s", tr.Ref)
	}
}

func TestDecliningTrend_RequiresFivePoints(t *testing.T) {
	in := Input{EntityRef: "example.com", History: history(60, 70, 80, 90), Actions: recentActions(), Now: testNow}
	if _, ok := findByCondition(DetectAnomalies(in, DefaultThresholds()), models.ConditionDecliningTrend); ok {
		t.Error("did not expect a trend finding with 4 points")
	}
}

func TestDecliningTrend_MediumWhenForecastHealthy(t *testing.T) {
	// oldest→newest 99, 97, 95, 93, 91 : slope -2, forecast 87
	in := Input{EntityRef: "example.com", History: history(91, 93, 95, 97, 99), Actions: recentActions(), Now: testNow}
	tr, ok := findByCondition(DetectAnomalies(in, DefaultThresholds()), models.ConditionDecliningTrend)
	if !ok {
		t.Fatal("expected trend finding")
	}
	if tr.Severity != models.SeverityMedium {
		t.Errorf("expected medium, got %s", tr.Severity)
	}
}

func TestMilestone_FiresOncePerThreshold(t *testing.T) {
	th := DefaultThresholds()
	fired := map[float64]bool{}
	scores := []float64{65, 72, 74, 83, 81, 95, 97}

	var got []float64
	for i, score := range scores {
		h := history(score)
		h[0].ID = "s" + strconv.Itoa(i)
		in := Input{EntityRef: "example.com", History: h, Actions: recentActions(), Now: testNow, FiredMilestones: fired}
		f, ok := findByCondition(DetectAnomalies(in, th), models.ConditionMilestone)
		if !ok {
			continue
		}
		if f.Severity != models.SeverityLow || f.Confidence != 100 {
			t.Errorf("expected low/100, got %s/%d", f.Severity, f.Confidence)
		}
		got = append(got, f.Value)
		fired[f.Value] = true
	}

	want := []float64{70, 80, 90}
	if len(got) != len(want) {
		t.Fatalf("expected milestones %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("milestone %d: expected %.0f, got %.0f", i, want[i], got[i])
		}
	}
}

func TestMilestone_FirstMatchWins(t *testing.T) {
	in := Input{EntityRef: "example.com", History: history(92), Actions: recentActions(), Now: testNow,
		FiredMilestones: map[float64]bool{90: true}}
	if _, ok := findByCondition(DetectAnomalies(in, DefaultThresholds()), models.ConditionMilestone); ok {
		t.Error("recorded 90 must suppress the rule instead of falling through to 80")
	}
}

func TestInactivity(t *testing.T) {
	th := DefaultThresholds()

	stale := []models.ActionRecord{
		{ID: "a-old", Timestamp: testNow.Add(-20 * 24 * time.Hour)},
		{ID: "a-new", Timestamp: testNow.Add(-8 * 24 * time.Hour)},
	}
	in := Input{EntityRef: "example.com", History: history(80), Actions: stale, Now: testNow}
	f, ok := findByCondition(DetectAnomalies(in, th), models.ConditionInactivity)
	if !ok {
		t.Fatal("expected inactivity finding")
	}
	if f.Ref != "a-new" || f.Value != 8 {
		t.Errorf("expected ref a-new / 8 days, got %s / %.0f", f.Ref, f.Value)
	}
	if f.Severity != models.SeverityLow || f.Confidence != 85 || f.Impact != models.ImpactMedium {
		t.Errorf("expected low/85/medium, got %s/%d/%s", f.Severity, f.Confidence, f.Impact)
	}

	in.Actions = recentActions()
	if _, ok := findByCondition(DetectAnomalies(in, th), models.ConditionInactivity); ok {
		t.Error("did not expect inactivity with a recent action")
	}
}

func TestInactivity_NoActionsUsesOldestSnapshot(t *testing.T) {
	h := history(80, 80, 80, 80, 80, 80, 80, 80, 80, 80) // oldest is 9 days back
	in := Input{EntityRef: "example.com", History: h, Now: testNow}
	f, ok := findByCondition(DetectAnomalies(in, DefaultThresholds()), models.ConditionInactivity)
	if !ok {
		t.Fatal("expected inactivity finding")
	}
	if f.Ref != "no-actions" {
		t.Errorf("expected no-actions ref, got %s", f.Ref)
	}
}

func TestDetectAnomalies_EmptyHistory(t *testing.T) {
	in := Input{EntityRef: "example.com", Actions: []models.ActionRecord{{ID: "x", Timestamp: testNow.Add(-30 * 24 * time.Hour)}}, Now: testNow}
	if got := DetectAnomalies(in, DefaultThresholds()); len(got) != 0 {
		t.Errorf("expected no findings without snapshots, got %+v", got)
	}
}

func TestWeakDimension(t *testing.T) {
	h := history(75)
	h[0].Subscores = map[string]float64{"content": 42, "links": 66}
	in := Input{EntityRef: "example.com", History: h, Actions: recentActions(), Now: testNow}
	f, ok := findByCondition(DetectAnomalies(in, DefaultThresholds()), models.ConditionWeakDimension)
	if !ok {
		t.Fatal("expected weak dimension finding")
	}
	if f.Subject != "content" || f.Kind != models.KindRecommendation {
		t.Errorf("unexpected finding %+v", f)
	}

	th := DefaultThresholds()
	th.WeakDimensionScore = 0
	if _, ok := findByCondition(DetectAnomalies(in, th), models.ConditionWeakDimension); ok {
		t.Error("rule must be disabled when WeakDimensionScore is 0")
	}
}

func TestDetectAnomalies_StampsEntityAndTime(t *testing.T) {
	in := Input{EntityRef: "shop.example", History: history(40, 65), Actions: recentActions(), Now: testNow}
	for _, f := range DetectAnomalies(in, DefaultThresholds()) {
		if f.EntityRef != "shop.example" {
			t.Errorf("expected entity shop.example, got %s", f.EntityRef)
		}
		if !f.DetectedAt.Equal(testNow) {
			t.Errorf("expected detection time %v, got %v", testNow, f.DetectedAt)
		}
	}
}
