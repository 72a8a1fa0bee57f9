package trend

import (
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/auditpulse/pulse-monitor/internal/models"
)

// newestFirst builds snapshots from overall values given newest-first.
func newestFirst(values ...float64) []models.MetricSnapshot {
	now := time.Now()
	out := make([]models.MetricSnapshot, len(values))
	for i, v := range values {
		out[i] = models.MetricSnapshot{
			ID:           "snap-" + strconv.Itoa(len(values)-i),
			EntityRef:    "example.com",
			Timestamp:    now.Add(-time.Duration(i) * time.Hour),
			OverallScore: v,
			Subscores:    map[string]float64{"performance": v / 2},
		}
	}
	return out
}

func TestEstimateTrend_ConstantWindow(t *testing.T) {
	for n := 3; n <= 10; n++ {
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = 72
		}
		got := EstimateTrend(newestFirst(vals...), Overall())
		if got.Confidence != 0 {
			t.Errorf("n=%d: expected confidence 0, got %.4f", n, got.Confidence)
		}
		if got.Direction != models.TrendStable {
			t.Errorf("n=%d: expected stable, got %s", n, got.Direction)
		}
	}
}

func TestEstimateTrend_InsufficientData(t *testing.T) {
	got := EstimateTrend(newestFirst(80, 60), Overall())
	if got.Direction != models.TrendStable || got.Confidence != 0 {
		t.Fatalf("expected stable/0 for 2 points, got %s/%.2f", got.Direction, got.Confidence)
	}
	if got.ForecastValue != 80 {
		t.Errorf("expected forecast to fall back to latest value 80, got %.2f", got.ForecastValue)
	}

	empty := EstimateTrend(nil, Overall())
	if empty.Points != 0 || empty.Direction != models.TrendStable {
		t.Errorf("unexpected result for empty window: %+v", empty)
	}
}

func TestEstimateTrend_PerfectDecline(t *testing.T) {
	// oldest→newest: 90, 85, 80, 75, 70  (slope -5)
	got := EstimateTrend(newestFirst(70, 75, 80, 85, 90), Overall())

	if math.Abs(got.Slope-(-5)) > 1e-9 {
		t.Errorf("expected slope -5, got %.4f", got.Slope)
	}
	if math.Abs(got.Intercept-90) > 1e-9 {
		t.Errorf("expected intercept 90, got %.4f", got.Intercept)
	}
	if math.Abs(got.Confidence-1) > 1e-9 {
		t.Errorf("expected R² 1, got %.4f", got.Confidence)
	}
	if got.Direction != models.TrendDeclining {
		t.Errorf("expected declining, got %s", got.Direction)
	}
	// forecast = -5·6 + 90 = 60
	if math.Abs(got.ForecastValue-60) > 1e-9 {
		t.Errorf("expected forecast 60, got %.4f", got.ForecastValue)
	}
}

func TestEstimateTrend_Improving(t *testing.T) {
	got := EstimateTrend(newestFirst(70, 66, 62, 58), Overall())
	if got.Direction != models.TrendImproving {
		t.Errorf("expected improving, got %s (slope %.2f)", got.Direction, got.Slope)
	}
}

func TestEstimateTrend_SmallSlopeIsStable(t *testing.T) {
	got := EstimateTrend(newestFirst(71, 70.5, 70), Overall())
	if got.Direction != models.TrendStable {
		t.Errorf("expected stable for slope 0.5, got %s", got.Direction)
	}
}

func TestEstimateTrend_ForecastClamped(t *testing.T) {
	steep := EstimateTrend(newestFirst(5, 30, 55, 80), Overall())
	if steep.ForecastValue != 0 {
		t.Errorf("expected forecast clamped to 0, got %.2f", steep.ForecastValue)
	}
	rising := EstimateTrend(newestFirst(100, 80, 60, 40), Overall())
	if rising.ForecastValue != 100 {
		t.Errorf("expected forecast clamped to 100, got %.2f", rising.ForecastValue)
	}

	windows := [][]float64{
		{100, 0, 100, 0, 100},
		{-40, 250, 13, 99},
		{0, 0, 100},
		{12.5, 99.9, 47.3, 88.1, 3.2, 61},
	}
	for _, w := range windows {
		got := EstimateTrend(newestFirst(w...), Overall())
		if got.ForecastValue < 0 || got.ForecastValue > 100 {
			t.Errorf("window %v: forecast %.2f out of range", w, got.ForecastValue)
		}
		if got.Confidence < 0 || got.Confidence > 1 {
			t.Errorf("window %v: confidence %.2f out of range", w, got.Confidence)
		}
	}
}

func TestEstimateTrend_DoesNotMutateInput(t *testing.T) {
	in := newestFirst(60, 80, 85, 88, 90)
	first := in[0].ID
	_ = EstimateTrend(in, Overall())
	if in[0].ID != first {
		t.Fatalf("input order was modified")
	}
}

func TestEstimateTrend_Deterministic(t *testing.T) {
	in := newestFirst(61, 77, 70, 85, 83, 90)
	a := EstimateTrend(in, Overall())
	b := EstimateTrend(in, Overall())
	if a != b {
		t.Errorf("expected identical results, got %+v and %+v", a, b)
	}
}

func TestEstimateTrend_Subscore(t *testing.T) {
	got := EstimateTrend(newestFirst(70, 75, 80, 85, 90), Subscore("performance"))
	// performance = overall/2 → slope -2.5
	if math.Abs(got.Slope-(-2.5)) > 1e-9 {
		t.Errorf("expected slope -2.5, got %.4f", got.Slope)
	}
	if Subscore("performance").Name() != "performance" || Overall().Name() != "overall" {
		t.Errorf("unexpected metric names")
	}
}
