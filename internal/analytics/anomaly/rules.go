package anomaly

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/auditpulse/pulse-monitor/internal/analytics/trend"
	"github.com/auditpulse/pulse-monitor/internal/models"
)

const (
	dropConfidence       = 95
	subscoreConfidence   = 88
	milestoneConfidence  = 100
	inactivityConfidence = 85
	weakDimConfidence    = 80
)

// SuddenDrop fires when latest.overall − previous.overall ≤ −ScoreChangeThreshold.
func SuddenDrop(in Input, th Thresholds) (Finding, bool) {
	if len(in.History) < 2 {
		return Finding{}, false
	}
	latest, previous := in.History[0], in.History[1]
	delta := latest.OverallScore - previous.OverallScore
	if delta > -th.ScoreChangeThreshold {
		return Finding{}, false
	}

	severity, impact := models.SeverityHigh, models.ImpactMedium
	if delta <= -th.CriticalDropThreshold {
		severity, impact = models.SeverityCritical, models.ImpactHigh
	}
	return Finding{
		Condition:  models.ConditionScoreDrop,
		Kind:       models.KindAnomaly,
		Ref:        latest.ID,
		Severity:   severity,
		Confidence: dropConfidence,
		Impact:     impact,
		Subject:    "overall",
		Value:      delta,
		Data: map[string]any{
			"latest_score":         latest.OverallScore,
			"previous_score":       previous.OverallScore,
			"delta":                delta,
			"snapshot_id":          latest.ID,
			"previous_snapshot_id": previous.ID,
		},
	}, true
}

// SubscoreDrop fires when the most negative per-dimension delta between the
// two latest snapshots is ≤ −SubscoreDropThreshold. Only dimensions present in
// both snapshots are compared; ties resolve to the alphabetically first name.
func SubscoreDrop(in Input, th Thresholds) (Finding, bool) {
	if len(in.History) < 2 {
		return Finding{}, false
	}
	latest, previous := in.History[0], in.History[1]

	dims := make([]string, 0, len(latest.Subscores))
	for dim := range latest.Subscores {
		if _, ok := previous.Subscores[dim]; ok {
			dims = append(dims, dim)
		}
	}
	if len(dims) == 0 {
		return Finding{}, false
	}
	sort.Strings(dims)

	worstDim := ""
	worst := math.Inf(1)
	for _, dim := range dims {
		cur, _ := latest.Subscore(dim)
		prev, _ := previous.Subscore(dim)
		if d := cur - prev; d < worst {
			worst, worstDim = d, dim
		}
	}
	if worst > -th.SubscoreDropThreshold {
		return Finding{}, false
	}

	cur, _ := latest.Subscore(worstDim)
	prev, _ := previous.Subscore(worstDim)
	return Finding{
		Condition:  models.ConditionSubscoreDrop,
		Kind:       models.KindAnomaly,
		Ref:        latest.ID,
		Severity:   models.SeverityHigh,
		Confidence: subscoreConfidence,
		Impact:     models.ImpactMedium,
		Subject:    worstDim,
		Value:      worst,
		Data: map[string]any{
			"dimension":      worstDim,
			"latest_score":   cur,
			"previous_score": prev,
			"delta":          worst,
			"snapshot_id":    latest.ID,
		},
	}, true
}

// DecliningTrend fits the overall score and fires on a confident decline.
func DecliningTrend(in Input, th Thresholds) (Finding, bool) {
	minPoints := th.TrendMinPoints
	if minPoints < trend.MinPoints {
		minPoints = trend.MinPoints
	}
	if len(in.History) < minPoints {
		return Finding{}, false
	}

	res := trend.EstimateTrend(in.History, trend.Overall())
	if res.Direction != models.TrendDeclining || res.Confidence <= th.TrendConfidence {
		return Finding{}, false
	}

	severity, impact := models.SeverityMedium, models.ImpactMedium
	if res.ForecastValue < th.ForecastRiskScore {
		severity, impact = models.SeverityHigh, models.ImpactHigh
	}
	newest, oldest := in.History[0], in.History[len(in.History)-1]
	return Finding{
		Condition:  models.ConditionDecliningTrend,
		Kind:       models.KindPredictive,
		Ref:        oldest.ID + ".." + newest.ID,
		Severity:   severity,
		Confidence: int(math.Round(res.Confidence * 100)),
		Impact:     impact,
		Subject:    "overall",
		Value:      res.ForecastValue,
		Data: map[string]any{
			"slope":          res.Slope,
			"r_squared":      res.Confidence,
			"forecast_value": res.ForecastValue,
			"current_score":  newest.OverallScore,
			"points":         res.Points,
		},
	}, true
}

// Milestone fires for the first threshold (highest first) the latest overall
// score has reached, unless that threshold is already recorded for the entity.
func Milestone(in Input, th Thresholds) (Finding, bool) {
	if len(in.History) == 0 || len(th.Milestones) == 0 {
		return Finding{}, false
	}
	latest := in.History[0]

	thresholds := append([]float64(nil), th.Milestones...)
	sort.Sort(sort.Reverse(sort.Float64Slice(thresholds)))

	for _, m := range thresholds {
		if latest.OverallScore < m {
			continue
		}
		// first match wins; an already-recorded threshold suppresses the rule
		if in.FiredMilestones[m] {
			return Finding{}, false
		}
		return Finding{
			Condition:  models.ConditionMilestone,
			Kind:       models.KindMilestone,
			Ref:        latest.ID,
			Severity:   models.SeverityLow,
			Confidence: milestoneConfidence,
			Impact:     models.ImpactLow,
			Subject:    fmt.Sprintf("%.0f", m),
			Value:      m,
			Data: map[string]any{
				"threshold":   m,
				"score":       latest.OverallScore,
				"snapshot_id": latest.ID,
			},
		}, true
	}
	return Finding{}, false
}

// Inactivity fires when the newest user action is older than InactivityWindow.
// Without any recorded action the oldest snapshot's timestamp is the reference.
func Inactivity(in Input, th Thresholds) (Finding, bool) {
	if len(in.History) == 0 || th.InactivityWindow <= 0 {
		return Finding{}, false
	}

	var (
		since time.Time
		ref   string
	)
	for _, a := range in.Actions {
		if a.Timestamp.After(since) {
			since, ref = a.Timestamp, a.ID
		}
	}
	if since.IsZero() {
		oldest := in.History[len(in.History)-1]
		since, ref = oldest.Timestamp, "no-actions"
	}

	elapsed := in.Now.Sub(since)
	if elapsed <= th.InactivityWindow {
		return Finding{}, false
	}
	days := math.Floor(elapsed.Hours() / 24)
	return Finding{
		Condition:  models.ConditionInactivity,
		Kind:       models.KindRecommendation,
		Ref:        ref,
		Severity:   models.SeverityLow,
		Confidence: inactivityConfidence,
		Impact:     models.ImpactMedium,
		Subject:    "activity",
		Value:      days,
		Data: map[string]any{
			"days_inactive":  days,
			"last_action_at": since,
		},
	}, true
}

// WeakDimension fires when the lowest subscore of the latest snapshot is below
// WeakDimensionScore.
func WeakDimension(in Input, th Thresholds) (Finding, bool) {
	if len(in.History) == 0 || th.WeakDimensionScore <= 0 {
		return Finding{}, false
	}
	latest := in.History[0]
	if len(latest.Subscores) == 0 {
		return Finding{}, false
	}

	dims := make([]string, 0, len(latest.Subscores))
	for dim := range latest.Subscores {
		dims = append(dims, dim)
	}
	sort.Strings(dims)

	weakest, score := "", math.Inf(1)
	for _, dim := range dims {
		if v, _ := latest.Subscore(dim); v < score {
			weakest, score = dim, v
		}
	}
	if score >= th.WeakDimensionScore {
		return Finding{}, false
	}
	return Finding{
		Condition:  models.ConditionWeakDimension,
		Kind:       models.KindRecommendation,
		Ref:        latest.ID,
		Severity:   models.SeverityLow,
		Confidence: weakDimConfidence,
		Impact:     models.ImpactMedium,
		Subject:    weakest,
		Value:      score,
		Data: map[string]any{
			"dimension":   weakest,
			"score":       score,
			"snapshot_id": latest.ID,
		},
	}, true
}
