// Package anomaly applies threshold rules to an entity's scored history.
//
// Rules (each yields at most one finding per evaluation pass):
//
//  1. Sudden overall drop: latest vs previous overall score.
//  2. Subscore drop: the most negative per-dimension delta between the two
//     latest snapshots.
//  3. Declining trend: least-squares fit over the window (≥ TrendMinPoints).
//  4. Milestone: latest overall reaches a threshold not yet recorded.
//  5. Inactivity: no user action for longer than InactivityWindow.
//  6. Weak dimension: the lowest latest subscore is below WeakDimensionScore.
//
// The rules are stateless; the only outside state they read is the set of
// milestone thresholds already fired for the entity. Detection is advisory:
// thresholds are heuristics and false positives are tolerated.
package anomaly

import (
	"time"

	"github.com/auditpulse/pulse-monitor/internal/models"
)

// Thresholds configures the detector. Zero values are not defaults; use
// DefaultThresholds.
type Thresholds struct {
	ScoreChangeThreshold  float64       `json:"score_change_threshold"`
	CriticalDropThreshold float64       `json:"critical_drop_threshold"`
	SubscoreDropThreshold float64       `json:"subscore_drop_threshold"`
	TrendMinPoints        int           `json:"trend_min_points"`
	TrendConfidence       float64       `json:"trend_confidence"`
	ForecastRiskScore     float64       `json:"forecast_risk_score"`
	InactivityWindow      time.Duration `json:"inactivity_window"`
	Milestones            []float64     `json:"milestones"`
	WeakDimensionScore    float64       `json:"weak_dimension_score"` // <= 0 disables rule 6
}

// DefaultThresholds returns the stock rule constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ScoreChangeThreshold:  10,
		CriticalDropThreshold: 20,
		SubscoreDropThreshold: 15,
		TrendMinPoints:        5,
		TrendConfidence:       0.7,
		ForecastRiskScore:     60,
		InactivityWindow:      7 * 24 * time.Hour,
		Milestones:            []float64{90, 80, 70},
		WeakDimensionScore:    50,
	}
}

// Input is everything one detection pass looks at.
type Input struct {
	EntityRef string
	// History is newest-first, as returned by the repository.
	History []models.MetricSnapshot
	// Actions is the recent user action log, any order.
	Actions []models.ActionRecord
	Now     time.Time
	// FiredMilestones holds thresholds already recorded for the entity.
	FiredMilestones map[float64]bool
}

// Finding is an internal, pre-alert detection result.
type Finding struct {
	Condition  models.Condition `json:"condition"`
	Kind       models.AlertKind `json:"kind"`
	EntityRef  string           `json:"entity_ref"`
	Ref        string           `json:"ref"` // triggering snapshot id, window or feed reference
	Severity   models.Severity  `json:"severity"`
	Confidence int              `json:"confidence"`
	Impact     models.Impact    `json:"impact"`
	// Subject names the dimension, threshold or competitor the finding is about.
	Subject string `json:"subject,omitempty"`
	// Value is the headline number (delta, forecast, days inactive, ...).
	Value      float64        `json:"value"`
	Data       map[string]any `json:"data,omitempty"`
	DetectedAt time.Time      `json:"detected_at"`
}

// Rule is one independent detection rule.
type Rule func(in Input, th Thresholds) (Finding, bool)

// Rules returns the detector rules in evaluation order.
func Rules() []Rule {
	return []Rule{
		SuddenDrop,
		SubscoreDrop,
		DecliningTrend,
		Milestone,
		Inactivity,
		WeakDimension,
	}
}

// DetectAnomalies runs every rule against the input. History is clamped to
// [0,100] before any rule sees it.
func DetectAnomalies(in Input, th Thresholds) []Finding {
	if len(in.History) == 0 {
		return nil
	}
	if in.Now.IsZero() {
		in.Now = time.Now()
	}
	clamped := make([]models.MetricSnapshot, len(in.History))
	for i, s := range in.History {
		clamped[i] = s.Clamp()
	}
	in.History = clamped

	var findings []Finding
	for _, rule := range Rules() {
		if f, ok := rule(in, th); ok {
			f.EntityRef = in.EntityRef
			f.DetectedAt = in.Now
			findings = append(findings, f)
		}
	}
	return findings
}
