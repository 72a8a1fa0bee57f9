// Package models defines the core data types shared by the monitoring engine.
//
// Snapshots and actions come from the metric history repository and are never
// mutated by the engine. Alerts are produced by the synthesizer and owned by the
// per-entity alert store; only their Read flag changes after creation.
package models

import "time"

// ─── Metric history ───────────────────────────────────────────────────────────

// MetricSnapshot is one scored evaluation (audit) of an entity.
type MetricSnapshot struct {
	ID           string             `json:"id"`
	EntityRef    string             `json:"entity_ref"`
	Timestamp    time.Time          `json:"timestamp"`
	OverallScore float64            `json:"overall_score"`
	Subscores    map[string]float64 `json:"subscores,omitempty"`
}

// Clamp returns a copy with the overall score and every subscore clamped to [0,100].
func (s MetricSnapshot) Clamp() MetricSnapshot {
	out := s
	out.OverallScore = ClampScore(s.OverallScore)
	if s.Subscores != nil {
		out.Subscores = make(map[string]float64, len(s.Subscores))
		for dim, v := range s.Subscores {
			out.Subscores[dim] = ClampScore(v)
		}
	}
	return out
}

// Subscore returns the clamped value of a dimension and whether it was present.
func (s MetricSnapshot) Subscore(dim string) (float64, bool) {
	v, ok := s.Subscores[dim]
	if !ok {
		return 0, false
	}
	return ClampScore(v), true
}

// ActionRecord is a discrete user action (ran a tool, edited content, ...).
type ActionRecord struct {
	ID        string    `json:"id"`
	EntityRef string    `json:"entity_ref"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// Entity is a monitored subject, e.g. a website.
type Entity struct {
	Ref               string `json:"ref"`
	Name              string `json:"name"`
	Category          string `json:"category,omitempty"`
	Tier              string `json:"tier"`
	MonitoringEnabled bool   `json:"monitoring_enabled"`
}

// CompetitorSnapshot is a score observed for a competitor of an entity.
type CompetitorSnapshot struct {
	Competitor   string    `json:"competitor"`
	EntityRef    string    `json:"entity_ref"`
	Timestamp    time.Time `json:"timestamp"`
	OverallScore float64   `json:"overall_score"`
}

// IndustryBenchmark is the average score of an industry category at a point in time.
type IndustryBenchmark struct {
	Category     string    `json:"category"`
	Timestamp    time.Time `json:"timestamp"`
	AverageScore float64   `json:"average_score"`
}

// ClampScore clamps a score to [0,100].
func ClampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// ─── Trend ────────────────────────────────────────────────────────────────────

// TrendDirection is the classified direction of a fitted trend.
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendDeclining TrendDirection = "declining"
	TrendStable    TrendDirection = "stable"
)

// TrendResult is the output of a least-squares fit over a metric window.
type TrendResult struct {
	Direction     TrendDirection `json:"direction"`
	Confidence    float64        `json:"confidence"` // R², 0.0-1.0
	ForecastValue float64        `json:"forecast_value"`
	Slope         float64        `json:"slope"`
	Intercept     float64        `json:"intercept"`
	Points        int            `json:"points"`
}
