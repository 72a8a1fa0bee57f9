package models

import "time"

// AlertKind is the user-facing category of an alert.
type AlertKind string

const (
	KindAnomaly        AlertKind = "anomaly"
	KindPredictive     AlertKind = "predictive"
	KindCompetitor     AlertKind = "competitor"
	KindIndustryTrend  AlertKind = "industryTrend"
	KindMilestone      AlertKind = "milestone"
	KindRecommendation AlertKind = "recommendation"
)

// Condition is the detection rule that produced a finding. It is part of the
// deterministic alert id.
type Condition string

const (
	ConditionScoreDrop      Condition = "score_drop"
	ConditionSubscoreDrop   Condition = "subscore_drop"
	ConditionDecliningTrend Condition = "declining_trend"
	ConditionMilestone      Condition = "milestone"
	ConditionInactivity     Condition = "inactivity"
	ConditionCompetitorGain Condition = "competitor_gain"
	ConditionIndustryGap    Condition = "industry_gap"
	ConditionWeakDimension  Condition = "weak_dimension"
)

// Severity of an alert. Rank gives a total order for sorting.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns 0 for unknown severities and 1..4 for low..critical.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Impact is the expected business impact of the alerted condition.
type Impact string

const (
	ImpactLow    Impact = "low"
	ImpactMedium Impact = "medium"
	ImpactHigh   Impact = "high"
)

// RecommendedAction points the user at the tool that remediates the alert.
type RecommendedAction struct {
	RouteKey string `json:"route_key"`
	Label    string `json:"label"`
}

// Alert is a deduplicated, stateful notification derived from a finding.
type Alert struct {
	ID                string            `json:"id"`
	EntityRef         string            `json:"entity_ref"`
	Kind              AlertKind         `json:"kind"`
	Condition         Condition         `json:"condition"`
	Title             string            `json:"title"`
	Message           string            `json:"message"`
	Severity          Severity          `json:"severity"`
	Confidence        int               `json:"confidence"` // 0-100
	Impact            Impact            `json:"impact"`
	Timeframe         string            `json:"timeframe,omitempty"`
	RecommendedAction RecommendedAction `json:"recommended_action"`
	RemediationSteps  []string          `json:"remediation_steps"`
	CreatedAt         time.Time         `json:"created_at"`
	Read              bool              `json:"read"`
	Data              map[string]any    `json:"data,omitempty"`
}

// Clone returns a deep-enough copy for handing out of the store.
func (a Alert) Clone() Alert {
	out := a
	if a.RemediationSteps != nil {
		out.RemediationSteps = append([]string(nil), a.RemediationSteps...)
	}
	if a.Data != nil {
		out.Data = make(map[string]any, len(a.Data))
		for k, v := range a.Data {
			out.Data[k] = v
		}
	}
	return out
}
