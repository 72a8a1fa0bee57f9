package router

import (
	"github.com/auditpulse/pulse-monitor/internal/models"
)

// Route keys of the remediation tools an alert can send the user to.
const (
	RouteAudit       = "audit"
	RoutePlaybook    = "playbook"
	RouteCompetitive = "competitive"
	RouteContent     = "content"
)

// Router receives "fix it" requests. Implementations must not block the caller
// and the caller never waits for a result.
type Router interface {
	RouteAction(routeKey, alertID string)
}

// Table maps an alert to its remediation tool. Lookups are by kind; a
// condition entry takes precedence for the few conditions that need a
// different tool than the rest of their kind.
type Table struct {
	byKind      map[models.AlertKind]models.RecommendedAction
	byCondition map[models.Condition]models.RecommendedAction
}

// DefaultTable returns the stock kind→tool mapping.
func DefaultTable() Table {
	audit := models.RecommendedAction{RouteKey: RouteAudit, Label: "Run a fresh audit"}
	playbook := models.RecommendedAction{RouteKey: RoutePlaybook, Label: "Open the recovery playbook"}
	competitive := models.RecommendedAction{RouteKey: RouteCompetitive, Label: "Open competitive analysis"}
	content := models.RecommendedAction{RouteKey: RouteContent, Label: "Open the content optimizer"}

	return Table{
		byKind: map[models.AlertKind]models.RecommendedAction{
			models.KindAnomaly:        audit,
			models.KindPredictive:     playbook,
			models.KindMilestone:      competitive,
			models.KindCompetitor:     competitive,
			models.KindIndustryTrend:  playbook,
			models.KindRecommendation: content,
		},
		byCondition: map[models.Condition]models.RecommendedAction{
			models.ConditionInactivity: audit,
		},
	}
}

// Lookup returns the recommended action for an alert kind and condition.
func (t Table) Lookup(kind models.AlertKind, cond models.Condition) (models.RecommendedAction, bool) {
	if a, ok := t.byCondition[cond]; ok {
		return a, true
	}
	a, ok := t.byKind[kind]
	return a, ok
}

// Kinds returns every kind the table has a route for.
func (t Table) Kinds() []models.AlertKind {
	out := make([]models.AlertKind, 0, len(t.byKind))
	for k := range t.byKind {
		out = append(out, k)
	}
	return out
}
