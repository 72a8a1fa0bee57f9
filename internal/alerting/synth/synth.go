// Package synth turns findings into fully populated alerts. It performs no I/O.
//
// Alert ids are deterministic, {condition}_{entityRef}_{ref}, so the same
// standing condition detected by consecutive passes maps to the same id and is
// deduplicated by the alert store.
package synth

import (
	"fmt"
	"sort"

	"github.com/auditpulse/pulse-monitor/internal/alerting/router"
	"github.com/auditpulse/pulse-monitor/internal/analytics/anomaly"
	"github.com/auditpulse/pulse-monitor/internal/models"
)

// Synthesizer renders findings with a text catalog and a route table.
type Synthesizer struct {
	catalog *Catalog
	routes  router.Table
}

// New creates a Synthesizer. A nil catalog uses DefaultCatalog.
func New(catalog *Catalog, routes router.Table) *Synthesizer {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Synthesizer{catalog: catalog, routes: routes}
}

// AlertID returns the deterministic id of a finding.
func AlertID(f anomaly.Finding) string {
	return fmt.Sprintf("%s_%s_%s", f.Condition, f.EntityRef, f.Ref)
}

// Synthesize maps detector findings and auxiliary signal findings to alerts,
// ordered by severity, then confidence (both descending), then id.
// A malformed finding is a programming error and panics.
func (s *Synthesizer) Synthesize(findings, signals []anomaly.Finding) []models.Alert {
	all := make([]anomaly.Finding, 0, len(findings)+len(signals))
	all = append(all, findings...)
	all = append(all, signals...)

	alerts := make([]models.Alert, 0, len(all))
	seen := make(map[string]bool, len(all))
	for _, f := range all {
		a := s.alertFor(f)
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		alerts = append(alerts, a)
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		ri, rj := alerts[i].Severity.Rank(), alerts[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		if alerts[i].Confidence != alerts[j].Confidence {
			return alerts[i].Confidence > alerts[j].Confidence
		}
		return alerts[i].ID < alerts[j].ID
	})
	return alerts
}

func (s *Synthesizer) alertFor(f anomaly.Finding) models.Alert {
	validate(f)

	e, ok := s.catalog.entries[f.Condition]
	if !ok {
		panic(fmt.Sprintf("synth: no catalog entry for condition %q", f.Condition))
	}
	action, ok := s.routes.Lookup(f.Kind, f.Condition)
	if !ok {
		panic(fmt.Sprintf("synth: no route for kind %q", f.Kind))
	}
	title, message, steps := e.render(f)

	data := make(map[string]any, len(f.Data)+2)
	for k, v := range f.Data {
		data[k] = v
	}
	if f.Subject != "" {
		data["subject"] = f.Subject
	}
	data["value"] = f.Value

	return models.Alert{
		ID:                AlertID(f),
		EntityRef:         f.EntityRef,
		Kind:              f.Kind,
		Condition:         f.Condition,
		Title:             title,
		Message:           message,
		Severity:          f.Severity,
		Confidence:        f.Confidence,
		Impact:            f.Impact,
		Timeframe:         e.timeframe,
		RecommendedAction: action,
		RemediationSteps:  steps,
		CreatedAt:         f.DetectedAt,
		Data:              data,
	}
}

// validate panics on findings that violate the alert invariants.
func validate(f anomaly.Finding) {
	switch {
	case f.EntityRef == "":
		panic("synth: finding without entity ref")
	case f.Condition == "":
		panic("synth: finding without condition")
	case f.Kind == "":
		panic(fmt.Sprintf("synth: %s finding without kind", f.Condition))
	case f.Ref == "":
		panic(fmt.Sprintf("synth: %s finding without ref", f.Condition))
	case f.Severity.Rank() == 0:
		panic(fmt.Sprintf("synth: %s finding with unknown severity %q", f.Condition, f.Severity))
	case f.Confidence < 0 || f.Confidence > 100:
		panic(fmt.Sprintf("synth: %s finding with confidence %d", f.Condition, f.Confidence))
	case f.DetectedAt.IsZero():
		panic(fmt.Sprintf("synth: %s finding without detection time", f.Condition))
	}
	if f.Severity == models.SeverityCritical {
		if f.Confidence < 90 || (f.Impact != models.ImpactMedium && f.Impact != models.ImpactHigh) {
			panic(fmt.Sprintf("synth: critical %s finding with confidence %d and impact %q", f.Condition, f.Confidence, f.Impact))
		}
	}
}
