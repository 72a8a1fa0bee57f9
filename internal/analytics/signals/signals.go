// Package signals turns external competitor and industry observations into
// findings. Feeds are advisory: a failing feed is logged and skipped, it never
// fails the evaluation pass.
package signals

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/auditpulse/pulse-monitor/internal/analytics/anomaly"
	"github.com/auditpulse/pulse-monitor/internal/models"
	"github.com/auditpulse/pulse-monitor/internal/repository"
)

const (
	competitorConfidence = 80
	industryConfidence   = 75
)

// Thresholds configures the auxiliary signal rules.
type Thresholds struct {
	// CompetitorGainThreshold is the minimum competitor score gain between its
	// two latest snapshots.
	CompetitorGainThreshold float64 `json:"competitor_gain_threshold"`
	// IndustryGapThreshold is the minimum benchmark-minus-entity gap.
	IndustryGapThreshold float64 `json:"industry_gap_threshold"`
	// IndustryGapHigh escalates the industry finding to high severity.
	IndustryGapHigh float64 `json:"industry_gap_high"`
}

// DefaultThresholds returns the stock signal thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CompetitorGainThreshold: 10,
		IndustryGapThreshold:    10,
		IndustryGapHigh:         20,
	}
}

// Evaluator reads the signal feed for one entity and emits findings.
type Evaluator struct {
	feed   repository.SignalFeed
	logger *zap.Logger
}

// NewEvaluator creates an Evaluator over feed. A nil logger is replaced by a no-op.
func NewEvaluator(feed repository.SignalFeed, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{feed: feed, logger: logger}
}

// Evaluate fetches both feeds concurrently and applies the competitor and
// industry rules against the entity's latest snapshot.
func (e *Evaluator) Evaluate(ctx context.Context, entity models.Entity, latest models.MetricSnapshot, th Thresholds, now time.Time) []anomaly.Finding {
	if e == nil || e.feed == nil {
		return nil
	}
	latest = latest.Clamp()

	var (
		competitors []models.CompetitorSnapshot
		benchmark   *models.IndustryBenchmark
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := e.feed.GetCompetitorSnapshots(gctx, entity.Ref, 2)
		if err != nil {
			e.logger.Warn("competitor feed unavailable", zap.String("entity", entity.Ref), zap.Error(err))
			return nil
		}
		competitors = c
		return nil
	})
	if entity.Category != "" {
		g.Go(func() error {
			b, err := e.feed.GetLatestBenchmark(gctx, entity.Category)
			if err != nil {
				e.logger.Warn("industry feed unavailable", zap.String("category", entity.Category), zap.Error(err))
				return nil
			}
			benchmark = b
			return nil
		})
	}
	_ = g.Wait()

	findings := CompetitorGains(entity.Ref, competitors, latest, th)
	if f, ok := IndustryGap(entity.Ref, benchmark, latest, th); ok {
		findings = append(findings, f)
	}
	for i := range findings {
		findings[i].EntityRef = entity.Ref
		findings[i].DetectedAt = now
	}
	return findings
}

// CompetitorGains emits one finding per competitor whose latest score rose by at
// least CompetitorGainThreshold and now exceeds the entity's latest overall score.
// snapshots must be newest-first within each competitor.
func CompetitorGains(entityRef string, snapshots []models.CompetitorSnapshot, latest models.MetricSnapshot, th Thresholds) []anomaly.Finding {
	byCompetitor := make(map[string][]models.CompetitorSnapshot)
	for _, s := range snapshots {
		byCompetitor[s.Competitor] = append(byCompetitor[s.Competitor], s)
	}
	names := make([]string, 0, len(byCompetitor))
	for name := range byCompetitor {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []anomaly.Finding
	for _, name := range names {
		list := byCompetitor[name]
		if len(list) < 2 {
			continue
		}
		cur := models.ClampScore(list[0].OverallScore)
		prev := models.ClampScore(list[1].OverallScore)
		gain := cur - prev
		if gain < th.CompetitorGainThreshold || cur <= latest.OverallScore {
			continue
		}
		out = append(out, anomaly.Finding{
			Condition:  models.ConditionCompetitorGain,
			Kind:       models.KindCompetitor,
			EntityRef:  entityRef,
			Ref:        fmt.Sprintf("%s@%d", name, list[0].Timestamp.Unix()),
			Severity:   models.SeverityMedium,
			Confidence: competitorConfidence,
			Impact:     models.ImpactMedium,
			Subject:    name,
			Value:      gain,
			Data: map[string]any{
				"competitor":       name,
				"competitor_score": cur,
				"previous_score":   prev,
				"gain":             gain,
				"entity_score":     latest.OverallScore,
				"lead":             cur - latest.OverallScore,
			},
		})
	}
	return out
}

// IndustryGap fires when the category benchmark exceeds the entity's latest
// overall score by at least IndustryGapThreshold.
func IndustryGap(entityRef string, benchmark *models.IndustryBenchmark, latest models.MetricSnapshot, th Thresholds) (anomaly.Finding, bool) {
	if benchmark == nil {
		return anomaly.Finding{}, false
	}
	avg := models.ClampScore(benchmark.AverageScore)
	gap := avg - latest.OverallScore
	if gap < th.IndustryGapThreshold {
		return anomaly.Finding{}, false
	}
	severity := models.SeverityMedium
	if th.IndustryGapHigh > 0 && gap >= th.IndustryGapHigh {
		severity = models.SeverityHigh
	}
	return anomaly.Finding{
		Condition:  models.ConditionIndustryGap,
		Kind:       models.KindIndustryTrend,
		EntityRef:  entityRef,
		Ref:        fmt.Sprintf("%s@%d", benchmark.Category, benchmark.Timestamp.Unix()),
		Severity:   severity,
		Confidence: industryConfidence,
		Impact:     models.ImpactMedium,
		Subject:    benchmark.Category,
		Value:      math.Round(gap*10) / 10,
		Data: map[string]any{
			"category":     benchmark.Category,
			"industry_avg": avg,
			"entity_score": latest.OverallScore,
			"gap":          gap,
			"snapshot_id":  latest.ID,
		},
	}, true
}
