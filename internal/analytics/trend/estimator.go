// Package trend fits an ordinary least-squares line to a window of snapshots.
//
// The window is indexed 0..n-1 from oldest to newest; slope is therefore in
// score points per evaluation step. Confidence is the coefficient of
// determination (R²) of the fit.
//
// Classification:
//   - slope >  1  → improving
//   - slope < -1  → declining
//   - otherwise   → stable
//
// Forecast: the fitted value two steps beyond the last observed point,
// i.e. slope·(n+1) + intercept, clamped to [0,100].
package trend

import (
	"math"

	"github.com/auditpulse/pulse-monitor/internal/models"
)

const (
	// MinPoints is the smallest window that produces a fitted trend.
	MinPoints = 3

	improvingSlope = 1.0
	decliningSlope = -1.0
)

// Metric selects the value fitted from each snapshot.
type Metric struct {
	name  string
	value func(models.MetricSnapshot) float64
}

// Name returns "overall" or the subscore dimension name.
func (m Metric) Name() string { return m.name }

// Overall selects the overall score.
func Overall() Metric {
	return Metric{
		name:  "overall",
		value: func(s models.MetricSnapshot) float64 { return models.ClampScore(s.OverallScore) },
	}
}

// Subscore selects one dimension; a snapshot missing the dimension contributes 0.
func Subscore(dim string) Metric {
	return Metric{
		name: dim,
		value: func(s models.MetricSnapshot) float64 {
			v, _ := s.Subscore(dim)
			return v
		},
	}
}

// EstimateTrend fits the selected metric over snapshots given newest-first, the
// order the history repository returns them in. The input is not modified.
// Windows shorter than MinPoints yield a stable result with zero confidence.
func EstimateTrend(snapshots []models.MetricSnapshot, metric Metric) models.TrendResult {
	if metric.value == nil {
		metric = Overall()
	}

	n := len(snapshots)
	vals := make([]float64, n)
	for i, s := range snapshots {
		// reverse into oldest→newest
		vals[n-1-i] = metric.value(s)
	}

	if n < MinPoints {
		last := 0.0
		if n > 0 {
			last = vals[n-1]
		}
		return models.TrendResult{
			Direction:     models.TrendStable,
			Confidence:    0,
			ForecastValue: models.ClampScore(last),
			Points:        n,
		}
	}

	slope, intercept := linearRegression(vals)
	r2, degenerate := rSquared(vals, slope, intercept)

	result := models.TrendResult{
		Slope:         slope,
		Intercept:     intercept,
		Confidence:    r2,
		ForecastValue: models.ClampScore(slope*float64(n+1) + intercept),
		Points:        n,
	}

	switch {
	case degenerate:
		result.Direction = models.TrendStable
		result.Confidence = 0
	case slope > improvingSlope:
		result.Direction = models.TrendImproving
	case slope < decliningSlope:
		result.Direction = models.TrendDeclining
	default:
		result.Direction = models.TrendStable
	}
	return result
}

// linearRegression solves the normal equations for y = intercept + slope·x
// with x = 0..n-1.
func linearRegression(vals []float64) (slope, intercept float64) {
	n := float64(len(vals))
	if n < 2 {
		return 0, 0
	}
	sumX, sumY, sumXY, sumX2 := 0.0, 0.0, 0.0, 0.0
	for i, v := range vals {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumX2 += x * x
	}
	denom := n*sumX2 - sumX*sumX
	if math.Abs(denom) < 1e-12 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}

// rSquared returns 1 − SS_res/SS_tot clamped to [0,1]. degenerate reports
// SS_tot == 0, i.e. every value in the window is identical.
func rSquared(vals []float64, slope, intercept float64) (r2 float64, degenerate bool) {
	mean := 0.0
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))

	ssTot, ssRes := 0.0, 0.0
	for i, v := range vals {
		pred := intercept + slope*float64(i)
		ssRes += (v - pred) * (v - pred)
		ssTot += (v - mean) * (v - mean)
	}
	if ssTot < 1e-12 {
		return 0, true
	}
	r2 = 1.0 - ssRes/ssTot
	if r2 < 0 {
		return 0, false
	}
	if r2 > 1 {
		return 1, false
	}
	return r2, false
}
