// Package importer loads metric history and signal feeds from YAML documents.
package importer

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/auditpulse/pulse-monitor/internal/models"
	"github.com/auditpulse/pulse-monitor/internal/repository"
)

// Document is the on-disk import format.
type Document struct {
	Entities    []Entity     `yaml:"entities"`
	Snapshots   []Snapshot   `yaml:"snapshots"`
	Actions     []Action     `yaml:"actions"`
	Competitors []Competitor `yaml:"competitors"`
	Benchmarks  []Benchmark  `yaml:"benchmarks"`
}

type Entity struct {
	Ref               string `yaml:"ref"`
	Name              string `yaml:"name"`
	Category          string `yaml:"category"`
	Tier              string `yaml:"tier"`
	MonitoringEnabled *bool  `yaml:"monitoring_enabled"`
}

type Snapshot struct {
	ID           string             `yaml:"id"`
	EntityRef    string             `yaml:"entity_ref"`
	Timestamp    time.Time          `yaml:"timestamp"`
	OverallScore float64            `yaml:"overall_score"`
	Subscores    map[string]float64 `yaml:"subscores"`
}

type Action struct {
	ID        string    `yaml:"id"`
	EntityRef string    `yaml:"entity_ref"`
	Kind      string    `yaml:"kind"`
	Timestamp time.Time `yaml:"timestamp"`
}

type Competitor struct {
	Competitor   string    `yaml:"competitor"`
	EntityRef    string    `yaml:"entity_ref"`
	Timestamp    time.Time `yaml:"timestamp"`
	OverallScore float64   `yaml:"overall_score"`
}

type Benchmark struct {
	Category     string    `yaml:"category"`
	Timestamp    time.Time `yaml:"timestamp"`
	AverageScore float64   `yaml:"average_score"`
}

// Summary counts what Apply wrote.
type Summary struct {
	Entities    int `json:"entities"`
	Snapshots   int `json:"snapshots"`
	Actions     int `json:"actions"`
	Competitors int `json:"competitors"`
	Benchmarks  int `json:"benchmarks"`
}

// Target is what an import writes into.
type Target interface {
	repository.EntityStore
	repository.Writer
}

// Parse decodes and validates a document. Unknown fields are rejected.
func Parse(r io.Reader) (*Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode import document: %w", err)
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (d *Document) validate() error {
	for i, e := range d.Entities {
		if e.Ref == "" {
			return fmt.Errorf("entities[%d]: ref is required", i)
		}
	}
	for i, s := range d.Snapshots {
		if s.EntityRef == "" || s.Timestamp.IsZero() {
			return fmt.Errorf("snapshots[%d]: entity_ref and timestamp are required", i)
		}
	}
	for i, a := range d.Actions {
		if a.EntityRef == "" || a.Timestamp.IsZero() {
			return fmt.Errorf("actions[%d]: entity_ref and timestamp are required", i)
		}
	}
	for i, c := range d.Competitors {
		if c.Competitor == "" || c.EntityRef == "" || c.Timestamp.IsZero() {
			return fmt.Errorf("competitors[%d]: competitor, entity_ref and timestamp are required", i)
		}
	}
	for i, b := range d.Benchmarks {
		if b.Category == "" || b.Timestamp.IsZero() {
			return fmt.Errorf("benchmarks[%d]: category and timestamp are required", i)
		}
	}
	return nil
}

// Apply writes the document. Entities go first so history can reference them.
// Records without an id get a generated one.
func (d *Document) Apply(ctx context.Context, target Target) (Summary, error) {
	var sum Summary
	for _, e := range d.Entities {
		enabled := true
		if e.MonitoringEnabled != nil {
			enabled = *e.MonitoringEnabled
		}
		if err := target.UpsertEntity(ctx, models.Entity{
			Ref:               e.Ref,
			Name:              e.Name,
			Category:          e.Category,
			Tier:              e.Tier,
			MonitoringEnabled: enabled,
		}); err != nil {
			return sum, fmt.Errorf("failed to import entity %s: %w", e.Ref, err)
		}
		sum.Entities++
	}
	for _, s := range d.Snapshots {
		id := s.ID
		if id == "" {
			id = uuid.NewString()
		}
		if err := target.SaveSnapshot(ctx, models.MetricSnapshot{
			ID:           id,
			EntityRef:    s.EntityRef,
			Timestamp:    s.Timestamp.UTC(),
			OverallScore: s.OverallScore,
			Subscores:    s.Subscores,
		}); err != nil {
			return sum, fmt.Errorf("failed to import snapshot %s: %w", id, err)
		}
		sum.Snapshots++
	}
	for _, a := range d.Actions {
		id := a.ID
		if id == "" {
			id = uuid.NewString()
		}
		if err := target.SaveAction(ctx, models.ActionRecord{
			ID:        id,
			EntityRef: a.EntityRef,
			Kind:      a.Kind,
			Timestamp: a.Timestamp.UTC(),
		}); err != nil {
			return sum, fmt.Errorf("failed to import action %s: %w", id, err)
		}
		sum.Actions++
	}
	for _, c := range d.Competitors {
		if err := target.SaveCompetitorSnapshot(ctx, models.CompetitorSnapshot{
			Competitor:   c.Competitor,
			EntityRef:    c.EntityRef,
			Timestamp:    c.Timestamp.UTC(),
			OverallScore: c.OverallScore,
		}); err != nil {
			return sum, fmt.Errorf("failed to import competitor snapshot for %s: %w", c.Competitor, err)
		}
		sum.Competitors++
	}
	for _, b := range d.Benchmarks {
		if err := target.SaveBenchmark(ctx, models.IndustryBenchmark{
			Category:     b.Category,
			Timestamp:    b.Timestamp.UTC(),
			AverageScore: b.AverageScore,
		}); err != nil {
			return sum, fmt.Errorf("failed to import benchmark for %s: %w", b.Category, err)
		}
		sum.Benchmarks++
	}
	return sum, nil
}
