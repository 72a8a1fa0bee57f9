package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/auditpulse/pulse-monitor/internal/models"
)

// ErrEntityNotFound is returned when an entity ref is not registered.
var ErrEntityNotFound = errors.New("entity not found")

// ErrMissingID is returned when a snapshot or action is written without an id.
// Alert ids are derived from record ids, so anonymous records are rejected.
var ErrMissingID = errors.New("record id is required")

// HistoryRepository is the read side the evaluation pass depends on.
// Both methods return records newest-first.
type HistoryRepository interface {
	GetHistory(ctx context.Context, entityRef string, limit int) ([]models.MetricSnapshot, error)
	GetRecentActions(ctx context.Context, entityRef string, limit int) ([]models.ActionRecord, error)
}

// SignalFeed exposes external competitor and industry observations.
type SignalFeed interface {
	// GetCompetitorSnapshots returns up to perCompetitor snapshots for every
	// competitor of the entity, newest-first within each competitor.
	GetCompetitorSnapshots(ctx context.Context, entityRef string, perCompetitor int) ([]models.CompetitorSnapshot, error)
	// GetLatestBenchmark returns nil, nil when the category has no benchmark.
	GetLatestBenchmark(ctx context.Context, category string) (*models.IndustryBenchmark, error)
}

// EntityStore manages the monitored entities.
type EntityStore interface {
	GetEntity(ctx context.Context, ref string) (*models.Entity, error)
	ListEntities(ctx context.Context) ([]models.Entity, error)
	UpsertEntity(ctx context.Context, e models.Entity) error
	SetMonitoring(ctx context.Context, ref string, enabled bool) error
}

// MilestoneLedger records the milestone thresholds already announced per entity.
type MilestoneLedger interface {
	FiredMilestones(ctx context.Context, entityRef string) (map[float64]bool, error)
	RecordMilestone(ctx context.Context, entityRef string, threshold float64, at time.Time) error
}

// Writer ingests observations. Used by the import command and tests.
type Writer interface {
	SaveSnapshot(ctx context.Context, s models.MetricSnapshot) error
	SaveAction(ctx context.Context, a models.ActionRecord) error
	SaveCompetitorSnapshot(ctx context.Context, c models.CompetitorSnapshot) error
	SaveBenchmark(ctx context.Context, b models.IndustryBenchmark) error
}

// Repository aggregates every data access interface.
type Repository interface {
	HistoryRepository
	SignalFeed
	EntityStore
	MilestoneLedger
	Writer
	Ping(ctx context.Context) error
	Close() error
}

func requireID(kind, id, entityRef string) error {
	if id == "" {
		return fmt.Errorf("%w: %s of %s", ErrMissingID, kind, entityRef)
	}
	return nil
}
