package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/auditpulse/pulse-monitor/internal/models"
)

// SQLRepository implements Repository on sqlite or postgres. Queries are
// written with ? placeholders and rebound for the active driver.
type SQLRepository struct {
	db *sqlx.DB
}

// NewSQLiteRepository opens (or creates) a SQLite database at the given path and
// runs all pending migrations. Pass ":memory:" for an in-memory database.
func NewSQLiteRepository(path string) (*SQLRepository, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// a single connection keeps ":memory:" databases shared and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	r := &SQLRepository{db: db}
	if err := r.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// NewPostgresRepository connects to PostgreSQL and runs all pending migrations.
func NewPostgresRepository(connectionString string) (*SQLRepository, error) {
	db, err := sqlx.Connect("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	r := &SQLRepository{db: db}
	if err := r.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLRepository) migrate() error {
	_, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version     INTEGER PRIMARY KEY,
        applied_at  BIGINT NOT NULL
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := r.db.Get(&count, r.db.Rebind(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`), m.version); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if _, err := r.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := r.db.Exec(r.db.Rebind(`INSERT INTO schema_versions(version, applied_at) VALUES(?, ?)`),
			m.version, time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (r *SQLRepository) Close() error { return r.db.Close() }

// Ping checks the database connection.
func (r *SQLRepository) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

// ─── Rows ─────────────────────────────────────────────────────────────────────

type snapshotRow struct {
	ID        string  `db:"id"`
	EntityRef string  `db:"entity_ref"`
	TakenAt   int64   `db:"taken_at"`
	Overall   float64 `db:"overall_score"`
	Subscores string  `db:"subscores"`
}

func (row snapshotRow) toModel() (models.MetricSnapshot, error) {
	s := models.MetricSnapshot{
		ID:           row.ID,
		EntityRef:    row.EntityRef,
		Timestamp:    time.UnixMilli(row.TakenAt).UTC(),
		OverallScore: row.Overall,
	}
	if row.Subscores != "" && row.Subscores != "{}" {
		if err := json.Unmarshal([]byte(row.Subscores), &s.Subscores); err != nil {
			return s, fmt.Errorf("decode subscores of %s: %w", row.ID, err)
		}
	}
	return s, nil
}

type actionRow struct {
	ID         string `db:"id"`
	EntityRef  string `db:"entity_ref"`
	Kind       string `db:"kind"`
	OccurredAt int64  `db:"occurred_at"`
}

type entityRow struct {
	Ref               string `db:"ref"`
	Name              string `db:"name"`
	Category          string `db:"category"`
	Tier              string `db:"tier"`
	MonitoringEnabled bool   `db:"monitoring_enabled"`
}

func (row entityRow) toModel() models.Entity {
	return models.Entity{
		Ref:               row.Ref,
		Name:              row.Name,
		Category:          row.Category,
		Tier:              row.Tier,
		MonitoringEnabled: row.MonitoringEnabled,
	}
}

type competitorRow struct {
	Competitor string  `db:"competitor"`
	EntityRef  string  `db:"entity_ref"`
	TakenAt    int64   `db:"taken_at"`
	Overall    float64 `db:"overall_score"`
}

type benchmarkRow struct {
	Category string  `db:"category"`
	TakenAt  int64   `db:"taken_at"`
	Average  float64 `db:"average_score"`
}

// ─── History ──────────────────────────────────────────────────────────────────

// GetHistory returns the entity's latest snapshots, newest-first.
func (r *SQLRepository) GetHistory(ctx context.Context, entityRef string, limit int) ([]models.MetricSnapshot, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []snapshotRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT id, entity_ref, taken_at, overall_score, subscores
		FROM metric_snapshots
		WHERE entity_ref = ?
		ORDER BY taken_at DESC, id DESC
		LIMIT ?`), entityRef, limit)
	if err != nil {
		return nil, fmt.Errorf("query history for %s: %w", entityRef, err)
	}
	out := make([]models.MetricSnapshot, 0, len(rows))
	for _, row := range rows {
		s, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// GetRecentActions returns the entity's latest actions, newest-first.
func (r *SQLRepository) GetRecentActions(ctx context.Context, entityRef string, limit int) ([]models.ActionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []actionRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT id, entity_ref, kind, occurred_at
		FROM action_records
		WHERE entity_ref = ?
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?`), entityRef, limit)
	if err != nil {
		return nil, fmt.Errorf("query actions for %s: %w", entityRef, err)
	}
	out := make([]models.ActionRecord, len(rows))
	for i, row := range rows {
		out[i] = models.ActionRecord{
			ID:        row.ID,
			EntityRef: row.EntityRef,
			Kind:      row.Kind,
			Timestamp: time.UnixMilli(row.OccurredAt).UTC(),
		}
	}
	return out, nil
}

// ─── Signal feeds ─────────────────────────────────────────────────────────────

// GetCompetitorSnapshots returns up to perCompetitor snapshots per competitor.
func (r *SQLRepository) GetCompetitorSnapshots(ctx context.Context, entityRef string, perCompetitor int) ([]models.CompetitorSnapshot, error) {
	if perCompetitor <= 0 {
		perCompetitor = 2
	}
	var rows []competitorRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT competitor, entity_ref, taken_at, overall_score FROM (
			SELECT competitor, entity_ref, taken_at, overall_score,
			       ROW_NUMBER() OVER (PARTITION BY competitor ORDER BY taken_at DESC) AS rn
			FROM competitor_snapshots
			WHERE entity_ref = ?
		) ranked
		WHERE rn <= ?
		ORDER BY competitor ASC, taken_at DESC`), entityRef, perCompetitor)
	if err != nil {
		return nil, fmt.Errorf("query competitors for %s: %w", entityRef, err)
	}
	out := make([]models.CompetitorSnapshot, len(rows))
	for i, row := range rows {
		out[i] = models.CompetitorSnapshot{
			Competitor:   row.Competitor,
			EntityRef:    row.EntityRef,
			Timestamp:    time.UnixMilli(row.TakenAt).UTC(),
			OverallScore: row.Overall,
		}
	}
	return out, nil
}

// GetLatestBenchmark returns the newest benchmark for a category, or nil.
func (r *SQLRepository) GetLatestBenchmark(ctx context.Context, category string) (*models.IndustryBenchmark, error) {
	var row benchmarkRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`
		SELECT category, taken_at, average_score
		FROM industry_benchmarks
		WHERE category = ?
		ORDER BY taken_at DESC
		LIMIT 1`), category)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query benchmark %s: %w", category, err)
	}
	return &models.IndustryBenchmark{
		Category:     row.Category,
		Timestamp:    time.UnixMilli(row.TakenAt).UTC(),
		AverageScore: row.Average,
	}, nil
}

// ─── Entities ─────────────────────────────────────────────────────────────────

func (r *SQLRepository) GetEntity(ctx context.Context, ref string) (*models.Entity, error) {
	var row entityRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`
		SELECT ref, name, category, tier, monitoring_enabled FROM entities WHERE ref = ?`), ref)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("get entity %s: %w", ref, err)
	}
	e := row.toModel()
	return &e, nil
}

func (r *SQLRepository) ListEntities(ctx context.Context) ([]models.Entity, error) {
	var rows []entityRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT ref, name, category, tier, monitoring_enabled FROM entities ORDER BY ref ASC`); err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	out := make([]models.Entity, len(rows))
	for i, row := range rows {
		out[i] = row.toModel()
	}
	return out, nil
}

func (r *SQLRepository) UpsertEntity(ctx context.Context, e models.Entity) error {
	if e.Ref == "" {
		return errors.New("entity ref is required")
	}
	if e.Tier == "" {
		e.Tier = "free"
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO entities (ref, name, category, tier, monitoring_enabled)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (ref) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			tier = excluded.tier,
			monitoring_enabled = excluded.monitoring_enabled`),
		e.Ref, e.Name, e.Category, e.Tier, e.MonitoringEnabled)
	if err != nil {
		return fmt.Errorf("upsert entity %s: %w", e.Ref, err)
	}
	return nil
}

func (r *SQLRepository) SetMonitoring(ctx context.Context, ref string, enabled bool) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE entities SET monitoring_enabled = ? WHERE ref = ?`), enabled, ref)
	if err != nil {
		return fmt.Errorf("set monitoring for %s: %w", ref, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, ref)
	}
	return nil
}

// ─── Milestones ───────────────────────────────────────────────────────────────

func (r *SQLRepository) FiredMilestones(ctx context.Context, entityRef string) (map[float64]bool, error) {
	var thresholds []float64
	if err := r.db.SelectContext(ctx, &thresholds, r.db.Rebind(`
		SELECT threshold FROM milestones WHERE entity_ref = ?`), entityRef); err != nil {
		return nil, fmt.Errorf("query milestones for %s: %w", entityRef, err)
	}
	out := make(map[float64]bool, len(thresholds))
	for _, th := range thresholds {
		out[th] = true
	}
	return out, nil
}

// RecordMilestone is idempotent; the first recorded time wins.
func (r *SQLRepository) RecordMilestone(ctx context.Context, entityRef string, threshold float64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO milestones (entity_ref, threshold, reached_at) VALUES (?, ?, ?)
		ON CONFLICT (entity_ref, threshold) DO NOTHING`),
		entityRef, threshold, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("record milestone %.0f for %s: %w", threshold, entityRef, err)
	}
	return nil
}

// ─── Writes ───────────────────────────────────────────────────────────────────

func (r *SQLRepository) SaveSnapshot(ctx context.Context, s models.MetricSnapshot) error {
	if err := requireID("snapshot", s.ID, s.EntityRef); err != nil {
		return err
	}
	subscores := "{}"
	if len(s.Subscores) > 0 {
		b, err := json.Marshal(s.Subscores)
		if err != nil {
			return fmt.Errorf("encode subscores of %s: %w", s.ID, err)
		}
		subscores = string(b)
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO metric_snapshots (id, entity_ref, taken_at, overall_score, subscores)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			entity_ref = excluded.entity_ref,
			taken_at = excluded.taken_at,
			overall_score = excluded.overall_score,
			subscores = excluded.subscores`),
		s.ID, s.EntityRef, s.Timestamp.UnixMilli(), s.OverallScore, subscores)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", s.ID, err)
	}
	return nil
}

func (r *SQLRepository) SaveAction(ctx context.Context, a models.ActionRecord) error {
	if err := requireID("action", a.ID, a.EntityRef); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO action_records (id, entity_ref, kind, occurred_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`),
		a.ID, a.EntityRef, a.Kind, a.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("save action %s: %w", a.ID, err)
	}
	return nil
}

func (r *SQLRepository) SaveCompetitorSnapshot(ctx context.Context, c models.CompetitorSnapshot) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO competitor_snapshots (entity_ref, competitor, taken_at, overall_score)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (entity_ref, competitor, taken_at) DO UPDATE SET overall_score = excluded.overall_score`),
		c.EntityRef, c.Competitor, c.Timestamp.UnixMilli(), c.OverallScore)
	if err != nil {
		return fmt.Errorf("save competitor snapshot %s/%s: %w", c.EntityRef, c.Competitor, err)
	}
	return nil
}

func (r *SQLRepository) SaveBenchmark(ctx context.Context, b models.IndustryBenchmark) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO industry_benchmarks (category, taken_at, average_score)
		VALUES (?, ?, ?)
		ON CONFLICT (category, taken_at) DO UPDATE SET average_score = excluded.average_score`),
		b.Category, b.Timestamp.UnixMilli(), b.AverageScore)
	if err != nil {
		return fmt.Errorf("save benchmark %s: %w", b.Category, err)
	}
	return nil
}
