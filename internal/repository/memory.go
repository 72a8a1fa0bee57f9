package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/auditpulse/pulse-monitor/internal/models"
)

// MemoryRepository is a process-local Repository. Nothing survives a restart.
type MemoryRepository struct {
	mu          sync.RWMutex
	entities    map[string]models.Entity
	snapshots   map[string][]models.MetricSnapshot
	actions     map[string][]models.ActionRecord
	competitors map[string][]models.CompetitorSnapshot
	benchmarks  map[string][]models.IndustryBenchmark
	milestones  map[string]map[float64]time.Time
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		entities:    make(map[string]models.Entity),
		snapshots:   make(map[string][]models.MetricSnapshot),
		actions:     make(map[string][]models.ActionRecord),
		competitors: make(map[string][]models.CompetitorSnapshot),
		benchmarks:  make(map[string][]models.IndustryBenchmark),
		milestones:  make(map[string]map[float64]time.Time),
	}
}

func (m *MemoryRepository) Close() error { return nil }

func (m *MemoryRepository) Ping(ctx context.Context) error { return ctx.Err() }

func (m *MemoryRepository) GetHistory(ctx context.Context, entityRef string, limit int) ([]models.MetricSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.snapshots[entityRef]
	if len(all) > limit {
		all = all[:limit]
	}
	out := make([]models.MetricSnapshot, len(all))
	copy(out, all)
	return out, nil
}

func (m *MemoryRepository) GetRecentActions(ctx context.Context, entityRef string, limit int) ([]models.ActionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.actions[entityRef]
	if len(all) > limit {
		all = all[:limit]
	}
	out := make([]models.ActionRecord, len(all))
	copy(out, all)
	return out, nil
}

func (m *MemoryRepository) GetCompetitorSnapshots(ctx context.Context, entityRef string, perCompetitor int) ([]models.CompetitorSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if perCompetitor <= 0 {
		perCompetitor = 2
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	// stored sorted by competitor, then newest-first
	var out []models.CompetitorSnapshot
	taken := map[string]int{}
	for _, c := range m.competitors[entityRef] {
		if taken[c.Competitor] >= perCompetitor {
			continue
		}
		taken[c.Competitor]++
		out = append(out, c)
	}
	return out, nil
}

func (m *MemoryRepository) GetLatestBenchmark(ctx context.Context, category string) (*models.IndustryBenchmark, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.benchmarks[category]
	if len(list) == 0 {
		return nil, nil
	}
	b := list[0]
	return &b, nil
}

func (m *MemoryRepository) GetEntity(_ context.Context, ref string) (*models.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, ref)
	}
	return &e, nil
}

func (m *MemoryRepository) ListEntities(_ context.Context) ([]models.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Entity, 0, len(m.entities))
	for _, e := range m.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out, nil
}

func (m *MemoryRepository) UpsertEntity(_ context.Context, e models.Entity) error {
	if e.Ref == "" {
		return errors.New("entity ref is required")
	}
	if e.Tier == "" {
		e.Tier = "free"
	}
	m.mu.Lock()
	m.entities[e.Ref] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryRepository) SetMonitoring(_ context.Context, ref string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[ref]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, ref)
	}
	e.MonitoringEnabled = enabled
	m.entities[ref] = e
	return nil
}

func (m *MemoryRepository) FiredMilestones(_ context.Context, entityRef string) (map[float64]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[float64]bool, len(m.milestones[entityRef]))
	for th := range m.milestones[entityRef] {
		out[th] = true
	}
	return out, nil
}

func (m *MemoryRepository) RecordMilestone(_ context.Context, entityRef string, threshold float64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.milestones[entityRef] == nil {
		m.milestones[entityRef] = make(map[float64]time.Time)
	}
	if _, ok := m.milestones[entityRef][threshold]; !ok {
		m.milestones[entityRef][threshold] = at
	}
	return nil
}

func (m *MemoryRepository) SaveSnapshot(_ context.Context, s models.MetricSnapshot) error {
	if err := requireID("snapshot", s.ID, s.EntityRef); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.snapshots[s.EntityRef]
	for i := range list {
		if list[i].ID == s.ID {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	list = append(list, s)
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Timestamp.Equal(list[j].Timestamp) {
			return list[i].ID > list[j].ID
		}
		return list[i].Timestamp.After(list[j].Timestamp)
	})
	m.snapshots[s.EntityRef] = list
	return nil
}

func (m *MemoryRepository) SaveAction(_ context.Context, a models.ActionRecord) error {
	if err := requireID("action", a.ID, a.EntityRef); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.actions[a.EntityRef]
	for _, existing := range list {
		if existing.ID == a.ID {
			return nil
		}
	}
	list = append(list, a)
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Timestamp.Equal(list[j].Timestamp) {
			return list[i].ID > list[j].ID
		}
		return list[i].Timestamp.After(list[j].Timestamp)
	})
	m.actions[a.EntityRef] = list
	return nil
}

func (m *MemoryRepository) SaveCompetitorSnapshot(_ context.Context, c models.CompetitorSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.competitors[c.EntityRef]
	for i := range list {
		if list[i].Competitor == c.Competitor && list[i].Timestamp.Equal(c.Timestamp) {
			list[i].OverallScore = c.OverallScore
			return nil
		}
	}
	list = append(list, c)
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Competitor != list[j].Competitor {
			return list[i].Competitor < list[j].Competitor
		}
		return list[i].Timestamp.After(list[j].Timestamp)
	})
	m.competitors[c.EntityRef] = list
	return nil
}

func (m *MemoryRepository) SaveBenchmark(_ context.Context, b models.IndustryBenchmark) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.benchmarks[b.Category]
	for i := range list {
		if list[i].Timestamp.Equal(b.Timestamp) {
			list[i].AverageScore = b.AverageScore
			return nil
		}
	}
	list = append(list, b)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.After(list[j].Timestamp) })
	m.benchmarks[b.Category] = list
	return nil
}
