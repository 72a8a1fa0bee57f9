package store

import (
	"sort"
	"sync"

	"github.com/auditpulse/pulse-monitor/internal/models"
)

// DefaultCapacity is the number of alerts kept per entity.
const DefaultCapacity = 15

// Store is the bounded, deduplicating alert list of one entity. Alerts are kept
// newest-first. Every method is safe for concurrent use; mutations are
// serialized by a single mutex.
type Store struct {
	mu        sync.Mutex
	capacity  int
	alerts    []models.Alert
	dismissed map[string]struct{}
}

// New creates an empty store. capacity <= 0 uses DefaultCapacity.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity:  capacity,
		dismissed: make(map[string]struct{}),
	}
}

// Capacity returns the maximum number of stored alerts.
func (s *Store) Capacity() int { return s.capacity }

// Ingest prepends every alert whose id is neither stored nor dismissed, then
// truncates the list to capacity by discarding the oldest alerts. It returns
// the accepted alerts that are still stored and the number of evicted alerts.
func (s *Store) Ingest(newAlerts []models.Alert) (accepted []models.Alert, evicted int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := make(map[string]struct{}, len(s.alerts)+len(newAlerts))
	for _, a := range s.alerts {
		existing[a.ID] = struct{}{}
	}

	fresh := make([]models.Alert, 0, len(newAlerts))
	for _, a := range newAlerts {
		if _, ok := existing[a.ID]; ok {
			continue
		}
		if _, ok := s.dismissed[a.ID]; ok {
			continue
		}
		existing[a.ID] = struct{}{}
		a = a.Clone()
		a.Read = false
		fresh = append(fresh, a)
	}
	if len(fresh) == 0 {
		return nil, 0
	}

	merged := make([]models.Alert, 0, len(fresh)+len(s.alerts))
	merged = append(merged, fresh...)
	merged = append(merged, s.alerts...)
	if len(merged) > s.capacity {
		evicted = len(merged) - s.capacity
		merged = merged[:s.capacity]
	}
	s.alerts = merged

	kept := len(fresh)
	if kept > s.capacity {
		kept = s.capacity
	}
	accepted = make([]models.Alert, kept)
	for i := 0; i < kept; i++ {
		accepted[i] = fresh[i].Clone()
	}
	return accepted, evicted
}

// MarkRead marks one alert read. Unknown ids are a no-op and report false.
func (s *Store) MarkRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		if s.alerts[i].ID == id {
			s.alerts[i].Read = true
			return true
		}
	}
	return false
}

// MarkAllRead marks every alert read and returns how many changed.
func (s *Store) MarkAllRead() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.alerts {
		if !s.alerts[i].Read {
			s.alerts[i].Read = true
			n++
		}
	}
	return n
}

// Dismiss removes an alert permanently. The id is remembered so a later pass
// cannot bring it back. Unknown ids are a no-op and report false.
func (s *Store) Dismiss(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		if s.alerts[i].ID == id {
			s.alerts = append(s.alerts[:i:i], s.alerts[i+1:]...)
			s.dismissed[id] = struct{}{}
			return true
		}
	}
	return false
}

// UnreadCount returns the number of unread alerts.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.alerts {
		if !a.Read {
			n++
		}
	}
	return n
}

// List returns copies of the stored alerts, newest-first.
func (s *Store) List() []models.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Alert, len(s.alerts))
	for i, a := range s.alerts {
		out[i] = a.Clone()
	}
	return out
}

// Get returns a copy of one alert.
func (s *Store) Get(id string) (models.Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.ID == id {
			return a.Clone(), true
		}
	}
	return models.Alert{}, false
}

// Len returns the number of stored alerts.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

// ─── Registry ─────────────────────────────────────────────────────────────────

// Registry holds one Store per entity, created on first use.
type Registry struct {
	mu       sync.RWMutex
	capacity int
	stores   map[string]*Store
}

// NewRegistry creates a registry whose stores have the given capacity.
func NewRegistry(capacity int) *Registry {
	return &Registry{capacity: capacity, stores: make(map[string]*Store)}
}

// For returns the entity's store, creating it if needed.
func (r *Registry) For(entityRef string) *Store {
	r.mu.RLock()
	s, ok := r.stores[entityRef]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[entityRef]; ok {
		return s
	}
	s = New(r.capacity)
	r.stores[entityRef] = s
	return s
}

// Lookup returns the entity's store without creating one.
func (r *Registry) Lookup(entityRef string) (*Store, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stores[entityRef]
	return s, ok
}

// Entities returns the refs that have a store, sorted.
func (r *Registry) Entities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.stores))
	for ref := range r.stores {
		out = append(out, ref)
	}
	sort.Strings(out)
	return out
}
