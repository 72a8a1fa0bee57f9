// Package scheduler runs one evaluation loop per monitored entity.
//
// Each runner fires a pass on start, then on every tick, and whenever a manual
// trigger is queued. Passes for one entity never overlap: a trigger that arrives
// mid-pass is held in a one-slot queue and runs right after, further triggers
// are dropped until that slot drains.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/auditpulse/pulse-monitor/internal/metrics"
	"github.com/auditpulse/pulse-monitor/internal/repository"
)

var (
	// ErrNotRunning is returned by Trigger for entities without a runner.
	ErrNotRunning = errors.New("no runner for entity")
	// ErrNotEligible is returned by Start when the policy rejects the entity.
	ErrNotEligible = errors.New("entity is not eligible for monitoring")
)

// DefaultInterval is the scheduled pass period.
const DefaultInterval = 10 * time.Minute

const startAllConcurrency = 8

// PassFunc runs one evaluation pass. manual is true for triggered passes.
type PassFunc func(ctx context.Context, entityRef string, manual bool) error

type runner struct {
	ref     string
	trigger chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// Scheduler owns the per-entity runners.
type Scheduler struct {
	pass     PassFunc
	policy   Policy
	entities repository.EntityStore
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	runners map[string]*runner
}

// New creates a Scheduler. A non-positive interval uses DefaultInterval.
func New(pass PassFunc, policy Policy, entities repository.EntityStore, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		pass:     pass,
		policy:   policy,
		entities: entities,
		interval: interval,
		logger:   logger,
		runners:  make(map[string]*runner),
	}
}

// Start launches the entity's runner. Starting a running entity is a no-op.
// ctx only bounds the policy check; the runner lives until Stop.
func (s *Scheduler) Start(ctx context.Context, entityRef string) error {
	enabled, err := s.policy.Enabled(ctx, entityRef)
	if err != nil {
		return fmt.Errorf("failed to check monitoring policy: %w", err)
	}
	if !enabled {
		return fmt.Errorf("%w: %s", ErrNotEligible, entityRef)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runners[entityRef]; ok {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &runner{
		ref:     entityRef,
		trigger: make(chan struct{}, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.runners[entityRef] = r
	metrics.ActiveRunners.Inc()
	go s.run(runCtx, r)

	s.logger.Info("runner started", zap.String("entity", entityRef), zap.Duration("interval", s.interval))
	return nil
}

// Stop cancels the entity's runner and waits for it to exit. No pass starts
// after Stop returns.
func (s *Scheduler) Stop(entityRef string) {
	s.mu.Lock()
	r, ok := s.runners[entityRef]
	if ok {
		delete(s.runners, entityRef)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	r.cancel()
	<-r.done
	s.logger.Info("runner stopped", zap.String("entity", entityRef))
}

// Trigger queues a pass. queued is false when a triggered pass is already pending.
func (s *Scheduler) Trigger(entityRef string) (queued bool, err error) {
	s.mu.Lock()
	r, ok := s.runners[entityRef]
	s.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotRunning, entityRef)
	}
	select {
	case r.trigger <- struct{}{}:
		return true, nil
	default:
		return false, nil
	}
}

// Running reports whether the entity has a runner.
func (s *Scheduler) Running(entityRef string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runners[entityRef]
	return ok
}

// Len returns the number of active runners.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runners)
}

// StartAll starts a runner for every eligible entity. Ineligible entities are
// skipped.
func (s *Scheduler) StartAll(ctx context.Context) error {
	entities, err := s.entities.ListEntities(ctx)
	if err != nil {
		return fmt.Errorf("failed to list entities: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(startAllConcurrency)
	for _, e := range entities {
		ref := e.Ref
		g.Go(func() error {
			if err := s.Start(gctx, ref); err != nil && !errors.Is(err, ErrNotEligible) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// StopAll stops every runner and waits for all of them.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	runners := make([]*runner, 0, len(s.runners))
	for ref, r := range s.runners {
		runners = append(runners, r)
		delete(s.runners, ref)
	}
	s.mu.Unlock()

	for _, r := range runners {
		r.cancel()
	}
	for _, r := range runners {
		<-r.done
	}
}

func (s *Scheduler) run(ctx context.Context, r *runner) {
	defer close(r.done)
	defer metrics.ActiveRunners.Dec()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runPass(ctx, r.ref, false)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			enabled, err := s.policy.Enabled(ctx, r.ref)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("policy check failed", zap.String("entity", r.ref), zap.Error(err))
			} else if !enabled {
				s.detach(r)
				s.logger.Info("monitoring disabled, runner exiting", zap.String("entity", r.ref))
				return
			}
			s.runPass(ctx, r.ref, false)
		case <-r.trigger:
			s.runPass(ctx, r.ref, true)
		}
	}
}

func (s *Scheduler) runPass(ctx context.Context, entityRef string, manual bool) {
	if ctx.Err() != nil {
		return
	}
	if err := s.pass(ctx, entityRef, manual); err != nil {
		// next tick retries
		s.logger.Warn("evaluation pass failed",
			zap.String("entity", entityRef),
			zap.Bool("manual", manual),
			zap.Error(err),
		)
	}
}

// detach removes r from the runner map if it is still the registered runner.
func (s *Scheduler) detach(r *runner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runners[r.ref] == r {
		delete(s.runners, r.ref)
	}
}
