package scheduler

import (
	"context"
	"errors"

	"github.com/auditpulse/pulse-monitor/internal/repository"
)

// Policy decides whether an entity should be monitored right now.
type Policy interface {
	Enabled(ctx context.Context, entityRef string) (bool, error)
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(ctx context.Context, entityRef string) (bool, error)

func (f PolicyFunc) Enabled(ctx context.Context, entityRef string) (bool, error) {
	return f(ctx, entityRef)
}

// TierPolicy enables entities whose monitoring flag is set and whose
// subscription tier is listed. An empty tier list allows every tier.
type TierPolicy struct {
	Entities repository.EntityStore
	Tiers    []string
}

func (p TierPolicy) Enabled(ctx context.Context, entityRef string) (bool, error) {
	e, err := p.Entities.GetEntity(ctx, entityRef)
	if errors.Is(err, repository.ErrEntityNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !e.MonitoringEnabled {
		return false, nil
	}
	if len(p.Tiers) == 0 {
		return true, nil
	}
	for _, t := range p.Tiers {
		if t == e.Tier {
			return true, nil
		}
	}
	return false, nil
}
