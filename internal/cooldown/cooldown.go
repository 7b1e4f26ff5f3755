// Package cooldown enforces the minimum inter-fire interval per rule. The
// check and the timestamp update are one atomic step, so concurrent
// evaluations of the same rule admit exactly one fire per window.
package cooldown

import (
	"context"
	"sync"
	"time"
)

// Suppressor admits or suppresses a rule fire. TryFire returns true iff the
// rule has never fired or its cooldown has elapsed; on admit it records the
// fire time in the same atomic step (check-and-set). A plain read-then-write
// implementation is a race and must not be substituted here.
type Suppressor interface {
	TryFire(ctx context.Context, ruleID string, cooldown time.Duration, now time.Time) (bool, error)
}

// MemorySuppressor keeps last-fire timestamps in process memory. Suitable
// for a single-node deployment and for tests; multi-node deployments use
// the Postgres implementation so the guard spans processes.
type MemorySuppressor struct {
	mu        sync.Mutex
	lastFired map[string]time.Time
}

func NewMemorySuppressor() *MemorySuppressor {
	return &MemorySuppressor{lastFired: make(map[string]time.Time)}
}

func (s *MemorySuppressor) TryFire(_ context.Context, ruleID string, cooldown time.Duration, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.lastFired[ruleID]
	if ok && now.Sub(last) < cooldown {
		return false, nil
	}
	s.lastFired[ruleID] = now
	return true, nil
}

// Seed records a prior fire time without admitting a new one. Used when the
// rule store carries last_triggered_at from a previous process lifetime.
func (s *MemorySuppressor) Seed(ruleID string, last time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFired[ruleID] = last
}
