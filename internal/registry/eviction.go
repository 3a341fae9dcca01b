package registry

import (
	"context"
	"sort"
	"time"

	"github.com/conneroisu/wasmscope/internal/logging"
	"github.com/conneroisu/wasmscope/internal/types"
)

// EvictionPolicy bounds how long and how many stale records are retained.
type EvictionPolicy struct {
	// GracePeriod is how long a stale record is kept after its file vanished.
	GracePeriod time.Duration
	// MaxStale caps the number of stale records; zero means no cap.
	MaxStale int
}

func evictable(rec *types.ComponentRecord) bool {
	return rec.State == types.StateStale && !rec.FileExists
}

func removedAt(rec *types.ComponentRecord) time.Time {
	if rec.RemovedAt != nil {
		return *rec.RemovedAt
	}
	return rec.LastSeen
}

// Evict purges stale records older than the grace period, then the oldest
// stale records beyond MaxStale. Records whose file exists are never
// purged. It returns the purged names in order.
func (r *ComponentRegistry) Evict(now time.Time, policy EvictionPolicy) []string {
	var stale []*types.ComponentRecord
	for _, rec := range r.List() {
		if evictable(rec) {
			stale = append(stale, rec)
		}
	}
	sort.SliceStable(stale, func(i, j int) bool {
		return removedAt(stale[i]).Before(removedAt(stale[j]))
	})

	var purged []string
	// Purge only if the record is still the same stale version.
	try := func(rec *types.ComponentRecord) bool {
		version := rec.Version
		ok := r.purge(rec.Name, func(cur *types.ComponentRecord) bool {
			return evictable(cur) && cur.Version == version
		})
		if ok {
			purged = append(purged, rec.Name)
		}
		return ok
	}

	remaining := make([]*types.ComponentRecord, 0, len(stale))
	for _, rec := range stale {
		if policy.GracePeriod > 0 && !now.Before(removedAt(rec).Add(policy.GracePeriod)) && try(rec) {
			continue
		}
		remaining = append(remaining, rec)
	}

	if policy.MaxStale > 0 {
		for i := 0; len(remaining)-i > policy.MaxStale; i++ {
			try(remaining[i])
		}
	}
	return purged
}

// Sweeper runs eviction periodically.
type Sweeper struct {
	registry *ComponentRegistry
	policy   EvictionPolicy
	interval time.Duration
	logger   logging.Logger
	now      func() time.Time
	onPurge  func(names []string)
}

// NewSweeper creates a sweeper. onPurge, if non-nil, receives every
// non-empty batch of purged names.
func NewSweeper(reg *ComponentRegistry, policy EvictionPolicy, interval time.Duration, logger logging.Logger, onPurge func([]string)) *Sweeper {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Sweeper{
		registry: reg,
		policy:   policy,
		interval: interval,
		logger:   logger.WithComponent("sweeper"),
		now:      time.Now,
		onPurge:  onPurge,
	}
}

// Sweep runs a single eviction pass.
func (s *Sweeper) Sweep(ctx context.Context) []string {
	purged := s.registry.Evict(s.now(), s.policy)
	if len(purged) > 0 {
		s.logger.Info(ctx, "Purged stale components", "count", len(purged), "names", purged)
		if s.onPurge != nil {
			s.onPurge(purged)
		}
	}
	return purged
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}
