package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

const sweepBatchSize = 100

// ExpireStale transitions every session whose deadline has passed to
// expired. Each session is expired under its own lock so an in-flight
// mutation that slides the deadline forward wins the race.
func (o *Orchestrator) ExpireStale(ctx context.Context) (int, error) {
	now := o.clock()
	ids, err := o.store.StaleIDs(ctx, now, sweepBatchSize)
	if err != nil {
		return 0, errors.Wrap(err, "list stale sessions")
	}

	var expired int
	for _, id := range ids {
		ok, err := o.expireOne(ctx, id, now)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (o *Orchestrator) expireOne(ctx context.Context, id string, now time.Time) (bool, error) {
	release := o.locks.acquire(id)
	defer release()

	s, err := o.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, errors.Wrap(err, "load session")
	}
	// Re-check under the lock: a concurrent mutation may have pushed the
	// deadline forward or finished the session.
	if !s.Status.mutable() || s.ExpiresAt.IsZero() || s.ExpiresAt.After(now) {
		return false, nil
	}

	prev := s.Version
	s.Status = StatusExpired
	s.UpdatedAt = now
	s.Version++
	if err := o.store.Save(ctx, s, prev); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return false, nil
		}
		return false, errors.Wrap(err, "persist expired session")
	}
	return true, nil
}

// RunExpiry sweeps stale sessions on the given interval until ctx is done.
func (o *Orchestrator) RunExpiry(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := o.ExpireStale(ctx)
			if err != nil {
				zctx.From(ctx).Error("expiry sweep", zap.Error(err))
				continue
			}
			if n > 0 {
				zctx.From(ctx).Info("expired stale sessions", zap.Int("count", n))
			}
		}
	}
}
