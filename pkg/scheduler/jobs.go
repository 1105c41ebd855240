package scheduler

import (
	"context"
	"time"

	"github.com/fadedpez/pointledger/internal/logging"
)

// Task names
const (
	TaskMembershipExpiry = "membership_expiry"
	TaskCachePurge       = "idempotency_purge"
)

// MembershipExpirer marks memberships past their expiry as expired
type MembershipExpirer interface {
	ExpireMemberships(ctx context.Context, now time.Time) (int, error)
}

// Purger drops stale cache entries
type Purger interface {
	Purge(ctx context.Context) (int, error)
}

// ExpiryJob returns the membership sweep task
func ExpiryJob(e MembershipExpirer, now func() time.Time) func(context.Context) error {
	log := logging.Default.WithField("task", TaskMembershipExpiry)
	return func(ctx context.Context) error {
		n, err := e.ExpireMemberships(ctx, now())
		if err != nil {
			return err
		}
		if n > 0 {
			log.Info("Expired %d memberships", n)
		}
		return nil
	}
}

// PurgeJob returns the cache purge task
func PurgeJob(p Purger) func(context.Context) error {
	log := logging.Default.WithField("task", TaskCachePurge)
	return func(ctx context.Context) error {
		n, err := p.Purge(ctx)
		if err != nil {
			return err
		}
		log.Debug("Purged %d cached entries", n)
		return nil
	}
}
