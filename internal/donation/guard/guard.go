// Package guard provides the non-blocking coordination primitives around the
// donation engine: a per-campaign allocation lock and a failed-redemption
// attempt limiter. Neither waits; callers get an answer immediately.
package guard

import (
	"context"
	"time"

	id "caredrop/pkg/domain"
)

const keyPrefix = "caredrop:"

// Release gives up a held lock. Releasing a lock that already expired or was
// taken over by another holder is a no-op.
type Release func(ctx context.Context) error

// Locker grants short-lived exclusive locks without blocking.
type Locker interface {
	// TryLock returns ok=false when another holder owns key.
	TryLock(ctx context.Context, key string, ttl time.Duration) (release Release, ok bool, err error)
}

// AttemptLimiter counts failures per key within a fixed window.
type AttemptLimiter interface {
	// Allowed reports whether key is still below its failure limit.
	Allowed(ctx context.Context, key string) (bool, error)
	// RecordFailure counts a failure and returns the count in the current window.
	RecordFailure(ctx context.Context, key string) (int, error)
}

// AllocationKey names the lock serializing allocation runs for a campaign.
func AllocationKey(campaignID id.CampaignID) string {
	return keyPrefix + "alloc:" + campaignID.String()
}

// RedeemerKey names the failure counter of a redeeming business.
func RedeemerKey(businessID id.BusinessID) string {
	return keyPrefix + "redeem:" + businessID.String()
}
