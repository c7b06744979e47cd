package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/railgo/internal/domain"
)

// AvailabilityCache memoizes computed journey availability. Entries are
// dropped on every seat-map change and expire on their own as a backstop.
type AvailabilityCache struct {
	cache *Cache
	ttl   time.Duration
}

func NewAvailabilityCache(cache *Cache, ttl time.Duration) *AvailabilityCache {
	return &AvailabilityCache{cache: cache, ttl: ttl}
}

func (a *AvailabilityCache) GetOrSet(
	ctx context.Context,
	journeyID uuid.UUID,
	loader func(ctx context.Context) (domain.Availability, error),
) (domain.Availability, error) {
	return GetOrSetJSON(ctx, a.cache, KeyJourneyAvailability(journeyID), a.ttl, loader)
}
