package redis

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// ChangeFeed couples local cache invalidation with the cross-instance
// journey-changed broadcast. Failures are logged, not returned: a stale
// availability cache self-corrects at TTL and must never fail a booking.
type ChangeFeed struct {
	cache  *Cache
	pubsub *JourneysPubSub
	logger *slog.Logger
}

func NewChangeFeed(cache *Cache, pubsub *JourneysPubSub, logger *slog.Logger) *ChangeFeed {
	return &ChangeFeed{cache: cache, pubsub: pubsub, logger: logger}
}

func (f *ChangeFeed) JourneyChanged(ctx context.Context, journeyID uuid.UUID) {
	if err := f.cache.InvalidateJourney(ctx, journeyID); err != nil {
		f.logger.Warn("availability cache invalidation failed",
			"journey_id", journeyID, "error", err)
	}

	if err := f.pubsub.PublishJourneyChanged(ctx, journeyID); err != nil {
		f.logger.Warn("journey change publish failed",
			"journey_id", journeyID, "error", err)
	}
}
