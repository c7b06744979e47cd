package redis

import (
	"fmt"

	"github.com/google/uuid"
)

const ns = "railgo:v1"

func KeySeatLock(journeyID, seatID uuid.UUID) string {
	return fmt.Sprintf("%s:seat:lock:%s:%s", ns, journeyID, seatID)
}

func KeyJourneyAvailability(journeyID uuid.UUID) string {
	return fmt.Sprintf("%s:journey:%s:availability", ns, journeyID)
}

func KeyIdemBooking(userID uuid.UUID, idemKey string) string {
	return fmt.Sprintf("%s:idem:bookings:%s:%s", ns, userID, idemKey)
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func ChannelJourneysChanged() string {
	return ns + ":journeys:changed"
}
