package redis

import "fmt"

const ns = "tixbook:v1"

func KeyEventSummary(eventID int64) string {
	return fmt.Sprintf("%s:event:%d:summary", ns, eventID)
}

func KeyEventAvailability(eventID int64) string {
	return fmt.Sprintf("%s:event:%d:availability", ns, eventID)
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func KeyIdemBooking(purchaserID, idemKey string) string {
	return fmt.Sprintf("%s:idem:bookings:%s:%s", ns, purchaserID, idemKey)
}

func ChannelEventsChanged() string {
	return ns + ":events:changed"
}
