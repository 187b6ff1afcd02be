package booking

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrEventNotFound         = errors.New("event not found")
	ErrBookingNotFound       = errors.New("booking not found")
	ErrAlreadyBooked         = errors.New("already booked this event")
	ErrInsufficientInventory = errors.New("sold out or insufficient tickets")
	ErrForbidden             = errors.New("booking belongs to another purchaser")
	ErrDeliveryFailed        = errors.New("ticket delivery failed")
	// ErrInventoryInconsistent means a fallback booking failed after its
	// decrement and the quantity could not be put back.
	ErrInventoryInconsistent = errors.New("inventory inconsistent")
)

type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.RetryAfter)
}
