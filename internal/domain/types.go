package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TicketClass names one of the two inventory pools of an event.
type TicketClass string

const (
	TicketPremium  TicketClass = "premium"
	TicketStandard TicketClass = "standard"
)

// ParseTicketClass maps a client token onto a pool. Anything other than the
// premium token is booked as standard; this is policy, not a fallback for
// bad input.
func ParseTicketClass(s string) TicketClass {
	if s == string(TicketPremium) {
		return TicketPremium
	}
	return TicketStandard
}

// NormalizeQuantity returns max(1, n).
func NormalizeQuantity(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

type Event struct {
	ID                int64
	Title             string
	Venue             string
	StartsAt          time.Time
	PremiumRemaining  int
	StandardRemaining int
	PremiumPrice      int64
	StandardPrice     int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Remaining returns the count left in the given pool.
func (e *Event) Remaining(class TicketClass) int {
	if class == TicketPremium {
		return e.PremiumRemaining
	}
	return e.StandardRemaining
}

// Price returns the current unit price of the given pool.
func (e *Event) Price(class TicketClass) int64 {
	if class == TicketPremium {
		return e.PremiumPrice
	}
	return e.StandardPrice
}

type Contact struct {
	Name        string
	Email       string
	PhoneNumber string
}

type Booking struct {
	ID          uuid.UUID
	EventID     int64
	PurchaserID string
	Contact     Contact
	TicketClass TicketClass
	Quantity    int
	UnitPrice   int64
	Amount      int64
	CreatedAt   time.Time
}

// TicketID is the human readable ticket reference printed on the artifact.
func (b *Booking) TicketID() string {
	hex := b.ID.String()
	return "TKT-" + strings.ToUpper(hex[len(hex)-8:])
}

type BookingWithEvent struct {
	Booking Booking
	Event   *Event
}

type EventAvailability struct {
	EventID           int64
	PremiumRemaining  int
	StandardRemaining int
}
