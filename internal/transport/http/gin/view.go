package httpgin

import (
	"time"

	"github.com/kirinyoku/tixbook/internal/domain"
)

// EventView is the client shape of an event. Pools and prices appear under
// their canonical names and under the older aliases; both sets are filled
// from the same fields here and nowhere else.
type EventView struct {
	ID       int64      `json:"id"`
	Title    string     `json:"title"`
	Venue    string     `json:"venue"`
	StartsAt *time.Time `json:"startsAt,omitempty"`

	PremiumRemaining  int   `json:"premiumRemaining"`
	StandardRemaining int   `json:"standardRemaining"`
	PremiumPrice      int64 `json:"premiumPrice"`
	StandardPrice     int64 `json:"standardPrice"`

	// aliases
	PremiumTickets      int   `json:"premiumTickets"`
	StandardTickets     int   `json:"standardTickets"`
	PremiumTicketPrice  int64 `json:"premiumTicketPrice"`
	StandardTicketPrice int64 `json:"standardTicketPrice"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func newEventView(e *domain.Event) *EventView {
	if e == nil {
		return nil
	}

	v := &EventView{
		ID:                  e.ID,
		Title:               e.Title,
		Venue:               e.Venue,
		PremiumRemaining:    e.PremiumRemaining,
		StandardRemaining:   e.StandardRemaining,
		PremiumPrice:        e.PremiumPrice,
		StandardPrice:       e.StandardPrice,
		PremiumTickets:      e.PremiumRemaining,
		StandardTickets:     e.StandardRemaining,
		PremiumTicketPrice:  e.PremiumPrice,
		StandardTicketPrice: e.StandardPrice,
		CreatedAt:           e.CreatedAt,
		UpdatedAt:           e.UpdatedAt,
	}
	if !e.StartsAt.IsZero() {
		t := e.StartsAt
		v.StartsAt = &t
	}

	return v
}

type AvailabilityView struct {
	EventID           int64 `json:"eventId"`
	PremiumRemaining  int   `json:"premiumRemaining"`
	StandardRemaining int   `json:"standardRemaining"`
	PremiumTickets    int   `json:"premiumTickets"`
	StandardTickets   int   `json:"standardTickets"`
}

func newAvailabilityView(a *domain.EventAvailability) AvailabilityView {
	return AvailabilityView{
		EventID:           a.EventID,
		PremiumRemaining:  a.PremiumRemaining,
		StandardRemaining: a.StandardRemaining,
		PremiumTickets:    a.PremiumRemaining,
		StandardTickets:   a.StandardRemaining,
	}
}

type BookingView struct {
	ID          string     `json:"id"`
	TicketID    string     `json:"ticketId"`
	EventID     int64      `json:"eventId"`
	PurchaserID string     `json:"purchaserId"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	PhoneNumber string     `json:"phoneNumber"`
	TicketType  string     `json:"ticketType"`
	Quantity    int        `json:"quantity"`
	UnitPrice   int64      `json:"unitPrice"`
	Amount      int64      `json:"amount"`
	CreatedAt   time.Time  `json:"createdAt"`
	Event       *EventView `json:"event,omitempty"`
}

func newBookingView(b *domain.Booking, e *domain.Event) BookingView {
	return BookingView{
		ID:          b.ID.String(),
		TicketID:    b.TicketID(),
		EventID:     b.EventID,
		PurchaserID: b.PurchaserID,
		Name:        b.Contact.Name,
		Email:       b.Contact.Email,
		PhoneNumber: b.Contact.PhoneNumber,
		TicketType:  string(b.TicketClass),
		Quantity:    b.Quantity,
		UnitPrice:   b.UnitPrice,
		Amount:      b.Amount,
		CreatedAt:   b.CreatedAt,
		Event:       newEventView(e),
	}
}
