package httpgin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Quantity is lenient the way browser clients send it: a JSON number or a
// numeric string, truncated toward zero. A non-numeric string counts as 1;
// null, "" and 0 count as missing.
type Quantity struct {
	Value int
	Set   bool
}

func (q *Quantity) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)

	switch {
	case bytes.Equal(b, []byte("null")):
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		q.Set = true
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			q.Value = 1
			return nil
		}
		q.Value = clampInt(f)
		return nil
	default:
		f, err := strconv.ParseFloat(string(b), 64)
		if err != nil {
			return fmt.Errorf("quantity: %w", err)
		}
		if f == 0 {
			return nil
		}
		q.Set = true
		q.Value = clampInt(f)
		return nil
	}
}

func clampInt(f float64) int {
	f = math.Trunc(f)
	switch {
	case f > math.MaxInt32:
		return math.MaxInt32
	case f < math.MinInt32:
		return math.MinInt32
	}
	return int(f)
}

// EventRef is an event id sent as a JSON number or a numeric string.
type EventRef struct {
	ID    int64
	Set   bool
	Valid bool
}

func (r *EventRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}

	s := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
	}

	r.Set = true
	id, err := strconv.ParseInt(s, 10, 64)
	if err == nil && id > 0 {
		r.ID, r.Valid = id, true
	}
	return nil
}

type CreateBookingRequest struct {
	EventID     EventRef `json:"eventId" swaggertype:"integer"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	PhoneNumber string   `json:"phoneNumber"`
	TicketType  string   `json:"ticketType"`
	Quantity    Quantity `json:"quantity" swaggertype:"integer"`
}

type CreateBookingResponse struct {
	Message string      `json:"message"`
	Booking BookingView `json:"booking"`
	Event   *EventView  `json:"event"`
}

type ResendResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type CreateEventRequest struct {
	Title           string `json:"title" binding:"required"`
	Venue           string `json:"venue"`
	StartsAt        string `json:"startsAt"`
	PremiumTickets  int    `json:"premiumTickets" binding:"gte=0"`
	StandardTickets int    `json:"standardTickets" binding:"gte=0"`
	PremiumPrice    int64  `json:"premiumPrice" binding:"gte=0"`
	StandardPrice   int64  `json:"standardPrice" binding:"gte=0"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// parseStartsAt accepts RFC 3339 or an empty value for unscheduled events.
func parseStartsAt(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
