package httpgin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/kirinyoku/tixbook/internal/domain"
	"github.com/kirinyoku/tixbook/internal/fulfillment"
	"github.com/kirinyoku/tixbook/internal/repository"
	"github.com/kirinyoku/tixbook/internal/service"
	"github.com/kirinyoku/tixbook/internal/service/admin"
	"github.com/kirinyoku/tixbook/internal/service/booking"
	"github.com/kirinyoku/tixbook/internal/service/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

// fakeStore backs both the booking and query services. The router tests run
// booking in fallback mode, so Atomic is never reached.
type fakeStore struct {
	mu       sync.Mutex
	events   map[int64]*domain.Event
	bookings map[uuid.UUID]*domain.Booking
}

func newFakeStore(events ...domain.Event) *fakeStore {
	s := &fakeStore{
		events:   make(map[int64]*domain.Event),
		bookings: make(map[uuid.UUID]*domain.Booking),
	}
	for i := range events {
		e := events[i]
		s.events[e.ID] = &e
	}
	return s
}

func (s *fakeStore) Inventory() booking.Inventory { return s }
func (s *fakeStore) Ledger() booking.Ledger       { return fakeLedger{s} }

func (s *fakeStore) Atomic(context.Context, func(context.Context, booking.Inventory, booking.Ledger) error) error {
	return errors.New("transactions disabled")
}

func (s *fakeStore) Get(_ context.Context, id int64) (*domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *fakeStore) Availability(ctx context.Context, id int64) (*domain.EventAvailability, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &domain.EventAvailability{
		EventID:           e.ID,
		PremiumRemaining:  e.PremiumRemaining,
		StandardRemaining: e.StandardRemaining,
	}, nil
}

func (s *fakeStore) ConditionalDecrement(_ context.Context, id int64, class domain.TicketClass, n int) (*domain.Event, error) {
	return s.adjust(id, class, -n)
}

func (s *fakeStore) ConditionalIncrement(_ context.Context, id int64, class domain.TicketClass, n int) (*domain.Event, error) {
	return s.adjust(id, class, n)
}

func (s *fakeStore) adjust(id int64, class domain.TicketClass, delta int) (*domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[id]
	if !ok || e.Remaining(class)+delta < 0 {
		return nil, repository.ErrNoMatch
	}
	if class == domain.TicketPremium {
		e.PremiumRemaining += delta
	} else {
		e.StandardRemaining += delta
	}
	cp := *e
	return &cp, nil
}

type fakeLedger struct{ s *fakeStore }

func (l fakeLedger) FindByID(_ context.Context, id uuid.UUID) (*domain.Booking, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	b, ok := l.s.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (l fakeLedger) FindByEventAndPurchaser(_ context.Context, eventID int64, purchaserID string) (*domain.Booking, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	for _, b := range l.s.bookings {
		if b.EventID == eventID && b.PurchaserID == purchaserID {
			cp := *b
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (l fakeLedger) Insert(_ context.Context, b *domain.Booking) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	for _, x := range l.s.bookings {
		if x.EventID == b.EventID && x.PurchaserID == b.PurchaserID {
			return repository.ErrConflict
		}
	}
	cp := *b
	cp.CreatedAt = time.Now()
	l.s.bookings[b.ID] = &cp
	return nil
}

func (l fakeLedger) ListByPurchaser(_ context.Context, purchaserID string) ([]domain.BookingWithEvent, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	var out []domain.BookingWithEvent
	for _, b := range l.s.bookings {
		if b.PurchaserID == purchaserID {
			e := *l.s.events[b.EventID]
			out = append(out, domain.BookingWithEvent{Booking: *b, Event: &e})
		}
	}
	return out, nil
}

type countingSink struct {
	mu      sync.Mutex
	tickets []fulfillment.Ticket
	err     error
}

func (s *countingSink) Name() string { return "counting" }

func (s *countingSink) Deliver(_ context.Context, t fulfillment.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.tickets = append(s.tickets, t)
	return nil
}

type testServer struct {
	router *gin.Engine
	store  *fakeStore
	sink   *countingSink
}

func newTestServer(t *testing.T, events ...domain.Event) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newFakeStore(events...)
	sink := &countingSink{}
	dispatcher := fulfillment.NewDispatcher(logger, fulfillment.Config{}, sink)

	svcs := &service.Services{
		Booking: booking.New(store, nil, nil, nil, dispatcher, logger, booking.Config{TxMode: booking.TxModeFallback}),
		Query:   query.New(store, nil, query.Config{}),
		Admin:   admin.New(nil, nil, nil, logger),
	}

	return &testServer{
		router: NewRouter(svcs, nil, NewAuthenticator(testSecret, ""), logger),
		store:  store,
		sink:   sink,
	}
}

func token(t *testing.T, sub string, role string) string {
	t.Helper()

	claims := jwt.MapClaims{"sub": sub, "exp": time.Now().Add(time.Hour).Unix()}
	if role != "" {
		claims["role"] = role
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func (ts *testServer) do(t *testing.T, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(v)
	default:
		b, err := json.Marshal(v)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func concert() domain.Event {
	return domain.Event{
		ID:                7,
		Title:             "Winter Concert",
		Venue:             "Army Stadium",
		StartsAt:          time.Date(2026, 12, 5, 19, 30, 0, 0, time.UTC),
		PremiumRemaining:  5,
		StandardRemaining: 100,
		PremiumPrice:      200,
		StandardPrice:     80,
	}
}

func bookingBody(eventID any, ticketType string, quantity any) map[string]any {
	return map[string]any{
		"eventId":     eventID,
		"name":        "Rahim",
		"email":       "rahim@example.com",
		"phoneNumber": "01700000000",
		"ticketType":  ticketType,
		"quantity":    quantity,
	}
}

func TestBookings_RequireToken(t *testing.T) {
	ts := newTestServer(t, concert())

	w := ts.do(t, http.MethodPost, "/bookings", "", bookingBody(7, "premium", 1))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "No token provided", errorOf(t, w))

	w = ts.do(t, http.MethodGet, "/bookings/my-bookings", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid or expired token", errorOf(t, w))
}

func TestCreateBooking_Success(t *testing.T) {
	ts := newTestServer(t, concert())

	w := ts.do(t, http.MethodPost, "/bookings", token(t, "u1", ""), bookingBody("7", "premium", "3"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp CreateBookingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, "Booking successful", resp.Message)
	assert.Equal(t, "premium", resp.Booking.TicketType)
	assert.Equal(t, 3, resp.Booking.Quantity)
	assert.Equal(t, int64(600), resp.Booking.Amount)
	assert.Equal(t, "u1", resp.Booking.PurchaserID)
	assert.Regexp(t, `^TKT-[0-9A-F]{8}$`, resp.Booking.TicketID)

	require.NotNil(t, resp.Event)
	assert.Equal(t, 2, resp.Event.PremiumRemaining)
	assert.Equal(t, 2, resp.Event.PremiumTickets)
	assert.Equal(t, 100, resp.Event.StandardRemaining)

	e, err := ts.store.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 2, e.PremiumRemaining)
}

func TestCreateBooking_Coercion(t *testing.T) {
	ts := newTestServer(t, concert())

	w := ts.do(t, http.MethodPost, "/bookings", token(t, "u1", ""), bookingBody(7, "VIP", "lots"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp CreateBookingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "standard", resp.Booking.TicketType)
	assert.Equal(t, 1, resp.Booking.Quantity)
	assert.Equal(t, int64(80), resp.Booking.Amount)
}

func TestCreateBooking_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    any
		status  int
		message string
	}{
		{name: "empty body", body: nil, status: http.StatusBadRequest, message: "Missing required fields"},
		{name: "malformed json", body: `{"eventId":`, status: http.StatusBadRequest, message: "Invalid request body"},
		{name: "missing event", body: bookingBody(nil, "premium", 1), status: http.StatusBadRequest, message: "Missing required fields"},
		{name: "missing ticket type", body: bookingBody(7, "", 1), status: http.StatusBadRequest, message: "Missing required fields"},
		{name: "zero quantity", body: bookingBody(7, "premium", 0), status: http.StatusBadRequest, message: "Missing required fields"},
		{name: "invalid event id", body: bookingBody("abc", "premium", 1), status: http.StatusBadRequest, message: "Invalid event id"},
		{name: "negative event id", body: bookingBody(-3, "premium", 1), status: http.StatusBadRequest, message: "Invalid event id"},
		{name: "unknown event", body: bookingBody(99, "premium", 1), status: http.StatusNotFound, message: "Event not found"},
		{name: "sold out", body: bookingBody(7, "premium", 6), status: http.StatusBadRequest, message: "Sold out or insufficient tickets"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, concert())

			w := ts.do(t, http.MethodPost, "/bookings", token(t, "u1", ""), tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.message, errorOf(t, w))
		})
	}
}

func TestCreateBooking_Duplicate(t *testing.T) {
	ts := newTestServer(t, concert())
	tok := token(t, "u1", "")

	w := ts.do(t, http.MethodPost, "/bookings", tok, bookingBody(7, "standard", 2))
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(t, http.MethodPost, "/bookings", tok, bookingBody(7, "premium", 1))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "You already booked this event", errorOf(t, w))

	e, err := ts.store.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 5, e.PremiumRemaining)
	assert.Equal(t, 98, e.StandardRemaining)
}

func TestBookingReads(t *testing.T) {
	ts := newTestServer(t, concert())
	owner := token(t, "u1", "")

	w := ts.do(t, http.MethodPost, "/bookings", owner, bookingBody(7, "premium", 1))
	require.Equal(t, http.StatusCreated, w.Code)

	var created CreateBookingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	t.Run("my bookings", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/bookings/my-bookings", owner, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var list []BookingView
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
		require.Len(t, list, 1)
		assert.Equal(t, created.Booking.ID, list[0].ID)
		require.NotNil(t, list[0].Event)
		assert.Equal(t, "Winter Concert", list[0].Event.Title)
	})

	t.Run("empty list for another purchaser", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/bookings/my-bookings", token(t, "u2", ""), nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `[]`, w.Body.String())
	})

	t.Run("get own booking", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/bookings/"+created.Booking.ID, owner, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var view BookingView
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
		assert.Equal(t, created.Booking.TicketID, view.TicketID)
	})

	t.Run("someone else's booking", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/bookings/"+created.Booking.ID, token(t, "u2", ""), nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("unknown booking", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/bookings/"+uuid.NewString(), owner, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "Booking not found", errorOf(t, w))
	})

	t.Run("bad booking id", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/bookings/42", owner, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestResendTicket(t *testing.T) {
	ts := newTestServer(t, concert())
	owner := token(t, "u1", "")

	w := ts.do(t, http.MethodPost, "/bookings", owner, bookingBody(7, "standard", 2))
	require.Equal(t, http.StatusCreated, w.Code)

	var created CreateBookingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = ts.do(t, http.MethodPost, "/bookings/"+created.Booking.ID+"/resend", owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"message":"Ticket email resent."}`, w.Body.String())

	ts.sink.mu.Lock()
	require.Len(t, ts.sink.tickets, 1)
	assert.True(t, ts.sink.tickets[0].Resend)
	ts.sink.mu.Unlock()

	ts.sink.mu.Lock()
	ts.sink.err = fmt.Errorf("smtp: connection refused")
	ts.sink.mu.Unlock()

	w = ts.do(t, http.MethodPost, "/bookings/"+created.Booking.ID+"/resend", owner, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to resend ticket", errorOf(t, w))
}

func TestGetEvent(t *testing.T) {
	ts := newTestServer(t, concert())

	w := ts.do(t, http.MethodGet, "/events/7", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "public, max-age=60", w.Header().Get("Cache-Control"))

	var view EventView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, 5, view.PremiumRemaining)
	assert.Equal(t, 5, view.PremiumTickets)
	assert.Equal(t, int64(200), view.PremiumPrice)
	assert.Equal(t, int64(200), view.PremiumTicketPrice)
	assert.Equal(t, int64(80), view.StandardTicketPrice)

	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/events/7", nil)
	req.Header.Set("If-None-Match", etag)
	w = httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotModified, w.Code)

	w = ts.do(t, http.MethodGet, "/events/404", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodGet, "/events/zero", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetAvailability(t *testing.T) {
	ts := newTestServer(t, concert())

	w := ts.do(t, http.MethodGet, "/events/7/availability", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "public, max-age=15", w.Header().Get("Cache-Control"))
	assert.JSONEq(t,
		`{"eventId":7,"premiumRemaining":5,"standardRemaining":100,"premiumTickets":5,"standardTickets":100}`,
		w.Body.String(),
	)
}

func TestAdminCreateEvent_Guards(t *testing.T) {
	ts := newTestServer(t)

	body := map[string]any{"title": "Fest", "premiumTickets": 10}

	w := ts.do(t, http.MethodPost, "/admin/events", token(t, "u1", ""), body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	adminTok := token(t, "a1", "admin")

	w = ts.do(t, http.MethodPost, "/admin/events", adminTok, map[string]any{"premiumTickets": 10})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/admin/events", adminTok, map[string]any{"title": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid event", errorOf(t, w))

	w = ts.do(t, http.MethodPost, "/admin/events", adminTok, map[string]any{"title": "Fest", "startsAt": "tomorrow"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRespondErr_RateLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	respondErr(c, fmt.Errorf("op:%w", booking.RateLimitedError{RetryAfter: 1500 * time.Millisecond}))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
}

func TestQuantity_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		in    string
		set   bool
		value int
	}{
		{in: `3`, set: true, value: 3},
		{in: `"4"`, set: true, value: 4},
		{in: `2.9`, set: true, value: 2},
		{in: `"abc"`, set: true, value: 1},
		{in: `-2`, set: true, value: -2},
		{in: `0`},
		{in: `""`},
		{in: `null`},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var q Quantity
			require.NoError(t, json.Unmarshal([]byte(tt.in), &q))
			assert.Equal(t, tt.set, q.Set)
			assert.Equal(t, tt.value, q.Value)
		})
	}

	var q Quantity
	assert.Error(t, json.Unmarshal([]byte(`true`), &q))
}

func TestEventRef_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		in    string
		set   bool
		valid bool
		id    int64
	}{
		{in: `12`, set: true, valid: true, id: 12},
		{in: `"12"`, set: true, valid: true, id: 12},
		{in: `"abc"`, set: true},
		{in: `0`, set: true},
		{in: `1.5`, set: true},
		{in: `""`},
		{in: `null`},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var r EventRef
			require.NoError(t, json.Unmarshal([]byte(tt.in), &r))
			assert.Equal(t, tt.set, r.Set)
			assert.Equal(t, tt.valid, r.Valid)
			assert.Equal(t, tt.id, r.ID)
		})
	}
}

func TestResendTicket_NoDeliveryChannel(t *testing.T) {
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newFakeStore(concert())
	b := domain.Booking{ID: uuid.New(), EventID: 7, PurchaserID: "u1", TicketClass: domain.TicketStandard, Quantity: 1}
	require.NoError(t, fakeLedger{store}.Insert(context.Background(), &b))

	svcs := &service.Services{
		Booking: booking.New(store, nil, nil, nil, fulfillment.NewDispatcher(logger, fulfillment.Config{}), logger, booking.Config{TxMode: booking.TxModeFallback}),
		Query:   query.New(store, nil, query.Config{}),
		Admin:   admin.New(nil, nil, nil, logger),
	}
	ts := &testServer{router: NewRouter(svcs, nil, NewAuthenticator(testSecret, ""), logger), store: store}

	w := ts.do(t, http.MethodPost, "/bookings/"+b.ID.String()+"/resend", token(t, "u1", ""), nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to resend ticket", errorOf(t, w))
}
