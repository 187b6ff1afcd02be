package httpgin

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kirinyoku/tixbook/internal/domain"
	redisrepo "github.com/kirinyoku/tixbook/internal/repository/redis"
	"github.com/kirinyoku/tixbook/internal/service"
	"github.com/kirinyoku/tixbook/internal/service/admin"
	"github.com/kirinyoku/tixbook/internal/service/booking"
	"github.com/kirinyoku/tixbook/internal/service/query"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const idempotencyLockTTL = 60 * time.Second

// NewRouter builds the HTTP surface. Extra middlewares (CORS in production)
// run after request id and access logging, before any route.
func NewRouter(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	auth *Authenticator,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), RequestIDMiddleware(), LoggingMiddleware(logger))
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Public API
	r.GET("/events/:id", handleGetEvent(svcs))
	r.GET("/events/:id/availability", handleGetAvailability(svcs))

	bookings := r.Group("/bookings", auth.Middleware())
	{
		bookings.POST("", handleCreateBooking(svcs, idem))
		bookings.GET("/my-bookings", handleMyBookings(svcs))
		bookings.GET("/:id", handleGetBooking(svcs))
		bookings.POST("/:id/resend", handleResendTicket(svcs))
	}

	// Admin-API
	adminGroup := r.Group("/admin", auth.Middleware(), RequireAdmin())
	{
		adminGroup.POST("/events", handleCreateEvent(svcs))
	}

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  Get event
// @Param    id  path  int  true  "Event ID"
// @Success  200  {object}  EventView
// @Failure  404  {object}  ErrorResponse
// @Router   /events/{id} [get]
func handleGetEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		e, err := svcs.Query.GetEvent(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeCachedJSON(c, http.StatusOK, newEventView(e), eventCachePolicy)
	}
}

// @Summary  Get remaining tickets per pool
// @Param    id  path  int  true  "Event ID"
// @Success  200  {object}  AvailabilityView
// @Failure  404  {object}  ErrorResponse
// @Router   /events/{id}/availability [get]
func handleGetAvailability(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		a, err := svcs.Query.Availability(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeCachedJSON(c, http.StatusOK, newAvailabilityView(a), availabilityCachePolicy)
	}
}

// @Summary  Book tickets (idempotent with Idempotency-Key)
// @Security BearerAuth
// @Param    req body  CreateBookingRequest true "payload"
// @Header   201 {string} Idempotency-Key "echo"
// @Success  201 {object} CreateBookingResponse
// @Failure  400 {object} ErrorResponse "missing fields / sold out"
// @Failure  404 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "already booked / idem in progress"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Router   /bookings [post]
func handleCreateBooking(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateBookingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			if errors.Is(err, io.EOF) {
				badRequest(c, "Missing required fields")
				return
			}
			badRequest(c, "Invalid request body")
			return
		}
		if !req.EventID.Set || strings.TrimSpace(req.TicketType) == "" || !req.Quantity.Set {
			badRequest(c, "Missing required fields")
			return
		}
		if !req.EventID.Valid {
			badRequest(c, "Invalid event id")
			return
		}

		p := principal(c)

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemBooking(p.PurchaserID, idemKey)

			if replayIdempotent(c, idem, idemStorageKey, idemKey) {
				return
			}

			locked, err := idem.AcquireLock(
				c.Request.Context(),
				idemStorageKey,
				idempotencyLockTTL,
			)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if replayIdempotent(c, idem, idemStorageKey, idemKey) {
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(
					http.StatusConflict,
					ErrorResponse{Error: "idempotency key in progress"},
				)
				return
			}
		}

		res, err := svcs.Booking.CreateBooking(c.Request.Context(), booking.CreateInput{
			EventID:     req.EventID.ID,
			PurchaserID: p.PurchaserID,
			TicketClass: req.TicketType,
			Quantity:    req.Quantity.Value,
			Contact: domain.Contact{
				Name:        req.Name,
				Email:       req.Email,
				PhoneNumber: req.PhoneNumber,
			},
		})
		if err != nil {
			if idemStorageKey != "" {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}
			respondErr(c, err)
			return
		}

		resp := CreateBookingResponse{
			Message: "Booking successful",
			Booking: newBookingView(res.Booking, nil),
			Event:   newEventView(res.Event),
		}

		if idemStorageKey != "" {
			b, _ := json.Marshal(resp)
			_ = idem.SaveResult(c.Request.Context(), idemStorageKey, string(b))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, resp)
	}
}

func replayIdempotent(c *gin.Context, idem *redisrepo.IdempotencyStore, key, idemKey string) bool {
	payload, ok, _ := idem.GetResult(c.Request.Context(), key)
	if !ok {
		return false
	}
	c.Header("Idempotency-Key", idemKey)
	c.Data(
		http.StatusCreated,
		"application/json; charset=utf-8",
		[]byte(payload),
	)
	return true
}

// @Summary  List the caller's bookings with their events
// @Security BearerAuth
// @Success  200 {array} BookingView
// @Router   /bookings/my-bookings [get]
func handleMyBookings(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := svcs.Booking.ListByPurchaser(c.Request.Context(), principal(c).PurchaserID)
		if err != nil {
			respondErr(c, err)
			return
		}

		out := make([]BookingView, 0, len(list))
		for i := range list {
			out = append(out, newBookingView(&list[i].Booking, list[i].Event))
		}

		c.JSON(http.StatusOK, out)
	}
}

// @Summary  Get one of the caller's bookings
// @Security BearerAuth
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Success  200 {object} BookingView
// @Failure  403 {object} ErrorResponse
// @Failure  404 {object} ErrorResponse
// @Router   /bookings/{id} [get]
func handleGetBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		bw, err := svcs.Booking.Get(c.Request.Context(), principal(c).PurchaserID, id)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, newBookingView(&bw.Booking, bw.Event))
	}
}

// @Summary  Resend the ticket email
// @Security BearerAuth
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Success  200 {object} ResendResponse
// @Failure  403 {object} ErrorResponse
// @Failure  404 {object} ErrorResponse
// @Failure  500 {object} ErrorResponse
// @Router   /bookings/{id}/resend [post]
func handleResendTicket(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		if err := svcs.Booking.Resend(c.Request.Context(), principal(c).PurchaserID, id); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, ResendResponse{OK: true, Message: "Ticket email resent."})
	}
}

// @Summary  Create event with its ticket pools
// @Security BearerAuth
// @Param    req body  CreateEventRequest true "payload"
// @Success  201 {object} EventView
// @Failure  400 {object} ErrorResponse
// @Failure  403 {object} ErrorResponse
// @Router   /admin/events [post]
func handleCreateEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		starts, err := parseStartsAt(req.StartsAt)
		if err != nil {
			badRequest(c, "invalid startsAt (RFC3339)")
			return
		}
		e, err := svcs.Admin.CreateEvent(c.Request.Context(), admin.CreateEventInput{
			Title:           req.Title,
			Venue:           req.Venue,
			StartsAt:        starts,
			PremiumTickets:  req.PremiumTickets,
			StandardTickets: req.StandardTickets,
			PremiumPrice:    req.PremiumPrice,
			StandardPrice:   req.StandardPrice,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, newEventView(e))
	}
}

// --- Helpers ---

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	s := c.Param(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	v, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return v, true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	var rl booking.RateLimitedError

	switch {
	// booking service
	case errors.As(err, &rl):
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(rl.RetryAfter)))
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "Too many booking attempts"})
		return
	case errors.Is(err, booking.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid input"})
		return
	case errors.Is(err, booking.ErrInsufficientInventory):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Sold out or insufficient tickets"})
		return
	case errors.Is(err, booking.ErrAlreadyBooked):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "You already booked this event"})
		return
	case errors.Is(err, booking.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Event not found"})
		return
	case errors.Is(err, booking.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Booking not found"})
		return
	case errors.Is(err, booking.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "Forbidden"})
		return
	case errors.Is(err, booking.ErrDeliveryFailed):
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to resend ticket"})
		return
	// query service
	case errors.Is(err, query.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Event not found"})
		return
	// admin service
	case errors.Is(err, admin.ErrInvalidEvent):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid event"})
		return
	case errors.Is(err, admin.ErrEventConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "event conflict"})
		return
	}

	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Server error"})
}

func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
