package console

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/vetcare-booking-core/internal/booking"
	httpmiddleware "github.com/wolfman30/vetcare-booking-core/internal/http/middleware"
	"github.com/wolfman30/vetcare-booking-core/internal/staffing"
	"github.com/wolfman30/vetcare-booking-core/pkg/logging"
)

// Lifecycle is the part of booking.Machine the console drives.
type Lifecycle interface {
	Snapshot(bookingID string) (*booking.Booking, bool)
	Create(ctx context.Context, req booking.CreateRequest) (*booking.Booking, error)
	Load(ctx context.Context, bookingID string) (*booking.Booking, error)
	CheckStaffAvailability(ctx context.Context, bookingID string) (*staffing.Report, error)
	StaffForConfirm(ctx context.Context, bookingID string) (*staffing.Report, error)
	Confirm(ctx context.Context, bookingID string, in booking.ConfirmInput) (*booking.ConfirmResult, error)
	ResolveConfirmation(ctx context.Context, bookingID string, opt booking.ConfirmOption) (*booking.Booking, error)
	CheckIn(ctx context.Context, bookingID string) (*booking.Booking, error)
	Depart(ctx context.Context, bookingID string) (*booking.Booking, error)
	Arrive(ctx context.Context, bookingID string) (*booking.Booking, error)
	AvailableAddOns(ctx context.Context, bookingID string) ([]booking.AddOnService, error)
	AddService(ctx context.Context, bookingID, serviceID string) (*booking.AddServiceResult, error)
	StaffForReassign(ctx context.Context, bookingID, bookingServiceID string) (*staffing.Resolution, error)
	ReassignStaff(ctx context.Context, bookingID, bookingServiceID, staffID string) (*booking.Booking, error)
	Complete(ctx context.Context, bookingID string) (*booking.Booking, error)
	Cancel(ctx context.Context, bookingID, reason string) (*booking.Booking, error)
	MarkNoShow(ctx context.Context, bookingID string) (*booking.Booking, error)
}

var _ Lifecycle = (*booking.Machine)(nil)

// BookingHandler exposes the booking lifecycle to the operator console.
type BookingHandler struct {
	lifecycle Lifecycle
	logger    *logging.Logger
}

func NewBookingHandler(lifecycle Lifecycle, logger *logging.Logger) *BookingHandler {
	if lifecycle == nil {
		panic("console: lifecycle required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingHandler{lifecycle: lifecycle, logger: logger.Component("console")}
}

// Routes mounts under /api/bookings.
func (h *BookingHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Route("/{bookingID}", func(b chi.Router) {
		b.Use(h.scope, h.idempotency)
		b.Get("/", h.Get)
		b.Get("/availability", h.Availability)
		b.Get("/confirm/staff", h.ConfirmStaff)
		b.Post("/confirm", h.Confirm)
		b.Post("/confirm/resolve", h.ResolveConfirmation)
		b.Post("/check-in", h.transition(h.lifecycle.CheckIn))
		b.Post("/depart", h.transition(h.lifecycle.Depart))
		b.Post("/arrive", h.transition(h.lifecycle.Arrive))
		b.Post("/complete", h.transition(h.lifecycle.Complete))
		b.Post("/no-show", h.transition(h.lifecycle.MarkNoShow))
		b.Post("/cancel", h.Cancel)
		b.Get("/add-ons", h.AddOns)
		b.Post("/services", h.AddService)
		b.Get("/services/{bookingServiceID}/staff", h.ReassignStaffOptions)
		b.Put("/services/{bookingServiceID}/staff", h.ReassignStaff)
	})
	return r
}

// scope rejects bookings outside the operator's clinics. Without claims
// (auth not configured) every booking is visible.
func (h *BookingHandler) scope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := httpmiddleware.OperatorClaimsFromContext(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		bookingID := chi.URLParam(r, "bookingID")
		b, cached := h.lifecycle.Snapshot(bookingID)
		if !cached {
			var err error
			if b, err = h.lifecycle.Load(r.Context(), bookingID); err != nil {
				writeError(w, h.logger, err)
				return
			}
		}
		if !claims.CanAccess(b.ClinicID) {
			writeError(w, h.logger, errForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// maxIdempotencyKey bounds the client key; the backend stores it per write.
const maxIdempotencyKey = 128

// idempotency carries the client's Idempotency-Key header into the lifecycle
// so a retried request reaches the backend with the same key.
func (h *BookingHandler) idempotency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxIdempotencyKey {
			writeError(w, h.logger, fmt.Errorf("%w: Idempotency-Key longer than %d bytes", booking.ErrInvalidRequest, maxIdempotencyKey))
			return
		}
		next.ServeHTTP(w, r.WithContext(booking.WithIdempotencyKey(r.Context(), key)))
	})
}

func bookingID(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "bookingID"))
}

// Create handles POST /api/bookings.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req booking.CreateRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if claims, ok := httpmiddleware.OperatorClaimsFromContext(r.Context()); ok && !claims.CanAccess(req.ClinicID) {
		writeError(w, h.logger, errForbidden)
		return
	}
	b, err := h.lifecycle.Create(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// Get handles GET /api/bookings/{bookingID}.
func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	b, err := h.lifecycle.Load(r.Context(), bookingID(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingView{Booking: b, AllowedOperations: allowedOperations(b.Status)})
}

// bookingView is a booking plus the actions the console may offer for it.
type bookingView struct {
	*booking.Booking
	AllowedOperations []booking.Operation `json:"allowedOperations"`
}

func allowedOperations(status booking.Status) []booking.Operation {
	ops := booking.AllowedOperations(status)
	if ops == nil {
		return []booking.Operation{}
	}
	return ops
}

func (h *BookingHandler) Availability(w http.ResponseWriter, r *http.Request) {
	report, err := h.lifecycle.CheckStaffAvailability(r.Context(), bookingID(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *BookingHandler) ConfirmStaff(w http.ResponseWriter, r *http.Request) {
	report, err := h.lifecycle.StaffForConfirm(r.Context(), bookingID(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Confirm returns 200 in both outcomes; needsDecision tells the console to
// show the partial/remove/cancel choice.
func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var in booking.ConfirmInput
	if err := decodeBody(r, &in, true); err != nil {
		writeError(w, h.logger, err)
		return
	}
	result, err := h.lifecycle.Confirm(r.Context(), bookingID(r), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type resolveRequest struct {
	Option string `json:"option"`
}

func (h *BookingHandler) ResolveConfirmation(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, h.logger, err)
		return
	}
	opt, err := booking.ParseConfirmOption(req.Option)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	b, err := h.lifecycle.ResolveConfirmation(r.Context(), bookingID(r), opt)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *BookingHandler) transition(op func(context.Context, string) (*booking.Booking, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := op(r.Context(), bookingID(r))
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, h.logger, err)
		return
	}
	b, err := h.lifecycle.Cancel(r.Context(), bookingID(r), req.Reason)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *BookingHandler) AddOns(w http.ResponseWriter, r *http.Request) {
	services, err := h.lifecycle.AvailableAddOns(r.Context(), bookingID(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if services == nil {
		services = []booking.AddOnService{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": services})
}

type addServiceRequest struct {
	ServiceID string `json:"serviceId"`
}

func (h *BookingHandler) AddService(w http.ResponseWriter, r *http.Request) {
	var req addServiceRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, h.logger, err)
		return
	}
	result, err := h.lifecycle.AddService(r.Context(), bookingID(r), req.ServiceID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *BookingHandler) ReassignStaffOptions(w http.ResponseWriter, r *http.Request) {
	res, err := h.lifecycle.StaffForReassign(r.Context(), bookingID(r), chi.URLParam(r, "bookingServiceID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type reassignRequest struct {
	StaffID string `json:"staffId"`
}

func (h *BookingHandler) ReassignStaff(w http.ResponseWriter, r *http.Request) {
	var req reassignRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, h.logger, err)
		return
	}
	b, err := h.lifecycle.ReassignStaff(r.Context(), bookingID(r), chi.URLParam(r, "bookingServiceID"), req.StaffID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
