package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/wolfman30/vetcare-booking-core/internal/booking"
	"github.com/wolfman30/vetcare-booking-core/internal/staffing"
)

func bookingPath(bookingID string, suffix ...string) string {
	p := "/api/bookings/" + url.PathEscape(bookingID)
	for _, s := range suffix {
		p += "/" + s
	}
	return p
}

func (c *Client) transition(ctx context.Context, op booking.Operation, ref booking.Ref, suffix string, body any) (*booking.Booking, error) {
	var out booking.Booking
	err := c.do(ctx, call{
		op:     string(op),
		method: http.MethodPost,
		path:   bookingPath(ref.BookingID, suffix),
		body:   body,
		ref:    &ref,
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateBooking creates a PENDING booking.
func (c *Client) CreateBooking(ctx context.Context, req booking.CreateRequest) (*booking.Booking, error) {
	var out booking.Booking
	if err := c.do(ctx, call{op: string(booking.OpCreate), method: http.MethodPost, path: "/api/bookings", body: req, out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBookingByID fetches the authoritative booking.
func (c *Client) GetBookingByID(ctx context.Context, bookingID string) (*booking.Booking, error) {
	var out booking.Booking
	if err := c.do(ctx, call{op: "get_booking", method: http.MethodGet, path: bookingPath(bookingID), out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ConfirmBooking(ctx context.Context, ref booking.Ref, req booking.ConfirmRequest) (*booking.Booking, error) {
	return c.transition(ctx, booking.OpConfirm, ref, "confirm", req)
}

func (c *Client) ConfirmBookingWithOptions(ctx context.Context, ref booking.Ref, req booking.ConfirmOptionsRequest) (*booking.Booking, error) {
	return c.transition(ctx, booking.OpResolveConfirmation, ref, "confirm-with-options", req)
}

func (c *Client) CheckInBooking(ctx context.Context, ref booking.Ref) (*booking.Booking, error) {
	return c.transition(ctx, booking.OpCheckIn, ref, "check-in", nil)
}

func (c *Client) CompleteBooking(ctx context.Context, ref booking.Ref) (*booking.Booking, error) {
	return c.transition(ctx, booking.OpComplete, ref, "complete", nil)
}

func (c *Client) DepartBooking(ctx context.Context, ref booking.Ref) (*booking.Booking, error) {
	return c.transition(ctx, booking.OpDepart, ref, "depart", nil)
}

func (c *Client) ArriveBooking(ctx context.Context, ref booking.Ref) (*booking.Booking, error) {
	return c.transition(ctx, booking.OpArrive, ref, "arrive", nil)
}

func (c *Client) MarkNoShow(ctx context.Context, ref booking.Ref) (*booking.Booking, error) {
	return c.transition(ctx, booking.OpNoShow, ref, "no-show", nil)
}

func (c *Client) CancelBooking(ctx context.Context, ref booking.Ref, reason string) (*booking.Booking, error) {
	body := map[string]string{}
	if reason != "" {
		body["reason"] = reason
	}
	return c.transition(ctx, booking.OpCancel, ref, "cancel", body)
}

func (c *Client) AddServiceToBooking(ctx context.Context, ref booking.Ref, serviceID string) (*booking.Booking, error) {
	return c.transition(ctx, booking.OpAddService, ref, "services", map[string]string{"serviceId": serviceID})
}

func (c *Client) ReassignStaffForService(ctx context.Context, ref booking.Ref, bookingServiceID, staffID string) (*booking.Booking, error) {
	var out booking.Booking
	err := c.do(ctx, call{
		op:     string(booking.OpReassignStaff),
		method: http.MethodPut,
		path:   bookingPath(ref.BookingID, "services", url.PathEscape(bookingServiceID), "staff"),
		body:   map[string]string{"staffId": staffID},
		ref:    &ref,
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckStaffAvailability returns the backend's per-service availability pools.
func (c *Client) CheckStaffAvailability(ctx context.Context, bookingID string) ([]staffing.ServicePool, error) {
	var out struct {
		AllServicesHaveStaff bool                   `json:"allServicesHaveStaff"`
		Services             []staffing.ServicePool `json:"services"`
	}
	if err := c.do(ctx, call{op: "check_availability", method: http.MethodGet, path: bookingPath(bookingID, "staff-availability"), out: &out}); err != nil {
		return nil, err
	}
	return out.Services, nil
}

func (c *Client) GetAvailableStaffForConfirm(ctx context.Context, bookingID string) ([]staffing.ServicePool, error) {
	var out []staffing.ServicePool
	if err := c.do(ctx, call{op: "staff_for_confirm", method: http.MethodGet, path: bookingPath(bookingID, "available-staff"), out: &out}); err != nil {
		return nil, fmt.Errorf("get available staff for confirm: %w", err)
	}
	return out, nil
}

func (c *Client) GetAvailableStaffForReassign(ctx context.Context, bookingID, bookingServiceID string) ([]staffing.Candidate, error) {
	var out []staffing.Candidate
	path := bookingPath(bookingID, "services", url.PathEscape(bookingServiceID), "available-staff")
	if err := c.do(ctx, call{op: "staff_for_reassign", method: http.MethodGet, path: path, out: &out}); err != nil {
		return nil, fmt.Errorf("get available staff for reassign: %w", err)
	}
	return out, nil
}

func (c *Client) GetAvailableServicesForAddOn(ctx context.Context, bookingID string) ([]booking.AddOnService, error) {
	var out []booking.AddOnService
	if err := c.do(ctx, call{op: "available_add_ons", method: http.MethodGet, path: bookingPath(bookingID, "add-on-services"), out: &out}); err != nil {
		return nil, err
	}
	return out, nil
}
