package booking

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/wolfman30/vetcare-booking-core/internal/staffing"
)

// ConfirmInput drives Confirm. A non-empty StaffSelection is a manual
// override and skips staff resolution entirely.
type ConfirmInput struct {
	StaffSelection   string `json:"staffId,omitempty"`
	BookingServiceID string `json:"bookingServiceId,omitempty"`
	ManagerNotes     string `json:"managerNotes,omitempty"`
}

// ConfirmResult is either a confirmed booking or, when some services have
// nobody available, the unchanged booking plus the report the caller must
// decide on.
type ConfirmResult struct {
	Booking       *Booking         `json:"booking"`
	Report        *staffing.Report `json:"report,omitempty"`
	NeedsDecision bool             `json:"needsDecision"`
}

// ConfirmOption is the caller's decision for a booking with unstaffed services.
type ConfirmOption string

const (
	// ConfirmPartial confirms now and leaves unstaffed services unassigned.
	ConfirmPartial ConfirmOption = "partial"
	// ConfirmRemove drops unstaffed services and confirms the remainder.
	ConfirmRemove ConfirmOption = "remove"
	// ConfirmCancel abandons the attempt; the booking stays PENDING.
	ConfirmCancel ConfirmOption = "cancel"
)

// ParseConfirmOption parses a caller-supplied option name.
func ParseConfirmOption(raw string) (ConfirmOption, error) {
	opt := ConfirmOption(strings.ToLower(strings.TrimSpace(raw)))
	switch opt {
	case ConfirmPartial, ConfirmRemove, ConfirmCancel:
		return opt, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownConfirmOption, raw)
}

// Confirm confirms a PENDING booking.
//
// With a staff selection the backend is asked to confirm with that staff
// member and the call succeeds or fails as a whole. Without one every
// service is resolved; a fully staffed booking is confirmed with the
// suggested staff, otherwise nothing changes and NeedsDecision is set.
func (m *Machine) Confirm(ctx context.Context, bookingID string, in ConfirmInput) (result *ConfirmResult, err error) {
	ctx, done := m.begin(ctx, OpConfirm, bookingID)
	defer func() { done(err) }()

	cur, err := m.current(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !Allowed(OpConfirm, cur.Status) {
		return nil, invalidTransition(cur.Status, OpConfirm)
	}

	if staffID := strings.TrimSpace(in.StaffSelection); staffID != "" {
		if in.BookingServiceID != "" {
			if _, ok := cur.Service(in.BookingServiceID); !ok {
				return nil, ErrServiceNotFound
			}
		}
		req := ConfirmRequest{
			SelectedStaffID:  staffID,
			BookingServiceID: in.BookingServiceID,
			ManagerNotes:     in.ManagerNotes,
		}
		next, err := m.remote(ctx, OpConfirm, cur, func(ctx context.Context, ref Ref) (*Booking, error) {
			return m.gateway.ConfirmBooking(ctx, ref, req)
		})
		if err != nil {
			return nil, err
		}
		m.emit(ctx, next, Event{
			Type:      EventConfirmed,
			Operation: OpConfirm,
			From:      cur.Status,
			Detail:    map[string]string{"mode": "manual", "staff_id": staffID},
		})
		m.logger.Info("booking confirmed with manual staff", "booking_id", bookingID, "staff_id", staffID, "status", next.Status)
		return &ConfirmResult{Booking: next}, nil
	}

	report, err := m.resolver.ResolveBooking(ctx, bookingID, cur.StaffingServices())
	if err != nil {
		return nil, asTransport(string(OpConfirm), err)
	}
	if !report.AllServicesHaveStaff {
		m.logger.Info("confirmation needs a decision",
			"booking_id", bookingID,
			"unstaffed", len(report.Unstaffed()),
		)
		return &ConfirmResult{Booking: cur, Report: &report, NeedsDecision: true}, nil
	}

	req := ConfirmRequest{
		Assignments:  assignmentsFrom(report),
		ManagerNotes: in.ManagerNotes,
	}
	next, err := m.remote(ctx, OpConfirm, cur, func(ctx context.Context, ref Ref) (*Booking, error) {
		return m.gateway.ConfirmBooking(ctx, ref, req)
	})
	if err != nil {
		return nil, err
	}
	m.emit(ctx, next, Event{
		Type:      EventConfirmed,
		Operation: OpConfirm,
		From:      cur.Status,
		Detail:    map[string]string{"mode": "auto", "assigned": strconv.Itoa(len(req.Assignments))},
	})
	m.logger.Info("booking auto-confirmed", "booking_id", bookingID, "status", next.Status)
	return &ConfirmResult{Booking: next, Report: &report}, nil
}

// ResolveConfirmation applies the caller's decision after Confirm reported
// unstaffed services. Staffing is resolved again first because availability
// may have changed since the report was produced.
func (m *Machine) ResolveConfirmation(ctx context.Context, bookingID string, opt ConfirmOption) (b *Booking, err error) {
	ctx, done := m.begin(ctx, OpResolveConfirmation, bookingID)
	defer func() { done(err) }()

	switch opt {
	case ConfirmPartial, ConfirmRemove, ConfirmCancel:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownConfirmOption, opt)
	}

	cur, err := m.current(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !Allowed(OpResolveConfirmation, cur.Status) {
		return nil, invalidTransition(cur.Status, OpResolveConfirmation)
	}
	if opt == ConfirmCancel {
		m.logger.Info("confirmation abandoned", "booking_id", bookingID)
		return cur, nil
	}

	report, err := m.resolver.ResolveBooking(ctx, bookingID, cur.StaffingServices())
	if err != nil {
		return nil, asTransport(string(OpResolveConfirmation), err)
	}
	if opt == ConfirmRemove && len(report.Staffed()) == 0 {
		return nil, ErrNoStaffedServices
	}

	req := ConfirmOptionsRequest{
		AllowPartial:              opt == ConfirmPartial,
		RemoveUnavailableServices: opt == ConfirmRemove,
		Assignments:               assignmentsFrom(report),
	}
	next, err := m.remote(ctx, OpResolveConfirmation, cur, func(ctx context.Context, ref Ref) (*Booking, error) {
		return m.gateway.ConfirmBookingWithOptions(ctx, ref, req)
	})
	if err != nil {
		return nil, err
	}

	unstaffed := report.Unstaffed()
	if opt == ConfirmRemove {
		for _, svc := range next.Services {
			if res, ok := report.Lookup(svc.BookingServiceID); ok && !res.HasAvailableStaff {
				m.logger.Warn("backend kept an unstaffed service after removal",
					"booking_id", bookingID,
					"booking_service_id", svc.BookingServiceID,
				)
			}
		}
	}
	m.emit(ctx, next, Event{
		Type:      EventConfirmed,
		Operation: OpResolveConfirmation,
		From:      cur.Status,
		Detail: map[string]string{
			"mode":      string(opt),
			"unstaffed": strconv.Itoa(len(unstaffed)),
		},
	})
	m.logger.Info("booking confirmed with decision",
		"booking_id", bookingID,
		"option", opt,
		"status", next.Status,
		"services", len(next.Services),
	)
	return next, nil
}

func assignmentsFrom(report staffing.Report) []StaffAssignment {
	byService := report.Assignments()
	out := make([]StaffAssignment, 0, len(byService))
	for _, res := range report.Services {
		if staffID, ok := byService[res.BookingServiceID]; ok {
			out = append(out, StaffAssignment{BookingServiceID: res.BookingServiceID, StaffID: staffID})
		}
	}
	return out
}
