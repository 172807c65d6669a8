package booking

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/vetcare-booking-core/internal/staffing"
)

// Create registers a new booking with the backend. It starts PENDING.
func (m *Machine) Create(ctx context.Context, req CreateRequest) (b *Booking, err error) {
	ctx, span := m.span(ctx, string(OpCreate), "")
	defer func() {
		m.metrics.ObserveTransition(string(OpCreate), outcomeOf(err))
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	if err := validateCreate(&req); err != nil {
		return nil, err
	}
	created, err := m.gateway.CreateBooking(ctx, req)
	if err != nil {
		return nil, asTransport(string(OpCreate), err)
	}
	if created == nil || created.BookingID == "" {
		return nil, &TransportError{Operation: string(OpCreate), Err: fmt.Errorf("backend returned no booking id")}
	}
	if created.Status != StatusPending {
		m.logger.Warn("new booking not pending", "booking_id", created.BookingID, "status", created.Status)
	}
	m.store(created)
	m.emit(ctx, created, Event{Type: EventCreated, Operation: OpCreate})
	m.logger.Info("booking created",
		"booking_id", created.BookingID,
		"booking_code", created.BookingCode,
		"clinic_id", created.ClinicID,
		"type", created.Type,
	)
	return created.Clone(), nil
}

func validateCreate(req *CreateRequest) error {
	req.ClinicID = strings.TrimSpace(req.ClinicID)
	req.PetID = strings.TrimSpace(req.PetID)
	if req.Type == "" {
		req.Type = TypeInClinic
	}
	switch {
	case req.ClinicID == "":
		return fmt.Errorf("%w: clinic id required", ErrInvalidRequest)
	case req.PetID == "":
		return fmt.Errorf("%w: pet id required", ErrInvalidRequest)
	case !req.Type.Valid():
		return fmt.Errorf("%w: unknown booking type %q", ErrInvalidRequest, req.Type)
	case len(req.ServiceIDs) == 0 && req.Type != TypeSOS:
		return fmt.Errorf("%w: at least one service required", ErrInvalidRequest)
	case req.Type == TypeSOS && (req.Latitude == nil || req.Longitude == nil):
		return fmt.Errorf("%w: sos booking requires a location", ErrInvalidRequest)
	case req.Type == TypeHomeVisit && strings.TrimSpace(req.Address) == "":
		return fmt.Errorf("%w: home visit requires an address", ErrInvalidRequest)
	}
	return nil
}

// Load fetches the backend's current state and replaces the local view.
func (m *Machine) Load(ctx context.Context, bookingID string) (*Booking, error) {
	ctx, span := m.span(ctx, "load", bookingID)
	defer span.End()
	b, err := m.refresh(ctx, bookingID)
	if err != nil {
		span.RecordError(err)
	}
	return b, err
}

// Track takes over an SOS booking a clinic accepted so later transitions go
// through this machine.
func (m *Machine) Track(ctx context.Context, bookingID string) error {
	b, err := m.Load(ctx, bookingID)
	if err != nil {
		return err
	}
	if b.Type != TypeSOS {
		m.logger.Warn("tracked booking is not an sos booking", "booking_id", bookingID, "type", b.Type)
	}
	m.emit(ctx, b, Event{Type: EventSOSHandedOff, Operation: OpHandoff})
	m.logger.Info("sos booking handed to lifecycle", "booking_id", bookingID, "status", b.Status)
	return nil
}

// CheckIn moves a confirmed or arrived booking to IN_PROGRESS.
func (m *Machine) CheckIn(ctx context.Context, bookingID string) (b *Booking, err error) {
	ctx, done := m.begin(ctx, OpCheckIn, bookingID)
	defer func() { done(err) }()
	return m.step(ctx, OpCheckIn, bookingID, nil, m.gateway.CheckInBooking, EventStatusChanged)
}

// Depart marks staff as travelling to a home visit or SOS booking.
func (m *Machine) Depart(ctx context.Context, bookingID string) (b *Booking, err error) {
	ctx, done := m.begin(ctx, OpDepart, bookingID)
	defer func() { done(err) }()
	travels := func(cur *Booking) error {
		if !cur.Type.Travels() {
			return invalidTransition(cur.Status, OpDepart)
		}
		return nil
	}
	return m.step(ctx, OpDepart, bookingID, travels, m.gateway.DepartBooking, EventStatusChanged)
}

// Arrive marks travelling staff as arrived.
func (m *Machine) Arrive(ctx context.Context, bookingID string) (b *Booking, err error) {
	ctx, done := m.begin(ctx, OpArrive, bookingID)
	defer func() { done(err) }()
	return m.step(ctx, OpArrive, bookingID, nil, m.gateway.ArriveBooking, EventStatusChanged)
}

// Complete finishes an in-progress visit. Payment and the medical record are
// produced by the backend as part of the same call.
func (m *Machine) Complete(ctx context.Context, bookingID string) (b *Booking, err error) {
	ctx, done := m.begin(ctx, OpComplete, bookingID)
	defer func() { done(err) }()
	next, err := m.step(ctx, OpComplete, bookingID, nil, m.gateway.CompleteBooking, EventCompleted)
	if err != nil {
		return nil, err
	}
	if next.PaymentStatus != PaymentPaid {
		m.logger.Warn("completed booking not reported paid",
			"booking_id", bookingID,
			"payment_status", next.PaymentStatus,
		)
	}
	return next, nil
}

// Cancel ends a booking before completion.
func (m *Machine) Cancel(ctx context.Context, bookingID, reason string) (b *Booking, err error) {
	ctx, done := m.begin(ctx, OpCancel, bookingID)
	defer func() { done(err) }()
	reason = strings.TrimSpace(reason)
	return m.step(ctx, OpCancel, bookingID, nil, func(ctx context.Context, ref Ref) (*Booking, error) {
		return m.gateway.CancelBooking(ctx, ref, reason)
	}, EventCancelled)
}

// MarkNoShow records that the pet never arrived.
func (m *Machine) MarkNoShow(ctx context.Context, bookingID string) (b *Booking, err error) {
	ctx, done := m.begin(ctx, OpNoShow, bookingID)
	defer func() { done(err) }()
	return m.step(ctx, OpNoShow, bookingID, nil, m.gateway.MarkNoShow, EventCancelled)
}

// AddServiceResult reports an appended add-on and its staffing outcome. An
// add-on nobody can perform is still added; Resolution says why.
type AddServiceResult struct {
	Booking    *Booking            `json:"booking"`
	Service    ServiceItem         `json:"service"`
	Resolution staffing.Resolution `json:"resolution"`
	Assigned   bool                `json:"assigned"`
	Warning    string              `json:"warning,omitempty"`
}

// AddService appends a service to an active visit, then resolves staff for
// that service alone and attaches the suggestion when there is one. The
// distance fee is never recomputed.
func (m *Machine) AddService(ctx context.Context, bookingID, serviceID string) (result *AddServiceResult, err error) {
	ctx, done := m.begin(ctx, OpAddService, bookingID)
	defer func() { done(err) }()

	serviceID = strings.TrimSpace(serviceID)
	if serviceID == "" {
		return nil, fmt.Errorf("%w: service id required", ErrInvalidRequest)
	}
	cur, err := m.current(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !Allowed(OpAddService, cur.Status) {
		return nil, invalidTransition(cur.Status, OpAddService)
	}

	added, err := m.remote(ctx, OpAddService, cur, func(ctx context.Context, ref Ref) (*Booking, error) {
		return m.gateway.AddServiceToBooking(ctx, ref, serviceID)
	})
	if err != nil {
		return nil, err
	}
	if added.DistanceFee != cur.DistanceFee {
		m.logger.Warn("distance fee changed on add-on", "booking_id", bookingID, "before", cur.DistanceFee, "after", added.DistanceFee)
	}

	result = &AddServiceResult{Booking: added}
	item, ok := newService(cur, added, serviceID)
	if !ok {
		result.Warning = "added service not found in backend response"
		m.logger.Warn(result.Warning, "booking_id", bookingID, "service_id", serviceID)
		return result, nil
	}
	item.AddOn = true
	result.Service = item
	m.emit(ctx, added, Event{
		Type:      EventServiceAdded,
		Operation: OpAddService,
		From:      cur.Status,
		Detail:    map[string]string{"service_id": serviceID, "booking_service_id": item.BookingServiceID},
	})

	res, err := m.resolver.ResolveService(ctx, bookingID, item.staffingService())
	if err != nil {
		result.Warning = "staff lookup failed: " + err.Error()
		m.logger.Warn("add-on staff lookup failed", "booking_id", bookingID, "error", err)
		return result, nil
	}
	result.Resolution = res
	if !res.HasAvailableStaff || res.Suggested == nil {
		m.logger.Info("add-on has no available staff",
			"booking_id", bookingID,
			"booking_service_id", item.BookingServiceID,
			"reason", res.UnavailableReason,
		)
		return result, nil
	}

	staffID := res.Suggested.StaffID
	assigned, err := m.remote(ctx, OpReassignStaff, added, func(ctx context.Context, ref Ref) (*Booking, error) {
		return m.gateway.ReassignStaffForService(ctx, ref, item.BookingServiceID, staffID)
	})
	if err != nil {
		result.Warning = "staff assignment failed: " + err.Error()
		m.logger.Warn("add-on staff assignment failed", "booking_id", bookingID, "staff_id", staffID, "error", err)
		return result, nil
	}
	result.Booking = assigned
	result.Assigned = true
	if svc, ok := assigned.Service(item.BookingServiceID); ok {
		svc.AddOn = true
		result.Service = svc
	}
	m.emit(ctx, assigned, Event{
		Type:      EventStaffReassigned,
		Operation: OpAddService,
		From:      added.Status,
		Detail:    map[string]string{"booking_service_id": item.BookingServiceID, "staff_id": staffID},
	})
	return result, nil
}

// newService finds the booking service the backend created for serviceID.
func newService(before, after *Booking, serviceID string) (ServiceItem, bool) {
	seen := make(map[string]bool, len(before.Services))
	for _, s := range before.Services {
		seen[s.BookingServiceID] = true
	}
	for i := len(after.Services) - 1; i >= 0; i-- {
		s := after.Services[i]
		if !seen[s.BookingServiceID] && s.ServiceID == serviceID {
			return s, true
		}
	}
	return ServiceItem{}, false
}

// ReassignStaff replaces the staff member on a service that has not started.
func (m *Machine) ReassignStaff(ctx context.Context, bookingID, bookingServiceID, staffID string) (b *Booking, err error) {
	ctx, done := m.begin(ctx, OpReassignStaff, bookingID)
	defer func() { done(err) }()

	staffID = strings.TrimSpace(staffID)
	if staffID == "" {
		return nil, ErrStaffRequired
	}
	cur, err := m.current(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !Allowed(OpReassignStaff, cur.Status) {
		return nil, invalidTransition(cur.Status, OpReassignStaff)
	}
	svc, ok := cur.Service(bookingServiceID)
	if !ok {
		return nil, ErrServiceNotFound
	}
	if svc.Started(cur.Status) {
		return nil, invalidTransition(cur.Status, OpReassignStaff)
	}

	res, err := m.resolver.ResolveService(ctx, bookingID, svc.staffingService())
	if err != nil {
		return nil, asTransport(string(OpReassignStaff), err)
	}
	if !containsStaff(res.Eligible, staffID) {
		return nil, fmt.Errorf("%w: %s for %s", ErrStaffIneligible, staffID, res.Category)
	}

	next, err := m.remote(ctx, OpReassignStaff, cur, func(ctx context.Context, ref Ref) (*Booking, error) {
		return m.gateway.ReassignStaffForService(ctx, ref, bookingServiceID, staffID)
	})
	if err != nil {
		return nil, err
	}
	m.emit(ctx, next, Event{
		Type:      EventStaffReassigned,
		Operation: OpReassignStaff,
		From:      cur.Status,
		Detail: map[string]string{
			"booking_service_id": bookingServiceID,
			"staff_id":           staffID,
			"previous_staff_id":  svc.StaffID(),
		},
	})
	m.logger.Info("staff reassigned", "booking_id", bookingID, "booking_service_id", bookingServiceID, "staff_id", staffID)
	return next, nil
}

func containsStaff(candidates []staffing.Candidate, staffID string) bool {
	for _, c := range candidates {
		if c.StaffID == staffID {
			return true
		}
	}
	return false
}

// CheckStaffAvailability reports per-service staffing for the booking's
// current services using the backend's availability pools.
func (m *Machine) CheckStaffAvailability(ctx context.Context, bookingID string) (*staffing.Report, error) {
	ctx, span := m.span(ctx, "check_availability", bookingID)
	defer span.End()

	cur, err := m.refresh(ctx, bookingID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	pools, err := m.gateway.CheckStaffAvailability(ctx, bookingID)
	if err != nil {
		span.RecordError(err)
		return nil, asTransport("check_availability", err)
	}
	report := staffing.Assess(bookingID, cur.StaffingServices(), pools)
	return &report, nil
}

// StaffForConfirm resolves every service against the confirm-time pools
// without confirming.
func (m *Machine) StaffForConfirm(ctx context.Context, bookingID string) (*staffing.Report, error) {
	ctx, span := m.span(ctx, "staff_for_confirm", bookingID)
	defer span.End()

	cur, err := m.refresh(ctx, bookingID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	report, err := m.resolver.ResolveBooking(ctx, bookingID, cur.StaffingServices())
	if err != nil {
		span.RecordError(err)
		return nil, asTransport("staff_for_confirm", err)
	}
	return &report, nil
}

// StaffForReassign lists eligible staff for one service and the suggestion.
func (m *Machine) StaffForReassign(ctx context.Context, bookingID, bookingServiceID string) (*staffing.Resolution, error) {
	ctx, span := m.span(ctx, "staff_for_reassign", bookingID)
	defer span.End()

	cur, err := m.refresh(ctx, bookingID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	svc, ok := cur.Service(bookingServiceID)
	if !ok {
		return nil, ErrServiceNotFound
	}
	res, err := m.resolver.ResolveService(ctx, bookingID, svc.staffingService())
	if err != nil {
		span.RecordError(err)
		return nil, asTransport("staff_for_reassign", err)
	}
	return &res, nil
}

// AvailableAddOns lists catalog services that can be appended to an active visit.
func (m *Machine) AvailableAddOns(ctx context.Context, bookingID string) ([]AddOnService, error) {
	ctx, span := m.span(ctx, "available_add_ons", bookingID)
	defer span.End()

	cur, err := m.refresh(ctx, bookingID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !Allowed(OpAddService, cur.Status) {
		return nil, invalidTransition(cur.Status, OpAddService)
	}
	services, err := m.gateway.GetAvailableServicesForAddOn(ctx, bookingID)
	if err != nil {
		span.RecordError(err)
		return nil, asTransport("available_add_ons", err)
	}
	return services, nil
}
