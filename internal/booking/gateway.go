package booking

import (
	"context"
	"time"

	"github.com/wolfman30/vetcare-booking-core/internal/staffing"
)

// Ref identifies the booking revision a remote transition applies to.
// The backend rejects the call with ErrConcurrentModification when the
// booking no longer matches ExpectedStatus and Version.
type Ref struct {
	BookingID      string
	ExpectedStatus Status
	Version        int64
	IdempotencyKey string
}

// CreateRequest describes a new booking.
type CreateRequest struct {
	ClinicID    string     `json:"clinicId"`
	PetID       string     `json:"petId"`
	OwnerID     string     `json:"ownerId"`
	Type        Type       `json:"type"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
	ServiceIDs  []string   `json:"serviceIds"`
	Notes       string     `json:"notes,omitempty"`
	Address     string     `json:"address,omitempty"`
	Latitude    *float64   `json:"latitude,omitempty"`
	Longitude   *float64   `json:"longitude,omitempty"`
	Symptoms    string     `json:"symptoms,omitempty"`
}

// StaffAssignment attaches one staff member to one booked service.
type StaffAssignment struct {
	BookingServiceID string `json:"bookingServiceId"`
	StaffID          string `json:"staffId"`
}

// ConfirmRequest is the body of a plain confirmation. SelectedStaffID is a
// manual override; Assignments carry resolver suggestions.
type ConfirmRequest struct {
	SelectedStaffID  string            `json:"selectedStaffId,omitempty"`
	BookingServiceID string            `json:"bookingServiceId,omitempty"`
	Assignments      []StaffAssignment `json:"assignments,omitempty"`
	ManagerNotes     string            `json:"managerNotes,omitempty"`
}

// ConfirmOptionsRequest confirms a booking where some services lack staff.
type ConfirmOptionsRequest struct {
	AllowPartial              bool              `json:"allowPartial,omitempty"`
	RemoveUnavailableServices bool              `json:"removeUnavailableServices,omitempty"`
	Assignments               []StaffAssignment `json:"assignments,omitempty"`
	ManagerNotes              string            `json:"managerNotes,omitempty"`
}

// Gateway is the remote boundary to the booking backend.
type Gateway interface {
	staffing.CandidateSource

	CreateBooking(ctx context.Context, req CreateRequest) (*Booking, error)
	GetBookingByID(ctx context.Context, bookingID string) (*Booking, error)
	ConfirmBooking(ctx context.Context, ref Ref, req ConfirmRequest) (*Booking, error)
	ConfirmBookingWithOptions(ctx context.Context, ref Ref, req ConfirmOptionsRequest) (*Booking, error)
	CheckStaffAvailability(ctx context.Context, bookingID string) ([]staffing.ServicePool, error)
	CheckInBooking(ctx context.Context, ref Ref) (*Booking, error)
	CompleteBooking(ctx context.Context, ref Ref) (*Booking, error)
	AddServiceToBooking(ctx context.Context, ref Ref, serviceID string) (*Booking, error)
	GetAvailableServicesForAddOn(ctx context.Context, bookingID string) ([]AddOnService, error)
	ReassignStaffForService(ctx context.Context, ref Ref, bookingServiceID, staffID string) (*Booking, error)
	CancelBooking(ctx context.Context, ref Ref, reason string) (*Booking, error)
	MarkNoShow(ctx context.Context, ref Ref) (*Booking, error)
	DepartBooking(ctx context.Context, ref Ref) (*Booking, error)
	ArriveBooking(ctx context.Context, ref Ref) (*Booking, error)
}

// EventType names a lifecycle event emitted after a successful transition.
type EventType string

const (
	EventCreated         EventType = "booking.created.v1"
	EventConfirmed       EventType = "booking.confirmed.v1"
	EventStatusChanged   EventType = "booking.status_changed.v1"
	EventServiceAdded    EventType = "booking.service_added.v1"
	EventStaffReassigned EventType = "booking.staff_reassigned.v1"
	EventCompleted       EventType = "booking.completed.v1"
	EventCancelled       EventType = "booking.cancelled.v1"
	EventSOSHandedOff    EventType = "booking.sos_handoff.v1"
	EventConflict        EventType = "booking.conflict.v1"
)

// Event is a lifecycle fact recorded after the backend acknowledged it.
type Event struct {
	Type        EventType         `json:"type"`
	BookingID   string            `json:"booking_id"`
	BookingCode string            `json:"booking_code,omitempty"`
	ClinicID    string            `json:"clinic_id"`
	Operation   Operation         `json:"operation"`
	From        Status            `json:"from,omitempty"`
	To          Status            `json:"to"`
	OccurredAt  time.Time         `json:"occurred_at"`
	Detail      map[string]string `json:"detail,omitempty"`
}

// EventSink records lifecycle events. Failures are logged, never returned
// to the operator, because the transition already happened upstream.
type EventSink interface {
	Record(ctx context.Context, evt Event) error
}
