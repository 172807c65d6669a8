// Package booking drives a clinic booking through its lifecycle against the
// backend system of record.
package booking

import (
	"time"

	"github.com/wolfman30/vetcare-booking-core/internal/staffing"
)

// Status is the lifecycle status of a booking.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusAssigned   Status = "ASSIGNED"
	StatusOnTheWay   Status = "ON_THE_WAY"
	StatusArrived    Status = "ARRIVED"
	StatusCheckIn    Status = "CHECK_IN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCheckOut   Status = "CHECK_OUT"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusNoShow     Status = "NO_SHOW"
)

// Type is fixed at creation and decides whether travel and SOS logic apply.
type Type string

const (
	TypeInClinic  Type = "IN_CLINIC"
	TypeHomeVisit Type = "HOME_VISIT"
	TypeSOS       Type = "SOS"
)

// Valid reports whether t is a known booking type.
func (t Type) Valid() bool {
	switch t {
	case TypeInClinic, TypeHomeVisit, TypeSOS:
		return true
	}
	return false
}

// Travels reports whether staff travel to the pet for this booking type.
func (t Type) Travels() bool {
	return t == TypeHomeVisit || t == TypeSOS
}

// PaymentStatus is read from the backend; the core never sets it.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

// ServiceStatus is per-service progress inside an active visit.
type ServiceStatus string

const (
	ServicePending    ServiceStatus = "PENDING"
	ServiceInProgress ServiceStatus = "IN_PROGRESS"
	ServiceCheckOut   ServiceStatus = "CHECK_OUT"
	ServiceCompleted  ServiceStatus = "COMPLETED"
)

// ServiceItem is one clinical service within a booking.
type ServiceItem struct {
	ServiceID          string            `json:"serviceId"`
	BookingServiceID   string            `json:"bookingServiceId"`
	ServiceName        string            `json:"serviceName"`
	ServiceCategory    staffing.Category `json:"serviceCategory"`
	DurationMinutes    int               `json:"durationMinutes"`
	Price              float64           `json:"price"`
	AssignedStaffID    *string           `json:"assignedStaffId"`
	AssignedStaffName  *string           `json:"assignedStaffName"`
	ScheduledStartTime *time.Time        `json:"scheduledStartTime"`
	ScheduledEndTime   *time.Time        `json:"scheduledEndTime"`
	Status             ServiceStatus     `json:"status,omitempty"`
	AddOn              bool              `json:"isAddOn,omitempty"`
}

// Assigned reports whether a staff member is attached.
func (s ServiceItem) Assigned() bool {
	return s.AssignedStaffID != nil && *s.AssignedStaffID != ""
}

// StaffID returns the assigned staff id or "".
func (s ServiceItem) StaffID() string {
	if s.AssignedStaffID == nil {
		return ""
	}
	return *s.AssignedStaffID
}

// ScheduleConsistent reports whether start and end agree with the duration.
// A schedule with either end unset is consistent.
func (s ServiceItem) ScheduleConsistent() bool {
	if s.ScheduledStartTime == nil || s.ScheduledEndTime == nil {
		return true
	}
	return s.ScheduledEndTime.Sub(*s.ScheduledStartTime) == time.Duration(s.DurationMinutes)*time.Minute
}

// Started reports whether work on the service has begun given the booking status.
// An explicit PENDING service status inside an active visit means not started,
// as does an add-on nobody has been assigned to yet.
func (s ServiceItem) Started(bookingStatus Status) bool {
	switch s.Status {
	case ServiceInProgress, ServiceCheckOut, ServiceCompleted:
		return true
	case ServicePending:
		return false
	}
	if s.AddOn && !s.Assigned() {
		return false
	}
	return bookingStatus == StatusInProgress || bookingStatus == StatusCheckOut
}

func (s ServiceItem) staffingService() staffing.Service {
	return staffing.Service{
		BookingServiceID: s.BookingServiceID,
		ServiceID:        s.ServiceID,
		ServiceName:      s.ServiceName,
		Category:         s.ServiceCategory,
	}
}

// Booking is the aggregate the lifecycle machine mutates through the backend.
type Booking struct {
	BookingID     string        `json:"bookingId"`
	BookingCode   string        `json:"bookingCode"`
	Status        Status        `json:"status"`
	Type          Type          `json:"type"`
	ClinicID      string        `json:"clinicId"`
	PetID         string        `json:"petId"`
	OwnerID       string        `json:"ownerId"`
	ScheduledAt   *time.Time    `json:"scheduledAt,omitempty"`
	Services      []ServiceItem `json:"services"`
	TotalPrice    float64       `json:"totalPrice"`
	DistanceFee   float64       `json:"distanceFee"`
	PaymentStatus PaymentStatus `json:"paymentStatus,omitempty"`
	ManagerNotes  string        `json:"managerNotes,omitempty"`
	Version       int64         `json:"version"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Service returns the service with the given booking service id.
func (b *Booking) Service(bookingServiceID string) (ServiceItem, bool) {
	if b == nil {
		return ServiceItem{}, false
	}
	for _, s := range b.Services {
		if s.BookingServiceID == bookingServiceID {
			return s, true
		}
	}
	return ServiceItem{}, false
}

// StaffingServices lists the booking's services in the resolver's shape.
func (b *Booking) StaffingServices() []staffing.Service {
	if b == nil {
		return nil
	}
	out := make([]staffing.Service, 0, len(b.Services))
	for _, s := range b.Services {
		out = append(out, s.staffingService())
	}
	return out
}

// Clone returns a deep copy so callers never share the machine's view.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	out := *b
	if b.ScheduledAt != nil {
		at := *b.ScheduledAt
		out.ScheduledAt = &at
	}
	out.Services = make([]ServiceItem, len(b.Services))
	for i, s := range b.Services {
		out.Services[i] = s
		out.Services[i].AssignedStaffID = cloneString(s.AssignedStaffID)
		out.Services[i].AssignedStaffName = cloneString(s.AssignedStaffName)
		out.Services[i].ScheduledStartTime = cloneTime(s.ScheduledStartTime)
		out.Services[i].ScheduledEndTime = cloneTime(s.ScheduledEndTime)
	}
	return &out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// AddOnService is a catalog service that can be appended to an active visit.
type AddOnService struct {
	ServiceID       string            `json:"serviceId"`
	ServiceName     string            `json:"serviceName"`
	ServiceCategory staffing.Category `json:"serviceCategory"`
	DurationMinutes int               `json:"durationMinutes"`
	Price           float64           `json:"price"`
}
