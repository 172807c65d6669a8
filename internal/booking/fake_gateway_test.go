package booking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/vetcare-booking-core/internal/staffing"
)

// fakeGateway is an in-memory backend enforcing compare-and-set on refs.
type fakeGateway struct {
	mu        sync.Mutex
	bookings  map[string]*Booking
	roster    []staffing.Candidate
	catalog   map[string]AddOnService
	calls     map[string]int
	refs      []Ref
	failures  map[string]error
	nextID    int
	staffName map[string]string
	// ignoreRemoval makes ConfirmBookingWithOptions keep unstaffed services.
	ignoreRemoval bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		bookings:  make(map[string]*Booking),
		catalog:   make(map[string]AddOnService),
		calls:     make(map[string]int),
		failures:  make(map[string]error),
		staffName: make(map[string]string),
	}
}

func (g *fakeGateway) put(b *Booking) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bookings[b.BookingID] = b.Clone()
}

func (g *fakeGateway) get(id string) *Booking {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bookings[id].Clone()
}

// mutate changes a booking behind the machine's back.
func (g *fakeGateway) mutate(id string, fn func(b *Booking)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g.bookings[id])
	g.bookings[id].Version++
}

func (g *fakeGateway) failOn(method string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[method] = err
}

func (g *fakeGateway) count(method string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[method]
}

func (g *fakeGateway) enter(method string) error {
	g.calls[method]++
	if err, ok := g.failures[method]; ok {
		delete(g.failures, method)
		return err
	}
	return nil
}

func (g *fakeGateway) apply(method string, ref Ref, fn func(b *Booking)) (*Booking, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refs = append(g.refs, ref)
	if err := g.enter(method); err != nil {
		return nil, err
	}
	b, ok := g.bookings[ref.BookingID]
	if !ok {
		return nil, ErrBookingNotFound
	}
	if b.Status != ref.ExpectedStatus || b.Version != ref.Version {
		return nil, ErrConcurrentModification
	}
	fn(b)
	b.Version++
	b.UpdatedAt = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return b.Clone(), nil
}

func (g *fakeGateway) assign(b *Booking, bookingServiceID, staffID string) {
	for i := range b.Services {
		if b.Services[i].BookingServiceID == bookingServiceID {
			id := staffID
			name := g.staffName[staffID]
			b.Services[i].AssignedStaffID = &id
			b.Services[i].AssignedStaffName = &name
		}
	}
}

func allAssigned(b *Booking) bool {
	for _, s := range b.Services {
		if !s.Assigned() {
			return false
		}
	}
	return true
}

func recomputeTotal(b *Booking) {
	total := b.DistanceFee
	for _, s := range b.Services {
		total += s.Price
	}
	b.TotalPrice = total
}

func (g *fakeGateway) pools(b *Booking) []staffing.ServicePool {
	out := make([]staffing.ServicePool, 0, len(b.Services))
	for _, s := range b.Services {
		out = append(out, staffing.ServicePool{
			BookingServiceID: s.BookingServiceID,
			ServiceID:        s.ServiceID,
			Candidates:       append([]staffing.Candidate(nil), g.roster...),
		})
	}
	return out
}

func (g *fakeGateway) CreateBooking(ctx context.Context, req CreateRequest) (*Booking, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("CreateBooking"); err != nil {
		return nil, err
	}
	g.nextID++
	b := &Booking{
		BookingID:   fmt.Sprintf("bk-%d", g.nextID),
		BookingCode: fmt.Sprintf("VC-%04d", g.nextID),
		Status:      StatusPending,
		Type:        req.Type,
		ClinicID:    req.ClinicID,
		PetID:       req.PetID,
		OwnerID:     req.OwnerID,
		ScheduledAt: req.ScheduledAt,
	}
	for i, sid := range req.ServiceIDs {
		item := g.catalog[sid]
		b.Services = append(b.Services, ServiceItem{
			ServiceID:        sid,
			BookingServiceID: fmt.Sprintf("%s-bs-%d", b.BookingID, i+1),
			ServiceName:      item.ServiceName,
			ServiceCategory:  item.ServiceCategory,
			DurationMinutes:  item.DurationMinutes,
			Price:            item.Price,
		})
	}
	recomputeTotal(b)
	g.bookings[b.BookingID] = b
	return b.Clone(), nil
}

func (g *fakeGateway) GetBookingByID(ctx context.Context, bookingID string) (*Booking, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("GetBookingByID"); err != nil {
		return nil, err
	}
	b, ok := g.bookings[bookingID]
	if !ok {
		return nil, ErrBookingNotFound
	}
	return b.Clone(), nil
}

func (g *fakeGateway) ConfirmBooking(ctx context.Context, ref Ref, req ConfirmRequest) (*Booking, error) {
	return g.apply("ConfirmBooking", ref, func(b *Booking) {
		if req.SelectedStaffID != "" {
			for _, s := range b.Services {
				if req.BookingServiceID == "" || s.BookingServiceID == req.BookingServiceID {
					g.assign(b, s.BookingServiceID, req.SelectedStaffID)
				}
			}
		}
		for _, a := range req.Assignments {
			g.assign(b, a.BookingServiceID, a.StaffID)
		}
		b.ManagerNotes = req.ManagerNotes
		if allAssigned(b) {
			b.Status = StatusAssigned
		} else {
			b.Status = StatusConfirmed
		}
	})
}

func (g *fakeGateway) ConfirmBookingWithOptions(ctx context.Context, ref Ref, req ConfirmOptionsRequest) (*Booking, error) {
	return g.apply("ConfirmBookingWithOptions", ref, func(b *Booking) {
		staffed := make(map[string]bool)
		for _, a := range req.Assignments {
			g.assign(b, a.BookingServiceID, a.StaffID)
			staffed[a.BookingServiceID] = true
		}
		if req.RemoveUnavailableServices && !g.ignoreRemoval {
			kept := b.Services[:0]
			for _, s := range b.Services {
				if staffed[s.BookingServiceID] {
					kept = append(kept, s)
				}
			}
			b.Services = kept
			recomputeTotal(b)
		}
		if req.AllowPartial || !allAssigned(b) {
			b.Status = StatusConfirmed
		} else {
			b.Status = StatusAssigned
		}
	})
}

func (g *fakeGateway) CheckStaffAvailability(ctx context.Context, bookingID string) ([]staffing.ServicePool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("CheckStaffAvailability"); err != nil {
		return nil, err
	}
	return g.pools(g.bookings[bookingID]), nil
}

func (g *fakeGateway) GetAvailableStaffForConfirm(ctx context.Context, bookingID string) ([]staffing.ServicePool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("GetAvailableStaffForConfirm"); err != nil {
		return nil, err
	}
	return g.pools(g.bookings[bookingID]), nil
}

func (g *fakeGateway) GetAvailableStaffForReassign(ctx context.Context, bookingID, bookingServiceID string) ([]staffing.Candidate, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("GetAvailableStaffForReassign"); err != nil {
		return nil, err
	}
	return append([]staffing.Candidate(nil), g.roster...), nil
}

func (g *fakeGateway) CheckInBooking(ctx context.Context, ref Ref) (*Booking, error) {
	return g.apply("CheckInBooking", ref, func(b *Booking) { b.Status = StatusInProgress })
}

func (g *fakeGateway) CompleteBooking(ctx context.Context, ref Ref) (*Booking, error) {
	return g.apply("CompleteBooking", ref, func(b *Booking) {
		b.Status = StatusCompleted
		b.PaymentStatus = PaymentPaid
		for i := range b.Services {
			b.Services[i].Status = ServiceCompleted
		}
	})
}

func (g *fakeGateway) AddServiceToBooking(ctx context.Context, ref Ref, serviceID string) (*Booking, error) {
	return g.apply("AddServiceToBooking", ref, func(b *Booking) {
		item := g.catalog[serviceID]
		b.Services = append(b.Services, ServiceItem{
			ServiceID:        serviceID,
			BookingServiceID: fmt.Sprintf("%s-bs-%d", b.BookingID, len(b.Services)+1),
			ServiceName:      item.ServiceName,
			ServiceCategory:  item.ServiceCategory,
			DurationMinutes:  item.DurationMinutes,
			Price:            item.Price,
			Status:           ServicePending,
			AddOn:            true,
		})
		b.TotalPrice += item.Price
	})
}

func (g *fakeGateway) GetAvailableServicesForAddOn(ctx context.Context, bookingID string) ([]AddOnService, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("GetAvailableServicesForAddOn"); err != nil {
		return nil, err
	}
	out := make([]AddOnService, 0, len(g.catalog))
	for _, svc := range g.catalog {
		out = append(out, svc)
	}
	return out, nil
}

func (g *fakeGateway) ReassignStaffForService(ctx context.Context, ref Ref, bookingServiceID, staffID string) (*Booking, error) {
	return g.apply("ReassignStaffForService", ref, func(b *Booking) {
		g.assign(b, bookingServiceID, staffID)
		if b.Status == StatusConfirmed && allAssigned(b) {
			b.Status = StatusAssigned
		}
	})
}

func (g *fakeGateway) CancelBooking(ctx context.Context, ref Ref, reason string) (*Booking, error) {
	return g.apply("CancelBooking", ref, func(b *Booking) {
		b.Status = StatusCancelled
		b.ManagerNotes = reason
	})
}

func (g *fakeGateway) MarkNoShow(ctx context.Context, ref Ref) (*Booking, error) {
	return g.apply("MarkNoShow", ref, func(b *Booking) { b.Status = StatusNoShow })
}

func (g *fakeGateway) DepartBooking(ctx context.Context, ref Ref) (*Booking, error) {
	return g.apply("DepartBooking", ref, func(b *Booking) { b.Status = StatusOnTheWay })
}

func (g *fakeGateway) ArriveBooking(ctx context.Context, ref Ref) (*Booking, error) {
	return g.apply("ArriveBooking", ref, func(b *Booking) { b.Status = StatusArrived })
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Record(ctx context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *recordingSink) types() []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}
