package staffing

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/vetcare-booking-core/pkg/logging"
)

// ErrSourceRequired is returned when a Resolver has no candidate source.
var ErrSourceRequired = errors.New("staffing: candidate source required")

// CandidateSource supplies candidate pools from the system of record.
type CandidateSource interface {
	GetAvailableStaffForConfirm(ctx context.Context, bookingID string) ([]ServicePool, error)
	GetAvailableStaffForReassign(ctx context.Context, bookingID, bookingServiceID string) ([]Candidate, error)
}

// Resolver builds availability reports by applying the eligibility rule to
// freshly fetched candidate pools.
type Resolver struct {
	source CandidateSource
	logger *logging.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(source CandidateSource, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{source: source, logger: logger.Component("staffing")}
}

// ResolveBooking assesses every service of a booking against the confirm-time pools.
func (r *Resolver) ResolveBooking(ctx context.Context, bookingID string, services []Service) (Report, error) {
	if r == nil || r.source == nil {
		return Report{}, ErrSourceRequired
	}
	pools, err := r.source.GetAvailableStaffForConfirm(ctx, bookingID)
	if err != nil {
		return Report{}, fmt.Errorf("staffing: confirm pools: %w", err)
	}
	report := Assess(bookingID, services, pools)
	r.logger.Debug("booking staffing resolved",
		"booking_id", bookingID,
		"services", len(report.Services),
		"all_staffed", report.AllServicesHaveStaff,
	)
	return report, nil
}

// ResolveService assesses a single service, used for add-ons and reassignment.
func (r *Resolver) ResolveService(ctx context.Context, bookingID string, service Service) (Resolution, error) {
	if r == nil || r.source == nil {
		return Resolution{}, ErrSourceRequired
	}
	candidates, err := r.source.GetAvailableStaffForReassign(ctx, bookingID, service.BookingServiceID)
	if err != nil {
		return Resolution{}, fmt.Errorf("staffing: service pool: %w", err)
	}
	return Pick(service, candidates), nil
}

// Assess applies Pick independently to every service. Services without a
// matching pool resolve as unstaffed.
func Assess(bookingID string, services []Service, pools []ServicePool) Report {
	byService := make(map[string][]Candidate, len(pools))
	for _, p := range pools {
		byService[p.BookingServiceID] = append(byService[p.BookingServiceID], p.Candidates...)
	}
	report := Report{
		BookingID:            bookingID,
		AllServicesHaveStaff: true,
		Services:             make([]Resolution, 0, len(services)),
	}
	for _, svc := range services {
		res := Pick(svc, byService[svc.BookingServiceID])
		if !res.HasAvailableStaff {
			report.AllServicesHaveStaff = false
		}
		report.Services = append(report.Services, res)
	}
	return report
}
