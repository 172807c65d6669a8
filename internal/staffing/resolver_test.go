package staffing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	pools       []ServicePool
	reassign    map[string][]Candidate
	err         error
	confirmHits int
}

func (s *stubSource) GetAvailableStaffForConfirm(ctx context.Context, bookingID string) ([]ServicePool, error) {
	s.confirmHits++
	if s.err != nil {
		return nil, s.err
	}
	return s.pools, nil
}

func (s *stubSource) GetAvailableStaffForReassign(ctx context.Context, bookingID, bookingServiceID string) ([]Candidate, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.reassign[bookingServiceID], nil
}

func b1Services() []Service {
	return []Service{
		{BookingServiceID: "bs-checkup", ServiceID: "svc-checkup", ServiceName: "Annual check-up", Category: CategoryCheckUp},
		{BookingServiceID: "bs-groom", ServiceID: "svc-groom", ServiceName: "Full groom", Category: CategoryGroomingSpa},
	}
}

func TestResolveBookingMixedAvailability(t *testing.T) {
	src := &stubSource{pools: []ServicePool{
		{BookingServiceID: "bs-checkup", Candidates: []Candidate{
			{StaffID: "gv-1", Specialty: SpecialtyGeneralVet, IsSuggested: true, HasAvailableSlots: true},
		}},
		{BookingServiceID: "bs-groom", Candidates: []Candidate{
			{StaffID: "gr-1", Specialty: SpecialtyGroomer, UnavailableReason: "no groomer schedule"},
		}},
	}}
	resolver := NewResolver(src, nil)

	report, err := resolver.ResolveBooking(context.Background(), "B1", b1Services())
	require.NoError(t, err)
	assert.Equal(t, "B1", report.BookingID)
	assert.False(t, report.AllServicesHaveStaff)
	require.Len(t, report.Services, 2)

	staffed := report.Staffed()
	require.Len(t, staffed, 1)
	assert.Equal(t, "bs-checkup", staffed[0].BookingServiceID)

	unstaffed := report.Unstaffed()
	require.Len(t, unstaffed, 1)
	assert.Equal(t, "no groomer schedule", unstaffed[0].UnavailableReason)

	assert.Equal(t, map[string]string{"bs-checkup": "gv-1"}, report.Assignments())
}

func TestResolveBookingNeverCaches(t *testing.T) {
	src := &stubSource{}
	resolver := NewResolver(src, nil)
	_, err := resolver.ResolveBooking(context.Background(), "B1", b1Services())
	require.NoError(t, err)
	_, err = resolver.ResolveBooking(context.Background(), "B1", b1Services())
	require.NoError(t, err)
	assert.Equal(t, 2, src.confirmHits)
}

func TestResolveBookingSourceError(t *testing.T) {
	boom := errors.New("backend down")
	resolver := NewResolver(&stubSource{err: boom}, nil)
	_, err := resolver.ResolveBooking(context.Background(), "B1", b1Services())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestResolveServiceScopedPool(t *testing.T) {
	src := &stubSource{reassign: map[string][]Candidate{
		"bs-derm": {
			{StaffID: "gr-1", Specialty: SpecialtyGroomer, HasAvailableSlots: true},
			{StaffID: "derm-1", Specialty: SpecialtyDermatologist, HasAvailableSlots: true},
		},
	}}
	resolver := NewResolver(src, nil)
	res, err := resolver.ResolveService(context.Background(), "B2", Service{BookingServiceID: "bs-derm", Category: CategoryDermatology})
	require.NoError(t, err)
	require.NotNil(t, res.Suggested)
	assert.Equal(t, "derm-1", res.Suggested.StaffID)
	assert.Equal(t, 0, src.confirmHits)
}

func TestResolverRequiresSource(t *testing.T) {
	var resolver *Resolver
	_, err := resolver.ResolveBooking(context.Background(), "B1", nil)
	assert.ErrorIs(t, err, ErrSourceRequired)
	_, err = NewResolver(nil, nil).ResolveService(context.Background(), "B1", Service{})
	assert.ErrorIs(t, err, ErrSourceRequired)
}

func TestAssessMissingPoolIsUnstaffed(t *testing.T) {
	report := Assess("B3", []Service{{BookingServiceID: "bs-x", Category: CategorySurgery}}, nil)
	assert.False(t, report.AllServicesHaveStaff)
	_, ok := report.Lookup("bs-x")
	assert.True(t, ok)
}
