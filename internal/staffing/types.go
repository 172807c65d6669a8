package staffing

import "time"

// Slot is a fixed-duration window a staff member can be booked into.
type Slot struct {
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

// Candidate is one staff member offered by the backend for a service.
// Candidates are per-call values and are never cached.
type Candidate struct {
	StaffID           string    `json:"staffId"`
	FullName          string    `json:"fullName"`
	Specialty         Specialty `json:"specialty"`
	IsSuggested       bool      `json:"isSuggested"`
	HasAvailableSlots bool      `json:"hasAvailableSlots"`
	UnavailableReason string    `json:"unavailableReason,omitempty"`
	AvailableSlots    []Slot    `json:"availableSlots,omitempty"`
}

// Service identifies the booked service being staffed.
type Service struct {
	BookingServiceID string
	ServiceID        string
	ServiceName      string
	Category         Category
}

// ServicePool is the backend's candidate list for one booked service.
type ServicePool struct {
	BookingServiceID string      `json:"bookingServiceId"`
	ServiceID        string      `json:"serviceId,omitempty"`
	Candidates       []Candidate `json:"availableStaff"`
}

// Resolution is the staffing outcome for one service.
type Resolution struct {
	BookingServiceID  string      `json:"bookingServiceId"`
	ServiceID         string      `json:"serviceId"`
	ServiceName       string      `json:"serviceName"`
	Category          Category    `json:"serviceCategory"`
	RequiredSpecialty Specialty   `json:"requiredSpecialty"`
	HasAvailableStaff bool        `json:"hasAvailableStaff"`
	Suggested         *Candidate  `json:"suggestedStaff,omitempty"`
	UnavailableReason string      `json:"unavailableReason,omitempty"`
	Eligible          []Candidate `json:"eligibleStaff"`
}

// Report is the per-service availability assessment for a booking.
type Report struct {
	BookingID            string       `json:"bookingId"`
	AllServicesHaveStaff bool         `json:"allServicesHaveStaff"`
	Services             []Resolution `json:"services"`
}

// Staffed returns resolutions that have a suggested staff member.
func (r Report) Staffed() []Resolution {
	var out []Resolution
	for _, s := range r.Services {
		if s.HasAvailableStaff {
			out = append(out, s)
		}
	}
	return out
}

// Unstaffed returns resolutions with nobody available.
func (r Report) Unstaffed() []Resolution {
	var out []Resolution
	for _, s := range r.Services {
		if !s.HasAvailableStaff {
			out = append(out, s)
		}
	}
	return out
}

// Assignments maps booking service id to the suggested staff id for every
// staffed service.
func (r Report) Assignments() map[string]string {
	out := make(map[string]string, len(r.Services))
	for _, s := range r.Services {
		if s.HasAvailableStaff && s.Suggested != nil {
			out[s.BookingServiceID] = s.Suggested.StaffID
		}
	}
	return out
}

// Lookup returns the resolution for a booking service id.
func (r Report) Lookup(bookingServiceID string) (Resolution, bool) {
	for _, s := range r.Services {
		if s.BookingServiceID == bookingServiceID {
			return s, true
		}
	}
	return Resolution{}, false
}
