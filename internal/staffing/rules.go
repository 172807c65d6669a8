// Package staffing decides which veterinary staff may perform a booked
// service and which candidate should be suggested for it.
package staffing

import "strings"

// Specialty is a staff member's clinical qualification tag.
type Specialty string

const (
	SpecialtyGeneralVet    Specialty = "GENERAL_VET"
	SpecialtySurgeon       Specialty = "SURGEON"
	SpecialtyDentist       Specialty = "DENTIST"
	SpecialtyDermatologist Specialty = "DERMATOLOGIST"
	SpecialtyGroomer       Specialty = "GROOMER"
)

// Category is the clinical category of a catalog service.
type Category string

const (
	CategoryGroomingSpa Category = "GROOMING_SPA"
	CategorySurgery     Category = "SURGERY"
	CategoryDental      Category = "DENTAL"
	CategoryDermatology Category = "DERMATOLOGY"
	CategoryCheckUp     Category = "CHECK_UP"
	CategoryVaccination Category = "VACCINATION"
	CategoryEmergency   Category = "EMERGENCY"
)

// NormalizeCategory trims and upper-cases a category as received from the backend.
func NormalizeCategory(raw string) Category {
	return Category(strings.ToUpper(strings.TrimSpace(raw)))
}

// NormalizeSpecialty trims and upper-cases a specialty as received from the backend.
func NormalizeSpecialty(raw string) Specialty {
	return Specialty(strings.ToUpper(strings.TrimSpace(raw)))
}

// IsGrooming reports whether the category is the grooming/spa category.
func IsGrooming(category Category) bool {
	return NormalizeCategory(string(category)) == CategoryGroomingSpa
}

// RequiredSpecialty maps a service category to the specialty that performs it.
// Any medical category without a dedicated specialty falls to general practice.
func RequiredSpecialty(category Category) Specialty {
	switch NormalizeCategory(string(category)) {
	case CategoryGroomingSpa:
		return SpecialtyGroomer
	case CategorySurgery:
		return SpecialtySurgeon
	case CategoryDental:
		return SpecialtyDentist
	case CategoryDermatology:
		return SpecialtyDermatologist
	default:
		return SpecialtyGeneralVet
	}
}

// IsEligible applies the specialty rule for one staff member and one service.
//
// Grooming accepts groomers only, groomers never take medical work, and a
// general vet may cover any medical category.
func IsEligible(category Category, specialty Specialty) bool {
	specialty = NormalizeSpecialty(string(specialty))
	if IsGrooming(category) {
		return specialty == SpecialtyGroomer
	}
	if specialty == SpecialtyGroomer {
		return false
	}
	return specialty == RequiredSpecialty(category) || specialty == SpecialtyGeneralVet
}

// Eligible filters candidates down to those allowed to perform the category,
// preserving backend order.
func Eligible(category Category, candidates []Candidate) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if IsEligible(category, c.Specialty) {
			out = append(out, c)
		}
	}
	return out
}

// Pick resolves one service against its candidate pool.
//
// Preference order: an eligible backend-suggested candidate with open slots,
// then the first eligible candidate with open slots. When nobody is free the
// resolution is unstaffed and carries the first eligible candidate's reason.
func Pick(service Service, candidates []Candidate) Resolution {
	category := NormalizeCategory(string(service.Category))
	res := Resolution{
		BookingServiceID:  service.BookingServiceID,
		ServiceID:         service.ServiceID,
		ServiceName:       service.ServiceName,
		Category:          category,
		RequiredSpecialty: RequiredSpecialty(category),
		Eligible:          Eligible(category, candidates),
	}

	for i := range res.Eligible {
		c := res.Eligible[i]
		if c.IsSuggested && c.HasAvailableSlots {
			res.setSuggested(c)
			return res
		}
	}
	for i := range res.Eligible {
		c := res.Eligible[i]
		if c.HasAvailableSlots {
			res.setSuggested(c)
			return res
		}
	}

	switch {
	case len(res.Eligible) > 0 && res.Eligible[0].UnavailableReason != "":
		res.UnavailableReason = res.Eligible[0].UnavailableReason
	case len(res.Eligible) == 0:
		res.UnavailableReason = ReasonNoEligibleStaff
	}
	return res
}

// ReasonNoEligibleStaff is reported when no candidate has a compatible specialty.
const ReasonNoEligibleStaff = "no staff with a compatible specialty"

func (r *Resolution) setSuggested(c Candidate) {
	picked := c
	r.Suggested = &picked
	r.HasAvailableStaff = true
	r.UnavailableReason = ""
}
