package booking

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition matches every *InvalidTransitionError.
	ErrInvalidTransition = errors.New("booking: invalid transition")
	// ErrConcurrentModification is returned by a Gateway when the compare-and-set fails.
	ErrConcurrentModification = errors.New("booking: concurrent modification")
	ErrBookingNotFound        = errors.New("booking: not found")
	ErrServiceNotFound        = errors.New("booking: service not found")
	ErrStaffRequired          = errors.New("booking: staff id required")
	ErrStaffIneligible        = errors.New("booking: staff not eligible for service")
	ErrNoStaffedServices      = errors.New("booking: no service has available staff")
	ErrInvalidRequest         = errors.New("booking: invalid request")
	ErrUnknownConfirmOption   = errors.New("booking: unknown confirm option")
)

// InvalidTransitionError reports an operation attempted from a status that
// does not permit it.
type InvalidTransitionError struct {
	Current   Status
	Operation Operation
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("booking: %s not allowed from %s", e.Operation, e.Current)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ConcurrentModificationError carries the backend's authoritative state after
// a rejected compare-and-set. Latest is nil when the refetch also failed.
type ConcurrentModificationError struct {
	BookingID string
	Operation Operation
	Latest    *Booking
}

func (e *ConcurrentModificationError) Error() string {
	if e.Latest != nil {
		return fmt.Sprintf("booking: %s on %s rejected, booking is now %s", e.Operation, e.BookingID, e.Latest.Status)
	}
	return fmt.Sprintf("booking: %s on %s rejected, booking changed concurrently", e.Operation, e.BookingID)
}

func (e *ConcurrentModificationError) Is(target error) bool {
	return target == ErrConcurrentModification
}

// TransportError wraps network and upstream failures. Local state is left
// untouched and the caller may retry.
type TransportError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("booking: %s: backend returned %d: %v", e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("booking: %s: %v", e.Operation, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable is always true; transport failures never change lifecycle state.
func (e *TransportError) Retryable() bool { return true }

func invalidTransition(current Status, op Operation) error {
	return &InvalidTransitionError{Current: current, Operation: op}
}
