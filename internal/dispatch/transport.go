package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Transport is the realtime SOS channel.
type Transport interface {
	// Subscribe opens the clinic topic. Messages arrive until the
	// subscription is closed or the transport drops.
	Subscribe(ctx context.Context, clinicID string) (Subscription, error)
	Send(ctx context.Context, action Action) error
}

// Subscription is an open clinic topic.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Decision kinds.
type DecisionKind string

const (
	DecisionAccept   DecisionKind = "accept"
	DecisionDecline  DecisionKind = "decline"
	DecisionTimeout  DecisionKind = "timeout"
	DecisionResolved DecisionKind = "resolved"
)

// DeclineReasonTimeout is sent when the countdown runs out.
const DeclineReasonTimeout = "response timeout"

// Decision is a terminal local outcome for one alert.
type Decision struct {
	ClinicID  string       `json:"clinic_id"`
	BookingID string       `json:"booking_id"`
	Kind      DecisionKind `json:"kind"`
	StaffID   string       `json:"staff_id,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	Status    AlertStatus  `json:"status,omitempty"`
	DecidedAt time.Time    `json:"decided_at"`
}

// DecisionRecorder persists decisions for audit.
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, d Decision) error
}

// Handoff passes an accepted SOS booking to the booking lifecycle.
type Handoff interface {
	Track(ctx context.Context, bookingID string) error
}

var (
	ErrStaffRequired  = errors.New("dispatch: staff selection required")
	ErrNotActive      = errors.New("dispatch: alert is not the active alert")
	ErrAlertNotFound  = errors.New("dispatch: alert not found")
	ErrSessionClosed  = errors.New("dispatch: session closed")
	ErrNoSession      = errors.New("dispatch: no session for clinic")
	ErrClinicRequired = errors.New("dispatch: clinic id required")
	// ErrSubscriptionLost ends a session whose realtime channel closed.
	ErrSubscriptionLost = errors.New("dispatch: realtime subscription lost")
)

// TransportError wraps a failed realtime send or subscribe.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("dispatch: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable is always true; the caller decides whether to retry.
func (e *TransportError) Retryable() bool { return true }
