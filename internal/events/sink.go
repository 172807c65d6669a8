package events

import (
	"context"

	"github.com/wolfman30/vetcare-booking-core/internal/booking"
	"github.com/wolfman30/vetcare-booking-core/internal/dispatch"
	"github.com/wolfman30/vetcare-booking-core/pkg/logging"
)

type appender interface {
	Append(ctx context.Context, env Envelope) error
}

// Sink writes booking lifecycle events and SOS dispatch decisions to the outbox.
type Sink struct {
	store  appender
	logger *logging.Logger
}

var (
	_ booking.EventSink         = (*Sink)(nil)
	_ dispatch.DecisionRecorder = (*Sink)(nil)
)

func NewSink(store *OutboxStore, logger *logging.Logger) *Sink {
	if store == nil {
		panic("events: outbox store required")
	}
	return newSinkWithAppender(store, logger)
}

func newSinkWithAppender(store appender, logger *logging.Logger) *Sink {
	if logger == nil {
		logger = logging.Default()
	}
	return &Sink{store: store, logger: logger.Component("events")}
}

// Record appends a lifecycle event.
func (s *Sink) Record(ctx context.Context, evt booking.Event) error {
	env, err := NewEnvelope(string(evt.Type), evt.BookingID, evt.ClinicID, evt, WithTimestamp(evt.OccurredAt))
	if err != nil {
		return err
	}
	return s.store.Append(ctx, env)
}

// RecordDecision appends an SOS decision taken by a clinic session.
func (s *Sink) RecordDecision(ctx context.Context, d dispatch.Decision) error {
	env, err := NewEnvelope("dispatch."+string(d.Kind)+".v1", d.BookingID, d.ClinicID, d, WithTimestamp(d.DecidedAt))
	if err != nil {
		return err
	}
	if err := s.store.Append(ctx, env); err != nil {
		return err
	}
	s.logger.Debug("dispatch decision recorded", "booking_id", d.BookingID, "clinic_id", d.ClinicID, "decision", d.Kind)
	return nil
}
