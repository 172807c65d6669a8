package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/vetcare-booking-core/internal/observability/metrics"
	"github.com/wolfman30/vetcare-booking-core/internal/staffing"
	"github.com/wolfman30/vetcare-booking-core/pkg/logging"
)

var machineTracer = otel.Tracer("vetcare.internal.booking")

// Machine is the only writer of booking state. It checks every operation
// against the transition table, performs it on the backend as a
// compare-and-set, and replaces its local view with the backend's answer.
type Machine struct {
	gateway  Gateway
	resolver *staffing.Resolver
	sink     EventSink
	metrics  *metrics.LifecycleMetrics
	logger   *logging.Logger
	tracer   trace.Tracer
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*bookingLock
	known map[string]*Booking
}

type bookingLock struct {
	mu   sync.Mutex
	refs int
}

// NewMachine constructs a lifecycle machine over a backend gateway.
func NewMachine(gateway Gateway, logger *logging.Logger) *Machine {
	if gateway == nil {
		panic("booking: gateway required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Machine{
		gateway:  gateway,
		resolver: staffing.NewResolver(gateway, logger),
		logger:   logger.Component("booking"),
		tracer:   machineTracer,
		now:      time.Now,
		locks:    make(map[string]*bookingLock),
		known:    make(map[string]*Booking),
	}
}

// WithEventSink records lifecycle events after every acknowledged transition.
func (m *Machine) WithEventSink(sink EventSink) *Machine {
	m.sink = sink
	return m
}

func (m *Machine) WithMetrics(lm *metrics.LifecycleMetrics) *Machine {
	m.metrics = lm
	return m
}

func (m *Machine) WithClock(now func() time.Time) *Machine {
	if now != nil {
		m.now = now
	}
	return m
}

// Snapshot returns the last state acknowledged by the backend, if any.
func (m *Machine) Snapshot(bookingID string) (*Booking, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.known[bookingID]
	return b.Clone(), ok
}

func (m *Machine) lockBooking(bookingID string) func() {
	m.mu.Lock()
	l, ok := m.locks[bookingID]
	if !ok {
		l = &bookingLock{}
		m.locks[bookingID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, bookingID)
		}
		m.mu.Unlock()
	}
}

// begin serializes a mutating operation on one booking and opens its span.
// The returned func must be called exactly once with the operation's error.
func (m *Machine) begin(ctx context.Context, op Operation, bookingID string) (context.Context, func(error)) {
	ctx, span := m.tracer.Start(ctx, "booking."+string(op))
	span.SetAttributes(
		attribute.String("vetcare.booking_id", bookingID),
		attribute.String("vetcare.operation", string(op)),
	)
	unlock := m.lockBooking(bookingID)
	return ctx, func(err error) {
		unlock()
		m.metrics.ObserveTransition(string(op), outcomeOf(err))
		if err != nil {
			span.RecordError(err)
			m.logger.Warn("booking operation failed",
				"booking_id", bookingID,
				"operation", op,
				"error", err,
			)
		}
		span.End()
	}
}

func (m *Machine) span(ctx context.Context, name, bookingID string) (context.Context, trace.Span) {
	ctx, span := m.tracer.Start(ctx, "booking."+name)
	span.SetAttributes(attribute.String("vetcare.booking_id", bookingID))
	return ctx, span
}

func outcomeOf(err error) string {
	var transportErr *TransportError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid"
	case errors.Is(err, ErrConcurrentModification):
		return "conflict"
	case errors.As(err, &transportErr):
		return "transport"
	default:
		return "error"
	}
}

// current returns the locally known booking, fetching it on first use.
func (m *Machine) current(ctx context.Context, bookingID string) (*Booking, error) {
	m.mu.Lock()
	b, ok := m.known[bookingID]
	m.mu.Unlock()
	if ok {
		return b.Clone(), nil
	}
	return m.refresh(ctx, bookingID)
}

// refresh replaces the local view with the backend's current state.
func (m *Machine) refresh(ctx context.Context, bookingID string) (*Booking, error) {
	if bookingID == "" {
		return nil, fmt.Errorf("%w: booking id required", ErrInvalidRequest)
	}
	b, err := m.gateway.GetBookingByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			m.forget(bookingID)
		}
		return nil, asTransport("get_booking", err)
	}
	if b == nil {
		return nil, &TransportError{Operation: "get_booking", Err: errors.New("empty booking in response")}
	}
	m.store(b)
	return b.Clone(), nil
}

// store caches b until it reaches a terminal status; finished bookings are
// fetched again on demand.
func (m *Machine) store(b *Booking) {
	m.mu.Lock()
	if b.Status.Terminal() {
		delete(m.known, b.BookingID)
	} else {
		m.known[b.BookingID] = b.Clone()
	}
	m.mu.Unlock()
}

func (m *Machine) forget(bookingID string) {
	m.mu.Lock()
	delete(m.known, bookingID)
	m.mu.Unlock()
}

var idempotentOps = map[Operation]bool{
	OpConfirm:             true,
	OpResolveConfirmation: true,
	OpCheckIn:             true,
	OpComplete:            true,
}

type idempotencyKeyCtx struct{}

// WithIdempotencyKey attaches a caller-supplied key to ctx. Idempotent
// operations run under ctx send it, scoped to the operation, in place of the
// key derived from the booking's state.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyCtx{}, key)
}

// IdempotencyKeyFrom returns the caller-supplied key carried by ctx.
func IdempotencyKeyFrom(ctx context.Context) (string, bool) {
	key, _ := ctx.Value(idempotencyKeyCtx{}).(string)
	return key, key != ""
}

// idempotencyKey is stable across retries of one attempt: the derived form
// only changes once the backend acknowledges a write.
func idempotencyKey(ctx context.Context, op Operation, cur *Booking) string {
	if key, ok := IdempotencyKeyFrom(ctx); ok {
		return key + ":" + string(op)
	}
	return fmt.Sprintf("%s:%s:%s:%d", cur.BookingID, op, cur.Status, cur.Version)
}

type remoteCall func(ctx context.Context, ref Ref) (*Booking, error)

// remote runs one compare-and-set against the backend. Local state changes
// only when the backend acknowledges the call.
func (m *Machine) remote(ctx context.Context, op Operation, cur *Booking, call remoteCall) (*Booking, error) {
	ref := Ref{
		BookingID:      cur.BookingID,
		ExpectedStatus: cur.Status,
		Version:        cur.Version,
	}
	if idempotentOps[op] {
		ref.IdempotencyKey = idempotencyKey(ctx, op, cur)
	}
	next, err := call(ctx, ref)
	if err != nil {
		return nil, m.remoteFailure(ctx, op, cur, err)
	}
	if next == nil {
		return nil, &TransportError{Operation: string(op), Err: errors.New("empty booking in response")}
	}
	if next.BookingID == "" {
		next.BookingID = cur.BookingID
	}
	if next.BookingID != cur.BookingID {
		return nil, &TransportError{Operation: string(op), Err: fmt.Errorf("response for booking %s, expected %s", next.BookingID, cur.BookingID)}
	}
	if !CanAdvance(cur.Status, next.Status) {
		m.logger.Warn("backend reported non-forward status",
			"booking_id", cur.BookingID,
			"operation", op,
			"from", cur.Status,
			"to", next.Status,
		)
	}
	for _, svc := range next.Services {
		if !svc.ScheduleConsistent() {
			m.logger.Warn("backend schedule disagrees with duration",
				"booking_id", cur.BookingID,
				"operation", op,
				"booking_service_id", svc.BookingServiceID,
				"duration_minutes", svc.DurationMinutes,
			)
		}
	}
	m.store(next)
	return next.Clone(), nil
}

func (m *Machine) remoteFailure(ctx context.Context, op Operation, cur *Booking, err error) error {
	switch {
	case errors.Is(err, ErrConcurrentModification):
		conflict := &ConcurrentModificationError{BookingID: cur.BookingID, Operation: op}
		latest, ferr := m.gateway.GetBookingByID(ctx, cur.BookingID)
		if ferr != nil || latest == nil {
			m.forget(cur.BookingID)
			m.logger.Warn("refetch after conflict failed", "booking_id", cur.BookingID, "error", ferr)
			return conflict
		}
		m.store(latest)
		conflict.Latest = latest.Clone()
		m.emit(ctx, latest, Event{
			Type:      EventConflict,
			Operation: op,
			From:      cur.Status,
			To:        latest.Status,
		})
		return conflict
	case errors.Is(err, ErrBookingNotFound):
		m.forget(cur.BookingID)
		return err
	default:
		return asTransport(string(op), err)
	}
}

// asTransport leaves domain errors alone and wraps everything else.
func asTransport(op string, err error) error {
	var transportErr *TransportError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &transportErr),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrConcurrentModification),
		errors.Is(err, ErrBookingNotFound),
		errors.Is(err, ErrInvalidRequest):
		return err
	default:
		return &TransportError{Operation: op, Err: err}
	}
}

func (m *Machine) emit(ctx context.Context, b *Booking, evt Event) {
	if m.sink == nil || b == nil {
		return
	}
	evt.BookingID = b.BookingID
	evt.BookingCode = b.BookingCode
	evt.ClinicID = b.ClinicID
	if evt.To == "" {
		evt.To = b.Status
	}
	evt.OccurredAt = m.now().UTC()
	if err := m.sink.Record(ctx, evt); err != nil {
		m.logger.Error("failed to record lifecycle event",
			"booking_id", b.BookingID,
			"event_type", evt.Type,
			"error", err,
		)
	}
}

// step is the common path for single-call transitions.
func (m *Machine) step(ctx context.Context, op Operation, bookingID string, check func(*Booking) error, call remoteCall, evtType EventType) (*Booking, error) {
	cur, err := m.current(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !Allowed(op, cur.Status) {
		return nil, invalidTransition(cur.Status, op)
	}
	if check != nil {
		if err := check(cur); err != nil {
			return nil, err
		}
	}
	next, err := m.remote(ctx, op, cur, call)
	if err != nil {
		return nil, err
	}
	m.emit(ctx, next, Event{Type: evtType, Operation: op, From: cur.Status})
	m.logger.Info("booking transitioned",
		"booking_id", bookingID,
		"operation", op,
		"from", cur.Status,
		"to", next.Status,
	)
	return next, nil
}
