package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/vetcare-booking-core/internal/observability/metrics"
	"github.com/wolfman30/vetcare-booking-core/pkg/logging"
)

const (
	defaultWindow       = 60 * time.Second
	defaultTickInterval = time.Second
)

// SessionConfig carries the collaborators shared by every clinic session.
type SessionConfig struct {
	Window       time.Duration
	TickInterval time.Duration
	Clock        Clock
	Handoff      Handoff
	Recorder     DecisionRecorder
	Metrics      *metrics.DispatchMetrics
	Logger       *logging.Logger
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.Window <= 0 {
		c.Window = defaultWindow
	}
	if c.TickInterval <= 0 {
		c.TickInterval = defaultTickInterval
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = logging.Default()
	}
	return c
}

// State is the operator's view of a clinic session. Remaining counts ticks
// left on the active alert.
type State struct {
	ClinicID  string  `json:"clinicId"`
	Active    *Alert  `json:"active,omitempty"`
	Remaining int     `json:"remaining"`
	Queued    []Alert `json:"queued"`
}

// Outcome describes what a manual action did. NoOp is set when the booking
// was already resolved; TimedOut when the countdown had declined it first.
type Outcome struct {
	BookingID string `json:"bookingId"`
	NoOp      bool   `json:"noOp"`
	TimedOut  bool   `json:"timedOut"`
}

// Session negotiates SOS alerts for one clinic. All queue state is owned by
// a single goroutine; transport sends happen outside it.
type Session struct {
	clinicID  string
	transport Transport
	sub       Subscription
	cfg       SessionConfig
	logger    *logging.Logger

	cmds chan func()
	stop chan struct{}
	done chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	err    error // set before done closes

	// owned by run
	active    *Alert
	timer     *countdown
	queue     []Alert
	decided   map[string]DecisionKind
	resolved  map[string]AlertStatus
	observers map[int]func(State)
	nextObs   int
}

// OpenSession subscribes to the clinic topic and starts the session loop.
func OpenSession(ctx context.Context, clinicID string, transport Transport, cfg SessionConfig) (*Session, error) {
	clinicID = strings.TrimSpace(clinicID)
	if clinicID == "" {
		return nil, ErrClinicRequired
	}
	if transport == nil {
		return nil, errors.New("dispatch: transport required")
	}
	cfg = cfg.withDefaults()

	sub, err := transport.Subscribe(ctx, clinicID)
	if err != nil {
		return nil, &TransportError{Op: "subscribe", Err: err}
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		clinicID:  clinicID,
		transport: transport,
		sub:       sub,
		cfg:       cfg,
		logger:    cfg.Logger.Component("dispatch"),
		cmds:      make(chan func()),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		ctx:       sctx,
		cancel:    cancel,
		decided:   make(map[string]DecisionKind),
		resolved:  make(map[string]AlertStatus),
		observers: make(map[int]func(State)),
	}
	go s.run()
	s.logger.Info("sos session opened", "clinic_id", clinicID)
	return s, nil
}

func (s *Session) ClinicID() string { return s.clinicID }

// Done is closed once the session loop has exited, either through Close or
// because the subscription ended.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports why the session ended: ErrSubscriptionLost when the realtime
// channel closed underneath it, nil while running or after Close.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// closing reports whether the session has ended or Close has begun.
func (s *Session) closing() bool {
	select {
	case <-s.done:
		return true
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) run() {
	defer close(s.done)
	msgs := s.sub.Messages()
	for {
		select {
		case <-s.stop:
			s.shutdown()
			return
		case fn := <-s.cmds:
			fn()
		case msg, ok := <-msgs:
			if !ok {
				// Undecided alerts are dropped with the session; the backend
				// re-notifies them to the next subscription.
				s.logger.Error("sos subscription ended; closing session", "clinic_id", s.clinicID,
					"active", s.active != nil, "queued", len(s.queue))
				s.err = ErrSubscriptionLost
				s.cancel()
				s.active = nil
				s.queue = nil
				s.publish()
				s.shutdown()
				return
			}
			s.handle(msg)
		case <-s.timer.C():
			s.onTick()
		}
	}
}

func (s *Session) shutdown() {
	s.timer.stop()
	s.timer = nil
	if err := s.sub.Close(); err != nil {
		s.logger.Warn("sos subscription close failed", "clinic_id", s.clinicID, "error", err)
	}
}

// do runs fn on the session goroutine and waits for it.
func (s *Session) do(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	select {
	case s.cmds <- func() { fn(); close(ran) }:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-ran
	return nil
}

// async runs fn in the background unless the session is closing.
func (s *Session) async(fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

func (s *Session) handle(msg Message) {
	bookingID := msg.Booking()
	if bookingID == "" {
		s.logger.Debug("sos message without booking id ignored", "clinic_id", s.clinicID, "event", msg.Event)
		return
	}
	if msg.Resolves() {
		status := msg.Status
		if !status.Resolved() && msg.Alert != nil {
			status = msg.Alert.Status
		}
		if !status.Resolved() {
			status = StatusConfirmed
		}
		s.resolve(bookingID, status)
		return
	}
	if msg.Event == EventClinicNotified && msg.Alert != nil {
		s.enqueue(*msg.Alert)
	}
}

func (s *Session) enqueue(alert Alert) {
	id := strings.TrimSpace(alert.BookingID)
	if _, ok := s.resolved[id]; ok {
		return
	}
	if _, ok := s.decided[id]; ok {
		return
	}
	if s.isActive(id) || s.queuedAt(id) >= 0 {
		s.logger.Debug("duplicate sos alert ignored", "clinic_id", s.clinicID, "booking_id", id)
		return
	}
	alert.BookingID = id
	alert.Event = EventClinicNotified
	if alert.Status == "" || alert.Status == StatusSearching {
		alert.Status = StatusPendingClinicConfirm
	}
	if alert.NotifiedAt.IsZero() {
		alert.NotifiedAt = s.cfg.Clock.Now().UTC()
	}
	s.queue = append(s.queue, alert)
	s.logger.Info("sos alert queued", "clinic_id", s.clinicID, "booking_id", id, "queued", len(s.queue))
	if s.active == nil {
		s.promote()
	}
	s.publish()
}

func (s *Session) resolve(bookingID string, status AlertStatus) {
	s.resolved[bookingID] = status
	present := false
	if s.isActive(bookingID) {
		present = true
		s.advance()
	} else if i := s.queuedAt(bookingID); i >= 0 {
		present = true
		s.queue = append(s.queue[:i], s.queue[i+1:]...)
	}
	if !present {
		return
	}
	s.logger.Info("sos alert resolved remotely", "clinic_id", s.clinicID, "booking_id", bookingID, "status", status)
	s.cfg.Metrics.ObserveDecision(string(DecisionResolved))
	d := s.decision(bookingID, DecisionResolved)
	d.Status = status
	s.async(func(ctx context.Context) { s.record(ctx, d) })
	s.publish()
}

func (s *Session) onTick() {
	if !s.timer.tick() {
		s.publish()
		return
	}
	alert := *s.active
	s.decided[alert.BookingID] = DecisionTimeout
	s.advance()
	s.cfg.Metrics.ObserveDecision(string(DecisionTimeout))
	s.logger.Info("sos alert timed out", "clinic_id", s.clinicID, "booking_id", alert.BookingID)

	d := s.decision(alert.BookingID, DecisionTimeout)
	d.Reason = DeclineReasonTimeout
	s.async(func(ctx context.Context) {
		if ctx.Err() != nil {
			return
		}
		if err := s.transport.Send(ctx, DeclineAction(s.clinicID, alert.BookingID, DeclineReasonTimeout)); err != nil {
			s.logger.Error("sos timeout decline failed", "clinic_id", s.clinicID, "booking_id", alert.BookingID, "error", err)
			return
		}
		s.record(ctx, d)
	})
	s.publish()
}

// promote activates the head of the queue with a fresh countdown.
func (s *Session) promote() {
	if len(s.queue) == 0 {
		s.active = nil
		return
	}
	next := s.queue[0]
	s.queue = s.queue[1:]
	s.active = &next
	s.timer = startCountdown(s.cfg.Clock, next.BookingID, s.cfg.Window, s.cfg.TickInterval)
}

// advance drops the active alert and its countdown, then promotes.
func (s *Session) advance() {
	s.timer.stop()
	s.timer = nil
	s.active = nil
	s.promote()
}

func (s *Session) isActive(bookingID string) bool {
	return s.active != nil && s.active.BookingID == bookingID
}

func (s *Session) queuedAt(bookingID string) int {
	for i, a := range s.queue {
		if a.BookingID == bookingID {
			return i
		}
	}
	return -1
}

// take removes an alert for a manual decision. activeOnly rejects queued alerts.
func (s *Session) take(bookingID string, activeOnly bool) (Alert, Outcome, error) {
	out := Outcome{BookingID: bookingID}
	if _, ok := s.resolved[bookingID]; ok {
		out.NoOp = true
		return Alert{}, out, nil
	}
	if kind, ok := s.decided[bookingID]; ok {
		out.NoOp = true
		out.TimedOut = kind == DecisionTimeout
		return Alert{}, out, nil
	}
	if s.isActive(bookingID) {
		alert := *s.active
		s.advance()
		return alert, out, nil
	}
	if i := s.queuedAt(bookingID); i >= 0 {
		if activeOnly {
			return Alert{}, out, ErrNotActive
		}
		alert := s.queue[i]
		s.queue = append(s.queue[:i], s.queue[i+1:]...)
		return alert, out, nil
	}
	return Alert{}, out, ErrAlertNotFound
}

// restore puts back an alert whose send failed.
func (s *Session) restore(alert Alert) {
	delete(s.decided, alert.BookingID)
	if _, ok := s.resolved[alert.BookingID]; ok {
		return
	}
	if s.isActive(alert.BookingID) || s.queuedAt(alert.BookingID) >= 0 {
		return
	}
	s.queue = append([]Alert{alert}, s.queue...)
	if s.active == nil {
		s.promote()
	}
	s.publish()
}

// Accept confirms the active alert with the chosen staff member, then hands
// the booking to the lifecycle.
func (s *Session) Accept(ctx context.Context, bookingID, staffID string) (Outcome, error) {
	bookingID = strings.TrimSpace(bookingID)
	staffID = strings.TrimSpace(staffID)
	if staffID == "" {
		return Outcome{BookingID: bookingID}, ErrStaffRequired
	}
	alert, out, err := s.decide(ctx, bookingID, true, DecisionAccept)
	if err != nil || out.NoOp {
		return out, err
	}

	if err := s.send(ctx, ConfirmAction(s.clinicID, bookingID, staffID)); err != nil {
		_ = s.do(context.Background(), func() { s.restore(alert) })
		return out, err
	}
	s.cfg.Metrics.ObserveDecision(string(DecisionAccept))
	s.logger.Info("sos alert accepted", "clinic_id", s.clinicID, "booking_id", bookingID, "staff_id", staffID)

	d := s.decision(bookingID, DecisionAccept)
	d.StaffID = staffID
	s.record(ctx, d)

	if s.cfg.Handoff != nil {
		if err := s.cfg.Handoff.Track(ctx, bookingID); err != nil {
			s.logger.Warn("sos handoff failed", "clinic_id", s.clinicID, "booking_id", bookingID, "error", err)
		}
	}
	return out, nil
}

// Decline rejects an active or queued alert. Other alerts are untouched.
func (s *Session) Decline(ctx context.Context, bookingID, reason string) (Outcome, error) {
	bookingID = strings.TrimSpace(bookingID)
	reason = strings.TrimSpace(reason)
	alert, out, err := s.decide(ctx, bookingID, false, DecisionDecline)
	if err != nil || out.NoOp {
		return out, err
	}

	if err := s.send(ctx, DeclineAction(s.clinicID, bookingID, reason)); err != nil {
		_ = s.do(context.Background(), func() { s.restore(alert) })
		return out, err
	}
	s.cfg.Metrics.ObserveDecision(string(DecisionDecline))
	s.logger.Info("sos alert declined", "clinic_id", s.clinicID, "booking_id", bookingID, "reason", reason)

	d := s.decision(bookingID, DecisionDecline)
	d.Reason = reason
	s.record(ctx, d)
	return out, nil
}

func (s *Session) decide(ctx context.Context, bookingID string, activeOnly bool, kind DecisionKind) (Alert, Outcome, error) {
	var (
		alert  Alert
		out    Outcome
		actErr error
	)
	err := s.do(ctx, func() {
		alert, out, actErr = s.take(bookingID, activeOnly)
		if actErr != nil || out.NoOp {
			return
		}
		s.decided[bookingID] = kind
		s.publish()
	})
	if err != nil {
		return Alert{}, Outcome{BookingID: bookingID}, err
	}
	return alert, out, actErr
}

// send runs on the caller goroutine and is cancelled when the session closes.
func (s *Session) send(ctx context.Context, action Action) error {
	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	unhook := context.AfterFunc(s.ctx, cancel)
	defer unhook()

	if err := s.transport.Send(sendCtx, action); err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			return err
		}
		return &TransportError{Op: action.Action, Err: err}
	}
	return nil
}

func (s *Session) decision(bookingID string, kind DecisionKind) Decision {
	return Decision{
		ClinicID:  s.clinicID,
		BookingID: bookingID,
		Kind:      kind,
		DecidedAt: s.cfg.Clock.Now().UTC(),
	}
}

func (s *Session) record(ctx context.Context, d Decision) {
	if s.cfg.Recorder == nil {
		return
	}
	if err := s.cfg.Recorder.RecordDecision(ctx, d); err != nil {
		s.logger.Warn("sos decision not recorded", "clinic_id", s.clinicID, "booking_id", d.BookingID, "decision", d.Kind, "error", err)
	}
}

func (s *Session) state() State {
	st := State{ClinicID: s.clinicID, Queued: make([]Alert, len(s.queue))}
	copy(st.Queued, s.queue)
	if s.active != nil {
		active := *s.active
		st.Active = &active
		st.Remaining = s.timer.left()
	}
	return st
}

func (s *Session) publish() {
	depth := len(s.queue)
	if s.active != nil {
		depth++
	}
	s.cfg.Metrics.SetQueueDepth(s.clinicID, depth)
	if len(s.observers) == 0 {
		return
	}
	st := s.state()
	for _, fn := range s.observers {
		fn(st)
	}
}

// Snapshot returns the current state, or an empty state once closed.
func (s *Session) Snapshot() State {
	var st State
	if err := s.do(context.Background(), func() { st = s.state() }); err != nil {
		return State{ClinicID: s.clinicID, Queued: []Alert{}}
	}
	return st
}

// Observe registers fn for every state change and calls it once with the
// current state. fn runs on the session goroutine and must not block.
func (s *Session) Observe(fn func(State)) (func(), error) {
	var id int
	err := s.do(context.Background(), func() {
		id = s.nextObs
		s.nextObs++
		s.observers[id] = fn
		fn(s.state())
	})
	if err != nil {
		return func() {}, err
	}
	return func() {
		_ = s.do(context.Background(), func() { delete(s.observers, id) })
	}, nil
}

// Close stops the countdown, cancels in-flight sends and closes the
// subscription. Nothing is sent after Close returns.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	close(s.stop)
	<-s.done
	s.wg.Wait()
	s.cfg.Metrics.ForgetClinic(s.clinicID)
	s.logger.Info("sos session closed", "clinic_id", s.clinicID)
	return nil
}
