package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

type fakeSub struct {
	ch     chan Message
	closed atomic.Bool
}

func (s *fakeSub) Messages() <-chan Message { return s.ch }

func (s *fakeSub) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeTransport struct {
	mu           sync.Mutex
	subs         map[string]*fakeSub
	sent         []Action
	sendErr      error
	subscribeErr error
	subscribes   map[string]int
	gates        map[string]chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		subs:       make(map[string]*fakeSub),
		subscribes: make(map[string]int),
		gates:      make(map[string]chan struct{}),
	}
}

func (f *fakeTransport) Subscribe(ctx context.Context, clinicID string) (Subscription, error) {
	f.mu.Lock()
	gate := f.gates[clinicID]
	f.subscribes[clinicID]++
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	sub := &fakeSub{ch: make(chan Message)}
	f.subs[clinicID] = sub
	return sub, nil
}

func (f *fakeTransport) Send(ctx context.Context, action Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.sent = append(f.sent, action)
	return nil
}

func (f *fakeTransport) failSends(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeTransport) actions() []Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Action(nil), f.sent...)
}

func (f *fakeTransport) sub(clinicID string) *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[clinicID]
}

// hold makes Subscribe for clinicID block until the returned func is called.
func (f *fakeTransport) hold(clinicID string) func() {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gates[clinicID] = gate
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (f *fakeTransport) subscribeCount(clinicID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes[clinicID]
}

// drop closes the subscription channel the way a lost connection does.
func (f *fakeTransport) drop(clinicID string) {
	close(f.sub(clinicID).ch)
}

// push blocks until the session loop has taken the message.
func (f *fakeTransport) push(clinicID string, msg Message) {
	f.sub(clinicID).ch <- msg
}

func (f *fakeTransport) notify(clinicID string, bookingIDs ...string) {
	for _, id := range bookingIDs {
		f.push(clinicID, Message{Event: EventClinicNotified, Alert: &Alert{BookingID: id, Status: StatusPendingClinicConfirm}})
	}
}

type manualTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }
func (t *manualTicker) Stop()               { t.stopped.Store(true) }

type manualClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*manualTicker
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTicker{ch: make(chan time.Time)}
	c.tickers = append(c.tickers, t)
	return t
}

// fire delivers one tick to the newest running ticker.
func (c *manualClock) fire() bool {
	c.mu.Lock()
	var live *manualTicker
	for i := len(c.tickers) - 1; i >= 0; i-- {
		if !c.tickers[i].stopped.Load() {
			live = c.tickers[i]
			break
		}
	}
	c.now = c.now.Add(time.Second)
	now := c.now
	c.mu.Unlock()
	if live == nil {
		return false
	}
	live.ch <- now
	return true
}

func (c *manualClock) running() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tickers {
		if !t.stopped.Load() {
			n++
		}
	}
	return n
}

type memoryRecorder struct {
	mu        sync.Mutex
	decisions []Decision
}

func (r *memoryRecorder) RecordDecision(ctx context.Context, d Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, d)
	return nil
}

func (r *memoryRecorder) kinds() []DecisionKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DecisionKind, 0, len(r.decisions))
	for _, d := range r.decisions {
		out = append(out, d.Kind)
	}
	return out
}

type trackingHandoff struct {
	mu      sync.Mutex
	tracked []string
	err     error
}

func (h *trackingHandoff) Track(ctx context.Context, bookingID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tracked = append(h.tracked, bookingID)
	return h.err
}

var errLinkDown = errors.New("link down")
