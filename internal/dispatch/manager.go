package dispatch

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wolfman30/vetcare-booking-core/pkg/logging"
)

// openTimeout bounds a shared subscribe so one caller's cancellation does not
// fail the others waiting on it.
const openTimeout = 15 * time.Second

// Manager owns one session per clinic. Sessions open when the first operator
// attaches and close when the last one leaves. A session whose subscription
// dropped is replaced on the next Open.
type Manager struct {
	transport Transport
	cfg       SessionConfig
	logger    *logging.Logger

	opening singleflight.Group

	mu       sync.Mutex
	sessions map[string]*managedSession
}

type managedSession struct {
	session *Session
	refs    int
}

func NewManager(transport Transport, cfg SessionConfig) *Manager {
	if transport == nil {
		panic("dispatch: transport required")
	}
	cfg = cfg.withDefaults()
	return &Manager{
		transport: transport,
		cfg:       cfg,
		logger:    cfg.Logger.Component("dispatch"),
		sessions:  make(map[string]*managedSession),
	}
}

// Open returns the clinic session, subscribing on first use. Every Open must
// be paired with a Release of the returned session. Subscribing happens
// outside the manager lock; concurrent opens for one clinic share it.
func (m *Manager) Open(ctx context.Context, clinicID string) (*Session, error) {
	clinicID = strings.TrimSpace(clinicID)
	if clinicID == "" {
		return nil, ErrClinicRequired
	}
	for {
		if s, _ := m.acquire(clinicID, nil); s != nil {
			return s, nil
		}
		ch := m.opening.DoChan(clinicID, func() (any, error) {
			openCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), openTimeout)
			defer cancel()
			return OpenSession(openCtx, clinicID, m.transport, m.cfg)
		})
		select {
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
			s, extra := m.acquire(clinicID, res.Val.(*Session))
			if extra != nil {
				_ = extra.Close()
			}
			if s != nil {
				return s, nil
			}
		case <-ctx.Done():
			go m.discardUnclaimed(clinicID, ch)
			return nil, ctx.Err()
		}
	}
}

// acquire takes a reference on the live session for clinicID, installing
// fresh when the slot is empty. extra is a fresh session that lost the race
// to another open and must be closed by the caller.
func (m *Manager) acquire(clinicID string, fresh *Session) (s, extra *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ms, ok := m.sessions[clinicID]; ok {
		if !ms.session.closing() {
			ms.refs++
			if fresh != nil && fresh != ms.session {
				extra = fresh
			}
			return ms.session, extra
		}
		delete(m.sessions, clinicID)
		m.logger.Warn("sos session replaced", "clinic_id", clinicID, "error", ms.session.Err())
	}
	if fresh == nil || fresh.closing() {
		return nil, nil
	}
	m.sessions[clinicID] = &managedSession{session: fresh, refs: 1}
	return fresh, nil
}

// discardUnclaimed closes a session opened for callers that all gave up.
func (m *Manager) discardUnclaimed(clinicID string, ch <-chan singleflight.Result) {
	res := <-ch
	if res.Err != nil {
		return
	}
	s := res.Val.(*Session)
	m.mu.Lock()
	ms, ok := m.sessions[clinicID]
	installed := ok && ms.session == s
	m.mu.Unlock()
	if !installed {
		_ = s.Close()
	}
}

// Release drops one reference and closes the session at zero. A session that
// was already replaced is closed outright.
func (m *Manager) Release(s *Session) {
	if s == nil {
		return
	}
	m.mu.Lock()
	ms, ok := m.sessions[s.clinicID]
	if !ok || ms.session != s {
		m.mu.Unlock()
		_ = s.Close()
		return
	}
	ms.refs--
	if ms.refs > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, s.clinicID)
	m.mu.Unlock()

	_ = s.Close()
}

// Lookup returns the live session without taking a reference.
func (m *Manager) Lookup(clinicID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[strings.TrimSpace(clinicID)]
	if !ok || ms.session.closing() {
		return nil, ErrNoSession
	}
	return ms.session, nil
}

// Close shuts every session down.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*managedSession)
	m.mu.Unlock()

	for id, ms := range sessions {
		if err := ms.session.Close(); err != nil {
			m.logger.Warn("sos session close failed", "clinic_id", id, "error", err)
		}
	}
}
