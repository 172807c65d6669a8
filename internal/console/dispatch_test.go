package console

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/vetcare-booking-core/internal/dispatch"
	"github.com/wolfman30/vetcare-booking-core/pkg/logging"
)

type chanSub struct {
	ch chan dispatch.Message
}

func (s *chanSub) Messages() <-chan dispatch.Message { return s.ch }
func (s *chanSub) Close() error                      { return nil }

type chanTransport struct {
	mu   sync.Mutex
	subs map[string]*chanSub
	sent []dispatch.Action
}

func newChanTransport() *chanTransport {
	return &chanTransport{subs: make(map[string]*chanSub)}
}

func (c *chanTransport) Subscribe(ctx context.Context, clinicID string) (dispatch.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := &chanSub{ch: make(chan dispatch.Message, 8)}
	c.subs[clinicID] = sub
	return sub, nil
}

func (c *chanTransport) Send(ctx context.Context, action dispatch.Action) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, action)
	return nil
}

func (c *chanTransport) notify(clinicID, bookingID string) {
	c.mu.Lock()
	sub := c.subs[clinicID]
	c.mu.Unlock()
	sub.ch <- dispatch.Message{Event: dispatch.EventClinicNotified, Alert: &dispatch.Alert{BookingID: bookingID}}
}

func (c *chanTransport) actions() []dispatch.Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]dispatch.Action(nil), c.sent...)
}

func newDispatchRouter(m *dispatch.Manager) http.Handler {
	h := NewDispatchHandler(m, logging.Discard())
	r := chi.NewRouter()
	r.Mount("/api/clinics/{clinicID}/sos", h.Routes())
	r.Get("/ws/clinics/{clinicID}/sos", h.Stream)
	return r
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func waitActive(t *testing.T, s *dispatch.Session, bookingID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := s.Snapshot()
		return st.Active != nil && st.Active.BookingID == bookingID
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDispatchAcceptAndDecline(t *testing.T) {
	tr := newChanTransport()
	m := dispatch.NewManager(tr, dispatch.SessionConfig{Logger: logging.Discard()})
	t.Cleanup(m.Close)
	h := newDispatchRouter(m)

	session, err := m.Open(context.Background(), "clinic-1")
	require.NoError(t, err)
	tr.notify("clinic-1", "SOS-1")
	tr.notify("clinic-1", "SOS-2")
	waitActive(t, session, "SOS-1")

	rec := post(t, h, "/api/clinics/clinic-1/sos/SOS-1/accept", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, h, "/api/clinics/clinic-1/sos/SOS-2/accept", `{"staffId":"vet-1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = post(t, h, "/api/clinics/clinic-1/sos/SOS-1/accept", `{"staffId":"vet-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var out dispatch.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.False(t, out.NoOp)

	rec = post(t, h, "/api/clinics/clinic-1/sos/SOS-2/decline", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = post(t, h, "/api/clinics/clinic-1/sos/SOS-1/decline", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.NoOp)

	assert.Equal(t, []dispatch.Action{
		dispatch.ConfirmAction("clinic-1", "SOS-1", "vet-1"),
		dispatch.DeclineAction("clinic-1", "SOS-2", ""),
	}, tr.actions())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/clinics/clinic-1/sos", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"clinicId":"clinic-1","remaining":0,"queued":[]}`, rec.Body.String())
}

func TestDispatchWithoutSession(t *testing.T) {
	m := dispatch.NewManager(newChanTransport(), dispatch.SessionConfig{Logger: logging.Discard()})
	h := newDispatchRouter(m)

	rec := post(t, h, "/api/clinics/clinic-9/sos/SOS-1/accept", `{"staffId":"vet-1"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func receiveUntil(t *testing.T, conn *websocket.Conn, match func(StreamMessage) bool) StreamMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg StreamMessage
		require.NoError(t, websocket.JSON.Receive(conn, &msg))
		if match(msg) {
			return msg
		}
	}
}

func TestStreamPushesStateAndRunsCommands(t *testing.T) {
	tr := newChanTransport()
	m := dispatch.NewManager(tr, dispatch.SessionConfig{Logger: logging.Discard()})
	t.Cleanup(m.Close)

	srv := httptest.NewServer(newDispatchRouter(m))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/clinics/clinic-1/sos"
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	require.NoError(t, err)

	first := receiveUntil(t, conn, func(m StreamMessage) bool { return m.Type == "state" })
	assert.Nil(t, first.State.Active)

	tr.notify("clinic-1", "SOS-7")
	active := receiveUntil(t, conn, func(m StreamMessage) bool { return m.Type == "state" && m.State.Active != nil })
	assert.Equal(t, "SOS-7", active.State.Active.BookingID)

	require.NoError(t, websocket.JSON.Send(conn, StreamCommand{Type: "accept", BookingID: "SOS-7"}))
	failed := receiveUntil(t, conn, func(m StreamMessage) bool { return m.Type == "error" })
	assert.Equal(t, "VALIDATION_FAILED", failed.Code)

	require.NoError(t, websocket.JSON.Send(conn, StreamCommand{Type: "accept", BookingID: "SOS-7", StaffID: "vet-2"}))
	result := receiveUntil(t, conn, func(m StreamMessage) bool { return m.Type == "result" })
	require.NotNil(t, result.Outcome)
	assert.Equal(t, "SOS-7", result.Outcome.BookingID)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		_, err := m.Lookup("clinic-1")
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStreamReportsLostSubscription(t *testing.T) {
	tr := newChanTransport()
	m := dispatch.NewManager(tr, dispatch.SessionConfig{Logger: logging.Discard()})
	t.Cleanup(m.Close)

	srv := httptest.NewServer(newDispatchRouter(m))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/clinics/clinic-1/sos"
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	receiveUntil(t, conn, func(m StreamMessage) bool { return m.Type == "state" })

	tr.mu.Lock()
	close(tr.subs["clinic-1"].ch)
	tr.mu.Unlock()

	lost := receiveUntil(t, conn, func(m StreamMessage) bool { return m.Type == "error" })
	assert.Equal(t, "TRANSPORT_FAILURE", lost.Code)
	assert.Contains(t, lost.Error, "subscription lost")

	_, err = m.Lookup("clinic-1")
	assert.ErrorIs(t, err, dispatch.ErrNoSession)

	// a reconnecting panel gets a fresh subscription
	again, err := websocket.Dial(wsURL, "", srv.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = again.Close() })
	receiveUntil(t, again, func(m StreamMessage) bool { return m.Type == "state" })
	tr.notify("clinic-1", "SOS-8")
	active := receiveUntil(t, again, func(m StreamMessage) bool { return m.Type == "state" && m.State.Active != nil })
	assert.Equal(t, "SOS-8", active.State.Active.BookingID)
}
