package wsclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/vetcare-booking-core/internal/dispatch"
	"github.com/wolfman30/vetcare-booking-core/pkg/logging"
)

type realtimeServer struct {
	server  *httptest.Server
	actions chan dispatch.Action
	conns   chan *websocket.Conn
	auth    chan string
	clinics chan string
}

func newRealtimeServer(t *testing.T) *realtimeServer {
	t.Helper()
	rs := &realtimeServer{
		actions: make(chan dispatch.Action, 8),
		conns:   make(chan *websocket.Conn, 4),
		auth:    make(chan string, 4),
		clinics: make(chan string, 4),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	rs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		rs.auth <- r.Header.Get("Authorization")
		rs.clinics <- r.URL.Query().Get("clinicId")
		rs.conns <- conn
		for {
			var action dispatch.Action
			if err := conn.ReadJSON(&action); err != nil {
				return
			}
			rs.actions <- action
		}
	}))
	t.Cleanup(rs.server.Close)
	return rs
}

func (rs *realtimeServer) url() string {
	return "ws" + strings.TrimPrefix(rs.server.URL, "http") + "/ws/sos"
}

func TestSubscribeReceivesAlerts(t *testing.T) {
	rs := newRealtimeServer(t)
	client := New(rs.url(), "svc-token", logging.Discard())

	sub, err := client.Subscribe(context.Background(), "clinic-1")
	require.NoError(t, err)
	defer sub.Close()

	assert.Equal(t, "Bearer svc-token", <-rs.auth)
	assert.Equal(t, "clinic-1", <-rs.clinics)
	conn := <-rs.conns

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(dispatch.Message{
		Event: dispatch.EventClinicNotified,
		Alert: &dispatch.Alert{BookingID: "SOS-1", Status: dispatch.StatusPendingClinicConfirm, Symptoms: "seizure"},
	}))

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, dispatch.EventClinicNotified, msg.Event)
		assert.Equal(t, "SOS-1", msg.Booking())
		assert.Equal(t, "seizure", msg.Alert.Symptoms)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for alert")
	}
}

func TestSendUsesSubscriptionSocket(t *testing.T) {
	rs := newRealtimeServer(t)
	client := New(rs.url(), "", logging.Discard())

	sub, err := client.Subscribe(context.Background(), "clinic-1")
	require.NoError(t, err)
	defer sub.Close()
	<-rs.conns

	require.NoError(t, client.Send(context.Background(), dispatch.ConfirmAction("clinic-1", "SOS-1", "vet-2")))
	select {
	case action := <-rs.actions:
		assert.Equal(t, dispatch.ActionConfirm, action.Action)
		assert.Equal(t, "vet-2", action.StaffID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for confirm")
	}
	assert.Empty(t, <-rs.auth)
}

func TestSendWithoutSubscriptionDialsOnce(t *testing.T) {
	rs := newRealtimeServer(t)
	client := New(rs.url(), "", logging.Discard())

	require.NoError(t, client.Send(context.Background(), dispatch.DeclineAction("clinic-2", "SOS-4", "closed")))
	assert.Equal(t, "clinic-2", <-rs.clinics)
	select {
	case action := <-rs.actions:
		assert.Equal(t, dispatch.ActionDecline, action.Action)
		assert.Equal(t, "closed", action.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for decline")
	}
}

func TestCloseEndsMessageStream(t *testing.T) {
	rs := newRealtimeServer(t)
	client := New(rs.url(), "", logging.Discard())

	sub, err := client.Subscribe(context.Background(), "clinic-1")
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	select {
	case _, ok := <-sub.Messages():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("message stream not closed")
	}
	assert.NoError(t, sub.Close())
}

func TestDialFailure(t *testing.T) {
	client := New("ws://127.0.0.1:1/ws/sos", "", logging.Discard())
	_, err := client.Subscribe(context.Background(), "clinic-1")
	assert.Error(t, err)
}
