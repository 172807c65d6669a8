package console

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/vetcare-booking-core/internal/dispatch"
	"github.com/wolfman30/vetcare-booking-core/pkg/logging"
)

// Sessions is the part of dispatch.Manager the console uses.
type Sessions interface {
	Open(ctx context.Context, clinicID string) (*dispatch.Session, error)
	Release(session *dispatch.Session)
	Lookup(clinicID string) (*dispatch.Session, error)
}

var _ Sessions = (*dispatch.Manager)(nil)

// DispatchHandler serves the SOS alert panel.
type DispatchHandler struct {
	sessions Sessions
	logger   *logging.Logger
}

func NewDispatchHandler(sessions Sessions, logger *logging.Logger) *DispatchHandler {
	if sessions == nil {
		panic("console: dispatch sessions required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DispatchHandler{sessions: sessions, logger: logger.Component("console")}
}

// Routes mounts under /api/clinics/{clinicID}/sos.
func (h *DispatchHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Snapshot)
	r.Post("/{bookingID}/accept", h.Accept)
	r.Post("/{bookingID}/decline", h.Decline)
	return r
}

func clinicID(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "clinicID"))
}

// Snapshot handles GET /api/clinics/{clinicID}/sos.
func (h *DispatchHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Lookup(clinicID(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, session.Snapshot())
}

type acceptRequest struct {
	StaffID string `json:"staffId"`
}

func (h *DispatchHandler) Accept(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, h.logger, err)
		return
	}
	session, err := h.sessions.Lookup(clinicID(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	out, err := session.Accept(r.Context(), chi.URLParam(r, "bookingID"), req.StaffID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type declineRequest struct {
	Reason string `json:"reason"`
}

func (h *DispatchHandler) Decline(w http.ResponseWriter, r *http.Request) {
	var req declineRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, h.logger, err)
		return
	}
	session, err := h.sessions.Lookup(clinicID(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	out, err := session.Decline(r.Context(), chi.URLParam(r, "bookingID"), req.Reason)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// StreamCommand is what the panel sends over the live socket.
type StreamCommand struct {
	Type      string `json:"type"` // "accept", "decline", "ping"
	BookingID string `json:"bookingId,omitempty"`
	StaffID   string `json:"staffId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// StreamMessage is what the panel receives.
type StreamMessage struct {
	Type    string            `json:"type"` // "state", "result", "error", "pong"
	State   *dispatch.State   `json:"state,omitempty"`
	Outcome *dispatch.Outcome `json:"outcome,omitempty"`
	Error   string            `json:"error,omitempty"`
	Code    string            `json:"code,omitempty"`
}

// Stream handles GET /ws/clinics/{clinicID}/sos. The connection holds the
// clinic session open; the last disconnect closes it.
func (h *DispatchHandler) Stream(w http.ResponseWriter, r *http.Request) {
	id := clinicID(r)
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveStream(r.Context(), conn, id)
	}).ServeHTTP(w, r)
}

func (h *DispatchHandler) serveStream(ctx context.Context, conn *websocket.Conn, clinic string) {
	session, err := h.sessions.Open(ctx, clinic)
	if err != nil {
		_, body := classify(err)
		_ = websocket.JSON.Send(conn, StreamMessage{Type: "error", Error: body.Error, Code: body.Code})
		return
	}
	defer h.sessions.Release(session)

	updates := make(chan dispatch.State, 8)
	stop, err := session.Observe(func(st dispatch.State) {
		select {
		case updates <- st:
			return
		default:
		}
		// drop the stale state so the panel always gets the latest
		select {
		case <-updates:
		default:
		}
		select {
		case updates <- st:
		default:
		}
	})
	if err != nil {
		return
	}
	defer stop()

	h.logger.Info("sos stream opened", "clinic_id", clinic)
	commands := make(chan StreamCommand)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(commands)
		for {
			var cmd StreamCommand
			if err := websocket.JSON.Receive(conn, &cmd); err != nil {
				return
			}
			select {
			case commands <- cmd:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case st := <-updates:
			if err := websocket.JSON.Send(conn, StreamMessage{Type: "state", State: &st}); err != nil {
				return
			}
		case cmd, ok := <-commands:
			if !ok {
				h.logger.Debug("sos stream closed", "clinic_id", clinic)
				return
			}
			go h.runCommand(ctx, conn, session, cmd)
		case <-session.Done():
			msg := StreamMessage{Type: "error", Error: "session closed", Code: "SESSION_CLOSED"}
			if err := session.Err(); err != nil {
				_, body := classify(err)
				msg.Error, msg.Code = body.Error, body.Code
			}
			_ = websocket.JSON.Send(conn, msg)
			return
		}
	}
}

func (h *DispatchHandler) runCommand(ctx context.Context, conn *websocket.Conn, session *dispatch.Session, cmd StreamCommand) {
	var (
		out dispatch.Outcome
		err error
	)
	switch cmd.Type {
	case "ping":
		_ = websocket.JSON.Send(conn, StreamMessage{Type: "pong"})
		return
	case "accept":
		out, err = session.Accept(ctx, cmd.BookingID, cmd.StaffID)
	case "decline":
		out, err = session.Decline(ctx, cmd.BookingID, cmd.Reason)
	default:
		_ = websocket.JSON.Send(conn, StreamMessage{Type: "error", Error: "unknown command", Code: "VALIDATION_FAILED"})
		return
	}
	if err != nil {
		_, body := classify(err)
		_ = websocket.JSON.Send(conn, StreamMessage{Type: "error", Error: body.Error, Code: body.Code})
		return
	}
	_ = websocket.JSON.Send(conn, StreamMessage{Type: "result", Outcome: &out})
}
