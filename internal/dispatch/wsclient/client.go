// Package wsclient connects SOS sessions to the backend realtime endpoint.
package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wolfman30/vetcare-booking-core/internal/dispatch"
	"github.com/wolfman30/vetcare-booking-core/pkg/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is a dispatch.Transport over one websocket per clinic.
type Client struct {
	endpoint string
	token    string
	dialer   *websocket.Dialer
	logger   *logging.Logger

	mu    sync.Mutex
	conns map[string]*subscription
}

var _ dispatch.Transport = (*Client)(nil)

func New(endpoint, token string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		endpoint: strings.TrimSpace(endpoint),
		token:    strings.TrimSpace(token),
		dialer:   &websocket.Dialer{HandshakeTimeout: writeWait},
		logger:   logger.Component("wsclient"),
		conns:    make(map[string]*subscription),
	}
}

func (c *Client) dial(ctx context.Context, clinicID string) (*websocket.Conn, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("wsclient: parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("clinicId", clinicID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("wsclient: dial: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("wsclient: dial: %w", err)
	}
	return conn, nil
}

// Subscribe opens the clinic socket and streams decoded messages.
func (c *Client) Subscribe(ctx context.Context, clinicID string) (dispatch.Subscription, error) {
	conn, err := c.dial(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	sub := &subscription{
		client:   c,
		clinicID: clinicID,
		conn:     conn,
		msgs:     make(chan dispatch.Message, 16),
		done:     make(chan struct{}),
	}

	c.mu.Lock()
	if prev, ok := c.conns[clinicID]; ok {
		c.mu.Unlock()
		_ = prev.Close()
		c.mu.Lock()
	}
	c.conns[clinicID] = sub
	c.mu.Unlock()

	go sub.readPump()
	go sub.pingPump()
	c.logger.Info("realtime subscription opened", "clinic_id", clinicID)
	return sub, nil
}

// Send writes the action on the clinic socket, or on a short-lived one when
// the clinic has no open subscription.
func (c *Client) Send(ctx context.Context, action dispatch.Action) error {
	c.mu.Lock()
	sub, ok := c.conns[action.ClinicID]
	c.mu.Unlock()
	if ok {
		return sub.write(ctx, action)
	}

	conn, err := c.dial(ctx, action.ClinicID)
	if err != nil {
		return err
	}
	defer conn.Close()
	tmp := &subscription{conn: conn}
	return tmp.write(ctx, action)
}

func (c *Client) drop(sub *subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conns[sub.clinicID] == sub {
		delete(c.conns, sub.clinicID)
	}
}

type subscription struct {
	client   *Client
	clinicID string
	conn     *websocket.Conn
	msgs     chan dispatch.Message
	done     chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (s *subscription) Messages() <-chan dispatch.Message { return s.msgs }

func (s *subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
		if s.client != nil {
			s.client.drop(s)
		}
	})
	return err
}

func (s *subscription) write(ctx context.Context, action dispatch.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("wsclient: set deadline: %w", err)
	}
	if err := s.conn.WriteJSON(action); err != nil {
		return fmt.Errorf("wsclient: write %s: %w", action.Action, err)
	}
	return nil
}

func (s *subscription) readPump() {
	defer close(s.msgs)
	defer func() { _ = s.Close() }()

	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.client.logger.Warn("realtime connection lost", "clinic_id", s.clinicID, "error", err)
				}
			}
			return
		}
		var msg dispatch.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.client.logger.Warn("malformed realtime message dropped", "clinic_id", s.clinicID, "error", err)
			continue
		}
		select {
		case s.msgs <- msg:
		case <-s.done:
			return
		}
	}
}

func (s *subscription) pingPump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
