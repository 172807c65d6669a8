// Package backend implements the booking gateway over the clinic backend's
// JSON API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/vetcare-booking-core/internal/booking"
	"github.com/wolfman30/vetcare-booking-core/internal/observability/metrics"
	"github.com/wolfman30/vetcare-booking-core/pkg/logging"
)

const (
	defaultBaseURL = "http://localhost:8081"
	defaultTimeout = 15 * time.Second

	codeInvalidTransition = "INVALID_TRANSITION"
)

var backendTracer = otel.Tracer("vetcare.internal.backend")

// Client calls the booking backend. Every lifecycle call carries the
// caller's expected status and version so the backend can reject stale writes.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiToken   string
	logger     *logging.Logger
	metrics    *metrics.LifecycleMetrics
}

var _ booking.Gateway = (*Client)(nil)

// NewClient constructs a backend client.
func NewClient(baseURL, apiToken string, timeout time.Duration, logger *logging.Logger) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiToken:   apiToken,
		logger:     logger.Component("backend"),
	}
}

func (c *Client) WithMetrics(m *metrics.LifecycleMetrics) *Client {
	c.metrics = m
	return c
}

// envelope is the backend's response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
}

type call struct {
	op     string
	method string
	path   string
	body   any
	ref    *booking.Ref
	out    any
}

func (c *Client) do(ctx context.Context, cl call) error {
	ctx, span := backendTracer.Start(ctx, "backend."+cl.op)
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", cl.method),
		attribute.String("vetcare.backend_path", cl.path),
	)

	start := time.Now()
	status, err := c.doJSON(ctx, cl)
	c.metrics.ObserveGatewayLatency(cl.op, statusLabel(status, err), time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func statusLabel(status int, err error) string {
	if status == 0 && err != nil {
		return "network_error"
	}
	return strconv.Itoa(status)
}

func (c *Client) doJSON(ctx context.Context, cl call) (int, error) {
	var bodyReader io.Reader
	if cl.body != nil {
		payload, err := json.Marshal(cl.body)
		if err != nil {
			return 0, fmt.Errorf("backend: %s: marshal request: %w", cl.op, err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, bodyReader)
	if err != nil {
		return 0, fmt.Errorf("backend: %s: build request: %w", cl.op, err)
	}
	req.Header.Set("Accept", "application/json")
	if cl.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}
	if cl.ref != nil {
		req.Header.Set("If-Match", strconv.Quote(strconv.FormatInt(cl.ref.Version, 10)))
		if cl.ref.ExpectedStatus != "" {
			req.Header.Set("X-Expected-Status", string(cl.ref.ExpectedStatus))
		}
		if cl.ref.IdempotencyKey != "" {
			req.Header.Set("Idempotency-Key", cl.ref.IdempotencyKey)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &booking.TransportError{Operation: cl.op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, &booking.TransportError{Operation: cl.op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	var env envelope
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &env); err != nil && resp.StatusCode < 300 {
			return resp.StatusCode, &booking.TransportError{Operation: cl.op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := env.Message
		if msg == "" {
			msg = truncate(string(respBody), 300)
		}
		c.logger.Warn("backend non-2xx response",
			"status", resp.StatusCode,
			"path", cl.path,
			"code", env.Code,
			"message", msg,
		)
		return resp.StatusCode, c.mapError(cl, resp.StatusCode, env, msg)
	}
	if len(respBody) > 0 && !env.Success {
		return resp.StatusCode, fmt.Errorf("%w: %s", booking.ErrInvalidRequest, env.Message)
	}
	if cl.out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(env.Data, cl.out); err != nil {
		return resp.StatusCode, &booking.TransportError{Operation: cl.op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode data: %w", err)}
	}
	return resp.StatusCode, nil
}

func (c *Client) mapError(cl call, status int, env envelope, msg string) error {
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("backend: %s: %w", cl.op, booking.ErrBookingNotFound)
	case status == http.StatusConflict || status == http.StatusPreconditionFailed:
		return fmt.Errorf("backend: %s: %w", cl.op, booking.ErrConcurrentModification)
	case status == http.StatusUnprocessableEntity && env.Code == codeInvalidTransition:
		var detail struct {
			CurrentStatus booking.Status `json:"currentStatus"`
		}
		_ = json.Unmarshal(env.Data, &detail)
		current := detail.CurrentStatus
		if current == "" && cl.ref != nil {
			current = cl.ref.ExpectedStatus
		}
		return &booking.InvalidTransitionError{Current: current, Operation: booking.Operation(cl.op)}
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", booking.ErrInvalidRequest, msg)
	default:
		return &booking.TransportError{Operation: cl.op, StatusCode: status, Err: errors.New(msg)}
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
