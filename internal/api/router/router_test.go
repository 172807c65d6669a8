package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/vetcare-booking-core/internal/booking"
	"github.com/wolfman30/vetcare-booking-core/internal/console"
	"github.com/wolfman30/vetcare-booking-core/internal/dispatch"
	httpmiddleware "github.com/wolfman30/vetcare-booking-core/internal/http/middleware"
	"github.com/wolfman30/vetcare-booking-core/pkg/logging"
)

// loadOnly serves Load and Snapshot; every other call panics.
type loadOnly struct {
	console.Lifecycle
	bookings map[string]*booking.Booking
}

func (l *loadOnly) Snapshot(id string) (*booking.Booking, bool) { return nil, false }

func (l *loadOnly) Load(ctx context.Context, id string) (*booking.Booking, error) {
	if b, ok := l.bookings[id]; ok {
		return b, nil
	}
	return nil, booking.ErrBookingNotFound
}

type noSessions struct{ console.Sessions }

func (noSessions) Lookup(clinicID string) (*dispatch.Session, error) { return nil, dispatch.ErrNoSession }

const testSecret = "operator-secret"

func newTestRouter(t *testing.T, checks map[string]Check) http.Handler {
	t.Helper()
	logger := logging.Discard()
	lifecycle := &loadOnly{bookings: map[string]*booking.Booking{
		"B1": {BookingID: "B1", ClinicID: "clinic-1", Status: booking.StatusPending},
		"B2": {BookingID: "B2", ClinicID: "clinic-2", Status: booking.StatusPending},
	}}
	return New(&Config{
		Logger:            logger,
		Bookings:          console.NewBookingHandler(lifecycle, logger),
		Dispatch:          console.NewDispatchHandler(noSessions{}, logger),
		OperatorJWTSecret: testSecret,
		MetricsHandler:    promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{}),
		RateLimiter:       httpmiddleware.NewRateLimiter(100, 100),
		HealthChecks:      checks,
	})
}

func operatorToken(t *testing.T, clinics ...string) string {
	t.Helper()
	claims := httpmiddleware.OperatorClaims{
		ClinicIDs: clinics,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %v", resp["status"])
	}
}

func TestRouterHealthDegraded(t *testing.T) {
	router := newTestRouter(t, map[string]Check{
		"redis": func(ctx context.Context) error { return errors.New("connection refused") },
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rr.Code)
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
}

func TestRouterBookingRoutesRequireToken(t *testing.T) {
	router := newTestRouter(t, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/bookings/B1", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}
}

func TestRouterBookingScopedToClinic(t *testing.T) {
	router := newTestRouter(t, nil)
	token := operatorToken(t, "clinic-1")

	cases := map[string]int{
		"/api/bookings/B1":      http.StatusOK,
		"/api/bookings/B2":      http.StatusForbidden,
		"/api/bookings/missing": http.StatusNotFound,
	}
	for path, want := range cases {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != want {
			t.Errorf("%s: expected status %d, got %d", path, want, rr.Code)
		}
	}
}

func TestRouterSOSRoutesScopedToClinic(t *testing.T) {
	router := newTestRouter(t, nil)
	token := operatorToken(t, "clinic-1")

	req := httptest.NewRequest(http.MethodGet, "/api/clinics/clinic-2/sos", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status %d, got %d", http.StatusForbidden, rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/clinics/clinic-1/sos", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status %d without an open session, got %d", http.StatusNotFound, rr.Code)
	}
}
