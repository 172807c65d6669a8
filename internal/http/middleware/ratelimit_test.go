package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wolfman30/vetcare-booking-core/internal/tenancy"
)

func TestRateLimiterPerOperator(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	call := func(operator string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/clinics/c1/sos/S1/accept", nil)
		req = req.WithContext(tenancy.WithOperatorID(req.Context(), operator))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, call("op-1"))
	assert.Equal(t, http.StatusNoContent, call("op-1"))
	assert.Equal(t, http.StatusTooManyRequests, call("op-1"))
	assert.Equal(t, http.StatusNoContent, call("op-2"))

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusNoContent, call("op-1"))
}

func TestRateLimiterSweep(t *testing.T) {
	rl := NewRateLimiter(5, 5)
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow("ip:10.0.0.1")
	now = now.Add(20 * time.Minute)
	rl.Allow("ip:10.0.0.2")

	assert.Equal(t, 1, rl.Sweep(10*time.Minute))
	assert.Len(t, rl.limiters, 1)
}

func TestCallerKeyFallsBackToIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	assert.Equal(t, "ip:192.0.2.7", callerKey(req))

	req.Header.Set("X-Real-Ip", "198.51.100.3")
	assert.Equal(t, "ip:198.51.100.3", callerKey(req))
}
