package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/vetcare-booking-core/internal/console"
	httpmiddleware "github.com/wolfman30/vetcare-booking-core/internal/http/middleware"
	"github.com/wolfman30/vetcare-booking-core/pkg/logging"
)

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Bookings           *console.BookingHandler
	Dispatch           *console.DispatchHandler
	OperatorJWTSecret  string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	RateLimiter        *httpmiddleware.RateLimiter
	HealthChecks       map[string]Check
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.HealthChecks))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	r.Group(func(operator chi.Router) {
		if cfg.OperatorJWTSecret != "" {
			operator.Use(httpmiddleware.OperatorJWT(cfg.OperatorJWTSecret))
		}
		if cfg.RateLimiter != nil {
			operator.Use(cfg.RateLimiter.Middleware)
		}

		if cfg.Bookings != nil {
			operator.Mount("/api/bookings", cfg.Bookings.Routes())
		}
		if cfg.Dispatch != nil {
			operator.Route("/api/clinics/{clinicID}/sos", func(sos chi.Router) {
				if cfg.OperatorJWTSecret != "" {
					sos.Use(httpmiddleware.ClinicScope("clinicID"))
				}
				sos.Mount("/", cfg.Dispatch.Routes())
			})
			operator.Route("/ws/clinics/{clinicID}/sos", func(ws chi.Router) {
				if cfg.OperatorJWTSecret != "" {
					ws.Use(httpmiddleware.ClinicScope("clinicID"))
				}
				ws.Get("/", cfg.Dispatch.Stream)
			})
		}
	})

	return r
}

func healthHandler(checks map[string]Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		resp := map[string]any{"status": "ok"}
		failed := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			status = http.StatusServiceUnavailable
			resp["status"] = "degraded"
			resp["checks"] = failed
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
