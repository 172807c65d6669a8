package bootstrap

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/vetcare-booking-core/internal/api/router"
	"github.com/wolfman30/vetcare-booking-core/internal/backend"
	"github.com/wolfman30/vetcare-booking-core/internal/booking"
	appconfig "github.com/wolfman30/vetcare-booking-core/internal/config"
	"github.com/wolfman30/vetcare-booking-core/internal/console"
	"github.com/wolfman30/vetcare-booking-core/internal/dispatch"
	"github.com/wolfman30/vetcare-booking-core/internal/dispatch/redisbus"
	"github.com/wolfman30/vetcare-booking-core/internal/events"
	httpmiddleware "github.com/wolfman30/vetcare-booking-core/internal/http/middleware"
	"github.com/wolfman30/vetcare-booking-core/internal/observability/metrics"
	"github.com/wolfman30/vetcare-booking-core/pkg/logging"
)

const limiterIdle = 10 * time.Minute

// App is the assembled API process.
type App struct {
	Handler  http.Handler
	Machine  *booking.Machine
	Sessions *dispatch.Manager

	logger    *logging.Logger
	pool      *pgxpool.Pool
	redis     *redis.Client
	deliverer *events.Deliverer
	limiter   *httpmiddleware.RateLimiter
}

// Deps carries pre-built connections. Nil fields are built from config.
type Deps struct {
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Registry  *prometheus.Registry
	Transport dispatch.Transport
}

// Build wires the booking machine, the SOS session manager and the console
// routes from cfg.
func Build(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, deps Deps) (*App, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Default()
	}

	app := &App{logger: logger, pool: deps.Pool, redis: deps.Redis}
	if app.pool == nil {
		pool, err := BuildPostgresPool(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		app.pool = pool
	}
	if app.redis == nil {
		app.redis = BuildRedisClient(ctx, cfg, logger, true)
	}

	reg := deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	lifecycleMetrics := metrics.NewLifecycleMetrics(reg)
	dispatchMetrics := metrics.NewDispatchMetrics(reg)

	gateway := backend.NewClient(cfg.BackendBaseURL, cfg.BackendAPIToken, cfg.BackendTimeout, logger).
		WithMetrics(lifecycleMetrics)
	app.Machine = booking.NewMachine(gateway, logger).WithMetrics(lifecycleMetrics)

	var (
		recorder dispatch.DecisionRecorder
		ledger   redisbus.Ledger
	)
	if app.pool != nil {
		store := events.NewOutboxStore(app.pool)
		sink := events.NewSink(store, logger)
		app.Machine = app.Machine.WithEventSink(sink)
		recorder = sink
		ledger = events.NewAlertLedger(app.pool)
		if app.redis != nil {
			publisher := events.NewRedisPublisher(app.redis, cfg.EventsChannel, logger)
			app.deliverer = events.NewDeliverer(store, publisher, logger).
				WithBatchSize(int32(cfg.OutboxBatchSize)).
				WithInterval(cfg.OutboxPollInterval)
		} else {
			logger.Warn("redis unavailable; lifecycle events stay in the outbox")
		}
	} else {
		logger.Warn("DATABASE_URL not set; lifecycle events are not persisted")
	}

	transport := deps.Transport
	if transport == nil {
		var err error
		transport, err = BuildDispatchTransport(cfg, app.redis, ledger, logger)
		if err != nil {
			app.Close()
			return nil, err
		}
	}
	app.Sessions = dispatch.NewManager(transport, dispatch.SessionConfig{
		Window:       cfg.SOSResponseWindow,
		TickInterval: cfg.SOSTickInterval,
		Handoff:      app.Machine,
		Recorder:     recorder,
		Metrics:      dispatchMetrics,
		Logger:       logger,
	})

	if cfg.RateLimitPerSecond > 0 {
		app.limiter = httpmiddleware.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst)
	}

	checks := map[string]router.Check{}
	if app.pool != nil {
		checks["postgres"] = app.pool.Ping
	}
	if app.redis != nil {
		rc := app.redis
		checks["redis"] = func(ctx context.Context) error { return rc.Ping(ctx).Err() }
	}

	app.Handler = router.New(&router.Config{
		Logger:             logger,
		Bookings:           console.NewBookingHandler(app.Machine, logger),
		Dispatch:           console.NewDispatchHandler(app.Sessions, logger),
		OperatorJWTSecret:  cfg.OperatorJWTSecret,
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        app.limiter,
		HealthChecks:       checks,
	})
	logger.Info("api wired",
		"sos_transport", cfg.SOSTransport,
		"outbox", app.pool != nil,
		"publisher", app.deliverer != nil,
	)
	return app, nil
}

// Run starts background workers and blocks until ctx is done.
func (a *App) Run(ctx context.Context) {
	if a.deliverer != nil {
		go a.deliverer.Start(ctx)
	}
	if a.limiter == nil {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.limiter.Sweep(limiterIdle); n > 0 {
				a.logger.Debug("rate limiter swept", "callers", n)
			}
		}
	}
}

// Close ends every SOS session and releases connections.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Sessions != nil {
		a.Sessions.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", "error", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
