package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/vetcare-booking-core/internal/config"
	"github.com/wolfman30/vetcare-booking-core/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildPostgresPool connects the outbox database. A blank DATABASE_URL
// returns a nil pool; lifecycle events are then not persisted.
func BuildPostgresPool(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	logger.Info("postgres connected")
	return pool, nil
}

// Validate rejects configurations that must not reach production.
func Validate(cfg *appconfig.Config) error {
	if cfg == nil {
		return fmt.Errorf("bootstrap: config is required")
	}
	if cfg.IsProduction() && strings.TrimSpace(cfg.OperatorJWTSecret) == "" {
		return fmt.Errorf("bootstrap: OPERATOR_JWT_SECRET is required in production")
	}
	switch cfg.SOSTransport {
	case appconfig.SOSTransportWebsocket, appconfig.SOSTransportRedis:
	default:
		return fmt.Errorf("bootstrap: unknown SOS_TRANSPORT %q", cfg.SOSTransport)
	}
	if cfg.SOSTickInterval > cfg.SOSResponseWindow {
		return fmt.Errorf("bootstrap: SOS_TICK_INTERVAL exceeds SOS_RESPONSE_WINDOW")
	}
	return nil
}
