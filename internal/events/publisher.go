package events

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/vetcare-booking-core/pkg/logging"
)

// RedisPublisher fans delivered outbox entries out over Redis pub/sub, on the
// shared channel and on a per-clinic channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  *logging.Logger
}

var _ DeliveryHandler = (*RedisPublisher)(nil)

func NewRedisPublisher(client *redis.Client, channel string, logger *logging.Logger) *RedisPublisher {
	if client == nil {
		panic("events: redis client required")
	}
	if strings.TrimSpace(channel) == "" {
		channel = "booking:lifecycle"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisPublisher{client: client, channel: channel, logger: logger.Component("events")}
}

// ClinicChannel is the per-clinic channel name for a clinic id.
func (p *RedisPublisher) ClinicChannel(clinicID string) string {
	return p.channel + ":" + clinicID
}

func (p *RedisPublisher) Handle(ctx context.Context, entry OutboxEntry) error {
	if err := p.client.Publish(ctx, p.channel, []byte(entry.Payload)).Err(); err != nil {
		return fmt.Errorf("events: publish %s: %w", entry.Type, err)
	}
	if entry.ClinicID != "" {
		if err := p.client.Publish(ctx, p.ClinicChannel(entry.ClinicID), []byte(entry.Payload)).Err(); err != nil {
			return fmt.Errorf("events: publish clinic %s: %w", entry.Type, err)
		}
	}
	return nil
}
