package bootstrap

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/vetcare-booking-core/internal/config"
	"github.com/wolfman30/vetcare-booking-core/internal/dispatch"
	"github.com/wolfman30/vetcare-booking-core/internal/dispatch/redisbus"
	"github.com/wolfman30/vetcare-booking-core/internal/dispatch/wsclient"
	"github.com/wolfman30/vetcare-booking-core/pkg/logging"
)

// BuildDispatchTransport selects the SOS realtime channel. The redis bus
// skips alerts the ledger marks as decided when one is given.
func BuildDispatchTransport(cfg *appconfig.Config, redisClient *redis.Client, ledger redisbus.Ledger, logger *logging.Logger) (dispatch.Transport, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	switch cfg.SOSTransport {
	case appconfig.SOSTransportRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("bootstrap: SOS_TRANSPORT=redis requires REDIS_ADDR")
		}
		bus := redisbus.New(redisClient, cfg.SOSInboundPrefix, cfg.SOSResponseChannel, logger)
		if ledger != nil {
			bus = bus.WithLedger(ledger)
		}
		return bus, nil
	case appconfig.SOSTransportWebsocket, "":
		return wsclient.New(cfg.SOSRealtimeURL, cfg.BackendAPIToken, logger), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown SOS_TRANSPORT %q", cfg.SOSTransport)
	}
}
