// Package redisbus carries SOS alerts over Redis pub/sub.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/vetcare-booking-core/internal/dispatch"
	"github.com/wolfman30/vetcare-booking-core/pkg/logging"
)

const (
	defaultInboundPrefix   = "sos:clinic:"
	defaultResponseChannel = "sos:responses"
)

// Ledger remembers which alerts a clinic has already decided so a
// redelivered CLINIC_NOTIFIED is not shown again after a restart. Undecided
// alerts stay unclaimed and are shown whenever they are re-notified.
type Ledger interface {
	Seen(ctx context.Context, clinicID, bookingID string) (bool, error)
	Claim(ctx context.Context, clinicID, bookingID string) (bool, error)
}

// Bus reads alerts from sos:clinic:{id} and publishes decisions to one
// response channel.
type Bus struct {
	client          *redis.Client
	inboundPrefix   string
	responseChannel string
	ledger          Ledger
	logger          *logging.Logger
}

var _ dispatch.Transport = (*Bus)(nil)

func New(client *redis.Client, inboundPrefix, responseChannel string, logger *logging.Logger) *Bus {
	if client == nil {
		panic("redisbus: redis client required")
	}
	if strings.TrimSpace(inboundPrefix) == "" {
		inboundPrefix = defaultInboundPrefix
	}
	if strings.TrimSpace(responseChannel) == "" {
		responseChannel = defaultResponseChannel
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Bus{
		client:          client,
		inboundPrefix:   inboundPrefix,
		responseChannel: responseChannel,
		logger:          logger.Component("redisbus"),
	}
}

// WithLedger drops alerts this clinic already decided and records each
// decision published through Send.
func (b *Bus) WithLedger(l Ledger) *Bus {
	b.ledger = l
	return b
}

func (b *Bus) channelFor(clinicID string) string {
	return b.inboundPrefix + clinicID
}

func (b *Bus) Subscribe(ctx context.Context, clinicID string) (dispatch.Subscription, error) {
	ps := b.client.Subscribe(ctx, b.channelFor(clinicID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redisbus: subscribe %s: %w", clinicID, err)
	}
	sub := &subscription{
		bus:      b,
		clinicID: clinicID,
		ps:       ps,
		msgs:     make(chan dispatch.Message, 16),
		done:     make(chan struct{}),
	}
	go sub.pump()
	b.logger.Info("redis sos subscription opened", "clinic_id", clinicID, "channel", b.channelFor(clinicID))
	return sub, nil
}

func (b *Bus) Send(ctx context.Context, action dispatch.Action) error {
	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("redisbus: marshal %s: %w", action.Action, err)
	}
	if err := b.client.Publish(ctx, b.responseChannel, data).Err(); err != nil {
		return fmt.Errorf("redisbus: publish %s: %w", action.Action, err)
	}
	if b.ledger != nil && action.BookingID != "" {
		if _, err := b.ledger.Claim(ctx, action.ClinicID, action.BookingID); err != nil {
			b.logger.Warn("sos decision not claimed", "clinic_id", action.ClinicID, "booking_id", action.BookingID, "error", err)
		}
	}
	return nil
}

type subscription struct {
	bus       *Bus
	clinicID  string
	ps        *redis.PubSub
	msgs      chan dispatch.Message
	done      chan struct{}
	closeOnce sync.Once
}

func (s *subscription) Messages() <-chan dispatch.Message { return s.msgs }

func (s *subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

func (s *subscription) pump() {
	defer close(s.msgs)
	ch := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			var msg dispatch.Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				s.bus.logger.Warn("malformed sos message dropped", "clinic_id", s.clinicID, "error", err)
				continue
			}
			if !s.admit(msg) {
				continue
			}
			select {
			case s.msgs <- msg:
			case <-s.done:
				return
			}
		}
	}
}

func (s *subscription) admit(msg dispatch.Message) bool {
	if s.bus.ledger == nil || msg.Event != dispatch.EventClinicNotified || msg.Booking() == "" {
		return true
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	decided, err := s.bus.ledger.Seen(ctx, s.clinicID, msg.Booking())
	if err != nil {
		s.bus.logger.Warn("sos ledger lookup failed, delivering anyway", "clinic_id", s.clinicID, "booking_id", msg.Booking(), "error", err)
		return true
	}
	if decided {
		s.bus.logger.Debug("sos alert already decided", "clinic_id", s.clinicID, "booking_id", msg.Booking())
	}
	return !decided
}
