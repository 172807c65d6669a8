package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/vetcare-booking-core/internal/booking"
	"github.com/wolfman30/vetcare-booking-core/internal/dispatch"
)

type memoryAppender struct {
	envs []Envelope
}

func (m *memoryAppender) Append(ctx context.Context, env Envelope) error {
	m.envs = append(m.envs, env)
	return nil
}

func TestSinkRecordsLifecycleEvent(t *testing.T) {
	store := &memoryAppender{}
	sink := newSinkWithAppender(store, nil)
	at := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	err := sink.Record(context.Background(), booking.Event{
		Type:       booking.EventConfirmed,
		BookingID:  "B1",
		ClinicID:   "clinic-1",
		Operation:  booking.OpConfirm,
		From:       booking.StatusPending,
		To:         booking.StatusAssigned,
		OccurredAt: at,
	})
	require.NoError(t, err)
	require.Len(t, store.envs, 1)
	env := store.envs[0]
	assert.Equal(t, string(booking.EventConfirmed), env.EventType)
	assert.Equal(t, "B1", env.Aggregate)
	assert.Equal(t, "clinic-1", env.ClinicID)
	assert.Equal(t, at.UnixMicro(), env.TimestampMicros)

	var evt booking.Event
	require.NoError(t, json.Unmarshal(env.Payload, &evt))
	assert.Equal(t, booking.StatusAssigned, evt.To)
}

func TestSinkRecordsDispatchDecision(t *testing.T) {
	store := &memoryAppender{}
	sink := newSinkWithAppender(store, nil)
	err := sink.RecordDecision(context.Background(), dispatch.Decision{
		ClinicID:  "clinic-1",
		BookingID: "SOS-1",
		Kind:      dispatch.DecisionTimeout,
		Reason:    dispatch.DeclineReasonTimeout,
	})
	require.NoError(t, err)
	require.Len(t, store.envs, 1)
	assert.Equal(t, "dispatch.timeout.v1", store.envs[0].EventType)
}

func TestRedisPublisherFansOut(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	sub := client.Subscribe(ctx, "booking:lifecycle", "booking:lifecycle:clinic-1")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	pub := NewRedisPublisher(client, "", nil)
	require.NoError(t, pub.Handle(ctx, OutboxEntry{ClinicID: "clinic-1", Type: "booking.created.v1", Payload: []byte(`{"ok":true}`)}))

	channels := map[string]bool{}
	for i := 0; i < 2; i++ {
		msg, err := sub.ReceiveMessage(ctx)
		require.NoError(t, err)
		assert.Equal(t, `{"ok":true}`, msg.Payload)
		channels[msg.Channel] = true
	}
	assert.True(t, channels["booking:lifecycle"])
	assert.True(t, channels["booking:lifecycle:clinic-1"])
}
