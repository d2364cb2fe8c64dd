package chathub_test

import (
	"context"
	"testing"
	"whispermatch/backend/internal/chathub"
	"whispermatch/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBroker_CoalescesSignals(t *testing.T) {
	b := chathub.NewMemoryBroker()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, chathub.RoomTopic("r1"))
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.Publish(ctx, chathub.RoomTopic("r1")))
	require.NoError(t, b.Publish(ctx, chathub.RoomTopic("r1")))
	require.NoError(t, b.Publish(ctx, chathub.RoomTopic("r2")))

	<-sub.C()
	select {
	case <-sub.C():
		t.Fatal("signals on one topic should coalesce")
	default:
	}
}

func TestMemoryBroker_Close(t *testing.T) {
	b := chathub.NewMemoryBroker()
	sub, err := b.Subscribe(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, 1, b.Subscribers("t"))

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, 0, b.Subscribers("t"))
}

func TestWatch_UnsubscribeReleasesTopic(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	var got latest[*models.ChatRoom]
	stop, err := h.manager.WatchRoom(ctx, "r1", got.set)
	require.NoError(t, err)
	assert.Equal(t, 1, h.broker.Subscribers(chathub.RoomTopic("r1")))

	stop()
	assert.Eventually(t, func() bool { return h.broker.Subscribers(chathub.RoomTopic("r1")) == 0 }, waitFor, tick)
}

func TestRedisBroker_Channel(t *testing.T) {
	b := chathub.NewRedisBroker(nil, "")
	assert.Equal(t, "whisper:ticket:A", b.Channel(chathub.TicketTopic("A")))
	assert.Equal(t, "x:queue", chathub.NewRedisBroker(nil, "x:").Channel(chathub.QueueTopic))
}
