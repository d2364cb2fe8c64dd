package chathub_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"whispermatch/backend/internal/chathub"
	"whispermatch/backend/internal/models"
	"whispermatch/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMatcherJoin_EmptyQueueWaits(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	res, err := h.matcher.Join(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, res.Status)
	assert.Empty(t, res.RoomID)

	q, _ := h.store.GetQueue(ctx)
	assert.Equal(t, "A", q.Waiting())

	view, err := h.matcher.Ticket(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, view.Status)
	assert.Nil(t, view.RoomID)
}

func TestMatcherJoin_Idempotent(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	first, err := h.matcher.Join(ctx, "A")
	require.NoError(t, err)
	second, err := h.matcher.Join(ctx, "A")
	require.NoError(t, err)

	assert.Equal(t, models.StatusWaiting, first.Status)
	assert.Equal(t, models.StatusWaiting, second.Status)

	q, _ := h.store.GetQueue(ctx)
	assert.Equal(t, "A", q.Waiting())
	rooms, _ := h.store.ListRooms(ctx, false)
	assert.Empty(t, rooms, "re-joining must never pair a session with itself")
}

func TestMatcherJoin_Pairs(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	_, err := h.matcher.Join(ctx, "A")
	require.NoError(t, err)
	res, err := h.matcher.Join(ctx, "B")
	require.NoError(t, err)

	assert.Equal(t, models.StatusMatched, res.Status)
	require.NotEmpty(t, res.RoomID)

	room, err := h.store.GetRoom(ctx, res.RoomID)
	require.NoError(t, err)
	assert.True(t, room.IsActive)
	assert.Equal(t, []string{"A", "B"}, []string(room.Participants))
	assert.Nil(t, room.LastMessageAt)

	for _, id := range []string{"A", "B"} {
		view, err := h.matcher.Ticket(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusMatched, view.Status, id)
		assert.Equal(t, res.RoomID, view.RoomIDOrEmpty(), id)
	}

	q, _ := h.store.GetQueue(ctx)
	assert.Nil(t, q.WaitingSession)
}

func TestMatcherJoin_Validation(t *testing.T) {
	store := new(MockStore)
	matcher := chathub.NewMatcherService(store, chathub.NewMemoryBroker())

	_, err := matcher.Join(context.Background(), "  ")

	assert.ErrorIs(t, err, chathub.ErrValidation)
	store.AssertNotCalled(t, "RunTransaction", mock.Anything, mock.Anything)
}

func TestMatcherJoin_TransientFailure(t *testing.T) {
	store := new(MockStore)
	store.On("RunTransaction", mock.Anything, mock.Anything).Return(storage.ErrConflict)
	matcher := chathub.NewMatcherService(store, chathub.NewMemoryBroker())

	_, err := matcher.Join(context.Background(), "A")

	assert.ErrorIs(t, err, chathub.ErrTransient)
	assert.ErrorIs(t, err, storage.ErrConflict)
	assert.True(t, chathub.IsTransient(err))
	store.AssertExpectations(t)
}

func TestMatcherJoin_WatchPropagatesMatch(t *testing.T) {
	h := newTestHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ticketA latest[models.TicketView]
	unsubscribe, err := h.matcher.WatchTicket(ctx, "A", ticketA.set)
	require.NoError(t, err)
	defer unsubscribe()

	assert.Eventually(t, func() bool { return ticketA.count() > 0 }, waitFor, tick)
	assert.Equal(t, models.StatusIdle, ticketA.get().Status, "missing ticket is reported as idle")

	_, err = h.matcher.Join(ctx, "A")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return ticketA.get().Status == models.StatusWaiting }, waitFor, tick)

	res, err := h.matcher.Join(ctx, "B")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		v := ticketA.get()
		return v.Status == models.StatusMatched && v.RoomIDOrEmpty() == res.RoomID
	}, waitFor, tick)
}

func TestMatcherCancel(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	_, err := h.matcher.Join(ctx, "A")
	require.NoError(t, err)
	require.NoError(t, h.matcher.Cancel(ctx, "A"))

	q, _ := h.store.GetQueue(ctx)
	assert.Nil(t, q.WaitingSession)
	view, _ := h.matcher.Ticket(ctx, "A")
	assert.Equal(t, models.StatusIdle, view.Status)

	res, err := h.matcher.Join(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, res.Status, "cancelled session must not be paired")
}

func TestMatcherCancel_OtherWaiterUntouched(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	_, err := h.matcher.Join(ctx, "A")
	require.NoError(t, err)
	require.NoError(t, h.matcher.Cancel(ctx, "B"))

	q, _ := h.store.GetQueue(ctx)
	assert.Equal(t, "A", q.Waiting())
}

func TestMatcherCancel_KeepsFormedRoom(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	_, _ = h.matcher.Join(ctx, "A")
	res, err := h.matcher.Join(ctx, "B")
	require.NoError(t, err)

	require.NoError(t, h.matcher.Cancel(ctx, "A"))

	room, err := h.store.GetRoom(ctx, res.RoomID)
	require.NoError(t, err)
	assert.True(t, room.IsActive)
	view, _ := h.matcher.Ticket(ctx, "B")
	assert.Equal(t, models.StatusMatched, view.Status)
}

func TestMatcherCancel_TransientFailure(t *testing.T) {
	store := new(MockStore)
	store.On("RunTransaction", mock.Anything, mock.Anything).Return(errors.New("connection reset"))
	matcher := chathub.NewMatcherService(store, chathub.NewMemoryBroker())

	err := matcher.Cancel(context.Background(), "A")
	assert.ErrorIs(t, err, chathub.ErrTransient)
}

func TestMatcherResetTicket_SwallowsFailure(t *testing.T) {
	store := new(MockStore)
	store.On("DeleteTicket", mock.Anything, "A").Return(errors.New("boom")).Once()
	matcher := chathub.NewMatcherService(store, chathub.NewMemoryBroker())

	assert.NotPanics(t, func() { matcher.ResetTicket(context.Background(), "A") })
	store.AssertExpectations(t)
}

func TestMatcherQueueStatus(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	info, err := h.matcher.QueueStatus(ctx)
	require.NoError(t, err)
	assert.False(t, info.Waiting)

	_, _ = h.matcher.Join(ctx, "A")
	info, err = h.matcher.QueueStatus(ctx)
	require.NoError(t, err)
	assert.True(t, info.Waiting)
}

// TestMatcherJoin_ConcurrentQueueInvariant races many joins and checks that
// every session ends up in exactly one two-person room and nobody is left
// waiting.
func TestMatcherJoin_ConcurrentQueueInvariant(t *testing.T) {
	h := newTestHub(t)
	h.store.MaxAttempts = 10000
	ctx := context.Background()

	const n = 40
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := h.matcher.Join(ctx, id); err != nil {
				errs <- err
			}
		}(fmt.Sprintf("s%02d", i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	q, _ := h.store.GetQueue(ctx)
	assert.Nil(t, q.WaitingSession)

	rooms, err := h.store.ListRooms(ctx, false)
	require.NoError(t, err)
	assert.Len(t, rooms, n/2)

	seen := make(map[string]string)
	for _, r := range rooms {
		require.Len(t, r.Participants, 2)
		assert.NotEqual(t, r.Participants[0], r.Participants[1])
		for _, p := range r.Participants {
			prev, dup := seen[p]
			assert.False(t, dup, "%s is in rooms %s and %s", p, prev, r.RoomID)
			seen[p] = r.RoomID

			ticket, err := h.store.GetTicket(ctx, p)
			require.NoError(t, err)
			assert.Equal(t, models.StatusMatched, ticket.Status)
			assert.Equal(t, r.RoomID, *ticket.RoomID)
		}
	}
	assert.Len(t, seen, n)
}
