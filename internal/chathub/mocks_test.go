package chathub_test

import (
	"context"
	"sync"
	"testing"
	"time"
	"whispermatch/backend/internal/chathub"
	"whispermatch/backend/internal/models"
	"whispermatch/backend/internal/storage"

	"github.com/stretchr/testify/mock"
)

// MockStore is a testify mock of storage.Store and storage.TypingStore.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) RunTransaction(ctx context.Context, fn storage.TxFunc) error {
	args := m.Called(ctx, fn)
	return args.Error(0)
}

func (m *MockStore) GetQueue(ctx context.Context) (models.QueueState, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.QueueState), args.Error(1)
}

func (m *MockStore) GetTicket(ctx context.Context, sessionID string) (*models.Ticket, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Ticket), args.Error(1)
}

func (m *MockStore) DeleteTicket(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *MockStore) GetRoom(ctx context.Context, roomID string) (*models.ChatRoom, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ChatRoom), args.Error(1)
}

func (m *MockStore) CloseRoom(ctx context.Context, roomID, closedBy string) error {
	args := m.Called(ctx, roomID, closedBy)
	return args.Error(0)
}

func (m *MockStore) TouchRoom(ctx context.Context, roomID string) error {
	args := m.Called(ctx, roomID)
	return args.Error(0)
}

func (m *MockStore) ListRooms(ctx context.Context, activeOnly bool) ([]models.ChatRoom, error) {
	args := m.Called(ctx, activeOnly)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ChatRoom), args.Error(1)
}

func (m *MockStore) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockStore) ListMessages(ctx context.Context, roomID string) ([]models.ChatMessage, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ChatMessage), args.Error(1)
}

func (m *MockStore) SetTyping(ctx context.Context, roomID, sessionID string, typing bool) error {
	args := m.Called(ctx, roomID, sessionID, typing)
	return args.Error(0)
}

func (m *MockStore) GetTyping(ctx context.Context, roomID string) (models.TypingStatus, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(models.TypingStatus), args.Error(1)
}

func (m *MockStore) Close() error { return nil }

// latest keeps the most recent value a watch delivered.
type latest[T any] struct {
	mu sync.Mutex
	v  T
	n  int
}

func (l *latest[T]) set(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.v = v
	l.n++
}

func (l *latest[T]) get() T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.v
}

func (l *latest[T]) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}

// recorder collects follower events.
type recorder struct {
	mu     sync.Mutex
	events []chathub.Event
}

func (r *recorder) emit(ev chathub.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// last returns the newest event of type t.
func (r *recorder) last(t chathub.EventType) (chathub.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == t {
			return r.events[i], true
		}
	}
	return chathub.Event{}, false
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type testHub struct {
	store   *storage.MemoryStore
	broker  *chathub.MemoryBroker
	matcher *chathub.MatcherService
	manager *chathub.ManagerService
}

func newTestHub(t *testing.T) *testHub {
	t.Helper()
	store := storage.NewMemoryStore()
	broker := chathub.NewMemoryBroker()
	return &testHub{
		store:   store,
		broker:  broker,
		matcher: chathub.NewMatcherService(store, broker),
		manager: chathub.NewManagerService(store, store, broker, nil),
	}
}
