package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"whispermatch/backend/internal/models"
)

const queueKey = "queue"

func ticketKey(sessionID string) string { return "ticket:" + sessionID }

// MemoryStore is an in-process Store and TypingStore. Transactions use
// per-record versions validated at commit, so concurrent joins behave like
// they do against an optimistic database.
type MemoryStore struct {
	mu       sync.RWMutex
	clock    *MonotonicClock
	versions map[string]uint64

	queue    models.QueueState
	tickets  map[string]models.Ticket
	rooms    map[string]*models.ChatRoom
	messages map[string][]models.ChatMessage
	typing   map[string]models.TypingStatus
	nextID   uint

	// MaxAttempts overrides DefaultMaxAttempts when positive.
	MaxAttempts int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clock:    NewMonotonicClock(nil),
		versions: make(map[string]uint64),
		queue:    models.QueueState{ID: models.QueueSingletonID},
		tickets:  make(map[string]models.Ticket),
		rooms:    make(map[string]*models.ChatRoom),
		messages: make(map[string][]models.ChatMessage),
		typing:   make(map[string]models.TypingStatus),
	}
}

func (s *MemoryStore) maxAttempts() int {
	if s.MaxAttempts > 0 {
		return s.MaxAttempts
	}
	return DefaultMaxAttempts
}

// RunTransaction runs fn against a fresh transaction and commits it,
// re-running fn when a record it read changed in the meantime.
func (s *MemoryStore) RunTransaction(ctx context.Context, fn TxFunc) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &memTx{
			s:       s,
			reads:   make(map[string]uint64),
			tickets: make(map[string]*models.Ticket),
		}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		err := s.commit(tx)
		if !errors.Is(err, ErrConflict) {
			return err
		}
		if attempt >= s.maxAttempts() {
			return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}
	}
}

func (s *MemoryStore) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, v := range tx.reads {
		if s.versions[key] != v {
			return ErrConflict
		}
	}
	for _, r := range tx.rooms {
		if _, exists := s.rooms[r.RoomID]; exists {
			return fmt.Errorf("room %s already exists", r.RoomID)
		}
	}

	now := s.clock.Now()
	if tx.queue != nil {
		s.queue = models.QueueState{ID: models.QueueSingletonID, WaitingSession: tx.queue, UpdatedAt: now}
		if *tx.queue == "" {
			s.queue.WaitingSession = nil
		}
		s.versions[queueKey]++
	}
	for _, r := range tx.rooms {
		r.CreatedAt = now
		s.rooms[r.RoomID] = r.Clone()
	}
	for id, t := range tx.tickets {
		if t == nil {
			delete(s.tickets, id)
		} else {
			t.UpdatedAt = now
			s.tickets[id] = *t
		}
		s.versions[ticketKey(id)]++
	}
	return nil
}

type memTx struct {
	s       *MemoryStore
	reads   map[string]uint64
	queue   *string // staged waiting session; "" clears
	tickets map[string]*models.Ticket
	rooms   []*models.ChatRoom
}

func (tx *memTx) GetQueue(ctx context.Context) (models.QueueState, error) {
	if tx.queue != nil {
		q := models.QueueState{ID: models.QueueSingletonID}
		if *tx.queue != "" {
			w := *tx.queue
			q.WaitingSession = &w
		}
		return q, nil
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	tx.reads[queueKey] = tx.s.versions[queueKey]
	return copyQueue(tx.s.queue), nil
}

func (tx *memTx) SetQueue(ctx context.Context, waiting *string) error {
	w := ""
	if waiting != nil {
		w = *waiting
	}
	tx.queue = &w
	return nil
}

func (tx *memTx) PutTicket(ctx context.Context, sessionID string, status models.TicketStatus, roomID *string) error {
	t := &models.Ticket{SessionID: sessionID, Status: status}
	if roomID != nil {
		id := *roomID
		t.RoomID = &id
	}
	tx.tickets[sessionID] = t
	return nil
}

func (tx *memTx) DeleteTicket(ctx context.Context, sessionID string) error {
	tx.tickets[sessionID] = nil
	return nil
}

func (tx *memTx) CreateRoom(ctx context.Context, room *models.ChatRoom) error {
	tx.rooms = append(tx.rooms, room)
	return nil
}

func copyQueue(q models.QueueState) models.QueueState {
	if q.WaitingSession != nil {
		w := *q.WaitingSession
		q.WaitingSession = &w
	}
	return q
}

func (s *MemoryStore) GetQueue(ctx context.Context) (models.QueueState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyQueue(s.queue), nil
}

func (s *MemoryStore) GetTicket(ctx context.Context, sessionID string) (*models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if t.RoomID != nil {
		id := *t.RoomID
		t.RoomID = &id
	}
	return &t, nil
}

func (s *MemoryStore) DeleteTicket(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tickets, sessionID)
	s.versions[ticketKey(sessionID)]++
	return nil
}

func (s *MemoryStore) GetRoom(ctx context.Context, roomID string) (*models.ChatRoom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) CloseRoom(ctx context.Context, roomID, closedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	now := s.clock.Now()
	by := closedBy
	r.IsActive = false
	r.ClosedAt = &now
	r.ClosedBy = &by
	return nil
}

func (s *MemoryStore) TouchRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	now := s.clock.Now()
	r.LastMessageAt = &now
	return nil
}

func (s *MemoryStore) ListRooms(ctx context.Context, activeOnly bool) ([]models.ChatRoom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := make([]models.ChatRoom, 0, len(s.rooms))
	for _, r := range s.rooms {
		if activeOnly && !r.IsActive {
			continue
		}
		rooms = append(rooms, *r.Clone())
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].CreatedAt.Before(rooms[j].CreatedAt) })
	return rooms, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	msg.ID = s.nextID
	msg.CreatedAt = s.clock.Now()
	s.messages[msg.RoomID] = append(s.messages[msg.RoomID], *msg)
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, roomID string) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ChatMessage{}, s.messages[roomID]...), nil
}

func (s *MemoryStore) SetTyping(ctx context.Context, roomID, sessionID string, typing bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.typing[roomID]
	if !ok {
		m = make(models.TypingStatus)
		s.typing[roomID] = m
	}
	m[sessionID] = typing
	return nil
}

func (s *MemoryStore) GetTyping(ctx context.Context, roomID string) (models.TypingStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.typing[roomID].Clone(), nil
}

func (s *MemoryStore) Close() error { return nil }
