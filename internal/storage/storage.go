// Package storage is the boundary to the transactional store behind the
// matchmaking core. A Store offers multi-record optimistic transactions,
// server-assigned monotonic timestamps and single-record writes; change
// notification lives in chathub.
package storage

import (
	"context"
	"errors"
	"sync"
	"time"
	"whispermatch/backend/internal/models"
)

var (
	// ErrNotFound is returned when a ticket or room does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned when a transaction lost an optimistic race and
	// exhausted its attempts.
	ErrConflict = errors.New("storage: transaction conflict")
)

// DefaultMaxAttempts bounds how many times RunTransaction re-runs the
// transaction function after a conflict.
const DefaultMaxAttempts = 5

// Tx is the view a transaction function gets. Reads are tracked; writes are
// staged and applied only if nothing read has changed by commit time.
type Tx interface {
	GetQueue(ctx context.Context) (models.QueueState, error)
	SetQueue(ctx context.Context, waiting *string) error
	PutTicket(ctx context.Context, sessionID string, status models.TicketStatus, roomID *string) error
	DeleteTicket(ctx context.Context, sessionID string) error
	CreateRoom(ctx context.Context, room *models.ChatRoom) error
}

// TxFunc is run by RunTransaction, possibly more than once.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is the persistence contract of the matchmaking core.
type Store interface {
	RunTransaction(ctx context.Context, fn TxFunc) error

	GetQueue(ctx context.Context) (models.QueueState, error)
	GetTicket(ctx context.Context, sessionID string) (*models.Ticket, error)
	DeleteTicket(ctx context.Context, sessionID string) error

	GetRoom(ctx context.Context, roomID string) (*models.ChatRoom, error)
	CloseRoom(ctx context.Context, roomID, closedBy string) error
	TouchRoom(ctx context.Context, roomID string) error
	ListRooms(ctx context.Context, activeOnly bool) ([]models.ChatRoom, error)

	AppendMessage(ctx context.Context, msg *models.ChatMessage) error
	ListMessages(ctx context.Context, roomID string) ([]models.ChatMessage, error)

	Close() error
}

// TypingStore keeps the ephemeral typing flags of each room.
type TypingStore interface {
	SetTyping(ctx context.Context, roomID, sessionID string, typing bool) error
	GetTyping(ctx context.Context, roomID string) (models.TypingStatus, error)
}

// MonotonicClock hands out strictly increasing UTC timestamps with
// microsecond precision, so that ordering by time equals commit order
// within one process.
type MonotonicClock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewMonotonicClock uses now as its source, or time.Now when nil.
func NewMonotonicClock(now func() time.Time) *MonotonicClock {
	if now == nil {
		now = time.Now
	}
	return &MonotonicClock{now: now}
}

func (c *MonotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
