package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"whispermatch/backend/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLStore keeps tickets, the queue row, rooms, messages and typing flags in
// PostgreSQL through gorm. Transactions run SERIALIZABLE and lock the queue
// row, retrying on serialization failures and deadlocks.
type SQLStore struct {
	DB          *gorm.DB
	clock       *MonotonicClock
	MaxAttempts int
}

// NewSQLStore wraps an open gorm connection.
func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{DB: db, clock: NewMonotonicClock(nil)}
}

// Migrate creates the tables and seeds the queue singleton row.
func (s *SQLStore) Migrate() error {
	err := s.DB.AutoMigrate(
		&models.QueueState{},
		&models.Ticket{},
		&models.ChatRoom{},
		&models.ChatMessage{},
		&models.TypingRecord{},
	)
	if err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	seed := models.QueueState{ID: models.QueueSingletonID}
	return s.DB.Where("id = ?", models.QueueSingletonID).FirstOrCreate(&seed).Error
}

// isRetryable reports serialization failures (40001) and deadlocks (40P01).
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return errors.Is(err, ErrConflict)
}

func (s *SQLStore) RunTransaction(ctx context.Context, fn TxFunc) error {
	max := s.MaxAttempts
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	for attempt := 1; ; attempt++ {
		err := s.DB.WithContext(ctx).Transaction(func(db *gorm.DB) error {
			return fn(ctx, &sqlTx{db: db, clock: s.clock})
		}, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err == nil || !isRetryable(err) {
			return err
		}
		if attempt >= max {
			return fmt.Errorf("gave up after %d attempts: %w: %v", attempt, ErrConflict, err)
		}
	}
}

type sqlTx struct {
	db    *gorm.DB
	clock *MonotonicClock
}

func (tx *sqlTx) GetQueue(ctx context.Context) (models.QueueState, error) {
	var q models.QueueState
	err := tx.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", models.QueueSingletonID).
		First(&q).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.QueueState{ID: models.QueueSingletonID}, nil
	}
	return q, err
}

func (tx *sqlTx) SetQueue(ctx context.Context, waiting *string) error {
	q := models.QueueState{ID: models.QueueSingletonID, WaitingSession: waiting, UpdatedAt: tx.clock.Now()}
	return tx.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&q).Error
}

func (tx *sqlTx) PutTicket(ctx context.Context, sessionID string, status models.TicketStatus, roomID *string) error {
	t := models.Ticket{SessionID: sessionID, Status: status, RoomID: roomID, UpdatedAt: tx.clock.Now()}
	return tx.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&t).Error
}

func (tx *sqlTx) DeleteTicket(ctx context.Context, sessionID string) error {
	return tx.db.Where("session_id = ?", sessionID).Delete(&models.Ticket{}).Error
}

func (tx *sqlTx) CreateRoom(ctx context.Context, room *models.ChatRoom) error {
	room.CreatedAt = tx.clock.Now()
	return tx.db.Create(room).Error
}

func (s *SQLStore) GetQueue(ctx context.Context) (models.QueueState, error) {
	var q models.QueueState
	err := s.DB.WithContext(ctx).Where("id = ?", models.QueueSingletonID).First(&q).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.QueueState{ID: models.QueueSingletonID}, nil
	}
	return q, err
}

func (s *SQLStore) GetTicket(ctx context.Context, sessionID string) (*models.Ticket, error) {
	var t models.Ticket
	err := s.DB.WithContext(ctx).Where("session_id = ?", sessionID).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLStore) DeleteTicket(ctx context.Context, sessionID string) error {
	return s.DB.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&models.Ticket{}).Error
}

func (s *SQLStore) GetRoom(ctx context.Context, roomID string) (*models.ChatRoom, error) {
	var room models.ChatRoom
	err := s.DB.WithContext(ctx).Where("room_id = ?", roomID).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// CloseRoom sets IsActive = false, ClosedAt and ClosedBy.
func (s *SQLStore) CloseRoom(ctx context.Context, roomID, closedBy string) error {
	res := s.DB.WithContext(ctx).Model(&models.ChatRoom{}).
		Where("room_id = ?", roomID).
		Updates(map[string]interface{}{
			"is_active": false,
			"closed_at": s.clock.Now(),
			"closed_by": closedBy,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) TouchRoom(ctx context.Context, roomID string) error {
	res := s.DB.WithContext(ctx).Model(&models.ChatRoom{}).
		Where("room_id = ?", roomID).
		Update("last_message_at", s.clock.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) ListRooms(ctx context.Context, activeOnly bool) ([]models.ChatRoom, error) {
	var rooms []models.ChatRoom
	q := s.DB.WithContext(ctx).Order("created_at asc")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	if err := q.Find(&rooms).Error; err != nil {
		return nil, err
	}
	return rooms, nil
}

// AppendMessage inserts msg under a lock on its room row. PostgreSQL assigns
// both the id and created_at (clock_timestamp, read back with RETURNING), so
// within one room id order, time order and commit order agree no matter
// which host served the send.
func (s *SQLStore) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	msg.ID = 0
	msg.CreatedAt = time.Time{}
	return s.DB.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var room models.ChatRoom
		err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("room_id").
			Where("room_id = ?", msg.RoomID).
			Take(&room).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return db.Create(msg).Error
	})
}

// ListMessages returns the room's log ascending by database time; the id
// breaks ties.
func (s *SQLStore) ListMessages(ctx context.Context, roomID string) ([]models.ChatMessage, error) {
	var msgs []models.ChatMessage
	err := s.DB.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at asc, id asc").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *SQLStore) SetTyping(ctx context.Context, roomID, sessionID string, typing bool) error {
	rec := models.TypingRecord{RoomID: roomID, SessionID: sessionID, Typing: typing, UpdatedAt: s.clock.Now()}
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
}

func (s *SQLStore) GetTyping(ctx context.Context, roomID string) (models.TypingStatus, error) {
	var recs []models.TypingRecord
	if err := s.DB.WithContext(ctx).Where("room_id = ?", roomID).Find(&recs).Error; err != nil {
		return nil, err
	}
	status := make(models.TypingStatus, len(recs))
	for _, r := range recs {
		status[r.SessionID] = r.Typing
	}
	return status, nil
}

func (s *SQLStore) Close() error {
	db, err := s.DB.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
