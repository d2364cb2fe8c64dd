package chathub

import (
	"context"
	"errors"
	"strings"
	"whispermatch/backend/internal/metrics"
	"whispermatch/backend/internal/models"
	"whispermatch/backend/internal/policy"
	"whispermatch/backend/internal/storage"

	"github.com/rs/zerolog/log"
)

// ManagerService owns room lifecycle, the message channel and typing presence.
type ManagerService struct {
	Storage storage.Store
	Typing  storage.TypingStore
	Broker  Broker
	Gate    *policy.Gate
}

// NewManagerService wires the services. A nil gate uses the default rules.
func NewManagerService(s storage.Store, typing storage.TypingStore, b Broker, gate *policy.Gate) *ManagerService {
	if gate == nil {
		gate = policy.NewGate()
	}
	return &ManagerService{Storage: s, Typing: typing, Broker: b, Gate: gate}
}

// SendResult describes what Send did. Message is nil when nothing was stored.
type SendResult struct {
	policy.Result
	Message *models.ChatMessage `json:"message,omitempty"`
}

// Room returns the room or nil if it does not exist (yet).
func (m *ManagerService) Room(ctx context.Context, roomID string) (*models.ChatRoom, error) {
	room, err := m.Storage.GetRoom(ctx, roomID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, transient("room", err)
	}
	return room, nil
}

// WatchRoom streams the room state; nil means the room is not visible.
func (m *ManagerService) WatchRoom(ctx context.Context, roomID string, onChange func(*models.ChatRoom)) (func(), error) {
	if strings.TrimSpace(roomID) == "" {
		return noop, nil
	}
	return watch(ctx, m.Broker, RoomTopic(roomID), func(ctx context.Context) (*models.ChatRoom, error) {
		return m.Room(ctx, roomID)
	}, onChange)
}

// Leave closes the room on behalf of sessionID and deletes its ticket. Both
// writes are single attempts and their failures are only logged.
func (m *ManagerService) Leave(ctx context.Context, roomID, sessionID string) {
	if strings.TrimSpace(roomID) == "" || strings.TrimSpace(sessionID) == "" {
		return
	}
	if err := m.Storage.CloseRoom(ctx, roomID, sessionID); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("leave: close room failed")
	} else {
		metrics.RoomsClosedTotal.Inc()
		publish(ctx, m.Broker, RoomTopic(roomID))
	}
	if err := m.Storage.DeleteTicket(ctx, sessionID); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("leave: delete ticket failed")
	} else {
		publish(ctx, m.Broker, TicketTopic(sessionID))
	}
}

// Messages returns the room's full log ascending by server time.
func (m *ManagerService) Messages(ctx context.Context, roomID string) ([]models.ChatMessage, error) {
	msgs, err := m.Storage.ListMessages(ctx, roomID)
	if err != nil {
		return nil, transient("messages", err)
	}
	return msgs, nil
}

// WatchMessages streams the full ordered log on every change.
func (m *ManagerService) WatchMessages(ctx context.Context, roomID string, onChange func([]models.ChatMessage)) (func(), error) {
	if strings.TrimSpace(roomID) == "" {
		return noop, nil
	}
	return watch(ctx, m.Broker, MessagesTopic(roomID), func(ctx context.Context) ([]models.ChatMessage, error) {
		return m.Messages(ctx, roomID)
	}, onChange)
}

// Send runs text through the content gate and appends it to the room.
//
// Blank ids or blank text are a silent no-op. Send does not look at
// ChatRoom.IsActive; refusing to write into a closed room is up to the caller.
// The lastMessageAt update is a separate write whose failure is only logged.
func (m *ManagerService) Send(ctx context.Context, roomID, sessionID, text string) (SendResult, error) {
	content := strings.TrimSpace(text)
	if strings.TrimSpace(roomID) == "" || strings.TrimSpace(sessionID) == "" || content == "" {
		return SendResult{}, nil
	}

	res := m.Gate.Validate(content)
	if !res.Allowed {
		metrics.MessagesRejectedTotal.WithLabelValues(string(res.Reason)).Inc()
		log.Debug().Str("room_id", roomID).Str("reason", string(res.Reason)).Msg("message rejected by content gate")
		return SendResult{Result: res}, nil
	}

	msg := &models.ChatMessage{RoomID: roomID, SenderID: sessionID, Content: content}
	if err := m.Storage.AppendMessage(ctx, msg); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("append message failed")
		return SendResult{Result: res}, transient("send", err)
	}
	metrics.MessagesTotal.Inc()
	publish(ctx, m.Broker, MessagesTopic(roomID))

	if err := m.Storage.TouchRoom(ctx, roomID); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("update lastMessageAt failed")
	} else {
		publish(ctx, m.Broker, RoomTopic(roomID))
	}
	return SendResult{Result: res, Message: msg}, nil
}
