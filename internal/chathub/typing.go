package chathub

import (
	"context"
	"strings"
	"whispermatch/backend/internal/models"
)

// SetTyping records the session's typing flag, last write wins. Flags never
// expire; a stale true stays until overwritten.
func (m *ManagerService) SetTyping(ctx context.Context, roomID, sessionID string, typing bool) error {
	if strings.TrimSpace(roomID) == "" || strings.TrimSpace(sessionID) == "" {
		return nil
	}
	if err := m.Typing.SetTyping(ctx, roomID, sessionID, typing); err != nil {
		return transient("typing", err)
	}
	publish(ctx, m.Broker, TypingTopic(roomID))
	return nil
}

// TypingStatus returns the room's current typing map.
func (m *ManagerService) TypingStatus(ctx context.Context, roomID string) (models.TypingStatus, error) {
	status, err := m.Typing.GetTyping(ctx, roomID)
	if err != nil {
		return nil, transient("typing", err)
	}
	return status, nil
}

// WatchTyping streams the room's typing map.
func (m *ManagerService) WatchTyping(ctx context.Context, roomID string, onChange func(models.TypingStatus)) (func(), error) {
	if strings.TrimSpace(roomID) == "" {
		return noop, nil
	}
	return watch(ctx, m.Broker, TypingTopic(roomID), func(ctx context.Context) (models.TypingStatus, error) {
		return m.TypingStatus(ctx, roomID)
	}, onChange)
}
