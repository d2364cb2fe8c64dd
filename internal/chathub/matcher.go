package chathub

import (
	"context"
	"errors"
	"strings"
	"whispermatch/backend/internal/metrics"
	"whispermatch/backend/internal/models"
	"whispermatch/backend/internal/storage"

	"github.com/rs/zerolog/log"
)

// MatcherService pairs sessions through the single-slot queue.
//
// Each session moves idle -> waiting -> matched -> idle. The queue row holds
// at most one waiting session; Join and Cancel change it only inside a store
// transaction, which is the sole guard on it.
type MatcherService struct {
	Storage storage.Store
	Broker  Broker
}

// NewMatcherService creates a new Matcher.
func NewMatcherService(s storage.Store, b Broker) *MatcherService {
	return &MatcherService{Storage: s, Broker: b}
}

// Join puts the session in the queue, or pairs it with the session already
// waiting. Joining again while waiting is idempotent.
func (m *MatcherService) Join(ctx context.Context, sessionID string) (models.JoinResult, error) {
	if strings.TrimSpace(sessionID) == "" {
		return models.JoinResult{}, ErrValidation
	}

	var (
		result  models.JoinResult
		partner string
	)
	err := m.Storage.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		partner = ""
		q, err := tx.GetQueue(ctx)
		if err != nil {
			return err
		}

		waiting := q.Waiting()
		if waiting == "" || waiting == sessionID {
			if err := tx.SetQueue(ctx, &sessionID); err != nil {
				return err
			}
			if err := tx.PutTicket(ctx, sessionID, models.StatusWaiting, nil); err != nil {
				return err
			}
			result = models.JoinResult{Status: models.StatusWaiting}
			return nil
		}

		room := models.NewChatRoom(waiting, sessionID)
		if err := tx.CreateRoom(ctx, room); err != nil {
			return err
		}
		if err := tx.PutTicket(ctx, waiting, models.StatusMatched, &room.RoomID); err != nil {
			return err
		}
		if err := tx.PutTicket(ctx, sessionID, models.StatusMatched, &room.RoomID); err != nil {
			return err
		}
		if err := tx.SetQueue(ctx, nil); err != nil {
			return err
		}
		partner = waiting
		result = models.JoinResult{Status: models.StatusMatched, RoomID: room.RoomID}
		return nil
	})
	if err != nil {
		metrics.QueueJoinsTotal.WithLabelValues("error").Inc()
		log.Warn().Err(err).Str("session_id", sessionID).Msg("join transaction failed")
		return models.JoinResult{}, transient("join", err)
	}

	metrics.QueueJoinsTotal.WithLabelValues(string(result.Status)).Inc()
	if result.Status == models.StatusMatched {
		publish(ctx, m.Broker, TicketTopic(sessionID), TicketTopic(partner), RoomTopic(result.RoomID), QueueTopic)
		log.Info().Str("room_id", result.RoomID).Msg("match found")
	} else {
		publish(ctx, m.Broker, TicketTopic(sessionID), QueueTopic)
		log.Debug().Str("session_id", sessionID).Msg("session waiting in queue")
	}
	return result, nil
}

// Cancel leaves the queue and drops the session's ticket. A room that was
// already formed is not touched.
func (m *MatcherService) Cancel(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return nil
	}
	err := m.Storage.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		q, err := tx.GetQueue(ctx)
		if err != nil {
			return err
		}
		if q.Waiting() == sessionID {
			if err := tx.SetQueue(ctx, nil); err != nil {
				return err
			}
		}
		return tx.DeleteTicket(ctx, sessionID)
	})
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("cancel transaction failed")
		return transient("cancel", err)
	}
	metrics.QueueCancelsTotal.Inc()
	publish(ctx, m.Broker, TicketTopic(sessionID), QueueTopic)
	return nil
}

// ResetTicket deletes the session's ticket outside any transaction. Failures
// are logged and swallowed.
func (m *MatcherService) ResetTicket(ctx context.Context, sessionID string) {
	if strings.TrimSpace(sessionID) == "" {
		return
	}
	if err := m.Storage.DeleteTicket(ctx, sessionID); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("reset ticket failed")
		return
	}
	publish(ctx, m.Broker, TicketTopic(sessionID))
}

// Ticket returns the current view of one session's ticket.
func (m *MatcherService) Ticket(ctx context.Context, sessionID string) (models.TicketView, error) {
	t, err := m.Storage.GetTicket(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.IdleView(), nil
	}
	if err != nil {
		return models.TicketView{}, transient("ticket", err)
	}
	return t.View(), nil
}

// WatchTicket streams the session's ticket. A missing ticket is reported as
// idle. The stream ends only when ctx ends or the returned func is called.
func (m *MatcherService) WatchTicket(ctx context.Context, sessionID string, onChange func(models.TicketView)) (func(), error) {
	if strings.TrimSpace(sessionID) == "" {
		return noop, nil
	}
	return watch(ctx, m.Broker, TicketTopic(sessionID), func(ctx context.Context) (models.TicketView, error) {
		return m.Ticket(ctx, sessionID)
	}, onChange)
}

// QueueStatus tells whether a session is waiting, without revealing which.
func (m *MatcherService) QueueStatus(ctx context.Context) (models.QueueInfo, error) {
	q, err := m.Storage.GetQueue(ctx)
	if err != nil {
		return models.QueueInfo{}, transient("queue", err)
	}
	return models.QueueInfo{Waiting: q.WaitingSession != nil, UpdatedAt: q.UpdatedAt}, nil
}
