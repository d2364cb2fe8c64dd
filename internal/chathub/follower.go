package chathub

import (
	"context"
	"errors"
	"strings"
	"sync"
	"whispermatch/backend/internal/models"
	"whispermatch/backend/internal/policy"

	"github.com/rs/zerolog/log"
)

// EventType tags events pushed to live clients.
type EventType string

const (
	EventTicket     EventType = "ticket"
	EventRoom       EventType = "room"
	EventMessages   EventType = "messages"
	EventTyping     EventType = "typing"
	EventJoinResult EventType = "join_result"
	EventWarning    EventType = "warning"
	EventError      EventType = "error"
)

// Warning reasons beyond the content gate's own.
const (
	ReasonRoomClosed  policy.Reason = "room_closed"
	ReasonNoRoom      policy.Reason = "no_room"
	ReasonRateLimited policy.Reason = "rate_limited"
)

// Event is one push to a live client. A room event without Room means the
// room is not visible yet and should be shown as loading.
type Event struct {
	Type          EventType            `json:"type"`
	Ticket        *models.TicketView   `json:"ticket,omitempty"`
	Room          *models.ChatRoom     `json:"room,omitempty"`
	Messages      []models.ChatMessage `json:"messages,omitempty"`
	Typing        models.TypingStatus  `json:"typing,omitempty"`
	PartnerTyping bool                 `json:"partner_typing,omitempty"`
	Join          *models.JoinResult   `json:"join,omitempty"`
	Reason        policy.Reason        `json:"reason,omitempty"`
	Op            string               `json:"op,omitempty"`
	Message       string               `json:"message,omitempty"`
}

// Follower is the per-session client actor. It watches the session's
// ticket and, while the ticket names a room, that room's state, messages
// and typing map. Commands are expected from a single goroutine.
type Follower struct {
	SessionID string
	Matcher   *MatcherService
	Manager   *ManagerService
	emit      func(Event)

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	roomID   string
	room     *models.ChatRoom
	stopRoom []func()
	typing   bool
}

// NewFollower creates a follower that reports through emit. emit is called
// from several goroutines and must not block.
func NewFollower(sessionID string, matcher *MatcherService, manager *ManagerService, emit func(Event)) *Follower {
	return &Follower{SessionID: sessionID, Matcher: matcher, Manager: manager, emit: emit}
}

// Start subscribes to the ticket. It stops when ctx ends or Close is called.
func (f *Follower) Start(ctx context.Context) error {
	if strings.TrimSpace(f.SessionID) == "" {
		return ErrValidation
	}
	f.ctx, f.cancel = context.WithCancel(ctx)
	_, err := f.Matcher.WatchTicket(f.ctx, f.SessionID, f.onTicket)
	if err != nil {
		f.cancel()
		return err
	}
	return nil
}

// Close drops all subscriptions.
func (f *Follower) Close() {
	if f.cancel != nil {
		f.cancel()
	}
	f.mu.Lock()
	f.dropRoomLocked()
	f.mu.Unlock()
}

// RoomID returns the room the follower currently tracks.
func (f *Follower) RoomID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roomID
}

// CanChat reports whether the tracked room is visible and still active.
func (f *Follower) CanChat() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roomID != "" && f.room != nil && f.room.IsActive
}

func (f *Follower) dropRoomLocked() {
	for _, stop := range f.stopRoom {
		stop()
	}
	f.stopRoom = nil
	f.room = nil
}

func (f *Follower) onTicket(v models.TicketView) {
	f.emit(Event{Type: EventTicket, Ticket: &v})

	roomID := ""
	if v.Status == models.StatusMatched {
		roomID = v.RoomIDOrEmpty()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if roomID == f.roomID {
		return
	}
	f.dropRoomLocked()
	f.roomID = roomID
	f.typing = false
	if roomID == "" {
		return
	}

	stopRoom, err := f.Manager.WatchRoom(f.ctx, roomID, func(r *models.ChatRoom) {
		if !f.updateRoom(roomID, r) {
			return
		}
		f.emit(Event{Type: EventRoom, Room: r})
	})
	if err != nil {
		f.reportError("watch_room", err)
		return
	}
	stopMessages, err := f.Manager.WatchMessages(f.ctx, roomID, func(msgs []models.ChatMessage) {
		if f.current(roomID) {
			f.emit(Event{Type: EventMessages, Messages: msgs})
		}
	})
	if err != nil {
		stopRoom()
		f.reportError("watch_messages", err)
		return
	}
	stopTyping, err := f.Manager.WatchTyping(f.ctx, roomID, func(t models.TypingStatus) {
		if f.current(roomID) {
			f.emit(Event{Type: EventTyping, Typing: t, PartnerTyping: t.OthersTyping(f.SessionID)})
		}
	})
	if err != nil {
		stopRoom()
		stopMessages()
		f.reportError("watch_typing", err)
		return
	}
	f.stopRoom = []func(){stopRoom, stopMessages, stopTyping}
}

func (f *Follower) current(roomID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roomID == roomID
}

// updateRoom stores r if it belongs to the tracked room. When the room just
// closed, the follower clears its own typing flag.
func (f *Follower) updateRoom(roomID string, r *models.ChatRoom) bool {
	f.mu.Lock()
	if f.roomID != roomID {
		f.mu.Unlock()
		return false
	}
	f.room = r
	clearTyping := r != nil && !r.IsActive && f.typing
	if clearTyping {
		f.typing = false
	}
	f.mu.Unlock()

	if clearTyping {
		if err := f.Manager.SetTyping(f.ctx, roomID, f.SessionID, false); err != nil {
			log.Debug().Err(err).Str("room_id", roomID).Msg("clear typing failed")
		}
	}
	return true
}

func (f *Follower) reportError(op string, err error) {
	log.Warn().Err(err).Str("session_id", f.SessionID).Str("op", op).Msg("live client operation failed")
	f.emit(Event{Type: EventError, Op: op, Message: err.Error()})
}

func (f *Follower) warn(op string, reason policy.Reason) {
	f.emit(Event{Type: EventWarning, Op: op, Reason: reason})
}

// Join enters the queue and reports the result.
func (f *Follower) Join(ctx context.Context) {
	res, err := f.Matcher.Join(ctx, f.SessionID)
	if err != nil {
		f.reportError("join", err)
		return
	}
	f.emit(Event{Type: EventJoinResult, Join: &res})
}

// Cancel leaves the queue.
func (f *Follower) Cancel(ctx context.Context) {
	if err := f.Matcher.Cancel(ctx, f.SessionID); err != nil {
		f.reportError("cancel", err)
	}
}

// Send posts text into the tracked room. Unlike ManagerService.Send it
// refuses to write into a room that is unknown or already closed.
func (f *Follower) Send(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	f.mu.Lock()
	roomID, room := f.roomID, f.room
	f.mu.Unlock()
	if roomID == "" {
		f.warn("send", ReasonNoRoom)
		return
	}
	if room != nil && !room.IsActive {
		f.warn("send", ReasonRoomClosed)
		return
	}

	res, err := f.Manager.Send(ctx, roomID, f.SessionID, text)
	if err != nil {
		f.reportError("send", err)
		return
	}
	if !res.Allowed {
		f.warn("send", res.Reason)
		return
	}
	f.SetTyping(ctx, false)
}

// SetTyping updates the session's flag in the tracked room. Turning it on
// requires an active room; turning it off is always allowed.
func (f *Follower) SetTyping(ctx context.Context, typing bool) {
	f.mu.Lock()
	roomID := f.roomID
	canChat := roomID != "" && f.room != nil && f.room.IsActive
	if typing && !canChat {
		f.mu.Unlock()
		return
	}
	f.typing = typing
	f.mu.Unlock()

	if roomID == "" {
		return
	}
	if err := f.Manager.SetTyping(ctx, roomID, f.SessionID, typing); err != nil {
		log.Debug().Err(err).Str("room_id", roomID).Msg("set typing failed")
	}
}

// Leave closes the tracked room and resets the ticket.
func (f *Follower) Leave(ctx context.Context) {
	roomID := f.RoomID()
	if roomID == "" {
		return
	}
	f.SetTyping(ctx, false)
	f.Manager.Leave(ctx, roomID, f.SessionID)
	f.Matcher.ResetTicket(ctx, f.SessionID)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
