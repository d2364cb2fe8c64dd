package models

import "time"

// TicketStatus is the matchmaking state of one session.
type TicketStatus string

const (
	StatusIdle    TicketStatus = "idle"
	StatusWaiting TicketStatus = "waiting"
	StatusMatched TicketStatus = "matched"
)

// Ticket is the per-session matchmaking record. A missing ticket means idle.
type Ticket struct {
	SessionID string       `gorm:"primaryKey;type:text" json:"session_id"`
	Status    TicketStatus `gorm:"type:text;not null" json:"status"`
	RoomID    *string      `gorm:"type:text;index" json:"room_id"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// TableName pins the table name used by the SQL store.
func (Ticket) TableName() string { return "match_tickets" }

// TicketView is what ticket subscribers observe.
type TicketView struct {
	Status TicketStatus `json:"status"`
	RoomID *string      `json:"room_id"`
}

// IdleView is the synthesized view of a session without a ticket.
func IdleView() TicketView {
	return TicketView{Status: StatusIdle}
}

// View projects a ticket into its subscriber view. A nil ticket is idle.
func (t *Ticket) View() TicketView {
	if t == nil {
		return IdleView()
	}
	v := TicketView{Status: t.Status}
	if t.RoomID != nil {
		id := *t.RoomID
		v.RoomID = &id
	}
	return v
}

// RoomIDOrEmpty is a convenience for callers that only care whether a room is assigned.
func (v TicketView) RoomIDOrEmpty() string {
	if v.RoomID == nil {
		return ""
	}
	return *v.RoomID
}

// QueueState is the singleton row holding at most one waiting session.
type QueueState struct {
	ID             uint      `gorm:"primaryKey" json:"-"`
	WaitingSession *string   `gorm:"type:text" json:"waiting_session"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// QueueSingletonID is the primary key of the only QueueState row.
const QueueSingletonID = 1

// TableName pins the table name used by the SQL store.
func (QueueState) TableName() string { return "match_queue" }

// Waiting returns the waiting session id or "".
func (q QueueState) Waiting() string {
	if q.WaitingSession == nil {
		return ""
	}
	return *q.WaitingSession
}

// JoinResult is returned by a queue join.
type JoinResult struct {
	Status TicketStatus `json:"status"`
	RoomID string       `json:"room_id,omitempty"`
}

// QueueInfo is the public view of the queue. The waiting id itself is never exposed.
type QueueInfo struct {
	Waiting   bool      `json:"waiting"`
	UpdatedAt time.Time `json:"updated_at"`
}
