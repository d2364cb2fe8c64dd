package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// ChatRoom represents a 1-on-1 chat session between two anonymous sessions.
// Participants are fixed at creation; once IsActive is false the room is terminal.
type ChatRoom struct {
	// RoomID is the unique identifier for the chat room (UUID).
	RoomID string `gorm:"primaryKey" json:"id"`
	// Participants holds exactly two distinct session ids: the waiter first, the joiner second.
	Participants pq.StringArray `gorm:"type:text[];not null" json:"participants"`
	// IsActive indicates whether the chat room is still open.
	IsActive bool `gorm:"not null;index" json:"active"`
	// CreatedAt is assigned by the store when the pairing transaction commits.
	CreatedAt time.Time `json:"created_at"`
	// LastMessageAt is advisory and may lag behind the newest message.
	LastMessageAt *time.Time `json:"last_message_at"`
	// ClosedAt and ClosedBy are set by the first Leave that reaches the store.
	ClosedAt *time.Time `json:"closed_at"`
	ClosedBy *string    `gorm:"type:text" json:"closed_by"`
}

// NewChatRoom builds an active room for the waiting session and the joiner.
func NewChatRoom(waiting, joiner string) *ChatRoom {
	return &ChatRoom{
		RoomID:       uuid.New().String(),
		Participants: pq.StringArray{waiting, joiner},
		IsActive:     true,
	}
}

// BeforeCreate fills in the room id if the caller did not.
func (r *ChatRoom) BeforeCreate(tx *gorm.DB) (err error) {
	if r.RoomID == "" {
		r.RoomID = uuid.New().String()
	}
	return
}

// HasParticipant reports whether sessionID is one of the two participants.
func (r *ChatRoom) HasParticipant(sessionID string) bool {
	for _, p := range r.Participants {
		if p == sessionID {
			return true
		}
	}
	return false
}

// Partner returns the other participant, or "" if sessionID is not in the room.
func (r *ChatRoom) Partner(sessionID string) string {
	if len(r.Participants) != 2 || !r.HasParticipant(sessionID) {
		return ""
	}
	if r.Participants[0] == sessionID {
		return r.Participants[1]
	}
	return r.Participants[0]
}

// Clone returns a deep copy so stores can hand out rooms without sharing state.
func (r *ChatRoom) Clone() *ChatRoom {
	if r == nil {
		return nil
	}
	c := *r
	c.Participants = append(pq.StringArray(nil), r.Participants...)
	if r.LastMessageAt != nil {
		t := *r.LastMessageAt
		c.LastMessageAt = &t
	}
	if r.ClosedAt != nil {
		t := *r.ClosedAt
		c.ClosedAt = &t
	}
	if r.ClosedBy != nil {
		s := *r.ClosedBy
		c.ClosedBy = &s
	}
	return &c
}
