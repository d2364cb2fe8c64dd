package models

import "time"

// ChatMessage is one immutable entry of a room's message log.
// CreatedAt is assigned by the store, never by the client; the SQL store
// leaves it to the database clock so that every host agrees on it.
type ChatMessage struct {
	ID uint `gorm:"primaryKey" json:"id"`
	// RoomID is the identifier of the chat room where the message was sent.
	RoomID string `gorm:"type:text;not null;index:idx_room_msg,priority:1" json:"room_id"`
	// SenderID is the session id of the author.
	SenderID string `gorm:"type:text;not null" json:"sender"`
	// Content is the trimmed text that passed the content policy gate.
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"not null;default:clock_timestamp();autoCreateTime:false;index:idx_room_msg,priority:2" json:"created_at"`
}

// TableName pins the table name used by the SQL store.
func (ChatMessage) TableName() string { return "chat_messages" }

// TypingStatus maps session id to its typing flag for one room.
type TypingStatus map[string]bool

// Clone copies the map so subscribers never share it with the store.
func (t TypingStatus) Clone() TypingStatus {
	c := make(TypingStatus, len(t))
	for k, v := range t {
		c[k] = v
	}
	return c
}

// OthersTyping reports whether any session other than self is typing.
func (t TypingStatus) OthersTyping(self string) bool {
	for id, typing := range t {
		if id != self && typing {
			return true
		}
	}
	return false
}

// TypingRecord is the SQL representation of one typing flag.
type TypingRecord struct {
	RoomID    string `gorm:"primaryKey;type:text"`
	SessionID string `gorm:"primaryKey;type:text"`
	Typing    bool   `gorm:"not null"`
	UpdatedAt time.Time
}

// TableName pins the table name used by the SQL store.
func (TypingRecord) TableName() string { return "typing_statuses" }
