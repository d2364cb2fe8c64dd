package models_test

import (
	"reflect"
	"sync"
	"testing"
	"time"
	"whispermatch/backend/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"
)

// TestChatRoomBeforeCreate_GeneratesUUID verifies that the BeforeCreate hook generates a valid UUID.
func TestChatRoomBeforeCreate_GeneratesUUID(t *testing.T) {
	room := &models.ChatRoom{Participants: pq.StringArray{"a", "b"}, IsActive: true}
	assert.Empty(t, room.RoomID)

	err := room.BeforeCreate(nil) // nil *gorm.DB is acceptable for this hook

	assert.NoError(t, err)
	_, parseErr := uuid.Parse(room.RoomID)
	assert.NoError(t, parseErr, "RoomID must be a valid UUID string")
}

func TestChatRoomBeforeCreate_PreservesExistingID(t *testing.T) {
	room := &models.ChatRoom{RoomID: "fixed"}
	assert.NoError(t, room.BeforeCreate(nil))
	assert.Equal(t, "fixed", room.RoomID)
}

func TestNewChatRoom(t *testing.T) {
	room := models.NewChatRoom("waiter", "joiner")

	assert.True(t, room.IsActive)
	assert.Equal(t, pq.StringArray{"waiter", "joiner"}, room.Participants)
	assert.Nil(t, room.LastMessageAt)
	assert.Nil(t, room.ClosedAt)
	assert.Nil(t, room.ClosedBy)
	assert.NotEmpty(t, room.RoomID)
}

func TestChatRoomPartner(t *testing.T) {
	room := models.NewChatRoom("a", "b")

	assert.Equal(t, "b", room.Partner("a"))
	assert.Equal(t, "a", room.Partner("b"))
	assert.Equal(t, "", room.Partner("c"))
	assert.True(t, room.HasParticipant("a"))
	assert.False(t, room.HasParticipant("c"))
}

func TestChatRoomClone_DoesNotShareState(t *testing.T) {
	now := time.Now()
	by := "a"
	room := models.NewChatRoom("a", "b")
	room.ClosedAt = &now
	room.ClosedBy = &by

	c := room.Clone()
	c.Participants[0] = "x"
	*c.ClosedBy = "z"

	assert.Equal(t, "a", room.Participants[0])
	assert.Equal(t, "a", *room.ClosedBy)
	assert.Nil(t, (*models.ChatRoom)(nil).Clone())
}

func TestTicketView(t *testing.T) {
	var missing *models.Ticket
	assert.Equal(t, models.IdleView(), missing.View())

	room := "r1"
	ticket := &models.Ticket{SessionID: "a", Status: models.StatusMatched, RoomID: &room}
	v := ticket.View()
	assert.Equal(t, models.StatusMatched, v.Status)
	assert.Equal(t, "r1", v.RoomIDOrEmpty())

	room = "changed"
	assert.Equal(t, "r1", v.RoomIDOrEmpty(), "view must not alias the ticket")
}

func TestTypingStatusOthersTyping(t *testing.T) {
	ts := models.TypingStatus{"a": true, "b": false}

	assert.False(t, ts.OthersTyping("a"))
	assert.True(t, ts.OthersTyping("b"))

	c := ts.Clone()
	c["b"] = true
	assert.False(t, ts["b"])
}

// TestStructTags catches accidental tag removal during refactoring.
func TestStructTags(t *testing.T) {
	roomType := reflect.TypeOf(models.ChatRoom{})
	f, found := roomType.FieldByName("Participants")
	assert.True(t, found)
	assert.Contains(t, f.Tag.Get("gorm"), "type:text[]", "Participants should use PostgreSQL array type")

	ticketType := reflect.TypeOf(models.Ticket{})
	f, found = ticketType.FieldByName("SessionID")
	assert.True(t, found)
	assert.Contains(t, f.Tag.Get("gorm"), "primaryKey")

	msgType := reflect.TypeOf(models.ChatMessage{})
	f, found = msgType.FieldByName("SenderID")
	assert.True(t, found)
	assert.Equal(t, "sender", f.Tag.Get("json"))
}

// Message timestamps come from the database clock, not from the host that
// served the send.
func TestChatMessageCreatedAtIsDatabaseAssigned(t *testing.T) {
	sch, err := schema.Parse(&models.ChatMessage{}, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)

	f := sch.LookUpField("CreatedAt")
	require.NotNil(t, f)
	assert.True(t, f.HasDefaultValue)
	assert.Equal(t, "clock_timestamp()", f.DefaultValue)
	assert.Nil(t, f.DefaultValueInterface)
	assert.Zero(t, f.AutoCreateTime, "gorm must not stamp the host time")
	assert.Contains(t, sch.FieldsWithDefaultDBValue, f, "value is read back on insert")
}
