package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetRoom returns the room, or 404 while it is not visible.
func (h *Handler) GetRoom(c *gin.Context) {
	room, err := h.Manager.Room(c.Request.Context(), c.Param("room"))
	if err != nil {
		writeError(c, "room", err)
		return
	}
	if room == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, room)
}

// GetMessages returns the room's messages ascending by server time.
func (h *Handler) GetMessages(c *gin.Context) {
	msgs, err := h.Manager.Messages(c.Request.Context(), c.Param("room"))
	if err != nil {
		writeError(c, "messages", err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

type sendRequest struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
}

// SendMessage appends a message after the content gate. Blank input is a
// silent no-op (204); a policy rejection is 422 with a localized warning.
// Like the core operation, it does not look at whether the room is active.
func (h *Handler) SendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	id := sessionID(c, req.SessionID)
	if id != "" && !h.Limits.Send.Allow(id) {
		h.tooMany(c)
		return
	}

	res, err := h.Manager.Send(c.Request.Context(), c.Param("room"), id, req.Content)
	if err != nil {
		writeError(c, "send", err)
		return
	}
	switch {
	case res.Message != nil:
		c.JSON(http.StatusCreated, res.Message)
	case !res.Allowed && res.Reason != "":
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"reason":  res.Reason,
			"warning": h.Localizer.GetString(h.lang(c), "warning_"+string(res.Reason)),
		})
	default:
		c.Status(http.StatusNoContent)
	}
}

// LeaveRoom closes the room for the caller. It always answers 204 because
// leaving is best effort.
func (h *Handler) LeaveRoom(c *gin.Context) {
	var req sessionRequest
	_ = c.ShouldBindJSON(&req)
	h.Manager.Leave(c.Request.Context(), c.Param("room"), sessionID(c, req.SessionID))
	c.Status(http.StatusNoContent)
}

type typingRequest struct {
	SessionID string `json:"session_id"`
	Typing    bool   `json:"typing"`
}

// SetTyping records the caller's typing flag.
func (h *Handler) SetTyping(c *gin.Context) {
	var req typingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.Manager.SetTyping(c.Request.Context(), c.Param("room"), sessionID(c, req.SessionID), req.Typing); err != nil {
		writeError(c, "typing", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetTyping returns the room's typing map.
func (h *Handler) GetTyping(c *gin.Context) {
	status, err := h.Manager.TypingStatus(c.Request.Context(), c.Param("room"))
	if err != nil {
		writeError(c, "typing", err)
		return
	}
	c.JSON(http.StatusOK, status)
}
