package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetQueue reports whether somebody is waiting.
func (h *Handler) GetQueue(c *gin.Context) {
	info, err := h.Matcher.QueueStatus(c.Request.Context())
	if err != nil {
		writeError(c, "queue", err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// JoinQueue enters the queue or pairs with the waiting session.
func (h *Handler) JoinQueue(c *gin.Context) {
	var req sessionRequest
	_ = c.ShouldBindJSON(&req)
	id := sessionID(c, req.SessionID)
	if id != "" && !h.Limits.Join.Allow(id) {
		h.tooMany(c)
		return
	}

	res, err := h.Matcher.Join(c.Request.Context(), id)
	if err != nil {
		writeError(c, "join", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// CancelQueue leaves the queue and drops the ticket.
func (h *Handler) CancelQueue(c *gin.Context) {
	var req sessionRequest
	_ = c.ShouldBindJSON(&req)
	id := sessionID(c, req.SessionID)
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := h.Matcher.Cancel(c.Request.Context(), id); err != nil {
		writeError(c, "cancel", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetTicket returns the session's current ticket view.
func (h *Handler) GetTicket(c *gin.Context) {
	view, err := h.Matcher.Ticket(c.Request.Context(), c.Param("session"))
	if err != nil {
		writeError(c, "ticket", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ResetTicket deletes the session's ticket, best effort.
func (h *Handler) ResetTicket(c *gin.Context) {
	h.Matcher.ResetTicket(c.Request.Context(), c.Param("session"))
	c.Status(http.StatusNoContent)
}
