package handler

import (
	"net/http"
	"whispermatch/backend/internal/chathub"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Sessions are anonymous and unauthenticated; any origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket upgrades the connection and runs a live client for the
// session named by the session_id query parameter or the session cookie.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	id := sessionID(c, "")
	if id == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "session_id missing"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := chathub.NewWebSocketClient(conn, id, h.Matcher, h.Manager, h.Limits)
	client.Run()
}
