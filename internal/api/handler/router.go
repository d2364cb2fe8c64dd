package handler

import (
	"net/http"
	"whispermatch/backend/internal/metrics"
	"whispermatch/backend/internal/mw"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter wires middleware, the REST routes, the WebSocket endpoint and
// the metrics endpoint. ipLimit may be nil.
func SetupRouter(h *Handler, ipLimit *mw.RL) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/")
	if ipLimit != nil {
		api.Use(mw.RateLimit(ipLimit, mw.ClientIP))
	}

	api.GET("/session", h.GetSession)

	api.GET("/queue", h.GetQueue)
	api.POST("/queue/join", h.JoinQueue)
	api.POST("/queue/cancel", h.CancelQueue)
	api.GET("/tickets/:session", h.GetTicket)
	api.DELETE("/tickets/:session", h.ResetTicket)

	api.GET("/rooms/:room", h.GetRoom)
	api.GET("/rooms/:room/messages", h.GetMessages)
	api.POST("/rooms/:room/messages", h.SendMessage)
	api.POST("/rooms/:room/leave", h.LeaveRoom)
	api.GET("/rooms/:room/typing", h.GetTyping)
	api.PUT("/rooms/:room/typing", h.SetTyping)

	r.GET("/ws", h.ServeWebSocket)
	return r
}
