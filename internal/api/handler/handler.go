package handler

import (
	"errors"
	"net/http"
	"strings"
	"whispermatch/backend/internal/chathub"
	"whispermatch/backend/internal/localization"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler exposes the matchmaking core over HTTP and WebSocket.
type Handler struct {
	Matcher   *chathub.MatcherService
	Manager   *chathub.ManagerService
	Localizer *localization.Localizer
	Limits    chathub.Limits
}

func NewHandler(matcher *chathub.MatcherService, manager *chathub.ManagerService, loc *localization.Localizer, limits chathub.Limits) *Handler {
	if loc == nil {
		loc = localization.Default()
	}
	return &Handler{Matcher: matcher, Manager: manager, Localizer: loc, Limits: limits}
}

// sessionRequest is the body shared by the write endpoints.
type sessionRequest struct {
	SessionID string `json:"session_id"`
}

// sessionID takes the id from the body value, the query or the cookie, in that order.
func sessionID(c *gin.Context, fromBody string) string {
	if id := strings.TrimSpace(fromBody); id != "" {
		return id
	}
	if id := strings.TrimSpace(c.Query("session_id")); id != "" {
		return id
	}
	if id, err := c.Cookie(SessionCookie); err == nil {
		return strings.TrimSpace(id)
	}
	return ""
}

// lang picks the response language from Accept-Language.
func (h *Handler) lang(c *gin.Context) string {
	tag, _, _ := strings.Cut(c.GetHeader("Accept-Language"), ",")
	tag, _, _ = strings.Cut(tag, ";")
	return h.Localizer.Match(tag)
}

// writeError maps core errors to status codes.
func writeError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, chathub.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	case errors.Is(err, chathub.ErrTransient):
		log.Warn().Err(err).Str("op", op).Msg("request failed, retryable")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable, please retry"})
	default:
		log.Error().Err(err).Str("op", op).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *Handler) tooMany(c *gin.Context) {
	c.JSON(http.StatusTooManyRequests, gin.H{
		"reason":  chathub.ReasonRateLimited,
		"warning": h.Localizer.GetString(h.lang(c), "warning_rate_limited"),
	})
}
