package handler

import (
	"net/http"
	"whispermatch/backend/internal/session"

	"github.com/gin-gonic/gin"
)

// SessionCookie holds the browser's anonymous session id.
const SessionCookie = "whisper_session"

const sessionCookieMaxAge = 365 * 24 * 60 * 60

// cookieStore persists a session id in the request's cookie jar.
type cookieStore struct {
	c *gin.Context
}

func (s cookieStore) Load() (string, error) {
	id, err := s.c.Cookie(SessionCookie)
	if err != nil || id == "" {
		return "", session.ErrNoSession
	}
	return id, nil
}

func (s cookieStore) Save(id string) error {
	s.c.SetSameSite(http.SameSiteLaxMode)
	s.c.SetCookie(SessionCookie, id, sessionCookieMaxAge, "/", "", false, true)
	return nil
}

// GetSession returns the caller's session id, issuing one on first visit.
// The id is not verified on later requests.
func (h *Handler) GetSession(c *gin.Context) {
	id := session.NewProvider(cookieStore{c}).GetOrCreateSessionID()
	c.JSON(http.StatusOK, gin.H{"session_id": id})
}
