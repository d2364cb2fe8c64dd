package mw_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
	"whispermatch/backend/internal/mw"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestRL_AllowPerKey(t *testing.T) {
	rl := mw.NewRateLimiter(rate.Every(time.Hour), 2, time.Minute)

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"), "burst exhausted")
	assert.True(t, rl.Allow("b"), "other keys have their own bucket")
	assert.Equal(t, 2, rl.Len())
}

func TestRL_NilAllowsAll(t *testing.T) {
	var rl *mw.RL
	assert.True(t, rl.Allow("anything"))
}

func TestPerSecond_Unlimited(t *testing.T) {
	rl := mw.PerSecond(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow("a"))
	}
}

func TestRL_Sweep(t *testing.T) {
	rl := mw.NewRateLimiter(rate.Inf, 1, time.Minute)
	rl.Allow("a")

	rl.Sweep(time.Now())
	assert.Equal(t, 1, rl.Len())

	rl.Sweep(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 0, rl.Len())
}

func TestRL_RunStop(t *testing.T) {
	rl := mw.NewRateLimiter(rate.Inf, 1, time.Minute)
	done := make(chan struct{})
	go func() {
		rl.Run(time.Millisecond)
		close(done)
	}()
	rl.Stop()
	rl.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	rl := mw.NewRateLimiter(rate.Every(time.Hour), 1, time.Minute)
	r.POST("/x", mw.RateLimit(rl, func(c *gin.Context) string { return c.Query("k") }), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	do := func(url string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, url, nil))
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, do("/x?k=a"))
	assert.Equal(t, http.StatusTooManyRequests, do("/x?k=a"))
	assert.Equal(t, http.StatusNoContent, do("/x?k=b"))
	assert.Equal(t, http.StatusNoContent, do("/x"), "empty key is not limited")
	assert.Equal(t, http.StatusNoContent, do("/x"))
}
