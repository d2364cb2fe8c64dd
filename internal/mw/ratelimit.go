// Package mw holds per-key token-bucket limiting used by the HTTP routes,
// the live WebSocket client and the Telegram bot.
package mw

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type keyLimiter struct {
	lim *rate.Limiter
	ts  time.Time
}

// RL keeps one limiter per key and forgets keys idle longer than ttl.
type RL struct {
	mu   sync.Mutex
	m    map[string]*keyLimiter
	r    rate.Limit
	b    int
	ttl  time.Duration
	stop chan struct{}
	once sync.Once
}

func NewRateLimiter(r rate.Limit, burst int, ttl time.Duration) *RL {
	return &RL{m: make(map[string]*keyLimiter), r: r, b: burst, ttl: ttl, stop: make(chan struct{})}
}

// PerSecond builds a limiter from a float rate. A non-positive rate means unlimited.
func PerSecond(perSecond float64, burst int) *RL {
	r := rate.Inf
	if perSecond > 0 {
		r = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return NewRateLimiter(r, burst, 2*time.Minute)
}

func (rl *RL) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	kl, ok := rl.m[key]
	if ok {
		kl.ts = time.Now()
		return kl.lim
	}
	lim := rate.NewLimiter(rl.r, rl.b)
	rl.m[key] = &keyLimiter{lim: lim, ts: time.Now()}
	return lim
}

// Allow takes one token from key's bucket. A nil limiter allows everything.
func (rl *RL) Allow(key string) bool {
	if rl == nil {
		return true
	}
	return rl.get(key).Allow()
}

// Len returns the number of tracked keys.
func (rl *RL) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.m)
}

// Sweep drops keys idle longer than the ttl as of now.
func (rl *RL) Sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for k, v := range rl.m {
		if now.Sub(v.ts) > rl.ttl {
			delete(rl.m, k)
		}
	}
}

// Run sweeps idle keys every interval until Stop is called.
func (rl *RL) Run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.Sweep(now)
		}
	}
}

func (rl *RL) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

// KeyFunc extracts the limiting key from a request. An empty key skips limiting.
type KeyFunc func(c *gin.Context) string

// RateLimit limits requests per key and route.
func RateLimit(rl *RL, key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		k := key(c)
		if k == "" {
			c.Next()
			return
		}
		if !rl.Allow(k + "|" + c.FullPath()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

// ClientIP keys requests by remote host.
func ClientIP(c *gin.Context) string {
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}
	return host
}
