package chathub

import "whispermatch/backend/internal/metrics"

// Client is any live connection of one session (WebSocket, Telegram chat).
// It abstracts the transport so the follower can push events the same way
// to every kind of client.
type Client interface {
	// GetSessionID returns the anonymous session the client speaks for.
	GetSessionID() string
	// Kind names the transport, e.g. "websocket" or "telegram".
	Kind() string
	// Deliver queues an event for the client. It must not block.
	Deliver(Event)

	// Run starts the client's pumps.
	Run()
	// Close shuts the client down. It is safe to call more than once.
	Close()
}

// TrackClient counts c as connected until the returned func is called.
func TrackClient(c Client) func() {
	g := metrics.LiveClients.WithLabelValues(c.Kind())
	g.Inc()
	return g.Dec
}
