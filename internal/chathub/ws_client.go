package chathub

import (
	"context"
	"encoding/json"
	"sync"
	"time"
	"whispermatch/backend/internal/mw"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Commands a live client may send.
const (
	CmdJoin   = "join"
	CmdCancel = "cancel"
	CmdSend   = "send"
	CmdTyping = "typing"
	CmdLeave  = "leave"
)

// Command is one frame read from a live client.
type Command struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Typing  bool   `json:"typing,omitempty"`
}

// Limits throttles commands of one live client. Nil limiters allow all.
type Limits struct {
	Send *mw.RL
	Join *mw.RL
}

// NewLimits builds per-session limits from rates per second. A non-positive
// rate disables that limit.
func NewLimits(sendPerSecond float64, sendBurst int, joinPerSecond float64, joinBurst int) Limits {
	return Limits{
		Send: mw.PerSecond(sendPerSecond, sendBurst),
		Join: mw.PerSecond(joinPerSecond, joinBurst),
	}
}

// WebSocketClient implements Client over a gorilla connection. Incoming
// frames are commands executed by the session's Follower; the follower's
// events are written back as JSON frames.
type WebSocketClient struct {
	SessionID string
	Conn      *websocket.Conn
	Follower  *Follower
	Limits    Limits

	send      chan Event
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	untrack   func()
}

// NewWebSocketClient binds conn to sessionID.
func NewWebSocketClient(conn *websocket.Conn, sessionID string, matcher *MatcherService, manager *ManagerService, limits Limits) *WebSocketClient {
	ctx, cancel := context.WithCancel(context.Background())
	c := &WebSocketClient{
		SessionID: sessionID,
		Conn:      conn,
		Limits:    limits,
		send:      make(chan Event, sendBuffer),
		ctx:       ctx,
		cancel:    cancel,
	}
	c.Follower = NewFollower(sessionID, matcher, manager, c.Deliver)
	return c
}

func (c *WebSocketClient) GetSessionID() string { return c.SessionID }
func (c *WebSocketClient) Kind() string         { return "websocket" }

// Deliver drops the event if the client is gone or its buffer is full; the
// next state change carries the full state again.
func (c *WebSocketClient) Deliver(ev Event) {
	select {
	case <-c.ctx.Done():
	case c.send <- ev:
	default:
		log.Warn().Str("session_id", c.SessionID).Str("event", string(ev.Type)).Msg("live client buffer full, dropping event")
	}
}

// Run starts the follower and both pumps.
func (c *WebSocketClient) Run() {
	c.untrack = TrackClient(c)
	if err := c.Follower.Start(c.ctx); err != nil {
		c.Deliver(Event{Type: EventError, Op: "start", Message: err.Error()})
	}
	go c.writePump()
	go c.readPump()
}

// Close stops the follower and the pumps. The room and ticket are left as
// they are; a dropped connection is not a Leave.
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.Follower.Close()
		if c.untrack != nil {
			c.untrack()
		}
	})
}

// Handle executes one command on behalf of the session.
func (c *WebSocketClient) Handle(cmd Command) {
	ctx := c.ctx
	switch cmd.Type {
	case CmdJoin:
		if !c.Limits.Join.Allow(c.SessionID) {
			c.Follower.warn(cmd.Type, ReasonRateLimited)
			return
		}
		c.Follower.Join(ctx)
	case CmdCancel:
		c.Follower.Cancel(ctx)
	case CmdSend:
		if !c.Limits.Send.Allow(c.SessionID) {
			c.Follower.warn(cmd.Type, ReasonRateLimited)
			return
		}
		c.Follower.Send(ctx, cmd.Content)
	case CmdTyping:
		c.Follower.SetTyping(ctx, cmd.Typing)
	case CmdLeave:
		c.Follower.Leave(ctx)
	default:
		c.Deliver(Event{Type: EventError, Op: cmd.Type, Message: "unknown command"})
	}
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.Close()
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("session_id", c.SessionID).Msg("error reading message")
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Debug().Err(err).Str("session_id", c.SessionID).Msg("invalid command frame")
			c.Deliver(Event{Type: EventError, Message: "invalid command"})
			continue
		}
		c.Handle(cmd)
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case ev := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Str("session_id", c.SessionID).Msg("write failed")
				c.Close()
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
