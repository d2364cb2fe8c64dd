package telegram

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"whispermatch/backend/internal/chathub"
	"whispermatch/backend/internal/localization"
	"whispermatch/backend/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// SessionPrefix marks session ids that belong to Telegram chats.
const SessionPrefix = "tg:"

// SessionID derives the anonymous session of a Telegram chat.
func SessionID(chatID int64) string {
	return SessionPrefix + strconv.FormatInt(chatID, 10)
}

// ChatID recovers the chat id from a Telegram session id.
func ChatID(sessionID string) (int64, bool) {
	raw, ok := strings.CutPrefix(sessionID, SessionPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil
}

// Client implements chathub.Client for one Telegram chat. Follower events
// are turned into bot messages by writePump.
type Client struct {
	ChatID    int64
	SessionID string
	Follower  *chathub.Follower
	BotAPI    Sender
	Localizer *localization.Localizer

	send   chan chathub.Event
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	mu   sync.Mutex
	lang string

	// ResumeRoom is the room the chat already sat in when the client was
	// created. Its existing log is not relayed again. Set before Run.
	ResumeRoom string

	// writePump state
	status    models.TicketStatus
	roomID    string
	announced bool
	loading   bool
	seed      bool
	lastSeen  uint
	typing    bool
}

// NewClient creates the client of one chat.
func NewClient(ctx context.Context, chatID int64, lang string, bot Sender, loc *localization.Localizer, matcher *chathub.MatcherService, manager *chathub.ManagerService) *Client {
	ctx, cancel := context.WithCancel(ctx)
	c := &Client{
		ChatID:    chatID,
		SessionID: SessionID(chatID),
		BotAPI:    bot,
		Localizer: loc,
		send:      make(chan chathub.Event, 64),
		ctx:       ctx,
		cancel:    cancel,
		lang:      lang,
	}
	c.Follower = chathub.NewFollower(c.SessionID, matcher, manager, c.Deliver)
	return c
}

func (c *Client) GetSessionID() string { return c.SessionID }
func (c *Client) Kind() string         { return "telegram" }

func (c *Client) Deliver(ev chathub.Event) {
	select {
	case <-c.ctx.Done():
	case c.send <- ev:
	default:
		log.Warn().Int64("chat_id", c.ChatID).Str("event", string(ev.Type)).Msg("telegram client buffer full, dropping event")
	}
}

// Run starts the follower and the write pump.
func (c *Client) Run() {
	go c.writePump()
	if err := c.Follower.Start(c.ctx); err != nil {
		log.Error().Err(err).Int64("chat_id", c.ChatID).Msg("failed to start telegram follower")
	}
}

func (c *Client) Close() {
	c.once.Do(func() {
		c.cancel()
		c.Follower.Close()
	})
}

// Lang returns the chat's language.
func (c *Client) Lang() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lang
}

// SetLang changes the chat's language.
func (c *Client) SetLang(lang string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lang = lang
}

func (c *Client) text(key string) string {
	return c.Localizer.GetString(c.Lang(), key)
}

// Reply sends a localized notice to the chat.
func (c *Client) Reply(key string) {
	c.sendText(c.text(key))
}

func (c *Client) sendText(text string) {
	if _, err := c.BotAPI.Send(tgbotapi.NewMessage(c.ChatID, text)); err != nil {
		log.Warn().Err(err).Int64("chat_id", c.ChatID).Msg("failed to send telegram message")
	}
}

func (c *Client) writePump() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.send:
			c.render(ev)
		}
	}
}

// render turns one follower event into zero or more bot messages.
func (c *Client) render(ev chathub.Event) {
	switch ev.Type {
	case chathub.EventTicket:
		c.onTicket(*ev.Ticket)

	case chathub.EventRoom:
		if ev.Room == nil {
			if c.roomID != "" && !c.loading {
				c.loading = true
				c.Reply("room_loading")
			}
			return
		}
		if ev.Room.RoomID != c.roomID {
			return
		}
		if !ev.Room.IsActive && !c.announced {
			c.announced = true
			if ev.Room.ClosedBy == nil || *ev.Room.ClosedBy != c.SessionID {
				c.Reply("partner_left")
			}
		}

	case chathub.EventMessages:
		if c.seed {
			c.seed = false
			for _, m := range ev.Messages {
				if m.RoomID == c.roomID && m.ID > c.lastSeen {
					c.lastSeen = m.ID
				}
			}
			return
		}
		for _, m := range ev.Messages {
			if m.RoomID != c.roomID || m.ID <= c.lastSeen {
				continue
			}
			c.lastSeen = m.ID
			if m.SenderID != c.SessionID {
				c.sendText(m.Content)
			}
		}

	case chathub.EventTyping:
		if ev.PartnerTyping && !c.typing {
			if _, err := c.BotAPI.Request(tgbotapi.NewChatAction(c.ChatID, tgbotapi.ChatTyping)); err != nil {
				log.Debug().Err(err).Int64("chat_id", c.ChatID).Msg("failed to send typing action")
			}
		}
		c.typing = ev.PartnerTyping

	case chathub.EventWarning:
		c.Reply("warning_" + string(ev.Reason))

	case chathub.EventError:
		c.Reply("error_retry")
	}
}

func (c *Client) onTicket(v models.TicketView) {
	prev := c.status
	c.status = v.Status
	roomID := ""
	if v.Status == models.StatusMatched {
		roomID = v.RoomIDOrEmpty()
	}
	resumed := false
	if roomID != c.roomID {
		c.roomID = roomID
		c.announced = false
		c.loading = false
		c.lastSeen = 0
		c.typing = false
		resumed = roomID != "" && roomID == c.ResumeRoom
		c.seed = resumed
		c.ResumeRoom = ""
	}

	switch {
	case v.Status == models.StatusWaiting && prev != models.StatusWaiting:
		c.Reply("waiting")
	case v.Status == models.StatusMatched && roomID != "" && prev != models.StatusMatched && !resumed:
		c.Reply("matched")
	}
}
