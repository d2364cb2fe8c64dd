// Package telegram lets Telegram users take part in anonymous matching.
// Every chat with the bot is one session; commands map onto the queue and
// room operations and plain text goes through the same Send path as the
// WebSocket clients.
package telegram

import (
	"context"
	"strings"
	"sync"
	"whispermatch/backend/internal/chathub"
	"whispermatch/backend/internal/localization"
	"whispermatch/backend/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// Sender is the part of the Bot API used to talk to chats.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// BotAPI is Sender plus update polling; *tgbotapi.BotAPI implements it.
type BotAPI interface {
	Sender
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// BotService is responsible for receiving Telegram updates and routing them
// to the matcher and the room manager.
type BotService struct {
	BotAPI    BotAPI
	Matcher   *chathub.MatcherService
	Manager   *chathub.ManagerService
	Localizer *localization.Localizer
	Limits    chathub.Limits

	mu      sync.Mutex
	clients map[int64]*Client
	ctx     context.Context
}

// NewBotAPI authorizes against Telegram with token.
func NewBotAPI(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	bot.Debug = false
	log.Info().Str("account", bot.Self.UserName).Msg("telegram bot authorized")
	return bot, nil
}

// NewBotService creates a new BotService instance.
func NewBotService(bot BotAPI, matcher *chathub.MatcherService, manager *chathub.ManagerService, loc *localization.Localizer, limits chathub.Limits) *BotService {
	if loc == nil {
		loc = localization.Default()
	}
	return &BotService{
		BotAPI:    bot,
		Matcher:   matcher,
		Manager:   manager,
		Localizer: loc,
		Limits:    limits,
		clients:   make(map[int64]*Client),
		ctx:       context.Background(),
	}
}

// getOrCreateClient retrieves the chat's client or starts a new one.
func (s *BotService) getOrCreateClient(chatID int64, langTag string) *Client {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[chatID]; ok {
		return c
	}
	c := NewClient(s.ctx, chatID, s.Localizer.Match(langTag), s.BotAPI, s.Localizer, s.Matcher, s.Manager)
	// A chat that is already in a room (e.g. after a restart) resumes it.
	if v, err := s.Matcher.Ticket(s.ctx, c.SessionID); err == nil && v.Status == models.StatusMatched {
		c.ResumeRoom = v.RoomIDOrEmpty()
	}
	s.clients[chatID] = c
	untrack := chathub.TrackClient(c)
	go func() {
		<-c.ctx.Done()
		untrack()
	}()
	c.Run()
	return c
}

// Client returns the live client of chatID, if any.
func (s *BotService) Client(chatID int64) (*Client, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[chatID]
	return c, ok
}

// Run is the main loop for receiving Telegram updates. It returns when ctx ends.
func (s *BotService) Run(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := s.BotAPI.GetUpdatesChan(u)
	defer s.Close()

	for {
		select {
		case <-ctx.Done():
			s.BotAPI.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			s.HandleUpdate(ctx, update)
		}
	}
}

// Close stops every chat client.
func (s *BotService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.clients {
		c.Close()
		delete(s.clients, id)
	}
}

// HandleUpdate processes one update. Edits, callbacks and anything other
// than a new message are ignored.
func (s *BotService) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil {
		return
	}
	lang := ""
	if msg.From != nil {
		lang = msg.From.LanguageCode
	}
	c := s.getOrCreateClient(msg.Chat.ID, lang)

	if msg.IsCommand() {
		s.handleCommand(ctx, c, msg)
		return
	}
	if msg.Text == "" {
		c.Reply("unsupported_message_type")
		return
	}
	if !s.Limits.Send.Allow(c.SessionID) {
		c.Reply("warning_rate_limited")
		return
	}
	c.Follower.Send(ctx, msg.Text)
}

func (s *BotService) handleCommand(ctx context.Context, c *Client, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start", "next":
		v, room, err := s.matchState(ctx, c.SessionID)
		if err != nil {
			c.Reply("error_retry")
			return
		}
		switch {
		case v.Status == models.StatusMatched && (room == nil || room.IsActive):
			c.Reply("already_in_chat")
			return
		case v.Status == models.StatusWaiting:
			c.Reply("already_waiting")
			return
		}
		if !s.Limits.Join.Allow(c.SessionID) {
			c.Reply("warning_rate_limited")
			return
		}
		// A ticket still naming a closed room is overwritten by the join.
		c.Follower.Join(ctx)
	case "cancel":
		c.Follower.Cancel(ctx)
		c.Reply("cancelled")
	case "stop":
		v, _, err := s.matchState(ctx, c.SessionID)
		if err != nil {
			c.Reply("error_retry")
			return
		}
		roomID := v.RoomIDOrEmpty()
		if v.Status != models.StatusMatched || roomID == "" {
			c.Reply("not_in_chat")
			return
		}
		c.Follower.SetTyping(ctx, false)
		s.Manager.Leave(ctx, roomID, c.SessionID)
		s.Matcher.ResetTicket(ctx, c.SessionID)
		c.Reply("you_left")
	case "language":
		lang := s.Localizer.Match(strings.TrimSpace(msg.CommandArguments()))
		c.SetLang(lang)
		c.Reply("language_changed")
	default:
		c.Reply("help")
	}
}

// matchState reads the session's ticket and, when matched, its room straight
// from the store. The follower learns about a match asynchronously, so
// commands arriving right after a match must not rely on it. A nil room with
// a matched ticket is still loading.
func (s *BotService) matchState(ctx context.Context, sessionID string) (models.TicketView, *models.ChatRoom, error) {
	v, err := s.Matcher.Ticket(ctx, sessionID)
	if err != nil || v.Status != models.StatusMatched || v.RoomIDOrEmpty() == "" {
		return v, nil, err
	}
	room, err := s.Manager.Room(ctx, v.RoomIDOrEmpty())
	return v, room, err
}
