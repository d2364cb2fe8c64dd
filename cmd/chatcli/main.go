// Command chatcli is a terminal client for the WebSocket endpoint.
//
//	/join    enter the queue (also /start, /next)
//	/cancel  leave the queue
//	/leave   leave the current room (also /stop)
//	/quit    exit
//
// Any other line is sent to the partner.
package main

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"whispermatch/backend/internal/chathub"
	"whispermatch/backend/internal/localization"
	"whispermatch/backend/internal/logging"
	"whispermatch/backend/internal/models"
	"whispermatch/backend/internal/session"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

// printer renders server events as chat lines, printing each message once.
type printer struct {
	out      io.Writer
	loc      *localization.Localizer
	lang     string
	self     string
	mu       sync.Mutex
	status   models.TicketStatus
	roomID   string
	loading  bool
	lastSeen uint
	typing   bool
}

func (p *printer) notice(key string) {
	fmt.Fprintf(p.out, "* %s\n", p.loc.GetString(p.lang, key))
}

func (p *printer) handle(ev chathub.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Type {
	case chathub.EventTicket:
		if ev.Ticket == nil {
			return
		}
		roomID := ""
		if ev.Ticket.Status == models.StatusMatched {
			roomID = ev.Ticket.RoomIDOrEmpty()
		}
		if roomID != p.roomID {
			p.roomID = roomID
			p.loading = false
			p.lastSeen = 0
			p.typing = false
		}
		if ev.Ticket.Status == p.status {
			return
		}
		p.status = ev.Ticket.Status
		switch p.status {
		case models.StatusWaiting:
			p.notice("waiting")
		case models.StatusMatched:
			p.notice("matched")
		}
	case chathub.EventRoom:
		if ev.Room == nil {
			if p.roomID != "" && !p.loading {
				p.loading = true
				p.notice("room_loading")
			}
			return
		}
		if !ev.Room.IsActive && ev.Room.ClosedBy != nil && *ev.Room.ClosedBy != p.self {
			p.notice("partner_left")
		}
	case chathub.EventMessages:
		for _, m := range ev.Messages {
			if m.ID <= p.lastSeen {
				continue
			}
			p.lastSeen = m.ID
			who := "partner"
			if m.SenderID == p.self {
				who = "you"
			}
			fmt.Fprintf(p.out, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), who, m.Content)
		}
	case chathub.EventTyping:
		if ev.PartnerTyping && !p.typing {
			p.notice("partner_typing")
		}
		p.typing = ev.PartnerTyping
	case chathub.EventWarning:
		p.notice("warning_" + string(ev.Reason))
	case chathub.EventError:
		p.notice("error_retry")
	}
}

func parseLine(line string) (chathub.Command, bool) {
	switch strings.TrimSpace(line) {
	case "":
		return chathub.Command{}, false
	case "/join", "/start", "/next":
		return chathub.Command{Type: chathub.CmdJoin}, true
	case "/cancel":
		return chathub.Command{Type: chathub.CmdCancel}, true
	case "/leave", "/stop":
		return chathub.Command{Type: chathub.CmdLeave}, true
	}
	return chathub.Command{Type: chathub.CmdSend, Content: line}, true
}

func main() {
	server := pflag.StringP("server", "s", "ws://localhost:8080/ws", "WebSocket endpoint")
	sessionFile := pflag.String("session-file", session.DefaultFilePath(), "file holding this client's session id")
	fresh := pflag.Bool("new", false, "use a throwaway session instead of the stored one")
	level := pflag.String("log-level", "warn", "log level")
	lang := pflag.String("lang", localization.DefaultLanguage, "language of notices")
	pflag.Parse()

	logging.Init("dev", *level)

	var store session.Persistence = session.FileStore{Path: *sessionFile}
	if *fresh {
		store = nil
	}
	self := session.NewProvider(store).GetOrCreateSessionID()

	u, err := url.Parse(*server)
	if err != nil {
		log.Fatal().Err(err).Str("server", *server).Msg("invalid server url")
	}
	q := u.Query()
	q.Set("session_id", self)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal().Err(err).Str("server", *server).Msg("dial failed")
	}
	defer conn.Close()

	fmt.Printf("* connected as %s\n", self)
	loc := localization.Default()
	p := &printer{out: os.Stdout, loc: loc, lang: loc.Match(*lang), self: self}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var ev chathub.Event
			if err := conn.ReadJSON(&ev); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Msg("connection lost")
				}
				return
			}
			p.handle(ev)
		}
	}()

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	for {
		select {
		case <-done:
			return
		case <-interrupt:
			closeConn(conn)
			return
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/quit" {
				closeConn(conn)
				return
			}
			cmd, ok := parseLine(line)
			if !ok {
				continue
			}
			if err := conn.WriteJSON(cmd); err != nil {
				log.Warn().Err(err).Msg("write failed")
				return
			}
		}
	}
}

func closeConn(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteMessage(websocket.CloseMessage, msg)
}
