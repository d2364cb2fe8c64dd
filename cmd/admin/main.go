package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
	"whispermatch/backend/internal/chathub"
	"whispermatch/backend/internal/config"
	"whispermatch/backend/internal/logging"
	"whispermatch/backend/internal/models"
	"whispermatch/backend/internal/policy"
	"whispermatch/backend/internal/storage"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// AdminSession is recorded as closedBy when an operator closes a room.
const AdminSession = "admin"

const usage = `Usage: admin [flags] <command> [args]

Commands:
  queue                   show the waiting slot
  rooms                   list rooms (--active for open rooms only)
  room <room_id>          show one room
  messages <room_id>      print a room's message log
  close <room_id>         close a room on behalf of the operator
  reset-ticket <session>  delete a session's ticket

Flags:
`

type admin struct {
	store   storage.Store
	matcher *chathub.MatcherService
	manager *chathub.ManagerService
	asJSON  bool
}

func main() {
	cfg, err := config.Load()
	logging.Init(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	dsn := pflag.String("dsn", cfg.DatabaseDSN, "PostgreSQL DSN")
	redisAddr := pflag.String("redis", cfg.RedisAddr, "Redis address used to notify live clients (optional)")
	active := pflag.Bool("active", false, "only list open rooms")
	asJSON := pflag.Bool("json", false, "print JSON instead of tables")
	timeout := pflag.Duration("timeout", 10*time.Second, "overall deadline")
	pflag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		pflag.PrintDefaults()
	}
	pflag.Parse()

	args := pflag.Args()
	if len(args) == 0 {
		pflag.Usage()
		os.Exit(2)
	}

	db, err := gorm.Open(postgres.Open(*dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}
	store := storage.NewSQLStore(db)
	defer store.Close()

	var broker chathub.Broker = chathub.NewMemoryBroker()
	if *redisAddr != "" {
		broker = chathub.NewRedisBroker(redis.NewClient(&redis.Options{
			Addr:     *redisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}), "")
	}
	defer broker.Close()

	a := &admin{
		store:   store,
		matcher: chathub.NewMatcherService(store, broker),
		manager: chathub.NewManagerService(store, store, broker, policy.NewGate()),
		asJSON:  *asJSON,
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := a.run(ctx, args, *active); err != nil {
		log.Fatal().Err(err).Str("command", args[0]).Msg("admin command failed")
	}
}

func (a *admin) run(ctx context.Context, args []string, active bool) error {
	need := func(n int) {
		if len(args) != n+1 {
			pflag.Usage()
			os.Exit(2)
		}
	}

	switch args[0] {
	case "queue":
		q, err := a.store.GetQueue(ctx)
		if err != nil {
			return err
		}
		if a.asJSON {
			return a.print(q)
		}
		if q.Waiting() == "" {
			fmt.Println("queue is empty")
		} else {
			fmt.Printf("waiting: %s (since %s)\n", q.Waiting(), q.UpdatedAt.Format(time.RFC3339))
		}
		return nil
	case "rooms":
		rooms, err := a.store.ListRooms(ctx, active)
		if err != nil {
			return err
		}
		if a.asJSON {
			return a.print(rooms)
		}
		printRooms(rooms)
		return nil
	case "room":
		need(1)
		room, err := a.manager.Room(ctx, args[1])
		if err != nil {
			return err
		}
		if room == nil {
			return fmt.Errorf("room %s not found", args[1])
		}
		if a.asJSON {
			return a.print(room)
		}
		printRooms([]models.ChatRoom{*room})
		return nil
	case "messages":
		need(1)
		msgs, err := a.manager.Messages(ctx, args[1])
		if err != nil {
			return err
		}
		if a.asJSON {
			return a.print(msgs)
		}
		for _, m := range msgs {
			fmt.Printf("%s  %-36s  %s\n", m.CreatedAt.Format(time.RFC3339), m.SenderID, m.Content)
		}
		return nil
	case "close":
		need(1)
		room, err := a.manager.Room(ctx, args[1])
		if err != nil {
			return err
		}
		if room == nil {
			return fmt.Errorf("room %s not found", args[1])
		}
		a.manager.Leave(ctx, args[1], AdminSession)
		fmt.Printf("room %s closed\n", args[1])
		return nil
	case "reset-ticket":
		need(1)
		a.matcher.ResetTicket(ctx, args[1])
		fmt.Printf("ticket of %s reset\n", args[1])
		return nil
	default:
		pflag.Usage()
		os.Exit(2)
	}
	return nil
}

func (a *admin) print(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRooms(rooms []models.ChatRoom) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ROOM\tACTIVE\tPARTICIPANTS\tCREATED\tCLOSED BY")
	for _, r := range rooms {
		closedBy := "-"
		if r.ClosedBy != nil {
			closedBy = *r.ClosedBy
		}
		fmt.Fprintf(w, "%s\t%t\t%v\t%s\t%s\n", r.RoomID, r.IsActive, []string(r.Participants), r.CreatedAt.Format(time.RFC3339), closedBy)
	}
	w.Flush()
}
