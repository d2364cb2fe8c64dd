package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"whispermatch/backend/internal/api/handler"
	"whispermatch/backend/internal/chathub"
	"whispermatch/backend/internal/config"
	"whispermatch/backend/internal/localization"
	"whispermatch/backend/internal/logging"
	"whispermatch/backend/internal/mw"
	"whispermatch/backend/internal/policy"
	"whispermatch/backend/internal/storage"
	"whispermatch/backend/internal/telegram"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupDependencies builds the store, typing store and change broker the
// config asks for.
func setupDependencies(ctx context.Context, cfg config.Config) (storage.Store, storage.TypingStore, chathub.Broker) {
	var (
		store  storage.Store
		typing storage.TypingStore
		broker chathub.Broker
	)

	switch cfg.Store {
	case config.StorePostgres:
		db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect PostgreSQL")
		}
		sqlStore := storage.NewSQLStore(db)
		sqlStore.MaxAttempts = cfg.TxMaxAttempts
		if err := sqlStore.Migrate(); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		store, typing = sqlStore, sqlStore
		log.Info().Msg("using PostgreSQL store")
	default:
		mem := storage.NewMemoryStore()
		mem.MaxAttempts = cfg.TxMaxAttempts
		store, typing = mem, mem
		log.Info().Msg("using in-memory store")
	}

	if cfg.RedisAddr == "" {
		return store, typing, chathub.NewMemoryBroker()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect Redis")
	}
	broker = chathub.NewRedisBroker(rdb, "")
	typing = storage.NewRedisTyping(rdb, "")
	log.Info().Str("addr", cfg.RedisAddr).Msg("using Redis for change signals and typing flags")
	return store, typing, broker
}

func main() {
	cfg, err := config.Load()
	logging.Init(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	log.Info().Str("env", cfg.Env).Msg("starting whispermatch backend")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, typing, broker := setupDependencies(ctx, cfg)
	defer store.Close()
	defer broker.Close()

	gate := policy.NewGate(cfg.Policy.ExtraKeywords...)
	matcher := chathub.NewMatcherService(store, broker)
	manager := chathub.NewManagerService(store, typing, broker, gate)
	loc := localization.Default()
	limits := chathub.NewLimits(cfg.Limits.SendPerSecond, cfg.Limits.SendBurst, cfg.Limits.JoinPerSecond, cfg.Limits.JoinBurst)
	for _, rl := range []*mw.RL{limits.Send, limits.Join} {
		go rl.Run(30 * time.Second)
		defer rl.Stop()
	}

	if cfg.TelegramToken != "" {
		bot, err := telegram.NewBotAPI(cfg.TelegramToken)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start Telegram bot")
		}
		botService := telegram.NewBotService(bot, matcher, manager, loc, limits)
		go botService.Run(ctx)
	} else {
		log.Info().Msg("TELEGRAM_BOT_TOKEN not set, Telegram frontend disabled")
	}

	ipLimit := mw.NewRateLimiter(rate.Every(time.Second/20), 40, 2*time.Minute)
	go ipLimit.Run(30 * time.Second)
	defer ipLimit.Stop()

	h := handler.NewHandler(matcher, manager, loc, limits)
	server := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        handler.SetupRouter(h, ipLimit),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
