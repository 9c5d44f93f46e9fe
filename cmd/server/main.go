package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Rrens/laundry-chat/internal/api"
	"github.com/Rrens/laundry-chat/internal/api/handler"
	"github.com/Rrens/laundry-chat/internal/config"
	"github.com/Rrens/laundry-chat/internal/domain"
	"github.com/Rrens/laundry-chat/internal/hub"
	"github.com/Rrens/laundry-chat/internal/logger"
	"github.com/Rrens/laundry-chat/internal/repository/postgres"
	"github.com/Rrens/laundry-chat/internal/repository/redis"
	"github.com/Rrens/laundry-chat/internal/repository/sqlite"
	"github.com/Rrens/laundry-chat/internal/security"
	"github.com/Rrens/laundry-chat/internal/service"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type storage struct {
	convs  domain.ConversationRepository
	msgs   domain.MessageRepository
	unread domain.UnreadStore // nil when Redis provides it
	ping   handler.Pinger
	close  func()
}

func openStorage(ctx context.Context, cfg config.DatabaseConfig) (*storage, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &storage{
			convs:  store,
			msgs:   store.Messages(),
			unread: store.Unread(),
			ping:   store,
			close:  func() { store.Close() },
		}, nil
	default:
		db, err := postgres.NewDB(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &storage{
			convs: postgres.NewConversationRepository(db),
			msgs:  postgres.NewMessageRepository(db),
			ping:  db,
			close: db.Close,
		}, nil
	}
}

func main() {
	// Load .env file - try multiple locations
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	appLog, err := logger.Setup(cfg.Logging, os.Getenv("ENV") == "production")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up logging")
	}

	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("driver", cfg.Database.Driver).
		Bool("redis", cfg.Redis.Enabled).
		Msg("Starting laundry chat server")

	ctx := context.Background()

	store, err := openStorage(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer store.close()

	ready := map[string]handler.Pinger{"database": store.ping}
	unread := store.unread
	var opts []service.Option
	var limiter *redis.RateLimiter

	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()

		ready["redis"] = redisClient
		unread = redis.NewUnreadStore(redisClient)
		limiter = redis.NewRateLimiter(redisClient, cfg.Realtime.RateLimitPerMinute, cfg.Realtime.RateLimitPerMinute/4)
		opts = append(opts, service.WithHistoryCache(redis.NewHistoryCache(redisClient, cfg.Redis.HistoryTTL)))
	}

	chatService := service.NewChatService(
		store.convs,
		store.msgs,
		unread,
		security.NewMessageValidator(cfg.Realtime.MaxMessageLength),
		opts...,
	)

	hubOpts := hub.Options{
		SendBuffer:   cfg.Realtime.SendBuffer,
		PingInterval: cfg.Realtime.PingInterval,
		Logger:       appLog,
	}
	deps := api.Dependencies{
		Chat:  chatService,
		JWT:   security.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL),
		Ready: ready,
	}
	// Typed nil pointers must not leak into the interfaces
	if limiter != nil {
		hubOpts.RateLimiter = limiter
		deps.RateLimiter = limiter
	}
	realtime := hub.New(chatService, hubOpts)
	deps.Hub = realtime

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(cfg, deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown
	realtime.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
