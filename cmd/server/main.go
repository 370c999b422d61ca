package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jeffrywalsh/webchat/internal/api"
	"github.com/jeffrywalsh/webchat/internal/config"
	"github.com/jeffrywalsh/webchat/internal/db"
	"github.com/jeffrywalsh/webchat/internal/directory"
	"github.com/jeffrywalsh/webchat/internal/observ"
	"github.com/jeffrywalsh/webchat/internal/presence"
	"github.com/jeffrywalsh/webchat/internal/repository"
	"github.com/jeffrywalsh/webchat/internal/repository/memory"
	"github.com/jeffrywalsh/webchat/internal/repository/postgres"
	"github.com/jeffrywalsh/webchat/internal/service"
	"github.com/jeffrywalsh/webchat/internal/ws"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ---------------------------------------------------------------
	// 1. Load config
	// ---------------------------------------------------------------
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// ---------------------------------------------------------------
	// 2. Create logger
	// ---------------------------------------------------------------
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------------------------------------------------------
	// 3. Persistence gateway
	//
	// Postgres when DATABASE_URL is set, otherwise the in-memory store.
	// ---------------------------------------------------------------
	var gw repository.Gateway
	if cfg.DatabaseURL != "" {
		database, err := db.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer database.Close()
		if err := database.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		gw = postgres.NewGateway(database.Pool())
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		gw = memory.NewGateway()
	}

	// ---------------------------------------------------------------
	// 4. Presence
	// ---------------------------------------------------------------
	registry := presence.NewRegistry()
	var mirror presence.Mirror = presence.NopMirror{}
	if cfg.RedisURL != "" {
		rm, err := presence.NewRedisMirror(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer rm.Close()
		if stale, err := rm.OnlineUserIDs(ctx); err != nil {
			logger.Warn("read presence mirror", zap.Error(err))
		} else if len(stale) > 0 {
			logger.Info("clearing stale presence", zap.Int("users", len(stale)))
		}
		if err := rm.Reset(ctx); err != nil {
			return fmt.Errorf("reset presence mirror: %w", err)
		}
		mirror = rm
	}

	// ---------------------------------------------------------------
	// 5. Services and the real-time hub
	//
	// The hub needs the message service and the services need the hub's
	// notifier, so notifiers are attached after both exist.
	// ---------------------------------------------------------------
	metrics := observ.NewMetrics()
	dir := directory.New(gw, registry, logger)

	rooms := service.NewRoomService(gw, cfg.MainRoom, logger)
	friends := service.NewFriendService(gw, logger)
	convs := service.NewConversationService(gw, logger)
	msgs := service.NewMessageService(gw, logger)

	hub := ws.NewHub(ws.Deps{
		Gateway:   gw,
		Registry:  registry,
		Mirror:    mirror,
		Router:    ws.NewRouter(registry, metrics, logger),
		Directory: dir,
		Messages:  msgs,
		Metrics:   metrics,
		Logger:    logger,
	})
	notifier := ws.NewHubNotifier(hub)
	rooms.SetNotifier(notifier)
	friends.SetNotifier(notifier)
	convs.SetNotifier(notifier)
	msgs.SetNotifier(notifier)

	if _, err := rooms.EnsureMainRoom(ctx); err != nil {
		return fmt.Errorf("ensure main room: %w", err)
	}

	// ---------------------------------------------------------------
	// 6. HTTP server
	// ---------------------------------------------------------------
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.Handlers{
		Auth:          api.NewAuthHandler(gw.Users, rooms, cfg.JWTSecret, cfg.TokenTTL, logger),
		Users:         api.NewUserHandler(gw.Users, dir, logger),
		Rooms:         api.NewRoomHandler(rooms, dir, logger),
		Friends:       api.NewFriendHandler(friends, dir, logger),
		Conversations: api.NewConversationHandler(convs, dir, logger),
		Messages:      api.NewMessageHandler(msgs, logger),
		WS:            ws.NewHandler(hub, cfg.JWTSecret, cfg.SendBuffer, logger).ServeWS,
		Metrics:       metrics.Handler(),
	}, cfg.JWTSecret, gin.Logger())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting webchat",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Env),
			zap.Bool("postgres", cfg.DatabaseURL != ""),
			zap.Bool("redis", cfg.RedisURL != ""),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	// Hijacked websocket connections are not tracked by Shutdown; they end
	// when the process exits.
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
