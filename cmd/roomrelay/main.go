package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"roomcall/native/internal/config"
	"roomcall/native/internal/logging"
	"roomcall/native/internal/relay"
	"roomcall/native/internal/relayserver"
)

const helpText = `roomrelay - Signaling relay for roomcall peers

Usage:
  roomrelay [options]

Environment Variables:
  PORT                 Listen port (default: 8080)
  ENVIRONMENT          development or production (default: development)
  JWT_SECRET           Token signing secret (required in production)
  ALLOWED_ORIGINS      Comma separated browser origins
  RELAY_BACKEND        redis or memory (default: redis)
  RELAY_HISTORY_LIMIT  Messages kept per room (default: 1000)
  REDIS_HOST, REDIS_PORT, REDIS_PASSWORD, REDIS_DB
  ROOMCALL_ICE_SERVERS_JSON  ICE servers handed out in room tickets
  LOG_LEVEL            trace, debug, info, warn, error (default: info)

Options:
  -h, --help  Show this help message
`

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}

	cfg, err := config.LoadServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "roomrelay: %v\n", err)
		os.Exit(1)
	}

	base := logging.New(cfg.LogLevel, cfg.Environment == "development")
	log := base.With().Str("component", "main").Logger()

	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	var store relayserver.Store
	switch cfg.Backend {
	case config.BackendRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := relay.Connect(ctx, cfg.Redis)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr()).Msg("connect to redis")
		}
		defer client.Close()
		log.Info().Str("addr", cfg.Redis.Addr()).Msg("connected to redis")
		store = relay.NewRedis(client, cfg.HistoryLimit, base)
	default:
		log.Warn().Msg("using in-memory relay, rooms are not shared between instances")
		store = relay.NewHub(cfg.HistoryLimit, base)
	}

	server := relayserver.New(store, relayserver.Options{
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins,
		ICEServers:     cfg.ICEServers,
	}, base)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Handler(),
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("backend", cfg.Backend).Msg("relay listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	ossignal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server.CloseSockets()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}

	log.Info().Msg("server exited")
}
