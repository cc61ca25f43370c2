package main

import (
	"context"
	"fmt"
	"io"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"roomcall/native/internal/api"
	"roomcall/native/internal/call"
	"roomcall/native/internal/config"
	"roomcall/native/internal/logging"
	"roomcall/native/internal/relay"
	"roomcall/native/internal/signal"
	"roomcall/native/internal/viewer"
	"roomcall/native/internal/webrtc"
)

const helpText = `roomcall - Join a two-party WebRTC audio call in a named room

Usage:
  roomcall [options]

The first peer in a room waits; the next one to join gets a call. Logs are
written to stderr. Set ROOMCALL_RECORD to save the remote audio as Ogg/Opus.

Environment Variables (required):
  ROOMCALL_SERVER   Relay server URL, e.g. http://localhost:8080
  ROOMCALL_ROOM     Room name

Environment Variables (optional):
  ROOMCALL_USER                 Login name (default: guest)
  ROOMCALL_RECORD               File to record remote audio to ("-" for stdout)
  ROOMCALL_NEGOTIATION_TIMEOUT  Abandon a negotiation after this long, e.g. 30s
  ROOMCALL_ICE_SERVERS_JSON     ICE servers as JSON (overrides the room ticket)
  ROOMCALL_STUN_URLS, ROOMCALL_TURN_URLS, ROOMCALL_TURN_USERNAME, ROOMCALL_TURN_CREDENTIAL
  LOG_LEVEL                     trace, debug, info, warn, error (default: info)
  LOG_PRETTY                    Human readable logs (default: true)

Examples:
  # Wait for a peer in room "demo"
  ROOMCALL_SERVER=http://localhost:8080 ROOMCALL_ROOM=demo roomcall

  # Play the remote side while the call runs
  ROOMCALL_RECORD=- roomcall | ffplay -f ogg -

Options:
  -h, --help  Show this help message
`

const shutdownTimeout = 5 * time.Second

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}

	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "roomcall: %v\n", err)
		os.Exit(1)
	}

	base := logging.New(cfg.LogLevel, cfg.LogPretty)
	log := base.With().Str("component", "main").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	// Step 1: Log in and fetch the room ticket
	apiClient := api.NewClient(cfg.Server)
	token, err := apiClient.Login(ctx, cfg.User)
	if err != nil {
		log.Fatal().Err(err).Msg("login")
	}
	ticket, err := apiClient.FetchTicket(ctx, token, cfg.Room)
	if err != nil {
		log.Fatal().Err(err).Msg("get ticket")
	}
	log.Info().Str("room_id", ticket.RoomID.String()).Str("signal", ticket.SignalPath).Msg("ticket obtained")

	iceServers := cfg.ICEServers
	if len(iceServers) == 0 {
		iceServers = ticket.ICEServers
	}

	// Step 2: Signaling session over the relay websocket
	session := signal.NewSession(relay.NewWS(apiClient, token, base), base)

	// Step 3: Media engine
	engine, err := webrtc.NewEngine(base)
	if err != nil {
		log.Fatal().Err(err).Msg("create media engine")
	}

	// Step 4: Viewer, optionally recording the remote stream
	out, closeOut, err := recordOutput(cfg.RecordPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open recording")
	}
	defer closeOut()
	v := viewer.New(base, out, cancel)

	// Step 5: Call manager
	manager := call.New(session, engine, v, call.Options{
		ICEServers:         iceServers,
		NegotiationTimeout: cfg.NegotiationTimeout,
	}, base)
	go func() {
		if err := manager.Run(ctx); err != nil {
			log.Error().Err(err).Msg("call manager stopped")
		}
	}()

	// Step 6: Join the room
	id, err := manager.Join(ctx, cfg.Room)
	if err != nil {
		manager.Close()
		log.Fatal().Err(err).Msg("join room")
	}
	log.Info().Str("peer_id", id.String()).Msg("waiting for a peer")

	<-ctx.Done()

	leaveCtx, leaveCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer leaveCancel()
	if err := manager.LeaveRoom(leaveCtx); err != nil {
		log.Warn().Err(err).Msg("leave room")
	}
	manager.Close()
	v.Wait()

	log.Info().Msg("done")
}

func recordOutput(path string) (io.Writer, func(), error) {
	switch path {
	case "":
		return nil, func() {}, nil
	case "-":
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
