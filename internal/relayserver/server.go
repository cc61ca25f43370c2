// Package relayserver exposes a domain.Relay over HTTP and websockets so
// that peers on different hosts can share rooms.
package relayserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"roomcall/native/internal/domain"
)

// Store is a relay that also keeps room history.
type Store interface {
	domain.Relay
	History(ctx context.Context, room domain.RoomID, limit int) ([]domain.Message, error)
}

// Options configure a Server. ICEServers are handed to clients in room
// tickets.
type Options struct {
	JWTSecret      string
	AllowedOrigins []string
	ICEServers     []domain.ICEServer
	TokenTTL       time.Duration
}

// Server routes the relay API.
type Server struct {
	store  Store
	opts   Options
	log    zerolog.Logger
	router *gin.Engine

	mu      sync.Mutex
	sockets map[*websocket.Conn]struct{}
}

// New creates a Server backed by store.
func New(store Store, opts Options, log zerolog.Logger) *Server {
	if opts.TokenTTL == 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	s := &Server{
		store:   store,
		opts:    opts,
		log:     log.With().Str("component", "relayserver").Logger(),
		sockets: make(map[*websocket.Conn]struct{}),
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.log))

	// Runs before routing so preflight requests never reach handlers.
	router.Use(OriginFilter(s.opts.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/auth/login", s.login)

		rooms := apiGroup.Group("/rooms", JWTAuth(s.opts.JWTSecret))
		rooms.POST("", s.createRoom)
		rooms.GET("/:roomId/messages", s.listMessages)
		rooms.POST("/:roomId/messages", s.postMessage)
	}

	router.GET("/ws/rooms/:roomId", JWTAuth(s.opts.JWTSecret), s.handleSocket)

	return router
}

// CloseSockets closes every open websocket. http.Server.Shutdown does not
// track hijacked connections.
func (s *Server) CloseSockets() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.sockets {
		conn.Close()
	}
}

func (s *Server) track(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets[conn] = struct{}{}
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sockets, conn)
}
