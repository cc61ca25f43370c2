package relayserver

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"

	"roomcall/native/internal/domain"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

type createRoomRequest struct {
	Name string `json:"name" binding:"required"`
}

// createRoom resolves a room name, creating the room on first use, and
// returns the ticket a client needs to join it.
func (s *Server) createRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := s.store.ResolveOrCreateRoom(c.Request.Context(), req.Name)
	if err != nil {
		s.log.Error().Err(err).Str("room", req.Name).Msg("resolve room")
		c.JSON(statusFor(err), gin.H{"error": "Failed to resolve room"})
		return
	}

	ice := s.opts.ICEServers
	if ice == nil {
		ice = []domain.ICEServer{}
	}
	c.JSON(http.StatusOK, domain.Ticket{
		RoomID:     id,
		Name:       req.Name,
		ICEServers: ice,
		SignalPath: "/ws/rooms/" + url.PathEscape(id.String()),
	})
}

func (s *Server) listMessages(c *gin.Context) {
	room := domain.RoomID(c.Param("roomId"))

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultHistoryLimit)))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	msgs, err := s.store.History(c.Request.Context(), room, limit)
	if err != nil {
		s.log.Error().Err(err).Str("room_id", room.String()).Msg("read history")
		c.JSON(statusFor(err), gin.H{"error": "Failed to read history"})
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

func (s *Server) postMessage(c *gin.Context) {
	room := domain.RoomID(c.Param("roomId"))

	var msg domain.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid message"})
		return
	}
	if msg.Room == "" {
		msg.Room = room
	}
	if msg.Room != room {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room_id does not match the room"})
		return
	}
	if err := msg.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.store.Publish(c.Request.Context(), room, msg); err != nil {
		s.log.Error().Err(err).Str("room_id", room.String()).Msg("publish")
		c.JSON(statusFor(err), gin.H{"error": "Failed to publish message"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "published"})
}

func statusFor(err error) int {
	if errors.Is(err, domain.ErrRoomResolution) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
