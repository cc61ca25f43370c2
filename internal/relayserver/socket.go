package relayserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"roomcall/native/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	maxFrame   = 64 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are checked by OriginFilter.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// socket bridges one websocket to one room subscription.
type socket struct {
	server *Server
	room   domain.RoomID
	conn   *websocket.Conn
	sub    domain.Subscription
	log    zerolog.Logger
}

// handleSocket writes every room message to the client and publishes every
// valid frame the client sends.
func (s *Server) handleSocket(c *gin.Context) {
	room := domain.RoomID(c.Param("roomId"))
	userID := c.GetString("user_id")

	sub, err := s.store.Subscribe(c.Request.Context(), room)
	if err != nil {
		s.log.Error().Err(err).Str("room_id", room.String()).Msg("subscribe")
		c.JSON(statusFor(err), gin.H{"error": "Failed to subscribe to room"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		sub.Close()
		s.log.Warn().Err(err).Msg("upgrade connection")
		return
	}

	sk := &socket{
		server: s,
		room:   room,
		conn:   conn,
		sub:    sub,
		log:    s.log.With().Str("room_id", room.String()).Str("user_id", userID).Logger(),
	}
	s.track(conn)
	sk.log.Info().Msg("socket opened")

	go sk.writePump()
	go sk.readPump()
}

func (sk *socket) readPump() {
	defer func() {
		sk.sub.Close()
		sk.conn.Close()
		sk.server.untrack(sk.conn)
		sk.log.Info().Msg("socket closed")
	}()

	sk.conn.SetReadLimit(maxFrame)
	sk.conn.SetReadDeadline(time.Now().Add(pongWait))
	sk.conn.SetPongHandler(func(string) error {
		sk.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := sk.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				sk.log.Warn().Err(err).Msg("websocket error")
			}
			return
		}
		sk.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg domain.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			sk.log.Warn().Err(err).Msg("failed to parse frame")
			continue
		}
		if msg.Room != sk.room {
			sk.log.Warn().Str("frame_room_id", msg.Room.String()).Msg("frame for another room")
			continue
		}
		if err := msg.Validate(); err != nil {
			sk.log.Warn().Err(err).Msg("invalid frame")
			continue
		}

		// The request context ends with the handler, so frames get their own.
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		err = sk.server.store.Publish(ctx, sk.room, msg)
		cancel()
		if err != nil {
			sk.log.Error().Err(err).Str("kind", string(msg.Kind)).Msg("publish frame")
		}
	}
}

func (sk *socket) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sk.conn.Close()
	}()

	msgs := sk.sub.Messages()
	for {
		select {
		case msg, ok := <-msgs:
			sk.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				sk.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(msg)
			if err != nil {
				sk.log.Error().Err(err).Msg("marshal message")
				continue
			}
			if err := sk.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				sk.log.Debug().Err(err).Msg("write message")
				return
			}

		case <-ticker.C:
			sk.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sk.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
