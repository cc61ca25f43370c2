package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"roomcall/native/internal/api"
	"roomcall/native/internal/domain"
)

const (
	wsPingInterval = 30 * time.Second
	wsWriteWait    = 10 * time.Second
)

// WS is a relay backed by the roomcall relay server. Room resolution and
// out-of-band publishes go through the HTTP API; subscriptions are
// websockets.
type WS struct {
	api    *api.Client
	token  string
	dialer *websocket.Dialer
	log    zerolog.Logger

	mu   sync.Mutex
	subs map[domain.RoomID]*wsSubscription
}

// NewWS creates a websocket relay authenticating with token.
func NewWS(client *api.Client, token string, log zerolog.Logger) *WS {
	return &WS{
		api:    client,
		token:  token,
		dialer: websocket.DefaultDialer,
		log:    log.With().Str("component", "ws-relay").Logger(),
		subs:   make(map[domain.RoomID]*wsSubscription),
	}
}

// ResolveOrCreateRoom asks the server for the room's ticket.
func (r *WS) ResolveOrCreateRoom(ctx context.Context, name string) (domain.RoomID, error) {
	ticket, err := r.api.FetchTicket(ctx, r.token, name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrRoomResolution, err)
	}
	return ticket.RoomID, nil
}

// Subscribe dials the room socket and starts the read and ping loops.
func (r *WS) Subscribe(ctx context.Context, room domain.RoomID) (domain.Subscription, error) {
	u, err := r.api.WebsocketURL("/ws/rooms/" + url.PathEscape(room.String()))
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+r.token)

	r.log.Debug().Str("url", u).Msg("connecting")
	conn, _, err := r.dialer.DialContext(ctx, u, header)
	if err != nil {
		return nil, fmt.Errorf("%w: websocket dial: %v", domain.ErrRoomResolution, err)
	}

	sub := &wsSubscription{
		relay:  r,
		room:   room,
		conn:   conn,
		out:    make(chan domain.Message, defaultSubscriberBuffer),
		closed: make(chan struct{}),
		log:    r.log.With().Str("room_id", room.String()).Logger(),
	}

	r.mu.Lock()
	if old := r.subs[room]; old != nil {
		r.mu.Unlock()
		conn.Close()
		return nil, fmt.Errorf("already subscribed to %s", room)
	}
	r.subs[room] = sub
	r.mu.Unlock()

	go sub.readLoop()
	go sub.pingLoop()
	return sub, nil
}

// Publish writes msg on the room socket when subscribed and falls back to
// the HTTP API otherwise.
func (r *WS) Publish(ctx context.Context, room domain.RoomID, msg domain.Message) error {
	r.mu.Lock()
	sub := r.subs[room]
	r.mu.Unlock()

	if sub != nil {
		return sub.send(msg)
	}
	return r.api.PublishMessage(ctx, r.token, room, msg)
}

func (r *WS) forget(sub *wsSubscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subs[sub.room] == sub {
		delete(r.subs, sub.room)
	}
}

type wsSubscription struct {
	relay *WS
	room  domain.RoomID
	conn  *websocket.Conn
	out   chan domain.Message
	log   zerolog.Logger

	writeMu sync.Mutex
	closed  chan struct{}
	once    sync.Once
}

func (s *wsSubscription) Messages() <-chan domain.Message {
	return s.out
}

// Close shuts down the websocket connection.
func (s *wsSubscription) Close() error {
	s.once.Do(func() {
		close(s.closed)
		s.relay.forget(s)

		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsWriteWait))
		s.writeMu.Unlock()
		s.conn.Close()
	})
	return nil
}

func (s *wsSubscription) send(msg domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.closed:
		return fmt.Errorf("subscription to %s closed", s.room)
	default:
	}
	s.log.Trace().RawJSON("frame", data).Msg(">>>")
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (s *wsSubscription) readLoop() {
	defer close(s.out)
	defer s.Close()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
			default:
				s.log.Warn().Err(err).Msg("read error")
			}
			return
		}

		s.log.Trace().RawJSON("frame", data).Msg("<<<")

		var msg domain.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warn().Err(err).Msg("unmarshal error")
			continue
		}

		select {
		case s.out <- msg:
		case <-s.closed:
			return
		}
	}
}

func (s *wsSubscription) pingLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(5*time.Second))
			s.writeMu.Unlock()
			if err != nil {
				select {
				case <-s.closed:
				default:
					s.log.Warn().Err(err).Msg("ping error")
				}
				return
			}
		}
	}
}
