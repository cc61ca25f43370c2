package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"roomcall/native/internal/domain"
)

const defaultSubscriberBuffer = 256

// Hub is an in-process relay. It keeps the name to id mapping and a capped
// per-room history in memory.
type Hub struct {
	mu      sync.Mutex
	names   map[string]domain.RoomID
	subs    map[domain.RoomID]map[*hubSubscription]struct{}
	history map[domain.RoomID][]domain.Message
	limit   int
	buffer  int
	log     zerolog.Logger
}

// NewHub creates a hub keeping at most historyLimit messages per room.
func NewHub(historyLimit int, log zerolog.Logger) *Hub {
	if historyLimit <= 0 {
		historyLimit = 1000
	}
	return &Hub{
		names:   make(map[string]domain.RoomID),
		subs:    make(map[domain.RoomID]map[*hubSubscription]struct{}),
		history: make(map[domain.RoomID][]domain.Message),
		limit:   historyLimit,
		buffer:  defaultSubscriberBuffer,
		log:     log.With().Str("component", "hub").Logger(),
	}
}

// ResolveOrCreateRoom returns the id name maps to, creating it on first use.
func (h *Hub) ResolveOrCreateRoom(ctx context.Context, name string) (domain.RoomID, error) {
	if name == "" {
		return "", fmt.Errorf("room name is required")
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrRoomResolution, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if id, ok := h.names[name]; ok {
		return id, nil
	}
	id := domain.NewRoomID()
	h.names[name] = id
	h.log.Info().Str("room", name).Str("room_id", id.String()).Msg("room created")
	return id, nil
}

// Subscribe opens a subscription to room. ctx bounds the call only.
func (h *Hub) Subscribe(ctx context.Context, room domain.RoomID) (domain.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &hubSubscription{hub: h, room: room, ch: make(chan domain.Message, h.buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[room] == nil {
		h.subs[room] = make(map[*hubSubscription]struct{})
	}
	h.subs[room][sub] = struct{}{}
	return sub, nil
}

// Publish records msg and fans it out to every subscriber of room. A
// subscriber whose buffer is full is closed rather than allowed to block
// the publisher.
func (h *Hub) Publish(ctx context.Context, room domain.RoomID, msg domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.Room != room {
		return fmt.Errorf("message for room %s published to %s", msg.Room, room)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	hist := append(h.history[room], msg)
	if len(hist) > h.limit {
		hist = hist[len(hist)-h.limit:]
	}
	h.history[room] = hist

	for sub := range h.subs[room] {
		select {
		case sub.ch <- msg:
		default:
			h.log.Warn().Str("room_id", room.String()).Msg("subscriber buffer full, closing subscription")
			sub.closeLocked()
		}
	}
	return nil
}

// History returns up to limit recorded messages for room, newest first.
func (h *Hub) History(ctx context.Context, room domain.RoomID, limit int) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	hist := h.history[room]
	if limit <= 0 || limit > len(hist) {
		limit = len(hist)
	}
	out := make([]domain.Message, 0, limit)
	for i := len(hist) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, hist[i])
	}
	return out, nil
}

// Subscribers returns the number of open subscriptions to room.
func (h *Hub) Subscribers(room domain.RoomID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[room])
}

type hubSubscription struct {
	hub    *Hub
	room   domain.RoomID
	ch     chan domain.Message
	closed bool
}

func (s *hubSubscription) Messages() <-chan domain.Message {
	return s.ch
}

func (s *hubSubscription) Close() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.closeLocked()
	return nil
}

// closeLocked requires hub.mu.
func (s *hubSubscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	delete(s.hub.subs[s.room], s)
	if len(s.hub.subs[s.room]) == 0 {
		delete(s.hub.subs, s.room)
	}
	close(s.ch)
}
