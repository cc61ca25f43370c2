// Package signal implements the room signaling session: it binds one peer
// identity to one room on a relay, stamps outgoing signals and hands every
// message authored by someone else to a single handler.
package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"roomcall/native/internal/domain"
)

// Session is safe for concurrent use.
type Session struct {
	relay domain.Relay
	log   zerolog.Logger

	mu      sync.Mutex
	joining bool
	peerID  domain.PeerID
	room    domain.RoomID
	sub     domain.Subscription
	done    chan struct{}
	handler func(domain.Message)
}

// NewSession creates a session publishing through relay.
func NewSession(relay domain.Relay, log zerolog.Logger) *Session {
	return &Session{
		relay: relay,
		log:   log.With().Str("component", "signal").Logger(),
	}
}

// PeerID returns the local peer id, or "" when not joined.
func (s *Session) PeerID() domain.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerID
}

// Room returns the bound room id, or "" when not joined.
func (s *Session) Room() domain.RoomID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// OnMessage sets the handler for room messages from other peers, replacing
// any previous one. It runs on the session's delivery goroutine.
func (s *Session) OnMessage(handler func(domain.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// JoinRoom resolves name to a room, subscribes to it and announces the local
// peer with a join broadcast.
func (s *Session) JoinRoom(ctx context.Context, name string) (domain.PeerID, error) {
	if name == "" {
		return "", fmt.Errorf("room name is required")
	}

	s.mu.Lock()
	if s.joining || s.room != "" {
		s.mu.Unlock()
		return "", domain.ErrAlreadyJoined
	}
	s.joining = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.joining = false
		s.mu.Unlock()
	}()

	room, err := s.relay.ResolveOrCreateRoom(ctx, name)
	if err != nil {
		return "", resolutionError(fmt.Sprintf("resolve room %q", name), err)
	}

	sub, err := s.relay.Subscribe(ctx, room)
	if err != nil {
		return "", resolutionError(fmt.Sprintf("subscribe to %s", room), err)
	}

	peer := domain.NewPeerID()
	done := make(chan struct{})

	s.mu.Lock()
	s.peerID = peer
	s.room = room
	s.sub = sub
	s.done = done
	s.mu.Unlock()

	go s.pump(sub, room, peer, done)

	log := s.log.With().Str("peer_id", peer.String()).Str("room_id", room.String()).Logger()

	join, err := domain.NewMessage(room, peer, domain.KindJoin, nil, "")
	if err == nil {
		err = s.relay.Publish(ctx, room, join)
	}
	if err != nil {
		s.release(ctx)
		return "", fmt.Errorf("publish join: %w", err)
	}

	log.Info().Str("room", name).Msg("joined room")
	return peer, nil
}

// SendSignal publishes one signal from the local peer. It does not retry.
func (s *Session) SendSignal(ctx context.Context, kind domain.Kind, payload any, target domain.PeerID) error {
	s.mu.Lock()
	room, peer := s.room, s.peerID
	s.mu.Unlock()

	if room == "" {
		return domain.ErrNotJoined
	}

	msg, err := domain.NewMessage(room, peer, kind, payload, target)
	if err != nil {
		return err
	}
	if err := s.relay.Publish(ctx, room, msg); err != nil {
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	return nil
}

// Leave broadcasts a leave, unsubscribes and releases the room. A failed
// leave broadcast is only logged. Calling Leave when not joined is a no-op.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	room, peer := s.room, s.peerID
	sub, done, ok := s.detach()
	s.mu.Unlock()

	if !ok {
		return nil
	}

	log := s.log.With().Str("peer_id", peer.String()).Str("room_id", room.String()).Logger()

	// The subscription is still open, so relays that publish over it can.
	leave, err := domain.NewMessage(room, peer, domain.KindLeave, nil, "")
	if err == nil {
		err = s.relay.Publish(ctx, room, leave)
	}
	if err != nil {
		log.Warn().Err(err).Msg("leave broadcast failed")
	}

	s.unsubscribe(ctx, sub, done)
	log.Info().Msg("left room")
	return nil
}

// release drops the room binding and waits for the delivery goroutine.
func (s *Session) release(ctx context.Context) {
	s.mu.Lock()
	sub, done, ok := s.detach()
	s.mu.Unlock()

	if ok {
		s.unsubscribe(ctx, sub, done)
	}
}

// detach clears the binding. s.mu must be held.
func (s *Session) detach() (domain.Subscription, chan struct{}, bool) {
	sub, done := s.sub, s.done
	if sub == nil {
		return nil, nil, false
	}
	s.room = ""
	s.peerID = ""
	s.sub = nil
	s.done = nil
	return sub, done, true
}

func (s *Session) unsubscribe(ctx context.Context, sub domain.Subscription, done chan struct{}) {
	if err := sub.Close(); err != nil {
		s.log.Warn().Err(err).Msg("close subscription")
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *Session) pump(sub domain.Subscription, room domain.RoomID, self domain.PeerID, done chan struct{}) {
	defer close(done)

	for msg := range sub.Messages() {
		if msg.From == self {
			continue
		}
		if msg.Room != room {
			s.log.Debug().Str("room_id", msg.Room.String()).Msg("dropping message for another room")
			continue
		}
		if err := msg.Validate(); err != nil {
			s.log.Warn().Err(err).Str("peer_id", msg.From.String()).Msg("dropping invalid message")
			continue
		}

		s.mu.Lock()
		handler := s.handler
		s.mu.Unlock()

		if handler != nil {
			handler(msg)
		}
	}
}

func resolutionError(op string, err error) error {
	if errors.Is(err, domain.ErrRoomResolution) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrRoomResolution, err)
}
