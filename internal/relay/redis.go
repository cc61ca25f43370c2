package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"roomcall/native/internal/config"
	"roomcall/native/internal/domain"
)

// RoomRecord is the metadata stored for a room when it is first created.
type RoomRecord struct {
	ID        domain.RoomID `json:"id"`
	Name      string        `json:"name"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Redis is a relay backed by Redis: pub/sub for fan-out and a capped stream
// per room as the durable record.
type Redis struct {
	client       *redis.Client
	historyLimit int64
	log          zerolog.Logger
}

// Connect opens a Redis client and verifies it with a ping.
func Connect(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedis wraps an open client.
func NewRedis(client *redis.Client, historyLimit int, log zerolog.Logger) *Redis {
	if historyLimit <= 0 {
		historyLimit = 1000
	}
	return &Redis{
		client:       client,
		historyLimit: int64(historyLimit),
		log:          log.With().Str("component", "redis-relay").Logger(),
	}
}

func roomNameKey(name string) string      { return "roomname:" + name }
func roomKey(id domain.RoomID) string     { return "room:" + id.String() }
func roomLogKey(id domain.RoomID) string  { return "room:" + id.String() + ":log" }
func roomChannel(id domain.RoomID) string { return "room:" + id.String() + ":signals" }

// ResolveOrCreateRoom maps name to a room id with SETNX so concurrent
// creators converge on one id. The mapping never expires.
func (r *Redis) ResolveOrCreateRoom(ctx context.Context, name string) (domain.RoomID, error) {
	if name == "" {
		return "", fmt.Errorf("room name is required")
	}

	candidate := domain.NewRoomID()
	created, err := r.client.SetNX(ctx, roomNameKey(name), candidate.String(), 0).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrRoomResolution, err)
	}

	if created {
		record, err := json.Marshal(RoomRecord{ID: candidate, Name: name, CreatedAt: time.Now().UTC()})
		if err != nil {
			return "", fmt.Errorf("marshal room record: %w", err)
		}
		if err := r.client.Set(ctx, roomKey(candidate), record, 0).Err(); err != nil {
			// The name mapping is authoritative; the record is informational.
			r.log.Warn().Err(err).Str("room_id", candidate.String()).Msg("failed to store room record")
		}
		r.log.Info().Str("room", name).Str("room_id", candidate.String()).Msg("room created")
		return candidate, nil
	}

	id, err := r.client.Get(ctx, roomNameKey(name)).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrRoomResolution, err)
	}
	return domain.RoomID(id), nil
}

// Publish appends msg to the room stream and publishes it in one transaction.
func (r *Redis) Publish(ctx context.Context, room domain.RoomID, msg domain.Message) error {
	if msg.Room != room {
		return fmt.Errorf("message for room %s published to %s", msg.Room, room)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: roomLogKey(room),
		MaxLen: r.historyLimit,
		Approx: true,
		Values: map[string]any{"message": data},
	})
	pipe.Publish(ctx, roomChannel(room), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish to %s: %w", room, err)
	}
	return nil
}

// Subscribe subscribes to the room channel. ctx bounds the subscribe call.
func (r *Redis) Subscribe(ctx context.Context, room domain.RoomID) (domain.Subscription, error) {
	ps := r.client.Subscribe(ctx, roomChannel(room))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", domain.ErrRoomResolution, room, err)
	}

	sub := &redisSubscription{
		ps:     ps,
		out:    make(chan domain.Message, defaultSubscriberBuffer),
		closed: make(chan struct{}),
		log:    r.log.With().Str("room_id", room.String()).Logger(),
	}
	go sub.pump()
	return sub, nil
}

// History returns up to limit recorded messages for room, newest first.
func (r *Redis) History(ctx context.Context, room domain.RoomID, limit int) ([]domain.Message, error) {
	if limit <= 0 || int64(limit) > r.historyLimit {
		limit = int(r.historyLimit)
	}
	entries, err := r.client.XRevRangeN(ctx, roomLogKey(room), "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("read history of %s: %w", room, err)
	}

	out := make([]domain.Message, 0, len(entries))
	for _, entry := range entries {
		raw, ok := entry.Values["message"].(string)
		if !ok {
			r.log.Warn().Str("entry", entry.ID).Msg("history entry without message field")
			continue
		}
		var msg domain.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			r.log.Warn().Err(err).Str("entry", entry.ID).Msg("undecodable history entry")
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

type redisSubscription struct {
	ps     *redis.PubSub
	out    chan domain.Message
	closed chan struct{}
	once   sync.Once
	log    zerolog.Logger
}

func (s *redisSubscription) Messages() <-chan domain.Message {
	return s.out
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		err = s.ps.Close()
		if errors.Is(err, redis.ErrClosed) {
			err = nil
		}
	})
	return err
}

func (s *redisSubscription) pump() {
	defer close(s.out)

	for m := range s.ps.Channel() {
		var msg domain.Message
		if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
			s.log.Warn().Err(err).Msg("undecodable relay frame")
			continue
		}
		select {
		case s.out <- msg:
		case <-s.closed:
			return
		}
	}
}
