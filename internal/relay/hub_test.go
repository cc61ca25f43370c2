package relay

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"roomcall/native/internal/domain"
)

func joinMsg(room domain.RoomID, from domain.PeerID) domain.Message {
	msg, _ := domain.NewMessage(room, from, domain.KindJoin, nil, "")
	return msg
}

func receive(t *testing.T, sub domain.Subscription) domain.Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		if !ok {
			t.Fatal("subscription closed")
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return domain.Message{}
}

func TestHub_ResolveOrCreateRoomIsIdempotent(t *testing.T) {
	h := NewHub(10, zerolog.Nop())
	ctx := context.Background()

	a, err := h.ResolveOrCreateRoom(ctx, "demo")
	if err != nil {
		t.Fatalf("ResolveOrCreateRoom: %v", err)
	}
	b, _ := h.ResolveOrCreateRoom(ctx, "demo")
	c, _ := h.ResolveOrCreateRoom(ctx, "other")

	if a != b {
		t.Fatalf("same name resolved to %s and %s", a, b)
	}
	if a == c {
		t.Fatal("different names resolved to the same room")
	}
}

func TestHub_PublishFansOutIncludingPublisher(t *testing.T) {
	h := NewHub(10, zerolog.Nop())
	ctx := context.Background()
	room, _ := h.ResolveOrCreateRoom(ctx, "demo")

	subA, _ := h.Subscribe(ctx, room)
	subB, _ := h.Subscribe(ctx, room)
	defer subA.Close()
	defer subB.Close()

	if err := h.Publish(ctx, room, joinMsg(room, "peer-a")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for _, sub := range []domain.Subscription{subA, subB} {
		if got := receive(t, sub); got.From != "peer-a" || got.Kind != domain.KindJoin {
			t.Fatalf("unexpected message %+v", got)
		}
	}
}

func TestHub_RoomsAreIsolated(t *testing.T) {
	h := NewHub(10, zerolog.Nop())
	ctx := context.Background()
	r1, _ := h.ResolveOrCreateRoom(ctx, "one")
	r2, _ := h.ResolveOrCreateRoom(ctx, "two")

	sub, _ := h.Subscribe(ctx, r2)
	defer sub.Close()

	h.Publish(ctx, r1, joinMsg(r1, "peer-a"))

	select {
	case msg := <-sub.Messages():
		t.Fatalf("received message from another room: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_PublishRejectsRoomMismatch(t *testing.T) {
	h := NewHub(10, zerolog.Nop())
	if err := h.Publish(context.Background(), "room-1", joinMsg("room-2", "a")); err == nil {
		t.Fatal("expected error")
	}
}

func TestHub_HistoryIsCappedNewestFirst(t *testing.T) {
	h := NewHub(3, zerolog.Nop())
	ctx := context.Background()
	room, _ := h.ResolveOrCreateRoom(ctx, "demo")

	for i := 0; i < 5; i++ {
		h.Publish(ctx, room, joinMsg(room, domain.PeerID(fmt.Sprintf("peer-%d", i))))
	}

	hist, err := h.History(ctx, room, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("len=%d, want 3", len(hist))
	}
	if hist[0].From != "peer-4" || hist[2].From != "peer-2" {
		t.Fatalf("order: %s .. %s", hist[0].From, hist[2].From)
	}

	hist, _ = h.History(ctx, room, 1)
	if len(hist) != 1 || hist[0].From != "peer-4" {
		t.Fatalf("limited history %+v", hist)
	}
}

func TestHub_CloseRemovesSubscriber(t *testing.T) {
	h := NewHub(10, zerolog.Nop())
	ctx := context.Background()
	room, _ := h.ResolveOrCreateRoom(ctx, "demo")

	sub, _ := h.Subscribe(ctx, room)
	if h.Subscribers(room) != 1 {
		t.Fatalf("Subscribers=%d", h.Subscribers(room))
	}
	sub.Close()
	sub.Close()

	if h.Subscribers(room) != 0 {
		t.Fatalf("Subscribers=%d after close", h.Subscribers(room))
	}
	if _, ok := <-sub.Messages(); ok {
		t.Fatal("channel should be closed")
	}
	if err := h.Publish(ctx, room, joinMsg(room, "a")); err != nil {
		t.Fatalf("Publish after close: %v", err)
	}
}

func TestHub_SlowSubscriberIsClosed(t *testing.T) {
	h := NewHub(10, zerolog.Nop())
	h.buffer = 1
	ctx := context.Background()
	room, _ := h.ResolveOrCreateRoom(ctx, "demo")

	sub, _ := h.Subscribe(ctx, room)
	h.Publish(ctx, room, joinMsg(room, "a"))
	h.Publish(ctx, room, joinMsg(room, "b"))

	if got := receive(t, sub); got.From != "a" {
		t.Fatalf("first message from %s", got.From)
	}
	if _, ok := <-sub.Messages(); ok {
		t.Fatal("slow subscriber should have been closed")
	}
}
