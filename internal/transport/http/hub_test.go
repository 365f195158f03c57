package http

import (
	"context"
	"encoding/json"
	"testing"

	"mathquest-engine/internal/domain"
)

func TestHubDeliversToRoomMembersOnly(t *testing.T) {
	hub := NewHub()
	a, b := newClient("a"), newClient("b")
	hub.join(domain.GameRoom("ABC"), a)
	hub.join(domain.GameRoom("XYZ"), b)

	if err := hub.Publish(context.Background(), domain.GameRoom("ABC"), domain.Event{Type: "ping", Payload: 1}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case msg := <-a.send:
		var ev domain.Event
		if err := json.Unmarshal(msg, &ev); err != nil || ev.Type != "ping" {
			t.Fatalf("unexpected message %s err=%v", msg, err)
		}
	default:
		t.Fatalf("expected a message for a")
	}
	select {
	case msg := <-b.send:
		t.Fatalf("b is not in the room, got %s", msg)
	default:
	}
}

func TestHubLeaveAll(t *testing.T) {
	hub := NewHub()
	c := newClient("c")
	hub.join(domain.GameRoom("ABC"), c)
	hub.join(domain.UserRoom("u1"), c)
	if hub.Count(domain.GameRoom("ABC")) != 1 {
		t.Fatalf("expected one member")
	}

	rooms := hub.leaveAll(c)
	if len(rooms) != 2 || hub.Count(domain.GameRoom("ABC")) != 0 || hub.Count(domain.UserRoom("u1")) != 0 {
		t.Fatalf("expected client removed from every room, left %v", rooms)
	}
}

func TestClientDropsWhenBufferFull(t *testing.T) {
	c := newClient("slow")
	for i := 0; i < clientBuffer; i++ {
		if !c.enqueue([]byte("x")) {
			t.Fatalf("enqueue %d should fit", i)
		}
	}
	if c.enqueue([]byte("overflow")) {
		t.Fatalf("expected overflow to be dropped")
	}
	c.close()
	c.close()
	if c.enqueue([]byte("late")) {
		t.Fatalf("closed client must not accept messages")
	}
}

func TestTimerRooms(t *testing.T) {
	live := TimerRooms(domain.LiveScope("ABC"))
	if len(live) != 2 || live[0] != "game:ABC" || live[1] != "projection:ABC" {
		t.Fatalf("unexpected live rooms %v", live)
	}
	replay := TimerRooms(domain.TimerScope{AccessCode: "ABC", UserID: "u1", AttemptCount: 1})
	if len(replay) != 1 || replay[0] != "user:u1" {
		t.Fatalf("unexpected replay rooms %v", replay)
	}
}
