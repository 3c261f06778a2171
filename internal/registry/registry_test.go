package registry

import (
	"context"
	"testing"
	"time"

	"github.com/emak3/sekigae/internal/protocol"
	"github.com/emak3/sekigae/internal/room"
)

func newTestRegistry(t *testing.T, opts Options) *Registry {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewRegistry(ctx, opts)
}

func TestRegistry_EnsureReturnsSamePointer(t *testing.T) {
	reg := newTestRegistry(t, Options{})

	r1 := reg.Ensure("ABC")
	r2 := reg.Ensure("ABC")
	if r1 == nil || r2 == nil || r1 != r2 {
		t.Fatalf("expected same room pointer")
	}

	reply := make(chan *room.Room, 1)
	reg.Send(GetRoom{ID: "ABC", Reply: reply})
	if got := <-reply; got != r1 {
		t.Fatalf("GetRoom must return the ensured room")
	}

	reg.Send(GetRoom{ID: "missing", Reply: reply})
	if got := <-reply; got != nil {
		t.Fatalf("GetRoom for unknown id must be nil, got %v", got)
	}
}

func TestRegistry_RemoveShutsRoomDown(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	rm := reg.Ensure("ABC")

	reg.Send(RemoveRoom{ID: "ABC"})

	deadline := time.After(time.Second)
	for rm.Send(room.RequestData{ClientID: "x"}) {
		select {
		case <-deadline:
			t.Fatal("removed room must stop accepting messages")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	if again := reg.Ensure("ABC"); again == rm || again == nil {
		t.Fatal("ensure after removal must create a fresh room")
	}
}

func TestRegistry_DisconnectReleasesHoldsEverywhere(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	r1 := reg.Ensure("one")
	r2 := reg.Ensure("two")

	outs := make(map[string]chan protocol.ServerMessage)
	for id, rm := range map[string]*room.Room{"one": r1, "two": r2} {
		out := make(chan protocol.ServerMessage, 16)
		rm.Send(room.Join{ClientID: "watcher", Outbox: out})
		<-out // roomData
		outs[id] = out
	}
	for _, rm := range []*room.Room{r1, r2} {
		rm.Send(room.Join{ClientID: "alice", Outbox: make(chan protocol.ServerMessage, 16)})
		rm.Send(room.HoldNumber{ClientID: "alice", Number: 7})
	}

	// Watchers see the hold land in each room.
	for id, out := range outs {
		msg := recvMsg(t, out, time.Second)
		if msg.Type != protocol.EvtNumberTemporarilyHeld {
			t.Fatalf("room %s: want numberTemporarilyHeld, got %s", id, msg.Type)
		}
	}

	reg.Send(Disconnect{ClientID: "alice"})

	for id, out := range outs {
		released := recvMsg(t, out, time.Second)
		if released.Type != protocol.EvtNumberReleased || released.Number != 7 {
			t.Fatalf("room %s: want numberReleased{7}, got %+v", id, released)
		}
		gone := recvMsg(t, out, time.Second)
		if gone.Type != protocol.EvtUserDisconnected || gone.ID != "alice" {
			t.Fatalf("room %s: want userDisconnected{alice}, got %+v", id, gone)
		}
	}
}

func TestRegistry_SweepEvictsIdleEmptyRooms(t *testing.T) {
	reg := newTestRegistry(t, Options{
		IdleTTL:       10 * time.Millisecond,
		SweepInterval: 20 * time.Millisecond,
	})
	idle := reg.Ensure("idle")
	busy := reg.Ensure("busy")

	// A connected member protects a room regardless of age.
	busy.Send(room.Join{ClientID: "keeper", Outbox: make(chan protocol.ServerMessage, 16)})

	deadline := time.After(2 * time.Second)
	for idle.Send(room.RequestData{ClientID: "x"}) {
		select {
		case <-deadline:
			t.Fatal("idle room was never evicted")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	if !busy.Send(room.RequestData{ClientID: "keeper"}) {
		t.Fatal("room with a member must survive the sweep")
	}

	// The evicted id comes back as a brand-new room on the next join.
	if again := reg.Ensure("idle"); again == nil || again == idle {
		t.Fatal("ensure after eviction must recreate the room")
	}
}

func recvMsg(t *testing.T, ch <-chan protocol.ServerMessage, within time.Duration) protocol.ServerMessage {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatalf("outbox closed unexpectedly")
		}
		return msg
	case <-time.After(within):
		t.Fatalf("timed out waiting for server message")
		return protocol.ServerMessage{} // unreachable
	}
}
