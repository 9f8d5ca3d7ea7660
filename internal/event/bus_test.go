package event

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestBusDeliversToSessionSubscribers(t *testing.T) {
	b := NewBus()
	ctx := context.Background()

	ch, cancel := b.Subscribe(ctx, "s1")
	defer cancel()
	other, cancelOther := b.Subscribe(ctx, "s2")
	defer cancelOther()

	b.Publish(ctx, &Event{ID: "e1", SessionID: "s1", UserID: "u", Type: TypeThinking})

	select {
	case got := <-ch:
		if got.ID != "e1" {
			t.Errorf("got event %q, want e1", got.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}

	select {
	case e := <-other:
		t.Errorf("cross-session delivery: %v", e)
	default:
	}
}

func TestBusCancelClosesChannel(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(context.Background(), "s")
	cancel()
	cancel() // idempotent

	if _, ok := <-ch; ok {
		t.Error("channel not closed after cancel")
	}

	// Publishing after cancel must not panic or block.
	b.Publish(context.Background(), &Event{ID: "late", SessionID: "s", UserID: "u"})
}

func TestBusDropsForSlowSubscriber(t *testing.T) {
	b := NewBus()
	_, cancel := b.Subscribe(context.Background(), "s")
	defer cancel()

	// Overfill the buffer without draining. Publish must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+10; i++ {
			b.Publish(context.Background(), &Event{ID: "e", SessionID: "s", UserID: "u"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on slow subscriber")
	}
}

func TestRedisBusRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	b := NewRedisBus(rdb, "profiler:events:")
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	ch, cancel := b.Subscribe(ctx, "sess")
	defer cancel()

	// Pub/sub subscription setup is asynchronous; give it a moment.
	time.Sleep(50 * time.Millisecond)

	want := &Event{
		ID: "e1", SessionID: "sess", UserID: "u", AgentName: OrchestratorAgent,
		Type: TypeResult, Title: "done", StepNumber: 2, Seq: 7,
		CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	b.Publish(ctx, want)

	select {
	case got := <-ch:
		if got.ID != want.ID || got.Seq != want.Seq || got.Type != want.Type {
			t.Errorf("got %+v, want %+v", got, want)
		}
		if !got.Terminal() {
			t.Error("terminal marker lost in transit")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("redis subscriber did not receive event")
	}
}
