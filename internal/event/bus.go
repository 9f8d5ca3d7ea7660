package event

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

const subscriberBuffer = 64

// Bus fans emitted events out to live stream consumers. Without Redis it
// delivers to in-process subscribers only; with Redis every event goes
// through a per-session pub/sub channel so multiple instances see one
// ordered stream.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[chan *Event]struct{}

	rdb    *redis.Client
	prefix string
}

// NewBus creates an in-process bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[chan *Event]struct{})}
}

// NewRedisBus creates a bus that routes events through Redis pub/sub.
// prefix namespaces the per-session channels.
func NewRedisBus(rdb *redis.Client, prefix string) *Bus {
	return &Bus{
		subs:   make(map[string]map[chan *Event]struct{}),
		rdb:    rdb,
		prefix: prefix,
	}
}

func (b *Bus) channel(sessionID string) string {
	return b.prefix + sessionID
}

// Publish delivers e to subscribers of its session. A slow subscriber is
// skipped rather than blocking the workflow; the poll endpoint replays from
// the store, so a dropped live delivery is recoverable.
func (b *Bus) Publish(ctx context.Context, e *Event) {
	if b.rdb != nil {
		payload, err := json.Marshal(e)
		if err != nil {
			log.Printf("event bus: marshal: %v", err)
			return
		}
		if err := b.rdb.Publish(ctx, b.channel(e.SessionID), payload).Err(); err != nil {
			log.Printf("event bus: redis publish: %v", err)
		}
		return
	}
	b.publishLocal(e)
}

func (b *Bus) publishLocal(e *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[e.SessionID] {
		select {
		case ch <- e:
		default:
			log.Printf("event bus: dropping event %s for slow subscriber (session %s)", e.ID, e.SessionID)
		}
	}
}

// Subscribe returns a channel of events for one session and a cancel
// function. The channel is closed when cancel is called or, for Redis
// buses, when ctx ends.
func (b *Bus) Subscribe(ctx context.Context, sessionID string) (<-chan *Event, func()) {
	if b.rdb != nil {
		return b.subscribeRedis(ctx, sessionID)
	}

	ch := make(chan *Event, subscriberBuffer)
	b.mu.Lock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[chan *Event]struct{})
	}
	b.subs[sessionID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[sessionID], ch)
			if len(b.subs[sessionID]) == 0 {
				delete(b.subs, sessionID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (b *Bus) subscribeRedis(ctx context.Context, sessionID string) (<-chan *Event, func()) {
	sub := b.rdb.Subscribe(ctx, b.channel(sessionID))
	ch := make(chan *Event, subscriberBuffer)

	go func() {
		defer close(ch)
		for msg := range sub.Channel() {
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				log.Printf("event bus: decode: %v", err)
				continue
			}
			select {
			case ch <- &e:
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() { _ = sub.Close() })
	}
	return ch, cancel
}
