package event

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/1enterprisesight/agent-profiler/internal/metrics"
)

// ErrEmptyUserID is returned when an emit is attempted without a user id.
// Events without an owner are a privacy defect, so the emitter fails loudly
// before anything is persisted or published.
var ErrEmptyUserID = fmt.Errorf("event: user id must not be empty")

// Sink persists events. Each Append is its own small transaction.
type Sink interface {
	Append(ctx context.Context, e *Event) error
}

// Publisher delivers persisted events to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, e *Event)
}

// Emitter assigns identity and order to events, persists them, then
// publishes them. Safe for concurrent use across sessions.
type Emitter struct {
	sink Sink
	pub  Publisher
	seq  atomic.Int64
	now  func() time.Time
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithClock overrides the emitter's clock (tests).
func WithClock(now func() time.Time) EmitterOption {
	return func(em *Emitter) { em.now = now }
}

// NewEmitter creates an emitter writing to sink and publishing to pub.
// pub may be nil when no live consumers exist (tests, batch tools).
func NewEmitter(sink Sink, pub Publisher, opts ...EmitterOption) *Emitter {
	em := &Emitter{sink: sink, pub: pub, now: time.Now}
	for _, o := range opts {
		o(em)
	}
	return em
}

// Emit validates, stamps, persists, and publishes one event. The returned
// event is the stored value including id, seq, and timestamp.
func (em *Emitter) Emit(ctx context.Context, e Event) (*Event, error) {
	if e.UserID == "" {
		return nil, ErrEmptyUserID
	}
	if e.SessionID == "" {
		return nil, fmt.Errorf("event: session id must not be empty")
	}
	if e.AgentName == "" {
		e.AgentName = OrchestratorAgent
	}
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.ID = uuid.NewString()
	e.Seq = em.seq.Add(1)
	e.CreatedAt = em.now().UTC()

	if err := em.sink.Append(ctx, &e); err != nil {
		return nil, fmt.Errorf("event: append: %w", err)
	}
	metrics.ObserveEvent()
	if em.pub != nil {
		em.pub.Publish(ctx, &e)
	}
	return &e, nil
}
