package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/1enterprisesight/agent-profiler/internal/event"
)

// EventStore is the relational sink for transparency events. Each Append is
// one small insert transaction; a crash mid-workflow leaves a partial but
// individually consistent trail.
type EventStore struct {
	db *DB
}

func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

// Append persists one event. The emitter guarantees user and session ids
// are present; the NOT NULL constraints back that up at the storage layer.
func (s *EventStore) Append(ctx context.Context, e *event.Event) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("event store: marshal details: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO transparency_events
		 (id, session_id, user_id, agent_name, event_type, title, details, parent_event_id, step_number, duration_ms, seq, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.UserID, e.AgentName, string(e.Type), e.Title, string(details),
		nullable(e.ParentEventID), e.StepNumber, e.DurationMS, e.Seq, e.CreatedAt.UTC().Format(TimeLayout))
	if err != nil {
		return fmt.Errorf("event store: insert: %w", err)
	}
	_ = ctx
	return nil
}

// BySession returns all events for a session owned by userID, oldest first.
// Ordering is (created_at, seq): the emitter's seq restarts with the
// process, so the timestamp carries order across restarts and seq breaks
// same-instant ties within one.
func (s *EventStore) BySession(sessionID, userID string) ([]*event.Event, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, user_id, agent_name, event_type, title, details, parent_event_id, step_number, duration_ms, seq, created_at
		 FROM transparency_events
		 WHERE session_id = ? AND user_id = ?
		 ORDER BY created_at, seq`,
		sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("event store: query: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows)
}

// AfterID returns events for a session after the event with the given id,
// oldest first. An empty or unknown afterID returns the full trail, which
// matches the poll contract: the consumer sees identical content and order
// to the push stream.
func (s *EventStore) AfterID(sessionID, userID, afterID string) ([]*event.Event, error) {
	all, err := s.BySession(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if afterID == "" {
		return all, nil
	}
	for i, e := range all {
		if e.ID == afterID {
			return all[i+1:], nil
		}
	}
	return all, nil
}

// PruneOlderThan deletes events created before cutoff. Returns rows removed.
func (s *EventStore) PruneOlderThan(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM transparency_events WHERE created_at < ?`,
		cutoff.UTC().Format(TimeLayout))
	if err != nil {
		return 0, fmt.Errorf("event store: prune: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEvents(rows rowScanner) ([]*event.Event, error) {
	var events []*event.Event
	for rows.Next() {
		var (
			e         event.Event
			eventType string
			details   string
			parentID  *string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.UserID, &e.AgentName, &eventType, &e.Title,
			&details, &parentID, &e.StepNumber, &e.DurationMS, &e.Seq, &createdAt); err != nil {
			return nil, fmt.Errorf("event store: scan: %w", err)
		}
		e.Type = event.Type(eventType)
		if parentID != nil {
			e.ParentEventID = *parentID
		}
		if details != "" {
			_ = json.Unmarshal([]byte(details), &e.Details)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		events = append(events, &e)
	}
	return events, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
