package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is one conversation turn. Metadata carries compact agent-activity
// summaries on assistant turns, never full step payloads.
type Message struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// MessageStore persists the per-session conversation log.
type MessageStore struct {
	db *DB
}

func NewMessageStore(db *DB) *MessageStore {
	return &MessageStore{db: db}
}

// Append stores one message and returns it with id and timestamp assigned.
func (s *MessageStore) Append(sessionID, userID, role, content string, metadata map[string]any) (*Message, error) {
	if sessionID == "" || userID == "" {
		return nil, fmt.Errorf("message store: session and user ids are required")
	}
	m := &Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    userID,
		Role:      role,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("message store: marshal metadata: %w", err)
	}
	if metadata == nil {
		meta = []byte("{}")
	}
	_, err = s.db.Exec(
		`INSERT INTO conversation_messages (id, session_id, user_id, role, content, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.UserID, m.Role, m.Content, string(meta), m.CreatedAt.Format(TimeLayout))
	if err != nil {
		return nil, fmt.Errorf("message store: insert: %w", err)
	}
	return m, nil
}

// History returns the last limit messages for a session owned by userID in
// chronological order. limit <= 0 returns everything. A session is bound to
// its owner: another user's id yields nothing, same as the event trail.
func (s *MessageStore) History(sessionID, userID string, limit int) ([]*Message, error) {
	query := `SELECT id, session_id, user_id, role, content, metadata, created_at
		 FROM conversation_messages WHERE session_id = ? AND user_id = ? ORDER BY created_at DESC`
	args := []any{sessionID, userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("message store: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []*Message
	for rows.Next() {
		var (
			m         Message
			meta      string
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &m.Role, &m.Content, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("message store: scan: %w", err)
		}
		if meta != "" && meta != "{}" {
			_ = json.Unmarshal([]byte(meta), &m.Metadata)
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse to chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// PruneOlderThan deletes messages created before cutoff.
func (s *MessageStore) PruneOlderThan(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM conversation_messages WHERE created_at < ?`,
		cutoff.UTC().Format(TimeLayout))
	if err != nil {
		return 0, fmt.Errorf("message store: prune: %w", err)
	}
	return res.RowsAffected()
}
