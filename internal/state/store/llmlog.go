package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LLMCall is one prompt/response pair in the append-only audit log: who
// asked the model what, and what it said.
type LLMCall struct {
	ID        string
	SessionID string
	UserID    string
	AgentName string
	Purpose   string // understanding | plan | repair | synthesis | agent-specific
	Model     string
	Prompt    string
	Response  string
	Error     string
	LatencyMS int64
	CreatedAt time.Time
}

// LLMLog persists every LLM round-trip for auditability.
type LLMLog struct {
	db *DB
}

func NewLLMLog(db *DB) *LLMLog {
	return &LLMLog{db: db}
}

// Append records one call. Failures to log never fail the workflow; the
// caller decides whether to ignore the returned error.
func (l *LLMLog) Append(c LLMCall) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := l.db.Exec(
		`INSERT INTO llm_conversations (id, session_id, user_id, agent_name, purpose, model, prompt, response, error, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionID, c.UserID, c.AgentName, c.Purpose, c.Model, c.Prompt, c.Response, c.Error,
		c.LatencyMS, c.CreatedAt.UTC().Format(TimeLayout))
	if err != nil {
		return fmt.Errorf("llm log: insert: %w", err)
	}
	return nil
}

// BySession returns all logged calls for a session, oldest first.
func (l *LLMLog) BySession(sessionID string) ([]*LLMCall, error) {
	rows, err := l.db.Query(
		`SELECT id, session_id, user_id, agent_name, purpose, model, prompt, response, error, latency_ms, created_at
		 FROM llm_conversations WHERE session_id = ? ORDER BY created_at`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("llm log: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var calls []*LLMCall
	for rows.Next() {
		var (
			c         LLMCall
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.SessionID, &c.UserID, &c.AgentName, &c.Purpose, &c.Model,
			&c.Prompt, &c.Response, &c.Error, &c.LatencyMS, &createdAt); err != nil {
			return nil, fmt.Errorf("llm log: scan: %w", err)
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		calls = append(calls, &c)
	}
	return calls, rows.Err()
}

// PruneOlderThan deletes audit entries created before cutoff.
func (l *LLMLog) PruneOlderThan(cutoff time.Time) (int64, error) {
	res, err := l.db.Exec(
		`DELETE FROM llm_conversations WHERE created_at < ?`,
		cutoff.UTC().Format(TimeLayout))
	if err != nil {
		return 0, fmt.Errorf("llm log: prune: %w", err)
	}
	return res.RowsAffected()
}
