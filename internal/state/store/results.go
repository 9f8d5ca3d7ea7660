package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StepResult is the persisted outcome of one executed plan step, immutable
// once written.
type StepResult struct {
	ID         string
	SessionID  string
	StepNumber int
	Agent      string
	Action     string
	Result     map[string]any
	Success    bool
	Error      string
	DurationMS int64
	CreatedAt  time.Time
}

// ResultStore persists workflow results in execution order.
type ResultStore struct {
	db *DB
}

func NewResultStore(db *DB) *ResultStore {
	return &ResultStore{db: db}
}

// Append writes one step result row.
func (s *ResultStore) Append(r StepResult) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	var resultJSON any
	if r.Result != nil {
		data, err := json.Marshal(r.Result)
		if err != nil {
			return fmt.Errorf("result store: marshal result: %w", err)
		}
		resultJSON = string(data)
	}
	success := 0
	if r.Success {
		success = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO workflow_results (id, session_id, step_number, agent, action, result, success, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.StepNumber, r.Agent, r.Action, resultJSON, success, r.Error,
		r.DurationMS, r.CreatedAt.UTC().Format(TimeLayout))
	if err != nil {
		return fmt.Errorf("result store: insert: %w", err)
	}
	return nil
}

// BySession returns all step results for a session in step order.
func (s *ResultStore) BySession(sessionID string) ([]*StepResult, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, step_number, agent, action, result, success, error, duration_ms, created_at
		 FROM workflow_results WHERE session_id = ? ORDER BY step_number`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("result store: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []*StepResult
	for rows.Next() {
		var (
			r          StepResult
			resultJSON *string
			success    int
			createdAt  string
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.StepNumber, &r.Agent, &r.Action,
			&resultJSON, &success, &r.Error, &r.DurationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("result store: scan: %w", err)
		}
		if resultJSON != nil {
			_ = json.Unmarshal([]byte(*resultJSON), &r.Result)
		}
		r.Success = success != 0
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		results = append(results, &r)
	}
	return results, rows.Err()
}

// PruneOlderThan deletes result rows created before cutoff.
func (s *ResultStore) PruneOlderThan(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM workflow_results WHERE created_at < ?`,
		cutoff.UTC().Format(TimeLayout))
	if err != nil {
		return 0, fmt.Errorf("result store: prune: %w", err)
	}
	return res.RowsAffected()
}
