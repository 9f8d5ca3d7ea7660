// Package dataset holds the per-user client records and discovers their
// schema from the data itself. Nothing here is hardcoded: field names,
// types, and value thresholds all come from sampling the stored rows.
package dataset

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/1enterprisesight/agent-profiler/internal/state/store"
)

// Record is one client row owned by a user. Attributes is free-form: every
// data source brings its own fields.
type Record struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	DataSource string         `json:"data_source"`
	Name       string         `json:"name"`
	Attributes map[string]any `json:"attributes"`
	CreatedAt  time.Time      `json:"created_at"`
}

// RecordStore persists client records.
type RecordStore struct {
	db *store.DB
}

func NewRecordStore(db *store.DB) *RecordStore {
	return &RecordStore{db: db}
}

// Insert stores one record and returns it with id and timestamp assigned.
func (s *RecordStore) Insert(r Record) (*Record, error) {
	if r.UserID == "" {
		return nil, fmt.Errorf("record store: user id is required")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	attrs := []byte("{}")
	if r.Attributes != nil {
		var err error
		attrs, err = json.Marshal(r.Attributes)
		if err != nil {
			return nil, fmt.Errorf("record store: marshal attributes: %w", err)
		}
	}
	_, err := s.db.Exec(
		`INSERT INTO client_records (id, user_id, data_source, name, attributes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.DataSource, r.Name, string(attrs), r.CreatedAt.UTC().Format(store.TimeLayout))
	if err != nil {
		return nil, fmt.Errorf("record store: insert: %w", err)
	}
	return &r, nil
}

// ByUser returns all records owned by userID, oldest first.
func (s *RecordStore) ByUser(userID string) ([]*Record, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, data_source, name, attributes, created_at
		 FROM client_records WHERE user_id = ? ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("record store: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*Record
	for rows.Next() {
		var (
			r         Record
			attrs     string
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.DataSource, &r.Name, &attrs, &createdAt); err != nil {
			return nil, fmt.Errorf("record store: scan: %w", err)
		}
		if attrs != "" {
			_ = json.Unmarshal([]byte(attrs), &r.Attributes)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		records = append(records, &r)
	}
	return records, rows.Err()
}

// Count returns the number of records owned by userID.
func (s *RecordStore) Count(userID string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM client_records WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("record store: count: %w", err)
	}
	return n, nil
}
