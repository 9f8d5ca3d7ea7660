package store

import (
	"context"
	"testing"
	"time"

	"github.com/1enterprisesight/agent-profiler/internal/event"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenAndMigrations(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	var v int
	if err := db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v); err != nil {
		t.Fatalf("read schema_version: %v", err)
	}
	if v != 1 {
		t.Errorf("schema_version = %d, want 1", v)
	}

	// Re-open: idempotent, no error.
	db2, err := Open(dir)
	if err != nil {
		t.Fatalf("Open again: %v", err)
	}
	defer db2.Close()
}

func TestRebind(t *testing.T) {
	d := &DB{driver: "postgres"}
	got := d.Rebind("INSERT INTO t (a, b) VALUES (?, ?)")
	want := "INSERT INTO t (a, b) VALUES ($1, $2)"
	if got != want {
		t.Errorf("Rebind = %q, want %q", got, want)
	}

	d2 := &DB{driver: "sqlite"}
	q := "SELECT * FROM t WHERE a = ?"
	if d2.Rebind(q) != q {
		t.Error("sqlite rebind should be a no-op")
	}
}

func TestEventStoreAppendAndBySession(t *testing.T) {
	db := openTestDB(t)
	events := NewEventStore(db)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		e := &event.Event{
			ID:         "ev-" + string(rune('0'+i)),
			SessionID:  "sess-1",
			UserID:     "user-1",
			AgentName:  "orchestrator",
			Type:       event.TypeThinking,
			Title:      "step",
			Details:    map[string]any{"n": float64(i)},
			StepNumber: i,
			Seq:        int64(i),
			CreatedAt:  time.Now(),
		}
		if err := events.Append(ctx, e); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	got, err := events.BySession("sess-1", "user-1")
	if err != nil {
		t.Fatalf("BySession: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("events = %d, want 3", len(got))
	}
	for i, e := range got {
		if e.Seq != int64(i+1) {
			t.Errorf("event %d seq = %d, want %d", i, e.Seq, i+1)
		}
	}
	if got[0].Details["n"] != float64(1) {
		t.Errorf("details not round-tripped: %v", got[0].Details)
	}

	// Another user sees nothing.
	other, err := events.BySession("sess-1", "user-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("cross-user read returned %d events", len(other))
	}
}

func TestEventStoreAfterID(t *testing.T) {
	db := openTestDB(t)
	events := NewEventStore(db)
	ctx := context.Background()

	ids := []string{"a", "b", "c"}
	for i, id := range ids {
		e := &event.Event{
			ID: id, SessionID: "s", UserID: "u", AgentName: "orchestrator",
			Type: event.TypeAction, Title: "t", Seq: int64(i + 1), CreatedAt: time.Now(),
		}
		if err := events.Append(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	after, err := events.AfterID("s", "u", "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 2 || after[0].ID != "b" || after[1].ID != "c" {
		t.Errorf("AfterID(a) = %v", after)
	}

	all, err := events.AfterID("s", "u", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("AfterID('') = %d events, want 3", len(all))
	}
}

func TestMessageStoreHistoryOrder(t *testing.T) {
	db := openTestDB(t)
	msgs := NewMessageStore(db)

	if _, err := msgs.Append("s", "u", "user", "first", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := msgs.Append("s", "u", "assistant", "second", map[string]any{"agents": []any{"quantitative"}}); err != nil {
		t.Fatal(err)
	}

	history, err := msgs.History("s", "u", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d, want 2", len(history))
	}
	if history[0].Content != "first" || history[1].Content != "second" {
		t.Errorf("history out of order: %q, %q", history[0].Content, history[1].Content)
	}
	if history[1].Metadata == nil {
		t.Error("metadata not round-tripped")
	}
}

func TestMessageStoreHistoryScopedByUser(t *testing.T) {
	db := openTestDB(t)
	msgs := NewMessageStore(db)

	if _, err := msgs.Append("s", "owner", "user", "count my records", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := msgs.Append("s", "owner", "assistant", "You have 4 records.", nil); err != nil {
		t.Fatal(err)
	}

	// Another user reading the same session id gets nothing.
	history, err := msgs.History("s", "intruder", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("cross-user history returned %d messages", len(history))
	}

	owned, err := msgs.History("s", "owner", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(owned) != 2 {
		t.Errorf("owner history = %d messages, want 2", len(owned))
	}
}

func TestTimeLayoutSortsLexically(t *testing.T) {
	// TEXT timestamps are ordered lexically, so a fraction ending in zeros
	// must not shrink: with RFC3339Nano, 10:00:00.120 renders as
	// "10:00:00.12Z" and sorts after "10:00:00.123Z".
	earlier := time.Date(2026, 3, 1, 10, 0, 0, 120000000, time.UTC)
	later := time.Date(2026, 3, 1, 10, 0, 0, 123000000, time.UTC)

	a, b := earlier.Format(TimeLayout), later.Format(TimeLayout)
	if len(a) != len(b) {
		t.Fatalf("layout is not fixed width: %q vs %q", a, b)
	}
	if a >= b {
		t.Errorf("%q does not sort before %q", a, b)
	}
	if parsed, err := time.Parse(time.RFC3339Nano, a); err != nil || !parsed.Equal(earlier) {
		t.Errorf("round-trip failed: %v, %v", parsed, err)
	}
}

func TestEventOrderSurvivesSeqRestart(t *testing.T) {
	db := openTestDB(t)
	events := NewEventStore(db)
	ctx := context.Background()

	// Two events before a process restart, two after: the later pair has
	// fresh timestamps but seq counting from 1 again.
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	trail := []*event.Event{
		{ID: "e1", Seq: 1, CreatedAt: base},
		{ID: "e2", Seq: 2, CreatedAt: base.Add(time.Second)},
		{ID: "e3", Seq: 1, CreatedAt: base.Add(time.Minute)},
		{ID: "e4", Seq: 2, CreatedAt: base.Add(time.Minute + time.Second)},
	}
	for _, e := range trail {
		e.SessionID, e.UserID, e.AgentName = "s", "u", "orchestrator"
		e.Type, e.Title = event.TypeThinking, "t"
		if err := events.Append(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := events.BySession("s", "u")
	if err != nil {
		t.Fatalf("BySession: %v", err)
	}
	want := []string{"e1", "e2", "e3", "e4"}
	if len(got) != len(want) {
		t.Fatalf("events = %d, want %d", len(got), len(want))
	}
	for i, e := range got {
		if e.ID != want[i] {
			t.Errorf("event %d = %s, want %s", i, e.ID, want[i])
		}
	}
}

func TestMessageStoreRequiresIDs(t *testing.T) {
	db := openTestDB(t)
	msgs := NewMessageStore(db)
	if _, err := msgs.Append("", "u", "user", "x", nil); err == nil {
		t.Error("expected error for empty session id")
	}
	if _, err := msgs.Append("s", "", "user", "x", nil); err == nil {
		t.Error("expected error for empty user id")
	}
}

func TestLLMLogRoundTrip(t *testing.T) {
	db := openTestDB(t)
	llm := NewLLMLog(db)

	err := llm.Append(LLMCall{
		SessionID: "s", UserID: "u", AgentName: "orchestrator",
		Purpose: "plan", Model: "claude-sonnet-4-5",
		Prompt: "make a plan", Response: `{"steps":[]}`, LatencyMS: 120,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	calls, err := llm.BySession("s")
	if err != nil {
		t.Fatalf("BySession: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	if calls[0].Purpose != "plan" || calls[0].Response != `{"steps":[]}` {
		t.Errorf("call = %+v", calls[0])
	}
	if calls[0].ID == "" {
		t.Error("id not assigned")
	}
}

func TestResultStoreRoundTrip(t *testing.T) {
	db := openTestDB(t)
	results := NewResultStore(db)

	err := results.Append(StepResult{
		SessionID: "s", StepNumber: 1, Agent: "quantitative", Action: "count_records",
		Result: map[string]any{"count": float64(42)}, Success: true, DurationMS: 15,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	err = results.Append(StepResult{
		SessionID: "s", StepNumber: 2, Agent: "segmentation", Action: "segment",
		Success: false, Error: "no numeric field",
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := results.BySession("s")
	if err != nil {
		t.Fatalf("BySession: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("results = %d, want 2", len(got))
	}
	if !got[0].Success || got[0].Result["count"] != float64(42) {
		t.Errorf("result 1 = %+v", got[0])
	}
	if got[1].Success || got[1].Error == "" {
		t.Errorf("result 2 = %+v", got[1])
	}
}

func TestPruneOlderThan(t *testing.T) {
	db := openTestDB(t)
	events := NewEventStore(db)
	ctx := context.Background()

	old := &event.Event{
		ID: "old", SessionID: "s", UserID: "u", AgentName: "orchestrator",
		Type: event.TypeResult, Title: "t", Seq: 1,
		CreatedAt: time.Now().AddDate(0, 0, -40),
	}
	recent := &event.Event{
		ID: "recent", SessionID: "s", UserID: "u", AgentName: "orchestrator",
		Type: event.TypeResult, Title: "t", Seq: 2, CreatedAt: time.Now(),
	}
	if err := events.Append(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := events.Append(ctx, recent); err != nil {
		t.Fatal(err)
	}

	n, err := events.PruneOlderThan(time.Now().AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("PruneOlderThan: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}
	left, _ := events.BySession("s", "u")
	if len(left) != 1 || left[0].ID != "recent" {
		t.Errorf("remaining = %v", left)
	}
}
