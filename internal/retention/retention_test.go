package retention

import (
	"errors"
	"testing"
	"time"
)

type fakePruner struct {
	cutoff  time.Time
	removed int64
	err     error
	calls   int
}

func (f *fakePruner) PruneOlderThan(cutoff time.Time) (int64, error) {
	f.calls++
	f.cutoff = cutoff
	return f.removed, f.err
}

func TestRunUsesMaxAgeCutoff(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	j := New("@daily", 30)
	j.now = func() time.Time { return fixed }

	p := &fakePruner{removed: 5}
	j.Add("events", p)
	j.Run()

	if p.calls != 1 {
		t.Fatalf("calls = %d, want 1", p.calls)
	}
	want := fixed.Add(-30 * 24 * time.Hour)
	if !p.cutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", p.cutoff, want)
	}
}

func TestRunContinuesPastFailures(t *testing.T) {
	j := New("@daily", 7)
	bad := &fakePruner{err: errors.New("locked")}
	good := &fakePruner{removed: 2}
	j.Add("a", bad)
	j.Add("b", good)
	j.Run()

	if bad.calls != 1 || good.calls != 1 {
		t.Errorf("calls = %d, %d; want 1, 1", bad.calls, good.calls)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	j := New("not a schedule", 7)
	if err := j.Start(); err == nil {
		t.Error("bad cron expression accepted")
		j.Stop()
	}
}

func TestStartAndStop(t *testing.T) {
	j := New("@daily", 7)
	if err := j.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	j.Stop()
}
