package store

import (
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// --- Config ---

func TestConfigUpsert(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetConfig("k", "v1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetConfig("k", "v2"); err != nil {
		t.Fatalf("set again: %v", err)
	}
	got, err := s.GetConfig("k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "v2" {
		t.Errorf("value = %q, want %q", got, "v2")
	}
}

func TestConfigMissingKey(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetConfig("nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "" {
		t.Errorf("value = %q, want empty", got)
	}
}

func TestConfigDelete(t *testing.T) {
	s := openTestStore(t)
	if err := s.SetConfig("k", "v"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteConfig("k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := s.GetConfig("k"); got != "" {
		t.Errorf("value after delete = %q, want empty", got)
	}
	// Deleting a missing key is fine.
	if err := s.DeleteConfig("k"); err != nil {
		t.Errorf("delete missing: %v", err)
	}
}

// --- Sessions ---

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)
	started := time.Now().UTC().Truncate(time.Second)

	if err := s.CreateSession("s-1", started); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetSession("s-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("got nil session")
	}
	if got.Status != "running" {
		t.Errorf("status = %q, want running", got.Status)
	}
	if got.EndedAt != nil {
		t.Errorf("ended_at = %v, want nil", got.EndedAt)
	}

	if err := s.RecordResult("s-1", 3, 0.42); err != nil {
		t.Fatalf("record result: %v", err)
	}
	if err := s.FinishSession("s-1", "stopped", started.Add(time.Minute)); err != nil {
		t.Fatalf("finish: %v", err)
	}

	got, err = s.GetSession("s-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.TurnCount != 3 {
		t.Errorf("turn_count = %d, want 3", got.TurnCount)
	}
	if got.CostUSD != 0.42 {
		t.Errorf("cost_usd = %v, want 0.42", got.CostUSD)
	}
	if got.Status != "stopped" {
		t.Errorf("status = %q, want stopped", got.Status)
	}
	if got.EndedAt == nil {
		t.Error("ended_at still nil after finish")
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetSession("nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().UTC().Truncate(time.Second)
	for i, id := range []string{"s-old", "s-mid", "s-new"} {
		if err := s.CreateSession(id, base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatal(err)
		}
	}

	sessions, err := s.ListSessions(2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("len = %d, want 2", len(sessions))
	}
	if sessions[0].ID != "s-new" || sessions[1].ID != "s-mid" {
		t.Errorf("order = %s, %s; want s-new, s-mid", sessions[0].ID, sessions[1].ID)
	}
}

func TestUsageTotals(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	s.CreateSession("a", now)
	s.CreateSession("b", now)
	s.RecordResult("a", 2, 0.10)
	s.RecordResult("b", 5, 0.25)

	u, err := s.UsageTotals()
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if u.Sessions != 2 {
		t.Errorf("sessions = %d, want 2", u.Sessions)
	}
	if u.TotalTurns != 7 {
		t.Errorf("turns = %d, want 7", u.TotalTurns)
	}
	if u.TotalUSD != 0.35 {
		t.Errorf("usd = %v, want 0.35", u.TotalUSD)
	}
}
