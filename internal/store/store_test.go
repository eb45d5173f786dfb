package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"oraclebot/pkg/logx"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "bot.db")}, time.UTC, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testDraft() Draft {
	return Draft{
		MediaKind:   MediaPhoto,
		MediaFileID: "file-123",
		Body:        "The stars say: yes.",
		Options:     [3]string{"Left", "Middle", "Right"},
		Results:     [3]string{"Courage", "Patience", "Luck"},
		CreatedBy:   42,
	}
}

// mustScheduled creates a draft and moves it into the scheduled slot.
func mustScheduled(t *testing.T, st *Store, fireAt time.Time) Prediction {
	t.Helper()
	ctx := context.Background()
	p, err := st.CreateDraft(ctx, testDraft())
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if err := st.Schedule(ctx, p.ID, fireAt); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	return p
}

// mustActive walks a fresh prediction all the way to active with the
// given publish time.
func mustActive(t *testing.T, st *Store, publishedAt time.Time) Prediction {
	t.Helper()
	ctx := context.Background()

	prev := st.now
	st.now = func() time.Time { return publishedAt.Add(-time.Hour) }
	defer func() { st.now = prev }()

	p := mustScheduled(t, st, publishedAt)
	if err := st.MarkActive(ctx, p.ID, publishedAt); err != nil {
		t.Fatalf("mark active: %v", err)
	}
	return p
}

func TestMonthKey(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	// 23:30 UTC on Jan 31 is already February in Moscow.
	at := time.Date(2026, time.January, 31, 23, 30, 0, 0, time.UTC)
	if got := MonthKey(at, loc); got != "2026-02" {
		t.Fatalf("MonthKey = %q, want 2026-02", got)
	}
	if got := MonthKey(at, time.UTC); got != "2026-01" {
		t.Fatalf("MonthKey = %q, want 2026-01", got)
	}
}
