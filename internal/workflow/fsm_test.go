package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"oraclebot/internal/store"
	"oraclebot/pkg/logx"
)

type fakeStore struct {
	mu           sync.Mutex
	nextID       int64
	createCalls  int
	scheduleErrs []error // consumed front to back; empty means nil
	scheduled    []scheduledCall
}

type scheduledCall struct {
	id     int64
	fireAt time.Time
}

func (f *fakeStore) CreateDraft(_ context.Context, d store.Draft) (store.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.nextID++
	return store.Prediction{ID: f.nextID, Status: store.StatusDraft, Body: d.Body}, nil
}

func (f *fakeStore) Schedule(_ context.Context, id int64, fireAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if len(f.scheduleErrs) > 0 {
		err = f.scheduleErrs[0]
		f.scheduleErrs = f.scheduleErrs[1:]
	}
	if err == nil {
		f.scheduled = append(f.scheduled, scheduledCall{id: id, fireAt: fireAt})
	}
	return err
}

func newTestManager(fs *fakeStore) *Manager {
	m := NewManager(fs, time.UTC, logx.Nop())
	m.now = func() time.Time { return time.Date(2026, time.July, 1, 12, 0, 0, 0, time.UTC) }
	return m
}

// walkToConfirmation drives a session through the collection steps.
func walkToConfirmation(t *testing.T, m *Manager, adminID int64) {
	t.Helper()
	ctx := context.Background()

	if res := m.Begin(adminID); res.State != StateAwaitingMedia {
		t.Fatalf("begin state = %s", res.State)
	}
	res := m.Apply(ctx, adminID, MediaEvent{Kind: store.MediaPhoto, FileID: "f-1"})
	if res.State != StateAwaitingBody || res.Err != nil {
		t.Fatalf("after media: %+v", res)
	}
	res = m.Apply(ctx, adminID, TextEvent{Text: "Trust the process."})
	if res.State != StateAwaitingInitialLabels || res.Err != nil {
		t.Fatalf("after body: %+v", res)
	}
	res = m.Apply(ctx, adminID, TextEvent{Text: "One\nTwo\nThree"})
	if res.State != StateAwaitingResultLabels || res.Err != nil {
		t.Fatalf("after options: %+v", res)
	}
	res = m.Apply(ctx, adminID, TextEvent{Text: "Alpha\nBeta\nGamma"})
	if res.State != StateAwaitingScheduleTime || res.Err != nil {
		t.Fatalf("after results: %+v", res)
	}
	res = m.Apply(ctx, adminID, TextEvent{Text: "02.07.2026 09:00"})
	if res.State != StateAwaitingConfirmation || res.Err != nil {
		t.Fatalf("after time: %+v", res)
	}
	if !strings.Contains(res.Prompt, "Trust the process.") {
		t.Fatalf("preview missing body: %q", res.Prompt)
	}
}

func TestFullWalk(t *testing.T) {
	t.Parallel()
	fs := &fakeStore{}
	m := newTestManager(fs)
	ctx := context.Background()

	walkToConfirmation(t, m, 42)
	res := m.Apply(ctx, 42, ConfirmEvent{})
	if res.State != StateDone || res.Err != nil {
		t.Fatalf("confirm: %+v", res)
	}
	if res.Prediction == nil || res.Prediction.ID != 1 {
		t.Fatalf("prediction = %+v", res.Prediction)
	}
	wantFire := time.Date(2026, time.July, 2, 9, 0, 0, 0, time.UTC)
	if len(fs.scheduled) != 1 || !fs.scheduled[0].fireAt.Equal(wantFire) {
		t.Fatalf("scheduled = %+v, want fire at %v", fs.scheduled, wantFire)
	}
	if m.Active(42) {
		t.Fatalf("session should be gone after done")
	}
}

func TestLabelInputRejected(t *testing.T) {
	t.Parallel()
	fs := &fakeStore{}
	m := newTestManager(fs)
	ctx := context.Background()

	m.Begin(7)
	m.Apply(ctx, 7, MediaEvent{Kind: store.MediaPhoto, FileID: "f"})
	m.Apply(ctx, 7, TextEvent{Text: "body"})

	cases := []string{"", "One\nTwo", "One\nTwo\nThree\nFour", "\n\n\n"}
	for _, input := range cases {
		res := m.Apply(ctx, 7, TextEvent{Text: input})
		if res.Err == nil || res.State != StateAwaitingInitialLabels {
			t.Fatalf("input %q: %+v, want rejection in place", input, res)
		}
	}

	// Blank lines between labels are tolerated.
	res := m.Apply(ctx, 7, TextEvent{Text: "One\n\nTwo\n\nThree"})
	if res.Err != nil || res.State != StateAwaitingResultLabels {
		t.Fatalf("padded labels: %+v", res)
	}
}

func TestScheduleTimeRejected(t *testing.T) {
	t.Parallel()
	fs := &fakeStore{}
	m := newTestManager(fs)
	ctx := context.Background()

	m.Begin(7)
	m.Apply(ctx, 7, MediaEvent{Kind: store.MediaPhoto, FileID: "f"})
	m.Apply(ctx, 7, TextEvent{Text: "body"})
	m.Apply(ctx, 7, TextEvent{Text: "a\nb\nc"})
	m.Apply(ctx, 7, TextEvent{Text: "x\ny\nz"})

	for _, input := range []string{"tomorrow", "2026-07-02 09:00", "30.06.2026 09:00"} {
		res := m.Apply(ctx, 7, TextEvent{Text: input})
		if res.Err == nil || res.State != StateAwaitingScheduleTime {
			t.Fatalf("input %q: %+v, want rejection in place", input, res)
		}
	}
}

func TestMediaRequiredFirst(t *testing.T) {
	t.Parallel()
	fs := &fakeStore{}
	m := newTestManager(fs)
	ctx := context.Background()

	m.Begin(7)
	res := m.Apply(ctx, 7, TextEvent{Text: "not a photo"})
	if res.Err == nil || res.State != StateAwaitingMedia {
		t.Fatalf("text at media step: %+v", res)
	}
}

func TestRestartDiscardsEverything(t *testing.T) {
	t.Parallel()
	fs := &fakeStore{}
	m := newTestManager(fs)
	ctx := context.Background()

	walkToConfirmation(t, m, 9)
	res := m.Apply(ctx, 9, RestartEvent{})
	if res.State != StateAwaitingMedia || res.Err != nil {
		t.Fatalf("restart: %+v", res)
	}
	if fs.createCalls != 0 || len(fs.scheduled) != 0 {
		t.Fatalf("store touched on restart: %+v", fs)
	}
}

func TestConfirmRetryDoesNotDuplicateDraft(t *testing.T) {
	t.Parallel()
	fs := &fakeStore{scheduleErrs: []error{store.ErrConflict}}
	m := newTestManager(fs)
	ctx := context.Background()

	walkToConfirmation(t, m, 9)

	res := m.Apply(ctx, 9, ConfirmEvent{})
	if !errors.Is(res.Err, store.ErrConflict) || res.State != StateAwaitingConfirmation {
		t.Fatalf("first confirm: %+v", res)
	}

	// The conflicting prediction was cancelled meanwhile; retry.
	res = m.Apply(ctx, 9, ConfirmEvent{})
	if res.State != StateDone || res.Err != nil {
		t.Fatalf("second confirm: %+v", res)
	}
	if fs.createCalls != 1 {
		t.Fatalf("createCalls = %d, want 1", fs.createCalls)
	}
}

func TestApplyWithoutSession(t *testing.T) {
	t.Parallel()
	m := newTestManager(&fakeStore{})
	res := m.Apply(context.Background(), 5, TextEvent{Text: "hello"})
	if res.Err == nil {
		t.Fatalf("want error without session")
	}
}

func TestSessionTTL(t *testing.T) {
	t.Parallel()
	m := newTestManager(&fakeStore{})
	base := time.Date(2026, time.July, 1, 12, 0, 0, 0, time.UTC)
	now := base
	m.now = func() time.Time { return now }

	m.Begin(3)
	if !m.Active(3) {
		t.Fatalf("session should be active")
	}

	now = base.Add(time.Hour) // past the 30m TTL
	res := m.Apply(context.Background(), 3, MediaEvent{Kind: store.MediaPhoto, FileID: "f"})
	if res.Err == nil {
		t.Fatalf("stale session should have been swept")
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	t.Parallel()
	fs := &fakeStore{}
	m := newTestManager(fs)
	ctx := context.Background()

	m.Begin(1)
	m.Begin(2)
	m.Apply(ctx, 1, MediaEvent{Kind: store.MediaPhoto, FileID: "f1"})

	if res := m.Apply(ctx, 2, TextEvent{Text: "text"}); res.State != StateAwaitingMedia {
		t.Fatalf("admin 2 state = %s, want awaiting_media", res.State)
	}
	m.Abort(1)
	if m.Active(1) {
		t.Fatalf("admin 1 session should be gone")
	}
	if !m.Active(2) {
		t.Fatalf("admin 2 session should survive admin 1 abort")
	}
}
