package bot

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"oraclebot/internal/store"
	"oraclebot/internal/transport"
	"oraclebot/internal/workflow"
	"oraclebot/pkg/logx"
)

// fakeAdapter records every outbound call; incoming updates are fed to
// the router directly, so Start/Stop are inert.
type fakeAdapter struct {
	mu      sync.Mutex
	texts   []sentText
	cards   []sentCard
	edits   []editCall
	answers []answerCall
}

type sentText struct {
	chatID int64
	text   string
	kb     transport.Keyboard
}

type sentCard struct {
	userID int64
	card   transport.Card
}

type editCall struct {
	ref transport.MessageRef
	kb  transport.Keyboard
}

type answerCall struct {
	text  string
	alert bool
}

func (f *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                           { return nil }

func (f *fakeAdapter) SendPredictionCard(_ context.Context, userID int64, card transport.Card) (transport.MessageRef, transport.Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cards = append(f.cards, sentCard{userID: userID, card: card})
	return transport.MessageRef{ChatID: userID, MessageID: 1}, transport.Delivered()
}

func (f *fakeAdapter) EditKeyboard(_ context.Context, ref transport.MessageRef, kb transport.Keyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, editCall{ref: ref, kb: kb})
	return nil
}

func (f *fakeAdapter) SendText(_ context.Context, chatID int64, text string, kb transport.Keyboard) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, sentText{chatID: chatID, text: text, kb: kb})
	return transport.MessageRef{ChatID: chatID, MessageID: 1}, nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string, alert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, answerCall{text: text, alert: alert})
	return nil
}

func (f *fakeAdapter) lastAnswer(t *testing.T) answerCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.answers) == 0 {
		t.Fatalf("no callback answers recorded")
	}
	return f.answers[len(f.answers)-1]
}

type fakeEngine struct {
	mu    sync.Mutex
	tests []int64
}

func (f *fakeEngine) SendTest(_ context.Context, _ store.Prediction, adminID int64) transport.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tests = append(f.tests, adminID)
	return transport.Delivered()
}

const testAdminID = int64(9000)

func newTestRouter(t *testing.T) (*Router, *fakeAdapter, *store.Store) {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, time.UTC, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	fa := &fakeAdapter{}
	flow := workflow.NewManager(st, time.UTC, logx.Nop())
	r := NewRouter(fa, st, &fakeEngine{}, flow, time.UTC, []int64{testAdminID}, logx.Nop())
	return r, fa, st
}

// activePrediction walks a prediction to active so users can pick.
func activePrediction(t *testing.T, st *store.Store) store.Prediction {
	t.Helper()
	ctx := context.Background()
	p, err := st.CreateDraft(ctx, store.Draft{
		MediaKind:   store.MediaPhoto,
		MediaFileID: "f-1",
		Body:        "Pick a door.",
		Options:     [3]string{"Door 1", "Door 2", "Door 3"},
		Results:     [3]string{"Gold", "Goat", "Nothing"},
		CreatedBy:   testAdminID,
	})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if err := st.Schedule(ctx, p.ID, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := st.MarkActive(ctx, p.ID, time.Now()); err != nil {
		t.Fatalf("mark active: %v", err)
	}
	return p
}

func TestPickRecordsAndLocksCard(t *testing.T) {
	t.Parallel()
	r, fa, st := newTestRouter(t)
	ctx := context.Background()
	p := activePrediction(t, st)

	r.handleCallback(ctx, &transport.Callback{
		ID: "cb1", FromID: 100, ChatID: 100, MessageID: 5,
		Data: fmt.Sprintf("pick:%d:1", p.ID),
	})

	choice, err := st.ChoiceFor(ctx, 100, p.ID)
	if err != nil || choice == nil || choice.OptionIdx != 1 {
		t.Fatalf("choice = %+v, %v", choice, err)
	}

	fa.mu.Lock()
	edits := fa.edits
	fa.mu.Unlock()
	if len(edits) != 1 {
		t.Fatalf("edits = %d, want 1", len(edits))
	}
	kb := edits[0].kb
	if len(kb) != 1 || len(kb[0]) != 1 || kb[0][0].Label != "Goat" {
		t.Fatalf("locked keyboard = %+v, want single Goat button", kb)
	}
	if ans := fa.lastAnswer(t); ans.text != "✨ Goat" || ans.alert {
		t.Fatalf("answer = %+v, want result label", ans)
	}
}

func TestPickSecondTapIsRefused(t *testing.T) {
	t.Parallel()
	r, fa, st := newTestRouter(t)
	ctx := context.Background()
	p := activePrediction(t, st)

	first := &transport.Callback{ID: "cb1", FromID: 100, ChatID: 100, MessageID: 5, Data: fmt.Sprintf("pick:%d:0", p.ID)}
	r.handleCallback(ctx, first)
	second := &transport.Callback{ID: "cb2", FromID: 100, ChatID: 100, MessageID: 5, Data: fmt.Sprintf("pick:%d:2", p.ID)}
	r.handleCallback(ctx, second)

	if ans := fa.lastAnswer(t); ans.text != msgAlreadyChosen || !ans.alert {
		t.Fatalf("answer = %+v, want alert %q", ans, msgAlreadyChosen)
	}
	choice, err := st.ChoiceFor(ctx, 100, p.ID)
	if err != nil || choice == nil || choice.OptionIdx != 0 {
		t.Fatalf("choice = %+v, %v; first pick must stand", choice, err)
	}
}

func TestLockedTapAnswersOnly(t *testing.T) {
	t.Parallel()
	r, fa, _ := newTestRouter(t)

	r.handleCallback(context.Background(), &transport.Callback{ID: "cb1", FromID: 100, Data: "locked:"})
	if ans := fa.lastAnswer(t); ans.text != msgAlreadyChosen {
		t.Fatalf("answer = %+v", ans)
	}
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if len(fa.edits) != 0 || len(fa.texts) != 0 {
		t.Fatalf("locked tap should not send or edit anything")
	}
}

func TestTestTapNeverRecorded(t *testing.T) {
	t.Parallel()
	r, fa, st := newTestRouter(t)
	ctx := context.Background()
	p := activePrediction(t, st)

	r.handleCallback(ctx, &transport.Callback{
		ID: "cb1", FromID: testAdminID, ChatID: testAdminID, MessageID: 3,
		Data: fmt.Sprintf("test:%d:2", p.ID),
	})

	choice, err := st.ChoiceFor(ctx, testAdminID, p.ID)
	if err != nil || choice != nil {
		t.Fatalf("choice = %+v, %v; test taps must not be recorded", choice, err)
	}
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if len(fa.edits) != 1 {
		t.Fatalf("edits = %d, want preview lock", len(fa.edits))
	}
}

func TestStartSendsLiveCard(t *testing.T) {
	t.Parallel()
	r, fa, st := newTestRouter(t)
	ctx := context.Background()
	p := activePrediction(t, st)

	r.handleMessage(ctx, &transport.Message{ID: 1, ChatID: 100, FromID: 100, Text: "/start"})

	fa.mu.Lock()
	defer fa.mu.Unlock()
	if len(fa.cards) != 1 || fa.cards[0].userID != 100 {
		t.Fatalf("cards = %+v, want live card to user", fa.cards)
	}
	for _, b := range fa.cards[0].card.Buttons {
		if !strings.HasPrefix(b.Data, fmt.Sprintf("pick:%d:", p.ID)) {
			t.Fatalf("button data = %q, want pick prefix", b.Data)
		}
	}
}

func TestStartAfterChoiceShowsLockedResult(t *testing.T) {
	t.Parallel()
	r, fa, st := newTestRouter(t)
	ctx := context.Background()
	p := activePrediction(t, st)

	if err := st.EnsureUser(ctx, 100); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if _, err := st.RecordChoice(ctx, 100, p.ID, 1); err != nil {
		t.Fatalf("record: %v", err)
	}
	r.handleMessage(ctx, &transport.Message{ID: 1, ChatID: 100, FromID: 100, Text: "/start"})

	fa.mu.Lock()
	defer fa.mu.Unlock()
	if len(fa.cards) != 0 {
		t.Fatalf("no live card expected after a choice")
	}
	if len(fa.texts) != 1 {
		t.Fatalf("texts = %+v, want locked result", fa.texts)
	}
	kb := fa.texts[0].kb
	if len(kb) != 1 || kb[0][0].Label != "Goat" {
		t.Fatalf("keyboard = %+v, want locked Goat button", kb)
	}
}

func TestStartWithoutActivePrediction(t *testing.T) {
	t.Parallel()
	r, fa, st := newTestRouter(t)
	ctx := context.Background()

	r.handleMessage(ctx, &transport.Message{ID: 1, ChatID: 100, FromID: 100, Text: "/start"})

	fa.mu.Lock()
	texts := fa.texts
	fa.mu.Unlock()
	if len(texts) != 1 || texts[0].text != msgNoPrediction {
		t.Fatalf("texts = %+v", texts)
	}

	// First contact registers the user for future broadcasts.
	n, err := st.CountUsers(ctx)
	if err != nil || n != 1 {
		t.Fatalf("users = %d, %v; want 1", n, err)
	}
}

func TestAdminStartShowsMenu(t *testing.T) {
	t.Parallel()
	r, fa, _ := newTestRouter(t)

	r.handleMessage(context.Background(), &transport.Message{ID: 1, ChatID: testAdminID, FromID: testAdminID, Text: "/start"})

	fa.mu.Lock()
	defer fa.mu.Unlock()
	if len(fa.texts) != 1 || len(fa.texts[0].kb) == 0 {
		t.Fatalf("texts = %+v, want menu with keyboard", fa.texts)
	}
}

func TestAdminActionsGated(t *testing.T) {
	t.Parallel()
	r, fa, _ := newTestRouter(t)

	r.handleCallback(context.Background(), &transport.Callback{ID: "cb1", FromID: 100, ChatID: 100, Data: "admin:new"})

	fa.mu.Lock()
	defer fa.mu.Unlock()
	if len(fa.texts) != 0 {
		t.Fatalf("non-admin must not reach admin actions")
	}
	if len(fa.answers) != 1 {
		t.Fatalf("answers = %+v, want refusal", fa.answers)
	}
}

func TestAdminCreationFlowThroughRouter(t *testing.T) {
	t.Parallel()
	r, fa, st := newTestRouter(t)
	ctx := context.Background()

	r.handleCallback(ctx, &transport.Callback{ID: "cb1", FromID: testAdminID, ChatID: testAdminID, Data: "admin:new"})

	msg := func(text string, media *transport.MediaRef) *transport.Message {
		return &transport.Message{ID: 1, ChatID: testAdminID, FromID: testAdminID, Text: text, Media: media}
	}
	r.handleMessage(ctx, msg("", &transport.MediaRef{Kind: store.MediaPhoto, FileID: "f-9"}))
	r.handleMessage(ctx, msg("Be bold this month.", nil))
	r.handleMessage(ctx, msg("A\nB\nC", nil))
	r.handleMessage(ctx, msg("RA\nRB\nRC", nil))
	fireAt := time.Now().Add(24 * time.Hour)
	r.handleMessage(ctx, msg(fireAt.UTC().Format("02.01.2006 15:04"), nil))
	r.handleCallback(ctx, &transport.Callback{ID: "cb2", FromID: testAdminID, ChatID: testAdminID, Data: "admin:confirm"})

	sched, err := st.CurrentScheduled(ctx)
	if err != nil || sched == nil {
		t.Fatalf("scheduled = %+v, %v; want one scheduled prediction", sched, err)
	}
	if sched.Body != "Be bold this month." {
		t.Fatalf("body = %q", sched.Body)
	}

	fa.mu.Lock()
	defer fa.mu.Unlock()
	last := fa.texts[len(fa.texts)-1]
	if !strings.Contains(last.text, "scheduled") {
		t.Fatalf("final prompt = %q, want scheduling confirmation", last.text)
	}
}

func TestCancelFlow(t *testing.T) {
	t.Parallel()
	r, fa, st := newTestRouter(t)
	ctx := context.Background()

	p, err := st.CreateDraft(ctx, store.Draft{
		MediaKind: store.MediaPhoto, MediaFileID: "f", Body: "b",
		Options: [3]string{"a", "b", "c"}, Results: [3]string{"x", "y", "z"}, CreatedBy: testAdminID,
	})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if err := st.Schedule(ctx, p.ID, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	r.handleCallback(ctx, &transport.Callback{ID: "cb1", FromID: testAdminID, ChatID: testAdminID, Data: "admin:cancel"})
	r.handleCallback(ctx, &transport.Callback{ID: "cb2", FromID: testAdminID, ChatID: testAdminID, Data: "admin:cancel_yes"})

	got, err := st.Prediction(ctx, p.ID)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if got.Status != store.StatusClosed {
		t.Fatalf("status = %s, want closed after cancel", got.Status)
	}

	// Cancel with nothing scheduled is answered, not crashed.
	r.handleCallback(ctx, &transport.Callback{ID: "cb3", FromID: testAdminID, ChatID: testAdminID, Data: "admin:cancel"})
	if ans := fa.lastAnswer(t); !ans.alert {
		t.Fatalf("answer = %+v, want alert about empty slot", ans)
	}
}
