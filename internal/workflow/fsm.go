// Package workflow is the admin conversation for authoring a monthly
// prediction: a finite state machine keyed by admin identity that
// collects media, body text and button labels, then creates and
// schedules the draft. Session state is ephemeral and in-memory.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"oraclebot/internal/store"
	"oraclebot/pkg/logx"
)

type State string

const (
	StateAwaitingMedia         State = "awaiting_media"
	StateAwaitingBody          State = "awaiting_body"
	StateAwaitingInitialLabels State = "awaiting_initial_labels"
	StateAwaitingResultLabels  State = "awaiting_result_labels"
	StateAwaitingScheduleTime  State = "awaiting_schedule_time"
	StateAwaitingConfirmation  State = "awaiting_confirmation"
	StateDone                  State = "done"
)

// Event is a typed input to the FSM.
type Event interface{ isEvent() }

type MediaEvent struct {
	Kind   string
	FileID string
}

type TextEvent struct{ Text string }

type ConfirmEvent struct{}

type RestartEvent struct{}

func (MediaEvent) isEvent()   {}
func (TextEvent) isEvent()    {}
func (ConfirmEvent) isEvent() {}
func (RestartEvent) isEvent() {}

// Result is what a transition hands back to the router: the state the
// session is now in, the prompt to render, and (once done) the
// scheduled prediction. Err is set when input was rejected or the
// store refused the final create/schedule; the session stays where it
// was so the admin can correct and retry.
type Result struct {
	State      State
	Prompt     string
	Prediction *store.Prediction
	FireAt     time.Time
	Err        error
}

// PredictionStore is the slice of the store the workflow needs.
type PredictionStore interface {
	CreateDraft(ctx context.Context, d store.Draft) (store.Prediction, error)
	Schedule(ctx context.Context, id int64, fireAt time.Time) error
}

const timeLayout = "02.01.2006 15:04"

type session struct {
	state   State
	draft   store.Draft
	fireAt  time.Time
	touched time.Time

	// draftID is set once CreateDraft succeeded, so a confirm retry
	// after a schedule conflict does not create a second draft.
	draftID int64
}

type Manager struct {
	st  PredictionStore
	loc *time.Location
	log logx.Logger

	mu       sync.Mutex
	sessions map[int64]*session

	ttl time.Duration
	now func() time.Time
}

func NewManager(st PredictionStore, loc *time.Location, log logx.Logger) *Manager {
	if loc == nil {
		loc = time.UTC
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		st:       st,
		loc:      loc,
		log:      log,
		sessions: map[int64]*session{},
		ttl:      30 * time.Minute,
		now:      time.Now,
	}
}

// Begin starts (or restarts) the conversation for one admin,
// discarding anything previously collected.
func (m *Manager) Begin(adminID int64) Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	m.sessions[adminID] = &session{state: StateAwaitingMedia, touched: m.now()}
	return Result{State: StateAwaitingMedia, Prompt: promptMedia}
}

// Active reports whether the admin has a conversation in flight.
func (m *Manager) Active(adminID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[adminID]
	return ok && s.state != StateDone
}

// Abort drops the admin's conversation.
func (m *Manager) Abort(adminID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, adminID)
}

// Apply feeds one typed input into the admin's session.
func (m *Manager) Apply(ctx context.Context, adminID int64, ev Event) Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()

	s, ok := m.sessions[adminID]
	if !ok {
		return Result{Err: errors.New("no prediction in progress; start one from the menu")}
	}
	s.touched = m.now()

	switch s.state {
	case StateAwaitingMedia:
		return m.onMedia(s, ev)
	case StateAwaitingBody:
		return m.onBody(s, ev)
	case StateAwaitingInitialLabels:
		return m.onLabels(s, ev, true)
	case StateAwaitingResultLabels:
		return m.onLabels(s, ev, false)
	case StateAwaitingScheduleTime:
		return m.onScheduleTime(s, ev)
	case StateAwaitingConfirmation:
		return m.onConfirmation(ctx, adminID, s, ev)
	default:
		return Result{State: s.state, Err: errors.New("conversation already finished")}
	}
}

func (m *Manager) onMedia(s *session, ev Event) Result {
	media, ok := ev.(MediaEvent)
	if !ok || strings.TrimSpace(media.FileID) == "" {
		return Result{State: s.state, Prompt: promptMedia, Err: errors.New("send a photo, video or GIF")}
	}
	s.draft.MediaKind = media.Kind
	s.draft.MediaFileID = media.FileID
	s.state = StateAwaitingBody
	return Result{State: s.state, Prompt: promptBody}
}

func (m *Manager) onBody(s *session, ev Event) Result {
	text, ok := ev.(TextEvent)
	if !ok || strings.TrimSpace(text.Text) == "" {
		return Result{State: s.state, Prompt: promptBody, Err: errors.New("send the prediction text")}
	}
	s.draft.Body = strings.TrimSpace(text.Text)
	s.state = StateAwaitingInitialLabels
	return Result{State: s.state, Prompt: promptInitialLabels}
}

func (m *Manager) onLabels(s *session, ev Event, initial bool) Result {
	prompt := promptResultLabels
	if initial {
		prompt = promptInitialLabels
	}
	text, ok := ev.(TextEvent)
	if !ok {
		return Result{State: s.state, Prompt: prompt, Err: errors.New("send the three labels as text")}
	}
	labels, err := splitLabels(text.Text)
	if err != nil {
		return Result{State: s.state, Prompt: prompt, Err: err}
	}
	if initial {
		s.draft.Options = labels
		s.state = StateAwaitingResultLabels
		return Result{State: s.state, Prompt: promptResultLabels}
	}
	s.draft.Results = labels
	s.state = StateAwaitingScheduleTime
	return Result{State: s.state, Prompt: promptScheduleTime}
}

func (m *Manager) onScheduleTime(s *session, ev Event) Result {
	text, ok := ev.(TextEvent)
	if !ok {
		return Result{State: s.state, Prompt: promptScheduleTime, Err: errors.New("send the fire time as text")}
	}
	fireAt, err := time.ParseInLocation(timeLayout, strings.TrimSpace(text.Text), m.loc)
	if err != nil {
		return Result{State: s.state, Prompt: promptScheduleTime, Err: fmt.Errorf("time must look like %q", timeLayout)}
	}
	if !fireAt.After(m.now()) {
		return Result{State: s.state, Prompt: promptScheduleTime, Err: errors.New("fire time must be in the future")}
	}
	s.fireAt = fireAt
	s.state = StateAwaitingConfirmation
	return Result{State: s.state, Prompt: m.preview(s), FireAt: fireAt}
}

func (m *Manager) onConfirmation(ctx context.Context, adminID int64, s *session, ev Event) Result {
	switch ev.(type) {
	case RestartEvent:
		// Restart discards everything collected, including a draft
		// row already created by a failed confirm.
		m.sessions[adminID] = &session{state: StateAwaitingMedia, touched: m.now()}
		return Result{State: StateAwaitingMedia, Prompt: promptMedia}
	case ConfirmEvent:
		if s.draftID == 0 {
			s.draft.CreatedBy = adminID
			p, err := m.st.CreateDraft(ctx, s.draft)
			if err != nil {
				return Result{State: s.state, Prompt: m.preview(s), Err: err}
			}
			s.draftID = p.ID
		}
		if err := m.st.Schedule(ctx, s.draftID, s.fireAt); err != nil {
			return Result{State: s.state, Prompt: m.preview(s), Err: err}
		}
		id := s.draftID
		fireAt := s.fireAt
		delete(m.sessions, adminID)
		m.log.Info("prediction scheduled via workflow",
			logx.Int64("prediction", id),
			logx.Int64("admin", adminID),
			logx.Time("fire_at", fireAt),
		)
		p := store.Prediction{ID: id, Status: store.StatusScheduled}
		return Result{State: StateDone, Prompt: fmt.Sprintf("Prediction #%d scheduled for %s.", id, fireAt.In(m.loc).Format(timeLayout)), Prediction: &p, FireAt: fireAt}
	default:
		return Result{State: s.state, Prompt: m.preview(s), Err: errors.New("confirm or restart")}
	}
}

// splitLabels accepts exactly three non-empty lines.
func splitLabels(text string) ([3]string, error) {
	var out [3]string
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	n := 0
	for _, ln := range lines {
		ln = strings.TrimSpace(ln)
		if ln == "" {
			continue
		}
		if n == 3 {
			return out, errors.New("exactly 3 labels expected, one per line")
		}
		out[n] = ln
		n++
	}
	if n != 3 {
		return out, fmt.Errorf("exactly 3 labels expected, got %d", n)
	}
	return out, nil
}

func (m *Manager) preview(s *session) string {
	var b strings.Builder
	b.WriteString("Review the prediction:\n\n")
	fmt.Fprintf(&b, "%s\n\n", s.draft.Body)
	b.WriteString("Options:\n")
	for i, l := range s.draft.Options {
		fmt.Fprintf(&b, "%d. %s\n", i+1, l)
	}
	b.WriteString("\nAfter choosing:\n")
	for i, l := range s.draft.Results {
		fmt.Fprintf(&b, "%d. %s\n", i+1, l)
	}
	fmt.Fprintf(&b, "\nFires at %s.\n\nConfirm, or restart from scratch.", s.fireAt.In(m.loc).Format(timeLayout))
	return b.String()
}

// sweepLocked drops sessions idle past the TTL so abandoned
// conversations do not pile up.
func (m *Manager) sweepLocked() {
	cutoff := m.now().Add(-m.ttl)
	for id, s := range m.sessions {
		if s.touched.Before(cutoff) {
			delete(m.sessions, id)
		}
	}
}

const (
	promptMedia         = "Step 1/6 — send the photo, video or GIF for this month's prediction."
	promptBody          = "Step 2/6 — send the prediction text."
	promptInitialLabels = "Step 3/6 — send the three button labels, one per line."
	promptResultLabels  = "Step 4/6 — send the three result labels shown after a choice, one per line."
	promptScheduleTime  = "Step 5/6 — send the fire time as DD.MM.YYYY HH:MM (broadcast timezone)."
)
