package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"oraclebot/internal/broadcast"
	"oraclebot/internal/store"
	"oraclebot/internal/transport"
	"oraclebot/pkg/logx"
)

const (
	msgNoPrediction  = "No prediction is live right now. Come back soon ✨"
	msgAlreadyChosen = "You already made your choice this month!"
	msgChoiceSaved   = "Your choice is saved ✨"
	msgComeBackNext  = "You already received your prediction this month. Come back next month!"
	msgTryLater      = "Something went wrong, try again later."
)

func (r *Router) handleStart(ctx context.Context, m *transport.Message) {
	if r.isAdmin(m.FromID) {
		r.sendMenu(ctx, m.ChatID)
		return
	}

	active, err := r.st.CurrentActive(ctx)
	if err != nil {
		r.log.Error("reading active prediction failed", logx.Err(err))
		return
	}
	if active == nil || active.PublishedAt == nil {
		if _, err := r.adapter.SendText(ctx, m.ChatID, msgNoPrediction, nil); err != nil {
			r.log.Warn("greeting send failed", logx.Int64("chat", m.ChatID), logx.Err(err))
		}
		return
	}

	monthKey := store.MonthKey(*active.PublishedAt, r.loc)
	chosen, err := r.st.HasChosenThisMonth(ctx, m.FromID, monthKey)
	if err != nil {
		r.log.Error("choice lookup failed", logx.Int64("user", m.FromID), logx.Err(err))
		return
	}

	if !chosen {
		// Late joiner: the live card goes out on /start, same buttons
		// the broadcast delivered to everyone else.
		if _, out := r.adapter.SendPredictionCard(ctx, m.FromID, broadcast.Card(*active)); !out.OK() {
			r.log.Warn("card send on contact failed", logx.Int64("user", m.FromID), logx.Err(out.Err))
		}
		return
	}

	// Already chose this month. If it was on this prediction, show the
	// locked result; otherwise just wave them off until next month.
	choice, err := r.st.ChoiceFor(ctx, m.FromID, active.ID)
	if err != nil {
		r.log.Error("choice lookup failed", logx.Int64("user", m.FromID), logx.Err(err))
		return
	}
	text := msgComeBackNext
	var kb transport.Keyboard
	if choice != nil {
		text = active.Body
		kb = broadcast.LockedKeyboard(*active, choice.OptionIdx)
	}
	if _, err := r.adapter.SendText(ctx, m.ChatID, text, kb); err != nil {
		r.log.Warn("locked result send failed", logx.Int64("chat", m.ChatID), logx.Err(err))
	}
}

func (r *Router) handleCallback(ctx context.Context, cb *transport.Callback) {
	// Choices carry a users foreign key; a tap is a contact like any
	// other, so register here too.
	if err := r.st.EnsureUser(ctx, cb.FromID); err != nil {
		r.log.Error("user registration failed", logx.Int64("user", cb.FromID), logx.Err(err))
	}

	data := strings.TrimSpace(cb.Data)
	action, rest, _ := strings.Cut(data, ":")

	switch action {
	case "pick":
		r.onPick(ctx, cb, rest)
	case "locked":
		r.answer(ctx, cb.ID, msgAlreadyChosen, false)
	case "test":
		r.onTestTap(ctx, cb, rest)
	case "admin":
		if !r.isAdmin(cb.FromID) {
			r.answer(ctx, cb.ID, "Not for you.", false)
			return
		}
		r.onAdminAction(ctx, cb, rest)
	default:
		r.answer(ctx, cb.ID, "", false)
	}
}

// onPick records the user's choice and locks the card. The store is
// the arbiter of the one-choice-per-month rule; this handler only
// translates its verdict to chat.
func (r *Router) onPick(ctx context.Context, cb *transport.Callback, rest string) {
	predictionID, optionIdx, ok := parsePickPayload(rest)
	if !ok {
		r.answer(ctx, cb.ID, msgTryLater, false)
		return
	}

	choice, err := r.st.RecordChoice(ctx, cb.FromID, predictionID, optionIdx)
	switch {
	case err == nil:
		// The locked keyboard plus the callback answer carry the
		// result back to the user.
		text := msgChoiceSaved
		if p, perr := r.st.Prediction(ctx, predictionID); perr == nil {
			text = "✨ " + p.Results[choice.OptionIdx]
		}
		r.lockCard(ctx, cb, predictionID, choice.OptionIdx)
		r.answer(ctx, cb.ID, text, false)

	case errors.Is(err, store.ErrAlreadyChosen):
		// If the earlier choice was on this very card, repaint it with
		// the locked keyboard so the stale buttons disappear.
		if prev, lerr := r.st.ChoiceFor(ctx, cb.FromID, predictionID); lerr == nil && prev != nil {
			r.lockCard(ctx, cb, predictionID, prev.OptionIdx)
		}
		r.answer(ctx, cb.ID, msgAlreadyChosen, true)

	case errors.Is(err, store.ErrValidation), errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrState):
		r.answer(ctx, cb.ID, msgTryLater, false)

	default:
		r.log.Error("recording choice failed",
			logx.Int64("user", cb.FromID),
			logx.Int64("prediction", predictionID),
			logx.Err(err),
		)
		r.answer(ctx, cb.ID, msgTryLater, false)
	}
}

// onTestTap mirrors the locked-card experience on an admin preview
// without ever touching the choice ledger.
func (r *Router) onTestTap(ctx context.Context, cb *transport.Callback, rest string) {
	predictionID, optionIdx, ok := parsePickPayload(rest)
	if !ok {
		r.answer(ctx, cb.ID, msgTryLater, false)
		return
	}
	r.lockCard(ctx, cb, predictionID, optionIdx)
	r.answer(ctx, cb.ID, "Test tap, nothing recorded.", false)
}

func (r *Router) lockCard(ctx context.Context, cb *transport.Callback, predictionID int64, optionIdx int) {
	p, err := r.st.Prediction(ctx, predictionID)
	if err != nil {
		r.log.Warn("reading prediction for lock failed", logx.Int64("prediction", predictionID), logx.Err(err))
		return
	}
	ref := transport.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	if err := r.adapter.EditKeyboard(ctx, ref, broadcast.LockedKeyboard(*p, optionIdx)); err != nil {
		r.log.Warn("locking card failed", logx.Int64("chat", cb.ChatID), logx.Err(err))
	}
}

func (r *Router) answer(ctx context.Context, callbackID, text string, alert bool) {
	if err := r.adapter.AnswerCallback(ctx, callbackID, text, alert); err != nil {
		r.log.Debug("callback answer failed", logx.Err(err))
	}
}

// parsePickPayload parses "<predictionID>:<optionIdx>".
func parsePickPayload(rest string) (int64, int, bool) {
	idPart, idxPart, found := strings.Cut(rest, ":")
	if !found {
		return 0, 0, false
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return 0, 0, false
	}
	idx, err := strconv.Atoi(idxPart)
	if err != nil || idx < 0 || idx > 2 {
		return 0, 0, false
	}
	return id, idx, true
}
