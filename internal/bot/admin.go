package bot

import (
	"context"
	"fmt"
	"strings"

	"oraclebot/internal/transport"
	"oraclebot/internal/workflow"
	"oraclebot/pkg/logx"
)

const adminTimeLayout = "02.01.2006 15:04"

func menuKeyboard() transport.Keyboard {
	return transport.Keyboard{
		{btn("📝 New prediction", "admin:new")},
		{btn("📋 Current", "admin:current"), btn("📊 Statistics", "admin:stats")},
		{btn("🧪 Test send", "admin:test"), btn("🚫 Cancel scheduled", "admin:cancel")},
	}
}

func (r *Router) sendMenu(ctx context.Context, chatID int64) {
	if _, err := r.adapter.SendText(ctx, chatID, "Admin panel. What shall we do?", menuKeyboard()); err != nil {
		r.log.Warn("menu send failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}

func (r *Router) onAdminAction(ctx context.Context, cb *transport.Callback, action string) {
	switch action {
	case "menu":
		r.answer(ctx, cb.ID, "", false)
		r.sendMenu(ctx, cb.ChatID)

	case "new":
		r.answer(ctx, cb.ID, "", false)
		res := r.flow.Begin(cb.FromID)
		r.renderFlow(ctx, cb.ChatID, res)

	case "confirm":
		r.answer(ctx, cb.ID, "", false)
		res := r.flow.Apply(ctx, cb.FromID, workflow.ConfirmEvent{})
		r.renderFlow(ctx, cb.ChatID, res)

	case "restart":
		r.answer(ctx, cb.ID, "", false)
		res := r.flow.Apply(ctx, cb.FromID, workflow.RestartEvent{})
		r.renderFlow(ctx, cb.ChatID, res)

	case "abort":
		r.flow.Abort(cb.FromID)
		r.answer(ctx, cb.ID, "Draft discarded.", false)
		r.sendMenu(ctx, cb.ChatID)

	case "current":
		r.answer(ctx, cb.ID, "", false)
		r.showCurrent(ctx, cb.ChatID)

	case "stats":
		r.answer(ctx, cb.ID, "", false)
		r.showStats(ctx, cb.ChatID)

	case "test":
		r.sendTest(ctx, cb)

	case "cancel":
		r.confirmCancel(ctx, cb)

	case "cancel_yes":
		r.doCancel(ctx, cb)

	default:
		r.answer(ctx, cb.ID, "", false)
	}
}

// showCurrent summarizes the scheduled and active slots; at most one
// prediction occupies each.
func (r *Router) showCurrent(ctx context.Context, chatID int64) {
	active, err := r.st.CurrentActive(ctx)
	if err != nil {
		r.adminFail(ctx, chatID, "reading active prediction failed", err)
		return
	}
	scheduled, err := r.st.CurrentScheduled(ctx)
	if err != nil {
		r.adminFail(ctx, chatID, "reading scheduled prediction failed", err)
		return
	}

	var b strings.Builder
	if active != nil {
		fmt.Fprintf(&b, "🟢 Active: #%d", active.ID)
		if active.PublishedAt != nil {
			fmt.Fprintf(&b, " since %s", active.PublishedAt.In(r.loc).Format(adminTimeLayout))
		}
		fmt.Fprintf(&b, "\n%s\n\n", snippet(active.Body))
	} else {
		b.WriteString("🟢 Active: none\n\n")
	}
	if scheduled != nil {
		fmt.Fprintf(&b, "⏳ Scheduled: #%d", scheduled.ID)
		if scheduled.ScheduledAt != nil {
			fmt.Fprintf(&b, " for %s", scheduled.ScheduledAt.In(r.loc).Format(adminTimeLayout))
		}
		fmt.Fprintf(&b, "\n%s", snippet(scheduled.Body))
	} else {
		b.WriteString("⏳ Scheduled: none")
	}

	kb := transport.Keyboard{{btn("« Menu", "admin:menu")}}
	if _, err := r.adapter.SendText(ctx, chatID, b.String(), kb); err != nil {
		r.log.Warn("current view send failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}

func (r *Router) showStats(ctx context.Context, chatID int64) {
	users, err := r.st.CountUsers(ctx)
	if err != nil {
		r.adminFail(ctx, chatID, "counting users failed", err)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "👥 Users: %d\n", users)

	active, err := r.st.CurrentActive(ctx)
	if err != nil {
		r.adminFail(ctx, chatID, "reading active prediction failed", err)
		return
	}
	if active == nil {
		b.WriteString("\nNo active prediction.")
	} else {
		stats, err := r.st.StatsFor(ctx, active.ID)
		if err != nil {
			r.adminFail(ctx, chatID, "reading choice stats failed", err)
			return
		}
		total := stats[0] + stats[1] + stats[2]
		fmt.Fprintf(&b, "\nPrediction #%d — %d choices:\n", active.ID, total)
		for i, label := range active.Options {
			fmt.Fprintf(&b, "%d. %s — %d\n", i+1, label, stats[i])
		}
	}

	kb := transport.Keyboard{{btn("« Menu", "admin:menu")}}
	if _, err := r.adapter.SendText(ctx, chatID, b.String(), kb); err != nil {
		r.log.Warn("stats send failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}

// sendTest previews the pending (or, failing that, the active)
// prediction to the requesting admin only. The preview keyboard routes
// through "test" callbacks, so taps are never recorded.
func (r *Router) sendTest(ctx context.Context, cb *transport.Callback) {
	p, err := r.st.CurrentScheduled(ctx)
	if err != nil {
		r.answer(ctx, cb.ID, msgTryLater, false)
		r.log.Error("reading scheduled prediction failed", logx.Err(err))
		return
	}
	if p == nil {
		if p, err = r.st.CurrentActive(ctx); err != nil {
			r.answer(ctx, cb.ID, msgTryLater, false)
			r.log.Error("reading active prediction failed", logx.Err(err))
			return
		}
	}
	if p == nil {
		r.answer(ctx, cb.ID, "Nothing to test: no scheduled or active prediction.", true)
		return
	}

	out := r.engine.SendTest(ctx, *p, cb.FromID)
	if !out.OK() {
		r.answer(ctx, cb.ID, "Test send failed, see logs.", true)
		r.log.Error("test send failed", logx.Int64("prediction", p.ID), logx.Err(out.Err))
		return
	}
	r.answer(ctx, cb.ID, "Test sent.", false)
}

func (r *Router) confirmCancel(ctx context.Context, cb *transport.Callback) {
	p, err := r.st.CurrentScheduled(ctx)
	if err != nil {
		r.answer(ctx, cb.ID, msgTryLater, false)
		r.log.Error("reading scheduled prediction failed", logx.Err(err))
		return
	}
	if p == nil {
		r.answer(ctx, cb.ID, "Nothing is scheduled.", true)
		return
	}
	r.answer(ctx, cb.ID, "", false)

	when := "?"
	if p.ScheduledAt != nil {
		when = p.ScheduledAt.In(r.loc).Format(adminTimeLayout)
	}
	text := fmt.Sprintf("Cancel prediction #%d scheduled for %s?", p.ID, when)
	kb := transport.Keyboard{
		{btn("Yes, cancel it", "admin:cancel_yes")},
		{btn("« Menu", "admin:menu")},
	}
	if _, err := r.adapter.SendText(ctx, cb.ChatID, text, kb); err != nil {
		r.log.Warn("cancel prompt send failed", logx.Int64("chat", cb.ChatID), logx.Err(err))
	}
}

func (r *Router) doCancel(ctx context.Context, cb *transport.Callback) {
	p, err := r.st.CurrentScheduled(ctx)
	if err != nil {
		r.answer(ctx, cb.ID, msgTryLater, false)
		r.log.Error("reading scheduled prediction failed", logx.Err(err))
		return
	}
	if p == nil {
		// Fired or cancelled between the prompt and the tap.
		r.answer(ctx, cb.ID, "Nothing is scheduled anymore.", true)
		return
	}
	if err := r.st.CancelScheduled(ctx, p.ID); err != nil {
		r.answer(ctx, cb.ID, "Cancel failed: it may have fired already.", true)
		r.log.Warn("cancel failed", logx.Int64("prediction", p.ID), logx.Err(err))
		return
	}
	r.log.Info("scheduled prediction cancelled", logx.Int64("prediction", p.ID), logx.Int64("admin", cb.FromID))
	r.answer(ctx, cb.ID, "Cancelled.", false)
	if _, err := r.adapter.SendText(ctx, cb.ChatID, fmt.Sprintf("Prediction #%d cancelled.", p.ID), menuKeyboard()); err != nil {
		r.log.Warn("cancel confirmation send failed", logx.Int64("chat", cb.ChatID), logx.Err(err))
	}
}

func (r *Router) adminFail(ctx context.Context, chatID int64, what string, err error) {
	r.log.Error(what, logx.Err(err))
	if _, serr := r.adapter.SendText(ctx, chatID, msgTryLater, nil); serr != nil {
		r.log.Debug("admin error notice send failed", logx.Err(serr))
	}
}

// snippet is the first line of the body, capped for menu views.
func snippet(body string) string {
	body = strings.TrimSpace(body)
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[:i]
	}
	runes := []rune(body)
	if len(runes) > 80 {
		return string(runes[:80]) + "…"
	}
	return body
}
