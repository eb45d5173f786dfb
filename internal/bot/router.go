// Package bot routes incoming chat updates to the prediction core:
// user contacts and choice taps on one side, the admin menu and the
// creation workflow on the other. Admin actions are gated by the
// static allow-list from config.
package bot

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"oraclebot/internal/store"
	"oraclebot/internal/transport"
	"oraclebot/internal/workflow"
	"oraclebot/pkg/logx"
)

// Engine is the slice of the broadcast engine the router needs: the
// admin test send only. Real runs are the scheduler's business.
type Engine interface {
	SendTest(ctx context.Context, p store.Prediction, adminID int64) transport.Outcome
}

type Router struct {
	adapter transport.Adapter
	st      *store.Store
	engine  Engine
	flow    *workflow.Manager
	loc     *time.Location
	log     logx.Logger

	mu     sync.RWMutex
	admins map[int64]bool

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRouter(adapter transport.Adapter, st *store.Store, engine Engine, flow *workflow.Manager, loc *time.Location, admins []int64, log logx.Logger) *Router {
	if loc == nil {
		loc = time.UTC
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		adapter: adapter,
		st:      st,
		engine:  engine,
		flow:    flow,
		loc:     loc,
		log:     log,
		admins:  map[int64]bool{},
	}
	r.SetAdmins(admins)
	return r
}

// SetAdmins replaces the allow-list. Safe to call during hot-reload.
func (r *Router) SetAdmins(ids []int64) {
	m := make(map[int64]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	r.mu.Lock()
	r.admins = m
	r.mu.Unlock()
}

func (r *Router) isAdmin(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.admins[id]
}

func (r *Router) Start(ctx context.Context) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	updates := make(chan transport.Update, 256)
	if err := r.adapter.Start(runCtx, updates); err != nil {
		cancel()
		r.cancel = nil
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case up := <-updates:
				r.handle(runCtx, up)
			}
		}
	}()
	r.log.Info("router started")
	return nil
}

func (r *Router) Stop(ctx context.Context) {
	r.runMu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	_ = r.adapter.Stop(ctx)
	r.wg.Wait()
	r.log.Info("router stopped")
}

func (r *Router) handle(ctx context.Context, up transport.Update) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in update handler", logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
		}
	}()

	switch up.Kind {
	case transport.UpdateMessage:
		if up.Message != nil {
			r.handleMessage(ctx, up.Message)
		}
	case transport.UpdateCallback:
		if up.Callback != nil {
			r.handleCallback(ctx, up.Callback)
		}
	}
}

func (r *Router) handleMessage(ctx context.Context, m *transport.Message) {
	if err := r.st.EnsureUser(ctx, m.FromID); err != nil {
		r.log.Error("user registration failed", logx.Int64("user", m.FromID), logx.Err(err))
	}

	if strings.HasPrefix(strings.TrimSpace(m.Text), "/start") {
		r.handleStart(ctx, m)
		return
	}

	// Mid-conversation admin input feeds the creation workflow.
	if r.isAdmin(m.FromID) && r.flow.Active(m.FromID) {
		var ev workflow.Event
		if m.Media != nil {
			ev = workflow.MediaEvent{Kind: m.Media.Kind, FileID: m.Media.FileID}
		} else {
			ev = workflow.TextEvent{Text: m.Text}
		}
		res := r.flow.Apply(ctx, m.FromID, ev)
		r.renderFlow(ctx, m.ChatID, res)
		return
	}
	// Everything else is ignored; the bot speaks only when spoken to
	// via /start or buttons.
}

// renderFlow turns a workflow transition into a message: the prompt,
// an optional input complaint, and the keyboard that fits the state.
func (r *Router) renderFlow(ctx context.Context, chatID int64, res workflow.Result) {
	text := res.Prompt
	if res.Err != nil {
		if text != "" {
			text = "⚠️ " + res.Err.Error() + "\n\n" + text
		} else {
			text = "⚠️ " + res.Err.Error()
		}
	}

	var kb transport.Keyboard
	switch res.State {
	case workflow.StateAwaitingConfirmation:
		kb = transport.Keyboard{
			{btn("✅ Confirm", "admin:confirm"), btn("🔄 Restart", "admin:restart")},
			{btn("❌ Cancel", "admin:abort")},
		}
	case workflow.StateDone:
		kb = transport.Keyboard{{btn("« Menu", "admin:menu")}}
	case "":
		// No session; just report the error.
	default:
		kb = transport.Keyboard{{btn("❌ Cancel", "admin:abort")}}
	}

	if _, err := r.adapter.SendText(ctx, chatID, text, kb); err != nil {
		r.log.Warn("workflow prompt send failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}

func btn(label, data string) transport.Button {
	return transport.Button{Label: label, Data: data}
}
