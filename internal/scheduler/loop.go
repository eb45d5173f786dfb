// Package scheduler drives prediction activation: a cron-backed poll
// checks for a due scheduled prediction, flips it active through the
// store's single transition gate, and hands it to the broadcast
// engine.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/robfig/cron/v3"

	"oraclebot/internal/broadcast"
	"oraclebot/internal/store"
	"oraclebot/pkg/logx"
)

type Config struct {
	// PollInterval is the wake resolution (default 1m).
	PollInterval time.Duration
}

// Broadcaster is the slice of the engine the loop needs.
type Broadcaster interface {
	Run(ctx context.Context, p store.Prediction, recipients []int64) broadcast.Report
}

type Loop struct {
	cfg    Config
	st     *store.Store
	engine Broadcaster
	log    logx.Logger

	c   *cron.Cron
	now func() time.Time
}

func New(cfg Config, st *store.Store, engine Broadcaster, log logx.Logger) *Loop {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loop{cfg: cfg, st: st, engine: engine, log: log, now: time.Now}
}

// Start checks once immediately (an overdue prediction fires on boot)
// and then polls on the configured interval until Stop.
func (l *Loop) Start(ctx context.Context) error {
	if l.c != nil {
		return nil
	}
	l.check(ctx)

	c := cron.New()
	spec := fmt.Sprintf("@every %s", l.cfg.PollInterval)
	if _, err := c.AddFunc(spec, func() { l.check(ctx) }); err != nil {
		return err
	}
	c.Start()
	l.c = c
	l.log.Info("activation loop started", logx.Duration("interval", l.cfg.PollInterval))
	return nil
}

func (l *Loop) Stop(ctx context.Context) {
	if l.c == nil {
		return
	}
	stopped := l.c.Stop()
	l.c = nil
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
	l.log.Info("activation loop stopped")
}

// check is one poll tick. Anything thrown by a run is caught here so
// the loop survives to next month's prediction.
func (l *Loop) check(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("panic in activation run", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()

	sched, err := l.st.CurrentScheduled(ctx)
	if err != nil {
		l.log.Error("reading scheduled prediction failed", logx.Err(err))
		return
	}
	if sched == nil || sched.ScheduledAt == nil {
		return
	}

	now := l.now()
	if now.Before(*sched.ScheduledAt) {
		return
	}

	// MarkActive is the single transition gate: if another wake got
	// here first the store reports ErrState and this tick is a no-op.
	if err := l.st.MarkActive(ctx, sched.ID, now); err != nil {
		if errors.Is(err, store.ErrState) {
			l.log.Debug("activation already handled", logx.Int64("prediction", sched.ID))
			return
		}
		l.log.Error("activation failed", logx.Int64("prediction", sched.ID), logx.Err(err))
		return
	}

	active, err := l.st.Prediction(ctx, sched.ID)
	if err != nil {
		l.log.Error("reading activated prediction failed", logx.Int64("prediction", sched.ID), logx.Err(err))
		return
	}

	recipients, err := l.st.AllUserIDs(ctx)
	if err != nil {
		l.log.Error("reading recipient set failed", logx.Err(err))
		return
	}

	l.log.Info("prediction activated",
		logx.Int64("prediction", active.ID),
		logx.Time("published_at", now),
		logx.Int("recipients", len(recipients)),
	)
	rep := l.engine.Run(ctx, *active, recipients)
	l.log.Info("activation broadcast done",
		logx.Int64("prediction", rep.PredictionID),
		logx.Int("delivered", rep.Delivered),
		logx.Int("permanent_failures", rep.PermanentFailures),
		logx.Int("exhausted_retries", rep.ExhaustedRetries),
	)
}
