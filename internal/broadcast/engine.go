// Package broadcast fans one prediction out to every known user:
// fixed-size batches, global rate pacing, and a bounded per-recipient
// retry budget for transient failures. Recipient failures never abort
// a run and never remove a user record.
package broadcast

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"oraclebot/internal/store"
	"oraclebot/internal/transport"
	"oraclebot/pkg/logx"
)

type Config struct {
	BatchSize    int           // recipients per batch (default 25)
	BatchDelay   time.Duration // pause between batches (default 1s)
	RatePerSec   int           // global send cap (default 25)
	RetryLimit   int           // transient retries per recipient (default 3)
	RetryBackoff time.Duration // base backoff (default 5s)
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 25
	}
	if c.BatchDelay <= 0 {
		c.BatchDelay = time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 25
	}
	if c.RetryLimit <= 0 {
		c.RetryLimit = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 5 * time.Second
	}
	return c
}

// CardSender is the slice of the transport adapter the engine needs.
type CardSender interface {
	SendPredictionCard(ctx context.Context, userID int64, card transport.Card) (transport.MessageRef, transport.Outcome)
}

// Report summarizes one run. Delivered + PermanentFailures +
// ExhaustedRetries always equals Total.
type Report struct {
	RunID             string
	PredictionID      int64
	Total             int
	Delivered         int
	PermanentFailures int
	ExhaustedRetries  int
	Started           time.Time
	Took              time.Duration
}

type Engine struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	sender CardSender
	log    logx.Logger

	// clock hooks; tests swap these to run backoff without delays.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, sender CardSender, log logx.Logger) *Engine {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		sender:  sender,
		log:     log,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Apply swaps pacing/retry knobs at runtime (config hot-reload).
func (e *Engine) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	e.mu.Lock()
	e.cfg = cfg
	e.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	e.mu.Unlock()
}

func (e *Engine) snapshot() (Config, *rate.Limiter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg, e.limiter
}

// Run delivers p to the recipient snapshot, at most one copy each.
// Batches are strictly sequential to honor global rate limits; sends
// within a batch run concurrently. The run never returns an error:
// per-recipient failures are counted in the report.
func (e *Engine) Run(ctx context.Context, p store.Prediction, recipients []int64) Report {
	cfg, _ := e.snapshot()
	started := e.now()
	rep := Report{
		RunID:        uuid.NewString(),
		PredictionID: p.ID,
		Total:        len(recipients),
		Started:      started,
	}
	log := e.log.With(logx.String("run", rep.RunID), logx.Int64("prediction", p.ID))
	log.Info("broadcast started", logx.Int("recipients", rep.Total), logx.Int("batch_size", cfg.BatchSize))

	card := Card(p)
	var mu sync.Mutex

	for start := 0; start < len(recipients); start += cfg.BatchSize {
		end := start + cfg.BatchSize
		if end > len(recipients) {
			end = len(recipients)
		}
		batch := recipients[start:end]

		var wg sync.WaitGroup
		wg.Add(len(batch))
		for _, uid := range batch {
			go func(uid int64) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						log.Error("panic in broadcast send", logx.Int64("user", uid), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
						mu.Lock()
						rep.ExhaustedRetries++
						mu.Unlock()
					}
				}()
				res := e.deliver(ctx, uid, card, log)
				mu.Lock()
				switch res {
				case sendDelivered:
					rep.Delivered++
				case sendPermanent:
					rep.PermanentFailures++
				default:
					rep.ExhaustedRetries++
				}
				mu.Unlock()
			}(uid)
		}
		wg.Wait()

		if end < len(recipients) {
			if err := e.sleep(ctx, cfg.BatchDelay); err != nil {
				// Context gone mid-run: remaining recipients count as
				// not delivered this run.
				mu.Lock()
				rep.ExhaustedRetries += len(recipients) - end
				mu.Unlock()
				break
			}
		}
	}

	rep.Took = e.now().Sub(started)
	fields := []logx.Field{
		logx.Int("delivered", rep.Delivered),
		logx.Int("permanent_failures", rep.PermanentFailures),
		logx.Int("exhausted_retries", rep.ExhaustedRetries),
		logx.Duration("took", rep.Took),
	}
	if rep.Delivered == rep.Total {
		log.Info("broadcast finished", fields...)
	} else {
		log.Warn("broadcast finished with failures", fields...)
	}
	return rep
}

// SendTest routes one prediction through the single-recipient path for
// admin preview. It does not read the user set and the test card's
// buttons never reach the choice ledger.
func (e *Engine) SendTest(ctx context.Context, p store.Prediction, adminID int64) transport.Outcome {
	cfg, lim := e.snapshot()
	st := retryState{limit: cfg.RetryLimit, base: cfg.RetryBackoff}
	card := TestCard(p)
	for {
		if err := lim.Wait(ctx); err != nil {
			return transport.Outcome{Class: transport.OutcomeTransient, Err: err}
		}
		_, out := e.sender.SendPredictionCard(ctx, adminID, card)
		if out.Class != transport.OutcomeTransient {
			return out
		}
		delay, ok := st.next(out.RetryAfter)
		if !ok {
			return out
		}
		if err := e.sleep(ctx, delay); err != nil {
			return out
		}
	}
}

type sendResult int

const (
	sendDelivered sendResult = iota
	sendPermanent
	sendExhausted
)

func (e *Engine) deliver(ctx context.Context, uid int64, card transport.Card, log logx.Logger) sendResult {
	cfg, lim := e.snapshot()
	st := retryState{limit: cfg.RetryLimit, base: cfg.RetryBackoff}
	for {
		if err := lim.Wait(ctx); err != nil {
			return sendExhausted
		}
		_, out := e.sender.SendPredictionCard(ctx, uid, card)
		switch out.Class {
		case transport.OutcomeOK:
			return sendDelivered
		case transport.OutcomePermanent:
			// Blocked or unreachable: skip immediately, keep the user
			// record for future months.
			log.Debug("recipient unreachable", logx.Int64("user", uid), logx.Err(out.Err))
			return sendPermanent
		}

		delay, ok := st.next(out.RetryAfter)
		if !ok {
			log.Warn("send retries exhausted", logx.Int64("user", uid), logx.Err(out.Err))
			return sendExhausted
		}
		log.Debug("send retry scheduled", logx.Int64("user", uid), logx.Duration("delay", delay), logx.Err(out.Err))
		if err := e.sleep(ctx, delay); err != nil {
			return sendExhausted
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
