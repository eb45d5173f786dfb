// Package app assembles the bot: config, logging, storage, transport,
// the broadcast engine, the activation loop and the update router, with
// ordered startup and shutdown.
package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"oraclebot/internal/bot"
	"oraclebot/internal/broadcast"
	"oraclebot/internal/config"
	"oraclebot/internal/scheduler"
	"oraclebot/internal/store"
	"oraclebot/internal/transport/telegram"
	"oraclebot/internal/workflow"
	"oraclebot/pkg/logx"
)

type App struct {
	cfgMgr   *config.Manager
	log      logx.Logger
	closeLog func() error

	st      *store.Store
	adapter *telegram.Adapter
	engine  *broadcast.Engine
	router  *bot.Router
	loop    *scheduler.Loop

	cancel  context.CancelFunc
	cfgSub  chan *config.Config
	wg      sync.WaitGroup
	started bool
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, err
	}

	log, closeLog := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	loc := cfg.Location()

	st, err := store.Open(store.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: config.ParseDuration(cfg.Storage.BusyTimeout, 5*time.Second),
	}, loc, log.With(logx.String("comp", "store")))
	if err != nil {
		_ = closeLog()
		return nil, err
	}

	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.BotToken(),
		PollTimeout: config.ParseDuration(cfg.Telegram.PollTimeout, 10*time.Second),
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = st.Close()
		_ = closeLog()
		return nil, err
	}

	engine := broadcast.New(broadcastConfig(cfg), adapter, log.With(logx.String("comp", "broadcast")))
	flow := workflow.NewManager(st, loc, log.With(logx.String("comp", "workflow")))
	router := bot.NewRouter(adapter, st, engine, flow, loc, cfg.Admins, log.With(logx.String("comp", "bot")))
	loop := scheduler.New(scheduler.Config{
		PollInterval: config.ParseDuration(cfg.Scheduler.PollInterval, time.Minute),
	}, st, engine, log.With(logx.String("comp", "scheduler")))

	return &App{
		cfgMgr:   mgr,
		log:      log,
		closeLog: closeLog,
		st:       st,
		adapter:  adapter,
		engine:   engine,
		router:   router,
		loop:     loop,
	}, nil
}

func broadcastConfig(cfg *config.Config) broadcast.Config {
	return broadcast.Config{
		BatchSize:    cfg.Broadcast.BatchSize,
		BatchDelay:   config.ParseDuration(cfg.Broadcast.BatchDelay, time.Second),
		RatePerSec:   cfg.Broadcast.RatePerSec,
		RetryLimit:   cfg.Broadcast.RetryLimit,
		RetryBackoff: config.ParseDuration(cfg.Broadcast.RetryBackoff, 5*time.Second),
	}
}

// Start brings the services up: router first so admin commands work,
// then the activation loop, then the config watcher for hot-reload of
// pacing knobs and the admin allow-list.
func (a *App) Start(ctx context.Context) error {
	if a.started {
		return errors.New("app already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.router.Start(runCtx); err != nil {
		cancel()
		return err
	}
	if err := a.loop.Start(runCtx); err != nil {
		a.router.Stop(context.Background())
		cancel()
		return err
	}

	a.cfgSub = a.cfgMgr.Subscribe(1)
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		if err := a.cfgMgr.Watch(runCtx); err != nil {
			a.log.Warn("config watcher exited", logx.Err(err))
		}
	}()
	go func() {
		defer a.wg.Done()
		for cfg := range a.cfgSub {
			a.engine.Apply(broadcastConfig(cfg))
			a.router.SetAdmins(cfg.Admins)
			a.log.Info("runtime config applied", logx.Int("admins", len(cfg.Admins)))
		}
	}()

	a.started = true
	a.log.Info("bot started")
	return nil
}

// Stop shuts down in reverse order and closes storage last.
func (a *App) Stop(ctx context.Context) {
	if !a.started {
		return
	}
	a.started = false

	a.cancel()
	a.loop.Stop(ctx)
	a.router.Stop(ctx)
	a.cfgMgr.Unsubscribe(a.cfgSub)
	a.wg.Wait()

	if err := a.st.Close(); err != nil {
		a.log.Warn("closing storage failed", logx.Err(err))
	}
	a.log.Info("bot stopped")
	_ = a.closeLog()
}
