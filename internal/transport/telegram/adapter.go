// Package telegram implements the transport contract on top of
// telebot's long-polling API.
package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"oraclebot/internal/store"
	"oraclebot/internal/transport"
	"oraclebot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- transport.Update)
	runMu   sync.Mutex
	running bool

	// droppedUpdates counts updates dropped because the consumer was
	// slower than the poll loop; reported on Stop.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	forwardMsg := func(m *tele.Message, text string, media *transport.MediaRef) {
		if m == nil || m.Sender == nil {
			return
		}
		a.sendUpdate(transport.Update{
			Kind: transport.UpdateMessage,
			Message: &transport.Message{
				ID:           m.ID,
				ChatID:       m.Chat.ID,
				FromID:       m.Sender.ID,
				FromUsername: m.Sender.Username,
				Text:         text,
				Media:        media,
			},
		})
	}

	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil {
			return nil
		}
		forwardMsg(m, m.Text, nil)
		return nil
	})

	a.bot.Handle(tele.OnPhoto, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Photo == nil {
			return nil
		}
		forwardMsg(m, m.Caption, &transport.MediaRef{Kind: store.MediaPhoto, FileID: m.Photo.FileID})
		return nil
	})

	a.bot.Handle(tele.OnVideo, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Video == nil {
			return nil
		}
		forwardMsg(m, m.Caption, &transport.MediaRef{Kind: store.MediaVideo, FileID: m.Video.FileID})
		return nil
	})

	a.bot.Handle(tele.OnAnimation, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Animation == nil {
			return nil
		}
		forwardMsg(m, m.Caption, &transport.MediaRef{Kind: store.MediaAnimation, FileID: m.Animation.FileID})
		return nil
	})

	// GIFs sometimes arrive as documents; fold them into animation.
	a.bot.Handle(tele.OnDocument, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Document == nil {
			return nil
		}
		if !strings.Contains(strings.ToLower(m.Document.MIME), "gif") {
			return nil
		}
		forwardMsg(m, m.Caption, &transport.MediaRef{Kind: store.MediaAnimation, FileID: m.Document.FileID})
		return nil
	})

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || cb.Sender == nil || m == nil {
			return nil
		}
		a.sendUpdate(transport.Update{
			Kind: transport.UpdateCallback,
			Callback: &transport.Callback{
				ID:        cb.ID,
				ChatID:    m.Chat.ID,
				FromID:    cb.Sender.ID,
				MessageID: m.ID,
				Data:      strings.TrimSpace(cb.Data),
			},
		})
		return nil
	})
}

func (a *Adapter) sendUpdate(up transport.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- transport.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.runMu.Unlock()

	go func() {
		<-ctx.Done()
		a.bot.Stop()
	}()
	go func() {
		a.log.Info("polling started")
		a.bot.Start() // blocks until Stop()
		a.log.Info("polling stopped")
	}()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	wasRunning := a.running
	a.running = false
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if n := atomic.LoadUint64(&a.droppedUpdates); n > 0 {
		a.log.Warn("incoming updates were dropped (channel full)", logx.Any("count", n))
	}
	// telebot Stop is expected to be fast; run it async just in case.
	done := make(chan struct{})
	go func() {
		a.bot.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
	}
	return nil
}

func (a *Adapter) SendPredictionCard(ctx context.Context, userID int64, card transport.Card) (transport.MessageRef, transport.Outcome) {
	kb := transport.Keyboard{{card.Buttons[0]}, {card.Buttons[1]}, {card.Buttons[2]}}
	media := mediaFor(card.Media, card.Body)

	msg, err := a.bot.Send(tele.ChatID(userID), media, markup(kb))
	if err != nil {
		return transport.MessageRef{}, classify(err)
	}
	return transport.MessageRef{ChatID: msg.Chat.ID, MessageID: msg.ID}, transport.Delivered()
}

func (a *Adapter) EditKeyboard(ctx context.Context, ref transport.MessageRef, kb transport.Keyboard) error {
	stored := tele.StoredMessage{
		MessageID: strconv.Itoa(ref.MessageID),
		ChatID:    ref.ChatID,
	}
	_, err := a.bot.EditReplyMarkup(stored, markup(kb))
	return err
}

func (a *Adapter) SendText(ctx context.Context, chatID int64, text string, kb transport.Keyboard) (transport.MessageRef, error) {
	opts := []any{tele.NoPreview}
	if len(kb) > 0 {
		opts = append(opts, markup(kb))
	}
	msg, err := a.bot.Send(tele.ChatID(chatID), text, opts...)
	if err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: msg.Chat.ID, MessageID: msg.ID}, nil
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text, ShowAlert: alert})
}

func mediaFor(m transport.MediaRef, caption string) any {
	switch m.Kind {
	case store.MediaVideo:
		return &tele.Video{File: tele.File{FileID: m.FileID}, Caption: caption}
	case store.MediaAnimation:
		return &tele.Animation{File: tele.File{FileID: m.FileID}, Caption: caption}
	default:
		return &tele.Photo{File: tele.File{FileID: m.FileID}, Caption: caption}
	}
}

func markup(kb transport.Keyboard) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(kb))
	for _, row := range kb {
		btns := make([]tele.Btn, 0, len(row))
		for _, b := range row {
			btns = append(btns, tele.Btn{Text: b.Label, Data: b.Data})
		}
		rows = append(rows, rm.Row(btns...))
	}
	rm.Inline(rows...)
	return rm
}
