// Package transport defines the chat-platform contract the core talks
// to. The core calls out through Adapter; incoming taps and messages
// arrive as Updates on a channel.
package transport

import (
	"context"
	"time"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	// Media is set when the message carries an attachment.
	Media *MediaRef
}

type MediaRef struct {
	Kind   string // store.MediaPhoto / MediaVideo / MediaAnimation
	FileID string
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// OutcomeClass classifies a delivery attempt for the retry policy.
type OutcomeClass int

const (
	OutcomeOK OutcomeClass = iota
	// OutcomeTransient: rate limited or a temporary network/API
	// condition; worth a bounded retry.
	OutcomeTransient
	// OutcomePermanent: recipient blocked the bot or is unreachable;
	// never retried, never causes user deletion.
	OutcomePermanent
)

type Outcome struct {
	Class OutcomeClass
	// RetryAfter is a platform hint for transient outcomes (0 if none).
	RetryAfter time.Duration
	Err        error
}

// Delivered is the success outcome.
func Delivered() Outcome { return Outcome{Class: OutcomeOK} }

// OK reports whether the attempt succeeded.
func (o Outcome) OK() bool { return o.Class == OutcomeOK }

// Button is one inline key; Data is the raw callback payload.
type Button struct {
	Label string
	Data  string
}

// Keyboard is rows of buttons.
type Keyboard [][]Button

// Card is a rendered prediction: media, caption and the three option
// buttons.
type Card struct {
	Media   MediaRef
	Body    string
	Buttons [3]Button
}

type Adapter interface {
	// Start begins delivering incoming updates to out until Stop or
	// ctx cancellation.
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	// SendPredictionCard delivers one card to one recipient and
	// classifies the result for the broadcast retry policy.
	SendPredictionCard(ctx context.Context, userID int64, card Card) (MessageRef, Outcome)

	// EditKeyboard replaces the inline keyboard of a sent message
	// (used to lock a card after a choice).
	EditKeyboard(ctx context.Context, ref MessageRef, kb Keyboard) error

	SendText(ctx context.Context, chatID int64, text string, kb Keyboard) (MessageRef, error)
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
}
