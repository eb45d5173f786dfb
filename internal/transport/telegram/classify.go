package telegram

import (
	"errors"
	"time"

	tele "gopkg.in/telebot.v4"

	"oraclebot/internal/transport"
)

// classify maps a telebot send error onto the broadcast retry policy.
// Flood control is transient with the platform's retry-after hint;
// blocked/unreachable recipients are permanent and must not be
// retried (and never deleted). Everything else is assumed to be a
// temporary API or network condition.
func classify(err error) transport.Outcome {
	if err == nil {
		return transport.Delivered()
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return transport.Outcome{
			Class:      transport.OutcomeTransient,
			RetryAfter: time.Duration(flood.RetryAfter) * time.Second,
			Err:        err,
		}
	}

	if errors.Is(err, tele.ErrBlockedByUser) ||
		errors.Is(err, tele.ErrUserIsDeactivated) ||
		errors.Is(err, tele.ErrChatNotFound) ||
		errors.Is(err, tele.ErrNotStartedByUser) {
		return transport.Outcome{Class: transport.OutcomePermanent, Err: err}
	}

	return transport.Outcome{Class: transport.OutcomeTransient, Err: err}
}
