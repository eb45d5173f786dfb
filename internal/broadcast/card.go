package broadcast

import (
	"fmt"

	"oraclebot/internal/store"
	"oraclebot/internal/transport"
)

// Card renders a prediction as a live card: taps route through the
// "pick" callback and are recorded in the ledger.
func Card(p store.Prediction) transport.Card {
	c := transport.Card{
		Media: transport.MediaRef{Kind: p.MediaKind, FileID: p.MediaFileID},
		Body:  p.Body,
	}
	for i, label := range p.Options {
		c.Buttons[i] = transport.Button{
			Label: label,
			Data:  fmt.Sprintf("pick:%d:%d", p.ID, i),
		}
	}
	return c
}

// TestCard renders an admin preview: taps route through the "test"
// callback and never touch the choice ledger.
func TestCard(p store.Prediction) transport.Card {
	c := transport.Card{
		Media: transport.MediaRef{Kind: p.MediaKind, FileID: p.MediaFileID},
		Body:  p.Body,
	}
	for i, label := range p.Options {
		c.Buttons[i] = transport.Button{
			Label: label,
			Data:  fmt.Sprintf("test:%d:%d", p.ID, i),
		}
	}
	return c
}

// LockedKeyboard shows only the chosen option's result label; taps on
// it answer "already chosen" without recording anything.
func LockedKeyboard(p store.Prediction, optionIdx int) transport.Keyboard {
	label := p.Results[0]
	if optionIdx >= 0 && optionIdx < len(p.Results) {
		label = p.Results[optionIdx]
	}
	return transport.Keyboard{{transport.Button{Label: label, Data: "locked:"}}}
}
