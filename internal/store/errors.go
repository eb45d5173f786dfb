package store

import "errors"

var (
	// ErrValidation marks user-correctable input problems (empty
	// labels, bad option index). Surfaced immediately, never retried.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned when another prediction already holds
	// the single scheduled slot.
	ErrConflict = errors.New("conflicting prediction exists")

	// ErrState is returned when a lifecycle transition is attempted
	// from the wrong state.
	ErrState = errors.New("invalid prediction state")

	// ErrInvalidTime is returned when a fire time is not strictly in
	// the future.
	ErrInvalidTime = errors.New("fire time is not in the future")

	// ErrAlreadyChosen is returned to the loser of a same-month
	// choice race. Handlers surface it as the user's locked result,
	// not as a failure.
	ErrAlreadyChosen = errors.New("already chosen this month")

	// ErrNotFound is returned when a prediction id does not exist.
	ErrNotFound = errors.New("not found")
)
