package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RecordChoice inserts the user's selection for the prediction's
// publish month. The insert and the (user_id, month_key) uniqueness
// check are a single atomic statement; the loser of a concurrent race
// gets ErrAlreadyChosen, never a second row and never a generic write
// error. Choices are insert-only: no update or delete path exists.
func (s *Store) RecordChoice(ctx context.Context, userID, predictionID int64, optionIdx int) (Choice, error) {
	if optionIdx < 0 || optionIdx > 2 {
		return Choice{}, fmt.Errorf("%w: option index %d out of range", ErrValidation, optionIdx)
	}

	p, err := s.Prediction(ctx, predictionID)
	if err != nil {
		return Choice{}, err
	}
	// Only the active prediction accepts choices. A tap on a stale
	// card from a closed month must not touch that month's ledger.
	if p.Status != StatusActive {
		return Choice{}, fmt.Errorf("%w: prediction %d is %s, not active", ErrState, predictionID, p.Status)
	}
	if p.PublishedAt == nil {
		return Choice{}, fmt.Errorf("%w: prediction %d was never published", ErrState, predictionID)
	}

	monthKey := MonthKey(*p.PublishedAt, s.loc)
	now := s.now()

	// INSERT OR IGNORE keeps check-and-insert atomic: zero affected
	// rows means the unique index already holds a row for this month.
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO choices(user_id, prediction_id, option_idx, month_key, chosen_at)
		 VALUES(?,?,?,?,?)`,
		userID, predictionID, optionIdx, monthKey, fmtTime(now),
	)
	if err != nil {
		return Choice{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Choice{}, err
	}
	if n == 0 {
		return Choice{}, fmt.Errorf("%w: user %d, month %s", ErrAlreadyChosen, userID, monthKey)
	}

	return Choice{
		UserID:       userID,
		PredictionID: predictionID,
		OptionIdx:    optionIdx,
		MonthKey:     monthKey,
		ChosenAt:     now,
	}, nil
}

// StatsFor aggregates choice counts per option. All three option keys
// are always present, zero-valued when nobody picked them.
func (s *Store) StatsFor(ctx context.Context, predictionID int64) (map[int]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT option_idx, COUNT(*) FROM choices WHERE prediction_id = ? GROUP BY option_idx`,
		predictionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[int]int{0: 0, 1: 0, 2: 0}
	for rows.Next() {
		var idx, n int
		if err := rows.Scan(&idx, &n); err != nil {
			return nil, err
		}
		stats[idx] = n
	}
	return stats, rows.Err()
}

// HasChosenThisMonth is checked before presenting live buttons, so a
// user who already chose sees their locked result instead.
func (s *Store) HasChosenThisMonth(ctx context.Context, userID int64, monthKey string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM choices WHERE user_id = ? AND month_key = ?`,
		userID, monthKey,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ChoiceFor returns the user's choice on a prediction, or nil.
func (s *Store) ChoiceFor(ctx context.Context, userID, predictionID int64) (*Choice, error) {
	var (
		c         Choice
		chosenRaw string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, prediction_id, option_idx, month_key, chosen_at
		 FROM choices WHERE user_id = ? AND prediction_id = ?`,
		userID, predictionID,
	).Scan(&c.UserID, &c.PredictionID, &c.OptionIdx, &c.MonthKey, &chosenRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if c.ChosenAt, err = parseTime(chosenRaw); err != nil {
		return nil, err
	}
	return &c, nil
}
