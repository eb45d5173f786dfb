package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CreateDraft validates the authoring fields and persists a new
// prediction in state draft. Labels are immutable once the draft is
// scheduled.
func (s *Store) CreateDraft(ctx context.Context, d Draft) (Prediction, error) {
	if err := validateDraft(d); err != nil {
		return Prediction{}, err
	}

	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO predictions(
			status, media_kind, media_file_id, body,
			option_1, option_2, option_3,
			result_1, result_2, result_3,
			created_by, created_at
		 ) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		string(StatusDraft), d.MediaKind, d.MediaFileID, d.Body,
		d.Options[0], d.Options[1], d.Options[2],
		d.Results[0], d.Results[1], d.Results[2],
		d.CreatedBy, fmtTime(now),
	)
	if err != nil {
		return Prediction{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Prediction{}, err
	}

	return Prediction{
		ID:          id,
		Status:      StatusDraft,
		MediaKind:   d.MediaKind,
		MediaFileID: d.MediaFileID,
		Body:        d.Body,
		Options:     d.Options,
		Results:     d.Results,
		CreatedBy:   d.CreatedBy,
		CreatedAt:   now,
	}, nil
}

func validateDraft(d Draft) error {
	if strings.TrimSpace(d.Body) == "" {
		return fmt.Errorf("%w: body is empty", ErrValidation)
	}
	if strings.TrimSpace(d.MediaKind) == "" || strings.TrimSpace(d.MediaFileID) == "" {
		return fmt.Errorf("%w: media is missing", ErrValidation)
	}
	for i, l := range d.Options {
		if strings.TrimSpace(l) == "" {
			return fmt.Errorf("%w: option label %d is empty", ErrValidation, i+1)
		}
	}
	for i, l := range d.Results {
		if strings.TrimSpace(l) == "" {
			return fmt.Errorf("%w: result label %d is empty", ErrValidation, i+1)
		}
	}
	return nil
}

// Schedule moves a draft into the single scheduled slot. The partial
// unique index predictions_one_scheduled arbitrates concurrent
// schedule attempts; losing one maps to ErrConflict.
func (s *Store) Schedule(ctx context.Context, id int64, fireAt time.Time) error {
	if !fireAt.After(s.now()) {
		return fmt.Errorf("%w: %s", ErrInvalidTime, fireAt.In(s.loc).Format("02.01.2006 15:04"))
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE predictions SET status = ?, scheduled_at = ?
		 WHERE id = ? AND status = ?`,
		string(StatusScheduled), fmtTime(fireAt), id, string(StatusDraft),
	)
	if err != nil {
		if uniqueViolation(err, "predictions") {
			return fmt.Errorf("%w: another prediction is scheduled", ErrConflict)
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: prediction %d is not a draft", ErrState, id)
	}
	return nil
}

// CancelScheduled closes a scheduled prediction before it fires.
// Cancel is never legal from active; an in-flight month cannot be
// withdrawn.
func (s *Store) CancelScheduled(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE predictions SET status = ?, scheduled_at = NULL
		 WHERE id = ? AND status = ?`,
		string(StatusClosed), id, string(StatusScheduled),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: prediction %d is not scheduled", ErrState, id)
	}
	return nil
}

// MarkActive performs the scheduled->active transition, closing the
// prior active prediction (at most one exists) in the same
// transaction. A second call for the same prediction finds zero
// scheduled rows and returns ErrState, which the scheduler loop
// treats as "already handled".
func (s *Store) MarkActive(ctx context.Context, id int64, publishedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE predictions SET status = ? WHERE status = ?`,
		string(StatusClosed), string(StatusActive),
	); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE predictions SET status = ?, published_at = ?
		 WHERE id = ? AND status = ?`,
		string(StatusActive), fmtTime(publishedAt), id, string(StatusScheduled),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: prediction %d is not scheduled", ErrState, id)
	}
	return tx.Commit()
}

func (s *Store) CurrentActive(ctx context.Context) (*Prediction, error) {
	return s.oneByStatus(ctx, StatusActive)
}

func (s *Store) CurrentScheduled(ctx context.Context) (*Prediction, error) {
	return s.oneByStatus(ctx, StatusScheduled)
}

func (s *Store) oneByStatus(ctx context.Context, st Status) (*Prediction, error) {
	row := s.db.QueryRowContext(ctx, selectPrediction+` WHERE status = ? LIMIT 1`, string(st))
	p, err := scanPrediction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) Prediction(ctx context.Context, id int64) (*Prediction, error) {
	row := s.db.QueryRowContext(ctx, selectPrediction+` WHERE id = ?`, id)
	p, err := scanPrediction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: prediction %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

const selectPrediction = `SELECT id, status, media_kind, media_file_id, body,
	option_1, option_2, option_3, result_1, result_2, result_3,
	scheduled_at, published_at, created_by, created_at
	FROM predictions`

func scanPrediction(row *sql.Row) (*Prediction, error) {
	var (
		p            Prediction
		status       string
		sched, publ  sql.NullString
		createdAtRaw string
	)
	err := row.Scan(
		&p.ID, &status, &p.MediaKind, &p.MediaFileID, &p.Body,
		&p.Options[0], &p.Options[1], &p.Options[2],
		&p.Results[0], &p.Results[1], &p.Results[2],
		&sched, &publ, &p.CreatedBy, &createdAtRaw,
	)
	if err != nil {
		return nil, err
	}
	p.Status = Status(status)
	if p.ScheduledAt, err = scanNullTime(sched); err != nil {
		return nil, err
	}
	if p.PublishedAt, err = scanNullTime(publ); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(createdAtRaw); err != nil {
		return nil, err
	}
	return &p, nil
}
