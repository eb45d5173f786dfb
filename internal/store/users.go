package store

import "context"

// EnsureUser registers id on first contact. Existing users are left
// untouched; users are never deleted, including after delivery
// failures.
func (s *Store) EnsureUser(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users(id, first_seen) VALUES(?, ?)`,
		id, fmtTime(s.now()),
	)
	return err
}

// AllUserIDs returns a snapshot of every known user, used as the
// recipient set of a broadcast run.
func (s *Store) AllUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}
