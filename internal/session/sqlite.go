package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"omniavatar/server/internal/model"
)

// SQLiteStore keeps sessions in the sessions table so they outlive a restart.
// Get returns the owner's identity columns; callers reload the full account.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

var _ Sweeper = (*SQLiteStore)(nil)

func NewSQLiteStore(db *sql.DB, ttl time.Duration) *SQLiteStore {
	return &SQLiteStore{db: db, ttl: ttl, now: time.Now}
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (model.Account, bool, error) {
	var a model.Account
	err := s.db.QueryRowContext(ctx,
		`SELECT a.id, a.email, a.full_name, a.role
		 FROM sessions s JOIN accounts a ON a.id = s.account_id
		 WHERE s.id = ? AND (s.expires_at = 0 OR s.expires_at > ?)`,
		id, s.now().UnixNano(),
	).Scan(&a.ID, &a.Email, &a.FullName, &a.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, false, nil
	}
	if err != nil {
		return model.Account{}, false, fmt.Errorf("get session: %w", err)
	}
	return a, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, id string, account model.Account) error {
	now := s.now()
	var expires int64
	if s.ttl > 0 {
		expires = now.Add(s.ttl).UnixNano()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, account_id, expires_at, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET account_id = excluded.account_id, expires_at = excluded.expires_at`,
		id, account.ID, expires, now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Sweep deletes expired sessions and returns how many were removed.
func (s *SQLiteStore) Sweep(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at != 0 AND expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) RunSweeper(ctx context.Context, interval time.Duration) {
	runEvery(ctx, interval, func() {
		// Get skips expired rows either way.
		_, _ = s.Sweep(ctx)
	})
}
