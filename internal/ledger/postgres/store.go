package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"libpresence/internal/identity"
	"libpresence/internal/ledger"
)

// Store persists presence logs in Postgres. A partial unique index on
// (reg_no) WHERE exit_at IS NULL backstops the single-open-log invariant,
// and closes are conditional updates so a lost race touches zero rows.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const logColumns = `id, reg_no, name, COALESCE(branch,''), COALESCE(year,''), role, reason, entry_at, exit_at`

func (s *Store) Insert(ctx context.Context, l ledger.PresenceLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO presence_logs (id, reg_no, name, branch, year, role, reason, entry_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, l.ID, l.RegNo, l.Name, l.Branch, l.Year, string(l.Role), l.Reason, l.EntryAt)
	return err
}

func (s *Store) CloseIfOpen(ctx context.Context, regNo string, exitAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE presence_logs
		SET exit_at = $2
		WHERE reg_no = $1 AND exit_at IS NULL
	`, regNo, exitAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) OpenByCode(ctx context.Context, regNo string) (*ledger.PresenceLog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+logColumns+`
		FROM presence_logs
		WHERE reg_no = $1 AND exit_at IS NULL
	`, regNo)
	l, err := scanLog(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

func (s *Store) ListOpen(ctx context.Context) ([]ledger.PresenceLog, error) {
	return s.queryLogs(ctx, `
		SELECT `+logColumns+`
		FROM presence_logs
		WHERE exit_at IS NULL
		ORDER BY entry_at
	`)
}

func (s *Store) CountOpenEnteredBefore(ctx context.Context, t time.Time) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM presence_logs WHERE exit_at IS NULL AND entry_at < $1`, t)
}

func (s *Store) CountOpen(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM presence_logs WHERE exit_at IS NULL`)
}

func (s *Store) CountEnteredBetween(ctx context.Context, from, to time.Time) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM presence_logs WHERE entry_at >= $1 AND entry_at < $2`, from, to)
}

func (s *Store) CountDistinctEnteredBetween(ctx context.Context, from, to time.Time) (int, error) {
	return s.count(ctx, `SELECT COUNT(DISTINCT reg_no) FROM presence_logs WHERE entry_at >= $1 AND entry_at < $2`, from, to)
}

func (s *Store) EntryTimesBetween(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_at FROM presence_logs
		WHERE entry_at >= $1 AND entry_at < $2
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (s *Store) LogsBetween(ctx context.Context, from, to time.Time) ([]ledger.PresenceLog, error) {
	return s.queryLogs(ctx, `
		SELECT `+logColumns+`
		FROM presence_logs
		WHERE entry_at >= $1 AND entry_at < $2
		ORDER BY entry_at DESC
	`, from, to)
}

func (s *Store) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) queryLogs(ctx context.Context, query string, args ...any) ([]ledger.PresenceLog, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []ledger.PresenceLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLog(row scanner) (ledger.PresenceLog, error) {
	var l ledger.PresenceLog
	var role string
	var exitAt sql.NullTime
	if err := row.Scan(&l.ID, &l.RegNo, &l.Name, &l.Branch, &l.Year, &role, &l.Reason, &l.EntryAt, &exitAt); err != nil {
		return ledger.PresenceLog{}, err
	}
	l.Role = identity.Role(role)
	if exitAt.Valid {
		t := exitAt.Time
		l.ExitAt = &t
	}
	return l, nil
}
