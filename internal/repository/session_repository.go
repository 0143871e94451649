package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/session-enrollment/internal/model"
)

// sessionCols is the column list scanned by every session query.
const sessionCols = `id, title, status, opened_by, closed_by, opened_at, closed_at, created_at, updated_at`

// SessionRepo manages persistence for sessions.  The "at most one OPEN
// session" invariant is not a storage constraint: it is enforced by the
// engine, which locks the currently open row (if any) before inserting
// a new one.
type SessionRepo struct {
	db *sql.DB
}

// NewSessionRepo constructs a SessionRepo with the given DB handle.
func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{db: db} }

// DB exposes the underlying sql.DB.  It allows callers to begin
// transactions spanning multiple repositories.
func (r *SessionRepo) DB() *sql.DB { return r.db }

// scanSession reads one session row from any row scanner.
func scanSession(row *sql.Row) (*model.Session, error) {
	var s model.Session
	var closedBy sql.NullInt64
	var closedAt sql.NullTime
	err := row.Scan(&s.ID, &s.Title, &s.Status, &s.OpenedBy, &closedBy, &s.OpenedAt, &closedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if closedBy.Valid {
		v := uint64(closedBy.Int64)
		s.ClosedBy = &v
	}
	if closedAt.Valid {
		t := closedAt.Time
		s.ClosedAt = &t
	}
	return &s, nil
}

// GetByID retrieves a session by its ID.  It returns ErrSessionNotFound
// when no row matches.
func (r *SessionRepo) GetByID(ctx context.Context, id uint64) (*model.Session, error) {
	const q = `SELECT ` + sessionCols + ` FROM sessions WHERE id = ?`
	s, err := scanSession(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return s, nil
}

// GetOpen returns the currently open session, or ErrSessionNotFound
// when none is open.  This is the unlocked read used by browse
// endpoints and by the engine's fast pre-checks.
func (r *SessionRepo) GetOpen(ctx context.Context) (*model.Session, error) {
	const q = `SELECT ` + sessionCols + ` FROM sessions WHERE status = 'OPEN' LIMIT 1`
	s, err := scanSession(r.db.QueryRowContext(ctx, q))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return s, nil
}

// LatestClosed returns the most recently closed session, or
// ErrSessionNotFound when no session was ever closed.  Used by the
// engine to guard session-open against a moderation backlog.
func (r *SessionRepo) LatestClosed(ctx context.Context) (*model.Session, error) {
	const q = `SELECT ` + sessionCols + ` FROM sessions WHERE status = 'CLOSED' ORDER BY closed_at DESC, id DESC LIMIT 1`
	s, err := scanSession(r.db.QueryRowContext(ctx, q))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return s, nil
}

// LockOpenTx takes an exclusive lock on the currently open session row
// and returns its ID.  It returns (0, nil) when no session is open.
// The engine calls this immediately before inserting a new open session
// so that two concurrent open requests serialize on the same row.
func (r *SessionRepo) LockOpenTx(ctx context.Context, tx *sql.Tx) (uint64, error) {
	const q = `SELECT id FROM sessions WHERE status = 'OPEN' LIMIT 1 FOR UPDATE`
	var id uint64
	err := tx.QueryRowContext(ctx, q).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetForUpdateTx loads a session row under an exclusive lock.  It
// returns ErrSessionNotFound when the row does not exist.
func (r *SessionRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Session, error) {
	const q = `SELECT ` + sessionCols + ` FROM sessions WHERE id = ? FOR UPDATE`
	s, err := scanSession(tx.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return s, nil
}

// StatusTx returns the status of a session inside a transaction without
// locking it.  Used by enroll/withdraw flows that only need to know
// whether the owning session is still open.
func (r *SessionRepo) StatusTx(ctx context.Context, tx *sql.Tx, id uint64) (string, error) {
	const q = `SELECT status FROM sessions WHERE id = ?`
	var status string
	err := tx.QueryRowContext(ctx, q, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrSessionNotFound
		}
		return "", err
	}
	return status, nil
}

// CreateOpenTx inserts a new OPEN session within the provided
// transaction and populates the generated ID and DB-default fields on
// the given model.  The caller must commit or roll back.
func (r *SessionRepo) CreateOpenTx(ctx context.Context, tx *sql.Tx, s *model.Session) error {
	const q = `INSERT INTO sessions (title, status, opened_by, opened_at) VALUES (?, 'OPEN', ?, UTC_TIMESTAMP())`
	res, err := tx.ExecContext(ctx, q, s.Title, s.OpenedBy)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = uint64(id)
	const sel = `SELECT ` + sessionCols + ` FROM sessions WHERE id = ?`
	got, err := scanSession(tx.QueryRowContext(ctx, sel, s.ID))
	if err != nil {
		return err
	}
	*s = *got
	return nil
}

// CloseTx marks a session CLOSED, stamping closed_by and closed_at.
// The caller is expected to have bulk-closed the session's open tables
// in the same transaction beforehand.
func (r *SessionRepo) CloseTx(ctx context.Context, tx *sql.Tx, id, closedBy uint64) error {
	const q = `UPDATE sessions SET status = 'CLOSED', closed_by = ?, closed_at = UTC_TIMESTAMP() WHERE id = ?`
	_, err := tx.ExecContext(ctx, q, closedBy, id)
	return err
}
