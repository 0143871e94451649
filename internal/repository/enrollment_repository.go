package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/session-enrollment/internal/model"
)

const enrollmentCols = `id, table_id, user_id, session_id, partition_key, is_waiting, moderated_by, moderated_at, created_at`

// EnrollmentRepo provides data access to the enrollments table.
// Enrollment rows are never locked on their own: all mutations happen
// inside a transaction that already holds the owning table's row lock.
// The two storage unique keys — (table_id, user_id) and (user_id,
// session_id, partition_key) — are the last line of defense against
// first-insert races that no row lock can prevent.
type EnrollmentRepo struct {
	db *sql.DB
}

// NewEnrollmentRepo constructs an EnrollmentRepo bound to the database.
func NewEnrollmentRepo(db *sql.DB) *EnrollmentRepo { return &EnrollmentRepo{db: db} }

func scanEnrollment(row *sql.Row) (*model.Enrollment, error) {
	var e model.Enrollment
	var moderatedBy sql.NullInt64
	var moderatedAt sql.NullTime
	err := row.Scan(&e.ID, &e.TableID, &e.UserID, &e.SessionID, &e.PartitionKey, &e.IsWaiting, &moderatedBy, &moderatedAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if moderatedBy.Valid {
		v := uint64(moderatedBy.Int64)
		e.ModeratedBy = &v
	}
	if moderatedAt.Valid {
		v := moderatedAt.Time
		e.ModeratedAt = &v
	}
	return &e, nil
}

// GetByTableAndUserTx returns the user's enrollment on a table, or
// ErrEnrollmentNotFound.  Used for the idempotent re-enroll check.
func (r *EnrollmentRepo) GetByTableAndUserTx(ctx context.Context, tx *sql.Tx, tableID, userID uint64) (*model.Enrollment, error) {
	const q = `SELECT ` + enrollmentCols + ` FROM enrollments WHERE table_id = ? AND user_id = ?`
	e, err := scanEnrollment(tx.QueryRowContext(ctx, q, tableID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEnrollmentNotFound
		}
		return nil, err
	}
	return e, nil
}

// CountConfirmedTx recomputes the confirmed enrollment count of a table
// inside a transaction.  The count is always re-queried rather than
// cached so the capacity invariant is the only invariant to maintain.
func (r *EnrollmentRepo) CountConfirmedTx(ctx context.Context, tx *sql.Tx, tableID uint64) (int, error) {
	const q = `SELECT COUNT(*) FROM enrollments WHERE table_id = ? AND is_waiting = 0`
	var n int
	if err := tx.QueryRowContext(ctx, q, tableID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// HoldsPartitionSeat reports whether the user already holds a confirmed
// enrollment in the given (session, partition-slot) on some other
// table.  Unlocked variant for the engine's fast pre-check.
func (r *EnrollmentRepo) HoldsPartitionSeat(ctx context.Context, userID, sessionID, partitionKey, excludeTableID uint64) (bool, error) {
	const q = `SELECT COUNT(*) FROM enrollments WHERE user_id = ? AND session_id = ? AND partition_key = ? AND is_waiting = 0 AND table_id <> ?`
	var n int
	if err := r.db.QueryRowContext(ctx, q, userID, sessionID, partitionKey, excludeTableID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// LockPartitionSeatTx is the authoritative single-vote re-check: it
// locks any competing enrollment rows of the same (user, session,
// partition-slot) so a concurrent withdraw of the competing seat cannot
// slip between the check and this transaction's insert.
func (r *EnrollmentRepo) LockPartitionSeatTx(ctx context.Context, tx *sql.Tx, userID, sessionID, partitionKey, excludeTableID uint64) (bool, error) {
	const q = `SELECT id FROM enrollments WHERE user_id = ? AND session_id = ? AND partition_key = ? AND is_waiting = 0 AND table_id <> ? FOR UPDATE`
	rows, err := tx.QueryContext(ctx, q, userID, sessionID, partitionKey, excludeTableID)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	found := false
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return false, err
		}
		found = true
	}
	if err := rows.Err(); err != nil {
		return false, err
	}
	return found, nil
}

// InsertTx inserts a new enrollment and populates the generated ID and
// DB defaults on the given model.  A duplicate-key failure is returned
// as-is; the engine decides whether it means "lost a benign race" or a
// single-vote violation.
func (r *EnrollmentRepo) InsertTx(ctx context.Context, tx *sql.Tx, e *model.Enrollment) error {
	const q = `INSERT INTO enrollments (table_id, user_id, session_id, partition_key) VALUES (?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, e.TableID, e.UserID, e.SessionID, e.PartitionKey)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = uint64(id)
	const sel = `SELECT ` + enrollmentCols + ` FROM enrollments WHERE id = ?`
	got, err := scanEnrollment(tx.QueryRowContext(ctx, sel, e.ID))
	if err != nil {
		return err
	}
	*e = *got
	return nil
}

// DeleteByTableAndUserTx removes the user's enrollment on a table.  It
// reports whether a row was actually deleted; absence is not an error
// because withdraw is idempotent.
func (r *EnrollmentRepo) DeleteByTableAndUserTx(ctx context.Context, tx *sql.Tx, tableID, userID uint64) (bool, error) {
	const q = `DELETE FROM enrollments WHERE table_id = ? AND user_id = ?`
	res, err := tx.ExecContext(ctx, q, tableID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListConfirmedByTableTx returns the confirmed enrollments of a table
// in signup order (creation time, primary key as tiebreaker).  Used to
// assemble closure snapshots inside the closing transaction.
func (r *EnrollmentRepo) ListConfirmedByTableTx(ctx context.Context, tx *sql.Tx, tableID uint64) ([]model.Enrollment, error) {
	const q = `SELECT ` + enrollmentCols + ` FROM enrollments WHERE table_id = ? AND is_waiting = 0 ORDER BY created_at ASC, id ASC`
	rows, err := tx.QueryContext(ctx, q, tableID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEnrollments(rows)
}

// ListConfirmedByTable is the unlocked variant for browse rosters.
func (r *EnrollmentRepo) ListConfirmedByTable(ctx context.Context, tableID uint64) ([]model.Enrollment, error) {
	const q = `SELECT ` + enrollmentCols + ` FROM enrollments WHERE table_id = ? AND is_waiting = 0 ORDER BY created_at ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, q, tableID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEnrollments(rows)
}

func collectEnrollments(rows *sql.Rows) ([]model.Enrollment, error) {
	out := make([]model.Enrollment, 0)
	for rows.Next() {
		var e model.Enrollment
		var moderatedBy sql.NullInt64
		var moderatedAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.TableID, &e.UserID, &e.SessionID, &e.PartitionKey, &e.IsWaiting, &moderatedBy, &moderatedAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		if moderatedBy.Valid {
			v := uint64(moderatedBy.Int64)
			e.ModeratedBy = &v
		}
		if moderatedAt.Valid {
			v := moderatedAt.Time
			e.ModeratedAt = &v
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CountUnmoderatedBySession counts confirmed enrollments of a session
// that the moderation collaborator has not scored yet.  The engine uses
// this as the advisory guard against opening a new session while a
// moderation backlog exists.
func (r *EnrollmentRepo) CountUnmoderatedBySession(ctx context.Context, sessionID uint64) (int, error) {
	const q = `SELECT COUNT(*) FROM enrollments WHERE session_id = ? AND is_waiting = 0 AND moderated_at IS NULL`
	var n int
	if err := r.db.QueryRowContext(ctx, q, sessionID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// HasEnrollmentInSession reports whether the user holds any confirmed
// enrollment in the session.  Managers are barred from enrolling, so
// the reverse must hold too: an enrolled user cannot become a manager.
func (r *EnrollmentRepo) HasEnrollmentInSession(ctx context.Context, userID, sessionID uint64) (bool, error) {
	const q = `SELECT COUNT(*) FROM enrollments WHERE user_id = ? AND session_id = ? AND is_waiting = 0`
	var n int
	if err := r.db.QueryRowContext(ctx, q, userID, sessionID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// HasEnrollmentInSessionTx is HasEnrollmentInSession inside a
// transaction.
func (r *EnrollmentRepo) HasEnrollmentInSessionTx(ctx context.Context, tx *sql.Tx, userID, sessionID uint64) (bool, error) {
	const q = `SELECT COUNT(*) FROM enrollments WHERE user_id = ? AND session_id = ? AND is_waiting = 0`
	var n int
	if err := tx.QueryRowContext(ctx, q, userID, sessionID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdatePartitionKeyTx rewrites the denormalized partition bucket on
// every enrollment of a table after the table moves between partitions.
// A single-vote unique key violation here aborts the caller's
// transaction, which is the intended outcome: the move would let a
// member hold two seats in the same bucket.
func (r *EnrollmentRepo) UpdatePartitionKeyTx(ctx context.Context, tx *sql.Tx, tableID, sessionID, partitionKey uint64) error {
	const q = `UPDATE enrollments SET session_id = ?, partition_key = ? WHERE table_id = ?`
	_, err := tx.ExecContext(ctx, q, sessionID, partitionKey, tableID)
	return err
}

// EnrollmentDetail is the row shape returned to members listing their
// own enrollments: the enrollment plus the owning table, partition and
// session labels.
type EnrollmentDetail struct {
	ID             uint64  `json:"id"`
	TableID        uint64  `json:"table_id"`
	TableTitle     string  `json:"table_title"`
	SessionID      uint64  `json:"session_id"`
	SessionTitle   string  `json:"session_title"`
	PartitionID    *uint64 `json:"partition_id,omitempty"`
	PartitionTitle *string `json:"partition_title,omitempty"`
	CreatedAt      string  `json:"created_at"`
}

// ListByUser returns all enrollments of a user with table, partition
// and session context, newest first.
func (r *EnrollmentRepo) ListByUser(ctx context.Context, userID uint64) ([]EnrollmentDetail, error) {
	const q = `SELECT e.id, e.table_id, t.title, s.id, s.title, p.id, p.title, e.created_at
	           FROM enrollments e
	           JOIN tables t ON t.id = e.table_id
	           JOIN sessions s ON s.id = t.session_id
	           LEFT JOIN session_partitions p ON p.id = t.partition_id
	           WHERE e.user_id = ?
	           ORDER BY e.created_at DESC, e.id DESC`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]EnrollmentDetail, 0)
	for rows.Next() {
		var d EnrollmentDetail
		var partitionID sql.NullInt64
		var partitionTitle sql.NullString
		var createdAt sql.NullTime
		if err := rows.Scan(&d.ID, &d.TableID, &d.TableTitle, &d.SessionID, &d.SessionTitle, &partitionID, &partitionTitle, &createdAt); err != nil {
			return nil, err
		}
		if partitionID.Valid {
			v := uint64(partitionID.Int64)
			d.PartitionID = &v
		}
		if partitionTitle.Valid {
			v := partitionTitle.String
			d.PartitionTitle = &v
		}
		if createdAt.Valid {
			d.CreatedAt = createdAt.Time.UTC().Format("2006-01-02T15:04:05Z07:00")
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
