package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/session-enrollment/internal/model"
)

const tableCols = `id, session_id, partition_id, title, capacity, manager_id, manager_takes_seat, is_open, opens_at, closed_at, created_at, updated_at`

// TableRepo manages persistence for tables.  The table row is the sole
// shared resource that must be locked for any enrollment-affecting
// mutation: every enroll, withdraw, manual open/close and
// capacity-affecting update acquires GetForUpdateTx first, and all
// occupancy reads happen after that lock.
type TableRepo struct {
	db *sql.DB
}

// NewTableRepo constructs a TableRepo with the given DB handle.
func NewTableRepo(db *sql.DB) *TableRepo { return &TableRepo{db: db} }

// DB exposes the underlying sql.DB for callers that need to begin
// transactions spanning multiple repositories.
func (r *TableRepo) DB() *sql.DB { return r.db }

func scanTable(row *sql.Row) (*model.Table, error) {
	var t model.Table
	var partitionID sql.NullInt64
	var opensAt, closedAt sql.NullTime
	err := row.Scan(&t.ID, &t.SessionID, &partitionID, &t.Title, &t.Capacity, &t.ManagerID,
		&t.ManagerTakesSeat, &t.IsOpen, &opensAt, &closedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if partitionID.Valid {
		v := uint64(partitionID.Int64)
		t.PartitionID = &v
	}
	if opensAt.Valid {
		v := opensAt.Time
		t.OpensAt = &v
	}
	if closedAt.Valid {
		v := closedAt.Time
		t.ClosedAt = &v
	}
	return &t, nil
}

// GetByID retrieves a table by its ID without locking.  It returns
// ErrTableNotFound when no row matches.
func (r *TableRepo) GetByID(ctx context.Context, id uint64) (*model.Table, error) {
	const q = `SELECT ` + tableCols + ` FROM tables WHERE id = ?`
	t, err := scanTable(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTableNotFound
		}
		return nil, err
	}
	return t, nil
}

// GetForUpdateTx loads a table row under an exclusive lock.  Every
// capacity-affecting transaction starts here; callers re-validate all
// preconditions after this call because only post-lock reads are
// authoritative.
func (r *TableRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Table, error) {
	const q = `SELECT ` + tableCols + ` FROM tables WHERE id = ? FOR UPDATE`
	t, err := scanTable(tx.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTableNotFound
		}
		return nil, err
	}
	return t, nil
}

// TableOccupancy pairs a table with its live confirmed-enrollment
// count for browse responses.  The count is recomputed by query rather
// than cached on the row.
type TableOccupancy struct {
	model.Table
	Confirmed int `json:"confirmed"`
}

// ListBySession returns every table of a session with its confirmed
// enrollment count, ordered by partition then title for stable display.
func (r *TableRepo) ListBySession(ctx context.Context, sessionID uint64) ([]TableOccupancy, error) {
	const q = `SELECT t.id, t.session_id, t.partition_id, t.title, t.capacity, t.manager_id,
	                  t.manager_takes_seat, t.is_open, t.opens_at, t.closed_at, t.created_at, t.updated_at,
	                  COUNT(e.id)
	           FROM tables t
	           LEFT JOIN enrollments e ON e.table_id = t.id AND e.is_waiting = 0
	           WHERE t.session_id = ?
	           GROUP BY t.id
	           ORDER BY t.partition_id IS NULL, t.partition_id, t.title`
	rows, err := r.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]TableOccupancy, 0)
	for rows.Next() {
		var to TableOccupancy
		var partitionID sql.NullInt64
		var opensAt, closedAt sql.NullTime
		if err := rows.Scan(&to.ID, &to.SessionID, &partitionID, &to.Title, &to.Capacity, &to.ManagerID,
			&to.ManagerTakesSeat, &to.IsOpen, &opensAt, &closedAt, &to.CreatedAt, &to.UpdatedAt, &to.Confirmed); err != nil {
			return nil, err
		}
		if partitionID.Valid {
			v := uint64(partitionID.Int64)
			to.PartitionID = &v
		}
		if opensAt.Valid {
			v := opensAt.Time
			to.OpensAt = &v
		}
		if closedAt.Valid {
			v := closedAt.Time
			to.ClosedAt = &v
		}
		out = append(out, to)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Create inserts a new table.  The caller decides the initial open
// state: a table born with zero effective capacity is stored closed
// from the start.  The generated ID and DB defaults are populated back
// onto the model.
func (r *TableRepo) Create(ctx context.Context, t *model.Table) error {
	const q = `INSERT INTO tables (session_id, partition_id, title, capacity, manager_id, manager_takes_seat, is_open, opens_at, closed_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	var partitionID interface{}
	if t.PartitionID != nil {
		partitionID = *t.PartitionID
	}
	var opensAt, closedAt interface{}
	if t.OpensAt != nil {
		opensAt = t.OpensAt.UTC()
	}
	if t.ClosedAt != nil {
		closedAt = t.ClosedAt.UTC()
	}
	res, err := r.db.ExecContext(ctx, q, t.SessionID, partitionID, t.Title, t.Capacity,
		t.ManagerID, t.ManagerTakesSeat, t.IsOpen, opensAt, closedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = uint64(id)
	const sel = `SELECT ` + tableCols + ` FROM tables WHERE id = ?`
	got, err := scanTable(r.db.QueryRowContext(ctx, sel, t.ID))
	if err != nil {
		return err
	}
	*t = *got
	return nil
}

// UpdateTx persists mutable table attributes inside a transaction.  The
// engine owns this call so that capacity and manager changes happen
// under the table's row lock and can flip the open state in the same
// transaction.
func (r *TableRepo) UpdateTx(ctx context.Context, tx *sql.Tx, t *model.Table) error {
	const q = `UPDATE tables SET partition_id = ?, title = ?, capacity = ?, manager_id = ?, manager_takes_seat = ?, opens_at = ? WHERE id = ?`
	var partitionID interface{}
	if t.PartitionID != nil {
		partitionID = *t.PartitionID
	}
	var opensAt interface{}
	if t.OpensAt != nil {
		opensAt = t.OpensAt.UTC()
	}
	_, err := tx.ExecContext(ctx, q, partitionID, t.Title, t.Capacity, t.ManagerID, t.ManagerTakesSeat, opensAt, t.ID)
	return err
}

// CloseTx flips a table to closed, stamping closed_at only if it is not
// already set.
func (r *TableRepo) CloseTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	const q = `UPDATE tables SET is_open = 0, closed_at = COALESCE(closed_at, UTC_TIMESTAMP()) WHERE id = ?`
	_, err := tx.ExecContext(ctx, q, id)
	return err
}

// ReopenTx flips a table back to open and clears the closure stamp.
func (r *TableRepo) ReopenTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	const q = `UPDATE tables SET is_open = 1, closed_at = NULL WHERE id = ?`
	_, err := tx.ExecContext(ctx, q, id)
	return err
}

// OpenIDsBySessionTx locks and returns the IDs of every currently open
// table of a session.  Session close captures this set before the bulk
// flip so that closure events can be emitted per table after commit.
func (r *TableRepo) OpenIDsBySessionTx(ctx context.Context, tx *sql.Tx, sessionID uint64) ([]uint64, error) {
	const q = `SELECT id FROM tables WHERE session_id = ? AND is_open = 1 ORDER BY id ASC FOR UPDATE`
	rows, err := tx.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// GetTx loads a table row inside a transaction without an extra lock.
// Used for snapshot assembly after the row set was already locked.
func (r *TableRepo) GetTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Table, error) {
	const q = `SELECT ` + tableCols + ` FROM tables WHERE id = ?`
	t, err := scanTable(tx.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTableNotFound
		}
		return nil, err
	}
	return t, nil
}

// BulkCloseBySessionTx force-closes every open table of a session in a
// single statement.
func (r *TableRepo) BulkCloseBySessionTx(ctx context.Context, tx *sql.Tx, sessionID uint64) error {
	const q = `UPDATE tables SET is_open = 0, closed_at = COALESCE(closed_at, UTC_TIMESTAMP()) WHERE session_id = ? AND is_open = 1`
	_, err := tx.ExecContext(ctx, q, sessionID)
	return err
}

// ManagedCount returns how many tables of the session the user manages.
// Unlocked variant for the engine's fast pre-checks.
func (r *TableRepo) ManagedCount(ctx context.Context, sessionID, userID uint64) (int, error) {
	const q = `SELECT COUNT(*) FROM tables WHERE session_id = ? AND manager_id = ?`
	var n int
	if err := r.db.QueryRowContext(ctx, q, sessionID, userID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ManagedCountTx is ManagedCount inside a transaction; the
// authoritative re-check under the table's row lock.
func (r *TableRepo) ManagedCountTx(ctx context.Context, tx *sql.Tx, sessionID, userID uint64) (int, error) {
	const q = `SELECT COUNT(*) FROM tables WHERE session_id = ? AND manager_id = ?`
	var n int
	if err := tx.QueryRowContext(ctx, q, sessionID, userID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Delete removes a table.  Enrollments cascade-delete via the foreign
// key.
func (r *TableRepo) Delete(ctx context.Context, id uint64) error {
	const q = `DELETE FROM tables WHERE id = ?`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTableNotFound
	}
	return nil
}
