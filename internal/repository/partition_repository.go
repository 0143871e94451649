package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/session-enrollment/internal/model"
)

const partitionCols = `id, session_id, title, position, is_active, created_at, updated_at`

// PartitionRepo manages persistence for session partitions.  Position
// maintenance deliberately has no unique key behind it: the dense
// sequence is kept collision-free by the engine, which locks the
// affected position range (ascending scan order) before shifting it.
// Transient duplicate positions inside a shift transaction are expected
// and never observable after commit.
type PartitionRepo struct {
	db *sql.DB
}

// NewPartitionRepo constructs a PartitionRepo with the given DB handle.
func NewPartitionRepo(db *sql.DB) *PartitionRepo { return &PartitionRepo{db: db} }

func scanPartition(row *sql.Row) (*model.Partition, error) {
	var p model.Partition
	err := row.Scan(&p.ID, &p.SessionID, &p.Title, &p.Position, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByID retrieves a partition by its ID.  It returns
// ErrPartitionNotFound when no row matches.
func (r *PartitionRepo) GetByID(ctx context.Context, id uint64) (*model.Partition, error) {
	const q = `SELECT ` + partitionCols + ` FROM session_partitions WHERE id = ?`
	p, err := scanPartition(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPartitionNotFound
		}
		return nil, err
	}
	return p, nil
}

// ListBySession returns all partitions of a session ordered by
// position.  When the session has no partitions an empty slice is
// returned.
func (r *PartitionRepo) ListBySession(ctx context.Context, sessionID uint64) ([]model.Partition, error) {
	const q = `SELECT ` + partitionCols + ` FROM session_partitions WHERE session_id = ? ORDER BY position ASC`
	rows, err := r.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Partition, 0)
	for rows.Next() {
		var p model.Partition
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Title, &p.Position, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// TitleExists reports whether another partition of the same session
// already uses the given title, compared case-insensitively.  This is
// the cheap pre-lock validation; a concurrent duplicate that slips past
// it is caught by the storage unique key and surfaces as a generic
// write failure.
func (r *PartitionRepo) TitleExists(ctx context.Context, sessionID uint64, title string, excludeID uint64) (bool, error) {
	const q = `SELECT COUNT(*) FROM session_partitions WHERE session_id = ? AND LOWER(title) = LOWER(?) AND id <> ?`
	var n int
	if err := r.db.QueryRowContext(ctx, q, sessionID, title, excludeID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetForUpdateTx loads a partition row under an exclusive lock.
func (r *PartitionRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Partition, error) {
	const q = `SELECT ` + partitionCols + ` FROM session_partitions WHERE id = ? FOR UPDATE`
	p, err := scanPartition(tx.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPartitionNotFound
		}
		return nil, err
	}
	return p, nil
}

// GetTx loads a partition within a transaction without locking it.
func (r *PartitionRepo) GetTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Partition, error) {
	const q = `SELECT ` + partitionCols + ` FROM session_partitions WHERE id = ?`
	p, err := scanPartition(tx.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPartitionNotFound
		}
		return nil, err
	}
	return p, nil
}

// MaxPositionTx locks the highest-position sibling of a session and
// returns its position.  The second return value is false when the
// session has no partitions yet.  Locking the max row serializes
// concurrent "append" creates so they cannot both claim max+1.
func (r *PartitionRepo) MaxPositionTx(ctx context.Context, tx *sql.Tx, sessionID uint64) (uint8, bool, error) {
	const q = `SELECT position FROM session_partitions WHERE session_id = ? ORDER BY position DESC LIMIT 1 FOR UPDATE`
	var pos uint8
	err := tx.QueryRowContext(ctx, q, sessionID).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return pos, true, nil
}

// LockRangeTx locks every sibling of a session whose position lies in
// [from, to], scanning in ascending position order.  Acquiring range
// locks in the same scan order from every writer avoids circular waits
// between two concurrent shifts on the same session.
func (r *PartitionRepo) LockRangeTx(ctx context.Context, tx *sql.Tx, sessionID uint64, from, to uint8) error {
	const q = `SELECT id FROM session_partitions WHERE session_id = ? AND position BETWEEN ? AND ? ORDER BY position ASC FOR UPDATE`
	rows, err := tx.QueryContext(ctx, q, sessionID, from, to)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return err
		}
	}
	return rows.Err()
}

// LockTailTx locks every sibling with position >= from, ascending.
func (r *PartitionRepo) LockTailTx(ctx context.Context, tx *sql.Tx, sessionID uint64, from uint8) error {
	const q = `SELECT id FROM session_partitions WHERE session_id = ? AND position >= ? ORDER BY position ASC FOR UPDATE`
	rows, err := tx.QueryContext(ctx, q, sessionID, from)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ShiftTailUpTx increments the position of every sibling with position
// >= from.  Callers must have locked the range first.
func (r *PartitionRepo) ShiftTailUpTx(ctx context.Context, tx *sql.Tx, sessionID uint64, from uint8) error {
	const q = `UPDATE session_partitions SET position = position + 1 WHERE session_id = ? AND position >= ?`
	_, err := tx.ExecContext(ctx, q, sessionID, from)
	return err
}

// ShiftTailDownTx decrements the position of every sibling with
// position > from.  Used after a delete to keep the sequence dense.
func (r *PartitionRepo) ShiftTailDownTx(ctx context.Context, tx *sql.Tx, sessionID uint64, from uint8) error {
	const q = `UPDATE session_partitions SET position = position - 1 WHERE session_id = ? AND position > ?`
	_, err := tx.ExecContext(ctx, q, sessionID, from)
	return err
}

// ShiftRangeDownTx decrements positions in (after, upTo] by one.  Used
// when moving a partition towards a higher position.
func (r *PartitionRepo) ShiftRangeDownTx(ctx context.Context, tx *sql.Tx, sessionID uint64, after, upTo uint8) error {
	const q = `UPDATE session_partitions SET position = position - 1 WHERE session_id = ? AND position > ? AND position <= ?`
	_, err := tx.ExecContext(ctx, q, sessionID, after, upTo)
	return err
}

// ShiftRangeUpTx increments positions in [from, before) by one.  Used
// when moving a partition towards a lower position.
func (r *PartitionRepo) ShiftRangeUpTx(ctx context.Context, tx *sql.Tx, sessionID uint64, from, before uint8) error {
	const q = `UPDATE session_partitions SET position = position + 1 WHERE session_id = ? AND position >= ? AND position < ?`
	_, err := tx.ExecContext(ctx, q, sessionID, from, before)
	return err
}

// InsertTx inserts a new partition within the provided transaction and
// populates the generated ID and DB-default fields on the given model.
func (r *PartitionRepo) InsertTx(ctx context.Context, tx *sql.Tx, p *model.Partition) error {
	const q = `INSERT INTO session_partitions (session_id, title, position, is_active) VALUES (?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, p.SessionID, p.Title, p.Position, p.IsActive)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	const sel = `SELECT ` + partitionCols + ` FROM session_partitions WHERE id = ?`
	got, err := scanPartition(tx.QueryRowContext(ctx, sel, p.ID))
	if err != nil {
		return err
	}
	*p = *got
	return nil
}

// SetPositionTx moves a single partition to the given position.
func (r *PartitionRepo) SetPositionTx(ctx context.Context, tx *sql.Tx, id uint64, pos uint8) error {
	const q = `UPDATE session_partitions SET position = ? WHERE id = ?`
	_, err := tx.ExecContext(ctx, q, pos, id)
	return err
}

// DeleteTx removes a partition row.
func (r *PartitionRepo) DeleteTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	const q = `DELETE FROM session_partitions WHERE id = ?`
	_, err := tx.ExecContext(ctx, q, id)
	return err
}

// TableCount returns the number of tables referencing the partition.
func (r *PartitionRepo) TableCount(ctx context.Context, partitionID uint64) (int, error) {
	const q = `SELECT COUNT(*) FROM tables WHERE partition_id = ?`
	var n int
	if err := r.db.QueryRowContext(ctx, q, partitionID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// TableCountTx is TableCount inside a transaction; the authoritative
// re-check before a delete commits.
func (r *PartitionRepo) TableCountTx(ctx context.Context, tx *sql.Tx, partitionID uint64) (int, error) {
	const q = `SELECT COUNT(*) FROM tables WHERE partition_id = ?`
	var n int
	if err := tx.QueryRowContext(ctx, q, partitionID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Update persists title and active-flag changes for a partition.  Order
// changes must go through the engine's reorder operation instead.
func (r *PartitionRepo) Update(ctx context.Context, p *model.Partition) error {
	const q = `UPDATE session_partitions SET title = ?, is_active = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, p.Title, p.IsActive, p.ID)
	return err
}
