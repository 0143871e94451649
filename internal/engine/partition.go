package engine

import (
	"context"
	"database/sql"

	"github.com/iliyamo/session-enrollment/internal/model"
)

// maxPosition is the top of the bounded position range.
const maxPosition = 255

// clampPosition bounds a requested position to [min, hi].
func clampPosition(requested int, min uint8, hi int) uint8 {
	if requested < int(min) {
		requested = int(min)
	}
	if requested > hi {
		requested = hi
	}
	if requested > maxPosition {
		requested = maxPosition
	}
	return uint8(requested)
}

// CreatePartition adds a partition to a session.  Without an explicit
// position the engine locks the current maximum-position sibling and
// appends after it, so two concurrent appends cannot claim the same
// slot.  An explicit position that collides with an existing sibling
// makes room first: every sibling at or above the requested position is
// locked (ascending scan) and shifted up by one before the insert.
//
// The case-insensitive title check runs before the locked section; a
// true concurrent duplicate is caught by the storage unique key and
// surfaces as a generic write failure, an accepted trade-off.
func (e *Engine) CreatePartition(ctx context.Context, sessionID uint64, title string, position *uint8, active bool) (*model.Partition, error) {
	if _, err := e.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}
	if taken, err := e.partitions.TitleExists(ctx, sessionID, title, 0); err != nil {
		return nil, err
	} else if taken {
		return nil, ErrDuplicateTitle
	}

	p := &model.Partition{SessionID: sessionID, Title: title, IsActive: active}
	err := e.withRetry(ctx, func(tx *sql.Tx) error {
		max, hasSiblings, err := e.partitions.MaxPositionTx(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		appendPos := e.cfg.PositionMin
		if hasSiblings && int(max)+1 <= maxPosition {
			appendPos = max + 1
		}
		pos := appendPos
		if position != nil {
			pos = clampPosition(int(*position), e.cfg.PositionMin, int(appendPos))
		}
		if hasSiblings && pos <= max {
			// Colliding insert: shift the tail up to make room.  The
			// range is locked before mutation so concurrent shifts on
			// the same session serialize.
			if err := e.partitions.LockTailTx(ctx, tx, sessionID, pos); err != nil {
				return err
			}
			if err := e.partitions.ShiftTailUpTx(ctx, tx, sessionID, pos); err != nil {
				return err
			}
		}
		p.Position = pos
		return e.partitions.InsertTx(ctx, tx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UpdatePartitionOrder moves a partition to a new position among its
// siblings, keeping the sequence dense.  Moving up (B > A) decrements
// every sibling in (A, B]; moving down (B < A) increments every sibling
// in [B, A).  Both ranges are locked in ascending scan order before
// mutation, and the target is clamped to the current maximum so no gap
// can be created past the end.
func (e *Engine) UpdatePartitionOrder(ctx context.Context, partitionID uint64, newPosition uint8) (*model.Partition, error) {
	var moved *model.Partition
	err := e.withRetry(ctx, func(tx *sql.Tx) error {
		p, err := e.partitions.GetForUpdateTx(ctx, tx, partitionID)
		if err != nil {
			return err
		}
		max, _, err := e.partitions.MaxPositionTx(ctx, tx, p.SessionID)
		if err != nil {
			return err
		}
		target := clampPosition(int(newPosition), e.cfg.PositionMin, int(max))
		if target == p.Position {
			moved = p
			return nil
		}
		if target > p.Position {
			if err := e.partitions.LockRangeTx(ctx, tx, p.SessionID, p.Position+1, target); err != nil {
				return err
			}
			if err := e.partitions.ShiftRangeDownTx(ctx, tx, p.SessionID, p.Position, target); err != nil {
				return err
			}
		} else {
			if err := e.partitions.LockRangeTx(ctx, tx, p.SessionID, target, p.Position-1); err != nil {
				return err
			}
			if err := e.partitions.ShiftRangeUpTx(ctx, tx, p.SessionID, target, p.Position); err != nil {
				return err
			}
		}
		if err := e.partitions.SetPositionTx(ctx, tx, p.ID, target); err != nil {
			return err
		}
		p.Position = target
		moved = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

// DeletePartition removes a partition that no table references, then
// closes the gap it leaves by shifting every higher sibling down by
// one under lock.
func (e *Engine) DeletePartition(ctx context.Context, partitionID uint64) error {
	// Fast pre-check; re-verified inside the transaction.
	if n, err := e.partitions.TableCount(ctx, partitionID); err != nil {
		return err
	} else if n > 0 {
		return ErrPartitionHasTables
	}
	return e.withRetry(ctx, func(tx *sql.Tx) error {
		p, err := e.partitions.GetForUpdateTx(ctx, tx, partitionID)
		if err != nil {
			return err
		}
		if n, err := e.partitions.TableCountTx(ctx, tx, partitionID); err != nil {
			return err
		} else if n > 0 {
			return ErrPartitionHasTables
		}
		if err := e.partitions.DeleteTx(ctx, tx, p.ID); err != nil {
			return err
		}
		if err := e.partitions.LockTailTx(ctx, tx, p.SessionID, p.Position); err != nil {
			return err
		}
		return e.partitions.ShiftTailDownTx(ctx, tx, p.SessionID, p.Position)
	})
}
