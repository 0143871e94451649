package engine

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/session-enrollment/internal/model"
	"github.com/iliyamo/session-enrollment/internal/queue"
	"github.com/iliyamo/session-enrollment/internal/repository"
)

// TablePatch carries the mutable table attributes for UpdateTable.  Nil
// fields are left unchanged; the Clear flags reset their nullable
// counterparts.
type TablePatch struct {
	Title            *string
	Capacity         *uint32
	ManagerID        *uint64
	ManagerTakesSeat *bool
	OpensAt          *time.Time
	ClearOpensAt     bool
	PartitionID      *uint64
	ClearPartition   bool
}

// UpdateTable applies a patch under the table's row lock.  Capacity and
// manager-seat changes can flip the open state in the same transaction:
// the table auto-closes (with a closure snapshot) when shrunk to its
// confirmed count, and reopens when grown while the owning session is
// still open.  Shrinking below the confirmed count is rejected so the
// capacity invariant never breaks.  Moving the table to another
// partition rewrites the denormalized partition bucket of its
// enrollments; a member whose single-vote rule would break trips the
// storage unique key and the whole update rolls back.
func (e *Engine) UpdateTable(ctx context.Context, tableID uint64, patch TablePatch) (*model.Table, error) {
	var updated *model.Table
	var closure *queue.TableClosedEvent
	err := e.withRetry(ctx, func(tx *sql.Tx) error {
		updated, closure = nil, nil
		t, err := e.tables.GetForUpdateTx(ctx, tx, tableID)
		if err != nil {
			return err
		}
		if patch.Title != nil {
			t.Title = *patch.Title
		}
		if patch.Capacity != nil {
			t.Capacity = *patch.Capacity
		}
		if patch.ManagerTakesSeat != nil {
			t.ManagerTakesSeat = *patch.ManagerTakesSeat
		}
		if patch.ClearOpensAt {
			t.OpensAt = nil
		} else if patch.OpensAt != nil {
			v := patch.OpensAt.UTC()
			t.OpensAt = &v
		}
		if patch.ManagerID != nil && *patch.ManagerID != t.ManagerID {
			enrolled, err := e.enrollments.HasEnrollmentInSessionTx(ctx, tx, *patch.ManagerID, t.SessionID)
			if err != nil {
				return err
			}
			if enrolled {
				return ErrManagerEnrolled
			}
			t.ManagerID = *patch.ManagerID
		}
		partitionChanged := false
		if patch.ClearPartition {
			partitionChanged = t.PartitionID != nil
			t.PartitionID = nil
		} else if patch.PartitionID != nil {
			p, err := e.partitions.GetTx(ctx, tx, *patch.PartitionID)
			if err != nil {
				return err
			}
			if p.SessionID != t.SessionID {
				return repository.ErrConflict
			}
			partitionChanged = t.PartitionID == nil || *t.PartitionID != p.ID
			t.PartitionID = &p.ID
		}

		count, err := e.enrollments.CountConfirmedTx(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		if count > t.EffectiveCapacity() {
			return repository.ErrConflict
		}
		if err := e.tables.UpdateTx(ctx, tx, t); err != nil {
			return err
		}
		if partitionChanged {
			if err := e.enrollments.UpdatePartitionKeyTx(ctx, tx, t.ID, t.SessionID, t.PartitionKey()); err != nil {
				return err
			}
		}

		if count >= t.EffectiveCapacity() && t.IsOpen {
			if err := e.tables.CloseTx(ctx, tx, t.ID); err != nil {
				return err
			}
			ev, err := e.closureSnapshotTx(ctx, tx, t.ID, queue.ClosureAutoFill)
			if err != nil {
				return err
			}
			closure = ev
			t.IsOpen = false
		} else if count < t.EffectiveCapacity() && !t.IsOpen {
			status, err := e.sessions.StatusTx(ctx, tx, t.SessionID)
			if err != nil {
				return err
			}
			if status == model.SessionOpen {
				if err := e.tables.ReopenTx(ctx, tx, t.ID); err != nil {
					return err
				}
				t.IsOpen = true
				t.ClosedAt = nil
			}
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	if closure != nil {
		e.publish(ctx, *closure)
	}
	return updated, nil
}
