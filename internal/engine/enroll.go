package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/session-enrollment/internal/model"
	"github.com/iliyamo/session-enrollment/internal/queue"
	"github.com/iliyamo/session-enrollment/internal/repository"
)

// enrollGate checks the two cheap table-state preconditions: the
// scheduled opening time and the open flag.
func enrollGate(t *model.Table, now time.Time) error {
	if t.OpensAt != nil && t.OpensAt.After(now) {
		return ErrTableNotYetOpen
	}
	if !t.IsOpen {
		return ErrTableClosed
	}
	return nil
}

// Enroll claims a seat on a table for a user.  Preconditions are
// checked twice: once cheaply outside any lock to fail fast in the
// common non-contended case, and again authoritatively under the
// table's exclusive row lock.  Re-enrolling on the same table is an
// idempotent success.  When the insert fills the last seat the table is
// auto-closed and a closure snapshot is published after commit.
func (e *Engine) Enroll(ctx context.Context, userID, tableID uint64) (*model.Enrollment, error) {
	// Fast pre-checks, advisory only.
	t, err := e.tables.GetByID(ctx, tableID)
	if err != nil {
		return nil, err
	}
	if err := enrollGate(t, time.Now().UTC()); err != nil {
		return nil, err
	}
	if n, err := e.tables.ManagedCount(ctx, t.SessionID, userID); err != nil {
		return nil, err
	} else if n > 0 {
		return nil, ErrManagerCannotEnroll
	}
	if held, err := e.enrollments.HoldsPartitionSeat(ctx, userID, t.SessionID, t.PartitionKey(), t.ID); err != nil {
		return nil, err
	} else if held {
		return nil, ErrDuplicatePartitionVote
	}

	var enrolled *model.Enrollment
	var closure *queue.TableClosedEvent
	err = e.withRetry(ctx, func(tx *sql.Tx) error {
		enrolled, closure = nil, nil

		// Only reads taken after this lock are authoritative.
		t, err := e.tables.GetForUpdateTx(ctx, tx, tableID)
		if err != nil {
			return err
		}
		if err := enrollGate(t, time.Now().UTC()); err != nil {
			return err
		}
		if n, err := e.tables.ManagedCountTx(ctx, tx, t.SessionID, userID); err != nil {
			return err
		} else if n > 0 {
			return ErrManagerCannotEnroll
		}
		// Single-vote re-check locks the competing enrollment rows to
		// close the TOCTOU window left by the pre-check.
		if held, err := e.enrollments.LockPartitionSeatTx(ctx, tx, userID, t.SessionID, t.PartitionKey(), t.ID); err != nil {
			return err
		} else if held {
			return ErrDuplicatePartitionVote
		}
		// Idempotent re-enroll: an existing claim on this table is a
		// success, not an error.
		existing, err := e.enrollments.GetByTableAndUserTx(ctx, tx, t.ID, userID)
		if err == nil {
			enrolled = existing
			return nil
		}
		if !errors.Is(err, repository.ErrEnrollmentNotFound) {
			return err
		}
		count, err := e.enrollments.CountConfirmedTx(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		if count >= t.EffectiveCapacity() {
			return ErrTableFull
		}
		rec := &model.Enrollment{
			TableID:      t.ID,
			UserID:       userID,
			SessionID:    t.SessionID,
			PartitionKey: t.PartitionKey(),
		}
		if err := e.enrollments.InsertTx(ctx, tx, rec); err != nil {
			if !isDuplicateKey(err) {
				return err
			}
			if isPartitionVoteKey(err) {
				return ErrDuplicatePartitionVote
			}
			// Lost a same-pair first-insert race: the user is already
			// enrolled, which is what they asked for.
			rec, err = e.enrollments.GetByTableAndUserTx(ctx, tx, t.ID, userID)
			if err != nil {
				return err
			}
		}
		enrolled = rec

		count, err = e.enrollments.CountConfirmedTx(ctx, tx, t.ID)
		if err != nil {
			return err
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
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if closure != nil {
		e.publish(ctx, *closure)
	}
	return enrolled, nil
}

// Withdraw removes a user's enrollment from a table.  Absence of the
// enrollment is not an error.  When the removal frees a seat on a
// closed table and the owning session is still open, the table reopens.
func (e *Engine) Withdraw(ctx context.Context, userID, tableID uint64) error {
	return e.withRetry(ctx, func(tx *sql.Tx) error {
		t, err := e.tables.GetForUpdateTx(ctx, tx, tableID)
		if err != nil {
			return err
		}
		if _, err := e.enrollments.DeleteByTableAndUserTx(ctx, tx, t.ID, userID); err != nil {
			return err
		}
		count, err := e.enrollments.CountConfirmedTx(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		if !t.IsOpen && count < t.EffectiveCapacity() {
			status, err := e.sessions.StatusTx(ctx, tx, t.SessionID)
			if err != nil {
				return err
			}
			if status == model.SessionOpen {
				if err := e.tables.ReopenTx(ctx, tx, t.ID); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// ManualOpen opens a table by administrative request.  It is rejected
// when the owning session is not open or when the table is already at
// effective capacity; a full table stays closed, capacity is enforced,
// not advisory.  Opening an already-open table is a no-op.
func (e *Engine) ManualOpen(ctx context.Context, tableID uint64) error {
	return e.withRetry(ctx, func(tx *sql.Tx) error {
		t, err := e.tables.GetForUpdateTx(ctx, tx, tableID)
		if err != nil {
			return err
		}
		status, err := e.sessions.StatusTx(ctx, tx, t.SessionID)
		if err != nil {
			return err
		}
		if status != model.SessionOpen {
			return ErrSessionNotOpen
		}
		count, err := e.enrollments.CountConfirmedTx(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		if count >= t.EffectiveCapacity() {
			return ErrTableFull
		}
		if t.IsOpen {
			return nil
		}
		return e.tables.ReopenTx(ctx, tx, t.ID)
	})
}

// ManualClose closes a table by administrative request.  It is
// unconditional and idempotent; an actual OPEN→CLOSED transition emits
// a closure snapshot after commit.
func (e *Engine) ManualClose(ctx context.Context, tableID uint64) error {
	var closure *queue.TableClosedEvent
	err := e.withRetry(ctx, func(tx *sql.Tx) error {
		closure = nil
		t, err := e.tables.GetForUpdateTx(ctx, tx, tableID)
		if err != nil {
			return err
		}
		if !t.IsOpen {
			return nil
		}
		if err := e.tables.CloseTx(ctx, tx, t.ID); err != nil {
			return err
		}
		ev, err := e.closureSnapshotTx(ctx, tx, t.ID, queue.ClosureManual)
		if err != nil {
			return err
		}
		closure = ev
		return nil
	})
	if err != nil {
		return err
	}
	if closure != nil {
		e.publish(ctx, *closure)
	}
	return nil
}
