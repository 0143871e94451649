package engine

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/session-enrollment/internal/model"
	"github.com/iliyamo/session-enrollment/internal/queue"
	"github.com/iliyamo/session-enrollment/internal/repository"
)

// OpenSession creates a new OPEN session.  At most one session may be
// open system-wide: the optimistic check outside the transaction fails
// fast, and the locked re-check immediately before the insert closes
// the race between two simultaneous open requests.  Opening is also
// refused while the most recently closed session still has unmoderated
// enrollments; that guard is advisory business policy, not a data
// invariant.
func (e *Engine) OpenSession(ctx context.Context, actorID uint64, title string) (*model.Session, error) {
	if _, err := e.sessions.GetOpen(ctx); err == nil {
		return nil, ErrSessionAlreadyOpen
	} else if !errors.Is(err, repository.ErrSessionNotFound) {
		return nil, err
	}
	last, err := e.sessions.LatestClosed(ctx)
	if err == nil {
		n, err := e.enrollments.CountUnmoderatedBySession(ctx, last.ID)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			return nil, ErrPriorSessionUnmoderated
		}
	} else if !errors.Is(err, repository.ErrSessionNotFound) {
		return nil, err
	}

	s := &model.Session{Title: title, OpenedBy: actorID}
	err = e.withRetry(ctx, func(tx *sql.Tx) error {
		openID, err := e.sessions.LockOpenTx(ctx, tx)
		if err != nil {
			return err
		}
		if openID != 0 {
			return ErrSessionAlreadyOpen
		}
		return e.sessions.CreateOpenTx(ctx, tx, s)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// CloseSession closes a session, force-closing every table that is
// still open inside the same transaction.  The set of affected tables
// is captured while locked, before the bulk flip, so that one closure
// snapshot per table can be published after commit; re-deriving "what
// changed" from post-state would be unreliable once other transactions
// touch the rows.
func (e *Engine) CloseSession(ctx context.Context, sessionID, actorID uint64) ([]queue.TableClosedEvent, error) {
	var events []queue.TableClosedEvent
	err := e.withRetry(ctx, func(tx *sql.Tx) error {
		events = nil
		s, err := e.sessions.GetForUpdateTx(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if s.Status != model.SessionOpen {
			return ErrSessionNotOpen
		}
		openIDs, err := e.tables.OpenIDsBySessionTx(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if err := e.tables.BulkCloseBySessionTx(ctx, tx, sessionID); err != nil {
			return err
		}
		for _, id := range openIDs {
			ev, err := e.closureSnapshotTx(ctx, tx, id, queue.ClosureSessionEnd)
			if err != nil {
				return err
			}
			events = append(events, *ev)
		}
		return e.sessions.CloseTx(ctx, tx, sessionID, actorID)
	})
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		e.publish(ctx, ev)
	}
	return events, nil
}
