// Package engine implements the transactional enrollment core: session
// and partition lifecycle, table state transitions and the enrollment
// protocol itself.  Correctness is enforced at the storage layer via
// SELECT ... FOR UPDATE row locks plus unique keys as the final
// backstop; every capacity-affecting operation re-validates its
// preconditions after acquiring the table's lock and runs inside a
// bounded retry loop with jittered backoff for transient contention.
package engine

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/session-enrollment/internal/queue"
	"github.com/iliyamo/session-enrollment/internal/repository"
)

// ClosurePublisher delivers closure snapshots to the moderation
// collaborator.  The engine only calls it after the closing transaction
// has committed.
type ClosurePublisher interface {
	PublishTableClosed(ctx context.Context, ev queue.TableClosedEvent) error
}

// Config carries the engine tunables.
type Config struct {
	TxAttempts  int           // bound on transaction attempts per operation
	BackoffMin  time.Duration // lower edge of the retry jitter window
	BackoffMax  time.Duration // upper edge of the retry jitter window
	PositionMin uint8         // smallest partition position in a session
}

// DefaultConfig returns the production defaults: three attempts with
// an 80-260ms randomized pause between them, partition positions
// starting at zero.
func DefaultConfig() Config {
	return Config{
		TxAttempts:  3,
		BackoffMin:  80 * time.Millisecond,
		BackoffMax:  260 * time.Millisecond,
		PositionMin: 0,
	}
}

// Engine bundles the repositories and publisher behind the enrollment
// core operations.  All methods are safe for concurrent use; the
// database row locks do the serializing.
type Engine struct {
	db          *sql.DB
	sessions    *repository.SessionRepo
	partitions  *repository.PartitionRepo
	tables      *repository.TableRepo
	enrollments *repository.EnrollmentRepo
	publisher   ClosurePublisher
	cfg         Config
}

// New constructs an Engine.  The publisher may be nil, in which case
// closure events are only logged.
func New(db *sql.DB, sessions *repository.SessionRepo, partitions *repository.PartitionRepo,
	tables *repository.TableRepo, enrollments *repository.EnrollmentRepo,
	publisher ClosurePublisher, cfg Config) *Engine {
	if db == nil || sessions == nil || partitions == nil || tables == nil || enrollments == nil {
		panic("nil dependency passed to engine.New")
	}
	if cfg.TxAttempts < 1 {
		cfg.TxAttempts = 1
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = cfg.BackoffMin
	}
	return &Engine{
		db:          db,
		sessions:    sessions,
		partitions:  partitions,
		tables:      tables,
		enrollments: enrollments,
		publisher:   publisher,
		cfg:         cfg,
	}
}

// withRetry runs fn inside a transaction, retrying on transient storage
// contention up to the configured bound.  Precondition failures and
// structural errors pass through untouched on the first occurrence.
// When every attempt fails on contention the caller gets the generic
// ErrTxFailed; the transaction guarantees nothing was partially
// applied.
func (e *Engine) withRetry(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.TxAttempts; attempt++ {
		err := e.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
		if attempt < e.cfg.TxAttempts {
			select {
			case <-time.After(e.backoffDelay()):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	log.Printf("engine: giving up after %d attempts: %v", e.cfg.TxAttempts, lastErr)
	return ErrTxFailed
}

// runOnce executes fn inside a single transaction with the usual
// commit-or-rollback discipline.
func (e *Engine) runOnce(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// backoffDelay returns a random pause in [BackoffMin, BackoffMax] to
// de-correlate retries from concurrent callers hitting the same row.
func (e *Engine) backoffDelay() time.Duration {
	window := e.cfg.BackoffMax - e.cfg.BackoffMin
	if window <= 0 {
		return e.cfg.BackoffMin
	}
	return e.cfg.BackoffMin + time.Duration(rand.Int63n(int64(window)+1))
}

// MySQL server error numbers the retry loop cares about.
const (
	mysqlErrDuplicateKey    = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

// isRetryable reports whether an error is transient storage contention
// worth another attempt.  Duplicate-key errors are NOT retryable here;
// the enroll flow interprets them in place.
func isRetryable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlErrLockWaitTimeout || me.Number == mysqlErrDeadlock
	}
	return false
}

// isDuplicateKey reports whether err is a MySQL duplicate-key failure.
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlErrDuplicateKey
}

// isPartitionVoteKey reports whether a duplicate-key failure hit the
// single-vote unique index rather than the per-table one.  The index
// name is part of the server message.
func isPartitionVoteKey(err error) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	return strings.Contains(me.Message, "uq_enrollments_partition_vote")
}

// publish hands a closure snapshot to the moderation queue.  Publish
// failures are logged and swallowed: the closure itself has already
// committed and must not be undone by a broker hiccup.
func (e *Engine) publish(ctx context.Context, ev queue.TableClosedEvent) {
	if e.publisher == nil {
		log.Printf("engine: table %d closed (%s), no publisher configured", ev.TableID, ev.Reason)
		return
	}
	if err := e.publisher.PublishTableClosed(ctx, ev); err != nil {
		log.Printf("engine: publish table.closed for table %d failed: %v", ev.TableID, err)
	}
}

// closureSnapshotTx assembles the closure event for a table inside the
// closing transaction, so the snapshot reflects exactly the state that
// commits.  The confirmed roster is listed in signup order.
func (e *Engine) closureSnapshotTx(ctx context.Context, tx *sql.Tx, tableID uint64, reason string) (*queue.TableClosedEvent, error) {
	t, err := e.tables.GetTx(ctx, tx, tableID)
	if err != nil {
		return nil, err
	}
	seats, err := e.enrollments.ListConfirmedByTableTx(ctx, tx, tableID)
	if err != nil {
		return nil, err
	}
	ev := &queue.TableClosedEvent{
		TableID:     t.ID,
		SessionID:   t.SessionID,
		PartitionID: t.PartitionID,
		TableTitle:  t.Title,
		Reason:      reason,
		Enrollments: make([]queue.EnrolledSeat, 0, len(seats)),
	}
	if t.ClosedAt != nil {
		ev.ClosedAt = t.ClosedAt.UTC().Format(time.RFC3339)
	}
	for _, s := range seats {
		ev.Enrollments = append(ev.Enrollments, queue.EnrolledSeat{
			EnrollmentID: s.ID,
			UserID:       s.UserID,
			EnrolledAt:   s.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return ev, nil
}
