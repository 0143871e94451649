package engine

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/session-enrollment/internal/queue"
	"github.com/iliyamo/session-enrollment/internal/repository"
)

// capturePublisher records closure events instead of talking to a broker.
type capturePublisher struct {
	events []queue.TableClosedEvent
}

func (p *capturePublisher) PublishTableClosed(_ context.Context, ev queue.TableClosedEvent) error {
	p.events = append(p.events, ev)
	return nil
}

// newTestEngine wires an Engine against a sqlmock database with a tiny
// backoff so retry tests stay fast.
func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock, *capturePublisher) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	pub := &capturePublisher{}
	cfg := Config{TxAttempts: 3, BackoffMin: time.Millisecond, BackoffMax: 2 * time.Millisecond}
	eng := New(db,
		repository.NewSessionRepo(db),
		repository.NewPartitionRepo(db),
		repository.NewTableRepo(db),
		repository.NewEnrollmentRepo(db),
		pub, cfg)
	return eng, mock, pub
}

var tableRowCols = []string{"id", "session_id", "partition_id", "title", "capacity", "manager_id",
	"manager_takes_seat", "is_open", "opens_at", "closed_at", "created_at", "updated_at"}

// tableRow builds a sqlmock row for a table with no scheduled opening.
func tableRow(id, sessionID uint64, partitionID interface{}, capacity uint32, takesSeat, isOpen bool, closedAt interface{}) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(tableRowCols).
		AddRow(id, sessionID, partitionID, "table", capacity, uint64(900), takesSeat, isOpen, nil, closedAt, now, now)
}

var enrollmentRowCols = []string{"id", "table_id", "user_id", "session_id", "partition_key",
	"is_waiting", "moderated_by", "moderated_at", "created_at"}

func enrollmentRow(id, tableID, userID, sessionID, partitionKey uint64) *sqlmock.Rows {
	return sqlmock.NewRows(enrollmentRowCols).
		AddRow(id, tableID, userID, sessionID, partitionKey, false, nil, nil, time.Now().UTC())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(driver.ErrBadConn))
	assert.True(t, isRetryable(&mysql.MySQLError{Number: 1205}))
	assert.True(t, isRetryable(&mysql.MySQLError{Number: 1213}))
	assert.False(t, isRetryable(&mysql.MySQLError{Number: 1062}))
	assert.False(t, isRetryable(errors.New("boom")))
	assert.False(t, isRetryable(sql.ErrNoRows))
}

func TestDuplicateKeyClassification(t *testing.T) {
	votes := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry '7-1-3' for key 'uq_enrollments_partition_vote'"}
	pair := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry '5-7' for key 'uq_enrollments_table_user'"}

	assert.True(t, isDuplicateKey(votes))
	assert.True(t, isDuplicateKey(pair))
	assert.True(t, isPartitionVoteKey(votes))
	assert.False(t, isPartitionVoteKey(pair))
	assert.False(t, isPartitionVoteKey(errors.New("boom")))
}

func TestBackoffDelayWithinWindow(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	eng.cfg.BackoffMin = 80 * time.Millisecond
	eng.cfg.BackoffMax = 260 * time.Millisecond
	for i := 0; i < 100; i++ {
		d := eng.backoffDelay()
		assert.GreaterOrEqual(t, d, 80*time.Millisecond)
		assert.LessOrEqual(t, d, 260*time.Millisecond)
	}
}

func TestBackoffDelayDegenerateWindow(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	eng.cfg.BackoffMin = 50 * time.Millisecond
	eng.cfg.BackoffMax = 50 * time.Millisecond
	assert.Equal(t, 50*time.Millisecond, eng.backoffDelay())
}

func TestClampPosition(t *testing.T) {
	assert.Equal(t, uint8(0), clampPosition(-5, 0, 10))
	assert.Equal(t, uint8(3), clampPosition(3, 0, 10))
	assert.Equal(t, uint8(10), clampPosition(42, 0, 10))
	assert.Equal(t, uint8(2), clampPosition(1, 2, 10))
	assert.Equal(t, uint8(255), clampPosition(900, 0, 400))
}

func TestConfigNormalization(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	eng := New(db,
		repository.NewSessionRepo(db),
		repository.NewPartitionRepo(db),
		repository.NewTableRepo(db),
		repository.NewEnrollmentRepo(db),
		nil, Config{TxAttempts: 0, BackoffMin: 100 * time.Millisecond, BackoffMax: 10 * time.Millisecond})

	assert.Equal(t, 1, eng.cfg.TxAttempts)
	assert.Equal(t, eng.cfg.BackoffMin, eng.cfg.BackoffMax)
}

func TestWithRetryExhaustsOnContention(t *testing.T) {
	eng, mock, _ := newTestEngine(t)
	for i := 0; i < 3; i++ {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}

	calls := 0
	err := eng.withRetry(context.Background(), func(tx *sql.Tx) error {
		calls++
		return &mysql.MySQLError{Number: 1213}
	})
	assert.ErrorIs(t, err, ErrTxFailed)
	assert.Equal(t, 3, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithRetryPassesThroughDomainErrors(t *testing.T) {
	eng, mock, _ := newTestEngine(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	calls := 0
	err := eng.withRetry(context.Background(), func(tx *sql.Tx) error {
		calls++
		return ErrTableFull
	})
	assert.ErrorIs(t, err, ErrTableFull)
	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}
