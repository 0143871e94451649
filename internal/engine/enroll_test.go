package engine

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/session-enrollment/internal/queue"
)

// Query regex fragments shared by the enroll tests.  Expectations are
// ordered, so a fragment only needs to be unambiguous against the next
// query, not globally.
const (
	qTableByID       = `SELECT .+ FROM tables WHERE id = \?`
	qTableForUpdate  = `SELECT .+ FROM tables WHERE id = \? FOR UPDATE`
	qManagedCount    = `SELECT COUNT\(\*\) FROM tables WHERE session_id = \? AND manager_id = \?`
	qHoldsPartition  = `SELECT COUNT\(\*\) FROM enrollments WHERE user_id = \? AND session_id = \? AND partition_key`
	qLockPartition   = `SELECT id FROM enrollments WHERE user_id = \? AND session_id = \? AND partition_key = .+ FOR UPDATE`
	qEnrollByPair    = `SELECT .+ FROM enrollments WHERE table_id = \? AND user_id = \?`
	qConfirmedCount  = `SELECT COUNT\(\*\) FROM enrollments WHERE table_id = \? AND is_waiting = 0`
	qInsertEnroll    = `INSERT INTO enrollments`
	qEnrollByID      = `SELECT .+ FROM enrollments WHERE id = \?`
	qCloseTable      = `UPDATE tables SET is_open = 0`
	qReopenTable     = `UPDATE tables SET is_open = 1`
	qDeleteEnroll    = `DELETE FROM enrollments WHERE table_id = \? AND user_id = \?`
	qSessionStatus   = `SELECT status FROM sessions WHERE id = \?`
	qListConfirmed   = `SELECT .+ FROM enrollments WHERE table_id = \? AND is_waiting = 0 ORDER BY created_at ASC, id ASC`
	qOpenTableIDs    = `SELECT id FROM tables WHERE session_id = \? AND is_open = 1`
)

func errNoRows() error { return sql.ErrNoRows }

func countRow(n int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(n)
}

// expectEnrollPrechecks queues the three unlocked fast checks.
func expectEnrollPrechecks(mock sqlmock.Sqlmock, tableRows *sqlmock.Rows) {
	mock.ExpectQuery(qTableByID).WillReturnRows(tableRows)
	mock.ExpectQuery(qManagedCount).WillReturnRows(countRow(0))
	mock.ExpectQuery(qHoldsPartition).WillReturnRows(countRow(0))
}

func TestEnrollSuccess(t *testing.T) {
	eng, mock, pub := newTestEngine(t)

	expectEnrollPrechecks(mock, tableRow(5, 1, nil, 4, false, true, nil))
	mock.ExpectBegin()
	mock.ExpectQuery(qTableForUpdate).WillReturnRows(tableRow(5, 1, nil, 4, false, true, nil))
	mock.ExpectQuery(qManagedCount).WillReturnRows(countRow(0))
	mock.ExpectQuery(qLockPartition).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(qEnrollByPair).WillReturnError(errNoRows())
	mock.ExpectQuery(qConfirmedCount).WillReturnRows(countRow(0))
	mock.ExpectExec(qInsertEnroll).WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectQuery(qEnrollByID).WillReturnRows(enrollmentRow(11, 5, 7, 1, 0))
	mock.ExpectQuery(qConfirmedCount).WillReturnRows(countRow(1))
	mock.ExpectCommit()

	e, err := eng.Enroll(context.Background(), 7, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), e.ID)
	assert.Equal(t, uint64(7), e.UserID)
	assert.Empty(t, pub.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollFillsLastSeatAndAutoCloses(t *testing.T) {
	eng, mock, pub := newTestEngine(t)

	expectEnrollPrechecks(mock, tableRow(5, 1, nil, 2, false, true, nil))
	mock.ExpectBegin()
	mock.ExpectQuery(qTableForUpdate).WillReturnRows(tableRow(5, 1, nil, 2, false, true, nil))
	mock.ExpectQuery(qManagedCount).WillReturnRows(countRow(0))
	mock.ExpectQuery(qLockPartition).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(qEnrollByPair).WillReturnError(errNoRows())
	mock.ExpectQuery(qConfirmedCount).WillReturnRows(countRow(1))
	mock.ExpectExec(qInsertEnroll).WillReturnResult(sqlmock.NewResult(12, 1))
	mock.ExpectQuery(qEnrollByID).WillReturnRows(enrollmentRow(12, 5, 7, 1, 0))
	mock.ExpectQuery(qConfirmedCount).WillReturnRows(countRow(2))
	mock.ExpectExec(qCloseTable).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(qTableByID).WillReturnRows(tableRow(5, 1, nil, 2, false, false, time.Now().UTC()))
	mock.ExpectQuery(qListConfirmed).WillReturnRows(
		sqlmock.NewRows(enrollmentRowCols).
			AddRow(3, 5, 6, 1, 0, false, nil, nil, time.Now().UTC()).
			AddRow(12, 5, 7, 1, 0, false, nil, nil, time.Now().UTC()))
	mock.ExpectCommit()

	_, err := eng.Enroll(context.Background(), 7, 5)
	require.NoError(t, err)
	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	assert.Equal(t, queue.ClosureAutoFill, ev.Reason)
	assert.Equal(t, uint64(5), ev.TableID)
	assert.Len(t, ev.Enrollments, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollTableFullCountsEffectiveCapacity(t *testing.T) {
	eng, mock, pub := newTestEngine(t)

	// Capacity 3 with a seat-taking manager leaves 2 member seats.
	expectEnrollPrechecks(mock, tableRow(5, 1, nil, 3, true, true, nil))
	mock.ExpectBegin()
	mock.ExpectQuery(qTableForUpdate).WillReturnRows(tableRow(5, 1, nil, 3, true, true, nil))
	mock.ExpectQuery(qManagedCount).WillReturnRows(countRow(0))
	mock.ExpectQuery(qLockPartition).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(qEnrollByPair).WillReturnError(errNoRows())
	mock.ExpectQuery(qConfirmedCount).WillReturnRows(countRow(2))
	mock.ExpectRollback()

	_, err := eng.Enroll(context.Background(), 7, 5)
	assert.ErrorIs(t, err, ErrTableFull)
	assert.Empty(t, pub.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollClosedTableRejectedBeforeLocking(t *testing.T) {
	eng, mock, _ := newTestEngine(t)

	mock.ExpectQuery(qTableByID).WillReturnRows(tableRow(5, 1, nil, 4, false, false, time.Now().UTC()))

	_, err := eng.Enroll(context.Background(), 7, 5)
	assert.ErrorIs(t, err, ErrTableClosed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollBeforeScheduledOpening(t *testing.T) {
	eng, mock, _ := newTestEngine(t)

	opensAt := time.Now().UTC().Add(time.Hour)
	rows := sqlmock.NewRows(tableRowCols).
		AddRow(5, 1, nil, "table", 4, uint64(900), false, true, opensAt, nil, time.Now().UTC(), time.Now().UTC())
	mock.ExpectQuery(qTableByID).WillReturnRows(rows)

	_, err := eng.Enroll(context.Background(), 7, 5)
	assert.ErrorIs(t, err, ErrTableNotYetOpen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollManagerCannotEnroll(t *testing.T) {
	eng, mock, _ := newTestEngine(t)

	mock.ExpectQuery(qTableByID).WillReturnRows(tableRow(5, 1, nil, 4, false, true, nil))
	mock.ExpectQuery(qManagedCount).WillReturnRows(countRow(1))

	_, err := eng.Enroll(context.Background(), 7, 5)
	assert.ErrorIs(t, err, ErrManagerCannotEnroll)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollDuplicatePartitionVotePrecheck(t *testing.T) {
	eng, mock, _ := newTestEngine(t)

	mock.ExpectQuery(qTableByID).WillReturnRows(tableRow(5, 1, uint64(3), 4, false, true, nil))
	mock.ExpectQuery(qManagedCount).WillReturnRows(countRow(0))
	mock.ExpectQuery(qHoldsPartition).WillReturnRows(countRow(1))

	_, err := eng.Enroll(context.Background(), 7, 5)
	assert.ErrorIs(t, err, ErrDuplicatePartitionVote)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollIdempotentReEnroll(t *testing.T) {
	eng, mock, pub := newTestEngine(t)

	expectEnrollPrechecks(mock, tableRow(5, 1, nil, 4, false, true, nil))
	mock.ExpectBegin()
	mock.ExpectQuery(qTableForUpdate).WillReturnRows(tableRow(5, 1, nil, 4, false, true, nil))
	mock.ExpectQuery(qManagedCount).WillReturnRows(countRow(0))
	mock.ExpectQuery(qLockPartition).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(qEnrollByPair).WillReturnRows(enrollmentRow(11, 5, 7, 1, 0))
	mock.ExpectCommit()

	e, err := eng.Enroll(context.Background(), 7, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), e.ID)
	assert.Empty(t, pub.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollBenignInsertRaceResolvesToSuccess(t *testing.T) {
	eng, mock, _ := newTestEngine(t)

	expectEnrollPrechecks(mock, tableRow(5, 1, nil, 4, false, true, nil))
	mock.ExpectBegin()
	mock.ExpectQuery(qTableForUpdate).WillReturnRows(tableRow(5, 1, nil, 4, false, true, nil))
	mock.ExpectQuery(qManagedCount).WillReturnRows(countRow(0))
	mock.ExpectQuery(qLockPartition).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(qEnrollByPair).WillReturnError(errNoRows())
	mock.ExpectQuery(qConfirmedCount).WillReturnRows(countRow(0))
	mock.ExpectExec(qInsertEnroll).WillReturnError(&mysql.MySQLError{
		Number: 1062, Message: "Duplicate entry '5-7' for key 'uq_enrollments_table_user'"})
	mock.ExpectQuery(qEnrollByPair).WillReturnRows(enrollmentRow(11, 5, 7, 1, 0))
	mock.ExpectQuery(qConfirmedCount).WillReturnRows(countRow(1))
	mock.ExpectCommit()

	e, err := eng.Enroll(context.Background(), 7, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), e.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollInsertHitsPartitionVoteKey(t *testing.T) {
	eng, mock, _ := newTestEngine(t)

	expectEnrollPrechecks(mock, tableRow(5, 1, uint64(3), 4, false, true, nil))
	mock.ExpectBegin()
	mock.ExpectQuery(qTableForUpdate).WillReturnRows(tableRow(5, 1, uint64(3), 4, false, true, nil))
	mock.ExpectQuery(qManagedCount).WillReturnRows(countRow(0))
	mock.ExpectQuery(qLockPartition).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(qEnrollByPair).WillReturnError(errNoRows())
	mock.ExpectQuery(qConfirmedCount).WillReturnRows(countRow(0))
	mock.ExpectExec(qInsertEnroll).WillReturnError(&mysql.MySQLError{
		Number: 1062, Message: "Duplicate entry '7-1-3' for key 'uq_enrollments_partition_vote'"})
	mock.ExpectRollback()

	_, err := eng.Enroll(context.Background(), 7, 5)
	assert.ErrorIs(t, err, ErrDuplicatePartitionVote)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollRetriesOnDeadlockThenSucceeds(t *testing.T) {
	eng, mock, _ := newTestEngine(t)

	expectEnrollPrechecks(mock, tableRow(5, 1, nil, 4, false, true, nil))

	// First attempt deadlocks on the row lock.
	mock.ExpectBegin()
	mock.ExpectQuery(qTableForUpdate).WillReturnError(&mysql.MySQLError{Number: 1213})
	mock.ExpectRollback()

	// Second attempt goes through.
	mock.ExpectBegin()
	mock.ExpectQuery(qTableForUpdate).WillReturnRows(tableRow(5, 1, nil, 4, false, true, nil))
	mock.ExpectQuery(qManagedCount).WillReturnRows(countRow(0))
	mock.ExpectQuery(qLockPartition).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(qEnrollByPair).WillReturnError(errNoRows())
	mock.ExpectQuery(qConfirmedCount).WillReturnRows(countRow(0))
	mock.ExpectExec(qInsertEnroll).WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectQuery(qEnrollByID).WillReturnRows(enrollmentRow(11, 5, 7, 1, 0))
	mock.ExpectQuery(qConfirmedCount).WillReturnRows(countRow(1))
	mock.ExpectCommit()

	e, err := eng.Enroll(context.Background(), 7, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), e.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithdrawReopensClosedTable(t *testing.T) {
	eng, mock, _ := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(qTableForUpdate).WillReturnRows(tableRow(5, 1, nil, 4, false, false, time.Now().UTC()))
	mock.ExpectExec(qDeleteEnroll).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(qConfirmedCount).WillReturnRows(countRow(3))
	mock.ExpectQuery(qSessionStatus).WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("OPEN"))
	mock.ExpectExec(qReopenTable).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := eng.Withdraw(context.Background(), 7, 5)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithdrawClosedSessionKeepsTableClosed(t *testing.T) {
	eng, mock, _ := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(qTableForUpdate).WillReturnRows(tableRow(5, 1, nil, 4, false, false, time.Now().UTC()))
	mock.ExpectExec(qDeleteEnroll).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(qConfirmedCount).WillReturnRows(countRow(3))
	mock.ExpectQuery(qSessionStatus).WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("CLOSED"))
	mock.ExpectCommit()

	err := eng.Withdraw(context.Background(), 7, 5)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithdrawIdempotentWhenNotEnrolled(t *testing.T) {
	eng, mock, _ := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(qTableForUpdate).WillReturnRows(tableRow(5, 1, nil, 4, false, true, nil))
	mock.ExpectExec(qDeleteEnroll).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(qConfirmedCount).WillReturnRows(countRow(0))
	mock.ExpectCommit()

	err := eng.Withdraw(context.Background(), 7, 5)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManualOpenRejectsFullTable(t *testing.T) {
	eng, mock, _ := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(qTableForUpdate).WillReturnRows(tableRow(5, 1, nil, 2, false, false, time.Now().UTC()))
	mock.ExpectQuery(qSessionStatus).WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("OPEN"))
	mock.ExpectQuery(qConfirmedCount).WillReturnRows(countRow(2))
	mock.ExpectRollback()

	err := eng.ManualOpen(context.Background(), 5)
	assert.ErrorIs(t, err, ErrTableFull)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManualOpenRejectsClosedSession(t *testing.T) {
	eng, mock, _ := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(qTableForUpdate).WillReturnRows(tableRow(5, 1, nil, 2, false, false, time.Now().UTC()))
	mock.ExpectQuery(qSessionStatus).WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("CLOSED"))
	mock.ExpectRollback()

	err := eng.ManualOpen(context.Background(), 5)
	assert.ErrorIs(t, err, ErrSessionNotOpen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManualCloseIdempotent(t *testing.T) {
	eng, mock, pub := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(qTableForUpdate).WillReturnRows(tableRow(5, 1, nil, 2, false, false, time.Now().UTC()))
	mock.ExpectCommit()

	err := eng.ManualClose(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, pub.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManualClosePublishesSnapshot(t *testing.T) {
	eng, mock, pub := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(qTableForUpdate).WillReturnRows(tableRow(5, 1, nil, 4, false, true, nil))
	mock.ExpectExec(qCloseTable).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(qTableByID).WillReturnRows(tableRow(5, 1, nil, 4, false, false, time.Now().UTC()))
	mock.ExpectQuery(qListConfirmed).WillReturnRows(enrollmentRow(11, 5, 7, 1, 0))
	mock.ExpectCommit()

	err := eng.ManualClose(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, pub.events, 1)
	assert.Equal(t, queue.ClosureManual, pub.events[0].Reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}
