package engine

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/session-enrollment/internal/queue"
	"github.com/iliyamo/session-enrollment/internal/repository"
)

const (
	qUpdateTable      = `UPDATE tables SET partition_id = \?, title = \?, capacity = \?`
	qUserInSession    = `SELECT COUNT\(\*\) FROM enrollments WHERE user_id = \? AND session_id = \? AND is_waiting = 0`
	qRewritePartition = `UPDATE enrollments SET session_id = \?, partition_key = \? WHERE table_id = \?`
)

func uint32Ptr(v uint32) *uint32 { return &v }
func uint64Ptr(v uint64) *uint64 { return &v }

func TestUpdateTableShrinkBelowCountRejected(t *testing.T) {
	eng, mock, pub := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(qTableForUpdate).WillReturnRows(tableRow(5, 1, nil, 4, false, true, nil))
	mock.ExpectQuery(qConfirmedCount).WillReturnRows(countRow(3))
	mock.ExpectRollback()

	_, err := eng.UpdateTable(context.Background(), 5, TablePatch{Capacity: uint32Ptr(2)})
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.Empty(t, pub.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTableShrinkToCountAutoCloses(t *testing.T) {
	eng, mock, pub := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(qTableForUpdate).WillReturnRows(tableRow(5, 1, nil, 4, false, true, nil))
	mock.ExpectQuery(qConfirmedCount).WillReturnRows(countRow(2))
	mock.ExpectExec(qUpdateTable).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(qCloseTable).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(qTableByID).WillReturnRows(tableRow(5, 1, nil, 2, false, false, time.Now().UTC()))
	mock.ExpectQuery(qListConfirmed).WillReturnRows(enrollmentRow(31, 5, 7, 1, 0))
	mock.ExpectCommit()

	updated, err := eng.UpdateTable(context.Background(), 5, TablePatch{Capacity: uint32Ptr(2)})
	require.NoError(t, err)
	assert.False(t, updated.IsOpen)
	require.Len(t, pub.events, 1)
	assert.Equal(t, queue.ClosureAutoFill, pub.events[0].Reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTableGrowReopensWhileSessionOpen(t *testing.T) {
	eng, mock, pub := newTestEngine(t)

	closedAt := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery(qTableForUpdate).WillReturnRows(tableRow(5, 1, nil, 2, false, false, closedAt))
	mock.ExpectQuery(qConfirmedCount).WillReturnRows(countRow(2))
	mock.ExpectExec(qUpdateTable).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(qSessionStatus).WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("OPEN"))
	mock.ExpectExec(qReopenTable).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	updated, err := eng.UpdateTable(context.Background(), 5, TablePatch{Capacity: uint32Ptr(4)})
	require.NoError(t, err)
	assert.True(t, updated.IsOpen)
	assert.Nil(t, updated.ClosedAt)
	assert.Empty(t, pub.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTableGrowStaysClosedAfterSessionEnd(t *testing.T) {
	eng, mock, pub := newTestEngine(t)

	closedAt := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery(qTableForUpdate).WillReturnRows(tableRow(5, 1, nil, 2, false, false, closedAt))
	mock.ExpectQuery(qConfirmedCount).WillReturnRows(countRow(2))
	mock.ExpectExec(qUpdateTable).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(qSessionStatus).WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("CLOSED"))
	mock.ExpectCommit()

	updated, err := eng.UpdateTable(context.Background(), 5, TablePatch{Capacity: uint32Ptr(4)})
	require.NoError(t, err)
	assert.False(t, updated.IsOpen)
	assert.Empty(t, pub.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTableRejectsEnrolledManager(t *testing.T) {
	eng, mock, _ := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(qTableForUpdate).WillReturnRows(tableRow(5, 1, nil, 4, false, true, nil))
	mock.ExpectQuery(qUserInSession).WillReturnRows(countRow(1))
	mock.ExpectRollback()

	_, err := eng.UpdateTable(context.Background(), 5, TablePatch{ManagerID: uint64Ptr(77)})
	assert.ErrorIs(t, err, ErrManagerEnrolled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTableMoveToPartitionRewritesEnrollments(t *testing.T) {
	eng, mock, _ := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(qTableForUpdate).WillReturnRows(tableRow(5, 1, nil, 4, false, true, nil))
	mock.ExpectQuery(qPartitionByID).WillReturnRows(partitionRow(3, 1, "strategy", 0))
	mock.ExpectQuery(qConfirmedCount).WillReturnRows(countRow(1))
	mock.ExpectExec(qUpdateTable).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(qRewritePartition).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	updated, err := eng.UpdateTable(context.Background(), 5, TablePatch{PartitionID: uint64Ptr(3)})
	require.NoError(t, err)
	require.NotNil(t, updated.PartitionID)
	assert.Equal(t, uint64(3), *updated.PartitionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTableRejectsCrossSessionPartition(t *testing.T) {
	eng, mock, _ := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(qTableForUpdate).WillReturnRows(tableRow(5, 1, nil, 4, false, true, nil))
	mock.ExpectQuery(qPartitionByID).WillReturnRows(partitionRow(3, 2, "strategy", 0))
	mock.ExpectRollback()

	_, err := eng.UpdateTable(context.Background(), 5, TablePatch{PartitionID: uint64Ptr(3)})
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTableClearPartitionResetsBucket(t *testing.T) {
	eng, mock, _ := newTestEngine(t)

	partitionID := uint64(3)
	mock.ExpectBegin()
	mock.ExpectQuery(qTableForUpdate).WillReturnRows(tableRow(5, 1, partitionID, 4, false, true, nil))
	mock.ExpectQuery(qConfirmedCount).WillReturnRows(countRow(1))
	mock.ExpectExec(qUpdateTable).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(qRewritePartition).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	updated, err := eng.UpdateTable(context.Background(), 5, TablePatch{ClearPartition: true})
	require.NoError(t, err)
	assert.Nil(t, updated.PartitionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
