package engine

import "errors"

// Typed precondition failures surfaced to callers.  Handlers translate
// these into user-facing HTTP responses with errors.Is.
var (
	// ErrSessionAlreadyOpen rejects opening a session while another is OPEN.
	ErrSessionAlreadyOpen = errors.New("a session is already open")

	// ErrPriorSessionUnmoderated rejects opening a session while the most
	// recently closed one still has unscored enrollments.
	ErrPriorSessionUnmoderated = errors.New("previous session has unmoderated enrollments")

	// ErrSessionNotOpen rejects operations that require an OPEN session.
	ErrSessionNotOpen = errors.New("session is not open")

	// ErrTableFull rejects an enrollment on a table at effective capacity.
	ErrTableFull = errors.New("table is full")

	// ErrTableClosed rejects an enrollment on a closed table.
	ErrTableClosed = errors.New("table is closed")

	// ErrTableNotYetOpen rejects an enrollment before the table's
	// scheduled opening time.
	ErrTableNotYetOpen = errors.New("table is not open yet")

	// ErrDuplicatePartitionVote rejects a second confirmed seat in the
	// same (session, partition-slot).
	ErrDuplicatePartitionVote = errors.New("already enrolled in another table of this partition")

	// ErrManagerCannotEnroll rejects enrollment by a user who manages any
	// table of the same session.
	ErrManagerCannotEnroll = errors.New("table managers cannot enroll in their session")

	// ErrManagerEnrolled rejects assigning a manager who already holds an
	// enrollment in the session.
	ErrManagerEnrolled = errors.New("user is enrolled in this session and cannot manage a table")

	// ErrDuplicateTitle rejects a partition title already used within the
	// session (case-insensitive).
	ErrDuplicateTitle = errors.New("partition title already in use")

	// ErrPartitionHasTables rejects deleting a partition still referenced
	// by tables.
	ErrPartitionHasTables = errors.New("partition still has tables")

	// ErrTxFailed is the generic "try again" failure returned once the
	// bounded retry loop is exhausted.  Nothing was applied.
	ErrTxFailed = errors.New("operation could not complete, try again")
)
