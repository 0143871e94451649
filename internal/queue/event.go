// Package queue defines message payloads exchanged over the message broker.
package queue

// TableClosedQueue is the durable queue carrying closure snapshots to
// the moderation collaborator.
const TableClosedQueue = "table.closed"

// Closure reasons recorded on TableClosedEvent.
const (
	ClosureAutoFill   = "AUTO_FILL"     // last seat filled, table auto-closed
	ClosureManual     = "MANUAL"        // an admin closed the table
	ClosureSessionEnd = "SESSION_CLOSE" // cascade close when the session closed
)

// EnrolledSeat is one confirmed enrollment inside a closure snapshot,
// listed in signup order.
type EnrolledSeat struct {
	EnrollmentID uint64 `json:"enrollment_id"`
	UserID       uint64 `json:"user_id"`
	EnrolledAt   string `json:"enrolled_at"`
}

// TableClosedEvent is published whenever a table transitions to CLOSED,
// whether by auto-fill, manual close or session-wide cascade.  It
// carries enough of a snapshot for the moderation consumer to score
// attendance without querying the primary database.  Events are only
// published after the closing transaction commits; a rolled-back
// closure never emits.
type TableClosedEvent struct {
	TableID     uint64         `json:"table_id"`
	SessionID   uint64         `json:"session_id"`
	PartitionID *uint64        `json:"partition_id,omitempty"`
	TableTitle  string         `json:"table_title"`
	Reason      string         `json:"reason"`
	ClosedAt    string         `json:"closed_at"`
	Enrollments []EnrolledSeat `json:"enrollments"`
}
