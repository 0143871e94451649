package model

import "time"

// Table is a capacity-bounded resource that members enroll into.  A
// table belongs to exactly one session and to at most one partition
// within that session.  Its open/closed state oscillates for its whole
// life: it auto-closes when the last seat fills and auto-reopens when a
// seat frees up while the owning session is still open.  This struct
// corresponds to a row in the `tables` table.
//
// Fields:
//  ID               – primary key identifier.
//  SessionID        – owning session.
//  PartitionID      – owning partition; nil means "no partition".
//  Title            – table title.
//  Capacity         – raw number of seats (positive).
//  ManagerID        – user responsible for the table.
//  ManagerTakesSeat – when true the manager occupies the first seat,
//                     which is arithmetic only and never an enrollment row.
//  IsOpen           – whether enrollments are currently accepted.
//  OpensAt          – optional scheduled opening gate; enrollments before
//                     this instant are rejected even while IsOpen is true.
//  ClosedAt         – when the table last transitioned to closed.
//  CreatedAt        – row creation timestamp.
//  UpdatedAt        – last update timestamp.
type Table struct {
	ID               uint64     `json:"id"`                 // tables.id
	SessionID        uint64     `json:"session_id"`         // tables.session_id
	PartitionID      *uint64    `json:"partition_id"`       // tables.partition_id (nullable)
	Title            string     `json:"title"`              // tables.title
	Capacity         uint32     `json:"capacity"`           // tables.capacity
	ManagerID        uint64     `json:"manager_id"`         // tables.manager_id
	ManagerTakesSeat bool       `json:"manager_takes_seat"` // tables.manager_takes_seat
	IsOpen           bool       `json:"is_open"`            // tables.is_open
	OpensAt          *time.Time `json:"opens_at"`           // tables.opens_at (nullable)
	ClosedAt         *time.Time `json:"closed_at"`          // tables.closed_at (nullable)
	CreatedAt        time.Time  `json:"created_at"`         // tables.created_at
	UpdatedAt        time.Time  `json:"updated_at"`         // tables.updated_at
}

// EffectiveCapacity returns the number of seats available to members:
// the raw capacity minus one when the manager occupies a seat, floored
// at zero.
func (t *Table) EffectiveCapacity() int {
	seats := int(t.Capacity)
	if t.ManagerTakesSeat {
		seats--
	}
	if seats < 0 {
		seats = 0
	}
	return seats
}

// PartitionKey returns the single-vote bucket for the table: its
// partition ID, or 0 for tables outside any partition.  Enrollment rows
// denormalize this value so that the "one seat per partition-slot"
// invariant can be backed by a storage unique key.
func (t *Table) PartitionKey() uint64 {
	if t.PartitionID == nil {
		return 0
	}
	return *t.PartitionID
}
