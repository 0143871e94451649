package model

import "time"

// Enrollment is one user's claim on one table.  SessionID and
// PartitionKey are denormalized from the owning table at insert time so
// the storage layer can enforce both uniqueness rules directly:
// UNIQUE(table_id, user_id) and UNIQUE(user_id, session_id,
// partition_key).  Enrollments are hard-deleted on withdrawal.
//
// Fields:
//  ID           – primary key identifier.
//  TableID      – table holding the seat.
//  UserID       – enrolled user.
//  SessionID    – session of the owning table (denormalized).
//  PartitionKey – partition of the owning table, 0 for "no partition".
//  IsWaiting    – reserved for a waitlist; never set by the engine.
//  ModeratedBy  – admin who scored the enrollment after closure.
//  ModeratedAt  – when the enrollment was scored.
//  CreatedAt    – signup instant; ordering key for "who signed up first"
//                 with the primary key as tiebreaker.
type Enrollment struct {
	ID           uint64     `json:"id"`           // enrollments.id
	TableID      uint64     `json:"table_id"`     // enrollments.table_id
	UserID       uint64     `json:"user_id"`      // enrollments.user_id
	SessionID    uint64     `json:"session_id"`   // enrollments.session_id
	PartitionKey uint64     `json:"-"`            // enrollments.partition_key
	IsWaiting    bool       `json:"is_waiting"`   // enrollments.is_waiting
	ModeratedBy  *uint64    `json:"moderated_by"` // enrollments.moderated_by (nullable)
	ModeratedAt  *time.Time `json:"moderated_at"` // enrollments.moderated_at (nullable)
	CreatedAt    time.Time  `json:"created_at"`   // enrollments.created_at
}
