package model

import "time"

// Partition is a named subdivision of a session, e.g. parallel time
// slots running inside the same session.  Sibling partitions carry a
// dense position sequence: after any create, reorder or delete the
// positions of a session's partitions form a gap-free ascending run
// starting at the configured minimum.  This struct corresponds to a
// row in the `session_partitions` table.
//
// Fields:
//  ID        – primary key identifier.
//  SessionID – owning session.
//  Title     – partition title, unique per session (case-insensitive).
//  Position  – dense ordering value among siblings.
//  IsActive  – whether the partition is shown to members.
//  CreatedAt – row creation timestamp.
//  UpdatedAt – last update timestamp.
type Partition struct {
	ID        uint64    `json:"id"`         // session_partitions.id
	SessionID uint64    `json:"session_id"` // session_partitions.session_id
	Title     string    `json:"title"`      // session_partitions.title
	Position  uint8     `json:"position"`   // session_partitions.position
	IsActive  bool      `json:"is_active"`  // session_partitions.is_active
	CreatedAt time.Time `json:"created_at"` // session_partitions.created_at
	UpdatedAt time.Time `json:"updated_at"` // session_partitions.updated_at
}
