package model

import "time"

// Session states as stored in the sessions.status column.
const (
	SessionOpen   = "OPEN"
	SessionClosed = "CLOSED"
)

// Session represents a time-boxed signup window.  All partitions and
// tables belong to exactly one session, and at most one session may be
// in the OPEN state across the whole system at any moment.  This struct
// corresponds to a row in the `sessions` table.
//
// Fields:
//  ID        – primary key identifier.
//  Title     – human readable label for the session.
//  Status    – OPEN or CLOSED.
//  OpenedBy  – user ID of the admin who opened the session.
//  ClosedBy  – user ID of the admin who closed it (nil while open).
//  OpenedAt  – when the session was opened.
//  ClosedAt  – when the session was closed (nil while open).
//  CreatedAt – row creation timestamp.
//  UpdatedAt – last update timestamp.
type Session struct {
	ID        uint64     `json:"id"`         // sessions.id
	Title     string     `json:"title"`      // sessions.title
	Status    string     `json:"status"`     // sessions.status
	OpenedBy  uint64     `json:"opened_by"`  // sessions.opened_by
	ClosedBy  *uint64    `json:"closed_by"`  // sessions.closed_by (nullable)
	OpenedAt  time.Time  `json:"opened_at"`  // sessions.opened_at
	ClosedAt  *time.Time `json:"closed_at"`  // sessions.closed_at (nullable)
	CreatedAt time.Time  `json:"created_at"` // sessions.created_at
	UpdatedAt time.Time  `json:"updated_at"` // sessions.updated_at
}
