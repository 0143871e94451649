// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as the
// engine and handlers to distinguish between different failure
// scenarios without string matching. Not-found sentinels replace
// sql.ErrNoRows at the repository boundary so callers never depend on
// database/sql directly.
package repository

import "errors"

// ErrSessionNotFound is returned when a session lookup fails.
var ErrSessionNotFound = errors.New("session not found")

// ErrPartitionNotFound is returned when a partition lookup fails.
var ErrPartitionNotFound = errors.New("partition not found")

// ErrTableNotFound is returned when a table lookup fails.
var ErrTableNotFound = errors.New("table not found")

// ErrEnrollmentNotFound is returned when an enrollment lookup fails.
var ErrEnrollmentNotFound = errors.New("enrollment not found")

// ErrEmailExists is returned when registering a user with an email that
// is already taken.
var ErrEmailExists = errors.New("email already exists")

// ErrConflict is returned when a delete or update cannot be performed
// because of conflicting dependent state, such as deleting a partition
// that still has tables. Handlers should translate this into an HTTP
// 409 response.
var ErrConflict = errors.New("conflict")
