package db

import (
	"strings"

	"github.com/macrokit/macrokit/errors"
)

// ErrDatabaseClosed marks operations that raced the connection teardown.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err means the connection pool has been
// torn down, either a wrapped ErrDatabaseClosed or the raw driver message.
// The message check is unavoidable: database/sql surfaces its own error
// value, and store layers re-wrap it before it reaches callers. The
// scheduler's poll loop uses this to exit cleanly during shutdown instead
// of logging a storage failure on every remaining tick.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}

// IsUniqueViolation checks if an error is a SQLite UNIQUE constraint failure.
// Stores map this onto a conflict failure (duplicate recording name, duplicate id).
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
