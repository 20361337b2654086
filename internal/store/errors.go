package store

import "strings"

// sqliteConflictMarkers are the driver messages for lock contention. Both
// SQLITE_BUSY and "database is locked" are transient and worth retrying.
var sqliteConflictMarkers = []string{"SQLITE_BUSY", "database is locked"}

// isConflictError reports whether err is a transient SQLite lock conflict.
func isConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range sqliteConflictMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
