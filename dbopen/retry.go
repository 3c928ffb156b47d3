package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Backoff is the wait before each retry of a busy statement.
var Backoff = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}

var busyMarkers = []string{"SQLITE_BUSY", "database is locked", "database table is locked"}

// IsBusy reports whether err is SQLite refusing a statement because another
// connection holds the lock.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, m := range busyMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Exec runs query, retrying after each Backoff step while the database is
// busy. Any other error is returned immediately.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) error {
	_, err := db.ExecContext(ctx, query, args...)
	for _, wait := range Backoff {
		if !IsBusy(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("dbopen: retry: %w", ctx.Err())
		case <-time.After(wait):
		}
		_, err = db.ExecContext(ctx, query, args...)
	}
	return err
}
