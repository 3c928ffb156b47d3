// Package idgen mints the identifiers of change records, snapshots,
// search-history entries and HTTP requests. Components take a Generator
// so tests can pin ids.
package idgen

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns time-ordered RFC 9562 UUIDs.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Sequential returns a Generator producing "<epoch-ms>-<seq>" IDs, where
// seq increases monotonically for the lifetime of the generator. IDs are
// unique within one process; they are not meant to survive restarts.
// now may be nil (time.Now).
func Sequential(now func() time.Time) Generator {
	if now == nil {
		now = time.Now
	}
	var (
		mu  sync.Mutex
		seq uint64
	)
	return func() string {
		mu.Lock()
		seq++
		n := seq
		mu.Unlock()
		return strconv.FormatInt(now().UnixMilli(), 10) + "-" + strconv.FormatUint(n, 10)
	}
}

// Prefixed prepends prefix to every id of gen, e.g. "snap_".
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}
