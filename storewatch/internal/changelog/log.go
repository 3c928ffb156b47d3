package changelog

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/hazyhaar/storewatch/blobstore"
	"github.com/hazyhaar/storewatch/storewatch/change"
)

const (
	// DefaultCap bounds the in-memory log.
	DefaultCap = 1000
	// DefaultPersistCap bounds the persisted prefix of the log.
	DefaultPersistCap = 100
)

// BlobKey is the blob store key holding the persisted log of st.
func BlobKey(st change.StorageType) string {
	return "storewatch:changelog:" + string(st)
}

// Options configures a Log.
type Options struct {
	Cap        int // default DefaultCap
	PersistCap int // default DefaultPersistCap, never above Cap
	Logger     *slog.Logger
}

// Log is the newest-first change history of one storage type.
//
// The in-memory slice is authoritative. Every mutation rewrites the whole
// persisted blob; persistence failures are logged and never undo the
// in-memory change.
type Log struct {
	mu      sync.RWMutex
	records []change.Record

	store      blobstore.Store
	key        string
	cap        int
	persistCap int
	logger     *slog.Logger
}

// New returns an empty log. Call Load to hydrate it from store.
func New(store blobstore.Store, st change.StorageType, opts Options) *Log {
	if opts.Cap <= 0 {
		opts.Cap = DefaultCap
	}
	if opts.PersistCap <= 0 {
		opts.PersistCap = DefaultPersistCap
	}
	if opts.PersistCap > opts.Cap {
		opts.PersistCap = opts.Cap
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Log{
		store:      store,
		key:        BlobKey(st),
		cap:        opts.Cap,
		persistCap: opts.PersistCap,
		logger:     opts.Logger,
	}
}

// Load replaces the in-memory log with the persisted one. A missing or
// malformed blob yields an empty log.
func (l *Log) Load() {
	var raw json.RawMessage
	ok, err := l.store.Load(l.key, &raw)

	var records []change.Record
	switch {
	case err != nil:
		l.logger.Warn("changelog: load failed, starting empty", "key", l.key, "error", err)
	case ok:
		records, err = change.UnmarshalRecords(raw)
		if err != nil {
			l.logger.Warn("changelog: malformed blob, starting empty", "key", l.key, "error", err)
			records = nil
		}
	}
	if len(records) > l.cap {
		records = records[:l.cap]
	}

	l.mu.Lock()
	l.records = records
	l.mu.Unlock()
}

// Append prepends records one by one, so the last record of the slice
// ends up first. The log is then truncated to its cap and persisted.
func (l *Log) Append(records []change.Record) {
	if len(records) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	next := make([]change.Record, 0, min(len(records)+len(l.records), l.cap))
	for i := len(records) - 1; i >= 0 && len(next) < l.cap; i-- {
		next = append(next, records[i])
	}
	for _, r := range l.records {
		if len(next) >= l.cap {
			break
		}
		next = append(next, r)
	}
	l.records = next
	l.persistLocked()
}

// Clear empties the log and deletes the persisted blob.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = nil
	if err := l.store.Delete(l.key); err != nil {
		l.logger.Warn("changelog: delete blob failed", "key", l.key, "error", err)
	}
}

// Records returns a copy of the log, newest first.
func (l *Log) Records() []change.Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]change.Record, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of records held in memory.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

func (l *Log) persistLocked() {
	n := min(len(l.records), l.persistCap)
	if err := l.store.Save(l.key, l.records[:n]); err != nil {
		l.logger.Warn("changelog: persist failed", "key", l.key, "error", err)
	}
}

// ChangeFilter selects records. Zero fields match everything.
type ChangeFilter struct {
	Actions []change.Action
	Keyword string // case-insensitive, matched on key, old and new value
	From    int64  // epoch ms, inclusive; 0 = unbounded
	To      int64  // epoch ms, inclusive; 0 = unbounded
}

// Match reports whether r passes the filter.
func (f ChangeFilter) Match(r change.Record) bool {
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if a == r.Action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From > 0 && r.Timestamp < f.From {
		return false
	}
	if f.To > 0 && r.Timestamp > f.To {
		return false
	}
	if f.Keyword != "" {
		kw := strings.ToLower(f.Keyword)
		if !containsFold(r.Key, kw) && !containsFold(r.OldValue, kw) && !containsFold(r.NewValue, kw) {
			return false
		}
	}
	return true
}

// Filter returns the records matching f, newest first.
func (l *Log) Filter(f ChangeFilter) []change.Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []change.Record
	for _, r := range l.records {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

func containsFold(s *string, lowerKw string) bool {
	return s != nil && strings.Contains(strings.ToLower(*s), lowerKw)
}
