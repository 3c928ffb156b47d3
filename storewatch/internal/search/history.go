package search

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/storewatch/blobstore"
	"github.com/hazyhaar/storewatch/idgen"
)

// HistoryCap bounds the search history.
const HistoryCap = 20

// HistoryBlobKey is the blob store key of the search history.
const HistoryBlobKey = "storewatch:search-history"

// Entry is one remembered search.
type Entry struct {
	ID          string  `json:"id"`
	Keyword     string  `json:"keyword"`
	Options     Options `json:"searchOptions"`
	Filter      Filter  `json:"filterOptions"`
	Timestamp   int64   `json:"timestamp"`
	ResultCount int     `json:"resultCount"`
}

// History is the newest-first list of past searches, persisted as one
// blob rewritten on every change. Persistence failures are logged.
type History struct {
	mu      sync.Mutex
	entries []Entry

	store  blobstore.Store
	ids    idgen.Generator
	now    func() time.Time
	logger *slog.Logger
}

// NewHistory returns a history hydrated from store. now and ids may be nil.
func NewHistory(store blobstore.Store, ids idgen.Generator, now func() time.Time, logger *slog.Logger) *History {
	if now == nil {
		now = time.Now
	}
	if ids == nil {
		ids = idgen.Sequential(now)
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &History{store: store, ids: ids, now: now, logger: logger}

	var raw json.RawMessage
	ok, err := store.Load(HistoryBlobKey, &raw)
	switch {
	case err != nil:
		logger.Warn("search: load history failed", "error", err)
	case ok:
		if err := json.Unmarshal(raw, &h.entries); err != nil {
			logger.Warn("search: malformed history", "error", err)
			h.entries = nil
		}
	}
	return h
}

// Record remembers a search. Blank keywords are ignored.
func (h *History) Record(opts Options, filter Filter, resultCount int) (Entry, bool) {
	if strings.TrimSpace(opts.Keyword) == "" {
		return Entry{}, false
	}
	e := Entry{
		ID:          h.ids(),
		Keyword:     opts.Keyword,
		Options:     opts,
		Filter:      filter,
		Timestamp:   h.now().UnixMilli(),
		ResultCount: resultCount,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append([]Entry{e}, h.entries...)
	if len(h.entries) > HistoryCap {
		h.entries = h.entries[:HistoryCap]
	}
	if err := h.store.Save(HistoryBlobKey, h.entries); err != nil {
		h.logger.Warn("search: save history failed", "error", err)
	}
	return e, true
}

// Entries returns the history, newest first.
func (h *History) Entries() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Replay returns the query and filter of entry id.
func (h *History) Replay(id string) (Options, Filter, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.entries {
		if e.ID == id {
			return e.Options, e.Filter, true
		}
	}
	return Options{}, Filter{}, false
}

// Clear forgets every entry and deletes the blob.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
	if err := h.store.Delete(HistoryBlobKey); err != nil {
		h.logger.Warn("search: delete history failed", "error", err)
	}
}
