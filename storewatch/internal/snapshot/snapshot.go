// Package snapshot keeps named copies of a storage area and restores them.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/storewatch/blobstore"
	"github.com/hazyhaar/storewatch/idgen"
	"github.com/hazyhaar/storewatch/storewatch/change"
	"github.com/hazyhaar/storewatch/storewatch/internal/webstorage"
)

// ErrNotFound is returned for an unknown snapshot id.
var ErrNotFound = errors.New("snapshot: not found")

// BlobKey is the blob store key holding the snapshots of st.
func BlobKey(st change.StorageType) string {
	return "storewatch:snapshots:" + string(st)
}

// Snapshot is a named copy of a storage area.
type Snapshot struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	StorageType change.StorageType `json:"storageType"`
	CreatedAt   int64              `json:"createdAt"` // epoch ms
	Items       []change.Item      `json:"items"`
}

// Summary describes a snapshot without its items.
type Summary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"createdAt"`
	ItemCount int    `json:"itemCount"`
}

// RestoreError reports the restore step that failed. Steps already done
// are not rolled back.
type RestoreError struct {
	Step string // "clear" or "set"
	Key  string // set only
	// Written counts items restored before the failure.
	Written int
	Err     error
}

func (e *RestoreError) Error() string {
	if e.Step == "set" {
		return fmt.Sprintf("snapshot: restore: set %q after %d items: %v", e.Key, e.Written, e.Err)
	}
	return fmt.Sprintf("snapshot: restore: %s: %v", e.Step, e.Err)
}

func (e *RestoreError) Unwrap() error { return e.Err }

// Manager holds the snapshots of one storage type, oldest first.
type Manager struct {
	mu        sync.Mutex
	snapshots []Snapshot

	store  blobstore.Store
	st     change.StorageType
	key    string
	ids    idgen.Generator
	now    func() time.Time
	logger *slog.Logger
}

// Options configures a Manager.
type Options struct {
	IDs    idgen.Generator // default: Prefixed("snap_", UUIDv7)
	Now    func() time.Time
	Logger *slog.Logger
}

// NewManager returns a manager hydrated from store. A missing or
// malformed blob yields no snapshots.
func NewManager(store blobstore.Store, st change.StorageType, opts Options) *Manager {
	if opts.IDs == nil {
		opts.IDs = idgen.Prefixed("snap_", idgen.UUIDv7())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	m := &Manager{
		store:  store,
		st:     st,
		key:    BlobKey(st),
		ids:    opts.IDs,
		now:    opts.Now,
		logger: opts.Logger,
	}
	m.load()
	return m
}

func (m *Manager) load() {
	var raw json.RawMessage
	ok, err := m.store.Load(m.key, &raw)
	if err != nil {
		m.logger.Warn("snapshot: load failed", "key", m.key, "error", err)
		return
	}
	if !ok {
		return
	}
	var snaps []Snapshot
	if err := json.Unmarshal(raw, &snaps); err != nil {
		m.logger.Warn("snapshot: malformed blob", "key", m.key, "error", err)
		return
	}
	m.snapshots = snaps
}

// Create stores a copy of items under name. If the snapshots cannot be
// persisted the new snapshot is dropped and the error returned.
func (m *Manager) Create(name string, items []change.Item) (Snapshot, error) {
	cp := make([]change.Item, len(items))
	copy(cp, items)
	snap := Snapshot{
		ID:          m.ids(),
		Name:        name,
		StorageType: m.st,
		CreatedAt:   m.now().UnixMilli(),
		Items:       cp,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	next := append(m.snapshots[:len(m.snapshots):len(m.snapshots)], snap)
	if err := m.store.Save(m.key, next); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: save: %w", err)
	}
	m.snapshots = next
	return snap, nil
}

// List summarises every snapshot, oldest first.
func (m *Manager) List() []Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Summary, len(m.snapshots))
	for i, s := range m.snapshots {
		out[i] = Summary{ID: s.ID, Name: s.Name, CreatedAt: s.CreatedAt, ItemCount: len(s.Items)}
	}
	return out
}

// Get returns the snapshot with id.
func (m *Manager) Get(id string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.snapshots {
		if s.ID == id {
			return s, nil
		}
	}
	return Snapshot{}, ErrNotFound
}

// Delete removes the snapshot with id.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := make([]Snapshot, 0, len(m.snapshots))
	for _, s := range m.snapshots {
		if s.ID != id {
			next = append(next, s)
		}
	}
	if len(next) == len(m.snapshots) {
		return ErrNotFound
	}
	if err := m.store.Save(m.key, next); err != nil {
		return fmt.Errorf("snapshot: save: %w", err)
	}
	m.snapshots = next
	return nil
}

// Restore clears backend and writes every item of snapshot id in order.
// It stops at the first failing step and returns a *RestoreError.
func (m *Manager) Restore(ctx context.Context, id string, backend webstorage.Backend) error {
	snap, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := backend.Clear(ctx); err != nil {
		return &RestoreError{Step: "clear", Err: err}
	}
	for i, it := range snap.Items {
		if err := backend.Set(ctx, it.Key, it.Value); err != nil {
			return &RestoreError{Step: "set", Key: it.Key, Written: i, Err: err}
		}
	}
	m.logger.Info("snapshot: restored", "id", id, "items", len(snap.Items))
	return nil
}
