// Package storewatch observes the localStorage and sessionStorage of a
// page and records every change as structured, timestamped records.
//
// A Service owns one Area per storage type: the backend reading the page,
// a polling monitor with its change log, and the snapshots taken of that
// area. Change batches fan out to sinks (stdout, webhook, websocket feed,
// in-process callback). Persistence goes through a blobstore.Store.
package storewatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/storewatch/blobstore"
	"github.com/hazyhaar/storewatch/storewatch/change"
	"github.com/hazyhaar/storewatch/storewatch/internal/monitor"
	"github.com/hazyhaar/storewatch/storewatch/internal/search"
	"github.com/hazyhaar/storewatch/storewatch/internal/sensitive"
	"github.com/hazyhaar/storewatch/storewatch/internal/sink"
	"github.com/hazyhaar/storewatch/storewatch/internal/snapshot"
	"github.com/hazyhaar/storewatch/storewatch/internal/stats"
	"github.com/hazyhaar/storewatch/storewatch/internal/transfer"
	"github.com/hazyhaar/storewatch/storewatch/internal/webstorage"
)

// ErrUnknownStorage is returned for a storage type the service does not
// observe.
var ErrUnknownStorage = errors.New("storewatch: storage type not observed")

// Options configures a Service.
type Options struct {
	// Store persists change logs, snapshots and search history.
	// Default: in-memory.
	Store   blobstore.Store
	Monitor MonitorConfig
	Sinks   []Sink
	Now     func() time.Time
	Logger  *slog.Logger
}

// Area bundles everything attached to one storage area.
type Area struct {
	Backend   webstorage.Backend
	Editor    *webstorage.Editor
	Monitor   *monitor.Monitor
	Snapshots *snapshot.Manager
}

// Service is the top-level orchestrator. It is safe for concurrent use.
type Service struct {
	areas   map[change.StorageType]*Area
	order   []change.StorageType
	store   blobstore.Store
	sinkR   *sink.Router
	history *search.History
	logger  *slog.Logger

	mu      sync.Mutex
	closers []io.Closer
	closed  bool
}

// New builds a Service over backends. Monitors start idle.
func New(backends []webstorage.Backend, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Store == nil {
		opts.Store = blobstore.NewMemory()
	}

	s := &Service{
		areas:   make(map[change.StorageType]*Area, len(backends)),
		store:   opts.Store,
		sinkR:   sink.NewRouter(opts.Logger, opts.Sinks...),
		history: search.NewHistory(opts.Store, nil, opts.Now, opts.Logger),
		logger:  opts.Logger,
	}

	for _, b := range backends {
		st := b.StorageType()
		if _, dup := s.areas[st]; dup {
			s.logger.Warn("storewatch: duplicate backend ignored", "storage", string(st))
			continue
		}
		s.areas[st] = &Area{
			Backend: b,
			Editor:  webstorage.NewEditor(b),
			Monitor: monitor.New(b, opts.Store, monitor.Config{
				PollInterval:     opts.Monitor.PollInterval,
				DurationInterval: opts.Monitor.DurationInterval,
				HighlightWindow:  opts.Monitor.HighlightWindow,
				LogCap:           opts.Monitor.LogCap,
				PersistCap:       opts.Monitor.PersistCap,
				Sink:             s.sinkR,
				Now:              opts.Now,
				Logger:           opts.Logger,
			}),
			Snapshots: snapshot.NewManager(opts.Store, st, snapshot.Options{
				Now:    opts.Now,
				Logger: opts.Logger,
			}),
		}
		s.order = append(s.order, st)
	}
	return s
}

// StorageTypes returns the observed areas in registration order.
func (s *Service) StorageTypes() []change.StorageType {
	out := make([]change.StorageType, len(s.order))
	copy(out, s.order)
	return out
}

// Area returns the area of st.
func (s *Service) Area(st change.StorageType) (*Area, error) {
	a, ok := s.areas[st]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStorage, st)
	}
	return a, nil
}

// Monitor returns the monitor of st.
func (s *Service) Monitor(st change.StorageType) (*monitor.Monitor, error) {
	a, err := s.Area(st)
	if err != nil {
		return nil, err
	}
	return a.Monitor, nil
}

// AddSink registers another sink. Safe while monitors run.
func (s *Service) AddSink(sk Sink) { s.sinkR.Add(sk) }

// History returns the search history.
func (s *Service) History() *search.History { return s.history }

// Start starts the monitor of st.
func (s *Service) Start(ctx context.Context, st change.StorageType) error {
	m, err := s.Monitor(st)
	if err != nil {
		return err
	}
	return m.Start(ctx)
}

// Stop stops the monitor of st.
func (s *Service) Stop(st change.StorageType) error {
	m, err := s.Monitor(st)
	if err != nil {
		return err
	}
	m.Stop()
	return nil
}

// StartAll starts every monitor. Failures are joined.
func (s *Service) StartAll(ctx context.Context) error {
	var errs []error
	for _, st := range s.order {
		if err := s.areas[st].Monitor.Start(ctx); err != nil {
			errs = append(errs, fmt.Errorf("storewatch: start %s: %w", st, err))
		}
	}
	return errors.Join(errs...)
}

// Status is the state of one monitor with its running duration.
type Status struct {
	StorageType change.StorageType `json:"storageType"`
	change.State
	DurationMs        int64  `json:"durationMs"`
	FormattedDuration string `json:"formattedDuration"`
}

// Status returns the status of the monitor of st.
func (s *Service) Status(st change.StorageType) (Status, error) {
	m, err := s.Monitor(st)
	if err != nil {
		return Status{}, err
	}
	return Status{
		StorageType:       st,
		State:             m.State(),
		DurationMs:        m.Duration().Milliseconds(),
		FormattedDuration: m.FormattedDuration(),
	}, nil
}

// Statuses returns the status of every monitor in registration order.
func (s *Service) Statuses() []Status {
	out := make([]Status, 0, len(s.order))
	for _, st := range s.order {
		status, _ := s.Status(st)
		out = append(out, status)
	}
	return out
}

// Query selects items of an area.
type Query struct {
	Search search.Options
	Filter search.Filter
	// Mask hides sensitive values in the result.
	Mask bool
}

// Items reads st, applies q and records non-blank searches in the history.
func (s *Service) Items(ctx context.Context, st change.StorageType, q Query) ([]change.Item, error) {
	return s.query(ctx, st, q, true)
}

func (s *Service) query(ctx context.Context, st change.StorageType, q Query, record bool) ([]change.Item, error) {
	a, err := s.Area(st)
	if err != nil {
		return nil, err
	}
	items, err := a.Backend.Items(ctx)
	if err != nil {
		return nil, err
	}
	out, err := search.Apply(items, q.Search, q.Filter)
	if err != nil {
		return nil, err
	}
	if record {
		s.history.Record(q.Search, q.Filter, len(out))
	}
	if q.Mask {
		for i := range out {
			out[i] = MaskItem(out[i])
		}
	}
	return out, nil
}

// MaskItem hides sensitive data in it. A sensitive key hides the whole
// value; JSON values are masked member by member.
func MaskItem(it change.Item) change.Item {
	if sensitive.IsSensitiveKey(it.Key) {
		it.Value = sensitive.Mask(it.Value, sensitive.Password)
		return it
	}
	var v any
	if len(it.Value) > 0 && (it.Value[0] == '{' || it.Value[0] == '[') && json.Unmarshal([]byte(it.Value), &v) == nil {
		if data, err := json.Marshal(sensitive.MaskObject(v)); err == nil {
			it.Value = string(data)
			return it
		}
	}
	it.Value = sensitive.MaskValue(it.Value)
	return it
}

// Stats reads st and computes its statistics.
func (s *Service) Stats(ctx context.Context, st change.StorageType) (change.Stats, error) {
	a, err := s.Area(st)
	if err != nil {
		return change.Stats{}, err
	}
	items, err := a.Backend.Items(ctx)
	if err != nil {
		return change.Stats{}, err
	}
	return stats.Compute(items), nil
}

// Export reads st and encodes it in format f.
func (s *Service) Export(ctx context.Context, st change.StorageType, f transfer.Format, opts transfer.ExportOptions) ([]byte, error) {
	a, err := s.Area(st)
	if err != nil {
		return nil, err
	}
	items, err := a.Backend.Items(ctx)
	if err != nil {
		return nil, err
	}
	return transfer.Export(f, items, st, opts)
}

// Import parses data and writes its items into st.
func (s *Service) Import(ctx context.Context, st change.StorageType, data []byte, opts transfer.ImportOptions, progress func(percent int)) (transfer.Result, error) {
	items, err := transfer.ParseImport(data)
	if err != nil {
		return transfer.Result{}, err
	}
	return s.ImportItems(ctx, st, items, opts, progress)
}

// ImportItems writes items into st.
func (s *Service) ImportItems(ctx context.Context, st change.StorageType, items []change.Item, opts transfer.ImportOptions, progress func(percent int)) (transfer.Result, error) {
	a, err := s.Area(st)
	if err != nil {
		return transfer.Result{}, err
	}
	res, err := transfer.Import(ctx, a.Backend, items, opts, progress)
	if err == nil {
		s.logger.Info("storewatch: import done", "storage", string(st),
			"success", res.Success, "skipped", res.Skipped, "failed", res.Failed)
	}
	return res, err
}

// CreateSnapshot reads st and stores it under name.
func (s *Service) CreateSnapshot(ctx context.Context, st change.StorageType, name string) (snapshot.Snapshot, error) {
	a, err := s.Area(st)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	items, err := a.Backend.Items(ctx)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	return a.Snapshots.Create(name, items)
}

// RestoreSnapshot replaces the content of st with snapshot id.
func (s *Service) RestoreSnapshot(ctx context.Context, st change.StorageType, id string) error {
	a, err := s.Area(st)
	if err != nil {
		return err
	}
	return a.Snapshots.Restore(ctx, id, a.Backend)
}

// Close closes every monitor, the sinks, then the resources the service
// was opened with (browser, store), in that order.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	var errs []error
	for _, st := range s.order {
		if err := s.areas[st].Monitor.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.sinkR.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) addCloser(c io.Closer) {
	s.mu.Lock()
	s.closers = append(s.closers, c)
	s.mu.Unlock()
}
