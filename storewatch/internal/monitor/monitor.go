// Package monitor detects external changes to a storage area by polling
// full snapshots and diffing consecutive reads.
//
// A Monitor moves between Idle and Running. Start takes a baseline read
// that is never reported, then runs two repeating tasks: a poll that
// diffs each new read against the previous one, and a duration tick.
// Stop cancels both; a read that completes after Stop is discarded.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/storewatch/blobstore"
	"github.com/hazyhaar/storewatch/idgen"
	"github.com/hazyhaar/storewatch/storewatch/change"
	"github.com/hazyhaar/storewatch/storewatch/internal/changelog"
	"github.com/hazyhaar/storewatch/storewatch/internal/diff"
	"github.com/hazyhaar/storewatch/storewatch/internal/highlight"
	"github.com/hazyhaar/storewatch/storewatch/internal/sink"
	"github.com/hazyhaar/storewatch/storewatch/internal/webstorage"
	"github.com/hazyhaar/storewatch/watch"
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("monitor: closed")

// ExportVersion is the format version of Export documents.
const ExportVersion = "1.0.0"

// Config tunes a Monitor. Zero values take the defaults.
type Config struct {
	PollInterval     time.Duration // default 500ms
	DurationInterval time.Duration // default 1s
	HighlightWindow  time.Duration // default highlight.DefaultWindow
	LogCap           int           // default changelog.DefaultCap
	PersistCap       int           // default changelog.DefaultPersistCap

	// Sink receives one batch per poll cycle that produced records.
	// Batches are delivered from a separate goroutine so a slow sink
	// never delays polling; when QueueSize batches are waiting, new ones
	// are dropped.
	Sink      sink.Sink
	QueueSize int // default 64

	// RecordIDs mints record ids. Default: idgen.Sequential.
	RecordIDs idgen.Generator
	// BatchIDs mints batch ids. Default: idgen.UUIDv7.
	BatchIDs idgen.Generator

	Now    func() time.Time
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.DurationInterval <= 0 {
		c.DurationInterval = time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.BatchIDs == nil {
		c.BatchIDs = idgen.UUIDv7()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Monitor watches one storage area. It is safe for concurrent use.
type Monitor struct {
	cfg        Config
	backend    webstorage.Backend
	st         change.StorageType
	log        *changelog.Log
	classifier *changelog.Classifier
	highlights *highlight.Tracker
	logger     *slog.Logger

	mu             sync.Mutex
	running        bool
	closed         bool
	gen            uint64
	startTime      *int64
	changeCount    int
	lastChangeTime *int64
	duration       time.Duration
	previous       change.Snapshot
	baselineTaken  bool
	seq            uint64
	tasks          []*watch.Task
	cancel         context.CancelFunc

	qmu       sync.Mutex
	queue     chan change.Batch
	qclosed   bool
	delivered chan struct{}
	stopSends context.CancelFunc
}

// New creates an idle monitor over backend and hydrates its change log
// from store.
func New(backend webstorage.Backend, store blobstore.Store, cfg Config) *Monitor {
	cfg.defaults()
	st := backend.StorageType()
	logger := cfg.Logger.With("storage", string(st))

	l := changelog.New(store, st, changelog.Options{
		Cap:        cfg.LogCap,
		PersistCap: cfg.PersistCap,
		Logger:     logger,
	})
	l.Load()

	m := &Monitor{
		cfg:        cfg,
		backend:    backend,
		st:         st,
		log:        l,
		classifier: changelog.NewClassifier(st, cfg.RecordIDs, cfg.Now),
		highlights: highlight.New(cfg.HighlightWindow),
		logger:     logger,
	}
	if cfg.Sink != nil {
		ctx, cancel := context.WithCancel(context.Background())
		m.queue = make(chan change.Batch, cfg.QueueSize)
		m.delivered = make(chan struct{})
		m.stopSends = cancel
		go m.deliver(ctx)
	}
	return m
}

// StorageType returns the observed storage area.
func (m *Monitor) StorageType() change.StorageType { return m.st }

// Start moves the monitor to Running. Starting a running monitor logs a
// warning and does nothing. The baseline read happens before Start
// returns; if it fails, the first successful poll becomes the baseline.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.running {
		m.mu.Unlock()
		m.logger.Warn("monitor: already running")
		return nil
	}

	m.gen++
	gen := m.gen
	now := m.cfg.Now().UnixMilli()
	m.running = true
	m.startTime = &now
	m.changeCount = 0
	m.duration = 0
	m.previous = nil
	m.baselineTaken = false
	m.mu.Unlock()

	m.takeBaseline(ctx, gen)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || m.gen != gen {
		// Stopped while the baseline was being read.
		return nil
	}

	// Tasks outlive the caller's context; only Stop and Close end them.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.tasks = []*watch.Task{
		watch.Start(runCtx, func(ctx context.Context) error { return m.poll(ctx, gen) }, watch.Options{
			Name:     "poll:" + string(m.st),
			Interval: m.cfg.PollInterval,
			Logger:   m.logger,
		}),
		watch.Start(runCtx, func(context.Context) error { m.tick(gen); return nil }, watch.Options{
			Name:     "duration:" + string(m.st),
			Interval: m.cfg.DurationInterval,
			Logger:   m.logger,
		}),
	}
	monitoring.WithLabelValues(string(m.st)).Set(1)
	m.logger.Info("monitor: started", "poll_interval", m.cfg.PollInterval)
	return nil
}

// Stop moves the monitor to Idle. Stopping an idle monitor logs a warning
// and does nothing. Stop does not wait for an in-flight read; its result
// is discarded when it arrives.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		m.logger.Warn("monitor: not running")
		return
	}
	m.stopLocked()
	m.mu.Unlock()
	m.logger.Info("monitor: stopped")
}

// Close stops the monitor, waits for its tasks to exit, hands the queued
// batches to the sink and releases the highlight timers. Queued batches
// are sent with a cancelled context so a retrying sink gives up at once.
// A closed monitor cannot be started again.
func (m *Monitor) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var tasks []*watch.Task
	if m.running {
		tasks = m.stopLocked()
	}
	m.mu.Unlock()

	for _, t := range tasks {
		t.Wait()
	}
	if m.queue != nil {
		m.qmu.Lock()
		m.qclosed = true
		close(m.queue)
		m.qmu.Unlock()
		m.stopSends()
		<-m.delivered
	}
	m.highlights.Close()
	return nil
}

// enqueue hands b to the delivery goroutine without blocking. A full
// queue drops the batch.
func (m *Monitor) enqueue(b change.Batch) {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	if m.qclosed {
		return
	}
	select {
	case m.queue <- b:
	default:
		batchesDropped.WithLabelValues(string(m.st)).Inc()
		m.logger.Warn("monitor: sink queue full, batch dropped", "seq", b.Seq, "records", len(b.Records))
	}
}

func (m *Monitor) deliver(ctx context.Context) {
	defer close(m.delivered)
	for b := range m.queue {
		if err := m.cfg.Sink.Send(ctx, b); err != nil {
			m.logger.Warn("monitor: sink send failed", "seq", b.Seq, "error", err)
		}
	}
}

// stopLocked moves to Idle and cancels the tasks without waiting for
// them. It returns the cancelled tasks.
func (m *Monitor) stopLocked() []*watch.Task {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.running = false
	m.gen++
	m.startTime = nil
	m.previous = nil
	m.baselineTaken = false
	m.duration = 0
	tasks := m.tasks
	m.tasks = nil
	monitoring.WithLabelValues(string(m.st)).Set(0)
	return tasks
}

func (m *Monitor) takeBaseline(ctx context.Context, gen uint64) {
	snap, err := m.backend.Read(ctx)
	if err != nil {
		m.logger.Warn("monitor: baseline read failed, first poll becomes baseline", "error", err)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running && m.gen == gen && !m.baselineTaken {
		m.previous = snap
		m.baselineTaken = true
		m.logger.Debug("monitor: baseline taken", "items", len(snap))
	}
}

// poll runs one cycle. A read error is returned so the task counts it;
// the loop itself keeps going.
func (m *Monitor) poll(ctx context.Context, gen uint64) error {
	storage := string(m.st)
	start := time.Now()
	snap, err := m.backend.Read(ctx)
	pollDuration.WithLabelValues(storage).Observe(time.Since(start).Seconds())
	if err != nil {
		pollsTotal.WithLabelValues(storage, "read_error").Inc()
		return err
	}

	m.mu.Lock()
	if !m.running || m.gen != gen {
		m.mu.Unlock()
		pollsTotal.WithLabelValues(storage, "discarded").Inc()
		return nil
	}
	if !m.baselineTaken {
		m.previous = snap
		m.baselineTaken = true
		m.mu.Unlock()
		pollsTotal.WithLabelValues(storage, "applied").Inc()
		return nil
	}

	records := m.classifier.Classify(diff.Compute(m.previous, snap))
	m.previous = snap
	if len(records) > 0 {
		m.log.Append(records)
		m.changeCount += len(records)
		last := records[len(records)-1].Timestamp
		m.lastChangeTime = &last
		for _, r := range records {
			m.highlights.Mark(r.KeyString())
			recordsTotal.WithLabelValues(storage, string(r.Action)).Inc()
		}
	}
	var batch *change.Batch
	if len(records) > 0 && m.cfg.Sink != nil {
		m.seq++
		batch = &change.Batch{
			ID:          m.cfg.BatchIDs(),
			StorageType: m.st,
			Seq:         m.seq,
			Records:     records,
			Timestamp:   m.cfg.Now().UnixMilli(),
		}
	}
	m.mu.Unlock()
	pollsTotal.WithLabelValues(storage, "applied").Inc()

	if batch != nil {
		m.enqueue(*batch)
	}
	return nil
}

func (m *Monitor) tick(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running && m.gen == gen && m.startTime != nil {
		m.duration = time.Duration(m.cfg.Now().UnixMilli()-*m.startTime) * time.Millisecond
	}
}

// State returns the current monitor state.
func (m *Monitor) State() change.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return change.State{
		IsMonitoring:   m.running,
		StartTime:      copyInt64(m.startTime),
		ChangeCount:    m.changeCount,
		LastChangeTime: copyInt64(m.lastChangeTime),
	}
}

// Running reports whether the monitor is in the Running state.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Records returns the change log, newest first.
func (m *Monitor) Records() []change.Record { return m.log.Records() }

// Filter returns the change log entries matching f, newest first.
func (m *Monitor) Filter(f changelog.ChangeFilter) []change.Record { return m.log.Filter(f) }

// Duration returns the elapsed running time as of the last duration tick.
// It is zero while idle.
func (m *Monitor) Duration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duration
}

// FormattedDuration is FormatDuration(Duration()).
func (m *Monitor) FormattedDuration() string { return FormatDuration(m.Duration()) }

// IsRecentlyChanged reports whether key changed within the highlight window.
func (m *Monitor) IsRecentlyChanged(key string) bool { return m.highlights.IsRecent(key) }

// ClearLog empties the change log, deletes its persisted copy and resets
// the change count.
func (m *Monitor) ClearLog() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log.Clear()
	m.changeCount = 0
}

// Export is the change log export document.
type Export struct {
	Version      string          `json:"version"`
	ExportTime   string          `json:"exportTime"` // RFC 3339, UTC, millisecond precision
	MonitorState change.State    `json:"monitorState"`
	ChangeLog    []change.Record `json:"changeLog"`
}

// Export returns the change log export document.
func (m *Monitor) Export() Export {
	return Export{
		Version:      ExportVersion,
		ExportTime:   m.cfg.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		MonitorState: m.State(),
		ChangeLog:    m.log.Records(),
	}
}

func copyInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
