package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hazyhaar/storewatch/blobstore"
	"github.com/hazyhaar/storewatch/storewatch/change"
	"github.com/hazyhaar/storewatch/storewatch/internal/changelog"
	"github.com/hazyhaar/storewatch/storewatch/internal/sink"
	"github.com/hazyhaar/storewatch/storewatch/internal/webstorage"
)

const poll = 20 * time.Millisecond

func newTestMonitor(t *testing.T, area *webstorage.Memory, store blobstore.Store, mutate ...func(*Config)) *Monitor {
	t.Helper()
	cfg := Config{
		PollInterval:     poll,
		DurationInterval: 10 * time.Millisecond,
		HighlightWindow:  time.Hour,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	m := New(area, store, cfg)
	t.Cleanup(func() { m.Close() })
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// settle waits for a few more poll cycles to complete.
func settle(t *testing.T, area *webstorage.Memory) {
	t.Helper()
	n := area.Reads()
	waitFor(t, "more polls", func() bool { return area.Reads() >= n+3 })
}

func strp(p *string) string {
	if p == nil {
		return "<nil>"
	}
	return *p
}

func TestMonitor_DetectsAddition(t *testing.T) {
	area := webstorage.NewMemory(change.Local)
	m := newTestMonitor(t, area, blobstore.NewMemory())
	ctx := context.Background()

	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	area.Set(ctx, "key1", "value1")

	waitFor(t, "one record", func() bool { return len(m.Records()) == 1 })
	settle(t, area)

	recs := m.Records()
	if len(recs) != 1 {
		t.Fatalf("records: got %d, want 1", len(recs))
	}
	r := recs[0]
	if r.Action != change.ActionSet || r.KeyString() != "key1" || r.OldValue != nil || strp(r.NewValue) != "value1" {
		t.Fatalf("got %+v", r)
	}
	if r.StorageType != change.Local {
		t.Errorf("storage type: got %q", r.StorageType)
	}

	st := m.State()
	if !st.IsMonitoring || st.StartTime == nil || st.ChangeCount != 1 {
		t.Errorf("state: got %+v", st)
	}
	if st.LastChangeTime == nil || *st.LastChangeTime != r.Timestamp {
		t.Errorf("last change time: got %v, want %d", st.LastChangeTime, r.Timestamp)
	}
	if !m.IsRecentlyChanged("key1") {
		t.Error("key1 should be highlighted")
	}
}

func TestMonitor_BaselineSuppressionThenUpdate(t *testing.T) {
	area := webstorage.NewMemory(change.Local)
	area.Replace(change.Snapshot{"key1": "value1", "key2": "x", "key3": "y"})
	m := newTestMonitor(t, area, blobstore.NewMemory())
	ctx := context.Background()

	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	settle(t, area)
	if n := len(m.Records()); n != 0 {
		t.Fatalf("pre-existing keys reported: got %d records", n)
	}

	area.Set(ctx, "key1", "value2")
	waitFor(t, "update record", func() bool { return len(m.Records()) == 1 })
	settle(t, area)

	recs := m.Records()
	if len(recs) != 1 {
		t.Fatalf("records: got %d, want 1", len(recs))
	}
	r := recs[0]
	if r.Action != change.ActionSet || r.KeyString() != "key1" || strp(r.OldValue) != "value1" || strp(r.NewValue) != "value2" {
		t.Fatalf("got %+v", r)
	}
}

func TestMonitor_DetectsRemoval(t *testing.T) {
	area := webstorage.NewMemory(change.Session)
	area.Replace(change.Snapshot{"key1": "value1"})
	m := newTestMonitor(t, area, blobstore.NewMemory())
	ctx := context.Background()

	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	area.Remove(ctx, "key1")

	waitFor(t, "remove record", func() bool { return len(m.Records()) == 1 })
	r := m.Records()[0]
	if r.Action != change.ActionRemove || r.KeyString() != "key1" || strp(r.OldValue) != "value1" || r.NewValue != nil {
		t.Fatalf("got %+v", r)
	}
	if r.StorageType != change.Session {
		t.Errorf("storage type: got %q", r.StorageType)
	}
}

func TestMonitor_StartThenStopImmediately(t *testing.T) {
	area := webstorage.NewMemory(change.Local)
	m := newTestMonitor(t, area, blobstore.NewMemory())
	ctx := context.Background()

	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	m.Stop()
	area.Set(ctx, "late", "1")
	time.Sleep(5 * poll)

	if n := len(m.Records()); n != 0 {
		t.Fatalf("records: got %d, want 0", n)
	}
	st := m.State()
	if st.IsMonitoring || st.StartTime != nil || st.ChangeCount != 0 {
		t.Fatalf("state: got %+v", st)
	}
	if m.Duration() != 0 {
		t.Fatalf("duration: got %v, want 0", m.Duration())
	}
}

func TestMonitor_InFlightReadDiscardedAfterStop(t *testing.T) {
	area := webstorage.NewMemory(change.Local)
	m := newTestMonitor(t, area, blobstore.NewMemory())
	ctx := context.Background()

	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	area.SetReadHook(func(context.Context) error {
		// The baseline passes through; the first poll blocks until released,
		// ignoring cancellation like a slow host round trip would.
		if calls.Add(1) == 2 {
			once.Do(func() { close(entered) })
			<-release
		}
		return nil
	})

	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	area.Set(ctx, "k", "v")

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("poll never started")
	}
	m.Stop()
	close(release)
	time.Sleep(5 * poll)

	if n := len(m.Records()); n != 0 {
		t.Fatalf("stale read applied: got %d records", n)
	}
	if m.State().ChangeCount != 0 {
		t.Fatalf("change count: got %d", m.State().ChangeCount)
	}
}

func TestMonitor_BaselineFailureUsesFirstPoll(t *testing.T) {
	area := webstorage.NewMemory(change.Local)
	area.Replace(change.Snapshot{"existing": "1"})
	area.FailOn("read", errors.New("page not ready"))
	m := newTestMonitor(t, area, blobstore.NewMemory())
	ctx := context.Background()

	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if !m.Running() {
		t.Fatal("a failed baseline read must not prevent start")
	}
	time.Sleep(3 * poll)
	area.FailOn("read", nil)
	settle(t, area)

	if n := len(m.Records()); n != 0 {
		t.Fatalf("pre-existing key reported after late baseline: %d records", n)
	}

	area.Set(ctx, "new", "2")
	waitFor(t, "record", func() bool { return len(m.Records()) == 1 })
	if got := m.Records()[0].KeyString(); got != "new" {
		t.Fatalf("key: got %q, want new", got)
	}
}

func TestMonitor_ReadFailuresDoNotStopPolling(t *testing.T) {
	area := webstorage.NewMemory(change.Local)
	m := newTestMonitor(t, area, blobstore.NewMemory())
	ctx := context.Background()

	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	area.FailOn("read", errors.New("target crashed"))
	time.Sleep(4 * poll)
	area.FailOn("read", nil)

	area.Set(ctx, "k", "v")
	waitFor(t, "record after failures", func() bool { return len(m.Records()) == 1 })
}

func TestMonitor_RestartTakesFreshBaseline(t *testing.T) {
	area := webstorage.NewMemory(change.Local)
	m := newTestMonitor(t, area, blobstore.NewMemory())
	ctx := context.Background()

	m.Start(ctx)
	m.Stop()
	area.Set(ctx, "while-idle", "1")

	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	settle(t, area)
	if n := len(m.Records()); n != 0 {
		t.Fatalf("idle mutation reported: %d records", n)
	}
}

func TestMonitor_Guards(t *testing.T) {
	area := webstorage.NewMemory(change.Local)
	m := New(area, blobstore.NewMemory(), Config{PollInterval: poll})
	ctx := context.Background()

	m.Stop() // idle: warning only

	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	start := m.State().StartTime
	if err := m.Start(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if got := m.State().StartTime; got == nil || *got != *start {
		t.Fatal("second start must not reset the start time")
	}

	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if m.Running() {
		t.Fatal("closed monitor still running")
	}
	if err := m.Start(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("start after close: got %v, want ErrClosed", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestMonitor_Duration(t *testing.T) {
	area := webstorage.NewMemory(change.Local)
	m := newTestMonitor(t, area, blobstore.NewMemory())

	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "duration tick", func() bool { return m.Duration() > 0 })
	m.Stop()
	if m.Duration() != 0 {
		t.Fatalf("duration after stop: got %v", m.Duration())
	}
	if got := m.FormattedDuration(); got != "0秒" {
		t.Fatalf("formatted: got %q", got)
	}
}

func TestMonitor_ClearLogAndReload(t *testing.T) {
	store := blobstore.NewMemory()
	area := webstorage.NewMemory(change.Local)
	m := newTestMonitor(t, area, store)
	ctx := context.Background()

	m.Start(ctx)
	area.Set(ctx, "a", "1")
	area.Set(ctx, "b", "2")
	waitFor(t, "records", func() bool { return len(m.Records()) == 2 })

	reloaded := newTestMonitor(t, area, store)
	if n := len(reloaded.Records()); n != 2 {
		t.Fatalf("hydrated records: got %d, want 2", n)
	}

	m.ClearLog()
	if m.State().ChangeCount != 0 || len(m.Records()) != 0 {
		t.Fatalf("after clear: state %+v, %d records", m.State(), len(m.Records()))
	}
	if _, ok := store.Raw(changelog.BlobKey(change.Local)); ok {
		t.Fatal("persisted log should be deleted")
	}
	if n := len(newTestMonitor(t, area, store).Records()); n != 0 {
		t.Fatalf("load after clear: got %d records", n)
	}
}

func TestMonitor_EmitsBatches(t *testing.T) {
	area := webstorage.NewMemory(change.Local)
	batches := make(chan change.Batch, 4)
	cb := sink.NewCallback(func(_ context.Context, b change.Batch) error {
		batches <- b
		return nil
	})
	m := newTestMonitor(t, area, blobstore.NewMemory(), func(c *Config) { c.Sink = cb })
	ctx := context.Background()

	m.Start(ctx)
	area.Replace(change.Snapshot{"a": "1", "b": "2"})

	select {
	case b := <-batches:
		if b.Seq != 1 || b.StorageType != change.Local || len(b.Records) != 2 || b.ID == "" {
			t.Fatalf("batch: got %+v", b)
		}
		if b.Records[0].Timestamp != b.Records[1].Timestamp {
			t.Error("records of one poll must share a timestamp")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no batch emitted")
	}
}

func TestMonitor_SlowSinkDoesNotStallPolling(t *testing.T) {
	area := webstorage.NewMemory(change.Local)
	var sends atomic.Int32
	slow := sink.NewCallback(func(ctx context.Context, _ change.Batch) error {
		sends.Add(1)
		<-ctx.Done()
		return ctx.Err()
	})
	m := newTestMonitor(t, area, blobstore.NewMemory(), func(c *Config) {
		c.Sink = slow
		c.QueueSize = 1
	})
	ctx := context.Background()
	dropped := testutil.ToFloat64(batchesDropped.WithLabelValues(string(change.Local)))

	m.Start(ctx)
	area.Set(ctx, "a", "1")
	waitFor(t, "sink busy", func() bool { return sends.Load() == 1 })

	n := area.Reads()
	for i, v := range []string{"2", "3", "4"} {
		area.Set(ctx, "a", v)
		waitFor(t, "record "+v, func() bool { return len(m.Records()) == i+2 })
	}
	waitFor(t, "polls with a blocked sink", func() bool { return area.Reads() >= n+10 })

	// One batch is held by the sink, one waits in the queue, the rest drop.
	if got := testutil.ToFloat64(batchesDropped.WithLabelValues(string(change.Local))) - dropped; got != 2 {
		t.Errorf("dropped batches: got %v, want 2", got)
	}

	done := make(chan struct{})
	go func() { m.Close(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on the sink")
	}
	if got := sends.Load(); got != 2 {
		t.Errorf("sends: got %d, want 2 (queued batch flushed on Close)", got)
	}
}

func TestMonitor_Export(t *testing.T) {
	fixed := time.Date(2026, 2, 23, 15, 4, 5, 0, time.UTC)
	area := webstorage.NewMemory(change.Local)
	m := newTestMonitor(t, area, blobstore.NewMemory(), func(c *Config) {
		c.Now = func() time.Time { return fixed }
	})

	m.Start(context.Background())
	area.Set(context.Background(), "k", "v")
	waitFor(t, "record", func() bool { return len(m.Records()) == 1 })

	doc := m.Export()
	if doc.Version != ExportVersion {
		t.Errorf("version: got %q", doc.Version)
	}
	if doc.ExportTime != "2026-02-23T15:04:05.000Z" {
		t.Errorf("export time: got %q", doc.ExportTime)
	}
	if !doc.MonitorState.IsMonitoring || len(doc.ChangeLog) != 1 {
		t.Errorf("doc: got %+v", doc)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	var generic map[string]any
	json.Unmarshal(data, &generic)
	for _, k := range []string{"version", "exportTime", "monitorState", "changeLog"} {
		if _, ok := generic[k]; !ok {
			t.Errorf("missing field %q in %s", k, data)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0秒"},
		{999 * time.Millisecond, "0秒"},
		{59 * time.Second, "59秒"},
		{61 * time.Second, "1分钟 1秒"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1小时 2分钟"},
		{25 * time.Hour, "25小时 0分钟"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
