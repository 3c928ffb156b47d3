package storewatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/storewatch/blobstore"
	"github.com/hazyhaar/storewatch/storewatch/change"
	"github.com/hazyhaar/storewatch/storewatch/internal/search"
	"github.com/hazyhaar/storewatch/storewatch/internal/transfer"
	"github.com/hazyhaar/storewatch/storewatch/internal/webstorage"
)

type batchCollector struct {
	mu      sync.Mutex
	batches []change.Batch
}

func (c *batchCollector) sink() Sink {
	return NewCallbackSink(func(_ context.Context, b change.Batch) error {
		c.mu.Lock()
		c.batches = append(c.batches, b)
		c.mu.Unlock()
		return nil
	})
}

func (c *batchCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

// testService returns a service over two in-memory areas polled every 10ms.
func testService(t *testing.T, sinks ...Sink) (*Service, *webstorage.Memory, *webstorage.Memory) {
	t.Helper()
	local := webstorage.NewMemory(change.Local)
	session := webstorage.NewMemory(change.Session)
	svc := New([]webstorage.Backend{local, session}, Options{
		Store: blobstore.NewMemory(),
		Monitor: MonitorConfig{
			PollInterval:     10 * time.Millisecond,
			DurationInterval: 10 * time.Millisecond,
		},
		Sinks: sinks,
	})
	t.Cleanup(func() { svc.Close() })
	return svc, local, session
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func TestService_MonitorEmitsBatches(t *testing.T) {
	var col batchCollector
	svc, local, _ := testService(t, col.sink())
	ctx := context.Background()

	local.Set(ctx, "theme", "light")
	if err := svc.Start(ctx, change.Local); err != nil {
		t.Fatalf("Start: %v", err)
	}
	local.Set(ctx, "theme", "dark")

	waitFor(t, func() bool { return col.count() > 0 })

	m, _ := svc.Monitor(change.Local)
	recs := m.Records()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if recs[0].Action != change.ActionSet || *recs[0].OldValue != "light" || *recs[0].NewValue != "dark" {
		t.Errorf("record = %+v", recs[0])
	}

	status, err := svc.Status(change.Local)
	if err != nil {
		t.Fatal(err)
	}
	if !status.IsMonitoring || status.ChangeCount != 1 {
		t.Errorf("status = %+v", status)
	}

	if err := svc.Stop(change.Local); err != nil {
		t.Fatal(err)
	}
	if st, _ := svc.Status(change.Local); st.IsMonitoring {
		t.Error("still monitoring after Stop")
	}
}

func TestService_UnknownStorage(t *testing.T) {
	local := webstorage.NewMemory(change.Local)
	svc := New([]webstorage.Backend{local}, Options{})
	defer svc.Close()

	if _, err := svc.Area(change.Session); !errors.Is(err, ErrUnknownStorage) {
		t.Errorf("Area(session) err = %v, want ErrUnknownStorage", err)
	}
	if err := svc.Start(context.Background(), change.Session); !errors.Is(err, ErrUnknownStorage) {
		t.Errorf("Start(session) err = %v, want ErrUnknownStorage", err)
	}
	if got := svc.StorageTypes(); len(got) != 1 || got[0] != change.Local {
		t.Errorf("StorageTypes = %v", got)
	}
}

func TestService_ItemsSearchAndMask(t *testing.T) {
	svc, local, _ := testService(t)
	ctx := context.Background()
	local.Set(ctx, "user_token", "abc")
	local.Set(ctx, "contact", "alice@example.com")
	local.Set(ctx, "profile", `{"password":"x","mail":"bob@example.com"}`)
	local.Set(ctx, "theme", "dark")

	items, err := svc.Items(ctx, change.Local, Query{Mask: true})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"contact":    "a***@example.com",
		"profile":    `{"mail":"b***@example.com","password":"********"}`,
		"theme":      "dark",
		"user_token": "********",
	}
	if len(items) != len(want) {
		t.Fatalf("items = %d, want %d", len(items), len(want))
	}
	for _, it := range items {
		if it.Value != want[it.Key] {
			t.Errorf("%s = %q, want %q", it.Key, it.Value, want[it.Key])
		}
	}

	items, err = svc.Items(ctx, change.Local, Query{Search: search.Options{Keyword: "THEME", In: search.InKey}})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Value != "dark" {
		t.Errorf("search = %+v", items)
	}
	if h := svc.History().Entries(); len(h) != 1 || h[0].Keyword != "THEME" || h[0].ResultCount != 1 {
		t.Errorf("history = %+v", h)
	}
}

func TestService_Stats(t *testing.T) {
	svc, local, _ := testService(t)
	ctx := context.Background()
	local.Set(ctx, "a", "12")
	local.Set(ctx, "b", `{"x":1}`)

	st, err := svc.Stats(ctx, change.Local)
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalItems != 2 || st.TotalSize != 9 {
		t.Errorf("stats = %+v", st)
	}
}

func TestService_ExportImport(t *testing.T) {
	svc, local, session := testService(t)
	ctx := context.Background()
	local.Set(ctx, "a", "1")
	local.Set(ctx, "b", "two")

	data, err := svc.Export(ctx, change.Local, transfer.FormatJSON, transfer.ExportOptions{IncludeMetadata: true})
	if err != nil {
		t.Fatal(err)
	}

	res, err := svc.Import(ctx, change.Session, data, transfer.ImportOptions{Mode: transfer.Merge}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success != 2 || res.Failed != 0 {
		t.Errorf("result = %+v", res)
	}
	if v, ok, _ := session.Get(ctx, "b"); !ok || v != "two" {
		t.Errorf("session b = %q, %v", v, ok)
	}
}

func TestService_SnapshotRestore(t *testing.T) {
	svc, local, _ := testService(t)
	ctx := context.Background()
	local.Set(ctx, "a", "1")

	snap, err := svc.CreateSnapshot(ctx, change.Local, "before")
	if err != nil {
		t.Fatal(err)
	}
	local.Set(ctx, "a", "changed")
	local.Set(ctx, "extra", "x")

	if err := svc.RestoreSnapshot(ctx, change.Local, snap.ID); err != nil {
		t.Fatal(err)
	}
	items, _ := local.Items(ctx)
	if len(items) != 1 || items[0].Key != "a" || items[0].Value != "1" {
		t.Errorf("items after restore = %+v", items)
	}
}

func TestService_CloseIdempotent(t *testing.T) {
	svc, _, _ := testService(t)
	if err := svc.Close(); err != nil {
		t.Fatal(err)
	}
	if err := svc.Close(); err != nil {
		t.Fatal(err)
	}
	if err := svc.Start(context.Background(), change.Local); err == nil {
		t.Error("Start after Close should fail")
	}
}

func TestMaskItem(t *testing.T) {
	it := MaskItem(change.Item{Key: "list", Value: `["carol@example.com", 3]`})
	if it.Value != `["c***@example.com",3]` {
		t.Errorf("masked = %q", it.Value)
	}
}
