package storewatch

import (
	"context"
	"errors"
	"testing"

	"github.com/hazyhaar/storewatch/storewatch/change"
	"github.com/hazyhaar/storewatch/storewatch/internal/search"
	"github.com/hazyhaar/storewatch/storewatch/internal/webstorage"
)

func TestService_EditItems(t *testing.T) {
	svc, local, _ := testService(t)
	ctx := context.Background()

	if err := svc.AddItem(ctx, change.Local, "theme", "dark"); err != nil {
		t.Fatal(err)
	}
	if err := svc.AddItem(ctx, change.Local, "theme", "light"); !errors.Is(err, ErrKeyExists) {
		t.Fatalf("add existing: got %v, want ErrKeyExists", err)
	}
	if err := svc.UpdateItem(ctx, change.Local, "theme", "light"); err != nil {
		t.Fatal(err)
	}
	if v, _, _ := local.Get(ctx, "theme"); v != "light" {
		t.Errorf("theme = %q, want light", v)
	}
	if err := svc.UpdateItem(ctx, change.Local, "missing", "x"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("update missing: got %v, want ErrKeyNotFound", err)
	}
	if err := svc.DeleteItem(ctx, change.Local, "theme"); err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteItem(ctx, change.Local, "theme"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("delete twice: got %v, want ErrKeyNotFound", err)
	}
	if err := svc.AddItem(ctx, "indexedDB", "k", "v"); !errors.Is(err, ErrUnknownStorage) {
		t.Fatalf("unknown storage: got %v", err)
	}
}

func TestService_EditWriteFailure(t *testing.T) {
	svc, local, _ := testService(t)
	ctx := context.Background()
	local.FailOn("set", errors.New("quota exceeded"))

	err := svc.AddItem(ctx, change.Local, "k", "v")
	var werr *webstorage.Error
	if !errors.As(err, &werr) {
		t.Fatalf("got %v, want *webstorage.Error", err)
	}
	if _, ok, _ := local.Get(ctx, "k"); ok {
		t.Error("failed add must not store the key")
	}
}

func TestService_SearchHistoryReplay(t *testing.T) {
	svc, local, _ := testService(t)
	ctx := context.Background()
	local.Set(ctx, "contact", "alice@example.com")
	local.Set(ctx, "theme", "dark")

	if _, err := svc.Items(ctx, change.Local, Query{Search: search.Options{Keyword: "example", In: search.InValue}}); err != nil {
		t.Fatal(err)
	}
	hist := svc.SearchHistory()
	if len(hist) != 1 {
		t.Fatalf("history = %+v", hist)
	}

	local.Set(ctx, "backup", "bob@example.com")
	items, err := svc.ReplaySearch(ctx, change.Local, hist[0].ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("replay = %+v, want 2 items", items)
	}
	for _, it := range items {
		if it.Value == "alice@example.com" || it.Value == "bob@example.com" {
			t.Errorf("%s not masked: %q", it.Key, it.Value)
		}
	}
	if n := len(svc.SearchHistory()); n != 1 {
		t.Errorf("replay recorded a new entry: %d entries", n)
	}

	if _, err := svc.ReplaySearch(ctx, change.Local, "nope", false); !errors.Is(err, ErrUnknownSearch) {
		t.Fatalf("unknown id: got %v", err)
	}

	svc.ClearSearchHistory()
	if n := len(svc.SearchHistory()); n != 0 {
		t.Errorf("after clear: %d entries", n)
	}
}
