package blobstore

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/storewatch/dbopen"
)

type payload struct {
	Name  string   `json:"name"`
	Items []string `json:"items"`
}

func backends(t *testing.T) map[string]Store {
	t.Helper()

	sq, err := NewSQLite(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}

	bg, err := OpenBadger("")
	if err != nil {
		t.Fatalf("badger: %v", err)
	}
	t.Cleanup(func() { bg.Close() })

	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
		"badger": bg,
	}
}

func TestStore_SaveLoadDelete(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var got payload
			ok, err := st.Load("missing", &got)
			if err != nil || ok {
				t.Fatalf("load missing: ok=%v err=%v", ok, err)
			}

			if err := st.Save("k", payload{Name: "a", Items: []string{"x"}}); err != nil {
				t.Fatalf("save: %v", err)
			}
			if err := st.Save("k", payload{Name: "b", Items: []string{"y", "z"}}); err != nil {
				t.Fatalf("overwrite: %v", err)
			}

			ok, err = st.Load("k", &got)
			if err != nil || !ok {
				t.Fatalf("load: ok=%v err=%v", ok, err)
			}
			if got.Name != "b" || len(got.Items) != 2 {
				t.Errorf("got %+v, want overwritten value", got)
			}

			if err := st.Delete("k"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if err := st.Delete("k"); err != nil {
				t.Fatalf("delete twice: %v", err)
			}
			ok, err = st.Load("k", &got)
			if err != nil || ok {
				t.Fatalf("load after delete: ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestMemory_MalformedBlob(t *testing.T) {
	m := NewMemory()
	m.SetRaw("k", []byte("{not json"))

	var got payload
	ok, err := m.Load("k", &got)
	if !ok {
		t.Fatal("expected key to be reported present")
	}
	if err == nil {
		t.Fatal("expected unmarshal error")
	}
}

func TestMemory_FailSave(t *testing.T) {
	m := NewMemory()
	boom := errors.New("disk full")
	m.FailSave = boom
	if err := m.Save("k", 1); !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}
	if _, ok := m.Raw("k"); ok {
		t.Fatal("failed save must not store anything")
	}
}

func TestOpen_Drivers(t *testing.T) {
	dir := t.TempDir()

	st, closer, err := Open("sqlite", filepath.Join(dir, "sub", "blobs.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := st.Save("k", "v"); err != nil {
		t.Fatalf("save: %v", err)
	}
	var v string
	if ok, err := st.Load("k", &v); !ok || err != nil || v != "v" {
		t.Fatalf("load: ok=%v err=%v v=%q", ok, err, v)
	}
	closer.Close()

	if _, _, err := Open("etcd", ""); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
