// Package webstorage reads and writes one page storage area
// (localStorage or sessionStorage).
package webstorage

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/storewatch/storewatch/change"
)

// Backend is one storage area. Every call is one round trip to the host.
type Backend interface {
	// StorageType names the area.
	StorageType() change.StorageType
	// Read returns the whole area as a snapshot.
	Read(ctx context.Context) (change.Snapshot, error)
	// Items returns the whole area in host iteration order.
	Items(ctx context.Context) ([]change.Item, error)
	// Get returns the value of key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

var (
	// ErrKeyExists is returned by Editor.Add for a key already present.
	ErrKeyExists = errors.New("key already exists")
	// ErrKeyNotFound is returned by Editor.Update and Editor.Delete for a
	// missing key.
	ErrKeyNotFound = errors.New("key not found")
)

// Error is a failed storage operation.
type Error struct {
	Op          string // read, get, set, remove, clear, add, update, delete
	StorageType change.StorageType
	Key         string
	// Thrown is true when the round trip itself failed (CDP error or a JS
	// exception escaping the page script), false when the page script
	// reported the failure or a guard rejected the call.
	Thrown bool
	Err    error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("webstorage: %s %s %q: %v", e.Op, e.StorageType, e.Key, e.Err)
	}
	return fmt.Sprintf("webstorage: %s %s: %v", e.Op, e.StorageType, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Editor guards writes with existence checks: Add refuses to overwrite,
// Update and Delete refuse to create or to remove nothing.
type Editor struct {
	Backend
}

// NewEditor wraps b.
func NewEditor(b Backend) *Editor { return &Editor{Backend: b} }

// Add stores a new key.
func (e *Editor) Add(ctx context.Context, key, value string) error {
	_, ok, err := e.Get(ctx, key)
	if err != nil {
		return err
	}
	if ok {
		return &Error{Op: "add", StorageType: e.StorageType(), Key: key, Err: ErrKeyExists}
	}
	return e.Set(ctx, key, value)
}

// Update replaces the value of an existing key.
func (e *Editor) Update(ctx context.Context, key, value string) error {
	if err := e.mustExist(ctx, "update", key); err != nil {
		return err
	}
	return e.Set(ctx, key, value)
}

// Delete removes an existing key.
func (e *Editor) Delete(ctx context.Context, key string) error {
	if err := e.mustExist(ctx, "delete", key); err != nil {
		return err
	}
	return e.Remove(ctx, key)
}

func (e *Editor) mustExist(ctx context.Context, op, key string) error {
	_, ok, err := e.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return &Error{Op: op, StorageType: e.StorageType(), Key: key, Err: ErrKeyNotFound}
	}
	return nil
}
