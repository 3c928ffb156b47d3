// Package change defines the structured types emitted by storewatch.
// These are the public API contract: any consumer (HTTP clients, MCP tools,
// sinks, export files) imports this package to read a change history.
package change

import (
	"errors"
	"fmt"
)

// Action is the kind of storage mutation observed.
type Action string

const (
	ActionSet    Action = "set"    // key added or value replaced
	ActionRemove Action = "remove" // key deleted
	ActionClear  Action = "clear"  // whole store cleared, carries no key
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionSet, ActionRemove, ActionClear:
		return true
	}
	return false
}

// StorageType names the page storage area being observed.
type StorageType string

const (
	Local   StorageType = "localStorage"
	Session StorageType = "sessionStorage"
)

// ParseStorageType accepts the canonical names plus the short forms
// "local" / "session".
func ParseStorageType(s string) (StorageType, error) {
	switch s {
	case string(Local), "local":
		return Local, nil
	case string(Session), "session":
		return Session, nil
	}
	return "", fmt.Errorf("change: unknown storage type %q", s)
}

// Record is a single classified change. Immutable once created.
type Record struct {
	ID          string      `json:"id"`
	Action      Action      `json:"action"`
	Key         *string     `json:"key,omitempty"`
	OldValue    *string     `json:"oldValue"`
	NewValue    *string     `json:"newValue"`
	Timestamp   int64       `json:"timestamp"` // epoch milliseconds
	StorageType StorageType `json:"storageType"`
}

var (
	errClearWithKey  = errors.New("change: clear record must not carry a key")
	errMissingKey    = errors.New("change: set/remove record requires a key")
	errUnknownAction = errors.New("change: unknown action")
)

// Validate checks the key invariant: clear has no key, set and remove
// always have one.
func (r Record) Validate() error {
	switch r.Action {
	case ActionClear:
		if r.Key != nil {
			return errClearWithKey
		}
	case ActionSet, ActionRemove:
		if r.Key == nil {
			return errMissingKey
		}
	default:
		return fmt.Errorf("%w %q", errUnknownAction, r.Action)
	}
	return nil
}

// KeyString returns the key or "" for clear records.
func (r Record) KeyString() string {
	if r.Key == nil {
		return ""
	}
	return *r.Key
}

// Str returns a pointer to a copy of s.
func Str(s string) *string { return &s }

// Batch is the unit delivered to sinks: every record produced by one poll
// cycle of one monitor.
type Batch struct {
	ID          string      `json:"id"` // UUIDv7
	StorageType StorageType `json:"storageType"`
	Seq         uint64      `json:"seq"` // monotonically increasing per monitor
	Records     []Record    `json:"records"`
	Timestamp   int64       `json:"timestamp"` // epoch milliseconds at emit
}
