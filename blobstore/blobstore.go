// Package blobstore persists JSON-encoded values under string keys.
//
// It is the persistence layer behind the change log, named snapshots and
// search history. Every call is synchronous and a Save fully overwrites
// the previous value stored under the same key.
package blobstore

import "errors"

// Store is a synchronous key to JSON blob store.
type Store interface {
	// Save encodes v as JSON and stores it under key.
	Save(key string, v any) error
	// Load decodes the blob stored under key into v. It reports false,
	// with a nil error, when the key is absent.
	Load(key string, v any) (bool, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
}

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("blobstore: closed")
