package storewatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/storewatch/storewatch/change"
	"github.com/hazyhaar/storewatch/storewatch/internal/search"
	"github.com/hazyhaar/storewatch/storewatch/internal/webstorage"
)

// Editor errors, matched with errors.Is against the *webstorage.Error the
// edit methods return.
var (
	ErrKeyExists   = webstorage.ErrKeyExists
	ErrKeyNotFound = webstorage.ErrKeyNotFound
)

// ErrUnknownSearch is returned when replaying a search the history does
// not hold.
var ErrUnknownSearch = errors.New("storewatch: unknown search")

// SearchEntry is one remembered search.
type SearchEntry = search.Entry

// AddItem stores a new key in st. An existing key fails with ErrKeyExists.
func (s *Service) AddItem(ctx context.Context, st change.StorageType, key, value string) error {
	a, err := s.Area(st)
	if err != nil {
		return err
	}
	if err := a.Editor.Add(ctx, key, value); err != nil {
		return err
	}
	s.logger.Info("storewatch: item added", "storage", string(st), "key", key)
	return nil
}

// UpdateItem replaces the value of an existing key. A missing key fails
// with ErrKeyNotFound.
func (s *Service) UpdateItem(ctx context.Context, st change.StorageType, key, value string) error {
	a, err := s.Area(st)
	if err != nil {
		return err
	}
	if err := a.Editor.Update(ctx, key, value); err != nil {
		return err
	}
	s.logger.Info("storewatch: item updated", "storage", string(st), "key", key)
	return nil
}

// DeleteItem removes an existing key. A missing key fails with
// ErrKeyNotFound.
func (s *Service) DeleteItem(ctx context.Context, st change.StorageType, key string) error {
	a, err := s.Area(st)
	if err != nil {
		return err
	}
	if err := a.Editor.Delete(ctx, key); err != nil {
		return err
	}
	s.logger.Info("storewatch: item deleted", "storage", string(st), "key", key)
	return nil
}

// SearchHistory returns the remembered searches, newest first.
func (s *Service) SearchHistory() []SearchEntry {
	return s.history.Entries()
}

// ClearSearchHistory forgets every remembered search.
func (s *Service) ClearSearchHistory() {
	s.history.Clear()
}

// ReplaySearch runs remembered search id against st again. The replay is
// not recorded as a new entry.
func (s *Service) ReplaySearch(ctx context.Context, st change.StorageType, id string, mask bool) ([]change.Item, error) {
	opts, filter, ok := s.history.Replay(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSearch, id)
	}
	return s.query(ctx, st, Query{Search: opts, Filter: filter, Mask: mask}, false)
}
