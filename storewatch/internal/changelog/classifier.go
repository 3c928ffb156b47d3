// Package changelog turns diff events into change records and keeps the
// bounded, persisted, newest-first history of them.
package changelog

import (
	"time"

	"github.com/hazyhaar/storewatch/idgen"
	"github.com/hazyhaar/storewatch/storewatch/change"
	"github.com/hazyhaar/storewatch/storewatch/internal/diff"
)

// Classifier stamps diff events with an id, a timestamp and the storage
// type being observed.
type Classifier struct {
	storageType change.StorageType
	ids         idgen.Generator
	now         func() time.Time
}

// NewClassifier returns a Classifier. ids defaults to idgen.Sequential and
// now to time.Now.
func NewClassifier(st change.StorageType, ids idgen.Generator, now func() time.Time) *Classifier {
	if now == nil {
		now = time.Now
	}
	if ids == nil {
		ids = idgen.Sequential(now)
	}
	return &Classifier{storageType: st, ids: ids, now: now}
}

// Classify converts events into records. All records of one call share
// the same timestamp. Events keep their order.
func (c *Classifier) Classify(events []diff.Event) []change.Record {
	if len(events) == 0 {
		return nil
	}
	ts := c.now().UnixMilli()
	out := make([]change.Record, 0, len(events))
	for _, e := range events {
		out = append(out, change.Record{
			ID:          c.ids(),
			Action:      e.Action,
			Key:         change.Str(e.Key),
			OldValue:    e.OldValue,
			NewValue:    e.NewValue,
			Timestamp:   ts,
			StorageType: c.storageType,
		})
	}
	return out
}
