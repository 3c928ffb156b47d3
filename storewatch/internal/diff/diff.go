// Package diff computes the minimal set of key-level events that turn one
// storage snapshot into another.
package diff

import (
	"sort"

	"github.com/hazyhaar/storewatch/storewatch/change"
)

// Event is one key-level difference between two snapshots. OldValue is
// nil for additions, NewValue is nil for removals.
type Event struct {
	Action   change.Action
	Key      string
	OldValue *string
	NewValue *string
}

// Compute returns the events that transform previous into current.
//
// Keys present only in current yield a set with no old value, keys whose
// value changed yield a set carrying both values, and keys missing from
// current yield a remove. Values are compared as exact strings. There is
// at most one event per key. Sets come first, sorted by key, then
// removes, sorted by key.
func Compute(previous, current change.Snapshot) []Event {
	var sets, removes []Event

	for k, v := range current {
		old, ok := previous[k]
		switch {
		case !ok:
			sets = append(sets, Event{Action: change.ActionSet, Key: k, NewValue: change.Str(v)})
		case old != v:
			sets = append(sets, Event{Action: change.ActionSet, Key: k, OldValue: change.Str(old), NewValue: change.Str(v)})
		}
	}
	for k, old := range previous {
		if _, ok := current[k]; !ok {
			removes = append(removes, Event{Action: change.ActionRemove, Key: k, OldValue: change.Str(old)})
		}
	}

	sort.Slice(sets, func(i, j int) bool { return sets[i].Key < sets[j].Key })
	sort.Slice(removes, func(i, j int) bool { return removes[i].Key < removes[j].Key })
	return append(sets, removes...)
}

// Apply replays events on a copy of snapshot and returns the result.
// The input snapshot is not modified.
func Apply(snapshot change.Snapshot, events []Event) change.Snapshot {
	out := snapshot.Clone()
	for _, e := range events {
		switch e.Action {
		case change.ActionSet:
			if e.NewValue != nil {
				out[e.Key] = *e.NewValue
			}
		case change.ActionRemove:
			delete(out, e.Key)
		case change.ActionClear:
			clear(out)
		}
	}
	return out
}
