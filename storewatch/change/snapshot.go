package change

import "sort"

// Snapshot is one point-in-time read of an entire storage area.
// Treat it as immutable once returned by a reader.
type Snapshot map[string]string

// Item is a single key/value pair, used where read order matters.
type Item struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// SnapshotFromItems builds a Snapshot. Later duplicates win.
func SnapshotFromItems(items []Item) Snapshot {
	s := make(Snapshot, len(items))
	for _, it := range items {
		s[it.Key] = it.Value
	}
	return s
}

// Items returns the snapshot as items sorted by key.
func (s Snapshot) Items() []Item {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	items := make([]Item, len(keys))
	for i, k := range keys {
		items[i] = Item{Key: k, Value: s[k]}
	}
	return items
}

// Clone returns an independent copy.
func (s Snapshot) Clone() Snapshot {
	c := make(Snapshot, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}
