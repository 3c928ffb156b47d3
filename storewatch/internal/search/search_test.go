package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/storewatch/blobstore"
	"github.com/hazyhaar/storewatch/storewatch/change"
	"github.com/hazyhaar/storewatch/storewatch/internal/valuetype"
)

var items = []change.Item{
	{Key: "userToken", Value: "abc123"},
	{Key: "profile", Value: `{"name":"Alice","tags":["admin"],"age":30}`},
	{Key: "count", Value: "42"},
	{Key: "flag", Value: "true"},
	{Key: "empty", Value: ""},
}

func keys(in []change.Item) []string {
	out := make([]string, 0, len(in))
	for _, it := range in {
		out = append(out, it.Key)
	}
	return out
}

func TestApply_Keyword(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{"blank matches all", Options{Keyword: "  "}, []string{"userToken", "profile", "count", "flag", "empty"}},
		{"case insensitive both", Options{Keyword: "TOKEN"}, []string{"userToken"}},
		{"case sensitive", Options{Keyword: "TOKEN", CaseSensitive: true}, nil},
		{"value only", Options{Keyword: "alice", In: InValue}, []string{"profile"}},
		{"key only misses values", Options{Keyword: "alice", In: InKey}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(items, tt.opts, Filter{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, nilIfEmpty(keys(got)))
		})
	}
}

func TestApply_Regex(t *testing.T) {
	got, err := Apply(items, Options{Keyword: `^user(?=Tok)`, UseRegex: true}, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"userToken"}, keys(got))

	got, err = Apply(items, Options{Keyword: `^\d+$`, UseRegex: true, In: InValue}, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"count"}, keys(got))

	m, err := Compile(Options{Keyword: `(unclosed`, UseRegex: true}, Filter{})
	require.NoError(t, err)
	assert.False(t, m.Valid())
	assert.False(t, m.Match(items[0]))
}

func TestApply_DeepSearch(t *testing.T) {
	// "admin" sits in a nested array; 30 is a number leaf.
	for _, kw := range []string{"admin", "30"} {
		got, err := Apply(items, Options{Keyword: kw, In: InValue, DeepSearch: true}, Filter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"profile"}, keys(got), kw)
	}

	// Object keys are not leaves.
	got, err := Apply(items, Options{Keyword: "tags", In: InValue, DeepSearch: true}, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"profile"}, keys(got), "falls back to raw text match")
}

func TestApply_DeepSearchLargeNumbers(t *testing.T) {
	in := []change.Item{
		{Key: "counter", Value: `{"hits":1e6,"ratio":123456789}`},
		{Key: "flags", Value: `[false,{"beta":true}]`},
	}
	for kw, want := range map[string]string{"1000000": "counter", "123456789": "counter", "true": "flags"} {
		got, err := Apply(in, Options{Keyword: kw, In: InValue, DeepSearch: true}, Filter{})
		require.NoError(t, err)
		assert.Equal(t, []string{want}, keys(got), kw)
	}
}

func TestApply_Filter(t *testing.T) {
	got, err := Apply(items, Options{}, Filter{Types: []valuetype.Type{valuetype.Number, valuetype.Boolean}})
	require.NoError(t, err)
	assert.Equal(t, []string{"count", "flag"}, keys(got))

	minSize, maxSize := 2, 6
	got, err = Apply(items, Options{}, Filter{MinSize: &minSize, MaxSize: &maxSize})
	require.NoError(t, err)
	assert.Equal(t, []string{"userToken", "count", "flag"}, keys(got))
}

func TestCompile_UnknownScope(t *testing.T) {
	_, err := Compile(Options{Keyword: "x", In: "everywhere"}, Filter{})
	assert.Error(t, err)
}

func TestHistory(t *testing.T) {
	store := blobstore.NewMemory()
	now := func() time.Time { return time.UnixMilli(1000) }
	h := NewHistory(store, nil, now, nil)

	_, ok := h.Record(Options{Keyword: " "}, Filter{}, 0)
	assert.False(t, ok, "blank keyword must not be recorded")

	for i := 0; i < HistoryCap+5; i++ {
		h.Record(Options{Keyword: "k", In: InKey}, Filter{}, i)
	}
	entries := h.Entries()
	require.Len(t, entries, HistoryCap)
	assert.Equal(t, HistoryCap+4, entries[0].ResultCount, "newest first")

	opts, _, ok := h.Replay(entries[3].ID)
	require.True(t, ok)
	assert.Equal(t, InKey, opts.In)

	reloaded := NewHistory(store, nil, now, nil)
	assert.Len(t, reloaded.Entries(), HistoryCap)

	h.Clear()
	assert.Empty(t, h.Entries())
	_, present := store.Raw(HistoryBlobKey)
	assert.False(t, present)
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
