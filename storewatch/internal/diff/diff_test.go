package diff

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/storewatch/storewatch/change"
)

func TestCompute_AddChangeRemove(t *testing.T) {
	prev := change.Snapshot{"a": "1", "b": "2", "c": "3"}
	cur := change.Snapshot{"a": "1", "b": "20", "d": "4"}

	events := Compute(prev, cur)
	require.Len(t, events, 3)

	assert.Equal(t, Event{Action: change.ActionSet, Key: "b", OldValue: change.Str("2"), NewValue: change.Str("20")}, events[0])
	assert.Equal(t, Event{Action: change.ActionSet, Key: "d", NewValue: change.Str("4")}, events[1])
	assert.Equal(t, Event{Action: change.ActionRemove, Key: "c", OldValue: change.Str("3")}, events[2])
}

func TestCompute_Identical(t *testing.T) {
	s := change.Snapshot{"x": "1", "y": ""}
	assert.Empty(t, Compute(s, s.Clone()))
	assert.Empty(t, Compute(change.Snapshot{}, change.Snapshot{}))
}

func TestCompute_EmptyStringIsAValue(t *testing.T) {
	events := Compute(change.Snapshot{}, change.Snapshot{"k": ""})
	require.Len(t, events, 1)
	assert.Equal(t, change.ActionSet, events[0].Action)
	assert.Nil(t, events[0].OldValue)
	require.NotNil(t, events[0].NewValue)
	assert.Equal(t, "", *events[0].NewValue)

	events = Compute(change.Snapshot{"k": ""}, change.Snapshot{"k": "v"})
	require.Len(t, events, 1)
	assert.Equal(t, "", *events[0].OldValue)
}

func TestCompute_ExactStringComparison(t *testing.T) {
	events := Compute(change.Snapshot{"k": `{"a":1}`}, change.Snapshot{"k": `{"a": 1}`})
	assert.Len(t, events, 1)
}

func TestCompute_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		prev := randomSnapshot(rng)
		cur := randomSnapshot(rng)
		events := Compute(prev, cur)

		assert.Equal(t, cur, Apply(prev, events), "reconstruction, round %d", i)

		seen := map[string]bool{}
		for _, e := range events {
			require.False(t, seen[e.Key], "duplicate key %q", e.Key)
			seen[e.Key] = true

			switch e.Action {
			case change.ActionSet:
				require.NotNil(t, e.NewValue)
				_, had := prev[e.Key]
				assert.Equal(t, had, e.OldValue != nil)
			case change.ActionRemove:
				assert.Nil(t, e.NewValue)
				require.NotNil(t, e.OldValue)
				assert.Equal(t, prev[e.Key], *e.OldValue)
			default:
				t.Fatalf("unexpected action %q", e.Action)
			}
		}
	}
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	prev := change.Snapshot{"a": "1"}
	out := Apply(prev, []Event{{Action: change.ActionRemove, Key: "a", OldValue: change.Str("1")}})
	assert.Empty(t, out)
	assert.Equal(t, "1", prev["a"])
}

func randomSnapshot(rng *rand.Rand) change.Snapshot {
	s := change.Snapshot{}
	n := rng.Intn(8)
	for i := 0; i < n; i++ {
		s[fmt.Sprintf("k%d", rng.Intn(10))] = fmt.Sprintf("v%d", rng.Intn(3))
	}
	return s
}
