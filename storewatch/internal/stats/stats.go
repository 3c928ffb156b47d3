// Package stats aggregates size and type statistics over a storage read.
package stats

import (
	"math"

	"github.com/hazyhaar/storewatch/storewatch/change"
	"github.com/hazyhaar/storewatch/storewatch/internal/valuetype"
)

// QuotaBytes is the assumed capacity of one storage area. Browsers do not
// expose the real quota, so this is a display estimate.
const QuotaBytes = 5 * 1024 * 1024

// Size returns the UTF-8 encoded size of value in bytes.
func Size(value string) int { return len(value) }

// Compute derives statistics from items. Sizes count value bytes only.
// The largest item is the first one with the strictly greatest size; it
// is nil when there are no items or every value is empty.
func Compute(items []change.Item) change.Stats {
	var st change.Stats
	maxSize := 0

	for _, it := range items {
		size := Size(it.Value)
		st.TotalItems++
		st.TotalSize += size

		if size > maxSize {
			maxSize = size
			st.LargestItem = &change.LargestItem{Key: it.Key, Size: size}
		}

		switch valuetype.Detect(it.Value) {
		case valuetype.Null:
			st.TypeDistribution.Null++
		case valuetype.Boolean:
			st.TypeDistribution.Boolean++
		case valuetype.Number:
			st.TypeDistribution.Number++
		case valuetype.JSON:
			st.TypeDistribution.JSON++
		default:
			st.TypeDistribution.String++
		}
	}

	st.QuotaUsage = change.QuotaUsage{
		Used:       st.TotalSize,
		Total:      QuotaBytes,
		Percentage: int(math.Round(float64(st.TotalSize) / QuotaBytes * 100)),
	}
	return st
}
