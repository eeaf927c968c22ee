package eval

import (
	"slices"

	"github.com/mesh-intelligence/docrel/pkg/types"
)

// Sort returns a copy of records ordered by a single key. The sort is stable:
// ties keep their prior relative order. A nil order returns an unmodified copy.
func Sort(records []types.Record, order *types.Order) []types.Record {
	out := slices.Clone(records)
	if order == nil || order.Field == "" {
		return out
	}
	slices.SortStableFunc(out, func(a, b types.Record) int {
		c := Compare(a[order.Field], b[order.Field])
		if !order.Ascending {
			return -c
		}
		return c
	})
	return out
}

// Window applies offset then limit to records. Zero values disable either bound.
func Window(records []types.Record, offset, limit int) []types.Record {
	if offset > 0 {
		if offset >= len(records) {
			return []types.Record{}
		}
		records = records[offset:]
	}
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}
