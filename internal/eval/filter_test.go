package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mesh-intelligence/docrel/pkg/types"
)

func TestMatches(t *testing.T) {
	rec := types.Record{
		"title":    "Fix Login Bug",
		"status":   "open",
		"priority": 3,
		"done":     false,
		"due_date": "2024-03-01T10:00:00Z",
		"owner":    nil,
		"tags":     []any{"a"},
		"ref":      "123",
	}

	tests := []struct {
		name   string
		filter types.Filter
		want   bool
	}{
		{"eq string", types.Filter{Field: "status", Op: types.OpEq, Value: "open"}, true},
		{"eq mismatch", types.Filter{Field: "status", Op: types.OpEq, Value: "closed"}, false},
		{"eq int against float", types.Filter{Field: "priority", Op: types.OpEq, Value: 3.0}, true},
		{"eq numeric string against number", types.Filter{Field: "ref", Op: types.OpEq, Value: 123.0}, true},
		{"eq number against numeric string", types.Filter{Field: "priority", Op: types.OpEq, Value: "3"}, true},
		{"eq numeric string exact", types.Filter{Field: "ref", Op: types.OpEq, Value: "123"}, true},
		{"lt numeric string bound", types.Filter{Field: "priority", Op: types.OpLt, Value: "10"}, true},
		{"in numeric strings", types.Filter{Field: "ref", Op: types.OpIn, Value: []any{float64(7), float64(123)}}, true},
		{"eq null", types.Filter{Field: "owner", Op: types.OpEq, Value: nil}, true},
		{"eq missing field is null", types.Filter{Field: "nope", Op: types.OpEq, Value: nil}, true},
		{"eq bool", types.Filter{Field: "done", Op: types.OpEq, Value: false}, true},
		{"eq datetime with different precision", types.Filter{Field: "due_date", Op: types.OpEq, Value: "2024-03-01T10:00:00.000+00:00"}, true},
		{"neq", types.Filter{Field: "status", Op: types.OpNeq, Value: "closed"}, true},
		{"neq on null field", types.Filter{Field: "owner", Op: types.OpNeq, Value: "x"}, true},
		{"in []any", types.Filter{Field: "status", Op: types.OpIn, Value: []any{"open", "blocked"}}, true},
		{"in []string miss", types.Filter{Field: "status", Op: types.OpIn, Value: []string{"closed"}}, false},
		{"in []int", types.Filter{Field: "priority", Op: types.OpIn, Value: []int{1, 3}}, true},
		{"lt", types.Filter{Field: "priority", Op: types.OpLt, Value: 4}, true},
		{"lte equal", types.Filter{Field: "priority", Op: types.OpLte, Value: 3}, true},
		{"gt", types.Filter{Field: "priority", Op: types.OpGt, Value: 3}, false},
		{"gte", types.Filter{Field: "priority", Op: types.OpGte, Value: 3}, true},
		{"gt datetime", types.Filter{Field: "due_date", Op: types.OpGt, Value: "2024-02-28"}, true},
		{"lt datetime", types.Filter{Field: "due_date", Op: types.OpLt, Value: "2024-02-28"}, false},
		{"range never matches null", types.Filter{Field: "owner", Op: types.OpGt, Value: 0}, false},
		{"not null present", types.Filter{Field: "status", Op: types.OpNotNull}, true},
		{"not null on null", types.Filter{Field: "owner", Op: types.OpNotNull}, false},
		{"not null on missing", types.Filter{Field: "nope", Op: types.OpNotNull}, false},
		{"search case insensitive", types.Filter{Field: "title", Op: types.OpSearch, Value: "login"}, true},
		{"search miss", types.Filter{Field: "title", Op: types.OpSearch, Value: "logout"}, false},
		{"search non-string field", types.Filter{Field: "priority", Op: types.OpSearch, Value: "3"}, false},
		{"unknown operator", types.Filter{Field: "status", Op: "like", Value: "open"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(rec, tt.filter))
		})
	}
}

func TestMatches_UndefinedIsNull(t *testing.T) {
	rec := types.Record{"status": types.Undefined}
	assert.False(t, Matches(rec, types.Filter{Field: "status", Op: types.OpNotNull}))
	assert.True(t, Matches(rec, types.Filter{Field: "status", Op: types.OpEq, Value: nil}))
}

func TestFilterAll(t *testing.T) {
	records := []types.Record{
		{"id": "1", "status": "open", "priority": 1},
		{"id": "2", "status": "open", "priority": 5},
		{"id": "3", "status": "closed", "priority": 5},
		{"id": "4", "status": nil, "priority": 2},
	}
	filters := []types.Filter{
		{Field: "status", Op: types.OpEq, Value: "open"},
		{Field: "priority", Op: types.OpGte, Value: 2},
	}

	got := FilterAll(records, filters)
	assert.Len(t, got, 1)
	assert.Equal(t, "2", got[0].ID())

	t.Run("idempotent", func(t *testing.T) {
		for _, fs := range [][]types.Filter{
			filters,
			nil,
			{{Field: "status", Op: types.OpNotNull}},
			{{Field: "priority", Op: types.OpIn, Value: []int{1, 2}}},
		} {
			once := FilterAll(records, fs)
			twice := FilterAll(once, fs)
			assert.Equal(t, once, twice)
		}
	})

	t.Run("empty filters keep everything", func(t *testing.T) {
		assert.Len(t, FilterAll(records, nil), len(records))
	})

	t.Run("input untouched", func(t *testing.T) {
		_ = FilterAll(records, filters)
		assert.Len(t, records, 4)
		assert.Equal(t, "1", records[0].ID())
	})
}

func TestParseTime(t *testing.T) {
	for _, s := range []string{
		"2024-03-01",
		"2024-03-01T10:00:00Z",
		"2024-03-01T10:00:00.123+02:00",
		"2024-03-01T10:00:00",
		"2024-03-01 10:00:00",
	} {
		_, ok := ParseTime(s)
		assert.True(t, ok, s)
	}
	for _, s := range []string{"", "open", "2024", "2024/03/01", "abcd-ef-gh"} {
		_, ok := ParseTime(s)
		assert.False(t, ok, s)
	}
}
