package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/docrel/internal/eval"
	"github.com/mesh-intelligence/docrel/pkg/types"
)

func TestParseLegacyFilter(t *testing.T) {
	tests := []struct {
		in   string
		want types.Filter
	}{
		{"project_id=eq.P1", types.Filter{Field: "project_id", Op: types.OpEq, Value: "P1"}},
		{"status=neq.done", types.Filter{Field: "status", Op: types.OpNeq, Value: "done"}},
		{"priority=lt.3", types.Filter{Field: "priority", Op: types.OpLt, Value: "3"}},
		{"priority=lte.2.5", types.Filter{Field: "priority", Op: types.OpLte, Value: "2.5"}},
		{"minutes=gt.-10", types.Filter{Field: "minutes", Op: types.OpGt, Value: "-10"}},
		{"due_at=gte.2024-01-01", types.Filter{Field: "due_at", Op: types.OpGte, Value: "2024-01-01"}},
		{"active=eq.true", types.Filter{Field: "active", Op: types.OpEq, Value: true}},
		{"owner_id=eq.null", types.Filter{Field: "owner_id", Op: types.OpEq, Value: nil}},
		{"project_id=eq.123", types.Filter{Field: "project_id", Op: types.OpEq, Value: "123"}},
		{"note=eq.a=b", types.Filter{Field: "note", Op: types.OpEq, Value: "a=b"}},
		{"code=eq.NaN", types.Filter{Field: "code", Op: types.OpEq, Value: "NaN"}},
		{"status=in.(open,review)", types.Filter{Field: "status", Op: types.OpIn, Value: []any{"open", "review"}}},
		{`id=in.("a", 2)`, types.Filter{Field: "id", Op: types.OpIn, Value: []any{"a", "2"}}},
		{"  title=eq.  ", types.Filter{Field: "title", Op: types.OpEq, Value: ""}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLegacyFilter(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLegacyFilter_Rejects(t *testing.T) {
	for _, in := range []string{
		"",
		"project_id",
		"project_id=P1",
		"project_id=like.P1",
		"=eq.P1",
		"status=in.open,review",
		"status=in.()",
		"1field=eq.x",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseLegacyFilter(in)
			assert.ErrorIs(t, err, types.ErrInvalidFilter)
		})
	}
}

func TestParseLegacyFilter_NumericValues(t *testing.T) {
	byID, err := ParseLegacyFilter("project_id=eq.123")
	require.NoError(t, err)
	assert.True(t, eval.Matches(types.Record{"project_id": "123"}, byID), "string id")
	assert.True(t, eval.Matches(types.Record{"project_id": 123}, byID), "numeric id")
	assert.False(t, eval.Matches(types.Record{"project_id": "1234"}, byID))

	below, err := ParseLegacyFilter("priority=lt.10")
	require.NoError(t, err)
	assert.True(t, eval.Matches(types.Record{"priority": 9}, below))
	assert.False(t, eval.Matches(types.Record{"priority": 10}, below))

	listed, err := ParseLegacyFilter("id=in.(007,123)")
	require.NoError(t, err)
	assert.True(t, eval.Matches(types.Record{"id": "007"}, listed))
	assert.True(t, eval.Matches(types.Record{"id": "123"}, listed))
}
