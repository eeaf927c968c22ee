package emulator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile(t *testing.T) {
	sel, err := compile([]string{
		`{"method":"equal","attribute":"status","values":["open","closed"]}`,
		`{"method":"greaterThan","attribute":"priority","values":[2]}`,
		`{"method":"equal","attribute":"active","values":[true]}`,
		`{"method":"isNotNull","attribute":"due_date"}`,
		`{"method":"orderDesc","attribute":"$createdAt"}`,
		`{"method":"limit","values":[10]}`,
		`{"method":"offset","values":[20]}`,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"json_extract(data, '$.status') IN (?,?)",
		"json_extract(data, '$.priority') > ?",
		"json_extract(data, '$.active') IN (?)",
		"json_extract(data, '$.due_date') IS NOT NULL",
	}, sel.where)
	assert.Equal(t, []any{"open", "closed", float64(2), 1}, sel.args)
	assert.Equal(t, []string{"created_at DESC", "rowid ASC"}, sel.order)
	assert.Equal(t, 10, sel.limit)
	assert.Equal(t, 20, sel.offset)
}

func TestCompile_Defaults(t *testing.T) {
	sel, err := compile(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultLimit, sel.limit)
	assert.Equal(t, " WHERE collection = ?", sel.whereSQL())
}

func TestCompile_LimitCapped(t *testing.T) {
	sel, err := compile([]string{`{"method":"limit","values":[100000]}`})
	require.NoError(t, err)
	assert.Equal(t, maxLimit, sel.limit)
}

func TestCompile_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `equal(status)`},
		{"unknown method", `{"method":"between","attribute":"n","values":[1,2]}`},
		{"injected attribute", `{"method":"equal","attribute":"x') OR 1=1 --","values":[1]}`},
		{"null value", `{"method":"equal","attribute":"x","values":[null]}`},
		{"empty equal", `{"method":"equal","attribute":"x","values":[]}`},
		{"negative limit", `{"method":"limit","values":[-1]}`},
		{"fractional offset", `{"method":"offset","values":[1.5]}`},
		{"numeric search", `{"method":"search","attribute":"x","values":[3]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compile([]string{tt.raw})
			var qe *queryError
			assert.True(t, errors.As(err, &qe), "got %v", err)
		})
	}
}
