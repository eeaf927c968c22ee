package eval

import (
	"reflect"
	"strings"

	"github.com/mesh-intelligence/docrel/pkg/types"
)

// Matches reports whether record satisfies f. Range operators never match a
// null field. Unknown operators never match.
func Matches(record types.Record, f types.Filter) bool {
	got, present := record[f.Field]
	if !present || types.IsUndefined(got) {
		got = nil
	}

	switch f.Op {
	case types.OpEq:
		return Equal(got, f.Value)
	case types.OpNeq:
		return !Equal(got, f.Value)
	case types.OpIn:
		for _, candidate := range Elements(f.Value) {
			if Equal(got, candidate) {
				return true
			}
		}
		return false
	case types.OpLt, types.OpLte, types.OpGt, types.OpGte:
		a, b := normalize(got), normalize(f.Value)
		if a.kind == kindNull || b.kind == kindNull {
			return false
		}
		c := compareValues(a, b)
		switch f.Op {
		case types.OpLt:
			return c < 0
		case types.OpLte:
			return c <= 0
		case types.OpGt:
			return c > 0
		default:
			return c >= 0
		}
	case types.OpNotNull:
		return got != nil
	case types.OpSearch:
		s, ok := got.(string)
		if !ok {
			return false
		}
		term, ok := f.Value.(string)
		if !ok {
			return false
		}
		return strings.Contains(strings.ToLower(s), strings.ToLower(term))
	default:
		return false
	}
}

// MatchesAll reports whether record satisfies every filter.
func MatchesAll(record types.Record, filters []types.Filter) bool {
	for _, f := range filters {
		if !Matches(record, f) {
			return false
		}
	}
	return true
}

// FilterAll returns the records matching every filter, preserving order.
// The input slice is not modified.
func FilterAll(records []types.Record, filters []types.Filter) []types.Record {
	out := make([]types.Record, 0, len(records))
	for _, r := range records {
		if MatchesAll(r, filters) {
			out = append(out, r)
		}
	}
	return out
}

// Elements flattens an in-set operand into its members. A non-slice operand is
// treated as a one-element set.
func Elements(v any) []any {
	switch x := v.(type) {
	case nil:
		return nil
	case []any:
		return x
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
