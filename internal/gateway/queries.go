package gateway

import (
	"encoding/json"

	"github.com/mesh-intelligence/docrel/internal/eval"
	"github.com/mesh-intelligence/docrel/pkg/types"
)

// nativeQuery is one element of the store's queries[] parameter.
type nativeQuery struct {
	Method    string `json:"method"`
	Attribute string `json:"attribute,omitempty"`
	Values    []any  `json:"values,omitempty"`
}

func (q nativeQuery) String() string {
	buf, _ := json.Marshal(q)
	return string(buf)
}

var rangeMethods = map[types.Operator]string{
	types.OpLt:  "lessThan",
	types.OpLte: "lessThanEqual",
	types.OpGt:  "greaterThan",
	types.OpGte: "greaterThanEqual",
}

// plan is the push-down decision for one listing.
type plan struct {
	queries  []string
	offset   int
	limit    int
	windowed bool
}

func (p plan) pushed() bool {
	return len(p.queries) > 0 || p.windowed
}

// planQuery translates what the store can evaluate with the same semantics as
// the in-memory evaluator. Predicates it cannot express are left for the
// evaluator, which always re-applies the full query. The limit/offset window
// is pushed only when every predicate was pushed and no order was requested,
// since the store's null ordering may differ.
func planQuery(q types.ListQuery) plan {
	var p plan
	allPushed := true
	for _, f := range q.Filters {
		nq, ok := translate(f)
		if !ok {
			allPushed = false
			continue
		}
		p.queries = append(p.queries, nq.String())
	}
	if q.Order != nil && q.Order.Field != "" {
		method := "orderDesc"
		if q.Order.Ascending {
			method = "orderAsc"
		}
		p.queries = append(p.queries, nativeQuery{Method: method, Attribute: storeAttribute(q.Order.Field)}.String())
	}
	if allPushed && q.Order == nil && (q.Limit > 0 || q.Offset > 0) {
		p.windowed = true
		p.limit = q.Limit
		p.offset = q.Offset
	}
	return p
}

func translate(f types.Filter) (nativeQuery, bool) {
	if f.Field == "" {
		return nativeQuery{}, false
	}
	attr := storeAttribute(f.Field)
	switch f.Op {
	case types.OpEq:
		if !pushableScalar(f.Value) {
			return nativeQuery{}, false
		}
		return nativeQuery{Method: "equal", Attribute: attr, Values: []any{f.Value}}, true
	case types.OpIn:
		elems := eval.Elements(f.Value)
		if len(elems) == 0 {
			return nativeQuery{}, false
		}
		for _, e := range elems {
			if !pushableScalar(e) {
				return nativeQuery{}, false
			}
		}
		return nativeQuery{Method: "equal", Attribute: attr, Values: elems}, true
	case types.OpLt, types.OpLte, types.OpGt, types.OpGte:
		if _, isBool := f.Value.(bool); isBool || !pushableScalar(f.Value) {
			return nativeQuery{}, false
		}
		return nativeQuery{Method: rangeMethods[f.Op], Attribute: attr, Values: []any{f.Value}}, true
	case types.OpNotNull:
		return nativeQuery{Method: "isNotNull", Attribute: attr}, true
	default:
		// Neq keeps nulls in memory but not in the store; search is
		// case-insensitive in memory only.
		return nativeQuery{}, false
	}
}

// pushableScalar accepts values the store compares exactly like the evaluator:
// numbers, booleans, and strings that are neither datetimes nor numeric. The
// evaluator matches "123" against both 123 and "123"; the store does not.
func pushableScalar(v any) bool {
	switch x := v.(type) {
	case bool, int, int32, int64, uint, uint64, float32, float64, json.Number:
		return true
	case string:
		if _, isTime := eval.ParseTime(x); isTime {
			return false
		}
		return !eval.IsNumeric(x)
	default:
		return false
	}
}

// storeAttribute maps a record field to the store's attribute name.
func storeAttribute(field string) string {
	if field == types.FieldID {
		return "$id"
	}
	return field
}

func limitQuery(n int) string {
	return nativeQuery{Method: "limit", Values: []any{n}}.String()
}

func offsetQuery(n int) string {
	return nativeQuery{Method: "offset", Values: []any{n}}.String()
}
