// Package eval decides whether in-memory records match filter predicates and
// orders record sets. It performs no I/O and never reads the clock.
package eval

import (
	"cmp"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mesh-intelligence/docrel/pkg/types"
)

type kind int

const (
	kindNumber kind = iota
	kindString
	kindNull // sorts after every other kind
)

// value is a normalized comparison operand.
type value struct {
	kind kind
	num  float64
	str  string
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses s as an ISO-8601 date or datetime.
func ParseTime(s string) (time.Time, bool) {
	if !looksLikeDate(s) {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// looksLikeDate rejects strings that cannot start with YYYY-MM-DD before any
// layout is attempted.
func looksLikeDate(s string) bool {
	if len(s) < 10 || s[4] != '-' || s[7] != '-' {
		return false
	}
	for _, i := range []int{0, 1, 2, 3, 5, 6, 8, 9} {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func normalize(v any) value {
	switch x := v.(type) {
	case nil:
		return value{kind: kindNull}
	case bool:
		if x {
			return value{kind: kindNumber, num: 1}
		}
		return value{kind: kindNumber, num: 0}
	case string:
		if t, ok := ParseTime(x); ok {
			return value{kind: kindNumber, num: float64(t.UnixMicro())}
		}
		return value{kind: kindString, str: x}
	case float64:
		return value{kind: kindNumber, num: x}
	case float32:
		return value{kind: kindNumber, num: float64(x)}
	case int:
		return value{kind: kindNumber, num: float64(x)}
	case int32:
		return value{kind: kindNumber, num: float64(x)}
	case int64:
		return value{kind: kindNumber, num: float64(x)}
	case uint:
		return value{kind: kindNumber, num: float64(x)}
	case uint64:
		return value{kind: kindNumber, num: float64(x)}
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return value{kind: kindNumber, num: f}
		}
		return value{kind: kindString, str: x.String()}
	case time.Time:
		return value{kind: kindNumber, num: float64(x.UnixMicro())}
	default:
		if types.IsUndefined(v) {
			return value{kind: kindNull}
		}
		return value{kind: kindString, str: fmt.Sprint(x)}
	}
}

// compareValues orders a before b. Nulls compare greater than everything, so
// they land last in ascending order and first in descending order. Numbers
// sort before strings, except that a string holding a plain number compares
// numerically against a number.
func compareValues(a, b value) int {
	a, b = coercePair(a, b)
	if a.kind != b.kind {
		return cmp.Compare(a.kind, b.kind)
	}
	switch a.kind {
	case kindNumber:
		return cmp.Compare(a.num, b.num)
	case kindString:
		return strings.Compare(a.str, b.str)
	default:
		return 0
	}
}

// coercePair turns a numeric string into a number when the other operand is
// a number, so "123" and 123 compare equal.
func coercePair(a, b value) (value, value) {
	switch {
	case a.kind == kindNumber && b.kind == kindString:
		if f, ok := numericString(b.str); ok {
			b = value{kind: kindNumber, num: f}
		}
	case a.kind == kindString && b.kind == kindNumber:
		if f, ok := numericString(a.str); ok {
			a = value{kind: kindNumber, num: f}
		}
	}
	return a, b
}

// IsNumeric reports whether s holds a plain finite number.
func IsNumeric(s string) bool {
	_, ok := numericString(s)
	return ok
}

func numericString(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Compare orders two raw field values using the normalization rules of the
// evaluator.
func Compare(a, b any) int {
	return compareValues(normalize(a), normalize(b))
}

// Equal reports whether two raw field values are equal after normalization.
func Equal(a, b any) bool {
	na, nb := coercePair(normalize(a), normalize(b))
	return na.kind == nb.kind && compareValues(na, nb) == 0
}
