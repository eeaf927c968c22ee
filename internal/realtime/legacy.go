package realtime

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mesh-intelligence/docrel/pkg/types"
)

var legacyFilter = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_.$]*)=(eq|neq|lt|lte|gt|gte|in)\.(.*)$`)

// ParseLegacyFilter converts a "field=op.value" string into a typed filter.
// Supported operators are eq, neq, lt, lte, gt, gte and in, whose value is a
// parenthesized comma list such as in.(a,b). Booleans and null are converted;
// everything else, numbers included, stays a string. Numeric strings still
// compare numerically against numeric fields, and "123" keeps matching a
// string id "123".
func ParseLegacyFilter(s string) (types.Filter, error) {
	m := legacyFilter.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return types.Filter{}, fmt.Errorf("%w: %q is not field=op.value", types.ErrInvalidFilter, s)
	}
	field, op, raw := m[1], types.Operator(m[2]), m[3]

	if op != types.OpIn {
		return types.Filter{Field: field, Op: op, Value: legacyValue(raw)}, nil
	}
	if !strings.HasPrefix(raw, "(") || !strings.HasSuffix(raw, ")") {
		return types.Filter{}, fmt.Errorf("%w: in list must be parenthesized: %q", types.ErrInvalidFilter, s)
	}
	inner := raw[1 : len(raw)-1]
	if strings.TrimSpace(inner) == "" {
		return types.Filter{}, fmt.Errorf("%w: empty in list: %q", types.ErrInvalidFilter, s)
	}
	parts := strings.Split(inner, ",")
	values := make([]any, len(parts))
	for i, p := range parts {
		values[i] = legacyValue(strings.Trim(strings.TrimSpace(p), `"`))
	}
	return types.Filter{Field: field, Op: op, Value: values}, nil
}

func legacyValue(raw string) any {
	switch raw {
	case "null":
		return nil
	case "true":
		return true
	case "false":
		return false
	}
	return raw
}
