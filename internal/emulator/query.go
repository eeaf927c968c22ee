package emulator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const (
	defaultLimit = 25
	maxLimit     = 5000
)

// queryError is a client mistake in the queries[] parameter.
type queryError struct {
	msg string
}

func (e *queryError) Error() string { return e.msg }

func invalidQuery(format string, args ...any) error {
	return &queryError{msg: fmt.Sprintf(format, args...)}
}

// storeQuery is one decoded element of queries[].
type storeQuery struct {
	Method    string `json:"method"`
	Attribute string `json:"attribute"`
	Values    []any  `json:"values"`
}

// selection is a compiled listing: WHERE clause, ORDER BY and window.
type selection struct {
	where  []string
	args   []any
	order  []string
	limit  int
	offset int
}

var attributeName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// column maps an attribute onto a SQL expression. Only plain identifiers and
// the metadata attributes are accepted, so the result is safe to inline.
func column(attr string) (string, error) {
	switch attr {
	case "$id":
		return "id", nil
	case "$createdAt":
		return "created_at", nil
	case "$updatedAt":
		return "updated_at", nil
	}
	if !attributeName.MatchString(attr) {
		return "", invalidQuery("invalid attribute %q", attr)
	}
	return fmt.Sprintf("json_extract(data, '$.%s')", attr), nil
}

// sqlValue converts a decoded JSON scalar into a SQLite argument. JSON
// booleans are stored by json_extract as 1 and 0.
func sqlValue(v any) (any, error) {
	switch x := v.(type) {
	case string, float64:
		return x, nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case nil:
		return nil, invalidQuery("null is not a valid query value")
	default:
		return nil, invalidQuery("unsupported query value %v", v)
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

var comparisons = map[string]string{
	"lessThan":         "<",
	"lessThanEqual":    "<=",
	"greaterThan":      ">",
	"greaterThanEqual": ">=",
}

// compile translates raw queries[] values. Unknown methods are rejected so the
// client can fall back to unfiltered listing.
func compile(raw []string) (*selection, error) {
	sel := &selection{limit: defaultLimit}
	for _, r := range raw {
		var q storeQuery
		if err := json.Unmarshal([]byte(r), &q); err != nil {
			return nil, invalidQuery("invalid query %q", r)
		}
		if err := sel.add(q); err != nil {
			return nil, err
		}
	}
	sel.order = append(sel.order, "rowid ASC")
	return sel, nil
}

func (s *selection) add(q storeQuery) error {
	switch q.Method {
	case "limit", "offset":
		if len(q.Values) != 1 {
			return invalidQuery("%s takes one value", q.Method)
		}
		n, ok := q.Values[0].(float64)
		if !ok || n < 0 || n != float64(int(n)) {
			return invalidQuery("%s must be a non-negative integer", q.Method)
		}
		if q.Method == "limit" {
			s.limit = min(int(n), maxLimit)
		} else {
			s.offset = int(n)
		}
		return nil
	}

	col, err := column(q.Attribute)
	if err != nil {
		return err
	}
	switch q.Method {
	case "equal", "notEqual":
		if len(q.Values) == 0 {
			return invalidQuery("%s needs at least one value", q.Method)
		}
		args := make([]any, len(q.Values))
		for i, v := range q.Values {
			if args[i], err = sqlValue(v); err != nil {
				return err
			}
		}
		op := "IN"
		if q.Method == "notEqual" {
			op = "NOT IN"
		}
		s.where = append(s.where, fmt.Sprintf("%s %s (%s)", col, op, placeholders(len(args))))
		s.args = append(s.args, args...)
	case "lessThan", "lessThanEqual", "greaterThan", "greaterThanEqual":
		if len(q.Values) != 1 {
			return invalidQuery("%s takes one value", q.Method)
		}
		arg, err := sqlValue(q.Values[0])
		if err != nil {
			return err
		}
		s.where = append(s.where, fmt.Sprintf("%s %s ?", col, comparisons[q.Method]))
		s.args = append(s.args, arg)
	case "isNull":
		s.where = append(s.where, col+" IS NULL")
	case "isNotNull":
		s.where = append(s.where, col+" IS NOT NULL")
	case "search":
		if len(q.Values) != 1 {
			return invalidQuery("search takes one value")
		}
		term, ok := q.Values[0].(string)
		if !ok {
			return invalidQuery("search value must be a string")
		}
		s.where = append(s.where, fmt.Sprintf("instr(lower(%s), lower(?)) > 0", col))
		s.args = append(s.args, term)
	case "orderAsc":
		s.order = append(s.order, col+" ASC")
	case "orderDesc":
		s.order = append(s.order, col+" DESC")
	default:
		return invalidQuery("unknown query method %q", q.Method)
	}
	return nil
}

// whereSQL renders the WHERE clause, including the collection predicate.
func (s *selection) whereSQL() string {
	clauses := append([]string{"collection = ?"}, s.where...)
	return " WHERE " + strings.Join(clauses, " AND ")
}
