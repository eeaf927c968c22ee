package types

// Operator is the comparison applied by a Filter.
type Operator string

// Supported filter operators.
const (
	OpEq      Operator = "eq"
	OpIn      Operator = "in"
	OpNeq     Operator = "neq"
	OpLt      Operator = "lt"
	OpLte     Operator = "lte"
	OpGt      Operator = "gt"
	OpGte     Operator = "gte"
	OpNotNull Operator = "not_null"
	OpSearch  Operator = "search"
)

var validOperators = map[Operator]bool{
	OpEq: true, OpIn: true, OpNeq: true, OpLt: true, OpLte: true,
	OpGt: true, OpGte: true, OpNotNull: true, OpSearch: true,
}

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	return validOperators[op]
}

// Filter is one predicate over a record field. Filters in a list are ANDed.
// For OpIn, Value is a slice. For OpNotNull, Value is ignored. For OpSearch,
// Value is the search term.
type Filter struct {
	Field string   `json:"field"`
	Op    Operator `json:"op"`
	Value any      `json:"value,omitempty"`
}

// Order is a single sort key.
type Order struct {
	Field     string `json:"field"`
	Ascending bool   `json:"ascending"`
}

// ListQuery describes a listing request against one table.
// Limit and Offset are ignored when zero.
type ListQuery struct {
	Filters []Filter
	Order   *Order
	Limit   int
	Offset  int
}

// ListResult is the outcome of a gateway listing.
type ListResult struct {
	Rows  []Record
	Total int

	// Windowed is true when Limit and Offset were already applied by the store.
	Windowed bool

	// Fallback is true when the store rejected the pushed-down query and the
	// rows are the unfiltered table contents.
	Fallback bool
}
