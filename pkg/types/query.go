package types

// Operation is the kind of request a query performs.
type Operation string

// Query operations.
const (
	OpSelect Operation = "select"
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// IsWrite reports whether the operation mutates the table.
func (o Operation) IsWrite() bool {
	return o == OpInsert || o == OpUpdate || o == OpDelete
}

// QueryState is the accumulated, not yet executed description of one request.
type QueryState struct {
	Table       string
	Operation   Operation
	Rows        []Record // insert payloads
	Patch       Record   // update payload
	Filters     []Filter
	Order       *Order
	Limit       int
	Offset      int
	ReturnRows  bool
	Single      bool
	MaybeSingle bool
}
