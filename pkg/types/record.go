package types

// Implicit fields every table carries regardless of its declared allow-list.
const (
	FieldID        = "id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

// Record is one document as seen by callers: field name to JSON-compatible value.
type Record map[string]any

type undefined struct{}

// Undefined marks a payload value as absent. Keys holding Undefined are dropped
// before a write; a nil value is kept and written as JSON null.
var Undefined = undefined{}

// IsUndefined reports whether v is the Undefined marker.
func IsUndefined(v any) bool {
	_, ok := v.(undefined)
	return ok
}

// ID returns the record identifier, or "" when it is missing or not a string.
func (r Record) ID() string {
	id, _ := r[FieldID].(string)
	return id
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
