package schema

import (
	"time"

	"github.com/mesh-intelligence/docrel/pkg/types"
)

// Sanitize returns a copy of payload restricted to the table's allow-list.
//
// Keys outside the allow-list and keys holding types.Undefined are dropped; id
// is always dropped on insert since the gateway assigns it separately.
// Declared created_at is stamped on insert and declared updated_at on every
// write, unless the caller supplied them. Tables without an allow-list pass
// through unchanged and are never stamped, since their fields are unknown.
func Sanitize(t *Table, payload types.Record, isInsert bool, now time.Time) types.Record {
	out := make(types.Record, len(payload))
	for k, v := range payload {
		if types.IsUndefined(v) {
			continue
		}
		if isInsert && k == types.FieldID {
			continue
		}
		if !t.Allows(k) {
			continue
		}
		out[k] = v
	}
	if !t.Modeled() {
		return out
	}

	stamp := now.UTC().Format(time.RFC3339Nano)
	if isInsert && t.Declares(types.FieldCreatedAt) {
		if _, ok := out[types.FieldCreatedAt]; !ok {
			out[types.FieldCreatedAt] = stamp
		}
	}
	if t.Declares(types.FieldUpdatedAt) {
		if _, ok := out[types.FieldUpdatedAt]; !ok {
			out[types.FieldUpdatedAt] = stamp
		}
	}
	return out
}
