// Package types defines the records, typed filter predicates, query state,
// session shapes, configuration, and standard errors shared by every layer of
// the docrel adapter.
//
// A Record is a document as the rest of the application sees it: a flat map
// keyed by field name, carrying its identifier and timestamps in the table's
// own id, created_at and updated_at fields.
package types
