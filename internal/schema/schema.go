// Package schema resolves logical tables to backing collections and restricts
// write payloads to each table's declared fields.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mesh-intelligence/docrel/pkg/types"
)

// Table is the resolved definition of one logical table.
type Table struct {
	Name       string
	Collection string
	fields     map[string]bool
}

// Modeled reports whether the table declares a field allow-list.
func (t *Table) Modeled() bool {
	return len(t.fields) > 0
}

// Declares reports whether field is in the table's declared allow-list.
// The implicit id, created_at and updated_at fields are not counted unless
// declared.
func (t *Table) Declares(field string) bool {
	return t.fields[field]
}

// Allows reports whether field may be written to the table.
func (t *Table) Allows(field string) bool {
	if !t.Modeled() {
		return true
	}
	switch field {
	case types.FieldCreatedAt, types.FieldUpdatedAt:
		return true
	}
	return t.fields[field]
}

// Registry holds the table definitions passed in at construction.
type Registry struct {
	tables       map[string]*Table
	byCollection map[string]*Table
}

// NewRegistry builds a Registry from table configs. Tables with an empty
// collection are kept but unmapped.
func NewRegistry(tables map[string]types.TableConfig) *Registry {
	r := &Registry{
		tables:       make(map[string]*Table, len(tables)),
		byCollection: make(map[string]*Table, len(tables)),
	}
	for name, tc := range tables {
		t := &Table{Name: name, Collection: tc.Collection, fields: make(map[string]bool, len(tc.Fields))}
		for _, f := range tc.Fields {
			f = strings.TrimSpace(f)
			if f != "" {
				t.fields[f] = true
			}
		}
		r.tables[name] = t
		if t.Collection != "" {
			r.byCollection[t.Collection] = t
		}
	}
	return r
}

// Lookup returns the table definition. Unknown and unmapped tables fail with
// ErrTableUnmapped.
func (r *Registry) Lookup(name string) (*Table, error) {
	t, ok := r.tables[name]
	if !ok || t.Collection == "" {
		return nil, fmt.Errorf("%w: %q", types.ErrTableUnmapped, name)
	}
	return t, nil
}

// Collection resolves a table name to its backing collection identifier.
func (r *Registry) Collection(name string) (string, error) {
	t, err := r.Lookup(name)
	if err != nil {
		return "", err
	}
	return t.Collection, nil
}

// ByCollection returns the table backed by collection, if any.
func (r *Registry) ByCollection(collection string) (*Table, bool) {
	t, ok := r.byCollection[collection]
	return t, ok
}

// Names returns every configured table name in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
