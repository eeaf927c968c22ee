// Package access enforces table-level read and write policy before any
// gateway call is issued.
package access

import (
	"strings"

	"github.com/mesh-intelligence/docrel/pkg/types"
)

// Policy is the static rule set the guard evaluates. It is built from
// configuration and injected, never read from globals.
type Policy struct {
	immutable     map[string]bool
	adminOnly     map[string]bool
	elevatedRead  map[string]bool
	elevatedWrite map[string]bool
	adminMutate   map[string]bool

	rolesTable       string
	privilegedEmails map[string]bool
	privilegedRole   string
	serviceRole      string
}

func set(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// NewPolicy builds a Policy from cfg. When cfg carries an API key, callers
// without a session act with the privileged role.
func NewPolicy(cfg types.Config) Policy {
	cfg = cfg.WithDefaults()
	p := Policy{
		immutable:        set(cfg.Policy.Immutable),
		adminOnly:        set(cfg.Policy.AdminOnly),
		elevatedRead:     set(cfg.Policy.ElevatedRead),
		elevatedWrite:    set(cfg.Policy.ElevatedWrite),
		adminMutate:      set(cfg.Policy.AdminMutate),
		rolesTable:       cfg.RolesTable,
		privilegedEmails: make(map[string]bool, len(cfg.PrivilegedEmails)),
		privilegedRole:   cfg.PrivilegedRole,
	}
	for _, e := range cfg.PrivilegedEmails {
		p.privilegedEmails[strings.ToLower(strings.TrimSpace(e))] = true
	}
	if cfg.APIKey != "" {
		p.serviceRole = cfg.PrivilegedRole
	}
	return p
}

// needsRoles reports whether deciding op on table depends on the caller's roles.
func (p Policy) needsRoles(table string, op types.Operation) bool {
	if op.IsWrite() {
		return p.adminOnly[table] || p.elevatedWrite[table]
	}
	return p.elevatedRead[table]
}

// Roles is a resolved role set.
type Roles map[string]bool

// Has reports whether any of the given roles is present.
func (r Roles) Has(roles ...string) bool {
	for _, role := range roles {
		if r[role] {
			return true
		}
	}
	return false
}

// decide returns the rejection reason for op on table, or "" when allowed.
func (p Policy) decide(table string, op types.Operation, roles Roles) string {
	if op.IsWrite() && p.immutable[table] {
		return "table is immutable"
	}
	if !op.IsWrite() && p.elevatedRead[table] && !roles.Has(types.RoleManager, types.RoleAdmin) {
		return "manager or admin role required to read"
	}
	if op.IsWrite() && p.adminOnly[table] && !roles.Has(types.RoleAdmin) {
		return "admin role required to write"
	}
	if op.IsWrite() && p.elevatedWrite[table] {
		if !roles.Has(types.RoleManager, types.RoleAdmin) {
			return "manager or admin role required to write"
		}
		if (op == types.OpUpdate || op == types.OpDelete) && p.adminMutate[table] && !roles.Has(types.RoleAdmin) {
			return "admin role required to modify existing rows"
		}
	}
	return ""
}
