package access

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/docrel/internal/logging"
	"github.com/mesh-intelligence/docrel/internal/metrics"
	"github.com/mesh-intelligence/docrel/pkg/types"
)

// UserSource locates the acting user. A nil user (or ErrNoSession) means the
// caller is anonymous.
type UserSource interface {
	CurrentUser(ctx context.Context) (*types.User, error)
}

// Lister reads rows without going through the guard.
type Lister interface {
	List(ctx context.Context, table string, q types.ListQuery) (*types.ListResult, error)
}

// Guard authorizes query executions.
type Guard struct {
	policy Policy
	users  UserSource
	store  Lister
	logger *zap.Logger
}

// NewGuard creates a Guard. Role rows are read from the policy's roles table
// through store directly, so role lookups are never themselves guarded.
func NewGuard(policy Policy, users UserSource, store Lister, logger *zap.Logger) *Guard {
	logger = logging.OrNop(logger)
	return &Guard{policy: policy, users: users, store: store, logger: logger}
}

// Authorize returns a *types.AuthorizationError when the request is rejected,
// another error when the caller's roles could not be resolved, and nil when
// the request may proceed. Roles are resolved fresh on every call that needs
// them.
func (g *Guard) Authorize(ctx context.Context, state *types.QueryState) error {
	var roles Roles
	if g.policy.needsRoles(state.Table, state.Operation) {
		var err error
		roles, err = g.Roles(ctx)
		if err != nil {
			return fmt.Errorf("resolve roles: %w", err)
		}
	}
	if reason := g.policy.decide(state.Table, state.Operation, roles); reason != "" {
		metrics.AccessDenied.WithLabelValues(state.Table, string(state.Operation)).Inc()
		g.logger.Debug("access denied",
			zap.String("table", state.Table), zap.String("op", string(state.Operation)), zap.String("reason", reason))
		return &types.AuthorizationError{Table: state.Table, Op: state.Operation, Reason: reason}
	}
	return nil
}

// Roles resolves the acting user's role set: rows of the roles table for the
// session user, plus the privileged role for allow-listed emails, defaulting
// to member when nothing is found. Session-less callers holding the API key
// get the service role.
func (g *Guard) Roles(ctx context.Context) (Roles, error) {
	roles := Roles{}

	var user *types.User
	if g.users != nil {
		u, err := g.users.CurrentUser(ctx)
		if err != nil && !errors.Is(err, types.ErrNoSession) {
			return nil, err
		}
		user = u
	}

	if user == nil {
		if g.policy.serviceRole != "" {
			roles[g.policy.serviceRole] = true
			return roles, nil
		}
		roles[types.RoleMember] = true
		return roles, nil
	}

	res, err := g.store.List(ctx, g.policy.rolesTable, types.ListQuery{
		Filters: []types.Filter{{Field: "user_id", Op: types.OpEq, Value: user.ID}},
	})
	if err != nil {
		return nil, err
	}
	for _, row := range res.Rows {
		// The store may return every row on query fallback.
		if uid, _ := row["user_id"].(string); uid != user.ID {
			continue
		}
		if role, ok := row["role"].(string); ok && role != "" {
			roles[role] = true
		}
	}
	if g.policy.privilegedEmails[strings.ToLower(user.Email)] {
		roles[g.policy.privilegedRole] = true
	}
	if len(roles) == 0 {
		roles[types.RoleMember] = true
	}
	return roles, nil
}
