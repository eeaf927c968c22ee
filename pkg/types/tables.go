package types

// Standard table names of the project-management application.
const (
	TableWorkspaces          = "workspaces"
	TableWorkspaceMembers    = "workspace_members"
	TableProfiles            = "profiles"
	TableUserRoles           = "user_roles"
	TableProjects            = "projects"
	TableTasks               = "tasks"
	TableTaskComments        = "task_comments"
	TableRecurringTasks      = "recurring_tasks"
	TableApprovals           = "approvals"
	TableTimeEntries         = "time_entries"
	TableExpenses            = "expenses"
	TableBudgets             = "budgets"
	TableNotifications       = "notifications"
	TableDigestSubscriptions = "digest_subscriptions"
	TableAuditLogs           = "audit_logs"
)

// DefaultTables returns the standard table definitions. Each table maps to a
// collection of the same name; deployments override the collection IDs in
// config. A fresh map is returned on every call.
func DefaultTables() map[string]TableConfig {
	def := func(name string, fields ...string) TableConfig {
		return TableConfig{Collection: name, Fields: append(fields, FieldCreatedAt, FieldUpdatedAt)}
	}
	return map[string]TableConfig{
		TableWorkspaces:       def(TableWorkspaces, "name", "slug", "owner_id"),
		TableWorkspaceMembers: def(TableWorkspaceMembers, "workspace_id", "user_id", "role"),
		TableProfiles:         def(TableProfiles, "user_id", "email", "full_name", "avatar_url", "timezone"),
		TableUserRoles:        def(TableUserRoles, "user_id", "role", "workspace_id"),
		TableProjects:         def(TableProjects, "workspace_id", "name", "description", "status", "owner_id", "due_date"),
		TableTasks: def(TableTasks, "project_id", "workspace_id", "title", "description", "status",
			"priority", "assignee_id", "due_date", "completed_at", "recurring_task_id"),
		TableTaskComments:   def(TableTaskComments, "task_id", "author_id", "body"),
		TableRecurringTasks: def(TableRecurringTasks, "project_id", "workspace_id", "title", "frequency", "interval", "next_run_at", "active"),
		TableApprovals:      def(TableApprovals, "task_id", "workspace_id", "requested_by", "approver_id", "status", "due_at", "escalated_at"),
		TableTimeEntries:    def(TableTimeEntries, "task_id", "user_id", "minutes", "started_at", "note"),
		TableExpenses:       def(TableExpenses, "project_id", "user_id", "amount", "currency", "category", "status", "incurred_on"),
		TableBudgets:        def(TableBudgets, "project_id", "amount", "currency", "period"),
		TableNotifications:  def(TableNotifications, "user_id", "kind", "title", "body", "read_at", "link"),
		TableDigestSubscriptions: def(TableDigestSubscriptions, "user_id", "frequency", "last_sent_at",
			"enabled"),
		// Audit log rows are written by the store itself; only the collection mapping is declared.
		TableAuditLogs: {Collection: TableAuditLogs},
	}
}

// DefaultPolicy returns the standard access policy. A fresh value is returned
// on every call.
func DefaultPolicy() PolicyConfig {
	return PolicyConfig{
		Immutable:     []string{TableAuditLogs},
		AdminOnly:     []string{TableUserRoles, TableWorkspaces},
		ElevatedRead:  []string{TableAuditLogs, TableBudgets},
		ElevatedWrite: []string{TableProjects, TableRecurringTasks, TableExpenses, TableBudgets},
		AdminMutate:   []string{TableExpenses},
	}
}
