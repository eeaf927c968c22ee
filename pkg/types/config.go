package types

import (
	"strings"
	"time"
)

// Defaults applied by Config.WithDefaults.
const (
	DefaultPageSize        = 100
	DefaultMaxOffset       = 5000
	DefaultPollInterval    = 5 * time.Second
	DefaultMinPollInterval = 3 * time.Second
	DefaultRolesTable      = "user_roles"
)

// Config holds the connection, schema and policy settings for a docrel client.
type Config struct {
	Endpoint string `mapstructure:"endpoint" json:"endpoint" yaml:"endpoint"`
	Project  string `mapstructure:"project" json:"project" yaml:"project"`
	Database string `mapstructure:"database" json:"database" yaml:"database"`

	// APIKey is the privileged server key. When set, requests bypass the
	// interactive session and the guard treats session-less callers as
	// PrivilegedRole.
	APIKey string `mapstructure:"api_key" json:"api_key" yaml:"api_key"`

	// Interactive marks a browser-like context: anonymous session probes are
	// skipped when no session cookie is present.
	Interactive bool `mapstructure:"interactive" json:"interactive" yaml:"interactive"`

	// DisablePush makes realtime channels poll instead of opening a socket.
	DisablePush bool `mapstructure:"disable_push" json:"disable_push" yaml:"disable_push"`

	PageSize        int           `mapstructure:"page_size" json:"page_size" yaml:"page_size"`
	MaxOffset       int           `mapstructure:"max_offset" json:"max_offset" yaml:"max_offset"`
	PollInterval    time.Duration `mapstructure:"poll_interval" json:"poll_interval" yaml:"poll_interval"`
	MinPollInterval time.Duration `mapstructure:"min_poll_interval" json:"min_poll_interval" yaml:"min_poll_interval"`

	RolesTable       string   `mapstructure:"roles_table" json:"roles_table" yaml:"roles_table"`
	PrivilegedEmails []string `mapstructure:"privileged_emails" json:"privileged_emails" yaml:"privileged_emails"`
	PrivilegedRole   string   `mapstructure:"privileged_role" json:"privileged_role" yaml:"privileged_role"`

	Tables map[string]TableConfig `mapstructure:"tables" json:"tables" yaml:"tables"`
	Policy PolicyConfig           `mapstructure:"policy" json:"policy" yaml:"policy"`
}

// TableConfig maps a logical table to its backing collection and declares the
// fields accepted on write. An empty Collection leaves the table unmapped.
type TableConfig struct {
	Collection string   `mapstructure:"collection" json:"collection" yaml:"collection"`
	Fields     []string `mapstructure:"fields" json:"fields" yaml:"fields"`
}

// PolicyConfig lists table names per access rule.
type PolicyConfig struct {
	Immutable     []string `mapstructure:"immutable" json:"immutable" yaml:"immutable"`
	AdminOnly     []string `mapstructure:"admin_only" json:"admin_only" yaml:"admin_only"`
	ElevatedRead  []string `mapstructure:"elevated_read" json:"elevated_read" yaml:"elevated_read"`
	ElevatedWrite []string `mapstructure:"elevated_write" json:"elevated_write" yaml:"elevated_write"`
	AdminMutate   []string `mapstructure:"admin_mutate" json:"admin_mutate" yaml:"admin_mutate"`
}

// WithDefaults returns a copy of c with zero-valued tunables filled in.
func (c Config) WithDefaults() Config {
	c.Endpoint = strings.TrimRight(c.Endpoint, "/")
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}
	if c.MaxOffset == 0 {
		c.MaxOffset = DefaultMaxOffset
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MinPollInterval == 0 {
		c.MinPollInterval = DefaultMinPollInterval
	}
	if c.RolesTable == "" {
		c.RolesTable = DefaultRolesTable
	}
	if c.PrivilegedRole == "" {
		c.PrivilegedRole = RoleAdmin
	}
	return c
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return ErrEndpointEmpty
	}
	if c.Project == "" {
		return ErrProjectEmpty
	}
	if c.Database == "" {
		return ErrDatabaseEmpty
	}
	if c.PageSize < 0 || c.PageSize > 100 {
		return ErrPageSizeInvalid
	}
	return nil
}
