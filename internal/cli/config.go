package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/mesh-intelligence/docrel/internal/logging"
	"github.com/mesh-intelligence/docrel/internal/paths"
	"github.com/mesh-intelligence/docrel/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"

	cfgKeyEndpoint        = "endpoint"
	cfgKeyProject         = "project"
	cfgKeyDatabase        = "database"
	cfgKeyAPIKey          = "api_key"
	cfgKeyInteractive     = "interactive"
	cfgKeyDisablePush     = "disable_push"
	cfgKeyPageSize        = "page_size"
	cfgKeyMaxOffset       = "max_offset"
	cfgKeyPollInterval    = "poll_interval"
	cfgKeyMinPollInterval = "min_poll_interval"
	cfgKeyRolesTable      = "roles_table"
	cfgKeyPrivilegedEmail = "privileged_emails"
	cfgKeyPrivilegedRole  = "privileged_role"
	cfgKeyTables          = "tables"
	cfgKeyPolicy          = "policy"

	cfgKeyLogLevel = "log_level"
	cfgKeyLogDev   = "log_dev"
	cfgKeyLogFile  = "log_file"

	cfgKeyEmulatorAddr    = "emulator.addr"
	cfgKeyEmulatorDataDir = "emulator.data_dir"
	cfgKeyEmulatorPersist = "emulator.persist"
	cfgKeyEmulatorSecret  = "emulator.secret"

	defaultEmulatorAddr = "127.0.0.1:8090"
)

// defaultConfigYAML is written to config.yaml on first run.
const defaultConfigYAML = `# docrel configuration
# Every key can be overridden with a DOCREL_ environment variable,
# for example DOCREL_ENDPOINT or DOCREL_EMULATOR_ADDR.

# Store connection (required). "docrel emulator" serves
# http://127.0.0.1:8090/v1 for local development.
# endpoint: http://127.0.0.1:8090/v1
# project: local
# database: main
# api_key:

# Listing and realtime tunables.
# page_size: 100
# max_offset: 5000
# poll_interval: 5s
# min_poll_interval: 3s
# disable_push: false

# Access policy. Omit tables and policy to use the built-in defaults.
# roles_table: user_roles
# privileged_emails: []
# privileged_role: admin
# tables:
#   tasks:
#     collection: tasks
#     fields: [title, status, priority, due_date]
# policy:
#   immutable: [audit_logs]
#   admin_only: [user_roles, workspaces]

log_level: warn
`

// loadConfig reads config.yaml from configDir, creating the directory and a
// commented default file on first run. A missing file is not an error.
func loadConfig(configDir string) (*viper.Viper, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure config dir: %w", err)
	}
	if err := ensureDefaultConfigFile(configDir); err != nil {
		return nil, fmt.Errorf("ensure default config: %w", err)
	}

	v := viper.New()
	v.SetDefault(cfgKeyPageSize, types.DefaultPageSize)
	v.SetDefault(cfgKeyMaxOffset, types.DefaultMaxOffset)
	v.SetDefault(cfgKeyPollInterval, types.DefaultPollInterval)
	v.SetDefault(cfgKeyMinPollInterval, types.DefaultMinPollInterval)
	v.SetDefault(cfgKeyRolesTable, types.DefaultRolesTable)
	v.SetDefault(cfgKeyPrivilegedRole, types.RoleAdmin)
	v.SetDefault(cfgKeyLogLevel, "warn")
	// LOG_DEV and LOG_FILE seed the log defaults.
	envLog := logging.ConfigFromEnv()
	v.SetDefault(cfgKeyLogDev, envLog.Dev)
	v.SetDefault(cfgKeyLogFile, envLog.File)
	v.SetDefault(cfgKeyEmulatorAddr, defaultEmulatorAddr)
	v.SetDefault(cfgKeyEmulatorPersist, true)
	v.SetEnvPrefix("DOCREL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Keys without a default are bound explicitly so Unmarshal sees their env values.
	for _, k := range []string{
		cfgKeyEndpoint, cfgKeyProject, cfgKeyDatabase, cfgKeyAPIKey, cfgKeyInteractive,
		cfgKeyDisablePush, cfgKeyPrivilegedEmail,
		cfgKeyEmulatorDataDir, cfgKeyEmulatorSecret,
	} {
		_ = v.BindEnv(k)
	}
	_ = v.BindEnv(cfgKeyLogLevel, "DOCREL_LOG_LEVEL", "LOG_LEVEL")

	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

// ensureDefaultConfigFile writes the default config.yaml if none exists.
func ensureDefaultConfigFile(configDir string) error {
	path := paths.ConfigFile(configDir)
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}

// decodeConfig builds the client configuration. Tables and policy fall back
// to the built-in definitions when the config does not declare them.
func decodeConfig(v *viper.Viper) (types.Config, error) {
	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if !v.IsSet(cfgKeyTables) {
		cfg.Tables = types.DefaultTables()
	}
	if !v.IsSet(cfgKeyPolicy) {
		cfg.Policy = types.DefaultPolicy()
	}
	return cfg, nil
}
