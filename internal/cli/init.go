package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/docrel/internal/paths"
)

// configFile holds the connection keys written by "docrel init".
type configFile struct {
	Endpoint string `yaml:"endpoint"`
	Project  string `yaml:"project"`
	Database string `yaml:"database"`
	APIKey   string `yaml:"api_key,omitempty"`
	LogLevel string `yaml:"log_level"`
}

func newInitCmd(a *app) *cobra.Command {
	var (
		cfg   configFile
		force bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the store connection to config.yaml",
		Long: "Write endpoint, project and database to config.yaml in the config directory.\n" +
			"An existing connection is kept unless --force is given.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.Endpoint == "" || cfg.Project == "" || cfg.Database == "" {
				return userErrorf("--endpoint, --project and --database are required")
			}
			if !force && a.v.IsSet(cfgKeyEndpoint) && a.v.GetString(cfgKeyEndpoint) != "" {
				return userErrorf("config already has an endpoint; use --force to replace it")
			}
			cfg.LogLevel = a.v.GetString(cfgKeyLogLevel)

			data, err := yaml.Marshal(&cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			path := paths.ConfigFile(a.configDir)
			if err := os.WriteFile(path, data, 0o600); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.Endpoint, "endpoint", "", "store base URL, e.g. http://127.0.0.1:8090/v1")
	cmd.Flags().StringVar(&cfg.Project, "project", "", "project identifier")
	cmd.Flags().StringVar(&cfg.Database, "database", "", "database identifier")
	cmd.Flags().StringVar(&cfg.APIKey, "api-key", "", "privileged server key (optional)")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing connection")
	return cmd
}
