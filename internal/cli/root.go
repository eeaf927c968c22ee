// Package cli implements the docrel command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/docrel/internal/logging"
	"github.com/mesh-intelligence/docrel/internal/paths"
	"github.com/mesh-intelligence/docrel/pkg/docrel"
	"github.com/mesh-intelligence/docrel/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	compact   bool
}

// app is the state shared by every subcommand of one invocation.
type app struct {
	flags     rootFlags
	configDir string
	v         *viper.Viper
	logger    *zap.Logger
	stdin     io.Reader
}

// NewRootCmd creates the top-level "docrel" command with global flags and all
// subcommands registered.
func NewRootCmd() *cobra.Command {
	return newRootCmd(os.Stdin)
}

func newRootCmd(stdin io.Reader) *cobra.Command {
	a := &app{logger: zap.NewNop(), stdin: stdin}
	root := &cobra.Command{
		Use:   "docrel",
		Short: "Query a remote document store like a relational database",
		Long: "docrel runs table queries, watches realtime changes, manages the signed-in\n" +
			"session and uploads files against a document store, or serves a local emulator of one.",
		Version:           docrel.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) { _ = a.logger.Sync() },
	}

	root.PersistentFlags().StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	root.PersistentFlags().BoolVar(&a.flags.compact, "compact", false, "print JSON on one line")

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(a),
		newSelectCmd(a),
		newInsertCmd(a),
		newUpdateCmd(a),
		newDeleteCmd(a),
		newWatchCmd(a),
		newLoginCmd(a),
		newSignupCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newUploadCmd(a),
		newEmulatorCmd(a),
	)
	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	stop()
	if err == nil {
		os.Exit(exitSuccess)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	var ue *userError
	if errors.As(err, &ue) {
		os.Exit(exitUserError)
	}
	os.Exit(exitSysError)
}

// userError marks a failure caused by the invocation rather than the system.
type userError struct{ err error }

func (e *userError) Error() string { return e.err.Error() }
func (e *userError) Unwrap() error { return e.err }

func userErrorf(format string, args ...any) error {
	return &userError{err: fmt.Errorf(format, args...)}
}

// setup loads .env, the config directory and the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" {
		return nil
	}
	// A missing .env is normal.
	_ = godotenv.Load()

	dir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return fmt.Errorf("resolve config dir: %w", err)
	}
	a.configDir = dir

	v, err := loadConfig(dir)
	if err != nil {
		return err
	}
	a.v = v

	logger, err := logging.Init(logging.Config{
		Level:  v.GetString(cfgKeyLogLevel),
		Dev:    v.GetBool(cfgKeyLogDev),
		File:   v.GetString(cfgKeyLogFile),
		Output: os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	a.logger = logger
	return nil
}

// client builds a docrel client from the loaded config and restores the
// saved session. Callers must Close it.
func (a *app) client() (*docrel.Client, error) {
	cfg, err := decodeConfig(a.v)
	if err != nil {
		return nil, err
	}
	c, err := docrel.New(cfg, docrel.WithLogger(a.logger))
	if err != nil {
		if errors.Is(err, types.ErrEndpointEmpty) || errors.Is(err, types.ErrProjectEmpty) || errors.Is(err, types.ErrDatabaseEmpty) {
			return nil, userErrorf("%w (run \"docrel init\" or edit %s)", err, paths.ConfigFile(a.configDir))
		}
		return nil, err
	}
	cookies, err := loadSession(paths.SessionFile(a.configDir))
	if err != nil {
		a.logger.Warn("saved session ignored", zap.Error(err))
	}
	c.Gateway().RestoreSession(cookies)
	return c, nil
}

// saveSession persists the client's current session cookies.
func (a *app) saveSession(c *docrel.Client) error {
	return saveSession(paths.SessionFile(a.configDir), c.Gateway().SessionCookies())
}
