package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/docrel/internal/emulator"
	"github.com/mesh-intelligence/docrel/internal/metrics"
	"github.com/mesh-intelligence/docrel/internal/paths"
)

const shutdownTimeout = 5 * time.Second

func newEmulatorCmd(a *app) *cobra.Command {
	var (
		addr        string
		dataDir     string
		noPersist   bool
		collections []string
	)
	cmd := &cobra.Command{
		Use:   "emulator",
		Short: "Serve a local document store for development",
		Long: "Serve the document store REST and realtime API from a local SQLite database.\n" +
			"Collections are snapshotted to JSONL files in the data directory on shutdown and\n" +
			"loaded again on start. The project, database and api_key come from config.yaml\n" +
			"(default project \"local\", database \"main\").",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("addr") {
				addr = a.v.GetString(cfgKeyEmulatorAddr)
			}
			cfg := emulator.Config{
				Project:     a.v.GetString(cfgKeyProject),
				Database:    a.v.GetString(cfgKeyDatabase),
				APIKey:      a.v.GetString(cfgKeyAPIKey),
				Collections: collections,
			}
			if cfg.Project == "" {
				cfg.Project = "local"
			}
			if cfg.Database == "" {
				cfg.Database = "main"
			}
			if secret := a.v.GetString(cfgKeyEmulatorSecret); secret != "" {
				cfg.Secret = []byte(secret)
			}
			if !noPersist && a.v.GetBool(cfgKeyEmulatorPersist) {
				dir, err := paths.ResolveEmulatorDir(dataDir, a.v.GetString(cfgKeyEmulatorDataDir))
				if err != nil {
					return fmt.Errorf("resolve emulator dir: %w", err)
				}
				cfg.DataDir = dir
			}
			return serveEmulator(cmd, a.logger, addr, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", defaultEmulatorAddr, "listen address")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "snapshot directory (default: ./"+paths.DefaultEmulatorDirName+")")
	cmd.Flags().BoolVar(&noPersist, "no-persist", false, "keep everything in memory")
	cmd.Flags().StringArrayVar(&collections, "collection", nil, "accept only these collections (repeatable; default: any)")
	return cmd
}

// serveEmulator runs the emulator until the command context ends, then shuts
// the server down and writes snapshots.
func serveEmulator(cmd *cobra.Command, logger *zap.Logger, addr string, cfg emulator.Config) error {
	emu, err := emulator.Open(cfg, logger.Named("emulator"))
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics.Register(reg)
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		emu.Close()
		return &userError{err: fmt.Errorf("listen %s: %w", addr, err)}
	}
	srv := &http.Server{Handler: emu.Handler(reg), ReadHeaderTimeout: 10 * time.Second}

	fmt.Fprintf(cmd.ErrOrStderr(), "emulator listening on http://%s/v1 (project %q, database %q)\n",
		ln.Addr(), cfg.Project, cfg.Database)
	if cfg.DataDir != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "snapshots in %s\n", cfg.DataDir)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	select {
	case err = <-serveErr:
	case <-cmd.Context().Done():
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err = srv.Shutdown(ctx)
		cancel()
	}
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	if closeErr := emu.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("close emulator: %w", closeErr)
	}
	return err
}
