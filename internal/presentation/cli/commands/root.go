// Package commands implements the CLI commands for the petsync daemon.
package commands

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/petsync/internal/adapters/identity"
	"github.com/jbctechsolutions/petsync/internal/adapters/store/memory"
	"github.com/jbctechsolutions/petsync/internal/adapters/store/remote"
	"github.com/jbctechsolutions/petsync/internal/application/ports"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/config"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/logging"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/tracing"
	"github.com/jbctechsolutions/petsync/internal/presentation/cli/output"
)

// Version information - set at build time via ldflags.
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// GlobalFlags holds the global CLI flags.
type GlobalFlags struct {
	ConfigFile string
	Output     string
	Verbose    bool
}

// AppContext holds everything a command needs after initialization.
type AppContext struct {
	Config    *config.Config
	Paths     *config.Paths
	Formatter *output.Formatter
	Logger    *logging.Logger
	Tracer    *tracing.Tracer
	Flags     *GlobalFlags
}

var (
	globalFlags GlobalFlags
	appCtx      *AppContext
	appCtxMu    sync.RWMutex
)

// NewRootCmd creates the root command for the petsync CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "petsync",
		Short: "Petsync - keep a paired device in sync with its cloud account",
		Long: `Petsync pairs this machine with a cloud account and runs a daemon that
keeps the local agent installation (configuration and workspace files) in
agreement with the remote document store, executes remotely issued
commands, and relays streaming chat through the local agent gateway.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Help and version need no configuration.
			if cmd.Name() == "help" || cmd.Name() == "version" || cmd.Name() == "completion" {
				return nil
			}
			return initializeApp(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().StringVarP(&globalFlags.ConfigFile, "config", "c", "", "config file path (default: ~/.petsync/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&globalFlags.Output, "output", "o", "text", "output format: text, json")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(NewVersionCmd())
	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewLoginCmd())
	rootCmd.AddCommand(NewLogoutCmd())
	rootCmd.AddCommand(NewStatusCmd())
	rootCmd.AddCommand(NewServiceCmd())

	return rootCmd
}

// initializeApp loads configuration and wires the shared infrastructure.
func initializeApp(ctx context.Context) error {
	format := output.FormatText
	if globalFlags.Output == "json" {
		format = output.FormatJSON
	}
	formatter := output.NewFormatter(
		output.WithFormat(format),
		output.WithColor(format != output.FormatJSON),
	)

	loader, err := config.NewLoader("")
	if err != nil {
		return fmt.Errorf("failed to create config loader: %w", err)
	}
	cfg, err := loader.Load(globalFlags.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if globalFlags.Verbose {
		cfg.Logging.Level = string(logging.LevelDebug)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	paths, err := config.ResolvePaths(cfg)
	if err != nil {
		return fmt.Errorf("failed to resolve paths: %w", err)
	}

	logger := logging.Init(logging.Config{
		Level:  logging.Level(cfg.Logging.Level),
		Format: logging.Format(cfg.Logging.Format),
		Output: os.Stderr,
	})

	tracer, err := tracing.Init(ctx, tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ExporterType: tracing.ExporterType(cfg.Tracing.ExporterType),
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		ServiceName:  cfg.Tracing.ServiceName,
		SampleRate:   cfg.Tracing.SampleRate,
	})
	if err != nil {
		logger.Warn("tracing init failed", "error", err)
		tracer = tracing.Default()
	}

	appCtxMu.Lock()
	appCtx = &AppContext{
		Config:    cfg,
		Paths:     paths,
		Formatter: formatter,
		Logger:    logger,
		Tracer:    tracer,
		Flags:     &globalFlags,
	}
	appCtxMu.Unlock()

	return nil
}

// GetAppContext returns the initialized application context, or nil.
func GetAppContext() *AppContext {
	appCtxMu.RLock()
	defer appCtxMu.RUnlock()
	return appCtx
}

// GetFormatter returns the output formatter, creating a default one when the
// app context is not initialized.
func GetFormatter() *output.Formatter {
	appCtxMu.RLock()
	ctx := appCtx
	appCtxMu.RUnlock()

	if ctx != nil {
		return ctx.Formatter
	}
	return output.NewFormatter()
}

// identityEndpoints maps the configuration onto the identity adapter.
func identityEndpoints(cfg *config.Config) identity.Endpoints {
	return identity.Endpoints{
		TokenURL:          cfg.Identity.TokenURL,
		RefreshSessionURL: cfg.Identity.RefreshSessionURL,
		ClaimDeviceURL:    cfg.Identity.ClaimDeviceURL,
		ClientURL:         cfg.Identity.ClientURL,
	}
}

// newStore builds the document store named by backend, defaulting to the
// configured one. The memory backend exists for offline development and
// tests; everything real goes through the remote client.
func newStore(cfg *config.Config, backend string, tokens ports.TokenProvider) (ports.DocumentStore, error) {
	if backend == "" {
		backend = cfg.Store.Backend
	}
	switch backend {
	case "memory":
		return memory.New(), nil
	case "remote":
		if cfg.Store.BaseURL == "" {
			return nil, fmt.Errorf("store.base_url is not configured")
		}
		rc := remote.DefaultConfig(cfg.Store.BaseURL)
		if cfg.Store.Timeout > 0 {
			rc.Timeout = cfg.Store.Timeout
		}
		return remote.NewClient(rc, tokens), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// Execute runs the root command. Errors map to exit code 1; an unpaired or
// expired credential state is the common case.
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		GetFormatter().Error("%s", err.Error())
		os.Exit(1)
	}
}
