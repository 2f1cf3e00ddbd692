package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/relieftools/fieldsync/internal/api"
	"github.com/relieftools/fieldsync/internal/config"
	"github.com/relieftools/fieldsync/internal/engine"
	"github.com/relieftools/fieldsync/internal/queue"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagServerURL  string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by
// PersistentPreRunE. Available to all subcommands after the pre-run phase.
var resolvedCfg *config.Resolved

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fieldsync",
		Short: "Offline-first sync client for disaster-response field data",
		Long: `fieldsync keeps a durable local queue of field operations (assessments,
responses, commitments, entity changes) and delivers them in batches to the
coordination server whenever connectivity allows. Failed deliveries retry
with backoff; conflicting edits are parked in a conflict ledger for
operator review.`,
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagServerURL, "server", "", "coordination server URL override")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newTriggerCmd())
	cmd.AddCommand(newEnqueueCmd())
	cmd.AddCommand(newQueueCmd())
	cmd.AddCommand(newConflictsCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// loadConfig resolves configuration from defaults, file, and environment,
// then applies CLI flag overrides.
func loadConfig() error {
	cfg, err := config.Resolve(flagConfigPath, config.ReadEnvOverrides())
	if err != nil {
		return err
	}

	if flagServerURL != "" {
		cfg.ServerURL = flagServerURL
	}

	resolvedCfg = cfg

	return nil
}

// buildLogger constructs the slog logger from flags and config. With a
// configured log file, output goes to a size-rotated file; otherwise to
// stderr.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	switch {
	case flagVerbose:
		level = slog.LevelDebug
	case flagQuiet:
		level = slog.LevelError
	default:
		switch resolvedCfg.Logging.Level {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	var w io.Writer = os.Stderr

	if resolvedCfg.Logging.File != "" {
		w = &lumberjack.Logger{
			Filename:   resolvedCfg.Logging.File,
			MaxSize:    resolvedCfg.Logging.MaxSizeMB,
			MaxBackups: resolvedCfg.Logging.MaxBackups,
		}
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openQueue opens the queue database, creating its directory if needed.
func openQueue(logger *slog.Logger) (*queue.Manager, error) {
	if err := os.MkdirAll(filepath.Dir(resolvedCfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	return queue.Open(resolvedCfg.DBPath, resolvedCfg.MaxAttempts, logger)
}

// buildAPIClient constructs the coordination server client. Requires
// server_url to be configured.
func buildAPIClient(logger *slog.Logger) (*api.Client, error) {
	if resolvedCfg.ServerURL == "" {
		return nil, fmt.Errorf("no coordination server configured (set server_url or --server)")
	}

	var (
		httpClient *http.Client
		token      api.TokenSource
	)

	if resolvedCfg.Auth.TokenURL != "" {
		// Client-credentials tokens ride in the HTTP client itself.
		httpClient = api.NewOAuthHTTPClient(context.Background(),
			resolvedCfg.Auth.TokenURL, resolvedCfg.Auth.ClientID, resolvedCfg.Auth.ClientSecret)
	} else if resolvedCfg.APIToken != "" {
		token = api.StaticToken(resolvedCfg.APIToken)
	}

	return api.NewClient(resolvedCfg.ServerURL, httpClient, token,
		resolvedCfg.RequestTimeout, logger), nil
}

// buildEngine wires queue, client, and connectivity monitor into the
// process's single sync engine. The caller owns closing all three.
func buildEngine(
	mgr *queue.Manager, client *api.Client, logger *slog.Logger,
) (*engine.Engine, *engine.Monitor, error) {
	monitor := engine.NewMonitor(client.Health, resolvedCfg.ProbeInterval, logger)

	eng, err := engine.New(&engine.Config{
		Queue:        mgr,
		Sender:       client,
		Monitor:      monitor,
		MaxBatchSize: resolvedCfg.MaxBatchSize,
		BackoffBase:  resolvedCfg.BackoffBase,
		BackoffCap:   resolvedCfg.BackoffCap,
		Logger:       logger,
	})
	if err != nil {
		return nil, nil, err
	}

	return eng, monitor, nil
}

// exitOnError prints the error and exits with a non-zero status.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
