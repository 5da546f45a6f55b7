// Package cmd provides the CLI commands for amanrag.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/logging"
	"github.com/Aman-CERP/amanrag/pkg/version"
)

// Global flags
var (
	debugMode      bool
	projectDir     string
	loggingCleanup func()
)

// NewRootCmd creates the root command for the amanrag CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "amanrag",
		Short: "Hybrid retrieval over a local corpus",
		Long: `amanrag answers queries with a hybrid retrieval pipeline.

Queries are optionally decomposed into sub-queries (BM25) and expanded with a
hypothetical answer passage (HyDE, dense search). Both channels run
concurrently, are merged with Reciprocal Rank Fusion and reordered by a
cross-encoder. Every model call degrades gracefully when its provider is down.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("amanrag version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.amanrag/logs/ and stderr")
	cmd.PersistentFlags().StringVarP(&projectDir, "dir", "C", ".", "Project directory containing .amanrag.yaml")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().ExecuteContext(context.Background())
}

// startLogging installs the stderr logger, or the debug file logger with --debug.
func startLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	if debugMode {
		cfg = logging.DebugConfig()
	}
	if err := installLogger(cfg); err != nil {
		return err
	}
	if debugMode {
		slog.Info("debug_logging_enabled",
			slog.String("log_file", cfg.FilePath),
			slog.String("version", version.Version))
	}
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

func installLogger(cfg logging.Config) error {
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	if loggingCleanup != nil {
		loggingCleanup()
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

// loadConfig loads the layered configuration for the project directory and
// applies its logging section unless --debug already took over.
func loadConfig() (*config.Config, string, error) {
	root, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve project directory: %w", err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, "", fmt.Errorf("project directory not found: %s", root)
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, "", err
	}

	if !debugMode {
		lc := logging.DefaultConfig()
		lc.Level = cfg.Logging.Level
		if cfg.Logging.File != "" {
			lc.FilePath = resolvePath(root, cfg.Logging.File)
			lc.WriteToStderr = false
		}
		if err := installLogger(lc); err != nil {
			return nil, "", err
		}
	}

	return cfg, root, nil
}

// resolvePath makes configured relative paths relative to the project root.
func resolvePath(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
