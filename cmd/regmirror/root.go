package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/regmirror/internal/config"
	"github.com/BadgerOps/regmirror/internal/download"
	"github.com/BadgerOps/regmirror/internal/engine"
	"github.com/BadgerOps/regmirror/internal/manifest"
	"github.com/BadgerOps/regmirror/internal/mirror"
	"github.com/BadgerOps/regmirror/internal/state"
)

var (
	// Global flags
	cfgPath      string
	stateDir     string
	manifestPath string
	logLevel     string
	logFormat    string
	quiet        bool
	globalCfg    *config.Config
	logger       *slog.Logger
)

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regmirror [destination-registry[/path]] [mode]",
		Short: "Mirror a fixed manifest of container images into a destination registry",
		Long: `regmirror mirrors a static manifest of container images from vendor
registries into a customer-controlled registry. Progress is tracked per
image in a shared directory of marker files, so several independent
regmirror processes can cooperate on one manifest and any of them can be
re-run safely: completed images are skipped.

Modes:
  mirror   pull, verify, and push each image (default)
  pull     only download and verify, recording images as downloaded
  push     only push images another process already downloaded
  package  download and load bundled image archives
  mark     mark a loaded package's member images as downloaded`,
		Example: `  regmirror
  regmirror registry.example.com:5000/mirror
  regmirror registry.example.com:5000 pull
  regmirror registry.example.com:5000 push
  regmirror status`,
		Version: "0.1.0",
		Args:    cobra.MaximumNArgs(2),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			if cfgPath == "" {
				var err error
				cfgPath, err = config.FindConfigFile()
				if err != nil {
					logger.Warn("config file not found, using defaults", "error", err)
				}
			}

			if cfgPath != "" {
				var err error
				globalCfg, err = config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			} else {
				globalCfg = config.DefaultConfig()
			}

			// Override with command-line flags if provided
			if stateDir != "" {
				globalCfg.State.Dir = stateDir
			}
			if manifestPath != "" {
				globalCfg.Manifest = manifestPath
			}

			if !quiet {
				logger.Debug("config loaded", "path", cfgPath, "state_dir", globalCfg.State.Dir)
			}

			return nil
		},
		RunE: runMirror,
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "override marker state directory root")
	cmd.PersistentFlags().StringVar(&manifestPath, "manifest", "", "override image manifest path")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	cmd.AddCommand(
		newStatusCmd(),
		newManifestCmd(),
	)

	return cmd
}

// runMirror is the root command: drive the manifest through the selected
// mode against an optional positional destination registry.
func runMirror(cmd *cobra.Command, args []string) error {
	registry := globalCfg.Registry.Endpoint
	if len(args) > 0 && args[0] != "" {
		registry = args[0]
	}
	registry = normalizeRegistry(registry)
	if registry == "" {
		return fmt.Errorf("no destination registry configured")
	}

	modeArg := ""
	if len(args) > 1 {
		modeArg = args[1]
	}
	mode, err := mirror.ParseMode(modeArg)
	if err != nil {
		return err
	}

	man, err := manifest.Load(globalCfg.Manifest)
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}

	store, err := state.NewFileStore(globalCfg.StateDirFor(registry), logger)
	if err != nil {
		return fmt.Errorf("failed to open state directory: %w", err)
	}

	eng, err := engine.Detect(globalCfg.Engine.Preference, logger)
	if err != nil {
		return err
	}

	client := download.NewClient(logger)
	m := mirror.New(man, store, eng, client, globalCfg, registry, logger)
	runner := mirror.NewRunner(m, os.Stdout, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting run",
		"mode", string(mode),
		"registry", registry,
		"images", len(man.Images),
		"packages", len(man.Packages),
		"engine", eng.Name(),
	)

	summary, err := runner.Run(ctx, mode)
	if err != nil {
		// Interrupted: the in-flight marker was already reset, skip the summary.
		return fmt.Errorf("run interrupted: %w", err)
	}
	return summary.Err()
}

// normalizeRegistry strips any scheme and trailing slash from the
// destination registry argument.
func normalizeRegistry(endpoint string) string {
	e := strings.TrimSpace(endpoint)
	e = strings.TrimPrefix(e, "https://")
	e = strings.TrimPrefix(e, "http://")
	return strings.TrimRight(e, "/")
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}
