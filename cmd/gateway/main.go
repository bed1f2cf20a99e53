// Package main is the entry point for the admission gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vyrodovalexey/admission/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// defaultConfigFile is resolved through config.ResolveConfigPath.
const defaultConfigFile = "admission.yaml"

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	watch       bool
	showVersion bool
}

func main() {
	flags := parseFlags(flag.CommandLine, os.Args[1:])

	if flags.showVersion {
		printVersion()
		return
	}

	logger, err := initLogger(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags, logger); err != nil {
		logger.Error("gateway failed", observability.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

// parseFlags parses command line flags, with environment fallbacks.
func parseFlags(fs *flag.FlagSet, args []string) cliFlags {
	var f cliFlags
	fs.StringVar(&f.configPath, "config", getEnvOrDefault("ADMISSION_CONFIG_PATH", defaultConfigFile),
		"Path to configuration file (relative names are also searched in configs/, /etc/admission and ~/.admission)")
	fs.StringVar(&f.logLevel, "log-level", getEnvOrDefault("ADMISSION_LOG_LEVEL", ""),
		"Log level (debug, info, warn, error); overrides the configuration")
	fs.StringVar(&f.logFormat, "log-format", getEnvOrDefault("ADMISSION_LOG_FORMAT", "json"),
		"Log format (json, console)")
	fs.BoolVar(&f.watch, "watch", getEnvBool("ADMISSION_WATCH_CONFIG", true),
		"Reload the origin policy when the configuration file changes")
	fs.BoolVar(&f.showVersion, "version", false, "Show version information")
	_ = fs.Parse(args)
	return f
}

// printVersion prints version information.
func printVersion() {
	fmt.Printf("admission version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the process logger. The level from flags wins
// over the configuration, which is not loaded yet.
func initLogger(flags cliFlags) (observability.Logger, error) {
	cfg := observability.DefaultLogConfig()
	if flags.logLevel != "" {
		cfg.Level = flags.logLevel
	}
	cfg.Format = flags.logFormat

	logger, err := observability.NewLogger(cfg)
	if err != nil {
		return nil, err
	}
	observability.SetGlobalLogger(logger)
	return logger, nil
}
