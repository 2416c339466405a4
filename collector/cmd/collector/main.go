// Command collector runs the router forensic collection pipeline.
//
// # Usage
//
//	collector run --config /etc/routerwatch/collector.yaml
//	collector cycle <device-id>
//	collector probe --host 192.0.2.1 --user admin
//	collector sla --tenant acme
//
// # Configuration
//
// Configuration can be provided via:
// - Command-line flags
// - Environment variables (ROUTERWATCH_*), also read from a .env file
// - Config file (--config, YAML or TOML)
//
// # Examples
//
// Run standalone against a local SQLite database:
//
//	collector run --sqlite /var/lib/routerwatch/collector.db
//
// Run against PostgreSQL with environment variables:
//
//	ROUTERWATCH_DATABASE_URL=postgres://routerwatch@db/routerwatch \
//	ROUTERWATCH_VAULT_KEY_FILE=/etc/routerwatch/vault.key \
//	collector run
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/pilot-net/routerwatch/collector/internal/config"
)

// Version is set at build time.
var Version = "dev"

type globalFlags struct {
	configFile string
	envFile    string
	sqlite     string
	debug      bool
}

func main() {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:           "collector",
		Short:         "Router forensic collection and alerting",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "path to config file (YAML or TOML)")
	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().StringVar(&flags.sqlite, "sqlite", "", "use a standalone SQLite database instead of PostgreSQL")
	rootCmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newRunCmd(&flags),
		newCycleCmd(&flags),
		newProbeCmd(&flags),
		newSLACmd(&flags),
		newHealthCmd(&flags),
		newTransitionCmd(&flags),
		newEncryptCmd(&flags),
		newDeviceCmd(&flags),
		newMigrateCmd(&flags),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig layers defaults, the config file, the environment and flags,
// then validates the result.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	if flags.envFile != "" {
		if err := godotenv.Load(flags.envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading %s: %w", flags.envFile, err)
		}
	}

	cfg := config.DefaultConfig()
	if flags.configFile != "" {
		fileCfg, err := config.Load(flags.configFile)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	cfg.ApplyEnvOverrides()

	if flags.sqlite != "" {
		cfg.Database.SQLitePath = flags.sqlite
	}
	if flags.debug {
		cfg.Log.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
