// Package cli implements the optimo command line.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/optimo/internal/app"
	"github.com/example/optimo/internal/config"
	"github.com/example/optimo/internal/logging"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "optimo",
	Short: "optimo turns optimization problems into validated Pyomo models",
	Long: `optimo runs a three-stage pipeline over a natural-language optimization problem:
an Expert reformulates it (or asks clarifying questions), an Integrator writes a Pyomo
model that must pass a lint quality gate, and a Validator runs the model in a sandbox.

Configuration is read from optimo.yaml (or --config), OPTIMO_* environment variables
and .env, in increasing order of precedence.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./optimo.yaml when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override log.format (json, console)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(lintCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(runsCmd)
}

// loadConfig reads the configuration and applies the logging flag overrides.
func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// openApp wires the full pipeline; the caller closes it.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, log, appOptions)
	if err != nil {
		return nil, fmt.Errorf("start pipeline: %w", err)
	}
	return a, nil
}

// appOptions lets tests substitute components.
var appOptions app.Options
