// Package cmd implements the flux CLI commands.
//
// All commands share a common bootstrap: load config, open the task
// registry under the state directory, and build an engine manager.
// Exit codes are uniform across commands:
//   - 0: success
//   - 1: transfer failed
//   - 2: task not found
//   - 3: invalid argument
package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/AditthyaSS/Flux/config"
	"github.com/AditthyaSS/Flux/engine"
	"github.com/AditthyaSS/Flux/log"
	"github.com/AditthyaSS/Flux/store"
	"github.com/AditthyaSS/Flux/types"
)

const (
	exitSuccess         = 0
	exitTransferFailed  = 1
	exitTaskNotFound    = 2
	exitInvalidArgument = 3
)

// registryFile is the sqlite registry filename inside the state dir.
const registryFile = "flux.db"

// ConfigFlag selects the YAML config file. Missing files fall back to
// built-in defaults so the CLI works with zero setup.
func ConfigFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to config file (YAML)",
		EnvVars: []string{"FLUX_CONFIG"},
	}
}

// FormatFlag selects output format for read commands.
func FormatFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, or yaml (default: table if TTY, json otherwise)",
	}
}

// ReadOnlyFlags returns the flags for commands that only render state.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{ConfigFlag(), FormatFlag()}
}

// loadConfig loads the config named by --config, or defaults.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(c.String("config"))
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("config: %v", err), exitInvalidArgument)
	}
	return cfg, nil
}

// openManager builds a manager over the persistent registry. The
// caller must invoke the returned cleanup when done.
func openManager(cfg *config.Config, lg *log.Logger) (*engine.Manager, func(), error) {
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create state dir: %w", err)
	}

	registry, err := store.Open(filepath.Join(cfg.StateDir, registryFile))
	if err != nil {
		return nil, nil, fmt.Errorf("open registry: %w", err)
	}

	manager, err := engine.NewManager(cfg, lg, registry)
	if err != nil {
		_ = registry.Close()
		return nil, nil, err
	}

	cleanup := func() {
		_ = manager.Close()
		_ = registry.Close()
	}
	return manager, cleanup, nil
}

// exitErr translates an engine error into a typed CLI exit.
func exitErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, types.ErrTaskNotFound):
		return cli.Exit(err.Error(), exitTaskNotFound)
	case errors.Is(err, types.ErrInvalidArgument):
		return cli.Exit(err.Error(), exitInvalidArgument)
	default:
		return cli.Exit(err.Error(), exitTransferFailed)
	}
}

// isStderrTTY reports whether stderr is attached to a terminal. The
// live progress line is suppressed when output is piped.
func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
