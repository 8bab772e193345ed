// Package main provides the flux CLI entrypoint.
//
// Usage:
//
//	flux <command> [options] [args]
//
// Exit codes:
//   - 0: success
//   - 1: transfer failed
//   - 2: task not found
//   - 3: invalid argument
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/AditthyaSS/Flux/cli/cmd"
	"github.com/AditthyaSS/Flux/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "flux",
		Usage:          "Adaptive multi-connection download engine",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.GetCommand(),
			cmd.AddCommand(),
			cmd.ResumeCommand(),
			cmd.ListCommand(),
			cmd.InspectCommand(),
			cmd.RemoveCommand(),
			cmd.ServeCommand(),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already handled cli.ExitCoder errors. This
		// branch covers unexpected errors that weren't wrapped.
		os.Exit(1)
	}
}

// exitErrHandler preserves typed exit codes from cli.Exit() so
// scripted callers can distinguish failure classes.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() returns "exit status N"; skip those.
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
