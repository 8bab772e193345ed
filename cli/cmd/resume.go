package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/AditthyaSS/Flux/cli/render"
	"github.com/AditthyaSS/Flux/log"
)

// ResumeCommand returns the resume command: restart a paused or failed
// task from its persisted chunk map and wait for it to finish.
func ResumeCommand() *cli.Command {
	return &cli.Command{
		Name:      "resume",
		Usage:     "Resume a task from its saved state and wait",
		ArgsUsage: "<task-id>",
		Flags: []cli.Flag{
			ConfigFlag(),
			FormatFlag(),
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Suppress the progress line",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Emit engine logs to stderr",
			},
		},
		Action: resumeAction,
	}
}

func resumeAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("task-id required", exitInvalidArgument)
	}
	taskID := c.Args().First()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	autoStart := false
	cfg.AutoStart = &autoStart

	lg := log.Nop()
	if c.Bool("verbose") {
		lg = log.New(cfg.LogLevel)
	}

	manager, cleanup, err := openManager(cfg, lg)
	if err != nil {
		return exitErr(err)
	}
	defer cleanup()
	if err := manager.RecoverInterrupted(); err != nil {
		return exitErr(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	events, unsubscribe := manager.Bus().Subscribe(256)
	defer unsubscribe()

	if err := manager.Resume(taskID); err != nil {
		return exitErr(err)
	}

	showProgress := !c.Bool("quiet") && isStderrTTY()
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		watchProgress(events, taskID, showProgress)
	}()

	waitErr := manager.Wait(ctx, taskID)
	unsubscribe()
	<-progressDone
	if showProgress {
		fmt.Fprintln(os.Stderr)
	}

	if waitErr != nil {
		if ctx.Err() != nil {
			return cli.Exit("interrupted", exitTransferFailed)
		}
		return exitErr(waitErr)
	}

	final, err := manager.Get(taskID)
	if err != nil {
		return exitErr(err)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidArgument)
	}
	if err := r.Render(final); err != nil {
		return err
	}
	return cli.Exit("", exitSuccess)
}
