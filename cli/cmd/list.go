package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/AditthyaSS/Flux/cli/render"
	"github.com/AditthyaSS/Flux/log"
	"github.com/AditthyaSS/Flux/types"
)

// ListCommand returns the list command.
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List tasks in queue order",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Filter by status: queued, active, paused, completed, failed",
			},
		),
		Action: listAction,
	}
}

func listAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	autoStart := false
	cfg.AutoStart = &autoStart

	manager, cleanup, err := openManager(cfg, log.Nop())
	if err != nil {
		return exitErr(err)
	}
	defer cleanup()

	tasks, err := manager.List()
	if err != nil {
		return exitErr(err)
	}

	if filter := c.String("status"); filter != "" {
		status, err := parseStatus(filter)
		if err != nil {
			return cli.Exit(err.Error(), exitInvalidArgument)
		}
		kept := tasks[:0]
		for _, t := range tasks {
			if t.Status == status {
				kept = append(kept, t)
			}
		}
		tasks = kept
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidArgument)
	}
	return r.Render(tasks)
}

func parseStatus(s string) (types.TaskStatus, error) {
	switch status := types.TaskStatus(s); status {
	case types.StatusQueued, types.StatusActive, types.StatusPaused,
		types.StatusCompleted, types.StatusFailed:
		return status, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}
