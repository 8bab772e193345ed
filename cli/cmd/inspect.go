package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/AditthyaSS/Flux/cli/render"
	"github.com/AditthyaSS/Flux/log"
)

// InspectCommand returns the inspect command: the deep view of one
// task, including its chunk map, live metrics, and decision log.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Inspect a task by ID",
		ArgsUsage: "<task-id>",
		Flags:     ReadOnlyFlags(),
		Action:    inspectAction,
	}
}

func inspectAction(c *cli.Context) error {
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

	manager, cleanup, err := openManager(cfg, log.Nop())
	if err != nil {
		return exitErr(err)
	}
	defer cleanup()

	detail, err := manager.Detail(taskID)
	if err != nil {
		return exitErr(err)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidArgument)
	}
	return r.Render(detail)
}
