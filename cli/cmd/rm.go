package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/AditthyaSS/Flux/log"
)

// RemoveCommand returns the rm command.
func RemoveCommand() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Usage:     "Remove a task from the registry",
		ArgsUsage: "<task-id>",
		Flags: []cli.Flag{
			ConfigFlag(),
			&cli.BoolFlag{
				Name:  "purge",
				Usage: "Also delete downloaded data and partial files",
			},
		},
		Action: removeAction,
	}
}

func removeAction(c *cli.Context) error {
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

	if err := manager.Delete(taskID, c.Bool("purge")); err != nil {
		return exitErr(err)
	}

	fmt.Println(taskID)
	return nil
}
