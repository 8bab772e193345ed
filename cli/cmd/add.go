package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/AditthyaSS/Flux/cli/render"
	"github.com/AditthyaSS/Flux/engine"
	"github.com/AditthyaSS/Flux/log"
)

// AddCommand returns the add command: enqueue a transfer into the
// persistent registry without waiting for it. The task is picked up
// by a later `get`-style resume or by the serve daemon.
func AddCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Enqueue a download without waiting",
		ArgsUsage: "<url>",
		Flags: []cli.Flag{
			ConfigFlag(),
			FormatFlag(),
			&cli.StringFlag{
				Name:    "dir",
				Aliases: []string{"d"},
				Usage:   "Destination directory (default: config download_dir)",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output filename (default: derived from the response)",
			},
		},
		Action: addAction,
	}
}

func addAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("url required", exitInvalidArgument)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	// Enqueue only. Nothing should start transferring in this process.
	autoStart := false
	cfg.AutoStart = &autoStart

	manager, cleanup, err := openManager(cfg, log.Nop())
	if err != nil {
		return exitErr(err)
	}
	defer cleanup()

	task, err := manager.Add(engine.AddRequest{
		URL:      c.Args().First(),
		Dir:      c.String("dir"),
		Filename: c.String("output"),
	})
	if err != nil {
		return exitErr(err)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidArgument)
	}
	return r.Render(task)
}
