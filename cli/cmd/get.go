package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/AditthyaSS/Flux/cli/render"
	"github.com/AditthyaSS/Flux/engine"
	"github.com/AditthyaSS/Flux/log"
	"github.com/AditthyaSS/Flux/types"
)

// GetCommand returns the get command: enqueue a single transfer, wait
// for it to finish, and report the outcome. This is the headless
// one-shot mode; progress goes to stderr so stdout stays parseable.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Download a URL and wait for completion",
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
		Action: getAction,
	}
}

// getResult is the rendered outcome of a completed get.
type getResult struct {
	TaskID   string  `json:"task_id"`
	URL      string  `json:"url"`
	Path     string  `json:"path"`
	Size     int64   `json:"size"`
	Duration string  `json:"duration"`
	SpeedBps float64 `json:"speed_bps"`
}

func getAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("url required", exitInvalidArgument)
	}
	rawURL := c.Args().First()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	// One-shot mode always starts the transfer immediately.
	autoStart := true
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

	started := time.Now()
	task, err := manager.Add(engine.AddRequest{
		URL:      rawURL,
		Dir:      c.String("dir"),
		Filename: c.String("output"),
	})
	if err != nil {
		return exitErr(err)
	}

	showProgress := !c.Bool("quiet") && isStderrTTY()
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		watchProgress(events, task.ID, showProgress)
	}()

	waitErr := manager.Wait(ctx, task.ID)
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

	final, err := manager.Get(task.ID)
	if err != nil {
		return exitErr(err)
	}

	elapsed := time.Since(started)
	result := getResult{
		TaskID:   final.ID,
		URL:      final.URL,
		Path:     final.Destination,
		Size:     final.TotalSize,
		Duration: elapsed.Round(time.Millisecond).String(),
	}
	if elapsed > 0 {
		result.SpeedBps = float64(final.TotalSize) / elapsed.Seconds()
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidArgument)
	}
	if err := r.Render(result); err != nil {
		return err
	}
	return cli.Exit("", exitSuccess)
}

// watchProgress consumes the event stream for one task and, when
// enabled, keeps a single-line progress readout on stderr. It returns
// when the stream closes or the task reaches a terminal event.
func watchProgress(events <-chan types.EventEnvelope, taskID string, show bool) {
	var (
		bytesDone int64
		totalSize int64
		speed     float64
		eta       = "unknown"
	)

	draw := func() {
		if !show {
			return
		}
		line := fmt.Sprintf("\r%s  %s / %s  %s  eta %s",
			render.Percent(bytesDone, totalSize),
			render.Bytes(bytesDone),
			render.Bytes(totalSize),
			render.Speed(speed),
			eta)
		fmt.Fprintf(os.Stderr, "%-80s", line)
	}

	for ev := range events {
		if ev.TaskID != taskID {
			continue
		}
		switch payload := ev.Payload.(type) {
		case types.ChunkProgressPayload:
			bytesDone = payload.BytesDone
			totalSize = payload.TotalSize
			draw()
		case types.SpeedUpdatePayload:
			speed = payload.Current
			remaining := time.Duration(payload.ETASeconds * float64(time.Second))
			eta = render.ETA(remaining, payload.ETAAccuracy)
			draw()
		}
		if ev.Type.IsTerminal() {
			return
		}
	}
}
