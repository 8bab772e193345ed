package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/AditthyaSS/Flux/api"
	"github.com/AditthyaSS/Flux/log"
)

// shutdownGrace bounds how long in-flight API requests may linger
// after a termination signal. Running transfers are paused, not
// abandoned: their chunk maps stay on disk for resume.
const shutdownGrace = 10 * time.Second

// ServeCommand returns the serve command: the long-running daemon
// exposing the REST control API over the shared registry.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the control API daemon",
		Flags: []cli.Flag{
			ConfigFlag(),
			&cli.StringFlag{
				Name:    "listen",
				Aliases: []string{"l"},
				Usage:   "Listen address (overrides config api.listen)",
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if listen := c.String("listen"); listen != "" {
		cfg.API.Listen = listen
	}

	lg := log.New(cfg.LogLevel)
	manager, cleanup, err := openManager(cfg, lg)
	if err != nil {
		return exitErr(err)
	}
	defer cleanup()
	if err := manager.RecoverInterrupted(); err != nil {
		return exitErr(err)
	}

	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr:    cfg.API.Listen,
		Handler: api.New(manager, lg).Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		lg.Info("api listening", zap.String("addr", cfg.API.Listen))
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		lg.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return cli.Exit(err.Error(), exitTransferFailed)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		lg.Warn("shutdown incomplete", zap.Error(err))
	}
	return nil
}
