// Package app owns process lifecycle: it runs a set of long-lived
// components under one signal-aware context and shuts them down together
// when any of them fails or the process is signalled.
package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"pnl_monitor/internal/core"
)

// Runner is a component with a blocking lifecycle: Run serves until the
// context is cancelled, then drains and returns.
type Runner interface {
	Run(ctx context.Context) error
}

// App ties runners to the process's signals.
type App struct {
	name   string
	logger core.ILogger
}

// New creates an App for the named process.
func New(name string, logger core.ILogger) *App {
	return &App{
		name:   name,
		logger: logger.WithField("app", name),
	}
}

// Run starts every runner and blocks until they all return. SIGINT or
// SIGTERM cancels the shared context; so does the first runner error,
// which Run then reports.
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	a.logger.Info("Starting", "runners", len(runners))
	for _, runner := range runners {
		r := runner
		g.Go(func() error {
			return r.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("Stopped with error", "error", err)
		return err
	}

	a.logger.Info("Shut down cleanly")
	return nil
}
