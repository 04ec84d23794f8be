// Package sched runs a component's tick on a fixed interval with
// skip-if-running semantics: when a tick outlasts the interval, the next
// firing is skipped, never queued. Stop waits for the in-flight tick to
// drain so a shutdown never aborts a batch mid-checkpoint.
package sched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"pnl_monitor/internal/core"
	apperrors "pnl_monitor/pkg/errors"
)

// TickFunc is one pass of a component's loop. Errors are logged by the
// scheduler; only the component decides whether an error is fatal, by
// cancelling the context it handed to Run.
type TickFunc func(ctx context.Context) error

// Scheduler drives one TickFunc on an interval.
type Scheduler struct {
	name        string
	interval    time.Duration
	tick        TickFunc
	logger      core.ILogger
	stopTimeout time.Duration

	running sync.Mutex // held while a tick is in flight
	fatal   chan error
}

// New creates a scheduler for the named component.
func New(name string, interval time.Duration, tick TickFunc, logger core.ILogger) *Scheduler {
	return &Scheduler{
		name:        name,
		interval:    interval,
		tick:        tick,
		logger:      logger.WithField("component", name+"_scheduler"),
		stopTimeout: 30 * time.Second,
		fatal:       make(chan error, 1),
	}
}

// Run fires the tick immediately, then on every interval until ctx is
// cancelled, then drains the in-flight tick. It satisfies app.Runner.
func (s *Scheduler) Run(ctx context.Context) error {
	cronLog := &cronLogger{logger: s.logger}
	c := cron.New(cron.WithChain(cron.Recover(cronLog)))

	c.Schedule(cron.Every(s.interval), cron.FuncJob(func() { s.fire(ctx) }))
	s.logger.Info("Scheduler started", "interval", s.interval.String())

	// cron waits a full interval before the first firing; run one tick
	// up front so a restart resumes without that dead time.
	s.fire(ctx)
	c.Start()

	var fatal error
	select {
	case <-ctx.Done():
		s.logger.Info("Scheduler stopping, draining in-flight tick")
	case fatal = <-s.fatal:
		s.logger.Error("Scheduler stopping on unrecoverable error", "error", fatal)
	}

	drain := c.Stop()
	select {
	case <-drain.Done():
		// cron's jobs have returned; take the lock so a tick that started
		// just before Stop has fully finished and checkpointed.
		s.running.Lock()
		s.running.Unlock()
		s.logger.Info("Scheduler stopped")
		return fatal
	case <-time.After(s.stopTimeout):
		return fmt.Errorf("%s scheduler: tick did not drain within %s", s.name, s.stopTimeout)
	}
}

// fire runs one tick unless the previous one is still in flight, in
// which case this firing is dropped.
func (s *Scheduler) fire(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !s.running.TryLock() {
		s.logger.Warn("Tick still running, skipping this interval")
		return
	}
	defer s.running.Unlock()

	if err := s.tick(ctx); err != nil {
		if apperrors.IsStructural(err) {
			select {
			case s.fatal <- err:
			default:
			}
			return
		}
		s.logger.Error("Tick failed", "error", err)
	}
}

// cronLogger adapts core.ILogger to cron.Logger.
type cronLogger struct {
	logger core.ILogger
}

func (c *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debug(msg, keysAndValues...)
}

func (c *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := append([]interface{}{"error", err}, keysAndValues...)
	c.logger.Error(msg, fields...)
}
