// Package poller maintains the durable fill log as a deduplicated,
// append-only mirror of venue executions. One tick is one atomic pass:
// fetch under the retry budget, drop known transaction ids, append the
// survivors, then advance the last-seen timestamp.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"pnl_monitor/internal/alert"
	"pnl_monitor/internal/core"
	apperrors "pnl_monitor/pkg/errors"
	"pnl_monitor/pkg/retry"
	"pnl_monitor/pkg/telemetry"
)

// Config holds the poller's per-tick parameters.
type Config struct {
	// Backoff is the per-tick fetch retry budget. Exhaustion skips the
	// tick; it is never fatal on its own.
	Backoff retry.Policy
	// DedupWindow bounds the recent-transaction-id set, refreshed from
	// the log tail at startup.
	DedupWindow int
	// StartTime seeds the fetch boundary when the log is empty.
	StartTime time.Time
	// MaxConsecutiveFailures raises a Critical alert when crossed.
	MaxConsecutiveFailures int
}

// Poller runs the fetch-dedup-append loop. It is the fill log's single
// writer.
type Poller struct {
	cfg    Config
	source core.IFillSource
	log    core.IFillAppender
	mirror core.IFillMirror
	alerts *alert.AlertManager
	logger core.ILogger

	mu                  sync.Mutex
	seen                *core.IDWindow
	lastSeen            time.Time
	consecutiveFailures int

	lastSuccess atomic.Value // time.Time

	tracer  trace.Tracer
	metrics *telemetry.MetricsHolder
}

// New creates a poller. mirror and alerts may be nil.
func New(cfg Config, source core.IFillSource, log core.IFillAppender, mirror core.IFillMirror, alerts *alert.AlertManager, logger core.ILogger) *Poller {
	p := &Poller{
		cfg:     cfg,
		source:  source,
		log:     log,
		mirror:  mirror,
		alerts:  alerts,
		logger:  logger.WithField("component", "poller"),
		tracer:  telemetry.GetTracer("poller"),
		metrics: telemetry.GetGlobalMetrics(),
	}
	p.lastSuccess.Store(time.Time{})
	return p
}

// Start rebuilds the dedup window and last-seen timestamp from the tail
// of the existing log, so a restarted poller does not re-append fills the
// venue returns again.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seen = core.NewIDWindow(p.cfg.DedupWindow)
	p.lastSeen = p.cfg.StartTime

	tail, err := p.log.Tail(p.cfg.DedupWindow)
	if err != nil {
		return fmt.Errorf("recover from log tail: %w", err)
	}
	for _, fill := range tail {
		p.seen.Add(fill.TransactionID())
		if fill.Timestamp.After(p.lastSeen) {
			p.lastSeen = fill.Timestamp
		}
	}
	if len(tail) > 0 {
		p.logger.Info("Recovered from fill log",
			"tail_rows", len(tail),
			"last_seen", p.lastSeen.Format(time.RFC3339))
	} else {
		p.logger.Info("Fill log empty, starting fresh",
			"since", p.lastSeen.Format(time.RFC3339))
	}
	return nil
}

// Tick fetches fills since the last-seen timestamp and appends the new
// ones. Transient fetch failures consume the retry budget and then skip
// the tick; persistent auth failure is returned as structural so the
// caller can terminate the loop.
func (p *Poller) Tick(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "poller.tick",
		trace.WithAttributes(attribute.String("since", p.lastSeen.Format(time.RFC3339))))
	defer span.End()

	p.metrics.TicksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("component", "poller")))
	defer func() {
		p.metrics.TickDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("component", "poller")))
	}()

	var fills []core.FillRecord
	attempt := 0
	err := retry.Do(ctx, p.cfg.Backoff, apperrors.IsTransient, func() error {
		if attempt > 0 {
			p.metrics.FetchRetriesTotal.Add(ctx, 1)
		}
		attempt++
		var ferr error
		fills, ferr = p.source.FetchFills(ctx, p.lastSeen)
		return ferr
	})
	if err != nil {
		span.RecordError(err)
		return p.handleFetchFailure(ctx, err)
	}

	p.consecutiveFailures = 0
	p.lastSuccess.Store(time.Now())
	p.metrics.FillsFetchedTotal.Add(ctx, int64(len(fills)))

	fresh := make([]core.FillRecord, 0, len(fills))
	duplicates := 0
	maxTS := p.lastSeen
	for _, fill := range fills {
		if fill.Timestamp.After(maxTS) {
			maxTS = fill.Timestamp
		}
		if err := fill.Validate(); err != nil {
			p.logger.Warn("Dropping malformed fill from venue", "fill", fill, "error", err)
			continue
		}
		if !p.seen.Add(fill.TransactionID()) {
			duplicates++
			continue
		}
		fresh = append(fresh, fill)
	}
	if duplicates > 0 {
		p.metrics.DuplicatesSkippedTotal.Add(ctx, int64(duplicates))
	}

	if len(fresh) > 0 {
		rows, err := p.log.Append(fresh)
		if err != nil {
			// The append failed after the window absorbed the ids; rebuild
			// it from the log so the fills are retried next tick.
			span.RecordError(err)
			p.rebuildWindow()
			return fmt.Errorf("append fills: %w", err)
		}
		p.metrics.FillsAppendedTotal.Add(ctx, int64(len(fresh)))
		if p.mirror != nil {
			p.mirror.Submit(fresh)
		}
		p.logger.Info("Appended new fills",
			"appended", len(fresh),
			"duplicates", duplicates,
			"log_rows", rows)
	} else if len(fills) > 0 {
		p.logger.Debug("No new fills after dedup", "fetched", len(fills))
	}

	// Only a successful fetch advances the cursor; a skipped tick retries
	// from the same timestamp with no data loss.
	p.lastSeen = maxTS
	return nil
}

func (p *Poller) handleFetchFailure(ctx context.Context, err error) error {
	p.consecutiveFailures++
	p.metrics.TicksSkippedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("component", "poller")))

	if errors.Is(err, apperrors.ErrAuthenticationFailed) {
		// No further progress is possible without new credentials.
		if p.alerts != nil {
			p.alerts.Alert(ctx, "Poller authentication failed",
				err.Error(), alert.Critical,
				map[string]string{"component": "poller"})
		}
		return fmt.Errorf("fetch fills: %w", err)
	}

	p.logger.Warn("Tick skipped, fetch retries exhausted",
		"since", p.lastSeen.Format(time.RFC3339),
		"consecutive_failures", p.consecutiveFailures,
		"error", err)

	if p.cfg.MaxConsecutiveFailures > 0 && p.consecutiveFailures == p.cfg.MaxConsecutiveFailures {
		if p.alerts != nil {
			p.alerts.Alert(ctx, "Poller degraded",
				fmt.Sprintf("%d consecutive failed ticks: %v", p.consecutiveFailures, err),
				alert.Critical,
				map[string]string{"component": "poller"})
		}
	}
	// Transient: contained within the tick.
	return nil
}

func (p *Poller) rebuildWindow() {
	p.seen = core.NewIDWindow(p.cfg.DedupWindow)
	tail, err := p.log.Tail(p.cfg.DedupWindow)
	if err != nil {
		p.logger.Error("Failed to rebuild dedup window from log", "error", err)
		return
	}
	for _, fill := range tail {
		p.seen.Add(fill.TransactionID())
	}
}

// LastSeen returns the current fetch boundary.
func (p *Poller) LastSeen() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeen
}

// CheckHealth reports fetch freshness.
func (p *Poller) CheckHealth() error {
	last := p.lastSuccess.Load().(time.Time)
	if last.IsZero() {
		return fmt.Errorf("no successful fetch yet")
	}
	if time.Since(last) > 5*time.Minute {
		return fmt.Errorf("stale: last successful fetch %s ago", time.Since(last))
	}
	return nil
}
