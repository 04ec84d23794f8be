// Package engine implements the LIFO accounting engine: it consumes the
// durable fill log incrementally, maintains the open-position stack,
// emits realized P&L per matched segment, and checkpoints its progress
// through the state store after every batch.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"pnl_monitor/internal/core"
	"pnl_monitor/pkg/telemetry"
)

// Filter narrows the engine to one instrument. Empty fields match
// everything. Non-matching rows are consumed (the offset advances) with
// no stack effect.
type Filter struct {
	Exchange string
	Contract string
	User     string
}

// Matches reports whether the fill passes the filter.
func (f Filter) Matches(fill core.FillRecord) bool {
	if f.Exchange != "" && fill.Exchange != f.Exchange {
		return false
	}
	if f.Contract != "" && fill.Contract != f.Contract {
		return false
	}
	if f.User != "" && fill.User != f.User {
		return false
	}
	return true
}

// Config holds the engine's tick parameters.
type Config struct {
	// PointValue is the per-unit dollar multiplier applied to every
	// realized-P&L figure. It is configuration, never computed.
	PointValue decimal.Decimal
	// StartTime, when set, consumes rows timestamped before it without
	// stack effect.
	StartTime time.Time
	// DedupWindow bounds the persisted processed-transaction-id set.
	DedupWindow int
	// MaxBatchRows caps how many rows one tick applies; the rest wait for
	// the next tick.
	MaxBatchRows int
	Filter       Filter
}

// Engine is single-threaded per tick: the mutex exists only so an
// in-flight tick finishes before Stop or a status read observes state.
type Engine struct {
	cfg    Config
	reader core.IFillReader
	output core.IPnLWriter
	store  core.IStateStore
	logger core.ILogger

	mu        sync.Mutex
	state     *core.EngineState
	processed *core.IDWindow

	lastTick atomic.Value // time.Time

	tracer        trace.Tracer
	metrics       *telemetry.MetricsHolder
	gaugeContract string
}

// New creates an engine over the given log reader, output stream, and
// state store.
func New(cfg Config, reader core.IFillReader, output core.IPnLWriter, store core.IStateStore, logger core.ILogger) *Engine {
	gaugeContract := cfg.Filter.Contract
	if gaugeContract == "" {
		gaugeContract = "all"
	}
	e := &Engine{
		cfg:           cfg,
		reader:        reader,
		output:        output,
		store:         store,
		logger:        logger.WithField("component", "engine"),
		tracer:        telemetry.GetTracer("engine"),
		metrics:       telemetry.GetGlobalMetrics(),
		gaugeContract: gaugeContract,
	}
	e.lastTick.Store(time.Time{})
	return e
}

// Start loads the persisted checkpoint, or begins empty when none exists.
// A corrupted store surfaces as a structural error; recovery is --reset.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.store.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if st == nil {
		st = core.NewEngineState()
		e.logger.Info("No checkpoint found, starting from an empty stack")
	} else {
		e.logger.Info("Checkpoint restored",
			"offset", st.LastProcessedOffset,
			"stack_depth", st.PositionStack.Depth(),
			"net_position", st.PositionStack.NetPosition().String())
	}

	e.state = st
	e.processed = core.NewIDWindow(e.cfg.DedupWindow)
	for _, id := range st.ProcessedTransactionIDs {
		e.processed.Add(id)
	}
	e.publishGauges(st.PositionStack)
	return nil
}

// Tick runs one pass of the engine state machine: read rows after the
// checkpoint, apply each to the stack, write the realized-P&L records,
// then atomically persist the new checkpoint. In-memory state is swapped
// only after the persist succeeds, so a failed tick changes nothing.
func (e *Engine) Tick(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "engine.tick",
		trace.WithAttributes(attribute.Int64("offset", e.state.LastProcessedOffset)))
	defer span.End()

	e.metrics.TicksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("component", "engine")))
	defer func() {
		e.lastTick.Store(time.Now())
		e.metrics.TickDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("component", "engine")))
	}()

	fills, newOffset, err := e.reader.ReadFrom(e.state.LastProcessedOffset)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("read fill log: %w", err)
	}
	if len(fills) == 0 && newOffset == e.state.LastProcessedOffset {
		return nil
	}

	if e.cfg.MaxBatchRows > 0 && len(fills) > e.cfg.MaxBatchRows {
		fills = fills[:e.cfg.MaxBatchRows]
		newOffset = fills[len(fills)-1].Row + 1
	}

	stack := e.state.PositionStack.Clone()
	window := e.cloneWindow()
	var records []core.RealizedPnLRecord
	applied, skipped := 0, 0

	for _, lf := range fills {
		fill := lf.Fill
		id := fill.TransactionID()

		if window.Contains(id) {
			// Log replay across the checkpoint boundary; already applied.
			skipped++
			e.metrics.RowsSkippedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "duplicate")))
			e.logger.Debug("Skipping already-processed fill", "row", lf.Row, "transaction_id", id)
			continue
		}
		if !e.cfg.Filter.Matches(fill) {
			skipped++
			e.metrics.RowsSkippedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "filtered")))
			continue
		}
		if !e.cfg.StartTime.IsZero() && fill.Timestamp.Before(e.cfg.StartTime) {
			skipped++
			e.metrics.RowsSkippedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "before_start")))
			continue
		}

		var recs []core.RealizedPnLRecord
		stack, recs = MatchFill(stack, fill, e.cfg.PointValue)
		records = append(records, recs...)
		window.Add(id)
		applied++

		for _, rec := range recs {
			pnl, _ := rec.RealizedPnL.Float64()
			e.metrics.RealizedPnLTotal.Add(ctx, pnl,
				metric.WithAttributes(attribute.String("contract", e.gaugeContract)))
		}
	}

	if len(records) > 0 {
		if err := e.output.Write(records); err != nil {
			span.RecordError(err)
			return fmt.Errorf("write pnl output: %w", err)
		}
	}

	newState := &core.EngineState{
		Version:                 core.EngineStateVersion,
		PositionStack:           stack,
		LastProcessedOffset:     newOffset,
		ProcessedTransactionIDs: window.IDs(),
	}
	if err := e.store.SaveState(ctx, newState); err != nil {
		// In-memory state is unchanged; the next tick rereads the same
		// rows and the id window absorbs any P&L rows already written.
		span.RecordError(err)
		return fmt.Errorf("persist checkpoint: %w", err)
	}

	e.state = newState
	e.processed = window
	e.publishGauges(stack)

	e.metrics.RowsProcessedTotal.Add(ctx, int64(applied))
	e.metrics.PnLRecordsTotal.Add(ctx, int64(len(records)))

	if applied > 0 || len(records) > 0 {
		e.logger.Info("Batch applied",
			"rows_applied", applied,
			"rows_skipped", skipped,
			"pnl_records", len(records),
			"offset", newOffset,
			"stack_depth", stack.Depth(),
			"net_position", stack.NetPosition().String())
	}
	return nil
}

// State returns a copy of the current checkpoint.
func (e *Engine) State() *core.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// CheckHealth reports staleness of the tick loop.
func (e *Engine) CheckHealth() error {
	last := e.lastTick.Load().(time.Time)
	if last.IsZero() {
		return fmt.Errorf("no tick completed yet")
	}
	if time.Since(last) > 5*time.Minute {
		return fmt.Errorf("stale: last tick %s ago", time.Since(last))
	}
	return nil
}

func (e *Engine) cloneWindow() *core.IDWindow {
	w := core.NewIDWindow(e.cfg.DedupWindow)
	for _, id := range e.processed.IDs() {
		w.Add(id)
	}
	return w
}

func (e *Engine) publishGauges(stack core.PositionStack) {
	net, _ := stack.NetPosition().Float64()
	e.metrics.SetStackDepth(e.gaugeContract, int64(stack.Depth()))
	e.metrics.SetNetPosition(e.gaugeContract, net)
}
