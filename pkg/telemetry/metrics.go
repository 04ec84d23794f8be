package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricFillsFetchedTotal      = "pnl_monitor_fills_fetched_total"
	MetricFillsAppendedTotal     = "pnl_monitor_fills_appended_total"
	MetricDuplicatesSkippedTotal = "pnl_monitor_duplicates_skipped_total"
	MetricFetchRetriesTotal      = "pnl_monitor_fetch_retries_total"
	MetricTicksTotal             = "pnl_monitor_ticks_total"
	MetricTicksSkippedTotal      = "pnl_monitor_ticks_skipped_total"
	MetricTickDuration           = "pnl_monitor_tick_duration_ms"
	MetricRowsProcessedTotal     = "pnl_monitor_rows_processed_total"
	MetricRowsSkippedTotal       = "pnl_monitor_rows_skipped_total"
	MetricPnLRecordsTotal        = "pnl_monitor_pnl_records_total"
	MetricRealizedPnLTotal       = "pnl_monitor_realized_pnl_total"
	MetricStackDepth             = "pnl_monitor_stack_depth"
	MetricNetPosition            = "pnl_monitor_net_position"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	FillsFetchedTotal      metric.Int64Counter
	FillsAppendedTotal     metric.Int64Counter
	DuplicatesSkippedTotal metric.Int64Counter
	FetchRetriesTotal      metric.Int64Counter
	TicksTotal             metric.Int64Counter
	TicksSkippedTotal      metric.Int64Counter
	TickDuration           metric.Float64Histogram
	RowsProcessedTotal     metric.Int64Counter
	RowsSkippedTotal       metric.Int64Counter
	PnLRecordsTotal        metric.Int64Counter
	RealizedPnLTotal       metric.Float64Counter
	StackDepth             metric.Int64ObservableGauge
	NetPosition            metric.Float64ObservableGauge

	// State for observable gauges, keyed by contract
	mu             sync.RWMutex
	stackDepthMap  map[string]int64
	netPositionMap map[string]float64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			stackDepthMap:  make(map[string]int64),
			netPositionMap: make(map[string]float64),
		}
		// Bind instruments to the current global provider so callers are
		// safe before Setup runs; Setup re-binds them to the real one.
		_ = globalMetrics.InitMetrics(otel.GetMeterProvider().Meter("pnl_monitor_core"))
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.FillsFetchedTotal, err = meter.Int64Counter(MetricFillsFetchedTotal, metric.WithDescription("Fills returned by the venue"))
	if err != nil {
		return err
	}

	m.FillsAppendedTotal, err = meter.Int64Counter(MetricFillsAppendedTotal, metric.WithDescription("Fills appended to the durable log"))
	if err != nil {
		return err
	}

	m.DuplicatesSkippedTotal, err = meter.Int64Counter(MetricDuplicatesSkippedTotal, metric.WithDescription("Fills dropped by deduplication"))
	if err != nil {
		return err
	}

	m.FetchRetriesTotal, err = meter.Int64Counter(MetricFetchRetriesTotal, metric.WithDescription("Fetch attempts beyond the first within a tick"))
	if err != nil {
		return err
	}

	m.TicksTotal, err = meter.Int64Counter(MetricTicksTotal, metric.WithDescription("Scheduler ticks run, labeled by component"))
	if err != nil {
		return err
	}

	m.TicksSkippedTotal, err = meter.Int64Counter(MetricTicksSkippedTotal, metric.WithDescription("Scheduler ticks skipped because the previous one was still running"))
	if err != nil {
		return err
	}

	m.TickDuration, err = meter.Float64Histogram(MetricTickDuration, metric.WithDescription("Tick wall time"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.RowsProcessedTotal, err = meter.Int64Counter(MetricRowsProcessedTotal, metric.WithDescription("Fill-log rows applied to the stack"))
	if err != nil {
		return err
	}

	m.RowsSkippedTotal, err = meter.Int64Counter(MetricRowsSkippedTotal, metric.WithDescription("Fill-log rows skipped (duplicate, malformed, filtered)"))
	if err != nil {
		return err
	}

	m.PnLRecordsTotal, err = meter.Int64Counter(MetricPnLRecordsTotal, metric.WithDescription("Realized-P&L records emitted"))
	if err != nil {
		return err
	}

	m.RealizedPnLTotal, err = meter.Float64Counter(MetricRealizedPnLTotal, metric.WithDescription("Cumulative realized profit/loss"))
	if err != nil {
		return err
	}

	// Observables
	m.StackDepth, err = meter.Int64ObservableGauge(MetricStackDepth, metric.WithDescription("Open lots on the position stack"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for contract, val := range m.stackDepthMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("contract", contract)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.NetPosition, err = meter.Float64ObservableGauge(MetricNetPosition, metric.WithDescription("Signed net position"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for contract, val := range m.netPositionMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("contract", contract)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

func (m *MetricsHolder) SetStackDepth(contract string, depth int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stackDepthMap[contract] = depth
}

func (m *MetricsHolder) SetNetPosition(contract string, size float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.netPositionMap[contract] = size
}

func (m *MetricsHolder) GetStackDepth() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64)
	for k, v := range m.stackDepthMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetNetPosition() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64)
	for k, v := range m.netPositionMap {
		res[k] = v
	}
	return res
}
