// Package core defines the domain types and interfaces shared by the fill
// poller and the accounting engine.
package core

import (
	"context"
	"time"
)

// IFillSource is the venue capability the poller consumes. FetchFills must
// return only fills executed at or after since; it may return duplicates
// (the poller deduplicates). Implementations classify their errors so
// callers can tell retryable failures from terminal ones.
type IFillSource interface {
	Name() string
	FetchFills(ctx context.Context, since time.Time) ([]FillRecord, error)
}

// IFillAppender is the write side of the durable fill log.
type IFillAppender interface {
	// Append writes the fills in the given order and returns the log's new
	// row count. The batch is flushed and synced before returning.
	Append(fills []FillRecord) (int64, error)
	// RowCount returns the number of data rows currently in the log.
	RowCount() (int64, error)
	// Tail returns the last n well-formed rows, oldest first. The poller
	// rebuilds its dedup window and last-seen timestamp from it at startup.
	Tail(n int) ([]FillRecord, error)
	Close() error
}

// IFillReader is the read side of the durable fill log.
type IFillReader interface {
	// ReadFrom returns all well-formed rows strictly after the given
	// row-count offset, in file order, together with the new offset
	// covering every scanned row (malformed rows are skipped but counted).
	ReadFrom(offset int64) ([]LoggedFill, int64, error)
}

// IPnLWriter receives realized-P&L records in emission order.
type IPnLWriter interface {
	Write(records []RealizedPnLRecord) error
	Close() error
}

// IStateStore persists the engine checkpoint. LoadState returns (nil, nil)
// when no snapshot exists yet.
type IStateStore interface {
	SaveState(ctx context.Context, state *EngineState) error
	LoadState(ctx context.Context) (*EngineState, error)
	Reset(ctx context.Context) error
	Close() error
}

// IFillMirror receives appended fills for secondary indexing. Submission
// must not block the caller; mirror failures are never tick failures.
type IFillMirror interface {
	Submit(fills []FillRecord)
	Close() error
}

// IHealthMonitor defines the interface for health monitoring
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
