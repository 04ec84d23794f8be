// Package pnllog writes the engine's realized-P&L output stream: an
// append-only CSV, one row per matched segment, same flush-and-fsync
// discipline as the fill log.
package pnllog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"pnl_monitor/internal/core"
)

// Header is the fixed column set of the realized-P&L stream.
var Header = []string{"Timestamp", "TradeQty", "TradePx", "RealisedPnL", "StackSize"}

// Writer appends realized-P&L records. Only the engine writes it.
type Writer struct {
	file *os.File
	csv  *csv.Writer
}

// NewWriter opens the output stream at path, creating it with a header
// row when it does not exist.
func NewWriter(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}

	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open pnl output: %w", err)
	}

	w := &Writer{file: f, csv: csv.NewWriter(f)}
	if fresh {
		if err := w.csv.Write(Header); err != nil {
			f.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
		if err := w.sync(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return w, nil
}

// Write appends the records in emission order and syncs them to disk.
func (w *Writer) Write(records []core.RealizedPnLRecord) error {
	for _, rec := range records {
		row := []string{
			rec.Timestamp.UTC().Format(time.RFC3339),
			rec.TradeQuantity.String(),
			rec.TradePrice.String(),
			rec.RealizedPnL.String(),
			strconv.Itoa(rec.StackSizeAfter),
		}
		if err := w.csv.Write(row); err != nil {
			return fmt.Errorf("append pnl row: %w", err)
		}
	}
	return w.sync()
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

func (w *Writer) sync() error {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("flush pnl output: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync pnl output: %w", err)
	}
	return nil
}
