// Package filllog implements the durable append-only fill log shared by
// the poller (writer) and the engine (reader). The log is a CSV file:
// one header row, one data row per fill, rows never rewritten. Offsets
// are data-row counts, so the file stays auditable with any text tool.
package filllog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"pnl_monitor/internal/core"
)

// Header is the fixed column set of the fill log.
var Header = []string{
	"Date", "Time", "Exchange", "Contract", "Side",
	"Quantity", "Price", "CurrentUser", "OrderId",
}

// Writer appends fills to the log. It is the single writer by convention;
// every batch is flushed and fsynced before Append returns, so a crash
// never loses acknowledged rows.
type Writer struct {
	path string
	file *os.File
	csv  *csv.Writer
	rows int64
}

// NewWriter opens the log at path, creating it with a header row when it
// does not exist yet. The current data-row count is established by a scan.
func NewWriter(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}

	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open fill log: %w", err)
	}

	w := &Writer{path: path, file: f, csv: csv.NewWriter(f)}

	if fresh {
		if err := w.csv.Write(Header); err != nil {
			f.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
		if err := w.sync(); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		rows, err := countDataRows(path)
		if err != nil {
			f.Close()
			return nil, err
		}
		w.rows = rows
	}

	return w, nil
}

// Append writes the fills in the given order and returns the new data-row
// count. The batch is durable on disk when Append returns.
func (w *Writer) Append(fills []core.FillRecord) (int64, error) {
	for _, fill := range fills {
		if err := w.csv.Write(marshalRow(fill)); err != nil {
			return w.rows, fmt.Errorf("append row: %w", err)
		}
	}
	if err := w.sync(); err != nil {
		return w.rows, err
	}
	w.rows += int64(len(fills))
	return w.rows, nil
}

// RowCount returns the number of data rows written so far.
func (w *Writer) RowCount() (int64, error) {
	return w.rows, nil
}

// Tail returns the last n well-formed rows, oldest first. Malformed rows
// are skipped; the poller only needs the fills it could collide with.
func (w *Writer) Tail(n int) ([]core.FillRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, _, err := readRows(w.path, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) > n {
		rows = rows[len(rows)-n:]
	}
	fills := make([]core.FillRecord, 0, len(rows))
	for _, lf := range rows {
		fills = append(fills, lf.Fill)
	}
	return fills, nil
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
		return fmt.Errorf("flush fill log: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync fill log: %w", err)
	}
	return nil
}

func marshalRow(f core.FillRecord) []string {
	ts := f.Timestamp.UTC()
	return []string{
		ts.Format(core.DateLayout),
		ts.Format(core.TimeLayout),
		f.Exchange,
		f.Contract,
		string(f.Side),
		f.Quantity.String(),
		f.Price.String(),
		f.User,
		f.OrderID,
	}
}

func countDataRows(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open fill log: %w", err)
	}
	defer f.Close()

	r := newLogReader(f)
	var rows int64 = -1 // header
	for {
		_, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("scan fill log: %w", err)
		}
		rows++
	}
	if rows < 0 {
		rows = 0
	}
	return rows, nil
}

func newLogReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // malformed rows are handled per row, not fatally
	return cr
}
