package filllog

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"pnl_monitor/internal/core"
	apperrors "pnl_monitor/pkg/errors"
)

// Reader is the engine's read side of the fill log. It opens the file per
// call, so the poller's appends are always visible and the two processes
// never hold the file concurrently.
type Reader struct {
	path   string
	logger core.ILogger
}

// NewReader creates a reader over the log at path.
func NewReader(path string, logger core.ILogger) *Reader {
	return &Reader{
		path:   path,
		logger: logger.WithField("component", "fill_log_reader"),
	}
}

// ReadFrom returns every well-formed row strictly after the given data-row
// offset, in file order, plus the offset covering all scanned rows.
// Malformed rows are logged and skipped but still advance the offset, so
// one bad row never wedges the cursor. A missing file is not an error:
// the poller simply has not created the log yet.
func (r *Reader) ReadFrom(offset int64) ([]core.LoggedFill, int64, error) {
	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, offset, nil
		}
		return nil, offset, fmt.Errorf("open fill log: %w", err)
	}
	defer f.Close()

	cr := newLogReader(f)
	if _, err := cr.Read(); err != nil { // header
		if err == io.EOF {
			return nil, offset, nil
		}
		return nil, offset, fmt.Errorf("read fill log header: %w", err)
	}

	var (
		fills []core.LoggedFill
		row   int64
	)
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fills, row, fmt.Errorf("read fill log row %d: %w", row, err)
		}
		if row < offset {
			row++
			continue
		}
		fill, perr := unmarshalRow(record)
		if perr != nil {
			r.logger.Warn("Skipping malformed fill-log row",
				"row", row, "record", record, "error", perr)
			row++
			continue
		}
		fills = append(fills, core.LoggedFill{Row: row, Fill: fill})
		row++
	}

	if row < offset {
		// The log is shorter than the caller's cursor. Append-only was
		// violated outside this process; refuse to invent rows.
		return nil, offset, fmt.Errorf("fill log has %d rows, cursor at %d: %w",
			row, offset, apperrors.ErrStateCorrupted)
	}

	return fills, row, nil
}

func unmarshalRow(record []string) (core.FillRecord, error) {
	if len(record) != len(Header) {
		return core.FillRecord{}, fmt.Errorf("%d columns, want %d: %w",
			len(record), len(Header), apperrors.ErrMalformedRow)
	}

	ts, err := time.Parse(core.DateLayout+" "+core.TimeLayout, record[0]+" "+record[1])
	if err != nil {
		return core.FillRecord{}, fmt.Errorf("timestamp %q %q: %w", record[0], record[1], apperrors.ErrMalformedRow)
	}
	side, err := core.ParseSide(record[4])
	if err != nil {
		return core.FillRecord{}, fmt.Errorf("%v: %w", err, apperrors.ErrMalformedRow)
	}
	qty, err := decimal.NewFromString(record[5])
	if err != nil {
		return core.FillRecord{}, fmt.Errorf("quantity %q: %w", record[5], apperrors.ErrMalformedRow)
	}
	price, err := decimal.NewFromString(record[6])
	if err != nil {
		return core.FillRecord{}, fmt.Errorf("price %q: %w", record[6], apperrors.ErrMalformedRow)
	}

	fill := core.FillRecord{
		Timestamp: ts.UTC(),
		Exchange:  record[2],
		Contract:  record[3],
		Side:      side,
		Quantity:  qty,
		Price:     price,
		User:      record[7],
		OrderID:   record[8],
	}
	if err := fill.Validate(); err != nil {
		return core.FillRecord{}, err
	}
	return fill, nil
}

// readRows backs Writer.Tail; it reads every well-formed row from the
// start of the log.
func readRows(path string, offset int64) ([]core.LoggedFill, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, offset, nil
		}
		return nil, offset, fmt.Errorf("open fill log: %w", err)
	}
	defer f.Close()

	cr := newLogReader(f)
	if _, err := cr.Read(); err != nil {
		if err == io.EOF {
			return nil, offset, nil
		}
		return nil, offset, fmt.Errorf("read fill log header: %w", err)
	}

	var (
		fills []core.LoggedFill
		row   int64
	)
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fills, row, fmt.Errorf("read fill log row %d: %w", row, err)
		}
		if row >= offset {
			if fill, perr := unmarshalRow(record); perr == nil {
				fills = append(fills, core.LoggedFill{Row: row, Fill: fill})
			}
		}
		row++
	}
	return fills, row, nil
}
