package pnllog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pnl_monitor/internal/core"
)

func TestWriteAppendsRowsInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pnl.csv")
	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	ts := time.Date(2025, 9, 2, 14, 30, 0, 0, time.UTC)
	records := []core.RealizedPnLRecord{
		{
			Timestamp:      ts,
			TradeQuantity:  decimal.NewFromInt(4),
			TradePrice:     decimal.RequireFromString("111.75"),
			RealizedPnL:    decimal.NewFromInt(1000),
			StackSizeAfter: 1,
		},
		{
			Timestamp:      ts.Add(time.Minute),
			TradeQuantity:  decimal.NewFromInt(6),
			TradePrice:     decimal.RequireFromString("112"),
			RealizedPnL:    decimal.NewFromInt(3000),
			StackSizeAfter: 0,
		},
	}
	if err := w.Write(records); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("output has %d lines, want header + 2 rows", len(lines))
	}
	if lines[0] != "Timestamp,TradeQty,TradePx,RealisedPnL,StackSize" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "2025-09-02T14:30:00Z,4,111.75,1000,1" {
		t.Errorf("row 1 = %q", lines[1])
	}
	if lines[2] != "2025-09-02T14:31:00Z,6,112,3000,0" {
		t.Errorf("row 2 = %q", lines[2])
	}
}

func TestReopenDoesNotDuplicateHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pnl.csv")

	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Write([]core.RealizedPnLRecord{{
		Timestamp:     time.Now().UTC(),
		TradeQuantity: decimal.NewFromInt(1),
		TradePrice:    decimal.NewFromInt(100),
		RealizedPnL:   decimal.Zero,
	}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	w.Close()

	w2, err := NewWriter(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	w2.Close()

	data, _ := os.ReadFile(path)
	if got := strings.Count(string(data), "Timestamp,"); got != 1 {
		t.Errorf("header written %d times, want 1", got)
	}
}
