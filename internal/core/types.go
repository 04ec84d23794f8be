package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	apperrors "pnl_monitor/pkg/errors"
)

// Side is the direction of an executed trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide maps a log or venue side string to a Side.
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case SideBuy, SideSell:
		return Side(s), nil
	default:
		return "", fmt.Errorf("unknown side %q", s)
	}
}

// Sign returns +1 for a buy and -1 for a sell.
func (s Side) Sign() decimal.Decimal {
	if s == SideBuy {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(-1)
}

const (
	// DateLayout and TimeLayout are the column formats of the fill log.
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// FillRecord is one executed trade as reported by the venue.
type FillRecord struct {
	Timestamp time.Time       `json:"timestamp"`
	Exchange  string          `json:"exchange"`
	Contract  string          `json:"contract"`
	Side      Side            `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	User      string          `json:"user"`
	OrderID   string          `json:"order_id"`
}

// TransactionID derives the deduplication key for the fill. It is a pure
// function of (date, side, quantity, price, order id), so the same venue
// event hashes to the same id no matter how many times it is observed or
// which process derives it.
func (f FillRecord) TransactionID() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s",
		f.Timestamp.Format(DateLayout),
		f.Side,
		f.Quantity.String(),
		f.Price.String(),
		f.OrderID,
	)
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// SignedQuantity returns the quantity with the side's sign applied.
func (f FillRecord) SignedQuantity() decimal.Decimal {
	return f.Quantity.Mul(f.Side.Sign())
}

// Validate rejects fills that must never enter the log or the stack.
func (f FillRecord) Validate() error {
	if f.Side != SideBuy && f.Side != SideSell {
		return fmt.Errorf("side %q: %w", f.Side, apperrors.ErrMalformedRow)
	}
	if !f.Quantity.IsPositive() {
		return fmt.Errorf("quantity %s: %w", f.Quantity, apperrors.ErrInvalidQuantity)
	}
	if !f.Price.IsPositive() {
		return fmt.Errorf("price %s: %w", f.Price, apperrors.ErrInvalidPrice)
	}
	return nil
}

// PositionStackEntry is one open lot. Quantity is signed: positive for a
// long lot, negative for a short lot.
type PositionStackEntry struct {
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// PositionStack is the ordered open-lot stack for one instrument. Lots are
// appended at the tail and matched from the tail.
type PositionStack []PositionStackEntry

// NetPosition returns the signed sum of all open lot quantities.
func (ps PositionStack) NetPosition() decimal.Decimal {
	net := decimal.Zero
	for _, e := range ps {
		net = net.Add(e.Quantity)
	}
	return net
}

// Depth returns the number of open lots.
func (ps PositionStack) Depth() int {
	return len(ps)
}

// Clone returns an independent copy of the stack.
func (ps PositionStack) Clone() PositionStack {
	if ps == nil {
		return nil
	}
	out := make(PositionStack, len(ps))
	copy(out, ps)
	return out
}

// EngineStateVersion identifies the snapshot schema. Bump on any field
// change so older stores are rejected instead of misread.
const EngineStateVersion = 1

// EngineState is the engine's durable checkpoint: the open-lot stack, the
// count of fill-log rows fully applied, and the trailing window of
// processed transaction ids used to absorb replays across a restart.
type EngineState struct {
	Version                 int           `json:"version"`
	PositionStack           PositionStack `json:"position_stack"`
	LastProcessedOffset     int64         `json:"last_processed_offset"`
	ProcessedTransactionIDs []string      `json:"processed_transaction_ids"`
	UpdatedAt               time.Time     `json:"updated_at"`
}

// NewEngineState returns an empty checkpoint at offset zero.
func NewEngineState() *EngineState {
	return &EngineState{
		Version:       EngineStateVersion,
		PositionStack: PositionStack{},
	}
}

// Clone returns a deep copy safe to persist while the engine keeps mutating
// its working state.
func (s *EngineState) Clone() *EngineState {
	out := &EngineState{
		Version:             s.Version,
		PositionStack:       s.PositionStack.Clone(),
		LastProcessedOffset: s.LastProcessedOffset,
		UpdatedAt:           s.UpdatedAt,
	}
	if s.ProcessedTransactionIDs != nil {
		out.ProcessedTransactionIDs = make([]string, len(s.ProcessedTransactionIDs))
		copy(out.ProcessedTransactionIDs, s.ProcessedTransactionIDs)
	}
	return out
}

// RealizedPnLRecord is emitted once per matched segment: a single incoming
// fill that closes several stacked lots emits several records.
type RealizedPnLRecord struct {
	Timestamp      time.Time       `json:"timestamp"`
	TradeQuantity  decimal.Decimal `json:"trade_quantity"`
	TradePrice     decimal.Decimal `json:"trade_price"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	StackSizeAfter int             `json:"stack_size_after"`
}

// LoggedFill is a fill read back from the durable log together with its
// zero-based row index.
type LoggedFill struct {
	Row  int64
	Fill FillRecord
}
