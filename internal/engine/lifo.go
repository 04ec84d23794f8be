package engine

import (
	"github.com/shopspring/decimal"

	"pnl_monitor/internal/core"
)

// MatchFill applies one fill to the open-lot stack using LIFO matching and
// returns the new stack plus one realized-P&L record per matched segment.
//
// A fill in the direction of the current position pushes a new lot and
// realizes nothing. An offsetting fill closes lots from the tail of the
// stack, most recently opened first; a partially matched lot has its
// quantity reduced in place and a fully matched lot is removed, so the
// stack never holds a zero-quantity entry. If the fill is larger than the
// whole opposing stack, the remainder opens a new lot in the fill's
// direction (a sign flip) with no P&L on the opening quantity.
//
// The input stack is not mutated; partial-match quantities always sum back
// to the original fill quantity.
func MatchFill(stack core.PositionStack, fill core.FillRecord, pointValue decimal.Decimal) (core.PositionStack, []core.RealizedPnLRecord) {
	out := stack.Clone()
	signed := fill.SignedQuantity()

	if len(out) == 0 || sameDirection(out[len(out)-1].Quantity, signed) {
		out = append(out, core.PositionStackEntry{Quantity: signed, Price: fill.Price})
		return out, nil
	}

	var records []core.RealizedPnLRecord
	remaining := fill.Quantity

	for remaining.IsPositive() && len(out) > 0 {
		top := &out[len(out)-1]
		lotQty := top.Quantity.Abs()
		matched := decimal.Min(remaining, lotQty)

		// Closing a long lot with a sell profits when exit > entry;
		// closing a short lot with a buy profits when exit < entry.
		sign := decimal.NewFromInt(1)
		if top.Quantity.IsNegative() {
			sign = decimal.NewFromInt(-1)
		}
		pnl := matched.Mul(fill.Price.Sub(top.Price)).Mul(sign).Mul(pointValue)

		if matched.Equal(lotQty) {
			out = out[:len(out)-1]
		} else {
			top.Quantity = top.Quantity.Sub(matched.Mul(sign))
		}
		remaining = remaining.Sub(matched)

		records = append(records, core.RealizedPnLRecord{
			Timestamp:      fill.Timestamp,
			TradeQuantity:  matched,
			TradePrice:     fill.Price,
			RealizedPnL:    pnl,
			StackSizeAfter: len(out),
		})
	}

	if remaining.IsPositive() {
		// Sign flip: the stack is exhausted and the remainder opens the
		// opposite position.
		out = append(out, core.PositionStackEntry{
			Quantity: remaining.Mul(fill.Side.Sign()),
			Price:    fill.Price,
		})
	}

	return out, records
}

func sameDirection(a, b decimal.Decimal) bool {
	return a.Sign() == b.Sign()
}
