// Package types defines the data model shared by every stage of the
// opening-range-breakout backtesting core: bars, configuration, the
// dual opening-range state, auction metrics, signals, trades, and the
// completed-trade ledger.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is an immutable one-minute (or coarser) OHLCV record, passed by
// value; components that keep bar history (such as the pivot trailing
// stop's window) hold their own copies.
type Bar struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Valid reports whether the bar satisfies the OHLC ordering invariant
// low <= min(open,close) <= max(open,close) <= high and volume >= 0.
func (b Bar) Valid() bool {
	if b.Volume.IsNegative() {
		return false
	}
	minOC := decimal.Min(b.Open, b.Close)
	maxOC := decimal.Max(b.Open, b.Close)
	return !b.Low.GreaterThan(minOC) && !minOC.GreaterThan(maxOC) && !maxOC.GreaterThan(b.High)
}

// Body returns close - open (signed).
func (b Bar) Body() decimal.Decimal {
	return b.Close.Sub(b.Open)
}

// Range returns high - low.
func (b Bar) Range() decimal.Decimal {
	return b.High.Sub(b.Low)
}

// Direction returns +1, -1, or 0 for the sign of the bar's body.
func (b Bar) Direction() int {
	body := b.Body()
	switch {
	case body.IsPositive():
		return 1
	case body.IsNegative():
		return -1
	default:
		return 0
	}
}
