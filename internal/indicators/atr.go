// Package indicators implements the streaming technical indicators
// consumed by the opening-range builder, auction classifier, and risk
// managers: ATR, session VWAP, ADX, and relative volume. Each is a
// pure state machine — Update takes one bar and returns a record;
// Reset clears state for a new session. There is no lookahead and no
// backfill (spec.md §4.1).
package indicators

import "github.com/shopspring/decimal"

const decimalPrecision = 10

// ATRReading is the output of one ATR.Update call.
type ATRReading struct {
	Value   decimal.Decimal
	Usable  bool
}

// ATR maintains a bounded ring of true ranges and reports their simple
// (or Wilder-smoothed) average.
type ATR struct {
	period  int
	wilder  bool
	trueRanges []decimal.Decimal
	smoothed   decimal.Decimal
	haveSmoothed bool
	prevClose  decimal.Decimal
	havePrev   bool
}

// NewATR constructs an ATR indicator over the given period. When
// wilder is true, updates use Wilder's smoothing recurrence instead of
// a plain simple moving average.
func NewATR(period int, wilder bool) *ATR {
	return &ATR{period: period, wilder: wilder}
}

// Update feeds one bar's high/low/close and returns the current ATR
// reading. Returns Usable=false (value 0) until `period` true ranges
// have accumulated; the first bar only seeds the previous close, so
// the first usable reading comes on bar period+1.
func (a *ATR) Update(high, low, close decimal.Decimal) ATRReading {
	var tr decimal.Decimal
	if !a.havePrev {
		tr = high.Sub(low)
	} else {
		hl := high.Sub(low)
		hc := high.Sub(a.prevClose).Abs()
		lc := low.Sub(a.prevClose).Abs()
		tr = decimal.Max(hl, decimal.Max(hc, lc))
	}
	a.prevClose = close
	hadPrev := a.havePrev
	a.havePrev = true

	if !hadPrev {
		// First bar only seeds prevClose; no usable TR yet.
		return ATRReading{Value: decimal.Zero, Usable: false}
	}

	if a.wilder {
		if !a.haveSmoothed {
			a.trueRanges = append(a.trueRanges, tr)
			if len(a.trueRanges) < a.period {
				return ATRReading{Value: decimal.Zero, Usable: false}
			}
			sum := decimal.Zero
			for _, v := range a.trueRanges {
				sum = sum.Add(v)
			}
			a.smoothed = sum.DivRound(decimal.NewFromInt(int64(a.period)), decimalPrecision)
			a.haveSmoothed = true
			return ATRReading{Value: a.smoothed, Usable: true}
		}
		p := decimal.NewFromInt(int64(a.period))
		a.smoothed = a.smoothed.Mul(p.Sub(decimal.NewFromInt(1))).DivRound(p, decimalPrecision).
			Add(tr.DivRound(p, decimalPrecision))
		return ATRReading{Value: a.smoothed, Usable: true}
	}

	a.trueRanges = append(a.trueRanges, tr)
	if len(a.trueRanges) > a.period {
		a.trueRanges = a.trueRanges[1:]
	}
	if len(a.trueRanges) < a.period {
		return ATRReading{Value: decimal.Zero, Usable: false}
	}
	sum := decimal.Zero
	for _, v := range a.trueRanges {
		sum = sum.Add(v)
	}
	return ATRReading{Value: sum.DivRound(decimal.NewFromInt(int64(a.period)), decimalPrecision), Usable: true}
}

// Reset clears all state for a new session.
func (a *ATR) Reset() {
	a.trueRanges = nil
	a.smoothed = decimal.Zero
	a.haveSmoothed = false
	a.havePrev = false
}
