package indicators

import "github.com/shopspring/decimal"

// VWAPReading is the output of one VWAP.Update call.
type VWAPReading struct {
	Value      decimal.Decimal
	Usable     bool
	AboveVWAP  bool
	BelowVWAP  bool
}

// VWAP is a session-scoped cumulative volume-weighted average price.
// It resets at the start of each session (Reset) and is unusable until
// minBars bars have accumulated or cumulative volume is still zero.
type VWAP struct {
	minBars       int
	cumPV         decimal.Decimal
	cumVolume     decimal.Decimal
	barsSeen      int
}

// NewVWAP constructs a session VWAP requiring minBars bars before it
// reports a usable reading.
func NewVWAP(minBars int) *VWAP {
	return &VWAP{minBars: minBars, cumPV: decimal.Zero, cumVolume: decimal.Zero}
}

// Update feeds one bar (typical price = (H+L+C)/3, per convention) and
// its volume, returning the current session VWAP.
func (v *VWAP) Update(high, low, close, volume decimal.Decimal) VWAPReading {
	typical := high.Add(low).Add(close).DivRound(decimal.NewFromInt(3), decimalPrecision)
	v.cumPV = v.cumPV.Add(typical.Mul(volume))
	v.cumVolume = v.cumVolume.Add(volume)
	v.barsSeen++

	if v.barsSeen < v.minBars || v.cumVolume.IsZero() {
		return VWAPReading{Value: decimal.Zero, Usable: false}
	}

	vwap := v.cumPV.DivRound(v.cumVolume, decimalPrecision)
	return VWAPReading{
		Value:     vwap,
		Usable:    true,
		AboveVWAP: close.GreaterThan(vwap),
		BelowVWAP: close.LessThan(vwap),
	}
}

// Reset clears accumulated state for a new session.
func (v *VWAP) Reset() {
	v.cumPV = decimal.Zero
	v.cumVolume = decimal.Zero
	v.barsSeen = 0
}
