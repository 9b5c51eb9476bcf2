// Package orbuilder maintains the dual-layer opening range: a fixed
// micro OR for early state detection and an adaptive primary OR whose
// duration widens or narrows with the normalized volatility regime
// (SPEC_FULL.md §4, spec.md §4.2).
package orbuilder

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/orbquant/orb-backtester/pkg/types"
)

// Builder accumulates high/low extremes over two overlapping session
// windows and finalizes each independently once the bar stream passes
// its end timestamp. Windows are half-open: [start, end).
type Builder struct {
	startTS time.Time

	microMinutes     int
	microEndTS       time.Time
	primaryDuration  int
	primaryEndTS     time.Time

	atr14, atr60 *float64

	microHigh, microLow   *decimal.Decimal
	microBarCount         int
	microFinalized        bool

	primaryHigh, primaryLow *decimal.Decimal
	primaryBarCount         int
	primaryFinalized        bool

	microValid, primaryValid bool
	invalidReason            string

	widthMinAbs, widthMaxAbs   decimal.Decimal
	widthMinNorm, widthMaxNorm float64
}

// Params configures a new Builder.
type Params struct {
	StartTS             time.Time
	MicroMinutes        int
	PrimaryBaseMinutes  int
	PrimaryMinMinutes   int
	PrimaryMaxMinutes   int
	ATR14, ATR60        *float64
	LowVolThreshold     float64
	HighVolThreshold    float64

	// Width-validity bounds (spec.md §4.2 Validation). A zero bound
	// disables that side of the check: WidthMinAbs/WidthMinNorm of
	// zero means "no floor", WidthMaxAbs/WidthMaxNorm of zero means
	// "no ceiling".
	WidthMinAbs  decimal.Decimal
	WidthMaxAbs  decimal.Decimal
	WidthMinNorm float64
	WidthMaxNorm float64
}

// New constructs a dual OR builder. The primary window's duration is
// chosen once, at construction, from the ATR14/ATR60 ratio available
// at session open; it never changes mid-session.
func New(p Params) *Builder {
	b := &Builder{
		startTS:      p.StartTS,
		microMinutes: p.MicroMinutes,
		microEndTS:   p.StartTS.Add(time.Duration(p.MicroMinutes) * time.Minute),
		atr14:        p.ATR14,
		atr60:        p.ATR60,
		microValid:   true,
		primaryValid: true,
		widthMinAbs:  p.WidthMinAbs,
		widthMaxAbs:  p.WidthMaxAbs,
		widthMinNorm: p.WidthMinNorm,
		widthMaxNorm: p.WidthMaxNorm,
	}

	duration := p.PrimaryBaseMinutes
	if p.ATR14 != nil && p.ATR60 != nil && *p.ATR60 > 0 {
		normalizedVol := *p.ATR14 / *p.ATR60
		duration = choosePrimaryDuration(normalizedVol, p.LowVolThreshold, p.HighVolThreshold,
			p.PrimaryMinMinutes, p.PrimaryBaseMinutes, p.PrimaryMaxMinutes)
	}
	b.primaryDuration = duration
	b.primaryEndTS = p.StartTS.Add(time.Duration(duration) * time.Minute)

	return b
}

func choosePrimaryDuration(normalizedVol, lowTh, highTh float64, minLen, baseLen, maxLen int) int {
	switch {
	case normalizedVol < lowTh:
		return minLen
	case normalizedVol > highTh:
		return maxLen
	default:
		return baseLen
	}
}

// Update feeds one bar's high/low into whichever window(s) it falls
// within. A bar outside both windows is a no-op.
func (b *Builder) Update(ts time.Time, high, low decimal.Decimal) {
	if !b.microFinalized && !ts.Before(b.startTS) && ts.Before(b.microEndTS) {
		if b.microHigh == nil {
			h, l := high, low
			b.microHigh, b.microLow = &h, &l
		} else {
			if high.GreaterThan(*b.microHigh) {
				*b.microHigh = high
			}
			if low.LessThan(*b.microLow) {
				*b.microLow = low
			}
		}
		b.microBarCount++
	}

	if !b.primaryFinalized && !ts.Before(b.startTS) && ts.Before(b.primaryEndTS) {
		if b.primaryHigh == nil {
			h, l := high, low
			b.primaryHigh, b.primaryLow = &h, &l
		} else {
			if high.GreaterThan(*b.primaryHigh) {
				*b.primaryHigh = high
			}
			if low.LessThan(*b.primaryLow) {
				*b.primaryLow = low
			}
		}
		b.primaryBarCount++
	}
}

// FinalizeIfDue checks whether either window's end has passed and
// finalizes it in place, returning which layer(s) finalized just now.
func (b *Builder) FinalizeIfDue(currentTS time.Time) (microNow, primaryNow bool) {
	if !b.microFinalized && !currentTS.Before(b.microEndTS) {
		b.finalizeMicro()
		microNow = true
	}
	if !b.primaryFinalized && !currentTS.Before(b.primaryEndTS) {
		b.finalizePrimary()
		primaryNow = true
	}
	return microNow, primaryNow
}

func (b *Builder) finalizeMicro() {
	if b.microFinalized {
		return
	}
	if b.microHigh == nil || b.microLow == nil {
		b.microValid = false
		b.invalidReason = "no bars in micro OR window"
		zero := decimal.Zero
		b.microHigh, b.microLow = &zero, &zero
	}
	b.microFinalized = true
}

func (b *Builder) finalizePrimary() {
	if b.primaryFinalized {
		return
	}
	if b.primaryHigh == nil || b.primaryLow == nil {
		b.primaryValid = false
		b.invalidReason = "no bars in primary OR window"
		zero := decimal.Zero
		b.primaryHigh, b.primaryLow = &zero, &zero
	} else {
		width := b.primaryHigh.Sub(*b.primaryLow)
		widthNorm := 0.0
		if b.atr14 != nil && *b.atr14 > 0 {
			widthNorm = width.InexactFloat64() / *b.atr14
		}
		b.primaryValid, b.invalidReason = b.checkWidthValidity(width, widthNorm)
	}
	b.primaryFinalized = true
}

// checkWidthValidity applies the configured absolute and
// normalized-width bounds, grounded on the original's
// AdaptiveORBuilder._check_validity: normalized bounds are checked
// before absolute ones, and a zero bound on either side disables that
// check rather than rejecting every OR.
func (b *Builder) checkWidthValidity(width decimal.Decimal, widthNorm float64) (bool, string) {
	if b.widthMinNorm > 0 && widthNorm < b.widthMinNorm {
		return false, fmt.Sprintf("width_norm_too_low (%.3f < %.3f)", widthNorm, b.widthMinNorm)
	}
	if b.widthMaxNorm > 0 && widthNorm > b.widthMaxNorm {
		return false, fmt.Sprintf("width_norm_too_high (%.3f > %.3f)", widthNorm, b.widthMaxNorm)
	}
	if b.widthMinAbs.IsPositive() && width.LessThan(b.widthMinAbs) {
		return false, fmt.Sprintf("width_too_narrow (%s < %s)", width, b.widthMinAbs)
	}
	if b.widthMaxAbs.IsPositive() && width.GreaterThan(b.widthMaxAbs) {
		return false, fmt.Sprintf("width_too_wide (%s > %s)", width, b.widthMaxAbs)
	}
	return true, ""
}

// MicroFinalized reports whether the micro OR has finalized.
func (b *Builder) MicroFinalized() bool { return b.microFinalized }

// PrimaryFinalized reports whether the primary OR has finalized.
func (b *Builder) PrimaryFinalized() bool { return b.primaryFinalized }

// BothFinalized reports whether both layers have finalized.
func (b *Builder) BothFinalized() bool { return b.microFinalized && b.primaryFinalized }

// State snapshots the current dual OR state, usable whether or not
// either layer has finalized yet (pre-finalization fields are zero).
func (b *Builder) State() types.DualORState {
	microHigh, microLow := decimal.Zero, decimal.Zero
	if b.microHigh != nil {
		microHigh, microLow = *b.microHigh, *b.microLow
	}
	primaryHigh, primaryLow := decimal.Zero, decimal.Zero
	if b.primaryHigh != nil {
		primaryHigh, primaryLow = *b.primaryHigh, *b.primaryLow
	}

	micro := types.ORState{
		StartTS:   b.startTS,
		EndTS:     b.microEndTS,
		High:      microHigh,
		Low:       microLow,
		Width:     microHigh.Sub(microLow),
		Finalized: b.microFinalized,
	}
	primary := types.ORState{
		StartTS:   b.startTS,
		EndTS:     b.primaryEndTS,
		High:      primaryHigh,
		Low:       primaryLow,
		Width:     primaryHigh.Sub(primaryLow),
		Finalized: b.primaryFinalized,
	}

	var microWidthNorm, primaryWidthNorm *float64
	if b.atr14 != nil && *b.atr14 > 0 {
		mw := micro.Width.InexactFloat64() / *b.atr14
		pw := primary.Width.InexactFloat64() / *b.atr14
		microWidthNorm, primaryWidthNorm = &mw, &pw
	}

	return types.DualORState{
		Micro:               micro,
		Primary:             primary,
		PrimaryDurationUsed: b.primaryDuration,
		MicroWidthNorm:      microWidthNorm,
		PrimaryWidthNorm:    primaryWidthNorm,
		MicroValid:          b.microValid,
		PrimaryValid:        b.primaryValid,
		InvalidReason:       b.invalidReason,
	}
}
