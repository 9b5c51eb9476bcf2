package risk

import (
	"github.com/shopspring/decimal"

	"github.com/orbquant/orb-backtester/pkg/types"
)

// TrailUpdate records one change to a trailing stop.
type TrailUpdate struct {
	OldStop decimal.Decimal
	NewStop decimal.Decimal
	Reason  string
}

// pivotLevel is a detected swing high/low candidate for PivotTrailingStop.
type pivotLevel struct {
	price decimal.Decimal
	isHigh bool
}

type trailingBase struct {
	direction    types.Direction
	currentStop  decimal.Decimal
}

func (b *trailingBase) CheckStopHit(price decimal.Decimal) bool {
	if b.direction == types.Long {
		return price.LessThanOrEqual(b.currentStop)
	}
	return price.GreaterThanOrEqual(b.currentStop)
}

func (b *trailingBase) CurrentStop() decimal.Decimal { return b.currentStop }

// createUpdate only returns an update if the new stop actually
// improves (moves in the trade's favor) relative to the current one.
func (b *trailingBase) createUpdate(candidate decimal.Decimal, reason string) *TrailUpdate {
	improves := false
	if b.direction == types.Long {
		improves = candidate.GreaterThan(b.currentStop)
	} else {
		improves = candidate.LessThan(b.currentStop)
	}
	if !improves {
		return nil
	}
	old := b.currentStop
	b.currentStop = candidate
	return &TrailUpdate{OldStop: old, NewStop: candidate, Reason: reason}
}

// VolatilityTrailingStop trails a multiple of ATR behind the highest
// favorable excursion price.
type VolatilityTrailingStop struct {
	trailingBase
	atrMultiple decimal.Decimal
}

// NewVolatilityTrailingStop constructs an ATR-multiple trailing stop.
func NewVolatilityTrailingStop(direction types.Direction, initialStop decimal.Decimal, atrMultiple decimal.Decimal) *VolatilityTrailingStop {
	return &VolatilityTrailingStop{
		trailingBase: trailingBase{direction: direction, currentStop: initialStop},
		atrMultiple:  atrMultiple,
	}
}

// Update recomputes the ATR-trailed stop from the current ATR reading
// and highest favorable excursion price.
func (v *VolatilityTrailingStop) Update(bar types.Bar, highestFavorable decimal.Decimal, atr decimal.Decimal) *TrailUpdate {
	offset := atr.Mul(v.atrMultiple)
	var candidate decimal.Decimal
	if v.direction == types.Long {
		candidate = highestFavorable.Sub(offset)
	} else {
		candidate = highestFavorable.Add(offset)
	}
	return v.createUpdate(candidate, "volatility trail")
}

// PivotTrailingStop trails behind the most recent confirmed swing
// pivot still valid relative to the highest favorable excursion.
type PivotTrailingStop struct {
	trailingBase
	lookback int
	recentBars []types.Bar // ring of the last 2*lookback+1 bars
}

// NewPivotTrailingStop constructs a pivot-based trailing stop over the
// given swing lookback (bars on each side of a candidate pivot).
func NewPivotTrailingStop(direction types.Direction, initialStop decimal.Decimal, lookback int) *PivotTrailingStop {
	return &PivotTrailingStop{
		trailingBase: trailingBase{direction: direction, currentStop: initialStop},
		lookback:     lookback,
	}
}

// Update appends bar to the ring, detects confirmed pivots, and moves
// the stop to the best pivot still valid relative to highestFavorable.
func (p *PivotTrailingStop) Update(bar types.Bar, highestFavorable decimal.Decimal) *TrailUpdate {
	windowSize := 2*p.lookback + 1
	p.recentBars = append(p.recentBars, bar)
	if len(p.recentBars) > windowSize {
		p.recentBars = p.recentBars[len(p.recentBars)-windowSize:]
	}

	pivots := p.detectPivots()
	best, ok := p.findBestPivot(pivots, highestFavorable)
	if !ok {
		return nil
	}
	return p.createUpdate(best, "pivot trail")
}

// detectPivots scans the ring for a confirmed swing at its center
// index: a strict extreme versus every bar on both sides.
func (p *PivotTrailingStop) detectPivots() []pivotLevel {
	n := len(p.recentBars)
	windowSize := 2*p.lookback + 1
	if n < windowSize {
		return nil
	}
	center := p.lookback
	candidate := p.recentBars[center]

	isSwingHigh := true
	isSwingLow := true
	for i, b := range p.recentBars {
		if i == center {
			continue
		}
		if !b.High.LessThan(candidate.High) {
			isSwingHigh = false
		}
		if !b.Low.GreaterThan(candidate.Low) {
			isSwingLow = false
		}
	}

	var pivots []pivotLevel
	if isSwingHigh {
		pivots = append(pivots, pivotLevel{price: candidate.High, isHigh: true})
	}
	if isSwingLow {
		pivots = append(pivots, pivotLevel{price: candidate.Low, isHigh: false})
	}
	return pivots
}

// findBestPivot filters to pivots still valid on the trade's side of
// highestFavorable (a long only trails behind swing lows below it; a
// short only trails behind swing highs above it), then picks the one
// closest to price (tightest stop that is still valid).
func (p *PivotTrailingStop) findBestPivot(pivots []pivotLevel, highestFavorable decimal.Decimal) (decimal.Decimal, bool) {
	var best decimal.Decimal
	found := false

	for _, piv := range pivots {
		if p.direction == types.Long {
			if piv.isHigh {
				continue
			}
			if piv.price.GreaterThanOrEqual(highestFavorable) {
				continue // stale: price has already moved past this level
			}
			if !found || piv.price.GreaterThan(best) {
				best, found = piv.price, true
			}
		} else {
			if !piv.isHigh {
				continue
			}
			if piv.price.LessThanOrEqual(highestFavorable) {
				continue
			}
			if !found || piv.price.LessThan(best) {
				best, found = piv.price, true
			}
		}
	}
	return best, found
}

// HybridTrailingStop runs both a volatility trail and a pivot trail
// and keeps whichever is more favorable to the trade.
type HybridTrailingStop struct {
	direction        types.Direction
	vol              *VolatilityTrailingStop
	pivot            *PivotTrailingStop
	highestFavorable decimal.Decimal
}

// NewHybridTrailingStop constructs a combined volatility+pivot trail.
func NewHybridTrailingStop(direction types.Direction, initialStop decimal.Decimal, atrMultiple decimal.Decimal, pivotLookback int) *HybridTrailingStop {
	return &HybridTrailingStop{
		direction:        direction,
		vol:              NewVolatilityTrailingStop(direction, initialStop, atrMultiple),
		pivot:            NewPivotTrailingStop(direction, initialStop, pivotLookback),
		highestFavorable: initialStop,
	}
}

// Update advances both sub-strategies from the running favorable
// extreme (highest high for a long, lowest low for a short), and
// returns the combined stop if it improved.
func (h *HybridTrailingStop) Update(bar types.Bar, atr decimal.Decimal) *TrailUpdate {
	old := h.CurrentStop()
	if h.direction == types.Long {
		h.highestFavorable = decimal.Max(h.highestFavorable, bar.High)
	} else {
		h.highestFavorable = decimal.Min(h.highestFavorable, bar.Low)
	}

	h.vol.Update(bar, h.highestFavorable, atr)
	h.pivot.Update(bar, h.highestFavorable)

	var bestStop decimal.Decimal
	if h.direction == types.Long {
		bestStop = decimal.Max(h.vol.CurrentStop(), h.pivot.CurrentStop())
	} else {
		bestStop = decimal.Min(h.vol.CurrentStop(), h.pivot.CurrentStop())
	}

	improves := false
	if h.direction == types.Long {
		improves = bestStop.GreaterThan(old)
	} else {
		improves = bestStop.LessThan(old)
	}
	if !improves {
		return nil
	}
	return &TrailUpdate{OldStop: old, NewStop: bestStop, Reason: "hybrid trail"}
}

// CurrentStop returns the better of the two sub-strategies' stops.
func (h *HybridTrailingStop) CurrentStop() decimal.Decimal {
	if h.direction == types.Long {
		return decimal.Max(h.vol.CurrentStop(), h.pivot.CurrentStop())
	}
	return decimal.Min(h.vol.CurrentStop(), h.pivot.CurrentStop())
}

// CheckStopHit reports whether price has crossed the combined stop.
func (h *HybridTrailingStop) CheckStopHit(price decimal.Decimal) bool {
	if h.direction == types.Long {
		return price.LessThanOrEqual(h.CurrentStop())
	}
	return price.GreaterThanOrEqual(h.CurrentStop())
}

// TrailingStopManager dispatches to the trailing mode a trade's exit
// descriptor selected, so the risk-management loop can treat every
// mode identically from Update through CurrentStop.
type TrailingStopManager struct {
	mode  types.ExitMode
	vol   *VolatilityTrailingStop
	pivot *PivotTrailingStop
	hybrid *HybridTrailingStop
}

// NewTrailingStopManager constructs the trailing sub-strategy selected
// by mode (TrailVol, TrailPivot, or HybridVolPivot).
func NewTrailingStopManager(mode types.ExitMode, direction types.Direction, initialStop, atrMultiple decimal.Decimal, pivotLookback int) *TrailingStopManager {
	m := &TrailingStopManager{mode: mode}
	switch mode {
	case types.ExitTrailVol:
		m.vol = NewVolatilityTrailingStop(direction, initialStop, atrMultiple)
	case types.ExitTrailPivot:
		m.pivot = NewPivotTrailingStop(direction, initialStop, pivotLookback)
	default:
		m.hybrid = NewHybridTrailingStop(direction, initialStop, atrMultiple, pivotLookback)
	}
	return m
}

// Update advances the selected sub-strategy for one bar.
func (m *TrailingStopManager) Update(bar types.Bar, highestFavorable, atr decimal.Decimal) *TrailUpdate {
	switch m.mode {
	case types.ExitTrailVol:
		return m.vol.Update(bar, highestFavorable, atr)
	case types.ExitTrailPivot:
		return m.pivot.Update(bar, highestFavorable)
	default:
		return m.hybrid.Update(bar, atr)
	}
}

// CurrentStop returns the active sub-strategy's stop.
func (m *TrailingStopManager) CurrentStop() decimal.Decimal {
	switch m.mode {
	case types.ExitTrailVol:
		return m.vol.CurrentStop()
	case types.ExitTrailPivot:
		return m.pivot.CurrentStop()
	default:
		return m.hybrid.CurrentStop()
	}
}

// CheckStopHit reports whether price has crossed the active stop.
func (m *TrailingStopManager) CheckStopHit(price decimal.Decimal) bool {
	switch m.mode {
	case types.ExitTrailVol:
		return m.vol.CheckStopHit(price)
	case types.ExitTrailPivot:
		return m.pivot.CheckStopHit(price)
	default:
		return m.hybrid.CheckStopHit(price)
	}
}
