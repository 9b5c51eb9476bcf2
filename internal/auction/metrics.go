// Package auction builds the auction-metrics snapshot for the opening
// range window and classifies it into one of the six auction states
// (SPEC_FULL.md §4, spec.md §4.3/§4.4).
package auction

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/orbquant/orb-backtester/pkg/types"
)

const volumeStdFraction = 0.3

// barSample is the slice of a Bar the metrics builder actually needs,
// captured at add-bar time so the builder does not hold onto full
// Bar values longer than necessary.
type barSample struct {
	open, high, low, close, volume decimal.Decimal
}

// MetricsBuilder accumulates bars over the opening-range window and
// computes the resulting AuctionMetrics on Compute.
type MetricsBuilder struct {
	startTS time.Time
	endTS   time.Time

	atr14 float64
	adr20 float64

	priorHigh, priorLow, priorClose       *float64
	overnightHigh, overnightLow           *float64

	bars            []barSample
	expectedVolumes []float64
	directions      []int
	bodyRatios      []float64
	wickRatios      []float64

	openPrice *float64
}

// Params configures a new MetricsBuilder.
type Params struct {
	StartTS                          time.Time
	ATR14, ADR20                     float64
	PriorHigh, PriorLow, PriorClose   *float64
	OvernightHigh, OvernightLow       *float64
}

// New constructs a MetricsBuilder for one opening-range window.
func New(p Params) *MetricsBuilder {
	return &MetricsBuilder{
		startTS:       p.StartTS,
		endTS:         p.StartTS,
		atr14:         p.ATR14,
		adr20:         p.ADR20,
		priorHigh:     p.PriorHigh,
		priorLow:      p.PriorLow,
		priorClose:    p.PriorClose,
		overnightHigh: p.OvernightHigh,
		overnightLow:  p.OvernightLow,
	}
}

// AddBar feeds one bar within the opening-range window. expectedVolume
// is the time-of-day baseline volume for the volume Z-score; pass nil
// when unavailable.
func (m *MetricsBuilder) AddBar(bar types.Bar, expectedVolume *float64) {
	m.bars = append(m.bars, barSample{
		open: bar.Open, high: bar.High, low: bar.Low, close: bar.Close, volume: bar.Volume,
	})
	m.endTS = bar.Timestamp

	if m.openPrice == nil {
		o := bar.Open.InexactFloat64()
		m.openPrice = &o
	}

	if expectedVolume != nil {
		m.expectedVolumes = append(m.expectedVolumes, *expectedVolume)
	}

	body := bar.Close.Sub(bar.Open)
	barRange := bar.High.Sub(bar.Low)

	if barRange.IsPositive() {
		bodyRatio := body.Abs().Div(barRange).InexactFloat64()
		m.bodyRatios = append(m.bodyRatios, bodyRatio)

		var upperWick, lowerWick decimal.Decimal
		if body.IsPositive() {
			upperWick = bar.High.Sub(bar.Close)
			lowerWick = bar.Open.Sub(bar.Low)
		} else {
			upperWick = bar.High.Sub(bar.Open)
			lowerWick = bar.Close.Sub(bar.Low)
		}
		maxWick := decimal.Max(upperWick, lowerWick)
		wickRatio := 0.0
		if body.Abs().IsPositive() {
			wickRatio = maxWick.Div(body.Abs()).InexactFloat64()
		}
		m.wickRatios = append(m.wickRatios, wickRatio)
	} else {
		m.bodyRatios = append(m.bodyRatios, 0.0)
		m.wickRatios = append(m.wickRatios, 0.0)
	}

	switch {
	case body.IsPositive():
		m.directions = append(m.directions, 1)
	case body.IsNegative():
		m.directions = append(m.directions, -1)
	default:
		m.directions = append(m.directions, 0)
	}
}

// Compute finalizes the accumulated bars into an AuctionMetrics
// snapshot. Panics if no bars were added — callers must check
// bar-count before calling, the same way the OR builder guards an
// empty window.
func (m *MetricsBuilder) Compute() types.AuctionMetrics {
	if len(m.bars) == 0 {
		panic("auction: Compute called with no bars added")
	}

	driveEnergy := m.computeDriveEnergy()
	rotations := m.computeRotations()
	volumeZ, volumeRatio := m.computeVolumeMetrics()
	gapType, gapSizeNorm := m.computeGapMetrics()
	openVsPriorMid := m.computeOpenVsPriorMid()
	overnightRangePct, overnightBias := m.computeOvernightMetrics()

	avgBodyPct := mean(m.bodyRatios)
	maxWickRatio := 0.0
	for _, w := range m.wickRatios {
		if w > maxWickRatio {
			maxWickRatio = w
		}
	}

	return types.AuctionMetrics{
		DriveEnergy:            driveEnergy,
		Rotations:              rotations,
		VolumeZ:                volumeZ,
		VolumeRatio:            volumeRatio,
		GapType:                gapType,
		GapSizeNorm:            gapSizeNorm,
		OpenVsPriorMid:         openVsPriorMid,
		OvernightRangePct:      overnightRangePct,
		OvernightInventoryBias: overnightBias,
		AvgBodyPct:             avgBodyPct,
		MaxWickRatio:           maxWickRatio,
	}
}

func (m *MetricsBuilder) computeDriveEnergy() float64 {
	orHigh, orLow := m.bars[0].high, m.bars[0].low
	for _, b := range m.bars[1:] {
		orHigh = decimal.Max(orHigh, b.high)
		orLow = decimal.Min(orLow, b.low)
	}
	orWidth := orHigh.Sub(orLow).InexactFloat64()
	if orWidth <= 0 {
		return 0.0
	}

	weightedSum := 0.0
	for i, b := range m.bars {
		body := b.close.Sub(b.open).InexactFloat64()
		weightedSum += body * m.bodyRatios[i]
	}

	driveEnergy := absFloat(weightedSum) / orWidth
	if driveEnergy > 1.0 {
		return 1.0
	}
	return driveEnergy
}

func (m *MetricsBuilder) computeRotations() int {
	if len(m.directions) < 2 {
		return 0
	}
	rotations := 0
	prevDir := m.directions[0]
	for _, dir := range m.directions[1:] {
		if dir != 0 && prevDir != 0 && dir != prevDir {
			rotations++
		}
		if dir != 0 {
			prevDir = dir
		}
	}
	return rotations
}

func (m *MetricsBuilder) computeVolumeMetrics() (volumeZ, volumeRatio float64) {
	if len(m.bars) == 0 || len(m.expectedVolumes) == 0 {
		return 0.0, 1.0
	}

	totalVolume := 0.0
	for _, b := range m.bars {
		totalVolume += b.volume.InexactFloat64()
	}
	totalExpected := 0.0
	for _, e := range m.expectedVolumes {
		totalExpected += e
	}
	if totalExpected <= 0 {
		return 0.0, 1.0
	}

	volumeRatio = totalVolume / totalExpected
	stdEstimate := volumeStdFraction * totalExpected
	if stdEstimate > 0 {
		volumeZ = (totalVolume - totalExpected) / stdEstimate
	}
	return volumeZ, volumeRatio
}

func (m *MetricsBuilder) computeGapMetrics() (types.GapType, float64) {
	if m.openPrice == nil || m.priorHigh == nil || m.priorLow == nil {
		return types.GapNone, 0.0
	}

	open, priorHigh, priorLow := *m.openPrice, *m.priorHigh, *m.priorLow
	var gapType types.GapType
	gapSize := 0.0

	switch {
	case open > priorHigh:
		gapType = types.GapFullUp
		gapSize = open - priorHigh
	case open < priorLow:
		gapType = types.GapFullDown
		gapSize = priorLow - open
	default:
		priorMid := (priorHigh + priorLow) / 2.0
		switch {
		case open > priorMid:
			gapType = types.GapPartialUp
		case open < priorMid:
			gapType = types.GapPartialDown
		default:
			gapType = types.GapInside
		}
	}

	gapSizeNorm := 0.0
	if m.atr14 > 0 {
		gapSizeNorm = gapSize / m.atr14
	}
	return gapType, gapSizeNorm
}

func (m *MetricsBuilder) computeOpenVsPriorMid() float64 {
	if m.openPrice == nil || m.priorHigh == nil || m.priorLow == nil || m.atr14 <= 0 {
		return 0.0
	}
	priorMid := (*m.priorHigh + *m.priorLow) / 2.0
	return (*m.openPrice - priorMid) / m.atr14
}

func (m *MetricsBuilder) computeOvernightMetrics() (rangePct, bias float64) {
	if m.overnightHigh != nil && m.overnightLow != nil && m.adr20 > 0 {
		rangePct = (*m.overnightHigh - *m.overnightLow) / m.adr20
	}

	if m.overnightHigh != nil && m.overnightLow != nil && m.priorClose != nil && m.openPrice != nil {
		overnightRange := *m.overnightHigh - *m.overnightLow
		if overnightRange > 0 {
			onMid := (*m.overnightHigh + *m.overnightLow) / 2.0
			bias = (onMid - *m.priorClose) / overnightRange
			bias = clamp(bias, -1.0, 1.0)
		}
	}
	return rangePct, bias
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0.0
	}
	sum := 0.0
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
