// Package context implements the context exclusion matrix: a
// multi-dimensional historical performance table used to prune
// low-expectancy setup contexts before a signal is ever generated
// (SPEC_FULL.md §4.19, spec.md §4.5).
package context

import (
	"fmt"
	"math"
	"sort"

	"github.com/orbquant/orb-backtester/pkg/types"
)

// Signature is the 5-tuple context fingerprint a completed trade (or
// a candidate signal, before entry) is classified into.
type Signature struct {
	ORWidthQuartile      int
	BreakoutDelayBucket  string
	VolumeQualityTercile int
	AuctionState         types.AuctionState
	GapType              types.GapType
}

func (s Signature) key() string {
	return fmt.Sprintf("%d|%s|%d|%s|%s", s.ORWidthQuartile, s.BreakoutDelayBucket,
		s.VolumeQualityTercile, s.AuctionState, s.GapType)
}

// Cell is one signature's historical performance record.
type Cell struct {
	Signature Signature

	NTrades  int
	NWinners int
	NLosers  int

	Expectancy float64
	WinRate    float64
	AvgWinner  float64
	AvgLoser   float64

	PExtensionMean *float64

	ExpectancyStderr  float64
	ExpectancyCILower float64
	ExpectancyCIUpper float64

	IsExcluded      bool
	ExclusionReason string
}

// TrainingRecord is one historical trade's context features and
// realized outcome, as passed to Fit.
type TrainingRecord struct {
	ORWidthNorm         float64
	BreakoutDelayMinutes float64
	VolumeQualityScore  float64
	AuctionState        types.AuctionState
	GapType             types.GapType
	RealizedR           float64
	PExtension          *float64
}

// Config holds the matrix's fitting parameters.
type Config struct {
	MinTradesPerCell    int
	ExpectancyThreshold float64
	PExtensionThreshold *float64
}

// DefaultConfig returns the reference parameters.
func DefaultConfig() Config {
	return Config{
		MinTradesPerCell:    30,
		ExpectancyThreshold: -0.25,
	}
}

// Matrix is a fitted context exclusion matrix.
type Matrix struct {
	cfg Config

	cells map[string]*Cell

	globalExpectancy   float64
	globalPExtension   *float64

	widthQuartiles []float64 // 25th, 50th, 75th percentile of or_width_norm
	volumeTerciles []float64 // 33rd, 67th percentile of volume_quality
}

// New constructs an unfitted matrix. Until Fit is called, CreateSignature
// uses the fixed middle bucket for quartile/tercile dimensions and
// IsExcluded always returns false (no cells exist yet).
func New(cfg Config) *Matrix {
	return &Matrix{cfg: cfg, cells: make(map[string]*Cell)}
}

// Fit computes quantile thresholds, groups the training records by
// signature, computes each cell's performance metrics, and applies
// the exclusion rules.
func (m *Matrix) Fit(records []TrainingRecord) {
	if len(records) == 0 {
		return
	}

	widths := make([]float64, len(records))
	volumes := make([]float64, len(records))
	realizedRs := make([]float64, len(records))
	for i, r := range records {
		widths[i] = r.ORWidthNorm
		volumes[i] = r.VolumeQualityScore
		realizedRs[i] = r.RealizedR
	}

	m.globalExpectancy = mean(realizedRs)

	var pExtSum float64
	var pExtCount int
	for _, r := range records {
		if r.PExtension != nil {
			pExtSum += *r.PExtension
			pExtCount++
		}
	}
	if pExtCount > 0 {
		avg := pExtSum / float64(pExtCount)
		m.globalPExtension = &avg
	}

	m.widthQuartiles = []float64{quantile(widths, 0.25), quantile(widths, 0.5), quantile(widths, 0.75)}
	m.volumeTerciles = []float64{quantile(volumes, 0.33), quantile(volumes, 0.67)}

	grouped := make(map[string][]TrainingRecord)
	sigBySig := make(map[string]Signature)
	for _, r := range records {
		sig := m.CreateSignature(r.ORWidthNorm, r.BreakoutDelayMinutes, r.VolumeQualityScore, r.AuctionState, r.GapType)
		k := sig.key()
		grouped[k] = append(grouped[k], r)
		sigBySig[k] = sig
	}

	m.cells = make(map[string]*Cell, len(grouped))
	for k, group := range grouped {
		m.cells[k] = m.computeCellMetrics(sigBySig[k], group)
	}

	m.applyExclusionRules()
}

func (m *Matrix) computeCellMetrics(sig Signature, group []TrainingRecord) *Cell {
	n := len(group)
	var winners, losers []float64
	for _, r := range group {
		switch {
		case r.RealizedR > 0:
			winners = append(winners, r.RealizedR)
		case r.RealizedR < 0:
			losers = append(losers, r.RealizedR)
		}
	}

	allR := make([]float64, n)
	for i, r := range group {
		allR[i] = r.RealizedR
	}
	expectancy := mean(allR)
	winRate := 0.0
	if n > 0 {
		winRate = float64(len(winners)) / float64(n)
	}
	avgWinner := mean(winners)
	avgLoser := mean(losers)

	stderr := 0.0
	if n > 1 {
		stderr = stddev(allR) / math.Sqrt(float64(n))
	}
	const zScore = 1.96
	ciLower := expectancy - zScore*stderr
	ciUpper := expectancy + zScore*stderr

	var pExtMean *float64
	var pExtSum float64
	var pExtCount int
	for _, r := range group {
		if r.PExtension != nil {
			pExtSum += *r.PExtension
			pExtCount++
		}
	}
	if pExtCount > 0 {
		avg := pExtSum / float64(pExtCount)
		pExtMean = &avg
	}

	return &Cell{
		Signature:         sig,
		NTrades:           n,
		NWinners:          len(winners),
		NLosers:           len(losers),
		Expectancy:        expectancy,
		WinRate:           winRate,
		AvgWinner:         avgWinner,
		AvgLoser:          avgLoser,
		PExtensionMean:    pExtMean,
		ExpectancyStderr:  stderr,
		ExpectancyCILower: ciLower,
		ExpectancyCIUpper: ciUpper,
	}
}

func (m *Matrix) applyExclusionRules() {
	for _, cell := range m.cells {
		// Rule 1: insufficient data never excludes.
		if cell.NTrades < m.cfg.MinTradesPerCell {
			continue
		}

		// Rule 2: expectancy significantly below global.
		delta := cell.Expectancy - m.globalExpectancy
		if delta < m.cfg.ExpectancyThreshold {
			cell.IsExcluded = true
			cell.ExclusionReason = fmt.Sprintf("expectancy %.3fR is %.3fR below global %.3fR",
				cell.Expectancy, delta, m.globalExpectancy)
			continue
		}

		// Rule 3: p(extension) significantly below global, if configured.
		if m.cfg.PExtensionThreshold != nil && m.globalPExtension != nil && cell.PExtensionMean != nil {
			pDelta := *cell.PExtensionMean - *m.globalPExtension
			if pDelta < -*m.cfg.PExtensionThreshold {
				cell.IsExcluded = true
				cell.ExclusionReason = fmt.Sprintf("p(ext) %.3f is %.3f below global %.3f",
					*cell.PExtensionMean, -pDelta, *m.globalPExtension)
			}
		}
	}
}

// CreateSignature buckets raw features into a Signature. Before Fit
// has run, quartile/tercile dimensions default to the middle bucket.
func (m *Matrix) CreateSignature(orWidthNorm, breakoutDelay, volumeQuality float64, state types.AuctionState, gap types.GapType) Signature {
	orQuartile := 2
	if m.widthQuartiles != nil {
		switch {
		case orWidthNorm <= m.widthQuartiles[0]:
			orQuartile = 1
		case orWidthNorm <= m.widthQuartiles[1]:
			orQuartile = 2
		case orWidthNorm <= m.widthQuartiles[2]:
			orQuartile = 3
		default:
			orQuartile = 4
		}
	}

	var delayBucket string
	switch {
	case breakoutDelay <= 10:
		delayBucket = "0-10"
	case breakoutDelay <= 25:
		delayBucket = "10-25"
	case breakoutDelay <= 40:
		delayBucket = "25-40"
	default:
		delayBucket = ">40"
	}

	volTercile := 2
	if m.volumeTerciles != nil {
		switch {
		case volumeQuality <= m.volumeTerciles[0]:
			volTercile = 1
		case volumeQuality <= m.volumeTerciles[1]:
			volTercile = 2
		default:
			volTercile = 3
		}
	}

	return Signature{
		ORWidthQuartile:      orQuartile,
		BreakoutDelayBucket:  delayBucket,
		VolumeQualityTercile: volTercile,
		AuctionState:         state,
		GapType:              gap,
	}
}

// IsExcluded reports whether a signature should be excluded. An
// unknown signature (no historical cell) defaults to NOT excluded.
func (m *Matrix) IsExcluded(sig Signature) bool {
	cell, ok := m.cells[sig.key()]
	if !ok {
		return false
	}
	return cell.IsExcluded
}

// Cell returns the historical cell for a signature, if one exists.
func (m *Matrix) Cell(sig Signature) (*Cell, bool) {
	cell, ok := m.cells[sig.key()]
	return cell, ok
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

func stddev(vs []float64) float64 {
	if len(vs) < 2 {
		return 0.0
	}
	m := mean(vs)
	sumSq := 0.0
	for _, v := range vs {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(vs)-1))
}

// quantile computes the linear-interpolation quantile matching
// pandas' default Series.quantile behavior.
func quantile(vs []float64, q float64) float64 {
	if len(vs) == 0 {
		return 0.0
	}
	sorted := append([]float64(nil), vs...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*frac
}
