// Package orchestrator implements the per-(instrument,session) event
// loop: indicators, then the dual opening range, then auction metrics
// and state classification once the primary OR finalizes, then active
// trade management, then new-signal evaluation (SPEC_FULL.md §4,
// spec.md §4.14/§5, grounded on the teacher's event-driven engine in
// internal/backtester/engine.go).
package orchestrator

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/orbquant/orb-backtester/internal/auction"
	"github.com/orbquant/orb-backtester/internal/context"
	"github.com/orbquant/orb-backtester/internal/governance"
	"github.com/orbquant/orb-backtester/internal/indicators"
	"github.com/orbquant/orb-backtester/internal/orberr"
	"github.com/orbquant/orb-backtester/internal/orbuilder"
	"github.com/orbquant/orb-backtester/internal/playbook"
	"github.com/orbquant/orb-backtester/internal/probability"
	"github.com/orbquant/orb-backtester/pkg/types"
)

const recentReturnWindow = 20

// ProbabilityProvider is a pure function supplied by the embedding
// application that scores a candidate signal's extension probability.
// When nil, the probability gate is bypassed entirely.
type ProbabilityProvider func(signal types.CandidateSignal, ctx *playbook.Context) (float64, bool)

// SessionInput carries the data the embedding owns across sessions
// that the orchestrator itself has no way to derive from a single
// day's bars: the prior session's range/close, the overnight range,
// a 20-day average daily range, and an optional time-of-day expected
// volume curve.
type SessionInput struct {
	SessionStart time.Time

	PriorHigh, PriorLow, PriorClose *float64
	OvernightHigh, OvernightLow     *float64
	ADR20                           float64

	ExpectedVolumeAt func(ts time.Time) *float64
}

// Orchestrator runs one instrument's bar stream for one session. It
// owns every indicator, builder, and active trade for that session
// exclusively; nothing here is safe to share across goroutines (see
// SPEC_FULL.md §5 / spec.md §5 — the core is single-threaded per
// (instrument, session) by design).
type Orchestrator struct {
	instrument types.InstrumentConfig
	run        *types.RunConfig

	governance   *governance.Engine
	matrix       *context.Matrix
	registry     *playbook.Registry
	gate         *probability.Gate
	probProvider ProbabilityProvider

	logger *zap.Logger

	atr14  *indicators.ATR
	atr60  *indicators.ATR
	adx    *indicators.ADX
	vwap   *indicators.VWAP
	relVol *indicators.RelativeVolume

	atr14Reading indicators.ATRReading
	atr60Reading indicators.ATRReading
	adxReading   indicators.ADXReading
	vwapReading  indicators.VWAPReading

	orBuilder      *orbuilder.Builder
	auctionBuilder *auction.MetricsBuilder
	classifier     *auction.Classifier

	session    SessionInput
	recentBars []types.Bar
	closes     []decimal.Decimal

	auctionReady bool
	auctionM     types.AuctionMetrics
	stateClass   types.StateClassification

	trades []*tradeState
	ledger []types.CompletedTrade
	equity []types.EquityCurvePoint

	lastBar types.Bar
	haveBar bool
}

// New constructs an orchestrator for one instrument. matrix, gate, and
// probProvider are all optional (pass nil to skip each stage).
func New(
	instrument types.InstrumentConfig,
	run *types.RunConfig,
	gov *governance.Engine,
	matrix *context.Matrix,
	registry *playbook.Registry,
	gate *probability.Gate,
	probProvider ProbabilityProvider,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		instrument:   instrument,
		run:          run,
		governance:   gov,
		matrix:       matrix,
		registry:     registry,
		gate:         gate,
		probProvider: probProvider,
		logger:       logger,
		atr14:        indicators.NewATR(14, true),
		atr60:        indicators.NewATR(60, true),
		adx:          indicators.NewADX(14),
		relVol:       indicators.NewRelativeVolume(20),
		classifier:   auction.NewClassifier(auction.DefaultClassifierConfig()),
	}
}

// StartSession resets every per-session component (the OR builder,
// the session VWAP, the auction-metrics accumulator, the active-trade
// set, and the recent-bar history) and arms the orchestrator for a
// new trading day. Indicators that span sessions (ATR, ADX, relative
// volume) are left running.
func (o *Orchestrator) StartSession(session SessionInput) {
	o.session = session
	o.vwap = indicators.NewVWAP(3)
	o.recentBars = nil
	o.closes = nil
	o.auctionReady = false
	o.auctionBuilder = nil
	o.auctionM = types.AuctionMetrics{}
	o.stateClass = types.StateClassification{}
	o.trades = nil
	o.haveBar = false

	o.orBuilder = orbuilder.New(orbuilder.Params{
		StartTS:            session.SessionStart,
		MicroMinutes:       o.instrument.MicroMinutes,
		PrimaryBaseMinutes: o.instrument.PrimaryBaseMinutes,
		PrimaryMinMinutes:  o.instrument.PrimaryMinMinutes,
		PrimaryMaxMinutes:  o.instrument.PrimaryMaxMinutes,
		LowVolThreshold:    o.instrument.LowVolThreshold,
		HighVolThreshold:   o.instrument.HighVolThreshold,
		ATR14:              o.currentATR14(),
		ATR60:              o.currentATR60(),
		WidthMinAbs:        o.instrument.ORWidthMinAbs,
		WidthMaxAbs:        o.instrument.ORWidthMaxAbs,
		WidthMinNorm:       o.instrument.ORWidthMinNorm,
		WidthMaxNorm:       o.instrument.ORWidthMaxNorm,
	})

	if o.registry != nil {
		o.registry.ResetAll()
	}
	o.governance.NewTradingDay(session.SessionStart)
}

func (o *Orchestrator) currentATR14() *float64 {
	if !o.atr14Reading.Usable {
		return nil
	}
	f, _ := o.atr14Reading.Value.Float64()
	return &f
}

func (o *Orchestrator) currentATR60() *float64 {
	if !o.atr60Reading.Usable {
		return nil
	}
	f, _ := o.atr60Reading.Value.Float64()
	return &f
}

// OnBar dispatches one bar through the fixed intra-bar sequence:
// indicators, opening range, active-trade management, then (if no
// trade is open) new-signal evaluation. Returns every trade closed by
// this bar.
func (o *Orchestrator) OnBar(bar types.Bar) ([]types.CompletedTrade, error) {
	if !bar.Valid() {
		return nil, orberr.NewDataError(o.instrument.Symbol, fmt.Sprintf("invalid OHLC at %s", bar.Timestamp))
	}
	if o.haveBar && !bar.Timestamp.After(o.lastBar.Timestamp) {
		return nil, orberr.NewDataError(o.instrument.Symbol, fmt.Sprintf("out-of-order bar at %s", bar.Timestamp))
	}
	o.lastBar = bar
	o.haveBar = true

	// 1. Indicators.
	o.atr14Reading = o.atr14.Update(bar.High, bar.Low, bar.Close)
	o.atr60Reading = o.atr60.Update(bar.High, bar.Low, bar.Close)
	o.adxReading = o.adx.Update(bar.High, bar.Low, bar.Close)
	o.vwapReading = o.vwap.Update(bar.High, bar.Low, bar.Close, bar.Volume)
	relVol := o.relVol.Update(bar.Volume)

	o.recentBars = append(o.recentBars, bar)
	o.closes = append(o.closes, bar.Close)
	if len(o.closes) > recentReturnWindow+1 {
		o.closes = o.closes[len(o.closes)-(recentReturnWindow+1):]
	}

	// 2. Opening range.
	o.orBuilder.Update(bar.Timestamp, bar.High, bar.Low)
	_, primaryNow := o.orBuilder.FinalizeIfDue(bar.Timestamp)

	if !o.orBuilder.PrimaryFinalized() {
		o.accumulateAuctionBar(bar)
	}
	if primaryNow && !o.auctionReady {
		o.finalizeAuction()
	}

	var closed []types.CompletedTrade

	// 3. Active trade management, in insertion order.
	remaining := o.trades[:0]
	for _, ts := range o.trades {
		if ct, ok := o.updateTrade(ts, bar, relVol); ok {
			closed = append(closed, ct)
		} else {
			remaining = append(remaining, ts)
		}
	}
	o.trades = remaining

	// 4. New-signal evaluation.
	if len(o.trades) == 0 && o.orBuilder.PrimaryFinalized() && o.auctionReady {
		if err := o.evaluateSignals(bar, relVol); err != nil {
			return closed, err
		}
	}

	o.ledger = append(o.ledger, closed...)
	for _, ct := range closed {
		o.recordEquity(ct)
	}

	return closed, nil
}

func (o *Orchestrator) accumulateAuctionBar(bar types.Bar) {
	if o.auctionBuilder == nil {
		o.auctionBuilder = auction.New(auction.Params{
			StartTS:       o.session.SessionStart,
			ATR14:         derefOr(o.currentATR14(), 0),
			ADR20:         o.session.ADR20,
			PriorHigh:     o.session.PriorHigh,
			PriorLow:      o.session.PriorLow,
			PriorClose:    o.session.PriorClose,
			OvernightHigh: o.session.OvernightHigh,
			OvernightLow:  o.session.OvernightLow,
		})
	}
	var expected *float64
	if o.session.ExpectedVolumeAt != nil {
		expected = o.session.ExpectedVolumeAt(bar.Timestamp)
	}
	o.auctionBuilder.AddBar(bar, expected)
}

func (o *Orchestrator) finalizeAuction() {
	if o.auctionBuilder == nil {
		// No bars fell inside the primary OR window (degenerate
		// session); leave the state classification at its zero value
		// and mark auction as "computed" so the orchestrator doesn't
		// try again every bar for the rest of the session.
		o.auctionReady = true
		return
	}
	o.auctionM = o.auctionBuilder.Compute()
	o.stateClass = o.classifier.Classify(o.auctionM, o.orBuilder.State())
	o.auctionReady = true
}

func derefOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}

// EndSession force-closes every remaining active trade at the given
// final bar's close, with reason EndOfDay, and returns them.
func (o *Orchestrator) EndSession(finalBar types.Bar) []types.CompletedTrade {
	var closed []types.CompletedTrade
	for _, ts := range o.trades {
		ct := o.closeTrade(ts, finalBar.Timestamp, finalBar.Close, types.ExitReasonEndOfDay, nil)
		closed = append(closed, ct)
	}
	o.trades = nil
	o.ledger = append(o.ledger, closed...)
	for _, ct := range closed {
		o.recordEquity(ct)
	}
	return closed
}

func (o *Orchestrator) recordEquity(ct types.CompletedTrade) {
	cumR := ct.RealizedR
	cumDollars := ct.RealizedDollars
	if n := len(o.equity); n > 0 {
		cumR = o.equity[n-1].CumulativeR.Add(ct.RealizedR)
		cumDollars = o.equity[n-1].CumulativeDollars.Add(ct.RealizedDollars)
	}
	status := o.governance.Status()
	o.equity = append(o.equity, types.EquityCurvePoint{
		Timestamp:         ct.ExitTimestamp,
		TradeID:           ct.ID,
		CumulativeR:       cumR,
		CumulativeDollars: cumDollars,
		Balance:           status.CurrentBalance,
		PeakBalance:       status.PeakBalance,
	})
}

// Ledger returns every completed trade recorded so far.
func (o *Orchestrator) Ledger() []types.CompletedTrade { return append([]types.CompletedTrade(nil), o.ledger...) }

// Equity returns the equity curve recorded so far.
func (o *Orchestrator) Equity() []types.EquityCurvePoint {
	return append([]types.EquityCurvePoint(nil), o.equity...)
}

// LastADX exposes the most recent ADX reading for status logging; it
// is not consulted by any trading decision (spec.md §4.1 treats ADX as
// a carried indicator, not a playbook input).
func (o *Orchestrator) LastADX() indicators.ADXReading { return o.adxReading }

// LastVWAP exposes the most recent session VWAP reading for status
// logging.
func (o *Orchestrator) LastVWAP() indicators.VWAPReading { return o.vwapReading }
