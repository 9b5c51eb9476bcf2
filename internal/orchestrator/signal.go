package orchestrator

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/orbquant/orb-backtester/internal/indicators"
	"github.com/orbquant/orb-backtester/internal/playbook"
	"github.com/orbquant/orb-backtester/pkg/types"
)

// evaluateSignals runs the new-signal-evaluation step (spec.md §4.14
// step 4): time-of-day filters, context construction, context
// exclusion, playbook polling, the probability gate, and the
// governance check, opening at most one trade. Only the first emitted
// signal is considered; if it is rejected, no other signal is tried on
// this bar.
func (o *Orchestrator) evaluateSignals(bar types.Bar, relVol indicators.RelVolReading) error {
	if o.inSkipWindow(bar) {
		return nil
	}
	if o.registry == nil {
		return nil
	}

	ctx := o.buildContext(bar, relVol)

	if o.matrix != nil {
		sig := o.matrix.CreateSignature(orWidthNormFromOR(o.orBuilder.State()), ctx.MinutesSinceORClose, ctx.VolumeQuality, ctx.State.State, ctx.Auction.GapType)
		ctx.ContextExcluded = o.matrix.IsExcluded(sig)
	}

	signals := o.registry.Evaluate(ctx)
	if len(signals) == 0 {
		return nil
	}
	signal := signals[0]

	sizeMultiplier := decimal.NewFromInt(1)
	var pExtension *float64

	if o.probProvider != nil {
		if p, ok := o.probProvider(signal, ctx); ok {
			pExtension = &p
		}
	}

	if o.gate != nil && pExtension != nil {
		decision := o.gate.Evaluate(*pExtension)
		if !decision.Passed {
			return nil
		}
		sizeMultiplier = decision.SizeMultiplier
		if decision.TargetMultiplier != 0 && decision.TargetMultiplier != 1.0 {
			signal.ExitMode.PartialAtR = signal.ExitMode.PartialAtR.Mul(decimal.NewFromFloat(decision.TargetMultiplier))
		}
	}

	o.openTrade(signal, sizeMultiplier, pExtension)
	return nil
}

// inSkipWindow reports whether bar falls inside the configured lunch
// skip window or the skip-N-minutes-after-OR-close window.
func (o *Orchestrator) inSkipWindow(bar types.Bar) bool {
	if o.run.SkipLunchWindowStart > 0 || o.run.SkipLunchWindowEnd > 0 {
		elapsed := bar.Timestamp.Sub(o.session.SessionStart)
		if elapsed >= o.run.SkipLunchWindowStart && elapsed < o.run.SkipLunchWindowEnd {
			return true
		}
	}
	if o.run.SkipMinutesAfterORClose > 0 {
		primaryEnd := o.orBuilder.State().Primary.EndTS
		if bar.Timestamp.Before(primaryEnd.Add(time.Duration(o.run.SkipMinutesAfterORClose) * time.Minute)) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) buildContext(bar types.Bar, relVol indicators.RelVolReading) *playbook.Context {
	orState := o.orBuilder.State()
	minutesSinceORClose := bar.Timestamp.Sub(orState.Primary.EndTS).Minutes()
	if minutesSinceORClose < 0 {
		minutesSinceORClose = 0
	}

	return &playbook.Context{
		Symbol:              o.instrument.Symbol,
		Bar:                 bar,
		RecentBars:          append([]types.Bar(nil), o.recentBars...),
		OR:                  orState,
		Auction:             o.auctionM,
		State:               o.stateClass,
		Instrument:          o.instrument,
		ATR14:               derefOr(o.currentATR14(), 0),
		RecentReturnStd:     o.computeRecentReturnStd(),
		RelVol:              relVol.RelVol,
		VolumeQuality:       clamp01x2(relVol.RelVol),
		ContextExcluded:     false,
		MinutesSinceORClose: minutesSinceORClose,
		SessionStart:        o.session.SessionStart,
	}
}

// clamp01x2 clips a relative-volume ratio to [0, 2] for use as a
// bounded volume-quality score.
func clamp01x2(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 2 {
		return 2
	}
	return v
}

func orWidthNormFromOR(or types.DualORState) float64 {
	if or.PrimaryWidthNorm != nil {
		return *or.PrimaryWidthNorm
	}
	return 0
}

// computeRecentReturnStd returns the standard deviation of simple
// close-to-close returns over the trailing window of stored closes.
func (o *Orchestrator) computeRecentReturnStd() float64 {
	if len(o.closes) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(o.closes)-1)
	for i := 1; i < len(o.closes); i++ {
		prev := o.closes[i-1]
		if prev.IsZero() {
			continue
		}
		r := o.closes[i].Sub(prev).Div(prev).InexactFloat64()
		returns = append(returns, r)
	}
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var sumSq float64
	for _, r := range returns {
		d := r - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(returns)-1))
}
