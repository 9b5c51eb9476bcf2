package playbook

import (
	"github.com/shopspring/decimal"

	"github.com/orbquant/orb-backtester/pkg/types"
)

const (
	defaultWickRatioMin        = 0.55
	defaultVolumeFadeThreshold = 0.8
	defaultFailureFadeTimeLimitMinutes = 30
	defaultFailureFadeTargetR  = 1.0
)

// FailureFade is PB2: a single session-scoped failure event — a bar
// that pokes beyond the OR on thin volume and closes back inside,
// wick-dominant. Fires at most once per session.
type FailureFade struct {
	fired bool
}

// NewFailureFade constructs PB2.
func NewFailureFade() *FailureFade {
	return &FailureFade{}
}

func (p *FailureFade) Name() string { return "PB2_FailureFade" }

func (p *FailureFade) Reset() { p.fired = false }

func (p *FailureFade) IsEligible(ctx *Context) bool {
	if p.fired {
		return false
	}
	return ctx.OR.PrimaryValid && ctx.OR.BothFinalized() && !ctx.ContextExcluded
}

// detect returns the failed-breakout direction (the side price poked
// through and rejected from) and the rejection extreme, or ok=false
// if this bar is not a failure event.
func (p *FailureFade) detect(ctx *Context) (direction types.Direction, rejectionExtreme decimal.Decimal, ok bool) {
	bar := ctx.Bar
	orHigh, orLow := ctx.OR.Primary.High, ctx.OR.Primary.Low

	body := bar.Close.Sub(bar.Open).Abs()
	barRange := bar.High.Sub(bar.Low)
	if !barRange.IsPositive() {
		return "", decimal.Zero, false
	}

	wickRatioMin := defaultWickRatioMin
	volumeFadeThreshold := defaultVolumeFadeThreshold
	if ctx.Instrument.VolumeFadeThreshold > 0 {
		volumeFadeThreshold = ctx.Instrument.VolumeFadeThreshold
	}

	relVolOK := ctx.RelVol < volumeFadeThreshold

	// Upside poke that closes back inside the OR.
	if bar.High.GreaterThan(orHigh) && bar.Close.LessThanOrEqual(orHigh) {
		upperWick := bar.High.Sub(decimal.Max(bar.Open, bar.Close))
		wickRatio := 0.0
		if body.IsPositive() {
			wickRatio = upperWick.Div(body).InexactFloat64()
		}
		if wickRatio >= wickRatioMin && relVolOK {
			return types.Short, bar.High, true
		}
	}

	// Downside poke that closes back inside the OR.
	if bar.Low.LessThan(orLow) && bar.Close.GreaterThanOrEqual(orLow) {
		lowerWick := decimal.Min(bar.Open, bar.Close).Sub(bar.Low)
		wickRatio := 0.0
		if body.IsPositive() {
			wickRatio = lowerWick.Div(body).InexactFloat64()
		}
		if wickRatio >= wickRatioMin && relVolOK {
			return types.Long, bar.Low, true
		}
	}

	return "", decimal.Zero, false
}

func (p *FailureFade) GenerateSignals(ctx *Context) []types.CandidateSignal {
	direction, rejectionExtreme, ok := p.detect(ctx)
	if !ok {
		return nil
	}

	mid := ctx.OR.Primary.Midpoint()
	atr := decimalFromFloat(ctx.ATR14)
	stopBuffer := atr.Mul(decimal.NewFromFloat(0.1))

	var initialStop decimal.Decimal
	if direction == types.Short {
		initialStop = rejectionExtreme.Add(stopBuffer)
	} else {
		initialStop = rejectionExtreme.Sub(stopBuffer)
	}

	p.fired = true

	return []types.CandidateSignal{{
		PlaybookName:       p.Name(),
		Direction:          direction,
		EntryPrice:         mid,
		TriggerPrice:       mid,
		InitialStop:        initialStop,
		Phase1StopDistance: mid.Sub(initialStop).Abs(),
		ExitMode:           p.PreferredExitMode(ctx),
		Timestamp:          ctx.Bar.Timestamp,
		Metadata: types.SignalMetadata{
			AuctionState:           ctx.State.State,
			AuctionStateConfidence: ctx.State.Confidence,
			ORWidthNorm:            orWidthNorm(ctx),
			BreakoutDelayMinutes:   ctx.MinutesSinceORClose,
			VolumeQualityScore:     ctx.VolumeQuality,
			NormalizedVol:          ctx.RecentReturnStd,
			DriveEnergy:            ctx.Auction.DriveEnergy,
			Rotations:              ctx.Auction.Rotations,
			GapType:                ctx.Auction.GapType,
		},
	}}
}

func (p *FailureFade) PreferredExitMode(ctx *Context) types.ExitModeDescriptor {
	// PartialAtR carries the single target's R-multiple here; there is
	// no partial ladder for this mode, just one exit at that R.
	return types.ExitModeDescriptor{
		Mode:             types.ExitSingleTarget,
		PartialAtR:       decimal.NewFromFloat(defaultFailureFadeTargetR),
		TimeLimitMinutes: defaultFailureFadeTimeLimitMinutes,
	}
}
