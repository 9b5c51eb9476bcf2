package playbook

import (
	"github.com/shopspring/decimal"

	"github.com/orbquant/orb-backtester/pkg/types"
)

const (
	defaultImpulseThresholdR = 0.8
	defaultImpulseTimeBars   = 15
	defaultFlagMinBars       = 3
	defaultFlagMaxBars       = 20
	defaultFlagRetraceMin    = 0.25
	defaultFlagRetraceMax    = 0.62
)

type pb3Stage int

const (
	stageWaitingImpulse pb3Stage = iota
	stageTrackingFlag
	stageDone
)

// PullbackContinuation is PB3: a two-stage state machine. First it
// waits for an impulse move beyond the OR of at least
// impulse_threshold_r within impulse_time_bars bars. Once an impulse
// is seen, it tracks a consolidation flag of bounded duration and
// fires when price breaks the flag extreme in the impulse direction,
// provided the flag's retrace sits within the configured band of the
// impulse move.
type PullbackContinuation struct {
	stage pb3Stage
	fired bool

	barsSinceORClose int

	impulseDirection types.Direction
	impulseExtreme   decimal.Decimal
	impulseMove      decimal.Decimal // abs distance from OR boundary to impulse extreme
	orBoundary       decimal.Decimal

	flagBars        int
	flagHigh, flagLow decimal.Decimal

	readyToFire   bool
	fireDirection types.Direction
	fireStop      decimal.Decimal
}

// NewPullbackContinuation constructs PB3.
func NewPullbackContinuation() *PullbackContinuation {
	return &PullbackContinuation{stage: stageWaitingImpulse}
}

func (p *PullbackContinuation) Name() string { return "PB3_PullbackContinuation" }

func (p *PullbackContinuation) Reset() {
	*p = PullbackContinuation{stage: stageWaitingImpulse}
}

func (p *PullbackContinuation) IsEligible(ctx *Context) bool {
	if p.fired {
		return false
	}
	if !ctx.OR.PrimaryValid || !ctx.OR.BothFinalized() {
		return false
	}
	if ctx.ContextExcluded {
		return false
	}

	p.readyToFire = false
	p.advance(ctx)
	return p.readyToFire
}

func (p *PullbackContinuation) advance(ctx *Context) {
	p.barsSinceORClose++

	switch p.stage {
	case stageWaitingImpulse:
		p.trackImpulse(ctx)
	case stageTrackingFlag:
		p.trackFlag(ctx)
	case stageDone:
	}
}

func (p *PullbackContinuation) trackImpulse(ctx *Context) {
	if p.barsSinceORClose > defaultImpulseTimeBars {
		p.stage = stageDone
		return
	}

	orHigh, orLow := ctx.OR.Primary.High, ctx.OR.Primary.Low
	orWidth := orHigh.Sub(orLow)
	if !orWidth.IsPositive() {
		return
	}
	threshold := orWidth.Mul(decimal.NewFromFloat(defaultImpulseThresholdR))

	upMove := ctx.Bar.High.Sub(orHigh)
	downMove := orLow.Sub(ctx.Bar.Low)

	if upMove.GreaterThanOrEqual(threshold) && upMove.GreaterThanOrEqual(downMove) {
		p.impulseDirection = types.Long
		p.impulseExtreme = ctx.Bar.High
		p.impulseMove = upMove
		p.orBoundary = orHigh
		p.stage = stageTrackingFlag
		p.flagBars = 0
		p.flagHigh, p.flagLow = ctx.Bar.High, ctx.Bar.Low
		return
	}
	if downMove.GreaterThanOrEqual(threshold) {
		p.impulseDirection = types.Short
		p.impulseExtreme = ctx.Bar.Low
		p.impulseMove = downMove
		p.orBoundary = orLow
		p.stage = stageTrackingFlag
		p.flagBars = 0
		p.flagHigh, p.flagLow = ctx.Bar.High, ctx.Bar.Low
		return
	}
}

func (p *PullbackContinuation) trackFlag(ctx *Context) {
	p.flagBars++

	if ctx.Bar.High.GreaterThan(p.flagHigh) {
		p.flagHigh = ctx.Bar.High
	}
	if ctx.Bar.Low.LessThan(p.flagLow) {
		p.flagLow = ctx.Bar.Low
	}

	if p.flagBars > defaultFlagMaxBars {
		p.stage = stageDone
		return
	}
	if p.flagBars < defaultFlagMinBars {
		return
	}

	var broke bool
	var retrace decimal.Decimal
	if p.impulseDirection == types.Long {
		broke = ctx.Bar.High.GreaterThan(p.impulseExtreme)
		retrace = p.impulseExtreme.Sub(p.flagLow)
	} else {
		broke = ctx.Bar.Low.LessThan(p.impulseExtreme)
		retrace = p.flagHigh.Sub(p.impulseExtreme)
	}
	if !broke {
		return
	}

	if !p.impulseMove.IsPositive() {
		p.stage = stageDone
		return
	}
	retraceRatio := retrace.Div(p.impulseMove).InexactFloat64()
	if retraceRatio < defaultFlagRetraceMin || retraceRatio > defaultFlagRetraceMax {
		p.stage = stageDone
		return
	}

	p.readyToFire = true
	p.fireDirection = p.impulseDirection
	if p.impulseDirection == types.Long {
		p.fireStop = p.flagLow
	} else {
		p.fireStop = p.flagHigh
	}
}

func (p *PullbackContinuation) GenerateSignals(ctx *Context) []types.CandidateSignal {
	if !p.readyToFire {
		return nil
	}

	entry := ctx.Bar.Close
	initialStop := p.fireStop

	p.fired = true
	p.stage = stageDone

	return []types.CandidateSignal{{
		PlaybookName:       p.Name(),
		Direction:          p.fireDirection,
		EntryPrice:         entry,
		TriggerPrice:       entry,
		InitialStop:        initialStop,
		Phase1StopDistance: entry.Sub(initialStop).Abs(),
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

func (p *PullbackContinuation) PreferredExitMode(ctx *Context) types.ExitModeDescriptor {
	return types.ExitModeDescriptor{
		Mode:          types.ExitTrailPivot,
		PivotLookback: 3,
	}
}
