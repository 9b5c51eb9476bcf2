package playbook

import (
	"github.com/shopspring/decimal"

	"github.com/orbquant/orb-backtester/pkg/types"
)

// ORBRefined is PB1: a breakout of the (already finalized) primary OR
// with a volatility- and rotation-adjusted buffer. Eligible in the
// Initiative, Compression, and Balanced auction states.
type ORBRefined struct {
	fired bool
}

// NewORBRefined constructs PB1.
func NewORBRefined() *ORBRefined {
	return &ORBRefined{}
}

func (p *ORBRefined) Name() string { return "PB1_RefinedORB" }

func (p *ORBRefined) Reset() { p.fired = false }

func (p *ORBRefined) IsEligible(ctx *Context) bool {
	if p.fired {
		return false
	}
	if !ctx.OR.PrimaryValid || !ctx.OR.BothFinalized() {
		return false
	}
	if ctx.ContextExcluded {
		return false
	}
	switch ctx.State.State {
	case types.StateInitiative, types.StateCompression, types.StateBalanced:
		return true
	default:
		return false
	}
}

// buffer computes the dynamic ATR-unit buffer:
// clip(base + vol_alpha*recent_return_std + rotation_penalty*rotations, min, max)
func (p *ORBRefined) buffer(ctx *Context) float64 {
	inst := ctx.Instrument
	raw := inst.BufferBase +
		inst.BufferScalar*ctx.RecentReturnStd +
		inst.BufferRotationPenalty*float64(ctx.Auction.Rotations)
	return clampFloat(raw, inst.BufferMin, inst.BufferMax)
}

func (p *ORBRefined) GenerateSignals(ctx *Context) []types.CandidateSignal {
	bufferATR := p.buffer(ctx)
	atr := decimalFromFloat(ctx.ATR14)
	bufferAbs := decimalFromFloat(bufferATR).Mul(atr)

	orHigh := ctx.OR.Primary.High
	orLow := ctx.OR.Primary.Low

	longTrigger := orHigh.Add(bufferAbs)
	shortTrigger := orLow.Sub(bufferAbs)

	var direction types.Direction
	var triggerPrice, initialStop decimal.Decimal
	switch {
	case ctx.Bar.Close.GreaterThanOrEqual(longTrigger):
		direction = types.Long
		triggerPrice = longTrigger
		initialStop = orLow
	case ctx.Bar.Close.LessThanOrEqual(shortTrigger):
		direction = types.Short
		triggerPrice = shortTrigger
		initialStop = orHigh
	default:
		return nil
	}

	entryPrice := ctx.Bar.Close
	phase1StopDistance := decimal.NewFromFloat(0.8).Mul(entryPrice.Sub(initialStop).Abs())

	exitMode := p.PreferredExitMode(ctx)

	p.fired = true

	return []types.CandidateSignal{{
		PlaybookName:         p.Name(),
		Direction:            direction,
		EntryPrice:           entryPrice,
		TriggerPrice:         triggerPrice,
		BufferUsed:           bufferAbs,
		InitialStop:          initialStop,
		Phase1StopDistance:   phase1StopDistance,
		ExitMode:             exitMode,
		Timestamp:            ctx.Bar.Timestamp,
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

func (p *ORBRefined) PreferredExitMode(ctx *Context) types.ExitModeDescriptor {
	switch ctx.State.State {
	case types.StateInitiative:
		return types.ExitModeDescriptor{
			Mode:        types.ExitPartialThenTrail,
			PartialAtR:  decimal.NewFromFloat(1.2),
			PartialSize: decimal.NewFromFloat(0.2),
			TrailFactor: decimal.NewFromFloat(2.0),
		}
	case types.StateCompression:
		return types.ExitModeDescriptor{
			Mode:        types.ExitPartialThenTrail,
			PartialAtR:  decimal.NewFromFloat(1.5),
			PartialSize: decimal.NewFromFloat(0.4),
			TrailFactor: decimal.NewFromFloat(1.5),
		}
	default: // Balanced
		return types.ExitModeDescriptor{
			Mode:          types.ExitHybridVolPivot,
			TrailFactor:   decimal.NewFromFloat(1.8),
			PivotLookback: 3,
		}
	}
}

func orWidthNorm(ctx *Context) float64 {
	if ctx.OR.PrimaryWidthNorm != nil {
		return *ctx.OR.PrimaryWidthNorm
	}
	return 0.0
}
