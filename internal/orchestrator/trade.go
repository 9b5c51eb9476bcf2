package orchestrator

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/orbquant/orb-backtester/internal/indicators"
	"github.com/orbquant/orb-backtester/internal/probability"
	"github.com/orbquant/orb-backtester/internal/risk"
	"github.com/orbquant/orb-backtester/pkg/types"
	"github.com/orbquant/orb-backtester/pkg/utils"
)

// defaultRunnerPExtensionThreshold mirrors probability.DefaultGateConfig's
// runner threshold; the two-phase stop's Phase3 handoff compares a
// trade's p_extension against it when one is available.
const defaultRunnerPExtensionThreshold = 0.55

var defaultRunnerTrailFactor = decimal.NewFromFloat(2.0)

// tradeState wraps one ActiveTrade together with the risk managers that
// evolve its stop/exit over the trade's lifetime.
type tradeState struct {
	trade *types.ActiveTrade

	exitMode types.ExitModeDescriptor
	isTrail  bool

	stopMgr      *risk.TwoPhaseStopManager
	partialMgr   *risk.PartialExitManager
	trailMgr     *risk.TrailingStopManager
	salvageMgr   *risk.SalvageManager
	timeDecayMgr *risk.TimeDecayExitManager

	highestFavorable decimal.Decimal
	structuralAnchor *decimal.Decimal
	pExtension       *float64
}

// runnerTrailFactor scales the runner leg's ATR-trail tightness by its
// probability of extension when one is available (tighter trail for
// higher-confidence extensions), falling back to the signal's own
// configured trail factor or the package default.
func runnerTrailFactor(exitMode types.ExitModeDescriptor, pExtension *float64) decimal.Decimal {
	base := exitMode.TrailFactor
	if base.IsZero() {
		base = defaultRunnerTrailFactor
	}
	if pExtension == nil {
		return base
	}
	baseF, _ := base.Float64()
	params := probability.ComputeRunnerParams(*pExtension, 2.0, baseF, 1.5)
	return params.TrailFactor
}

func isDirectTrailMode(mode types.ExitMode) bool {
	switch mode {
	case types.ExitTrailVol, types.ExitTrailPivot, types.ExitHybridVolPivot:
		return true
	default:
		return false
	}
}

// openTrade sizes and opens a new position from an accepted candidate
// signal, wiring up every risk manager its exit mode needs.
func (o *Orchestrator) openTrade(signal types.CandidateSignal, sizeMultiplier decimal.Decimal, pExtension *float64) {
	direction := signal.Direction
	entryPrice := signal.EntryPrice
	initialStop := signal.InitialStop
	initialRisk := entryPrice.Sub(initialStop).Abs()

	atrDec := decimal.NewFromFloat(derefOr(o.currentATR14(), 0))

	if o.instrument.StopATRCap > 0 {
		cap := atrDec.Mul(decimal.NewFromFloat(o.instrument.StopATRCap))
		if cap.IsPositive() && initialRisk.GreaterThan(cap) {
			initialRisk = cap
			if direction == types.Long {
				initialStop = entryPrice.Sub(initialRisk)
			} else {
				initialStop = entryPrice.Add(initialRisk)
			}
		}
	}
	if o.instrument.StopMinTicks > 0 && o.instrument.TickSize.IsPositive() {
		minRisk := o.instrument.TickSize.Mul(decimal.NewFromInt(int64(o.instrument.StopMinTicks)))
		if initialRisk.LessThan(minRisk) {
			initialRisk = minRisk
			if direction == types.Long {
				initialStop = entryPrice.Sub(initialRisk)
			} else {
				initialStop = entryPrice.Add(initialRisk)
			}
		}
	}

	if !initialRisk.IsPositive() || !o.instrument.TickSize.IsPositive() {
		return
	}
	perContractRisk := initialRisk.Div(o.instrument.TickSize).Mul(o.instrument.TickValue)

	decision := o.governance.CanTakeTrade(o.instrument.Symbol, perContractRisk)
	if !decision.Allowed {
		o.logger.Debug("governance rejected signal",
			zap.String("symbol", o.instrument.Symbol),
			zap.String("playbook", signal.PlaybookName),
			zap.String("reason", decision.Reason))
		return
	}

	contracts := decimal.NewFromInt(1).Mul(o.governance.PositionSizeMultiplier()).Mul(sizeMultiplier).Round(0)
	if contracts.LessThan(decimal.NewFromInt(1)) {
		contracts = decimal.NewFromInt(1)
	}
	if o.run.Account.MaxContracts > 0 {
		maxC := decimal.NewFromInt(int64(o.run.Account.MaxContracts))
		if contracts.GreaterThan(maxC) {
			contracts = maxC
		}
	}

	meta := signal.Metadata
	meta.PExtension = pExtension

	trade := &types.ActiveTrade{
		ID:                   utils.NewTradeID(),
		Symbol:               o.instrument.Symbol,
		Direction:             direction,
		EntryTimestamp:       signal.Timestamp,
		EntryPrice:           entryPrice,
		InitialStop:          initialStop,
		CurrentStop:          initialStop,
		InitialRisk:          initialRisk,
		PositionSize:         contracts,
		RemainingSize:        decimal.NewFromInt(1),
		FirstTimeToPlus1R:    -1,
		StopPhase:            types.PhaseStatistical,
		ExitMode:             signal.ExitMode,
		Metadata:             meta,
		RealizedRFromPartials: decimal.Zero,
	}

	ts := &tradeState{
		trade:            trade,
		exitMode:         signal.ExitMode,
		isTrail:          isDirectTrailMode(signal.ExitMode.Mode),
		highestFavorable: entryPrice,
		structuralAnchor: signal.StructuralAnchor,
		pExtension:       pExtension,
	}

	if ts.isTrail {
		trailFactor := runnerTrailFactor(signal.ExitMode, pExtension)
		pivotLookback := signal.ExitMode.PivotLookback
		if pivotLookback == 0 {
			pivotLookback = 3
		}
		ts.trailMgr = risk.NewTrailingStopManager(signal.ExitMode.Mode, direction, initialStop, trailFactor, pivotLookback)
	} else {
		structuralBuffer := atrDec.Mul(decimal.NewFromFloat(0.1))
		ts.stopMgr = risk.NewTwoPhaseStopManager(risk.TwoPhaseStopParams{
			Direction:           direction,
			EntryPrice:          entryPrice,
			InitialRisk:         initialRisk,
			Phase1StopDistance:  signal.Phase1StopDistance,
			Phase2TriggerR:      o.run.Phase2TriggerR,
			RunnerTriggerR:      o.run.RunnerTriggerR,
			StructuralAnchor:    signal.StructuralAnchor,
			StructuralBuffer:    structuralBuffer,
			PExtension:          pExtension,
			PExtensionThreshold: defaultRunnerPExtensionThreshold,
			StopMultiplier:      nonZeroOr(o.run.StopMultiplier, decimal.NewFromInt(1)),
			BreakevenTriggerR:   o.run.BreakevenTriggerR,
		})
	}

	switch signal.ExitMode.Mode {
	case types.ExitPartialThenTrail:
		specs := []types.TargetSpec{{RMultiple: signal.ExitMode.PartialAtR, SizeFraction: signal.ExitMode.PartialSize}}
		ts.partialMgr = risk.NewPartialExitManager(direction, entryPrice, initialRisk, specs)
	case types.ExitSingleTarget:
		specs := []types.TargetSpec{{RMultiple: signal.ExitMode.PartialAtR, SizeFraction: decimal.NewFromInt(1)}}
		ts.partialMgr = risk.NewPartialExitManager(direction, entryPrice, initialRisk, specs)
	}
	if ts.partialMgr != nil {
		for _, t := range ts.partialMgr.Targets() {
			trade.Targets = append(trade.Targets, types.Target{Price: t.Price, RMultiple: t.TargetR, SizeFraction: t.SizeFraction})
		}
	}

	ts.salvageMgr = risk.NewSalvageManager(o.salvageConditions())
	ts.timeDecayMgr = risk.NewTimeDecayExitManager(o.timeDecayConfig())

	o.trades = append(o.trades, ts)
	o.governance.RegisterTradeEntry(o.instrument.Symbol)
}

func nonZeroOr(v, fallback decimal.Decimal) decimal.Decimal {
	if v.IsZero() {
		return fallback
	}
	return v
}

func (o *Orchestrator) salvageConditions() risk.SalvageConditions {
	if o.run.SalvageTriggerMFER.IsZero() {
		return risk.DefaultSalvageConditions()
	}
	var maxBars *int
	if o.run.SalvageMaxBarsToPeak > 0 {
		v := o.run.SalvageMaxBarsToPeak
		maxBars = &v
	}
	return risk.SalvageConditions{
		TriggerMFER:       o.run.SalvageTriggerMFER.InexactFloat64(),
		RetraceThreshold:  o.run.SalvageRetraceTh,
		ConfirmationBars:  o.run.SalvageConfirmBars,
		RecoveryThreshold: o.run.SalvageRecoveryTh,
		MaxBarsFromPeak:   maxBars,
	}
}

func (o *Orchestrator) timeDecayConfig() risk.TimeDecayConfig {
	cfg := risk.DefaultTimeDecayConfig()
	if o.instrument.TimeStopMaxBars > 0 {
		v := o.instrument.TimeStopMaxBars
		cfg.MaxBars = &v
	}
	if o.instrument.TimeStopSlopeWindow > 0 {
		cfg.SlopeWindow = o.instrument.TimeStopSlopeWindow
	}
	if o.instrument.TimeStopSlopeMin != 0 {
		cfg.SlopeThreshold = o.instrument.TimeStopSlopeMin
	}
	if o.instrument.NoProgressBars > 0 {
		cfg.NoProgressBars = o.instrument.NoProgressBars
	}
	if o.instrument.NoProgressThreshold != 0 {
		cfg.NoProgressThresholdR = o.instrument.NoProgressThreshold
	}
	return cfg
}

// updateTrade advances one active trade through one bar: MFE/MAE,
// salvage, stop evolution (including the runner handoff), stop-hit,
// partial-exit ladder, and time-decay/time-limit checks, in that order
// (spec.md §4.14 step 3). Returns the closed trade and true if this bar
// closed it.
func (o *Orchestrator) updateTrade(ts *tradeState, bar types.Bar, relVol indicators.RelVolReading) (types.CompletedTrade, bool) {
	trade := ts.trade

	favorable, adverse := bar.Close, bar.Close
	if trade.Direction == types.Long {
		favorable, adverse = bar.High, bar.Low
		ts.highestFavorable = decimal.Max(ts.highestFavorable, bar.High)
	} else {
		favorable, adverse = bar.Low, bar.High
		ts.highestFavorable = decimal.Min(ts.highestFavorable, bar.Low)
	}

	mfeR := trade.CurrentR(favorable)
	maeR := trade.CurrentR(adverse)
	if trade.BarsHeld == 0 || mfeR.GreaterThan(trade.MFE) {
		trade.MFE = mfeR
		trade.MFETimestamp = bar.Timestamp
	}
	if trade.BarsHeld == 0 || maeR.LessThan(trade.MAE) {
		trade.MAE = maeR
		trade.MAETimestamp = bar.Timestamp
	}
	trade.BarsHeld++
	if trade.FirstTimeToPlus1R < 0 && mfeR.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		trade.FirstTimeToPlus1R = trade.BarsHeld
	}

	mfeRFloat, _ := mfeR.Float64()
	currentRFloat, _ := trade.CurrentR(bar.Close).Float64()

	if event := ts.salvageMgr.Evaluate(bar.Close, mfeRFloat, currentRFloat, bar.Timestamp); event != nil {
		benefit := decimal.NewFromFloat(event.SalvageBenefitR)
		return o.closeTrade(ts, bar.Timestamp, event.ExitPrice, types.ExitReasonSalvage, &benefit), true
	}

	atrDec := decimal.NewFromFloat(derefOr(o.currentATR14(), 0))

	if ts.isTrail {
		ts.trailMgr.Update(bar, ts.highestFavorable, atrDec)
		trade.CurrentStop = ts.trailMgr.CurrentStop()
	} else {
		upd := ts.stopMgr.Update(mfeR, bar.Timestamp, ts.structuralAnchor)
		if upd != nil && upd.Reason == "breakeven move" {
			trade.BreakevenMoved = true
		}
		trade.StopPhase = ts.stopMgr.Phase()

		if ts.stopMgr.IsInRunnerPhase() {
			trade.RunnerActivated = true
			if ts.trailMgr == nil {
				trailFactor := runnerTrailFactor(ts.exitMode, ts.pExtension)
				pivotLookback := ts.exitMode.PivotLookback
				if pivotLookback == 0 {
					pivotLookback = 3
				}
				ts.trailMgr = risk.NewTrailingStopManager(types.ExitTrailVol, trade.Direction, ts.stopMgr.StopPrice(), trailFactor, pivotLookback)
			}
			ts.trailMgr.Update(bar, ts.highestFavorable, atrDec)
			trade.CurrentStop = ts.trailMgr.CurrentStop()
		} else {
			trade.CurrentStop = ts.stopMgr.StopPrice()
		}
	}

	if trade.StopHit(bar.High, bar.Low) {
		reason := types.ExitReasonStop
		if trade.CurrentStop.Equal(trade.EntryPrice) {
			reason = types.ExitReasonBreakevenStop
		} else if ts.isTrail || (ts.stopMgr != nil && ts.stopMgr.IsInRunnerPhase()) {
			reason = types.ExitReasonTrailingStop
		}
		return o.closeTrade(ts, bar.Timestamp, trade.CurrentStop, reason, nil), true
	}

	if ts.partialMgr != nil {
		events, remaining := ts.partialMgr.CheckTargets(bar, trade.RemainingSize)
		for _, ev := range events {
			trade.RealizedRFromPartials = trade.RealizedRFromPartials.Add(ev.TargetR.Mul(ev.SizeFraction))
			for i := range trade.Targets {
				if !trade.Targets[i].Hit && trade.Targets[i].RMultiple.Equal(ev.TargetR) {
					trade.Targets[i].Hit = true
					trade.Targets[i].HitTimestamp = ev.Timestamp
					break
				}
			}
		}
		trade.RemainingSize = remaining
		if len(events) > 0 && remaining.IsZero() {
			last := events[len(events)-1]
			reason := types.ExitReasonTarget1
			if len(trade.Targets) > 1 {
				reason = types.ExitReasonTarget2
			}
			return o.closeTrade(ts, bar.Timestamp, last.FillPrice, reason, nil), true
		}
	}

	if ts.exitMode.TimeLimitMinutes > 0 {
		elapsed := bar.Timestamp.Sub(trade.EntryTimestamp)
		if elapsed >= time.Duration(ts.exitMode.TimeLimitMinutes)*time.Minute {
			return o.closeTrade(ts, bar.Timestamp, bar.Close, types.ExitReasonTimeStop, nil), true
		}
	}
	if reason := ts.timeDecayMgr.Update(mfeRFloat, bar.Timestamp); reason != "" {
		return o.closeTrade(ts, bar.Timestamp, bar.Close, types.ExitReasonTimeStop, nil), true
	}

	return types.CompletedTrade{}, false
}

// closeTrade freezes a tradeState into a CompletedTrade, weighting any
// partial fills already realized against the final exit, and registers
// the result with governance.
func (o *Orchestrator) closeTrade(ts *tradeState, exitTS time.Time, exitPrice decimal.Decimal, reason types.ExitReason, salvageBenefit *decimal.Decimal) types.CompletedTrade {
	trade := ts.trade

	var realizedR decimal.Decimal
	if ts.partialMgr != nil {
		finalR := trade.CurrentR(exitPrice)
		realizedR = risk.ComputeWeightedRealizedR(ts.partialMgr.Targets(), trade.RemainingSize, finalR)
	} else {
		realizedR = trade.CurrentR(exitPrice)
	}

	realizedDollars := decimal.Zero
	if o.instrument.TickSize.IsPositive() {
		realizedDollars = realizedR.Mul(trade.InitialRisk).Div(o.instrument.TickSize).Mul(o.instrument.TickValue).Mul(trade.PositionSize)
	}

	ct := types.CompletedTrade{
		ID:              trade.ID,
		Symbol:          trade.Symbol,
		Direction:       trade.Direction,
		EntryTimestamp:  trade.EntryTimestamp,
		EntryPrice:      trade.EntryPrice,
		ExitTimestamp:   exitTS,
		ExitPrice:       exitPrice,
		InitialStop:     trade.InitialStop,
		InitialRisk:     trade.InitialRisk,
		Targets:         trade.Targets,
		RealizedR:       realizedR,
		RealizedDollars: realizedDollars,
		MFE:             trade.MFE,
		MAE:             trade.MAE,
		MFETimestamp:    trade.MFETimestamp,
		MAETimestamp:    trade.MAETimestamp,
		BarsHeld:        trade.BarsHeld,
		ExitReason:      reason,
		Metadata:        trade.Metadata,
		SalvageBenefitR: salvageBenefit,
	}

	o.governance.RegisterTradeExit(trade.Symbol, realizedDollars, realizedR)

	return ct
}
