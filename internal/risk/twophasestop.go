// Package risk implements the trade-management layer: the two-phase
// stop manager, salvage manager, trailing stop modes, partial exit
// ladder, and time-decay/no-progress exit (SPEC_FULL.md §4.15-4.16,
// grounded on original_source/orb_confluence/risk/*.py).
package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/orbquant/orb-backtester/pkg/types"
)

// StopUpdate records one change to a trade's stop (price and/or
// phase) produced by one TwoPhaseStopManager.Update call.
type StopUpdate struct {
	Timestamp   time.Time
	OldStop     decimal.Decimal
	NewStop     decimal.Decimal
	OldPhase    types.StopPhase
	NewPhase    types.StopPhase
	Reason      string
	CurrentMFER decimal.Decimal
}

// TwoPhaseStopParams configures a TwoPhaseStopManager for one trade.
type TwoPhaseStopParams struct {
	Direction          types.Direction
	EntryPrice         decimal.Decimal
	InitialRisk        decimal.Decimal
	Phase1StopDistance decimal.Decimal // already in price units
	Phase2TriggerR     decimal.Decimal
	RunnerTriggerR     decimal.Decimal
	StructuralAnchor   *decimal.Decimal
	StructuralBuffer   decimal.Decimal
	PExtension         *float64
	PExtensionThreshold float64
	StopMultiplier     decimal.Decimal
	BreakevenTriggerR  decimal.Decimal
}

// TwoPhaseStopManager evolves a single trade's stop through three
// phases: a tight statistical stop, a wider structural stop once MFE
// clears phase2_trigger_r, and a handoff to the trailing module once
// MFE clears runner_trigger_r (gated by p_extension when one is
// supplied). The breakeven
// move and the Phase 1→2 transition are mutually exclusive within one
// Update call — breakeven takes priority, exactly as the reference
// if/elif chain does.
type TwoPhaseStopManager struct {
	direction            types.Direction
	entryPrice           decimal.Decimal
	initialRisk          decimal.Decimal
	phase1Distance       decimal.Decimal
	phase2Trigger        decimal.Decimal
	runnerTrigger        decimal.Decimal
	structuralAnchor     *decimal.Decimal
	structuralBuffer     decimal.Decimal
	pExtension           *float64
	pThreshold           float64
	breakevenTrigger     decimal.Decimal

	currentPhase    types.StopPhase
	currentStop     decimal.Decimal
	highestMFER     decimal.Decimal
	breakevenApplied bool
}

// NewTwoPhaseStopManager constructs a manager and computes the Phase 1
// stop immediately (phase1_stop_distance * stop_multiplier).
func NewTwoPhaseStopManager(p TwoPhaseStopParams) *TwoPhaseStopManager {
	m := &TwoPhaseStopManager{
		direction:        p.Direction,
		entryPrice:       p.EntryPrice,
		initialRisk:      p.InitialRisk,
		phase1Distance:   p.Phase1StopDistance.Mul(p.StopMultiplier),
		phase2Trigger:    p.Phase2TriggerR,
		runnerTrigger:    p.RunnerTriggerR,
		structuralAnchor: p.StructuralAnchor,
		structuralBuffer: p.StructuralBuffer,
		pExtension:       p.PExtension,
		pThreshold:       p.PExtensionThreshold,
		breakevenTrigger: p.BreakevenTriggerR,
		currentPhase:     types.PhaseStatistical,
		highestMFER:      decimal.Zero,
	}
	m.currentStop = m.computePhase1Stop()
	return m
}

func (m *TwoPhaseStopManager) computePhase1Stop() decimal.Decimal {
	if m.direction == types.Long {
		return m.entryPrice.Sub(m.phase1Distance)
	}
	return m.entryPrice.Add(m.phase1Distance)
}

func (m *TwoPhaseStopManager) computePhase2Stop() decimal.Decimal {
	if m.structuralAnchor == nil {
		half := m.initialRisk.Mul(decimal.NewFromFloat(0.5))
		if m.direction == types.Long {
			return m.entryPrice.Sub(half)
		}
		return m.entryPrice.Add(half)
	}
	if m.direction == types.Long {
		return m.structuralAnchor.Sub(m.structuralBuffer)
	}
	return m.structuralAnchor.Add(m.structuralBuffer)
}

// Update advances the stop machine for one bar. newStructuralAnchor,
// when non-nil, replaces the stored structural anchor before this
// update's logic runs.
func (m *TwoPhaseStopManager) Update(currentMFER decimal.Decimal, ts time.Time, newStructuralAnchor *decimal.Decimal) *StopUpdate {
	if currentMFER.GreaterThan(m.highestMFER) {
		m.highestMFER = currentMFER
	}
	if newStructuralAnchor != nil {
		m.structuralAnchor = newStructuralAnchor
	}

	oldStop := m.currentStop
	oldPhase := m.currentPhase
	newStop := oldStop
	newPhase := oldPhase
	reason := ""

	switch m.currentPhase {
	case types.PhaseStatistical:
		// Breakeven move and the Phase 2 transition are mutually
		// exclusive: only one branch of this if/else-if runs per call.
		if !m.breakevenApplied && currentMFER.GreaterThanOrEqual(m.breakevenTrigger) {
			candidate := m.entryPrice
			if m.direction == types.Long {
				candidate = decimal.Max(candidate, oldStop)
			} else {
				candidate = decimal.Min(candidate, oldStop)
			}
			if !candidate.Equal(oldStop) {
				newStop = candidate
				m.breakevenApplied = true
				reason = "breakeven move"
			}
		} else if currentMFER.GreaterThanOrEqual(m.phase2Trigger) {
			newPhase = types.PhaseExpansion
			candidate := m.computePhase2Stop()
			if m.direction == types.Long {
				candidate = decimal.Max(candidate, oldStop)
			} else {
				candidate = decimal.Min(candidate, oldStop)
			}
			newStop = candidate
			reason = "phase 2 transition"
		}

	case types.PhaseExpansion:
		if currentMFER.GreaterThanOrEqual(m.runnerTrigger) {
			if m.pExtension == nil || *m.pExtension >= m.pThreshold {
				newPhase = types.PhaseRunner
				reason = "runner enabled"
			}
		}

		potentialStop := m.computePhase2Stop()
		if m.direction == types.Long && potentialStop.GreaterThan(oldStop) {
			newStop = potentialStop
			reason = "updated structural anchor"
		} else if m.direction == types.Short && potentialStop.LessThan(oldStop) {
			newStop = potentialStop
			reason = "updated structural anchor"
		}

	case types.PhaseRunner:
		// Trailing logic is handed off to the trailing-stop manager;
		// this manager just tracks phase from here on.
	}

	if !newStop.Equal(oldStop) || newPhase != oldPhase {
		m.currentStop = newStop
		m.currentPhase = newPhase
		return &StopUpdate{
			Timestamp:   ts,
			OldStop:     oldStop,
			NewStop:     newStop,
			OldPhase:    oldPhase,
			NewPhase:    newPhase,
			Reason:      reason,
			CurrentMFER: currentMFER,
		}
	}
	return nil
}

// CheckStopHit reports whether currentPrice has crossed the stop.
func (m *TwoPhaseStopManager) CheckStopHit(currentPrice decimal.Decimal) bool {
	if m.direction == types.Long {
		return currentPrice.LessThanOrEqual(m.currentStop)
	}
	return currentPrice.GreaterThanOrEqual(m.currentStop)
}

// StopDistanceR returns the current stop's distance from entry, in R.
func (m *TwoPhaseStopManager) StopDistanceR() decimal.Decimal {
	if !m.initialRisk.IsPositive() {
		return decimal.Zero
	}
	return m.entryPrice.Sub(m.currentStop).Abs().Div(m.initialRisk)
}

// IsInRunnerPhase reports whether the trade has reached Phase 3.
func (m *TwoPhaseStopManager) IsInRunnerPhase() bool { return m.currentPhase == types.PhaseRunner }

// Phase returns the current stop phase.
func (m *TwoPhaseStopManager) Phase() types.StopPhase { return m.currentPhase }

// StopPrice returns the current stop price.
func (m *TwoPhaseStopManager) StopPrice() decimal.Decimal { return m.currentStop }
