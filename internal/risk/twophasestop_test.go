package risk_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/orbquant/orb-backtester/internal/risk"
	"github.com/orbquant/orb-backtester/pkg/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newLongManager() *risk.TwoPhaseStopManager {
	return risk.NewTwoPhaseStopManager(risk.TwoPhaseStopParams{
		Direction:           types.Long,
		EntryPrice:          d("100"),
		InitialRisk:         d("2"),
		Phase1StopDistance:  d("2"),
		Phase2TriggerR:      d("0.5"),
		RunnerTriggerR:      d("1.0"),
		StructuralBuffer:    d("0.1"),
		PExtensionThreshold: 0.55,
		StopMultiplier:      d("1.0"),
		BreakevenTriggerR:   d("0.3"),
	})
}

func TestPhase1StopComputedAtConstruction(t *testing.T) {
	m := newLongManager()
	if !m.StopPrice().Equal(d("98")) {
		t.Fatalf("initial stop = %s, want 98 (entry - phase1Distance)", m.StopPrice())
	}
	if m.Phase() != types.PhaseStatistical {
		t.Fatalf("initial phase = %v, want Phase1Statistical", m.Phase())
	}
}

func TestBreakevenTakesPriorityOverPhase2Transition(t *testing.T) {
	m := newLongManager()
	ts := time.Now()
	// currentMFER clears both the breakeven trigger (0.3) and the
	// phase2 trigger (0.5) in the same call; breakeven must win.
	upd := m.Update(d("0.6"), ts, nil)
	if upd == nil {
		t.Fatalf("expected a stop update")
	}
	if m.Phase() != types.PhaseStatistical {
		t.Fatalf("phase = %v, want to remain Phase1Statistical (breakeven branch taken, not phase2)", m.Phase())
	}
	if !m.StopPrice().Equal(d("100")) {
		t.Fatalf("stop = %s, want entry price 100 after breakeven move", m.StopPrice())
	}
}

func TestPhase2TransitionWithoutBreakeven(t *testing.T) {
	m := newLongManager()
	ts := time.Now()
	// First move breakeven out of the way.
	m.Update(d("0.3"), ts, nil)
	if m.Phase() != types.PhaseStatistical {
		t.Fatalf("expected still Phase1 after breakeven-only move")
	}
	// Now clear phase2 trigger on a later bar.
	m.Update(d("0.5"), ts, nil)
	if m.Phase() != types.PhaseExpansion {
		t.Fatalf("phase = %v, want Phase2Expansion once breakeven already applied", m.Phase())
	}
}

func TestStopNeverMovesAgainstDirection(t *testing.T) {
	m := newLongManager()
	ts := time.Now()
	m.Update(d("0.3"), ts, nil)
	m.Update(d("0.5"), ts, nil)
	stopAfterPhase2 := m.StopPrice()
	// A retrace in MFE must never pull the long stop down.
	m.Update(d("0.1"), ts, nil)
	if m.StopPrice().LessThan(stopAfterPhase2) {
		t.Fatalf("stop regressed from %s to %s on an MFE pullback", stopAfterPhase2, m.StopPrice())
	}
}

func TestRunnerPhaseRequiresPExtensionAboveThreshold(t *testing.T) {
	lowP := 0.2
	m := risk.NewTwoPhaseStopManager(risk.TwoPhaseStopParams{
		Direction:           types.Long,
		EntryPrice:          d("100"),
		InitialRisk:         d("2"),
		Phase1StopDistance:  d("2"),
		Phase2TriggerR:      d("0.5"),
		RunnerTriggerR:      d("1.0"),
		StructuralBuffer:    d("0.1"),
		PExtension:          &lowP,
		PExtensionThreshold: 0.55,
		StopMultiplier:      d("1.0"),
		BreakevenTriggerR:   d("0.3"),
	})
	ts := time.Now()
	m.Update(d("0.3"), ts, nil)
	m.Update(d("0.5"), ts, nil)
	m.Update(d("1.0"), ts, nil)
	if m.IsInRunnerPhase() {
		t.Fatalf("must not enter runner phase when p_extension is below threshold")
	}
}

func TestRunnerPhaseEntersAbovePExtensionThreshold(t *testing.T) {
	highP := 0.8
	m := risk.NewTwoPhaseStopManager(risk.TwoPhaseStopParams{
		Direction:           types.Long,
		EntryPrice:          d("100"),
		InitialRisk:         d("2"),
		Phase1StopDistance:  d("2"),
		Phase2TriggerR:      d("0.5"),
		RunnerTriggerR:      d("1.0"),
		StructuralBuffer:    d("0.1"),
		PExtension:          &highP,
		PExtensionThreshold: 0.55,
		StopMultiplier:      d("1.0"),
		BreakevenTriggerR:   d("0.3"),
	})
	ts := time.Now()
	m.Update(d("0.3"), ts, nil)
	m.Update(d("0.5"), ts, nil)
	m.Update(d("1.0"), ts, nil)
	if !m.IsInRunnerPhase() {
		t.Fatalf("expected runner phase once MFE and p_extension both clear their thresholds")
	}
}
