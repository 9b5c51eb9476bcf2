package risk_test

import (
	"testing"
	"time"

	"github.com/orbquant/orb-backtester/internal/risk"
)

func salvageTestConditions() risk.SalvageConditions {
	return risk.SalvageConditions{
		TriggerMFER:       0.4,
		RetraceThreshold:  0.65,
		ConfirmationBars:  2,
		RecoveryThreshold: 0.5,
	}
}

func TestSalvageArmsOnceMFERClearsTrigger(t *testing.T) {
	s := risk.NewSalvageManager(salvageTestConditions())
	ts := time.Now()

	s.Evaluate(d("101"), 1.0, 1.0, ts)
	if !s.IsArmed() {
		t.Fatalf("expected salvage armed once MFE (1.0) clears the trigger (0.4)")
	}
	if s.IsTriggered() {
		t.Fatalf("did not expect salvage to trigger on the bar that only sets the peak")
	}
}

func TestSalvageTriggersAfterSustainedRetrace(t *testing.T) {
	s := risk.NewSalvageManager(salvageTestConditions())
	ts := time.Now()

	s.Evaluate(d("101"), 1.0, 1.0, ts) // sets peak MFER at 1.0, arms
	ev := s.Evaluate(d("100.2"), 0.3, 0.2, ts.Add(time.Minute))   // retrace 0.8, confirmation bar 1
	if ev != nil {
		t.Fatalf("expected no event on the first confirmation bar, got one")
	}
	ev = s.Evaluate(d("100.15"), 0.25, 0.15, ts.Add(2*time.Minute)) // confirmation bar 2, triggers
	if ev == nil {
		t.Fatalf("expected a salvage event once retrace holds for ConfirmationBars bars")
	}
	if !s.IsTriggered() {
		t.Fatalf("expected IsTriggered() true after the event fires")
	}
	if ev.SalvageBenefitR <= 0 {
		t.Fatalf("SalvageBenefitR = %f, want > 0 (currentR above the full -1R stop)", ev.SalvageBenefitR)
	}
}

func TestSalvageRecoveryResetsConfirmation(t *testing.T) {
	s := risk.NewSalvageManager(salvageTestConditions())
	ts := time.Now()

	s.Evaluate(d("101"), 1.0, 1.0, ts)                              // peak 1.0, arm
	s.Evaluate(d("100.2"), 0.3, 0.2, ts.Add(time.Minute))           // retrace, confirmation bar 1
	ev := s.Evaluate(d("100.9"), 0.9, 0.9, ts.Add(2*time.Minute))   // recovers above RecoveryThreshold*peak
	if ev != nil {
		t.Fatalf("expected no event on a bar that recovers above the recovery threshold")
	}
	ev = s.Evaluate(d("100.2"), 0.3, 0.2, ts.Add(3*time.Minute))    // retrace again, confirmation bar 1 (reset)
	if ev != nil {
		t.Fatalf("expected no trigger: confirmation count must have reset after the recovery bar")
	}
	if s.IsTriggered() {
		t.Fatalf("salvage must not have triggered yet")
	}
}
