package risk_test

import (
	"testing"
	"time"

	"github.com/orbquant/orb-backtester/internal/risk"
)

func TestTimeDecayExitsOnMaxBars(t *testing.T) {
	maxBars := 3
	cfg := risk.TimeDecayConfig{MaxBars: &maxBars, SlopeWindow: 1000, NoProgressBars: 1000}
	m := risk.NewTimeDecayExitManager(cfg)
	ts := time.Now()

	var reason string
	for i := 0; i < 3; i++ {
		reason = m.Update(0.5, ts.Add(time.Duration(i)*time.Minute))
	}
	if reason != "max bars in trade exceeded" {
		t.Fatalf("reason = %q, want max-bars exit on the 3rd update", reason)
	}
}

func TestTimeDecayExitsOnSlopeDecay(t *testing.T) {
	cfg := risk.TimeDecayConfig{SlopeWindow: 3, SlopeThreshold: 0.01, NoProgressBars: 1000}
	m := risk.NewTimeDecayExitManager(cfg)
	ts := time.Now()

	mfes := []float64{0.5, 0.4, 0.3}
	var reason string
	for i, mfe := range mfes {
		reason = m.Update(mfe, ts.Add(time.Duration(i)*time.Minute))
	}
	if reason != "mfe slope decayed below threshold" {
		t.Fatalf("reason = %q, want slope-decay exit for a steadily declining MFE series", reason)
	}
}

func TestTimeDecayExitsOnNoProgress(t *testing.T) {
	cfg := risk.TimeDecayConfig{SlopeWindow: 1000, NoProgressBars: 3, NoProgressThresholdR: 0.1}
	m := risk.NewTimeDecayExitManager(cfg)
	ts := time.Now()

	mfes := []float64{0.5, 0.52, 0.53}
	var reason string
	for i, mfe := range mfes {
		reason = m.Update(mfe, ts.Add(time.Duration(i)*time.Minute))
	}
	if reason != "no mfe progress over window" {
		t.Fatalf("reason = %q, want no-progress exit for a near-flat MFE series", reason)
	}
}

func TestTimeDecayNoExitOnHealthyProgress(t *testing.T) {
	cfg := risk.TimeDecayConfig{SlopeWindow: 3, SlopeThreshold: 0.01, NoProgressBars: 3, NoProgressThresholdR: 0.1}
	m := risk.NewTimeDecayExitManager(cfg)
	ts := time.Now()

	mfes := []float64{0.3, 0.6, 1.0}
	var reason string
	for i, mfe := range mfes {
		reason = m.Update(mfe, ts.Add(time.Duration(i)*time.Minute))
	}
	if reason != "" {
		t.Fatalf("reason = %q, want no exit for a steadily-increasing, healthy MFE series", reason)
	}
}

func TestTimeDecayResetClearsState(t *testing.T) {
	maxBars := 1
	cfg := risk.TimeDecayConfig{MaxBars: &maxBars, SlopeWindow: 1000, NoProgressBars: 1000}
	m := risk.NewTimeDecayExitManager(cfg)
	ts := time.Now()

	reason := m.Update(0.5, ts)
	if reason != "max bars in trade exceeded" {
		t.Fatalf("expected max-bars exit on the first update with MaxBars=1")
	}

	m.Reset()
	reason = m.Update(0.1, ts.Add(time.Minute))
	if reason != "max bars in trade exceeded" {
		t.Fatalf("expected Reset to restart the bar count, so one update still exceeds MaxBars=1")
	}
}
