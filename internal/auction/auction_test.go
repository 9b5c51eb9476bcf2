package auction_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/orbquant/orb-backtester/internal/auction"
	"github.com/orbquant/orb-backtester/pkg/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func bar(ts time.Time, o, h, l, c, v string) types.Bar {
	return types.Bar{Timestamp: ts, Open: d(o), High: d(h), Low: d(l), Close: d(c), Volume: d(v)}
}

func TestMetricsBuilderComputesDriveEnergy(t *testing.T) {
	start := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
	b := auction.New(auction.Params{StartTS: start, ATR14: 10, ADR20: 20})

	b.AddBar(bar(start, "100", "102", "99.5", "101.8", "1000"), nil)
	b.AddBar(bar(start.Add(time.Minute), "101.8", "104", "101.5", "103.8", "1200"), nil)
	b.AddBar(bar(start.Add(2*time.Minute), "103.8", "106", "103.5", "105.8", "1400"), nil)

	m := b.Compute()
	if m.DriveEnergy <= 0 {
		t.Fatalf("DriveEnergy = %f, want > 0 for a steadily trending-up window", m.DriveEnergy)
	}
	if m.Rotations < 0 {
		t.Fatalf("Rotations must be non-negative, got %d", m.Rotations)
	}
}

func TestClassifierFallsBackToMixedBelowScoreThreshold(t *testing.T) {
	classifier := auction.NewClassifier(auction.DefaultClassifierConfig())
	// A flat, featureless metrics snapshot should not clear any
	// per-state threshold, landing on the Mixed fallback.
	m := types.AuctionMetrics{}
	dual := types.DualORState{}

	result := classifier.Classify(m, dual)
	if result.State != types.StateMixed {
		t.Fatalf("State = %v, want Mixed for a zero-valued metrics snapshot", result.State)
	}
}

func TestClassifierPicksInitiativeOnStrongDrive(t *testing.T) {
	classifier := auction.NewClassifier(auction.DefaultClassifierConfig())
	m := types.AuctionMetrics{
		DriveEnergy: 0.9,
		Rotations:   1,
		VolumeZ:     1.5,
		AvgBodyPct:  0.8,
	}
	dual := types.DualORState{}

	result := classifier.Classify(m, dual)
	if result.State != types.StateInitiative {
		t.Fatalf("State = %v, want Initiative for a high-drive-energy, low-rotation snapshot", result.State)
	}
	if result.Confidence <= 0 {
		t.Fatalf("Confidence = %f, want > 0", result.Confidence)
	}
}
