package context_test

import (
	"testing"

	"github.com/orbquant/orb-backtester/internal/context"
	"github.com/orbquant/orb-backtester/pkg/types"
)

func TestUnfittedMatrixNeverExcludes(t *testing.T) {
	m := context.New(context.DefaultConfig())
	sig := m.CreateSignature(0.5, 10, 0.5, types.StateInitiative, types.GapNone)
	if m.IsExcluded(sig) {
		t.Fatalf("an unfitted matrix must never exclude any signature")
	}
}

func TestFitExcludesLowExpectancyCellAboveMinTrades(t *testing.T) {
	cfg := context.Config{MinTradesPerCell: 5, ExpectancyThreshold: -0.25}
	m := context.New(cfg)

	var records []context.TrainingRecord
	// A large, healthy population around 0.5R expectancy.
	for i := 0; i < 40; i++ {
		records = append(records, context.TrainingRecord{
			ORWidthNorm: 0.5, BreakoutDelayMinutes: 5, VolumeQualityScore: 0.5,
			AuctionState: types.StateInitiative, GapType: types.GapNone,
			RealizedR: 0.5,
		})
	}
	// A distinct, badly underperforming cell (different auction state)
	// with enough trades to clear the min-cell-size gate.
	for i := 0; i < 10; i++ {
		records = append(records, context.TrainingRecord{
			ORWidthNorm: 0.5, BreakoutDelayMinutes: 5, VolumeQualityScore: 0.5,
			AuctionState: types.StateBalanced, GapType: types.GapNone,
			RealizedR: -1.0,
		})
	}
	m.Fit(records)

	goodSig := m.CreateSignature(0.5, 5, 0.5, types.StateInitiative, types.GapNone)
	badSig := m.CreateSignature(0.5, 5, 0.5, types.StateBalanced, types.GapNone)

	if m.IsExcluded(goodSig) {
		t.Fatalf("expected the healthy-expectancy cell to remain included")
	}
	if !m.IsExcluded(badSig) {
		t.Fatalf("expected the low-expectancy cell (well below global, n>=min) to be excluded")
	}
}

func TestFitNeverExcludesBelowMinTrades(t *testing.T) {
	cfg := context.Config{MinTradesPerCell: 30, ExpectancyThreshold: -0.25}
	m := context.New(cfg)

	var records []context.TrainingRecord
	for i := 0; i < 5; i++ {
		records = append(records, context.TrainingRecord{
			ORWidthNorm: 0.5, BreakoutDelayMinutes: 5, VolumeQualityScore: 0.5,
			AuctionState: types.StateBalanced, GapType: types.GapNone,
			RealizedR: -5.0,
		})
	}
	m.Fit(records)

	sig := m.CreateSignature(0.5, 5, 0.5, types.StateBalanced, types.GapNone)
	if m.IsExcluded(sig) {
		t.Fatalf("a cell below MinTradesPerCell must never be excluded regardless of expectancy")
	}
}
