package utils_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/orbquant/orb-backtester/pkg/utils"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestRoundToTickSizeRoundsToNearestTick(t *testing.T) {
	got := utils.RoundToTickSize(d("100.13"), d("0.25"))
	if !got.Equal(d("100.25")) {
		t.Fatalf("RoundToTickSize(100.13, 0.25) = %s, want 100.25", got)
	}
}

func TestRoundToTickSizeZeroTickIsNoOp(t *testing.T) {
	got := utils.RoundToTickSize(d("100.13"), decimal.Zero)
	if !got.Equal(d("100.13")) {
		t.Fatalf("RoundToTickSize with a zero tick size should pass price through unchanged, got %s", got)
	}
}

func TestRoundToStepSizeFloorsToNearestStepNeverExceedingInput(t *testing.T) {
	got := utils.RoundToStepSize(d("7.9"), d("2"))
	if !got.Equal(d("6")) {
		t.Fatalf("RoundToStepSize(7.9, 2) = %s, want 6 (floored, never rounded up past the input)", got)
	}
}

func TestRoundToStepSizeZeroStepIsNoOp(t *testing.T) {
	got := utils.RoundToStepSize(d("7.9"), decimal.Zero)
	if !got.Equal(d("7.9")) {
		t.Fatalf("RoundToStepSize with a zero step size should pass size through unchanged, got %s", got)
	}
}
