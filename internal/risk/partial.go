package risk

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/orbquant/orb-backtester/pkg/types"
)

// PartialTarget is one rung of the partial-exit ladder, with its price
// computed once at construction from entry ± R*initial_risk.
type PartialTarget struct {
	TargetR      decimal.Decimal
	SizeFraction decimal.Decimal
	Price        decimal.Decimal
	Hit          bool
	HitTimestamp time.Time
	HitPrice     decimal.Decimal
}

// PartialFillEvent records one target being hit.
type PartialFillEvent struct {
	Timestamp    time.Time
	TargetR      decimal.Decimal
	SizeFraction decimal.Decimal
	FillPrice    decimal.Decimal
	RemainingSize decimal.Decimal
}

// PartialExitManager manages a sorted ladder of partial targets for
// one trade: each is filled at its own price (not the triggering
// bar's high/low) the first time the bar trades through it.
type PartialExitManager struct {
	direction   types.Direction
	entryPrice  decimal.Decimal
	initialRisk decimal.Decimal
	targets     []*PartialTarget
}

// NewPartialExitManager builds the ladder from target specs, sorted
// ascending by R-multiple, and computes each target's price.
func NewPartialExitManager(direction types.Direction, entryPrice, initialRisk decimal.Decimal, specs []types.TargetSpec) *PartialExitManager {
	targets := make([]*PartialTarget, len(specs))
	for i, spec := range specs {
		offset := initialRisk.Mul(spec.RMultiple)
		var price decimal.Decimal
		if direction == types.Long {
			price = entryPrice.Add(offset)
		} else {
			price = entryPrice.Sub(offset)
		}
		targets[i] = &PartialTarget{TargetR: spec.RMultiple, SizeFraction: spec.SizeFraction, Price: price}
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].TargetR.LessThan(targets[j].TargetR) })

	return &PartialExitManager{direction: direction, entryPrice: entryPrice, initialRisk: initialRisk, targets: targets}
}

// CheckTargets scans unhit targets against the bar's high/low and
// returns a fill event for each newly hit target, in ascending R
// order. remainingSize is clamped to zero if fractions overshoot it.
func (m *PartialExitManager) CheckTargets(bar types.Bar, remainingSizeBefore decimal.Decimal) ([]PartialFillEvent, decimal.Decimal) {
	var events []PartialFillEvent
	remaining := remainingSizeBefore

	for _, t := range m.targets {
		if t.Hit {
			continue
		}

		hit := false
		if m.direction == types.Long {
			hit = bar.High.GreaterThanOrEqual(t.Price)
		} else {
			hit = bar.Low.LessThanOrEqual(t.Price)
		}
		if !hit {
			continue
		}

		t.Hit = true
		t.HitTimestamp = bar.Timestamp
		t.HitPrice = t.Price

		remaining = remaining.Sub(t.SizeFraction)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}

		events = append(events, PartialFillEvent{
			Timestamp:     bar.Timestamp,
			TargetR:       t.TargetR,
			SizeFraction:  t.SizeFraction,
			FillPrice:     t.Price,
			RemainingSize: remaining,
		})
	}

	return events, remaining
}

// GetNextTarget returns the lowest-R unhit target, if any.
func (m *PartialExitManager) GetNextTarget() (*PartialTarget, bool) {
	for _, t := range m.targets {
		if !t.Hit {
			return t, true
		}
	}
	return nil, false
}

// Targets returns the ladder's rungs, in ascending R order, for callers
// that need to hand them to ComputeWeightedRealizedR at trade close.
func (m *PartialExitManager) Targets() []*PartialTarget { return m.targets }

// HasRunner reports whether the ladder leaves a residual runner
// fraction after all listed targets are hit (i.e. the fractions don't
// already sum to the full position).
func (m *PartialExitManager) HasRunner() bool {
	total := decimal.Zero
	for _, t := range m.targets {
		total = total.Add(t.SizeFraction)
	}
	return total.LessThan(decimal.NewFromInt(1))
}

// ComputeWeightedRealizedR returns the size-weighted average R-multiple
// realized across all hit targets plus a final exit at finalR for
// whatever size fraction remains.
func ComputeWeightedRealizedR(targets []*PartialTarget, remainingSize, finalR decimal.Decimal) decimal.Decimal {
	weighted := decimal.Zero
	totalSize := decimal.Zero
	for _, t := range targets {
		if !t.Hit {
			continue
		}
		weighted = weighted.Add(t.TargetR.Mul(t.SizeFraction))
		totalSize = totalSize.Add(t.SizeFraction)
	}
	if remainingSize.IsPositive() {
		weighted = weighted.Add(finalR.Mul(remainingSize))
		totalSize = totalSize.Add(remainingSize)
	}
	if totalSize.IsZero() {
		return decimal.Zero
	}
	return weighted.Div(totalSize)
}
