package utils

import "github.com/shopspring/decimal"

// RoundToTickSize rounds price to the nearest multiple of tickSize.
func RoundToTickSize(price, tickSize decimal.Decimal) decimal.Decimal {
	if tickSize.IsZero() {
		return price
	}
	ticks := price.Div(tickSize).Round(0)
	return ticks.Mul(tickSize)
}

// RoundToStepSize rounds size down to the nearest multiple of stepSize,
// never exceeding the input (conservative for position sizing).
func RoundToStepSize(size, stepSize decimal.Decimal) decimal.Decimal {
	if stepSize.IsZero() {
		return size
	}
	steps := size.Div(stepSize).Floor()
	return steps.Mul(stepSize)
}
