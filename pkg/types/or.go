package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ORState is one layer (micro or primary) of the dual opening range.
type ORState struct {
	StartTS  time.Time       `json:"startTs"`
	EndTS    time.Time       `json:"endTs"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Width    decimal.Decimal `json:"width"`
	Finalized bool           `json:"finalized"`
}

// Midpoint returns (high+low)/2.
func (s ORState) Midpoint() decimal.Decimal {
	return s.High.Add(s.Low).Div(decimal.NewFromInt(2))
}

// DualORState is the full micro + adaptive primary opening-range state.
type DualORState struct {
	Micro   ORState `json:"micro"`
	Primary ORState `json:"primary"`

	PrimaryDurationUsed int `json:"primaryDurationUsed"`

	MicroWidthNorm   *float64 `json:"microWidthNorm,omitempty"`
	PrimaryWidthNorm *float64 `json:"primaryWidthNorm,omitempty"`

	MicroValid     bool    `json:"microValid"`
	PrimaryValid   bool    `json:"primaryValid"`
	InvalidReason  string  `json:"invalidReason,omitempty"`
}

// WidthRatio is the primary/micro width expansion indicator.
func (d DualORState) WidthRatio() decimal.Decimal {
	if d.Micro.Width.IsPositive() {
		return d.Primary.Width.Div(d.Micro.Width)
	}
	return decimal.NewFromInt(1)
}

// BothFinalized reports whether both OR layers have finalized.
func (d DualORState) BothFinalized() bool {
	return d.Micro.Finalized && d.Primary.Finalized
}
