package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Target is one rung of a live trade's target ladder.
type Target struct {
	Price        decimal.Decimal `json:"price"`
	RMultiple    decimal.Decimal `json:"rMultiple"`
	SizeFraction decimal.Decimal `json:"sizeFraction"`
	Hit          bool            `json:"hit"`
	HitTimestamp time.Time       `json:"hitTimestamp,omitempty"`
}

// ActiveTrade is the mutable state of a live position, owned
// exclusively by the orchestrator for the duration of the trade.
type ActiveTrade struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`

	EntryTimestamp time.Time       `json:"entryTimestamp"`
	EntryPrice     decimal.Decimal `json:"entryPrice"`

	InitialStop decimal.Decimal `json:"initialStop"`
	CurrentStop decimal.Decimal `json:"currentStop"`

	InitialRisk decimal.Decimal `json:"initialRisk"` // R0 = |entry - initialStop|

	PositionSize decimal.Decimal `json:"positionSize"`

	Targets        []Target        `json:"targets"`
	RemainingSize  decimal.Decimal `json:"remainingSize"` // fraction in [0,1]

	MFE          decimal.Decimal `json:"mfe"` // R-multiples
	MAE          decimal.Decimal `json:"mae"`
	MFETimestamp time.Time       `json:"mfeTimestamp,omitempty"`
	MAETimestamp time.Time       `json:"maeTimestamp,omitempty"`

	BarsHeld           int  `json:"barsHeld"`
	FirstTimeToPlus1R  int  `json:"firstTimeToPlus1R"` // -1 if not reached
	BreakevenMoved     bool `json:"breakevenMoved"`

	StopPhase StopPhase `json:"stopPhase"`

	TimeStopDeadlineBars int `json:"timeStopDeadlineBars"`

	ExitMode ExitModeDescriptor `json:"exitMode"`
	Metadata SignalMetadata     `json:"metadata"`

	RunnerActivated bool `json:"runnerActivated"`

	RealizedRFromPartials decimal.Decimal `json:"realizedRFromPartials"`
}

// CurrentR computes the current open R-multiple given a price.
func (t *ActiveTrade) CurrentR(price decimal.Decimal) decimal.Decimal {
	if t.InitialRisk.IsZero() {
		return decimal.Zero
	}
	diff := price.Sub(t.EntryPrice)
	if t.Direction == Short {
		diff = diff.Neg()
	}
	return diff.Div(t.InitialRisk)
}

// StopHit reports whether the given bar's high/low crosses the
// trade's current stop.
func (t *ActiveTrade) StopHit(barHigh, barLow decimal.Decimal) bool {
	if t.Direction == Long {
		return !barLow.GreaterThan(t.CurrentStop)
	}
	return !barHigh.LessThan(t.CurrentStop)
}
