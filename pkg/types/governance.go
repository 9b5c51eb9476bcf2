package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// GovernanceState is the per-session prop-firm accounting the
// orchestrator owns and mutates exclusively; no locking is required
// since the core is single-threaded per session (see SPEC_FULL.md §5).
type GovernanceState struct {
	StartingBalance decimal.Decimal `json:"startingBalance"`
	CurrentBalance  decimal.Decimal `json:"currentBalance"`
	PeakBalance     decimal.Decimal `json:"peakBalance"`
	CumulativeProfit decimal.Decimal `json:"cumulativeProfit"`

	CurrentTradingDay time.Time       `json:"currentTradingDay"`
	DailyPnL          decimal.Decimal `json:"dailyPnl"`
	DailyTradeCount   int             `json:"dailyTradeCount"`
	DailyRTotal       decimal.Decimal `json:"dailyRTotal"`

	InstrumentDailyCount       map[string]int  `json:"instrumentDailyCount"`
	InstrumentConsecutiveLoss  map[string]int  `json:"instrumentConsecutiveLoss"`
	InstrumentConsecutiveWin   map[string]int  `json:"instrumentConsecutiveWin"`
	InstrumentLockout          map[string]bool `json:"instrumentLockout"`

	DailyHalt      bool `json:"dailyHalt"`
	TrailingDDHalt bool `json:"trailingDdHalt"`

	ActiveTradeCount int `json:"activeTradeCount"`
}

// NewGovernanceState initializes a fresh governance state for the
// given starting balance.
func NewGovernanceState(startingBalance decimal.Decimal) *GovernanceState {
	return &GovernanceState{
		StartingBalance:           startingBalance,
		CurrentBalance:            startingBalance,
		PeakBalance:               startingBalance,
		InstrumentDailyCount:      make(map[string]int),
		InstrumentConsecutiveLoss: make(map[string]int),
		InstrumentConsecutiveWin:  make(map[string]int),
		InstrumentLockout:         make(map[string]bool),
	}
}
