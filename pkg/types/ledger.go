package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// CompletedTrade is the frozen, append-only ledger row produced when
// an ActiveTrade closes.
type CompletedTrade struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`

	Direction      Direction       `json:"direction"`
	EntryTimestamp time.Time       `json:"entryTimestamp"`
	EntryPrice     decimal.Decimal `json:"entryPrice"`
	ExitTimestamp  time.Time       `json:"exitTimestamp"`
	ExitPrice      decimal.Decimal `json:"exitPrice"`

	InitialStop decimal.Decimal `json:"initialStop"`
	InitialRisk decimal.Decimal `json:"initialRisk"`

	Targets []Target `json:"targets"`

	RealizedR       decimal.Decimal `json:"realizedR"`
	RealizedDollars decimal.Decimal `json:"realizedDollars"`

	MFE          decimal.Decimal `json:"mfe"`
	MAE          decimal.Decimal `json:"mae"`
	MFETimestamp time.Time       `json:"mfeTimestamp,omitempty"`
	MAETimestamp time.Time       `json:"maeTimestamp,omitempty"`

	BarsHeld int `json:"barsHeld"`

	ExitReason ExitReason `json:"exitReason"`

	Metadata SignalMetadata `json:"metadata"`

	SalvageBenefitR *decimal.Decimal `json:"salvageBenefitR,omitempty"`
}

// EquityCurvePoint is the equity series emitted after each trade's
// exit: cumulative R and dollars, plus a governance snapshot.
type EquityCurvePoint struct {
	Timestamp       time.Time       `json:"timestamp"`
	TradeID         string          `json:"tradeId"`
	CumulativeR     decimal.Decimal `json:"cumulativeR"`
	CumulativeDollars decimal.Decimal `json:"cumulativeDollars"`
	Balance         decimal.Decimal `json:"balance"`
	PeakBalance     decimal.Decimal `json:"peakBalance"`
}

// SessionSummary is the single-record roll-up written at the end of a
// run: counts, win rate, expectancy, R-totals, drawdown, halt flags.
type SessionSummary struct {
	RunID            string                     `json:"runId"`
	TotalTrades      int                        `json:"totalTrades"`
	Winners          int                        `json:"winners"`
	Losers           int                        `json:"losers"`
	WinRate          float64                    `json:"winRate"`
	Expectancy       decimal.Decimal            `json:"expectancy"`
	TotalR           decimal.Decimal            `json:"totalR"`
	TotalDollars     decimal.Decimal            `json:"totalDollars"`
	PerInstrument    map[string]InstrumentSummary `json:"perInstrument"`
	MaxDrawdown      decimal.Decimal            `json:"maxDrawdown"`
	PeakBalance      decimal.Decimal            `json:"peakBalance"`
	FinalBalance     decimal.Decimal            `json:"finalBalance"`
	DailyHaltHit     bool                       `json:"dailyHaltHit"`
	TrailingDDHaltHit bool                      `json:"trailingDdHaltHit"`
}

// InstrumentSummary breaks the session summary down per symbol.
type InstrumentSummary struct {
	Trades     int             `json:"trades"`
	Winners    int             `json:"winners"`
	TotalR     decimal.Decimal `json:"totalR"`
	Expectancy decimal.Decimal `json:"expectancy"`
}
