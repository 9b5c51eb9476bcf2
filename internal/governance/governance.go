// Package governance implements prop-firm evaluation compliance: daily
// loss limits, trailing drawdown, capital-pacing phases, per-instrument
// trade caps and lockouts, and concurrency limits (SPEC_FULL.md §4.20,
// grounded on original_source/orb_confluence/strategy/prop_governance.py).
package governance

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/orbquant/orb-backtester/pkg/types"
)

// Decision is the result of a pre-trade governance check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Status is a point-in-time snapshot for reporting/logging.
type Status struct {
	CurrentBalance   decimal.Decimal
	PeakBalance      decimal.Decimal
	TotalProfit      decimal.Decimal
	ProfitTargetPct  float64
	CurrentPhase     string
	PhaseMultiplier  decimal.Decimal
	DailyPnL         decimal.Decimal
	DailyTradeCount  int
	DailyRTotal      decimal.Decimal
	ActiveTrades     int
	CurrentDrawdown  decimal.Decimal
	DDPctOfMax       float64
	DailyHalt        bool
	TrailingDDHalt   bool
	CanTrade         bool
}

// Engine enforces PropAccountRules and capital pacing, with
// per-instrument daily trade caps and (optionally) per-instrument
// lockouts, against a GovernanceState it owns exclusively.
type Engine struct {
	rules       types.PropAccountRules
	phases      []types.PacingPhase
	instruments []string

	maxDailyTradesPerInstrument int
	state                       *types.GovernanceState
}

// New constructs a governance engine for the given account rules,
// instrument universe, and pacing table. startingBalance defaults to
// rules.AccountSize when zero.
func New(rules types.PropAccountRules, phases []types.PacingPhase, instruments []string, startingBalance decimal.Decimal) *Engine {
	if startingBalance.IsZero() {
		startingBalance = rules.AccountSize
	}
	if len(phases) == 0 {
		phases = types.DefaultPacingPhases()
	}

	state := types.NewGovernanceState(startingBalance)
	for _, inst := range instruments {
		state.InstrumentDailyCount[inst] = 0
		state.InstrumentConsecutiveLoss[inst] = 0
		state.InstrumentConsecutiveWin[inst] = 0
		state.InstrumentLockout[inst] = false
	}

	maxDaily := rules.MaxDailyTradesPerSymbol
	if maxDaily <= 0 {
		maxDaily = 2
	}

	return &Engine{
		rules:                       rules,
		phases:                      phases,
		instruments:                 instruments,
		maxDailyTradesPerInstrument: maxDaily,
		state:                       state,
	}
}

// NewTradingDay resets the daily counters when tradingDate differs from
// the currently tracked trading day.
func (e *Engine) NewTradingDay(tradingDate time.Time) {
	day := tradingDate.Truncate(24 * time.Hour)
	if e.state.CurrentTradingDay.Equal(day) {
		return
	}
	e.state.CurrentTradingDay = day
	e.state.DailyPnL = decimal.Zero
	e.state.DailyTradeCount = 0
	e.state.DailyRTotal = decimal.Zero
	e.state.DailyHalt = false

	for inst := range e.state.InstrumentDailyCount {
		e.state.InstrumentDailyCount[inst] = 0
	}
}

// CurrentPhase returns the pacing phase for current profit progress.
// Progress below the first phase's min (a net loss) uses the first
// phase; progress at or beyond the last phase's max stays in that last
// phase.
func (e *Engine) CurrentPhase() types.PacingPhase {
	profitPct := 0.0
	if e.rules.ProfitTarget.IsPositive() {
		profitPct, _ = e.state.CumulativeProfit.Div(e.rules.ProfitTarget).Float64()
	}
	if profitPct < e.phases[0].ProfitPctMin {
		return e.phases[0]
	}

	for _, phase := range e.phases {
		if profitPct >= phase.ProfitPctMin && profitPct < phase.ProfitPctMax {
			return phase
		}
	}
	return e.phases[len(e.phases)-1]
}

// PositionSizeMultiplier returns the current pacing phase's size
// multiplier.
func (e *Engine) PositionSizeMultiplier() decimal.Decimal {
	return e.CurrentPhase().SizeMultiplier
}

// CanTakeTrade checks, in order: per-instrument daily cap, per-instrument
// lockout (only when rules.LockoutEnabled), global daily halt, global
// trailing-drawdown halt, global concurrency limit, and remaining
// daily-loss budget for the trade's dollar risk.
func (e *Engine) CanTakeTrade(instrument string, tradeRiskDollars decimal.Decimal) Decision {
	if e.state.InstrumentDailyCount[instrument] >= e.maxDailyTradesPerInstrument {
		return Decision{Allowed: false, Reason: fmt.Sprintf("%s_max_daily_trades_reached (%d)", instrument, e.maxDailyTradesPerInstrument)}
	}

	if e.rules.LockoutEnabled && e.state.InstrumentLockout[instrument] {
		losses := e.state.InstrumentConsecutiveLoss[instrument]
		return Decision{Allowed: false, Reason: fmt.Sprintf("%s_lockout_after_%d_losses", instrument, losses)}
	}

	if e.state.DailyHalt {
		return Decision{Allowed: false, Reason: "daily_loss_limit_reached"}
	}

	if e.state.TrailingDDHalt {
		return Decision{Allowed: false, Reason: "trailing_drawdown_limit_reached"}
	}

	if e.state.ActiveTradeCount >= e.rules.MaxConcurrentTrades {
		return Decision{Allowed: false, Reason: fmt.Sprintf("max_concurrent_trades_%d", e.rules.MaxConcurrentTrades)}
	}

	phase := e.CurrentPhase()
	budgetRemaining := e.rules.DailyLossLimit.Mul(decimal.NewFromFloat(phase.DailyLossPct)).Add(e.state.DailyPnL)
	if tradeRiskDollars.GreaterThan(budgetRemaining) {
		return Decision{Allowed: false, Reason: fmt.Sprintf("would_exceed_daily_budget (%s remaining)", budgetRemaining.StringFixed(0))}
	}

	return Decision{Allowed: true}
}

// RegisterTradeEntry records a new trade's opening, incrementing the
// active-trade, daily, and per-instrument trade counters.
func (e *Engine) RegisterTradeEntry(instrument string) {
	e.state.ActiveTradeCount++
	e.state.DailyTradeCount++
	e.state.InstrumentDailyCount[instrument]++
}

// RegisterTradeExit records a completed trade's PnL and R-multiple,
// updates balances/peak/streaks, and evaluates the daily-halt and
// trailing-drawdown-halt triggers.
func (e *Engine) RegisterTradeExit(instrument string, pnlDollars, rMultiple decimal.Decimal) {
	e.state.CurrentBalance = e.state.CurrentBalance.Add(pnlDollars)
	e.state.CumulativeProfit = e.state.CumulativeProfit.Add(pnlDollars)
	e.state.DailyPnL = e.state.DailyPnL.Add(pnlDollars)
	e.state.DailyRTotal = e.state.DailyRTotal.Add(rMultiple)

	if e.state.CurrentBalance.GreaterThan(e.state.PeakBalance) {
		e.state.PeakBalance = e.state.CurrentBalance
	}

	if e.state.ActiveTradeCount > 0 {
		e.state.ActiveTradeCount--
	}

	won := pnlDollars.IsPositive()
	if won {
		e.state.InstrumentConsecutiveWin[instrument]++
		e.state.InstrumentConsecutiveLoss[instrument] = 0
		e.state.InstrumentLockout[instrument] = false
	} else {
		e.state.InstrumentConsecutiveLoss[instrument]++
		e.state.InstrumentConsecutiveWin[instrument] = 0

		if e.rules.LockoutEnabled && e.state.InstrumentConsecutiveLoss[instrument] >= e.rules.ConsecutiveLossLockout {
			e.state.InstrumentLockout[instrument] = true
		}
	}

	if e.state.DailyPnL.LessThanOrEqual(e.rules.DailyLossLimit.Neg()) {
		e.state.DailyHalt = true
	}

	currentDD := e.state.PeakBalance.Sub(e.state.CurrentBalance)
	if currentDD.GreaterThanOrEqual(e.rules.TrailingDrawdownMax) {
		e.state.TrailingDDHalt = true
	}
}

// Status returns a point-in-time snapshot of governance state.
func (e *Engine) Status() Status {
	phase := e.CurrentPhase()
	currentDD := e.state.PeakBalance.Sub(e.state.CurrentBalance)

	profitPct := 0.0
	if e.rules.ProfitTarget.IsPositive() {
		v, _ := e.state.CumulativeProfit.Div(e.rules.ProfitTarget).Mul(decimal.NewFromInt(100)).Float64()
		profitPct = v
	}
	ddPct := 0.0
	if e.rules.TrailingDrawdownMax.IsPositive() {
		v, _ := currentDD.Div(e.rules.TrailingDrawdownMax).Mul(decimal.NewFromInt(100)).Float64()
		ddPct = v
	}

	return Status{
		CurrentBalance:  e.state.CurrentBalance,
		PeakBalance:     e.state.PeakBalance,
		TotalProfit:     e.state.CumulativeProfit,
		ProfitTargetPct: profitPct,
		CurrentPhase:    phase.Name,
		PhaseMultiplier: phase.SizeMultiplier,
		DailyPnL:        e.state.DailyPnL,
		DailyTradeCount: e.state.DailyTradeCount,
		DailyRTotal:     e.state.DailyRTotal,
		ActiveTrades:    e.state.ActiveTradeCount,
		CurrentDrawdown: currentDD,
		DDPctOfMax:      ddPct,
		DailyHalt:       e.state.DailyHalt,
		TrailingDDHalt:  e.state.TrailingDDHalt,
		CanTrade:        !(e.state.DailyHalt || e.state.TrailingDDHalt),
	}
}

// ResetForNewEvaluation restores balances and flags to the starting
// point of a fresh evaluation cycle, leaving per-instrument lockout
// history intact only if the caller constructs a new Engine instead.
func (e *Engine) ResetForNewEvaluation() {
	e.state.CurrentBalance = e.state.StartingBalance
	e.state.PeakBalance = e.state.StartingBalance
	e.state.CumulativeProfit = decimal.Zero
	e.state.DailyPnL = decimal.Zero
	e.state.DailyTradeCount = 0
	e.state.DailyRTotal = decimal.Zero
	e.state.ActiveTradeCount = 0
	e.state.DailyHalt = false
	e.state.TrailingDDHalt = false
}
