package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// PacingPhase is one bracket of the capital-pacing table that scales
// position size and daily-loss budget by profit-to-target progress.
type PacingPhase struct {
	Name           string          `json:"name" mapstructure:"name"`
	ProfitPctMin   float64         `json:"profitPctMin" mapstructure:"profit_pct_min"`
	ProfitPctMax   float64         `json:"profitPctMax" mapstructure:"profit_pct_max"`
	SizeMultiplier decimal.Decimal `json:"sizeMultiplier" mapstructure:"size_multiplier"`
	DailyLossPct   float64         `json:"dailyLossPct" mapstructure:"daily_loss_pct"`
}

// DefaultPacingPhases reproduces the Conservative/Growth/Protection
// brackets used by the reference governance engine.
func DefaultPacingPhases() []PacingPhase {
	return []PacingPhase{
		{Name: "Conservative", ProfitPctMin: 0.0, ProfitPctMax: 0.40, SizeMultiplier: decimal.NewFromFloat(1.0), DailyLossPct: 1.0},
		{Name: "Growth", ProfitPctMin: 0.40, ProfitPctMax: 0.70, SizeMultiplier: decimal.NewFromFloat(1.5), DailyLossPct: 1.0},
		{Name: "Protection", ProfitPctMin: 0.70, ProfitPctMax: 1.0, SizeMultiplier: decimal.NewFromFloat(1.0), DailyLossPct: 0.6},
	}
}

// PropAccountRules describes the prop-firm evaluation account a run is
// simulated against.
type PropAccountRules struct {
	AccountSize             decimal.Decimal `json:"accountSize" mapstructure:"account_size"`
	ProfitTarget            decimal.Decimal `json:"profitTarget" mapstructure:"profit_target"`
	TrailingDrawdownMax     decimal.Decimal `json:"trailingDrawdownMax" mapstructure:"trailing_drawdown_max"`
	DailyLossLimit          decimal.Decimal `json:"dailyLossLimit" mapstructure:"daily_loss_limit"`
	MaxContracts            int             `json:"maxContracts" mapstructure:"max_contracts"`
	MaxConcurrentTrades     int             `json:"maxConcurrentTrades" mapstructure:"max_concurrent_trades"`
	ConsecutiveLossLockout  int             `json:"consecutiveLossLockout" mapstructure:"consecutive_loss_lockout"`
	LockoutEnabled          bool            `json:"lockoutEnabled" mapstructure:"lockout_enabled"`
	MaxDailyTradesPerSymbol int             `json:"maxDailyTradesPerSymbol" mapstructure:"max_daily_trades_per_symbol"`
}

// RunConfig is the top-level input to an orchestrator run.
type RunConfig struct {
	RunID       string    `json:"runId" mapstructure:"run_id"`
	Instruments []string  `json:"instruments" mapstructure:"instruments"`
	StartDate   time.Time `json:"startDate" mapstructure:"start_date"`
	EndDate     time.Time `json:"endDate" mapstructure:"end_date"`
	OutputDir   string    `json:"outputDir" mapstructure:"output_dir"`

	Account PropAccountRules `json:"account" mapstructure:"account"`
	Pacing  []PacingPhase    `json:"pacing" mapstructure:"pacing"`

	BreakevenTriggerR decimal.Decimal `json:"breakevenTriggerR" mapstructure:"breakeven_trigger_r"`
	Phase2TriggerR    decimal.Decimal `json:"phase2TriggerR" mapstructure:"phase2_trigger_r"`
	RunnerTriggerR    decimal.Decimal `json:"runnerTriggerR" mapstructure:"runner_trigger_r"`
	StopMultiplier    decimal.Decimal `json:"stopMultiplier" mapstructure:"stop_multiplier"`

	SalvageTriggerMFER   decimal.Decimal `json:"salvageTriggerMfeR" mapstructure:"salvage_trigger_mfe_r"`
	SalvageRetraceTh     float64         `json:"salvageRetraceThreshold" mapstructure:"salvage_retrace_threshold"`
	SalvageConfirmBars   int             `json:"salvageConfirmationBars" mapstructure:"salvage_confirmation_bars"`
	SalvageRecoveryTh    float64         `json:"salvageRecoveryThreshold" mapstructure:"salvage_recovery_threshold"`
	SalvageMaxBarsToPeak int             `json:"salvageMaxBarsFromPeak" mapstructure:"salvage_max_bars_from_peak"`

	ForbidMixedBarTargetFallback bool `json:"forbidMixedBarTargetFallback" mapstructure:"forbid_mixed_bar_target_fallback"`

	SkipLunchWindowStart time.Duration `json:"skipLunchWindowStart" mapstructure:"skip_lunch_window_start"`
	SkipLunchWindowEnd   time.Duration `json:"skipLunchWindowEnd" mapstructure:"skip_lunch_window_end"`

	SkipMinutesAfterORClose int `json:"skipMinutesAfterOrClose" mapstructure:"skip_minutes_after_or_close"`
}
