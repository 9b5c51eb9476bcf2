package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// TargetSpec describes one rung of a target ladder before a trade
// exists: an R-multiple and the fraction of the position it closes.
type TargetSpec struct {
	RMultiple    decimal.Decimal `json:"rMultiple" mapstructure:"r_multiple"`
	SizeFraction decimal.Decimal `json:"sizeFraction" mapstructure:"size_fraction"`
}

// InstrumentConfig carries the per-symbol parameters the core treats
// as immutable for the lifetime of a session.
type InstrumentConfig struct {
	Symbol string `json:"symbol" mapstructure:"symbol"`

	TickSize       decimal.Decimal `json:"tickSize" mapstructure:"tick_size"`
	TickValue      decimal.Decimal `json:"tickValue" mapstructure:"tick_value"`
	MicroTickValue decimal.Decimal `json:"microTickValue" mapstructure:"micro_tick_value"`

	SessionStart time.Duration `json:"sessionStart" mapstructure:"session_start"`
	SessionEnd   time.Duration `json:"sessionEnd" mapstructure:"session_end"`

	MicroMinutes        int `json:"microMinutes" mapstructure:"micro_minutes"`
	PrimaryBaseMinutes  int `json:"primaryBaseMinutes" mapstructure:"primary_base_minutes"`
	PrimaryMinMinutes   int `json:"primaryMinMinutes" mapstructure:"primary_min_minutes"`
	PrimaryMaxMinutes   int `json:"primaryMaxMinutes" mapstructure:"primary_max_minutes"`
	LowVolThreshold     float64 `json:"lowVolThreshold" mapstructure:"low_vol_threshold"`
	HighVolThreshold    float64 `json:"highVolThreshold" mapstructure:"high_vol_threshold"`

	ORWidthMinAbs  decimal.Decimal `json:"orWidthMinAbs" mapstructure:"or_width_min_abs"`
	ORWidthMaxAbs  decimal.Decimal `json:"orWidthMaxAbs" mapstructure:"or_width_max_abs"`
	ORWidthMinNorm float64         `json:"orWidthMinNorm" mapstructure:"or_width_min_norm"`
	ORWidthMaxNorm float64         `json:"orWidthMaxNorm" mapstructure:"or_width_max_norm"`

	BufferBase            float64 `json:"bufferBase" mapstructure:"buffer_base"`
	BufferScalar          float64 `json:"bufferScalar" mapstructure:"buffer_scalar"` // vol_alpha in PB1's buffer formula
	BufferRotationPenalty float64 `json:"bufferRotationPenalty" mapstructure:"buffer_rotation_penalty"`
	BufferMin             float64 `json:"bufferMin" mapstructure:"buffer_min"`
	BufferMax             float64 `json:"bufferMax" mapstructure:"buffer_max"`

	StopMinTicks int     `json:"stopMinTicks" mapstructure:"stop_min_ticks"`
	StopATRCap   float64 `json:"stopAtrCap" mapstructure:"stop_atr_cap"`

	Targets []TargetSpec `json:"targets" mapstructure:"targets"`

	TimeStopMaxBars     int     `json:"timeStopMaxBars" mapstructure:"time_stop_max_bars"`
	TimeStopSlopeWindow int     `json:"timeStopSlopeWindow" mapstructure:"time_stop_slope_window"`
	TimeStopSlopeMin    float64 `json:"timeStopSlopeMin" mapstructure:"time_stop_slope_min"`
	NoProgressBars      int     `json:"noProgressBars" mapstructure:"no_progress_bars"`
	NoProgressThreshold float64 `json:"noProgressThreshold" mapstructure:"no_progress_threshold"`

	VolumeFadeThreshold float64 `json:"volumeFadeThreshold" mapstructure:"volume_fade_threshold"`
	RelVolSpikeMult     float64 `json:"relVolSpikeMult" mapstructure:"rel_vol_spike_mult"`

	TypicalADR decimal.Decimal `json:"typicalAdr" mapstructure:"typical_adr"`

	CorrelatedSymbols []string `json:"correlatedSymbols" mapstructure:"correlated_symbols"`
}
