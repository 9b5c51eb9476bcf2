package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

// SalvageConditions configures the salvage manager's trigger, retrace,
// and confirmation thresholds.
type SalvageConditions struct {
	TriggerMFER       float64
	RetraceThreshold  float64
	ConfirmationBars  int
	RecoveryThreshold float64
	MaxBarsFromPeak   *int
}

// DefaultSalvageConditions returns the reference threshold set.
func DefaultSalvageConditions() SalvageConditions {
	return SalvageConditions{
		TriggerMFER:       0.4,
		RetraceThreshold:  0.65,
		ConfirmationBars:  6,
		RecoveryThreshold: 0.5,
	}
}

// SalvageEvent is emitted when the salvage manager decides to exit a
// trade early to cut a give-back before the full stop is hit.
type SalvageEvent struct {
	Timestamp       time.Time
	MFER            float64
	CurrentR        float64
	RetraceRatio    float64
	BarsSincePeak   int
	ExitPrice       decimal.Decimal
	SalvageBenefitR float64
}

// SalvageManager tracks a single trade's MFE progression and detects
// a give-back pattern — MFE reached, price retraces past the
// threshold, and that retrace holds for confirmation_bars bars without
// recovering — that warrants an early exit.
type SalvageManager struct {
	conditions SalvageConditions

	peakMFER         float64
	barsSincePeak    int
	salvageArmed     bool
	salvageTriggered bool
	retraceConfirmationBars int

	totalChecks      int
	falseSalvageCount int
}

// NewSalvageManager constructs a salvage manager for one trade.
func NewSalvageManager(conditions SalvageConditions) *SalvageManager {
	return &SalvageManager{conditions: conditions}
}

// Evaluate runs one bar's current price/MFE/R through the salvage
// state machine.
func (s *SalvageManager) Evaluate(currentPrice decimal.Decimal, currentMFER, currentR float64, ts time.Time) *SalvageEvent {
	s.totalChecks++

	if currentMFER > s.peakMFER {
		s.peakMFER = currentMFER
		s.barsSincePeak = 0
		s.retraceConfirmationBars = 0

		if currentMFER >= s.conditions.TriggerMFER {
			s.salvageArmed = true
		}
	} else {
		s.barsSincePeak++
	}

	if !s.salvageArmed || s.salvageTriggered {
		return nil
	}

	retraceRatio := 0.0
	if s.peakMFER > 0 {
		retraceRatio = (s.peakMFER - currentR) / s.peakMFER
	}

	recoveryR := 0.0
	if s.peakMFER > 0 {
		recoveryR = currentR / s.peakMFER
	}
	if recoveryR >= s.conditions.RecoveryThreshold {
		if s.retraceConfirmationBars > 0 {
			s.falseSalvageCount++
		}
		s.retraceConfirmationBars = 0
		return nil
	}

	if retraceRatio >= s.conditions.RetraceThreshold {
		s.retraceConfirmationBars++
	} else {
		s.retraceConfirmationBars = 0
		return nil
	}

	if s.retraceConfirmationBars < s.conditions.ConfirmationBars {
		return nil
	}

	if s.conditions.MaxBarsFromPeak != nil && s.barsSincePeak > *s.conditions.MaxBarsFromPeak {
		return nil
	}

	s.salvageTriggered = true

	const fullStopR = -1.0
	salvageBenefitR := currentR - fullStopR

	return &SalvageEvent{
		Timestamp:       ts,
		MFER:            s.peakMFER,
		CurrentR:        currentR,
		RetraceRatio:    retraceRatio,
		BarsSincePeak:   s.barsSincePeak,
		ExitPrice:       currentPrice,
		SalvageBenefitR: salvageBenefitR,
	}
}

// IsArmed reports whether MFE has exceeded the arming trigger.
func (s *SalvageManager) IsArmed() bool { return s.salvageArmed }

// IsTriggered reports whether salvage has already fired for this trade.
func (s *SalvageManager) IsTriggered() bool { return s.salvageTriggered }
