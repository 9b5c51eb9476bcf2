package risk

import "time"

// TimeDecayConfig configures the time-decay exit manager.
type TimeDecayConfig struct {
	MaxBars              *int
	SlopeWindow          int
	SlopeThreshold       float64
	NoProgressBars       int
	NoProgressThresholdR float64
}

// DefaultTimeDecayConfig returns the reference parameter set.
func DefaultTimeDecayConfig() TimeDecayConfig {
	return TimeDecayConfig{
		SlopeWindow:          20,
		SlopeThreshold:       0.01,
		NoProgressBars:       30,
		NoProgressThresholdR: 0.1,
	}
}

// TimeDecayExitManager exits a trade that has stopped making progress:
// either it has been held for max_bars bars, its trailing MFE slope has decayed
// below threshold, or it has made no meaningful MFE progress over the
// no-progress window.
type TimeDecayExitManager struct {
	cfg TimeDecayConfig

	barsInTrade int
	mfeHistory  []float64
	entryTimestamp *time.Time
}

// NewTimeDecayExitManager constructs a manager for one trade.
func NewTimeDecayExitManager(cfg TimeDecayConfig) *TimeDecayExitManager {
	return &TimeDecayExitManager{cfg: cfg}
}

// Update feeds one bar's current MFE (in R) and returns a non-empty
// exit reason if a time-decay condition triggered.
func (t *TimeDecayExitManager) Update(currentMFER float64, ts time.Time) string {
	if t.entryTimestamp == nil {
		t.entryTimestamp = &ts
	}

	t.barsInTrade++
	t.mfeHistory = append(t.mfeHistory, currentMFER)

	if t.cfg.MaxBars != nil && t.barsInTrade >= *t.cfg.MaxBars {
		return "max bars in trade exceeded"
	}

	if len(t.mfeHistory) >= t.cfg.SlopeWindow {
		recent := t.mfeHistory[len(t.mfeHistory)-t.cfg.SlopeWindow:]
		slope, ok := olsSlope(recent)
		if ok && slope < t.cfg.SlopeThreshold {
			return "mfe slope decayed below threshold"
		}
	}

	if t.barsInTrade >= t.cfg.NoProgressBars {
		idx := len(t.mfeHistory) - t.cfg.NoProgressBars
		recentProgress := currentMFER - t.mfeHistory[idx]
		if recentProgress < t.cfg.NoProgressThresholdR {
			return "no mfe progress over window"
		}
	}

	return ""
}

// Reset clears all state for a new trade.
func (t *TimeDecayExitManager) Reset() {
	t.barsInTrade = 0
	t.mfeHistory = nil
	t.entryTimestamp = nil
}

// olsSlope fits y = a + b*x over x = 0..n-1 via closed-form ordinary
// least squares and returns b (the slope).
func olsSlope(y []float64) (float64, bool) {
	n := len(y)
	if n == 0 {
		return 0, false
	}
	xMean := float64(n-1) / 2.0
	yMean := 0.0
	for _, v := range y {
		yMean += v
	}
	yMean /= float64(n)

	var numerator, denominator float64
	for i, v := range y {
		dx := float64(i) - xMean
		numerator += dx * (v - yMean)
		denominator += dx * dx
	}
	if denominator <= 0 {
		return 0, false
	}
	return numerator / denominator, true
}
