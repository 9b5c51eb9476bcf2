package probability

import "github.com/shopspring/decimal"

const (
	defaultRunnerBaseTargetR   = 2.0
	defaultRunnerBaseTrailFactor = 2.0
	defaultRunnerHighProbMultiplier = 1.5
	runnerTrailFactorFloor = 1.0
)

// RunnerParams is the target R-multiple and trail factor computed for
// an activated runner leg, scaled by the probability of extension.
type RunnerParams struct {
	TargetR     decimal.Decimal
	TrailFactor decimal.Decimal
}

// ComputeRunnerParams scales a runner leg's target and trail tightness
// by its probability of extension: higher probability widens the
// target (up to highProbMultiplier) and tightens the trail, floored so
// the trail factor never drops below 1.0 ATR.
func ComputeRunnerParams(pExtension, baseTargetR, baseTrailFactor, highProbMultiplier float64) RunnerParams {
	probScale := 0.5 + pExtension*2.0
	if probScale > highProbMultiplier {
		probScale = highProbMultiplier
	}

	targetR := baseTargetR * probScale
	trailFactor := baseTrailFactor * (1.5 - probScale*0.5)
	if trailFactor < runnerTrailFactorFloor {
		trailFactor = runnerTrailFactorFloor
	}

	return RunnerParams{
		TargetR:     decimal.NewFromFloat(targetR),
		TrailFactor: decimal.NewFromFloat(trailFactor),
	}
}

// ActivationConfig holds the runner's arming thresholds.
type ActivationConfig struct {
	PExtensionThreshold float64
	MinMFER             float64
	MaxMFER             float64
}

// ActivationManager arms the runner leg once per trade, when both the
// probability-of-extension estimate clears its threshold and the
// trade's MFE sits within the configured activation band.
type ActivationManager struct {
	cfg ActivationConfig
}

// NewActivationManager constructs a runner activation manager.
func NewActivationManager(cfg ActivationConfig) *ActivationManager {
	return &ActivationManager{cfg: cfg}
}

// ShouldActivate reports whether the runner should arm this bar, given
// it has not already activated.
func (a *ActivationManager) ShouldActivate(alreadyActivated bool, pExtension, mfeR float64) bool {
	if alreadyActivated {
		return false
	}
	if pExtension < a.cfg.PExtensionThreshold {
		return false
	}
	return mfeR >= a.cfg.MinMFER && mfeR <= a.cfg.MaxMFER
}

// GetRunnerParams delegates to ComputeRunnerParams with the reference
// base parameters.
func (a *ActivationManager) GetRunnerParams(pExtension float64) RunnerParams {
	return ComputeRunnerParams(pExtension, defaultRunnerBaseTargetR, defaultRunnerBaseTrailFactor, defaultRunnerHighProbMultiplier)
}
