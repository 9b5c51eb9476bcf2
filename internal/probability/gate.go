// Package probability implements the probability gate: a final
// admission check on a candidate signal based on its estimated
// probability of extension, plus runner activation (SPEC_FULL.md
// §4.18, spec.md grounded on original_source/orb_confluence/signals/probability_gate.py).
package probability

import (
	"github.com/shopspring/decimal"

	"github.com/orbquant/orb-backtester/pkg/types"
)

// GateConfig holds the gate's threshold parameters.
type GateConfig struct {
	PMinFloor          float64
	PSoftFloor         float64
	PRunnerThreshold   float64
	ReducedSizeFactor  float64
	AdjustTargetsByProb bool
	HighProbTargetMult float64
	LowProbTargetMult  float64
}

// DefaultGateConfig returns the reference parameter set.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		PMinFloor:           0.35,
		PSoftFloor:          0.45,
		PRunnerThreshold:    0.55,
		ReducedSizeFactor:   0.5,
		AdjustTargetsByProb: true,
		HighProbTargetMult:  1.3,
		LowProbTargetMult:   0.8,
	}
}

// Decision is the outcome of evaluating one signal through the gate.
type Decision struct {
	Passed         bool
	RejectReason   string
	SizeMultiplier decimal.Decimal
	RunnerEnabled  bool
	TargetMultiplier float64
}

// Gate evaluates candidate signals carrying a probability-of-extension
// estimate against the hard/soft floors and runner threshold.
type Gate struct {
	cfg GateConfig
}

// New constructs a Gate with the given configuration.
func New(cfg GateConfig) *Gate {
	return &Gate{cfg: cfg}
}

// Evaluate runs one signal's p_extension through the gate.
//
// Order of checks mirrors the reference implementation exactly:
// hard floor rejects outright; below the soft floor the position is
// sized down but still taken; at or above the runner threshold the
// runner leg is enabled; target multiplier adjustment is independent
// of the size decision.
func (g *Gate) Evaluate(pExtension float64) Decision {
	if pExtension < g.cfg.PMinFloor {
		return Decision{
			Passed:           false,
			RejectReason:     "p_extension below hard floor",
			SizeMultiplier:   decimal.Zero,
			TargetMultiplier: 1.0,
		}
	}

	sizeMultiplier := decimal.NewFromInt(1)
	if pExtension < g.cfg.PSoftFloor {
		sizeMultiplier = decimal.NewFromFloat(g.cfg.ReducedSizeFactor)
	}

	runnerEnabled := pExtension >= g.cfg.PRunnerThreshold

	targetMultiplier := 1.0
	if g.cfg.AdjustTargetsByProb {
		switch {
		case pExtension >= g.cfg.PRunnerThreshold:
			targetMultiplier = g.cfg.HighProbTargetMult
		case pExtension < g.cfg.PSoftFloor:
			targetMultiplier = g.cfg.LowProbTargetMult
		}
	}

	return Decision{
		Passed:           true,
		SizeMultiplier:   sizeMultiplier,
		RunnerEnabled:    runnerEnabled,
		TargetMultiplier: targetMultiplier,
	}
}

// BatchEvaluate evaluates p_extension estimates for multiple signals.
func (g *Gate) BatchEvaluate(pExtensions []float64) []Decision {
	decisions := make([]Decision, len(pExtensions))
	for i, p := range pExtensions {
		decisions[i] = g.Evaluate(p)
	}
	return decisions
}

// FilterPassing returns only the signals whose paired decision passed.
func FilterPassing(signals []types.CandidateSignal, decisions []Decision) []types.CandidateSignal {
	var out []types.CandidateSignal
	for i, s := range signals {
		if i < len(decisions) && decisions[i].Passed {
			out = append(out, s)
		}
	}
	return out
}
