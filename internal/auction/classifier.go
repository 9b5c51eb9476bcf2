package auction

import (
	"fmt"
	"math"

	"github.com/orbquant/orb-backtester/pkg/types"
)

// ClassifierConfig holds the per-state scoring thresholds. Defaults
// match the reference thresholds exactly.
type ClassifierConfig struct {
	DriveThreshold          float64
	RotationsMax            int
	VolZThreshold           float64
	GapThreshold            float64
	BalancedRotationsMin    int
	InventoryBiasThreshold  float64
}

// DefaultClassifierConfig returns the reference threshold set.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		DriveThreshold:         0.55,
		RotationsMax:           2,
		VolZThreshold:          1.0,
		GapThreshold:           0.5,
		BalancedRotationsMin:   3,
		InventoryBiasThreshold: 0.6,
	}
}

// Classifier is a rule-based auction state classifier: five weighted
// per-state scoring functions, softmax confidence over the winner, and
// a MIXED fallback when no state's score clears 0.5.
type Classifier struct {
	cfg ClassifierConfig
}

// NewClassifier constructs a classifier with the given thresholds.
func NewClassifier(cfg ClassifierConfig) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify scores every state and selects the winner.
func (c *Classifier) Classify(m types.AuctionMetrics, dual types.DualORState) types.StateClassification {
	scores := map[types.AuctionState]float64{
		types.StateInitiative:   c.scoreInitiative(m),
		types.StateCompression:  c.scoreCompression(m, dual),
		types.StateGapReversion: c.scoreGapReversion(m),
		types.StateBalanced:     c.scoreBalanced(m),
		types.StateInventoryFix: c.scoreInventoryFix(m),
	}

	maxState, maxScore := argmax(scores)

	if maxScore < 0.5 {
		return types.StateClassification{
			State:      types.StateMixed,
			Confidence: 1.0 - maxScore,
			Scores:     scores,
			Reason:     "no clear state pattern",
		}
	}

	confidence := softmaxConfidence(scores, maxState, 2.0)
	return types.StateClassification{
		State:      maxState,
		Confidence: confidence,
		Scores:     scores,
		Reason:     c.reason(maxState, m, dual),
	}
}

func (c *Classifier) scoreInitiative(m types.AuctionMetrics) float64 {
	score := 0.0

	if m.DriveEnergy >= c.cfg.DriveThreshold {
		score += 0.4
	} else {
		score += m.DriveEnergy / c.cfg.DriveThreshold * 0.4
	}

	if m.Rotations <= c.cfg.RotationsMax {
		score += 0.3
	} else {
		penalty := float64(m.Rotations-c.cfg.RotationsMax) * 0.1
		score += math.Max(0, 0.3-penalty)
	}

	if m.VolumeZ >= c.cfg.VolZThreshold {
		score += 0.3
	} else if m.VolumeZ > 0 {
		score += m.VolumeZ / c.cfg.VolZThreshold * 0.3
	}

	return math.Min(score, 1.0)
}

func (c *Classifier) scoreCompression(m types.AuctionMetrics, dual types.DualORState) float64 {
	score := 0.0

	if dual.PrimaryWidthNorm != nil {
		const compressionTarget = 0.5
		widthNorm := *dual.PrimaryWidthNorm
		if widthNorm <= compressionTarget {
			score += 0.5
		} else {
			score += math.Max(0, 0.5*(1-(widthNorm-compressionTarget)))
		}
	}

	if m.DriveEnergy <= 0.3 {
		score += 0.3
	} else {
		score += math.Max(0, 0.3*(1-m.DriveEnergy))
	}

	if m.VolumeZ < 0 {
		score += 0.2
	}

	return math.Min(score, 1.0)
}

func (c *Classifier) scoreGapReversion(m types.AuctionMetrics) float64 {
	if m.GapType != types.GapFullUp && m.GapType != types.GapFullDown {
		return 0.0
	}
	if m.GapSizeNorm < c.cfg.GapThreshold {
		return 0.0
	}

	score := 0.5 // gap size already cleared threshold above

	if m.MaxWickRatio > 1.0 {
		score += 0.3
	}
	if m.DriveEnergy < 0.4 {
		score += 0.2
	}

	return math.Min(score, 1.0)
}

func (c *Classifier) scoreBalanced(m types.AuctionMetrics) float64 {
	score := 0.0

	if m.Rotations >= c.cfg.BalancedRotationsMin {
		score += 0.5
	} else {
		score += float64(m.Rotations) / float64(c.cfg.BalancedRotationsMin) * 0.5
	}

	if m.VolumeRatio >= 0.8 && m.VolumeRatio <= 1.3 {
		score += 0.3
	}

	if m.DriveEnergy >= 0.3 && m.DriveEnergy <= 0.6 {
		score += 0.2
	}

	return math.Min(score, 1.0)
}

func (c *Classifier) scoreInventoryFix(m types.AuctionMetrics) float64 {
	score := 0.0

	if math.Abs(m.OvernightInventoryBias) >= c.cfg.InventoryBiasThreshold {
		score += 0.5
	}

	if math.Abs(m.OpenVsPriorMid) > 0.3 {
		if m.OpenVsPriorMid*m.OvernightInventoryBias < 0 {
			score += 0.3
		}
	}

	if m.DriveEnergy >= 0.3 && m.DriveEnergy <= 0.7 {
		score += 0.2
	}

	return math.Min(score, 1.0)
}

func (c *Classifier) reason(state types.AuctionState, m types.AuctionMetrics, dual types.DualORState) string {
	switch state {
	case types.StateInitiative:
		return fmt.Sprintf("strong drive_energy=%.2f, low rotations=%d, vol_z=%.2f",
			m.DriveEnergy, m.Rotations, m.VolumeZ)
	case types.StateCompression:
		widthNorm := 0.0
		if dual.PrimaryWidthNorm != nil {
			widthNorm = *dual.PrimaryWidthNorm
		}
		return fmt.Sprintf("narrow width_norm=%.2f, low drive=%.2f", widthNorm, m.DriveEnergy)
	case types.StateGapReversion:
		return fmt.Sprintf("gap %s size=%.2fATR, failing to extend", m.GapType, m.GapSizeNorm)
	case types.StateBalanced:
		return fmt.Sprintf("high rotations=%d, balanced volume_ratio=%.2f", m.Rotations, m.VolumeRatio)
	case types.StateInventoryFix:
		return fmt.Sprintf("overnight bias=%.2f, correcting at open", m.OvernightInventoryBias)
	default:
		return "no clear state pattern"
	}
}

func argmax(scores map[types.AuctionState]float64) (types.AuctionState, float64) {
	order := []types.AuctionState{
		types.StateInitiative, types.StateCompression, types.StateGapReversion,
		types.StateBalanced, types.StateInventoryFix,
	}
	bestState := order[0]
	bestScore := scores[order[0]]
	for _, s := range order[1:] {
		if scores[s] > bestScore {
			bestScore = scores[s]
			bestState = s
		}
	}
	return bestState, bestScore
}

func softmaxConfidence(scores map[types.AuctionState]float64, selected types.AuctionState, temperature float64) float64 {
	total := 0.0
	expScores := make(map[types.AuctionState]float64, len(scores))
	for s, score := range scores {
		e := math.Exp(score / temperature)
		expScores[s] = e
		total += e
	}
	if total > 0 {
		return expScores[selected] / total
	}
	return 0.5
}
