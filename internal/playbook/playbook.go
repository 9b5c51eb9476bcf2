// Package playbook implements the independent candidate-signal
// generators that consume the opening-range state, auction metrics,
// and state classification to emit trade candidates (SPEC_FULL.md
// §4.17, spec.md §4.6). Each playbook is a small capability behind a
// shared interface — is_eligible / generate_signals / preferred_exit_mode
// — rather than a class hierarchy.
package playbook

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/orbquant/orb-backtester/pkg/types"
)

// Context is everything a playbook needs to evaluate one bar: the
// current bar, the finalized dual OR, the auction classification, and
// enough recent history to drive the stateful playbooks (PB2, PB3).
type Context struct {
	Symbol       string
	Bar          types.Bar
	RecentBars   []types.Bar // bars since session open, most recent last
	OR           types.DualORState
	Auction      types.AuctionMetrics
	State        types.StateClassification
	Instrument   types.InstrumentConfig
	ATR14        float64
	RecentReturnStd float64
	RelVol       float64
	VolumeQuality float64
	ContextExcluded bool
	MinutesSinceORClose float64
	SessionStart time.Time
}

// Playbook is a capability: given a Context it decides whether it
// could fire, and if so, what candidate signal(s) to emit.
type Playbook interface {
	Name() string
	IsEligible(ctx *Context) bool
	GenerateSignals(ctx *Context) []types.CandidateSignal
	PreferredExitMode(ctx *Context) types.ExitModeDescriptor
	// Reset clears any per-session state (PB2's fire-once latch, PB3's
	// impulse/flag state machine). Called at the start of every session.
	Reset()
}

// Registry holds the active set of playbooks evaluated in priority
// order every bar after an OR finalizes.
type Registry struct {
	playbooks []Playbook
}

// NewRegistry constructs a registry over the given playbooks, in the
// order they should be evaluated.
func NewRegistry(playbooks ...Playbook) *Registry {
	return &Registry{playbooks: playbooks}
}

// Evaluate runs every registered playbook against ctx and collects all
// emitted candidate signals, regardless of which playbook produced
// them. The orchestrator is responsible for any cross-playbook
// conflict resolution (spec.md's one-trade-per-instrument-per-session
// mixed-bar rule).
func (r *Registry) Evaluate(ctx *Context) []types.CandidateSignal {
	var signals []types.CandidateSignal
	for _, pb := range r.playbooks {
		if !pb.IsEligible(ctx) {
			continue
		}
		signals = append(signals, pb.GenerateSignals(ctx)...)
	}
	return signals
}

// ResetAll resets every registered playbook's per-session state.
func (r *Registry) ResetAll() {
	for _, pb := range r.playbooks {
		pb.Reset()
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func decimalFromFloat(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}
