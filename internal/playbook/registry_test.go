package playbook_test

import (
	"testing"

	"github.com/orbquant/orb-backtester/internal/playbook"
	"github.com/orbquant/orb-backtester/pkg/types"
)

// stubPlaybook is a minimal Playbook used only to exercise Registry's
// fan-out and reset behavior in isolation from any real playbook's
// eligibility logic.
type stubPlaybook struct {
	name       string
	eligible   bool
	signal     types.CandidateSignal
	resetCalls int
}

func (s *stubPlaybook) Name() string                                { return s.name }
func (s *stubPlaybook) IsEligible(ctx *playbook.Context) bool        { return s.eligible }
func (s *stubPlaybook) PreferredExitMode(ctx *playbook.Context) types.ExitModeDescriptor {
	return types.ExitModeDescriptor{Mode: types.ExitSingleTarget}
}
func (s *stubPlaybook) Reset() { s.resetCalls++ }
func (s *stubPlaybook) GenerateSignals(ctx *playbook.Context) []types.CandidateSignal {
	return []types.CandidateSignal{s.signal}
}

func TestRegistryEvaluateSkipsIneligiblePlaybooks(t *testing.T) {
	eligible := &stubPlaybook{name: "A", eligible: true, signal: types.CandidateSignal{PlaybookName: "A"}}
	ineligible := &stubPlaybook{name: "B", eligible: false}

	reg := playbook.NewRegistry(eligible, ineligible)
	signals := reg.Evaluate(&playbook.Context{})

	if len(signals) != 1 {
		t.Fatalf("len(signals) = %d, want 1 (only the eligible playbook contributes)", len(signals))
	}
	if signals[0].PlaybookName != "A" {
		t.Fatalf("PlaybookName = %q, want A", signals[0].PlaybookName)
	}
}

func TestRegistryEvaluateCollectsAcrossMultipleEligiblePlaybooks(t *testing.T) {
	a := &stubPlaybook{name: "A", eligible: true, signal: types.CandidateSignal{PlaybookName: "A"}}
	b := &stubPlaybook{name: "B", eligible: true, signal: types.CandidateSignal{PlaybookName: "B"}}

	reg := playbook.NewRegistry(a, b)
	signals := reg.Evaluate(&playbook.Context{})
	if len(signals) != 2 {
		t.Fatalf("len(signals) = %d, want 2 (both eligible playbooks contribute)", len(signals))
	}
}

func TestRegistryResetAllResetsEveryPlaybook(t *testing.T) {
	a := &stubPlaybook{name: "A"}
	b := &stubPlaybook{name: "B"}
	reg := playbook.NewRegistry(a, b)

	reg.ResetAll()

	if a.resetCalls != 1 || b.resetCalls != 1 {
		t.Fatalf("expected ResetAll to call Reset() exactly once on every registered playbook, got a=%d b=%d", a.resetCalls, b.resetCalls)
	}
}
