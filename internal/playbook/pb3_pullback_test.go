package playbook_test

import (
	"testing"
	"time"

	"github.com/orbquant/orb-backtester/internal/playbook"
	"github.com/orbquant/orb-backtester/pkg/types"
)

func pb3Bar(ts time.Time, open, high, low, close string) types.Bar {
	return types.Bar{Timestamp: ts, Open: d(open), High: d(high), Low: d(low), Close: d(close)}
}

// A long impulse beyond the OR high, a 3-bar flag that retraces within
// the configured band, then a break of the impulse extreme, should
// fire a long continuation signal stopped at the flag low.
func TestPullbackContinuationFiresOnValidImpulseFlagBreak(t *testing.T) {
	p := playbook.NewPullbackContinuation()
	or := finalizedOR("102", "100") // width 2, impulse threshold = 0.8*2 = 1.6
	ts := time.Now()

	ctx := func(bar types.Bar) *playbook.Context {
		return &playbook.Context{OR: or, Bar: bar}
	}

	// Impulse bar: high = 103.8 clears orHigh(102) + threshold(1.6) = 103.6.
	// Its own low (103.0, near where the push started) seeds flagLow.
	impulseBar := pb3Bar(ts, "102.3", "103.8", "103.0", "103.7")
	if p.IsEligible(ctx(impulseBar)) {
		t.Fatalf("impulse bar should not yet fire a signal: the flag has not formed")
	}

	// Flag bars 1-3: consolidate under the impulse extreme (103.8),
	// the third bar printing the flag's lowest low (102.9).
	flagBars := []types.Bar{
		pb3Bar(ts.Add(time.Minute), "103.6", "103.65", "103.2", "103.3"),
		pb3Bar(ts.Add(2*time.Minute), "103.3", "103.4", "103.1", "103.2"),
		pb3Bar(ts.Add(3*time.Minute), "103.2", "103.25", "102.9", "103.1"),
	}
	for i, fb := range flagBars {
		if p.IsEligible(ctx(fb)) {
			t.Fatalf("flag bar %d should not fire: it neither breaks the impulse extreme yet nor satisfies retrace band timing prematurely", i)
		}
	}

	// Breakout bar: high exceeds the impulse extreme (103.8).
	// retrace = impulseExtreme(103.8) - flagLow(102.9) = 0.9;
	// retraceRatio = 0.9 / impulseMove(1.8) = 0.5, within [0.25, 0.62].
	breakoutBar := pb3Bar(ts.Add(4*time.Minute), "103.1", "103.9", "103.0", "103.85")
	if !p.IsEligible(ctx(breakoutBar)) {
		t.Fatalf("expected the breakout bar to ready a fire once the flag's retrace band and extreme-break conditions are met")
	}

	signals := p.GenerateSignals(ctx(breakoutBar))
	if len(signals) != 1 {
		t.Fatalf("len(signals) = %d, want 1", len(signals))
	}
	sig := signals[0]
	if sig.Direction != types.Long {
		t.Fatalf("Direction = %v, want Long", sig.Direction)
	}
	if !sig.EntryPrice.Equal(d("103.85")) {
		t.Fatalf("EntryPrice = %s, want 103.85 (the breakout bar's close)", sig.EntryPrice)
	}
	if !sig.InitialStop.Equal(d("102.9")) {
		t.Fatalf("InitialStop = %s, want 102.9 (the flag low)", sig.InitialStop)
	}
}

func TestPullbackContinuationAbandonsImpulseAfterTimeLimit(t *testing.T) {
	p := playbook.NewPullbackContinuation()
	or := finalizedOR("102", "100")
	ts := time.Now()

	flatBar := pb3Bar(ts, "101", "101.2", "100.8", "101")
	// Feed 16 bars (> defaultImpulseTimeBars=15) of no impulse; the
	// state machine should simply never ready a fire.
	for i := 0; i < 16; i++ {
		if p.IsEligible(&playbook.Context{OR: or, Bar: flatBar}) {
			t.Fatalf("bar %d: did not expect a fire on a flat, non-impulsive bar stream", i)
		}
	}
}

func TestPullbackContinuationResetClearsStateMachine(t *testing.T) {
	p := playbook.NewPullbackContinuation()
	or := finalizedOR("102", "100")
	ts := time.Now()

	impulseBar := pb3Bar(ts, "102.2", "103.8", "102.0", "103.7")
	p.IsEligible(&playbook.Context{OR: or, Bar: impulseBar})

	p.Reset()

	// After Reset, an identical flat bar stream should behave exactly
	// as it does on a brand-new instance: no fire before an impulse is
	// seen again.
	flatBar := pb3Bar(ts, "101", "101.2", "100.8", "101")
	if p.IsEligible(&playbook.Context{OR: or, Bar: flatBar}) {
		t.Fatalf("expected no fire immediately after Reset on a non-impulsive bar")
	}
}
