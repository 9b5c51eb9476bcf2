package orchestrator_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/orbquant/orb-backtester/internal/governance"
	"github.com/orbquant/orb-backtester/internal/orchestrator"
	"github.com/orbquant/orb-backtester/internal/playbook"
	"github.com/orbquant/orb-backtester/pkg/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func testInstrument() types.InstrumentConfig {
	return types.InstrumentConfig{
		Symbol:             "ES",
		TickSize:           d("0.25"),
		TickValue:          d("12.5"),
		SessionStart:       14*time.Hour + 30*time.Minute,
		SessionEnd:         21 * time.Hour,
		MicroMinutes:       5,
		PrimaryBaseMinutes: 15,
		PrimaryMinMinutes:  15,
		PrimaryMaxMinutes:  15,
		LowVolThreshold:    0.5,
		HighVolThreshold:   1.5,
		BufferBase:         0.75,
		BufferMin:          0,
		BufferMax:          2,
	}
}

func testRunConfig(rules types.PropAccountRules) *types.RunConfig {
	return &types.RunConfig{
		RunID:             "test-run",
		Account:           rules,
		BreakevenTriggerR: d("0.3"),
		Phase2TriggerR:    d("0.5"),
		RunnerTriggerR:    d("1.0"),
		StopMultiplier:    d("1.0"),
	}
}

func defaultRules() types.PropAccountRules {
	return types.PropAccountRules{
		AccountSize:            d("50000"),
		ProfitTarget:            d("1"),
		TrailingDrawdownMax:    d("100000"),
		DailyLossLimit:         d("100000"),
		MaxConcurrentTrades:    2,
		MaxDailyTradesPerSymbol: 5,
		LockoutEnabled:         false,
	}
}

// orBar builds one of the 15 opening-range bars: opens step 100.0 ->
// 101.4 by 0.1, close = open+0.5, high = open+0.7, low = open-0.1.
func orBar(ts time.Time, openOffset float64) types.Bar {
	open := decimal.NewFromFloat(100.0).Add(decimal.NewFromFloat(openOffset))
	return types.Bar{
		Timestamp: ts,
		Open:      open,
		High:      open.Add(d("0.7")),
		Low:       open.Sub(d("0.1")),
		Close:     open.Add(d("0.5")),
		Volume:    d("1200"),
	}
}

// postORBar builds one of the 10 post-OR follow-through bars: opens
// step 101.5 -> 102.4 by 0.1, close = open+0.6, high = open+0.8, low =
// open-0.05.
func postORBar(ts time.Time, openOffset float64) types.Bar {
	open := decimal.NewFromFloat(101.5).Add(decimal.NewFromFloat(openOffset))
	return types.Bar{
		Timestamp: ts,
		Open:      open,
		High:      open.Add(d("0.8")),
		Low:       open.Sub(d("0.05")),
		Close:     open.Add(d("0.6")),
		Volume:    d("1200"),
	}
}

func newTestOrchestrator(run *types.RunConfig, gov *governance.Engine) *orchestrator.Orchestrator {
	registry := playbook.NewRegistry(playbook.NewORBRefined())
	return orchestrator.New(testInstrument(), run, gov, nil, registry, nil, nil, zap.NewNop())
}

// Scenario A (spec.md §8): a steady uptrend through the OR window
// followed by steady follow-through. The primary OR is expected to
// come out to exactly [99.9, 102.1], the auction state to classify
// Initiative, PB1 to fire a long breakout once the buffered OR high is
// cleared, and the trade to ride to the session's final bar.
func TestScenarioAStrongUptrendInitiatesAndRuns(t *testing.T) {
	gov := governance.New(defaultRules(), nil, []string{"ES"}, decimal.Zero)
	o := newTestOrchestrator(testRunConfig(defaultRules()), gov)

	sessionStart := time.Date(2026, 1, 2, 14, 30, 0, 0, time.UTC)
	o.StartSession(orchestrator.SessionInput{SessionStart: sessionStart, ADR20: 3.0})

	for i := 0; i < 15; i++ {
		ts := sessionStart.Add(time.Duration(i) * time.Minute)
		if _, err := o.OnBar(orBar(ts, float64(i)*0.1)); err != nil {
			t.Fatalf("OR bar %d: %v", i, err)
		}
	}

	// Feed post-OR bars up through index 6 (close 102.7): the buffered
	// trigger stays above 102.7 for the whole OR-to-bar6 stretch, so no
	// trade should open yet.
	orStart := sessionStart.Add(15 * time.Minute)
	var lastBar types.Bar
	for i := 0; i <= 6; i++ {
		ts := orStart.Add(time.Duration(i) * time.Minute)
		bar := postORBar(ts, float64(i)*0.1)
		lastBar = bar
		if _, err := o.OnBar(bar); err != nil {
			t.Fatalf("post-OR bar %d: %v", i, err)
		}
	}
	if len(o.Ledger()) != 0 {
		t.Fatalf("did not expect any completed trade before the breakout bar")
	}

	// Bar index 7 (close 102.8) clears the buffered trigger (~102.72)
	// and should open a long trade.
	bar7 := postORBar(orStart.Add(7*time.Minute), 0.7)
	lastBar = bar7
	if _, err := o.OnBar(bar7); err != nil {
		t.Fatalf("breakout bar: %v", err)
	}

	for i := 8; i <= 9; i++ {
		ts := orStart.Add(time.Duration(i) * time.Minute)
		bar := postORBar(ts, float64(i)*0.1)
		lastBar = bar
		if _, err := o.OnBar(bar); err != nil {
			t.Fatalf("post-OR bar %d: %v", i, err)
		}
	}

	closed := o.EndSession(lastBar)
	ledger := o.Ledger()
	if len(ledger) != 1 {
		t.Fatalf("len(ledger) = %d, want exactly 1 trade across the session", len(ledger))
	}
	trade := ledger[0]
	if trade.Direction != types.Long {
		t.Fatalf("Direction = %v, want Long", trade.Direction)
	}
	if !trade.EntryPrice.Equal(d("102.8")) {
		t.Fatalf("EntryPrice = %s, want 102.8 (the breakout bar's close)", trade.EntryPrice)
	}
	if !trade.InitialStop.Equal(d("99.9")) {
		t.Fatalf("InitialStop = %s, want 99.9 (the primary OR low)", trade.InitialStop)
	}
	if trade.ExitReason != types.ExitReasonEndOfDay {
		t.Fatalf("ExitReason = %v, want EndOfDay: nothing in the remaining bars should have hit a stop or target", trade.ExitReason)
	}
	if len(closed) != 1 {
		t.Fatalf("EndSession should have force-closed exactly the one open trade, got %d", len(closed))
	}
}

// Scenario E (spec.md §8): EndSession force-closes any trade still
// open at the session's last bar, at that bar's close, with no further
// mutation once closed.
func TestScenarioEEndOfSessionForceClose(t *testing.T) {
	gov := governance.New(defaultRules(), nil, []string{"ES"}, decimal.Zero)
	o := newTestOrchestrator(testRunConfig(defaultRules()), gov)

	sessionStart := time.Date(2026, 1, 2, 14, 30, 0, 0, time.UTC)
	o.StartSession(orchestrator.SessionInput{SessionStart: sessionStart, ADR20: 3.0})

	for i := 0; i < 15; i++ {
		ts := sessionStart.Add(time.Duration(i) * time.Minute)
		o.OnBar(orBar(ts, float64(i)*0.1))
	}
	orStart := sessionStart.Add(15 * time.Minute)
	var lastBar types.Bar
	for i := 0; i <= 7; i++ {
		ts := orStart.Add(time.Duration(i) * time.Minute)
		bar := postORBar(ts, float64(i)*0.1)
		lastBar = bar
		o.OnBar(bar)
	}

	preEndLedgerLen := len(o.Ledger())
	closed := o.EndSession(lastBar)
	if len(closed) == 0 {
		t.Fatalf("expected EndSession to force-close the trade opened on the breakout bar")
	}
	ct := closed[0]
	if ct.ExitReason != types.ExitReasonEndOfDay {
		t.Fatalf("ExitReason = %v, want EndOfDay", ct.ExitReason)
	}
	if !ct.ExitPrice.Equal(lastBar.Close) {
		t.Fatalf("ExitPrice = %s, want the final bar's close %s", ct.ExitPrice, lastBar.Close)
	}

	// A second EndSession call must be a no-op: nothing left to close.
	again := o.EndSession(lastBar)
	if len(again) != 0 {
		t.Fatalf("expected a second EndSession call to close nothing, got %d trades", len(again))
	}
	if len(o.Ledger()) != preEndLedgerLen+1 {
		t.Fatalf("ledger grew by %d entries, want exactly 1 from the single force-close", len(o.Ledger())-preEndLedgerLen)
	}
}

// Scenario C (spec.md §8): once governance has already halted the
// account for the day, no further signal may open a trade, even one a
// playbook would otherwise have fired.
func TestScenarioCGovernanceHaltBlocksNewEntries(t *testing.T) {
	rules := defaultRules()
	rules.DailyLossLimit = d("200")
	gov := governance.New(rules, nil, []string{"ES"}, decimal.Zero)

	sessionStart := time.Date(2026, 1, 2, 14, 30, 0, 0, time.UTC)

	// Simulate the daily loss limit already having been hit before this
	// session's breakout bar arrives. NewTradingDay is called with the
	// same session day first so StartSession's own call later is a
	// same-day no-op that does not clear the halt it just set.
	gov.NewTradingDay(sessionStart)
	gov.RegisterTradeEntry("ES")
	gov.RegisterTradeExit("ES", d("-200"), d("-1"))
	if !gov.Status().DailyHalt {
		t.Fatalf("setup error: expected DailyHalt true after a -200 loss against a 200 daily limit")
	}

	o := newTestOrchestrator(testRunConfig(rules), gov)
	o.StartSession(orchestrator.SessionInput{SessionStart: sessionStart, ADR20: 3.0})

	for i := 0; i < 15; i++ {
		ts := sessionStart.Add(time.Duration(i) * time.Minute)
		o.OnBar(orBar(ts, float64(i)*0.1))
	}
	orStart := sessionStart.Add(15 * time.Minute)
	for i := 0; i <= 9; i++ {
		ts := orStart.Add(time.Duration(i) * time.Minute)
		o.OnBar(postORBar(ts, float64(i)*0.1))
	}

	if len(o.Ledger()) != 0 {
		t.Fatalf("expected no trade to open once the daily halt is in effect, got %d", len(o.Ledger()))
	}
}
