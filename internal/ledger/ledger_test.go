package ledger_test

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/orbquant/orb-backtester/internal/ledger"
	"github.com/orbquant/orb-backtester/pkg/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestWriterRecordAccumulatesPerInstrumentTotals(t *testing.T) {
	outputDir := t.TempDir()
	w, err := ledger.NewWriter(outputDir, "run-1", d("50000"))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	trades := []types.CompletedTrade{
		{ID: "t1", Symbol: "ES", RealizedR: d("1.5"), RealizedDollars: d("300")},
		{ID: "t2", Symbol: "ES", RealizedR: d("-1"), RealizedDollars: d("-200")},
		{ID: "t3", Symbol: "NQ", RealizedR: d("2"), RealizedDollars: d("400")},
	}
	equity := []types.EquityCurvePoint{
		{TradeID: "t1", Balance: d("50300"), PeakBalance: d("50300")},
		{TradeID: "t2", Balance: d("50100"), PeakBalance: d("50300")},
		{TradeID: "t3", Balance: d("50500"), PeakBalance: d("50500")},
	}
	w.Record(trades, equity)

	runCfg := &types.RunConfig{RunID: "run-1", Account: types.PropAccountRules{AccountSize: d("50000")}}
	instruments := []types.InstrumentConfig{{Symbol: "ES"}, {Symbol: "NQ"}}
	if err := w.Flush(runCfg, instruments, false, false); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(outputDir, "run-1", "summary"))
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	var summary types.SessionSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}

	if summary.TotalTrades != 3 {
		t.Fatalf("TotalTrades = %d, want 3", summary.TotalTrades)
	}
	if summary.Winners != 2 {
		t.Fatalf("Winners = %d, want 2 (positive RealizedDollars)", summary.Winners)
	}
	if summary.Losers != 1 {
		t.Fatalf("Losers = %d, want 1", summary.Losers)
	}
	if !summary.TotalR.Equal(d("2.5")) {
		t.Fatalf("TotalR = %s, want 2.5", summary.TotalR)
	}
	es, ok := summary.PerInstrument["ES"]
	if !ok {
		t.Fatalf("expected a per-instrument summary for ES")
	}
	if es.Trades != 2 || es.Winners != 1 {
		t.Fatalf("ES summary = %+v, want Trades=2 Winners=1", es)
	}
	// Peak balance tracks the highest equity point seen (50500); max
	// drawdown tracks the largest drop from a running peak, which here
	// is 50300 -> 50100 = 200.
	if !summary.PeakBalance.Equal(d("50500")) {
		t.Fatalf("PeakBalance = %s, want 50500", summary.PeakBalance)
	}
	if !summary.MaxDrawdown.Equal(d("200")) {
		t.Fatalf("MaxDrawdown = %s, want 200", summary.MaxDrawdown)
	}
}

func TestWriterFlushWritesConfigHash(t *testing.T) {
	outputDir := t.TempDir()
	w, err := ledger.NewWriter(outputDir, "run-2", d("50000"))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	runCfg := &types.RunConfig{RunID: "run-2", Account: types.PropAccountRules{AccountSize: d("50000")}}
	if err := w.Flush(runCfg, nil, false, false); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(outputDir, "run-2", "config"))
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	var resolved struct {
		Sha256 string `json:"sha256"`
	}
	if err := json.Unmarshal(raw, &resolved); err != nil {
		t.Fatalf("unmarshal config: %v", err)
	}
	if resolved.Sha256 == "" {
		t.Fatalf("expected a non-empty config hash in the flushed config file")
	}
}

func TestWriterFlushWritesNDJSONTrades(t *testing.T) {
	outputDir := t.TempDir()
	w, err := ledger.NewWriter(outputDir, "run-3", d("50000"))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.Record([]types.CompletedTrade{
		{ID: "t1", Symbol: "ES", EntryTimestamp: time.Now(), RealizedR: d("1"), RealizedDollars: d("200")},
		{ID: "t2", Symbol: "ES", EntryTimestamp: time.Now(), RealizedR: d("-1"), RealizedDollars: d("-200")},
	}, nil)
	runCfg := &types.RunConfig{RunID: "run-3", Account: types.PropAccountRules{AccountSize: d("50000")}}
	if err := w.Flush(runCfg, nil, false, false); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	f, err := os.Open(filepath.Join(outputDir, "run-3", "trades"))
	if err != nil {
		t.Fatalf("open trades file: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lines := 0
	for scanner.Scan() {
		var row types.CompletedTrade
		if err := json.Unmarshal(scanner.Bytes(), &row); err != nil {
			t.Fatalf("unmarshal trade row %d: %v", lines, err)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("trades file has %d lines, want 2 (one JSON object per trade)", lines)
	}
}
