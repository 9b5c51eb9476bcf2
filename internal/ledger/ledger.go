// Package ledger persists a run's output: the completed-trade ledger,
// the equity series, the session summary, and the resolved
// configuration with its reproducibility hash (SPEC_FULL.md §6.5,
// grounded on the teacher's pkg/types.BacktestResult/EquityCurvePoint
// output shape and cmd/server/main.go's file-writing idiom).
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"

	"github.com/orbquant/orb-backtester/pkg/types"
	"github.com/orbquant/orb-backtester/pkg/utils"
)

// Writer accumulates trades and equity points across a run and
// persists them, plus a derived summary and the resolved config, to
// <outputDir>/<runID>/.
type Writer struct {
	runID string
	dir   string

	trades []types.CompletedTrade
	equity []types.EquityCurvePoint

	perInstrument map[string]*types.InstrumentSummary
	peakBalance   decimal.Decimal
	maxDrawdown   decimal.Decimal
}

// NewWriter creates the run's output directory (<outputDir>/<runID>/)
// if it does not already exist.
func NewWriter(outputDir, runID string, startingBalance decimal.Decimal) (*Writer, error) {
	dir := filepath.Join(outputDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create output dir: %w", err)
	}
	return &Writer{
		runID:         runID,
		dir:           dir,
		perInstrument: make(map[string]*types.InstrumentSummary),
		peakBalance:   startingBalance,
	}, nil
}

// Record appends one session's completed trades and equity points to
// the accumulating run totals, updating the running per-instrument and
// drawdown tallies as it goes.
func (w *Writer) Record(trades []types.CompletedTrade, equity []types.EquityCurvePoint) {
	w.trades = append(w.trades, trades...)
	w.equity = append(w.equity, equity...)

	for _, t := range trades {
		s := w.perInstrument[t.Symbol]
		if s == nil {
			s = &types.InstrumentSummary{}
			w.perInstrument[t.Symbol] = s
		}
		s.Trades++
		if t.RealizedDollars.IsPositive() {
			s.Winners++
		}
		s.TotalR = s.TotalR.Add(t.RealizedR)
	}

	for _, e := range equity {
		if e.Balance.GreaterThan(w.peakBalance) {
			w.peakBalance = e.Balance
		}
		dd := w.peakBalance.Sub(e.Balance)
		if dd.GreaterThan(w.maxDrawdown) {
			w.maxDrawdown = dd
		}
	}
}

// Flush writes trades, equity, summary, and config to the run's
// output directory as newline-delimited JSON (trades/equity) and
// single JSON objects (summary/config).
func (w *Writer) Flush(runConfig *types.RunConfig, instruments []types.InstrumentConfig, dailyHaltHit, trailingDDHaltHit bool) error {
	if err := writeNDJSON(filepath.Join(w.dir, "trades"), w.trades); err != nil {
		return err
	}
	if err := writeNDJSON(filepath.Join(w.dir, "equity"), w.equity); err != nil {
		return err
	}

	summary := w.buildSummary(runConfig.RunID, dailyHaltHit, trailingDDHaltHit)
	if err := writeJSON(filepath.Join(w.dir, "summary"), summary); err != nil {
		return err
	}

	configHash, err := utils.ConfigHash(struct {
		Run         *types.RunConfig          `json:"run"`
		Instruments []types.InstrumentConfig  `json:"instruments"`
	}{runConfig, instruments})
	if err != nil {
		return fmt.Errorf("ledger: config hash: %w", err)
	}
	resolved := struct {
		Run         *types.RunConfig         `json:"run"`
		Instruments []types.InstrumentConfig `json:"instruments"`
		Sha256      string                   `json:"sha256"`
	}{runConfig, instruments, configHash}
	if err := writeJSON(filepath.Join(w.dir, "config"), resolved); err != nil {
		return err
	}

	return nil
}

func (w *Writer) buildSummary(runID string, dailyHaltHit, trailingDDHaltHit bool) types.SessionSummary {
	summary := types.SessionSummary{
		RunID:             runID,
		TotalTrades:       len(w.trades),
		PerInstrument:     make(map[string]types.InstrumentSummary, len(w.perInstrument)),
		MaxDrawdown:       w.maxDrawdown,
		PeakBalance:       w.peakBalance,
		DailyHaltHit:      dailyHaltHit,
		TrailingDDHaltHit: trailingDDHaltHit,
	}

	totalR := decimal.Zero
	totalDollars := decimal.Zero
	winners := 0
	for _, t := range w.trades {
		totalR = totalR.Add(t.RealizedR)
		totalDollars = totalDollars.Add(t.RealizedDollars)
		if t.RealizedDollars.IsPositive() {
			winners++
		}
	}
	summary.Winners = winners
	summary.Losers = summary.TotalTrades - winners
	summary.TotalR = totalR
	summary.TotalDollars = totalDollars
	if summary.TotalTrades > 0 {
		summary.WinRate = float64(winners) / float64(summary.TotalTrades)
		expectancy, _ := totalR.Div(decimal.NewFromInt(int64(summary.TotalTrades))).Float64()
		summary.Expectancy = decimal.NewFromFloat(expectancy)
	}
	if len(w.equity) > 0 {
		summary.FinalBalance = w.equity[len(w.equity)-1].Balance
	}

	for symbol, s := range w.perInstrument {
		if s.Trades > 0 {
			expectancy, _ := s.TotalR.Div(decimal.NewFromInt(int64(s.Trades))).Float64()
			s.Expectancy = decimal.NewFromFloat(expectancy)
		}
		summary.PerInstrument[symbol] = *s
	}

	return summary
}

func writeNDJSON[T any](path string, rows []T) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("ledger: create %s: %w", path, err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	enc := json.NewEncoder(bw)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("ledger: encode row in %s: %w", path, err)
		}
	}
	return bw.Flush()
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("ledger: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
