// Package main provides the entry point for the ORB backtesting core:
// a thin CLI wrapper (SPEC_FULL.md §6.6) that loads configuration and
// bar data from disk, drives one orchestrator per instrument across
// its date range, and persists the resulting ledger/equity/summary.
package main

import (
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/orbquant/orb-backtester/internal/config"
	"github.com/orbquant/orb-backtester/internal/governance"
	"github.com/orbquant/orb-backtester/internal/ledger"
	"github.com/orbquant/orb-backtester/internal/orberr"
	"github.com/orbquant/orb-backtester/internal/orchestrator"
	"github.com/orbquant/orb-backtester/internal/playbook"
	"github.com/orbquant/orb-backtester/internal/probability"
	"github.com/orbquant/orb-backtester/pkg/types"
	"github.com/orbquant/orb-backtester/pkg/utils"
)

func main() {
	instruments := flag.String("instruments", "", "comma-separated instrument symbols")
	start := flag.String("start", "", "run start date, YYYY-MM-DD")
	end := flag.String("end", "", "run end date, YYYY-MM-DD")
	dataDir := flag.String("data-dir", "./data", "directory of per-instrument bar CSVs")
	outputDir := flag.String("output-dir", "./output", "directory to write run output")
	configPath := flag.String("config", "", "path to a RunConfig YAML file (overrides individual flags when set)")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, instrumentCfgs, err := loadRunConfig(*configPath, *instruments, *start, *end, *dataDir, *outputDir)
	if err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		os.Exit(exitCodeFor(err))
	}

	if err := run(cfg, instrumentCfgs, *dataDir, logger); err != nil {
		logger.Error("run failed", zap.Error(err))
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	switch err.(type) {
	case *orberr.ConfigError:
		return 1
	case *orberr.DataError:
		return 2
	default:
		return 3
	}
}

func loadRunConfig(configPath, instruments, start, end, dataDir, outputDir string) (*types.RunConfig, map[string]types.InstrumentConfig, error) {
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
		instrumentPaths := make([]string, 0, len(cfg.Instruments))
		for _, sym := range cfg.Instruments {
			instrumentPaths = append(instrumentPaths, filepath.Join(filepath.Dir(configPath), sym+".yaml"))
		}
		instrumentCfgs, err := config.LoadInstruments(instrumentPaths)
		if err != nil {
			return nil, nil, err
		}
		return cfg, instrumentCfgs, nil
	}

	if instruments == "" {
		return nil, nil, orberr.NewConfigError("instruments", "at least one instrument is required (-instruments or -config)")
	}
	startDate, err := time.Parse("2006-01-02", start)
	if err != nil {
		return nil, nil, orberr.NewConfigError("start", fmt.Sprintf("invalid start date %q: %v", start, err))
	}
	endDate, err := time.Parse("2006-01-02", end)
	if err != nil {
		return nil, nil, orberr.NewConfigError("end", fmt.Sprintf("invalid end date %q: %v", end, err))
	}

	symbols := strings.Split(instruments, ",")
	runID := utils.NewRunID()
	cfg := &types.RunConfig{
		RunID:       runID,
		Instruments: symbols,
		StartDate:   startDate,
		EndDate:     endDate,
		OutputDir:   outputDir,
		Account: types.PropAccountRules{
			AccountSize:             decimal.NewFromInt(50000),
			ProfitTarget:            decimal.NewFromInt(3000),
			TrailingDrawdownMax:     decimal.NewFromInt(2000),
			DailyLossLimit:          decimal.NewFromInt(1000),
			MaxContracts:            5,
			MaxConcurrentTrades:     2,
			ConsecutiveLossLockout:  3,
			MaxDailyTradesPerSymbol: 2,
		},
		Pacing:            types.DefaultPacingPhases(),
		BreakevenTriggerR: decimal.NewFromFloat(0.3),
		Phase2TriggerR:    decimal.NewFromFloat(0.5),
		RunnerTriggerR:    decimal.NewFromFloat(1.0),
		StopMultiplier:    decimal.NewFromFloat(1.0),
	}

	instrumentPaths := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		instrumentPaths = append(instrumentPaths, filepath.Join(dataDir, sym+".yaml"))
	}
	instrumentCfgs, err := config.LoadInstruments(instrumentPaths)
	if err != nil {
		return nil, nil, err
	}

	return cfg, instrumentCfgs, nil
}

// run drives every configured instrument through its bar stream,
// one session per calendar day, and persists the combined output.
func run(cfg *types.RunConfig, instrumentCfgs map[string]types.InstrumentConfig, dataDir string, logger *zap.Logger) error {
	gov := governance.New(cfg.Account, cfg.Pacing, cfg.Instruments, decimal.Zero)
	registry := playbook.NewRegistry(
		playbook.NewORBRefined(),
		playbook.NewFailureFade(),
		playbook.NewPullbackContinuation(),
	)
	gate := probability.New(probability.DefaultGateConfig())

	writer, err := ledger.NewWriter(cfg.OutputDir, cfg.RunID, cfg.Account.AccountSize)
	if err != nil {
		return err
	}

	instrumentConfigList := make([]types.InstrumentConfig, 0, len(instrumentCfgs))
	for _, ic := range instrumentCfgs {
		instrumentConfigList = append(instrumentConfigList, ic)
	}

	for _, symbol := range cfg.Instruments {
		instrument, ok := instrumentCfgs[symbol]
		if !ok {
			return orberr.NewConfigError("instruments", fmt.Sprintf("no instrument config loaded for %s", symbol))
		}

		bars, err := loadInstrumentBars(dataDir, symbol, cfg.StartDate, cfg.EndDate)
		if err != nil {
			return err
		}
		if len(bars) == 0 {
			return orberr.NewDataError(symbol, "no bars found in range")
		}

		orch := orchestrator.New(instrument, cfg, gov, nil, registry, gate, nil, logger)

		for _, day := range groupBySession(bars, instrument) {
			orch.StartSession(orchestrator.SessionInput{SessionStart: day.sessionStart, ADR20: estimateADR20(instrument)})

			lastGood := -1
			for i, bar := range day.bars {
				closed, err := orch.OnBar(bar)
				if err != nil {
					var dataErr *orberr.DataError
					if !errors.As(err, &dataErr) {
						return err
					}
					logger.Warn("session aborted on data error", zap.String("symbol", symbol), zap.Error(err))
					break
				}
				lastGood = i
				if len(closed) > 0 {
					logger.Debug("trades closed", zap.String("symbol", symbol), zap.Int("count", len(closed)))
				}
			}
			if lastGood >= 0 {
				orch.EndSession(day.bars[lastGood])
			}
		}

		writer.Record(orch.Ledger(), orch.Equity())
		logger.Info("instrument complete", zap.String("symbol", symbol), zap.Int("trades", len(orch.Ledger())))
	}

	status := gov.Status()
	if err := writer.Flush(cfg, instrumentConfigList, status.DailyHalt, status.TrailingDDHalt); err != nil {
		return err
	}

	logger.Info("run complete", zap.String("runId", cfg.RunID), zap.String("outputDir", filepath.Join(cfg.OutputDir, cfg.RunID)))
	return nil
}

// estimateADR20 falls back to TypicalADR when no rolling 20-day
// average-daily-range series is supplied out of band.
func estimateADR20(instrument types.InstrumentConfig) float64 {
	adr, _ := instrument.TypicalADR.Float64()
	return adr
}

type session struct {
	sessionStart time.Time
	bars         []types.Bar
}

// groupBySession buckets bars by calendar day and anchors each day's
// session start at that day's instrument.SessionStart offset.
func groupBySession(bars []types.Bar, instrument types.InstrumentConfig) []session {
	var sessions []session
	var current *session

	for _, bar := range bars {
		dayStart := time.Date(bar.Timestamp.Year(), bar.Timestamp.Month(), bar.Timestamp.Day(), 0, 0, 0, 0, bar.Timestamp.Location()).Add(instrument.SessionStart)
		if current == nil || !current.sessionStart.Equal(dayStart) {
			sessions = append(sessions, session{sessionStart: dayStart})
			current = &sessions[len(sessions)-1]
		}
		current.bars = append(current.bars, bar)
	}
	return sessions
}

// loadInstrumentBars reads <dataDir>/<symbol>.csv (columns
// time,open,high,low,close,volume; RFC3339 timestamps) and returns
// the bars from start through 24 hours after end (so bars dated on
// the end day are included), in ascending timestamp order.
func loadInstrumentBars(dataDir, symbol string, start, end time.Time) ([]types.Bar, error) {
	path := filepath.Join(dataDir, symbol+".csv")
	f, err := os.Open(path)
	if err != nil {
		return nil, orberr.NewDataError(symbol, fmt.Sprintf("open %s: %v", path, err))
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, orberr.NewDataError(symbol, fmt.Sprintf("read header: %v", err))
	}
	cols := columnIndex(header)

	var bars []types.Bar
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, orberr.NewDataError(symbol, fmt.Sprintf("read row: %v", err))
		}

		ts, err := parseTimestamp(record[cols["time"]])
		if err != nil {
			return nil, orberr.NewDataError(symbol, fmt.Sprintf("parse timestamp %q: %v", record[cols["time"]], err))
		}
		if ts.Before(start) || ts.After(end.Add(24*time.Hour)) {
			continue
		}

		bar := types.Bar{
			Timestamp: ts,
			Open:      mustDecimal(record[cols["open"]]),
			High:      mustDecimal(record[cols["high"]]),
			Low:       mustDecimal(record[cols["low"]]),
			Close:     mustDecimal(record[cols["close"]]),
			Volume:    mustDecimal(record[cols["volume"]]),
		}
		bars = append(bars, bar)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

func columnIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return idx
}

func parseTimestamp(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	if sec, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format")
}

func mustDecimal(raw string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
