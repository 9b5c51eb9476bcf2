// Package config loads RunConfig and per-instrument InstrumentConfig
// values from YAML files via viper (SPEC_FULL.md §2.3 / §6.6), the
// teacher's go.mod dependency never wired by the teacher's own
// application code.
package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/orbquant/orb-backtester/internal/orberr"
	"github.com/orbquant/orb-backtester/pkg/types"
)

// Load reads a RunConfig from path (YAML or JSON, by extension) and
// applies defaults for any pacing table left empty.
func Load(path string) (*types.RunConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ORB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, orberr.NewConfigError("run_config", fmt.Sprintf("read %s: %v", path, err))
	}

	var cfg types.RunConfig
	if err := v.Unmarshal(&cfg, decimalHookOption()); err != nil {
		return nil, orberr.NewConfigError("run_config", fmt.Sprintf("decode %s: %v", path, err))
	}

	if err := validateRunConfig(&cfg); err != nil {
		return nil, err
	}
	if len(cfg.Pacing) == 0 {
		cfg.Pacing = types.DefaultPacingPhases()
	}

	return &cfg, nil
}

// LoadInstrument reads one InstrumentConfig from path.
func LoadInstrument(path string) (*types.InstrumentConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, orberr.NewConfigError("instrument_config", fmt.Sprintf("read %s: %v", path, err))
	}

	var cfg types.InstrumentConfig
	if err := v.Unmarshal(&cfg, decimalHookOption()); err != nil {
		return nil, orberr.NewConfigError("instrument_config", fmt.Sprintf("decode %s: %v", path, err))
	}

	if cfg.Symbol == "" {
		return nil, orberr.NewConfigError("symbol", "instrument config missing symbol")
	}
	if !cfg.TickSize.IsPositive() {
		return nil, orberr.NewConfigError("tick_size", fmt.Sprintf("%s: tick size must be positive", cfg.Symbol))
	}

	return &cfg, nil
}

// LoadInstruments reads one InstrumentConfig per path and returns them
// keyed by symbol.
func LoadInstruments(paths []string) (map[string]types.InstrumentConfig, error) {
	out := make(map[string]types.InstrumentConfig, len(paths))
	for _, p := range paths {
		cfg, err := LoadInstrument(p)
		if err != nil {
			return nil, err
		}
		out[cfg.Symbol] = *cfg
	}
	return out, nil
}

func validateRunConfig(cfg *types.RunConfig) error {
	if len(cfg.Instruments) == 0 {
		return orberr.NewConfigError("instruments", "at least one instrument is required")
	}
	if cfg.EndDate.Before(cfg.StartDate) {
		return orberr.NewConfigError("end_date", "end date precedes start date")
	}
	if !cfg.Account.AccountSize.IsPositive() {
		return orberr.NewConfigError("account.account_size", "account size must be positive")
	}
	if cfg.OutputDir == "" {
		return orberr.NewConfigError("output_dir", "output directory is required")
	}
	return nil
}

// decimalHookOption registers a mapstructure decode hook so
// decimal.Decimal fields parse from plain YAML scalars (strings or
// numbers), composed with viper's default string-to-duration and
// string-to-slice hooks.
func decimalHookOption() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		decimalDecodeHook,
	))
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

func decimalDecodeHook(from, to reflect.Type, data any) (any, error) {
	if to != decimalType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return decimal.NewFromString(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	default:
		return data, nil
	}
}
