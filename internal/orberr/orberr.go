// Package orberr defines the error-kind taxonomy used across the
// backtesting core (SPEC_FULL.md §2.2 / spec.md §7): configuration
// errors, data errors, and internal invariant violations are distinct
// closed kinds rather than ad hoc strings, so callers can branch on
// kind with errors.As while the wrapped message keeps the detail.
package orberr

import "fmt"

// ConfigError wraps a configuration problem surfaced at load time.
// The core never starts when one of these is returned.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Msg)
}

// NewConfigError constructs a ConfigError.
func NewConfigError(field, msg string) error {
	return &ConfigError{Field: field, Msg: msg}
}

// DataError wraps a problem found in the bar stream at ingestion time
// (out-of-order bar, invalid OHLC, non-finite number, empty session).
// A DataError aborts the current session only; other sessions continue.
type DataError struct {
	Symbol string
	Msg    string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data error [%s]: %s", e.Symbol, e.Msg)
}

// NewDataError constructs a DataError.
func NewDataError(symbol, msg string) error {
	return &DataError{Symbol: symbol, Msg: msg}
}

// InvariantError marks a programming error the core refuses to
// silently recover from: a stop moving against direction, remaining
// size going negative, an OR finalized twice. The process fails fast.
type InvariantError struct {
	Invariant string
	Msg       string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated [%s]: %s", e.Invariant, e.Msg)
}

// NewInvariantError constructs an InvariantError.
func NewInvariantError(invariant, msg string) error {
	return &InvariantError{Invariant: invariant, Msg: msg}
}

// GovernanceHalt is not an error — it marks a successful outcome where
// further trading stops cleanly for the remainder of a session. It is
// defined here only so callers that thread errors through the same
// return path can distinguish it from a genuine failure via errors.As.
type GovernanceHalt struct {
	Reason string
}

func (e *GovernanceHalt) Error() string {
	return fmt.Sprintf("governance halt: %s", e.Reason)
}
