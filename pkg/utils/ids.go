// Package utils provides small, stateless helpers shared across the
// backtesting core: ID generation, tick/step rounding, and the
// canonical-JSON config hash used for run reproducibility.
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// NewTradeID returns a unique identifier for an ActiveTrade.
func NewTradeID() string {
	return "trd_" + uuid.NewString()
}

// NewRunID returns a unique identifier for an orchestrator run.
func NewRunID() string {
	return "run_" + uuid.NewString()
}

// GenerateID returns a prefixed random hex identifier. Kept for
// callers that want a short, non-UUID identifier (e.g. internal event
// correlation IDs) rather than a full UUID.
func GenerateID(prefix string) (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(buf)), nil
}
