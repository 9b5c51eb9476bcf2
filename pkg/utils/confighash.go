package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ConfigHash computes a SHA-256 hash over the canonical (key-sorted)
// JSON encoding of cfg. encoding/json already emits map keys in sorted
// order and struct fields in declaration order; round-tripping through
// a map[string]any before hashing normalizes away any difference in
// how the source document ordered its keys or whitespace, so two
// semantically equivalent configs hash identically (see SPEC_FULL.md
// §6.5 and DESIGN.md).
func ConfigHash(cfg any) (string, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("config hash: marshal: %w", err)
	}

	var canonical map[string]any
	if err := json.Unmarshal(raw, &canonical); err != nil {
		return "", fmt.Errorf("config hash: unmarshal: %w", err)
	}

	canonicalBytes, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("config hash: re-marshal: %w", err)
	}

	sum := sha256.Sum256(canonicalBytes)
	return hex.EncodeToString(sum[:]), nil
}
