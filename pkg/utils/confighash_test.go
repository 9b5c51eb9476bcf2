package utils_test

import (
	"testing"

	"github.com/orbquant/orb-backtester/pkg/utils"
)

// Config hashing must be insensitive to the order in which a map's
// keys were populated: json.Marshal over map[string]any always emits
// keys in sorted order, so two maps built by inserting the same pairs
// in different orders produce identical canonical bytes.
func TestConfigHashIsStableUnderKeyReordering(t *testing.T) {
	a := map[string]any{
		"run_id":       "r1",
		"account_size": 50000,
		"instruments":  []string{"ES", "NQ"},
	}
	b := map[string]any{
		"instruments":  []string{"ES", "NQ"},
		"run_id":       "r1",
		"account_size": 50000,
	}

	hashA, err := utils.ConfigHash(a)
	if err != nil {
		t.Fatalf("ConfigHash(a): %v", err)
	}
	hashB, err := utils.ConfigHash(b)
	if err != nil {
		t.Fatalf("ConfigHash(b): %v", err)
	}
	if hashA != hashB {
		t.Fatalf("ConfigHash differed under key reordering: %s != %s", hashA, hashB)
	}
}

func TestConfigHashDiffersOnValueChange(t *testing.T) {
	a := map[string]any{"run_id": "r1", "account_size": 50000}
	b := map[string]any{"run_id": "r1", "account_size": 50001}

	hashA, _ := utils.ConfigHash(a)
	hashB, _ := utils.ConfigHash(b)
	if hashA == hashB {
		t.Fatalf("expected different hashes for configs differing in account_size")
	}
}

func TestConfigHashIsDeterministicAcrossRepeatedCalls(t *testing.T) {
	cfg := struct {
		RunID   string   `json:"runId"`
		Symbols []string `json:"symbols"`
	}{RunID: "r1", Symbols: []string{"ES", "NQ", "YM"}}

	first, err := utils.ConfigHash(cfg)
	if err != nil {
		t.Fatalf("ConfigHash: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := utils.ConfigHash(cfg)
		if err != nil {
			t.Fatalf("ConfigHash (repeat %d): %v", i, err)
		}
		if again != first {
			t.Fatalf("ConfigHash was not deterministic across repeated calls on the same struct")
		}
	}
}
