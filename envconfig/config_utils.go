// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - BoolWithDefault/Bool: Boolean-Getter mit Default-Wert
// - String: String-Getter
// - Uint/Uint64: Integer-Getter mit Default-Wert
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap: Gibt alle Konfigurationen als Map zurueck
// - Values: Gibt alle Konfigurationswerte als String-Map zurueck
package envconfig

import (
	"fmt"
	"log/slog"
	"strconv"
)

// BoolWithDefault gibt eine Funktion zurueck, die einen Bool mit Default-Wert liest
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool gibt eine Funktion zurueck, die einen Bool liest (Default: false)
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// String gibt eine Funktion zurueck, die einen String liest
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// Uint gibt eine Funktion zurueck, die einen uint mit Default-Wert liest
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// Uint64 gibt eine Funktion zurueck, die einen uint64 mit Default-Wert liest
func Uint64(key string, defaultValue uint64) func() uint64 {
	return func() uint64 {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return n
			}
		}
		return defaultValue
	}
}

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
// Enthaelt Namen, aktuelle Werte und Beschreibungen
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"BATCHKV_DEBUG":              {"BATCHKV_DEBUG", LogLevel(), "Show additional debug information (e.g. BATCHKV_DEBUG=1)"},
		"BATCHKV_NUM_KV_BLOCKS":      {"BATCHKV_NUM_KV_BLOCKS", NumKVBlocks(), "Total number of KV cache blocks (default 256)"},
		"BATCHKV_BLOCK_SIZE":         {"BATCHKV_BLOCK_SIZE", BlockSize(), "Tokens per KV cache block (default 16)"},
		"BATCHKV_MAX_BATCHED_TOKENS": {"BATCHKV_MAX_BATCHED_TOKENS", MaxBatchedTokens(), "Token budget per scheduler step (default 256)"},
		"BATCHKV_MAX_SEQS":           {"BATCHKV_MAX_SEQS", MaxSeqs(), "Maximum number of concurrently running sequences"},
		"BATCHKV_MAX_QUEUE":          {"BATCHKV_MAX_QUEUE", MaxQueue(), "Maximum number of queued requests"},
		"BATCHKV_SPLIT_FUSE":         {"BATCHKV_SPLIT_FUSE", SplitFuse(), "Use the dynamic split-fuse batching policy"},
		"BATCHKV_PREFIX_CACHE":       {"BATCHKV_PREFIX_CACHE", PrefixCache(), "Enable content-addressed prefix caching"},
		"BATCHKV_SPILL_DIR":          {"BATCHKV_SPILL_DIR", SpillDir(), "Directory for the compressed spill tier (empty = disabled)"},
	}
}

// Values gibt alle Konfigurationswerte als String-Map zurueck
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
