// config_test.go - Unit Tests fuer die Environment-Konfiguration
package envconfig

import (
	"log/slog"
	"testing"

	"github.com/steinlabs/batchkv/logutil"
)

// TestVarTrimsQuotes testet das Entfernen von Quotes und Leerzeichen
func TestVarTrimsQuotes(t *testing.T) {
	t.Setenv("BATCHKV_TEST_VAR", `  "quoted"  `)
	if got := Var("BATCHKV_TEST_VAR"); got != "quoted" {
		t.Errorf("Var() = %q, erwartet %q", got, "quoted")
	}
}

// TestUint testet Default, Override und Fallback bei ungueltigem Wert
func TestUint(t *testing.T) {
	get := Uint("BATCHKV_TEST_UINT", 42)
	if got := get(); got != 42 {
		t.Errorf("Uint() ohne Env = %d, erwartet 42", got)
	}

	t.Setenv("BATCHKV_TEST_UINT", "7")
	if got := get(); got != 7 {
		t.Errorf("Uint() = %d, erwartet 7", got)
	}

	t.Setenv("BATCHKV_TEST_UINT", "sieben")
	if got := get(); got != 42 {
		t.Errorf("Uint() bei ungueltigem Wert = %d, erwartet Default 42", got)
	}
}

// TestBool testet den Schalter-Getter
func TestBool(t *testing.T) {
	get := Bool("BATCHKV_TEST_BOOL")
	if get() {
		t.Error("Bool() ohne Env = true, erwartet false")
	}
	t.Setenv("BATCHKV_TEST_BOOL", "1")
	if !get() {
		t.Error("Bool() bei 1 = false, erwartet true")
	}
	t.Setenv("BATCHKV_TEST_BOOL", "false")
	if get() {
		t.Error("Bool() bei false = true, erwartet false")
	}
}

// TestLogLevel testet die Stufen von BATCHKV_DEBUG
func TestLogLevel(t *testing.T) {
	cases := []struct {
		value string
		want  slog.Level
	}{
		{"", slog.LevelInfo},
		{"1", slog.LevelDebug},
		{"2", logutil.LevelTrace},
		{"42", logutil.LevelTrace},
	}
	for _, tt := range cases {
		t.Setenv("BATCHKV_DEBUG", tt.value)
		if got := LogLevel(); got != tt.want {
			t.Errorf("LogLevel() bei %q = %v, erwartet %v", tt.value, got, tt.want)
		}
	}
}

// TestAsMapCoversKnownVars testet, dass die Uebersicht alle Schalter nennt
func TestAsMapCoversKnownVars(t *testing.T) {
	m := AsMap()
	for _, name := range []string{
		"BATCHKV_DEBUG", "BATCHKV_NUM_KV_BLOCKS", "BATCHKV_BLOCK_SIZE",
		"BATCHKV_MAX_BATCHED_TOKENS", "BATCHKV_MAX_SEQS", "BATCHKV_MAX_QUEUE",
		"BATCHKV_SPLIT_FUSE", "BATCHKV_PREFIX_CACHE", "BATCHKV_SPILL_DIR",
	} {
		v, ok := m[name]
		if !ok {
			t.Errorf("AsMap() enthaelt %s nicht", name)
			continue
		}
		if v.Name != name || v.Description == "" {
			t.Errorf("AsMap()[%s] = %+v, erwartet Namen und Beschreibung", name, v)
		}
	}
}
