// sampler_test.go - Unit Tests fuer die Token-Auswahl
package sample

import (
	"slices"
	"testing"

	"github.com/steinlabs/batchkv/api"
)

// TestGreedyNext testet die deterministische Auswahl des groessten Logits
func TestGreedyNext(t *testing.T) {
	s := New(api.NewGenerationConfig())
	token, lp := s.Next([]float32{0.1, 2, 0.3}, []int{9}, 1)
	if token != 1 {
		t.Errorf("Next() = %d, erwartet 1", token)
	}
	if lp >= 0 {
		t.Errorf("LogProb = %g, erwartet < 0", lp)
	}
}

// TestMinNewTokensBansEOS testet die EOS-Sperre vor MinNewTokens
func TestMinNewTokensBansEOS(t *testing.T) {
	cfg := api.NewGenerationConfig()
	cfg.EOSTokenID = 0
	cfg.MinNewTokens = 2

	// Ein generierter Token: EOS bleibt gesperrt, der zweitbeste gewinnt
	s := New(cfg)
	token, _ := s.Next([]float32{5, 1, 2}, []int{9, 4}, 1)
	if token != 2 {
		t.Errorf("Next() unter MinNewTokens = %d, erwartet 2", token)
	}

	// Zwei generierte Tokens: EOS ist wieder erlaubt
	token, _ = s.Next([]float32{5, 1, 2}, []int{9, 4, 4}, 1)
	if token != 0 {
		t.Errorf("Next() ab MinNewTokens = %d, erwartet 0", token)
	}
}

// TestSamplerSeedDeterminism testet, dass gleiche Seeds gleiche Folgen ziehen
func TestSamplerSeedDeterminism(t *testing.T) {
	cfg := api.NewGenerationConfig()
	cfg.DoSample = true
	cfg.Seed = 7

	logits := []float32{1, 0.5, 2, 1.5, 0, 1, 0.25, 1.75}
	draw := func(cfg api.GenerationConfig) []int {
		s := New(cfg)
		out := make([]int, 16)
		for i := range out {
			out[i], _ = s.Next(slices.Clone(logits), []int{9}, 1)
		}
		return out
	}

	if a, b := draw(cfg), draw(cfg); !slices.Equal(a, b) {
		t.Errorf("gleiches Seed: %v != %v", a, b)
	}

	other := cfg
	other.Seed = 8
	if a, b := draw(cfg), draw(other); slices.Equal(a, b) {
		t.Error("verschiedene Seeds ziehen identische Folgen")
	}
}
