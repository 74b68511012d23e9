// config.go - Generierungs-Konfiguration und Presets
//
// Dieses Modul enthaelt:
// - GenerationConfig: alle Sampling- und Stop-Parameter einer Anfrage
// - EarlyStopping: Abbruchkriterium fuer Beam Search
// - Greedy/BeamSearch/Multinomial: vordefinierte Presets
// - Validate: Konsistenzpruefung der Parameter
package api

import "math"

// EarlyStopping steuert, wann Beam Search abbricht.
type EarlyStopping int

const (
	// EarlyStoppingHeuristic stoppt, sobald keine besseren Kandidaten zu erwarten sind.
	EarlyStoppingHeuristic EarlyStopping = iota
	// EarlyStoppingTrue stoppt, sobald num_beams fertige Kandidaten existieren.
	EarlyStoppingTrue
	// EarlyStoppingNever stoppt erst am Laengenlimit.
	EarlyStoppingNever
)

func (e EarlyStopping) String() string {
	switch e {
	case EarlyStoppingTrue:
		return "true"
	case EarlyStoppingNever:
		return "never"
	default:
		return "heuristic"
	}
}

// GenerationConfig buendelt alle Parameter einer Generierungsanfrage.
// Nullwerte bedeuten "nicht gesetzt"; Defaults setzt NewGenerationConfig.
type GenerationConfig struct {
	// Laengen- und Stop-Kriterien
	MaxNewTokens int
	MaxLength    int
	MinNewTokens int
	IgnoreEOS    bool
	EOSTokenID   int

	// Beam Search
	NumBeams           int
	NumBeamGroups      int
	DiversityPenalty   float32
	LengthPenalty      float32
	EarlyStopping      EarlyStopping
	NumReturnSequences int
	NoRepeatNgramSize  int

	// Multinomial Sampling
	DoSample          bool
	Temperature       float32
	TopP              float32
	TopK              int
	RepetitionPenalty float32
	PresencePenalty   float32
	FrequencyPenalty  float32
	Seed              uint64

	// Scheduler-Verhalten
	CanUsePartialPreemption bool
}

// maxLengthUnset markiert ein nicht gesetztes Laengenlimit.
const maxLengthUnset = math.MaxInt

// NewGenerationConfig liefert die Default-Konfiguration (Greedy ohne Limits).
func NewGenerationConfig() GenerationConfig {
	return GenerationConfig{
		MaxNewTokens:            maxLengthUnset,
		MaxLength:               maxLengthUnset,
		EOSTokenID:              -1,
		NumBeams:                1,
		NumBeamGroups:           1,
		LengthPenalty:           1.0,
		NumReturnSequences:      1,
		Temperature:             1.0,
		TopP:                    1.0,
		TopK:                    0,
		RepetitionPenalty:       1.0,
		CanUsePartialPreemption: true,
	}
}

// Greedy liefert das deterministische Preset.
func Greedy() GenerationConfig {
	cfg := NewGenerationConfig()
	cfg.Temperature = 0
	cfg.IgnoreEOS = true
	cfg.MaxNewTokens = 30
	return cfg
}

// BeamSearch liefert das Beam-Search-Preset mit zwei diversen Gruppen.
func BeamSearch() GenerationConfig {
	cfg := NewGenerationConfig()
	cfg.NumBeams = 4
	cfg.NumBeamGroups = 2
	cfg.DiversityPenalty = 2.0
	cfg.NumReturnSequences = 3
	return cfg
}

// Multinomial liefert das stochastische Preset.
func Multinomial() GenerationConfig {
	cfg := NewGenerationConfig()
	cfg.DoSample = true
	cfg.Temperature = 0.9
	cfg.TopP = 0.9
	cfg.TopK = 20
	cfg.MinNewTokens = 15
	return cfg
}

// IsBeamSearch meldet, ob Beam Search aktiv ist.
func (c GenerationConfig) IsBeamSearch() bool { return c.NumBeams > 1 }

// IsMultinomial meldet, ob multinomiales Sampling aktiv ist.
func (c GenerationConfig) IsMultinomial() bool { return c.DoSample }

// IsGreedy meldet, ob deterministisch dekodiert wird.
func (c GenerationConfig) IsGreedy() bool { return !c.IsBeamSearch() && !c.DoSample }

// MaxNewTokensFor liefert das effektive Token-Limit relativ zur Promptlaenge.
func (c GenerationConfig) MaxNewTokensFor(promptLen int) int {
	if c.MaxNewTokens != maxLengthUnset {
		return c.MaxNewTokens
	}
	if c.MaxLength != maxLengthUnset {
		if n := c.MaxLength - promptLen; n > 0 {
			return n
		}
		return 0
	}
	return maxLengthUnset
}

// HasLengthLimit meldet, ob irgendein Stop-Kriterium gesetzt ist.
func (c GenerationConfig) HasLengthLimit() bool {
	return c.MaxNewTokens != maxLengthUnset || c.MaxLength != maxLengthUnset
}

// Validate prueft die Konfiguration auf innere Konsistenz.
func (c GenerationConfig) Validate() error {
	if c.MinNewTokens < 0 {
		return configErrorf("min_new_tokens", "must be >= 0, got %d", c.MinNewTokens)
	}
	if c.MaxNewTokens < 0 {
		return configErrorf("max_new_tokens", "must be >= 0, got %d", c.MaxNewTokens)
	}
	if c.MaxNewTokens != maxLengthUnset && c.MinNewTokens > c.MaxNewTokens {
		return configErrorf("min_new_tokens", "must be <= max_new_tokens (%d), got %d", c.MaxNewTokens, c.MinNewTokens)
	}
	if !c.IgnoreEOS && c.EOSTokenID < 0 && !c.HasLengthLimit() {
		return configErrorf("eos_token_id", "either eos_token_id, max_new_tokens or max_length must be set")
	}
	if c.IgnoreEOS && !c.HasLengthLimit() {
		return configErrorf("ignore_eos", "requires max_new_tokens or max_length")
	}
	if c.IsBeamSearch() {
		if c.DoSample {
			return configErrorf("do_sample", "beam search and multinomial sampling are mutually exclusive")
		}
		if c.NumBeamGroups < 1 {
			return configErrorf("num_beam_groups", "must be >= 1, got %d", c.NumBeamGroups)
		}
		if c.NumBeams%c.NumBeamGroups != 0 {
			return configErrorf("num_beam_groups", "num_beams (%d) must be divisible by num_beam_groups (%d)", c.NumBeams, c.NumBeamGroups)
		}
		if c.NumBeamGroups > 1 && c.DiversityPenalty == 0 {
			return configErrorf("diversity_penalty", "must be set when num_beam_groups > 1")
		}
		if c.NumReturnSequences > c.NumBeams {
			return configErrorf("num_return_sequences", "must be <= num_beams (%d), got %d", c.NumBeams, c.NumReturnSequences)
		}
	} else {
		if c.NumReturnSequences > 1 && !c.DoSample {
			return configErrorf("num_return_sequences", "greedy decoding supports exactly one return sequence")
		}
		if c.DiversityPenalty != 0 {
			return configErrorf("diversity_penalty", "only meaningful for grouped beam search")
		}
	}
	if c.DoSample {
		if c.Temperature <= 0 {
			return configErrorf("temperature", "must be > 0 for sampling, got %g", c.Temperature)
		}
		if c.TopP <= 0 || c.TopP > 1 {
			return configErrorf("top_p", "must be in (0, 1], got %g", c.TopP)
		}
		if c.TopK < 0 {
			return configErrorf("top_k", "must be >= 0, got %d", c.TopK)
		}
	}
	if c.RepetitionPenalty <= 0 {
		return configErrorf("repetition_penalty", "must be > 0, got %g", c.RepetitionPenalty)
	}
	if c.PresencePenalty < -2 || c.PresencePenalty > 2 {
		return configErrorf("presence_penalty", "must be in [-2, 2], got %g", c.PresencePenalty)
	}
	if c.FrequencyPenalty < -2 || c.FrequencyPenalty > 2 {
		return configErrorf("frequency_penalty", "must be in [-2, 2], got %g", c.FrequencyPenalty)
	}
	if c.NoRepeatNgramSize < 0 {
		return configErrorf("no_repeat_ngram_size", "must be >= 0, got %d", c.NoRepeatNgramSize)
	}
	return nil
}
