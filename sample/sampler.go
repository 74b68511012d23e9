// sampler.go - Token-Auswahl fuer Greedy und Multinomial
//
// Dieses Modul enthaelt:
// - Sampler: gekapselter Zufallsstrom plus Konfiguration
// - Next: Strafen, Filter und Auswahl fuer eine Logit-Zeile
package sample

import (
	"math/rand/v2"

	"github.com/steinlabs/batchkv/api"
)

// rngStream haelt die Sampler-Stroeme verschiedener Seeds auseinander.
const rngStream uint64 = 0x9E3779B97F4A7C15

// Sampler waehlt Tokens fuer eine Anfrage. Gleiches Seed, gleiche Folge.
type Sampler struct {
	cfg api.GenerationConfig
	rng *rand.Rand
}

// New erzeugt einen Sampler fuer die Konfiguration.
func New(cfg api.GenerationConfig) *Sampler {
	return &Sampler{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(cfg.Seed, rngStream)),
	}
}

// Next waehlt den naechsten Token. history ist der gesamte Token-Puffer der
// Sequenz, promptLen die Laenge des Prompt-Anteils. Die Logit-Zeile wird
// dabei veraendert.
func (s *Sampler) Next(logits []float32, history []int, promptLen int) (int, float32) {
	generated := history[promptLen:]
	ApplyPenalties(logits, generated, s.cfg)
	BanRepeatNgrams(logits, history, s.cfg.NoRepeatNgramSize)
	if len(generated) < s.cfg.MinNewTokens && s.cfg.EOSTokenID >= 0 {
		BanToken(logits, s.cfg.EOSTokenID)
	}

	if !s.cfg.DoSample {
		lp := LogSoftmax(logits)
		t := argmax(logits)
		return t, lp[t]
	}

	ApplyTemperature(logits, s.cfg.Temperature)
	TopK(logits, s.cfg.TopK)
	TopP(logits, s.cfg.TopP)
	lp := LogSoftmax(logits)
	t := s.draw(Softmax(logits))
	return t, lp[t]
}

// draw zieht einen Index aus der Verteilung.
func (s *Sampler) draw(probs []float32) int {
	u := s.rng.Float64()
	var acc float64
	last := 0
	for i, p := range probs {
		if p <= 0 {
			continue
		}
		acc += float64(p)
		last = i
		if u < acc {
			return i
		}
	}
	return last
}

func argmax(logits []float32) int {
	best := 0
	for i, l := range logits {
		if l > logits[best] {
			best = i
		}
	}
	return best
}
