// processors.go - Logit-Transformationen vor der Token-Auswahl
//
// Dieses Modul enthaelt:
// - Straf-Prozessoren: Wiederholungs-, Praesenz- und Frequenz-Strafe
// - BanRepeatNgrams: Sperre fuer n-Gramm-Wiederholungen
// - Temperatur-, Top-K- und Top-P-Filter
// - LogSoftmax: Log-Wahrscheinlichkeiten einer Logit-Zeile
package sample

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/steinlabs/batchkv/api"
)

var negInf = float32(math.Inf(-1))

// ApplyPenalties wendet die konfigurierten Strafen auf bereits erzeugte
// Tokens an. Die Wiederholungsstrafe skaliert multiplikativ je nach
// Vorzeichen des Logits; Praesenz- und Frequenz-Strafe wirken additiv.
func ApplyPenalties(logits []float32, generated []int, cfg api.GenerationConfig) {
	if cfg.RepetitionPenalty == 1 && cfg.PresencePenalty == 0 && cfg.FrequencyPenalty == 0 {
		return
	}
	counts := make(map[int]int, len(generated))
	for _, t := range generated {
		counts[t]++
	}
	for t, n := range counts {
		if t < 0 || t >= len(logits) {
			continue
		}
		if p := cfg.RepetitionPenalty; p != 1 {
			if logits[t] > 0 {
				logits[t] /= p
			} else {
				logits[t] *= p
			}
		}
		logits[t] -= cfg.PresencePenalty
		logits[t] -= cfg.FrequencyPenalty * float32(n)
	}
}

// BanRepeatNgrams sperrt jeden Token, der ein bereits vorhandenes n-Gramm
// vervollstaendigen wuerde.
func BanRepeatNgrams(logits []float32, history []int, n int) {
	if n <= 0 || len(history) < n {
		return
	}
	prefix := history[len(history)-(n-1):]
	for i := 0; i+n <= len(history); i++ {
		match := true
		for j := range n - 1 {
			if history[i+j] != prefix[j] {
				match = false
				break
			}
		}
		if match {
			if t := history[i+n-1]; t >= 0 && t < len(logits) {
				logits[t] = negInf
			}
		}
	}
}

// BanToken sperrt einen einzelnen Token, etwa EOS vor MinNewTokens.
func BanToken(logits []float32, token int) {
	if token >= 0 && token < len(logits) {
		logits[token] = negInf
	}
}

// ApplyTemperature skaliert die Logits.
func ApplyTemperature(logits []float32, t float32) {
	if t == 1 || t <= 0 {
		return
	}
	for i := range logits {
		logits[i] /= t
	}
}

// TopK behaelt die k groessten Logits und sperrt den Rest. k <= 0 laesst
// alles durch.
func TopK(logits []float32, k int) {
	if k <= 0 || k >= len(logits) {
		return
	}
	idx := sortedByLogit(logits)
	for _, i := range idx[k:] {
		logits[i] = negInf
	}
}

// TopP behaelt den kleinsten Praefix der absteigend sortierten Verteilung,
// dessen Masse p erreicht, mindestens aber den wahrscheinlichsten Token.
func TopP(logits []float32, p float32) {
	if p <= 0 || p >= 1 {
		return
	}
	idx := sortedByLogit(logits)
	probs := Softmax(logits)
	var mass float32
	cut := len(idx)
	for rank, i := range idx {
		mass += probs[i]
		if mass >= p {
			cut = rank + 1
			break
		}
	}
	for _, i := range idx[cut:] {
		logits[i] = negInf
	}
}

// Softmax liefert die normierte Verteilung einer Logit-Zeile.
func Softmax(logits []float32) []float32 {
	lse := logSumExp(logits)
	out := make([]float32, len(logits))
	for i, l := range logits {
		out[i] = float32(math.Exp(float64(l) - lse))
	}
	return out
}

// LogSoftmax liefert die Log-Wahrscheinlichkeiten einer Logit-Zeile.
func LogSoftmax(logits []float32) []float32 {
	lse := logSumExp(logits)
	out := make([]float32, len(logits))
	for i, l := range logits {
		out[i] = float32(float64(l) - lse)
	}
	return out
}

func logSumExp(logits []float32) float64 {
	x := make([]float64, len(logits))
	for i, l := range logits {
		x[i] = float64(l)
	}
	return floats.LogSumExp(x)
}

// sortedByLogit liefert die Token-Indizes absteigend nach Logit.
func sortedByLogit(logits []float32) []int {
	idx := make([]int, len(logits))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return logits[idx[a]] > logits[idx[b]]
	})
	return idx
}
