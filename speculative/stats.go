// stats.go - Annahme-Statistik des spekulativen Decodierens
//
// Dieses Modul enthaelt:
// - Histogram: Verteilung der pro Runde uebernommenen Tokens
//
// Eine Runde uebernimmt zwischen 0 und k+1 Tokens (laengstes korrektes
// Praefix plus Bonus). Das Histogramm zaehlt die Runden je Annahmezahl.
package speculative

import "gonum.org/v1/gonum/stat"

// Histogram zaehlt, wie viele Tokens die Hauptpipeline pro Runde
// uebernommen hat.
type Histogram struct {
	counts []int
}

// NewHistogram erzeugt ein Histogramm fuer Vorauslauf-Tiefe k mit den
// Klassen 0 bis k+1.
func NewHistogram(k int) *Histogram {
	return &Histogram{counts: make([]int, k+2)}
}

// Record zaehlt eine Runde mit n uebernommenen Tokens.
func (h *Histogram) Record(n int) {
	if n < 0 {
		n = 0
	}
	if n >= len(h.counts) {
		n = len(h.counts) - 1
	}
	h.counts[n]++
}

// Buckets liefert eine Kopie der Zaehler; Index ist die Annahmezahl.
func (h *Histogram) Buckets() []int {
	out := make([]int, len(h.counts))
	copy(out, h.counts)
	return out
}

// Rounds liefert die Gesamtzahl gezaehlter Runden.
func (h *Histogram) Rounds() int {
	total := 0
	for _, c := range h.counts {
		total += c
	}
	return total
}

// Mean liefert die mittlere Annahmezahl pro Runde, 0 ohne Runden.
func (h *Histogram) Mean() float64 {
	xs := make([]float64, len(h.counts))
	ws := make([]float64, len(h.counts))
	total := 0
	for i, c := range h.counts {
		xs[i] = float64(i)
		ws[i] = float64(c)
		total += c
	}
	if total == 0 {
		return 0
	}
	return stat.Mean(xs, ws)
}
