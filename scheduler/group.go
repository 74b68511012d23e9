// group.go - SequenceGroup: eine Nutzeranfrage
//
// Dieses Modul enthaelt:
// - SequenceGroup: Prompt, Konfiguration, Kindsequenzen, Status
// - Zugriff auf laufende und nicht beendete Sequenzen
// - Drop-Markierung aus fremden Goroutinen
package scheduler

import (
	"log/slog"
	"sync/atomic"

	"github.com/steinlabs/batchkv/api"
)

// SequenceGroup buendelt alle Sequenzen einer Anfrage. Multinomial- und
// Beam-Search-Anfragen spalten Kindsequenzen ab, die fuehrende Prefix-Blocks
// per Copy-on-Write teilen.
type SequenceGroup struct {
	RequestID     string
	CorrelationID string
	Ordinal       uint64

	Prompt []int
	Cfg    api.GenerationConfig

	Seqs   []*Sequence
	Status api.GenerationStatus

	// dropRequested wird vom Handle gesetzt und an der Step-Grenze beobachtet.
	dropRequested atomic.Bool
}

// RequestDrop markiert die Gruppe zum Abbruch. Threadsicher.
func (g *SequenceGroup) RequestDrop() { g.dropRequested.Store(true) }

// DropRequested liefert die Abbruch-Markierung.
func (g *SequenceGroup) DropRequested() bool { return g.dropRequested.Load() }

// RunningSeqs liefert alle laufenden Sequenzen.
func (g *SequenceGroup) RunningSeqs() []*Sequence {
	var out []*Sequence
	for _, s := range g.Seqs {
		if s.Status == SeqRunning {
			out = append(out, s)
		}
	}
	return out
}

// UnfinishedSeqs liefert alle nicht terminalen Sequenzen.
func (g *SequenceGroup) UnfinishedSeqs() []*Sequence {
	var out []*Sequence
	for _, s := range g.Seqs {
		if !s.Finished() {
			out = append(out, s)
		}
	}
	return out
}

// Finished meldet, ob alle Sequenzen terminal sind.
func (g *SequenceGroup) Finished() bool {
	for _, s := range g.Seqs {
		if !s.Finished() {
			return false
		}
	}
	return true
}

// NumProcessedTokens liefert den Verarbeitungsstand der Gruppe. Alle nicht
// terminalen Sequenzen laufen im Gleichschritt.
func (g *SequenceGroup) NumProcessedTokens() int {
	for _, s := range g.Seqs {
		if !s.Finished() {
			return s.NumProcessed
		}
	}
	return 0
}

// NumBlocksHeld liefert die Summe der Tabelleneintraege aller Sequenzen.
// Geteilte Blocks zaehlen mehrfach.
func (g *SequenceGroup) NumBlocksHeld() int {
	n := 0
	for _, s := range g.Seqs {
		if s.Table != nil {
			n += s.Table.Len()
		}
	}
	return n
}

// LogValue formatiert die Gruppe fuer slog.
func (g *SequenceGroup) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("request", g.RequestID),
		slog.Uint64("ordinal", g.Ordinal),
		slog.Int("prompt_len", len(g.Prompt)),
		slog.Int("seqs", len(g.Seqs)),
		slog.String("status", g.Status.String()),
		slog.Int("processed", g.NumProcessedTokens()),
	)
}
