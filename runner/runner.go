// runner.go - Schnittstelle zum Model-Runner
//
// Dieses Modul enthaelt:
// - Batch: flacher Token-Batch mit Slot-Mapping und Block-Tabellen
// - ModelRunner: Forward und physisches Block-Kopieren
// - BuildBatch: Uebersetzung eines Scheduler-Steps in einen Batch
package runner

import (
	"context"

	"github.com/steinlabs/batchkv/scheduler"
)

// Batch ist die Eingabe eines Forward-Aufrufs. Alle Token-Spalten sind
// gleich lang; SeqIndices ordnet jeden Token seiner Sequenz-Spalte in
// ContextLens und BlockTables zu.
type Batch struct {
	// InputIDs sind die Token-IDs in Batch-Reihenfolge.
	InputIDs []int32
	// PositionIDs sind die absoluten Positionen innerhalb der Sequenz.
	PositionIDs []int32
	// SlotMapping nennt fuer jeden Token den Geraete-Slot seines KV-Eintrags.
	SlotMapping []int32
	// SeqIndices nennt fuer jeden Token die Sequenz-Spalte.
	SeqIndices []int32
	// ContextLens ist die Kontextlaenge je Sequenz-Spalte nach diesem Step.
	ContextLens []int32
	// BlockTables sind die Block-IDs je Sequenz-Spalte.
	BlockTables [][]int32
	// SampleIndices sind die flachen Token-Indizes, fuer die Logits gebraucht
	// werden. Nur Sequenzen, deren Puffer nach dem Step vollstaendig
	// verarbeitet ist, sampeln.
	SampleIndices []int32
	// IsPrompt markiert einen reinen Prompt-Step.
	IsPrompt bool
}

// NumTokens liefert die Batch-Laenge.
func (b Batch) NumTokens() int { return len(b.InputIDs) }

// ModelRunner fuehrt Forward-Paesse gegen den physischen KV-Cache aus.
// Forward liefert eine Logit-Zeile je Eintrag in SampleIndices.
type ModelRunner interface {
	Forward(ctx context.Context, batch Batch) ([][]float32, error)
	// CopyBlock kopiert die KV-Eintraege eines Blocks physisch. Die
	// Kopierauftraege eines Steps laufen vor dessen Forward.
	CopyBlock(src, dst int32) error
	// VocabSize liefert die Breite der Logit-Zeilen.
	VocabSize() int
}

// SampleRef ordnet die Logit-Zeilen eines Forward ihrer Sequenz zu. Die
// Zeilen [Row, Row+Num) prognostizieren die Token-Positionen ab Pos.
type SampleRef struct {
	Seq *scheduler.Sequence
	Row int
	Num int
	Pos int
}

// BuildBatch uebersetzt einen geplanten Step in einen Batch. Sequenzen,
// deren Puffer nach dem Step vollstaendig verarbeitet ist, erhalten Logits
// fuer die Folgeposition. Mit validate kommen zusaetzlich die Zeilen fuer
// jeden noch unbestaetigten generierten Token hinzu, damit der Aufrufer den
// Puffer gegen das Modell pruefen kann.
func BuildBatch(out *scheduler.Output, validate bool) (Batch, []SampleRef) {
	b := Batch{IsPrompt: out.IsPrompt}
	var refs []SampleRef
	for col, ss := range out.Seqs {
		seq := ss.Seq
		start := seq.NumProcessed
		base := len(b.InputIDs)
		for j := start; j < start+ss.NumTokens; j++ {
			b.InputIDs = append(b.InputIDs, int32(seq.Tokens[j]))
			b.PositionIDs = append(b.PositionIDs, int32(j))
			b.SlotMapping = append(b.SlotMapping, seq.Table.SlotForPosition(j))
			b.SeqIndices = append(b.SeqIndices, int32(col))
		}
		b.ContextLens = append(b.ContextLens, int32(start+ss.NumTokens))
		b.BlockTables = append(b.BlockTables, seq.Table.IDs())
		if start+ss.NumTokens != len(seq.Tokens) {
			continue
		}
		// Zeile j prognostiziert die Position j+1; die erste interessante
		// Position ist der erste unbestaetigte generierte Token.
		firstPos := len(seq.Tokens)
		if validate {
			if p := seq.PromptLen(); p > start {
				firstPos = p
			} else {
				firstPos = start + 1
			}
		}
		ref := SampleRef{Seq: seq, Pos: firstPos}
		for j := firstPos - 1; j < start+ss.NumTokens; j++ {
			b.SampleIndices = append(b.SampleIndices, int32(base+j-start))
			ref.Num++
		}
		ref.Row = len(b.SampleIndices) - ref.Num
		refs = append(refs, ref)
	}
	return b, refs
}
