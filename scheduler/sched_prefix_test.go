// sched_prefix_test.go - Tests fuer Prefix-Wiederverwendung und Copy-on-Write
package scheduler

import (
	"slices"
	"testing"
)

// TestPrefixReuse testet die Uebernahme indizierter Prompt-Blocks bei Add
// und den offenen letzten Prompt-Token
func TestPrefixReuse(t *testing.T) {
	s := New(Config{MaxNumBatchedTokens: 16, NumKVBlocks: 8, BlockSize: 4, MaxNumSeqs: 8, EnablePrefixCaching: true})
	g0 := newTestGroup("g0", 8, true)
	s.Add(g0)
	runStep(t, s, 100) // registriert die Blocks 0 und 1 im Index

	g1 := newTestGroup("g1", 8, true)
	s.Add(g1)
	seq1 := g1.Seqs[0]
	if seq1.NumProcessed != 7 || !slices.Equal(seq1.Table.IDs(), []int32{0, 1}) {
		t.Fatalf("Restore bei Add: processed = %d, blocks = %v, erwartet 7 und [0 1]",
			seq1.NumProcessed, seq1.Table.IDs())
	}

	// Nur der letzte Prompt-Token ist offen; der Schreibzugriff in den
	// geteilten gehashten Block kommt ohne Klon aus
	out := runStep(t, s, 101)
	if !out.IsPrompt || out.TotalTokens != 1 || !slices.Equal(groupIDs(out), []string{"g1"}) {
		t.Fatalf("Step 2 = (prompt=%v, %d Tokens, %v), erwartet Prompt-Step fuer g1 mit 1 Token",
			out.IsPrompt, out.TotalTokens, groupIDs(out))
	}
	if len(out.BlockCopies) != 0 {
		t.Errorf("BlockCopies = %d, erwartet keine fuer gehashte Blocks", len(out.BlockCopies))
	}

	// Generate: jede Gruppe bekommt ihren eigenen dritten Block
	out = runStep(t, s, 102)
	if !slices.Equal(groupIDs(out), []string{"g0", "g1"}) || len(out.BlockCopies) != 0 {
		t.Fatalf("Step 3 = (%v, %d Kopien), erwartet beide Gruppen ohne Kopien",
			groupIDs(out), len(out.BlockCopies))
	}
	if got := g0.Seqs[0].Table.IDs(); !slices.Equal(got, []int32{0, 1, 2}) {
		t.Errorf("g0 Blocks = %v, erwartet [0 1 2]", got)
	}
	if got := seq1.Table.IDs(); !slices.Equal(got, []int32{0, 1, 3}) {
		t.Errorf("g1 Blocks = %v, erwartet [0 1 3]", got)
	}
	if got := g0.Seqs[0].Table.Block(0).RefCount(); got != 2 {
		t.Errorf("Block 0 RefCount = %d, erwartet 2", got)
	}
	if s.Prefix().Len() != 2 {
		t.Errorf("Prefix-Index Len = %d, erwartet 2", s.Prefix().Len())
	}
	if s.Store().NumFree() != 4 {
		t.Errorf("NumFree = %d, erwartet 4", s.Store().NumFree())
	}
}

// TestForkCopyOnWrite testet den Klon des halbvollen letzten Blocks nach
// einer Beam-Abspaltung
func TestForkCopyOnWrite(t *testing.T) {
	s := New(Config{MaxNumBatchedTokens: 16, NumKVBlocks: 8, BlockSize: 4, MaxNumSeqs: 8})
	g := newTestGroup("g", 4, true)
	s.Add(g)

	runStep(t, s, 100) // Prompt auf Block 0
	runStep(t, s, 101) // Block 1 kommt hinzu
	runStep(t, s, 102) // Stand 6: Block 1 ist halbvoll
	parent := g.Seqs[0]
	if parent.NumProcessed != 6 || parent.Table.Len() != 2 {
		t.Fatalf("Vorbereitung: processed = %d, blocks = %d, erwartet 6 und 2",
			parent.NumProcessed, parent.Table.Len())
	}
	child := s.ForkSequence(parent)

	// Der Elter klont den geteilten halbvollen Block; das Kind schreibt
	// danach in einen ungeteilten Block und braucht keinen zweiten Klon
	out := runStep(t, s, 103)
	if len(out.BlockCopies) != 1 {
		t.Fatalf("BlockCopies = %d, erwartet genau einen Klon", len(out.BlockCopies))
	}
	if cp := out.BlockCopies[0]; cp.Src != 1 || cp.Dst != 2 {
		t.Errorf("BlockCopy = {%d %d}, erwartet {1 2}", cp.Src, cp.Dst)
	}
	if got := parent.Table.IDs(); !slices.Equal(got, []int32{0, 2}) {
		t.Errorf("Elter Blocks = %v, erwartet [0 2]", got)
	}
	if got := child.Table.IDs(); !slices.Equal(got, []int32{0, 1}) {
		t.Errorf("Kind Blocks = %v, erwartet [0 1]", got)
	}
	if !parent.Table.Block(0).Shared() {
		t.Error("Prompt-Block nach Copy-on-Write nicht mehr geteilt")
	}
	if parent.NumProcessed != 7 || child.NumProcessed != 7 {
		t.Errorf("processed = (%d, %d), erwartet je 7", parent.NumProcessed, child.NumProcessed)
	}
	if s.Store().NumFree() != 5 {
		t.Errorf("NumFree = %d, erwartet 5", s.Store().NumFree())
	}
}
