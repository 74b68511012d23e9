// sched_splitfuse_test.go - Tests fuer die Chunked Batching-Policy
package scheduler

import (
	"slices"
	"testing"
)

// TestSplitFuseChunksPrompt testet die Zerlegung eines langen Prompts in
// Budget-grosse Stuecke und das Mischen mit Generate-Schritten
func TestSplitFuseChunksPrompt(t *testing.T) {
	s := New(Config{MaxNumBatchedTokens: 8, NumKVBlocks: 16, BlockSize: 4, MaxNumSeqs: 8, DynamicSplitFuse: true})
	g0 := newTestGroup("g0", 12, true)
	g1 := newTestGroup("g1", 6, true)
	s.Add(g0)
	s.Add(g1)

	// Erstes Stueck von g0 fuellt das Budget allein; g1 muss warten
	out := runStep(t, s, 100)
	if !slices.Equal(groupIDs(out), []string{"g0"}) || out.TotalTokens != 8 || out.IsPrompt {
		t.Fatalf("Step 1 = (%v, %d Tokens, prompt=%v), erwartet nur g0 mit 8 Tokens",
			groupIDs(out), out.TotalTokens, out.IsPrompt)
	}
	seq0 := g0.Seqs[0]
	if seq0.NumProcessed != 8 || !slices.Equal(seq0.Table.IDs(), []int32{0, 1}) {
		t.Fatalf("g0 nach Step 1: processed = %d, blocks = %v, erwartet 8 und [0 1]",
			seq0.NumProcessed, seq0.Table.IDs())
	}

	// Prompt-Rest von g0 und erstes Stueck von g1 teilen sich den Batch
	out = runStep(t, s, 101)
	if !slices.Equal(groupIDs(out), []string{"g0", "g1"}) || out.TotalTokens != 8 {
		t.Fatalf("Step 2 = (%v, %d Tokens), erwartet g0 und g1 mit zusammen 8 Tokens",
			groupIDs(out), out.TotalTokens)
	}
	seq1 := g1.Seqs[0]
	if seq0.NumProcessed != 12 || seq1.NumProcessed != 4 {
		t.Fatalf("processed nach Step 2 = (%d, %d), erwartet (12, 4)",
			seq0.NumProcessed, seq1.NumProcessed)
	}

	// g0 generiert bereits, waehrend g1 seinen Prompt-Rest verarbeitet
	out = runStep(t, s, 102)
	if !slices.Equal(groupIDs(out), []string{"g0", "g1"}) || out.TotalTokens != 3 {
		t.Fatalf("Step 3 = (%v, %d Tokens), erwartet g0 mit 1 und g1 mit 2 Tokens",
			groupIDs(out), out.TotalTokens)
	}
	if got := seq0.Table.IDs(); !slices.Equal(got, []int32{0, 1, 2, 4}) {
		t.Errorf("g0 Blocks = %v, erwartet [0 1 2 4]", got)
	}
	if got := seq1.Table.IDs(); !slices.Equal(got, []int32{3, 5}) {
		t.Errorf("g1 Blocks = %v, erwartet [3 5]", got)
	}
	if seq0.NumProcessed != 13 || seq1.NumProcessed != 6 {
		t.Errorf("processed nach Step 3 = (%d, %d), erwartet (13, 6)",
			seq0.NumProcessed, seq1.NumProcessed)
	}
}
