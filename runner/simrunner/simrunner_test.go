// simrunner_test.go - Unit Tests fuer den Referenz-Runner
package simrunner

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/steinlabs/batchkv/api"
	"github.com/steinlabs/batchkv/runner"
)

// promptBatch baut einen Step, der tokens in die Slots der gegebenen Blocks
// schreibt und die Zeile des letzten Tokens sampelt. Blockgroesse 4.
func promptBatch(tokens []int32, blocks []int32) runner.Batch {
	b := runner.Batch{
		InputIDs:      tokens,
		ContextLens:   []int32{int32(len(tokens))},
		BlockTables:   [][]int32{blocks},
		SampleIndices: []int32{int32(len(tokens) - 1)},
		IsPrompt:      true,
	}
	for p := range tokens {
		b.PositionIDs = append(b.PositionIDs, int32(p))
		b.SlotMapping = append(b.SlotMapping, blocks[p/4]*4+int32(p%4))
		b.SeqIndices = append(b.SeqIndices, 0)
	}
	return b
}

// TestForwardDeterministic testet, dass Logits eine reine Funktion des
// Kontexts sind
func TestForwardDeterministic(t *testing.T) {
	ctx := context.Background()
	r1 := New(4, 4, 16)
	r2 := New(4, 4, 16)

	batch := promptBatch([]int32{1, 2, 3}, []int32{0})
	first, err := r1.Forward(ctx, batch)
	if err != nil {
		t.Fatalf("Forward() Fehler: %v", err)
	}
	if len(first) != 1 || len(first[0]) != 16 {
		t.Fatalf("Forward() Form = %dx%d, erwartet 1x16", len(first), len(first[0]))
	}

	again, _ := r1.Forward(ctx, batch)
	other, _ := r2.Forward(ctx, batch)
	if !slices.Equal(first[0], again[0]) || !slices.Equal(first[0], other[0]) {
		t.Error("gleicher Kontext liefert unterschiedliche Logits")
	}

	changed, _ := r2.Forward(ctx, promptBatch([]int32{1, 2, 4}, []int32{1}))
	if slices.Equal(first[0], changed[0]) {
		t.Error("anderer Kontext liefert identische Logits")
	}
}

// TestBiasShiftsLogits testet den Draft-Versatz und die exakte
// Uebereinstimmung bei Bias 0
func TestBiasShiftsLogits(t *testing.T) {
	ctx := context.Background()
	batch := promptBatch([]int32{7, 8, 9, 10}, []int32{0})

	base, _ := New(2, 4, 8).Forward(ctx, batch)
	draft, _ := New(2, 4, 8).Forward(ctx, batch)
	if !slices.Equal(base[0], draft[0]) {
		t.Error("Draft mit Bias 0 weicht vom Haupt-Runner ab")
	}

	biased := New(2, 4, 8)
	biased.Bias = 1
	shifted, _ := biased.Forward(ctx, batch)
	if slices.Equal(base[0], shifted[0]) {
		t.Error("Bias 1 veraendert die Logits nicht")
	}
}

// TestCopyBlockAndSpillRoundtrip testet die physischen Blockoperationen
func TestCopyBlockAndSpillRoundtrip(t *testing.T) {
	ctx := context.Background()
	r := New(4, 4, 8)
	if _, err := r.Forward(ctx, promptBatch([]int32{5, 6, 7, 8}, []int32{0})); err != nil {
		t.Fatalf("Forward() Fehler: %v", err)
	}

	if err := r.CopyBlock(0, 1); err != nil {
		t.Fatalf("CopyBlock() Fehler: %v", err)
	}
	src, err := r.ExportBlock(0)
	if err != nil {
		t.Fatalf("ExportBlock() Fehler: %v", err)
	}
	dst, _ := r.ExportBlock(1)
	if !slices.Equal(src, dst) {
		t.Error("kopierter Block weicht vom Original ab")
	}

	if err := r.ImportBlock(2, src); err != nil {
		t.Fatalf("ImportBlock() Fehler: %v", err)
	}
	restored, _ := r.ExportBlock(2)
	if !slices.Equal(src, restored) {
		t.Error("importierter Block weicht vom Export ab")
	}

	if err := r.CopyBlock(0, 9); err == nil {
		t.Error("CopyBlock() ausserhalb des Pools liefert keinen Fehler")
	}
	if err := r.ImportBlock(0, src[:3]); err == nil {
		t.Error("ImportBlock() mit falscher Payload-Laenge liefert keinen Fehler")
	}
}

// TestFailNext testet die Fehlerinjektion fuer Forward
func TestFailNext(t *testing.T) {
	ctx := context.Background()
	r := New(2, 4, 8)
	r.FailNext(2)

	batch := promptBatch([]int32{1, 2}, []int32{0})
	for i := range 2 {
		_, err := r.Forward(ctx, batch)
		var runtimeErr *api.ModelRuntimeError
		if !errors.As(err, &runtimeErr) {
			t.Fatalf("Forward() %d = %v, erwartet ModelRuntimeError", i+1, err)
		}
	}
	if _, err := r.Forward(ctx, batch); err != nil {
		t.Errorf("Forward() nach Injektion = %v, erwartet Erfolg", err)
	}
}
