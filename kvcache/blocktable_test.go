// blocktable_test.go - Unit Tests fuer die Block-Tabelle
package kvcache

import (
	"slices"
	"testing"
)

// TestReserveCoversTokens testet Kapazitaet und Blockbedarf
func TestReserveCoversTokens(t *testing.T) {
	store := NewBlockStore(8)
	table := NewBlockTable(4)

	if n := table.BlocksNeeded(9); n != 3 {
		t.Errorf("BlocksNeeded(9) = %d, erwartet 3", n)
	}
	if err := table.Reserve(store, 9); err != nil {
		t.Fatalf("Reserve() Fehler: %v", err)
	}
	if table.Len() != 3 {
		t.Errorf("Len() = %d, erwartet 3", table.Len())
	}
	if table.CapacityTokens() != 12 {
		t.Errorf("CapacityTokens() = %d, erwartet 12", table.CapacityTokens())
	}
	if n := table.BlocksNeeded(12); n != 0 {
		t.Errorf("BlocksNeeded(12) = %d, erwartet 0", n)
	}

	// Reserve ist idempotent, solange die Kapazitaet reicht
	if err := table.Reserve(store, 10); err != nil {
		t.Fatalf("Reserve() Fehler: %v", err)
	}
	if table.Len() != 3 {
		t.Errorf("Len() nach zweitem Reserve = %d, erwartet 3", table.Len())
	}
}

// TestSlotMapping testet die Uebersetzung von Positionen in Geraete-Slots
func TestSlotMapping(t *testing.T) {
	store := NewBlockStore(8)
	table := NewBlockTable(4)
	if err := table.Reserve(store, 8); err != nil {
		t.Fatalf("Reserve() Fehler: %v", err)
	}

	// Blocks 0 und 1, Blockgroesse 4: Position 5 liegt in Block 1, Offset 1
	if got := table.SlotForPosition(5); got != 5 {
		t.Errorf("SlotForPosition(5) = %d, erwartet 5", got)
	}
	want := []int32{2, 3, 4, 5}
	if got := table.SlotMapping(2, 4); !slices.Equal(got, want) {
		t.Errorf("SlotMapping(2, 4) = %v, erwartet %v", got, want)
	}
}

// TestForkSharesBlocks testet, dass Fork alle Blocks teilt
func TestForkSharesBlocks(t *testing.T) {
	store := NewBlockStore(8)
	table := NewBlockTable(4)
	if err := table.Reserve(store, 8); err != nil {
		t.Fatalf("Reserve() Fehler: %v", err)
	}
	table.Sync(6)

	child := table.Fork(store)
	if child.Len() != 2 {
		t.Fatalf("Fork() Len = %d, erwartet 2", child.Len())
	}
	if child.FilledInLast() != 2 {
		t.Errorf("Fork() FilledInLast = %d, erwartet 2", child.FilledInLast())
	}
	for i := range 2 {
		if table.Block(i) != child.Block(i) {
			t.Errorf("Block %d nicht geteilt", i)
		}
		if !table.Block(i).Shared() {
			t.Errorf("Block %d nicht als geteilt markiert", i)
		}
	}

	child.ReleaseAll(store)
	for i := range 2 {
		if table.Block(i).Shared() {
			t.Errorf("Block %d nach ReleaseAll des Kinds noch geteilt", i)
		}
	}
}

// TestCopyOnWriteLast testet den Klon des geteilten letzten Blocks
func TestCopyOnWriteLast(t *testing.T) {
	store := NewBlockStore(8)
	table := NewBlockTable(4)
	if err := table.Reserve(store, 8); err != nil {
		t.Fatalf("Reserve() Fehler: %v", err)
	}

	// Ungeteilt: kein Klon noetig
	if _, did, err := table.CopyOnWriteLast(store); err != nil || did {
		t.Fatalf("CopyOnWriteLast() ungeteilt = (%v, %v), erwartet kein Klon", did, err)
	}

	child := table.Fork(store)
	oldLast := child.Last().ID
	cp, did, err := child.CopyOnWriteLast(store)
	if err != nil || !did {
		t.Fatalf("CopyOnWriteLast() geteilt = (%v, %v), erwartet Klon", did, err)
	}
	if cp.Src != int32(oldLast) {
		t.Errorf("BlockCopy.Src = %d, erwartet %d", cp.Src, oldLast)
	}
	if cp.Dst != int32(child.Last().ID) {
		t.Errorf("BlockCopy.Dst = %d, erwartet %d", cp.Dst, child.Last().ID)
	}
	if child.Last() == table.Last() {
		t.Error("letzter Block nach Copy-on-Write noch geteilt")
	}
	if table.Last().Shared() {
		t.Error("alter letzter Block traegt noch eine Fremdreferenz")
	}
}

// TestReleaseTrailing testet den blockweisen Rueckbau
func TestReleaseTrailing(t *testing.T) {
	store := NewBlockStore(8)
	table := NewBlockTable(4)
	if err := table.Reserve(store, 8); err != nil {
		t.Fatalf("Reserve() Fehler: %v", err)
	}
	table.Sync(7)

	if !table.ReleaseTrailing(store) {
		t.Fatal("ReleaseTrailing() = false, erwartet verbleibende Blocks")
	}
	if table.Len() != 1 || table.FilledInLast() != 4 {
		t.Errorf("nach ReleaseTrailing: Len = %d, FilledInLast = %d, erwartet 1 und 4",
			table.Len(), table.FilledInLast())
	}
	if table.ReleaseTrailing(store) {
		t.Error("ReleaseTrailing() = true, erwartet leere Tabelle")
	}
	if store.NumFree() != 8 {
		t.Errorf("NumFree() = %d, erwartet 8", store.NumFree())
	}
}

// TestSubstitute testet den Tausch gegen einen Index-Treffer
func TestSubstitute(t *testing.T) {
	store := NewBlockStore(4)
	table := NewBlockTable(4)
	if err := table.Reserve(store, 4); err != nil {
		t.Fatalf("Reserve() Fehler: %v", err)
	}
	old := table.Block(0)

	// Der Treffer traegt nach Allocate bereits die Referenz der Tabelle
	hit, _ := store.Allocate()
	table.Substitute(store, 0, hit)
	if table.Block(0) != hit {
		t.Error("Substitute() hat den Block nicht ersetzt")
	}
	if old.RefCount() != 0 {
		t.Errorf("alter Block RefCount = %d, erwartet 0", old.RefCount())
	}
}
