// blocktable.go - Block-Tabelle einer Sequenz
//
// Dieses Modul enthaelt:
// - BlockTable: geordnete Blockliste plus Fuellstand des letzten Blocks
// - Reserve/Release: Kapazitaetsverwaltung gegen den BlockStore
// - Fork/CopyOnWriteLast: geteilte Prefixe und Copy-on-Write-Klone
// - SlotMapping: Uebersetzung von Token-Positionen in Geraete-Slots
package kvcache

// BlockTable deckt die ersten len(blocks)*blockSize Token-Slots einer
// Sequenz ab. filledInLast zaehlt die belegten Slots des letzten Blocks.
type BlockTable struct {
	blockSize    int
	blocks       []*Block
	filledInLast int
}

// NewBlockTable erzeugt eine leere Tabelle.
func NewBlockTable(blockSize int) *BlockTable {
	return &BlockTable{blockSize: blockSize}
}

// Len liefert die Anzahl Blocks.
func (t *BlockTable) Len() int { return len(t.blocks) }

// Blocks liefert die Blockliste in Reihenfolge.
func (t *BlockTable) Blocks() []*Block { return t.blocks }

// Block liefert den i-ten Block.
func (t *BlockTable) Block(i int) *Block { return t.blocks[i] }

// Last liefert den letzten Block oder nil.
func (t *BlockTable) Last() *Block {
	if len(t.blocks) == 0 {
		return nil
	}
	return t.blocks[len(t.blocks)-1]
}

// FilledInLast liefert den Fuellstand des letzten Blocks.
func (t *BlockTable) FilledInLast() int { return t.filledInLast }

// IDs liefert die Block-IDs fuer den Runner.
func (t *BlockTable) IDs() []int32 {
	ids := make([]int32, len(t.blocks))
	for i, b := range t.blocks {
		ids[i] = int32(b.ID)
	}
	return ids
}

// CapacityTokens liefert die abgedeckten Token-Slots.
func (t *BlockTable) CapacityTokens() int { return len(t.blocks) * t.blockSize }

// BlocksNeeded berechnet, wie viele zusaetzliche Blocks noetig sind, damit
// totalTokens Slots abgedeckt sind.
func (t *BlockTable) BlocksNeeded(totalTokens int) int {
	need := (totalTokens + t.blockSize - 1) / t.blockSize
	if n := need - len(t.blocks); n > 0 {
		return n
	}
	return 0
}

// Reserve allokiert Blocks, bis totalTokens Slots abgedeckt sind.
func (t *BlockTable) Reserve(store *BlockStore, totalTokens int) error {
	for t.CapacityTokens() < totalTokens {
		b, err := store.Allocate()
		if err != nil {
			return err
		}
		t.blocks = append(t.blocks, b)
	}
	return nil
}

// AppendFull haengt einen bereits belegten (Prefix-Cache-)Block an.
// Der Block muss vorab retained worden sein.
func (t *BlockTable) AppendFull(b *Block) {
	t.blocks = append(t.blocks, b)
	t.filledInLast = t.blockSize
}

// Substitute ersetzt den i-ten Block durch einen Index-Treffer mit
// identischem Inhalt. Der Treffer muss vorab retained worden sein; der
// bisherige Block wird freigegeben.
func (t *BlockTable) Substitute(store *BlockStore, i int, replacement *Block) {
	old := t.blocks[i]
	t.blocks[i] = replacement
	store.Release(old)
}

// Sync setzt den Fuellstand des letzten Blocks aus der Zahl committeter Tokens.
func (t *BlockTable) Sync(usedTokens int) {
	if len(t.blocks) == 0 {
		t.filledInLast = 0
		return
	}
	t.filledInLast = usedTokens - (len(t.blocks)-1)*t.blockSize
}

// SlotForPosition uebersetzt eine Token-Position in einen Geraete-Slot.
func (t *BlockTable) SlotForPosition(p int) int32 {
	b := t.blocks[p/t.blockSize]
	return int32(b.ID*t.blockSize + p%t.blockSize)
}

// SlotMapping liefert die Slots fuer count Positionen ab start.
func (t *BlockTable) SlotMapping(start, count int) []int32 {
	slots := make([]int32, count)
	for i := range count {
		slots[i] = t.SlotForPosition(start + i)
	}
	return slots
}

// Fork erzeugt eine flache Kopie; alle Blocks werden retained.
func (t *BlockTable) Fork(store *BlockStore) *BlockTable {
	child := &BlockTable{
		blockSize:    t.blockSize,
		blocks:       make([]*Block, len(t.blocks)),
		filledInLast: t.filledInLast,
	}
	copy(child.blocks, t.blocks)
	for _, b := range t.blocks {
		store.Retain(b)
	}
	return child
}

// CopyOnWriteLast klont den letzten Block, falls er geteilt ist. Der Klon
// wird erst durch den BlockCopy-Auftrag des naechsten Forward physisch
// befuellt.
func (t *BlockTable) CopyOnWriteLast(store *BlockStore) (BlockCopy, bool, error) {
	last := t.Last()
	if last == nil || !last.Shared() {
		return BlockCopy{}, false, nil
	}
	clone, err := store.Allocate()
	if err != nil {
		return BlockCopy{}, false, err
	}
	t.blocks[len(t.blocks)-1] = clone
	store.Release(last)
	return BlockCopy{Src: int32(last.ID), Dst: int32(clone.ID)}, true, nil
}

// ReleaseTrailing gibt den letzten Block frei und meldet, ob danach noch
// Blocks verbleiben.
func (t *BlockTable) ReleaseTrailing(store *BlockStore) bool {
	n := len(t.blocks)
	if n == 0 {
		return false
	}
	store.Release(t.blocks[n-1])
	t.blocks[n-1] = nil
	t.blocks = t.blocks[:n-1]
	if len(t.blocks) > 0 {
		t.filledInLast = t.blockSize
		return true
	}
	t.filledInLast = 0
	return false
}

// ReleaseAll gibt alle Blocks frei.
func (t *BlockTable) ReleaseAll(store *BlockStore) {
	for _, b := range t.blocks {
		store.Release(b)
	}
	t.blocks = t.blocks[:0]
	t.filledInLast = 0
}
