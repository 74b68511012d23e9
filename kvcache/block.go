// block.go - KV-Block und Kopierauftraege
//
// Dieses Modul enthaelt:
// - Block: fester Cache-Abschnitt mit Referenzzaehler und Inhalts-Hash
// - BlockCopy: physischer Kopierauftrag fuer Copy-on-Write-Klone
package kvcache

// Block ist ein Abschnitt des KV-Caches fuer blockSize Token-Positionen.
// Refcnt und Hash werden ausschliesslich vom BlockStore verwaltet.
type Block struct {
	ID     int
	refcnt int

	// Inhalts-Hash, nur gesetzt wenn der Block voll und unveraenderlich ist.
	hash   uint64
	hashed bool
}

// RefCount liefert den aktuellen Referenzzaehler.
func (b *Block) RefCount() int { return b.refcnt }

// Shared meldet, ob mehr als eine Referenz auf den Block existiert.
func (b *Block) Shared() bool { return b.refcnt > 1 }

// Hash liefert den Inhalts-Hash und ob er gesetzt ist.
func (b *Block) Hash() (uint64, bool) { return b.hash, b.hashed }

// BlockCopy beschreibt einen Klon, den der Model-Runner vor dem naechsten
// Forward physisch ausfuehren muss.
type BlockCopy struct {
	Src int32
	Dst int32
}
