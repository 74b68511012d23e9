// prefix.go - Inhaltsadressierter Prefix-Index
//
// Dieses Modul enthaelt:
// - PrefixCache: Index von Ketten-Hashes auf volle Blocks
// - ChainHash: Hash aus Parent-Hash und Token-IDs eines Blocks
// - MatchOrRegister/Restore: Wiederverwendung voller Blocks
//
// Zwei Blocks kollidieren nur, wenn Inhalt und gesamte Vorgeschichte
// uebereinstimmen, weil der Parent-Hash in die Kette eingeht.
package kvcache

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/steinlabs/batchkv/logutil"
)

// hashSeed haelt die Ketten-Hashes von rohen xxhash-Werten getrennt.
const hashSeed uint64 = 0x9E3779B97F4A7C15

// PrefixCache bildet Ketten-Hashes auf Block-IDs ab. Eintraege verschwinden
// implizit, sobald der Referenzzaehler eines Blocks auf null faellt.
type PrefixCache struct {
	store *BlockStore
	index *orderedmap.OrderedMap[uint64, *Block]

	spill      *SpillStore
	exportBlk  func(id int) ([]byte, error)
	importBlk  func(id int, payload []byte) error
}

// NewPrefixCache erzeugt den Index und haengt sich an die Eviction des Stores.
func NewPrefixCache(store *BlockStore) *PrefixCache {
	p := &PrefixCache{
		store: store,
		index: orderedmap.New[uint64, *Block](),
	}
	store.onEvict = p.evict
	return p
}

// AttachSpill verbindet den Index mit einer komprimierten Ablage fuer
// verdraengte Blocks. export/import lesen bzw. schreiben die KV-Bytes eines
// Blocks im Runner.
func (p *PrefixCache) AttachSpill(spill *SpillStore, export func(int) ([]byte, error), imp func(int, []byte) error) {
	p.spill = spill
	p.exportBlk = export
	p.importBlk = imp
}

// Len liefert die Anzahl indizierter Blocks.
func (p *PrefixCache) Len() int { return p.index.Len() }

// ChainHash bildet den Hash eines vollen Blocks aus Parent-Hash und Tokens.
// Fuer den ersten Block einer Sequenz ist parent 0.
func ChainHash(parent uint64, tokens []int) uint64 {
	var buf [8]byte
	d := xxhash.New()
	binary.LittleEndian.PutUint64(buf[:], hashSeed)
	d.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], parent)
	d.Write(buf[:])
	for _, t := range tokens {
		binary.LittleEndian.PutUint64(buf[:], uint64(t))
		d.Write(buf[:])
	}
	return d.Sum64()
}

// Lookup sucht einen Hash im Index.
func (p *PrefixCache) Lookup(hash uint64) (*Block, bool) {
	b, ok := p.index.Get(hash)
	return b, ok
}

// MatchOrRegister verarbeitet einen soeben voll gewordenen Block. Liefert
// der Index einen anderen Block mit gleichem Hash, wird dieser retained und
// zurueckgegeben; der Aufrufer ersetzt damit den aktuellen Block. Andernfalls
// wird der Block selbst registriert.
func (p *PrefixCache) MatchOrRegister(b *Block, hash uint64) (*Block, bool) {
	if found, ok := p.index.Get(hash); ok && found != b {
		p.store.Retain(found)
		logutil.Trace("prefix hit on full block", "hash", hash, "block", found.ID)
		return found, true
	}
	p.store.markHashed(b, hash)
	p.index.Set(hash, b)
	return b, false
}

// Restore sucht einen Hash erst im Index, dann in der Spill-Ablage. Ein
// Index-Treffer wird retained; ein Spill-Treffer wird in einen frischen Block
// importiert und registriert. Der zurueckgegebene Block traegt in beiden
// Faellen eine Referenz fuer den Aufrufer.
func (p *PrefixCache) Restore(hash uint64) (*Block, bool, error) {
	if b, ok := p.index.Get(hash); ok {
		p.store.Retain(b)
		return b, true, nil
	}
	if p.spill == nil || p.importBlk == nil {
		return nil, false, nil
	}
	payload, ok, err := p.spill.Get(hash)
	if err != nil || !ok {
		return nil, false, err
	}
	b, err := p.store.Allocate()
	if err != nil {
		// Kein freier Block: der Treffer bleibt in der Ablage liegen.
		return nil, false, nil
	}
	if err := p.importBlk(b.ID, payload); err != nil {
		p.store.Release(b)
		return nil, false, err
	}
	p.store.markHashed(b, hash)
	p.index.Set(hash, b)
	logutil.Trace("prefix restored from spill", "hash", hash, "block", b.ID)
	return b, true, nil
}

// evict entfernt einen Block aus dem Index, sobald seine letzte Referenz
// faellt. Bei angeschlossener Spill-Ablage werden die KV-Bytes vorher
// gesichert.
func (p *PrefixCache) evict(b *Block) {
	if p.spill != nil && p.exportBlk != nil {
		if payload, err := p.exportBlk(b.ID); err == nil {
			if err := p.spill.Put(b.hash, payload); err != nil {
				logutil.Trace("spill write failed", "hash", b.hash, "error", err)
			}
		}
	}
	p.index.Delete(b.hash)
}
