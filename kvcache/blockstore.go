// blockstore.go - Pool aller KV-Blocks
//
// Dieses Modul enthaelt:
// - BlockStore: Allokation, Retain/Release, Freiliste
// - Eviction-Hook fuer den Prefix-Index
//
// Die Freiliste ist ein aufsteigend sortiertes Set; Allocate liefert immer
// die kleinste freie Block-ID. Tests verlassen sich auf diese Ordnung.
package kvcache

import (
	"fmt"

	"github.com/emirpasic/gods/v2/sets/treeset"

	"github.com/steinlabs/batchkv/api"
	"github.com/steinlabs/batchkv/logutil"
)

// BlockStore besitzt den festen Pool von numBlocks Blocks.
type BlockStore struct {
	blocks []Block
	free   *treeset.Set[int]

	// onEvict wird aufgerufen, bevor ein gehashter Block in die Freiliste
	// zurueckkehrt. Der PrefixCache traegt sich hier ein.
	onEvict func(*Block)
}

// NewBlockStore erzeugt einen Pool mit numBlocks freien Blocks.
func NewBlockStore(numBlocks int) *BlockStore {
	s := &BlockStore{
		blocks: make([]Block, numBlocks),
		free:   treeset.New[int](),
	}
	for i := range s.blocks {
		s.blocks[i].ID = i
		s.free.Add(i)
	}
	return s
}

// NumBlocks liefert die Gesamtgroesse des Pools.
func (s *BlockStore) NumBlocks() int { return len(s.blocks) }

// NumFree liefert die Anzahl freier Blocks.
func (s *BlockStore) NumFree() int { return s.free.Size() }

// Allocate entnimmt den freien Block mit der kleinsten ID, refcnt = 1.
func (s *BlockStore) Allocate() (*Block, error) {
	it := s.free.Iterator()
	if !it.First() {
		return nil, api.ErrOutOfBlocks
	}
	id := it.Value()
	s.free.Remove(id)

	b := &s.blocks[id]
	b.refcnt = 1
	b.hash = 0
	b.hashed = false
	logutil.Trace("block allocated", "id", id, "free", s.free.Size())
	return b, nil
}

// Retain erhoeht den Referenzzaehler.
func (s *BlockStore) Retain(b *Block) {
	if b.refcnt <= 0 {
		panic(fmt.Sprintf("kvcache: retain of free block %d", b.ID))
	}
	b.refcnt++
}

// Release verringert den Referenzzaehler. Faellt er auf null, wird der Block
// aus dem Prefix-Index entfernt und kehrt in die Freiliste zurueck.
func (s *BlockStore) Release(b *Block) {
	if b.refcnt <= 0 {
		panic(fmt.Sprintf("kvcache: double release of block %d", b.ID))
	}
	b.refcnt--
	if b.refcnt > 0 {
		return
	}
	if b.hashed && s.onEvict != nil {
		s.onEvict(b)
	}
	b.hashed = false
	b.hash = 0
	s.free.Add(b.ID)
	logutil.Trace("block released", "id", b.ID, "free", s.free.Size())
}

// markHashed setzt den Inhalts-Hash eines vollen Blocks.
func (s *BlockStore) markHashed(b *Block, hash uint64) {
	b.hash = hash
	b.hashed = true
}
