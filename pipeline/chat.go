// chat.go - Chat-Modus mit erhaltenem KV ueber Rundengrenzen
//
// Dieses Modul enthaelt:
// - chatState: Gespraechsverlauf plus festgehaltene Block-Tabelle
// - StartChat/FinishChat: Beginn und Ende eines Gespraechs
//
// Die festgehaltene Tabelle traegt eine Referenz auf jeden Block der letzten
// Runde. Dadurch bleiben die gehashten Blocks im Prefix-Index, und die
// naechste Runde uebernimmt den Verlauf ohne Neuberechnung.
package pipeline

import (
	"slices"

	"github.com/steinlabs/batchkv/kvcache"
	"github.com/steinlabs/batchkv/scheduler"
)

type chatState struct {
	history  []int
	activeID string
	table    *kvcache.BlockTable
}

// pin haelt die Block-Tabelle der abgeschlossenen Runde fest und gibt die
// der vorigen Runde frei.
func (c *chatState) pin(seq *scheduler.Sequence, store *kvcache.BlockStore) {
	if c.table != nil {
		c.table.ReleaseAll(store)
	}
	c.table = seq.Table.Fork(store)
}

// StartChat beginnt ein Gespraech. systemTokens bilden den Anfang des
// Verlaufs; nachfolgende Generate-Aufrufe verlaengern ihn.
func (p *Pipeline) StartChat(systemTokens []int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chat = &chatState{history: slices.Clone(systemTokens)}
}

// FinishChat beendet das Gespraech und gibt die festgehaltenen Blocks frei.
func (p *Pipeline) FinishChat() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.chat == nil {
		return
	}
	if p.chat.table != nil {
		p.chat.table.ReleaseAll(p.sched.Store())
	}
	p.chat = nil
}
