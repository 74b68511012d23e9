// sequence.go - Einzelne Token-Sequenz einer Anfrage
//
// Dieses Modul enthaelt:
// - SequenceStatus: Zustaende einer Sequenz
// - Sequence: Token-Puffer, Verarbeitungsstand, Block-Tabelle
// - Fork: Abspaltung einer Kindsequenz mit geteilten Blocks
package scheduler

import (
	"github.com/steinlabs/batchkv/api"
	"github.com/steinlabs/batchkv/kvcache"
)

// SequenceStatus beschreibt den Zustand einer einzelnen Sequenz.
type SequenceStatus int

const (
	SeqWaiting SequenceStatus = iota
	SeqRunning
	SeqFinished
	SeqDropped
)

func (s SequenceStatus) String() string {
	switch s {
	case SeqWaiting:
		return "WAITING"
	case SeqRunning:
		return "RUNNING"
	case SeqFinished:
		return "FINISHED"
	case SeqDropped:
		return "DROPPED"
	}
	return "UNKNOWN"
}

// Sequence ist ein Token-Strom innerhalb einer SequenceGroup.
// Tokens enthaelt Prompt und generierte Tokens; NumProcessed zaehlt, wie
// viele davon committetes KV besitzen.
type Sequence struct {
	ID     uint64
	Group  *SequenceGroup
	Status SequenceStatus

	Tokens       []int
	LogProbs     []float32
	CumLogProb   float32
	NumProcessed int
	FinishReason api.FinishReason

	Table *kvcache.BlockTable

	// Ketten-Hashes der vollen Blocks, nur bei aktivem Prefix-Caching gepflegt.
	blockHashes []uint64
}

// PromptLen liefert die Laenge des urspruenglichen Prompts.
func (s *Sequence) PromptLen() int { return len(s.Group.Prompt) }

// NumGenerated liefert die Anzahl generierter Tokens.
func (s *Sequence) NumGenerated() int { return len(s.Tokens) - s.PromptLen() }

// GeneratedIDs liefert die generierten Tokens.
func (s *Sequence) GeneratedIDs() []int { return s.Tokens[s.PromptLen():] }

// Remaining liefert die Tokens ohne committetes KV.
func (s *Sequence) Remaining() int { return len(s.Tokens) - s.NumProcessed }

// Append haengt einen generierten Token samt Log-Wahrscheinlichkeit an.
func (s *Sequence) Append(token int, logProb float32) {
	s.Tokens = append(s.Tokens, token)
	s.LogProbs = append(s.LogProbs, logProb)
	s.CumLogProb += logProb
}

// Finished meldet, ob die Sequenz terminal ist.
func (s *Sequence) Finished() bool { return s.Status == SeqFinished || s.Status == SeqDropped }

// fork erzeugt eine Kindsequenz mit geteilter Block-Tabelle.
func (s *Sequence) fork(id uint64, store *kvcache.BlockStore) *Sequence {
	child := &Sequence{
		ID:           id,
		Group:        s.Group,
		Status:       s.Status,
		Tokens:       append([]int(nil), s.Tokens...),
		LogProbs:     append([]float32(nil), s.LogProbs...),
		CumLogProb:   s.CumLogProb,
		NumProcessed: s.NumProcessed,
		Table:        s.Table.Fork(store),
		blockHashes:  append([]uint64(nil), s.blockHashes...),
	}
	return child
}
