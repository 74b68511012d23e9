// sched_blocks.go - Blockplanung, Commit und Sequenz-Operationen
//
// Dieses Modul enthaelt:
// - seqAdvance: geplanter Token-Fortschritt einer Sequenz
// - advanceCost/applyAdvance: Blockbedarf berechnen und reservieren
// - Commit: Verarbeitungsstand und Ketten-Hashes nach erfolgreichem Forward
// - restorePrompt: Wiederverwendung indizierter Prompt-Blocks
// - FinishSequence/ForkSequence: Terminierung und Beam-Abspaltung
package scheduler

import (
	"github.com/steinlabs/batchkv/api"
	"github.com/steinlabs/batchkv/kvcache"
	"github.com/steinlabs/batchkv/logutil"
)

// seqAdvance plant k weitere Tokens fuer eine Sequenz.
type seqAdvance struct {
	seq *Sequence
	k   int
}

// promptAdvance plant fuer jede nicht terminale Sequenz alle offenen Tokens.
// Nach voller Preemption zaehlen bereits generierte Tokens zum Prompt-Anteil.
func promptAdvance(g *SequenceGroup) []seqAdvance {
	var adv []seqAdvance
	for _, seq := range g.UnfinishedSeqs() {
		if k := seq.Remaining(); k > 0 {
			adv = append(adv, seqAdvance{seq: seq, k: k})
		}
	}
	return adv
}

// chunkedAdvance plant fuer jede Sequenz die offenen Tokens, hoechstens maxK
// pro Sequenz. Im eingeschwungenen Generate-Zustand ist das ein Token; nach
// partieller Preemption oder bei Prompt-Chunks entsprechend mehr.
func chunkedAdvance(seqs []*Sequence, maxK int) []seqAdvance {
	var adv []seqAdvance
	for _, seq := range seqs {
		k := seq.Remaining()
		if k > maxK {
			k = maxK
		}
		if k > 0 {
			adv = append(adv, seqAdvance{seq: seq, k: k})
		}
	}
	return adv
}

func totalTokens(adv []seqAdvance) int {
	n := 0
	for _, a := range adv {
		n += a.k
	}
	return n
}

// advanceCost liefert den Blockbedarf eines geplanten Fortschritts. Ein
// geteilter, ungehashter letzter Block zaehlt als zusaetzlicher Klon.
func advanceCost(adv []seqAdvance) int {
	n := 0
	for _, a := range adv {
		n += a.seq.Table.BlocksNeeded(a.seq.NumProcessed + a.k)
		if needsCopyOnWrite(a.seq) {
			n++
		}
	}
	return n
}

// needsCopyOnWrite meldet, ob der naechste Schreibzugriff der Sequenz ihren
// letzten Block klonen muss. Gehashte Blocks sind unveraenderlich geteilt und
// empfangen nur identische Rekomputations-Schreibzugriffe; sie werden nie
// geklont.
func needsCopyOnWrite(seq *Sequence) bool {
	last := seq.Table.Last()
	if last == nil || !last.Shared() {
		return false
	}
	if _, hashed := last.Hash(); hashed {
		return false
	}
	return seq.NumProcessed < seq.Table.CapacityTokens()
}

// applyAdvance reserviert die Blocks eines geplanten Fortschritts. Der
// Aufrufer hat den Bedarf vorab gegen die Freiliste geprueft; Fehler hier
// sind interne Inkonsistenzen.
func (s *Scheduler) applyAdvance(adv []seqAdvance) ([]kvcache.BlockCopy, error) {
	var copies []kvcache.BlockCopy
	for _, a := range adv {
		if needsCopyOnWrite(a.seq) {
			cp, ok, err := a.seq.Table.CopyOnWriteLast(s.store)
			if err != nil {
				return copies, err
			}
			if ok {
				copies = append(copies, cp)
			}
		}
		if err := a.seq.Table.Reserve(s.store, a.seq.NumProcessed+a.k); err != nil {
			return copies, err
		}
	}
	return copies, nil
}

// Commit verbucht einen erfolgreichen Forward: der Verarbeitungsstand jeder
// geplanten Sequenz rueckt um ihre Token-Zahl vor, und voll gewordene Blocks
// werden im Prefix-Index registriert. Nach einem fehlgeschlagenen Forward
// unterbleibt der Aufruf; der Stand bleibt dann unveraendert, die beim
// Planen reservierten Blocks bleiben den Sequenzen zugeordnet.
func (s *Scheduler) Commit(out *Output) {
	for _, ss := range out.Seqs {
		seq := ss.Seq
		seq.NumProcessed += ss.NumTokens
		seq.Table.Sync(seq.NumProcessed)
		if s.prefix != nil {
			s.registerFullBlocks(seq)
		}
	}
}

// registerFullBlocks haengt die Ketten-Hashes aller neu voll gewordenen
// Blocks an und registriert sie im Index. Liefert der Index einen fremden
// Block mit gleichem Hash, ersetzt dieser den eigenen.
func (s *Scheduler) registerFullBlocks(seq *Sequence) {
	bs := s.cfg.BlockSize
	for i := len(seq.blockHashes); (i+1)*bs <= seq.NumProcessed; i++ {
		var parent uint64
		if i > 0 {
			parent = seq.blockHashes[i-1]
		}
		h := kvcache.ChainHash(parent, seq.Tokens[i*bs:(i+1)*bs])
		got, replaced := s.prefix.MatchOrRegister(seq.Table.Block(i), h)
		if replaced {
			seq.Table.Substitute(s.store, i, got)
		}
		seq.blockHashes = append(seq.blockHashes, h)
	}
}

// restorePrompt uebernimmt fuehrende volle Prompt-Blocks aus dem Index.
// Mindestens der letzte Prompt-Token bleibt offen, damit der naechste Step
// Logits fuer die erste Generation liefert; sein Schreibzugriff in einen
// geteilten gehashten Block ist eine identische Rekomputation.
func (s *Scheduler) restorePrompt(seq *Sequence) {
	bs := s.cfg.BlockSize
	promptLen := seq.PromptLen()
	var parent uint64
	matched := 0
	for (matched+1)*bs <= promptLen {
		h := kvcache.ChainHash(parent, seq.Tokens[matched*bs:(matched+1)*bs])
		b, ok, err := s.prefix.Restore(h)
		if err != nil {
			logutil.Trace("prefix restore failed", "hash", h, "error", err)
			break
		}
		if !ok {
			break
		}
		seq.Table.AppendFull(b)
		seq.blockHashes = append(seq.blockHashes, h)
		parent = h
		matched++
	}
	if matched == 0 {
		return
	}
	processed := matched * bs
	if processed >= promptLen {
		processed = promptLen - 1
	}
	seq.NumProcessed = processed
	seq.Table.Sync(processed)
	logutil.Trace("prompt blocks restored",
		"group", seq.Group.RequestID, "blocks", matched, "processed", processed)
}

// FinishSequence terminiert eine Sequenz und gibt ihre Blocks frei.
func (s *Scheduler) FinishSequence(seq *Sequence, reason api.FinishReason) {
	seq.Status = SeqFinished
	seq.FinishReason = reason
	seq.Table.ReleaseAll(s.store)
	seq.blockHashes = seq.blockHashes[:0]
}

// RewindSequence ersetzt den generierten Teil einer Sequenz durch tokens.
// Das gemeinsame Praefix bleibt verarbeitet; dahinter liegende Blocks werden
// wie bei partieller Verdraengung zurueckgebaut. Liefert die Anzahl neu
// eingefuegter und entfernter Tokens.
func (s *Scheduler) RewindSequence(seq *Sequence, tokens []int, logProbs []float32) (inserted, removed int) {
	promptLen := seq.PromptLen()
	old := seq.Tokens[promptLen:]
	n := 0
	for n < len(old) && n < len(tokens) && old[n] == tokens[n] {
		n++
	}
	removed = len(old) - n
	inserted = len(tokens) - n

	seq.Tokens = append(seq.Tokens[:promptLen+n], tokens[n:]...)
	seq.LogProbs = append(seq.LogProbs[:n], logProbs[n:]...)
	seq.CumLogProb = 0
	for _, lp := range seq.LogProbs {
		seq.CumLogProb += lp
	}
	if seq.NumProcessed > promptLen+n {
		seq.NumProcessed = promptLen + n
	}

	bs := s.cfg.BlockSize
	needed := (seq.NumProcessed + bs - 1) / bs
	for seq.Table.Len() > needed {
		seq.Table.ReleaseTrailing(s.store)
	}
	if h := seq.NumProcessed / bs; len(seq.blockHashes) > h {
		seq.blockHashes = seq.blockHashes[:h]
	}
	seq.Table.Sync(seq.NumProcessed)
	return inserted, removed
}

// ForkSequence spaltet eine laufende Kindsequenz ab. Tabelle und Blocks
// werden geteilt; der naechste Schreibzugriff des Kindes oder des Elters
// klont den letzten Block per Copy-on-Write.
func (s *Scheduler) ForkSequence(parent *Sequence) *Sequence {
	child := parent.fork(s.nextSeqID, s.store)
	s.nextSeqID++
	parent.Group.Seqs = append(parent.Group.Seqs, child)
	return child
}
