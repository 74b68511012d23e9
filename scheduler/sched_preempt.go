// sched_preempt.go - Verdraengung laufender Gruppen
//
// Dieses Modul enthaelt:
// - ensureFree: Platz schaffen fuer einen geplanten Gruppen-Fortschritt
// - preemptPartial: rundenweise Freigabe der letzten Blocks
// - preemptFull: vollstaendige Freigabe und Rueckkehr in die Warteschlange
//
// Opferwahl: die zuletzt eingetroffene laufende Gruppe ausserhalb des
// geplanten Batches. Reicht das nicht, verlaesst die zuletzt eingetroffene
// geplante Gruppe den Batch, behaelt aber ihre Blocks und wird so zum
// Kandidaten der naechsten Runde.
package scheduler

import (
	"log/slog"
)

// ensureFree schafft genug freie Blocks fuer den Fortschritt adv der Gruppe
// g. Liefert false, wenn am Ende nur noch g selbst uebrig war und voll
// verdraengt wurde; g steht dann wieder in der Warteschlange.
func (s *Scheduler) ensureFree(g *SequenceGroup, adv []seqAdvance, out *Output, planned map[*SequenceGroup]bool) bool {
	for {
		needed := advanceCost(adv)
		if needed <= s.store.NumFree() {
			return true
		}
		if victim := s.latestRunning(g, planned); victim != nil {
			s.preempt(victim, needed)
			continue
		}
		if evictee := s.latestPlanned(g, planned); evictee != nil {
			delete(planned, evictee)
			out.removeGroup(evictee)
			slog.Debug("group left batch to free capacity", "group", evictee)
			continue
		}
		s.preemptFull(g)
		return false
	}
}

// latestRunning liefert die laufende Gruppe mit dem hoechsten Ordinal, die
// weder g noch Teil des geplanten Batches ist.
func (s *Scheduler) latestRunning(g *SequenceGroup, planned map[*SequenceGroup]bool) *SequenceGroup {
	var victim *SequenceGroup
	for _, c := range s.running {
		if c == g || planned[c] {
			continue
		}
		if victim == nil || c.Ordinal > victim.Ordinal {
			victim = c
		}
	}
	return victim
}

// latestPlanned liefert die geplante Gruppe mit dem hoechsten Ordinal.
func (s *Scheduler) latestPlanned(g *SequenceGroup, planned map[*SequenceGroup]bool) *SequenceGroup {
	var evictee *SequenceGroup
	for c := range planned {
		if c == g {
			continue
		}
		if evictee == nil || c.Ordinal > evictee.Ordinal {
			evictee = c
		}
	}
	return evictee
}

// preempt verkleinert victim, bis needed freie Blocks existieren oder die
// Gruppe vollstaendig verdraengt ist.
func (s *Scheduler) preempt(victim *SequenceGroup, needed int) {
	if victim.Cfg.CanUsePartialPreemption {
		if s.preemptPartial(victim, needed) {
			return
		}
	}
	s.preemptFull(victim)
}

// preemptPartial gibt rundenweise den letzten Block jeder laufenden Sequenz
// frei und setzt den Verarbeitungsstand auf die verbleibende Kapazitaet
// zurueck. Alle Sequenzen der Gruppe schrumpfen gleich weit, damit geteilte
// Prefix-Blocks erst mit der letzten Referenz frei werden. Liefert false,
// wenn stattdessen voll verdraengt werden muss: wenn nur noch ein Block pro
// Sequenz steht, oder wenn der Rueckstand im Prompt-exklusiven Modus unter
// die Promptlaenge fiele.
func (s *Scheduler) preemptPartial(victim *SequenceGroup, needed int) bool {
	bs := s.cfg.BlockSize
	for s.store.NumFree() < needed {
		seqs := victim.RunningSeqs()
		for _, seq := range seqs {
			if seq.Table.Len() <= 1 {
				return false
			}
			if !s.cfg.DynamicSplitFuse && (seq.Table.Len()-1)*bs < seq.PromptLen() {
				return false
			}
		}
		for _, seq := range seqs {
			seq.Table.ReleaseTrailing(s.store)
		}
		for _, seq := range seqs {
			if cap := seq.Table.CapacityTokens(); seq.NumProcessed > cap {
				seq.NumProcessed = cap
			}
			if n := seq.NumProcessed / bs; len(seq.blockHashes) > n {
				seq.blockHashes = seq.blockHashes[:n]
			}
			seq.Table.Sync(seq.NumProcessed)
		}
		slog.Debug("group partially preempted",
			"group", victim, "free", s.store.NumFree(), "needed", needed)
	}
	return true
}

// preemptFull gibt alle Blocks der Gruppe frei und reiht sie nach Ordinal
// wieder in die Warteschlange ein. Generierte Tokens bleiben im Puffer; die
// Wiederaufnahme rechnet Prompt und Generiertes gemeinsam neu.
func (s *Scheduler) preemptFull(victim *SequenceGroup) {
	for _, seq := range victim.Seqs {
		if seq.Finished() {
			continue
		}
		seq.Table.ReleaseAll(s.store)
		seq.blockHashes = seq.blockHashes[:0]
		seq.NumProcessed = 0
		seq.Status = SeqWaiting
	}
	s.removeRunning(victim)
	s.requeueWaiting(victim)
	slog.Debug("group fully preempted", "group", victim, "free", s.store.NumFree())
}
