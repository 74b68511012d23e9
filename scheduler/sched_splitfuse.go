// sched_splitfuse.go - Chunked Batching-Policy (Dynamic Split-Fuse)
//
// Dieses Modul enthaelt:
// - scheduleSplitFuse: laufende Gruppen zuerst, dann wartende Chunks
//
// Prompts werden in Budget-grosse Stuecke zerlegt und mit Generate-Schritten
// im selben Batch gemischt. Laufende Gruppen duerfen verdraengen; Aufnahmen
// aus der Warteschlange nicht.
package scheduler

import (
	"log/slog"
	"slices"
)

func (s *Scheduler) scheduleSplitFuse() (*Output, error) {
	out := &Output{}
	planned := make(map[*SequenceGroup]bool)

	for _, g := range slices.Clone(s.running) {
		if !s.isRunning(g) {
			continue
		}
		maxK := s.chunkBudget(g.RunningSeqs(), out)
		if maxK == 0 {
			continue
		}
		adv := chunkedAdvance(g.RunningSeqs(), maxK)
		if len(adv) == 0 {
			continue
		}
		if !s.ensureFree(g, adv, out, planned) {
			continue
		}
		copies, err := s.applyAdvance(adv)
		if err != nil {
			return nil, err
		}
		out.BlockCopies = append(out.BlockCopies, copies...)
		planned[g] = true
		out.addGroup(g, adv)
	}

	numSeqs := s.numRunningSeqs()
	for len(s.waiting) > 0 {
		g := s.waiting[0]
		maxK := s.chunkBudget(g.UnfinishedSeqs(), out)
		if maxK == 0 {
			break
		}
		adv := chunkedAdvance(g.UnfinishedSeqs(), maxK)
		if len(adv) == 0 {
			break
		}
		if numSeqs+len(adv) > s.cfg.MaxNumSeqs {
			break
		}
		if advanceCost(adv) > s.store.NumFree() {
			break
		}
		copies, err := s.applyAdvance(adv)
		if err != nil {
			return nil, err
		}
		out.BlockCopies = append(out.BlockCopies, copies...)
		s.waiting = s.waiting[1:]
		s.running = append(s.running, g)
		for _, a := range adv {
			a.seq.Status = SeqRunning
		}
		numSeqs += len(adv)
		out.addGroup(g, adv)
		slog.Debug("prompt chunk admitted", "group", g, "tokens", totalTokens(adv))
	}

	logStep(out)
	return out, nil
}

// chunkBudget liefert das Token-Limit je Sequenz, wenn alle Sequenzen der
// Gruppe gleich weit vorruecken sollen.
func (s *Scheduler) chunkBudget(seqs []*Sequence, out *Output) int {
	if len(seqs) == 0 {
		return 0
	}
	return (s.cfg.MaxNumBatchedTokens - out.TotalTokens) / len(seqs)
}
