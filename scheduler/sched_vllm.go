// sched_vllm.go - Prompt-exklusive Batching-Policy
//
// Dieses Modul enthaelt:
// - scheduleVLLM: Prompt-Phase vor Generate-Phase, nie gemischt
// - schedulePrompts: Aufnahme ganzer Prompts in Eingangsreihenfolge
// - scheduleGenerate: ein offener Schritt je laufender Gruppe, mit
//   Verdraengung bei Blockmangel
package scheduler

import (
	"log/slog"
	"slices"
)

func (s *Scheduler) scheduleVLLM() (*Output, error) {
	out, err := s.schedulePrompts()
	if err != nil || !out.Empty() {
		return out, err
	}
	return s.scheduleGenerate()
}

// schedulePrompts nimmt wartende Gruppen in Eingangsreihenfolge auf. Jede
// Gruppe wird mit allen offenen Tokens am Stueck eingeplant; die erste
// Gruppe, die nicht passt, beendet die Aufnahme. Verdraengung findet hier
// nicht statt. Eine Rekomputation, die das Step-Budget allein sprengt, wird
// als IGNORED beendet.
func (s *Scheduler) schedulePrompts() (*Output, error) {
	out := &Output{IsPrompt: true}
	numSeqs := s.numRunningSeqs()
	for len(s.waiting) > 0 {
		g := s.waiting[0]
		adv := promptAdvance(g)
		tokens := totalTokens(adv)
		if tokens > s.cfg.MaxNumBatchedTokens {
			s.ignoreGroup(g)
			slog.Warn("request ignored, recomputation exceeds step budget",
				"group", g, "tokens", tokens)
			continue
		}
		if tokens > s.cfg.MaxNumBatchedTokens-out.TotalTokens {
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
		slog.Debug("prompt admitted", "group", g, "tokens", tokens)
	}
	return out, nil
}

// scheduleGenerate plant fuer jede laufende Gruppe die offenen Tokens ein.
// Reichen die freien Blocks nicht, werden spaeter eingetroffene Gruppen
// verdraengt. Eine Gruppe, deren Fortschritt nicht mehr ins Restbudget
// passt, wartet auf den naechsten Step.
func (s *Scheduler) scheduleGenerate() (*Output, error) {
	out := &Output{}
	planned := make(map[*SequenceGroup]bool)
	for _, g := range slices.Clone(s.running) {
		if !s.isRunning(g) {
			continue
		}
		adv := chunkedAdvance(g.RunningSeqs(), s.cfg.MaxNumBatchedTokens)
		if len(adv) == 0 {
			continue
		}
		tokens := totalTokens(adv)
		if tokens > s.cfg.MaxNumBatchedTokens-out.TotalTokens {
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
	logStep(out)
	return out, nil
}

func logStep(out *Output) {
	if out.Empty() {
		return
	}
	slog.Debug("step planned",
		"groups", len(out.Groups),
		"tokens", out.TotalTokens,
		"prompt", out.IsPrompt,
		"copies", len(out.BlockCopies))
}
