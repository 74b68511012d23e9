// beam.go - Beam-Verwaltung einer Anfrage
//
// Dieses Modul enthaelt:
// - beamTracker: fertige Hypothesen und Abbruchkriterien einer Gruppe
// - beamStep: Abgleich der Beam-Vorschlaege mit den Sequenzen der Gruppe
//   (Fork, Weiterfuehrung, Beschneidung)
// - results: Rangfolge der Rueckgabesequenzen nach Laengennormierung
package pipeline

import (
	"slices"
	"sort"

	"github.com/steinlabs/batchkv/api"
	"github.com/steinlabs/batchkv/runner"
	"github.com/steinlabs/batchkv/sample"
	"github.com/steinlabs/batchkv/scheduler"
)

// hypothesis ist eine abgeschlossene Rueckgabekandidatin.
type hypothesis struct {
	tokens   []int
	logProbs []float32
	cum      float32
	reason   api.FinishReason
}

// beamTracker sammelt die fertigen Hypothesen einer Beam-Gruppe.
type beamTracker struct {
	cfg      api.GenerationConfig
	finished []hypothesis
}

func newBeamTracker(cfg api.GenerationConfig) *beamTracker {
	return &beamTracker{cfg: cfg}
}

// beamStep verarbeitet die Logit-Zeilen aller laufenden Beams der Gruppe.
// Mehrfach fortgesetzte Eltern werden geforkt, nicht fortgesetzte
// beschnitten; mit EOS endende Vorschlaege wandern in die Hypothesenliste.
func (p *Pipeline) beamStep(r *request, refs []runner.SampleRef, rows [][]float32) {
	cfg := r.group.Cfg
	t := r.beams

	seqs := make([]*scheduler.Sequence, len(refs))
	beamRows := make([][]float32, len(refs))
	cums := make([]float32, len(refs))
	histories := make([][]int, len(refs))
	for i, ref := range refs {
		seqs[i] = ref.Seq
		beamRows[i] = rows[ref.Row]
		cums[i] = ref.Seq.CumLogProb
		histories[i] = ref.Seq.Tokens
	}
	promptLen := seqs[0].PromptLen()

	groups := sample.BeamStep(cfg, beamRows, cums, histories, promptLen)

	byParent := make(map[int][]sample.Candidate)
	for _, gr := range groups {
		for _, c := range gr.Finished {
			parent := seqs[c.Parent]
			t.finished = append(t.finished, hypothesis{
				tokens:   append(slices.Clone(parent.GeneratedIDs()), c.Token),
				logProbs: append(slices.Clone(parent.LogProbs), c.LogProb),
				cum:      parent.CumLogProb + c.LogProb,
				reason:   api.FinishStop,
			})
		}
		for _, c := range gr.Running {
			byParent[c.Parent] = append(byParent[c.Parent], c)
		}
	}

	// Forks muessen vor dem ersten Append des Elters passieren, damit die
	// Kindkopie den alten Puffer traegt.
	for i, seq := range seqs {
		cands := byParent[i]
		if len(cands) == 0 {
			p.finish(seq, api.FinishDropped)
			continue
		}
		clones := make([]*scheduler.Sequence, len(cands)-1)
		for j := range clones {
			clones[j] = p.sched.ForkSequence(seq)
		}
		seq.Append(cands[0].Token, cands[0].LogProb)
		for j, clone := range clones {
			clone.Append(cands[j+1].Token, cands[j+1].LogProb)
		}
	}

	if t.done(r.group) {
		for _, seq := range r.group.RunningSeqs() {
			p.finish(seq, api.FinishDropped)
		}
		return
	}

	limit := cfg.MaxNewTokensFor(promptLen)
	for _, seq := range r.group.RunningSeqs() {
		if seq.NumGenerated() >= limit {
			t.finished = append(t.finished, hypothesis{
				tokens:   slices.Clone(seq.GeneratedIDs()),
				logProbs: slices.Clone(seq.LogProbs),
				cum:      seq.CumLogProb,
				reason:   api.FinishLength,
			})
			p.finish(seq, api.FinishLength)
		}
	}
}

// done prueft die Early-Stopping-Kriterien gegen die laufenden Beams.
func (t *beamTracker) done(g *scheduler.SequenceGroup) bool {
	if len(t.finished) < t.cfg.NumBeams {
		return false
	}
	switch t.cfg.EarlyStopping {
	case api.EarlyStoppingTrue:
		return true
	case api.EarlyStoppingNever:
		return false
	}
	running := g.RunningSeqs()
	if len(running) == 0 {
		return true
	}
	best := running[0]
	for _, seq := range running[1:] {
		if seq.CumLogProb > best.CumLogProb {
			best = seq
		}
	}
	bound := sample.FinalScore(best.CumLogProb, best.NumGenerated(), t.cfg.LengthPenalty)
	return bound <= t.worstKept()
}

// worstKept liefert den schlechtesten Score unter den besten NumBeams
// fertigen Hypothesen.
func (t *beamTracker) worstKept() float32 {
	scores := make([]float32, len(t.finished))
	for i, h := range t.finished {
		scores[i] = sample.FinalScore(h.cum, len(h.tokens), t.cfg.LengthPenalty)
	}
	sort.Slice(scores, func(a, b int) bool { return scores[a] > scores[b] })
	return scores[t.cfg.NumBeams-1]
}

// results ordnet die Hypothesen nach normiertem Score und liefert die
// besten NumReturnSequences.
func (t *beamTracker) results() []api.GenerationOutput {
	cands := slices.Clone(t.finished)
	sort.SliceStable(cands, func(a, b int) bool {
		sa := sample.FinalScore(cands[a].cum, len(cands[a].tokens), t.cfg.LengthPenalty)
		sb := sample.FinalScore(cands[b].cum, len(cands[b].tokens), t.cfg.LengthPenalty)
		return sa > sb
	})
	n := t.cfg.NumReturnSequences
	if n > len(cands) {
		n = len(cands)
	}
	out := make([]api.GenerationOutput, 0, n)
	for _, h := range cands[:n] {
		out = append(out, api.GenerationOutput{
			TokenIDs:     h.tokens,
			LogProbs:     h.logProbs,
			Score:        sample.FinalScore(h.cum, len(h.tokens), t.cfg.LengthPenalty),
			FinishReason: h.reason,
		})
	}
	return out
}
