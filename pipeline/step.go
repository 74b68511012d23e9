// step.go - Die Step-Schleife der Pipeline
//
// Dieses Modul enthaelt:
// - Step: Planen, Kopieren, Forward, Commit, Sampling, Austrag
// - Validierungspfad: Abgleich unbestaetigter Tokens gegen das Modell
// - Stop-Kriterien: EOS und Laengenlimits
//
// Ein fehlgeschlagener Forward verwirft den Step vor dem Commit; der
// Verarbeitungsstand aller Sequenzen bleibt dann unveraendert. Blocks, die
// beim Planen reserviert wurden, und Verdraengungen aus dem Planen bleiben
// bestehen.
package pipeline

import (
	"context"
	"slices"

	"github.com/steinlabs/batchkv/api"
	"github.com/steinlabs/batchkv/runner"
	"github.com/steinlabs/batchkv/sample"
	"github.com/steinlabs/batchkv/scheduler"
)

// Step fuehrt einen Planungs- und Forward-Zyklus aus.
func (p *Pipeline) Step(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.step(ctx)
}

func (p *Pipeline) step(ctx context.Context) error {
	out, err := p.sched.Schedule()
	if err != nil {
		return err
	}
	if !out.Empty() {
		batch, refs := runner.BuildBatch(out, p.validation)
		for _, cp := range out.BlockCopies {
			if err := p.run.CopyBlock(cp.Src, cp.Dst); err != nil {
				return err
			}
		}
		rows, err := p.run.Forward(ctx, batch)
		if err != nil {
			return err
		}
		p.sched.Commit(out)
		p.postprocess(refs, rows)
	}
	p.retire(out)
	return nil
}

// postprocess verteilt die Logit-Zeilen: Beam-Gruppen schrittweise ueber
// ihren Tracker, alle anderen Sequenzen ueber Sampler oder Validierung.
func (p *Pipeline) postprocess(refs []runner.SampleRef, rows [][]float32) {
	byGroup := make(map[*scheduler.SequenceGroup][]runner.SampleRef)
	var order []*scheduler.SequenceGroup
	for _, ref := range refs {
		g := ref.Seq.Group
		if _, ok := byGroup[g]; !ok {
			order = append(order, g)
		}
		byGroup[g] = append(byGroup[g], ref)
	}
	for _, g := range order {
		r, ok := p.reqs[g.RequestID]
		if !ok {
			continue
		}
		if r.beams != nil {
			p.beamStep(r, byGroup[g], rows)
			continue
		}
		for _, ref := range byGroup[g] {
			if p.validation {
				p.validate(ref, rows)
				continue
			}
			logits := rows[ref.Row]
			token, lp := r.sampler.Next(logits, ref.Seq.Tokens, ref.Seq.PromptLen())
			ref.Seq.Append(token, lp)
			p.finishSeq(ref.Seq)
		}
	}
}

// validate prueft unbestaetigte generierte Tokens gegen die Modell-Logits.
// Die erste Abweichung ersetzt den Token und verwirft den Rest des Puffers;
// stimmt alles, kommt der Bonus-Token hinzu. Abgleich und Auswahl sind
// deterministisch.
func (p *Pipeline) validate(ref runner.SampleRef, rows [][]float32) {
	seq := ref.Seq
	promptLen := seq.PromptLen()
	for j := range ref.Num {
		q := ref.Pos + j
		lp := sample.LogSoftmax(rows[ref.Row+j])
		best := argmax(lp)
		if q < len(seq.Tokens) {
			if seq.Tokens[q] == best {
				seq.LogProbs[q-promptLen] = lp[best]
				continue
			}
			gen := append(slices.Clone(seq.Tokens[promptLen:q]), best)
			lps := append(slices.Clone(seq.LogProbs[:q-promptLen]), lp[best])
			p.sched.RewindSequence(seq, gen, lps)
			p.finishSeq(seq)
			return
		}
		seq.Append(best, lp[best])
		p.finishSeq(seq)
		return
	}
}

// finishSeq wendet die Stop-Kriterien auf den letzten Token an.
func (p *Pipeline) finishSeq(seq *scheduler.Sequence) {
	cfg := seq.Group.Cfg
	last := seq.Tokens[len(seq.Tokens)-1]
	if !cfg.IgnoreEOS && cfg.EOSTokenID >= 0 && last == cfg.EOSTokenID &&
		seq.NumGenerated() >= cfg.MinNewTokens {
		p.finish(seq, api.FinishStop)
		return
	}
	if seq.NumGenerated() >= cfg.MaxNewTokensFor(seq.PromptLen()) {
		p.finish(seq, api.FinishLength)
	}
}

// finish terminiert eine Sequenz; im Chat-Modus wird ihre Block-Tabelle
// vorher fuer die naechste Runde festgehalten.
func (p *Pipeline) finish(seq *scheduler.Sequence, reason api.FinishReason) {
	if p.chat != nil && seq.Group.RequestID == p.chat.activeID {
		p.chat.pin(seq, p.sched.Store())
	}
	p.sched.FinishSequence(seq, reason)
}

// retire traegt alle terminalen Anfragen aus und aktualisiert die Metriken.
func (p *Pipeline) retire(out *scheduler.Output) {
	p.sched.RetireFinished()
	for _, r := range p.reqs {
		if r.group.Status.Terminal() {
			p.deliver(r)
		}
	}
	store := p.sched.Store()
	p.metrics = Metrics{
		Requests:          p.sched.NumWaiting() + p.sched.NumRunning(),
		ScheduledRequests: len(out.Groups),
		CacheUsage:        1 - float64(store.NumFree())/float64(store.NumBlocks()),
	}
}

func argmax(xs []float32) int {
	best := 0
	for i, x := range xs {
		if x > xs[best] {
			best = i
		}
	}
	return best
}
