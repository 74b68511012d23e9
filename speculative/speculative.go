// speculative.go - Koordinator fuer spekulatives Decodieren
//
// Dieses Modul enthaelt:
// - Pipeline: Entwurfs- und Hauptpipeline unter einem Koordinator
// - Generate: Entwurfsrunden fahren, Puffer validieren, Ergebnis einsammeln
//
// Der Entwurf laeuft dem Hauptmodell bis zu k Tokens voraus. Die
// Hauptpipeline prueft den Puffer in einem Forward und uebernimmt das
// laengste korrekte Praefix plus einen Bonus-Token. Beide Pipelines werden
// nach jeder Runde auf den bestaetigten Stand gebracht.
package speculative

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/steinlabs/batchkv/api"
	"github.com/steinlabs/batchkv/pipeline"
)

// Pipeline koordiniert eine Entwurfs- und eine Hauptpipeline. Die
// Validierung ist deterministisch; nur Greedy-Konfigurationen sind zulaessig.
type Pipeline struct {
	draft *pipeline.Pipeline
	main  *pipeline.Pipeline
	k     int
	hist  *Histogram
}

// New verbindet die beiden Pipelines. k ist die maximale Vorauslauf-Tiefe
// des Entwurfs pro Runde.
func New(draft, main *pipeline.Pipeline, k int) (*Pipeline, error) {
	if k < 1 {
		return nil, fmt.Errorf("speculative: lookahead must be at least 1, got %d", k)
	}
	main.SetValidationMode(true)
	return &Pipeline{draft: draft, main: main, k: k, hist: NewHistogram(k)}, nil
}

// Stats liefert das Histogramm der pro Runde uebernommenen Tokens.
func (s *Pipeline) Stats() *Histogram { return s.hist }

// Generate verarbeitet einen Prompt bis zum Abschluss.
func (s *Pipeline) Generate(ctx context.Context, prompt []int, cfg api.GenerationConfig) (api.GenerationResult, error) {
	if !cfg.IsGreedy() {
		return api.GenerationResult{}, fmt.Errorf("speculative: only greedy decoding is supported")
	}

	id := uuid.NewString()
	mainHandle, err := s.main.AddRequest(id, prompt, cfg)
	if err != nil {
		return api.GenerationResult{}, err
	}
	draftHandle, err := s.draft.AddRequest(id, prompt, cfg)
	if err != nil {
		mainHandle.Drop()
		s.main.Step(ctx)
		return api.GenerationResult{}, err
	}

	// Das Handle liefert sein Ergebnis genau einmal; draftDone haelt fest,
	// dass der Entwurf terminal ist, nachdem der Kanal gelesen wurde.
	draftDone := false
	draftFinished := func() bool {
		if !draftDone {
			if _, ok := draftHandle.Read(); ok {
				draftDone = true
			}
		}
		return draftDone
	}
	retireDraft := func() {
		if draftFinished() {
			return
		}
		draftHandle.Drop()
		s.draft.Step(ctx)
		draftDone = true
	}

	for {
		if res, ok := mainHandle.Read(); ok {
			retireDraft()
			return res, nil
		}

		confirmed := s.generated(s.main, id)

		// Entwurf bis zu k Tokens ueber den bestaetigten Stand treiben.
		for range s.k {
			if draftFinished() {
				break
			}
			gen, ok := s.draft.GeneratedSequences(id)
			if !ok || len(gen) != 1 {
				break
			}
			if len(gen[0]) >= len(confirmed)+s.k {
				break
			}
			if err := s.draft.Step(ctx); err != nil {
				mainHandle.Drop()
				s.main.Step(ctx)
				return api.GenerationResult{}, err
			}
		}

		proposal := s.generated(s.draft, id)
		if len(proposal) > len(confirmed) {
			if _, _, err := s.main.UpdateGeneratedSequence(id, proposal, zeros(len(proposal))); err != nil {
				return api.GenerationResult{}, err
			}
		}

		if err := s.main.Step(ctx); err != nil {
			retireDraft()
			return api.GenerationResult{}, err
		}

		accepted := s.generated(s.main, id)
		if res, ok := mainHandle.Read(); ok {
			if len(res.Outputs) > 0 {
				accepted = res.Outputs[0].TokenIDs
			}
			s.hist.Record(len(accepted) - len(confirmed))
			retireDraft()
			return res, nil
		}
		s.hist.Record(len(accepted) - len(confirmed))

		// Entwurf auf den bestaetigten Stand zuruecksetzen. Die LogProbs des
		// Entwurfs sind fuer die Auswahl bedeutungslos.
		if !draftFinished() {
			if _, _, err := s.draft.UpdateGeneratedSequence(id, accepted, zeros(len(accepted))); err != nil {
				return api.GenerationResult{}, err
			}
		}
	}
}

// generated liefert die generierten Tokens der einzigen Sequenz oder nil.
func (s *Pipeline) generated(p *pipeline.Pipeline, id string) []int {
	gen, ok := p.GeneratedSequences(id)
	if !ok || len(gen) != 1 {
		return nil
	}
	return gen[0]
}

func zeros(n int) []float32 { return make([]float32, n) }
