// generate.go - Synchroner Komfortpfad
//
// Dieses Modul enthaelt:
// - Generate: Anfragen aufnehmen, Steps treiben, Ergebnisse einsammeln
//
// Im Chat-Modus erweitert der Aufruf den Gespraechsverlauf; genau ein Prompt
// pro Runde.
package pipeline

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/steinlabs/batchkv/api"
)

// Generate verarbeitet die Prompts bis zum Abschluss und liefert die
// Ergebnisse in Eingabereihenfolge.
func (p *Pipeline) Generate(ctx context.Context, prompts [][]int, cfgs []api.GenerationConfig) ([]api.GenerationResult, error) {
	if len(prompts) != len(cfgs) {
		return nil, fmt.Errorf("pipeline: %d prompts but %d configs", len(prompts), len(cfgs))
	}

	p.mu.Lock()
	chatting := p.chat != nil
	var turn []int
	if chatting {
		if len(prompts) != 1 {
			p.mu.Unlock()
			return nil, fmt.Errorf("pipeline: chat mode takes one prompt per turn, got %d", len(prompts))
		}
		turn = append(slices.Clone(p.chat.history), prompts[0]...)
		prompts = [][]int{turn}
	}
	p.mu.Unlock()

	handles := make([]*Handle, len(prompts))
	for i := range prompts {
		h, err := p.AddRequest(uuid.NewString(), prompts[i], cfgs[i])
		if err != nil {
			for _, prev := range handles[:i] {
				prev.Drop()
			}
			return nil, err
		}
		handles[i] = h
	}
	if chatting {
		p.mu.Lock()
		if p.chat != nil {
			p.chat.activeID = handles[0].RequestID()
		}
		p.mu.Unlock()
	}

	results := make([]api.GenerationResult, len(handles))
	got := make([]bool, len(handles))
	remaining := len(handles)
	for i, h := range handles {
		if res, ok := h.Read(); ok {
			results[i] = res
			got[i] = true
			remaining--
		}
	}
	for remaining > 0 {
		if err := p.Step(ctx); err != nil {
			return nil, err
		}
		for i, h := range handles {
			if got[i] {
				continue
			}
			if res, ok := h.Read(); ok {
				results[i] = res
				got[i] = true
				remaining--
			}
		}
	}

	if chatting {
		p.mu.Lock()
		if p.chat != nil {
			p.chat.activeID = ""
			if len(results[0].Outputs) > 0 {
				p.chat.history = append(turn, results[0].Outputs[0].TokenIDs...)
			}
		}
		p.mu.Unlock()
	}
	return results, nil
}
