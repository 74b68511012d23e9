// handle.go - Aufruferseitiges Handle einer Anfrage
//
// Dieses Modul enthaelt:
// - Handle: gepufferter Ergebniskanal plus Abbruch-Markierung
// - Read/Back/ReadAll: nicht blockierender, blockierender und sammelnder
//   Zugriff auf das Ergebnis
package pipeline

import (
	"github.com/steinlabs/batchkv/api"
	"github.com/steinlabs/batchkv/scheduler"
)

// Handle gehoert dem Aufrufer einer Anfrage. Das Ergebnis kommt genau
// einmal; danach ist der Kanal geschlossen.
type Handle struct {
	requestID string
	group     *scheduler.SequenceGroup
	ch        chan api.GenerationResult
}

func newHandle(id string, g *scheduler.SequenceGroup) *Handle {
	return &Handle{requestID: id, group: g, ch: make(chan api.GenerationResult, 1)}
}

// RequestID liefert die Anfrage-ID.
func (h *Handle) RequestID() string { return h.requestID }

// Read liefert das Ergebnis, falls es schon vorliegt.
func (h *Handle) Read() (api.GenerationResult, bool) {
	select {
	case res, ok := <-h.ch:
		return res, ok
	default:
		return api.GenerationResult{}, false
	}
}

// Back blockiert, bis das Ergebnis vorliegt. Die Step-Schleife muss dazu in
// einer anderen Goroutine laufen.
func (h *Handle) Back() (api.GenerationResult, bool) {
	res, ok := <-h.ch
	return res, ok
}

// ReadAll sammelt alle Ergebnisse bis zum Kanalschluss.
func (h *Handle) ReadAll() []api.GenerationResult {
	var out []api.GenerationResult
	for res := range h.ch {
		out = append(out, res)
	}
	return out
}

// Drop markiert die Anfrage zum Abbruch. Der Scheduler beobachtet die
// Markierung an der naechsten Step-Grenze.
func (h *Handle) Drop() { h.group.RequestDrop() }

func (h *Handle) put(res api.GenerationResult) {
	h.ch <- res
	close(h.ch)
}
