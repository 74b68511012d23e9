// pipeline.go - Continuous-Batching-Pipeline: Aufnahme und Verwaltung
//
// Dieses Modul enthaelt:
// - Pipeline: Scheduler, Runner und aktive Anfragen unter einem Mutex
// - AddRequest: Validierung, Admission-Schranke, Einreihung
// - Metrics: Kennzahlen des letzten Steps
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/steinlabs/batchkv/api"
	"github.com/steinlabs/batchkv/envconfig"
	"github.com/steinlabs/batchkv/runner"
	"github.com/steinlabs/batchkv/sample"
	"github.com/steinlabs/batchkv/scheduler"
)

// ErrQueueFull signalisiert, dass die Admission-Schranke erreicht ist.
var ErrQueueFull = errors.New("pipeline: request queue is full")

// Metrics sind die nach jedem Step aktualisierten Kennzahlen.
type Metrics struct {
	// Requests ist die Anzahl wartender und laufender Anfragen.
	Requests int
	// ScheduledRequests ist die Anzahl der im letzten Step geplanten Gruppen.
	ScheduledRequests int
	// CacheUsage ist der belegte Anteil des Blockpools in [0, 1].
	CacheUsage float64
}

// request buendelt den Pipeline-Zustand einer Anfrage.
type request struct {
	id      string
	group   *scheduler.SequenceGroup
	handle  *Handle
	sampler *sample.Sampler
	beams   *beamTracker
}

// Pipeline treibt Scheduler und Model-Runner aus einer Step-Schleife.
// Alle exportierten Methoden sind threadsicher.
type Pipeline struct {
	mu    sync.Mutex
	sched *scheduler.Scheduler
	run   runner.ModelRunner
	sem   *semaphore.Weighted

	reqs    map[string]*request
	metrics Metrics

	// validation laesst Forward-Paesse Logits fuer unbestaetigte generierte
	// Tokens liefern; der Puffer wird dann gegen das Modell geprueft.
	validation bool

	chat *chatState
}

// New erzeugt eine Pipeline. Die Admission-Schranke kommt aus der Umgebung.
func New(cfg scheduler.Config, run runner.ModelRunner) *Pipeline {
	return &Pipeline{
		sched: scheduler.New(cfg),
		run:   run,
		sem:   semaphore.NewWeighted(int64(envconfig.MaxQueue())),
		reqs:  make(map[string]*request),
	}
}

// Scheduler liefert den inneren Scheduler, etwa zum Anschluss der
// Spill-Ablage an den Prefix-Index.
func (p *Pipeline) Scheduler() *scheduler.Scheduler { return p.sched }

// AddRequest validiert die Konfiguration und reiht die Anfrage ein. Passt
// der Prompt niemals in Cache oder Budget, traegt das Ergebnis sofort den
// Status IGNORED.
func (p *Pipeline) AddRequest(id string, prompt []int, cfg api.GenerationConfig) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !p.sem.TryAcquire(1) {
		return nil, ErrQueueFull
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.reqs[id]; ok {
		p.sem.Release(1)
		return nil, fmt.Errorf("pipeline: duplicate request id %q", id)
	}

	g := &scheduler.SequenceGroup{
		RequestID:     id,
		CorrelationID: uuid.NewString(),
		Prompt:        slices.Clone(prompt),
		Cfg:           cfg,
	}
	p.sched.Add(g)

	h := newHandle(id, g)
	r := &request{id: id, group: g, handle: h, sampler: sample.New(cfg)}
	if cfg.IsBeamSearch() {
		r.beams = newBeamTracker(cfg)
	}
	if g.Status.Terminal() {
		p.deliver(r)
		return h, nil
	}
	p.reqs[id] = r
	slog.Info("request accepted",
		"request", id, "correlation", g.CorrelationID, "prompt_len", len(prompt))
	return h, nil
}

// HasNonFinishedRequests meldet, ob noch Anfragen warten oder laufen.
func (p *Pipeline) HasNonFinishedRequests() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sched.HasUnfinished()
}

// Metrics liefert die Kennzahlen des letzten Steps.
func (p *Pipeline) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

// SetValidationMode schaltet die Puffer-Validierung um; der spekulative
// Koordinator aktiviert sie auf der Haupt-Pipeline.
func (p *Pipeline) SetValidationMode(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.validation = on
}

// GeneratedSequences liefert die generierten Tokens jeder nicht terminalen
// Sequenz der Anfrage.
func (p *Pipeline) GeneratedSequences(requestID string) ([][]int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.reqs[requestID]
	if !ok {
		return nil, false
	}
	var out [][]int
	for _, seq := range r.group.UnfinishedSeqs() {
		out = append(out, slices.Clone(seq.GeneratedIDs()))
	}
	return out, true
}

// UpdateGeneratedSequence ersetzt den generierten Teil der Anfrage durch
// tokens. Entfernte Tokens geben ihr KV ueber den partiellen Rueckbau frei.
// Nur Anfragen mit genau einer Sequenz sind zulaessig.
func (p *Pipeline) UpdateGeneratedSequence(requestID string, tokens []int, logProbs []float32) (inserted, removed int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.reqs[requestID]
	if !ok {
		return 0, 0, fmt.Errorf("pipeline: unknown request id %q", requestID)
	}
	seqs := r.group.UnfinishedSeqs()
	if len(seqs) != 1 {
		return 0, 0, fmt.Errorf("pipeline: request %q has %d live sequences, want 1", requestID, len(seqs))
	}
	inserted, removed = p.sched.RewindSequence(seqs[0], tokens, logProbs)
	return inserted, removed, nil
}

// deliver schliesst eine Anfrage ab: Ergebnis senden, Kanal schliessen,
// Admission-Schranke freigeben.
func (p *Pipeline) deliver(r *request) {
	res := api.GenerationResult{RequestID: r.id, Status: r.group.Status}
	if r.beams != nil {
		res.Outputs = r.beams.results()
	} else {
		for _, seq := range r.group.Seqs {
			res.Outputs = append(res.Outputs, api.GenerationOutput{
				TokenIDs:     slices.Clone(seq.GeneratedIDs()),
				LogProbs:     slices.Clone(seq.LogProbs),
				Score:        seq.CumLogProb,
				FinishReason: seq.FinishReason,
			})
		}
	}
	r.handle.put(res)
	p.sem.Release(1)
	delete(p.reqs, r.id)
	slog.Info("request finished",
		"request", r.id, "status", r.group.Status.String(), "outputs", len(res.Outputs))
}
