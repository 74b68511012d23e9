// sched_types.go - Scheduler-Zustand und Lebenszyklus der Gruppen
//
// Dieses Modul enthaelt:
// - Scheduler: Warteschlange, Laufmenge, BlockStore, Prefix-Index
// - Output: das Step-Ergebnis fuer den Model-Runner
// - Add/Abort/RetireFinished: Aufnahme und Austritt von Gruppen
package scheduler

import (
	"log/slog"
	"slices"
	"sort"

	"github.com/steinlabs/batchkv/api"
	"github.com/steinlabs/batchkv/kvcache"
)

// ScheduledSeq ist eine Sequenz mit der Zahl ihrer Tokens in diesem Step.
type ScheduledSeq struct {
	Seq       *Sequence
	NumTokens int
}

// Output beschreibt einen geplanten Step. Seqs steht in Batch-Reihenfolge;
// Groups enthaelt jede Gruppe genau einmal, in Planungsreihenfolge.
type Output struct {
	Groups      []*SequenceGroup
	Seqs        []ScheduledSeq
	TotalTokens int
	IsPrompt    bool
	BlockCopies []kvcache.BlockCopy
}

// Empty meldet, ob der Step keine Tokens enthaelt.
func (o *Output) Empty() bool { return len(o.Seqs) == 0 }

func (o *Output) addGroup(g *SequenceGroup, adv []seqAdvance) {
	o.Groups = append(o.Groups, g)
	for _, a := range adv {
		o.Seqs = append(o.Seqs, ScheduledSeq{Seq: a.seq, NumTokens: a.k})
		o.TotalTokens += a.k
	}
}

// removeGroup nimmt eine bereits geplante Gruppe wieder aus dem Step. Ihre
// Blocks bleiben reserviert; bereits erzeugte Kopierauftraege bleiben
// erhalten, weil der Klon schon in der Tabelle steht.
func (o *Output) removeGroup(g *SequenceGroup) {
	kept := o.Seqs[:0]
	for _, ss := range o.Seqs {
		if ss.Seq.Group == g {
			o.TotalTokens -= ss.NumTokens
			continue
		}
		kept = append(kept, ss)
	}
	o.Seqs = kept
	if i := slices.Index(o.Groups, g); i >= 0 {
		o.Groups = slices.Delete(o.Groups, i, i+1)
	}
}

// Scheduler verwaltet Warteschlange und Laufmenge aller Gruppen sowie den
// Blockpool. Alle Methoden erwarten externen Ausschluss; die Pipeline ruft
// sie aus ihrer Step-Schleife.
type Scheduler struct {
	cfg    Config
	store  *kvcache.BlockStore
	prefix *kvcache.PrefixCache

	waiting []*SequenceGroup
	running []*SequenceGroup

	nextOrdinal uint64
	nextSeqID   uint64
}

// New erzeugt einen Scheduler mit eigenem BlockStore.
func New(cfg Config) *Scheduler {
	s := &Scheduler{
		cfg:   cfg,
		store: kvcache.NewBlockStore(cfg.NumKVBlocks),
	}
	if cfg.EnablePrefixCaching {
		s.prefix = kvcache.NewPrefixCache(s.store)
	}
	return s
}

// Cfg liefert die Konfiguration.
func (s *Scheduler) Cfg() Config { return s.cfg }

// Store liefert den Blockpool.
func (s *Scheduler) Store() *kvcache.BlockStore { return s.store }

// Prefix liefert den Prefix-Index oder nil.
func (s *Scheduler) Prefix() *kvcache.PrefixCache { return s.prefix }

// NumWaiting liefert die Laenge der Warteschlange.
func (s *Scheduler) NumWaiting() int { return len(s.waiting) }

// NumRunning liefert die Anzahl laufender Gruppen.
func (s *Scheduler) NumRunning() int { return len(s.running) }

// HasUnfinished meldet, ob noch Gruppen warten oder laufen.
func (s *Scheduler) HasUnfinished() bool { return len(s.waiting)+len(s.running) > 0 }

// Add nimmt eine Gruppe mit gesetztem Prompt und Cfg auf, erzeugt ihre erste
// Sequenz und reiht sie ans Ende der Warteschlange. Prompts, die niemals in
// den Cache oder ins Step-Budget passen, werden sofort als IGNORED beendet.
func (s *Scheduler) Add(g *SequenceGroup) {
	g.Ordinal = s.nextOrdinal
	s.nextOrdinal++

	seq := &Sequence{
		ID:     s.nextSeqID,
		Group:  g,
		Status: SeqWaiting,
		Tokens: slices.Clone(g.Prompt),
		Table:  kvcache.NewBlockTable(s.cfg.BlockSize),
	}
	s.nextSeqID++
	g.Seqs = []*Sequence{seq}
	g.Status = api.StatusRunning

	promptBlocks := (len(g.Prompt) + s.cfg.BlockSize - 1) / s.cfg.BlockSize
	if promptBlocks > s.cfg.NumKVBlocks ||
		(!s.cfg.DynamicSplitFuse && len(g.Prompt) > s.cfg.MaxNumBatchedTokens) {
		s.ignoreGroup(g)
		slog.Warn("request ignored, prompt exceeds capacity",
			"group", g, "prompt_blocks", promptBlocks)
		return
	}

	if s.prefix != nil {
		s.restorePrompt(seq)
	}
	s.waiting = append(s.waiting, g)
	slog.Debug("request queued", "group", g, "waiting", len(s.waiting))
}

// Schedule plant den naechsten Step gemaess der konfigurierten Policy.
// Abbruch-Markierungen werden vorab an der Step-Grenze eingesammelt.
func (s *Scheduler) Schedule() (*Output, error) {
	s.collectDropped()
	if s.cfg.DynamicSplitFuse {
		return s.scheduleSplitFuse()
	}
	return s.scheduleVLLM()
}

// Abort beendet eine Gruppe von aussen, gibt ihre Blocks frei und entfernt
// sie aus Warteschlange und Laufmenge.
func (s *Scheduler) Abort(g *SequenceGroup, status api.GenerationStatus) {
	s.dropGroup(g, status)
	s.removeWaiting(g)
	s.removeRunning(g)
}

// RetireFinished entfernt fertige Gruppen aus der Laufmenge und liefert sie.
func (s *Scheduler) RetireFinished() []*SequenceGroup {
	var done []*SequenceGroup
	kept := s.running[:0]
	for _, g := range s.running {
		if g.Finished() {
			if g.Status == api.StatusRunning {
				g.Status = api.StatusFinished
			}
			done = append(done, g)
			continue
		}
		kept = append(kept, g)
	}
	s.running = kept
	return done
}

// collectDropped beendet alle Gruppen, deren Handle den Abbruch verlangt hat.
func (s *Scheduler) collectDropped() {
	keepW := s.waiting[:0]
	for _, g := range s.waiting {
		if g.DropRequested() {
			s.dropGroup(g, api.StatusDroppedByHandle)
			continue
		}
		keepW = append(keepW, g)
	}
	s.waiting = keepW

	keepR := s.running[:0]
	for _, g := range s.running {
		if g.DropRequested() {
			s.dropGroup(g, api.StatusDroppedByHandle)
			continue
		}
		keepR = append(keepR, g)
	}
	s.running = keepR
}

func (s *Scheduler) dropGroup(g *SequenceGroup, status api.GenerationStatus) {
	for _, seq := range g.Seqs {
		if seq.Finished() {
			continue
		}
		seq.Table.ReleaseAll(s.store)
		seq.blockHashes = seq.blockHashes[:0]
		seq.Status = SeqDropped
		seq.FinishReason = api.FinishDropped
	}
	g.Status = status
	slog.Debug("request dropped", "group", g, "status", status.String())
}

// ignoreGroup beendet eine Gruppe als IGNORED; ihre Sequenzen gelten als
// durch die Laengengrenze beendet.
func (s *Scheduler) ignoreGroup(g *SequenceGroup) {
	for _, seq := range g.Seqs {
		if seq.Finished() {
			continue
		}
		seq.Table.ReleaseAll(s.store)
		seq.blockHashes = seq.blockHashes[:0]
		seq.Status = SeqFinished
		seq.FinishReason = api.FinishLength
	}
	g.Status = api.StatusIgnored
	s.removeWaiting(g)
	s.removeRunning(g)
}

// requeueWaiting ordnet eine verdraengte Gruppe nach Eingangs-Ordinal wieder
// in die Warteschlange ein.
func (s *Scheduler) requeueWaiting(g *SequenceGroup) {
	i := sort.Search(len(s.waiting), func(i int) bool {
		return s.waiting[i].Ordinal > g.Ordinal
	})
	s.waiting = slices.Insert(s.waiting, i, g)
}

func (s *Scheduler) removeWaiting(g *SequenceGroup) {
	if i := slices.Index(s.waiting, g); i >= 0 {
		s.waiting = slices.Delete(s.waiting, i, i+1)
	}
}

func (s *Scheduler) removeRunning(g *SequenceGroup) {
	if i := slices.Index(s.running, g); i >= 0 {
		s.running = slices.Delete(s.running, i, i+1)
	}
}

func (s *Scheduler) isRunning(g *SequenceGroup) bool {
	return slices.Index(s.running, g) >= 0
}

func (s *Scheduler) numRunningSeqs() int {
	n := 0
	for _, g := range s.running {
		n += len(g.RunningSeqs())
	}
	return n
}
