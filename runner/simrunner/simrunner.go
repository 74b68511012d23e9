// simrunner.go - Deterministischer Referenz-Runner
//
// Dieses Modul enthaelt:
// - Runner: KV-Cache aus float16-Slots, Logits als reine Funktion des
//   Kontexts
// - CopyBlock/ExportBlock/ImportBlock: physische Blockoperationen
// - FailNext: Fehlerinjektion fuer Forward
//
// Der Runner schreibt pro Token-Position die Token-ID als float16 in seinen
// Slot und liest den Kontext ausschliesslich ueber Block-Tabelle und
// Slot-Mapping zurueck. Falsch geroutete, fehlende oder nicht kopierte
// KV-Eintraege aendern dadurch die Logits und fliegen in Tests auf.
package simrunner

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/x448/float16"

	"github.com/steinlabs/batchkv/api"
	"github.com/steinlabs/batchkv/runner"
)

// biasSalt trennt den Bias-Anteil vom Basis-Anteil der Logits.
const biasSalt uint64 = 0xD1B54A32D192ED03

// Runner ist ein ModelRunner ohne Modell. Bias verschiebt die Logits
// deterministisch; zwei Runner mit gleichem Bias liefern identische Logits.
type Runner struct {
	mu        sync.Mutex
	blockSize int
	vocab     int
	kv        []float16.Float16

	// Bias gewichtet einen zweiten Pseudozufalls-Anteil der Logits. Ein
	// Draft-Runner mit Bias 0 stimmt exakt mit dem Haupt-Runner ueberein.
	Bias float32

	failNext int
}

// New erzeugt einen Runner mit numBlocks*blockSize KV-Slots.
func New(numBlocks, blockSize, vocab int) *Runner {
	return &Runner{
		blockSize: blockSize,
		vocab:     vocab,
		kv:        make([]float16.Float16, numBlocks*blockSize),
	}
}

// VocabSize liefert die Breite der Logit-Zeilen.
func (r *Runner) VocabSize() int { return r.vocab }

// FailNext laesst die naechsten n Forward-Aufrufe fehlschlagen.
func (r *Runner) FailNext(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNext = n
}

// Forward schreibt die Batch-Tokens in ihre Slots und liefert eine
// Logit-Zeile je Sample-Index.
func (r *Runner) Forward(ctx context.Context, batch runner.Batch) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext > 0 {
		r.failNext--
		return nil, &api.ModelRuntimeError{Err: errors.New("injected failure")}
	}

	for i, slot := range batch.SlotMapping {
		if slot < 0 || int(slot) >= len(r.kv) {
			return nil, &api.ModelRuntimeError{Err: fmt.Errorf("slot %d out of range", slot)}
		}
		r.kv[slot] = float16.Fromfloat32(float32(batch.InputIDs[i]))
	}

	rows := make([][]float32, 0, len(batch.SampleIndices))
	for _, si := range batch.SampleIndices {
		// Jede Zeile sieht den Kontext bis einschliesslich ihres Tokens.
		col := batch.SeqIndices[si]
		tokens, err := r.readContext(batch.BlockTables[col], int(batch.PositionIDs[si])+1)
		if err != nil {
			return nil, &api.ModelRuntimeError{Err: err}
		}
		rows = append(rows, r.logitsFor(tokens))
	}
	return rows, nil
}

// CopyBlock kopiert alle Slots eines Blocks.
func (r *Runner) CopyBlock(src, dst int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkBlock(int(src)); err != nil {
		return err
	}
	if err := r.checkBlock(int(dst)); err != nil {
		return err
	}
	copy(r.kv[int(dst)*r.blockSize:(int(dst)+1)*r.blockSize],
		r.kv[int(src)*r.blockSize:(int(src)+1)*r.blockSize])
	return nil
}

// ExportBlock serialisiert die Slots eines Blocks fuer die Spill-Ablage.
func (r *Runner) ExportBlock(id int) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkBlock(id); err != nil {
		return nil, err
	}
	buf := make([]byte, 2*r.blockSize)
	for i := range r.blockSize {
		binary.LittleEndian.PutUint16(buf[2*i:], r.kv[id*r.blockSize+i].Bits())
	}
	return buf, nil
}

// ImportBlock stellt die Slots eines Blocks aus der Spill-Ablage wieder her.
func (r *Runner) ImportBlock(id int, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkBlock(id); err != nil {
		return err
	}
	if len(payload) != 2*r.blockSize {
		return fmt.Errorf("simrunner: block payload has %d bytes, want %d", len(payload), 2*r.blockSize)
	}
	for i := range r.blockSize {
		r.kv[id*r.blockSize+i] = float16.Frombits(binary.LittleEndian.Uint16(payload[2*i:]))
	}
	return nil
}

func (r *Runner) checkBlock(id int) error {
	if id < 0 || (id+1)*r.blockSize > len(r.kv) {
		return fmt.Errorf("simrunner: block %d out of range", id)
	}
	return nil
}

// readContext liest length Tokens ueber die Block-Tabelle zurueck.
func (r *Runner) readContext(blocks []int32, length int) ([]int, error) {
	tokens := make([]int, length)
	for p := range length {
		bi := p / r.blockSize
		if bi >= len(blocks) {
			return nil, fmt.Errorf("context position %d beyond block table (%d blocks)", p, len(blocks))
		}
		slot := int(blocks[bi])*r.blockSize + p%r.blockSize
		tokens[p] = int(r.kv[slot].Float32())
	}
	return tokens, nil
}

// logitsFor bildet den Kontext deterministisch auf eine Logit-Zeile ab.
func (r *Runner) logitsFor(tokens []int) []float32 {
	var buf [8]byte
	h := uint64(len(tokens))
	for _, t := range tokens {
		binary.LittleEndian.PutUint64(buf[:], uint64(t))
		h = mix(h ^ binary.LittleEndian.Uint64(buf[:]))
	}
	logits := make([]float32, r.vocab)
	for v := range logits {
		logits[v] = 4 * unit(mix(h+uint64(v)))
		if r.Bias != 0 {
			logits[v] += r.Bias * unit(mix(h^biasSalt+uint64(v)))
		}
	}
	return logits
}

// mix ist der splitmix64-Finalizer.
func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xBF58476D1CE4E5B9
	x ^= x >> 27
	x *= 0x94D049BB133111EB
	x ^= x >> 31
	return x
}

// unit skaliert die oberen Hash-Bits nach [0, 1).
func unit(x uint64) float32 {
	return float32(x>>40) / float32(1<<24)
}
