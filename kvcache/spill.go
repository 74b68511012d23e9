// spill.go - Komprimierte Ablage fuer verdraengte Blocks
//
// Dieses Modul enthaelt:
// - SpillStore: zstd-komprimierte Datei-Ablage, adressiert per Ketten-Hash
// - Put/Get/Has: Sichern und Zurueckholen von KV-Bytes
//
// Die Ablage ist ein optionaler zweiter Tier hinter dem Prefix-Index: ein
// gehashter Block, dessen letzte Referenz faellt, verliert seinen Platz im
// Cache, seine KV-Bytes bleiben aber auffindbar.
package kvcache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// SpillStore schreibt pro Hash eine komprimierte Datei unter dir.
type SpillStore struct {
	dir     string
	budget  int64
	used    int64
	entries map[uint64]int64 // hash -> komprimierte Groesse

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewSpillStore erzeugt die Ablage. budget begrenzt die komprimierten Bytes
// auf der Platte; 0 bedeutet unbegrenzt.
func NewSpillStore(dir string, budget int64) (*SpillStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("spill: create dir: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("spill: create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("spill: create zstd decoder: %w", err)
	}
	return &SpillStore{
		dir:     dir,
		budget:  budget,
		entries: make(map[uint64]int64),
		encoder: enc,
		decoder: dec,
	}, nil
}

// Len liefert die Anzahl abgelegter Blocks.
func (s *SpillStore) Len() int { return len(s.entries) }

// Has prueft, ob ein Hash abgelegt ist.
func (s *SpillStore) Has(hash uint64) bool {
	_, ok := s.entries[hash]
	return ok
}

// Put sichert die KV-Bytes eines Blocks. Ein bereits abgelegter Hash wird
// nicht erneut geschrieben; bei erschoepftem Budget wird still verworfen.
func (s *SpillStore) Put(hash uint64, data []byte) error {
	if _, ok := s.entries[hash]; ok {
		return nil
	}
	payload := s.encoder.EncodeAll(data, nil)
	if s.budget > 0 && s.used+int64(len(payload)) > s.budget {
		return nil
	}
	if err := os.WriteFile(s.path(hash), payload, 0o644); err != nil {
		return fmt.Errorf("spill: write %016x: %w", hash, err)
	}
	s.entries[hash] = int64(len(payload))
	s.used += int64(len(payload))
	return nil
}

// Get liest die KV-Bytes eines Hashes zurueck.
func (s *SpillStore) Get(hash uint64) ([]byte, bool, error) {
	if _, ok := s.entries[hash]; !ok {
		return nil, false, nil
	}
	payload, err := os.ReadFile(s.path(hash))
	if err != nil {
		return nil, false, fmt.Errorf("spill: read %016x: %w", hash, err)
	}
	data, err := s.decoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, false, fmt.Errorf("spill: decompress %016x: %w", hash, err)
	}
	return data, true, nil
}

// Close gibt die Kompressions-Ressourcen frei.
func (s *SpillStore) Close() error {
	s.encoder.Close()
	s.decoder.Close()
	return nil
}

func (s *SpillStore) path(hash uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%016x.kvblk", hash))
}
