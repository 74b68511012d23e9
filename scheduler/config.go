// config.go - Scheduler-Konfiguration
//
// Dieses Modul enthaelt:
// - Config: Dimensionen und Policy-Schalter des Schedulers
// - DefaultConfig: Defaults aus der Umgebung (BATCHKV_*)
package scheduler

import "github.com/steinlabs/batchkv/envconfig"

// Config beschreibt Cache-Dimensionen und Batching-Policy.
type Config struct {
	// MaxNumBatchedTokens ist das Token-Budget pro Step.
	MaxNumBatchedTokens int
	// NumKVBlocks ist die Gesamtzahl der Blocks im BlockStore.
	NumKVBlocks int
	// BlockSize ist die Anzahl Tokens pro Block.
	BlockSize int
	// DynamicSplitFuse waehlt die Chunked-Policy statt der Prompt-exklusiven.
	DynamicSplitFuse bool
	// MaxNumSeqs begrenzt die gleichzeitig laufenden Sequenzen.
	MaxNumSeqs int
	// EnablePrefixCaching aktiviert den inhaltsadressierten Block-Index.
	EnablePrefixCaching bool
}

// DefaultConfig liest die Defaults aus der Umgebung.
func DefaultConfig() Config {
	return Config{
		MaxNumBatchedTokens: int(envconfig.MaxBatchedTokens()),
		NumKVBlocks:         int(envconfig.NumKVBlocks()),
		BlockSize:           int(envconfig.BlockSize()),
		DynamicSplitFuse:    envconfig.SplitFuse(),
		MaxNumSeqs:          int(envconfig.MaxSeqs()),
		EnablePrefixCaching: envconfig.PrefixCache(),
	}
}
