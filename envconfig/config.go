// config.go - Haupt-Konfigurationsfunktionen fuer batchkv
//
// Dieses Modul enthaelt:
// - LogLevel: Gibt Log-Level zurueck (BATCHKV_DEBUG)
// - NumKVBlocks/BlockSize/MaxBatchedTokens/MaxSeqs: Scheduler-Dimensionen
// - SplitFuse/PrefixCache: Policy-Schalter
// - MaxQueue: Obergrenze der Admission-Queue
// - SpillDir: Verzeichnis fuer die komprimierte Block-Ablage
//
// Weitere Konfigurationen sind ausgelagert:
// - config_utils.go: Utility-Funktionen und AsMap/Values
package envconfig

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/steinlabs/batchkv/logutil"
)

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via BATCHKV_DEBUG (1 = Debug, 2 = Trace)
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("BATCHKV_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}
	if level < logutil.LevelTrace {
		level = logutil.LevelTrace
	}
	return level
}

var (
	// NumKVBlocks gibt die Gesamtzahl der KV-Blocks zurueck (BATCHKV_NUM_KV_BLOCKS)
	NumKVBlocks = Uint("BATCHKV_NUM_KV_BLOCKS", 256)
	// BlockSize gibt die Tokens pro Block zurueck (BATCHKV_BLOCK_SIZE)
	BlockSize = Uint("BATCHKV_BLOCK_SIZE", 16)
	// MaxBatchedTokens gibt das Token-Budget pro Step zurueck (BATCHKV_MAX_BATCHED_TOKENS)
	MaxBatchedTokens = Uint("BATCHKV_MAX_BATCHED_TOKENS", 256)
	// MaxSeqs gibt die Obergrenze gleichzeitig laufender Sequenzen zurueck (BATCHKV_MAX_SEQS)
	MaxSeqs = Uint("BATCHKV_MAX_SEQS", 256)
	// MaxQueue gibt die Obergrenze wartender Anfragen zurueck (BATCHKV_MAX_QUEUE)
	MaxQueue = Uint("BATCHKV_MAX_QUEUE", 512)
	// SplitFuse schaltet die Dynamic-Split-Fuse-Policy ein (BATCHKV_SPLIT_FUSE)
	SplitFuse = Bool("BATCHKV_SPLIT_FUSE")
	// PrefixCache schaltet das Prefix-Caching ein (BATCHKV_PREFIX_CACHE)
	PrefixCache = Bool("BATCHKV_PREFIX_CACHE")
	// SpillDir gibt das Verzeichnis fuer verdraengte Blocks zurueck (BATCHKV_SPILL_DIR)
	SpillDir = String("BATCHKV_SPILL_DIR")
)

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
