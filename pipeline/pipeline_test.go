// pipeline_test.go - Szenario-Tests fuer die Continuous-Batching-Pipeline
package pipeline

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steinlabs/batchkv/api"
	"github.com/steinlabs/batchkv/runner/simrunner"
	"github.com/steinlabs/batchkv/scheduler"
)

func newTestPipeline(cfg scheduler.Config, vocab int) (*Pipeline, *simrunner.Runner) {
	run := simrunner.New(cfg.NumKVBlocks, cfg.BlockSize, vocab)
	return New(cfg, run), run
}

func defaultSchedConfig() scheduler.Config {
	return scheduler.Config{MaxNumBatchedTokens: 64, NumKVBlocks: 32, BlockSize: 4, MaxNumSeqs: 8}
}

func greedyCfg(maxNew int) api.GenerationConfig {
	cfg := api.NewGenerationConfig()
	cfg.IgnoreEOS = true
	cfg.MaxNewTokens = maxNew
	return cfg
}

// TestGenerateGreedyDeterministic testet Reihenfolge und Reproduzierbarkeit
// des synchronen Pfads
func TestGenerateGreedyDeterministic(t *testing.T) {
	ctx := context.Background()
	prompts := [][]int{{1, 2, 3, 4, 5, 6}, {7, 8, 9, 10, 11}}
	cfgs := []api.GenerationConfig{greedyCfg(8), greedyCfg(8)}

	p1, _ := newTestPipeline(defaultSchedConfig(), 32)
	first, err := p1.Generate(ctx, prompts, cfgs)
	require.NoError(t, err)
	require.Len(t, first, 2)
	for _, res := range first {
		require.Equal(t, api.StatusFinished, res.Status)
		require.Len(t, res.Outputs, 1)
		assert.Len(t, res.Outputs[0].TokenIDs, 8)
		assert.Equal(t, api.FinishLength, res.Outputs[0].FinishReason)
	}
	assert.NotEqual(t, first[0].Outputs[0].TokenIDs, first[1].Outputs[0].TokenIDs,
		"verschiedene Prompts liefern identische Fortsetzungen")

	p2, _ := newTestPipeline(defaultSchedConfig(), 32)
	second, err := p2.Generate(ctx, prompts, cfgs)
	require.NoError(t, err)
	for i := range first {
		assert.Equal(t, first[i].Outputs[0].TokenIDs, second[i].Outputs[0].TokenIDs)
	}

	assert.Equal(t, 0, p1.Metrics().Requests)
}

// TestAddRequestQueueFull testet die Admission-Schranke
func TestAddRequestQueueFull(t *testing.T) {
	t.Setenv("BATCHKV_MAX_QUEUE", "1")
	p, _ := newTestPipeline(defaultSchedConfig(), 16)

	_, err := p.AddRequest("a", []int{1, 2, 3}, greedyCfg(4))
	require.NoError(t, err)
	_, err = p.AddRequest("b", []int{4, 5, 6}, greedyCfg(4))
	assert.ErrorIs(t, err, ErrQueueFull)
}

// TestAddRequestDuplicateID testet die Ablehnung doppelter IDs
func TestAddRequestDuplicateID(t *testing.T) {
	p, _ := newTestPipeline(defaultSchedConfig(), 16)

	_, err := p.AddRequest("a", []int{1, 2, 3}, greedyCfg(4))
	require.NoError(t, err)
	_, err = p.AddRequest("a", []int{4, 5, 6}, greedyCfg(4))
	assert.ErrorContains(t, err, "duplicate")
}

// TestAddRequestInvalidConfig testet die Validierung vor der Einreihung
func TestAddRequestInvalidConfig(t *testing.T) {
	p, _ := newTestPipeline(defaultSchedConfig(), 16)

	// Ohne EOS und ohne Laengenlimit gibt es kein Stop-Kriterium
	_, err := p.AddRequest("a", []int{1, 2, 3}, api.NewGenerationConfig())
	assert.Error(t, err)
}

// TestIgnoredPromptDeliversImmediately testet die sofortige Zustellung bei
// einem Prompt, der niemals ins Budget passt
func TestIgnoredPromptDeliversImmediately(t *testing.T) {
	cfg := defaultSchedConfig()
	cfg.MaxNumBatchedTokens = 8
	p, _ := newTestPipeline(cfg, 16)

	h, err := p.AddRequest("a", []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, greedyCfg(4))
	require.NoError(t, err)
	res, ok := h.Read()
	require.True(t, ok, "IGNORED-Ergebnis liegt nicht sofort vor")
	assert.Equal(t, api.StatusIgnored, res.Status)
	require.Len(t, res.Outputs, 1)
	assert.Empty(t, res.Outputs[0].TokenIDs)
	assert.Equal(t, api.FinishLength, res.Outputs[0].FinishReason)
}

// TestHandleDropCancelsRequest testet den Abbruch an der Step-Grenze
func TestHandleDropCancelsRequest(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(defaultSchedConfig(), 16)

	h, err := p.AddRequest("a", []int{1, 2, 3, 4}, greedyCfg(16))
	require.NoError(t, err)
	h.Drop()
	require.NoError(t, p.Step(ctx))

	res, ok := h.Read()
	require.True(t, ok)
	assert.Equal(t, api.StatusDroppedByHandle, res.Status)
	assert.Equal(t, 32, p.Scheduler().Store().NumFree())
}

// TestForwardFailureKeepsState testet, dass ein fehlgeschlagener Forward den
// Verarbeitungsstand nicht veraendert und die Anfrage danach regulaer endet
func TestForwardFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	p, run := newTestPipeline(defaultSchedConfig(), 16)

	h, err := p.AddRequest("a", []int{1, 2, 3, 4}, greedyCfg(4))
	require.NoError(t, err)

	run.FailNext(1)
	err = p.Step(ctx)
	var runtimeErr *api.ModelRuntimeError
	require.ErrorAs(t, err, &runtimeErr)
	if _, ok := h.Read(); ok {
		t.Fatal("Ergebnis nach fehlgeschlagenem Step vorhanden")
	}
	assert.Equal(t, 0, p.reqs["a"].group.NumProcessedTokens())

	for i := 0; i < 20 && p.HasNonFinishedRequests(); i++ {
		require.NoError(t, p.Step(ctx))
	}
	res, ok := h.Read()
	require.True(t, ok)
	assert.Equal(t, api.StatusFinished, res.Status)
	assert.Len(t, res.Outputs[0].TokenIDs, 4)
}

// TestBeamSearchRankedResults testet Anzahl und Rangfolge der
// Rueckgabesequenzen
func TestBeamSearchRankedResults(t *testing.T) {
	ctx := context.Background()
	cfg := scheduler.Config{MaxNumBatchedTokens: 64, NumKVBlocks: 64, BlockSize: 4, MaxNumSeqs: 16}
	p, _ := newTestPipeline(cfg, 16)

	gen := api.BeamSearch()
	gen.MaxNewTokens = 6
	gen.EOSTokenID = 0
	results, err := p.Generate(ctx, [][]int{{1, 2, 3, 4}}, []api.GenerationConfig{gen})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, api.StatusFinished, results[0].Status)

	outs := results[0].Outputs
	require.Len(t, outs, 3)
	for i, out := range outs {
		assert.NotEmpty(t, out.TokenIDs, "Hypothese %d ist leer", i)
		assert.LessOrEqual(t, len(out.TokenIDs), 7)
		if i > 0 {
			assert.GreaterOrEqual(t, outs[i-1].Score, out.Score,
				"Hypothesen nicht absteigend sortiert")
		}
	}
	assert.Equal(t, 64, p.Scheduler().Store().NumFree())
}

// TestChatHistoryCarriesAcrossTurns testet den erhaltenen Verlauf und die
// Gleichwertigkeit mit einem expliziten Voll-Prompt
func TestChatHistoryCarriesAcrossTurns(t *testing.T) {
	ctx := context.Background()
	cfg := defaultSchedConfig()
	cfg.EnablePrefixCaching = true
	p, _ := newTestPipeline(cfg, 32)

	p.StartChat([]int{1, 2, 3})
	first, err := p.Generate(ctx, [][]int{{4, 5}}, []api.GenerationConfig{greedyCfg(4)})
	require.NoError(t, err)
	reply := first[0].Outputs[0].TokenIDs
	require.Len(t, reply, 4)

	second, err := p.Generate(ctx, [][]int{{6}}, []api.GenerationConfig{greedyCfg(4)})
	require.NoError(t, err)
	require.Len(t, second[0].Outputs[0].TokenIDs, 4)

	// Eine frische Pipeline mit dem ausgeschriebenen Verlauf als Prompt
	// liefert dieselbe Fortsetzung
	full := slices.Concat([]int{1, 2, 3, 4, 5}, reply, []int{6})
	plain, _ := newTestPipeline(defaultSchedConfig(), 32)
	ref, err := plain.Generate(ctx, [][]int{full}, []api.GenerationConfig{greedyCfg(4)})
	require.NoError(t, err)
	assert.Equal(t, ref[0].Outputs[0].TokenIDs, second[0].Outputs[0].TokenIDs)

	p.FinishChat()
	assert.Equal(t, 32, p.Scheduler().Store().NumFree())
}

// TestGenerateLengthMismatch testet die Arity-Pruefung des synchronen Pfads
func TestGenerateLengthMismatch(t *testing.T) {
	p, _ := newTestPipeline(defaultSchedConfig(), 16)
	_, err := p.Generate(context.Background(), [][]int{{1}}, nil)
	assert.Error(t, err)
}
