// cmd_run.go - Run Command: Prompts durch die Pipeline treiben
// Hauptfunktionen: RunHandler
package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/steinlabs/batchkv/api"
	"github.com/steinlabs/batchkv/envconfig"
	"github.com/steinlabs/batchkv/kvcache"
	"github.com/steinlabs/batchkv/pipeline"
	"github.com/steinlabs/batchkv/runner/simrunner"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [PROMPT...]",
		Short: "Generate completions for token prompts",
		Long: `Generate completions for the given prompts on the simulated model.

Each PROMPT is a comma-separated list of token ids, for example "1,2,3".
Without arguments a set of deterministic demo prompts is used.`,
		RunE: RunHandler,
	}
	cmd.Flags().Int("vocab", 128, "Vocabulary size of the simulated model")
	cmd.Flags().Int("num-prompts", 4, "Number of demo prompts when no arguments are given")
	cmd.Flags().Int("prompt-len", 24, "Length of each demo prompt")
	cmd.Flags().Int("max-new-tokens", 16, "Maximum generated tokens per prompt")
	cmd.Flags().Int("beams", 0, "Beam width; 0 uses greedy decoding")
	cmd.Flags().Bool("sample", false, "Use multinomial sampling instead of greedy")
	cmd.Flags().Uint64("seed", 0, "Sampling seed")
	return cmd
}

// RunHandler - Fuehrt die Prompts durch Pipeline und Sim-Modell
func RunHandler(cmd *cobra.Command, args []string) error {
	vocab, _ := cmd.Flags().GetInt("vocab")
	numPrompts, _ := cmd.Flags().GetInt("num-prompts")
	promptLen, _ := cmd.Flags().GetInt("prompt-len")
	maxNew, _ := cmd.Flags().GetInt("max-new-tokens")
	beams, _ := cmd.Flags().GetInt("beams")
	sampled, _ := cmd.Flags().GetBool("sample")
	seed, _ := cmd.Flags().GetUint64("seed")

	prompts, err := parsePrompts(args)
	if err != nil {
		return err
	}
	if len(prompts) == 0 {
		prompts = demoPrompts(numPrompts, promptLen, vocab)
	}

	schedCfg := schedConfig()
	run := simrunner.New(schedCfg.NumKVBlocks, schedCfg.BlockSize, vocab)
	p := pipeline.New(schedCfg, run)
	if dir := envconfig.SpillDir(); dir != "" && schedCfg.EnablePrefixCaching {
		spill, err := kvcache.NewSpillStore(dir, 64<<20)
		if err != nil {
			return err
		}
		p.Scheduler().Prefix().AttachSpill(spill, run.ExportBlock, run.ImportBlock)
	}

	cfg := api.NewGenerationConfig()
	cfg.MaxNewTokens = maxNew
	cfg.EOSTokenID = 0
	switch {
	case beams > 1:
		cfg.NumBeams = beams
		cfg.NumReturnSequences = beams
	case sampled:
		cfg.DoSample = true
		cfg.Temperature = 0.8
		cfg.TopP = 0.95
		cfg.Seed = seed
	}

	cfgs := make([]api.GenerationConfig, len(prompts))
	for i := range cfgs {
		cfgs[i] = cfg
	}

	results, err := p.Generate(cmd.Context(), prompts, cfgs)
	if err != nil {
		return err
	}

	var data [][]string
	for i, res := range results {
		if len(res.Outputs) == 0 {
			data = append(data, []string{
				strconv.Itoa(i), res.Status.String(), "-", "-", "-",
			})
			continue
		}
		for _, out := range res.Outputs {
			data = append(data, []string{
				strconv.Itoa(i),
				res.Status.String(),
				formatTokens(out.TokenIDs),
				fmt.Sprintf("%.3f", out.Score),
				out.FinishReason.String(),
			})
		}
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"PROMPT", "STATUS", "TOKENS", "SCORE", "FINISH"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	m := p.Metrics()
	fmt.Printf("\ncache usage %.1f%%, %d requests left\n", m.CacheUsage*100, m.Requests)
	return nil
}

func formatTokens(ids []int) string {
	fields := make([]string, len(ids))
	for i, id := range ids {
		fields[i] = strconv.Itoa(id)
	}
	s := strings.Join(fields, " ")
	if len(s) > 60 {
		s = s[:57] + "..."
	}
	return s
}
