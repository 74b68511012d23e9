// cmd_speculate.go - Speculate Command: Entwurfs- plus Hauptmodell
// Hauptfunktionen: SpeculateHandler
package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/steinlabs/batchkv/api"
	"github.com/steinlabs/batchkv/pipeline"
	"github.com/steinlabs/batchkv/runner/simrunner"
	"github.com/steinlabs/batchkv/speculative"
)

func newSpeculateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "speculate [PROMPT...]",
		Short: "Generate with speculative decoding on two simulated models",
		Long: `Generate completions with a draft model running ahead of the main model.

The draft model shares the main model's weights plus a tunable bias; with
bias 0 every proposed token is accepted. Each PROMPT is a comma-separated
list of token ids.`,
		RunE: SpeculateHandler,
	}
	cmd.Flags().Int("vocab", 128, "Vocabulary size of the simulated models")
	cmd.Flags().Int("lookahead", 4, "Draft tokens proposed per round")
	cmd.Flags().Float32("bias", 0, "Divergence of the draft model from the main model")
	cmd.Flags().Int("num-prompts", 2, "Number of demo prompts when no arguments are given")
	cmd.Flags().Int("prompt-len", 24, "Length of each demo prompt")
	cmd.Flags().Int("max-new-tokens", 32, "Maximum generated tokens per prompt")
	return cmd
}

// SpeculateHandler - Treibt Prompts durch den spekulativen Koordinator
func SpeculateHandler(cmd *cobra.Command, args []string) error {
	vocab, _ := cmd.Flags().GetInt("vocab")
	lookahead, _ := cmd.Flags().GetInt("lookahead")
	bias, _ := cmd.Flags().GetFloat32("bias")
	numPrompts, _ := cmd.Flags().GetInt("num-prompts")
	promptLen, _ := cmd.Flags().GetInt("prompt-len")
	maxNew, _ := cmd.Flags().GetInt("max-new-tokens")

	prompts, err := parsePrompts(args)
	if err != nil {
		return err
	}
	if len(prompts) == 0 {
		prompts = demoPrompts(numPrompts, promptLen, vocab)
	}

	schedCfg := schedConfig()
	mainRun := simrunner.New(schedCfg.NumKVBlocks, schedCfg.BlockSize, vocab)
	draftRun := simrunner.New(schedCfg.NumKVBlocks, schedCfg.BlockSize, vocab)
	draftRun.Bias = bias

	coord, err := speculative.New(
		pipeline.New(schedCfg, draftRun),
		pipeline.New(schedCfg, mainRun),
		lookahead,
	)
	if err != nil {
		return err
	}

	cfg := api.NewGenerationConfig()
	cfg.MaxNewTokens = maxNew
	cfg.EOSTokenID = 0

	var data [][]string
	for i, prompt := range prompts {
		res, err := coord.Generate(cmd.Context(), prompt, cfg)
		if err != nil {
			return err
		}
		tokens := "-"
		finish := "-"
		if len(res.Outputs) > 0 {
			tokens = formatTokens(res.Outputs[0].TokenIDs)
			finish = res.Outputs[0].FinishReason.String()
		}
		data = append(data, []string{
			strconv.Itoa(i), res.Status.String(), tokens, finish,
		})
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"PROMPT", "STATUS", "TOKENS", "FINISH"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	hist := coord.Stats()
	var histData [][]string
	for n, count := range hist.Buckets() {
		histData = append(histData, []string{strconv.Itoa(n), strconv.Itoa(count)})
	}

	fmt.Println()
	histTable := tablewriter.NewWriter(os.Stdout)
	histTable.SetHeader([]string{"ACCEPTED", "ROUNDS"})
	histTable.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	histTable.SetAlignment(tablewriter.ALIGN_LEFT)
	histTable.SetHeaderLine(false)
	histTable.SetBorder(false)
	histTable.SetNoWhiteSpace(true)
	histTable.SetTablePadding("    ")
	histTable.AppendBulk(histData)
	histTable.Render()

	fmt.Printf("\n%.2f tokens per round over %d rounds\n", hist.Mean(), hist.Rounds())
	return nil
}
