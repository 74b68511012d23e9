// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steinlabs/batchkv/envconfig"
	"github.com/steinlabs/batchkv/logutil"
	"github.com/steinlabs/batchkv/scheduler"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-28s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// schedConfig - Baut die Scheduler-Konfiguration aus der Umgebung
func schedConfig() scheduler.Config {
	return scheduler.Config{
		MaxNumBatchedTokens: int(envconfig.MaxBatchedTokens()),
		NumKVBlocks:         int(envconfig.NumKVBlocks()),
		BlockSize:           int(envconfig.BlockSize()),
		DynamicSplitFuse:    envconfig.SplitFuse(),
		MaxNumSeqs:          int(envconfig.MaxSeqs()),
		EnablePrefixCaching: envconfig.PrefixCache(),
	}
}

// parsePrompts - Parst Kommandozeilen-Argumente als kommagetrennte Token-Listen
func parsePrompts(args []string) ([][]int, error) {
	prompts := make([][]int, 0, len(args))
	for _, arg := range args {
		var prompt []int
		for _, field := range strings.Split(arg, ",") {
			tok, err := strconv.Atoi(strings.TrimSpace(field))
			if err != nil {
				return nil, fmt.Errorf("invalid token %q in prompt %q", field, arg)
			}
			prompt = append(prompt, tok)
		}
		prompts = append(prompts, prompt)
	}
	return prompts, nil
}

// demoPrompts - Erzeugt deterministische Beispiel-Prompts
func demoPrompts(n, length, vocab int) [][]int {
	prompts := make([][]int, n)
	for i := range prompts {
		prompt := make([]int, length)
		for j := range prompt {
			prompt[j] = (i*131 + j*17 + 7) % vocab
		}
		prompts[i] = prompt
	}
	return prompts
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "batchkv",
		Short:         "Continuous batching scheduler with paged KV cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(cmd.UsageString())
		},
	}

	runCmd := newRunCmd()
	speculateCmd := newSpeculateCmd()
	envCmd := newEnvCmd()

	envVars := envconfig.AsMap()
	for _, cmd := range []*cobra.Command{runCmd, speculateCmd} {
		appendEnvDocs(cmd, []envconfig.EnvVar{
			envVars["BATCHKV_NUM_KV_BLOCKS"],
			envVars["BATCHKV_BLOCK_SIZE"],
			envVars["BATCHKV_MAX_BATCHED_TOKENS"],
			envVars["BATCHKV_SPLIT_FUSE"],
			envVars["BATCHKV_PREFIX_CACHE"],
		})
	}

	rootCmd.AddCommand(
		runCmd,
		speculateCmd,
		envCmd,
	)

	return rootCmd
}
