package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agenttree/internal/config"
)

var (
	// Global flags
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "agenttree",
	Short: "Run hierarchical LLM agent trees",
	Long: `agenttree - build and run trees of LLM agents from a configuration file.

Agents are leaves (llm) driving a model/tool loop, or composites
(sequential, parallel, loop) coordinating their children. Configuration is
TOML or YAML, chosen by file extension. API keys may come from the
AGENTTREE_ANTHROPIC_API_KEY, AGENTTREE_OPENAI_API_KEY and
AGENTTREE_GEMINI_API_KEY environment variables.

Examples:
  # Check a configuration
  agenttree validate -c agenttree.toml

  # Show the agent tree
  agenttree tree -c agenttree.yaml

  # Send one message
  agenttree run -c agenttree.toml -s demo -m "hi, run echo(1)"

  # Chat interactively, one message per line
  agenttree run -c agenttree.toml -s demo`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Interrupts cancel the running command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file (.toml, .yaml, .yml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// loadConfig loads the file named by --config and applies --verbose.
func loadConfig() (config.Config, error) {
	if configPath == "" {
		return config.Config{}, fmt.Errorf("flag --config is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}
