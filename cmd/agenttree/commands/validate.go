package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agenttree/internal/app"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a configuration file",
	Long: `Load the configuration, validate it and build the agent tree without
running it. Model clients are constructed but not called.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		a, err := app.Build(cmd.Context(), cfg, func(o *app.Options) { o.LogOutput = io.Discard })
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (root %s)\n", configPath, a.Root.Name())
		return nil
	},
}

var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Print the configured agent tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		a, err := app.Build(cmd.Context(), cfg, func(o *app.Options) { o.LogOutput = io.Discard })
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		return app.PrintTree(cmd.OutOrStdout(), a.Root)
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(treeCmd)
}
