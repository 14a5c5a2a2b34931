// Copyright © 2024 The standard-ls authors

package cmd

import (
	"fmt"

	"github.com/muesli/reflow/wordwrap"
	"github.com/spf13/cobra"

	"github.com/standard-ls/standard-ls/docs"
)

var docsWidth int

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Print the settings reference",
	Long: `Print the reference of the "standard" settings accepted from editors and
the config file, and of the code actions the server offers.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		text := docs.Settings
		if docsWidth > 0 {
			text = wordwrap.String(text, docsWidth)
		}
		fmt.Fprint(cmd.OutOrStdout(), text) //nolint:errcheck // best-effort output
	},
}

func init() {
	rootCmd.AddCommand(docsCmd)
	docsCmd.Flags().IntVar(&docsWidth, "width", 0,
		"Wrap prose at this width (0 prints the text unchanged).")
}
