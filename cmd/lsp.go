// Copyright © 2024 The standard-ls authors

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/standard-ls/standard-ls/lsp"
	"github.com/standard-ls/standard-ls/settings"
)

// LSPCommand creates the "lsp" cobra command with optional embedder
// configuration.
func LSPCommand(opts ...Option) *cobra.Command {
	cfg := newCmdConfig(opts)

	var (
		stdio bool
		port  int
	)

	cmd := &cobra.Command{
		Use:   "lsp [flags]",
		Short: "Start the Language Server Protocol server",
		Long: `Start an LSP server that lints JavaScript and TypeScript documents with
the standard engine installed in each project.

The server publishes diagnostics as you type or on save, offers quick fixes
and "disable rule" code actions, fixes all problems on formatting or before
save, and provides the standard.applyAutoFix command.

Settings are pulled from the editor ("standard" section). The config file
and STANDARD_LS_* environment variables provide the defaults used before
the editor sends any.

Transport modes:
  --stdio      Use stdin/stdout for LSP communication (default)
  --port N     Listen for an LSP client on TCP port N

Examples:
  standard-ls lsp                    Start with stdio transport
  standard-ls lsp --stdio            Same as above (explicit)
  standard-ls lsp --port 7998        Start with TCP on port 7998`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			st, err := settings.FromViper(viper.GetViper())
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			serverOpts := []lsp.Option{
				lsp.WithSettings(st),
				lsp.WithTimeout(lintTimeout()),
				lsp.WithVersion(version()),
			}
			if cfg.runner != nil {
				serverOpts = append(serverOpts, lsp.WithRunner(cfg.runner))
			}
			if cfg.resolver != nil {
				serverOpts = append(serverOpts, lsp.WithResolver(cfg.resolver))
			}

			srv := lsp.New(serverOpts...)

			if !stdio && port > 0 {
				addr := fmt.Sprintf("localhost:%d", port)
				log.Noticef("LSP server listening on %s", addr)
				if err := srv.RunTCP(addr); err != nil {
					return fmt.Errorf("lsp server: %w", err)
				}
				return nil
			}
			if err := srv.RunStdio(); err != nil {
				return fmt.Errorf("lsp server: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&stdio, "stdio", false,
		"Use stdin/stdout for LSP communication (default behavior)")
	cmd.Flags().IntVar(&port, "port", 0,
		"TCP port for LSP server (use instead of --stdio)")

	return cmd
}

func init() {
	rootCmd.AddCommand(LSPCommand())
}
