// Copyright © 2024 The standard-ls authors

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

var (
	cfgFile   string
	colorFlag string
	verbosity int
	logFile   string
)

var log = commonlog.GetLogger("standard-ls.cmd")

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "standard-ls",
	Short: "Language server and CLI for JavaScript Standard Style",
	Long: `standard-ls lints JavaScript and TypeScript with the "standard" family of
linters (standard, semistandard, standardx, ts-standard) installed in your
project. It runs as a Language Server Protocol server for editors and as a
command line linter.

Getting started:
  standard-ls lsp --stdio          Serve an editor over stdin/stdout
  standard-ls lint ./...           Lint every JS/TS file under the directory
  standard-ls lint --fix src.js    Fix auto-fixable problems in place
  standard-ls lint --diff ./...    Print the fixes as a patch

Engines are loaded from the node_modules of the nearest package.json that
depends on one. Settings use the same keys as the editor extension and can
be given in the config file under "standard":

  standard:
    engine: semistandard
    usePackageJson: true
    treatErrorsAsWarnings: false

Environment variables override the config file, e.g.
STANDARD_LS_STANDARD_ENGINE=ts-standard.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.standard-ls.yaml)")
	rootCmd.PersistentFlags().StringVar(&colorFlag, "color", "auto",
		`Control colored output: "auto", "always", or "never".`)
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v",
		"Log verbosity (repeat for more detail). Logs go to stderr.")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "",
		"Write logs to this file instead of stderr.")
}

// initConfig configures logging and reads in the config file and ENV
// variables if set. Nothing is written to stdout: in stdio mode it carries
// the protocol.
func initConfig() {
	var path *string
	if logFile != "" {
		path = &logFile
	}
	commonlog.Configure(verbosity, path)

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}

		// Search config in home directory with name ".standard-ls" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".standard-ls")
	}

	viper.SetEnvPrefix("STANDARD_LS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		log.Infof("using config file: %s", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		log.Errorf("reading config file %s: %v", cfgFile, err)
	}
}
