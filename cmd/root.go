package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var (
	config  = "./config/bundler.yaml"
	rootCmd = &cobra.Command{
		Use:   "chain-guard-bundler",
		Short: "ERC-4337 UserOperation bundler",
		Long: `chain-guard-bundler runs a JSON-RPC bundler for ERC-4337 user operations.

Use "chain-guard-bundler run" to start the bundler, or "chain-guard-bundler version"
to print the current version.
`,
	}
)

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&config, "config", "c", "./config/bundler.yaml", "Path to config file")
}
