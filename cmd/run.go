package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tanpx12/chain-guard-bundler/bundler"
	"github.com/tanpx12/chain-guard-bundler/pkg/logger"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bundler",
	Long: `Initialize and run the bundler.

Use --config=path-to-your-config-file. default is ./config/bundler.yaml `,
	Run: func(cmd *cobra.Command, args []string) {
		log, err := logger.NewProduction()
		if err != nil {
			panic(err)
		}
		if err := bundler.RunWithConfig(config, log); err != nil {
			log.Fatalf("bundler exited: %v", err)
		}
	},
}

func init() {
	runCmd.Flags().StringVar(&config, "config", "./config/bundler.yaml", "path to bundler config file")
	rootCmd.AddCommand(runCmd)
}
