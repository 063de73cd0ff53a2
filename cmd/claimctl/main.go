package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "claimctl",
	Short:        "Airdrop claim agent",
	Long:         "Check airdrop eligibility for an Ethereum account and claim it to a Substrate address, directly or through a running agent",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML config file (DOTCLAIM_* environment variables override it)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
