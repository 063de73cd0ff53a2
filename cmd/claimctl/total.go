package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/sigweihq/dotclaim/pkg/constants"
)

var totalCmd = &cobra.Command{
	Use:   "total",
	Short: "Show the outstanding airdrop total",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTotal(cmd)
	},
}

func init() {
	rootCmd.AddCommand(totalCmd)
}

func runTotal(cmd *cobra.Command) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ledger, err := a.ledger()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), constants.DialTimeout+constants.StorageReadTimeout)
	defer cancel()

	total, err := ledger.TotalClaims(ctx)
	if err != nil {
		return err
	}
	return a.print(map[string]string{
		"endpoint": a.cfg.Ledger.Endpoint,
		"total":    total.String(),
	})
}
