package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sigweihq/dotclaim/pkg/constants"
	"github.com/sigweihq/dotclaim/pkg/types"
)

var checkCmd = &cobra.Command{
	Use:   "check [ethereum-address]",
	Short: "Check airdrop eligibility",
	Long:  "Read the ledger's claim record for an Ethereum address, or for the configured wallet's account when none is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), constants.SubmitTimeout+constants.DialTimeout+constants.StorageReadTimeout)
	defer cancel()

	var account string
	if len(args) == 1 {
		account = args[0]
	} else {
		wallet, err := a.wallet(ctx)
		if err != nil {
			return err
		}
		if account, err = wallet.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect wallet: %w", err)
		}
	}

	ledger, err := a.ledger()
	if err != nil {
		return err
	}

	result := ledger.CheckEligibility(ctx, account)
	if err := a.print(result); err != nil {
		return err
	}
	if result.Status == types.EligibilityIndeterminate {
		return result.Cause
	}
	return nil
}
