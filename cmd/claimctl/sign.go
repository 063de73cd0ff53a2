package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sigweihq/dotclaim/pkg/chains/substrate"
	"github.com/sigweihq/dotclaim/pkg/constants"
)

var signCmd = &cobra.Command{
	Use:   "sign <destination>",
	Short: "Sign a destination address",
	Long:  "Produce the claim attestation binding a Substrate destination to the configured wallet's Ethereum account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSign(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(signCmd)
	signCmd.Flags().Bool("verify", false, "Recover the signer from the signature and compare it to the account")
}

func runSign(cmd *cobra.Command, destination string) error {
	verify, _ := cmd.Flags().GetBool("verify")

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := substrate.ValidateAddress(destination); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), constants.SubmitTimeout)
	defer cancel()

	wallet, err := a.wallet(ctx)
	if err != nil {
		return err
	}
	if _, err := wallet.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect wallet: %w", err)
	}

	attestation, err := wallet.Sign(ctx, destination)
	if err != nil {
		return err
	}
	if verify {
		if err := wallet.Verify(attestation); err != nil {
			return fmt.Errorf("attestation does not verify: %w", err)
		}
		a.logger.Info("attestation verified", "signer", attestation.Signer)
	}
	return a.print(attestation)
}
