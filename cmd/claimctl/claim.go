package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sigweihq/dotclaim/pkg/claim"
	"github.com/sigweihq/dotclaim/pkg/claimclient"
	"github.com/sigweihq/dotclaim/pkg/types"
)

var claimCmd = &cobra.Command{
	Use:   "claim <destination>",
	Short: "Check eligibility and claim to a destination",
	Long:  "Run the whole claim flow for the configured wallet: connect, check, sign and submit. With --agent the flow runs on a claim agent instead.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClaim(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(claimCmd)
	claimCmd.Flags().Bool("wait", false, "Wait until the claim is finalized")
	claimCmd.Flags().String("agent", "", "URL of a running claim agent (e.g. "+claimclient.DefaultURL+")")
}

func runClaim(cmd *cobra.Command, destination string) error {
	wait, _ := cmd.Flags().GetBool("wait")
	agent, _ := cmd.Flags().GetString("agent")

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var snap *types.Snapshot
	if agent != "" {
		snap, err = claimThroughAgent(cmd.Context(), a, agent, destination, wait)
	} else {
		snap, err = claimLocally(cmd.Context(), a, destination, wait)
	}
	if snap != nil {
		if printErr := a.print(snap); printErr != nil && err == nil {
			err = printErr
		}
	}
	return err
}

// claimLocally drives an in-process orchestrator
func claimLocally(ctx context.Context, a *app, destination string, wait bool) (*types.Snapshot, error) {
	wallet, err := a.wallet(ctx)
	if err != nil {
		return nil, err
	}
	ledger, err := a.ledger()
	if err != nil {
		return nil, err
	}

	if account := wallet.Resume(ctx); account != "" {
		a.logger.Debug("resumed authorized account", "account", account)
	}

	orchestrator, err := claim.New(wallet, ledger, a.logger)
	if err != nil {
		return nil, err
	}
	defer orchestrator.Close()

	snapshot := func() *types.Snapshot {
		snap := orchestrator.Snapshot()
		return &snap
	}

	if _, err := orchestrator.Connect(ctx); err != nil {
		return snapshot(), err
	}
	if err := orchestrator.SetDestination(destination); err != nil {
		return snapshot(), err
	}
	if _, err := orchestrator.Check(ctx); err != nil {
		return snapshot(), err
	}
	if orchestrator.State() != types.StateEligible {
		return snapshot(), fmt.Errorf("account %s has no claim", wallet.Account())
	}
	if _, err := orchestrator.Submit(ctx); err != nil {
		return snapshot(), err
	}
	if wait {
		finalityCtx, cancel := context.WithTimeout(ctx, a.cfg.Ledger.FinalityTimeout)
		defer cancel()
		if _, err := orchestrator.WaitFinalized(finalityCtx); err != nil {
			return snapshot(), err
		}
	}
	return snapshot(), nil
}

// claimThroughAgent runs the same flow against a claim agent's API
func claimThroughAgent(ctx context.Context, a *app, agent, destination string, wait bool) (*types.Snapshot, error) {
	client, err := claimclient.New(agent, nil)
	if err != nil {
		return nil, err
	}

	snap, err := client.Sessions.Create(ctx)
	if err != nil {
		return nil, err
	}
	id := snap.ID
	defer func() {
		if err := client.Sessions.Delete(context.WithoutCancel(ctx), id); err != nil {
			a.logger.Debug("failed to close agent session", "session", id, "error", err)
		}
	}()

	steps := []func() (*types.Snapshot, error){
		func() (*types.Snapshot, error) { return client.Sessions.Connect(ctx, id) },
		func() (*types.Snapshot, error) { return client.Sessions.SetDestination(ctx, id, destination) },
		func() (*types.Snapshot, error) { return client.Sessions.Check(ctx, id) },
		func() (*types.Snapshot, error) { return client.Sessions.Submit(ctx, id) },
	}
	if wait {
		steps = append(steps, func() (*types.Snapshot, error) { return client.Sessions.WaitFinalized(ctx, id) })
	}

	for _, step := range steps {
		next, err := step()
		if err != nil {
			var httpErr *claimclient.HTTPError
			if errors.As(err, &httpErr) && httpErr.IsPreconditionFailed() && snap.State == types.StateNotEligible {
				return snap, fmt.Errorf("account %s has no claim", snap.Account)
			}
			return snap, err
		}
		snap = next
	}
	return snap, nil
}
