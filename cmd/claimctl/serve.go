package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sigweihq/dotclaim/pkg/api"
	"github.com/sigweihq/dotclaim/pkg/constants"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the claim agent HTTP API",
	Long:  "Serve claim sessions over a local JSON API backed by the configured wallet and ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := a.walletProvider(ctx)
	if err != nil {
		return err
	}
	scheme, err := a.scheme()
	if err != nil {
		return err
	}
	ledger, err := a.ledger()
	if err != nil {
		return err
	}

	server, err := api.NewServer(api.Options{
		Provider:    provider,
		Scheme:      scheme,
		Ledger:      ledger,
		Status:      ledger.Connection(),
		Totals:      ledger,
		RateLimit:   a.cfg.Server.RateLimit,
		RateBurst:   a.cfg.Server.RateBurst,
		IdleTimeout: a.cfg.Server.SessionIdleTimeout,
		Logger:      a.logger,
	})
	if err != nil {
		return err
	}
	defer server.Close()

	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           server.Handler(),
		ReadHeaderTimeout: constants.ReadHeaderTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		a.logger.Info("claim agent listening", "addr", srv.Addr, "ledger", a.cfg.Ledger.Endpoint, "scheme", scheme.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down claim agent")
		return srv.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
