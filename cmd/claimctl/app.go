package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sigweihq/dotclaim/pkg/chains"
	"github.com/sigweihq/dotclaim/pkg/chains/evm"
	"github.com/sigweihq/dotclaim/pkg/chains/substrate"
	"github.com/sigweihq/dotclaim/pkg/config"
)

// app is the wiring shared by every command
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer

	provider chains.WalletProvider
	closers  []func()
}

func newApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:    cfg,
		logger: cfg.NewLogger(os.Stderr),
		out:    cmd.OutOrStdout(),
	}, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// walletProvider builds the configured provider: a private key, a keystore
// file or a remote signer. Nil when none is configured.
func (a *app) walletProvider(ctx context.Context) (chains.WalletProvider, error) {
	if a.provider != nil {
		return a.provider, nil
	}

	w := a.cfg.Wallet
	switch {
	case w.PrivateKey != "":
		provider, err := evm.NewKeyProviderFromHex(w.PrivateKey)
		if err != nil {
			return nil, err
		}
		a.provider = provider
	case w.Keystore != "":
		provider, err := evm.NewKeyProviderFromKeystore(w.Keystore, w.KeystorePassword)
		if err != nil {
			return nil, err
		}
		a.provider = provider
	case w.SignerURL != "":
		provider, err := evm.DialRPCProvider(ctx, w.SignerURL, w.AccountPollInterval, a.logger)
		if err != nil {
			return nil, err
		}
		a.provider = provider
		a.closers = append(a.closers, provider.Close)
	default:
		a.logger.Warn("no wallet configured; set wallet.privateKey, wallet.keystore or wallet.signerUrl")
		return nil, nil
	}
	return a.provider, nil
}

func (a *app) scheme() (chains.AttestationScheme, error) {
	registry, err := evm.InitAttestationSchemes(a.logger, a.cfg.DomainConfig())
	if err != nil {
		return nil, err
	}
	scheme, err := registry.Get(a.cfg.Wallet.Scheme)
	if err != nil {
		return nil, &evm.UnsupportedSchemeError{Scheme: a.cfg.Wallet.Scheme}
	}
	return scheme, nil
}

func (a *app) wallet(ctx context.Context) (*evm.Wallet, error) {
	provider, err := a.walletProvider(ctx)
	if err != nil {
		return nil, err
	}
	scheme, err := a.scheme()
	if err != nil {
		return nil, err
	}
	wallet, err := evm.NewWallet(provider, scheme, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, wallet.Close)
	return wallet, nil
}

// ledger opens the shared ledger connection without waiting for the dial
func (a *app) ledger() (*substrate.Ledger, error) {
	conn := substrate.Open(a.cfg.Ledger.Endpoint, substrate.DefaultDialer, a.logger)
	ledger, err := substrate.NewLedger(conn, a.cfg.LedgerConfig(), a.logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	a.closers = append(a.closers, conn.Close)
	return ledger, nil
}

func (a *app) print(v any) error {
	encoder := json.NewEncoder(a.out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
