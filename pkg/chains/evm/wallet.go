package evm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sigweihq/dotclaim/pkg/chains"
	"github.com/sigweihq/dotclaim/pkg/constants"
	"github.com/sigweihq/dotclaim/pkg/types"
	"github.com/sigweihq/dotclaim/pkg/utils"
)

// Wallet is the account-holding adapter over a WalletProvider. It tracks the
// connected account, follows the provider's account-change stream, and signs
// attestations with the one scheme it was bound to.
type Wallet struct {
	provider chains.WalletProvider
	scheme   chains.AttestationScheme
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	account string

	changes   utils.Dispatcher[string]
	sub       *utils.Subscription[[]string]
	done      chan struct{}
	closeOnce sync.Once
}

// NewWallet binds provider to scheme. A nil provider yields a wallet whose
// Connect reports ErrProviderUnavailable.
func NewWallet(provider chains.WalletProvider, scheme chains.AttestationScheme, logger *slog.Logger) (*Wallet, error) {
	if scheme == nil {
		return nil, fmt.Errorf("attestation scheme is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	w := &Wallet{
		provider: provider,
		scheme:   scheme,
		logger:   logger,
		now:      time.Now,
		done:     make(chan struct{}),
	}

	if provider != nil {
		w.sub = provider.SubscribeAccounts()
		go w.follow()
	} else {
		close(w.done)
	}

	return w, nil
}

// NewWalletForScheme resolves scheme by name from registry
func NewWalletForScheme(provider chains.WalletProvider, registry *chains.Registry, scheme string, logger *slog.Logger) (*Wallet, error) {
	if registry == nil {
		return nil, fmt.Errorf("scheme registry not initialized")
	}
	s, err := registry.Get(scheme)
	if err != nil {
		return nil, &UnsupportedSchemeError{Scheme: scheme}
	}
	return NewWallet(provider, s, logger)
}

// SetClock overrides the time source used for attestation timestamps
func (w *Wallet) SetClock(now func() time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.now = now
}

// Scheme returns the attestation scheme this wallet signs with
func (w *Wallet) Scheme() chains.AttestationScheme {
	return w.scheme
}

// Account returns the connected account, or "" when disconnected
func (w *Wallet) Account() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.account
}

// Resume picks up an account the provider already authorized, without prompting
func (w *Wallet) Resume(ctx context.Context) string {
	if w.provider == nil {
		return ""
	}

	accounts, err := w.provider.Accounts(ctx)
	if err != nil {
		w.logger.Debug("failed to list authorized accounts", "error", err)
		return ""
	}
	if len(accounts) > 0 {
		w.setAccount(accounts[0])
	}
	return w.Account()
}

// Connect requests account access and returns the first authorized account
func (w *Wallet) Connect(ctx context.Context) (string, error) {
	if w.provider == nil {
		w.logger.Warn("connect requested without a wallet provider")
		return "", ErrProviderUnavailable
	}

	accounts, err := w.provider.RequestAccounts(ctx)
	if err != nil {
		w.logger.Warn("failed to connect wallet", "error", err)
		return "", err
	}

	if len(accounts) == 0 {
		w.logger.Warn("wallet returned no accounts")
		w.setAccount("")
		return "", ErrNoAccounts
	}

	w.setAccount(accounts[0])
	w.logger.Info("wallet connected", "account", w.Account())
	return w.Account(), nil
}

// Sign produces the attestation for destination under the bound scheme
func (w *Wallet) Sign(ctx context.Context, destination string) (*types.ClaimAttestation, error) {
	if w.provider == nil {
		return nil, ErrProviderUnavailable
	}

	w.mu.RLock()
	account := w.account
	now := w.now()
	w.mu.RUnlock()

	if account == "" {
		return nil, ErrNotConnected
	}

	attestation, err := w.scheme.Attest(ctx, w.provider, account, destination, now)
	if err != nil {
		w.logger.Warn("failed to sign attestation", "scheme", w.scheme.Name(), "error", err)
		return nil, err
	}

	w.logger.Info("attestation signed", "scheme", attestation.Scheme, "signer", attestation.Signer)
	return attestation, nil
}

// Verify checks that the signature recovers to attestation.Signer and, while
// a wallet account is connected, that the signer is that account
func (w *Wallet) Verify(attestation *types.ClaimAttestation) error {
	signer, err := w.scheme.Recover(attestation)
	if err != nil {
		return err
	}
	if !AddressesEqual(signer, attestation.Signer) {
		return fmt.Errorf("signature recovers to %s, attestation claims %s", signer, attestation.Signer)
	}
	if account := w.Account(); account != "" && !AddressesEqual(signer, account) {
		return fmt.Errorf("attestation signed by %s, connected account is %s", signer, account)
	}
	return nil
}

// SubscribeAccount streams the held account each time it changes ("" when cleared)
func (w *Wallet) SubscribeAccount() *utils.Subscription[string] {
	return w.changes.Subscribe(constants.AccountChangeQueueSize)
}

// Close detaches from the provider's account stream. Safe to call more than once.
func (w *Wallet) Close() {
	w.closeOnce.Do(func() {
		if w.sub != nil {
			w.sub.Unsubscribe()
			<-w.done
		}
	})
}

func (w *Wallet) follow() {
	defer close(w.done)

	for accounts := range w.sub.Channel() {
		next := ""
		if len(accounts) > 0 {
			next = accounts[0]
		}
		w.setAccount(next)
	}
}

func (w *Wallet) setAccount(account string) {
	if account != "" {
		account = common.HexToAddress(account).Hex()
	}

	w.mu.Lock()
	changed := w.account != account
	w.account = account
	w.mu.Unlock()

	if changed {
		w.logger.Info("wallet account changed", "account", account)
		w.changes.Fire(account)
	}
}

// AddressesEqual compares two Ethereum addresses case-insensitively (EIP-55 checksums differ in case only)
func AddressesEqual(addr1, addr2 string) bool {
	return strings.EqualFold(addr1, addr2)
}
