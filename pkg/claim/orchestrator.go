package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sigweihq/dotclaim/pkg/chains"
	"github.com/sigweihq/dotclaim/pkg/chains/evm"
	"github.com/sigweihq/dotclaim/pkg/types"
	"github.com/sigweihq/dotclaim/pkg/utils"
)

// Wallet is the account side of the claim flow
// Implemented by: evm.Wallet
type Wallet interface {
	Connect(ctx context.Context) (string, error)
	Account() string
	Sign(ctx context.Context, destination string) (*types.ClaimAttestation, error)
	SubscribeAccount() *utils.Subscription[string]
}

// Orchestrator runs check, sign and submit for one user session.
//
// At most one operation is in flight. Each operation takes a token from the
// epoch counter; an account change or Reset advances the epoch so results of
// operations started under the old account are dropped when they complete.
type Orchestrator struct {
	wallet Wallet
	ledger chains.LedgerClient
	logger *slog.Logger

	mu          sync.Mutex
	state       types.ClaimState
	account     string
	destination string
	epoch       uint64
	inflight    uint64
	closed      bool
	eligibility *types.Eligibility
	attestation *types.ClaimAttestation
	submission  *types.Submission
	finality    *types.Finality
	lastErr     *Error

	sub       *utils.Subscription[string]
	done      chan struct{}
	closeOnce sync.Once
}

// New wires an orchestrator to a wallet and a ledger and starts following the
// wallet's account changes
func New(wallet Wallet, ledger chains.LedgerClient, logger *slog.Logger) (*Orchestrator, error) {
	if wallet == nil {
		return nil, fmt.Errorf("wallet is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("ledger client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		wallet: wallet,
		ledger: ledger,
		logger: logger.With("component", "claim"),
		state:  types.StateDisconnected,
		sub:    wallet.SubscribeAccount(),
		done:   make(chan struct{}),
	}
	if account := wallet.Account(); account != "" {
		o.setAccountLocked(account)
	}

	go o.follow()
	return o, nil
}

// Snapshot returns a copy of the current session state
func (o *Orchestrator) Snapshot() types.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := types.Snapshot{
		State:       o.state,
		Account:     o.account,
		Destination: o.destination,
		Busy:        o.inflight != 0,
	}
	if o.eligibility != nil {
		e := *o.eligibility
		snap.Eligibility = &e
	}
	if o.attestation != nil {
		a := *o.attestation
		snap.Attestation = &a
	}
	if o.submission != nil {
		s := *o.submission
		snap.Submission = &s
	}
	if o.finality != nil {
		f := *o.finality
		snap.Finality = &f
	}
	if o.lastErr != nil {
		snap.LastError = &types.ErrorInfo{Kind: string(o.lastErr.Kind), Message: o.lastErr.Error()}
	}
	return snap
}

// State returns the current state
func (o *Orchestrator) State() types.ClaimState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Connect asks the wallet for account access. With zero accounts the session
// stays disconnected and the error is recorded.
func (o *Orchestrator) Connect(ctx context.Context) (string, error) {
	token, err := o.begin()
	if err != nil {
		return "", err
	}

	account, err := o.wallet.Connect(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.finishLocked(token)

	if err != nil {
		classified := connectError(err)
		o.lastErr = classified
		o.logger.Warn("wallet connect failed", "kind", classified.Kind, "error", err)
		return "", classified
	}

	// The wallet is authoritative for the account, so this applies even if
	// an account notification already advanced the epoch
	o.setAccountLocked(account)
	o.lastErr = nil
	return o.account, nil
}

// SetDestination records the address claimed tokens should go to
func (o *Orchestrator) SetDestination(destination string) error {
	destination = strings.TrimSpace(destination)

	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case o.closed:
		return ErrClosed
	case o.inflight != 0:
		return ErrBusy
	case o.state == types.StateSubmitted:
		return ErrTerminal
	}

	if destination != o.destination {
		o.destination = destination
		o.attestation = nil
	}
	return nil
}

// Check reads the ledger's claim record for the connected account. It is
// inert without an account or destination. An indeterminate result is
// returned together with its classified cause.
func (o *Orchestrator) Check(ctx context.Context) (types.Eligibility, error) {
	o.mu.Lock()
	switch {
	case o.closed:
		o.mu.Unlock()
		return types.Eligibility{}, ErrClosed
	case o.inflight != 0:
		o.mu.Unlock()
		return types.Eligibility{}, ErrBusy
	case o.account == "":
		o.mu.Unlock()
		return types.Eligibility{}, ErrNotConnected
	case o.destination == "":
		o.mu.Unlock()
		return types.Eligibility{}, ErrEmptyDestination
	case o.state == types.StateSubmitted:
		o.mu.Unlock()
		return types.Eligibility{}, ErrTerminal
	}
	token := o.beginLocked()
	account := o.account
	o.state = types.StateChecking
	o.mu.Unlock()

	o.logger.Debug("checking eligibility", "account", account)
	result := o.ledger.CheckEligibility(ctx, account)

	o.mu.Lock()
	defer o.mu.Unlock()
	if stale := o.finishLocked(token); stale {
		o.logger.Debug("dropping eligibility result for previous account", "account", account)
		return types.Eligibility{}, ErrStale
	}

	o.eligibility = &result
	o.lastErr = nil

	switch result.Status {
	case types.EligibilityEligible:
		o.state = types.StateEligible
	case types.EligibilityNotEligible:
		o.state = types.StateNotEligible
	default:
		o.state = types.StateIndeterminate
		classified := eligibilityError(result.Cause)
		o.lastErr = classified
		o.logger.Warn("eligibility could not be determined", "account", account, "kind", classified.Kind, "error", result.Cause)
		return result, classified
	}

	o.logger.Info("eligibility checked", "account", account, "status", result.Status)
	return result, nil
}

// Submit signs the destination and submits the claim. It is a no-op unless
// the session is eligible. Signing failures abort before submission; any
// failure returns the session to eligible.
func (o *Orchestrator) Submit(ctx context.Context) (*types.Submission, error) {
	o.mu.Lock()
	switch {
	case o.closed:
		o.mu.Unlock()
		return nil, ErrClosed
	case o.inflight != 0:
		o.mu.Unlock()
		return nil, ErrBusy
	case o.state == types.StateSubmitted:
		o.mu.Unlock()
		return nil, ErrTerminal
	case o.account == "":
		o.mu.Unlock()
		return nil, ErrNotConnected
	case o.state != types.StateEligible:
		o.mu.Unlock()
		return nil, ErrNotEligible
	case o.destination == "":
		o.mu.Unlock()
		return nil, ErrEmptyDestination
	}
	token := o.beginLocked()
	account := o.account
	destination := o.destination
	o.state = types.StateSubmitting
	o.mu.Unlock()

	attestation, err := o.sign(ctx, account, destination)
	if err != nil {
		return nil, o.failSubmit(token, signingError(err))
	}

	signature, err := evm.SignatureBytes(attestation)
	if err != nil {
		return nil, o.failSubmit(token, signingError(err))
	}

	submission, err := o.ledger.Claim(ctx, destination, signature)
	if err != nil {
		return nil, o.failSubmit(token, submissionError(err))
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if stale := o.finishLocked(token); stale {
		o.logger.Warn("claim submitted for a previous account", "account", account, "tx_hash", submission.TxHash)
		return nil, ErrStale
	}

	o.state = types.StateSubmitted
	o.attestation = attestation
	o.submission = submission
	o.lastErr = nil
	o.logger.Info("claim submitted", "account", account, "destination", destination, "tx_hash", submission.TxHash)
	return submission, nil
}

func (o *Orchestrator) sign(ctx context.Context, account, destination string) (*types.ClaimAttestation, error) {
	attestation, err := o.wallet.Sign(ctx, destination)
	if err != nil {
		return nil, err
	}
	if common.HexToAddress(attestation.Signer) != common.HexToAddress(account) {
		return nil, fmt.Errorf("attestation signed by %s, expected %s", attestation.Signer, account)
	}
	return attestation, nil
}

func (o *Orchestrator) failSubmit(token uint64, classified *Error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if stale := o.finishLocked(token); stale {
		return ErrStale
	}

	o.state = types.StateEligible
	o.lastErr = classified
	o.logger.Warn("claim submission failed", "kind", classified.Kind, "error", classified.Err)
	return classified
}

// WaitFinalized blocks until the submitted claim is finalized, when the
// ledger supports finality tracking
func (o *Orchestrator) WaitFinalized(ctx context.Context) (*types.Finality, error) {
	watcher, ok := o.ledger.(chains.FinalityWatcher)
	if !ok {
		return nil, errors.New("ledger does not track finality")
	}

	o.mu.Lock()
	if o.submission == nil {
		o.mu.Unlock()
		return nil, ErrNotSubmitted
	}
	submission := *o.submission
	o.mu.Unlock()

	finality, err := watcher.WaitFinalized(ctx, &submission)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.submission == nil || o.submission.TxHash != submission.TxHash {
		return nil, ErrStale
	}
	if err != nil {
		classified := &Error{Kind: KindFinalityFailure, Op: "finality", Err: err}
		o.lastErr = classified
		return nil, classified
	}
	o.finality = finality
	return finality, nil
}

// Reset returns the session to the state after connect, keeping the account
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight != 0 {
		return ErrBusy
	}
	o.epoch++
	o.clearLocked()
	o.destination = ""
	return nil
}

// Close stops following the wallet. Safe to call more than once.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		o.mu.Unlock()

		o.sub.Unsubscribe()
		<-o.done
	})
}

func (o *Orchestrator) follow() {
	defer close(o.done)
	for account := range o.sub.Channel() {
		o.mu.Lock()
		o.setAccountLocked(account)
		o.mu.Unlock()
	}
}

// setAccountLocked switches the session to account, discarding everything
// derived from the previous one
func (o *Orchestrator) setAccountLocked(account string) {
	if account != "" {
		account = common.HexToAddress(account).Hex()
	}
	if account == o.account {
		return
	}

	o.logger.Info("session account changed", "from", o.account, "to", account)
	o.account = account
	o.epoch++
	o.inflight = 0
	o.clearLocked()
}

func (o *Orchestrator) clearLocked() {
	o.eligibility = nil
	o.attestation = nil
	o.submission = nil
	o.finality = nil
	o.lastErr = nil
	if o.account == "" {
		o.state = types.StateDisconnected
	} else {
		o.state = types.StateConnected
	}
}

func (o *Orchestrator) begin() (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return 0, ErrClosed
	}
	if o.inflight != 0 {
		return 0, ErrBusy
	}
	return o.beginLocked(), nil
}

func (o *Orchestrator) beginLocked() uint64 {
	o.epoch++
	o.inflight = o.epoch
	return o.epoch
}

// finishLocked releases the in-flight slot held by token and reports whether
// the epoch moved on while it ran
func (o *Orchestrator) finishLocked(token uint64) bool {
	if o.inflight == token {
		o.inflight = 0
	}
	return token != o.epoch
}
