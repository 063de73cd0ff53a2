package chains

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/sigweihq/dotclaim/pkg/types"
	"github.com/sigweihq/dotclaim/pkg/utils"
)

// WalletProvider is an Ethereum account provider in the shape of an injected
// browser provider: account access, message and typed-data signing, and an
// account-change stream.
type WalletProvider interface {
	// RequestAccounts asks the provider for account access (eth_requestAccounts)
	RequestAccounts(ctx context.Context) ([]string, error)

	// Accounts returns the currently authorized accounts without prompting (eth_accounts)
	Accounts(ctx context.Context) ([]string, error)

	// PersonalSign signs message with the EIP-191 prefix and returns r||s||v with v in {27,28}
	PersonalSign(ctx context.Context, account string, message []byte) ([]byte, error)

	// SignTypedData signs an EIP-712 payload and returns r||s||v with v in {27,28}
	SignTypedData(ctx context.Context, account string, typedData apitypes.TypedData) ([]byte, error)

	// SubscribeAccounts streams the full account list every time it changes
	SubscribeAccounts() *utils.Subscription[[]string]
}

// AttestationScheme turns a destination address into a signed claim attestation.
// The ledger verifier accepts exactly one scheme; a wallet is bound to one.
type AttestationScheme interface {
	// Name returns the scheme identifier (e.g., "personal_sign", "eip712")
	Name() string

	// Attest asks provider to sign destination on behalf of account
	Attest(ctx context.Context, provider WalletProvider, account, destination string, now time.Time) (*types.ClaimAttestation, error)

	// Recover returns the Ethereum address that produced the attestation
	Recover(attestation *types.ClaimAttestation) (string, error)
}

// LedgerClient is the remote ledger's claims surface
type LedgerClient interface {
	// CheckEligibility reads the claims storage for an Ethereum account.
	// Read failures come back as EligibilityIndeterminate with a cause.
	CheckEligibility(ctx context.Context, account string) types.Eligibility

	// Claim submits the claim call carrying the destination and the 65 byte signature
	Claim(ctx context.Context, destination string, signature []byte) (*types.Submission, error)
}

// FinalityWatcher is an optional interface for tracking a submitted claim
// Implemented by: substrate.Ledger
type FinalityWatcher interface {
	// WaitFinalized blocks until the submission is found in a finalized block or ctx ends
	WaitFinalized(ctx context.Context, submission *types.Submission) (*types.Finality, error)
}
