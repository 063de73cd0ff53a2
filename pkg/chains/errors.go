package chains

import "errors"

// Sentinels shared by adapters so callers can classify failures with errors.Is
var (
	// ErrProviderUnavailable means no wallet provider is present
	ErrProviderUnavailable = errors.New("wallet provider unavailable")

	// ErrRejected means the wallet user or provider declined the request
	ErrRejected = errors.New("request rejected by wallet")

	// ErrNoAccounts means the provider authorized zero accounts
	ErrNoAccounts = errors.New("wallet reported no accounts")

	// ErrLedgerUnreachable means the ledger connection could not be established
	ErrLedgerUnreachable = errors.New("ledger unreachable")
)
