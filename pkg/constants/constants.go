package constants

import "time"

const (
	DialTimeout            = 15 * time.Second // timeout for the initial ledger connection
	StorageReadTimeout     = 10 * time.Second // timeout for a single state_getStorage call
	SubmitTimeout          = 20 * time.Second // timeout for author_submitExtrinsic
	FinalityTimeout        = 30 * time.Second // timeout while waiting for a claim to finalize
	FinalityPollInterval   = 2 * time.Second  // delay between finalized head polls
	AccountPollInterval    = 5 * time.Second  // delay between eth_accounts polls on remote signers
	SessionIdleTimeout     = 30 * time.Minute // idle sessions are dropped after this
	ReadHeaderTimeout      = 10 * time.Second // http server read header timeout
	ShutdownTimeout        = 10 * time.Second // graceful shutdown budget
	HTTPClientTimeout      = 60 * time.Second // overall API client request timeout, covers finality waits
	TLSHandshakeTimeout    = 10 * time.Second // API client TLS handshake timeout
	ResponseHeaderTimeout  = 45 * time.Second // API client response header timeout
	ExpectContinueTimeout  = 1 * time.Second  // API client expect-continue timeout
	MaxRequestBodySize     = 64 * 1024        // maximum API request body size in bytes
	MaxResponseBodySize    = 1 * 1024 * 1024  // maximum response body size in bytes (1MB)
	MaxFinalityScanBlocks  = 64               // how far back a finality scan walks per poll
	AccountChangeQueueSize = 8                // buffered account notifications per subscriber
)

// Ledger defaults
const (
	DefaultLedgerEndpoint    = "wss://rpc.polkadot.io"
	DefaultPalletName        = "Airdrop"
	DefaultClaimsStorageName = "Claims"
	DefaultTotalStorageName  = "Total"
	DefaultSS58Prefix        = 42
)

// Attestation schemes
const (
	SchemePersonalSign = "personal_sign"
	SchemeEIP712       = "eip712"
)

// EIP-712 domain and message schema for the typed-data scheme
const (
	DomainName        = "Airdrop Eligibility Checker"
	DomainVersion     = "1"
	DomainChainID     = 1 // Ethereum Mainnet
	TypedDataPrimary  = "PolkadotAddress"
	SignatureLength   = 65
	EthereumAddrBytes = 20
	AccountIDBytes    = 32
)
