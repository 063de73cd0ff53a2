package evm

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/sigweihq/dotclaim/pkg/chains"
	"github.com/sigweihq/dotclaim/pkg/constants"
	"github.com/sigweihq/dotclaim/pkg/types"
)

// Verify both schemes implement chains.AttestationScheme
var _ chains.AttestationScheme = (*PersonalSignScheme)(nil)
var _ chains.AttestationScheme = (*TypedDataScheme)(nil)

// PersonalSignScheme signs the raw destination address string with the
// EIP-191 "\x19Ethereum Signed Message:\n" prefix.
type PersonalSignScheme struct{}

func NewPersonalSignScheme() *PersonalSignScheme {
	return &PersonalSignScheme{}
}

// Name implements chains.AttestationScheme
func (s *PersonalSignScheme) Name() string {
	return constants.SchemePersonalSign
}

// Attest implements chains.AttestationScheme
func (s *PersonalSignScheme) Attest(ctx context.Context, provider chains.WalletProvider, account, destination string, now time.Time) (*types.ClaimAttestation, error) {
	if provider == nil {
		return nil, ErrProviderUnavailable
	}
	if account == "" {
		return nil, ErrNotConnected
	}

	signature, err := provider.PersonalSign(ctx, account, []byte(destination))
	if err != nil {
		return nil, fmt.Errorf("personal_sign failed: %w", err)
	}

	return &types.ClaimAttestation{
		Scheme:      s.Name(),
		Signer:      common.HexToAddress(account).Hex(),
		Address:     destination,
		Signature:   hexutil.Encode(signature),
		SignedAtUTC: now.UTC().Format(time.RFC3339),
	}, nil
}

// Recover implements chains.AttestationScheme
func (s *PersonalSignScheme) Recover(attestation *types.ClaimAttestation) (string, error) {
	signature, err := decodeSignature(attestation)
	if err != nil {
		return "", err
	}
	return recoverAddress(accounts.TextHash([]byte(attestation.Address)), signature)
}

// TypedDataScheme signs {address, timestamp} as EIP-712 typed data under a
// fixed {name, version, chainId} domain.
type TypedDataScheme struct {
	domain apitypes.TypedDataDomain
}

// NewTypedDataScheme creates a typed-data scheme for the given domain
func NewTypedDataScheme(name, version string, chainID int64) *TypedDataScheme {
	return &TypedDataScheme{
		domain: apitypes.TypedDataDomain{
			Name:    name,
			Version: version,
			ChainId: math.NewHexOrDecimal256(chainID),
		},
	}
}

// NewDefaultTypedDataScheme creates the typed-data scheme with the airdrop's published domain
func NewDefaultTypedDataScheme() *TypedDataScheme {
	return NewTypedDataScheme(constants.DomainName, constants.DomainVersion, constants.DomainChainID)
}

// Name implements chains.AttestationScheme
func (s *TypedDataScheme) Name() string {
	return constants.SchemeEIP712
}

// TypedData builds the EIP-712 payload for destination at the given unix timestamp
func (s *TypedDataScheme) TypedData(destination string, timestamp int64) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			constants.TypedDataPrimary: []apitypes.Type{
				{Name: "address", Type: "string"},
				{Name: "timestamp", Type: "uint256"},
			},
		},
		PrimaryType: constants.TypedDataPrimary,
		Domain:      s.domain,
		Message: apitypes.TypedDataMessage{
			"address":   destination,
			"timestamp": strconv.FormatInt(timestamp, 10),
		},
	}
}

// Attest implements chains.AttestationScheme
func (s *TypedDataScheme) Attest(ctx context.Context, provider chains.WalletProvider, account, destination string, now time.Time) (*types.ClaimAttestation, error) {
	if provider == nil {
		return nil, ErrProviderUnavailable
	}
	if account == "" {
		return nil, ErrNotConnected
	}

	timestamp := now.Unix()
	typedData := s.TypedData(destination, timestamp)

	signature, err := provider.SignTypedData(ctx, account, typedData)
	if err != nil {
		return nil, fmt.Errorf("eth_signTypedData_v4 failed: %w", err)
	}

	typedDataJSON, err := json.Marshal(typedData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal typed data: %w", err)
	}

	return &types.ClaimAttestation{
		Scheme:      s.Name(),
		Signer:      common.HexToAddress(account).Hex(),
		Address:     destination,
		Timestamp:   timestamp,
		Signature:   hexutil.Encode(signature),
		TypedData:   string(typedDataJSON),
		SignedAtUTC: now.UTC().Format(time.RFC3339),
	}, nil
}

// Recover implements chains.AttestationScheme
func (s *TypedDataScheme) Recover(attestation *types.ClaimAttestation) (string, error) {
	signature, err := decodeSignature(attestation)
	if err != nil {
		return "", err
	}

	hash, _, err := apitypes.TypedDataAndHash(s.TypedData(attestation.Address, attestation.Timestamp))
	if err != nil {
		return "", fmt.Errorf("failed to hash typed data: %w", err)
	}
	return recoverAddress(hash, signature)
}

// SignPersonal produces an EIP-191 signature with v in {27,28}
func SignPersonal(key *ecdsa.PrivateKey, message []byte) ([]byte, error) {
	return signHash(key, accounts.TextHash(message))
}

// SignTypedData produces an EIP-712 signature with v in {27,28}
func SignTypedData(key *ecdsa.PrivateKey, typedData apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return signHash(key, hash)
}

func signHash(key *ecdsa.PrivateKey, hash []byte) ([]byte, error) {
	signature, err := crypto.Sign(hash, key)
	if err != nil {
		return nil, err
	}

	// Convert v from recovery id to ethereum format (27/28)
	signature[crypto.RecoveryIDOffset] += 27
	return signature, nil
}

func decodeSignature(attestation *types.ClaimAttestation) ([]byte, error) {
	if attestation == nil {
		return nil, fmt.Errorf("attestation is nil")
	}

	signature, err := hexutil.Decode(attestation.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(signature) != constants.SignatureLength {
		return nil, fmt.Errorf("invalid signature length: got %d, want %d", len(signature), constants.SignatureLength)
	}
	return signature, nil
}

func recoverAddress(hash, signature []byte) (string, error) {
	sig := make([]byte, len(signature))
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

// SignatureBytes decodes an attestation's signature into the 65 bytes the ledger expects
func SignatureBytes(attestation *types.ClaimAttestation) ([]byte, error) {
	return decodeSignature(attestation)
}
