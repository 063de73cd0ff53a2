package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/sigweihq/dotclaim/pkg/chains"
	"github.com/sigweihq/dotclaim/pkg/constants"
	"github.com/sigweihq/dotclaim/pkg/utils"
)

var _ chains.WalletProvider = (*KeyProvider)(nil)

// Approver decides whether the user grants a provider request (e.g., eth_requestAccounts)
type Approver func(method string) bool

// KeyProvider is an in-process wallet provider backed by secp256k1 keys.
// Accounts are hidden until RequestAccounts is approved, as an injected
// browser wallet would do.
type KeyProvider struct {
	mu         sync.RWMutex
	keys       []*ecdsa.PrivateKey
	authorized bool
	approve    Approver
	changes    utils.Dispatcher[[]string]
}

// NewKeyProvider creates a provider over the given keys; the first key is the primary account
func NewKeyProvider(keys ...*ecdsa.PrivateKey) *KeyProvider {
	return &KeyProvider{keys: keys}
}

// NewKeyProviderFromHex parses 0x-optional hex private keys
func NewKeyProviderFromHex(hexKeys ...string) (*KeyProvider, error) {
	keys := make([]*ecdsa.PrivateKey, 0, len(hexKeys))
	for _, hexKey := range hexKeys {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		keys = append(keys, key)
	}
	return NewKeyProvider(keys...), nil
}

// NewKeyProviderFromKeystore decrypts a go-ethereum keystore JSON file
func NewKeyProviderFromKeystore(path, password string) (*KeyProvider, error) {
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore %s: %w", path, err)
	}

	key, err := keystore.DecryptKey(keyJSON, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt keystore %s: %w", path, err)
	}
	return NewKeyProvider(key.PrivateKey), nil
}

// SetApprover installs the callback consulted before account access and every
// signing request. Nil approves everything.
func (p *KeyProvider) SetApprover(approve Approver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.approve = approve
}

// RequestAccounts implements chains.WalletProvider
func (p *KeyProvider) RequestAccounts(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	approve := p.approve
	p.mu.Unlock()

	if approve != nil && !approve("eth_requestAccounts") {
		return nil, &RejectedError{Method: "eth_requestAccounts", Reason: "user rejected the request"}
	}

	p.mu.Lock()
	p.authorized = true
	addresses := p.addressesLocked()
	p.mu.Unlock()

	return addresses, nil
}

// Accounts implements chains.WalletProvider
func (p *KeyProvider) Accounts(ctx context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.authorized {
		return []string{}, nil
	}
	return p.addressesLocked(), nil
}

// PersonalSign implements chains.WalletProvider
func (p *KeyProvider) PersonalSign(ctx context.Context, account string, message []byte) ([]byte, error) {
	key, err := p.keyFor("personal_sign", account)
	if err != nil {
		return nil, err
	}
	return SignPersonal(key, message)
}

// SignTypedData implements chains.WalletProvider
func (p *KeyProvider) SignTypedData(ctx context.Context, account string, typedData apitypes.TypedData) ([]byte, error) {
	key, err := p.keyFor("eth_signTypedData_v4", account)
	if err != nil {
		return nil, err
	}
	return SignTypedData(key, typedData)
}

// SubscribeAccounts implements chains.WalletProvider
func (p *KeyProvider) SubscribeAccounts() *utils.Subscription[[]string] {
	return p.changes.Subscribe(constants.AccountChangeQueueSize)
}

// SetKeys swaps the held keys and notifies subscribers, like switching accounts in a wallet UI
func (p *KeyProvider) SetKeys(keys ...*ecdsa.PrivateKey) {
	p.mu.Lock()
	p.keys = keys
	notify := p.authorized
	addresses := p.addressesLocked()
	p.mu.Unlock()

	if notify {
		p.changes.Fire(addresses)
	}
}

// Lock drops every key; subscribers see an empty account list
func (p *KeyProvider) Lock() {
	p.SetKeys()
}

func (p *KeyProvider) keyFor(method, account string) (*ecdsa.PrivateKey, error) {
	p.mu.RLock()
	key, err := p.lookupLocked(method, account)
	approve := p.approve
	p.mu.RUnlock()

	if err != nil {
		return nil, err
	}
	if approve != nil && !approve(method) {
		return nil, &RejectedError{Method: method, Reason: "user denied message signature"}
	}
	return key, nil
}

func (p *KeyProvider) lookupLocked(method, account string) (*ecdsa.PrivateKey, error) {
	if len(p.keys) == 0 {
		return nil, ErrLocked
	}
	if !p.authorized {
		return nil, &RejectedError{Method: method, Reason: "account access not granted"}
	}

	want := common.HexToAddress(account)
	for _, key := range p.keys {
		if crypto.PubkeyToAddress(key.PublicKey) == want {
			return key, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, account)
}

func (p *KeyProvider) addressesLocked() []string {
	addresses := make([]string, 0, len(p.keys))
	for _, key := range p.keys {
		addresses = append(addresses, crypto.PubkeyToAddress(key.PublicKey).Hex())
	}
	return addresses
}
