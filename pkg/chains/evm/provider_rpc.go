package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/sigweihq/dotclaim/pkg/chains"
	"github.com/sigweihq/dotclaim/pkg/constants"
	"github.com/sigweihq/dotclaim/pkg/utils"
)

// EIP-1193 / JSON-RPC error codes a remote signer may answer with
const (
	codeUserRejected   = 4001
	codeUnauthorized   = 4100
	codeMethodNotFound = -32601
)

var _ chains.WalletProvider = (*RPCProvider)(nil)

// RPCProvider is a wallet provider backed by a remote JSON-RPC signer
// (a node with managed accounts, Clef, or a wallet bridge). Account changes
// are detected by polling eth_accounts.
type RPCProvider struct {
	endpoint     string
	client       *rpc.Client
	pollInterval time.Duration
	logger       *slog.Logger

	changes utils.Dispatcher[[]string]
	mu      sync.Mutex
	last    []string

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// DialRPCProvider connects to a remote signer and starts watching its accounts
func DialRPCProvider(ctx context.Context, endpoint string, pollInterval time.Duration, logger *slog.Logger) (*RPCProvider, error) {
	client, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, &RPCError{Endpoint: endpoint, Method: "dial", Err: err}
	}
	return NewRPCProvider(endpoint, client, pollInterval, logger), nil
}

// NewRPCProvider wraps an existing RPC client. The provider owns the client and closes it on Close.
func NewRPCProvider(endpoint string, client *rpc.Client, pollInterval time.Duration, logger *slog.Logger) *RPCProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = constants.AccountPollInterval
	}

	p := &RPCProvider{
		endpoint:     endpoint,
		client:       client,
		pollInterval: pollInterval,
		logger:       logger,
		stop:         make(chan struct{}),
	}

	p.wg.Add(1)
	go p.watchAccounts()

	return p
}

// RequestAccounts implements chains.WalletProvider
func (p *RPCProvider) RequestAccounts(ctx context.Context) ([]string, error) {
	var accounts []string
	err := p.client.CallContext(ctx, &accounts, "eth_requestAccounts")
	if err != nil && errorCode(err) == codeMethodNotFound {
		// Node-style signers have no permission prompt
		return p.Accounts(ctx)
	}
	if err != nil {
		return nil, p.wrap("eth_requestAccounts", err)
	}

	p.remember(accounts)
	return accounts, nil
}

// Accounts implements chains.WalletProvider
func (p *RPCProvider) Accounts(ctx context.Context) ([]string, error) {
	var accounts []string
	if err := p.client.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, p.wrap("eth_accounts", err)
	}
	return accounts, nil
}

// PersonalSign implements chains.WalletProvider
func (p *RPCProvider) PersonalSign(ctx context.Context, account string, message []byte) ([]byte, error) {
	var signature hexutil.Bytes
	if err := p.client.CallContext(ctx, &signature, "personal_sign", hexutil.Encode(message), account); err != nil {
		return nil, p.wrap("personal_sign", err)
	}
	return normalizeV(signature)
}

// SignTypedData implements chains.WalletProvider
func (p *RPCProvider) SignTypedData(ctx context.Context, account string, typedData apitypes.TypedData) ([]byte, error) {
	payload, err := json.Marshal(typedData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal typed data: %w", err)
	}

	var signature hexutil.Bytes
	if err := p.client.CallContext(ctx, &signature, "eth_signTypedData_v4", account, string(payload)); err != nil {
		return nil, p.wrap("eth_signTypedData_v4", err)
	}
	return normalizeV(signature)
}

// SubscribeAccounts implements chains.WalletProvider
func (p *RPCProvider) SubscribeAccounts() *utils.Subscription[[]string] {
	return p.changes.Subscribe(constants.AccountChangeQueueSize)
}

// Close stops the account watcher and releases the RPC client. Safe to call more than once.
func (p *RPCProvider) Close() {
	p.stopOnce.Do(func() {
		close(p.stop)
		p.wg.Wait()
		p.client.Close()
	})
}

func (p *RPCProvider) watchAccounts() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), p.pollInterval)
		accounts, err := p.Accounts(ctx)
		cancel()
		if err != nil {
			p.logger.Debug("account poll failed", "endpoint", p.endpoint, "error", err)
			continue
		}

		if p.remember(accounts) {
			p.logger.Info("signer accounts changed", "endpoint", p.endpoint, "count", len(accounts))
			p.changes.Fire(accounts)
		}
	}
}

// remember stores the latest account list and reports whether it changed
func (p *RPCProvider) remember(accounts []string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.last != nil && slices.Equal(p.last, accounts) {
		return false
	}
	changed := p.last != nil
	p.last = slices.Clone(accounts)
	if p.last == nil {
		p.last = []string{}
	}
	return changed
}

func (p *RPCProvider) wrap(method string, err error) error {
	switch errorCode(err) {
	case codeUserRejected, codeUnauthorized:
		return &RejectedError{Method: method, Reason: err.Error()}
	}
	return &RPCError{Endpoint: p.endpoint, Method: method, Err: err}
}

func errorCode(err error) int {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode()
	}
	return 0
}

func normalizeV(signature []byte) ([]byte, error) {
	if len(signature) != constants.SignatureLength {
		return nil, fmt.Errorf("signer returned %d byte signature, want %d", len(signature), constants.SignatureLength)
	}
	if signature[constants.SignatureLength-1] < 27 {
		signature[constants.SignatureLength-1] += 27
	}
	return signature, nil
}
