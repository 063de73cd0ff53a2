package substrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/sigweihq/dotclaim/pkg/chains"
	"github.com/sigweihq/dotclaim/pkg/constants"
	"github.com/sigweihq/dotclaim/pkg/types"
)

// LedgerConfig describes where the airdrop pallet keeps its state
type LedgerConfig struct {
	Pallet        string
	ClaimsStorage string
	TotalStorage  string
	KeyHasher     Hasher
	ClaimCall     CallIndex
	SS58Prefix    uint16

	FinalityTimeout      time.Duration
	FinalityPollInterval time.Duration
}

// DefaultLedgerConfig returns the Airdrop pallet layout
func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		Pallet:               constants.DefaultPalletName,
		ClaimsStorage:        constants.DefaultClaimsStorageName,
		TotalStorage:         constants.DefaultTotalStorageName,
		KeyHasher:            HasherBlake2_128Concat,
		SS58Prefix:           constants.DefaultSS58Prefix,
		FinalityTimeout:      constants.FinalityTimeout,
		FinalityPollInterval: constants.FinalityPollInterval,
	}
}

// Ledger reads and submits airdrop claims over a shared Connection
type Ledger struct {
	conn   *Connection
	cfg    LedgerConfig
	logger *slog.Logger
}

// Verify Ledger implements the chain interfaces
var (
	_ chains.LedgerClient    = (*Ledger)(nil)
	_ chains.FinalityWatcher = (*Ledger)(nil)
)

// NewLedger creates a ledger client; zero config fields fall back to defaults
func NewLedger(conn *Connection, cfg LedgerConfig, logger *slog.Logger) (*Ledger, error) {
	if conn == nil {
		return nil, fmt.Errorf("ledger connection is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultLedgerConfig()
	if cfg.Pallet == "" {
		cfg.Pallet = defaults.Pallet
	}
	if cfg.ClaimsStorage == "" {
		cfg.ClaimsStorage = defaults.ClaimsStorage
	}
	if cfg.TotalStorage == "" {
		cfg.TotalStorage = defaults.TotalStorage
	}
	if cfg.KeyHasher == "" {
		cfg.KeyHasher = defaults.KeyHasher
	}
	if !cfg.KeyHasher.Valid() {
		return nil, fmt.Errorf("unsupported storage hasher %q", string(cfg.KeyHasher))
	}
	if cfg.FinalityTimeout <= 0 {
		cfg.FinalityTimeout = defaults.FinalityTimeout
	}
	if cfg.FinalityPollInterval <= 0 {
		cfg.FinalityPollInterval = defaults.FinalityPollInterval
	}

	return &Ledger{
		conn:   conn,
		cfg:    cfg,
		logger: logger.With("component", "ledger", "pallet", cfg.Pallet),
	}, nil
}

// Connection returns the underlying connection
func (l *Ledger) Connection() *Connection {
	return l.conn
}

// ClaimKey returns the storage key of the claim entry for an Ethereum account
func (l *Ledger) ClaimKey(account string) ([]byte, error) {
	if !common.IsHexAddress(account) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAccount, account)
	}
	return MapKey(l.cfg.Pallet, l.cfg.ClaimsStorage, l.cfg.KeyHasher, common.HexToAddress(account).Bytes())
}

// CheckEligibility looks up the pending claim of account. It never returns
// not-eligible for a failed read: transport and decode failures are indeterminate.
func (l *Ledger) CheckEligibility(ctx context.Context, account string) types.Eligibility {
	result := types.Eligibility{Status: types.EligibilityIndeterminate, Account: account}

	key, err := l.ClaimKey(account)
	if err != nil {
		result.Cause = err
		return result
	}

	raw, found, err := l.readStorage(ctx, key)
	if err != nil {
		l.logger.Warn("eligibility read failed", "account", account, "error", err)
		result.Cause = err
		return result
	}
	if !found {
		result.Status = types.EligibilityNotEligible
		return result
	}

	result.Status = types.EligibilityEligible
	if amount, err := DecodeU128(raw); err == nil {
		result.Amount = amount
	} else {
		l.logger.Debug("claim value is not a u128", "account", account, "bytes", len(raw))
	}
	return result
}

// TotalClaims reads the outstanding claim total; an absent value is zero
func (l *Ledger) TotalClaims(ctx context.Context) (*big.Int, error) {
	raw, found, err := l.readStorage(ctx, StoragePrefix(l.cfg.Pallet, l.cfg.TotalStorage))
	if err != nil {
		return nil, err
	}
	if !found {
		return new(big.Int), nil
	}
	return DecodeU128(raw)
}

func (l *Ledger) readStorage(ctx context.Context, key []byte) ([]byte, bool, error) {
	lease, err := l.conn.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	defer lease.Release()

	ctx, cancel := context.WithTimeout(ctx, constants.StorageReadTimeout)
	defer cancel()

	var result json.RawMessage
	if err := lease.Client().CallContext(ctx, &result, "state_getStorage", hexutil.Encode(key)); err != nil {
		return nil, false, l.rpcError("state_getStorage", err)
	}
	if len(result) == 0 || string(result) == "null" {
		return nil, false, nil
	}

	var value hexutil.Bytes
	if err := json.Unmarshal(result, &value); err != nil {
		return nil, false, &DecodeError{What: "storage value", Err: err}
	}
	if len(value) == 0 {
		return nil, false, nil
	}
	return value, true, nil
}

// Claim submits an unsigned claim extrinsic binding signature to destination
func (l *Ledger) Claim(ctx context.Context, destination string, signature []byte) (*types.Submission, error) {
	dest, err := ParseAccountID(destination)
	if err != nil {
		return nil, err
	}
	call, err := EncodeClaimCall(l.cfg.ClaimCall, dest, signature)
	if err != nil {
		return nil, err
	}
	extrinsic := EncodeUnsignedExtrinsic(call)

	lease, err := l.conn.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	ctx, cancel := context.WithTimeout(ctx, constants.SubmitTimeout)
	defer cancel()

	var hash common.Hash
	if err := lease.Client().CallContext(ctx, &hash, "author_submitExtrinsic", hexutil.Encode(extrinsic)); err != nil {
		return nil, l.rpcError("author_submitExtrinsic", err)
	}

	if local := ExtrinsicHash(extrinsic); local != hash {
		l.logger.Warn("node reported a different extrinsic hash", "local", local.Hex(), "remote", hash.Hex())
	}
	l.logger.Info("claim submitted", "destination", destination, "tx_hash", hash.Hex())

	return &types.Submission{
		TxHash:      hash.Hex(),
		Extrinsic:   hexutil.Encode(extrinsic),
		Destination: destination,
		SubmittedAt: time.Now().UTC(),
	}, nil
}

type blockHeader struct {
	ParentHash common.Hash `json:"parentHash"`
	Number     string      `json:"number"`
}

type signedBlock struct {
	Block struct {
		Header     blockHeader     `json:"header"`
		Extrinsics []hexutil.Bytes `json:"extrinsics"`
	} `json:"block"`
}

func parseBlockNumber(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
}

// WaitFinalized polls the finalized head until a block containing the submitted
// extrinsic is found or the finality timeout passes. Inclusion is matched by
// extrinsic hash only; a dispatch error in that block is not detected.
func (l *Ledger) WaitFinalized(ctx context.Context, sub *types.Submission) (*types.Finality, error) {
	if sub == nil {
		return nil, fmt.Errorf("submission is required")
	}
	target, err := l.submissionHash(sub)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, l.cfg.FinalityTimeout)
	defer cancel()

	lease, err := l.conn.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	seen := make(map[common.Hash]struct{})
	ticker := time.NewTicker(l.cfg.FinalityPollInterval)
	defer ticker.Stop()

	for {
		finality, err := l.scanFinalized(ctx, lease, target, seen)
		switch {
		case finality != nil:
			finality.TxHash = sub.TxHash
			l.logger.Info("claim finalized", "tx_hash", sub.TxHash, "block", finality.BlockHash, "number", finality.BlockNumber)
			return finality, nil
		case err != nil && ctx.Err() == nil:
			l.logger.Debug("finality scan failed", "error", err)
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", ErrFinalityTimeout, sub.TxHash)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Ledger) submissionHash(sub *types.Submission) (common.Hash, error) {
	if sub.Extrinsic != "" {
		raw, err := hexutil.Decode(sub.Extrinsic)
		if err != nil {
			return common.Hash{}, &DecodeError{What: "extrinsic", Err: err}
		}
		return ExtrinsicHash(raw), nil
	}
	raw, err := hexutil.Decode(sub.TxHash)
	if err != nil || len(raw) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid transaction hash %q", sub.TxHash)
	}
	return common.BytesToHash(raw), nil
}

// scanFinalized walks back from the finalized head until it reaches a block
// it has already inspected or the scan limit
func (l *Ledger) scanFinalized(ctx context.Context, lease *Lease, target common.Hash, seen map[common.Hash]struct{}) (*types.Finality, error) {
	client := lease.Client()

	var head common.Hash
	if err := client.CallContext(ctx, &head, "chain_getFinalizedHead"); err != nil {
		return nil, l.rpcError("chain_getFinalizedHead", err)
	}

	hash := head
	for i := 0; i < constants.MaxFinalityScanBlocks; i++ {
		if _, ok := seen[hash]; ok || hash == (common.Hash{}) {
			return nil, nil
		}

		var block *signedBlock
		if err := client.CallContext(ctx, &block, "chain_getBlock", hash); err != nil {
			return nil, l.rpcError("chain_getBlock", err)
		}
		if block == nil {
			return nil, nil
		}
		seen[hash] = struct{}{}

		for _, ext := range block.Block.Extrinsics {
			if ExtrinsicHash(ext) == target {
				number, err := parseBlockNumber(block.Block.Header.Number)
				if err != nil {
					return nil, &DecodeError{What: "block number", Err: err}
				}
				return &types.Finality{BlockHash: hash.Hex(), BlockNumber: number}, nil
			}
		}
		hash = block.Block.Header.ParentHash
	}
	return nil, nil
}

func (l *Ledger) rpcError(method string, err error) error {
	return &RPCError{Endpoint: l.conn.Endpoint(), Method: method, Err: err}
}
