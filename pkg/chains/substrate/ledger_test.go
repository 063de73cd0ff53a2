package substrate

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigweihq/dotclaim/pkg/chains"
	"github.com/sigweihq/dotclaim/pkg/types"
)

const (
	registeredAccount   = "0x79933Da2de793DFC61c90017884C253B9BDF8B90"
	unregisteredAccount = "0x0000000000000000000000000000000000000001"
)

// fakeNode is an in-memory ledger serving the state, author and chain namespaces
type fakeNode struct {
	mu          sync.Mutex
	storage     map[string]hexutil.Bytes
	failReads   bool
	failSubmit  bool
	holdBlocks  bool
	submitted   []hexutil.Bytes
	blocks      map[common.Hash]*signedBlock
	finalized   common.Hash
	blockNumber uint64
}

func newFakeNode() *fakeNode {
	n := &fakeNode{
		storage: make(map[string]hexutil.Bytes),
		blocks:  make(map[common.Hash]*signedBlock),
	}
	n.addBlockLocked()
	return n
}

// addBlockLocked appends a finalized block on top of the current head
func (n *fakeNode) addBlockLocked(extrinsics ...hexutil.Bytes) common.Hash {
	block := &signedBlock{}
	block.Block.Header.ParentHash = n.finalized
	block.Block.Header.Number = hexutil.EncodeUint64(n.blockNumber)
	block.Block.Extrinsics = extrinsics

	hash := common.BigToHash(new(big.Int).SetUint64(n.blockNumber + 0x1000))
	n.blocks[hash] = block
	n.finalized = hash
	n.blockNumber++
	return hash
}

func (n *fakeNode) addBlock(extrinsics ...hexutil.Bytes) common.Hash {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.addBlockLocked(extrinsics...)
}

func (n *fakeNode) set(key []byte, value []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.storage[hexutil.Encode(key)] = value
}

type stateAPI struct{ node *fakeNode }

func (s *stateAPI) GetStorage(key hexutil.Bytes) (*hexutil.Bytes, error) {
	s.node.mu.Lock()
	defer s.node.mu.Unlock()
	if s.node.failReads {
		return nil, errors.New("state unavailable")
	}
	value, ok := s.node.storage[key.String()]
	if !ok {
		return nil, nil
	}
	return &value, nil
}

type authorAPI struct{ node *fakeNode }

func (a *authorAPI) SubmitExtrinsic(extrinsic hexutil.Bytes) (common.Hash, error) {
	a.node.mu.Lock()
	defer a.node.mu.Unlock()
	if a.node.failSubmit {
		return common.Hash{}, errors.New("Transaction has a bad signature")
	}
	a.node.submitted = append(a.node.submitted, extrinsic)
	if !a.node.holdBlocks {
		a.node.addBlockLocked(extrinsic)
	}
	return ExtrinsicHash(extrinsic), nil
}

type chainAPI struct{ node *fakeNode }

func (c *chainAPI) GetFinalizedHead() common.Hash {
	c.node.mu.Lock()
	defer c.node.mu.Unlock()
	return c.node.finalized
}

func (c *chainAPI) GetBlock(hash common.Hash) *signedBlock {
	c.node.mu.Lock()
	defer c.node.mu.Unlock()
	return c.node.blocks[hash]
}

func newTestLedger(t *testing.T, node *fakeNode, cfg LedgerConfig) *Ledger {
	t.Helper()

	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("state", &stateAPI{node: node}))
	require.NoError(t, server.RegisterName("author", &authorAPI{node: node}))
	require.NoError(t, server.RegisterName("chain", &chainAPI{node: node}))
	t.Cleanup(server.Stop)

	conn := NewConnection("inproc", rpc.DialInProc(server), testLogger())
	t.Cleanup(conn.Close)

	ledger, err := NewLedger(conn, cfg, testLogger())
	require.NoError(t, err)
	return ledger
}

func u128(v int64) []byte {
	out, _ := EncodeU128(big.NewInt(v))
	return out
}

func TestCheckEligibility(t *testing.T) {
	node := newFakeNode()
	ledger := newTestLedger(t, node, LedgerConfig{})

	key, err := ledger.ClaimKey(registeredAccount)
	require.NoError(t, err)
	node.set(key, u128(10))

	t.Run("registered", func(t *testing.T) {
		result := ledger.CheckEligibility(context.Background(), registeredAccount)
		assert.Equal(t, types.EligibilityEligible, result.Status)
		assert.True(t, result.Eligible())
		assert.Equal(t, int64(10), result.Amount.Int64())
		assert.NoError(t, result.Cause)
	})

	t.Run("lowercase address resolves the same key", func(t *testing.T) {
		result := ledger.CheckEligibility(context.Background(), "0x79933da2de793dfc61c90017884c253b9bdf8b90")
		assert.Equal(t, types.EligibilityEligible, result.Status)
	})

	t.Run("unregistered", func(t *testing.T) {
		result := ledger.CheckEligibility(context.Background(), unregisteredAccount)
		assert.Equal(t, types.EligibilityNotEligible, result.Status)
		assert.Nil(t, result.Amount)
		assert.NoError(t, result.Cause)
	})

	t.Run("malformed account", func(t *testing.T) {
		result := ledger.CheckEligibility(context.Background(), "0x1234")
		assert.Equal(t, types.EligibilityIndeterminate, result.Status)
		assert.ErrorIs(t, result.Cause, ErrInvalidAccount)
	})

	t.Run("read failure is indeterminate", func(t *testing.T) {
		node.mu.Lock()
		node.failReads = true
		node.mu.Unlock()
		defer func() {
			node.mu.Lock()
			node.failReads = false
			node.mu.Unlock()
		}()

		result := ledger.CheckEligibility(context.Background(), registeredAccount)
		assert.Equal(t, types.EligibilityIndeterminate, result.Status)
		var rpcErr *RPCError
		require.ErrorAs(t, result.Cause, &rpcErr)
		assert.Equal(t, "state_getStorage", rpcErr.Method)
	})
}

func TestCheckEligibilityNonU128Value(t *testing.T) {
	node := newFakeNode()
	ledger := newTestLedger(t, node, LedgerConfig{})

	key, err := ledger.ClaimKey(registeredAccount)
	require.NoError(t, err)
	node.set(key, []byte{0x01})

	result := ledger.CheckEligibility(context.Background(), registeredAccount)
	assert.Equal(t, types.EligibilityEligible, result.Status)
	assert.Nil(t, result.Amount)
}

func TestCheckEligibilityUnreachable(t *testing.T) {
	conn := Open("ws://127.0.0.1:1", func(context.Context, string) (*rpc.Client, error) {
		return nil, errors.New("dial tcp: connection refused")
	}, testLogger())
	defer conn.Close()

	ledger, err := NewLedger(conn, LedgerConfig{}, testLogger())
	require.NoError(t, err)

	result := ledger.CheckEligibility(context.Background(), registeredAccount)
	assert.Equal(t, types.EligibilityIndeterminate, result.Status)
	assert.ErrorIs(t, result.Cause, chains.ErrLedgerUnreachable)
}

func TestCheckEligibilityHonorsKeyHasher(t *testing.T) {
	node := newFakeNode()
	identity := newTestLedger(t, node, LedgerConfig{KeyHasher: HasherIdentity})
	blake := newTestLedger(t, node, LedgerConfig{})

	key, err := identity.ClaimKey(registeredAccount)
	require.NoError(t, err)
	node.set(key, u128(5))

	assert.Equal(t, types.EligibilityEligible, identity.CheckEligibility(context.Background(), registeredAccount).Status)
	assert.Equal(t, types.EligibilityNotEligible, blake.CheckEligibility(context.Background(), registeredAccount).Status)
}

func TestNewLedgerValidation(t *testing.T) {
	_, err := NewLedger(nil, LedgerConfig{}, nil)
	assert.Error(t, err)

	conn := NewConnection("inproc", rpc.DialInProc(rpc.NewServer()), testLogger())
	defer conn.Close()

	_, err = NewLedger(conn, LedgerConfig{KeyHasher: "md5"}, nil)
	assert.Error(t, err)

	ledger, err := NewLedger(conn, LedgerConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultLedgerConfig().Pallet, ledger.cfg.Pallet)
	assert.Equal(t, HasherBlake2_128Concat, ledger.cfg.KeyHasher)
	assert.Same(t, conn, ledger.Connection())
}

func TestTotalClaims(t *testing.T) {
	node := newFakeNode()
	ledger := newTestLedger(t, node, LedgerConfig{})

	total, err := ledger.TotalClaims(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), total.Int64())

	node.set(StoragePrefix("Airdrop", "Total"), u128(1234))
	total, err = ledger.TotalClaims(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1234), total.Int64())
}

func TestClaimSubmitsAndFinalizes(t *testing.T) {
	node := newFakeNode()
	ledger := newTestLedger(t, node, LedgerConfig{
		ClaimCall:            CallIndex{Pallet: 9, Call: 0},
		FinalityPollInterval: 10 * time.Millisecond,
	})

	signature := make([]byte, 65)
	signature[64] = 27

	sub, err := ledger.Claim(context.Background(), aliceSS58, signature)
	require.NoError(t, err)
	assert.Equal(t, aliceSS58, sub.Destination)

	node.mu.Lock()
	require.Len(t, node.submitted, 1)
	submitted := node.submitted[0]
	node.mu.Unlock()

	assert.Equal(t, sub.Extrinsic, submitted.String())
	assert.Equal(t, ExtrinsicHash(submitted).Hex(), sub.TxHash)
	assert.Equal(t, []byte{0x91, 0x01, 0x04, 9, 0}, []byte(submitted[:5]))

	// Bury the claim under a few more finalized blocks
	node.addBlock()
	node.addBlock()

	finality, err := ledger.WaitFinalized(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, sub.TxHash, finality.TxHash)
	assert.Equal(t, uint64(1), finality.BlockNumber)
}

func TestWaitFinalizedPicksUpLaterBlocks(t *testing.T) {
	node := newFakeNode()
	node.holdBlocks = true
	ledger := newTestLedger(t, node, LedgerConfig{FinalityPollInterval: 10 * time.Millisecond})

	sub, err := ledger.Claim(context.Background(), aliceSS58, make([]byte, 65))
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		node.mu.Lock()
		ext := node.submitted[0]
		node.mu.Unlock()
		node.addBlock()
		node.addBlock(ext)
	}()

	finality, err := ledger.WaitFinalized(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), finality.BlockNumber)
}

func TestWaitFinalizedTimeout(t *testing.T) {
	node := newFakeNode()
	node.holdBlocks = true
	ledger := newTestLedger(t, node, LedgerConfig{
		FinalityTimeout:      80 * time.Millisecond,
		FinalityPollInterval: 10 * time.Millisecond,
	})

	sub, err := ledger.Claim(context.Background(), aliceSS58, make([]byte, 65))
	require.NoError(t, err)

	_, err = ledger.WaitFinalized(context.Background(), sub)
	assert.ErrorIs(t, err, ErrFinalityTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ledger.WaitFinalized(ctx, sub)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClaimFailures(t *testing.T) {
	node := newFakeNode()
	ledger := newTestLedger(t, node, LedgerConfig{})

	_, err := ledger.Claim(context.Background(), "", make([]byte, 65))
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = ledger.Claim(context.Background(), aliceSS58, make([]byte, 10))
	assert.Error(t, err)

	node.mu.Lock()
	node.failSubmit = true
	node.mu.Unlock()

	_, err = ledger.Claim(context.Background(), aliceSS58, make([]byte, 65))
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, "author_submitExtrinsic", rpcErr.Method)
	assert.Contains(t, err.Error(), "bad signature")

	_, err = ledger.WaitFinalized(context.Background(), nil)
	assert.Error(t, err)
}
