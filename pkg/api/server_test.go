package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigweihq/dotclaim/pkg/chains"
	"github.com/sigweihq/dotclaim/pkg/chains/evm"
	"github.com/sigweihq/dotclaim/pkg/claim"
	"github.com/sigweihq/dotclaim/pkg/types"
)

// Test private key (DO NOT USE IN PRODUCTION)
const (
	testPrivateKeyHex = "9116d6c6a9c830c06af62af6d4101b566e2466d88510b6c11d655545c74790a4"
	testDestination   = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeLedger struct {
	mu        sync.Mutex
	claims    map[common.Address]*big.Int
	cause     error
	submitted int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{claims: make(map[common.Address]*big.Int)}
}

func (l *fakeLedger) register(account string, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.claims[common.HexToAddress(account)] = big.NewInt(amount)
}

func (l *fakeLedger) CheckEligibility(ctx context.Context, account string) types.Eligibility {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cause != nil {
		return types.Eligibility{Status: types.EligibilityIndeterminate, Account: account, Cause: l.cause}
	}
	if amount, ok := l.claims[common.HexToAddress(account)]; ok {
		return types.Eligibility{Status: types.EligibilityEligible, Account: account, Amount: amount}
	}
	return types.Eligibility{Status: types.EligibilityNotEligible, Account: account}
}

func (l *fakeLedger) Claim(ctx context.Context, destination string, signature []byte) (*types.Submission, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submitted++
	return &types.Submission{
		TxHash:      fmt.Sprintf("0x%064x", l.submitted),
		Destination: destination,
		SubmittedAt: time.Now().UTC(),
	}, nil
}

func (l *fakeLedger) WaitFinalized(ctx context.Context, sub *types.Submission) (*types.Finality, error) {
	return &types.Finality{TxHash: sub.TxHash, BlockHash: "0x" + strings.Repeat("ab", 32), BlockNumber: 7}, nil
}

func (l *fakeLedger) TotalClaims(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1000), nil
}

var (
	_ chains.LedgerClient    = (*fakeLedger)(nil)
	_ chains.FinalityWatcher = (*fakeLedger)(nil)
)

type fakeStatus struct{ err error }

func (s fakeStatus) Endpoint() string { return "ws://127.0.0.1:9944" }
func (s fakeStatus) Loading() bool { return false }
func (s fakeStatus) Err() error { return s.err }

type fixture struct {
	server   *Server
	http     *httptest.Server
	ledger   *fakeLedger
	provider *evm.KeyProvider
	account  string
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()

	key, err := crypto.HexToECDSA(testPrivateKeyHex)
	require.NoError(t, err)
	provider := evm.NewKeyProvider(key)
	ledger := newFakeLedger()

	opts := Options{
		Provider: provider,
		Scheme:   evm.NewPersonalSignScheme(),
		Ledger:   ledger,
		Status:   fakeStatus{},
		Totals:   ledger,
		Logger:   testLogger(),
	}
	if mutate != nil {
		mutate(&opts)
	}

	server, err := NewServer(opts)
	require.NoError(t, err)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		ts.Close()
		server.Close()
	})

	return &fixture{
		server:   server,
		http:     ts,
		ledger:   ledger,
		provider: provider,
		account:  crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		if raw, ok := body.(string); ok {
			reader = strings.NewReader(raw)
		} else {
			buf, err := json.Marshal(body)
			require.NoError(t, err)
			reader = bytes.NewReader(buf)
		}
	}

	req, err := http.NewRequest(method, f.http.URL+"/api/v1"+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (f *fixture) snapshot(t *testing.T, method, path string, body any, wantStatus int) types.Snapshot {
	t.Helper()
	resp, data := f.do(t, method, path, body)
	require.Equal(t, wantStatus, resp.StatusCode, string(data))

	var snap types.Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	return snap
}

func (f *fixture) failure(t *testing.T, method, path string, body any, wantStatus int) types.ErrorResponse {
	t.Helper()
	resp, data := f.do(t, method, path, body)
	require.Equal(t, wantStatus, resp.StatusCode, string(data))

	var errResp types.ErrorResponse
	require.NoError(t, json.Unmarshal(data, &errResp))
	return errResp
}

func (f *fixture) createSession(t *testing.T) string {
	t.Helper()
	snap := f.snapshot(t, http.MethodPost, "/sessions", nil, http.StatusCreated)
	require.NotEmpty(t, snap.ID)
	assert.Equal(t, types.StateDisconnected, snap.State)
	return snap.ID
}

func TestNewServerRequiresDependencies(t *testing.T) {
	_, err := NewServer(Options{Ledger: newFakeLedger()})
	assert.Error(t, err)

	_, err = NewServer(Options{Scheme: evm.NewPersonalSignScheme()})
	assert.Error(t, err)
}

func TestClaimFlowOverHTTP(t *testing.T) {
	f := newFixture(t, nil)
	f.ledger.register(f.account, 10)

	id := f.createSession(t)

	snap := f.snapshot(t, http.MethodPost, "/sessions/"+id+"/connect", nil, http.StatusOK)
	assert.Equal(t, types.StateConnected, snap.State)
	assert.Equal(t, f.account, snap.Account)

	snap = f.snapshot(t, http.MethodPut, "/sessions/"+id+"/destination", types.DestinationRequest{Address: " " + testDestination + " "}, http.StatusOK)
	assert.Equal(t, testDestination, snap.Destination)

	snap = f.snapshot(t, http.MethodPost, "/sessions/"+id+"/check", nil, http.StatusOK)
	assert.Equal(t, types.StateEligible, snap.State)
	require.NotNil(t, snap.Eligibility)
	assert.Equal(t, types.EligibilityEligible, snap.Eligibility.Status)

	snap = f.snapshot(t, http.MethodPost, "/sessions/"+id+"/submit", nil, http.StatusOK)
	assert.Equal(t, types.StateSubmitted, snap.State)
	require.NotNil(t, snap.Submission)
	require.NotNil(t, snap.Attestation)
	assert.Equal(t, f.account, snap.Attestation.Signer)

	snap = f.snapshot(t, http.MethodPost, "/sessions/"+id+"/finality", nil, http.StatusOK)
	require.NotNil(t, snap.Finality)
	assert.Equal(t, uint64(7), snap.Finality.BlockNumber)
	assert.Equal(t, snap.Submission.TxHash, snap.Finality.TxHash)

	errResp := f.failure(t, http.MethodPost, "/sessions/"+id+"/submit", nil, http.StatusConflict)
	assert.Contains(t, errResp.Error, "already submitted")

	f.failure(t, http.MethodPut, "/sessions/"+id+"/destination", types.DestinationRequest{Address: "other"}, http.StatusConflict)

	snap = f.snapshot(t, http.MethodPost, "/sessions/"+id+"/reset", nil, http.StatusOK)
	assert.Equal(t, types.StateConnected, snap.State)
	assert.Empty(t, snap.Destination)
	assert.Nil(t, snap.Submission)
}

func TestGuardsMapToStatusCodes(t *testing.T) {
	f := newFixture(t, nil)
	id := f.createSession(t)

	f.failure(t, http.MethodPost, "/sessions/"+id+"/check", nil, http.StatusPreconditionFailed)
	f.failure(t, http.MethodPost, "/sessions/"+id+"/submit", nil, http.StatusPreconditionFailed)
	f.failure(t, http.MethodPost, "/sessions/"+id+"/finality", nil, http.StatusPreconditionFailed)

	f.snapshot(t, http.MethodPost, "/sessions/"+id+"/connect", nil, http.StatusOK)
	f.failure(t, http.MethodPost, "/sessions/"+id+"/check", nil, http.StatusPreconditionFailed)

	f.snapshot(t, http.MethodPut, "/sessions/"+id+"/destination", types.DestinationRequest{Address: testDestination}, http.StatusOK)
	snap := f.snapshot(t, http.MethodPost, "/sessions/"+id+"/check", nil, http.StatusOK)
	assert.Equal(t, types.StateNotEligible, snap.State)

	f.failure(t, http.MethodPost, "/sessions/"+id+"/submit", nil, http.StatusPreconditionFailed)
	assert.Zero(t, f.ledger.submitted)
}

func TestClassifiedErrors(t *testing.T) {
	t.Run("no provider", func(t *testing.T) {
		f := newFixture(t, func(o *Options) { o.Provider = nil })
		id := f.createSession(t)

		errResp := f.failure(t, http.MethodPost, "/sessions/"+id+"/connect", nil, http.StatusServiceUnavailable)
		assert.Equal(t, string(claim.KindProviderUnavailable), errResp.Details)
	})

	t.Run("connection refused", func(t *testing.T) {
		f := newFixture(t, nil)
		f.provider.SetApprover(func(string) bool { return false })
		id := f.createSession(t)

		errResp := f.failure(t, http.MethodPost, "/sessions/"+id+"/connect", nil, http.StatusForbidden)
		assert.Equal(t, string(claim.KindConnectionRefused), errResp.Details)
	})

	t.Run("signing rejected", func(t *testing.T) {
		f := newFixture(t, nil)
		f.ledger.register(f.account, 10)
		f.provider.SetApprover(func(method string) bool { return method == "eth_requestAccounts" })
		id := f.createSession(t)

		f.snapshot(t, http.MethodPost, "/sessions/"+id+"/connect", nil, http.StatusOK)
		f.snapshot(t, http.MethodPut, "/sessions/"+id+"/destination", types.DestinationRequest{Address: testDestination}, http.StatusOK)
		f.snapshot(t, http.MethodPost, "/sessions/"+id+"/check", nil, http.StatusOK)

		errResp := f.failure(t, http.MethodPost, "/sessions/"+id+"/submit", nil, http.StatusForbidden)
		assert.Equal(t, string(claim.KindSigningRejected), errResp.Details)

		snap := f.snapshot(t, http.MethodGet, "/sessions/"+id, nil, http.StatusOK)
		assert.Equal(t, types.StateEligible, snap.State)
		require.NotNil(t, snap.LastError)
		assert.Equal(t, string(claim.KindSigningRejected), snap.LastError.Kind)
		assert.Zero(t, f.ledger.submitted)
	})

	t.Run("ledger unreachable", func(t *testing.T) {
		f := newFixture(t, nil)
		f.ledger.cause = fmt.Errorf("%w: dial refused", chains.ErrLedgerUnreachable)
		id := f.createSession(t)

		f.snapshot(t, http.MethodPost, "/sessions/"+id+"/connect", nil, http.StatusOK)
		f.snapshot(t, http.MethodPut, "/sessions/"+id+"/destination", types.DestinationRequest{Address: testDestination}, http.StatusOK)

		errResp := f.failure(t, http.MethodPost, "/sessions/"+id+"/check", nil, http.StatusBadGateway)
		assert.Equal(t, string(claim.KindRPCUnreachable), errResp.Details)

		snap := f.snapshot(t, http.MethodGet, "/sessions/"+id, nil, http.StatusOK)
		assert.Equal(t, types.StateIndeterminate, snap.State)
	})
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	f.failure(t, http.MethodGet, "/sessions/not-a-uuid", nil, http.StatusNotFound)
	f.failure(t, http.MethodGet, "/sessions/0b7c4a58-3c4e-4a8e-9f5e-0d3f0c3f6a11", nil, http.StatusNotFound)

	id := f.createSession(t)
	assert.Equal(t, 1, f.server.Sessions())

	resp, _ := f.do(t, http.MethodDelete, "/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, f.server.Sessions())

	f.failure(t, http.MethodDelete, "/sessions/"+id, nil, http.StatusNotFound)
}

func TestSessionAdoptsAuthorizedAccount(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.provider.RequestAccounts(context.Background())
	require.NoError(t, err)

	snap := f.snapshot(t, http.MethodPost, "/sessions", nil, http.StatusCreated)
	assert.Equal(t, types.StateConnected, snap.State)
	assert.Equal(t, f.account, snap.Account)

	f.ledger.register(f.account, 10)
	f.snapshot(t, http.MethodPut, "/sessions/"+snap.ID+"/destination", types.DestinationRequest{Address: testDestination}, http.StatusOK)
	snap = f.snapshot(t, http.MethodPost, "/sessions/"+snap.ID+"/check", nil, http.StatusOK)
	assert.Equal(t, types.StateEligible, snap.State)
}

func TestSessionsAreIsolated(t *testing.T) {
	f := newFixture(t, nil)

	first := f.createSession(t)
	second := f.createSession(t)

	f.snapshot(t, http.MethodPost, "/sessions/"+first+"/connect", nil, http.StatusOK)
	f.snapshot(t, http.MethodPut, "/sessions/"+first+"/destination", types.DestinationRequest{Address: testDestination}, http.StatusOK)

	snap := f.snapshot(t, http.MethodGet, "/sessions/"+second, nil, http.StatusOK)
	assert.Empty(t, snap.Destination)
}

func TestInvalidBodies(t *testing.T) {
	f := newFixture(t, nil)
	id := f.createSession(t)

	f.failure(t, http.MethodPut, "/sessions/"+id+"/destination", "{not json", http.StatusBadRequest)
	f.failure(t, http.MethodPut, "/sessions/"+id+"/destination", `{"address":"x","extra":1}`, http.StatusBadRequest)
	f.failure(t, http.MethodPut, "/sessions/"+id+"/destination", nil, http.StatusBadRequest)
	f.failure(t, http.MethodPut, "/sessions/"+id+"/destination", `{"address":"`+strings.Repeat("a", 70*1024)+`"}`, http.StatusBadRequest)
}

func TestUnknownRoutes(t *testing.T) {
	f := newFixture(t, nil)
	f.failure(t, http.MethodGet, "/nothing", nil, http.StatusNotFound)
	f.failure(t, http.MethodGet, "/sessions/x/check", nil, http.StatusMethodNotAllowed)
	f.failure(t, http.MethodPatch, "/sessions", nil, http.StatusMethodNotAllowed)
	f.failure(t, http.MethodPost, "/sessions/x/unknown", nil, http.StatusNotFound)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, nil)
	f.createSession(t)

	resp, data := f.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status types.StatusResponse
	require.NoError(t, json.Unmarshal(data, &status))
	assert.Equal(t, "ws://127.0.0.1:9944", status.LedgerEndpoint)
	assert.Equal(t, "personal_sign", status.Scheme)
	assert.Equal(t, "1000", status.TotalClaims)
	assert.Equal(t, 1, status.Sessions)

	f = newFixture(t, func(o *Options) { o.Status = fakeStatus{err: errors.New("dial failed")} })
	resp, data = f.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var degraded types.StatusResponse
	require.NoError(t, json.Unmarshal(data, &degraded))
	assert.Equal(t, "dial failed", degraded.LedgerError)
	assert.Empty(t, degraded.TotalClaims)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.RateLimit = 0.001
		o.RateBurst = 2
	})

	for i := 0; i < 2; i++ {
		resp, _ := f.do(t, http.MethodGet, "/status", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Remaining"))
	}

	resp, _ := f.do(t, http.MethodGet, "/status", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))
}

func TestIdleSessionsExpire(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.IdleTimeout = time.Hour })

	f.createSession(t)
	kept := f.createSession(t)

	f.server.sessions.now = func() time.Time { return time.Now().Add(50 * time.Minute) }
	f.snapshot(t, http.MethodGet, "/sessions/"+kept, nil, http.StatusOK)

	assert.Equal(t, 1, f.server.sessions.expire(time.Now().Add(90*time.Minute)))
	assert.Equal(t, 1, f.server.Sessions())
	f.snapshot(t, http.MethodGet, "/sessions/"+kept, nil, http.StatusOK)
}

func TestCloseIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.createSession(t)

	f.server.Close()
	f.server.Close()
	assert.Equal(t, 0, f.server.Sessions())
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errSessionNotFound, http.StatusNotFound},
		{claim.ErrBusy, http.StatusConflict},
		{claim.ErrStale, http.StatusConflict},
		{claim.ErrNotEligible, http.StatusPreconditionFailed},
		{&claim.Error{Kind: claim.KindSubmissionFailure, Op: "submit", Err: errors.New("x")}, http.StatusBadGateway},
		{&claim.Error{Kind: claim.KindFinalityFailure, Op: "finality", Err: errors.New("x")}, http.StatusGatewayTimeout},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
