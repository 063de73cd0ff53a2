package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// EligibilityStatus is the three-valued outcome of a claim lookup
type EligibilityStatus string

const (
	EligibilityUnknown       EligibilityStatus = "unknown"
	EligibilityEligible      EligibilityStatus = "eligible"
	EligibilityNotEligible   EligibilityStatus = "not-eligible"
	EligibilityIndeterminate EligibilityStatus = "indeterminate"
)

// Eligibility is the result of a single claims storage read.
// Cause is only set when Status is EligibilityIndeterminate.
type Eligibility struct {
	Status  EligibilityStatus
	Account string   // Ethereum address the read was keyed by
	Amount  *big.Int // claimable amount, nil unless eligible
	Cause   error
}

// Eligible reports whether the ledger holds a claim for the account
func (e Eligibility) Eligible() bool {
	return e.Status == EligibilityEligible
}

// MarshalJSON renders the cause as a string and the amount in decimal
func (e Eligibility) MarshalJSON() ([]byte, error) {
	out := struct {
		Status  EligibilityStatus `json:"status"`
		Account string            `json:"account,omitempty"`
		Amount  string            `json:"amount,omitempty"`
		Cause   string            `json:"cause,omitempty"`
	}{
		Status:  e.Status,
		Account: e.Account,
	}
	if e.Amount != nil {
		out.Amount = e.Amount.String()
	}
	if e.Cause != nil {
		out.Cause = e.Cause.Error()
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON; the cause comes back as a plain error
func (e *Eligibility) UnmarshalJSON(data []byte) error {
	var in struct {
		Status  EligibilityStatus `json:"status"`
		Account string            `json:"account"`
		Amount  string            `json:"amount"`
		Cause   string            `json:"cause"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	*e = Eligibility{Status: in.Status, Account: in.Account}
	if in.Amount != "" {
		amount, ok := new(big.Int).SetString(in.Amount, 10)
		if !ok {
			return fmt.Errorf("invalid eligibility amount %q", in.Amount)
		}
		e.Amount = amount
	}
	if in.Cause != "" {
		e.Cause = errors.New(in.Cause)
	}
	return nil
}

// ClaimAttestation is the wallet-signed payload binding a destination
// address to an Ethereum identity.
type ClaimAttestation struct {
	Scheme      string `json:"scheme"`
	Signer      string `json:"signer"`              // Ethereum account that signed
	Address     string `json:"address"`             // destination address that was signed
	Timestamp   int64  `json:"timestamp,omitempty"` // unix seconds, eip712 only
	Signature   string `json:"signature"`           // 0x-prefixed 65 byte r||s||v
	TypedData   string `json:"typedData,omitempty"` // eip712 payload JSON, for verifiers
	SignedAtUTC string `json:"signedAt"`
}

// Submission is what the ledger returned for an accepted claim extrinsic
type Submission struct {
	TxHash      string    `json:"txHash"`
	Extrinsic   string    `json:"extrinsic"`
	Destination string    `json:"destination"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Finality records where a submitted claim landed
type Finality struct {
	TxHash      string `json:"txHash"`
	BlockHash   string `json:"blockHash"`
	BlockNumber uint64 `json:"blockNumber"`
}

// ClaimState is a state of the claim flow
type ClaimState string

const (
	StateDisconnected  ClaimState = "disconnected"
	StateConnected     ClaimState = "connected"
	StateChecking      ClaimState = "checking"
	StateEligible      ClaimState = "eligible"
	StateNotEligible   ClaimState = "not-eligible"
	StateIndeterminate ClaimState = "indeterminate"
	StateSubmitting    ClaimState = "submitting"
	StateSubmitted     ClaimState = "submitted"
)

// Snapshot is a point-in-time copy of a claim session
type Snapshot struct {
	ID          string            `json:"id,omitempty"`
	State       ClaimState        `json:"state"`
	Account     string            `json:"account,omitempty"`
	Destination string            `json:"destination,omitempty"`
	Busy        bool              `json:"busy"`
	Eligibility *Eligibility      `json:"eligibility,omitempty"`
	Attestation *ClaimAttestation `json:"attestation,omitempty"`
	Submission  *Submission       `json:"submission,omitempty"`
	Finality    *Finality         `json:"finality,omitempty"`
	LastError   *ErrorInfo        `json:"lastError,omitempty"`
}

// ErrorInfo is the wire form of a classified failure
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// DestinationRequest sets the destination address of a session
type DestinationRequest struct {
	Address string `json:"address"`
}

// StatusResponse describes the agent's ledger connection and signing contract
type StatusResponse struct {
	LedgerEndpoint string `json:"ledgerEndpoint"`
	LedgerLoading  bool   `json:"ledgerLoading"`
	LedgerError    string `json:"ledgerError,omitempty"`
	Scheme         string `json:"scheme"`
	TotalClaims    string `json:"totalClaims,omitempty"`
	Sessions       int    `json:"sessions"`
}

// ErrorResponse is the body of every non-2xx API response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
