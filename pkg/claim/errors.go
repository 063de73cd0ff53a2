package claim

import (
	"errors"
	"fmt"

	"github.com/sigweihq/dotclaim/pkg/chains"
)

// Guard errors. These leave the orchestrator untouched.
var (
	ErrBusy             = errors.New("another claim operation is in flight")
	ErrNotConnected     = errors.New("no wallet account connected")
	ErrEmptyDestination = errors.New("destination address is empty")
	ErrNotEligible      = errors.New("account is not confirmed eligible")
	ErrTerminal         = errors.New("claim already submitted")
	ErrNotSubmitted     = errors.New("no claim submitted")
	ErrStale            = errors.New("result discarded after account change")
	ErrClosed           = errors.New("orchestrator closed")
)

// Kind classifies a failed step of the claim flow
type Kind string

const (
	KindProviderUnavailable Kind = "provider-unavailable"
	KindConnectionRefused   Kind = "connection-refused"
	KindRPCUnreachable      Kind = "rpc-unreachable"
	KindEligibilityRead     Kind = "eligibility-read-failure"
	KindSigningRejected     Kind = "signing-rejected"
	KindSigningFailure      Kind = "signing-failure"
	KindSubmissionFailure   Kind = "submission-failure"
	KindFinalityFailure     Kind = "finality-failure"
)

// Error is a classified failure of an orchestrator step
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of a classified error, or "" for anything else
func KindOf(err error) Kind {
	var claimErr *Error
	if errors.As(err, &claimErr) {
		return claimErr.Kind
	}
	return ""
}

// IsGuard reports whether err is a state-machine precondition failure
func IsGuard(err error) bool {
	for _, guard := range []error{ErrBusy, ErrNotConnected, ErrEmptyDestination, ErrNotEligible, ErrTerminal, ErrNotSubmitted, ErrStale, ErrClosed} {
		if errors.Is(err, guard) {
			return true
		}
	}
	return false
}

func connectError(err error) *Error {
	kind := KindConnectionRefused
	if errors.Is(err, chains.ErrProviderUnavailable) {
		kind = KindProviderUnavailable
	}
	return &Error{Kind: kind, Op: "connect", Err: err}
}

func eligibilityError(cause error) *Error {
	kind := KindEligibilityRead
	if errors.Is(cause, chains.ErrLedgerUnreachable) {
		kind = KindRPCUnreachable
	}
	return &Error{Kind: kind, Op: "check", Err: cause}
}

func signingError(err error) *Error {
	kind := KindSigningFailure
	if errors.Is(err, chains.ErrRejected) {
		kind = KindSigningRejected
	}
	return &Error{Kind: kind, Op: "sign", Err: err}
}

func submissionError(err error) *Error {
	if errors.Is(err, chains.ErrLedgerUnreachable) {
		return &Error{Kind: KindRPCUnreachable, Op: "submit", Err: err}
	}
	return &Error{Kind: KindSubmissionFailure, Op: "submit", Err: err}
}
