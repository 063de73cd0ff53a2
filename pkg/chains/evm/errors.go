package evm

import (
	"errors"
	"fmt"

	"github.com/sigweihq/dotclaim/pkg/chains"
)

var (
	// ErrProviderUnavailable is returned when no wallet provider is configured
	ErrProviderUnavailable = chains.ErrProviderUnavailable

	// ErrNoAccounts is returned when the provider authorizes zero accounts
	ErrNoAccounts = chains.ErrNoAccounts

	// ErrNotConnected is returned when signing is attempted without an account
	ErrNotConnected = errors.New("wallet not connected")

	// ErrUnknownAccount is returned when a provider is asked to sign for an account it does not hold
	ErrUnknownAccount = errors.New("account not managed by provider")

	// ErrLocked is returned by a KeyProvider whose keys were removed
	ErrLocked = errors.New("wallet locked")
)

// UnsupportedSchemeError is returned when a scheme name is not registered
type UnsupportedSchemeError struct {
	Scheme string
}

func (e *UnsupportedSchemeError) Error() string {
	return fmt.Sprintf("unsupported attestation scheme: %s", e.Scheme)
}

// RPCError represents a failure talking to a remote signer
type RPCError struct {
	Endpoint string
	Method   string
	Err      error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error on %s (%s): %v", e.Endpoint, e.Method, e.Err)
}

func (e *RPCError) Unwrap() error {
	return e.Err
}

// RejectedError is returned when the provider refuses a request (EIP-1193 code 4001 or 4100)
type RejectedError struct {
	Method string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Method, e.Reason)
}

// Is lets errors.Is(err, chains.ErrRejected) match
func (e *RejectedError) Is(target error) bool {
	return target == chains.ErrRejected
}

// IsRejected reports whether err is a user or provider rejection
func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}
