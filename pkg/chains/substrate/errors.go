package substrate

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when a lease is requested from a closed connection
	ErrClosed = errors.New("ledger connection closed")

	// ErrInvalidAddress is returned for destinations that are neither SS58 nor 32-byte hex
	ErrInvalidAddress = errors.New("invalid ledger address")

	// ErrInvalidAccount is returned for eligibility lookups on a malformed Ethereum address
	ErrInvalidAccount = errors.New("invalid ethereum account")

	// ErrFinalityTimeout is returned when a submitted claim is not seen in a finalized block in time
	ErrFinalityTimeout = errors.New("claim not finalized before timeout")
)

// RPCError represents a failed ledger call
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

// DecodeError is returned when a storage value has an unexpected encoding
type DecodeError struct {
	What string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s: %v", e.What, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
