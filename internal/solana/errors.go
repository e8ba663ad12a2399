package solana

import (
	"errors"
	"fmt"
)

var (
	// ErrAccountNotFound is returned when a required account does not exist on chain.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidAccountOwner is returned when an account is not owned by a token program.
	ErrInvalidAccountOwner = errors.New("invalid account owner")

	// ErrInvalidAccountData is returned when account data cannot be decoded.
	ErrInvalidAccountData = errors.New("invalid account data")

	// ErrMalformedResponse is returned when an RPC result cannot be unmarshaled.
	ErrMalformedResponse = errors.New("malformed rpc response")

	// ErrTransport is returned when the node could not be reached after all retries.
	ErrTransport = errors.New("rpc transport failure")
)

// RPCError represents a JSON-RPC 2.0 error returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}
