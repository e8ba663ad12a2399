package supply

import (
	"context"
	"errors"
	"fmt"
	"net"

	"forge-supply/internal/solana"
)

// Kind classifies why a supply computation failed.
type Kind string

const (
	KindNetwork  Kind = "network"
	KindDecode   Kind = "decode"
	KindNotFound Kind = "not_found"
	KindUpstream Kind = "upstream"
)

// Op names the upstream read that failed.
type Op string

const (
	OpGetMint      Op = "get_mint"
	OpListAccounts Op = "list_accounts"
	OpGetBalance   Op = "get_balance"
)

// Error is returned by Reporter.Compute. Every Kind maps to the same opaque
// HTTP response; Kind and Op are for logs and metrics.
type Error struct {
	Kind    Kind
	Op      Op
	Account string
	Err     error
}

func (e *Error) Error() string {
	if e.Account != "" {
		return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Account, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op Op, account string, err error) *Error {
	return &Error{
		Kind:    Classify(err),
		Op:      op,
		Account: account,
		Err:     err,
	}
}

// Classify maps an upstream error to a Kind.
func Classify(err error) Kind {
	var rpcErr *solana.RPCError
	var netErr net.Error

	switch {
	case errors.Is(err, solana.ErrAccountNotFound):
		return KindNotFound
	case errors.Is(err, solana.ErrInvalidAccountData),
		errors.Is(err, solana.ErrInvalidAccountOwner),
		errors.Is(err, solana.ErrMalformedResponse):
		return KindDecode
	case errors.Is(err, solana.ErrTransport),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.As(err, &netErr):
		return KindNetwork
	case errors.As(err, &rpcErr):
		return KindUpstream
	default:
		return KindUpstream
	}
}
