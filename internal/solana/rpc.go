package solana

import "context"

// RPCClient defines the Solana RPC HTTP reads needed to inspect SPL token state.
type RPCClient interface {
	// GetAccountInfo retrieves account info by public key.
	// Returns nil, nil if the account does not exist.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)

	// GetTokenAccountsByOwner lists token accounts owned by owner, filtered by mint.
	GetTokenAccountsByOwner(ctx context.Context, owner, mint string) ([]KeyedAccount, error)
}

// KeyedAccount is an account returned together with its address.
type KeyedAccount struct {
	Pubkey  string
	Account AccountInfo
}
