package solana

import "math/big"

// Well-known program IDs.
const (
	TokenProgramID           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramID       = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
	AssociatedTokenProgramID = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
)

// Commitment levels accepted by the RPC node.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// Mint is a decoded SPL token mint account.
type Mint struct {
	Address         string
	Supply          *big.Int
	Decimals        uint8
	IsInitialized   bool
	MintAuthority   *string
	FreezeAuthority *string
	ProgramID       string
	Slot            int64
}

// TokenAccount is a decoded SPL token account.
type TokenAccount struct {
	Address string
	Mint    string
	Owner   string
	Amount  *big.Int
	Slot    int64
}
