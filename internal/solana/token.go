package solana

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/mr-tron/base58"
)

// SPL Token account sizes. Token-2022 accounts may carry extensions past these.
const (
	MintSize         = 82
	TokenAccountSize = 165
)

// GetMint fetches and decodes a mint account.
// Returns ErrAccountNotFound if the mint does not exist.
func GetMint(ctx context.Context, rpc RPCClient, address string) (*Mint, error) {
	info, err := rpc.GetAccountInfo(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("get mint account info: %w", err)
	}
	if info == nil {
		return nil, fmt.Errorf("mint %s: %w", address, ErrAccountNotFound)
	}
	return ParseMint(address, info)
}

// GetTokenAccount fetches and decodes a token account.
// Returns ErrAccountNotFound if the account does not exist.
func GetTokenAccount(ctx context.Context, rpc RPCClient, address string) (*TokenAccount, error) {
	info, err := rpc.GetAccountInfo(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("get token account info: %w", err)
	}
	if info == nil {
		return nil, fmt.Errorf("token account %s: %w", address, ErrAccountNotFound)
	}
	return ParseTokenAccount(address, info)
}

// ParseMint decodes SPL Token Mint account data.
// SPL Token Mint layout (82 bytes):
// - mintAuthority: COption<Pubkey> (36 bytes: 4 + 32)
// - supply: u64 (8 bytes)
// - decimals: u8 (1 byte)
// - isInitialized: bool (1 byte)
// - freezeAuthority: COption<Pubkey> (36 bytes: 4 + 32)
func ParseMint(address string, info *AccountInfo) (*Mint, error) {
	if !isTokenProgram(info.Owner) {
		return nil, fmt.Errorf("mint %s owned by %s: %w", address, info.Owner, ErrInvalidAccountOwner)
	}

	decoded, err := base64.StdEncoding.DecodeString(info.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode mint data: %v", ErrInvalidAccountData, err)
	}
	if len(decoded) < MintSize {
		return nil, fmt.Errorf("%w: mint data too short: %d", ErrInvalidAccountData, len(decoded))
	}

	mint := &Mint{
		Address:         address,
		Supply:          new(big.Int).SetUint64(binary.LittleEndian.Uint64(decoded[36:44])),
		Decimals:        decoded[44],
		IsInitialized:   decoded[45] != 0,
		MintAuthority:   parseCOptionPubkey(decoded[0:36]),
		FreezeAuthority: parseCOptionPubkey(decoded[46:82]),
		ProgramID:       info.Owner,
		Slot:            info.Slot,
	}
	if !mint.IsInitialized {
		return nil, fmt.Errorf("%w: mint %s is not initialized", ErrInvalidAccountData, address)
	}

	return mint, nil
}

// ParseTokenAccount decodes SPL token account data.
// Token account layout: mint(32) | owner(32) | amount(8) | ...
func ParseTokenAccount(address string, info *AccountInfo) (*TokenAccount, error) {
	if !isTokenProgram(info.Owner) {
		return nil, fmt.Errorf("token account %s owned by %s: %w", address, info.Owner, ErrInvalidAccountOwner)
	}

	decoded, err := base64.StdEncoding.DecodeString(info.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode token account data: %v", ErrInvalidAccountData, err)
	}
	if len(decoded) < TokenAccountSize {
		return nil, fmt.Errorf("%w: token account data too short: %d", ErrInvalidAccountData, len(decoded))
	}

	return &TokenAccount{
		Address: address,
		Mint:    base58.Encode(decoded[0:32]),
		Owner:   base58.Encode(decoded[32:64]),
		Amount:  new(big.Int).SetUint64(binary.LittleEndian.Uint64(decoded[64:72])),
		Slot:    info.Slot,
	}, nil
}

// parseCOptionPubkey decodes a 36-byte COption<Pubkey>: u32 tag followed by the key.
func parseCOptionPubkey(b []byte) *string {
	if binary.LittleEndian.Uint32(b[0:4]) == 0 {
		return nil
	}
	key := base58.Encode(b[4:36])
	return &key
}

func isTokenProgram(owner string) bool {
	return owner == TokenProgramID || owner == Token2022ProgramID
}
