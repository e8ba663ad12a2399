// Package stub provides an in-memory Solana RPC for tests.
package stub

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/mr-tron/base58"

	"forge-supply/internal/solana"
)

// RPCClient implements solana.RPCClient for testing.
type RPCClient struct {
	mu       sync.RWMutex
	accounts map[string]*solana.AccountInfo
	// owned maps owner -> mint -> token account addresses
	owned map[string]map[string][]string

	// Errors injected per method name ("getAccountInfo", "getTokenAccountsByOwner").
	Errors map[string]error
	// AccountErrors injects an error for getAccountInfo of a specific address.
	AccountErrors map[string]error

	Calls atomic.Int64
}

// Compile-time interface check.
var _ solana.RPCClient = (*RPCClient)(nil)

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		accounts:      make(map[string]*solana.AccountInfo),
		owned:         make(map[string]map[string][]string),
		Errors:        make(map[string]error),
		AccountErrors: make(map[string]error),
	}
}

// GetAccountInfo returns the stored account or nil if absent.
func (c *RPCClient) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	c.Calls.Add(1)
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.Errors["getAccountInfo"]; err != nil {
		return nil, err
	}
	if err := c.AccountErrors[pubkey]; err != nil {
		return nil, err
	}
	info, ok := c.accounts[pubkey]
	if !ok {
		return nil, nil
	}
	infoCopy := *info
	return &infoCopy, nil
}

// GetTokenAccountsByOwner returns token accounts registered for owner and mint,
// sorted by address.
func (c *RPCClient) GetTokenAccountsByOwner(_ context.Context, owner, mint string) ([]solana.KeyedAccount, error) {
	c.Calls.Add(1)
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.Errors["getTokenAccountsByOwner"]; err != nil {
		return nil, err
	}

	addrs := append([]string(nil), c.owned[owner][mint]...)
	sort.Strings(addrs)

	result := make([]solana.KeyedAccount, 0, len(addrs))
	for _, addr := range addrs {
		var account solana.AccountInfo
		if info, ok := c.accounts[addr]; ok {
			account = *info
		}
		result = append(result, solana.KeyedAccount{Pubkey: addr, Account: account})
	}
	return result, nil
}

// SetMint stores an initialized SPL mint account.
func (c *RPCClient) SetMint(address string, supply uint64, decimals uint8) {
	data := make([]byte, solana.MintSize)
	binary.LittleEndian.PutUint64(data[36:44], supply)
	data[44] = decimals
	data[45] = 1

	c.setAccount(address, &solana.AccountInfo{
		Owner: solana.TokenProgramID,
		Data:  base64.StdEncoding.EncodeToString(data),
	})
}

// AddTokenAccount stores a token account and registers it under owner.
// Listing is keyed by mint and owner address strings; decodable base58 keys are
// written into the account data so it parses back to the same values.
func (c *RPCClient) AddTokenAccount(address, mint, owner string, amount uint64) {
	data := make([]byte, solana.TokenAccountSize)
	if b, err := base58.Decode(mint); err == nil && len(b) == 32 {
		copy(data[0:32], b)
	}
	if b, err := base58.Decode(owner); err == nil && len(b) == 32 {
		copy(data[32:64], b)
	}
	binary.LittleEndian.PutUint64(data[64:72], amount)

	c.setAccount(address, &solana.AccountInfo{
		Owner: solana.TokenProgramID,
		Data:  base64.StdEncoding.EncodeToString(data),
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.owned[owner] == nil {
		c.owned[owner] = make(map[string][]string)
	}
	c.owned[owner][mint] = append(c.owned[owner][mint], address)
}

// SetAccount stores raw account info.
func (c *RPCClient) SetAccount(address string, info *solana.AccountInfo) {
	c.setAccount(address, info)
}

// RemoveAccount deletes an account while leaving any owner registration in place.
func (c *RPCClient) RemoveAccount(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.accounts, address)
}

func (c *RPCClient) setAccount(address string, info *solana.AccountInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts[address] = info
}
