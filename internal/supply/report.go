package supply

import (
	"math/big"
	"time"
)

// Report is the result of one supply computation.
type Report struct {
	Mint        string
	Authority   string
	Decimals    uint8
	Total       *big.Int
	Locked      *big.Int
	Circulating *big.Int
	Accounts    []LockedAccount
	// Slot is the highest context slot seen across the reads.
	Slot       int64
	ComputedAt time.Time
}

// LockedAccount is one token account held by the authority.
type LockedAccount struct {
	Address string
	Amount  *big.Int
	// Associated is true for the authority's associated token account.
	Associated bool
}

// SupplyResponse is the JSON body of GET /forge/supply.
type SupplyResponse struct {
	TotalSupply       string `json:"totalSupply"`
	CirculatingSupply string `json:"circulatingSupply"`
}

// LockedAccountResponse is one entry of the locked breakdown.
type LockedAccountResponse struct {
	Address    string `json:"address"`
	Amount     string `json:"amount"`
	Associated bool   `json:"associated"`
}

// LockedResponse is the JSON body of GET /forge/supply/locked.
type LockedResponse struct {
	Mint         string                  `json:"mint"`
	Authority    string                  `json:"authority"`
	Decimals     uint8                   `json:"decimals"`
	LockedSupply string                  `json:"lockedSupply"`
	Accounts     []LockedAccountResponse `json:"accounts"`
}

// IsNegative reports whether locked supply exceeded total supply.
func (r *Report) IsNegative() bool {
	return r.Circulating.Sign() < 0
}

// SupplyResponse formats the report for the supply endpoint.
func (r *Report) SupplyResponse() SupplyResponse {
	return SupplyResponse{
		TotalSupply:       FormatAmount(r.Total, r.Decimals),
		CirculatingSupply: FormatAmount(r.Circulating, r.Decimals),
	}
}

// LockedResponse formats the locked-account breakdown.
func (r *Report) LockedResponse() LockedResponse {
	accounts := make([]LockedAccountResponse, 0, len(r.Accounts))
	for _, a := range r.Accounts {
		accounts = append(accounts, LockedAccountResponse{
			Address:    a.Address,
			Amount:     FormatAmount(a.Amount, r.Decimals),
			Associated: a.Associated,
		})
	}
	return LockedResponse{
		Mint:         r.Mint,
		Authority:    r.Authority,
		Decimals:     r.Decimals,
		LockedSupply: FormatAmount(r.Locked, r.Decimals),
		Accounts:     accounts,
	}
}
