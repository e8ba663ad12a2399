// Package supply computes total and circulating supply for a single SPL mint.
package supply

import (
	"context"
	"io"
	"log"
	"math/big"
	"time"

	"golang.org/x/sync/errgroup"

	"forge-supply/internal/observability"
	"forge-supply/internal/solana"
)

// DefaultConcurrency bounds parallel balance reads per computation.
const DefaultConcurrency = 4

// Options configures a Reporter.
type Options struct {
	RPC       solana.RPCClient
	Mint      string
	Authority string
	// Concurrency bounds balance reads in flight; 1 reads accounts one at a time.
	Concurrency int
	Logger      *log.Logger
	Now         func() time.Time
}

// Reporter computes supply reports. It holds no per-request state and is safe
// for concurrent use.
type Reporter struct {
	rpc         solana.RPCClient
	mint        string
	authority   string
	concurrency int
	logger      *log.Logger
	now         func() time.Time
}

// NewReporter creates a Reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Reporter{
		rpc:         opts.RPC,
		mint:        opts.Mint,
		authority:   opts.Authority,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
		now:         opts.Now,
	}
}

// Mint returns the mint address being reported on.
func (r *Reporter) Mint() string {
	return r.mint
}

// Compute fetches mint state and locked balances and derives circulating supply.
// Any failed read fails the whole computation with an *Error.
func (r *Reporter) Compute(ctx context.Context) (*Report, error) {
	report, err := r.compute(ctx)
	if err != nil {
		if e, ok := err.(*Error); ok {
			observability.RecordUpstreamError(string(e.Kind), string(e.Op))
		}
		return nil, err
	}

	if report.IsNegative() {
		observability.RecordNegativeCirculating()
		r.logger.Printf("WARN: locked supply %s exceeds total supply %s for mint %s",
			report.Locked, report.Total, report.Mint)
	}

	observability.RecordReport(
		ApproxTokens(report.Total, report.Decimals),
		ApproxTokens(report.Circulating, report.Decimals),
		len(report.Accounts),
		report.ComputedAt.Unix(),
	)

	return report, nil
}

func (r *Reporter) compute(ctx context.Context) (*Report, error) {
	// 1. Mint metadata
	mint, err := solana.GetMint(ctx, r.rpc, r.mint)
	if err != nil {
		return nil, newError(OpGetMint, r.mint, err)
	}

	// 2. Token accounts held by the authority for this mint
	keyed, err := r.rpc.GetTokenAccountsByOwner(ctx, r.authority, r.mint)
	if err != nil {
		return nil, newError(OpListAccounts, r.authority, err)
	}

	// 3. Balance of each account
	accounts, err := r.fetchBalances(ctx, keyed)
	if err != nil {
		return nil, err
	}

	associated := r.associatedAddress(mint.ProgramID)

	locked := new(big.Int)
	slot := mint.Slot
	lockedAccounts := make([]LockedAccount, 0, len(accounts))
	for _, acct := range accounts {
		locked.Add(locked, acct.Amount)
		if acct.Slot > slot {
			slot = acct.Slot
		}
		lockedAccounts = append(lockedAccounts, LockedAccount{
			Address:    acct.Address,
			Amount:     acct.Amount,
			Associated: associated != "" && acct.Address == associated,
		})
	}

	// 4. Circulating = total - locked. Not clamped.
	circulating := new(big.Int).Sub(mint.Supply, locked)

	return &Report{
		Mint:        r.mint,
		Authority:   r.authority,
		Decimals:    mint.Decimals,
		Total:       mint.Supply,
		Locked:      locked,
		Circulating: circulating,
		Accounts:    lockedAccounts,
		Slot:        slot,
		ComputedAt:  r.now(),
	}, nil
}

// fetchBalances reads every account with at most r.concurrency reads in flight.
// Results keep the listing order; the first failure cancels the rest.
func (r *Reporter) fetchBalances(ctx context.Context, keyed []solana.KeyedAccount) ([]*solana.TokenAccount, error) {
	results := make([]*solana.TokenAccount, len(keyed))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, k := range keyed {
		g.Go(func() error {
			acct, err := solana.GetTokenAccount(gctx, r.rpc, k.Pubkey)
			if err != nil {
				return newError(OpGetBalance, k.Pubkey, err)
			}
			results[i] = acct
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// associatedAddress derives the authority's associated token account, or "" if
// derivation fails.
func (r *Reporter) associatedAddress(tokenProgram string) string {
	addr, err := solana.AssociatedTokenAddress(r.authority, r.mint, tokenProgram)
	if err != nil {
		r.logger.Printf("derive associated token address: %v", err)
		return ""
	}
	return addr
}
