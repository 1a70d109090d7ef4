package ledger

import (
	"context"
	"math/big"
)

// Oracle reports the exchange rate of an asset against the stable asset with
// RateDecimals decimals. Implementations must answer false for malformed or
// unknown configuration instead of failing.
type Oracle interface {
	Peek(ctx context.Context, config []byte) (bool, *big.Int)
}

// Strategy is an external yield source holding part of a holding's
// collateral. Route data is opaque to the ledger.
type Strategy interface {
	Invest(ctx context.Context, holding [20]byte, asset string, amount *big.Int, routeData []byte) (*big.Int, error)
	ClaimInvestment(ctx context.Context, holding [20]byte, asset string, shares *big.Int, routeData []byte) (*big.Int, error)
	ClaimRewards(ctx context.Context, holding [20]byte, routeData []byte) (*big.Int, error)
	Shares(holding [20]byte, asset string) (*big.Int, error)
}

// Swapper converts collateral between assets on behalf of a holding.
type Swapper interface {
	Swap(ctx context.Context, req SwapRequest) (*big.Int, error)
}

// Bank moves fungible balances between accounts.
type Bank interface {
	Transfer(asset string, from, to [20]byte, amount *big.Int) error
}

// StableIssuer mints and burns the protocol stable asset.
type StableIssuer interface {
	Mint(to [20]byte, amount *big.Int) error
	Burn(from [20]byte, amount *big.Int) error
}

// HoldingDirectory resolves holding ownership.
type HoldingDirectory interface {
	OwnerOf(holding [20]byte) ([20]byte, bool, error)
	HoldingOf(user [20]byte) ([20]byte, bool, error)
}

// OracleSet resolves the oracle named by a registry's OracleRef.
type OracleSet map[string]Oracle

// StrategySet resolves the strategies named in a liquidation plan.
type StrategySet map[string]Strategy
