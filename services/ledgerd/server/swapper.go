package server

import (
	"context"
	"fmt"
	"math/big"

	"vaultledger/native/ledger"
)

type tokenIssuer interface {
	MintToken(symbol string, to [20]byte, amount *big.Int) error
	BurnToken(symbol string, from [20]byte, amount *big.Int) error
}

type decimalSource interface {
	Decimals(asset string) (uint8, error)
}

// RateSwapper settles exchanges at the fixed oracle rates by burning the
// input from the holding and minting the output to it.
type RateSwapper struct {
	oracle   *FixedOracle
	issuer   tokenIssuer
	decimals decimalSource
}

// NewRateSwapper wires the swapper to its rate source and token issuer.
func NewRateSwapper(oracle *FixedOracle, issuer tokenIssuer, decimals decimalSource) *RateSwapper {
	return &RateSwapper{oracle: oracle, issuer: issuer, decimals: decimals}
}

// Swap implements ledger.Swapper.
func (s *RateSwapper) Swap(_ context.Context, req ledger.SwapRequest) (*big.Int, error) {
	out, err := s.Quote(req.FromAsset, req.ToAsset, req.AmountIn)
	if err != nil {
		return nil, err
	}
	if err := s.issuer.BurnToken(req.FromAsset, req.Holding, req.AmountIn); err != nil {
		return nil, fmt.Errorf("%w: burn %s: %w", ledger.ErrTransferFailed, req.FromAsset, err)
	}
	if out.Sign() > 0 {
		if err := s.issuer.MintToken(req.ToAsset, req.Holding, out); err != nil {
			return nil, fmt.Errorf("%w: mint %s: %w", ledger.ErrTransferFailed, req.ToAsset, err)
		}
	}
	return out, nil
}

// Quote converts amount of from into to through their stable value, rounding
// down.
func (s *RateSwapper) Quote(from, to string, amount *big.Int) (*big.Int, error) {
	fromRate, ok := s.oracle.Rate(from)
	if !ok {
		return nil, fmt.Errorf("%w: no rate for %s", ledger.ErrOracleUnavailable, from)
	}
	toRate, ok := s.oracle.Rate(to)
	if !ok {
		return nil, fmt.Errorf("%w: no rate for %s", ledger.ErrOracleUnavailable, to)
	}
	fromScale, err := s.scale(from)
	if err != nil {
		return nil, err
	}
	toScale, err := s.scale(to)
	if err != nil {
		return nil, err
	}
	num := new(big.Int).Mul(amount, fromRate)
	num.Mul(num, fromScale)
	den := new(big.Int).Mul(toRate, toScale)
	return num.Quo(num, den), nil
}

func (s *RateSwapper) scale(asset string) (*big.Int, error) {
	decimals, err := s.decimals.Decimals(asset)
	if err != nil {
		return nil, err
	}
	if decimals > ledger.StableDecimals {
		return nil, fmt.Errorf("%w: %s has %d decimals", ledger.ErrInvalidParameter, asset, decimals)
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(ledger.StableDecimals-decimals)), nil), nil
}
