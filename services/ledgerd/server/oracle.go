package server

import (
	"context"
	"math/big"
	"strings"
	"sync"
)

// FixedOracle serves operator-set exchange rates keyed by asset symbol. The
// registry oracle configuration is the symbol itself.
type FixedOracle struct {
	mu    sync.RWMutex
	rates map[string]*big.Int
}

// NewFixedOracle copies the initial rates.
func NewFixedOracle(rates map[string]*big.Int) *FixedOracle {
	o := &FixedOracle{rates: make(map[string]*big.Int, len(rates))}
	for asset, rate := range rates {
		o.SetRate(asset, rate)
	}
	return o
}

// SetRate replaces the rate of asset. A nil or zero rate makes the asset
// unavailable.
func (o *FixedOracle) SetRate(asset string, rate *big.Int) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	o.mu.Lock()
	defer o.mu.Unlock()
	if rate == nil || rate.Sign() <= 0 {
		delete(o.rates, asset)
		return
	}
	o.rates[asset] = new(big.Int).Set(rate)
}

// Rate returns the current rate of asset.
func (o *FixedOracle) Rate(asset string) (*big.Int, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	rate, ok := o.rates[strings.ToUpper(strings.TrimSpace(asset))]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(rate), true
}

// Peek implements ledger.Oracle.
func (o *FixedOracle) Peek(_ context.Context, config []byte) (bool, *big.Int) {
	rate, ok := o.Rate(string(config))
	if !ok {
		return false, nil
	}
	return true, rate
}
