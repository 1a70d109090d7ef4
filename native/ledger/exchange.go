package ledger

import (
	"context"
	"fmt"
	"math/big"

	"vaultledger/core/events"
)

// Exchange swaps amount of holding's fromAsset collateral into toAsset
// through the configured swapper. Debt is untouched; the fromAsset position
// must stay solvent.
func (c *Coordinator) Exchange(ctx context.Context, caller, holding [20]byte, fromAsset, toAsset string, amount, minOut *big.Int, routeData []byte) (*big.Int, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	if err := c.authorize(caller, holding); err != nil {
		return nil, err
	}
	fromAsset = normalizeAsset(fromAsset)
	toAsset = normalizeAsset(toAsset)
	if fromAsset == toAsset {
		return nil, fmt.Errorf("%w: exchange within %s", ErrInvalidParameter, fromAsset)
	}
	if c.deps.Swapper == nil {
		return nil, fmt.Errorf("%w: swapper not configured", ErrInvalidParameter)
	}
	var out *big.Int
	err := c.Atomic(func() error {
		allowed, err := c.IsWhitelisted(toAsset)
		if err != nil {
			return err
		}
		if !allowed {
			return fmt.Errorf("%w: %s", ErrAssetNotWhitelisted, toAsset)
		}
		fromReg, err := c.Registry(fromAsset)
		if err != nil {
			return err
		}
		if _, err := c.Registry(toAsset); err != nil {
			return err
		}
		if isZero(amount) {
			return ErrZeroAmount
		}
		if _, err := fromReg.UnregisterCollateral(c.cfg.Address, holding, amount); err != nil {
			return err
		}
		if err := c.requireSolvent(fromReg, holding, ErrOverLimit); err != nil {
			return err
		}
		received, err := c.deps.Swapper.Swap(ctx, SwapRequest{
			Holding:   holding,
			FromAsset: fromAsset,
			ToAsset:   toAsset,
			AmountIn:  cloneBig(amount),
			MinOut:    cloneBig(minOut),
			RouteData: append([]byte(nil), routeData...),
		})
		if err != nil {
			if Reason(err) == ReasonInternal {
				return fmt.Errorf("%w: swap %s->%s: %w", ErrTransferFailed, fromAsset, toAsset, err)
			}
			return fmt.Errorf("swap %s->%s: %w", fromAsset, toAsset, err)
		}
		if received == nil || (minOut != nil && received.Cmp(minOut) < 0) {
			return fmt.Errorf("%w: received %s, minimum %s", ErrSlippageExceeded, cloneBig(received), cloneBig(minOut))
		}
		if received.Sign() > 0 {
			if _, err := c.addCollateral(holding, toAsset, received, false); err != nil {
				return err
			}
		}
		out = cloneBig(received)
		c.emit(events.Exchanged{
			Holding:   holding,
			FromAsset: fromAsset,
			ToAsset:   toAsset,
			AmountIn:  cloneBig(amount),
			AmountOut: cloneBig(received),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
