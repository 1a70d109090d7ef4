package ledger

import (
	"context"
	"fmt"
	"math/big"

	"vaultledger/core/events"
	"vaultledger/native/ledger/shares"
)

// Liquidate settles an insolvent holding's debt in asset. The caller burns
// the owed stable and receives the seized collateral into its own holding,
// less the protocol cut of the liquidation bonus.
func (c *Coordinator) Liquidate(ctx context.Context, caller, holding [20]byte, asset string, plan LiquidationPlan) (*LiquidationResult, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	if c.deps.Holdings == nil {
		return nil, fmt.Errorf("%w: holding directory not configured", ErrUnauthorized)
	}
	liquidatorHolding, ok, err := c.deps.Holdings.HoldingOf(caller)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: liquidator has no holding", ErrUnauthorized)
	}
	if liquidatorHolding == holding {
		return nil, fmt.Errorf("%w: use self-liquidation for an owned holding", ErrInvalidParameter)
	}
	var result *LiquidationResult
	err = c.Atomic(func() error {
		reg, err := c.Registry(asset)
		if err != nil {
			return err
		}
		rate, err := reg.UpdateExchangeRate(ctx)
		if err != nil {
			return err
		}
		pos, err := c.position(reg, holding)
		if err != nil {
			return err
		}
		if pos.Solvent {
			return ErrNotLiquidatable
		}
		claimed, rewards, err := c.unwind(ctx, holding, reg.Asset(), plan)
		if err != nil {
			return err
		}
		owed, owedCollateral, err := c.settleDebt(reg, holding, pos.BorrowedShares, rate)
		if err != nil {
			return err
		}
		info, err := reg.Info()
		if err != nil {
			return err
		}
		seized, err := shares.MulDiv(owedCollateral, new(big.Int).SetUint64(info.Params.LiquidationMultiplier), ratioPrecision, false)
		if err != nil {
			return err
		}
		seized = minBig(seized, pos.CollateralAmount)
		bonus := new(big.Int).Sub(seized, minBig(owedCollateral, seized))
		protocolFee, err := shares.MulDiv(bonus, new(big.Int).SetUint64(c.cfg.LiquidationProtocolShare), ratioPrecision, false)
		if err != nil {
			return err
		}
		payout := new(big.Int).Sub(seized, protocolFee)

		if payout.Sign() > 0 {
			if err := reg.UpdateLiquidatedCollateral(c.cfg.Address, holding, liquidatorHolding, payout); err != nil {
				return err
			}
			if err := c.transfer(reg.Asset(), holding, liquidatorHolding, payout); err != nil {
				return err
			}
		}
		if protocolFee.Sign() > 0 {
			if _, err := reg.UnregisterCollateral(c.cfg.Address, holding, protocolFee); err != nil {
				return err
			}
			if err := c.transfer(reg.Asset(), holding, c.cfg.FeeRecipient, protocolFee); err != nil {
				return err
			}
		}
		scale, err := stableScale(info.Decimals)
		if err != nil {
			return err
		}
		payer := caller
		if plan.BurnFromHolding {
			payer = liquidatorHolding
		}
		if err := c.burn(payer, new(big.Int).Mul(owed, scale)); err != nil {
			return err
		}
		result = &LiquidationResult{
			DebtRepaid:        owed,
			CollateralSeized:  seized,
			LiquidatorPayout:  payout,
			ProtocolFee:       protocolFee,
			StrategiesClaimed: claimed,
			RewardsClaimed:    rewards,
		}
		c.emit(events.Liquidated{
			Asset:             reg.Asset(),
			Holding:           holding,
			Liquidator:        caller,
			DebtRepaid:        cloneBig(owed),
			CollateralSeized:  cloneBig(seized),
			LiquidatorPayout:  cloneBig(payout),
			ProtocolFee:       cloneBig(protocolFee),
			StrategiesClaimed: cloneBig(claimed),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SelfLiquidate lets a holding's owner close its debt in asset with its own
// collateral. No solvency precondition applies and no multiplier is charged:
// exactly the collateral worth the debt moves to the fee recipient.
func (c *Coordinator) SelfLiquidate(ctx context.Context, caller, holding [20]byte, asset string, plan LiquidationPlan) (*LiquidationResult, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	owner, ok, err := c.ownerOf(holding)
	if err != nil {
		return nil, err
	}
	if !ok || owner != caller {
		return nil, ErrUnauthorized
	}
	var result *LiquidationResult
	err = c.Atomic(func() error {
		reg, err := c.Registry(asset)
		if err != nil {
			return err
		}
		rate, err := reg.UpdateExchangeRate(ctx)
		if err != nil {
			return err
		}
		pos, err := c.position(reg, holding)
		if err != nil {
			return err
		}
		if pos.BorrowedShares.Sign() == 0 {
			return ErrNothingToRepay
		}
		claimed, rewards, err := c.unwind(ctx, holding, reg.Asset(), plan)
		if err != nil {
			return err
		}
		owed, owedCollateral, err := c.settleDebt(reg, holding, pos.BorrowedShares, rate)
		if err != nil {
			return err
		}
		if owedCollateral.Cmp(pos.CollateralAmount) > 0 {
			return fmt.Errorf("%w: debt needs %s collateral, holding has %s", ErrInsufficientCollateral, owedCollateral, pos.CollateralAmount)
		}
		if _, err := reg.UnregisterCollateral(c.cfg.Address, holding, owedCollateral); err != nil {
			return err
		}
		if err := c.transfer(reg.Asset(), holding, c.cfg.FeeRecipient, owedCollateral); err != nil {
			return err
		}
		result = &LiquidationResult{
			DebtRepaid:        owed,
			CollateralSeized:  owedCollateral,
			LiquidatorPayout:  big.NewInt(0),
			ProtocolFee:       cloneBig(owedCollateral),
			StrategiesClaimed: claimed,
			RewardsClaimed:    rewards,
		}
		c.emit(events.Liquidated{
			Asset:             reg.Asset(),
			Holding:           holding,
			Liquidator:        caller,
			Self:              true,
			DebtRepaid:        cloneBig(owed),
			CollateralSeized:  cloneBig(owedCollateral),
			LiquidatorPayout:  big.NewInt(0),
			ProtocolFee:       cloneBig(owedCollateral),
			StrategiesClaimed: cloneBig(claimed),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// unwind claims the rewards and then the investment of every strategy named
// in plan back into the holding. It returns the total claimed investment and
// rewards. A claim that loses more than plan.MaxLoss of the invested amount
// fails the whole unwind.
func (c *Coordinator) unwind(ctx context.Context, holding [20]byte, asset string, plan LiquidationPlan) (*big.Int, *big.Int, error) {
	if plan.MaxLoss > RatioPrecision {
		return nil, nil, fmt.Errorf("%w: max loss %d above %d", ErrInvalidParameter, plan.MaxLoss, uint64(RatioPrecision))
	}
	maxLoss := new(big.Int).SetUint64(plan.MaxLoss)
	total := big.NewInt(0)
	rewards := big.NewInt(0)
	for i, step := range plan.Steps {
		strategy := c.deps.Strategies[step.Strategy]
		if strategy == nil {
			return nil, nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidParameter, step.Strategy)
		}
		reward, err := strategy.ClaimRewards(ctx, holding, step.RouteData)
		if err != nil {
			return nil, nil, fmt.Errorf("strategy %s step %d rewards: %w", step.Strategy, i, err)
		}
		if reward != nil {
			rewards.Add(rewards, reward)
		}
		invested, err := strategy.Shares(holding, asset)
		if err != nil {
			return nil, nil, fmt.Errorf("strategy %s step %d: %w", step.Strategy, i, err)
		}
		if isZero(invested) {
			continue
		}
		claimed, err := strategy.ClaimInvestment(ctx, holding, asset, invested, step.RouteData)
		if err != nil {
			return nil, nil, fmt.Errorf("strategy %s step %d: %w", step.Strategy, i, err)
		}
		if claimed == nil {
			claimed = big.NewInt(0)
		}
		loss, err := shares.MulDiv(invested, maxLoss, ratioPrecision, false)
		if err != nil {
			return nil, nil, err
		}
		if minimum := new(big.Int).Sub(invested, loss); claimed.Cmp(minimum) < 0 {
			return nil, nil, fmt.Errorf("%w: strategy %s returned %s of %s invested", ErrSlippageExceeded, step.Strategy, claimed, invested)
		}
		total.Add(total, claimed)
	}
	return total, rewards, nil
}

// settleDebt zeroes holding's debt and returns the amount owed together with
// the collateral it is worth at rate, both rounded up.
func (c *Coordinator) settleDebt(reg *Registry, holding [20]byte, debtShares, rate *big.Int) (*big.Int, *big.Int, error) {
	if isZero(rate) {
		return nil, nil, fmt.Errorf("%w: %s has no rate", ErrOracleUnavailable, reg.Asset())
	}
	_, owed, err := reg.DecreaseDebt(c.cfg.Address, holding, debtShares)
	if err != nil {
		return nil, nil, err
	}
	owedCollateral, err := shares.MulDiv(owed, ratePrecision, rate, true)
	if err != nil {
		return nil, nil, err
	}
	return owed, owedCollateral, nil
}
