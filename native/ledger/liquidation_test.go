package ledger_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"vaultledger/core/events"
	"vaultledger/native/ledger"
)

func TestSelfLiquidationUnwindsAndPaysFeeRecipient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.whitelist("WETH")
	f.fund("WETH", alice, 10_000_000_000)
	f.must(f.coord.Deposit(alice, aliceHolding, "WETH", bi(10_000_000_000)), "deposit")
	if _, err := f.strategy.Invest(ctx, aliceHolding, "WETH", bi(5_000_000_000), nil); err != nil {
		t.Fatalf("invest: %v", err)
	}
	f.must(f.coord.Borrow(ctx, alice, aliceHolding, "WETH", bi(4_000_000_000), false), "borrow")

	plan := ledger.LiquidationPlan{Steps: []ledger.StrategyStep{{Strategy: "yield", RouteData: []byte{0x01}}}}
	if _, err := f.coord.SelfLiquidate(ctx, bob, aliceHolding, "WETH", plan); !errors.Is(err, ledger.ErrUnauthorized) {
		t.Fatalf("expected only the owner to self-liquidate, got %v", err)
	}

	result, err := f.coord.SelfLiquidate(ctx, alice, aliceHolding, "WETH", plan)
	f.must(err, "self liquidate")

	pos := f.position("WETH", aliceHolding)
	expectAmount(t, "debt", pos.BorrowedShares, 0)
	expectAmount(t, "remaining collateral", pos.CollateralAmount, 6_000_000_000)
	expectAmount(t, "fee recipient collateral", f.balance("WETH", feeRecipient), 4_000_000_000)
	expectAmount(t, "holding balance", f.balance("WETH", aliceHolding), 6_000_000_000)
	expectAmount(t, "strategies claimed", result.StrategiesClaimed, 5_000_000_000)
	expectAmount(t, "debt repaid", result.DebtRepaid, 4_000_000_000)
	if f.emitter.count(events.TypeLiquidated) != 1 {
		t.Fatalf("expected one liquidation event")
	}
}

func TestSelfLiquidationRequiresEnoughCollateral(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.must(f.coord.AddCollateral(alice, aliceHolding, "WETH", bi(1_000)), "add collateral")
	f.must(f.coord.Borrow(ctx, alice, aliceHolding, "WETH", bi(700), false), "borrow")
	f.wethFeed.rate = new(big.Int).Div(oneRate, big.NewInt(2))

	_, err := f.coord.SelfLiquidate(ctx, alice, aliceHolding, "WETH", ledger.LiquidationPlan{})
	if !errors.Is(err, ledger.ErrInsufficientCollateral) {
		t.Fatalf("expected insufficient collateral, got %v", err)
	}
	expectAmount(t, "debt kept", f.position("WETH", aliceHolding).BorrowedAmount, 700)
}

func TestLiquidateInsolventHolding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.whitelist("WETH")
	f.fund("WETH", alice, 1_000)
	f.must(f.coord.Deposit(alice, aliceHolding, "WETH", bi(1_000)), "deposit")
	f.must(f.coord.Borrow(ctx, alice, aliceHolding, "WETH", bi(700), false), "borrow")
	f.fund("USDV", bob, 700)

	if _, err := f.coord.Liquidate(ctx, bob, aliceHolding, "WETH", ledger.LiquidationPlan{}); !errors.Is(err, ledger.ErrNotLiquidatable) {
		t.Fatalf("expected solvent holding to be protected, got %v", err)
	}

	f.wethFeed.rate = new(big.Int).Div(new(big.Int).Mul(oneRate, big.NewInt(8)), big.NewInt(10))
	f.wethFeed.ok = false
	if _, err := f.coord.Liquidate(ctx, bob, aliceHolding, "WETH", ledger.LiquidationPlan{}); !errors.Is(err, ledger.ErrOracleUnavailable) {
		t.Fatalf("expected fresh rate requirement, got %v", err)
	}
	f.wethFeed.ok = true

	if _, err := f.coord.Liquidate(ctx, [20]byte{0x99}, aliceHolding, "WETH", ledger.LiquidationPlan{}); !errors.Is(err, ledger.ErrUnauthorized) {
		t.Fatalf("expected liquidator without holding to be rejected, got %v", err)
	}

	result, err := f.coord.Liquidate(ctx, bob, aliceHolding, "WETH", ledger.LiquidationPlan{})
	f.must(err, "liquidate")

	// owed 700 at 0.8 is 875 collateral; 1.12x seizes 980 with a 105 bonus
	// split evenly (rounded down) with the protocol.
	expectAmount(t, "debt repaid", result.DebtRepaid, 700)
	expectAmount(t, "seized", result.CollateralSeized, 980)
	expectAmount(t, "protocol fee", result.ProtocolFee, 52)
	expectAmount(t, "payout", result.LiquidatorPayout, 928)

	expectAmount(t, "fee recipient", f.balance("WETH", feeRecipient), 52)
	expectAmount(t, "liquidator holding", f.balance("WETH", bobHolding), 928)
	expectAmount(t, "liquidator collateral", f.position("WETH", bobHolding).CollateralAmount, 928)
	expectAmount(t, "liquidator stable", f.balance("USDV", bob), 0)

	pos := f.position("WETH", aliceHolding)
	expectAmount(t, "remaining collateral", pos.CollateralAmount, 20)
	expectAmount(t, "remaining debt", pos.BorrowedShares, 0)
	expectAmount(t, "holding balance", f.balance("WETH", aliceHolding), 20)
}

func TestLiquidateRevertsWhenLiquidatorCannotBurn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.whitelist("WETH")
	f.fund("WETH", alice, 1_000)
	f.must(f.coord.Deposit(alice, aliceHolding, "WETH", bi(1_000)), "deposit")
	f.must(f.coord.Borrow(ctx, alice, aliceHolding, "WETH", bi(700), false), "borrow")
	f.wethFeed.rate = new(big.Int).Div(oneRate, big.NewInt(2))

	_, err := f.coord.Liquidate(ctx, bob, aliceHolding, "WETH", ledger.LiquidationPlan{})
	if !errors.Is(err, ledger.ErrTransferFailed) {
		t.Fatalf("expected burn failure, got %v", err)
	}
	pos := f.position("WETH", aliceHolding)
	expectAmount(t, "debt kept", pos.BorrowedAmount, 700)
	expectAmount(t, "collateral kept", pos.CollateralAmount, 1_000)
	expectAmount(t, "fee recipient", f.balance("WETH", feeRecipient), 0)
}

func TestLiquidationUnwindEnforcesMaxLoss(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.whitelist("WETH")
	f.fund("WETH", alice, 10_000_000_000)
	f.must(f.coord.Deposit(alice, aliceHolding, "WETH", bi(10_000_000_000)), "deposit")
	if _, err := f.strategy.Invest(ctx, aliceHolding, "WETH", bi(5_000_000_000), nil); err != nil {
		t.Fatalf("invest: %v", err)
	}
	f.must(f.coord.Borrow(ctx, alice, aliceHolding, "WETH", bi(4_000_000_000), false), "borrow")
	f.strategy.haircut = 100
	f.strategy.reward = 7

	steps := []ledger.StrategyStep{{Strategy: "yield"}}
	_, err := f.coord.SelfLiquidate(ctx, alice, aliceHolding, "WETH", ledger.LiquidationPlan{Steps: steps, MaxLoss: 99})
	if !errors.Is(err, ledger.ErrSlippageExceeded) {
		t.Fatalf("expected loss above the bound to fail, got %v", err)
	}
	expectAmount(t, "debt kept", f.position("WETH", aliceHolding).BorrowedAmount, 4_000_000_000)
	expectAmount(t, "holding balance kept", f.balance("WETH", aliceHolding), 5_000_000_000)
	// The fake books investments outside the reverted state.
	f.strategy.invested[aliceHolding] = bi(5_000_000_000)

	if _, err := f.coord.SelfLiquidate(ctx, alice, aliceHolding, "WETH", ledger.LiquidationPlan{Steps: steps, MaxLoss: ledger.RatioPrecision + 1}); !errors.Is(err, ledger.ErrInvalidParameter) {
		t.Fatalf("expected out of range max loss to be rejected, got %v", err)
	}

	result, err := f.coord.SelfLiquidate(ctx, alice, aliceHolding, "WETH", ledger.LiquidationPlan{Steps: steps, MaxLoss: 100})
	f.must(err, "self liquidate within bound")
	expectAmount(t, "strategies claimed", result.StrategiesClaimed, 4_995_000_000)
	expectAmount(t, "rewards claimed", result.RewardsClaimed, 7)
	if f.strategy.rewardCalls == 0 {
		t.Fatalf("expected strategy rewards to be claimed")
	}
}

func TestLiquidateBurnsFromLiquidatorHolding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.whitelist("WETH")
	f.fund("WETH", alice, 1_000)
	f.must(f.coord.Deposit(alice, aliceHolding, "WETH", bi(1_000)), "deposit")
	f.must(f.coord.Borrow(ctx, alice, aliceHolding, "WETH", bi(700), false), "borrow")
	f.fund("USDV", bobHolding, 700)
	f.wethFeed.rate = new(big.Int).Div(new(big.Int).Mul(oneRate, big.NewInt(8)), big.NewInt(10))

	if _, err := f.coord.Liquidate(ctx, bob, aliceHolding, "WETH", ledger.LiquidationPlan{}); !errors.Is(err, ledger.ErrTransferFailed) {
		t.Fatalf("expected burn from the empty liquidator account to fail, got %v", err)
	}

	result, err := f.coord.Liquidate(ctx, bob, aliceHolding, "WETH", ledger.LiquidationPlan{BurnFromHolding: true})
	f.must(err, "liquidate from holding")
	expectAmount(t, "debt repaid", result.DebtRepaid, 700)
	expectAmount(t, "liquidator holding stable", f.balance("USDV", bobHolding), 0)
	expectAmount(t, "liquidator payout", f.balance("WETH", bobHolding), 928)
}

func TestExchangeClassifiesSwapperFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.whitelist("WBTC")
	f.must(f.coord.AddCollateral(alice, aliceHolding, "WETH", bi(1_000)), "add collateral")

	f.swapper.fail = errors.New("venue offline")
	_, err := f.coord.Exchange(ctx, alice, aliceHolding, "WETH", "WBTC", bi(400), bi(0), nil)
	if !errors.Is(err, ledger.ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	if reason := ledger.Reason(err); reason != ledger.ReasonTransfer {
		t.Fatalf("expected %q reason, got %q", ledger.ReasonTransfer, reason)
	}
	expectAmount(t, "weth collateral after failed swap", f.position("WETH", aliceHolding).CollateralAmount, 1_000)

	f.swapper.fail = ledger.ErrSlippageExceeded
	_, err = f.coord.Exchange(ctx, alice, aliceHolding, "WETH", "WBTC", bi(400), bi(0), nil)
	if !errors.Is(err, ledger.ErrSlippageExceeded) || errors.Is(err, ledger.ErrTransferFailed) {
		t.Fatalf("expected classified swapper error to pass through, got %v", err)
	}
}

func TestExchangePreservesDebt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.must(f.coord.AddCollateral(alice, aliceHolding, "WETH", bi(1_000)), "add collateral")
	f.must(f.coord.Borrow(ctx, alice, aliceHolding, "WETH", bi(100), false), "borrow")
	sharesBefore := f.position("WETH", aliceHolding).BorrowedShares

	if _, err := f.coord.Exchange(ctx, alice, aliceHolding, "WETH", "WBTC", bi(400), bi(150), nil); !errors.Is(err, ledger.ErrAssetNotWhitelisted) {
		t.Fatalf("expected allow-list rejection, got %v", err)
	}
	f.whitelist("WBTC")

	out, err := f.coord.Exchange(ctx, alice, aliceHolding, "WETH", "WBTC", bi(400), bi(150), []byte("route"))
	f.must(err, "exchange")
	expectAmount(t, "swap output", out, 200)

	weth := f.position("WETH", aliceHolding)
	wbtc := f.position("WBTC", aliceHolding)
	if weth.BorrowedShares.Cmp(sharesBefore) != 0 {
		t.Fatalf("expected weth debt shares unchanged, got %s", weth.BorrowedShares)
	}
	expectAmount(t, "wbtc debt", wbtc.BorrowedShares, 0)
	expectAmount(t, "weth collateral", weth.CollateralAmount, 600)
	expectAmount(t, "wbtc collateral", wbtc.CollateralAmount, 200)

	if _, err := f.coord.Exchange(ctx, alice, aliceHolding, "WETH", "WBTC", bi(100), bi(60), nil); !errors.Is(err, ledger.ErrSlippageExceeded) {
		t.Fatalf("expected slippage failure, got %v", err)
	}
	expectAmount(t, "weth collateral after slippage", f.position("WETH", aliceHolding).CollateralAmount, 600)

	if _, err := f.coord.Exchange(ctx, alice, aliceHolding, "WETH", "WBTC", bi(500), bi(0), nil); !errors.Is(err, ledger.ErrOverLimit) {
		t.Fatalf("expected solvency failure, got %v", err)
	}
	if _, err := f.coord.Exchange(ctx, alice, aliceHolding, "WBTC", "WETH", bi(10), bi(0), nil); !errors.Is(err, ledger.ErrAssetNotWhitelisted) {
		t.Fatalf("expected allow-list rejection for WETH, got %v", err)
	}
	if f.emitter.count(events.TypeExchanged) != 1 {
		t.Fatalf("expected one exchange event")
	}
}
