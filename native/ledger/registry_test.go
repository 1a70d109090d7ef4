package ledger_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"vaultledger/core/events"
	"vaultledger/native/ledger"
)

func TestRegistryTwoPhaseOwnership(t *testing.T) {
	f := newFixture(t)
	candidate := [20]byte{0x77}

	if err := f.weth.AcceptOwnership(candidate); !errors.Is(err, ledger.ErrNoPendingTransfer) {
		t.Fatalf("expected no pending transfer, got %v", err)
	}
	if err := f.weth.TransferOwnership(candidate, candidate); !errors.Is(err, ledger.ErrUnauthorized) {
		t.Fatalf("expected only the owner to propose, got %v", err)
	}
	if err := f.weth.TransferOwnership(registryOwner, [20]byte{}); !errors.Is(err, ledger.ErrInvalidParameter) {
		t.Fatalf("expected zero candidate rejected, got %v", err)
	}
	f.must(f.weth.TransferOwnership(registryOwner, candidate), "propose")

	info, err := f.weth.Info()
	f.must(err, "info")
	if !info.Ownership.HasPending || info.Ownership.PendingOwner != candidate {
		t.Fatalf("expected pending owner recorded: %+v", info.Ownership)
	}
	if err := f.weth.AcceptOwnership(alice); !errors.Is(err, ledger.ErrUnauthorized) {
		t.Fatalf("expected stranger accept to fail, got %v", err)
	}
	f.must(f.weth.AcceptOwnership(candidate), "accept")
	if err := f.weth.AcceptOwnership(candidate); !errors.Is(err, ledger.ErrNoPendingTransfer) {
		t.Fatalf("expected second accept to fail, got %v", err)
	}

	info, err = f.weth.Info()
	f.must(err, "info")
	if info.Ownership.Owner != candidate || info.Ownership.HasPending {
		t.Fatalf("unexpected ownership after accept: %+v", info.Ownership)
	}
	if err := f.weth.SetBorrowOpeningFee(registryOwner, 10); !errors.Is(err, ledger.ErrUnauthorized) {
		t.Fatalf("expected previous owner to lose access, got %v", err)
	}
}

func TestRegistryExchangeRateFallsBackToCachedValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rate, err := f.weth.UpdateExchangeRate(ctx)
	f.must(err, "first refresh")
	if rate.Cmp(oneRate) != 0 {
		t.Fatalf("unexpected rate %s", rate)
	}

	f.wethFeed.ok = false
	f.wethFeed.rate = big.NewInt(5)
	rate, err = f.weth.UpdateExchangeRate(ctx)
	if !errors.Is(err, ledger.ErrOracleUnavailable) {
		t.Fatalf("expected oracle failure, got %v", err)
	}
	if rate.Cmp(oneRate) != 0 {
		t.Fatalf("expected cached rate, got %s", rate)
	}

	f.wethFeed.ok = true
	f.wethFeed.rate = big.NewInt(0)
	if _, err := f.weth.UpdateExchangeRate(ctx); !errors.Is(err, ledger.ErrOracleUnavailable) {
		t.Fatalf("expected zero rate treated as failure, got %v", err)
	}

	f.must(f.weth.SetOracle(registryOwner, "missing", nil), "set oracle")
	if _, err := f.weth.UpdateExchangeRate(ctx); !errors.Is(err, ledger.ErrOracleUnavailable) {
		t.Fatalf("expected unknown oracle treated as failure, got %v", err)
	}
	info, err := f.weth.Info()
	f.must(err, "info")
	if info.ExchangeRate.Cmp(oneRate) != 0 {
		t.Fatalf("cached rate changed: %s", info.ExchangeRate)
	}
}

func TestRegistryParameterBounds(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name string
		call func() error
		want error
	}{
		{"zero collateralization", func() error { return f.weth.SetCollateralizationRate(registryOwner, 0) }, ledger.ErrOverLimit},
		{"collateralization above one", func() error { return f.weth.SetCollateralizationRate(registryOwner, 100_001) }, ledger.ErrOverLimit},
		{"fee at one", func() error { return f.weth.SetBorrowOpeningFee(registryOwner, 100_000) }, ledger.ErrOverLimit},
		{"multiplier below one", func() error { return f.weth.SetLiquidationMultiplier(registryOwner, 99_999) }, ledger.ErrInvalidParameter},
		{"stranger", func() error { return f.weth.SetCollateralizationRate(alice, 10) }, ledger.ErrUnauthorized},
	}
	for _, tc := range cases {
		if err := tc.call(); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	f.must(f.weth.SetLiquidationMultiplier(registryOwner, 100_000), "multiplier at one")
	if f.emitter.count(events.TypeRegistryParameters) != 1 {
		t.Fatalf("expected one parameter event")
	}
}

func TestRegistryAccrueFees(t *testing.T) {
	f := newFixture(t)
	at := time.Unix(1_700_000_000, 0)
	f.weth.SetNowFunc(func() time.Time { return at })

	if err := f.weth.AccrueFees(alice, big.NewInt(1)); !errors.Is(err, ledger.ErrUnauthorized) {
		t.Fatalf("expected unauthorized accrual, got %v", err)
	}
	f.must(f.weth.AccrueFees(registryOwner, big.NewInt(7)), "owner accrual")
	f.must(f.weth.AccrueFees(coordinatorAddr, big.NewInt(3)), "coordinator accrual")

	info, err := f.weth.Info()
	f.must(err, "info")
	expectAmount(t, "fees earned", info.Accrue.FeesEarned, 10)
	if info.Accrue.LastAccruedTimestamp != uint64(at.Unix()) {
		t.Fatalf("unexpected accrual timestamp %d", info.Accrue.LastAccruedTimestamp)
	}
}

func TestRegistryInitializeOnce(t *testing.T) {
	f := newFixture(t)
	err := f.weth.Initialize(registryOwner, 18, ledger.RegistryParams{
		CollateralizationRate: 50_000,
		LiquidationMultiplier: 100_000,
	})
	if !errors.Is(err, ledger.ErrInvalidParameter) {
		t.Fatalf("expected duplicate initialisation to fail, got %v", err)
	}

	reg := ledger.NewRegistry(f.state, "WIDE", coordinatorAddr, nil)
	err = reg.Initialize(registryOwner, 24, ledger.RegistryParams{CollateralizationRate: 1, LiquidationMultiplier: 100_000})
	if !errors.Is(err, ledger.ErrInvalidParameter) {
		t.Fatalf("expected wide decimals rejected, got %v", err)
	}
	if _, err := reg.Info(); !errors.Is(err, ledger.ErrUnknownAsset) {
		t.Fatalf("expected uninitialised registry to be unknown, got %v", err)
	}
}

func TestRegistryCollateralMovesAreCoordinatorOnly(t *testing.T) {
	f := newFixture(t)
	if _, err := f.weth.RegisterCollateral(coordinatorAddr, aliceHolding, big.NewInt(100)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := f.weth.UpdateLiquidatedCollateral(alice, aliceHolding, bobHolding, big.NewInt(10)); !errors.Is(err, ledger.ErrUnauthorized) {
		t.Fatalf("expected unauthorized move, got %v", err)
	}
	if err := f.weth.UpdateLiquidatedCollateral(coordinatorAddr, aliceHolding, bobHolding, big.NewInt(101)); !errors.Is(err, ledger.ErrInsufficientCollateral) {
		t.Fatalf("expected insufficient collateral, got %v", err)
	}
	f.must(f.weth.UpdateLiquidatedCollateral(coordinatorAddr, aliceHolding, bobHolding, big.NewInt(40)), "move")

	aliceShares, err := f.weth.CollateralOf(aliceHolding)
	f.must(err, "alice shares")
	bobShares, err := f.weth.CollateralOf(bobHolding)
	f.must(err, "bob shares")
	expectAmount(t, "alice shares", aliceShares, 60)
	expectAmount(t, "bob shares", bobShares, 40)

	if _, err := f.weth.UnregisterCollateral(coordinatorAddr, aliceHolding, big.NewInt(61)); !errors.Is(err, ledger.ErrInsufficientCollateral) {
		t.Fatalf("expected insufficient collateral on unregister, got %v", err)
	}
}

func TestReasonClassifiesWrappedErrors(t *testing.T) {
	cases := map[error]string{
		nil:                     "",
		ledger.ErrPoolExhausted: ledger.ReasonPoolExhausted,
		ledger.ErrOverLimit:     ledger.ReasonOverLimit,
		ledger.ErrZeroAmount:    ledger.ReasonInvalid,
		errors.New("disk full"): ledger.ReasonInternal,
	}
	for err, want := range cases {
		if got := ledger.Reason(err); got != want {
			t.Fatalf("reason(%v) = %q, want %q", err, got, want)
		}
	}
	f := newFixture(t)
	err := f.weth.SetCollateralizationRate(alice, 1)
	if got := ledger.Reason(err); got != ledger.ReasonUnauthorized {
		t.Fatalf("expected wrapped unauthorized, got %q", got)
	}
}
