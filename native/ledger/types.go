package ledger

import (
	"math/big"

	"vaultledger/native/ledger/shares"
)

const (
	// RatioPrecision is the denominator of collateralization rates, opening
	// fees and liquidation multipliers.
	RatioPrecision = 100_000
	// RateDecimals is the number of decimals of cached exchange rates.
	RateDecimals = 18
	// StableDecimals is the number of decimals of the protocol stable asset.
	StableDecimals = 18
)

var (
	ratioPrecision = big.NewInt(RatioPrecision)
	ratePrecision  = new(big.Int).Exp(big.NewInt(10), big.NewInt(RateDecimals), nil)
)

// Ownership is the two-phase owner state of a registry. A zero
// PendingOwner together with HasPending=false means no transfer is in
// flight.
type Ownership struct {
	Owner        [20]byte
	PendingOwner [20]byte
	HasPending   bool
}

// AccrueInfo is the protocol fee counter of a registry.
type AccrueInfo struct {
	LastAccruedTimestamp uint64
	FeesEarned           *big.Int
}

// RegistryParams are the owner-managed risk parameters of an asset.
type RegistryParams struct {
	CollateralizationRate uint64
	BorrowOpeningFee      uint64
	LiquidationMultiplier uint64
	OracleRef             string
	OracleConfig          []byte
}

// registryRecord is the persisted form of a registry.
type registryRecord struct {
	Asset                 string
	Decimals              uint8
	CollateralizationRate uint64
	BorrowOpeningFee      uint64
	LiquidationMultiplier uint64
	Owner                 [20]byte
	PendingOwner          [20]byte
	HasPending            bool
	OracleRef             string
	OracleConfig          []byte
	ExchangeRate          *big.Int
	DebtElastic           *big.Int
	DebtBase              *big.Int
	CollateralElastic     *big.Int
	CollateralBase        *big.Int
	LastAccruedTimestamp  uint64
	FeesEarned            *big.Int
}

// RegistryInfo is a read-only snapshot of a registry.
type RegistryInfo struct {
	Asset           string
	Decimals        uint8
	Params          RegistryParams
	Ownership       Ownership
	ExchangeRate    *big.Int
	Debt            shares.Rebase
	CollateralTotal shares.Rebase
	Accrue          AccrueInfo
}

// Position summarises one holding's exposure in one asset.
type Position struct {
	Asset            string
	Holding          [20]byte
	CollateralShares *big.Int
	CollateralAmount *big.Int
	BorrowedShares   *big.Int
	BorrowedAmount   *big.Int
	Solvent          bool
}

// BorrowItem is one leg of BorrowMultiple.
type BorrowItem struct {
	Asset  string
	Amount *big.Int
}

// RepayItem is one leg of RepayMultiple.
type RepayItem struct {
	Asset  string
	Amount *big.Int
}

// StrategyStep names a strategy to unwind and the opaque route data handed
// to it unchanged.
type StrategyStep struct {
	Strategy  string
	RouteData []byte
}

// LiquidationPlan lists the investments to unwind before a liquidation.
// MaxLoss bounds how far below the invested amount a claim may come back,
// on the RatioPrecision scale. BurnFromHolding makes a liquidator pay the
// owed stable from its holding instead of its own account.
type LiquidationPlan struct {
	Steps           []StrategyStep
	MaxLoss         uint64
	BurnFromHolding bool
}

// SwapRequest is handed to the Swapper during an exchange.
type SwapRequest struct {
	Holding   [20]byte
	FromAsset string
	ToAsset   string
	AmountIn  *big.Int
	MinOut    *big.Int
	RouteData []byte
}

// LiquidationResult reports how a liquidation settled.
type LiquidationResult struct {
	DebtRepaid        *big.Int
	CollateralSeized  *big.Int
	LiquidatorPayout  *big.Int
	ProtocolFee       *big.Int
	StrategiesClaimed *big.Int
	RewardsClaimed    *big.Int
}

func (r *registryRecord) info() RegistryInfo {
	return RegistryInfo{
		Asset:    r.Asset,
		Decimals: r.Decimals,
		Params: RegistryParams{
			CollateralizationRate: r.CollateralizationRate,
			BorrowOpeningFee:      r.BorrowOpeningFee,
			LiquidationMultiplier: r.LiquidationMultiplier,
			OracleRef:             r.OracleRef,
			OracleConfig:          append([]byte(nil), r.OracleConfig...),
		},
		Ownership: Ownership{
			Owner:        r.Owner,
			PendingOwner: r.PendingOwner,
			HasPending:   r.HasPending,
		},
		ExchangeRate:    cloneBig(r.ExchangeRate),
		Debt:            r.debt(),
		CollateralTotal: r.collateral(),
		Accrue: AccrueInfo{
			LastAccruedTimestamp: r.LastAccruedTimestamp,
			FeesEarned:           cloneBig(r.FeesEarned),
		},
	}
}

func (r *registryRecord) debt() shares.Rebase {
	return shares.Rebase{Elastic: cloneBig(r.DebtElastic), Base: cloneBig(r.DebtBase)}
}

func (r *registryRecord) setDebt(total shares.Rebase) {
	r.DebtElastic = cloneBig(total.Elastic)
	r.DebtBase = cloneBig(total.Base)
}

func (r *registryRecord) collateral() shares.Rebase {
	return shares.Rebase{Elastic: cloneBig(r.CollateralElastic), Base: cloneBig(r.CollateralBase)}
}

func (r *registryRecord) setCollateral(total shares.Rebase) {
	r.CollateralElastic = cloneBig(total.Elastic)
	r.CollateralBase = cloneBig(total.Base)
}

func (r *registryRecord) ensureDefaults() {
	if r.ExchangeRate == nil {
		r.ExchangeRate = big.NewInt(0)
	}
	if r.DebtElastic == nil {
		r.DebtElastic = big.NewInt(0)
	}
	if r.DebtBase == nil {
		r.DebtBase = big.NewInt(0)
	}
	if r.CollateralElastic == nil {
		r.CollateralElastic = big.NewInt(0)
	}
	if r.CollateralBase == nil {
		r.CollateralBase = big.NewInt(0)
	}
	if r.FeesEarned == nil {
		r.FeesEarned = big.NewInt(0)
	}
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func isZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return cloneBig(a)
	}
	return cloneBig(b)
}
