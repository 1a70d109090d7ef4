package events

import (
	"math/big"
	"strconv"

	"vaultledger/core/types"
	"vaultledger/crypto"
)

const (
	// TypeCollateralAdded is emitted when collateral is registered for a holding.
	TypeCollateralAdded = "ledger.collateral.added"
	// TypeCollateralRemoved is emitted when collateral is released from a holding.
	TypeCollateralRemoved = "ledger.collateral.removed"
	// TypeCollateralForced is emitted by the privileged bypass paths.
	TypeCollateralForced = "ledger.collateral.forced"
	TypeBorrowed         = "ledger.debt.borrowed"
	TypeRepaid           = "ledger.debt.repaid"
	// TypeExchanged is emitted when collateral moves from one asset to another.
	TypeExchanged = "ledger.collateral.exchanged"
	// TypeLiquidated covers both third-party and self liquidation.
	TypeLiquidated         = "ledger.position.liquidated"
	TypeRateUpdated        = "ledger.registry.rate_updated"
	TypeFeesAccrued        = "ledger.registry.fees_accrued"
	TypeOwnershipProposed  = "ledger.registry.ownership_proposed"
	TypeOwnershipAccepted  = "ledger.registry.ownership_accepted"
	TypeRegistryParameters = "ledger.registry.parameters"
	TypeAssetWhitelist     = "ledger.asset.whitelist"
)

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// CollateralMoved captures collateral registration changes. Forced marks the
// privileged paths that skip solvency checks.
type CollateralMoved struct {
	Asset   string
	Holding [20]byte
	Amount  *big.Int
	Shares  *big.Int
	Removed bool
	Forced  bool
}

// EventType implements the Event interface.
func (e CollateralMoved) EventType() string {
	switch {
	case e.Forced:
		return TypeCollateralForced
	case e.Removed:
		return TypeCollateralRemoved
	default:
		return TypeCollateralAdded
	}
}

// Event converts the change to the generic event payload.
func (e CollateralMoved) Event() *types.Event {
	return &types.Event{
		Type: e.EventType(),
		Attributes: map[string]string{
			"asset":   normalizeAsset(e.Asset),
			"holding": crypto.FormatHolding(e.Holding),
			"amount":  amountString(e.Amount),
			"shares":  amountString(e.Shares),
			"removed": strconv.FormatBool(e.Removed),
		},
	}
}

// Borrowed captures a new debt position increment.
type Borrowed struct {
	Asset   string
	Holding [20]byte
	Owner   [20]byte
	Amount  *big.Int
	Fee     *big.Int
	Shares  *big.Int
	Minted  *big.Int
	// FeeFromCollateral records that the borrower agreed to carry the opening
	// fee as collateral-backed debt.
	FeeFromCollateral bool
}

// EventType implements the Event interface.
func (Borrowed) EventType() string { return TypeBorrowed }

// Event converts the borrow to the generic event payload.
func (e Borrowed) Event() *types.Event {
	return &types.Event{
		Type: TypeBorrowed,
		Attributes: map[string]string{
			"asset":             normalizeAsset(e.Asset),
			"holding":           crypto.FormatHolding(e.Holding),
			"owner":             crypto.FormatAccount(e.Owner),
			"amount":            amountString(e.Amount),
			"fee":               amountString(e.Fee),
			"shares":            amountString(e.Shares),
			"minted":            amountString(e.Minted),
			"feeFromCollateral": strconv.FormatBool(e.FeeFromCollateral),
		},
	}
}

// Repaid captures a debt reduction.
type Repaid struct {
	Asset     string
	Holding   [20]byte
	BurnedBy  [20]byte
	Amount    *big.Int
	Shares    *big.Int
	Burned    *big.Int
	Remaining *big.Int
}

// EventType implements the Event interface.
func (Repaid) EventType() string { return TypeRepaid }

// Event converts the repayment to the generic event payload.
func (e Repaid) Event() *types.Event {
	return &types.Event{
		Type: TypeRepaid,
		Attributes: map[string]string{
			"asset":     normalizeAsset(e.Asset),
			"holding":   crypto.FormatHolding(e.Holding),
			"burnedBy":  crypto.FormatAccount(e.BurnedBy),
			"amount":    amountString(e.Amount),
			"shares":    amountString(e.Shares),
			"burned":    amountString(e.Burned),
			"remaining": amountString(e.Remaining),
		},
	}
}

// Exchanged captures a cross-asset collateral swap.
type Exchanged struct {
	Holding   [20]byte
	FromAsset string
	ToAsset   string
	AmountIn  *big.Int
	AmountOut *big.Int
}

// EventType implements the Event interface.
func (Exchanged) EventType() string { return TypeExchanged }

// Event converts the exchange to the generic event payload.
func (e Exchanged) Event() *types.Event {
	return &types.Event{
		Type: TypeExchanged,
		Attributes: map[string]string{
			"holding":   crypto.FormatHolding(e.Holding),
			"fromAsset": normalizeAsset(e.FromAsset),
			"toAsset":   normalizeAsset(e.ToAsset),
			"amountIn":  amountString(e.AmountIn),
			"amountOut": amountString(e.AmountOut),
		},
	}
}

// Liquidated captures the outcome of a liquidation.
type Liquidated struct {
	Asset             string
	Holding           [20]byte
	Liquidator        [20]byte
	Self              bool
	DebtRepaid        *big.Int
	CollateralSeized  *big.Int
	LiquidatorPayout  *big.Int
	ProtocolFee       *big.Int
	StrategiesClaimed *big.Int
}

// EventType implements the Event interface.
func (Liquidated) EventType() string { return TypeLiquidated }

// Event converts the liquidation to the generic event payload.
func (e Liquidated) Event() *types.Event {
	return &types.Event{
		Type: TypeLiquidated,
		Attributes: map[string]string{
			"asset":             normalizeAsset(e.Asset),
			"holding":           crypto.FormatHolding(e.Holding),
			"liquidator":        crypto.FormatAccount(e.Liquidator),
			"self":              strconv.FormatBool(e.Self),
			"debtRepaid":        amountString(e.DebtRepaid),
			"collateralSeized":  amountString(e.CollateralSeized),
			"liquidatorPayout":  amountString(e.LiquidatorPayout),
			"protocolFee":       amountString(e.ProtocolFee),
			"strategiesClaimed": amountString(e.StrategiesClaimed),
		},
	}
}

// RateUpdated captures an oracle refresh. Stale is set when the oracle failed
// and the cached rate was retained.
type RateUpdated struct {
	Asset string
	Rate  *big.Int
	Stale bool
}

// EventType implements the Event interface.
func (RateUpdated) EventType() string { return TypeRateUpdated }

// Event converts the refresh to the generic event payload.
func (e RateUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeRateUpdated,
		Attributes: map[string]string{
			"asset": normalizeAsset(e.Asset),
			"rate":  amountString(e.Rate),
			"stale": strconv.FormatBool(e.Stale),
		},
	}
}

// FeesAccrued captures a protocol fee accrual on a registry.
type FeesAccrued struct {
	Asset     string
	Amount    *big.Int
	Total     *big.Int
	Timestamp uint64
}

// EventType implements the Event interface.
func (FeesAccrued) EventType() string { return TypeFeesAccrued }

// Event converts the accrual to the generic event payload.
func (e FeesAccrued) Event() *types.Event {
	return &types.Event{
		Type: TypeFeesAccrued,
		Attributes: map[string]string{
			"asset":     normalizeAsset(e.Asset),
			"amount":    amountString(e.Amount),
			"total":     amountString(e.Total),
			"timestamp": strconv.FormatUint(e.Timestamp, 10),
		},
	}
}

// OwnershipChanged captures both phases of a registry ownership transfer.
type OwnershipChanged struct {
	Asset     string
	Owner     [20]byte
	Candidate [20]byte
	Accepted  bool
}

// EventType implements the Event interface.
func (e OwnershipChanged) EventType() string {
	if e.Accepted {
		return TypeOwnershipAccepted
	}
	return TypeOwnershipProposed
}

// Event converts the ownership change to the generic event payload.
func (e OwnershipChanged) Event() *types.Event {
	return &types.Event{
		Type: e.EventType(),
		Attributes: map[string]string{
			"asset":     normalizeAsset(e.Asset),
			"owner":     crypto.FormatAccount(e.Owner),
			"candidate": crypto.FormatAccount(e.Candidate),
		},
	}
}

// RegistryParameters captures a risk parameter update.
type RegistryParameters struct {
	Asset                 string
	CollateralizationRate uint64
	BorrowOpeningFee      uint64
	LiquidationMultiplier uint64
	OracleRef             string
}

// EventType implements the Event interface.
func (RegistryParameters) EventType() string { return TypeRegistryParameters }

// Event converts the update to the generic event payload.
func (e RegistryParameters) Event() *types.Event {
	return &types.Event{
		Type: TypeRegistryParameters,
		Attributes: map[string]string{
			"asset":                 normalizeAsset(e.Asset),
			"collateralizationRate": strconv.FormatUint(e.CollateralizationRate, 10),
			"borrowOpeningFee":      strconv.FormatUint(e.BorrowOpeningFee, 10),
			"liquidationMultiplier": strconv.FormatUint(e.LiquidationMultiplier, 10),
			"oracle":                e.OracleRef,
		},
	}
}

// AssetWhitelist captures allow-list changes.
type AssetWhitelist struct {
	Asset   string
	Allowed bool
}

// EventType implements the Event interface.
func (AssetWhitelist) EventType() string { return TypeAssetWhitelist }

// Event converts the change to the generic event payload.
func (e AssetWhitelist) Event() *types.Event {
	return &types.Event{
		Type: TypeAssetWhitelist,
		Attributes: map[string]string{
			"asset":   normalizeAsset(e.Asset),
			"allowed": strconv.FormatBool(e.Allowed),
		},
	}
}
