package ledger

import (
	"errors"

	nativecommon "vaultledger/native/common"
)

// Reason codes name failure classes at the service edge.
const (
	ReasonUnauthorized      = "unauthorized"
	ReasonInvalid           = "invalid_parameter"
	ReasonUnknownAsset      = "unknown_asset"
	ReasonNotWhitelisted    = "asset_not_whitelisted"
	ReasonOverLimit         = "over_limit"
	ReasonPoolExhausted     = "pool_exhausted"
	ReasonInsufficient      = "insufficient_collateral"
	ReasonNothingToRepay    = "nothing_to_repay"
	ReasonNoHolding         = "no_holding_available"
	ReasonAlreadyAssigned   = "already_assigned"
	ReasonNotLiquidatable   = "not_liquidatable"
	ReasonNoPendingTransfer = "no_pending_transfer"
	ReasonSlippage          = "slippage_exceeded"
	ReasonOracle            = "oracle_unavailable"
	ReasonTransfer          = "transfer_failed"
	ReasonPaused            = "module_paused"
	ReasonInternal          = "internal"
)

var reasonTable = []struct {
	err    error
	reason string
}{
	// ErrPoolExhausted wraps ErrOverLimit and must be matched first.
	{ErrPoolExhausted, ReasonPoolExhausted},
	{ErrUnauthorized, ReasonUnauthorized},
	{ErrZeroAmount, ReasonInvalid},
	{ErrInvalidParameter, ReasonInvalid},
	{ErrUnknownAsset, ReasonUnknownAsset},
	{ErrAssetNotWhitelisted, ReasonNotWhitelisted},
	{ErrOverLimit, ReasonOverLimit},
	{ErrInsufficientCollateral, ReasonInsufficient},
	{ErrNothingToRepay, ReasonNothingToRepay},
	{ErrNoHoldingAvailable, ReasonNoHolding},
	{ErrAlreadyAssigned, ReasonAlreadyAssigned},
	{ErrNotLiquidatable, ReasonNotLiquidatable},
	{ErrNoPendingTransfer, ReasonNoPendingTransfer},
	{ErrSlippageExceeded, ReasonSlippage},
	{ErrOracleUnavailable, ReasonOracle},
	{ErrTransferFailed, ReasonTransfer},
	{nativecommon.ErrModulePaused, ReasonPaused},
}

// Reason classifies err into one of the Reason codes. Unclassified errors
// report ReasonInternal and nil reports the empty string.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range reasonTable {
		if errors.Is(err, entry.err) {
			return entry.reason
		}
	}
	return ReasonInternal
}
