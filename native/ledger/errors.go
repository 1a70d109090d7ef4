package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized indicates the caller lacks the role the operation needs:
	// registry owner, coordinator-only or holding owner.
	ErrUnauthorized = errors.New("ledger: unauthorized")
	// ErrZeroAmount indicates a required positive amount was zero.
	ErrZeroAmount = errors.New("ledger: amount must be positive")
	// ErrInvalidParameter indicates an empty or malformed argument.
	ErrInvalidParameter = errors.New("ledger: invalid parameter")

	ErrInsufficientCollateral = errors.New("ledger: insufficient collateral")
	ErrNothingToRepay         = errors.New("ledger: nothing to repay")
	ErrNoHoldingAvailable     = errors.New("ledger: no holding available")

	// ErrOverLimit indicates a post-operation invariant would break: the
	// solvency ratio, the pool capacity or a fee bound.
	ErrOverLimit = errors.New("ledger: over limit")
	// ErrPoolExhausted is the pool-capacity form of ErrOverLimit.
	ErrPoolExhausted = fmt.Errorf("%w: holding pool exhausted", ErrOverLimit)

	ErrAssetNotWhitelisted = errors.New("ledger: asset not whitelisted")
	ErrUnknownAsset        = errors.New("ledger: unknown asset")

	ErrNotLiquidatable   = errors.New("ledger: position is solvent")
	ErrAlreadyAssigned   = errors.New("ledger: holding already assigned")
	ErrNoPendingTransfer = errors.New("ledger: no pending ownership transfer")

	// External collaborator failures. They are surfaced without retry.
	ErrSlippageExceeded  = errors.New("ledger: swap output below minimum")
	ErrOracleUnavailable = errors.New("ledger: oracle unavailable")
	ErrTransferFailed    = errors.New("ledger: asset transfer failed")
)
