package events

import (
	"math/big"
	"strconv"

	"vaultledger/core/types"
	"vaultledger/crypto"
)

const (
	// TypeHoldingCreated is emitted when the pool allocates a holding.
	TypeHoldingCreated = "holding.created"
	// TypeHoldingAssigned is emitted when a holding is bound to its owner.
	TypeHoldingAssigned = "holding.assigned"
	// TypeHoldingDeposit is emitted for the first deposit of a self-assigned
	// holding.
	TypeHoldingDeposit = "holding.deposit"
)

// HoldingCreated captures a new holding and the reward paid to its minter.
type HoldingCreated struct {
	Holding [20]byte
	Minter  [20]byte
	Index   uint64
	Reward  *big.Int
}

// EventType implements the Event interface.
func (HoldingCreated) EventType() string { return TypeHoldingCreated }

// Event converts the creation to the generic event payload.
func (e HoldingCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeHoldingCreated,
		Attributes: map[string]string{
			"holding": crypto.FormatHolding(e.Holding),
			"minter":  crypto.FormatAccount(e.Minter),
			"index":   strconv.FormatUint(e.Index, 10),
			"reward":  amountString(e.Reward),
		},
	}
}

// HoldingAssigned captures the terminal assignment of a holding.
type HoldingAssigned struct {
	Holding [20]byte
	Owner   [20]byte
}

// EventType implements the Event interface.
func (HoldingAssigned) EventType() string { return TypeHoldingAssigned }

// Event converts the assignment to the generic event payload.
func (e HoldingAssigned) Event() *types.Event {
	return &types.Event{
		Type: TypeHoldingAssigned,
		Attributes: map[string]string{
			"holding": crypto.FormatHolding(e.Holding),
			"owner":   crypto.FormatAccount(e.Owner),
		},
	}
}

// HoldingDeposit captures the first deposit of a self-assigned holding.
type HoldingDeposit struct {
	Holding [20]byte
	From    [20]byte
	Asset   string
	Amount  *big.Int
}

// EventType implements the Event interface.
func (HoldingDeposit) EventType() string { return TypeHoldingDeposit }

// Event converts the deposit to the generic event payload.
func (e HoldingDeposit) Event() *types.Event {
	return &types.Event{
		Type: TypeHoldingDeposit,
		Attributes: map[string]string{
			"holding": crypto.FormatHolding(e.Holding),
			"from":    crypto.FormatAccount(e.From),
			"asset":   normalizeAsset(e.Asset),
			"amount":  amountString(e.Amount),
		},
	}
}
