package ledger

import "fmt"

const (
	// RoleOperator marks trusted managers allowed to act on any holding.
	RoleOperator = "ROLE_LEDGER_OPERATOR"
	// RoleAdmin guards force operations and the asset allow-list.
	RoleAdmin = "ROLE_LEDGER_ADMIN"

	// DefaultLiquidationProtocolShare routes half of the liquidation bonus
	// to the fee recipient.
	DefaultLiquidationProtocolShare uint64 = 50_000
)

// Config captures the runtime configuration of the coordinator.
type Config struct {
	// Address is the identity the coordinator presents to its registries.
	Address [20]byte
	// FeeRecipient receives opening fees and the protocol cut of
	// liquidations.
	FeeRecipient [20]byte
	// StableAsset is the symbol minted against debt.
	StableAsset string
	// LiquidationProtocolShare is the fraction of the liquidation bonus, in
	// RatioPrecision units, kept by the protocol.
	LiquidationProtocolShare uint64
}

// EnsureDefaults fills unset fields.
func (c *Config) EnsureDefaults() {
	if c == nil {
		return
	}
	if c.LiquidationProtocolShare == 0 {
		c.LiquidationProtocolShare = DefaultLiquidationProtocolShare
	}
	c.StableAsset = normalizeAsset(c.StableAsset)
}

// Validate checks the configuration after defaults were applied.
func (c Config) Validate() error {
	if c.Address == ([20]byte{}) {
		return fmt.Errorf("%w: coordinator address required", ErrInvalidParameter)
	}
	if c.FeeRecipient == ([20]byte{}) {
		return fmt.Errorf("%w: fee recipient required", ErrInvalidParameter)
	}
	if c.StableAsset == "" {
		return fmt.Errorf("%w: stable asset required", ErrInvalidParameter)
	}
	if c.LiquidationProtocolShare > RatioPrecision {
		return fmt.Errorf("%w: liquidation protocol share %d", ErrOverLimit, c.LiquidationProtocolShare)
	}
	return nil
}
