package config

// Config is the ledger bootstrap file. It seeds tokens, registries, the
// holding pool and role grants on first start.
type Config struct {
	Coordinator   CoordinatorConfig `toml:"coordinator"`
	Tokens        []TokenConfig     `toml:"tokens"`
	Assets        []AssetConfig     `toml:"assets"`
	Pool          PoolConfig        `toml:"pool"`
	Roles         []RoleGrant       `toml:"roles"`
	Allocations   []Allocation      `toml:"allocations"`
	PausedModules []string          `toml:"PausedModules"`
}

// CoordinatorConfig captures the coordinator identity and fee routing.
type CoordinatorConfig struct {
	Address                  string `toml:"Address"`
	FeeRecipient             string `toml:"FeeRecipient"`
	StableAsset              string `toml:"StableAsset"`
	LiquidationProtocolShare uint64 `toml:"LiquidationProtocolShare"`
}

// TokenConfig registers a fungible token in state.
type TokenConfig struct {
	Symbol   string `toml:"Symbol"`
	Name     string `toml:"Name"`
	Decimals uint8  `toml:"Decimals"`
}

// AssetConfig describes one collateral registry. Ratios use a 1e5
// denominator; FixedRate is an 18-decimal exchange rate against the stable
// asset served by the built-in fixed oracle.
type AssetConfig struct {
	Symbol                string `toml:"Symbol"`
	Owner                 string `toml:"Owner"`
	CollateralizationRate uint64 `toml:"CollateralizationRate"`
	BorrowOpeningFee      uint64 `toml:"BorrowOpeningFee"`
	LiquidationMultiplier uint64 `toml:"LiquidationMultiplier"`
	Oracle                string `toml:"Oracle"`
	FixedRate             string `toml:"FixedRate"`
	Whitelisted           bool   `toml:"Whitelisted"`
}

// PoolConfig captures the holding pool parameters.
type PoolConfig struct {
	Address            string `toml:"Address"`
	Maximum            uint64 `toml:"Maximum"`
	Treasury           string `toml:"Treasury"`
	RewardAsset        string `toml:"RewardAsset"`
	MintingReward      string `toml:"MintingReward"`
	FirstDepositAsset  string `toml:"FirstDepositAsset"`
	FirstDepositAmount string `toml:"FirstDepositAmount"`
}

// RoleGrant assigns a role to an address at bootstrap.
type RoleGrant struct {
	Role    string `toml:"Role"`
	Address string `toml:"Address"`
}

// Allocation mints an initial token balance at bootstrap.
type Allocation struct {
	Address string `toml:"Address"`
	Symbol  string `toml:"Symbol"`
	Amount  string `toml:"Amount"`
}
