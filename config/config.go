package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"vaultledger/crypto"
	"vaultledger/native/holdings"
	"vaultledger/native/ledger"

	"github.com/BurntSushi/toml"
)

const (
	DefaultStableAsset = "USDV"
	DefaultPoolMaximum = 1_000
)

// Load loads the bootstrap file at path. A missing file is replaced with a
// default configuration which is written back to disk.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.EnsureDefaults()
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnsureDefaults fills zero values left by a sparse file.
func (c *Config) EnsureDefaults() {
	if strings.TrimSpace(c.Coordinator.StableAsset) == "" {
		c.Coordinator.StableAsset = DefaultStableAsset
	}
	if c.Coordinator.LiquidationProtocolShare == 0 {
		c.Coordinator.LiquidationProtocolShare = ledger.DefaultLiquidationProtocolShare
	}
	if c.Pool.Maximum == 0 {
		c.Pool.Maximum = DefaultPoolMaximum
	}
	if c.Tokens == nil {
		c.Tokens = []TokenConfig{}
	}
	if c.Assets == nil {
		c.Assets = []AssetConfig{}
	}
	for i := range c.Assets {
		if strings.TrimSpace(c.Assets[i].Oracle) == "" {
			c.Assets[i].Oracle = FixedOracleName
		}
	}
	if c.PausedModules == nil {
		c.PausedModules = []string{}
	}
	if c.Allocations == nil {
		c.Allocations = []Allocation{}
	}
}

// FixedOracleName is the oracle reference served from the configured
// FixedRate values.
const FixedOracleName = "fixed"

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		Coordinator: CoordinatorConfig{
			Address:      crypto.FormatAccount([20]byte{0xc0}),
			FeeRecipient: crypto.FormatAccount([20]byte{0xfe}),
			StableAsset:  DefaultStableAsset,
		},
		Tokens: []TokenConfig{
			{Symbol: DefaultStableAsset, Name: "Vault USD", Decimals: ledger.StableDecimals},
		},
		Pool: PoolConfig{
			Address:  crypto.FormatAccount([20]byte{0x90}),
			Treasury: crypto.FormatAccount([20]byte{0x7e}),
		},
	}
	cfg.EnsureDefaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// Params converts the coordinator section.
func (c CoordinatorConfig) Params() (ledger.Config, error) {
	addr, err := parseAddress(c.Address)
	if err != nil {
		return ledger.Config{}, fmt.Errorf("coordinator.Address: %w", err)
	}
	fee, err := parseAddress(c.FeeRecipient)
	if err != nil {
		return ledger.Config{}, fmt.Errorf("coordinator.FeeRecipient: %w", err)
	}
	out := ledger.Config{
		Address:                  addr,
		FeeRecipient:             fee,
		StableAsset:              normalizeSymbol(c.StableAsset),
		LiquidationProtocolShare: c.LiquidationProtocolShare,
	}
	out.EnsureDefaults()
	if err := out.Validate(); err != nil {
		return ledger.Config{}, fmt.Errorf("coordinator: %w", err)
	}
	return out, nil
}

// Params converts the registry parameters. The oracle configuration is the
// asset symbol so the fixed oracle can look up its rate.
func (a AssetConfig) Params() ledger.RegistryParams {
	return ledger.RegistryParams{
		CollateralizationRate: a.CollateralizationRate,
		BorrowOpeningFee:      a.BorrowOpeningFee,
		LiquidationMultiplier: a.LiquidationMultiplier,
		OracleRef:             strings.TrimSpace(a.Oracle),
		OracleConfig:          []byte(normalizeSymbol(a.Symbol)),
	}
}

// OwnerAddress returns the registry owner.
func (a AssetConfig) OwnerAddress() ([20]byte, error) {
	owner, err := parseAddress(a.Owner)
	if err != nil {
		return [20]byte{}, fmt.Errorf("assets: %s Owner: %w", a.Symbol, err)
	}
	return owner, nil
}

// Rate returns the configured fixed exchange rate, nil when unset.
func (a AssetConfig) Rate() (*big.Int, error) {
	if strings.TrimSpace(a.FixedRate) == "" {
		return nil, nil
	}
	rate, err := parseUintAmount(a.FixedRate)
	if err != nil {
		return nil, fmt.Errorf("assets: %s FixedRate: %w", a.Symbol, err)
	}
	return rate, nil
}

// Params converts the pool section and returns the treasury paying rewards.
func (p PoolConfig) Params() (holdings.Config, [20]byte, error) {
	var treasury [20]byte
	addr, err := parseAddress(p.Address)
	if err != nil {
		return holdings.Config{}, treasury, fmt.Errorf("pool.Address: %w", err)
	}
	if strings.TrimSpace(p.Treasury) != "" {
		treasury, err = parseAddress(p.Treasury)
		if err != nil {
			return holdings.Config{}, treasury, fmt.Errorf("pool.Treasury: %w", err)
		}
	}
	reward, err := parseUintAmount(p.MintingReward)
	if err != nil {
		return holdings.Config{}, treasury, fmt.Errorf("pool.MintingReward: %w", err)
	}
	deposit, err := parseUintAmount(p.FirstDepositAmount)
	if err != nil {
		return holdings.Config{}, treasury, fmt.Errorf("pool.FirstDepositAmount: %w", err)
	}
	if reward.Sign() > 0 && normalizeSymbol(p.RewardAsset) == "" {
		return holdings.Config{}, treasury, fmt.Errorf("pool.RewardAsset required when MintingReward is set")
	}
	if deposit.Sign() > 0 && normalizeSymbol(p.FirstDepositAsset) == "" {
		return holdings.Config{}, treasury, fmt.Errorf("pool.FirstDepositAsset required when FirstDepositAmount is set")
	}
	return holdings.Config{
		Address:            addr,
		Maximum:            p.Maximum,
		RewardAsset:        normalizeSymbol(p.RewardAsset),
		MintingReward:      reward,
		FirstDepositAsset:  normalizeSymbol(p.FirstDepositAsset),
		FirstDepositAmount: deposit,
	}, treasury, nil
}

// Params converts the allocation.
func (a Allocation) Params() ([20]byte, string, *big.Int, error) {
	addr, err := parseAddress(a.Address)
	if err != nil {
		return [20]byte{}, "", nil, err
	}
	amount, err := parseUintAmount(a.Amount)
	if err != nil {
		return [20]byte{}, "", nil, err
	}
	return addr, normalizeSymbol(a.Symbol), amount, nil
}

func parseAddress(value string) ([20]byte, error) {
	if strings.TrimSpace(value) == "" {
		return [20]byte{}, fmt.Errorf("address required")
	}
	return crypto.ParseAddress(value)
}

// parseUintAmount parses a base-10 amount, treating empty as zero.
func parseUintAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
