package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vaultledger/crypto"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func sampleConfig() string {
	return `
PausedModules = ["holdings"]

[coordinator]
Address = "` + crypto.FormatAccount([20]byte{0xc0}) + `"
FeeRecipient = "0x00000000000000000000000000000000000000fe"
StableAsset = "usdv"

[[tokens]]
Symbol = "USDV"
Name = "Vault USD"
Decimals = 18

[[tokens]]
Symbol = "WBTC"
Name = "Wrapped BTC"
Decimals = 8

[[assets]]
Symbol = "wbtc"
Owner = "` + crypto.FormatAccount([20]byte{0x0a}) + `"
CollateralizationRate = 75000
BorrowOpeningFee = 500
LiquidationMultiplier = 112000
FixedRate = "30000000000000000000000"
Whitelisted = true

[pool]
Address = "` + crypto.FormatAccount([20]byte{0x90}) + `"
Maximum = 10
Treasury = "` + crypto.FormatAccount([20]byte{0x7e}) + `"
RewardAsset = "usdv"
MintingReward = "5"

[[roles]]
Role = "ROLE_LEDGER_ADMIN"
Address = "` + crypto.FormatAccount([20]byte{0xad}) + `"

[[allocations]]
Address = "` + crypto.FormatAccount([20]byte{0x7e}) + `"
Symbol = "usdv"
Amount = "1000"
`
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig()))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	coord, err := cfg.Coordinator.Params()
	if err != nil {
		t.Fatalf("coordinator params: %v", err)
	}
	if coord.StableAsset != "USDV" || coord.LiquidationProtocolShare != 50_000 {
		t.Fatalf("unexpected coordinator params: %+v", coord)
	}
	if coord.FeeRecipient != ([20]byte{19: 0xfe}) {
		t.Fatalf("unexpected fee recipient %x", coord.FeeRecipient)
	}
	if len(cfg.Assets) != 1 || cfg.Assets[0].Oracle != FixedOracleName {
		t.Fatalf("expected fixed oracle default: %+v", cfg.Assets)
	}
	params := cfg.Assets[0].Params()
	if string(params.OracleConfig) != "WBTC" || params.CollateralizationRate != 75_000 {
		t.Fatalf("unexpected registry params: %+v", params)
	}
	pool, treasury, err := cfg.Pool.Params()
	if err != nil {
		t.Fatalf("pool params: %v", err)
	}
	if pool.Maximum != 10 || pool.RewardAsset != "USDV" || pool.MintingReward.Int64() != 5 {
		t.Fatalf("unexpected pool params: %+v", pool)
	}
	if treasury != ([20]byte{0x7e}) {
		t.Fatalf("unexpected treasury %x", treasury)
	}
	if len(cfg.PausedModules) != 1 || cfg.PausedModules[0] != "holdings" {
		t.Fatalf("unexpected paused modules %v", cfg.PausedModules)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, sampleConfig()+"\n[extra]\nValue = 1\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "unknown keys") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default file to be written: %v", err)
	}
	if cfg.Pool.Maximum != DefaultPoolMaximum {
		t.Fatalf("unexpected default maximum %d", cfg.Pool.Maximum)
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload default: %v", err)
	}
	if reloaded.Coordinator.Address != cfg.Coordinator.Address {
		t.Fatalf("default config did not round trip")
	}
}

func TestValidateConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown asset token", func(c *Config) { c.Assets[0].Symbol = "DOGE" }, "not a configured token"},
		{"collateralization above one", func(c *Config) { c.Assets[0].CollateralizationRate = 100_001 }, "CollateralizationRate"},
		{"multiplier below one", func(c *Config) { c.Assets[0].LiquidationMultiplier = 90_000 }, "LiquidationMultiplier"},
		{"bad rate", func(c *Config) { c.Assets[0].FixedRate = "-1" }, "FixedRate"},
		{"duplicate token", func(c *Config) { c.Tokens = append(c.Tokens, TokenConfig{Symbol: "usdv"}) }, "duplicate symbol"},
		{"wide decimals", func(c *Config) { c.Tokens[1].Decimals = 19 }, "decimals"},
		{"missing owner", func(c *Config) { c.Assets[0].Owner = "" }, "Owner"},
		{"reward without asset", func(c *Config) { c.Pool.RewardAsset = "" }, "RewardAsset"},
		{"bad role address", func(c *Config) { c.Roles[0].Address = "nope" }, "roles"},
		{"whitelist without admin", func(c *Config) { c.Roles = nil }, "requires a ROLE_LEDGER_ADMIN"},
		{"allocation token", func(c *Config) { c.Allocations[0].Symbol = "DOGE" }, "allocations"},
	}
	for _, tc := range cases {
		cfg, err := Load(writeConfig(t, sampleConfig()))
		if err != nil {
			t.Fatalf("%s: load: %v", tc.name, err)
		}
		tc.mutate(cfg)
		err = ValidateConfig(cfg)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error containing %q, got %v", tc.name, tc.want, err)
		}
	}
}
