package config

import (
	"fmt"
	"strings"

	"vaultledger/native/ledger"
)

// ValidateConfig checks cross-field consistency after defaults were applied.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}
	if _, err := cfg.Coordinator.Params(); err != nil {
		return err
	}
	tokens := make(map[string]bool, len(cfg.Tokens))
	for _, tok := range cfg.Tokens {
		symbol := normalizeSymbol(tok.Symbol)
		if symbol == "" {
			return fmt.Errorf("tokens: symbol required")
		}
		if tok.Decimals > ledger.StableDecimals {
			return fmt.Errorf("tokens: %s has %d decimals, max %d", symbol, tok.Decimals, ledger.StableDecimals)
		}
		if tokens[symbol] {
			return fmt.Errorf("tokens: duplicate symbol %s", symbol)
		}
		tokens[symbol] = true
	}
	if !tokens[normalizeSymbol(cfg.Coordinator.StableAsset)] {
		return fmt.Errorf("coordinator: stable asset %s is not a configured token", cfg.Coordinator.StableAsset)
	}
	seen := make(map[string]bool, len(cfg.Assets))
	for _, asset := range cfg.Assets {
		symbol := normalizeSymbol(asset.Symbol)
		if !tokens[symbol] {
			return fmt.Errorf("assets: %s is not a configured token", asset.Symbol)
		}
		if seen[symbol] {
			return fmt.Errorf("assets: duplicate registry %s", symbol)
		}
		seen[symbol] = true
		if _, err := asset.OwnerAddress(); err != nil {
			return err
		}
		if _, err := asset.Rate(); err != nil {
			return err
		}
		p := asset.Params()
		if p.CollateralizationRate == 0 || p.CollateralizationRate > ledger.RatioPrecision {
			return fmt.Errorf("assets: %s CollateralizationRate %d out of range", symbol, p.CollateralizationRate)
		}
		if p.BorrowOpeningFee >= ledger.RatioPrecision {
			return fmt.Errorf("assets: %s BorrowOpeningFee %d out of range", symbol, p.BorrowOpeningFee)
		}
		if p.LiquidationMultiplier < ledger.RatioPrecision {
			return fmt.Errorf("assets: %s LiquidationMultiplier %d below %d", symbol, p.LiquidationMultiplier, ledger.RatioPrecision)
		}
	}
	if _, _, err := cfg.Pool.Params(); err != nil {
		return err
	}
	for _, grant := range cfg.Roles {
		if strings.TrimSpace(grant.Role) == "" {
			return fmt.Errorf("roles: role name required")
		}
		if _, err := parseAddress(grant.Address); err != nil {
			return fmt.Errorf("roles: %s: %w", grant.Role, err)
		}
	}
	for _, asset := range cfg.Assets {
		if asset.Whitelisted {
			if _, ok := cfg.Admin(); !ok {
				return fmt.Errorf("assets: whitelisting %s requires a %s role grant", asset.Symbol, ledger.RoleAdmin)
			}
			break
		}
	}
	for _, alloc := range cfg.Allocations {
		if !tokens[normalizeSymbol(alloc.Symbol)] {
			return fmt.Errorf("allocations: %s is not a configured token", alloc.Symbol)
		}
		if _, err := parseAddress(alloc.Address); err != nil {
			return fmt.Errorf("allocations: %w", err)
		}
		if _, err := parseUintAmount(alloc.Amount); err != nil {
			return fmt.Errorf("allocations: %s: %w", alloc.Symbol, err)
		}
	}
	return nil
}

// Admin returns the first address granted the ledger admin role.
func (c *Config) Admin() ([20]byte, bool) {
	for _, grant := range c.Roles {
		if strings.TrimSpace(grant.Role) != ledger.RoleAdmin {
			continue
		}
		addr, err := parseAddress(grant.Address)
		if err == nil {
			return addr, true
		}
	}
	return [20]byte{}, false
}
