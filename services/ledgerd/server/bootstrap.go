package server

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"vaultledger/config"
	"vaultledger/core/state"
	"vaultledger/native/ledger"
)

var (
	rootKey     = []byte("ledgerd/root")
	sequenceKey = []byte("ledgerd/sequence")
)

// loadHead returns the last persisted state root and commit sequence. A
// fresh database reports a nil root.
func (s *Service) loadHead() ([]byte, uint64) {
	root, err := s.db.Get(rootKey)
	if err != nil || len(root) == 0 {
		return nil, 0
	}
	raw, err := s.db.Get(sequenceKey)
	if err != nil || len(raw) != 8 {
		return root, 0
	}
	return root, binary.BigEndian.Uint64(raw)
}

func (s *Service) storeHead(root []byte, sequence uint64) error {
	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], sequence)
	if err := s.db.Put(sequenceKey, raw[:]); err != nil {
		return err
	}
	return s.db.Put(rootKey, root)
}

// seed writes the bootstrap file into an empty state. Every step goes
// through the regular engine so the journal sees the resulting events.
func (s *Service) seed(cfg *config.Config) error {
	for _, tok := range cfg.Tokens {
		if err := s.state.RegisterToken(tok.Symbol, tok.Name, tok.Decimals); err != nil {
			return fmt.Errorf("register token %s: %w", tok.Symbol, err)
		}
	}
	for _, grant := range cfg.Roles {
		addr, err := parseConfigAddress(grant.Address)
		if err != nil {
			return err
		}
		if err := s.state.SetRole(grant.Role, addr[:]); err != nil {
			return fmt.Errorf("grant %s: %w", grant.Role, err)
		}
	}
	for _, alloc := range cfg.Allocations {
		addr, symbol, amount, err := alloc.Params()
		if err != nil {
			return err
		}
		if amount.Sign() == 0 {
			continue
		}
		if err := s.bank.MintToken(symbol, addr, amount); err != nil {
			return fmt.Errorf("allocate %s: %w", symbol, err)
		}
	}
	for _, asset := range cfg.Assets {
		reg, err := s.coord.Registry(asset.Symbol)
		if err != nil {
			return err
		}
		owner, err := asset.OwnerAddress()
		if err != nil {
			return err
		}
		decimals, err := s.Decimals(asset.Symbol)
		if err != nil {
			return err
		}
		if err := reg.Initialize(owner, decimals, asset.Params()); err != nil {
			return fmt.Errorf("initialise %s: %w", asset.Symbol, err)
		}
	}
	if admin, ok := cfg.Admin(); ok {
		for _, asset := range cfg.Assets {
			if !asset.Whitelisted {
				continue
			}
			if err := s.coord.SetAssetWhitelisted(admin, asset.Symbol, true); err != nil {
				return fmt.Errorf("whitelist %s: %w", asset.Symbol, err)
			}
		}
	}
	return s.state.SetStateVersion(state.StateVersion)
}

// fixedRates collects the configured oracle rates.
func fixedRates(cfg *config.Config) (map[string]*big.Int, error) {
	rates := make(map[string]*big.Int, len(cfg.Assets))
	for _, asset := range cfg.Assets {
		rate, err := asset.Rate()
		if err != nil {
			return nil, err
		}
		if rate != nil {
			rates[asset.Symbol] = rate
		}
	}
	return rates, nil
}

func registryAssets(cfg *config.Config) []string {
	assets := make([]string, 0, len(cfg.Assets))
	for _, asset := range cfg.Assets {
		assets = append(assets, asset.Symbol)
	}
	return assets
}

func parseConfigAddress(value string) ([20]byte, error) {
	addr, err := parseAddress(value)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%w: %s", ledger.ErrInvalidParameter, err)
	}
	return addr, nil
}
