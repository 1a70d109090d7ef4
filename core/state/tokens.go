package state

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// TokenMetadata describes a fungible asset tracked by the ledger.
type TokenMetadata struct {
	Symbol   string
	Name     string
	Decimals uint8
}

var (
	tokenPrefix   = []byte("token:")
	tokenListKey  = ethcrypto.Keccak256([]byte("token-list"))
	balancePrefix = []byte("balance:")
	supplyPrefix  = []byte("supply:")
)

// NormalizeSymbol canonicalises a token symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func tokenMetadataKey(symbol string) []byte {
	return ethcrypto.Keccak256(append(append([]byte(nil), tokenPrefix...), symbol...))
}

func supplyKey(symbol string) []byte {
	return ethcrypto.Keccak256(append(append([]byte(nil), supplyPrefix...), symbol...))
}

func balanceKey(addr []byte, symbol string) []byte {
	buf := make([]byte, len(balancePrefix)+len(symbol)+1+len(addr))
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], symbol)
	buf[len(balancePrefix)+len(symbol)] = ':'
	copy(buf[len(balancePrefix)+len(symbol)+1:], addr)
	return ethcrypto.Keccak256(buf)
}

func (m *Manager) getBig(key []byte) (*big.Int, error) {
	data, err := m.trie.Get(key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	amount := new(big.Int)
	if err := rlp.DecodeBytes(data, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func (m *Manager) putBig(key []byte, amount *big.Int) error {
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	return m.trie.Update(key, encoded)
}

// RegisterToken stores the metadata for a token and records it in the token
// index.
func (m *Manager) RegisterToken(symbol, name string, decimals uint8) error {
	normalized := NormalizeSymbol(symbol)
	if normalized == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("token %s: name must not be empty", normalized)
	}
	if existing, err := m.Token(normalized); err != nil {
		return err
	} else if existing != nil {
		return fmt.Errorf("token %s already registered", normalized)
	}
	list, err := m.TokenList()
	if err != nil {
		return err
	}
	list = append(list, normalized)
	sort.Strings(list)
	encodedList, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	if err := m.trie.Update(tokenListKey, encodedList); err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(&TokenMetadata{Symbol: normalized, Name: name, Decimals: decimals})
	if err != nil {
		return err
	}
	return m.trie.Update(tokenMetadataKey(normalized), encoded)
}

// Token retrieves metadata for a registered token. A nil result means the
// token is unknown.
func (m *Manager) Token(symbol string) (*TokenMetadata, error) {
	data, err := m.trie.Get(tokenMetadataKey(NormalizeSymbol(symbol)))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	meta := new(TokenMetadata)
	if err := rlp.DecodeBytes(data, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// TokenExists reports whether the provided token symbol is registered.
func (m *Manager) TokenExists(symbol string) bool {
	meta, err := m.Token(symbol)
	return err == nil && meta != nil
}

// TokenList returns all registered token symbols in sorted order.
func (m *Manager) TokenList() ([]string, error) {
	data, err := m.trie.Get(tokenListKey)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return []string{}, nil
	}
	var list []string
	if err := rlp.DecodeBytes(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// SetBalance stores an account balance for the provided token.
func (m *Manager) SetBalance(addr []byte, symbol string, amount *big.Int) error {
	if len(addr) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	normalized := NormalizeSymbol(symbol)
	if !m.TokenExists(normalized) {
		return fmt.Errorf("token %s not registered", normalized)
	}
	return m.putBig(balanceKey(addr, normalized), amount)
}

// Balance retrieves a token balance for the provided account and token.
func (m *Manager) Balance(addr []byte, symbol string) (*big.Int, error) {
	return m.getBig(balanceKey(addr, NormalizeSymbol(symbol)))
}

// TotalSupply returns the circulating supply recorded for a token.
func (m *Manager) TotalSupply(symbol string) (*big.Int, error) {
	return m.getBig(supplyKey(NormalizeSymbol(symbol)))
}

// SetTotalSupply overwrites the circulating supply recorded for a token.
func (m *Manager) SetTotalSupply(symbol string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("supply must be non-negative")
	}
	return m.putBig(supplyKey(NormalizeSymbol(symbol)), amount)
}
