package bank

import (
	"errors"
	"fmt"
	"math/big"

	"vaultledger/core/state"
)

var (
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrUnknownToken        = errors.New("bank: unknown token")
	ErrInvalidAmount       = errors.New("bank: amount must be positive")
)

type ledgerState interface {
	Token(symbol string) (*state.TokenMetadata, error)
	Balance(addr []byte, symbol string) (*big.Int, error)
	SetBalance(addr []byte, symbol string, amount *big.Int) error
	TotalSupply(symbol string) (*big.Int, error)
	SetTotalSupply(symbol string, amount *big.Int) error
}

// Ledger moves token balances recorded in the state trie. Because balances
// share the trie with the lending book they are reverted together with it.
type Ledger struct {
	st     ledgerState
	stable string
}

// NewLedger returns a bank over st. stable names the token minted and burned
// through the StableIssuer methods.
func NewLedger(st ledgerState, stable string) *Ledger {
	return &Ledger{st: st, stable: state.NormalizeSymbol(stable)}
}

func (l *Ledger) token(symbol string) (string, error) {
	normalized := state.NormalizeSymbol(symbol)
	meta, err := l.st.Token(normalized)
	if err != nil {
		return "", err
	}
	if meta == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownToken, normalized)
	}
	return normalized, nil
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// BalanceOf returns the balance of addr in symbol.
func (l *Ledger) BalanceOf(symbol string, addr [20]byte) (*big.Int, error) {
	return l.st.Balance(addr[:], state.NormalizeSymbol(symbol))
}

// Transfer debits from and credits to.
func (l *Ledger) Transfer(symbol string, from, to [20]byte, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	symbol, err := l.token(symbol)
	if err != nil {
		return err
	}
	fromBalance, err := l.st.Balance(from[:], symbol)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientBalance, shortAddr(from), fromBalance, symbol, amount)
	}
	if from == to {
		return nil
	}
	toBalance, err := l.st.Balance(to[:], symbol)
	if err != nil {
		return err
	}
	if err := l.st.SetBalance(from[:], symbol, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return l.st.SetBalance(to[:], symbol, new(big.Int).Add(toBalance, amount))
}

// MintToken credits amount of symbol to addr and grows the supply.
func (l *Ledger) MintToken(symbol string, to [20]byte, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	symbol, err := l.token(symbol)
	if err != nil {
		return err
	}
	balance, err := l.st.Balance(to[:], symbol)
	if err != nil {
		return err
	}
	supply, err := l.st.TotalSupply(symbol)
	if err != nil {
		return err
	}
	if err := l.st.SetBalance(to[:], symbol, new(big.Int).Add(balance, amount)); err != nil {
		return err
	}
	return l.st.SetTotalSupply(symbol, new(big.Int).Add(supply, amount))
}

// BurnToken debits amount of symbol from addr and shrinks the supply.
func (l *Ledger) BurnToken(symbol string, from [20]byte, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	symbol, err := l.token(symbol)
	if err != nil {
		return err
	}
	balance, err := l.st.Balance(from[:], symbol)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientBalance, shortAddr(from), balance, symbol, amount)
	}
	supply, err := l.st.TotalSupply(symbol)
	if err != nil {
		return err
	}
	if err := l.st.SetBalance(from[:], symbol, new(big.Int).Sub(balance, amount)); err != nil {
		return err
	}
	next := new(big.Int).Sub(supply, amount)
	if next.Sign() < 0 {
		next.SetInt64(0)
	}
	return l.st.SetTotalSupply(symbol, next)
}

// Mint issues the stable asset.
func (l *Ledger) Mint(to [20]byte, amount *big.Int) error {
	return l.MintToken(l.stable, to, amount)
}

// Burn retires the stable asset.
func (l *Ledger) Burn(from [20]byte, amount *big.Int) error {
	return l.BurnToken(l.stable, from, amount)
}

// Reward pays a holding minting reward out of the treasury account.
type Reward struct {
	Bank     *Ledger
	Treasury [20]byte
}

// PayReward transfers amount of symbol from the treasury to creator.
func (r Reward) PayReward(symbol string, creator [20]byte, amount *big.Int) error {
	if r.Bank == nil {
		return fmt.Errorf("bank: reward bank not configured")
	}
	return r.Bank.Transfer(symbol, r.Treasury, creator, amount)
}

func shortAddr(addr [20]byte) string {
	return fmt.Sprintf("0x%x", addr[:4])
}
