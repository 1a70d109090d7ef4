// Package shares converts between absolute amounts and proportional shares of
// a pool whose total value can move independently of any single holder.
//
// A Rebase pairs the pool's total amount (Elastic) with the total shares
// issued against it (Base). Every multiplication runs through 256-bit
// intermediates with a 512-bit product, so 18-decimal amounts can be scaled
// by fixed-point rates without overflow.
package shares

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	ErrOverflow       = errors.New("shares: value exceeds 256 bits")
	ErrNegative       = errors.New("shares: negative value")
	ErrDivisionByZero = errors.New("shares: division by zero")
)

// Rebase is the (elastic, base) pair of a share-accounted pool.
type Rebase struct {
	Elastic *big.Int
	Base    *big.Int
}

// NewRebase returns an empty pool.
func NewRebase() Rebase {
	return Rebase{Elastic: big.NewInt(0), Base: big.NewInt(0)}
}

// Clone returns a deep copy with nil fields normalised to zero.
func (r Rebase) Clone() Rebase {
	return Rebase{Elastic: clone(r.Elastic), Base: clone(r.Base)}
}

// IsEmpty reports whether no shares have been issued.
func (r Rebase) IsEmpty() bool {
	return r.Base == nil || r.Base.Sign() == 0
}

// Add returns the pool after crediting amount and shares.
func (r Rebase) Add(amount, shares *big.Int) Rebase {
	out := r.Clone()
	out.Elastic.Add(out.Elastic, clone(amount))
	out.Base.Add(out.Base, clone(shares))
	return out
}

// Sub returns the pool after debiting amount and shares. Components never go
// below zero.
func (r Rebase) Sub(amount, shares *big.Int) Rebase {
	out := r.Clone()
	out.Elastic.Sub(out.Elastic, clone(amount))
	if out.Elastic.Sign() < 0 {
		out.Elastic.SetInt64(0)
	}
	out.Base.Sub(out.Base, clone(shares))
	if out.Base.Sign() < 0 {
		out.Base.SetInt64(0)
	}
	return out
}

// ToShare converts amount to shares. An empty pool issues shares 1:1.
// roundUp selects the ceiling, used when the caller must not under-credit
// the protocol.
func ToShare(total Rebase, amount *big.Int, roundUp bool) (*big.Int, error) {
	if total.IsEmpty() {
		return checked(amount)
	}
	return MulDiv(amount, total.Base, total.Elastic, roundUp)
}

// ToAmount converts shares back to an amount. An empty pool maps 1:1.
func ToAmount(total Rebase, shares *big.Int, roundUp bool) (*big.Int, error) {
	if total.IsEmpty() {
		return checked(shares)
	}
	return MulDiv(shares, total.Elastic, total.Base, roundUp)
}

// MulDiv computes x*y/d with a full-width product, rounding down or up.
func MulDiv(x, y, d *big.Int, roundUp bool) (*big.Int, error) {
	ux, err := toUint256(x)
	if err != nil {
		return nil, err
	}
	uy, err := toUint256(y)
	if err != nil {
		return nil, err
	}
	ud, err := toUint256(d)
	if err != nil {
		return nil, err
	}
	if ud.IsZero() {
		return nil, ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(ux, uy, ud)
	if overflow {
		return nil, ErrOverflow
	}
	if roundUp && !new(uint256.Int).MulMod(ux, uy, ud).IsZero() {
		var carry bool
		z, carry = z.AddOverflow(z, uint256.NewInt(1))
		if carry {
			return nil, ErrOverflow
		}
	}
	return z.ToBig(), nil
}

func toUint256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, ErrNegative
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

func checked(v *big.Int) (*big.Int, error) {
	if _, err := toUint256(v); err != nil {
		return nil, err
	}
	return clone(v), nil
}

func clone(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
