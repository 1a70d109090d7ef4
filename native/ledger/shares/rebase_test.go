package shares

import (
	"errors"
	"math/big"
	"testing"
)

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("invalid integer %q", s)
	}
	return v
}

func TestEmptyPoolIsIdentity(t *testing.T) {
	total := NewRebase()
	for _, amount := range []int64{0, 1, 10_000_000, 4_000_000_000} {
		x := big.NewInt(amount)
		for _, up := range []bool{false, true} {
			s, err := ToShare(total, x, up)
			if err != nil {
				t.Fatalf("to share: %v", err)
			}
			if s.Cmp(x) != 0 {
				t.Fatalf("expected %d shares, got %s", amount, s)
			}
			a, err := ToAmount(total, x, up)
			if err != nil {
				t.Fatalf("to amount: %v", err)
			}
			if a.Cmp(x) != 0 {
				t.Fatalf("expected %d amount, got %s", amount, a)
			}
		}
	}
}

func TestRoundingDirection(t *testing.T) {
	total := Rebase{Elastic: big.NewInt(3), Base: big.NewInt(2)}
	down, err := ToShare(total, big.NewInt(4), false)
	if err != nil {
		t.Fatalf("to share: %v", err)
	}
	up, err := ToShare(total, big.NewInt(4), true)
	if err != nil {
		t.Fatalf("to share: %v", err)
	}
	// 4*2/3 = 2.67
	if down.Int64() != 2 || up.Int64() != 3 {
		t.Fatalf("unexpected rounding: down=%s up=%s", down, up)
	}
	exact, err := ToShare(total, big.NewInt(3), true)
	if err != nil {
		t.Fatalf("to share: %v", err)
	}
	if exact.Int64() != 2 {
		t.Fatalf("exact division must not round up, got %s", exact)
	}
}

func TestRoundTripNeverManufacturesValue(t *testing.T) {
	totals := []Rebase{
		{Elastic: big.NewInt(1_000_003), Base: big.NewInt(999_999)},
		{Elastic: big.NewInt(7), Base: big.NewInt(13)},
		{Elastic: mustBig(t, "123456789012345678901234567890"), Base: mustBig(t, "98765432109876543210")},
	}
	for _, total := range totals {
		for _, amount := range []int64{1, 2, 17, 1_000, 4_000_000, 999_999_937} {
			x := big.NewInt(amount)
			s, err := ToShare(total, x, false)
			if err != nil {
				t.Fatalf("to share: %v", err)
			}
			back, err := ToAmount(total, s, false)
			if err != nil {
				t.Fatalf("to amount: %v", err)
			}
			if back.Cmp(x) > 0 {
				t.Fatalf("round trip created value: %s -> %s -> %s", x, s, back)
			}
			sUp, err := ToShare(total, x, true)
			if err != nil {
				t.Fatalf("to share up: %v", err)
			}
			if sUp.Cmp(s) < 0 {
				t.Fatalf("ceil shares below floor shares")
			}
		}
	}
}

func TestMulDivWidePrecision(t *testing.T) {
	// 1e30 * 1e18 overflows 64 bits many times over but fits the 512-bit product.
	amount := mustBig(t, "1000000000000000000000000000000")
	rate := mustBig(t, "1000000000000000000")
	got, err := MulDiv(amount, rate, rate, false)
	if err != nil {
		t.Fatalf("muldiv: %v", err)
	}
	if got.Cmp(amount) != 0 {
		t.Fatalf("expected %s, got %s", amount, got)
	}
}

func TestMulDivErrors(t *testing.T) {
	if _, err := MulDiv(big.NewInt(1), big.NewInt(1), big.NewInt(0), false); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected division by zero, got %v", err)
	}
	if _, err := MulDiv(big.NewInt(-1), big.NewInt(1), big.NewInt(1), false); !errors.Is(err, ErrNegative) {
		t.Fatalf("expected negative error, got %v", err)
	}
	huge := new(big.Int).Lsh(big.NewInt(1), 256)
	if _, err := MulDiv(huge, big.NewInt(1), big.NewInt(1), false); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow for input, got %v", err)
	}
	max := new(big.Int).Sub(huge, big.NewInt(1))
	if _, err := MulDiv(max, big.NewInt(2), big.NewInt(1), false); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow for result, got %v", err)
	}
	if _, err := ToShare(Rebase{Elastic: big.NewInt(0), Base: big.NewInt(5)}, big.NewInt(1), false); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected division by zero for drained pool, got %v", err)
	}
}

func TestAddSubClamp(t *testing.T) {
	total := NewRebase().Add(big.NewInt(10), big.NewInt(8))
	total = total.Sub(big.NewInt(4), big.NewInt(20))
	if total.Elastic.Int64() != 6 || total.Base.Int64() != 0 {
		t.Fatalf("unexpected totals %s/%s", total.Elastic, total.Base)
	}
}
