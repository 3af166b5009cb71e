package lending

import (
	"math/big"
	"testing"
)

func TestDecimalScaling(t *testing.T) {
	// A 6-decimal amount scales up by 1e12 and floors back down.
	amount := big.NewInt(1_500_000)
	lifted := toWad(amount, 6)
	want, _ := new(big.Int).SetString("1500000000000000000", 10)
	if lifted.Cmp(want) != 0 {
		t.Fatalf("unexpected wad amount: got %s want %s", lifted, want)
	}
	if back := fromWad(lifted, 6); back.Cmp(amount) != 0 {
		t.Fatalf("round trip mismatch: %s", back)
	}

	// Flooring never rounds up: one wei short of a unit truncates to zero.
	short := new(big.Int).Sub(decimalsFactor(6), big.NewInt(1))
	if got := fromWad(short, 6); got.Sign() != 0 {
		t.Fatalf("expected truncation to zero, got %s", got)
	}

	// 18-decimal assets scale by 1.
	raw := big.NewInt(12345)
	if got := toWad(raw, 18); got.Cmp(raw) != 0 {
		t.Fatalf("18-decimal scaling must be identity, got %s", got)
	}
}

func TestStableScaling(t *testing.T) {
	amount := stable(1000)
	lifted := stableToWad(amount)
	want, _ := new(big.Int).SetString("1000000000000000000000", 10)
	if lifted.Cmp(want) != 0 {
		t.Fatalf("unexpected stable wad: got %s want %s", lifted, want)
	}
	if back := stableFromWad(lifted); back.Cmp(amount) != 0 {
		t.Fatalf("round trip mismatch: %s", back)
	}
}

func TestBpsToWad(t *testing.T) {
	want, _ := new(big.Int).SetString("1300000000000000000", 10)
	if got := bpsToWad(13_000); got.Cmp(want) != 0 {
		t.Fatalf("unexpected conversion: got %s want %s", got, want)
	}
	if got := bpsToWad(0); got.Sign() != 0 {
		t.Fatalf("expected zero, got %s", got)
	}
}

func TestCeilDaysBetween(t *testing.T) {
	cases := []struct {
		from, to int64
		want     int64
	}{
		{0, 0, 0},
		{100, 50, 0},
		{0, 1, 1},
		{0, secondsPerDay, 1},
		{0, secondsPerDay + 1, 2},
		{0, 3*secondsPerDay + 1, 4},
	}
	for _, tc := range cases {
		if got := ceilDaysBetween(tc.from, tc.to); got != tc.want {
			t.Fatalf("ceilDaysBetween(%d, %d) = %d, want %d", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestMulDivFloors(t *testing.T) {
	if got := mulDiv(big.NewInt(10), big.NewInt(3), big.NewInt(4)); got.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("expected floor division, got %s", got)
	}
	if got := mulDiv(big.NewInt(10), big.NewInt(3), big.NewInt(0)); got.Sign() != 0 {
		t.Fatalf("division by zero must yield zero, got %s", got)
	}
}
