package token

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func repeatByteAddr(b byte) common.Address {
	var a common.Address
	for i := range a {
		a[i] = b
	}
	return a
}

func TestNewDefaultsDecimalsTo18(t *testing.T) {
	tok := New(repeatByteAddr(1), "FOO", 0)
	if tok.Decimals != 18 {
		t.Fatalf("expected default decimals 18, got %d", tok.Decimals)
	}
}

func TestIsWrappedAndIsNative(t *testing.T) {
	wbase := repeatByteAddr(0xaa)
	tok := New(wbase, "WBASE", 18)
	if !tok.IsWrapped(wbase) {
		t.Fatalf("expected token to be wrapped-base")
	}
	if tok.IsNative() {
		t.Fatalf("wrapped-base token should not be native")
	}

	native := New(common.Address{}, "", 18)
	if !native.IsNative() {
		t.Fatalf("zero-address token should be native")
	}
}

func TestPoolIDOrdering(t *testing.T) {
	low := PoolIDFromAddress(repeatByteAddr(1))
	high := PoolIDFromAddress(repeatByteAddr(2))
	if !low.Less(high) {
		t.Fatalf("expected %s < %s", low, high)
	}
	if high.Less(low) {
		t.Fatalf("expected %s to not be < %s", high, low)
	}
}

func TestSwapDirectionsAreSymmetric(t *testing.T) {
	t0 := New(repeatByteAddr(1), "A", 18)
	t1 := New(repeatByteAddr(2), "B", 18)
	pool := NewPool(PoolIDFromAddress(repeatByteAddr(3)), t0, t1, 30)

	dirs := pool.SwapDirections()
	if len(dirs) != 2 {
		t.Fatalf("expected 2 swap directions, got %d", len(dirs))
	}
	if dirs[0].From != t0 || dirs[0].To != t1 {
		t.Fatalf("expected first direction t0->t1")
	}
	if dirs[1].From != t1 || dirs[1].To != t0 {
		t.Fatalf("expected second direction t1->t0")
	}
}

// TestReserveForResolvesByDeclaredToken0 pins the SPEC_FULL.md §9 fix:
// direction resolution must use the pool's own Token0/Token1, not a
// lexicographic address comparison. Token1's address here sorts below
// Token0's, so a lexicographic implementation would get this backwards.
func TestReserveForResolvesByDeclaredToken0(t *testing.T) {
	t0 := New(repeatByteAddr(0xff), "HIGH", 18) // lexicographically larger
	t1 := New(repeatByteAddr(0x01), "LOW", 18)  // lexicographically smaller
	pool := NewPool(PoolIDFromAddress(repeatByteAddr(3)), t0, t1, 30)
	pool.SetReserves(big.NewInt(1000), big.NewInt(2000))

	reserveIn, reserveOut, ok := pool.ReserveFor(t0.Address)
	if !ok {
		t.Fatalf("expected ok=true resolving from declared token0")
	}
	if reserveIn.Cmp(big.NewInt(1000)) != 0 || reserveOut.Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("expected (1000,2000) for token0 direction, got (%s,%s)", reserveIn, reserveOut)
	}

	reserveIn, reserveOut, ok = pool.ReserveFor(t1.Address)
	if !ok {
		t.Fatalf("expected ok=true resolving from declared token1")
	}
	if reserveIn.Cmp(big.NewInt(2000)) != 0 || reserveOut.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected (2000,1000) for token1 direction, got (%s,%s)", reserveIn, reserveOut)
	}
}

func TestHasReservesBeforeAndAfterSet(t *testing.T) {
	t0 := New(repeatByteAddr(1), "A", 18)
	t1 := New(repeatByteAddr(2), "B", 18)
	pool := NewPool(PoolIDFromAddress(repeatByteAddr(3)), t0, t1, 30)

	if pool.HasReserves() {
		t.Fatalf("expected no reserves before SetReserves")
	}
	pool.SetReserves(big.NewInt(1), big.NewInt(2))
	if !pool.HasReserves() {
		t.Fatalf("expected reserves after SetReserves")
	}
}

func TestSetPoolActiveToggles(t *testing.T) {
	t0 := New(repeatByteAddr(1), "A", 18)
	t1 := New(repeatByteAddr(2), "B", 18)
	pool := NewPool(PoolIDFromAddress(repeatByteAddr(3)), t0, t1, 30)

	if !pool.IsActive() {
		t.Fatalf("expected pool to be active by default")
	}
	pool.SetActive(false)
	if pool.IsActive() {
		t.Fatalf("expected pool to be inactive after SetActive(false)")
	}
}
