package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"arbwatch/internal/marketgraph"
	"arbwatch/internal/token"
)

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arbwatch.db")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveGraphThenLoadIntoGraphRoundTrips(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	g := marketgraph.New()
	t0 := token.New(addr(1), "WBASE", 18)
	t1 := token.New(addr(2), "FOO", 6)
	pool := token.NewPool(token.PoolIDFromAddress(addr(3)), t0, t1, 30)
	if err := g.AddPool(pool); err != nil {
		t.Fatalf("AddPool: %v", err)
	}

	if err := store.SaveGraph(ctx, g); err != nil {
		t.Fatalf("SaveGraph: %v", err)
	}

	reloaded := marketgraph.New()
	seeded, err := store.LoadIntoGraph(ctx, reloaded)
	if err != nil {
		t.Fatalf("LoadIntoGraph: %v", err)
	}
	if seeded != 1 {
		t.Fatalf("expected 1 pool seeded, got %d", seeded)
	}
	if reloaded.NumNodes() != 2 {
		t.Fatalf("expected 2 tokens reloaded, got %d", reloaded.NumNodes())
	}

	gotPool, ok := reloaded.Pool(pool.ID)
	if !ok {
		t.Fatalf("expected pool %s to be present after reload", pool.ID)
	}
	if gotPool.FeeBps != 30 {
		t.Fatalf("expected fee_bps=30 to round-trip, got %d", gotPool.FeeBps)
	}
	if gotPool.Token0.Symbol != "WBASE" || gotPool.Token1.Symbol != "FOO" {
		t.Fatalf("expected token symbols to round-trip, got %s/%s", gotPool.Token0.Symbol, gotPool.Token1.Symbol)
	}
}

func TestLoadIntoGraphOnEmptyCacheSeedsNothing(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	g := marketgraph.New()
	seeded, err := store.LoadIntoGraph(ctx, g)
	if err != nil {
		t.Fatalf("LoadIntoGraph: %v", err)
	}
	if seeded != 0 {
		t.Fatalf("expected 0 pools seeded from an empty cache, got %d", seeded)
	}
}

func TestPoolCountReflectsUpserts(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if err := store.UpsertToken(ctx, TokenRecord{Address: addr(1), Symbol: "A", Decimals: 18}); err != nil {
		t.Fatalf("UpsertToken: %v", err)
	}
	if err := store.UpsertToken(ctx, TokenRecord{Address: addr(2), Symbol: "B", Decimals: 18}); err != nil {
		t.Fatalf("UpsertToken: %v", err)
	}
	if err := store.UpsertPool(ctx, PoolRecord{Address: addr(3), Token0: addr(1), Token1: addr(2), FeeBps: 30}); err != nil {
		t.Fatalf("UpsertPool: %v", err)
	}

	count, err := store.PoolCount(ctx)
	if err != nil {
		t.Fatalf("PoolCount: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected pool count 1, got %d", count)
	}
}
