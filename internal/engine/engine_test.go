package engine

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"arbwatch/internal/evaluator"
	"arbwatch/internal/market"
	"arbwatch/internal/marketgraph"
	"arbwatch/internal/metrics"
	"arbwatch/internal/pathfinder"
	"arbwatch/internal/swappath"
	"arbwatch/internal/token"
)

// testMetrics is shared across this package's tests: Prometheus panics on
// duplicate registration, so every test reuses one registered instance
// rather than calling metrics.New() per test.
var (
	testMetricsOnce sync.Once
	testMetricsInst *metrics.Metrics
)

func testMetrics() *metrics.Metrics {
	testMetricsOnce.Do(func() { testMetricsInst = metrics.New() })
	return testMetricsInst
}

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

// buildMispricedTriangle mirrors the pathfinder fixture; paired with
// buildMispricedSnapshot's reserves, the WBASE->A->B->WBASE direction is
// profitable (its inverse is not).
func buildMispricedTriangle(t *testing.T) (*marketgraph.Graph, common.Address, []token.PoolID) {
	t.Helper()
	g := marketgraph.New()

	wbase := token.New(addr(1), "WBASE", 18)
	tokA := token.New(addr(2), "A", 18)
	tokB := token.New(addr(3), "B", 18)

	p1 := token.NewPool(token.PoolIDFromAddress(addr(10)), wbase, tokA, 30)
	p2 := token.NewPool(token.PoolIDFromAddress(addr(11)), tokA, tokB, 30)
	p3 := token.NewPool(token.PoolIDFromAddress(addr(12)), tokB, wbase, 30)

	for _, p := range []*token.Pool{p1, p2, p3} {
		if err := g.AddPool(p); err != nil {
			t.Fatalf("add pool: %v", err)
		}
	}

	return g, wbase.Address, []token.PoolID{p1.ID, p2.ID, p3.ID}
}

func bigStr(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad fixture constant " + s)
	}
	return n
}

func buildMispricedSnapshot(block uint64, ids []token.PoolID) *market.Snapshot {
	b := market.NewBuilder(block, time.Unix(1_700_000_000, 0), ids, len(ids))
	b.SetReserves(ids[0], bigStr("1000000000000000000000"), bigStr("1000000000000000000000"))
	b.SetReserves(ids[1], bigStr("1000000000000000000000"), bigStr("1000000000000000000000"))
	// Final hop is rich in WBASE relative to the other two legs, creating a
	// round-trip profit.
	b.SetReserves(ids[2], bigStr("1000000000000000000000"), bigStr("1300000000000000000000"))
	return b.Finish()
}

func newTestEngine(wbase common.Address) *Engine {
	return New(Config{
		Pathfinder:    pathfinder.Config{WBase: wbase, MaxHops: 3, MaxPrecomputedPaths: 1000},
		Evaluator:     evaluator.Config{GasPriceGwei: 0.02, GasPerTransaction: 700_000},
		MinProfitWei:  big.NewInt(0),
		DedupCapacity: 100,
	}, testMetrics())
}

func TestInitializeTwiceReturnsError(t *testing.T) {
	g, wbase, _ := buildMispricedTriangle(t)
	e := newTestEngine(wbase)

	if err := e.Initialize(g); err != nil {
		t.Fatalf("first initialize: %v", err)
	}
	if err := e.Initialize(g); err != ErrAlreadyInitialized {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestProcessSnapshotBeforeInitializeFails(t *testing.T) {
	_, wbase, _ := buildMispricedTriangle(t)
	e := newTestEngine(wbase)

	_, err := e.ProcessSnapshot(&market.Snapshot{})
	if err != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestProcessSnapshotFindsProfitableOpportunity(t *testing.T) {
	g, wbase, ids := buildMispricedTriangle(t)
	e := newTestEngine(wbase)

	if err := e.Initialize(g); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	snap := buildMispricedSnapshot(1, ids)
	opps, err := e.ProcessSnapshot(snap)
	if err != nil {
		t.Fatalf("process snapshot: %v", err)
	}
	if len(opps) == 0 {
		t.Fatalf("expected at least one profitable opportunity")
	}
	for _, o := range opps {
		if o.NetProfitWei.Sign() <= 0 {
			t.Fatalf("expected positive net profit, got %s", o.NetProfitWei)
		}
	}
}

func TestProcessSnapshotDedupsAcrossCalls(t *testing.T) {
	g, wbase, ids := buildMispricedTriangle(t)
	e := newTestEngine(wbase)
	if err := e.Initialize(g); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	snap1 := buildMispricedSnapshot(1, ids)
	first, err := e.ProcessSnapshot(snap1)
	if err != nil {
		t.Fatalf("process snapshot 1: %v", err)
	}
	if len(first) == 0 {
		t.Fatalf("expected opportunities on first snapshot")
	}

	snap2 := buildMispricedSnapshot(2, ids)
	second, err := e.ProcessSnapshot(snap2)
	if err != nil {
		t.Fatalf("process snapshot 2: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected dedup to suppress identical opportunities on block 2, got %d", len(second))
	}
}

func TestRunEmitsOpportunityBatches(t *testing.T) {
	g, wbase, ids := buildMispricedTriangle(t)
	e := newTestEngine(wbase)
	if err := e.Initialize(g); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	snapshots := make(chan *market.Snapshot, 1)
	snapshots <- buildMispricedSnapshot(1, ids)
	close(snapshots)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, snapshots) }()

	select {
	case batch := <-e.Opportunities():
		if len(batch) == 0 {
			t.Fatalf("expected a non-empty opportunity batch")
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for opportunity batch")
	}

	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

func TestDedupSetEvictsOldestHalfWhenFull(t *testing.T) {
	d := newDedupSet(4, testMetrics())
	var hashes [6][32]byte
	for i := range hashes {
		hashes[i][0] = byte(i + 1)
		d.Insert(swappath.SwapPathHash(hashes[i]))
	}
	if d.Len() > 4 {
		t.Fatalf("expected capacity to be enforced, got len=%d", d.Len())
	}
	// Inserting the 5th hash evicted the oldest two (1 and 2).
	for i := 0; i < 2; i++ {
		if d.SeenRecently(swappath.SwapPathHash(hashes[i])) {
			t.Fatalf("expected hash %d to be evicted", i+1)
		}
	}
	for i := 2; i < 6; i++ {
		if !d.SeenRecently(swappath.SwapPathHash(hashes[i])) {
			t.Fatalf("expected hash %d to still be resident", i+1)
		}
	}
}
