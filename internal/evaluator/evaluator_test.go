package evaluator

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"arbwatch/internal/market"
	"arbwatch/internal/swappath"
	"arbwatch/internal/token"
)

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

// buildProfitablePath builds a two-hop WBASE->A->WBASE path across two
// pools whose reserves are deliberately mispriced relative to each other,
// so a round trip profits regardless of the exact optimal input found.
func buildProfitablePath(t *testing.T) (*swappath.SwapPath, *market.Snapshot) {
	t.Helper()

	wbase := token.New(addr(1), "WBASE", 18)
	tokA := token.New(addr(2), "A", 18)

	poolAB := token.NewPool(token.PoolIDFromAddress(addr(10)), wbase, tokA, 30)
	poolBA := token.NewPool(token.PoolIDFromAddress(addr(11)), tokA, wbase, 30)

	path := swappath.NewFirst(wbase, tokA, poolAB)
	path, err := path.PushHop(wbase, poolBA)
	if err != nil {
		t.Fatalf("PushHop: %v", err)
	}

	builder := market.NewBuilder(100, time.Unix(1_700_000_000, 0), []token.PoolID{poolAB.ID, poolBA.ID}, 2)
	// Pool AB: 1000 WBASE <-> 1000 A (even price)
	builder.SetReserves(poolAB.ID, bigStr("1000000000000000000000"), bigStr("1000000000000000000000"))
	// Pool BA: 1000 A <-> 1100 WBASE (A is cheap here relative to pool AB, so
	// WBASE -> A -> WBASE nets a profit before gas).
	builder.SetReserves(poolBA.ID, bigStr("1000000000000000000000"), bigStr("1100000000000000000000"))
	snap := builder.Finish()

	return path, snap
}

func bigStr(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad fixture constant " + s)
	}
	return n
}

func TestEvaluatePathFindsProfit(t *testing.T) {
	path, snap := buildProfitablePath(t)

	e := New(Config{GasPriceGwei: 0.02, GasPerTransaction: 700_000})
	result := e.EvaluatePath(path, snap)

	if !result.Successful {
		t.Fatalf("expected success, got error: %s", result.ErrorMessage)
	}
	if result.GrossProfit.Sign() <= 0 {
		t.Fatalf("expected positive gross profit, got %s", result.GrossProfit)
	}
}

func TestEvaluatePathMissingReservesFails(t *testing.T) {
	wbase := token.New(addr(1), "WBASE", 18)
	tokA := token.New(addr(2), "A", 18)
	pool := token.NewPool(token.PoolIDFromAddress(addr(10)), wbase, tokA, 30)
	path := swappath.NewFirst(wbase, tokA, pool)

	builder := market.NewBuilder(1, time.Unix(1_700_000_000, 0), nil, 1)
	snap := builder.Finish()

	e := New(Config{})
	result := e.EvaluatePath(path, snap)
	if result.Successful {
		t.Fatalf("expected failure for missing reserve data")
	}
}

func TestConstantProductOutZeroAmountIsZero(t *testing.T) {
	out, ok := constantProductOut(big.NewInt(0), big.NewInt(1000), big.NewInt(1000), 30)
	if !ok || out.Sign() != 0 {
		t.Fatalf("expected zero output for zero input, got %v ok=%v", out, ok)
	}
}

func TestConstantProductOutAppliesFee(t *testing.T) {
	// amount=1000, reserves=1_000_000 each, fee=30bps -> output strictly
	// less than the fee-less constant-product output.
	withFee, ok := constantProductOut(big.NewInt(1000), big.NewInt(1_000_000), big.NewInt(1_000_000), 30)
	if !ok {
		t.Fatalf("expected ok")
	}
	noFee, ok := constantProductOut(big.NewInt(1000), big.NewInt(1_000_000), big.NewInt(1_000_000), 0)
	if !ok {
		t.Fatalf("expected ok")
	}
	if withFee.Cmp(noFee) >= 0 {
		t.Fatalf("expected fee to reduce output: withFee=%s noFee=%s", withFee, noFee)
	}
}

func TestFilterAppliesThreshold(t *testing.T) {
	results := []Result{
		{Successful: true, NetProfitWei: big.NewInt(100)},
		{Successful: true, NetProfitWei: big.NewInt(5)},
		{Successful: false, NetProfitWei: big.NewInt(1000)},
	}
	filtered := Filter(results, big.NewInt(50))
	if len(filtered) != 1 {
		t.Fatalf("expected 1 result above threshold, got %d", len(filtered))
	}
	if filtered[0].NetProfitWei.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected survivor: %s", filtered[0].NetProfitWei)
	}
}

func TestEvaluateAllParallelMatchesSequentialCount(t *testing.T) {
	path, snap := buildProfitablePath(t)
	paths := make([]*swappath.SwapPath, 20)
	for i := range paths {
		paths[i] = path
	}

	parallel := New(Config{EnableParallelCalculation: true, MaxWorkers: 4})
	sequential := New(Config{EnableParallelCalculation: false})

	pr := parallel.EvaluateAll(paths, snap)
	sr := sequential.EvaluateAll(paths, snap)

	if len(pr) != len(sr) || len(pr) != 20 {
		t.Fatalf("expected 20 results from both modes, got parallel=%d sequential=%d", len(pr), len(sr))
	}
	for i := range pr {
		if pr[i].Successful != sr[i].Successful {
			t.Fatalf("index %d: parallel/sequential success mismatch", i)
		}
	}
}
