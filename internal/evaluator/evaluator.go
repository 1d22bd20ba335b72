// Package evaluator implements ProfitEvaluator (C9): for each precomputed
// path it searches for the input amount that maximizes profit against a
// snapshot's reserves, using ternary search over exact *big.Int
// arithmetic — never float64 — per SPEC_FULL.md §9's explicit correction
// of the original implementation's f64-based comparisons.
package evaluator

import (
	"math/big"
	"sync"

	"arbwatch/internal/market"
	"arbwatch/internal/swappath"
)

var (
	minInputWei  = mustBigInt("10000000000000000")   // 0.01 WBASE
	maxInputWei  = mustBigInt("100000000000000000000") // 100 WBASE
	precisionWei = mustBigInt("1000000000000000")    // 0.001 WBASE

	fixedGridWei = []*big.Int{
		mustBigInt("100000000000000000"),   // 0.1 WBASE
		mustBigInt("500000000000000000"),   // 0.5 WBASE
		mustBigInt("1000000000000000000"),  // 1 WBASE
		mustBigInt("5000000000000000000"),  // 5 WBASE
	}

	ten000 = big.NewInt(10_000)
)

func mustBigInt(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("evaluator: bad constant " + s)
	}
	return n
}

const maxTernaryIterations = 50

// Config controls gas pricing and concurrency.
type Config struct {
	GasPriceGwei              float64
	GasPerTransaction         uint64
	EnableParallelCalculation bool
	MaxWorkers                int
}

func (c Config) withDefaults() Config {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 8
	}
	return c
}

// Result is the outcome of evaluating one path against one snapshot.
type Result struct {
	Path           *swappath.SwapPath
	Successful     bool
	ErrorMessage   string
	OptimalInput   *big.Int
	ExpectedOutput *big.Int
	GrossProfit    *big.Int
	GasCostWei     *big.Int
	NetProfitWei   *big.Int
}

func failure(path *swappath.SwapPath, msg string) Result {
	return Result{Path: path, Successful: false, ErrorMessage: msg}
}

// Evaluator is stateless beyond its Config; it is safe for concurrent use.
type Evaluator struct {
	cfg Config
}

func New(cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg.withDefaults()}
}

// EvaluateAll evaluates every path against snapshot, in parallel across a
// bounded worker pool unless EnableParallelCalculation is false, in which
// case it falls back to sequential evaluation (grounded on the teacher's
// detector worker-pool shape, adapted to this package's per-path work
// unit).
func (e *Evaluator) EvaluateAll(paths []*swappath.SwapPath, snap *market.Snapshot) []Result {
	if !e.cfg.EnableParallelCalculation || len(paths) <= 1 {
		return e.evaluateSequential(paths, snap)
	}

	results := make([]Result, len(paths))

	workCh := make(chan int, len(paths))
	for i := range paths {
		workCh <- i
	}
	close(workCh)

	numWorkers := e.cfg.MaxWorkers
	if numWorkers > len(paths) {
		numWorkers = len(paths)
	}

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range workCh {
				results[idx] = e.EvaluatePath(paths[idx], snap)
			}
		}()
	}
	wg.Wait()

	return results
}

func (e *Evaluator) evaluateSequential(paths []*swappath.SwapPath, snap *market.Snapshot) []Result {
	results := make([]Result, len(paths))
	for i, p := range paths {
		results[i] = e.EvaluatePath(p, snap)
	}
	return results
}

// EvaluatePath searches for the profit-maximizing input for one path.
func (e *Evaluator) EvaluatePath(path *swappath.SwapPath, snap *market.Snapshot) Result {
	for _, pool := range path.Pools {
		if _, ok := snap.Reserves(pool.ID); !ok {
			return failure(path, "missing reserve data for pool "+pool.ID.String())
		}
	}

	optimalInput, expectedOutput, ok := e.findOptimalInput(path, snap)
	if !ok {
		return failure(path, "no profitable input amount found")
	}

	gasCost := e.gasCostWei()

	grossProfit := new(big.Int)
	if expectedOutput.Cmp(optimalInput) > 0 {
		grossProfit.Sub(expectedOutput, optimalInput)
	}

	netProfit := new(big.Int).Sub(grossProfit, gasCost)
	if netProfit.Sign() < 0 {
		netProfit.SetInt64(0)
	}

	return Result{
		Path:           path,
		Successful:     true,
		OptimalInput:   optimalInput,
		ExpectedOutput: expectedOutput,
		GrossProfit:    grossProfit,
		GasCostWei:     gasCost,
		NetProfitWei:   netProfit,
	}
}

// gasCostWei converts the configured per-transaction gas constant and gas
// price (in Gwei, fractional) into a wei cost. The float64 multiplication
// here is intentional and confined to gas pricing (an off-chain cost
// estimate), never to profit comparisons.
func (e *Evaluator) gasCostWei() *big.Int {
	const gweiToWei = 1_000_000_000.0
	costFloat := float64(e.cfg.GasPerTransaction) * e.cfg.GasPriceGwei * gweiToWei
	return big.NewInt(int64(costFloat))
}

// findOptimalInput runs ternary search over [minInputWei, maxInputWei],
// falling back to a fixed grid of amounts if the search never finds any
// input where output exceeds input.
func (e *Evaluator) findOptimalInput(path *swappath.SwapPath, snap *market.Snapshot) (*big.Int, *big.Int, bool) {
	left := new(big.Int).Set(minInputWei)
	right := new(big.Int).Set(maxInputWei)

	var bestInput, bestOutput, bestProfit *big.Int

	consider := func(input, output *big.Int) {
		if output.Cmp(input) <= 0 {
			return
		}
		profit := new(big.Int).Sub(output, input)
		if bestProfit == nil || profit.Cmp(bestProfit) > 0 {
			bestInput, bestOutput, bestProfit = input, output, profit
		}
	}

	three := big.NewInt(3)
	iterations := 0

	for iterations < maxTernaryIterations {
		span := new(big.Int).Sub(right, left)
		if span.Cmp(precisionWei) <= 0 {
			break
		}

		oneThird := new(big.Int).Div(span, three)
		mid1 := new(big.Int).Add(left, oneThird)
		mid2 := new(big.Int).Sub(right, oneThird)

		out1, ok1 := e.simulatePath(path, snap, mid1)
		out2, ok2 := e.simulatePath(path, snap, mid2)

		profit1OK := ok1 && out1.Cmp(mid1) > 0
		profit2OK := ok2 && out2.Cmp(mid2) > 0

		switch {
		case profit1OK && profit2OK:
			p1 := new(big.Int).Sub(out1, mid1)
			p2 := new(big.Int).Sub(out2, mid2)
			if p1.Cmp(p2) > 0 {
				right = mid2
				consider(mid1, out1)
			} else {
				left = mid1
				consider(mid2, out2)
			}
		case profit1OK && !profit2OK:
			right = mid2
			consider(mid1, out1)
		case !profit1OK && profit2OK:
			left = mid1
			consider(mid2, out2)
		default:
			mid := new(big.Int).Div(new(big.Int).Add(left, right), big.NewInt(2))
			left = mid
			right = new(big.Int).Add(mid, precisionWei)
		}

		iterations++
	}

	if bestProfit != nil && bestProfit.Sign() > 0 {
		return bestInput, bestOutput, true
	}

	return e.tryFixedGrid(path, snap)
}

func (e *Evaluator) tryFixedGrid(path *swappath.SwapPath, snap *market.Snapshot) (*big.Int, *big.Int, bool) {
	var bestInput, bestOutput, bestProfit *big.Int

	for _, amount := range fixedGridWei {
		out, ok := e.simulatePath(path, snap, amount)
		if !ok || out.Cmp(amount) <= 0 {
			continue
		}
		profit := new(big.Int).Sub(out, amount)
		if bestProfit == nil || profit.Cmp(bestProfit) > 0 {
			bestInput, bestOutput, bestProfit = amount, out, profit
		}
	}

	if bestProfit == nil {
		return nil, nil, false
	}
	return bestInput, bestOutput, true
}

// simulatePath chains the constant-product formula across every hop in
// path, returning the final output amount. ok is false if any pool along
// the way lacks reserves or the formula hits a zero denominator.
func (e *Evaluator) simulatePath(path *swappath.SwapPath, snap *market.Snapshot, amountIn *big.Int) (*big.Int, bool) {
	amount := new(big.Int).Set(amountIn)

	for i, pool := range path.Pools {
		tokenIn := path.Tokens[i]

		rp, ok := snap.Reserves(pool.ID)
		if !ok {
			return nil, false
		}

		var reserveIn, reserveOut *big.Int
		switch tokenIn.Address {
		case pool.Token0.Address:
			reserveIn, reserveOut = rp.Reserve0, rp.Reserve1
		case pool.Token1.Address:
			reserveIn, reserveOut = rp.Reserve1, rp.Reserve0
		default:
			return nil, false
		}

		out, ok := constantProductOut(amount, reserveIn, reserveOut, pool.FeeBps)
		if !ok {
			return nil, false
		}
		amount = out
	}

	return amount, true
}

// constantProductOut applies the standard constant-product AMM formula
// with a basis-point fee, matching the original's simple_constant_product_formula
// but resolving direction via the caller's already-correct reserveIn/reserveOut
// rather than a lexicographic address comparison (the bug SPEC_FULL.md §9
// calls out and fixes).
func constantProductOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint32) (*big.Int, bool) {
	if amountIn.Sign() == 0 {
		return big.NewInt(0), true
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return nil, false
	}

	feeMultiplier := new(big.Int).Sub(ten000, big.NewInt(int64(feeBps)))
	amountInWithFee := new(big.Int).Mul(amountIn, feeMultiplier)
	amountInWithFee.Div(amountInWithFee, ten000)

	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Add(reserveIn, amountInWithFee)
	if denominator.Sign() == 0 {
		return nil, false
	}

	return new(big.Int).Div(numerator, denominator), true
}

// Filter returns only the successful, above-threshold results.
func Filter(results []Result, minProfitThresholdWei *big.Int) []Result {
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if !r.Successful {
			continue
		}
		if r.NetProfitWei.Cmp(minProfitThresholdWei) > 0 {
			out = append(out, r)
		}
	}
	return out
}
