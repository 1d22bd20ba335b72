// Package multicall implements MulticallReader (C6): batched pool
// reserve reads against a standard Multicall3-style contract using the
// `aggregate((address,bytes)[]) -> (uint256, bytes[])` wire format
// documented in SPEC_FULL.md §6 (grounded on
// original_source/src/data_sync/multicall.rs, which uses this call
// rather than aggregate3).
package multicall

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"arbwatch/internal/metrics"
	"arbwatch/internal/token"
)

// ContractCaller is the seam multicall reads through; *rpcclient.Client
// satisfies it. Tests supply a fake to exercise batching/decoding without
// a live RPC endpoint.
type ContractCaller interface {
	CallContractAtBlock(ctx context.Context, to common.Address, data []byte, blockNumber *big.Int) ([]byte, error)
}

// DefaultAddress is the canonical Multicall3 deployment address present
// on most EVM chains, including Base.
var DefaultAddress = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

const multicallABIJSON = `[
	{
		"inputs": [
			{
				"components": [
					{"internalType": "address", "name": "target", "type": "address"},
					{"internalType": "bytes", "name": "callData", "type": "bytes"}
				],
				"internalType": "struct Multicall3.Call[]",
				"name": "calls",
				"type": "tuple[]"
			}
		],
		"name": "aggregate",
		"outputs": [
			{"internalType": "uint256", "name": "blockNumber", "type": "uint256"},
			{"internalType": "bytes[]", "name": "returnData", "type": "bytes[]"}
		],
		"stateMutability": "payable",
		"type": "function"
	}
]`

// getReservesSelector is the 4-byte selector for IUniswapV2Pair.getReserves().
var getReservesSelector = []byte{0x09, 0x02, 0xf1, 0xac}

// ErrTransport wraps any RPC-level failure (connection, timeout, decode)
// that causes a whole batch to be marked as failed, per SPEC_FULL.md §7.
var ErrTransport = errors.New("multicall: transport error")

type call struct {
	Target   common.Address
	CallData []byte
}

// Result is the per-pool outcome of one reserve read.
type Result struct {
	ID       token.PoolID
	Reserve0 *big.Int
	Reserve1 *big.Int
	OK       bool
}

// Reader batches getReserves() calls through a Multicall3-compatible
// contract.
type Reader struct {
	client           ContractCaller
	multicallAddr    common.Address
	maxPoolsPerBatch int
	multicallABI     abi.ABI
	reservesOut      abi.Arguments
	metrics          *metrics.Metrics
}

// NewReader constructs a Reader. maxPoolsPerBatch bounds how many pools
// are read per aggregate() call; larger inputs are split into
// consecutive chunks.
func NewReader(client ContractCaller, multicallAddr common.Address, maxPoolsPerBatch int, m *metrics.Metrics) (*Reader, error) {
	parsed, err := abi.JSON(strings.NewReader(multicallABIJSON))
	if err != nil {
		return nil, fmt.Errorf("multicall: parsing abi: %w", err)
	}

	uint112Type, err := abi.NewType("uint112", "", nil)
	if err != nil {
		return nil, fmt.Errorf("multicall: building uint112 type: %w", err)
	}
	uint32Type, err := abi.NewType("uint32", "", nil)
	if err != nil {
		return nil, fmt.Errorf("multicall: building uint32 type: %w", err)
	}

	reservesOut := abi.Arguments{
		{Type: uint112Type},
		{Type: uint112Type},
		{Type: uint32Type},
	}

	if maxPoolsPerBatch <= 0 {
		maxPoolsPerBatch = 50
	}

	return &Reader{
		client:           client,
		multicallAddr:    multicallAddr,
		maxPoolsPerBatch: maxPoolsPerBatch,
		multicallABI:     parsed,
		reservesOut:      reservesOut,
		metrics:          m,
	}, nil
}

// BatchGetReserves reads getReserves() for every pool in pools, chunked
// by maxPoolsPerBatch, at the given block (nil = latest). The returned
// slice is ordered identically to pools. A whole-batch RPC failure marks
// every pool in that batch as OK=false; the returned error is always nil,
// so per-pool and per-batch failures surface only as OK=false entries.
func (r *Reader) BatchGetReserves(ctx context.Context, pools []token.PoolID, blockNumber *big.Int) ([]Result, error) {
	results := make([]Result, 0, len(pools))

	for start := 0; start < len(pools); start += r.maxPoolsPerBatch {
		end := start + r.maxPoolsPerBatch
		if end > len(pools) {
			end = len(pools)
		}
		batch := pools[start:end]

		batchResults, err := r.readBatch(ctx, batch, blockNumber)
		if err != nil {
			log.Warn().Err(err).Int("batch_size", len(batch)).Msg("multicall: batch failed, marking all pools in batch as failed")
			for _, id := range batch {
				results = append(results, Result{ID: id, OK: false})
			}
			continue
		}
		results = append(results, batchResults...)
	}

	return results, nil
}

func (r *Reader) readBatch(ctx context.Context, pools []token.PoolID, blockNumber *big.Int) ([]Result, error) {
	calls := make([]call, len(pools))
	for i, id := range pools {
		calls[i] = call{Target: id.Address(), CallData: getReservesSelector}
	}

	packed, err := r.packAggregate(calls)
	if err != nil {
		return nil, fmt.Errorf("%w: packing aggregate call: %v", ErrTransport, err)
	}

	start := time.Now()
	raw, err := r.retryCall(ctx, packed, blockNumber)
	r.metrics.RecordMulticallBatch(time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	returnData, err := r.unpackAggregate(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: unpacking aggregate result: %v", ErrTransport, err)
	}
	if len(returnData) != len(pools) {
		return nil, fmt.Errorf("%w: expected %d results, got %d", ErrTransport, len(pools), len(returnData))
	}

	out := make([]Result, len(pools))
	for i, id := range pools {
		reserve0, reserve1, ok := r.decodeReserves(returnData[i])
		out[i] = Result{ID: id, Reserve0: reserve0, Reserve1: reserve1, OK: ok}
	}
	return out, nil
}

func (r *Reader) packAggregate(calls []call) ([]byte, error) {
	return r.multicallABI.Pack("aggregate", calls)
}

func (r *Reader) unpackAggregate(raw []byte) ([][]byte, error) {
	unpacked, err := r.multicallABI.Unpack("aggregate", raw)
	if err != nil {
		return nil, err
	}
	if len(unpacked) != 2 {
		return nil, fmt.Errorf("unexpected aggregate return arity %d", len(unpacked))
	}
	returnData, ok := unpacked[1].([][]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected aggregate returnData type %T", unpacked[1])
	}
	return returnData, nil
}

// decodeReserves decodes one inner return as (uint112, uint112, uint32),
// keeping the first two as 256-bit values. An empty or malformed entry
// yields ok=false per spec §6 (decode failure -> None).
func (r *Reader) decodeReserves(data []byte) (reserve0, reserve1 *big.Int, ok bool) {
	if len(data) == 0 {
		return nil, nil, false
	}
	values, err := r.reservesOut.Unpack(data)
	if err != nil || len(values) != 3 {
		return nil, nil, false
	}
	r0, ok0 := values[0].(*big.Int)
	r1, ok1 := values[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, false
	}
	return r0, r1, true
}

// retryCall wraps CallContractAtBlock with bounded exponential-backoff
// retries, matching the teacher's pkg/chain/base/multicall.go style.
func (r *Reader) retryCall(ctx context.Context, data []byte, blockNumber *big.Int) ([]byte, error) {
	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, err := r.client.CallContractAtBlock(ctx, r.multicallAddr, data, blockNumber)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isTransientError(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	transientSubstrings := []string{
		"eof",
		"connection reset",
		"timeout",
		"rate limit",
		"too many requests",
		"502",
		"503",
		"504",
	}
	for _, s := range transientSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
