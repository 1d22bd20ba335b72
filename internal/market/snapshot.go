// Package market implements MarketSnapshot (C5): an immutable per-block
// view of reserves for every monitored pool, built once by the
// aggregator and consumed read-only by the evaluator (SPEC_FULL.md §3,
// P6).
package market

import (
	"math/big"
	"time"

	"arbwatch/internal/token"
)

// ReservePair is the (reserve0, reserve1) pair observed for a pool at
// the snapshot's block, ordered to match the pool's own Token0/Token1.
type ReservePair struct {
	Reserve0 *big.Int
	Reserve1 *big.Int
}

// Snapshot is built once and never mutated after construction (P6).
type Snapshot struct {
	BlockNumber  uint64
	Timestamp    time.Time
	reserves     map[token.PoolID]ReservePair
	enabledPools map[token.PoolID]struct{}
	totalPools   int
	successCount int
	failureCount int
}

// Builder accumulates per-pool results before Finish produces an
// immutable Snapshot; the aggregator is the only writer.
type Builder struct {
	blockNumber  uint64
	timestamp    time.Time
	reserves     map[token.PoolID]ReservePair
	enabledPools map[token.PoolID]struct{}
	totalPools   int
	successCount int
	failureCount int
}

func NewBuilder(blockNumber uint64, timestamp time.Time, enabledPools []token.PoolID, totalPools int) *Builder {
	enabled := make(map[token.PoolID]struct{}, len(enabledPools))
	for _, id := range enabledPools {
		enabled[id] = struct{}{}
	}
	return &Builder{
		blockNumber:  blockNumber,
		timestamp:    timestamp,
		reserves:     make(map[token.PoolID]ReservePair, len(enabledPools)),
		enabledPools: enabled,
		totalPools:   totalPools,
	}
}

// SetReserves records a successful read for id.
func (b *Builder) SetReserves(id token.PoolID, reserve0, reserve1 *big.Int) {
	b.reserves[id] = ReservePair{
		Reserve0: new(big.Int).Set(reserve0),
		Reserve1: new(big.Int).Set(reserve1),
	}
	b.successCount++
}

// MarkFailed records that id's reserves could not be read this block.
func (b *Builder) MarkFailed() {
	b.failureCount++
}

// SuccessRate returns successCount / (successCount+failureCount), or 1.0
// if nothing was attempted.
func (b *Builder) SuccessRate() float64 {
	total := b.successCount + b.failureCount
	if total == 0 {
		return 1.0
	}
	return float64(b.successCount) / float64(total)
}

// Finish produces the immutable Snapshot.
func (b *Builder) Finish() *Snapshot {
	return &Snapshot{
		BlockNumber:  b.blockNumber,
		Timestamp:    b.timestamp,
		reserves:     b.reserves,
		enabledPools: b.enabledPools,
		totalPools:   b.totalPools,
		successCount: b.successCount,
		failureCount: b.failureCount,
	}
}

// Reserves returns the observed reserve pair for id, if any.
func (s *Snapshot) Reserves(id token.PoolID) (ReservePair, bool) {
	rp, ok := s.reserves[id]
	return rp, ok
}

// IsEnabled reports whether id is in the enabled-pool set.
func (s *Snapshot) IsEnabled(id token.PoolID) bool {
	_, ok := s.enabledPools[id]
	return ok
}

// TotalPoolCount returns the total number of monitored pools, whether
// or not each one's reserves were read successfully this block.
func (s *Snapshot) TotalPoolCount() int { return s.totalPools }

// SuccessCount / FailureCount expose the per-block read outcome for
// validation (DataAggregator step 7).
func (s *Snapshot) SuccessCount() int { return s.successCount }
func (s *Snapshot) FailureCount() int { return s.failureCount }

// IsValid implements DataAggregator's validation step: block number and
// timestamp non-zero, and the success rate at or above minSuccessRate.
func (s *Snapshot) IsValid(minSuccessRate float64) bool {
	if s.BlockNumber == 0 {
		return false
	}
	if s.Timestamp.IsZero() {
		return false
	}
	total := s.successCount + s.failureCount
	if total == 0 {
		return true
	}
	return float64(s.successCount)/float64(total) >= minSuccessRate
}
