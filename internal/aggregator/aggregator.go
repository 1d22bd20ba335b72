// Package aggregator implements DataAggregator (C8): on each block
// header it batches reserve reads through C6, builds an immutable C5
// snapshot, diffs against previously observed reserves, and submits the
// snapshot downstream with drop-newest backpressure (SPEC_FULL.md §4.6).
package aggregator

import (
	"context"
	"math/big"
	"time"

	"github.com/rs/zerolog/log"

	"arbwatch/internal/chainfeed"
	"arbwatch/internal/market"
	"arbwatch/internal/metrics"
	"arbwatch/internal/multicall"
	"arbwatch/internal/token"
)

// Config controls aggregation behavior.
type Config struct {
	MaxPoolsPerBatch  int
	ChannelBufferSize int
	MinSuccessRate    float64       // validation threshold, default 0.5
	HTTPTimeout       time.Duration // bounds one block's multicall read; 0 disables
}

func (c Config) withDefaults() Config {
	if c.MaxPoolsPerBatch <= 0 {
		c.MaxPoolsPerBatch = 50
	}
	if c.ChannelBufferSize <= 0 {
		c.ChannelBufferSize = 100
	}
	if c.MinSuccessRate <= 0 {
		c.MinSuccessRate = 0.5
	}
	return c
}

// Aggregator owns the previous-reserves map; it is a single task, so the
// map needs no external synchronization (SPEC_FULL.md §5).
type Aggregator struct {
	cfg      Config
	reader   *multicall.Reader
	metrics  *metrics.Metrics
	snapshot chan *market.Snapshot

	previousReserves map[token.PoolID]market.ReservePair
}

func New(cfg Config, reader *multicall.Reader, m *metrics.Metrics) *Aggregator {
	cfg = cfg.withDefaults()
	return &Aggregator{
		cfg:              cfg,
		reader:           reader,
		metrics:          m,
		snapshot:         make(chan *market.Snapshot, cfg.ChannelBufferSize),
		previousReserves: make(map[token.PoolID]market.ReservePair),
	}
}

// Snapshots returns the channel snapshots are delivered on.
func (a *Aggregator) Snapshots() <-chan *market.Snapshot { return a.snapshot }

// MonitoredPools is supplied by the caller (typically backed by the
// frozen TokenGraph) so the aggregator doesn't need to know about the
// graph directly.
type MonitoredPools interface {
	AllPools() []token.PoolID
	EnabledPools() []token.PoolID
}

// Run consumes headers from feed and produces one snapshot per header,
// until headers closes or ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context, headers <-chan chainfeed.BlockHeader, pools MonitoredPools) error {
	for {
		select {
		case <-ctx.Done():
			close(a.snapshot)
			return ctx.Err()
		case hdr, ok := <-headers:
			if !ok {
				close(a.snapshot)
				return nil
			}
			a.processHeader(ctx, hdr, pools)
		}
	}
}

func (a *Aggregator) processHeader(ctx context.Context, hdr chainfeed.BlockHeader, pools MonitoredPools) {
	start := time.Now()

	all := pools.AllPools()
	enabled := pools.EnabledPools()

	builder := market.NewBuilder(hdr.Number, time.Unix(int64(hdr.Timestamp), 0), enabled, len(all))

	blockNumber := new(big.Int).SetUint64(hdr.Number)

	readCtx := ctx
	if a.cfg.HTTPTimeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(ctx, a.cfg.HTTPTimeout)
		defer cancel()
	}

	results, err := a.reader.BatchGetReserves(readCtx, enabled, blockNumber)
	if err != nil {
		log.Error().Err(err).Uint64("block", hdr.Number).Msg("aggregator: multicall batch read failed entirely")
		return
	}

	for _, res := range results {
		if !res.OK {
			builder.MarkFailed()
			log.Warn().Str("pool", res.ID.String()).Uint64("block", hdr.Number).Msg("aggregator: missing reserves this block")
			continue
		}

		builder.SetReserves(res.ID, res.Reserve0, res.Reserve1)
		a.logReserveChange(res, hdr.Number)
		a.previousReserves[res.ID] = market.ReservePair{Reserve0: res.Reserve0, Reserve1: res.Reserve1}
	}

	snap := builder.Finish()

	elapsed := time.Since(start)
	a.metrics.RecordSnapshotLatency(elapsed)
	a.metrics.SetPoolsTracked(len(all))

	if !snap.IsValid(a.cfg.MinSuccessRate) {
		log.Warn().
			Uint64("block", hdr.Number).
			Int("success", snap.SuccessCount()).
			Int("failure", snap.FailureCount()).
			Msg("aggregator: snapshot failed validation, suppressing submission")
		return
	}

	select {
	case a.snapshot <- snap:
		log.Info().
			Uint64("block", hdr.Number).
			Int("pools", len(enabled)).
			Dur("elapsed", elapsed).
			Msg("aggregator: snapshot submitted")
	default:
		a.metrics.RecordSnapshotDropped()
		log.Warn().Uint64("block", hdr.Number).Msg("aggregator: snapshot channel full, dropping newest snapshot")
	}
}

func (a *Aggregator) logReserveChange(res multicall.Result, block uint64) {
	prev, known := a.previousReserves[res.ID]
	if !known {
		log.Debug().Str("pool", res.ID.String()).Uint64("block", block).Msg("aggregator: first observation of pool reserves")
		return
	}
	if prev.Reserve0.Cmp(res.Reserve0) != 0 || prev.Reserve1.Cmp(res.Reserve1) != 0 {
		log.Info().
			Str("pool", res.ID.String()).
			Uint64("block", block).
			Str("old_reserve0", prev.Reserve0.String()).
			Str("new_reserve0", res.Reserve0.String()).
			Str("old_reserve1", prev.Reserve1.String()).
			Str("new_reserve1", res.Reserve1.String()).
			Msg("aggregator: reserve change detected")
	}
}
