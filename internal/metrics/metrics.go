// Package metrics exposes Prometheus instrumentation for the block
// ingestion -> aggregation -> evaluation pipeline, following the
// teacher's register-once/expose-via-HTTP pattern.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics holds all Prometheus metrics for the arbitrage detection pipeline.
type Metrics struct {
	// Chain feed metrics
	BlocksReceived  prometheus.Counter
	BlockLatency    prometheus.Histogram
	Reconnects      prometheus.Counter
	WebSocketStatus prometheus.Gauge
	LastBlockSeen   prometheus.Gauge

	// Multicall / aggregation metrics
	MulticallBatchLatency prometheus.Histogram
	MulticallBatchErrors  prometheus.Counter
	PoolsTracked          prometheus.Gauge
	SnapshotLatency       prometheus.Histogram
	SnapshotsDropped      prometheus.Counter

	// Pathfinding / evaluation metrics
	PrecomputedPaths    prometheus.Gauge
	EvaluationLatency   prometheus.Histogram
	OpportunitiesFound  prometheus.Counter
	DedupEvictions      prometheus.Counter
	PipelineLatency     prometheus.Histogram

	// Bootstrap metrics
	BootstrapLatency prometheus.Histogram

	server *http.Server
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		BlocksReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "arbwatch_blocks_received_total",
				Help: "Total number of block headers received from the chain feed",
			},
		),
		BlockLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "arbwatch_block_latency_seconds",
				Help:    "Latency from block timestamp to header processing",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
			},
		),
		Reconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "arbwatch_websocket_reconnects_total",
				Help: "Total number of websocket reconnect attempts",
			},
		),
		WebSocketStatus: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "arbwatch_websocket_connected",
				Help: "WebSocket connection status (1=connected, 0=disconnected)",
			},
		),
		LastBlockSeen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "arbwatch_last_block_seen",
				Help: "Last block number seen from the chain feed",
			},
		),
		MulticallBatchLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "arbwatch_multicall_batch_latency_seconds",
				Help:    "Time to execute one aggregate() multicall batch",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
			},
		),
		MulticallBatchErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "arbwatch_multicall_batch_errors_total",
				Help: "Total number of multicall batches that failed after retries",
			},
		),
		PoolsTracked: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "arbwatch_pools_tracked",
				Help: "Number of pools currently tracked in the market graph",
			},
		),
		SnapshotLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "arbwatch_snapshot_latency_seconds",
				Help:    "Time to build one market snapshot from a block header",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to ~200ms
			},
		),
		SnapshotsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "arbwatch_snapshots_dropped_total",
				Help: "Total number of snapshots dropped due to a full output channel",
			},
		),
		PrecomputedPaths: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "arbwatch_precomputed_paths",
				Help: "Number of arbitrage paths precomputed at initialization",
			},
		),
		EvaluationLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "arbwatch_evaluation_latency_seconds",
				Help:    "Time to evaluate all precomputed paths against one snapshot",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
			},
		),
		OpportunitiesFound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "arbwatch_opportunities_found_total",
				Help: "Total number of profitable, deduplicated opportunities found",
			},
		),
		DedupEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "arbwatch_dedup_evictions_total",
				Help: "Total number of times the cross-block dedup set evicted its oldest half",
			},
		),
		PipelineLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "arbwatch_pipeline_latency_seconds",
				Help:    "Time for the engine to evaluate, filter and deduplicate one received snapshot",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
			},
		),
		BootstrapLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "arbwatch_bootstrap_latency_seconds",
				Help:    "Time to bootstrap the token/pool directory cache",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~8.5 minutes
			},
		),
	}

	prometheus.MustRegister(
		m.BlocksReceived,
		m.BlockLatency,
		m.Reconnects,
		m.WebSocketStatus,
		m.LastBlockSeen,
		m.MulticallBatchLatency,
		m.MulticallBatchErrors,
		m.PoolsTracked,
		m.SnapshotLatency,
		m.SnapshotsDropped,
		m.PrecomputedPaths,
		m.EvaluationLatency,
		m.OpportunitiesFound,
		m.DedupEvictions,
		m.PipelineLatency,
		m.BootstrapLatency,
	)

	return m
}

// StartServer starts the HTTP server for Prometheus metrics.
func (m *Metrics) StartServer(port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	m.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		log.Info().Int("port", port).Str("path", path).Msg("starting metrics server")
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()

	return nil
}

// Shutdown gracefully stops the metrics server.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server != nil {
		return m.server.Shutdown(ctx)
	}
	return nil
}

// RecordBlockReceived records one block header arriving from the chain feed.
func (m *Metrics) RecordBlockReceived(blockTime time.Time, blockNumber uint64) {
	m.BlocksReceived.Inc()
	m.BlockLatency.Observe(time.Since(blockTime).Seconds())
	m.LastBlockSeen.Set(float64(blockNumber))
}

// RecordReconnect increments the websocket reconnect counter.
func (m *Metrics) RecordReconnect() {
	m.Reconnects.Inc()
}

// SetWebSocketConnected sets the websocket connection status.
func (m *Metrics) SetWebSocketConnected(connected bool) {
	if connected {
		m.WebSocketStatus.Set(1)
	} else {
		m.WebSocketStatus.Set(0)
	}
}

// RecordMulticallBatch records the latency of one aggregate() batch call.
func (m *Metrics) RecordMulticallBatch(d time.Duration, err error) {
	m.MulticallBatchLatency.Observe(d.Seconds())
	if err != nil {
		m.MulticallBatchErrors.Inc()
	}
}

// SetPoolsTracked sets the current number of tracked pools.
func (m *Metrics) SetPoolsTracked(count int) {
	m.PoolsTracked.Set(float64(count))
}

// RecordSnapshotLatency records the time to build one market snapshot.
func (m *Metrics) RecordSnapshotLatency(d time.Duration) {
	m.SnapshotLatency.Observe(d.Seconds())
}

// RecordSnapshotDropped increments the dropped-snapshot counter.
func (m *Metrics) RecordSnapshotDropped() {
	m.SnapshotsDropped.Inc()
}

// SetPrecomputedPaths sets the number of precomputed arbitrage paths.
func (m *Metrics) SetPrecomputedPaths(count int) {
	m.PrecomputedPaths.Set(float64(count))
}

// RecordEvaluationLatency records the time to evaluate all paths against one snapshot.
func (m *Metrics) RecordEvaluationLatency(d time.Duration) {
	m.EvaluationLatency.Observe(d.Seconds())
}

// RecordOpportunitiesFound increments the opportunities-found counter by n.
func (m *Metrics) RecordOpportunitiesFound(n int) {
	m.OpportunitiesFound.Add(float64(n))
}

// RecordDedupEviction increments the dedup-eviction counter.
func (m *Metrics) RecordDedupEviction() {
	m.DedupEvictions.Inc()
}

// RecordPipelineLatency records the full pipeline latency.
func (m *Metrics) RecordPipelineLatency(d time.Duration) {
	m.PipelineLatency.Observe(d.Seconds())
}

// RecordBootstrapLatency records the bootstrap duration.
func (m *Metrics) RecordBootstrapLatency(d time.Duration) {
	m.BootstrapLatency.Observe(d.Seconds())
}
