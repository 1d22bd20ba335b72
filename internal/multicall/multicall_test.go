package multicall

import (
	"math/big"
	"sync"
	"testing"

	"arbwatch/internal/metrics"
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

func newTestReader(t *testing.T) *Reader {
	t.Helper()
	r, err := NewReader(nil, DefaultAddress, 50, testMetrics())
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	return r
}

func TestDecodeReservesRoundTrip(t *testing.T) {
	r := newTestReader(t)

	encoded, err := r.reservesOut.Pack(big.NewInt(1000), big.NewInt(2000), uint32(1_700_000_000))
	if err != nil {
		t.Fatalf("packing test fixture: %v", err)
	}

	reserve0, reserve1, ok := r.decodeReserves(encoded)
	if !ok {
		t.Fatalf("expected decode to succeed")
	}
	if reserve0.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("reserve0 mismatch: got %s", reserve0)
	}
	if reserve1.Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("reserve1 mismatch: got %s", reserve1)
	}
}

func TestDecodeReservesEmptyIsFailure(t *testing.T) {
	r := newTestReader(t)
	_, _, ok := r.decodeReserves(nil)
	if ok {
		t.Fatalf("expected empty data to decode as failure")
	}
}

func TestDecodeReservesMalformedIsFailure(t *testing.T) {
	r := newTestReader(t)
	_, _, ok := r.decodeReserves([]byte{0x01, 0x02, 0x03})
	if ok {
		t.Fatalf("expected malformed data to decode as failure")
	}
}

func TestMaxPoolsPerBatchDefault(t *testing.T) {
	r, err := NewReader(nil, DefaultAddress, 0, testMetrics())
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if r.maxPoolsPerBatch != 50 {
		t.Fatalf("expected default of 50, got %d", r.maxPoolsPerBatch)
	}
}
