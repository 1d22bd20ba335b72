package chainfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

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

func TestParseHexUint(t *testing.T) {
	got, err := parseHexUint("0x1a4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 420 {
		t.Fatalf("expected 420, got %d", got)
	}

	if _, err := parseHexUint("not-hex"); err == nil {
		t.Fatalf("expected error for malformed hex")
	}
}

func TestBackoffForCapsExponential(t *testing.T) {
	s := New(Config{WSURL: "ws://unused", ReconnectBaseDelay: 2 * time.Second, ReconnectMaxDelay: 10 * time.Second}, testMetrics())

	if got := s.backoffFor(1); got != 2*time.Second {
		t.Fatalf("attempt 1: expected 2s, got %v", got)
	}
	if got := s.backoffFor(2); got != 4*time.Second {
		t.Fatalf("attempt 2: expected 4s, got %v", got)
	}
	if got := s.backoffFor(3); got != 8*time.Second {
		t.Fatalf("attempt 3: expected 8s, got %v", got)
	}
	if got := s.backoffFor(4); got != 10*time.Second {
		t.Fatalf("attempt 4: expected cap of 10s, got %v", got)
	}
}

var upgrader = websocket.Upgrader{}

// newHeadsServer answers one eth_subscribe confirmation then pushes
// numHeaders notifications before closing the connection.
func newHeadsServer(t *testing.T, numHeaders int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var req map[string]interface{}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		conn.WriteJSON(map[string]interface{}{"id": 1, "result": "0xsub123"})

		for i := 0; i < numHeaders; i++ {
			blockNum := i + 1
			conn.WriteJSON(map[string]interface{}{
				"jsonrpc": "2.0",
				"method":  "eth_subscription",
				"params": map[string]interface{}{
					"subscription": "0xsub123",
					"result": map[string]interface{}{
						"number":     hexOf(blockNum),
						"hash":       "0xabc",
						"parentHash": "0xdef",
						"timestamp":  hexOf(1_700_000_000 + blockNum),
					},
				},
			})
		}
	}))
}

func hexOf(n int) string {
	return "0x" + strings.TrimLeft(toHex(n), "0")
}

func toHex(n int) string {
	const digits = "0123456789abcdef"
	if n == 0 {
		return "0"
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{digits[n%16]}, buf...)
		n /= 16
	}
	return string(buf)
}

func TestSubscriberStreamsHeaders(t *testing.T) {
	srv := newHeadsServer(t, 3)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	sub := New(Config{WSURL: wsURL, ChannelBufferSize: 10, MaxReconnectAttempts: 0}, testMetrics())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	received := 0
	timeout := time.After(3 * time.Second)
	for received < 3 {
		select {
		case h := <-sub.Headers():
			if h.Number == 0 {
				t.Fatalf("expected non-zero block number")
			}
			received++
		case <-timeout:
			t.Fatalf("timed out waiting for headers, got %d/3", received)
		}
	}

	cancel()
	<-done
}
