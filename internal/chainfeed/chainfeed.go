// Package chainfeed implements BlockSubscriber (C7): a single-producer
// task that subscribes to `newHeads` over a JSON-RPC WebSocket and emits
// ordered block headers to a bounded channel, owning its own reconnect
// policy (SPEC_FULL.md §4.5/§6).
package chainfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"arbwatch/internal/metrics"
)

// State is one of the four states of the BlockSubscriber state machine.
type State int

const (
	Disconnected State = iota
	Connecting
	Subscribed
	Streaming
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case Streaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// BlockHeader is the subset of a newHeads notification this repository
// consumes.
type BlockHeader struct {
	Number     uint64
	Hash       string
	ParentHash string
	Timestamp  uint64
}

// Config controls connection and reconnect behavior.
type Config struct {
	WSURL                 string
	ConnectionTimeout     time.Duration // default 30s
	MaxReconnectAttempts  int           // default 5; 0 means never retry
	ReconnectBaseDelay    time.Duration // default 2s
	ReconnectMaxDelay     time.Duration // cap for exponential backoff
	ChannelBufferSize     int           // default 100
	SubscriptionConfirmTO time.Duration // default 30s
}

// withDefaults fills zero-valued duration/size fields with their spec
// defaults. MaxReconnectAttempts is intentionally left alone: 0 is a
// meaningful configuration ("never retry"), not an unset sentinel — the
// config loader is responsible for applying its own default of 5.
func (c Config) withDefaults() Config {
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = 30 * time.Second
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 2 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.ChannelBufferSize == 0 {
		c.ChannelBufferSize = 100
	}
	if c.SubscriptionConfirmTO == 0 {
		c.SubscriptionConfirmTO = 30 * time.Second
	}
	return c
}

// Subscriber owns the connection lifecycle and the outbound header
// channel.
type Subscriber struct {
	cfg     Config
	state   atomic.Int32
	metrics *metrics.Metrics

	headers chan BlockHeader
}

func New(cfg Config, m *metrics.Metrics) *Subscriber {
	cfg = cfg.withDefaults()
	return &Subscriber{
		cfg:     cfg,
		metrics: m,
		headers: make(chan BlockHeader, cfg.ChannelBufferSize),
	}
}

// Headers returns the channel block headers are delivered on. It is
// closed when Run returns.
func (s *Subscriber) Headers() <-chan BlockHeader { return s.headers }

// State returns the subscriber's current connection state.
func (s *Subscriber) State() State { return State(s.state.Load()) }

func (s *Subscriber) setState(st State) {
	s.state.Store(int32(st))
	s.metrics.SetWebSocketConnected(st == Streaming)
}

// Run drives the Disconnected -> Connecting -> Subscribed -> Streaming
// state machine until ctx is cancelled (clean shutdown) or the
// reconnect-attempt cap is exceeded. It closes the headers channel
// before returning.
func (s *Subscriber) Run(ctx context.Context) error {
	defer close(s.headers)

	reconnectCount := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.setState(Connecting)
		streamed, err := s.connectAndStream(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if streamed {
			// A successful period of Streaming resets the failure counter.
			reconnectCount = 0
		}

		if err == nil {
			// connectAndStream only returns nil error on clean shutdown.
			return nil
		}

		reconnectCount++
		s.metrics.RecordReconnect()
		if reconnectCount > s.cfg.MaxReconnectAttempts {
			log.Error().Int("attempts", reconnectCount).Msg("chainfeed: max reconnect attempts exceeded, giving up")
			return fmt.Errorf("chainfeed: exceeded max reconnect attempts (%d): %w", s.cfg.MaxReconnectAttempts, err)
		}

		backoff := s.backoffFor(reconnectCount)
		log.Warn().Err(err).Int("attempt", reconnectCount).Dur("backoff", backoff).Msg("chainfeed: connection lost, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func (s *Subscriber) backoffFor(attempt int) time.Duration {
	d := s.cfg.ReconnectBaseDelay * time.Duration(1<<uint(attempt-1))
	if d > s.cfg.ReconnectMaxDelay {
		d = s.cfg.ReconnectMaxDelay
	}
	return d
}

type subscribeRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcEnvelope struct {
	ID     *int            `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Method string `json:"method"`
	Params struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

type wireHeader struct {
	Number     string `json:"number"`
	Hash       string `json:"hash"`
	ParentHash string `json:"parentHash"`
	Timestamp  string `json:"timestamp"`
}

// connectAndStream dials, subscribes, and streams notifications until
// the connection is lost or ctx is cancelled. streamed reports whether
// Streaming was ever reached, so the caller can decide to reset its
// reconnect counter even on a later error. A nil error return means
// clean shutdown (ctx cancellation observed inside the read loop).
func (s *Subscriber) connectAndStream(ctx context.Context) (streamed bool, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectionTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.cfg.WSURL, nil)
	if err != nil {
		return false, fmt.Errorf("dialing websocket: %w", err)
	}
	defer conn.Close()

	req := subscribeRequest{JSONRPC: "2.0", ID: 1, Method: "eth_subscribe", Params: []interface{}{"newHeads"}}
	if err := conn.WriteJSON(req); err != nil {
		return false, fmt.Errorf("sending subscribe request: %w", err)
	}
	s.setState(Subscribed)

	if err := s.awaitConfirmation(conn); err != nil {
		return false, err
	}
	s.setState(Streaming)
	streamed = true

	type readResult struct {
		msg []byte
		err error
	}
	msgCh := make(chan readResult, 1)

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			msgCh <- readResult{msg: data, err: err}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return streamed, nil
		case rr := <-msgCh:
			if rr.err != nil {
				return streamed, fmt.Errorf("websocket read: %w", rr.err)
			}
			s.handleMessage(rr.msg)
		}
	}
}

func (s *Subscriber) awaitConfirmation(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(s.cfg.SubscriptionConfirmTO))
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("awaiting subscription confirmation: %w", err)
	}

	var env rpcEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("parsing subscription confirmation: %w", err)
	}
	if env.Error != nil {
		return fmt.Errorf("subscription rejected: %s", env.Error.Message)
	}
	var subID string
	if err := json.Unmarshal(env.Result, &subID); err == nil && subID != "" {
		log.Info().Str("subscription_id", subID).Msg("chainfeed: subscribed to newHeads")
	}
	return nil
}

func (s *Subscriber) handleMessage(data []byte) {
	var env rpcEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Msg("chainfeed: malformed message, skipping")
		return
	}
	if env.Method != "eth_subscription" {
		return
	}

	var hdr wireHeader
	if err := json.Unmarshal(env.Params.Result, &hdr); err != nil {
		log.Warn().Err(err).Msg("chainfeed: malformed header payload, skipping")
		return
	}

	number, err := parseHexUint(hdr.Number)
	if err != nil {
		log.Warn().Err(err).Str("raw", hdr.Number).Msg("chainfeed: bad block number, skipping")
		return
	}
	timestamp, err := parseHexUint(hdr.Timestamp)
	if err != nil {
		log.Warn().Err(err).Str("raw", hdr.Timestamp).Msg("chainfeed: bad timestamp, skipping")
		return
	}

	header := BlockHeader{Number: number, Hash: hdr.Hash, ParentHash: hdr.ParentHash, Timestamp: timestamp}
	s.metrics.RecordBlockReceived(time.Unix(int64(timestamp), 0), number)

	select {
	case s.headers <- header:
	default:
		log.Warn().Uint64("block", number).Msg("chainfeed: header channel full, dropping newest header")
	}
}

func parseHexUint(hexStr string) (uint64, error) {
	trimmed := strings.TrimPrefix(hexStr, "0x")
	if trimmed == "" {
		return 0, fmt.Errorf("empty hex value")
	}
	return strconv.ParseUint(trimmed, 16, 64)
}
