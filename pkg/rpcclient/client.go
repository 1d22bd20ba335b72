// Package rpcclient wraps go-ethereum's ethclient with the rate limiting and
// error wrapping conventions this repository uses for chain reads. RPC
// transport itself is an external collaborator (see SPEC_FULL.md §1); this
// package is the thin seam the core components call through.
package rpcclient

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// baseInterval is the nominal spacing between permits; jitter is applied
// per-permit so concurrent callers (e.g. multicall's batch loop) don't
// lock-step onto the same tick boundary.
const baseInterval = 100 * time.Millisecond

// Client is a rate-limited wrapper around an ethclient.Client.
type Client struct {
	ethClient *ethclient.Client
	permits   chan struct{}
	stop      chan struct{}
}

// NewClient dials rpcURL (HTTP or WS) and returns a Client rate-limited to
// roughly 10 requests/sec, matching the teacher's conservative default.
// Unlike the teacher's fixed-interval time.Ticker, permits are issued on a
// jittered schedule and every wait is cancellable via the caller's
// context, so a shutting-down goroutine doesn't block past its deadline
// behind a slow-refilling limiter.
func NewClient(rpcURL string) (*Client, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to rpc endpoint: %w", err)
	}

	c := &Client{
		ethClient: client,
		permits:   make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
	go c.fillPermits()

	return c, nil
}

// fillPermits issues one permit every baseInterval +/- 10% jitter until
// stop is closed. The channel is buffered to 1 so a burst of callers
// still can't run faster than the jittered floor; while that one permit
// is unclaimed the filler waits instead of accumulating more.
func (c *Client) fillPermits() {
	for {
		jitter := time.Duration(rand.Int63n(int64(baseInterval) / 5))
		timer := time.NewTimer(baseInterval - baseInterval/10 + jitter)
		select {
		case <-c.stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		select {
		case c.permits <- struct{}{}:
		case <-c.stop:
			return
		}
	}
}

func (c *Client) Close() {
	close(c.stop)
	c.ethClient.Close()
}

// rateLimit blocks until a permit is available or ctx is cancelled,
// whichever comes first.
func (c *Client) rateLimit(ctx context.Context) error {
	select {
	case <-c.permits:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CallContractAtBlock performs eth_call against to with the given calldata,
// at blockNumber (nil means "latest").
func (c *Client) CallContractAtBlock(ctx context.Context, to common.Address, data []byte, blockNumber *big.Int) ([]byte, error) {
	if err := c.rateLimit(ctx); err != nil {
		return nil, fmt.Errorf("eth_call rate limit wait: %w", err)
	}

	msg := ethereum.CallMsg{
		To:   &to,
		Data: data,
	}

	result, err := c.ethClient.CallContract(ctx, msg, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("eth_call failed: %w", err)
	}

	return result, nil
}

// ChainID returns the chain id reported by the endpoint.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.ethClient.ChainID(ctx)
}

// BlockNumber returns the current block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	if err := c.rateLimit(ctx); err != nil {
		return 0, fmt.Errorf("eth_blockNumber rate limit wait: %w", err)
	}
	return c.ethClient.BlockNumber(ctx)
}
