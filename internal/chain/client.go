package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/rainlanguage/rain.orderbook-sub007/internal/metrics"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/retry"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/syncerr"
)

const defaultTimestampCacheSize = 4096

type endpoint struct {
	url       string
	rpcClient *rpc.Client
	ethClient *ethclient.Client
}

// Options tunes a Client.
type Options struct {
	TimestampCacheSize int
	Logger             *zap.Logger
}

// Client wraps go-ethereum RPC over one or more endpoints. Calls go to the
// last endpoint that answered and fail over to the others on transient errors.
type Client struct {
	endpoints []*endpoint
	preferred atomic.Int32
	tsCache   *lru.Cache[uint64, uint64]
	logger    *zap.Logger
}

// Dial connects to every URL. Endpoints that fail to dial are skipped; at
// least one must succeed.
func Dial(ctx context.Context, urls []string, opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	size := opts.TimestampCacheSize
	if size <= 0 {
		size = defaultTimestampCacheSize
	}
	cache, err := lru.New[uint64, uint64](size)
	if err != nil {
		return nil, fmt.Errorf("timestamp cache: %w", err)
	}

	client := &Client{tsCache: cache, logger: logger}
	for _, url := range urls {
		if url == "" {
			continue
		}
		rpcClient, err := rpc.DialContext(ctx, url)
		if err != nil {
			logger.Warn("rpc dial failed", zap.String("rpc", url), zap.Error(err))
			continue
		}
		client.endpoints = append(client.endpoints, &endpoint{
			url:       url,
			rpcClient: rpcClient,
			ethClient: ethclient.NewClient(rpcClient),
		})
	}
	if len(client.endpoints) == 0 {
		return nil, syncerr.Transport("dial rpc", fmt.Errorf("no reachable endpoint among %d urls", len(urls)))
	}
	return client, nil
}

// Close closes every underlying RPC client.
func (c *Client) Close() {
	for _, ep := range c.endpoints {
		if ep.rpcClient != nil {
			ep.rpcClient.Close()
		}
	}
}

func (c *Client) do(ctx context.Context, method string, fn func(ep *endpoint) error) error {
	start := int(c.preferred.Load())
	var lastErr error
	for i := 0; i < len(c.endpoints); i++ {
		idx := (start + i) % len(c.endpoints)
		ep := c.endpoints[idx]

		began := time.Now()
		err := fn(ep)
		metrics.ObserveRPC(method, time.Since(began).Seconds(), err)
		if err == nil {
			if idx != start {
				c.preferred.Store(int32(idx))
			}
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || !retry.IsTransient(err) {
			break
		}
		if len(c.endpoints) > 1 {
			c.logger.Debug("rpc endpoint failed, trying next", zap.String("method", method), zap.String("rpc", ep.url), zap.Error(err))
		}
	}
	return syncerr.Transport(method, lastErr)
}

// LatestBlockNumber returns the latest block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var number uint64
	err := c.do(ctx, "eth_blockNumber", func(ep *endpoint) error {
		var err error
		number, err = ep.ethClient.BlockNumber(ctx)
		return err
	})
	return number, err
}

type blockTimestamp struct {
	Timestamp hexutil.Uint64 `json:"timestamp"`
}

// BlockTimestamp returns the block timestamp, served from an LRU cache when
// possible. Only the timestamp field is decoded so chains with non-standard
// headers still work.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	if ts, ok := c.tsCache.Get(number); ok {
		return ts, nil
	}

	var block *blockTimestamp
	err := c.do(ctx, "eth_getBlockByNumber", func(ep *endpoint) error {
		return ep.rpcClient.CallContext(ctx, &block, "eth_getBlockByNumber", hexutil.EncodeUint64(number), false)
	})
	if err != nil {
		return 0, err
	}
	if block == nil {
		return 0, syncerr.Transport("eth_getBlockByNumber", fmt.Errorf("block %d not found", number))
	}

	ts := uint64(block.Timestamp)
	c.tsCache.Add(number, ts)
	return ts, nil
}

// FilterLogs returns logs in the given range for addresses and topic0 filters.
func (c *Client) FilterLogs(
	ctx context.Context,
	fromBlock uint64,
	toBlock uint64,
	addresses []common.Address,
	topic0 []common.Hash,
) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: addresses,
	}
	if len(topic0) > 0 {
		query.Topics = [][]common.Hash{topic0}
	}

	var logs []types.Log
	err := c.do(ctx, "eth_getLogs", func(ep *endpoint) error {
		var err error
		logs, err = ep.ethClient.FilterLogs(ctx, query)
		return err
	})
	return logs, err
}

// CallContract performs an eth_call for a contract method.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var out []byte
	err := c.do(ctx, "eth_call", func(ep *endpoint) error {
		var err error
		out, err = ep.ethClient.CallContract(ctx, msg, blockNumber)
		return err
	})
	return out, err
}
