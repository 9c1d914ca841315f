package evm

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const (
	BlockTimeCacheSize = 1000
	MembersCacheSize   = 500

	DialAttempts  = 5
	DialRetryWait = 2 * time.Second
)

// blockHeader carries only what the relayer reads from a block. Decoding the
// full header would fail on chains with non-standard header fields.
type blockHeader struct {
	Number    hexutil.Uint64 `json:"number"`
	Timestamp hexutil.Uint64 `json:"timestamp"`
}

type Client struct {
	ethClient *ethclient.Client
	// Supplement to ethclient
	rpcClient *rpc.Client

	blockTimeCache *lru.Cache[uint64, uint64]
}

// Dial connects to rpcUrl, retrying a few times before giving up.
func Dial(ctx context.Context, rpcUrl string, logger *zap.SugaredLogger) (*Client, error) {
	var rpcClient *rpc.Client
	err := retry.Do(func() error {
		var err error
		rpcClient, err = rpc.DialContext(ctx, rpcUrl)
		return err
	},
		retry.Context(ctx),
		retry.Attempts(DialAttempts),
		retry.Delay(DialRetryWait),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warnf("Failed to dial %s, attempt: %d, error: %v", rpcUrl, n+1, err)
		}),
	)
	if err != nil {
		return nil, err
	}

	blockTimeCache, err := lru.New[uint64, uint64](BlockTimeCacheSize)
	if err != nil {
		return nil, err
	}

	return &Client{
		ethClient:      ethclient.NewClient(rpcClient),
		rpcClient:      rpcClient,
		blockTimeCache: blockTimeCache,
	}, nil
}

func (c *Client) Close() {
	c.rpcClient.Close()
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.ethClient.BlockNumber(ctx)
}

// BlockTime returns the unix timestamp of block number.
func (c *Client) BlockTime(ctx context.Context, number uint64) (uint64, error) {
	if ts, ok := c.blockTimeCache.Get(number); ok {
		return ts, nil
	}

	var header *blockHeader
	err := c.rpcClient.CallContext(ctx, &header, "eth_getBlockByNumber", hexutil.EncodeUint64(number), false)
	if err == nil && header == nil {
		err = ethereum.NotFound
	}
	if err != nil {
		return 0, err
	}

	c.blockTimeCache.Add(number, uint64(header.Timestamp))
	return uint64(header.Timestamp), nil
}

func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]ethtypes.Log, error) {
	return c.ethClient.FilterLogs(ctx, query)
}

func (c *Client) Eth() *ethclient.Client {
	return c.ethClient
}
