package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/chains"
	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/types"
)

const contractABIJSON = `[
    {
        "type": "function", "name": "getMembers", "stateMutability": "view",
        "inputs": [{"name": "tokenId", "type": "string"}],
        "outputs": [{"name": "chains", "type": "string[]"}, {"name": "addresses", "type": "bytes[]"}]
    },
    {
        "type": "function", "name": "getNonce", "stateMutability": "view",
        "inputs": [{"name": "sender", "type": "bytes"}, {"name": "tokenId", "type": "string"}],
        "outputs": [{"name": "nonce", "type": "uint256"}]
    },
    {
        "type": "function", "name": "getCachedMessage", "stateMutability": "view",
        "inputs": [{"name": "sender", "type": "bytes"}, {"name": "tokenId", "type": "string"}],
        "outputs": [{"name": "occupied", "type": "bool"}, {"name": "nonce", "type": "uint256"}, {"name": "readyAt", "type": "uint256"}]
    },
    {
        "type": "function", "name": "getReceivedMessage", "stateMutability": "view",
        "inputs": [{"name": "sender", "type": "bytes"}, {"name": "tokenId", "type": "string"}, {"name": "nonce", "type": "uint256"}],
        "outputs": [{"name": "message", "type": "bytes"}]
    },
    {
        "type": "function", "name": "getSentMessage", "stateMutability": "view",
        "inputs": [{"name": "sender", "type": "bytes"}, {"name": "tokenId", "type": "string"}, {"name": "nonce", "type": "uint256"}],
        "outputs": [{"name": "message", "type": "bytes"}, {"name": "blockNumber", "type": "uint256"}]
    },
    {
        "type": "function", "name": "receiveMessage", "stateMutability": "nonpayable",
        "inputs": [{"name": "message", "type": "bytes"}],
        "outputs": []
    },
    {
        "type": "function", "name": "executeMessage", "stateMutability": "nonpayable",
        "inputs": [{"name": "sender", "type": "bytes"}, {"name": "tokenId", "type": "string"}],
        "outputs": []
    },
    {
        "type": "event", "name": "MessageSent", "anonymous": false,
        "inputs": [
            {"indexed": true, "name": "senderHash", "type": "bytes32"},
            {"indexed": true, "name": "nonce", "type": "uint256"},
            {"indexed": false, "name": "message", "type": "bytes"}
        ]
    },
    {
        "type": "event", "name": "MessageExecuted", "anonymous": false,
        "inputs": [
            {"indexed": true, "name": "senderHash", "type": "bytes32"},
            {"indexed": true, "name": "nonce", "type": "uint256"},
            {"indexed": false, "name": "fromChain", "type": "string"},
            {"indexed": false, "name": "sender", "type": "bytes"},
            {"indexed": false, "name": "tokenId", "type": "string"}
        ]
    }
]`

var (
	contractABI = mustParseABI(contractABIJSON)

	MessageSentEventTopic     = contractABI.Events["MessageSent"].ID
	MessageExecutedEventTopic = contractABI.Events["MessageExecuted"].ID
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

type MessageSentEvent struct {
	Message []byte `abi:"message"`
}

type MessageExecutedEvent struct {
	FromChain string `abi:"fromChain"`
	Sender    []byte `abi:"sender"`
	TokenId   string `abi:"tokenId"`
}

// Event is a relayer contract event in block order. Exactly one of Sent and
// Executed is set.
type Event struct {
	Height   uint64
	TxHash   common.Hash
	Sent     *types.Message
	Executed *types.TaskKey
}

// Contract is the relayer contract on one EVM chain, seen through Client.
type Contract struct {
	client      *Client
	address     common.Address
	key         *ecdsa.PrivateKey
	from        common.Address
	chainID     *big.Int
	gasLimit    uint64
	callTimeout time.Duration

	membersCache *lru.Cache[string, []types.Member]

	// one transaction at a time per signing account
	txLock sync.Mutex
}

var _ chains.Chain = (*Contract)(nil)

func NewContract(ctx context.Context, client *Client, address string, privateKey string, gasLimit uint64, callTimeout time.Duration) (*Contract, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid contract address %q", address)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	chainID, err := client.Eth().ChainID(callCtx)
	if err != nil {
		return nil, err
	}

	membersCache, err := lru.New[string, []types.Member](MembersCacheSize)
	if err != nil {
		return nil, err
	}

	return &Contract{
		client:       client,
		address:      common.HexToAddress(address),
		key:          key,
		from:         crypto.PubkeyToAddress(key.PublicKey),
		chainID:      chainID,
		gasLimit:     gasLimit,
		callTimeout:  callTimeout,
		membersCache: membersCache,
	}, nil
}

func (c *Contract) From() common.Address {
	return c.from
}

func (c *Contract) call(ctx context.Context, block *big.Int, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, types.Anomaly(method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	out, err := c.client.Eth().CallContract(ctx, ethereum.CallMsg{From: c.from, To: &c.address, Data: data}, block)
	if err != nil {
		return nil, classify(method, err)
	}
	values, err := contractABI.Unpack(method, out)
	if err != nil {
		return nil, types.Anomaly(method, err)
	}
	return values, nil
}

func (c *Contract) HeadHeight(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	height, err := c.client.BlockNumber(ctx)
	if err != nil {
		return 0, classify("block number", err)
	}
	return height, nil
}

func (c *Contract) CurrentNonce(ctx context.Context, sender []byte, assetID string) (uint64, error) {
	values, err := c.call(ctx, nil, "getNonce", sender, assetID)
	if err != nil {
		return 0, err
	}
	var nonce *big.Int
	if !assign(values[0], &nonce) || !nonce.IsUint64() {
		return 0, types.Anomaly("getNonce", fmt.Errorf("unexpected nonce %v", values[0]))
	}
	return nonce.Uint64(), nil
}

func (c *Contract) CachedSlot(ctx context.Context, sender []byte, assetID string) (chains.Slot, error) {
	values, err := c.call(ctx, nil, "getCachedMessage", sender, assetID)
	if err != nil {
		return chains.Slot{}, err
	}
	var (
		occupied       bool
		nonce, readyAt *big.Int
	)
	if !assign(values[0], &occupied) || !assign(values[1], &nonce) || !assign(values[2], &readyAt) {
		return chains.Slot{}, types.Anomaly("getCachedMessage", fmt.Errorf("unexpected output %v", values))
	}
	if !occupied {
		return chains.Slot{}, nil
	}

	head, err := c.HeadHeight(ctx)
	if err != nil {
		return chains.Slot{}, err
	}
	now, err := c.client.BlockTime(ctx, head)
	if err != nil {
		return chains.Slot{}, classify("block time", err)
	}
	return chains.Slot{
		Occupied: true,
		Nonce:    nonce.Uint64(),
		Matured:  readyAt.Cmp(new(big.Int).SetUint64(now)) <= 0,
	}, nil
}

func (c *Contract) ReceivedRecord(ctx context.Context, sender []byte, assetID string, nonce uint64) ([]byte, error) {
	values, err := c.call(ctx, nil, "getReceivedMessage", sender, assetID, new(big.Int).SetUint64(nonce))
	if err != nil {
		return nil, err
	}
	var record []byte
	if !assign(values[0], &record) {
		return nil, types.Anomaly("getReceivedMessage", fmt.Errorf("unexpected output %v", values))
	}
	if len(record) == 0 {
		return nil, nil
	}
	return record, nil
}

func (c *Contract) SentMessage(ctx context.Context, sender []byte, assetID string, nonce uint64) (*types.Message, uint64, error) {
	values, err := c.call(ctx, nil, "getSentMessage", sender, assetID, new(big.Int).SetUint64(nonce))
	if err != nil {
		return nil, 0, err
	}
	var (
		record []byte
		height *big.Int
	)
	if !assign(values[0], &record) || !assign(values[1], &height) {
		return nil, 0, types.Anomaly("getSentMessage", fmt.Errorf("unexpected output %v", values))
	}
	if len(record) == 0 {
		return nil, 0, nil
	}
	msg, err := DecodeMessage(record)
	if err != nil {
		return nil, 0, types.Anomaly("getSentMessage", err)
	}
	return msg, height.Uint64(), nil
}

// Members returns the chains registered for assetID as of block height.
func (c *Contract) Members(ctx context.Context, assetID string, height uint64) ([]types.Member, error) {
	cacheKey := fmt.Sprintf("%s@%d", assetID, height)
	if members, ok := c.membersCache.Get(cacheKey); ok {
		return members, nil
	}

	values, err := c.call(ctx, new(big.Int).SetUint64(height), "getMembers", assetID)
	if err != nil {
		return nil, err
	}
	var (
		names     []string
		addresses [][]byte
	)
	if !assign(values[0], &names) || !assign(values[1], &addresses) || len(names) != len(addresses) {
		return nil, types.Anomaly("getMembers", fmt.Errorf("unexpected output %v", values))
	}

	members := make([]types.Member, 0, len(names))
	for i := range names {
		members = append(members, types.Member{ChainID: names[i], ContractAddress: addresses[i]})
	}
	c.membersCache.Add(cacheKey, members)
	return members, nil
}

func (c *Contract) Encode(msg *types.Message) ([]byte, error) {
	return EncodeMessage(msg)
}

func (c *Contract) Decode(record []byte) (*types.Message, error) {
	return DecodeMessage(record)
}

func (c *Contract) Submit(ctx context.Context, msg *types.Message) error {
	encoded, err := EncodeMessage(msg)
	if err != nil {
		return types.Anomaly("encode message", err)
	}
	return c.transact(ctx, "receiveMessage", encoded)
}

func (c *Contract) Execute(ctx context.Context, sender []byte, assetID string) error {
	return c.transact(ctx, "executeMessage", sender, assetID)
}

// transact signs and sends a contract call and waits until it is mined.
// A call the contract refuses at estimation is an anomaly; a mined but
// failed transaction is retried, the next attempt re-reads the chain state.
func (c *Contract) transact(ctx context.Context, method string, args ...interface{}) error {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return types.Anomaly(method, err)
	}

	c.txLock.Lock()
	defer c.txLock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	eth := c.client.Eth()

	nonce, err := eth.PendingNonceAt(ctx, c.from)
	if err != nil {
		return classify(method, err)
	}
	gasPrice, err := eth.SuggestGasPrice(ctx)
	if err != nil {
		return classify(method, err)
	}
	gasLimit := c.gasLimit
	if gasLimit == 0 {
		gasLimit, err = eth.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &c.address, Data: data})
		if err != nil {
			return classify(method, err)
		}
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &c.address,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return types.Fatal(method, err)
	}
	if err := eth.SendTransaction(ctx, signed); err != nil {
		return classify(method, err)
	}

	receipt, err := bind.WaitMined(ctx, eth, signed)
	if err != nil {
		return types.Transient(method, fmt.Errorf("wait for %s: %w", signed.Hash(), err))
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return types.Transient(method, fmt.Errorf("transaction %s failed in block %d", signed.Hash(), receipt.BlockNumber))
	}
	return nil
}

// ScanEvents returns the relayer events of blocks [start, end].
func (c *Contract) ScanEvents(ctx context.Context, start, end uint64) ([]*Event, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(start),
		ToBlock:   new(big.Int).SetUint64(end),
		Addresses: []common.Address{c.address},
		Topics:    [][]common.Hash{{MessageSentEventTopic, MessageExecutedEventTopic}},
	}

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	logs, err := c.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, classify("filter logs", err)
	}

	events := make([]*Event, 0, len(logs))
	for _, log := range logs {
		if log.Removed || len(log.Topics) < 3 {
			continue
		}
		event, err := parseEvent(log)
		if err != nil {
			return nil, types.Anomaly("parse event", fmt.Errorf("tx %s: %w", log.TxHash, err))
		}
		events = append(events, event)
	}
	return events, nil
}

func parseEvent(log ethtypes.Log) (*Event, error) {
	event := &Event{Height: log.BlockNumber, TxHash: log.TxHash}
	nonce := log.Topics[2].Big()
	if !nonce.IsUint64() {
		return nil, fmt.Errorf("nonce %s overflows uint64", nonce)
	}

	switch log.Topics[0] {
	case MessageSentEventTopic:
		sent := &MessageSentEvent{}
		if err := contractABI.UnpackIntoInterface(sent, "MessageSent", log.Data); err != nil {
			return nil, err
		}
		msg, err := DecodeMessage(sent.Message)
		if err != nil {
			return nil, err
		}
		if msg.Nonce != nonce.Uint64() {
			return nil, fmt.Errorf("message nonce %d differs from event nonce %d", msg.Nonce, nonce.Uint64())
		}
		event.Sent = msg
	case MessageExecutedEventTopic:
		executed := &MessageExecutedEvent{}
		if err := contractABI.UnpackIntoInterface(executed, "MessageExecuted", log.Data); err != nil {
			return nil, err
		}
		key := types.TaskKey{
			Sender:  common.Bytes2Hex(executed.Sender),
			Nonce:   nonce.Uint64(),
			AssetID: executed.TokenId,
		}
		event.Executed = &key
	default:
		return nil, fmt.Errorf("unknown event topic %s", log.Topics[0])
	}
	return event, nil
}
