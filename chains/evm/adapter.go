package evm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/chains"
	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/config"
	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/types"
)

const (
	NetworkErrorWaitTime = 500 * time.Millisecond
	BlockWaitTime        = time.Second
)

// Adapter relays messages from and to the relayer contract of one EVM chain.
type Adapter struct {
	*chains.BaseAdapter

	cfg         config.EVMChainConfig
	maxLookback uint64
	delayBlocks uint64

	client   *Client
	contract *Contract

	quit chan struct{}
	wg   sync.WaitGroup
}

var _ chains.Adapter = (*Adapter)(nil)

func NewAdapter(cfg config.EVMChainConfig, maxLookback uint64, store chains.CheckpointStore, logger *zap.SugaredLogger) *Adapter {
	named := logger.Named(cfg.Name)
	return &Adapter{
		BaseAdapter: chains.NewBaseAdapter(cfg.Name, named, store),
		cfg:         cfg,
		maxLookback: maxLookback,
		delayBlocks: cfg.ConfirmationDepth - 1,
		quit:        make(chan struct{}),
	}
}

func (a *Adapter) Init(ctx context.Context) error {
	client, err := Dial(ctx, a.cfg.RpcUrl, a.Logger())
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", a.cfg.RpcUrl, err)
	}
	contract, err := NewContract(ctx, client, a.cfg.ContractAddress, a.cfg.PrivateKey, a.cfg.GasLimit, a.cfg.CallTimeout)
	if err != nil {
		client.Close()
		return err
	}

	a.client = client
	a.contract = contract
	a.SetChain(contract)

	a.Logger().Infof("new relayer on %s, chain id: %s, contract: %s, confirmations: %d, submitter: %s",
		a.cfg.Name, contract.chainID, a.cfg.ContractAddress, a.delayBlocks+1, contract.From().Hex())
	return nil
}

// Start checks the catch-up window and starts following the chain from the
// block after the checkpoint.
func (a *Adapter) Start(ctx context.Context, observer chains.Observer) error {
	checkpoint, err := a.LoadCheckpoint(ctx, a.cfg.StartBlockHeight)
	if err != nil {
		return types.Fatal("load checkpoint", err)
	}
	head, err := a.contract.HeadHeight(ctx)
	if err != nil {
		return types.Fatal("read head height", err)
	}
	if err := checkLookback(a.cfg.Name, checkpoint, head, a.maxLookback); err != nil {
		return err
	}

	a.Bind(observer)
	a.Logger().Infof("replay from block %d, head: %d", checkpoint+1, head)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.mainLoop()
	}()
	return nil
}

func (a *Adapter) mainLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-a.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-a.quit:
			a.Logger().Debugf("%s mainloop quit", a.cfg.Name)
			return
		default:
		}

		syncPoint := a.Tracker().Scanned()
		tip, err := a.contract.HeadHeight(ctx)
		if err != nil {
			a.Logger().Warnf("failed to get %s chain tip number: %v", a.cfg.Name, err)
			a.sleep(NetworkErrorWaitTime)
			continue
		}
		start, end, ok := scanRange(syncPoint, tip, a.delayBlocks, a.cfg.BatchBlocks)
		if !ok {
			a.Logger().Debugf("sync point is %d, chain tip is %d, wait for %d blocks",
				syncPoint, tip, syncPoint+a.delayBlocks+1-tip)
			a.sleep(BlockWaitTime)
			continue
		}

		a.Logger().Debugf("start: %d, end: %d", start, end)
		if err := a.scan(ctx, start, end); err != nil {
			a.Logger().Warnf("failed to scan blocks %d-%d: %v", start, end, err)
			a.sleep(NetworkErrorWaitTime)
			continue
		}
		a.Tracker().SetScanned(end)
	}
}

// checkLookback fails when the checkpoint is further behind head than a
// replay may cover.
func checkLookback(chain string, checkpoint, head, maxLookback uint64) error {
	if head > checkpoint && head-checkpoint > maxLookback {
		return types.Fatal("catch up", fmt.Errorf("%s is %d blocks behind head %d, more than the %d block lookback, full resync required",
			chain, head-checkpoint, head, maxLookback))
	}
	return nil
}

// scanRange returns the next blocks to scan after syncPoint. ok is false while
// no block above syncPoint has delayBlocks confirmations on top of it.
func scanRange(syncPoint, tip, delayBlocks, batchBlocks uint64) (start, end uint64, ok bool) {
	if syncPoint+delayBlocks >= tip {
		return 0, 0, false
	}
	start = syncPoint + 1
	end = tip - delayBlocks
	if batchBlocks > 0 && end-start+1 > batchBlocks {
		end = start + batchBlocks - 1
	}
	return start, end, true
}

func (a *Adapter) sleep(d time.Duration) {
	select {
	case <-a.quit:
	case <-time.After(d):
	}
}

// scan reports the events of blocks [start, end]. Members are read for every
// send before anything is reported, so a failed range is rescanned whole.
func (a *Adapter) scan(ctx context.Context, start, end uint64) error {
	events, err := a.contract.ScanEvents(ctx, start, end)
	if err != nil {
		return err
	}

	members := make(map[*Event][]types.Member)
	for _, event := range events {
		if event.Sent == nil {
			continue
		}
		m, err := a.contract.Members(ctx, event.Sent.AssetID, event.Height)
		if err != nil {
			return err
		}
		members[event] = m
	}

	for _, event := range events {
		switch {
		case event.Sent != nil:
			msg := event.Sent
			if msg.OriginChain != a.cfg.Name {
				a.Logger().Warnf("skip message %s sent in tx %s, origin is not %s", msg, event.TxHash, a.cfg.Name)
				continue
			}
			if err := msg.Validate(); err != nil {
				a.Logger().Errorf("skip invalid message %s sent in tx %s: %v", msg, event.TxHash, err)
				continue
			}
			a.Logger().Infof("message observed at height %d: %s", event.Height, msg)
			a.HandleSent(msg, members[event], event.Height)
		case event.Executed != nil:
			a.Logger().Infof("message %s executed at height %d", event.Executed, event.Height)
			a.HandleExecuted(*event.Executed, event.Height)
		}
	}
	return nil
}

func (a *Adapter) Stop() {
	close(a.quit)
}

func (a *Adapter) WaitForShutdown() {
	a.wg.Wait()
	if a.client != nil {
		a.client.Close()
	}
}
