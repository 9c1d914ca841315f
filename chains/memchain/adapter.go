package memchain

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/chains"
	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/types"
)

// Adapter drives a Chain through chains.BaseAdapter. Events are fed by the
// caller with EmitSent and EmitExecuted instead of a block scanner.
type Adapter struct {
	*chains.BaseAdapter
	Chain *Chain

	mu        sync.Mutex
	started   bool
	stopped   bool
	finalized []types.TaskKey
	InitErr   error
	pushCalls int
	afterPush func()
}

var _ chains.Adapter = (*Adapter)(nil)

func NewAdapter(chain *Chain, logger *zap.SugaredLogger, store chains.CheckpointStore) *Adapter {
	base := chains.NewBaseAdapter(chain.Name(), logger.Named(chain.Name()), store)
	base.SetChain(chain)
	return &Adapter{BaseAdapter: base, Chain: chain}
}

func (a *Adapter) Init(context.Context) error {
	return a.InitErr
}

func (a *Adapter) Start(ctx context.Context, observer chains.Observer) error {
	if _, err := a.LoadCheckpoint(ctx, 0); err != nil {
		return err
	}
	a.Bind(observer)

	a.mu.Lock()
	a.started = true
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
}

func (a *Adapter) WaitForShutdown() {}

func (a *Adapter) Started() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started
}

func (a *Adapter) Stopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}

func (a *Adapter) PushPending(ctx context.Context) {
	a.BaseAdapter.PushPending(ctx)

	a.mu.Lock()
	a.pushCalls++
	hook := a.afterPush
	a.mu.Unlock()
	if hook != nil {
		hook()
	}
}

// AfterPush installs a hook run after every PushPending.
func (a *Adapter) AfterPush(hook func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.afterPush = hook
}

func (a *Adapter) PushCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pushCalls
}

func (a *Adapter) OnFinalized(key types.TaskKey) {
	a.BaseAdapter.OnFinalized(key)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.finalized = append(a.finalized, key)
}

func (a *Adapter) Finalized() []types.TaskKey {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]types.TaskKey(nil), a.finalized...)
}

// EmitSent records msg on the chain and reports it as a send event.
func (a *Adapter) EmitSent(msg *types.Message, members []types.Member, height uint64) {
	a.Chain.Send(msg, height)
	a.HandleSent(msg, members, height)
}

// EmitExecuted reports every execution the chain recorded so far.
func (a *Adapter) EmitExecuted(height uint64) {
	for _, key := range a.Chain.Executed() {
		a.HandleExecuted(key, height)
	}
}

// CheckpointStore is an in-memory chains.CheckpointStore.
type CheckpointStore struct {
	mu      sync.Mutex
	heights map[string]uint64
}

func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{heights: make(map[string]uint64)}
}

func (s *CheckpointStore) Load(context.Context) (map[string]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	heights := make(map[string]uint64, len(s.heights))
	for chain, h := range s.heights {
		heights[chain] = h
	}
	return heights, nil
}

func (s *CheckpointStore) Store(_ context.Context, chain string, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heights[chain] = height
	return nil
}
