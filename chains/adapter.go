package chains

import (
	"context"

	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/types"
)

// Observer receives what adapters see on their chains. Implemented by the relayer.
type Observer interface {
	// OnMessageObserved reports a send event. Returns false when a task for the
	// message key already exists or nothing needs to be tracked.
	OnMessageObserved(originChain string, msg *types.Message, members []types.Member) bool
	// OnMessageDelivered reports that chain accepted the message at height.
	OnMessageDelivered(chain string, key types.TaskKey, height uint64)
	// OnMessageExecuted reports that chain executed the message identified by key.
	OnMessageExecuted(chain string, key types.TaskKey)
	HasTask(key types.TaskKey) bool
}

// Adapter is the lifecycle every chain integration implements. None of the
// per-tick methods return errors: failures are logged and retried next tick.
type Adapter interface {
	ChainName() string

	// Init connects to the chain and loads the signing identity.
	Init(ctx context.Context) error
	// Start replays blocks since the last checkpoint and then follows the chain.
	Start(ctx context.Context, observer Observer) error
	Stop()
	WaitForShutdown()

	Enqueue(msg *types.Message)
	PushPending(ctx context.Context)
	TryTrigger(ctx context.Context)
	Checkpoint(ctx context.Context)

	BeforeRestore(ctx context.Context) error
	Restore(ctx context.Context, snapshot types.PendingSnapshot, observer Observer) error
	OnFinalized(key types.TaskKey)
}

// CheckpointStore persists chain name -> last processed height.
type CheckpointStore interface {
	Load(ctx context.Context) (map[string]uint64, error)
	Store(ctx context.Context, chain string, height uint64) error
}
