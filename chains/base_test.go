package chains_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/chains/memchain"
	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/types"
)

type observed struct {
	origin string
	msg    *types.Message
}

type delivered struct {
	chain  string
	key    types.TaskKey
	height uint64
}

type executed struct {
	chain string
	key   types.TaskKey
}

// recorder is an Observer keeping everything it is told.
type recorder struct {
	mu        sync.Mutex
	create    bool
	tasks     map[types.TaskKey]bool
	observed  []observed
	delivered []delivered
	executed  []executed
}

func newRecorder(create bool) *recorder {
	return &recorder{create: create, tasks: make(map[types.TaskKey]bool)}
}

func (r *recorder) OnMessageObserved(origin string, msg *types.Message, _ []types.Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observed = append(r.observed, observed{origin, msg})
	if !r.create || r.tasks[msg.Key()] {
		return false
	}
	r.tasks[msg.Key()] = true
	return true
}

func (r *recorder) OnMessageDelivered(chain string, key types.TaskKey, height uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered = append(r.delivered, delivered{chain, key, height})
}

func (r *recorder) OnMessageExecuted(chain string, key types.TaskKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executed = append(r.executed, executed{chain, key})
}

func (r *recorder) HasTask(key types.TaskKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tasks[key]
}

var members = []types.Member{{ChainID: "A"}, {ChainID: "B"}, {ChainID: "C"}}

func newAdapter(t *testing.T, name string, cooldown bool, store *memchain.CheckpointStore) *memchain.Adapter {
	t.Helper()
	return memchain.NewAdapter(memchain.New(name, cooldown), zap.NewNop().Sugar(), store)
}

func TestPushPendingDeliversInNonceOrder(t *testing.T) {
	ctx := context.Background()
	observer := newRecorder(true)
	adapter := newAdapter(t, "B", false, memchain.NewCheckpointStore())
	require.NoError(t, adapter.Start(ctx, observer))

	adapter.Enqueue(newMessage(1))
	adapter.Enqueue(newMessage(0))
	adapter.Enqueue(newMessage(0))
	require.Equal(t, 2, adapter.Outbox().Len())

	adapter.PushPending(ctx)
	adapter.PushPending(ctx)
	require.Equal(t, 0, adapter.Outbox().Len())

	require.Len(t, observer.delivered, 2)
	require.Equal(t, delivered{"B", newMessage(1).Key(), 2}, observer.delivered[1])

	submitted := adapter.Chain.Submitted()
	require.Len(t, submitted, 2)
	require.Equal(t, uint64(0), submitted[0].Nonce)
	require.Equal(t, uint64(1), submitted[1].Nonce)
}

func TestPushPendingReportsAlreadyDelivered(t *testing.T) {
	ctx := context.Background()
	observer := newRecorder(true)
	adapter := newAdapter(t, "B", false, memchain.NewCheckpointStore())
	require.NoError(t, adapter.Start(ctx, observer))

	adapter.Chain.Record(newMessage(0), true)
	adapter.Enqueue(newMessage(0))
	adapter.PushPending(ctx)

	require.Equal(t, 0, adapter.Outbox().Len())
	require.Empty(t, adapter.Chain.Submitted())
	require.Equal(t, []executed{{"B", newMessage(0).Key()}}, observer.executed)
}

func TestPushPendingDropsMismatch(t *testing.T) {
	ctx := context.Background()
	observer := newRecorder(true)
	adapter := newAdapter(t, "B", false, memchain.NewCheckpointStore())
	require.NoError(t, adapter.Start(ctx, observer))

	other := newMessage(0)
	other.Signature = []byte{0xff}
	adapter.Chain.Record(other, true)
	adapter.Enqueue(newMessage(0))
	adapter.PushPending(ctx)

	require.Equal(t, 0, adapter.Outbox().Len())
	require.Empty(t, observer.executed)
}

func TestCooldownAndTrigger(t *testing.T) {
	ctx := context.Background()
	adapter := newAdapter(t, "B", true, memchain.NewCheckpointStore())
	require.NoError(t, adapter.Start(ctx, newRecorder(true)))

	adapter.Enqueue(newMessage(0))
	adapter.Enqueue(newMessage(1))

	adapter.PushPending(ctx)
	require.Len(t, adapter.Chain.Submitted(), 1)

	// nonce 1 waits until the slot of nonce 0 is executed
	adapter.PushPending(ctx)
	adapter.TryTrigger(ctx)
	require.Len(t, adapter.Chain.Submitted(), 1)
	require.Equal(t, 0, adapter.Chain.Triggered())

	adapter.Chain.Mature(sender, "token")
	adapter.TryTrigger(ctx)
	require.Equal(t, 1, adapter.Chain.Triggered())

	adapter.PushPending(ctx)
	require.Len(t, adapter.Chain.Submitted(), 2)
	require.Equal(t, 0, adapter.Outbox().Len())

	adapter.Chain.Mature(sender, "token")
	adapter.TryTrigger(ctx)
	adapter.TryTrigger(ctx)
	require.Equal(t, 2, adapter.Chain.Triggered())
	require.Len(t, adapter.Chain.Executed(), 2)
}

func TestCheckpointHoldsBeforeUnfinalizedMessage(t *testing.T) {
	ctx := context.Background()
	store := memchain.NewCheckpointStore()
	require.NoError(t, store.Store(ctx, "A", 100))

	adapter := newAdapter(t, "A", false, store)
	require.NoError(t, adapter.Start(ctx, newRecorder(true)))
	adapter.Tracker().SetScanned(120)

	msg := newMessage(0)
	adapter.EmitSent(msg, members, 110)
	adapter.Checkpoint(ctx)
	heights, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(109), heights["A"])

	adapter.OnFinalized(msg.Key())
	adapter.Checkpoint(ctx)
	heights, err = store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(120), heights["A"])
}

func TestHandleSentUntracksWithoutTask(t *testing.T) {
	ctx := context.Background()
	adapter := newAdapter(t, "A", false, memchain.NewCheckpointStore())
	require.NoError(t, adapter.Start(ctx, newRecorder(false)))

	adapter.EmitSent(newMessage(0), []types.Member{{ChainID: "A"}}, 10)
	require.Empty(t, adapter.Tracker().Waiting())
}

func snapshotFor(msg *types.Message, pending []string, heights map[string]uint64) types.PendingSnapshot {
	return types.PendingSnapshot{
		msg.Key(): {
			Key:         msg.Key(),
			OriginChain: msg.OriginChain,
			Members:     members,
			Pending:     pending,
			Heights:     heights,
		},
	}
}

func TestRestoreOriginRederivesMessage(t *testing.T) {
	ctx := context.Background()
	observer := newRecorder(true)
	adapter := newAdapter(t, "A", false, memchain.NewCheckpointStore())
	msg := newMessage(0)
	adapter.Chain.Send(msg, 30)
	adapter.Tracker().SetScanned(100)

	require.NoError(t, adapter.BeforeRestore(ctx))
	require.Equal(t, uint64(30), adapter.RestoreHeight())
	require.NoError(t, adapter.Restore(ctx, snapshotFor(msg, []string{"C"}, nil), observer))

	require.Len(t, observer.observed, 1)
	require.Equal(t, "A", observer.observed[0].origin)
	require.True(t, msg.SameContent(observer.observed[0].msg))
	require.Equal(t, uint64(30), observer.observed[0].msg.Height)
	require.Equal(t, uint64(29), adapter.Tracker().SafeHeight())
}

func TestRestoreOriginMissingMessageIsFatal(t *testing.T) {
	ctx := context.Background()
	adapter := newAdapter(t, "A", false, memchain.NewCheckpointStore())

	require.NoError(t, adapter.BeforeRestore(ctx))
	err := adapter.Restore(ctx, snapshotFor(newMessage(0), []string{"B"}, nil), newRecorder(true))
	require.Error(t, err)
	require.True(t, types.IsFatal(err))
}

func TestRestoreMemberAlreadyExecuted(t *testing.T) {
	ctx := context.Background()
	observer := newRecorder(true)
	adapter := newAdapter(t, "B", false, memchain.NewCheckpointStore())
	msg := newMessage(0)
	adapter.Chain.Record(msg, true)

	require.NoError(t, adapter.BeforeRestore(ctx))
	require.NoError(t, adapter.Restore(ctx, snapshotFor(msg, []string{"C"}, map[string]uint64{"B": 12}), observer))

	require.Empty(t, observer.observed)
	require.Equal(t, []executed{{"B", msg.Key()}}, observer.executed)
	require.Equal(t, 0, adapter.Outbox().Len())
}

func TestRestoreMemberCoolingDown(t *testing.T) {
	ctx := context.Background()
	observer := newRecorder(true)
	adapter := newAdapter(t, "C", true, memchain.NewCheckpointStore())
	msg := newMessage(0)
	adapter.Chain.Record(msg, false)
	adapter.Chain.SetHead(90)

	require.NoError(t, adapter.BeforeRestore(ctx))
	require.NoError(t, adapter.Restore(ctx, snapshotFor(msg, []string{"C"}, map[string]uint64{"C": 80}), observer))

	require.Len(t, observer.observed, 1)
	require.Equal(t, "A", observer.observed[0].origin)
	require.True(t, msg.SameContent(observer.observed[0].msg))
	require.Empty(t, observer.executed)

	// executions older than the recorded height were settled by the nonce check
	adapter.HandleExecuted(msg.Key(), 70)
	require.Empty(t, observer.executed)

	adapter.Chain.Mature(sender, "token")
	adapter.TryTrigger(ctx)
	require.Equal(t, 1, adapter.Chain.Triggered())

	adapter.EmitExecuted(91)
	require.Equal(t, []executed{{"C", msg.Key()}}, observer.executed)
}

func TestRestoreMemberMissingRecordIsFatal(t *testing.T) {
	ctx := context.Background()
	adapter := newAdapter(t, "C", true, memchain.NewCheckpointStore())
	msg := newMessage(0)

	require.NoError(t, adapter.BeforeRestore(ctx))
	err := adapter.Restore(ctx, snapshotFor(msg, []string{"C"}, map[string]uint64{"C": 80}), newRecorder(true))
	require.True(t, types.IsFatal(err))
}

func TestRestoreMemberNotReceivedYet(t *testing.T) {
	ctx := context.Background()
	observer := newRecorder(true)
	adapter := newAdapter(t, "C", true, memchain.NewCheckpointStore())
	adapter.Chain.SetHead(50)

	require.NoError(t, adapter.BeforeRestore(ctx))
	require.NoError(t, adapter.Restore(ctx, snapshotFor(newMessage(0), []string{"C"}, nil), observer))

	require.Empty(t, observer.observed)
	require.Empty(t, observer.executed)
	require.Empty(t, adapter.Tracker().Waiting())
}
