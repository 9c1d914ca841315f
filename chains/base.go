package chains

import (
	"context"
	"fmt"
	"sort"

	"github.com/sasha-s/go-deadlock"
	"go.uber.org/zap"

	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/types"
)

// Chain is what BaseAdapter needs from a concrete chain client on top of Target.
type Chain interface {
	Target

	HeadHeight(ctx context.Context) (uint64, error)
	// SentMessage returns a message this chain originated and its block height,
	// nil when the chain has no such message.
	SentMessage(ctx context.Context, sender []byte, assetID string, nonce uint64) (*types.Message, uint64, error)
	Decode(record []byte) (*types.Message, error)
}

type lane struct {
	sender  string
	assetID string
}

// BaseAdapter implements the chain independent part of Adapter: the outbox,
// delivery, trigger polling, checkpointing and restore. Concrete adapters embed
// it and add connectivity and the event feed.
type BaseAdapter struct {
	name   string
	logger *zap.SugaredLogger
	chain  Chain

	outbox       *Outbox
	tracker      *Tracker
	checkpointer *Checkpointer

	mu            deadlock.Mutex
	observer      Observer
	triggers      map[lane][]byte
	restoreHeight uint64
	restoredWatch map[types.TaskKey]uint64
}

func NewBaseAdapter(name string, logger *zap.SugaredLogger, store CheckpointStore) *BaseAdapter {
	return &BaseAdapter{
		name:          name,
		logger:        logger,
		outbox:        NewOutbox(),
		tracker:       NewTracker(0),
		checkpointer:  NewCheckpointer(name, store),
		triggers:      make(map[lane][]byte),
		restoredWatch: make(map[types.TaskKey]uint64),
	}
}

// SetChain attaches the chain client once it is connected.
func (b *BaseAdapter) SetChain(chain Chain) {
	b.chain = chain
}

func (b *BaseAdapter) ChainName() string {
	return b.name
}

func (b *BaseAdapter) Logger() *zap.SugaredLogger {
	return b.logger
}

func (b *BaseAdapter) Outbox() *Outbox {
	return b.outbox
}

func (b *BaseAdapter) Tracker() *Tracker {
	return b.tracker
}

func (b *BaseAdapter) getObserver() Observer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.observer
}

// LoadCheckpoint reads this chain's checkpoint, falling back to startHeight-1 on a first run.
func (b *BaseAdapter) LoadCheckpoint(ctx context.Context, startHeight uint64) (uint64, error) {
	height, found, err := b.checkpointer.Load(ctx)
	if err != nil {
		return 0, err
	}
	if !found && startHeight > 0 {
		height = startHeight - 1
	}
	b.tracker.SetScanned(height)
	return height, nil
}

// Bind registers the observer that receives this adapter's reports.
func (b *BaseAdapter) Bind(observer Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observer = observer
}

func (b *BaseAdapter) Enqueue(msg *types.Message) {
	if !b.outbox.Push(msg) {
		b.logger.Debugf("message already queued: %s", msg)
		return
	}
	b.logger.Infof("message queued: %s, queue size: %d", msg, b.outbox.Len())
}

func (b *BaseAdapter) PushPending(ctx context.Context) {
	for _, msg := range b.outbox.Heads() {
		outcome, err := Deliver(ctx, b.chain, msg)
		switch outcome {
		case OutcomeFailed:
			b.logger.Warnf("failed to deliver message %s, try again next tick: %v", msg, err)
		case OutcomeCaching:
			b.logger.Infof("message caching, chain nonce has not reached %d: %s", msg.Nonce, msg)
		case OutcomeCoolingDown:
			b.watchSlot(msg.Sender, msg.AssetID)
			b.logger.Infof("message cooling down, sender slot occupied: %s", msg)
		case OutcomeDelivered:
			b.outbox.Remove(msg.Key())
			b.watchSlot(msg.Sender, msg.AssetID)
			b.logger.Infof("message delivered: %s", msg)
			b.reportDelivered(ctx, msg.Key())
		case OutcomeAlreadyDelivered:
			b.outbox.Remove(msg.Key())
			b.logger.Infof("message already recorded on chain: %s", msg)
			if observer := b.getObserver(); observer != nil {
				observer.OnMessageExecuted(b.name, msg.Key())
			}
		case OutcomeMismatch:
			b.outbox.Remove(msg.Key())
			b.logger.Errorf("message record mismatch, dropped from queue: %s, error: %v", msg, err)
		case OutcomeRejected:
			b.outbox.Remove(msg.Key())
			b.logger.Errorf("message rejected by chain, dropped from queue: %s, error: %v", msg, err)
		}
	}
}

func (b *BaseAdapter) reportDelivered(ctx context.Context, key types.TaskKey) {
	observer := b.getObserver()
	if observer == nil {
		return
	}
	height, err := b.chain.HeadHeight(ctx)
	if err != nil {
		b.logger.Warnf("failed to read head height after delivering %s: %v", key, err)
		return
	}
	observer.OnMessageDelivered(b.name, key, height)
}

func (b *BaseAdapter) watchSlot(sender []byte, assetID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.triggers[lane{string(sender), assetID}] = sender
}

func (b *BaseAdapter) watchedSlots() map[lane][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	slots := make(map[lane][]byte, len(b.triggers))
	for l, sender := range b.triggers {
		slots[l] = sender
	}
	return slots
}

func (b *BaseAdapter) unwatchSlot(l lane) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.triggers, l)
}

func (b *BaseAdapter) TryTrigger(ctx context.Context) {
	for l, sender := range b.watchedSlots() {
		slot, err := b.chain.CachedSlot(ctx, sender, l.assetID)
		if err != nil {
			b.logger.Warnf("failed to read cached slot, sender: %x, asset: %q, error: %v", sender, l.assetID, err)
			continue
		}
		if !slot.Occupied {
			b.unwatchSlot(l)
			continue
		}
		if !slot.Matured {
			b.logger.Debugf("cooldown not elapsed, sender: %x, asset: %q, nonce: %d", sender, l.assetID, slot.Nonce)
			continue
		}

		if err := b.chain.Execute(ctx, sender, l.assetID); err != nil {
			b.logger.Warnf("failed to trigger delayed message, sender: %x, asset: %q, nonce: %d, error: %v",
				sender, l.assetID, slot.Nonce, err)
			continue
		}
		b.logger.Infof("triggered delayed message, sender: %x, asset: %q, nonce: %d", sender, l.assetID, slot.Nonce)
	}
}

func (b *BaseAdapter) Checkpoint(ctx context.Context) {
	safe := b.tracker.SafeHeight()
	written, err := b.checkpointer.Store(ctx, safe)
	if err != nil {
		b.logger.Warnf("failed to store checkpoint %d: %v", safe, err)
	} else if written {
		b.logger.Debugf("checkpoint updated to %d", safe)
	}

	for _, entry := range b.tracker.Waiting() {
		b.logger.Infof("message %s from height %d waiting for finalization", entry.Key, entry.Height)
	}
}

func (b *BaseAdapter) OnFinalized(key types.TaskKey) {
	if b.tracker.Finalize(key) {
		b.logger.Debugf("message %s finalized", key)
	}

	b.mu.Lock()
	delete(b.restoredWatch, key)
	b.mu.Unlock()
}

// HandleSent processes a send event found at height on this chain.
func (b *BaseAdapter) HandleSent(msg *types.Message, members []types.Member, height uint64) {
	observer := b.getObserver()
	if observer == nil {
		return
	}

	msg.Height = height
	key := msg.Key()
	b.tracker.Track(key, height)
	if !observer.OnMessageObserved(b.name, msg, members) && !observer.HasTask(key) {
		b.tracker.Finalize(key)
	}
}

// HandleExecuted processes an execution event found at height on this chain.
// Events older than the watch height recorded at restore were already settled
// by nonce comparison and are discarded.
func (b *BaseAdapter) HandleExecuted(key types.TaskKey, height uint64) {
	observer := b.getObserver()
	if observer == nil {
		return
	}

	b.mu.Lock()
	watch, restored := b.restoredWatch[key]
	b.mu.Unlock()
	if restored && height < watch {
		b.logger.Debugf("discard execution of %s at height %d, older than restore height %d", key, height, watch)
		return
	}

	observer.OnMessageExecuted(b.name, key)
}

func (b *BaseAdapter) RestoreHeight() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.restoreHeight
}

func (b *BaseAdapter) BeforeRestore(ctx context.Context) error {
	height, err := b.chain.HeadHeight(ctx)
	if err != nil {
		return types.Fatal("read head height", err)
	}

	b.mu.Lock()
	b.restoreHeight = height
	b.mu.Unlock()

	b.logger.Infof("restore snapshot height: %d", height)
	return nil
}

// Restore replays the entries of snapshot naming this chain. Messages are
// re-derived from this chain's own records, never taken from the snapshot.
func (b *BaseAdapter) Restore(ctx context.Context, snapshot types.PendingSnapshot, observer Observer) error {
	b.Bind(observer)

	keys := make([]types.TaskKey, 0, len(snapshot))
	for key, entry := range snapshot {
		if entry.Names(b.name) {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Sender != keys[j].Sender {
			return keys[i].Sender < keys[j].Sender
		}
		if keys[i].AssetID != keys[j].AssetID {
			return keys[i].AssetID < keys[j].AssetID
		}
		return keys[i].Nonce < keys[j].Nonce
	})

	for _, key := range keys {
		entry := snapshot[key]
		var err error
		if entry.OriginChain == b.name {
			err = b.restoreOrigin(ctx, key, entry, observer)
		} else {
			err = b.restoreMember(ctx, key, entry, observer)
		}
		if err != nil {
			return err
		}
	}

	b.logger.Infof("restored %d pending messages", len(keys))
	return nil
}

func (b *BaseAdapter) restoreOrigin(ctx context.Context, key types.TaskKey, entry *types.PendingEntry, observer Observer) error {
	sender, err := key.SenderBytes()
	if err != nil {
		return types.Fatal("restore "+key.String(), err)
	}

	msg, height, err := b.chain.SentMessage(ctx, sender, key.AssetID, key.Nonce)
	if err != nil {
		return types.Fatal("restore "+key.String(), err)
	}
	if msg == nil {
		return types.Fatal("restore "+key.String(), fmt.Errorf("sent message not found on %s", b.name))
	}
	if msg.Key() != key {
		return types.Fatal("restore "+key.String(), fmt.Errorf("sent message on %s has key %s", b.name, msg.Key()))
	}

	msg.Height = height
	b.tracker.Track(key, height)
	observer.OnMessageObserved(b.name, msg, entry.Members)
	return nil
}

func (b *BaseAdapter) restoreMember(ctx context.Context, key types.TaskKey, entry *types.PendingEntry, observer Observer) error {
	sender, err := key.SenderBytes()
	if err != nil {
		return types.Fatal("restore "+key.String(), err)
	}

	nonce, err := b.chain.CurrentNonce(ctx, sender, key.AssetID)
	if err != nil {
		return types.Fatal("restore "+key.String(), err)
	}
	if nonce > key.Nonce {
		b.logger.Infof("message %s already executed on %s", key, b.name)
		observer.OnMessageExecuted(b.name, key)
		return nil
	}

	watch := entry.Heights[b.name]
	record, err := b.chain.ReceivedRecord(ctx, sender, key.AssetID, key.Nonce)
	if err != nil {
		return types.Fatal("restore "+key.String(), err)
	}
	if record == nil {
		if watch > 0 {
			return types.Fatal("restore "+key.String(),
				fmt.Errorf("message received at height %d is missing on %s", watch, b.name))
		}
	} else {
		msg, err := b.chain.Decode(record)
		if err != nil {
			return types.Fatal("restore "+key.String(), err)
		}
		if msg.Key() != key {
			return types.Fatal("restore "+key.String(), fmt.Errorf("received message on %s has key %s", b.name, msg.Key()))
		}
		observer.OnMessageObserved(entry.OriginChain, msg, entry.Members)
		b.watchSlot(sender, key.AssetID)
	}

	if watch == 0 {
		watch = b.RestoreHeight()
	}
	if record != nil {
		b.tracker.Track(key, watch)
	}
	b.mu.Lock()
	b.restoredWatch[key] = watch
	b.mu.Unlock()
	return nil
}
