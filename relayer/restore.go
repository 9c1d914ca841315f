package relayer

import (
	"context"
	"fmt"
	"sort"

	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/types"
)

// Restore rebuilds the task table from the recovery snapshot before the loop
// starts. Any failure is fatal: running with an incomplete task table would
// drop cross-chain guarantees.
func (r *Relayer) Restore(ctx context.Context) error {
	adapters := r.Adapters()
	for _, adapter := range adapters {
		if err := adapter.BeforeRestore(ctx); err != nil {
			r.logger.Errorf("restore failed, chain: %s, error: %v", adapter.ChainName(), err)
			return types.Fatal("before restore "+adapter.ChainName(), err)
		}
	}

	snapshot := types.PendingSnapshot{}
	if r.source != nil {
		fetched, err := r.source.FetchPending(ctx)
		if err != nil {
			r.logger.Errorf("restore failed, fetch pending tasks: %v", err)
			return types.Fatal("fetch pending", err)
		}
		snapshot = fetched
	}
	r.logger.Infof("restoring %d pending tasks", len(snapshot))

	r.mu.Lock()
	r.restoring = true
	r.early = make(map[types.TaskKey]map[string]struct{})
	r.deferred = make(map[types.TaskKey]*types.Message)
	r.reported = make(map[types.TaskKey]struct{})
	r.mu.Unlock()

	for _, adapter := range adapters {
		if err := adapter.Restore(ctx, snapshot, r); err != nil {
			r.logger.Errorf("restore failed, chain: %s, error: %v", adapter.ChainName(), err)
			r.endRestore()
			r.flushJournal()
			return types.Fatal("restore "+adapter.ChainName(), err)
		}
	}

	err := r.finishRestore(snapshot)
	r.flushJournal()
	return err
}

// finishRestore queues every restored message on the chains still pending
// once all adapters reported what they had already executed. An entry no
// adapter reported anything for is a restore failure.
func (r *Relayer) finishRestore(snapshot types.PendingSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.clearRestore()

	var lost []string
	for key, entry := range snapshot {
		if _, ok := r.reported[key]; !ok {
			lost = append(lost, fmt.Sprintf("%s (origin %s)", key, entry.OriginChain))
		}
	}
	if len(lost) > 0 {
		sort.Strings(lost)
		r.logger.Errorf("restore failed, no chain holds pending tasks: %v", lost)
		return types.Fatal("restore", fmt.Errorf("no registered chain holds %d pending tasks: %v", len(lost), lost))
	}

	keys := make([]types.TaskKey, 0, len(r.deferred))
	for key := range r.deferred {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Sender != keys[j].Sender || keys[i].AssetID != keys[j].AssetID {
			return keys[i].String() < keys[j].String()
		}
		return keys[i].Nonce < keys[j].Nonce
	})
	for _, key := range keys {
		if task, ok := r.tasks[key]; ok {
			r.enqueue(task, r.deferred[key])
		}
	}

	for key, entry := range snapshot {
		task, ok := r.tasks[key]
		if !ok {
			r.logger.Infof("task %s resolved while the relayer was down", key)
			r.deleteTask(key)
			continue
		}
		// keep receive heights of members delivered before the restart
		for chain, height := range entry.Heights {
			if _, ok := task.Heights[chain]; !ok {
				task.Heights[chain] = height
			}
		}
		r.saveTask(task)
	}

	r.logger.Infof("restore finished, %d tasks pending", len(r.tasks))
	return nil
}

func (r *Relayer) endRestore() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearRestore()
}

// clearRestore must be called with r.mu held.
func (r *Relayer) clearRestore() {
	r.restoring = false
	r.early = nil
	r.deferred = nil
	r.reported = nil
}
