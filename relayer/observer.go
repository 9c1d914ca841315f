package relayer

import (
	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/types"
)

// OnMessageObserved creates the task for msg and queues msg on every pending
// member chain. Returns false when the task already exists or no registered
// member other than the origin has to receive msg.
func (r *Relayer) OnMessageObserved(originChain string, msg *types.Message, members []types.Member) bool {
	key := msg.Key()

	defer r.flushJournal()
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.restoring {
		r.reported[key] = struct{}{}
	}
	if _, ok := r.tasks[key]; ok {
		r.logger.Debugf("task %s already exists", key)
		return false
	}

	pending := make(map[string]struct{})
	for _, m := range members {
		if m.ChainID == originChain {
			continue
		}
		if _, ok := r.byName[m.ChainID]; !ok {
			continue
		}
		pending[m.ChainID] = struct{}{}
	}
	if r.restoring {
		for chain := range r.early[key] {
			delete(pending, chain)
		}
		delete(r.early, key)
	}
	if len(pending) == 0 {
		r.logger.Debugf("message %s has no pending member chain, not tracked", msg)
		return false
	}

	task := &types.Task{
		Key:           key,
		OriginChain:   originChain,
		Members:       append([]types.Member(nil), members...),
		PendingChains: pending,
		Heights:       make(map[string]uint64),
	}
	r.tasks[key] = task
	r.saveTask(task)
	r.metrics.ObservedMessages.WithLabelValues(originChain).Inc()
	r.metrics.PendingTasks.Set(float64(len(r.tasks)))
	r.logger.Infof("message observed on %s: %s, pending chains: %v", originChain, msg, task.Pending())

	if r.restoring {
		r.deferred[key] = msg
		return true
	}
	r.enqueue(task, msg)
	return true
}

// enqueue must be called with r.mu held.
func (r *Relayer) enqueue(task *types.Task, msg *types.Message) {
	for _, chain := range task.Pending() {
		r.byName[chain].Enqueue(msg)
		r.metrics.QueuedMessages.WithLabelValues(chain).Inc()
	}
}

// OnMessageDelivered records the height at which chain received the message.
func (r *Relayer) OnMessageDelivered(chain string, key types.TaskKey, height uint64) {
	defer r.flushJournal()
	r.mu.Lock()
	defer r.mu.Unlock()

	r.metrics.DeliveredMessages.WithLabelValues(chain).Inc()
	task, ok := r.tasks[key]
	if !ok {
		return
	}
	task.Heights[chain] = height
	r.saveTask(task)
}

// OnMessageExecuted removes chain from the pending set of the task for key and
// finalizes the task once nothing is pending. Reports for unknown tasks or
// chains are tolerated.
func (r *Relayer) OnMessageExecuted(chain string, key types.TaskKey) {
	defer r.flushJournal()
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.restoring {
		r.reported[key] = struct{}{}
	}
	task, ok := r.tasks[key]
	if !ok {
		if r.restoring {
			if r.early[key] == nil {
				r.early[key] = make(map[string]struct{})
			}
			r.early[key][chain] = struct{}{}
			r.logger.Debugf("message %s executed on %s before its task was restored", key, chain)
			return
		}
		r.logger.Infof("task for chain not found, chain: %s, key: %s", chain, key)
		return
	}
	if chain == task.OriginChain {
		r.logger.Infof("message %s confirmed on origin chain %s", key, chain)
		return
	}
	if _, ok := task.PendingChains[chain]; !ok {
		r.logger.Infof("task for chain not found, chain: %s, key: %s", chain, key)
		return
	}

	delete(task.PendingChains, chain)
	r.metrics.ExecutedMessages.WithLabelValues(chain).Inc()
	r.logger.Infof("message %s executed on %s, pending chains: %v", key, chain, task.Pending())
	if len(task.PendingChains) > 0 {
		r.saveTask(task)
		return
	}
	r.finalize(task)
}

// finalize must be called with r.mu held.
func (r *Relayer) finalize(task *types.Task) {
	delete(r.tasks, task.Key)
	delete(r.deferred, task.Key)
	r.deleteTask(task.Key)
	r.metrics.FinalizedTasks.Inc()
	r.metrics.PendingTasks.Set(float64(len(r.tasks)))
	r.logger.Infof("task finalized: %s, origin: %s", task.Key, task.OriginChain)

	for _, adapter := range r.adapters {
		adapter.OnFinalized(task.Key)
	}
}

func (r *Relayer) HasTask(key types.TaskKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[key]
	return ok
}
