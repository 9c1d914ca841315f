// Package relayer owns the chain adapters and the task table that tracks every
// cross-chain message until all of its member chains confirmed it.
package relayer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sasha-s/go-deadlock"
	"go.uber.org/zap"

	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/chains"
	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/config"
	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/types"
)

// JournalTimeout bounds a single journal write.
const JournalTimeout = 10 * time.Second

// TaskJournal persists task table mutations so a restart can rebuild it.
type TaskJournal interface {
	SaveTask(ctx context.Context, entry *types.PendingEntry) error
	DeleteTask(ctx context.Context, key types.TaskKey) error
}

// SnapshotSource returns the tasks still pending at last shutdown.
type SnapshotSource interface {
	FetchPending(ctx context.Context) (types.PendingSnapshot, error)
}

type journalOp struct {
	key types.TaskKey
	// nil deletes the entry
	entry *types.PendingEntry
}

type Relayer struct {
	logger  *zap.SugaredLogger
	cfg     config.RelayerConfig
	journal TaskJournal
	source  SnapshotSource
	metrics *Metrics

	mu       deadlock.Mutex
	adapters []chains.Adapter
	byName   map[string]chains.Adapter
	tasks    map[types.TaskKey]*types.Task

	// set while adapters restore
	restoring bool
	early     map[types.TaskKey]map[string]struct{}
	deferred  map[types.TaskKey]*types.Message
	reported  map[types.TaskKey]struct{}

	// journal writes are queued under mu in mutation order and written by
	// flushJournal under journalMu, never under mu
	journalOps []journalOp
	journalMu  sync.Mutex

	quit chan struct{}
	wg   sync.WaitGroup
}

var _ chains.Observer = (*Relayer)(nil)

// New creates a relayer. journal and source may be nil, metrics defaults to a
// private registry.
func New(logger *zap.SugaredLogger, cfg config.RelayerConfig, journal TaskJournal, source SnapshotSource, metrics *Metrics) *Relayer {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Relayer{
		logger:  logger.Named("relayer"),
		cfg:     cfg,
		journal: journal,
		source:  source,
		metrics: metrics,
		byName:  make(map[string]chains.Adapter),
		tasks:   make(map[types.TaskKey]*types.Task),
		quit:    make(chan struct{}),
	}
}

// Register initializes adapter and adds it to the registry. An adapter that
// cannot initialize is fatal.
func (r *Relayer) Register(ctx context.Context, adapter chains.Adapter) error {
	name := adapter.ChainName()

	r.mu.Lock()
	_, exists := r.byName[name]
	r.mu.Unlock()
	if exists {
		return types.Fatal("register", fmt.Errorf("chain %s registered twice", name))
	}

	if err := adapter.Init(ctx); err != nil {
		r.logger.Errorf("adapter init failed, chain: %s, error: %v", name, err)
		return types.Fatal("init "+name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters = append(r.adapters, adapter)
	r.byName[name] = adapter
	r.logger.Infof("chain %s registered", name)
	return nil
}

func (r *Relayer) Adapters() []chains.Adapter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]chains.Adapter(nil), r.adapters...)
}

func (r *Relayer) Metrics() *Metrics {
	return r.metrics
}

// PendingTasks returns the live task table, ordered by key.
func (r *Relayer) PendingTasks() []*types.PendingEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]*types.PendingEntry, 0, len(r.tasks))
	for _, task := range r.tasks {
		entries = append(entries, task.Entry())
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key.String() < entries[j].Key.String()
	})
	return entries
}

// saveTask must be called with r.mu held.
func (r *Relayer) saveTask(task *types.Task) {
	if r.journal == nil {
		return
	}
	r.journalOps = append(r.journalOps, journalOp{key: task.Key, entry: task.Entry()})
}

// deleteTask must be called with r.mu held.
func (r *Relayer) deleteTask(key types.TaskKey) {
	if r.journal == nil {
		return
	}
	r.journalOps = append(r.journalOps, journalOp{key: key})
}

// flushJournal writes the queued journal operations in order. It must be
// called without r.mu held; it returns once every operation queued before the
// call has been written.
func (r *Relayer) flushJournal() {
	if r.journal == nil {
		return
	}
	r.journalMu.Lock()
	defer r.journalMu.Unlock()

	r.mu.Lock()
	ops := r.journalOps
	r.journalOps = nil
	r.mu.Unlock()

	for _, op := range ops {
		ctx, cancel := context.WithTimeout(context.Background(), JournalTimeout)
		if op.entry == nil {
			if err := r.journal.DeleteTask(ctx, op.key); err != nil {
				r.logger.Errorf("failed to remove task %s from journal: %v", op.key, err)
			}
		} else if err := r.journal.SaveTask(ctx, op.entry); err != nil {
			r.logger.Errorf("failed to journal task %s: %v", op.key, err)
		}
		cancel()
	}
}
