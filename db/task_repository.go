package db

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/types"
)

// TaskRepository journals pending tasks in MySQL and serves them back as the
// recovery snapshot.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) (*TaskRepository, error) {
	if db == nil {
		return nil, errors.New("DB is not initialized yet")
	}

	return &TaskRepository{db: db}, nil
}

func (r *TaskRepository) SaveTask(ctx context.Context, entry *types.PendingEntry) error {
	digest := entry.Key.Digest()
	return r.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		if ok, err := r.hasTask(dbtx, digest); err != nil {
			return err
		} else if !ok {
			task := &PendingTask{
				Digest:      digest,
				Sender:      entry.Key.Sender,
				Nonce:       entry.Key.Nonce,
				AssetId:     entry.Key.AssetID,
				OriginChain: entry.OriginChain,
			}
			if err := dbtx.Create(task).Error; err != nil {
				return err
			}
		}

		if err := dbtx.Where("digest = ?", digest).Delete(&PendingTaskMember{}).Error; err != nil {
			return err
		}
		members := make([]*PendingTaskMember, 0, len(entry.Members))
		for _, m := range entry.Members {
			members = append(members, &PendingTaskMember{
				Digest:          digest,
				Chain:           m.ChainID,
				ContractAddress: hex.EncodeToString(m.ContractAddress),
				Pending:         entry.IsPending(m.ChainID),
				Height:          entry.Heights[m.ChainID],
			})
		}
		if len(members) == 0 {
			return nil
		}
		return dbtx.Create(&members).Error
	})
}

func (r *TaskRepository) DeleteTask(ctx context.Context, key types.TaskKey) error {
	digest := key.Digest()
	return r.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		if err := dbtx.Where("digest = ?", digest).Delete(&PendingTaskMember{}).Error; err != nil {
			return err
		}
		return dbtx.Where("digest = ?", digest).Delete(&PendingTask{}).Error
	})
}

func (r *TaskRepository) FetchPending(ctx context.Context) (types.PendingSnapshot, error) {
	var tasks []*PendingTask
	if err := r.db.WithContext(ctx).Model(&PendingTask{}).Order("id").Find(&tasks).Error; err != nil {
		return nil, err
	}
	var members []*PendingTaskMember
	if err := r.db.WithContext(ctx).Model(&PendingTaskMember{}).Order("id").Find(&members).Error; err != nil {
		return nil, err
	}

	snapshot := make(types.PendingSnapshot, len(tasks))
	byDigest := make(map[string]*types.PendingEntry, len(tasks))
	for _, task := range tasks {
		key := types.TaskKey{Sender: task.Sender, Nonce: task.Nonce, AssetID: task.AssetId}
		entry := &types.PendingEntry{
			Key:         key,
			OriginChain: task.OriginChain,
			Heights:     make(map[string]uint64),
		}
		snapshot[key] = entry
		byDigest[task.Digest] = entry
	}

	for _, m := range members {
		entry, ok := byDigest[m.Digest]
		if !ok {
			continue
		}
		address, err := hex.DecodeString(m.ContractAddress)
		if err != nil {
			return nil, fmt.Errorf("invalid contract address of %s on %s: %w", entry.Key, m.Chain, err)
		}
		entry.Members = append(entry.Members, types.Member{ChainID: m.Chain, ContractAddress: address})
		if m.Pending {
			entry.Pending = append(entry.Pending, m.Chain)
		}
		if m.Height > 0 {
			entry.Heights[m.Chain] = m.Height
		}
	}
	return snapshot, nil
}

func (r *TaskRepository) hasTask(dbtx *gorm.DB, digest string) (bool, error) {
	var count int64
	result := dbtx.Model(&PendingTask{}).Where("digest = ?", digest).Count(&count)
	if result.Error != nil {
		return false, result.Error
	}

	return count > 0, nil
}
