package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/types"
)

// RedisTaskStore journals pending tasks in a single redis hash, one field per
// task key digest.
type RedisTaskStore struct {
	rdb *redis.Client
	key string
}

type redisTask struct {
	Sender      string            `json:"sender"`
	Nonce       uint64            `json:"nonce"`
	AssetID     string            `json:"assetId"`
	OriginChain string            `json:"originChain"`
	Members     []redisMember     `json:"members"`
	Pending     []string          `json:"pending"`
	Heights     map[string]uint64 `json:"heights,omitempty"`
}

type redisMember struct {
	Chain           string `json:"chain"`
	ContractAddress []byte `json:"contractAddress"`
}

func NewRedisTaskStore(rdb *redis.Client, key string) *RedisTaskStore {
	return &RedisTaskStore{rdb: rdb, key: key}
}

func (s *RedisTaskStore) SaveTask(ctx context.Context, entry *types.PendingEntry) error {
	task := redisTask{
		Sender:      entry.Key.Sender,
		Nonce:       entry.Key.Nonce,
		AssetID:     entry.Key.AssetID,
		OriginChain: entry.OriginChain,
		Pending:     entry.Pending,
		Heights:     entry.Heights,
	}
	for _, m := range entry.Members {
		task.Members = append(task.Members, redisMember{Chain: m.ChainID, ContractAddress: m.ContractAddress})
	}

	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, s.key, entry.Key.Digest(), data).Err()
}

func (s *RedisTaskStore) DeleteTask(ctx context.Context, key types.TaskKey) error {
	return s.rdb.HDel(ctx, s.key, key.Digest()).Err()
}

func (s *RedisTaskStore) FetchPending(ctx context.Context) (types.PendingSnapshot, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}

	snapshot := make(types.PendingSnapshot, len(fields))
	for digest, value := range fields {
		var task redisTask
		if err := json.Unmarshal([]byte(value), &task); err != nil {
			return nil, fmt.Errorf("invalid pending task %s: %w", digest, err)
		}

		key := types.TaskKey{Sender: task.Sender, Nonce: task.Nonce, AssetID: task.AssetID}
		entry := &types.PendingEntry{
			Key:         key,
			OriginChain: task.OriginChain,
			Pending:     task.Pending,
			Heights:     task.Heights,
		}
		if entry.Heights == nil {
			entry.Heights = make(map[string]uint64)
		}
		for _, m := range task.Members {
			entry.Members = append(entry.Members, types.Member{ChainID: m.Chain, ContractAddress: m.ContractAddress})
		}
		snapshot[key] = entry
	}
	return snapshot, nil
}
