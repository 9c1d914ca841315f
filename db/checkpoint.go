package db

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"
)

const (
	syncPointKeyPrefix = "relayer/"
	syncPointKeySuffix = "-sync-point"
)

func syncPointKey(chain string) string {
	return syncPointKeyPrefix + chain + syncPointKeySuffix
}

// CheckpointRepository keeps per-chain sync points in the config table.
type CheckpointRepository struct {
	db *gorm.DB
}

func NewCheckpointRepository(db *gorm.DB) (*CheckpointRepository, error) {
	if db == nil {
		return nil, errors.New("DB is not initialized yet")
	}

	return &CheckpointRepository{db: db}, nil
}

func (r *CheckpointRepository) Load(ctx context.Context) (map[string]uint64, error) {
	values, err := ListPrefix(r.db.WithContext(ctx), syncPointKeyPrefix)
	if err != nil {
		return nil, err
	}

	heights := make(map[string]uint64, len(values))
	for key, value := range values {
		if !strings.HasSuffix(key, syncPointKeySuffix) {
			continue
		}
		height, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid sync point %s=%q: %w", key, value, err)
		}
		chain := strings.TrimSuffix(strings.TrimPrefix(key, syncPointKeyPrefix), syncPointKeySuffix)
		heights[chain] = height
	}
	return heights, nil
}

func (r *CheckpointRepository) Store(ctx context.Context, chain string, height uint64) error {
	return SetUint64(r.db.WithContext(ctx), syncPointKey(chain), height)
}

// LevelDBCheckpointStore keeps per-chain sync points in a local key-value db.
type LevelDBCheckpointStore struct {
	db IDB
}

func NewLevelDBCheckpointStore(db IDB) *LevelDBCheckpointStore {
	return &LevelDBCheckpointStore{db: db}
}

func (s *LevelDBCheckpointStore) Load(context.Context) (map[string]uint64, error) {
	heights := make(map[string]uint64)
	err := s.db.Iterate([]byte(syncPointKeyPrefix), func(key, value []byte) error {
		if !strings.HasSuffix(string(key), syncPointKeySuffix) {
			return nil
		}
		if len(value) != 8 {
			return fmt.Errorf("invalid sync point %s: %x", key, value)
		}
		chain := strings.TrimSuffix(strings.TrimPrefix(string(key), syncPointKeyPrefix), syncPointKeySuffix)
		heights[chain] = binary.BigEndian.Uint64(value)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return heights, nil
}

func (s *LevelDBCheckpointStore) Store(_ context.Context, chain string, height uint64) error {
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, height)
	return s.db.Put([]byte(syncPointKey(chain)), value)
}
