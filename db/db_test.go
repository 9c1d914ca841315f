package db

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/config"
	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/types"
)

func TestLevelDBCheckpointStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ldb, err := NewLevelDB(dir)
	require.NoError(t, err)

	store := NewLevelDBCheckpointStore(ldb)
	heights, err := store.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, heights)

	require.NoError(t, store.Store(ctx, "bsc", 100))
	require.NoError(t, store.Store(ctx, "eth", 7))
	require.NoError(t, store.Store(ctx, "bsc", 120))
	require.NoError(t, ldb.Put([]byte("relayer/unrelated"), []byte("x")))
	require.NoError(t, ldb.Close())

	// reopen to check the heights survive a restart
	ldb, err = NewLevelDB(dir)
	require.NoError(t, err)
	defer ldb.Close()

	heights, err = NewLevelDBCheckpointStore(ldb).Load(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]uint64{"bsc": 120, "eth": 7}, heights)
}

func testEntry() *types.PendingEntry {
	key := types.TaskKey{Sender: "abcd", Nonce: 3, AssetID: "stBTC"}
	return &types.PendingEntry{
		Key:         key,
		OriginChain: "A",
		Members: []types.Member{
			{ChainID: "A", ContractAddress: []byte{0x01}},
			{ChainID: "B", ContractAddress: []byte{0x02}},
			{ChainID: "C", ContractAddress: []byte{0x03}},
		},
		Pending: []string{"C"},
		Heights: map[string]uint64{"B": 40, "C": 55},
	}
}

// The MySQL repositories need a live database, set RELAYER_TEST_MYSQL_HOST to run.
func TestMysqlRepositories(t *testing.T) {
	host := os.Getenv("RELAYER_TEST_MYSQL_HOST")
	if host == "" {
		t.Skip("RELAYER_TEST_MYSQL_HOST not set")
	}
	database, err := Init(config.Database{
		Host:     host,
		Port:     3306,
		Username: os.Getenv("RELAYER_TEST_MYSQL_USER"),
		Password: os.Getenv("RELAYER_TEST_MYSQL_PASSWORD"),
		DBName:   os.Getenv("RELAYER_TEST_MYSQL_DB"),
	})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = NewCheckpointRepository(nil)
	require.Error(t, err)

	checkpoints, err := NewCheckpointRepository(database)
	require.NoError(t, err)
	require.NoError(t, checkpoints.Store(ctx, "test-chain", 2811751))
	heights, err := checkpoints.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2811751), heights["test-chain"])

	tasks, err := NewTaskRepository(database)
	require.NoError(t, err)
	entry := testEntry()
	entry.Pending = []string{"B", "C"}
	require.NoError(t, tasks.SaveTask(ctx, entry))
	entry.Pending = []string{"C"}
	require.NoError(t, tasks.SaveTask(ctx, entry))

	snapshot, err := tasks.FetchPending(ctx)
	require.NoError(t, err)
	require.Equal(t, entry, snapshot[entry.Key])

	require.NoError(t, tasks.DeleteTask(ctx, entry.Key))
	snapshot, err = tasks.FetchPending(ctx)
	require.NoError(t, err)
	require.NotContains(t, snapshot, entry.Key)
}

// Set RELAYER_TEST_REDIS_ADDR to run against a live redis.
func TestRedisTaskStore(t *testing.T) {
	addr := os.Getenv("RELAYER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RELAYER_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	key := "relayer-test/" + t.Name()
	defer rdb.Del(ctx, key)
	store := NewRedisTaskStore(rdb, key)

	entry := testEntry()
	require.NoError(t, store.SaveTask(ctx, entry))
	snapshot, err := store.FetchPending(ctx)
	require.NoError(t, err)
	require.Equal(t, types.PendingSnapshot{entry.Key: entry}, snapshot)

	require.NoError(t, store.DeleteTask(ctx, entry.Key))
	snapshot, err = store.FetchPending(ctx)
	require.NoError(t, err)
	require.Empty(t, snapshot)
}
