package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/chains"
	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/chains/evm"
	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/config"
	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/db"
	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/relayer"
)

type taskStore interface {
	relayer.TaskJournal
	relayer.SnapshotSource
}

// stores holds the persistence backends selected by the config.
type stores struct {
	checkpoints chains.CheckpointStore
	tasks       taskStore
	closers     []func() error
}

func (s *stores) Close() {
	for _, closer := range s.closers {
		_ = closer()
	}
}

func StartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start relaying messages between the configured chains",
		Run:   RootAction,
	}
}

func loadConfig(c *cobra.Command) (config.Config, *zap.Logger) {
	configFile, err := c.Flags().GetString("config")
	if err != nil {
		panic(err)
	}

	cfg, err := config.NewConfig(configFile)
	if err != nil {
		panic(err)
	}

	enableDebug, err := c.Flags().GetBool("debug")
	if err != nil {
		panic(err)
	}
	parentLogger, err := cfg.CreateLogger(enableDebug)
	if err != nil {
		panic(err)
	}
	return cfg, parentLogger
}

func openStores(ctx context.Context, cfg config.Config) (*stores, error) {
	s := &stores{}
	var database *gorm.DB
	if cfg.NeedsMysql() {
		var err error
		if database, err = db.Init(cfg.Database); err != nil {
			return nil, err
		}
		if sqlDB, err := database.DB(); err == nil {
			s.closers = append(s.closers, sqlDB.Close)
		}
	}

	switch cfg.Relayer.CheckpointBackend {
	case config.BackendMysql:
		repo, err := db.NewCheckpointRepository(database)
		if err != nil {
			return nil, err
		}
		s.checkpoints = repo
	case config.BackendLevelDB:
		ldb, err := db.NewLevelDB(cfg.LevelDB.Dir)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, ldb.Close)
		s.checkpoints = db.NewLevelDBCheckpointStore(ldb)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend: %s", cfg.Relayer.CheckpointBackend)
	}

	switch cfg.Relayer.SnapshotBackend {
	case config.BackendMysql:
		repo, err := db.NewTaskRepository(database)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.tasks = repo
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			s.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		s.closers = append(s.closers, rdb.Close)
		s.tasks = db.NewRedisTaskStore(rdb, cfg.Redis.Key)
	default:
		s.Close()
		return nil, fmt.Errorf("unknown snapshot backend: %s", cfg.Relayer.SnapshotBackend)
	}

	return s, nil
}

func RootAction(c *cobra.Command, _ []string) {
	cfg, parentLogger := loadConfig(c)
	logger := parentLogger.With().Sugar()
	ctx := context.Background()

	s, err := openStores(ctx, cfg)
	if err != nil {
		panic(err)
	}
	defer s.Close()

	metrics := relayer.NewMetrics()
	r := relayer.New(logger, cfg.Relayer, s.tasks, s.tasks, metrics)
	for _, chainCfg := range cfg.EVMChains {
		adapter := evm.NewAdapter(chainCfg, cfg.Relayer.MaxLookbackBlocks, s.checkpoints, logger)
		if err := r.Register(ctx, adapter); err != nil {
			panic(err)
		}
	}

	if err := r.Restore(ctx); err != nil {
		panic(err)
	}
	if err := r.Start(ctx); err != nil {
		r.Stop()
		r.WaitForShutdown()
		panic(err)
	}

	if cfg.Admin.Listen != "" {
		admin := relayer.NewAdminServer(cfg.Admin.Listen, r, logger)
		admin.Start()
		addInterruptHandler(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := admin.Shutdown(shutdownCtx); err != nil {
				logger.Warnf("admin server shutdown: %v", err)
			}
		})
	}

	addInterruptHandler(func() {
		logger.Info("Stopping relayer...")
		r.Stop()
		r.WaitForShutdown()
		logger.Info("relayer shutdown")
	})
	<-interruptHandlersDone
	parentLogger.Info("Shutdown complete")
}
