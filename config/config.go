package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	MinConfirmationDepth = 1

	DefaultTickInterval      = 5 * time.Second
	DefaultMaxLookbackBlocks = uint64(50000)
	DefaultBatchBlocks       = uint64(1000)
	DefaultCallTimeout       = 30 * time.Second
	DefaultRedisKey          = "relayer/pending-tasks"
	DefaultLogFormat         = "auto"

	BackendMysql   = "mysql"
	BackendLevelDB = "leveldb"
	BackendRedis   = "redis"
)

type Config struct {
	Relayer   RelayerConfig    `mapstructure:"relayer"`
	EVMChains []EVMChainConfig `mapstructure:"evm-chains"`

	Database Database      `mapstructure:"database"`
	LevelDB  LevelDBConfig `mapstructure:"leveldb"`
	Redis    RedisConfig   `mapstructure:"redis"`
	Admin    AdminConfig   `mapstructure:"admin"`
}

type RelayerConfig struct {
	TickInterval time.Duration `mapstructure:"tickInterval"`
	// MaxLookbackBlocks bounds the catch-up replay after a restart.
	MaxLookbackBlocks uint64 `mapstructure:"maxLookbackBlocks"`
	// CheckpointBackend is mysql or leveldb.
	CheckpointBackend string `mapstructure:"checkpointBackend"`
	// SnapshotBackend is mysql or redis.
	SnapshotBackend string `mapstructure:"snapshotBackend"`
	LogFormat       string `mapstructure:"logFormat"`
}

type Database struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

type LevelDBConfig struct {
	Dir string `mapstructure:"dir"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

type AdminConfig struct {
	// Listen is the admin HTTP address, empty disables the server.
	Listen string `mapstructure:"listen"`
}

type EVMChainConfig struct {
	Name              string        `mapstructure:"name"`
	RpcUrl            string        `mapstructure:"rpcUrl"`
	ContractAddress   string        `mapstructure:"contractAddress"`
	PrivateKey        string        `mapstructure:"privateKey"`
	ConfirmationDepth uint64        `mapstructure:"confirmationDepth"`
	StartBlockHeight  uint64        `mapstructure:"startBlockHeight"`
	BatchBlocks       uint64        `mapstructure:"batchBlocks"`
	GasLimit          uint64        `mapstructure:"gasLimit"`
	CallTimeout       time.Duration `mapstructure:"callTimeout"`
}

func (cfg *EVMChainConfig) Validate() error {
	if cfg.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if cfg.RpcUrl == "" {
		return fmt.Errorf("%s: rpcUrl cannot be empty", cfg.Name)
	}
	if cfg.ContractAddress == "" {
		return fmt.Errorf("%s: contractAddress cannot be empty", cfg.Name)
	}
	if cfg.PrivateKey == "" {
		return fmt.Errorf("%s: privateKey cannot be empty", cfg.Name)
	}
	if cfg.ConfirmationDepth < MinConfirmationDepth {
		return fmt.Errorf("%s: confirmationDepth must be at least %d", cfg.Name, MinConfirmationDepth)
	}
	if cfg.StartBlockHeight == 0 {
		return fmt.Errorf("%s: startBlockHeight cannot be 0", cfg.Name)
	}

	return nil
}

func (cfg *RelayerConfig) Validate() error {
	switch cfg.CheckpointBackend {
	case BackendMysql, BackendLevelDB:
	default:
		return fmt.Errorf("unknown checkpointBackend %q", cfg.CheckpointBackend)
	}
	switch cfg.SnapshotBackend {
	case BackendMysql, BackendRedis:
	default:
		return fmt.Errorf("unknown snapshotBackend %q", cfg.SnapshotBackend)
	}
	if cfg.TickInterval <= 0 {
		return fmt.Errorf("tickInterval must be positive")
	}

	return nil
}

func (cfg *Config) Validate() error {
	cfg.fillDefaultValueIfNotSet()
	if err := cfg.Relayer.Validate(); err != nil {
		return err
	}

	if len(cfg.EVMChains) == 0 {
		return fmt.Errorf("no chain configured")
	}
	names := make(map[string]bool)
	for i := range cfg.EVMChains {
		if err := cfg.EVMChains[i].Validate(); err != nil {
			return err
		}
		if names[cfg.EVMChains[i].Name] {
			return fmt.Errorf("duplicate chain %s", cfg.EVMChains[i].Name)
		}
		names[cfg.EVMChains[i].Name] = true
	}

	if cfg.Relayer.CheckpointBackend == BackendLevelDB && cfg.LevelDB.Dir == "" {
		return fmt.Errorf("leveldb dir cannot be empty")
	}
	if cfg.Relayer.SnapshotBackend == BackendRedis && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis addr cannot be empty")
	}

	return nil
}

// NeedsMysql reports whether any configured backend lives in MySQL.
func (cfg *Config) NeedsMysql() bool {
	return cfg.Relayer.CheckpointBackend == BackendMysql || cfg.Relayer.SnapshotBackend == BackendMysql
}

func (cfg *Config) fillDefaultValueIfNotSet() {
	if cfg.Relayer.TickInterval == 0 {
		cfg.Relayer.TickInterval = DefaultTickInterval
	}
	if cfg.Relayer.MaxLookbackBlocks == 0 {
		cfg.Relayer.MaxLookbackBlocks = DefaultMaxLookbackBlocks
	}
	if cfg.Relayer.CheckpointBackend == "" {
		cfg.Relayer.CheckpointBackend = BackendMysql
	}
	if cfg.Relayer.SnapshotBackend == "" {
		cfg.Relayer.SnapshotBackend = BackendMysql
	}
	if cfg.Relayer.LogFormat == "" {
		cfg.Relayer.LogFormat = DefaultLogFormat
	}
	if cfg.Redis.Key == "" {
		cfg.Redis.Key = DefaultRedisKey
	}

	for i := range cfg.EVMChains {
		chain := &cfg.EVMChains[i]
		if chain.BatchBlocks == 0 {
			chain.BatchBlocks = DefaultBatchBlocks
		}
		if chain.CallTimeout == 0 {
			chain.CallTimeout = DefaultCallTimeout
		}
	}
}

func (cfg *Config) CreateLogger(debug bool) (*zap.Logger, error) {
	return NewRootLogger(cfg.Relayer.LogFormat, debug)
}

// NewConfig returns a fully parsed Config object from a given file directory
func NewConfig(configFile string) (Config, error) {
	if _, err := os.Stat(configFile); err == nil { // the given file exists, parse it
		v := viper.New()
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			return Config{}, err
		}
		if err := cfg.Validate(); err != nil {
			return Config{}, err
		}
		return cfg, err
	} else if errors.Is(err, os.ErrNotExist) { // the given config file does not exist, return error
		return Config{}, fmt.Errorf("no config file found at %s", configFile)
	} else { // other errors
		return Config{}, err
	}
}
