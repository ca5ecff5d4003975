package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rainlanguage/rain.orderbook-sub007/internal/model"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/syncerr"
)

// EnvPrefix prefixes every environment override, e.g. OBSYNC_SYNC_BATCH_SIZE.
const EnvPrefix = "OBSYNC"

// Settings holds configuration values loaded from flags, env, or config file.
type Settings struct {
	LogLevel    string
	PgDSN       string
	MetricsAddr string
	Networks    map[string]Network
	Orderbooks  map[string]Orderbook
	// Only restricts a run to these orderbook keys when non-empty.
	Only   []string
	Sync   SyncSettings
	Status StatusSettings
}

// Network describes one chain and its endpoints.
type Network struct {
	ChainID      uint64   `mapstructure:"chain-id"`
	RPCs         []string `mapstructure:"rpcs"`
	MetadataRPCs []string `mapstructure:"metadata-rpcs"`
	ManifestURL  string   `mapstructure:"manifest-url"`
}

// Orderbook is one orderbook deployment on a network.
type Orderbook struct {
	Network         string `mapstructure:"network"`
	Address         string `mapstructure:"address"`
	DeploymentBlock uint64 `mapstructure:"deployment-block"`
}

// SyncSettings are the tuning knobs shared by every target.
type SyncSettings struct {
	BatchSize            uint64
	MaxConcurrentBatches int
	RetryAttempts        int
	RetryDelayMs         uint64
	RateLimitDelayMs     uint64
	FinalityDepth        uint64
	WindowBlocks         uint64
	MetadataConcurrency  int
	TimestampConcurrency int
	MaxConcurrentTargets int
	AttemptTimeout       time.Duration
	FallbackToGenesis    bool
	StartBlock           *uint64
	EndBlock             *uint64
}

// StatusSettings selects the status sinks.
type StatusSettings struct {
	JSONL        string
	RedisAddr    string
	RedisChannel string
}

// flagKeys maps CLI flag names to settings keys.
var flagKeys = map[string]string{
	"log-level":              "log-level",
	"pg-dsn":                 "pg-dsn",
	"metrics-addr":           "metrics-addr",
	"orderbook":              "orderbook",
	"batch-size":             "sync.batch-size",
	"max-concurrent-batches": "sync.max-concurrent-batches",
	"retry-attempts":         "sync.retry-attempts",
	"finality-depth":         "sync.finality-depth",
	"window-blocks":          "sync.window-blocks",
	"start-block":            "sync.start-block",
	"end-block":              "sync.end-block",
	"status-jsonl":           "status.jsonl",
	"redis-addr":             "status.redis-addr",
}

// Load merges config file, environment variables, and flags into Settings.
func Load(cfgFile string, flags *pflag.FlagSet) (Settings, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")
	v.SetDefault("metrics-addr", "")
	v.SetDefault("sync.batch-size", uint64(2000))
	v.SetDefault("sync.max-concurrent-batches", 5)
	v.SetDefault("sync.retry-attempts", 3)
	v.SetDefault("sync.retry-delay-ms", uint64(500))
	v.SetDefault("sync.rate-limit-delay-ms", uint64(0))
	v.SetDefault("sync.finality-depth", uint64(12))
	v.SetDefault("sync.window-blocks", uint64(0))
	v.SetDefault("sync.metadata-concurrency", 8)
	v.SetDefault("sync.timestamp-concurrency", 8)
	v.SetDefault("sync.max-concurrent-targets", 0)
	v.SetDefault("sync.attempt-timeout", 30*time.Second)
	v.SetDefault("sync.fallback-to-genesis", true)
	v.SetDefault("status.redis-channel", "obsync.status")

	if flags != nil {
		for name, key := range flagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Settings{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Settings{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	settings := Settings{
		LogLevel:    v.GetString("log-level"),
		PgDSN:       v.GetString("pg-dsn"),
		MetricsAddr: v.GetString("metrics-addr"),
		Only:        getStringSlice(v, "orderbook"),
		Sync: SyncSettings{
			BatchSize:            v.GetUint64("sync.batch-size"),
			MaxConcurrentBatches: v.GetInt("sync.max-concurrent-batches"),
			RetryAttempts:        v.GetInt("sync.retry-attempts"),
			RetryDelayMs:         v.GetUint64("sync.retry-delay-ms"),
			RateLimitDelayMs:     v.GetUint64("sync.rate-limit-delay-ms"),
			FinalityDepth:        v.GetUint64("sync.finality-depth"),
			WindowBlocks:         v.GetUint64("sync.window-blocks"),
			MetadataConcurrency:  v.GetInt("sync.metadata-concurrency"),
			TimestampConcurrency: v.GetInt("sync.timestamp-concurrency"),
			MaxConcurrentTargets: v.GetInt("sync.max-concurrent-targets"),
			AttemptTimeout:       v.GetDuration("sync.attempt-timeout"),
			FallbackToGenesis:    v.GetBool("sync.fallback-to-genesis"),
			StartBlock:           getOptionalUint64(v, "sync.start-block"),
			EndBlock:             getOptionalUint64(v, "sync.end-block"),
		},
		Status: StatusSettings{
			JSONL:        v.GetString("status.jsonl"),
			RedisAddr:    v.GetString("status.redis-addr"),
			RedisChannel: v.GetString("status.redis-channel"),
		},
	}

	if err := v.UnmarshalKey("networks", &settings.Networks); err != nil {
		return Settings{}, fmt.Errorf("decode networks: %w", err)
	}
	if err := v.UnmarshalKey("orderbooks", &settings.Orderbooks); err != nil {
		return Settings{}, fmt.Errorf("decode orderbooks: %w", err)
	}
	for key, network := range settings.Networks {
		network.RPCs = cleanStrings(network.RPCs)
		network.MetadataRPCs = cleanStrings(network.MetadataRPCs)
		settings.Networks[key] = network
	}

	return settings, nil
}

// Validate checks cross references and tuning values.
func (s Settings) Validate() error {
	if _, err := s.FetchConfig(); err != nil {
		return err
	}
	if len(s.Orderbooks) == 0 {
		return syncerr.Configf("at least one orderbook is required")
	}
	for _, key := range s.OrderbookKeys() {
		orderbook := s.Orderbooks[key]
		network, ok := s.Networks[orderbook.Network]
		if !ok {
			return syncerr.Configf("orderbook %s: unknown network %q", key, orderbook.Network)
		}
		if network.ChainID == 0 {
			return syncerr.Configf("network %s: chain-id is required", orderbook.Network)
		}
		if len(network.RPCs) == 0 {
			return syncerr.Configf("network %s: at least one rpc is required", orderbook.Network)
		}
		if _, err := ParseAddress(orderbook.Address); err != nil {
			return syncerr.Config("orderbook "+key, err)
		}
	}
	for _, key := range s.Only {
		if _, ok := s.Orderbooks[key]; !ok {
			return syncerr.Configf("unknown orderbook %q", key)
		}
	}
	if s.Sync.StartBlock != nil && s.Sync.EndBlock != nil && *s.Sync.EndBlock < *s.Sync.StartBlock {
		return syncerr.Configf("end block %d is before start block %d", *s.Sync.EndBlock, *s.Sync.StartBlock)
	}
	return nil
}

// OrderbookKeys returns the selected orderbook keys, sorted.
func (s Settings) OrderbookKeys() []string {
	keys := make([]string, 0, len(s.Orderbooks))
	if len(s.Only) > 0 {
		keys = append(keys, s.Only...)
	} else {
		for key := range s.Orderbooks {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// FetchConfig validates and converts the fetch knobs.
func (s Settings) FetchConfig() (model.FetchConfig, error) {
	return model.NewFetchConfig(
		s.Sync.BatchSize,
		s.Sync.MaxConcurrentBatches,
		s.Sync.RetryAttempts,
		s.Sync.RetryDelayMs,
		s.Sync.RateLimitDelayMs,
	)
}

// SyncConfig builds the engine config of an orderbook.
func (s Settings) SyncConfig(orderbook Orderbook) (model.SyncConfig, error) {
	fetch, err := s.FetchConfig()
	if err != nil {
		return model.SyncConfig{}, err
	}
	return model.SyncConfig{
		DeploymentBlock: orderbook.DeploymentBlock,
		Fetch:           fetch,
		Finality:        model.FinalityConfig{Depth: s.Sync.FinalityDepth},
		WindowOverrides: model.WindowOverrides{
			StartBlock: s.Sync.StartBlock,
			EndBlock:   s.Sync.EndBlock,
			MaxBlocks:  s.Sync.WindowBlocks,
		},
	}, nil
}

// ParseAddress converts a hex string into common.Address.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %q", input)
	}
	return common.HexToAddress(input), nil
}

func getOptionalUint64(v *viper.Viper, key string) *uint64 {
	if !v.IsSet(key) {
		return nil
	}
	value := v.GetUint64(key)
	return &value
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
