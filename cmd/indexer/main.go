package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rainlanguage/rain.orderbook-sub007/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:          "indexer",
		Short:        "Orderbook event sync engine",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("pg-dsn", "", "Postgres DSN")
	root.PersistentFlags().String("orderbook", "", "orderbook keys to use (comma-separated), default all")

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync every configured orderbook into the local store",
		RunE:  runSync,
	}

	syncCmd.Flags().Bool("once", false, "run a single pass and exit")
	syncCmd.Flags().Duration("interval", time.Minute, "delay between passes")
	syncCmd.Flags().Uint64("batch-size", 2000, "blocks per log request")
	syncCmd.Flags().Int("max-concurrent-batches", 5, "concurrent log requests per target")
	syncCmd.Flags().Int("retry-attempts", 3, "attempts per RPC call")
	syncCmd.Flags().Uint64("finality-depth", 12, "blocks behind head considered final")
	syncCmd.Flags().Uint64("window-blocks", 0, "max blocks per run, 0 means batch size")
	syncCmd.Flags().Uint64("start-block", 0, "force the window start (backfill)")
	syncCmd.Flags().Uint64("end-block", 0, "force the window end")
	syncCmd.Flags().String("metrics-addr", "", "serve prometheus metrics on this address")
	syncCmd.Flags().String("status-jsonl", "", "append status updates to this JSONL file")
	syncCmd.Flags().String("redis-addr", "", "publish status updates to this Redis")

	root.AddCommand(syncCmd)

	targetsCmd := &cobra.Command{
		Use:   "targets",
		Short: "Print the resolved sync targets",
		RunE:  runTargets,
	}

	root.AddCommand(targetsCmd)

	vaultsCmd := &cobra.Command{
		Use:   "vaults",
		Short: "List vaults of one orderbook from the local store",
		RunE:  runVaults,
	}

	vaultsCmd.Flags().StringSlice("owner", nil, "owner addresses (comma-separated)")
	vaultsCmd.Flags().StringSlice("token", nil, "token addresses (comma-separated)")
	vaultsCmd.Flags().Bool("hide-zero", false, "hide vaults with zero balance")
	addPageFlags(vaultsCmd.Flags())

	root.AddCommand(vaultsCmd)

	ordersCmd := &cobra.Command{
		Use:   "orders",
		Short: "List orders of one orderbook from the local store",
		RunE:  runOrders,
	}

	ordersCmd.Flags().StringSlice("owner", nil, "owner addresses (comma-separated)")
	ordersCmd.Flags().Bool("active", false, "only active orders")
	addPageFlags(ordersCmd.Flags())

	root.AddCommand(ordersCmd)

	changesCmd := &cobra.Command{
		Use:   "changes",
		Short: "List vault balance changes of one orderbook from the local store",
		RunE:  runChanges,
	}

	changesCmd.Flags().StringSlice("owner", nil, "owner addresses (comma-separated)")
	changesCmd.Flags().StringSlice("token", nil, "token addresses (comma-separated)")
	changesCmd.Flags().String("vault", "", "vault id")
	changesCmd.Flags().Uint64("from-ts", 0, "inclusive lower block timestamp (unix seconds)")
	changesCmd.Flags().Uint64("to-ts", 0, "inclusive upper block timestamp (unix seconds)")
	addPageFlags(changesCmd.Flags())

	root.AddCommand(changesCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addPageFlags(flags *pflag.FlagSet) {
	flags.Uint64("limit", 100, "max rows, 0 means all")
	flags.Uint64("offset", 0, "rows to skip")
}

// loadSettings reads settings and builds the logger for cmd.
func loadSettings(cmd *cobra.Command) (config.Settings, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	settings, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Settings{}, nil, err
	}

	logger, err := newLogger(settings.LogLevel)
	if err != nil {
		return config.Settings{}, nil, err
	}
	return settings, logger, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
