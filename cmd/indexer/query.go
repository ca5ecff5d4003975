package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rainlanguage/rain.orderbook-sub007/internal/localdb"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/runner"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/sqlstmt"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/storage"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/storage/postgres"
)

type targetView struct {
	Key             string   `json:"key"`
	Network         string   `json:"network"`
	ChainID         uint64   `json:"chain_id"`
	Orderbook       string   `json:"orderbook_address"`
	DeploymentBlock uint64   `json:"deployment_block"`
	RPCs            int      `json:"rpcs"`
	MetadataRPCs    []string `json:"metadata_rpcs,omitempty"`
	ManifestURL     string   `json:"manifest_url,omitempty"`
}

func runTargets(cmd *cobra.Command, _ []string) error {
	settings, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	targets, err := runner.BuildTargets(settings)
	if err != nil {
		return err
	}

	views := make([]targetView, 0, len(targets))
	for _, t := range targets {
		views = append(views, targetView{
			Key:             t.OrderbookKey,
			Network:         t.NetworkKey,
			ChainID:         t.ID().ChainID,
			Orderbook:       t.ID().AddressHex(),
			DeploymentBlock: t.Inputs.Config.DeploymentBlock,
			RPCs:            len(t.RPCs),
			MetadataRPCs:    t.Inputs.MetadataRPCs,
			ManifestURL:     t.ManifestURL,
		})
	}
	return writeJSON(cmd.OutOrStdout(), views)
}

func runVaults(cmd *cobra.Command, _ []string) error {
	owners, _ := cmd.Flags().GetStringSlice("owner")
	tokens, _ := cmd.Flags().GetStringSlice("token")
	hideZero, _ := cmd.Flags().GetBool("hide-zero")

	return runQuery[localdb.VaultRow](cmd, func(t runner.Target) (sqlstmt.Statement, error) {
		return localdb.Vaults(t.ID(), localdb.VaultFilter{
			Owners:   owners,
			Tokens:   tokens,
			HideZero: hideZero,
			Page:     pageFlags(cmd),
		})
	})
}

func runOrders(cmd *cobra.Command, _ []string) error {
	owners, _ := cmd.Flags().GetStringSlice("owner")
	active, _ := cmd.Flags().GetBool("active")

	return runQuery[localdb.OrderRow](cmd, func(t runner.Target) (sqlstmt.Statement, error) {
		return localdb.Orders(t.ID(), localdb.OrderFilter{
			Owners:     owners,
			ActiveOnly: active,
			Page:       pageFlags(cmd),
		})
	})
}

func runChanges(cmd *cobra.Command, _ []string) error {
	owners, _ := cmd.Flags().GetStringSlice("owner")
	tokens, _ := cmd.Flags().GetStringSlice("token")
	vault, _ := cmd.Flags().GetString("vault")
	fromTS, _ := cmd.Flags().GetUint64("from-ts")
	toTS, _ := cmd.Flags().GetUint64("to-ts")

	return runQuery[localdb.BalanceChangeRow](cmd, func(t runner.Target) (sqlstmt.Statement, error) {
		return localdb.BalanceChanges(t.ID(), localdb.BalanceChangeFilter{
			Owners:        owners,
			Tokens:        tokens,
			VaultID:       vault,
			FromTimestamp: fromTS,
			ToTimestamp:   toTS,
			Page:          pageFlags(cmd),
		})
	})
}

func pageFlags(cmd *cobra.Command) localdb.Page {
	limit, _ := cmd.Flags().GetUint64("limit")
	offset, _ := cmd.Flags().GetUint64("offset")
	return localdb.Page{Limit: limit, Offset: offset}
}

// runQuery runs one listing against the store of the single selected orderbook.
func runQuery[T any](cmd *cobra.Command, build func(runner.Target) (sqlstmt.Statement, error)) error {
	settings, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	targets, err := runner.BuildTargets(settings)
	if err != nil {
		return err
	}
	if len(targets) != 1 {
		return fmt.Errorf("select exactly one orderbook with --orderbook, %d selected", len(targets))
	}
	target := targets[0]

	stmt, err := build(target)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := postgres.NewStore(ctx, settings.PgDSN, postgres.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer store.Close()

	session, err := store.Session(ctx, target.ID())
	if err != nil {
		return err
	}
	defer session.Close()

	rows, err := storage.QueryJSON[[]T](ctx, session, stmt)
	if err != nil {
		return err
	}
	logger.Debug("query complete", zap.String("orderbook_key", target.OrderbookKey), zap.Int("rows", len(rows)))
	return writeJSON(cmd.OutOrStdout(), rows)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
