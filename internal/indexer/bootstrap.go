package indexer

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/rainlanguage/rain.orderbook-sub007/internal/localdb"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/model"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/sqlstmt"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/storage"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/syncerr"
)

// BootstrapStage creates the schema and seeds fresh stores from dumps.
type BootstrapStage struct {
	logger *zap.Logger
}

func NewBootstrapStage(logger *zap.Logger) *BootstrapStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BootstrapStage{logger: logger}
}

// EnsureSchema applies the canonical DDL when any required table is missing.
func (b *BootstrapStage) EnsureSchema(ctx context.Context, store storage.Executor) (bool, error) {
	rows, err := storage.QueryJSON[[]localdb.TableRow](ctx, store, localdb.ExistingTables())
	if err != nil {
		return false, err
	}
	missing := MissingTables(rows)
	if len(missing) == 0 {
		return false, nil
	}

	b.logger.Info("creating schema", zap.Strings("missing_tables", missing))
	if err := store.ExecScript(ctx, localdb.CreateTablesSQL); err != nil {
		return false, err
	}
	if err := store.Execute(ctx, sqlstmt.NewBatch(localdb.InsertSchemaVersion())); err != nil {
		return false, err
	}
	return true, nil
}

// SeedFromDump runs dumpSQL against a store that never synced. Seeding a
// populated store is refused.
func (b *BootstrapStage) SeedFromDump(ctx context.Context, store storage.Executor, target model.OrderbookIdentifier, dumpSQL string) error {
	if strings.TrimSpace(dumpSQL) == "" {
		return syncerr.Configf("empty dump for %s", target)
	}
	lastSynced, err := LoadLastSynced(ctx, store, target)
	if err != nil {
		return err
	}
	if lastSynced != 0 {
		return syncerr.Consistencyf("refusing to seed %s from dump: already synced to block %d", target, lastSynced)
	}

	if err := store.ExecScript(ctx, dumpSQL); err != nil {
		return err
	}

	seeded, err := LoadLastSynced(ctx, store, target)
	if err != nil {
		return err
	}
	b.logger.Info("store seeded from dump", zap.String("target", target.Key()), zap.Uint64("last_synced", seeded))
	return nil
}

// MissingTables returns the required tables absent from rows, sorted.
func MissingTables(rows []localdb.TableRow) []string {
	existing := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		existing[strings.ToLower(row.TableName)] = struct{}{}
	}
	missing := make([]string, 0)
	for _, table := range localdb.RequiredTables {
		if _, ok := existing[table]; !ok {
			missing = append(missing, table)
		}
	}
	sort.Strings(missing)
	return missing
}
