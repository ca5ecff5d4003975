package indexer

import (
	"context"

	"go.uber.org/zap"

	"github.com/rainlanguage/rain.orderbook-sub007/internal/localdb"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/model"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/retry"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/storage"
)

// ComputeWindow returns the next block window. The safe head trails the chain
// head by the finality depth; a window starting past it is empty.
func ComputeWindow(lastSynced, head uint64, cfg model.SyncConfig) model.BlockWindow {
	var safeHead uint64
	if head > cfg.Finality.Depth {
		safeHead = head - cfg.Finality.Depth
	}

	start := lastSynced + 1
	if override := cfg.WindowOverrides.StartBlock; override != nil {
		start = *override
	}
	if start < cfg.DeploymentBlock {
		start = cfg.DeploymentBlock
	}

	span := cfg.WindowOverrides.MaxBlocks
	if span == 0 {
		span = cfg.Fetch.BatchSize
	}
	if span == 0 {
		span = 1
	}

	end := safeHead
	if start <= safeHead && safeHead-start >= span {
		end = start + span - 1
	}
	if override := cfg.WindowOverrides.EndBlock; override != nil && *override < end {
		end = *override
	}

	return model.BlockWindow{Start: start, End: end}
}

// LoadLastSynced returns the target's checkpoint, zero when it never synced.
func LoadLastSynced(ctx context.Context, store storage.Executor, target model.OrderbookIdentifier) (uint64, error) {
	rows, err := storage.QueryJSON[[]localdb.SyncStatusRow](ctx, store, localdb.LastSyncedBlock(target))
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].LastSyncedBlock, nil
}

// WindowStage reads the checkpoint and the chain head to pick the window.
type WindowStage struct {
	source LogSource
	opts   Options
	logger *zap.Logger
}

func NewWindowStage(source LogSource, opts Options, logger *zap.Logger) *WindowStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WindowStage{source: source, opts: opts.withDefaults(), logger: logger}
}

func (w *WindowStage) NextWindow(ctx context.Context, store storage.Executor, target model.OrderbookIdentifier, cfg model.SyncConfig) (model.BlockWindow, error) {
	lastSynced, err := LoadLastSynced(ctx, store, target)
	if err != nil {
		return model.BlockWindow{}, err
	}

	head, err := retry.Do(ctx, rpcPolicy(cfg.Fetch, w.opts, w.logger).Named("eth_blockNumber"), w.source.LatestBlockNumber)
	if err != nil {
		return model.BlockWindow{}, err
	}

	window := ComputeWindow(lastSynced, head, cfg)
	w.logger.Debug("window computed",
		zap.String("target", target.Key()),
		zap.Uint64("last_synced", lastSynced),
		zap.Uint64("head", head),
		zap.Uint64("from", window.Start),
		zap.Uint64("to", window.End),
	)
	return window, nil
}
