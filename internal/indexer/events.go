package indexer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rainlanguage/rain.orderbook-sub007/internal/chain"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/localdb"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/metrics"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/model"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/retry"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/storage"
)

// maxStoresPerFilter caps the address list of one eth_getLogs call.
const maxStoresPerFilter = 100

// EventsStage fetches orderbook logs, then the interpreter store Set logs of
// every store those orders use, and decodes both into one ordered sequence.
type EventsStage struct {
	source  LogSource
	decoder Decoder
	opts    Options
	logger  *zap.Logger
}

func NewEventsStage(source LogSource, decoder Decoder, opts Options, logger *zap.Logger) *EventsStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsStage{source: source, decoder: decoder, opts: opts.withDefaults(), logger: logger}
}

// Fetch returns the window's logs sorted by (block_number, log_index).
func (s *EventsStage) Fetch(ctx context.Context, store storage.Executor, target model.OrderbookIdentifier, window model.BlockWindow, cfg model.FetchConfig) ([]model.LogRecord, error) {
	ranges, err := SplitWindow(window, cfg.BatchSize)
	if err != nil || len(ranges) == 0 {
		return nil, err
	}

	logs, err := s.fetchRanges(ctx, target, ranges, []common.Address{target.Address}, s.decoder.OrderBookTopics(), cfg)
	if err != nil {
		return nil, err
	}

	stores, err := s.storeAddresses(ctx, store, target, logs)
	if err != nil {
		return nil, err
	}
	for start := 0; start < len(stores); start += maxStoresPerFilter {
		end := start + maxStoresPerFilter
		if end > len(stores) {
			end = len(stores)
		}
		storeLogs, err := s.fetchRanges(ctx, target, ranges, stores[start:end], []common.Hash{s.decoder.StoreSetTopic()}, cfg)
		if err != nil {
			return nil, err
		}
		logs = append(logs, storeLogs...)
	}

	model.SortLogs(logs)
	s.logger.Debug("logs fetched",
		zap.String("target", target.Key()),
		zap.Uint64("from", window.Start),
		zap.Uint64("to", window.End),
		zap.Int("ranges", len(ranges)),
		zap.Int("stores", len(stores)),
		zap.Int("logs", len(logs)),
	)
	return logs, nil
}

// fetchRanges fetches every sub-range on a bounded pool. Dispatches are paced
// by the rate limit delay; results keep sub-range order.
func (s *EventsStage) fetchRanges(
	ctx context.Context,
	target model.OrderbookIdentifier,
	ranges []BlockRange,
	addresses []common.Address,
	topics []common.Hash,
	cfg model.FetchConfig,
) ([]model.LogRecord, error) {
	policy := rpcPolicy(cfg, s.opts, s.logger).Named("eth_getLogs")

	var limiter *rate.Limiter
	if cfg.RateLimitDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.RateLimitDelay), 1)
	}

	pool := pond.NewPool(cfg.MaxConcurrentBatches)
	defer pool.StopAndWait()
	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	results := make([][]model.LogRecord, len(ranges))
	var dispatchErr error
	for i, blockRange := range ranges {
		if limiter != nil {
			if err := limiter.Wait(groupCtx); err != nil {
				dispatchErr = err
				break
			}
		}

		i, blockRange := i, blockRange
		group.SubmitErr(func() error {
			logs, err := retry.Do(groupCtx, policy, func(ctx context.Context) ([]types.Log, error) {
				return s.source.FilterLogs(ctx, blockRange.From, blockRange.To, addresses, topics)
			})
			if err != nil {
				return fmt.Errorf("fetch logs %d-%d: %w", blockRange.From, blockRange.To, err)
			}
			results[i] = chain.ToLogRecords(target.ChainID, logs)
			return nil
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, pond.ErrGroupStopped) {
		return nil, err
	}
	if dispatchErr != nil {
		return nil, fmt.Errorf("dispatch log fetch: %w", dispatchErr)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	total := 0
	for _, chunk := range results {
		total += len(chunk)
	}
	out := make([]model.LogRecord, 0, total)
	for _, chunk := range results {
		out = append(out, chunk...)
	}
	return out, nil
}

// storeAddresses returns the stores referenced by orders added in logs plus
// stores already known to the local store, sorted.
func (s *EventsStage) storeAddresses(ctx context.Context, store storage.Executor, target model.OrderbookIdentifier, logs []model.LogRecord) ([]common.Address, error) {
	known, err := storage.QueryJSON[[]localdb.StoreRow](ctx, store, localdb.KnownStores(target))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(known))
	add := func(address string) {
		address = strings.ToLower(strings.TrimSpace(address))
		if !common.IsHexAddress(address) || common.HexToAddress(address) == (common.Address{}) {
			return
		}
		seen[address] = struct{}{}
	}
	for _, row := range known {
		add(row.StoreAddress)
	}
	for _, record := range logs {
		event, _ := s.decoder.Decode(record)
		if added, ok := event.Data.(model.AddOrderV3); ok {
			add(added.Order.Store)
		}
	}

	sorted := make([]string, 0, len(seen))
	for address := range seen {
		sorted = append(sorted, address)
	}
	sort.Strings(sorted)

	out := make([]common.Address, 0, len(sorted))
	for _, address := range sorted {
		out = append(out, common.HexToAddress(address))
	}
	return out, nil
}

// Decode decodes logs, attaches block timestamps and sorts the result.
// Undecodable logs are kept as Unknown events.
func (s *EventsStage) Decode(ctx context.Context, logs []model.LogRecord, cfg model.FetchConfig) ([]model.DecodedEvent, error) {
	events := make([]model.DecodedEvent, 0, len(logs))
	for _, record := range logs {
		event, decodeErr := s.decoder.Decode(record)
		if decodeErr != nil {
			s.logger.Debug("log decoded as unknown",
				zap.Uint64("block_number", decodeErr.BlockNumber),
				zap.Uint64("log_index", decodeErr.LogIndex),
				zap.String("tx_hash", decodeErr.TxHash),
				zap.String("error", decodeErr.Error),
			)
		}
		events = append(events, event)
	}

	timestamps, err := s.blockTimestamps(ctx, events, cfg)
	if err != nil {
		return nil, err
	}
	for i := range events {
		events[i].BlockTimestamp = timestamps[events[i].BlockNumber]
		metrics.DecodedEvents.WithLabelValues(string(events[i].EventType)).Inc()
	}

	model.SortEvents(events)
	return events, nil
}

func (s *EventsStage) blockTimestamps(ctx context.Context, events []model.DecodedEvent, cfg model.FetchConfig) (map[uint64]uint64, error) {
	blocks := distinctBlocks(events)
	if len(blocks) == 0 {
		return map[uint64]uint64{}, nil
	}

	policy := rpcPolicy(cfg, s.opts, s.logger).Named("eth_getBlockByNumber")
	pool := pond.NewPool(s.opts.TimestampConcurrency)
	defer pool.StopAndWait()
	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	values := make([]uint64, len(blocks))
	for i, number := range blocks {
		i, number := i, number
		group.SubmitErr(func() error {
			ts, err := retry.Do(groupCtx, policy, func(ctx context.Context) (uint64, error) {
				return s.source.BlockTimestamp(ctx, number)
			})
			if err != nil {
				return fmt.Errorf("block timestamp %d: %w", number, err)
			}
			values[i] = ts
			return nil
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, pond.ErrGroupStopped) {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make(map[uint64]uint64, len(blocks))
	for i, number := range blocks {
		out[number] = values[i]
	}
	return out, nil
}

func distinctBlocks(events []model.DecodedEvent) []uint64 {
	seen := make(map[uint64]struct{}, len(events))
	blocks := make([]uint64, 0, len(events))
	for _, event := range events {
		if _, ok := seen[event.BlockNumber]; ok {
			continue
		}
		seen[event.BlockNumber] = struct{}{}
		blocks = append(blocks, event.BlockNumber)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })
	return blocks
}
