package indexer

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/rainlanguage/rain.orderbook-sub007/internal/model"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/sqlstmt"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/storage"
)

// LogSource is the chain side of the window and events stages.
type LogSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// MetadataFetcher resolves ERC-20 metadata.
type MetadataFetcher interface {
	FetchTokenMetadata(ctx context.Context, token common.Address) (model.TokenMetadata, error)
}

// Decoder maps raw logs to events. Decode must be total.
type Decoder interface {
	Decode(record model.LogRecord) (model.DecodedEvent, *model.DecodeError)
	OrderBookTopics() []common.Hash
	StoreSetTopic() common.Hash
}

// BootstrapPipeline prepares a target's store.
type BootstrapPipeline interface {
	// EnsureSchema reports true when the schema was just created.
	EnsureSchema(ctx context.Context, store storage.Executor) (bool, error)
	SeedFromDump(ctx context.Context, store storage.Executor, target model.OrderbookIdentifier, dumpSQL string) error
}

// WindowPipeline decides which blocks the current run covers.
type WindowPipeline interface {
	NextWindow(ctx context.Context, store storage.Executor, target model.OrderbookIdentifier, cfg model.SyncConfig) (model.BlockWindow, error)
}

// EventsPipeline fetches and decodes the logs of a window.
type EventsPipeline interface {
	Fetch(ctx context.Context, store storage.Executor, target model.OrderbookIdentifier, window model.BlockWindow, cfg model.FetchConfig) ([]model.LogRecord, error)
	Decode(ctx context.Context, logs []model.LogRecord, cfg model.FetchConfig) ([]model.DecodedEvent, error)
}

// TokensPipeline makes sure every referenced token has known decimals.
type TokensPipeline interface {
	Enrich(ctx context.Context, store storage.Executor, target model.OrderbookIdentifier, events []model.DecodedEvent, cfg model.FetchConfig) (TokenEnrichment, error)
}

// ApplyPipeline turns decoded events into one atomic batch ending with the
// checkpoint update.
type ApplyPipeline interface {
	Apply(target model.OrderbookIdentifier, events []model.DecodedEvent, decimals map[string]uint8, endBlock uint64) (sqlstmt.Batch, error)
}

// TokenEnrichment is the tokens stage output.
type TokenEnrichment struct {
	// Prefix upserts newly fetched tokens; it runs ahead of the apply batch.
	Prefix   sqlstmt.Batch
	Decimals map[string]uint8
	// Failures holds tokens whose metadata could not be fetched.
	Failures map[string]error
	Fetched  int
}
