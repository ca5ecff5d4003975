package model

import (
	"time"

	"github.com/rainlanguage/rain.orderbook-sub007/internal/syncerr"
)

// FetchConfig tunes log fetching.
type FetchConfig struct {
	BatchSize            uint64
	MaxConcurrentBatches int
	RetryAttempts        int
	RetryDelay           time.Duration
	RateLimitDelay       time.Duration
}

// NewFetchConfig validates the fetch tuning knobs.
func NewFetchConfig(batchSize uint64, maxConcurrentBatches, retryAttempts int, retryDelayMs, rateLimitDelayMs uint64) (FetchConfig, error) {
	if batchSize == 0 {
		return FetchConfig{}, syncerr.Configf("batch size must be greater than zero")
	}
	if maxConcurrentBatches <= 0 {
		return FetchConfig{}, syncerr.Configf("max concurrent batches must be greater than zero")
	}
	if retryAttempts <= 0 {
		return FetchConfig{}, syncerr.Configf("retry attempts must be greater than zero")
	}
	if retryDelayMs == 0 {
		return FetchConfig{}, syncerr.Configf("retry delay must be greater than zero")
	}
	return FetchConfig{
		BatchSize:            batchSize,
		MaxConcurrentBatches: maxConcurrentBatches,
		RetryAttempts:        retryAttempts,
		RetryDelay:           time.Duration(retryDelayMs) * time.Millisecond,
		RateLimitDelay:       time.Duration(rateLimitDelayMs) * time.Millisecond,
	}, nil
}

// FinalityConfig excludes the most recent Depth blocks from syncing.
type FinalityConfig struct {
	Depth uint64
}

// WindowOverrides force window bounds for manual re-syncs and backfills.
type WindowOverrides struct {
	// StartBlock starts a backfill that an engine walks forward window by
	// window until it passes the checkpoint.
	StartBlock *uint64
	EndBlock   *uint64
	// MaxBlocks widens or narrows the window span; zero means FetchConfig.BatchSize.
	MaxBlocks uint64
}

// SyncConfig is fixed for the lifetime of a target's engine.
type SyncConfig struct {
	DeploymentBlock uint64
	Fetch           FetchConfig
	Finality        FinalityConfig
	WindowOverrides WindowOverrides
}

// SyncInputs is the per-run bundle handed to the engine.
type SyncInputs struct {
	Target       OrderbookIdentifier
	MetadataRPCs []string
	Config       SyncConfig
	// DumpSQL, when non-empty, seeds a fresh store before syncing.
	DumpSQL string
}

func (in SyncInputs) HasDump() bool {
	return in.DumpSQL != ""
}
